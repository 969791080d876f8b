package ratelimit

import (
	"context"
	"sync"
	"time"
)

// sweepInterval bounds how often Increment scans for elapsed windows.
const sweepInterval = time.Minute

type entry struct {
	count         int64
	windowResetAt time.Time
}

// MemoryStore is a process-local [Store]. It is safe for concurrent use.
// Counters are never persisted and never shared with other instances.
type MemoryStore struct {
	mu        sync.Mutex
	entries   map[string]*entry
	now       func() time.Time
	lastSweep time.Time
}

// NewMemoryStore returns an empty store using the wall clock.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithClock(time.Now)
}

// NewMemoryStoreWithClock returns an empty store reading time from now.
func NewMemoryStoreWithClock(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		entries: make(map[string]*entry),
		now:     now,
	}
}

func (s *MemoryStore) Increment(_ context.Context, key string, max int, window time.Duration) (int64, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if now.Sub(s.lastSweep) >= sweepInterval {
		s.sweepLocked(now)
	}

	e, ok := s.entries[key]
	if !ok || !now.Before(e.windowResetAt) {
		s.entries[key] = &entry{count: 1, windowResetAt: now.Add(window)}
		return 1, nil
	}
	if e.count > int64(max) {
		return e.count, nil
	}
	e.count++
	return e.count, nil
}

func (s *MemoryStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

// Sweep drops entries whose window has elapsed and returns how many were
// removed. Increment also sweeps, at most once per minute.
func (s *MemoryStore) Sweep() int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked(now)
}

func (s *MemoryStore) sweepLocked(now time.Time) int {
	removed := 0
	for key, e := range s.entries {
		if !now.Before(e.windowResetAt) {
			delete(s.entries, key)
			removed++
		}
	}
	s.lastSweep = now
	return removed
}

// Len returns the number of tracked keys.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
