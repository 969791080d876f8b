package verification

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a process-local Store. Replace runs under a single lock.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Create(_ context.Context, rec Record) error {
	s.mu.Lock()
	s.records[rec.ID] = rec
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Replace(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deleteByUserLocked(rec.UserID, rec.Kind)
	s.records[rec.ID] = rec
	return nil
}

func (s *MemoryStore) FindActive(_ context.Context, tokenHash string, kind Kind, now time.Time) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range s.records {
		if rec.TokenHash == tokenHash && rec.Kind == kind && !rec.Expired(now) {
			out := rec
			return &out, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) Find(_ context.Context, tokenHash string, kind Kind) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range s.records {
		if rec.TokenHash == tokenHash && rec.Kind == kind {
			out := rec
			return &out, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[id]; !ok {
		return false, nil
	}
	delete(s.records, id)
	return true, nil
}

func (s *MemoryStore) DeleteByUser(_ context.Context, userID string, kind Kind) error {
	s.mu.Lock()
	s.deleteByUserLocked(userID, kind)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) deleteByUserLocked(userID string, kind Kind) {
	for id, rec := range s.records {
		if rec.UserID == userID && rec.Kind == kind {
			delete(s.records, id)
		}
	}
}

// PurgeExpired removes records expired at now.
func (s *MemoryStore) PurgeExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, rec := range s.records {
		if rec.Expired(now) {
			delete(s.records, id)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored records, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
