package mfa

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// DefaultPendingTTL bounds how long an unconfirmed setup secret is kept.
const DefaultPendingTTL = 10 * time.Minute

var (
	// ErrNotPending is returned by Load when no setup is in progress.
	ErrNotPending = errors.New("mfa setup not pending")
	// ErrPendingUnavailable wraps backend failures of a pending store.
	ErrPendingUnavailable = errors.New("mfa pending store unavailable")
)

// PendingStore holds the secret issued by a setup attempt until the user
// confirms it with a valid code. Saving replaces any earlier secret.
type PendingStore interface {
	Save(ctx context.Context, userID, secret string, ttl time.Duration) error
	Load(ctx context.Context, userID string) (string, error)
	Delete(ctx context.Context, userID string) error
}

type pendingEntry struct {
	secret    string
	expiresAt time.Time
}

// MemoryPendingStore is a process-local PendingStore.
type MemoryPendingStore struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]pendingEntry
}

// NewMemoryPendingStore returns an empty store using time.Now.
func NewMemoryPendingStore() *MemoryPendingStore {
	return NewMemoryPendingStoreWithClock(time.Now)
}

// NewMemoryPendingStoreWithClock returns an empty store driven by now.
func NewMemoryPendingStoreWithClock(now func() time.Time) *MemoryPendingStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryPendingStore{now: now, entries: make(map[string]pendingEntry)}
}

func (s *MemoryPendingStore) Save(_ context.Context, userID, secret string, ttl time.Duration) error {
	if strings.TrimSpace(userID) == "" {
		return errors.New("empty user id")
	}
	if ttl <= 0 {
		ttl = DefaultPendingTTL
	}

	s.mu.Lock()
	s.entries[userID] = pendingEntry{secret: secret, expiresAt: s.now().Add(ttl)}
	s.mu.Unlock()
	return nil
}

func (s *MemoryPendingStore) Load(_ context.Context, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[userID]
	if !ok {
		return "", ErrNotPending
	}
	if !s.now().Before(entry.expiresAt) {
		delete(s.entries, userID)
		return "", ErrNotPending
	}
	return entry.secret, nil
}

func (s *MemoryPendingStore) Delete(_ context.Context, userID string) error {
	s.mu.Lock()
	delete(s.entries, userID)
	s.mu.Unlock()
	return nil
}
