package verification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Config sets token lifetimes and the clock.
type Config struct {
	EmailVerificationTTL time.Duration
	PasswordResetTTL     time.Duration
	Now                  func() time.Time
}

// Manager issues and verifies tokens against a Store.
type Manager struct {
	store Store
	users UserLookup
	cfg   Config
}

// NewManager returns a manager. users may be nil, in which case the user
// existence and already-verified checks are skipped.
func NewManager(store Store, users UserLookup, cfg Config) (*Manager, error) {
	if store == nil {
		return nil, errors.New("verification store is required")
	}
	if cfg.EmailVerificationTTL == 0 {
		cfg.EmailVerificationTTL = DefaultEmailVerificationTTL
	}
	if cfg.PasswordResetTTL == 0 {
		cfg.PasswordResetTTL = DefaultPasswordResetTTL
	}
	if cfg.EmailVerificationTTL < 0 || cfg.PasswordResetTTL < 0 {
		return nil, errors.New("verification TTLs must be positive")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Manager{store: store, users: users, cfg: cfg}, nil
}

// TTL returns the lifetime applied to tokens of kind.
func (m *Manager) TTL(kind Kind) time.Duration {
	if kind == KindPasswordReset {
		return m.cfg.PasswordResetTTL
	}
	return m.cfg.EmailVerificationTTL
}

// Issue creates a token of kind for userID. Password reset tokens replace
// all earlier reset tokens of the user.
func (m *Manager) Issue(ctx context.Context, userID string, kind Kind) (Issued, error) {
	if !kind.Valid() {
		return Issued{}, ErrInvalidKind
	}
	if strings.TrimSpace(userID) == "" {
		return Issued{}, errors.New("empty user id")
	}

	token, err := newToken()
	if err != nil {
		return Issued{}, err
	}
	now := m.cfg.Now()
	rec := Record{
		ID:        uuid.NewString(),
		UserID:    userID,
		TokenHash: HashToken(token),
		Kind:      kind,
		CreatedAt: now,
		ExpiresAt: now.Add(m.TTL(kind)),
	}

	if kind.SingleActive() {
		err = m.store.Replace(ctx, rec)
	} else {
		err = m.store.Create(ctx, rec)
	}
	if err != nil {
		return Issued{}, err
	}
	return Issued{Token: token, Record: rec}, nil
}

// Verify looks up token as kind. It fails with ErrTokenExpired when only an
// expired match exists and ErrTokenNotFoundOrAlreadyUsed when none exists.
// Tokens of users that no longer exist, and email verification tokens of
// users who are already verified, are deleted before failing.
func (m *Manager) Verify(ctx context.Context, token string, kind Kind) (*Handle, error) {
	if !kind.Valid() {
		return nil, ErrInvalidKind
	}
	token = strings.TrimSpace(token)
	if !wellFormed(token) {
		return nil, ErrTokenNotFoundOrAlreadyUsed
	}
	hash := HashToken(token)

	rec, err := m.store.FindActive(ctx, hash, kind, m.cfg.Now())
	if err != nil {
		return nil, err
	}
	if rec == nil {
		stale, err := m.store.Find(ctx, hash, kind)
		if err != nil {
			return nil, err
		}
		if stale != nil {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenNotFoundOrAlreadyUsed
	}

	if m.users != nil {
		exists, verified, err := m.users.UserVerified(ctx, rec.UserID)
		if err != nil {
			return nil, err
		}
		switch {
		case !exists:
			return nil, m.discard(ctx, rec, ErrUserNotFound)
		case kind == KindEmailVerification && verified:
			return nil, m.discard(ctx, rec, ErrAlreadyVerified)
		}
	}

	return &Handle{record: *rec, store: m.store}, nil
}

func (m *Manager) discard(ctx context.Context, rec *Record, cause error) error {
	if _, err := m.store.Delete(ctx, rec.ID); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

// Purge sweeps expired records when the store supports it.
func (m *Manager) Purge(ctx context.Context) (int, error) {
	p, ok := m.store.(Purger)
	if !ok {
		return 0, nil
	}
	return p.PurgeExpired(ctx, m.cfg.Now())
}

// Handle is a verified token awaiting consumption.
type Handle struct {
	record   Record
	store    Store
	consumed atomic.Bool
}

// Record returns the verified token record.
func (h *Handle) Record() Record {
	return h.record
}

// Consume deletes the token. Only the first successful call across all
// handles for the same token returns nil; later calls fail with
// ErrTokenNotFoundOrAlreadyUsed.
func (h *Handle) Consume(ctx context.Context) error {
	if !h.consumed.CompareAndSwap(false, true) {
		return ErrTokenNotFoundOrAlreadyUsed
	}
	deleted, err := h.store.Delete(ctx, h.record.ID)
	if err != nil {
		h.consumed.Store(false)
		return fmt.Errorf("consume token: %w", err)
	}
	if !deleted {
		return ErrTokenNotFoundOrAlreadyUsed
	}
	return nil
}
