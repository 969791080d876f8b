// Package ratelimit provides fixed-window attempt counting for login and
// verification endpoints.
//
// A [Limiter] owns the policy (max attempts per window, key scope) and
// delegates counting to a [Store]. [MemoryStore] keeps counters in process
// memory, so horizontally scaled deployments get independent per-instance
// quotas. [RedisStore] shares counters across instances.
package ratelimit

import (
	"context"
	"errors"
	"strings"
	"time"
)

const (
	// DefaultMaxAttempts is the attempt ceiling applied when Config.MaxAttempts is zero.
	DefaultMaxAttempts = 5
	// DefaultWindow is the window length applied when Config.Window is zero.
	DefaultWindow = 15 * time.Minute
)

var (
	// ErrStoreUnavailable is returned when the backing store cannot be reached.
	ErrStoreUnavailable = errors.New("rate limit store unavailable")
	// ErrEmptyIdentifier is returned for a blank identifier.
	ErrEmptyIdentifier = errors.New("rate limit identifier is empty")
)

// Store counts attempts per key inside a fixed window.
//
// Increment starts a new window with count 1 when the key is absent or its
// window has elapsed. Otherwise it increments the count, except when the
// count already exceeds max, in which case it returns the count untouched.
type Store interface {
	Increment(ctx context.Context, key string, max int, window time.Duration) (int64, error)
	Reset(ctx context.Context, key string) error
}

// Config holds limiter policy.
type Config struct {
	// Scope prefixes every key so one store can serve several endpoints.
	Scope       string
	MaxAttempts int
	Window      time.Duration
}

// Limiter enforces a fixed-window attempt ceiling per identifier.
type Limiter struct {
	store  Store
	config Config
}

// New creates a limiter over store. Zero-value config fields fall back to
// DefaultMaxAttempts and DefaultWindow.
func New(store Store, cfg Config) *Limiter {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	return &Limiter{store: store, config: cfg}
}

// Check records an attempt for identifier and reports whether it is allowed.
// Exactly MaxAttempts calls are allowed per window; later calls are denied
// until the window that began with the first attempt has elapsed.
func (l *Limiter) Check(ctx context.Context, identifier string) (bool, error) {
	key, err := l.key(identifier)
	if err != nil {
		return false, err
	}

	count, err := l.store.Increment(ctx, key, l.config.MaxAttempts, l.config.Window)
	if err != nil {
		return false, err
	}
	return count <= int64(l.config.MaxAttempts), nil
}

// Clear forgives all attempts recorded for identifier. Called after a
// successful authentication.
func (l *Limiter) Clear(ctx context.Context, identifier string) error {
	key, err := l.key(identifier)
	if err != nil {
		return err
	}
	return l.store.Reset(ctx, key)
}

// MaxAttempts returns the effective attempt ceiling.
func (l *Limiter) MaxAttempts() int {
	return l.config.MaxAttempts
}

// Scope returns the key prefix of this limiter.
func (l *Limiter) Scope() string {
	return l.config.Scope
}

// Window returns the effective window length.
func (l *Limiter) Window() time.Duration {
	return l.config.Window
}

func (l *Limiter) key(identifier string) (string, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return "", ErrEmptyIdentifier
	}
	if l.config.Scope == "" {
		return identifier, nil
	}
	return l.config.Scope + ":" + identifier, nil
}
