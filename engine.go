package adminauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/MrEthical07/adminauth/gateway"
	"github.com/MrEthical07/adminauth/internal/audit"
	"github.com/MrEthical07/adminauth/mail"
	"github.com/MrEthical07/adminauth/mfa"
	"github.com/MrEthical07/adminauth/password"
	"github.com/MrEthical07/adminauth/ratelimit"
	"github.com/MrEthical07/adminauth/session"
	"github.com/MrEthical07/adminauth/verification"
)

// Engine composes the session, password, MFA, verification and rate-limit
// components into the login and account-recovery flows. Construct it with
// [Builder]; methods are safe for concurrent use.
type Engine struct {
	config Config
	log    zerolog.Logger
	now    func() time.Time

	users    UserStore
	mfaStore MFAStore

	codec     *session.Codec
	cookie    session.CookieConfig
	hasher    password.Hasher
	dummyHash string

	totp    *mfa.Manager
	pending mfa.PendingStore

	tokens   *verification.Manager
	renderer *mail.Renderer
	mailer   mail.Mailer

	gateway *gateway.Gateway

	loginLimiter  *ratelimit.Limiter
	mfaLimiter    *ratelimit.Limiter
	resetLimiter  *ratelimit.Limiter
	verifyLimiter *ratelimit.Limiter

	audit   *audit.Dispatcher
	metrics *Metrics
}

// Close stops the audit worker after draining queued events.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped returns the number of audit events discarded because the
// buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) ready() error {
	if e == nil || e.codec == nil || e.users == nil {
		return ErrEngineNotReady
	}
	return nil
}

/*
====================================
SESSIONS
====================================
*/

// Authenticate resolves the principal of an HTTP request from its bearer
// header or session cookie. The user record is re-read on every call.
func (e *Engine) Authenticate(ctx context.Context, r *http.Request) (*Principal, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	start := time.Now()
	p, err := e.gateway.Authenticate(ctx, r)
	e.metrics.Observe(MetricAuthenticateLatency, time.Since(start))
	if err != nil {
		e.metricInc(MetricAuthenticateFailure)
		return nil, err
	}
	e.metricInc(MetricAuthenticateSuccess)
	return p, nil
}

// Gateway returns the request authenticator for use with the gateway
// package middleware.
func (e *Engine) Gateway() *gateway.Gateway {
	if e == nil {
		return nil
	}
	return e.gateway
}

// VerifySession decodes a session token without touching the user store.
func (e *Engine) VerifySession(token string) (session.Claim, error) {
	if err := e.ready(); err != nil {
		return session.Claim{}, err
	}
	return e.codec.Verify(token)
}

// SetSessionCookie writes the session cookie for token.
func (e *Engine) SetSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, e.cookie.Cookie(token, e.now()))
}

// ClearSessionCookie expires the session cookie.
func (e *Engine) ClearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, e.cookie.Expired(e.now()))
}

// HashPassword hashes plaintext with the configured algorithm, for
// applications creating accounts. Passwords outside the configured length
// bounds fail with ErrPasswordPolicy.
func (e *Engine) HashPassword(plaintext string) (string, error) {
	if err := e.ready(); err != nil {
		return "", err
	}
	digest, err := e.hasher.Hash(plaintext)
	if password.IsPolicyError(err) {
		return "", fmt.Errorf("%w: %v", ErrPasswordPolicy, err)
	}
	return digest, err
}

func (e *Engine) mint(u *User) (string, session.Claim, error) {
	token, claim, err := e.codec.Mint(session.ClaimInput{
		UserID:     u.ID,
		Email:      u.Email,
		Role:       u.Role,
		BusinessID: u.BusinessID,
	})
	if err != nil {
		return "", session.Claim{}, err
	}
	e.metricInc(MetricSessionMinted)
	e.log.Debug().Str("user_id", u.ID).Time("expires_at", claim.ExpiresAt).Msg("session minted")
	return token, claim, nil
}

/*
====================================
HELPERS
====================================
*/

func unavailable(err error) error {
	if err == nil || errors.Is(err, ErrBackendUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// checkLimit returns ErrRateLimited when identifier is over the limit and
// ErrBackendUnavailable when the limiter store fails. A blank identifier
// names no account and yields ErrUserNotFound.
func (e *Engine) checkLimit(ctx context.Context, l *ratelimit.Limiter, identifier, userID string) error {
	allowed, err := l.Check(ctx, identifier)
	if errors.Is(err, ratelimit.ErrEmptyIdentifier) {
		return ErrUserNotFound
	}
	if err != nil {
		return unavailable(err)
	}
	if !allowed {
		e.emitRateLimit(ctx, l.Scope(), userID)
		return ErrRateLimited
	}
	return nil
}

func (e *Engine) clearLimit(ctx context.Context, l *ratelimit.Limiter, identifier string) {
	if err := l.Clear(ctx, identifier); err != nil {
		e.log.Warn().Err(err).Str("scope", l.Scope()).Msg("rate limit clear failed")
	}
}

// ClearLoginAttempts forgives recorded login attempts for email.
func (e *Engine) ClearLoginAttempts(ctx context.Context, email string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.loginLimiter.Clear(ctx, normalizeEmail(email)); err != nil {
		return unavailable(err)
	}
	return nil
}

// PurgeExpiredTokens deletes expired verification tokens when the token
// store supports it.
func (e *Engine) PurgeExpiredTokens(ctx context.Context) (int, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	n, err := e.tokens.Purge(ctx)
	if err != nil {
		return 0, unavailable(err)
	}
	return n, nil
}

// userLookup adapts UserStore to the verification and gateway lookups.
type userLookup struct {
	users UserStore
}

func (l userLookup) UserVerified(ctx context.Context, userID string) (bool, bool, error) {
	u, err := l.users.FindUserByID(ctx, userID)
	if err != nil {
		return false, false, unavailable(err)
	}
	if u == nil {
		return false, false, nil
	}
	return true, u.Verified, nil
}

func (l userLookup) LookupAccount(ctx context.Context, id string) (*gateway.Account, error) {
	u, err := l.users.FindUserByID(ctx, id)
	if err != nil || u == nil {
		return nil, err
	}
	return &gateway.Account{
		ID:         u.ID,
		Email:      u.Email,
		Role:       u.Role,
		BusinessID: u.BusinessID,
		Active:     u.Active,
	}, nil
}
