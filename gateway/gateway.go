// Package gateway answers "is this request authenticated, and as whom?".
//
// A request's session token is verified and the referenced user is re-read
// on every call, so a deleted or deactivated user is rejected even while
// their token is still within its lifetime.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/MrEthical07/adminauth/session"
)

var (
	// ErrUnauthenticated is returned for a missing, invalid or expired token
	// and for tokens whose user no longer exists or is inactive.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrLookupFailed wraps errors from the account lookup.
	ErrLookupFailed = errors.New("account lookup failed")
)

// Account is the subset of a user record the gateway needs.
type Account struct {
	ID         string
	Email      string
	Role       string
	BusinessID string
	Active     bool
}

// AccountLookup loads an account by id. A missing account is (nil, nil).
type AccountLookup interface {
	LookupAccount(ctx context.Context, id string) (*Account, error)
}

// AccountLookupFunc adapts a function to AccountLookup.
type AccountLookupFunc func(ctx context.Context, id string) (*Account, error)

func (f AccountLookupFunc) LookupAccount(ctx context.Context, id string) (*Account, error) {
	return f(ctx, id)
}

// Verifier decodes a session token. *session.Codec satisfies it.
type Verifier interface {
	Verify(token string) (session.Claim, error)
}

// Principal is the authenticated caller. Identity fields come from the
// freshly loaded account; the validity window comes from the token.
type Principal struct {
	UserID     string
	Email      string
	Role       string
	BusinessID string
	IssuedAt   time.Time
	ExpiresAt  time.Time
}

// Config configures a Gateway.
type Config struct {
	CookieName string
	Logger     zerolog.Logger
}

// Gateway authenticates requests.
type Gateway struct {
	verifier   Verifier
	accounts   AccountLookup
	cookieName string
	log        zerolog.Logger
}

// New returns a gateway.
func New(verifier Verifier, accounts AccountLookup, cfg Config) *Gateway {
	name := cfg.CookieName
	if name == "" {
		name = session.DefaultCookieName
	}
	return &Gateway{
		verifier:   verifier,
		accounts:   accounts,
		cookieName: name,
		log:        cfg.Logger,
	}
}

// Authenticate resolves the principal of r.
func (g *Gateway) Authenticate(ctx context.Context, r *http.Request) (*Principal, error) {
	return g.AuthenticateToken(ctx, session.TokenFromRequest(r, g.cookieName))
}

// AuthenticateToken resolves the principal of a raw session token.
func (g *Gateway) AuthenticateToken(ctx context.Context, token string) (*Principal, error) {
	if g == nil || g.verifier == nil || g.accounts == nil {
		return nil, ErrUnauthenticated
	}
	if token == "" {
		return nil, ErrUnauthenticated
	}

	claim, err := g.verifier.Verify(token)
	if err != nil {
		return nil, ErrUnauthenticated
	}

	account, err := g.accounts.LookupAccount(ctx, claim.UserID)
	if err != nil {
		g.log.Error().Err(err).Str("user_id", claim.UserID).Msg("account lookup failed")
		return nil, fmt.Errorf("%w: %v", ErrLookupFailed, err)
	}
	if account == nil || !account.Active {
		g.log.Debug().Str("user_id", claim.UserID).Msg("token user missing or inactive")
		return nil, ErrUnauthenticated
	}

	return &Principal{
		UserID:     account.ID,
		Email:      account.Email,
		Role:       account.Role,
		BusinessID: account.BusinessID,
		IssuedAt:   claim.IssuedAt,
		ExpiresAt:  claim.ExpiresAt,
	}, nil
}

type principalContextKey struct{}

// WithPrincipal returns ctx carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext returns the principal stored by the middleware.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(*Principal)
	return p, ok && p != nil
}
