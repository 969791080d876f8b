package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ClaimVersion is the schema version stamped into every minted token.
// Tokens carrying any other version are rejected.
const ClaimVersion = 1

// ClaimInput is the caller-supplied part of a session claim.
type ClaimInput struct {
	UserID string
	Email  string
	Role   string
	// BusinessID scopes the session to one business. Empty for unscoped users.
	BusinessID string
}

// Claim is the decoded identity assertion carried by a session token. It is
// a closed struct: fields not listed here are never surfaced to callers,
// even if present in the signed payload.
type Claim struct {
	Version    int
	UserID     string
	Email      string
	Role       string
	BusinessID string
	IssuedAt   time.Time
	ExpiresAt  time.Time
}

// HasBusiness reports whether the claim is scoped to a business.
func (c Claim) HasBusiness() bool {
	return c.BusinessID != ""
}

type wireClaims struct {
	Version    int    `json:"ver"`
	Email      string `json:"email"`
	Role       string `json:"role,omitempty"`
	BusinessID string `json:"bid,omitempty"`
	jwt.RegisteredClaims
}

func (w *wireClaims) claim() Claim {
	out := Claim{
		Version:    w.Version,
		UserID:     w.Subject,
		Email:      w.Email,
		Role:       w.Role,
		BusinessID: w.BusinessID,
	}
	if w.IssuedAt != nil {
		out.IssuedAt = w.IssuedAt.Time
	}
	if w.ExpiresAt != nil {
		out.ExpiresAt = w.ExpiresAt.Time
	}
	return out
}
