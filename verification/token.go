// Package verification issues and redeems single-use tokens for email
// verification and password reset.
//
// Only the SHA-256 digest of a token is persisted. Verify never deletes a
// valid token itself: it returns a [Handle] whose Consume method removes the
// token exactly once, after the caller has applied its side effects.
package verification

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// Kind distinguishes the purpose of a token.
type Kind string

const (
	KindEmailVerification Kind = "EMAIL_VERIFICATION"
	KindPasswordReset     Kind = "PASSWORD_RESET"
)

const (
	// DefaultEmailVerificationTTL is the lifetime of an email verification token.
	DefaultEmailVerificationTTL = 24 * time.Hour
	// DefaultPasswordResetTTL is the lifetime of a password reset token.
	DefaultPasswordResetTTL = 30 * time.Minute
	// TokenBytes is the entropy of a token before hex encoding.
	TokenBytes = 32
)

var (
	ErrTokenExpired               = errors.New("verification token expired")
	ErrTokenNotFoundOrAlreadyUsed = errors.New("verification token not found or already used")
	ErrAlreadyVerified            = errors.New("user already verified")
	ErrUserNotFound               = errors.New("user not found")
	ErrInvalidKind                = errors.New("invalid verification token kind")
	// ErrStoreUnavailable wraps backend failures from a Store.
	ErrStoreUnavailable = errors.New("verification store unavailable")
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindEmailVerification || k == KindPasswordReset
}

// SingleActive reports whether issuing a token of this kind supersedes the
// user's earlier tokens of the same kind.
func (k Kind) SingleActive() bool {
	return k == KindPasswordReset
}

// Record is the persisted form of a token.
type Record struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	TokenHash string    `json:"token_hash"`
	Kind      Kind      `json:"kind"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// Expired reports whether r is no longer valid at now.
func (r Record) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// Issued is returned once at issue time. Token is never stored.
type Issued struct {
	Token  string
	Record Record
}

// HashToken returns the hex SHA-256 digest under which token is stored.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func newToken() (string, error) {
	buf := make([]byte, TokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func wellFormed(token string) bool {
	if len(token) != TokenBytes*2 {
		return false
	}
	_, err := hex.DecodeString(token)
	return err == nil
}
