// Package session mints and verifies signed session tokens and carries them
// over HTTP cookies or bearer headers.
//
// Tokens are HS256 JWTs holding a versioned [Claim]. Verification pins the
// algorithm, checks the signature, expiry and claim version, and collapses
// every failure into [ErrInvalidToken] so callers cannot tell an expired
// token from a forged one. The specific reason is logged at debug level.
package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

const (
	// DefaultTTL is the fixed lifetime of a minted token.
	DefaultTTL = 24 * time.Hour
	// MinSecretLength is the shortest accepted HMAC key.
	MinSecretLength = 32
)

var (
	// ErrInvalidToken covers signature, format, algorithm, version and expiry failures.
	ErrInvalidToken = errors.New("invalid session token")
	// ErrInvalidClaim is returned by Mint for a claim without a user id.
	ErrInvalidClaim = errors.New("invalid session claim")
)

// Config configures a [Codec].
type Config struct {
	Secret   []byte
	TTL      time.Duration
	Issuer   string
	Audience string
	// KeyID is written into the token header when set.
	KeyID string
	// VerifyKeys maps kid to secret for rotation. When non-empty, tokens must
	// carry a kid present in the map.
	VerifyKeys map[string][]byte
	// Now overrides the clock. Defaults to time.Now.
	Now    func() time.Time
	Logger zerolog.Logger
}

// Codec mints and verifies session tokens. It holds no mutable state and is
// safe for concurrent use.
type Codec struct {
	config Config
	now    func() time.Time
	log    zerolog.Logger
}

// NewCodec validates cfg and returns a codec.
func NewCodec(cfg Config) (*Codec, error) {
	if len(cfg.Secret) < MinSecretLength {
		return nil, fmt.Errorf("session secret must be at least %d bytes", MinSecretLength)
	}
	if cfg.TTL == 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.TTL < 0 {
		return nil, errors.New("invalid session TTL")
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)
	for kid, key := range cfg.VerifyKeys {
		if strings.TrimSpace(kid) == "" {
			return nil, errors.New("verify key map contains empty kid")
		}
		if len(key) < MinSecretLength {
			return nil, fmt.Errorf("verify key %q shorter than %d bytes", kid, MinSecretLength)
		}
	}
	if cfg.KeyID != "" && len(cfg.VerifyKeys) > 0 {
		if _, ok := cfg.VerifyKeys[cfg.KeyID]; !ok {
			return nil, errors.New("KeyID is not present in VerifyKeys")
		}
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Codec{config: cfg, now: now, log: cfg.Logger}, nil
}

// TTL returns the lifetime applied to minted tokens.
func (c *Codec) TTL() time.Duration {
	return c.config.TTL
}

// Mint signs a new token for in. IssuedAt is the current second and
// ExpiresAt is IssuedAt plus the configured TTL.
func (c *Codec) Mint(in ClaimInput) (string, Claim, error) {
	if strings.TrimSpace(in.UserID) == "" {
		return "", Claim{}, ErrInvalidClaim
	}

	issued := c.now().Truncate(time.Second)
	wire := wireClaims{
		Version:    ClaimVersion,
		Email:      in.Email,
		Role:       in.Role,
		BusinessID: in.BusinessID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   in.UserID,
			Issuer:    c.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(issued.Add(c.config.TTL)),
		},
	}
	if c.config.Audience != "" {
		wire.Audience = jwt.ClaimStrings{c.config.Audience}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, wire)
	if c.config.KeyID != "" {
		token.Header["kid"] = c.config.KeyID
	}

	signed, err := token.SignedString(c.signKey())
	if err != nil {
		return "", Claim{}, err
	}
	return signed, wire.claim(), nil
}

// Verify checks token and returns its claim. Every failure is reported as
// [ErrInvalidToken].
func (c *Codec) Verify(token string) (Claim, error) {
	claim, err := c.verify(token)
	if err != nil {
		c.log.Debug().Err(err).Msg("session token rejected")
		return Claim{}, ErrInvalidToken
	}
	return claim, nil
}

func (c *Codec) verify(token string) (Claim, error) {
	if token == "" {
		return Claim{}, errors.New("empty token")
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if c.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(c.config.Issuer))
	}
	if c.config.Audience != "" {
		options = append(options, jwt.WithAudience(c.config.Audience))
	}

	var wire wireClaims
	parsed, err := jwt.NewParser(options...).ParseWithClaims(token, &wire, c.keyFunc)
	if err != nil {
		return Claim{}, err
	}
	if !parsed.Valid {
		return Claim{}, jwt.ErrTokenInvalidClaims
	}
	if wire.Version != ClaimVersion {
		return Claim{}, fmt.Errorf("unsupported claim version %d", wire.Version)
	}
	if wire.Subject == "" {
		return Claim{}, errors.New("missing subject")
	}
	return wire.claim(), nil
}

func (c *Codec) keyFunc(t *jwt.Token) (interface{}, error) {
	if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
		return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
	}

	kid, _ := t.Header["kid"].(string)
	if len(c.config.VerifyKeys) > 0 {
		if kid == "" {
			return nil, errors.New("missing kid")
		}
		key, ok := c.config.VerifyKeys[kid]
		if !ok {
			return nil, errors.New("unknown kid")
		}
		return key, nil
	}
	if c.config.KeyID != "" && kid != c.config.KeyID {
		return nil, errors.New("unknown kid")
	}
	return c.config.Secret, nil
}

func (c *Codec) signKey() []byte {
	if c.config.KeyID != "" && len(c.config.VerifyKeys) > 0 {
		return c.config.VerifyKeys[c.config.KeyID]
	}
	return c.config.Secret
}
