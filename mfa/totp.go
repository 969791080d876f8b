// Package mfa implements TOTP second factors: secret generation, code
// verification (RFC 6238 over RFC 4226), provisioning URIs, backup codes and
// the pending store that holds a secret between setup and confirmation.
package mfa

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// SecretBytes is the size of a generated shared secret (160 bits).
const SecretBytes = 20

var (
	// ErrInvalidConfig is returned by New for out-of-range settings.
	ErrInvalidConfig = errors.New("invalid totp config")
	// ErrInvalidSecret is returned for an empty or undecodable secret.
	ErrInvalidSecret = errors.New("invalid totp secret")
)

var secretEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Config controls code generation and verification.
type Config struct {
	Issuer string
	// Digits defaults to 6.
	Digits int
	// Period is the step length in seconds. Defaults to 30.
	Period int
	// Algorithm is SHA1, SHA256 or SHA512. Defaults to SHA1.
	Algorithm string
	// Skew is the number of steps accepted on either side of the current
	// step. Zero accepts only the current step.
	Skew int
}

// DefaultConfig returns the RFC 6238 defaults with no skew tolerance.
func DefaultConfig() Config {
	return Config{
		Issuer:    "adminauth",
		Digits:    6,
		Period:    30,
		Algorithm: "SHA1",
	}
}

// Manager generates and checks TOTP codes. It holds no mutable state.
type Manager struct {
	config Config
}

// New validates cfg, fills defaults and returns a manager.
func New(cfg Config) (*Manager, error) {
	def := DefaultConfig()
	if cfg.Digits == 0 {
		cfg.Digits = def.Digits
	}
	if cfg.Period == 0 {
		cfg.Period = def.Period
	}
	if cfg.Algorithm == "" {
		cfg.Algorithm = def.Algorithm
	}
	cfg.Algorithm = strings.ToUpper(cfg.Algorithm)

	if cfg.Digits < 6 || cfg.Digits > 8 {
		return nil, fmt.Errorf("%w: digits must be 6..8", ErrInvalidConfig)
	}
	if cfg.Period <= 0 {
		return nil, fmt.Errorf("%w: period must be positive", ErrInvalidConfig)
	}
	if cfg.Skew < 0 || cfg.Skew > 2 {
		return nil, fmt.Errorf("%w: skew must be 0..2", ErrInvalidConfig)
	}
	if _, err := hmacFunc(cfg.Algorithm); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return &Manager{config: cfg}, nil
}

// Config returns the effective configuration.
func (m *Manager) Config() Config {
	return m.config
}

// GenerateSecret returns a fresh random secret and its unpadded base32 form.
func (m *Manager) GenerateSecret() ([]byte, string, error) {
	raw := make([]byte, SecretBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, "", err
	}
	return raw, secretEncoding.EncodeToString(raw), nil
}

// DecodeSecret parses a base32 secret, tolerating padding, spaces and
// lowercase input.
func DecodeSecret(secretBase32 string) ([]byte, error) {
	s := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(secretBase32), " ", ""))
	s = strings.TrimRight(s, "=")
	if s == "" {
		return nil, ErrInvalidSecret
	}
	raw, err := secretEncoding.DecodeString(s)
	if err != nil || len(raw) == 0 {
		return nil, ErrInvalidSecret
	}
	return raw, nil
}

// ProvisionURI builds the otpauth:// URI consumed by authenticator apps.
func (m *Manager) ProvisionURI(secretBase32, account string) string {
	issuer := m.config.Issuer
	label := url.PathEscape(issuer + ":" + account)

	v := url.Values{}
	v.Set("secret", secretBase32)
	v.Set("issuer", issuer)
	v.Set("period", strconv.Itoa(m.config.Period))
	v.Set("digits", strconv.Itoa(m.config.Digits))
	v.Set("algorithm", m.config.Algorithm)

	return "otpauth://totp/" + label + "?" + v.Encode()
}

// Code returns the code for the step containing now.
func (m *Manager) Code(secret []byte, now time.Time) (string, error) {
	if len(secret) == 0 {
		return "", ErrInvalidSecret
	}
	return hotpCode(secret, m.counter(now), m.config.Digits, m.config.Algorithm)
}

// VerifyCode reports whether code matches the step containing now, or one
// within the configured skew. The matched counter is returned on success.
func (m *Manager) VerifyCode(secret []byte, code string, now time.Time) (bool, int64, error) {
	trimmed := strings.TrimSpace(code)
	if len(trimmed) != m.config.Digits || !isNumeric(trimmed) {
		return false, 0, nil
	}
	if len(secret) == 0 {
		return false, 0, ErrInvalidSecret
	}

	base := m.counter(now)
	for step := -m.config.Skew; step <= m.config.Skew; step++ {
		counter := base + int64(step)
		if counter < 0 {
			continue
		}
		generated, err := hotpCode(secret, counter, m.config.Digits, m.config.Algorithm)
		if err != nil {
			return false, 0, err
		}
		if subtle.ConstantTimeCompare([]byte(generated), []byte(trimmed)) == 1 {
			return true, counter, nil
		}
	}
	return false, 0, nil
}

// Valid is VerifyCode without the counter. Errors count as a mismatch.
func (m *Manager) Valid(secret []byte, code string, now time.Time) bool {
	ok, _, err := m.VerifyCode(secret, code, now)
	return ok && err == nil
}

func (m *Manager) counter(now time.Time) int64 {
	return now.Unix() / int64(m.config.Period)
}

func hotpCode(secret []byte, counter int64, digits int, algorithm string) (string, error) {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))

	hf, err := hmacFunc(algorithm)
	if err != nil {
		return "", err
	}
	mac := hmac.New(hf, secret)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	bin := uint32(sum[offset]&0x7f)<<24 |
		uint32(sum[offset+1])<<16 |
		uint32(sum[offset+2])<<8 |
		uint32(sum[offset+3])

	mod := uint32(1)
	for i := 0; i < digits; i++ {
		mod *= 10
	}
	return fmt.Sprintf("%0*d", digits, bin%mod), nil
}

func hmacFunc(algorithm string) (func() hash.Hash, error) {
	switch strings.ToUpper(algorithm) {
	case "", "SHA1":
		return sha1.New, nil
	case "SHA256":
		return sha256.New, nil
	case "SHA512":
		return sha512.New, nil
	default:
		return nil, fmt.Errorf("unsupported totp algorithm %q", algorithm)
	}
}

func isNumeric(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}
