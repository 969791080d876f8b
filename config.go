package adminauth

import (
	"errors"
	"fmt"
	"maps"
	"net/url"
	"strings"
	"time"

	"github.com/MrEthical07/adminauth/internal/audit"
	"github.com/MrEthical07/adminauth/mfa"
	"github.com/MrEthical07/adminauth/password"
	"github.com/MrEthical07/adminauth/ratelimit"
	"github.com/MrEthical07/adminauth/session"
	"github.com/MrEthical07/adminauth/verification"
)

// Config is the complete engine configuration. Start from DefaultConfig,
// or LoadConfig for file and environment sources.
type Config struct {
	Session      SessionConfig      `yaml:"session"`
	Password     PasswordConfig     `yaml:"password"`
	MFA          MFAConfig          `yaml:"mfa"`
	Verification VerificationConfig `yaml:"verification"`
	RateLimit    RateLimitConfig    `yaml:"rate_limit"`
	Audit        AuditConfig        `yaml:"audit"`
	Metrics      MetricsConfig      `yaml:"metrics"`
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig configures token minting and the session cookie.
type SessionConfig struct {
	// Secret is the HS256 key. At least 32 bytes.
	Secret   string        `yaml:"secret"`
	TTL      time.Duration `yaml:"ttl"`
	Issuer   string        `yaml:"issuer"`
	Audience string        `yaml:"audience"`
	// KeyID is stamped into new tokens. With VerifyKeys set, tokens signed
	// under any listed kid remain valid, which allows secret rotation.
	KeyID      string            `yaml:"key_id"`
	VerifyKeys map[string]string `yaml:"verify_keys"`

	CookieName   string `yaml:"cookie_name"`
	CookieDomain string `yaml:"cookie_domain"`
	// SecureCookie sets the Secure attribute. Enable in production.
	SecureCookie bool `yaml:"secure_cookie"`
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig selects the hashing algorithm for new digests. Digests of
// the other algorithm still verify and are upgraded on login.
type PasswordConfig struct {
	// Algorithm is "bcrypt" (default) or "argon2id".
	Algorithm  string `yaml:"algorithm"`
	BcryptCost int    `yaml:"bcrypt_cost"`
	MinLength  int    `yaml:"min_length"`

	Argon2Memory      uint32 `yaml:"argon2_memory"`
	Argon2Time        uint32 `yaml:"argon2_time"`
	Argon2Parallelism uint8  `yaml:"argon2_parallelism"`
	Argon2SaltLength  uint32 `yaml:"argon2_salt_length"`
	Argon2KeyLength   uint32 `yaml:"argon2_key_length"`
	UpgradeOnLogin    bool   `yaml:"upgrade_on_login"`
}

/*
====================================
MFA CONFIG
====================================
*/

// MFAConfig configures TOTP.
type MFAConfig struct {
	Issuer    string `yaml:"issuer"`
	Digits    int    `yaml:"digits"`
	Period    int    `yaml:"period"`
	Algorithm string `yaml:"algorithm"`
	// Skew is the number of adjacent steps accepted. Zero checks only the
	// current step.
	Skew       int           `yaml:"skew"`
	PendingTTL time.Duration `yaml:"pending_ttl"`
	QRCodeSize int           `yaml:"qr_code_size"`
}

/*
====================================
VERIFICATION CONFIG
====================================
*/

// VerificationConfig configures email verification and password reset tokens
// and the links mailed for them.
type VerificationConfig struct {
	EmailVerificationTTL time.Duration `yaml:"email_verification_ttl"`
	PasswordResetTTL     time.Duration `yaml:"password_reset_ttl"`
	// RedisRetention keeps expired tokens in Redis so they are reported as
	// expired rather than unknown.
	RedisRetention time.Duration `yaml:"redis_retention"`

	ProductName string `yaml:"product_name"`
	BaseURL     string `yaml:"base_url"`
	VerifyPath  string `yaml:"verify_path"`
	ResetPath   string `yaml:"reset_path"`
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// LimitConfig is one fixed-window policy.
type LimitConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Window      time.Duration `yaml:"window"`
}

// RateLimitConfig holds the policy of each guarded operation.
type RateLimitConfig struct {
	Login  LimitConfig `yaml:"login"`
	MFA    LimitConfig `yaml:"mfa"`
	Reset  LimitConfig `yaml:"reset"`
	Verify LimitConfig `yaml:"verify"`
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig = audit.Config

// MetricsConfig enables the in-process counters.
type MetricsConfig struct {
	Enabled                 bool `yaml:"enabled"`
	EnableLatencyHistograms bool `yaml:"enable_latency_histograms"`
}

// DefaultConfig returns a configuration with every default applied except
// Session.Secret, which must be provided.
func DefaultConfig() Config {
	mfaDefaults := mfa.DefaultConfig()
	return Config{
		Session: SessionConfig{
			TTL:        session.DefaultTTL,
			CookieName: session.DefaultCookieName,
		},
		Password: PasswordConfig{
			Algorithm:         "bcrypt",
			BcryptCost:        12,
			MinLength:         8,
			Argon2Memory:      64 * 1024,
			Argon2Time:        3,
			Argon2Parallelism: 2,
			Argon2SaltLength:  16,
			Argon2KeyLength:   32,
			UpgradeOnLogin:    true,
		},
		MFA: MFAConfig{
			Issuer:     mfaDefaults.Issuer,
			Digits:     mfaDefaults.Digits,
			Period:     mfaDefaults.Period,
			Algorithm:  mfaDefaults.Algorithm,
			PendingTTL: mfa.DefaultPendingTTL,
			QRCodeSize: 256,
		},
		Verification: VerificationConfig{
			EmailVerificationTTL: verification.DefaultEmailVerificationTTL,
			PasswordResetTTL:     verification.DefaultPasswordResetTTL,
			RedisRetention:       24 * time.Hour,
			ProductName:          "Admin",
			BaseURL:              "http://localhost:8080",
			VerifyPath:           "/auth/verify-email",
			ResetPath:            "/auth/reset-password",
		},
		RateLimit: RateLimitConfig{
			Login:  LimitConfig{MaxAttempts: ratelimit.DefaultMaxAttempts, Window: ratelimit.DefaultWindow},
			MFA:    LimitConfig{MaxAttempts: ratelimit.DefaultMaxAttempts, Window: ratelimit.DefaultWindow},
			Reset:  LimitConfig{MaxAttempts: 3, Window: time.Hour},
			Verify: LimitConfig{MaxAttempts: 3, Window: time.Hour},
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	if cfg.Session.VerifyKeys != nil {
		out.Session.VerifyKeys = maps.Clone(cfg.Session.VerifyKeys)
	}
	return out
}

// Validate checks cross-field constraints. Component constructors check the
// remaining ranges during Build.
func (c *Config) Validate() error {
	var errs []error

	// Session
	if len(c.Session.Secret) < session.MinSecretLength {
		errs = append(errs, fmt.Errorf("Session Secret must be at least %d bytes", session.MinSecretLength))
	}
	if c.Session.TTL <= 0 {
		errs = append(errs, errors.New("Session TTL must be > 0"))
	}
	if len(c.Session.VerifyKeys) > 0 && strings.TrimSpace(c.Session.KeyID) == "" {
		errs = append(errs, errors.New("Session VerifyKeys requires KeyID"))
	}

	// Password
	switch c.Password.Algorithm {
	case "bcrypt", "argon2id":
	default:
		errs = append(errs, fmt.Errorf("unsupported password algorithm %q", c.Password.Algorithm))
	}
	if c.Password.MinLength < 1 || c.Password.MinLength > password.MaxLength {
		errs = append(errs, fmt.Errorf("Password MinLength must be within [1, %d]", password.MaxLength))
	}

	// MFA
	if c.MFA.PendingTTL <= 0 {
		errs = append(errs, errors.New("MFA PendingTTL must be > 0"))
	}
	if c.MFA.Skew < 0 || c.MFA.Skew > 2 {
		errs = append(errs, errors.New("MFA Skew must be within [0, 2]"))
	}

	// Verification
	if c.Verification.EmailVerificationTTL <= 0 || c.Verification.PasswordResetTTL <= 0 {
		errs = append(errs, errors.New("Verification TTLs must be > 0"))
	}
	if u, err := url.Parse(c.Verification.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("Verification BaseURL %q must be an absolute URL", c.Verification.BaseURL))
	}

	// Rate limits
	for name, l := range map[string]LimitConfig{
		"Login":  c.RateLimit.Login,
		"MFA":    c.RateLimit.MFA,
		"Reset":  c.RateLimit.Reset,
		"Verify": c.RateLimit.Verify,
	} {
		if l.MaxAttempts <= 0 || l.Window <= 0 {
			errs = append(errs, fmt.Errorf("RateLimit %s requires MaxAttempts > 0 and Window > 0", name))
		}
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		errs = append(errs, errors.New("Audit BufferSize must be > 0"))
	}

	return errors.Join(errs...)
}
