package adminauth

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override read by ApplyEnv.
const EnvPrefix = "ADMINAUTH_"

// LoadConfig returns DefaultConfig overlaid with the YAML file at path (if
// path is non-empty) and then with ADMINAUTH_* environment variables. The
// result is validated.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := decodeYAML(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeYAML(raw []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv overrides fields from environment variables found by lookup.
// Only the settings that commonly differ between deployments are covered.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	boolean := func(name string, dst *bool) {
		if v, ok := lookup(EnvPrefix + name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = b
		}
	}
	integer := func(name string, dst *int) {
		if v, ok := lookup(EnvPrefix + name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	duration := func(name string, dst *time.Duration) {
		if v, ok := lookup(EnvPrefix + name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = d
		}
	}

	str("SESSION_SECRET", &c.Session.Secret)
	duration("SESSION_TTL", &c.Session.TTL)
	str("SESSION_ISSUER", &c.Session.Issuer)
	str("COOKIE_DOMAIN", &c.Session.CookieDomain)
	boolean("SECURE_COOKIE", &c.Session.SecureCookie)

	str("PASSWORD_ALGORITHM", &c.Password.Algorithm)
	integer("BCRYPT_COST", &c.Password.BcryptCost)

	str("MFA_ISSUER", &c.MFA.Issuer)
	integer("MFA_SKEW", &c.MFA.Skew)

	str("BASE_URL", &c.Verification.BaseURL)
	str("PRODUCT_NAME", &c.Verification.ProductName)

	integer("LOGIN_MAX_ATTEMPTS", &c.RateLimit.Login.MaxAttempts)
	duration("LOGIN_WINDOW", &c.RateLimit.Login.Window)

	boolean("AUDIT_ENABLED", &c.Audit.Enabled)
	boolean("METRICS_ENABLED", &c.Metrics.Enabled)

	return errors.Join(errs...)
}
