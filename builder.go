package adminauth

import (
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
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

const dummyPassword = "adminauth-timing-equalizer"

// Builder assembles an Engine. Stores left unset default to Redis-backed
// implementations when WithRedis is given, and to process-local memory
// stores otherwise.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	users        UserStore
	mfaStore     MFAStore
	tokenStore   verification.Store
	pendingStore mfa.PendingStore
	limitStore   ratelimit.Store

	mailer    mail.Mailer
	logger    *zerolog.Logger
	auditSink AuditSink
	now       func() time.Time

	built bool
}

// New returns a builder holding DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client used for every store not configured explicitly.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithUserStore(s UserStore) *Builder {
	b.users = s
	return b
}

func (b *Builder) WithMFAStore(s MFAStore) *Builder {
	b.mfaStore = s
	return b
}

func (b *Builder) WithTokenStore(s verification.Store) *Builder {
	b.tokenStore = s
	return b
}

func (b *Builder) WithPendingStore(s mfa.PendingStore) *Builder {
	b.pendingStore = s
	return b
}

func (b *Builder) WithRateLimitStore(s ratelimit.Store) *Builder {
	b.limitStore = s
	return b
}

// WithMailer sets the delivery collaborator. Without one, messages are
// written to the engine logger.
func (b *Builder) WithMailer(m mail.Mailer) *Builder {
	b.mailer = m
	return b
}

func (b *Builder) WithLogger(l zerolog.Logger) *Builder {
	b.logger = &l
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithClock overrides time.Now for every component. Intended for tests.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and constructs the engine. A builder
// can be built once.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.users == nil {
		return nil, errors.New("user store required")
	}
	if b.mfaStore == nil {
		return nil, errors.New("mfa store required")
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	log := zerolog.Nop()
	if b.logger != nil {
		log = b.logger.With().Str("component", "adminauth").Logger()
	}

	engine := &Engine{
		config:   cloneConfig(cfg),
		log:      log,
		now:      now,
		users:    b.users,
		mfaStore: b.mfaStore,
		metrics:  NewMetrics(cfg.Metrics),
	}

	// -------- SESSION --------
	codec, err := session.NewCodec(sessionCodecConfig(cfg.Session, now, log))
	if err != nil {
		return nil, err
	}
	engine.codec = codec
	engine.cookie = session.CookieConfig{
		Name:   cfg.Session.CookieName,
		Domain: cfg.Session.CookieDomain,
		Secure: cfg.Session.SecureCookie,
		MaxAge: cfg.Session.TTL,
	}
	lookup := userLookup{users: b.users}
	engine.gateway = gateway.New(codec, lookup, gateway.Config{
		CookieName: cfg.Session.CookieName,
		Logger:     log,
	})

	// -------- PASSWORD --------
	hasher, err := newHasher(cfg.Password)
	if err != nil {
		return nil, err
	}
	engine.hasher = hasher
	if engine.dummyHash, err = hasher.Hash(dummyPassword); err != nil {
		return nil, fmt.Errorf("prepare dummy hash: %w", err)
	}

	// -------- MFA --------
	totp, err := mfa.New(mfa.Config{
		Issuer:    cfg.MFA.Issuer,
		Digits:    cfg.MFA.Digits,
		Period:    cfg.MFA.Period,
		Algorithm: cfg.MFA.Algorithm,
		Skew:      cfg.MFA.Skew,
	})
	if err != nil {
		return nil, err
	}
	engine.totp = totp
	engine.pending = b.pendingStore
	if engine.pending == nil {
		if b.redis != nil {
			engine.pending = mfa.NewRedisPendingStore(b.redis, "")
		} else {
			engine.pending = mfa.NewMemoryPendingStoreWithClock(now)
		}
	}

	// -------- VERIFICATION --------
	tokenStore := b.tokenStore
	if tokenStore == nil {
		if b.redis != nil {
			tokenStore = verification.NewRedisStore(b.redis, "", cfg.Verification.RedisRetention)
		} else {
			tokenStore = verification.NewMemoryStore()
		}
	}
	engine.tokens, err = verification.NewManager(tokenStore, lookup, verification.Config{
		EmailVerificationTTL: cfg.Verification.EmailVerificationTTL,
		PasswordResetTTL:     cfg.Verification.PasswordResetTTL,
		Now:                  now,
	})
	if err != nil {
		return nil, err
	}

	engine.renderer, err = mail.NewRenderer(mail.Config{
		ProductName: cfg.Verification.ProductName,
		BaseURL:     cfg.Verification.BaseURL,
		VerifyPath:  cfg.Verification.VerifyPath,
		ResetPath:   cfg.Verification.ResetPath,
	})
	if err != nil {
		return nil, err
	}
	engine.mailer = b.mailer
	if engine.mailer == nil {
		engine.mailer = mail.NewLogMailer(log)
	}

	// -------- RATE LIMITS --------
	limitStore := b.limitStore
	if limitStore == nil {
		if b.redis != nil {
			limitStore = ratelimit.NewRedisStore(b.redis, "")
		} else {
			limitStore = ratelimit.NewMemoryStoreWithClock(now)
		}
	}
	newLimiter := func(scope string, l LimitConfig) *ratelimit.Limiter {
		return ratelimit.New(limitStore, ratelimit.Config{Scope: scope, MaxAttempts: l.MaxAttempts, Window: l.Window})
	}
	engine.loginLimiter = newLimiter("login", cfg.RateLimit.Login)
	engine.mfaLimiter = newLimiter("mfa", cfg.RateLimit.MFA)
	engine.resetLimiter = newLimiter("reset", cfg.RateLimit.Reset)
	engine.verifyLimiter = newLimiter("verify", cfg.RateLimit.Verify)

	// -------- AUDIT --------
	engine.audit = audit.NewDispatcher(cfg.Audit, b.auditSink, func() {
		engine.metricInc(MetricAuditDropped)
	})

	b.built = true

	return engine, nil
}

func sessionCodecConfig(cfg SessionConfig, now func() time.Time, log zerolog.Logger) session.Config {
	out := session.Config{
		Secret:   []byte(cfg.Secret),
		TTL:      cfg.TTL,
		Issuer:   cfg.Issuer,
		Audience: cfg.Audience,
		KeyID:    cfg.KeyID,
		Now:      now,
		Logger:   log,
	}
	if len(cfg.VerifyKeys) > 0 {
		out.VerifyKeys = make(map[string][]byte, len(cfg.VerifyKeys)+1)
		for kid, key := range cfg.VerifyKeys {
			out.VerifyKeys[kid] = []byte(key)
		}
		out.VerifyKeys[cfg.KeyID] = []byte(cfg.Secret)
	}
	return out
}

func newHasher(cfg PasswordConfig) (password.Hasher, error) {
	bc, err := password.NewBcrypt(password.BcryptConfig{
		Cost:      cfg.BcryptCost,
		MinLength: cfg.MinLength,
	})
	if err != nil {
		return nil, err
	}
	a2, err := password.NewArgon2(password.Argon2Config{
		Memory:      cfg.Argon2Memory,
		Time:        cfg.Argon2Time,
		Parallelism: cfg.Argon2Parallelism,
		SaltLength:  cfg.Argon2SaltLength,
		KeyLength:   cfg.Argon2KeyLength,
		MinLength:   cfg.MinLength,
	})
	if err != nil {
		return nil, err
	}

	m := &password.Multi{Bcrypt: bc, Argon2: a2, Preferred: bc}
	if cfg.Algorithm == "argon2id" {
		m.Preferred = a2
	}
	return m, nil
}
