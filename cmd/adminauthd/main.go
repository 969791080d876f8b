// Command adminauthd serves the adminauth flows over HTTP. It exists to
// exercise the library end to end; real deployments embed the engine in
// their own router.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	_ "github.com/mattn/go-sqlite3"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/MrEthical07/adminauth"
	"github.com/MrEthical07/adminauth/store/sqlstore"
)

type daemonConfig struct {
	env        string
	httpAddr   string
	dbDriver   string
	dbDSN      string
	redisAddr  string
	adminEmail string
	adminPass  string
}

func loadDaemonConfig() daemonConfig {
	get := func(name, def string) string {
		if v, ok := os.LookupEnv(adminauth.EnvPrefix + name); ok && v != "" {
			return v
		}
		return def
	}
	return daemonConfig{
		env:        get("ENV", "development"),
		httpAddr:   get("HTTP_ADDR", ":8080"),
		dbDriver:   get("DB_DRIVER", "sqlite3"),
		dbDSN:      get("DB_DSN", "file:adminauth.db?_busy_timeout=5000"),
		redisAddr:  get("REDIS_ADDR", ""),
		adminEmail: get("BOOTSTRAP_EMAIL", ""),
		adminPass:  get("BOOTSTRAP_PASSWORD", ""),
	}
}

func newLogger(env string) zerolog.Logger {
	if env == "production" {
		return zerolog.New(os.Stdout).With().Timestamp().Str("service", "adminauthd").Logger()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Str("service", "adminauthd").Logger()
}

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	flag.Parse()

	_ = godotenv.Load()

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dc := loadDaemonConfig()
	log := newLogger(dc.env)

	cfg, err := adminauth.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	if dc.env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	dialect := sqlstore.SQLite
	if dc.dbDriver == "pgx" {
		dialect = sqlstore.Postgres
	}
	db, err := sqlstore.Open(rootCtx, dc.dbDriver, dc.dbDSN, sqlstore.PoolConfig{})
	if err != nil {
		log.Fatal().Err(err).Str("driver", dc.dbDriver).Msg("database init failed")
	}
	defer db.Close()
	if err := sqlstore.Migrate(rootCtx, db); err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}
	store := sqlstore.New(db, dialect)

	builder := adminauth.New().
		WithConfig(cfg).
		WithLogger(log).
		WithUserStore(store).
		WithMFAStore(store).
		WithTokenStore(store).
		WithAuditSink(adminauth.NewLogAuditSink(log))

	if dc.redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: dc.redisAddr})
		if err := rdb.Ping(rootCtx).Err(); err != nil {
			log.Fatal().Err(err).Str("addr", dc.redisAddr).Msg("redis init failed")
		}
		defer rdb.Close()
		builder.WithRedis(rdb)
	}

	engine, err := builder.Build()
	if err != nil {
		log.Fatal().Err(err).Msg("engine init failed")
	}
	defer engine.Close()

	if err := bootstrapAdmin(rootCtx, engine, store, dc.adminEmail, dc.adminPass); err != nil {
		log.Fatal().Err(err).Msg("bootstrap admin failed")
	}

	go purgeLoop(rootCtx, engine, log, time.Hour)

	srv := &http.Server{
		Addr:              dc.httpAddr,
		Handler:           newRouter(engine, log),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("env", dc.env).Msg("adminauthd listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server failed")
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info().Msg("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}
}

// bootstrapAdmin creates the first administrator when email is set and no
// account with that email exists yet.
func bootstrapAdmin(ctx context.Context, engine *adminauth.Engine, store *sqlstore.Store, email, password string) error {
	if email == "" {
		return nil
	}
	existing, err := store.FindUserByEmail(ctx, email)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	digest, err := engine.HashPassword(password)
	if err != nil {
		return err
	}
	return store.CreateUser(ctx, adminauth.User{
		ID:           uuid.NewString(),
		Email:        email,
		Role:         roleAdmin,
		PasswordHash: digest,
		Verified:     true,
		Active:       true,
	})
}

func purgeLoop(ctx context.Context, engine *adminauth.Engine, log zerolog.Logger, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := engine.PurgeExpiredTokens(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("token purge failed")
				continue
			}
			if n > 0 {
				log.Info().Int("purged", n).Msg("expired tokens purged")
			}
		}
	}
}
