// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

// Command api is the entry point for the Yomira identity server.
//
// # Startup Sequence
//
//  1. Initialize structured logger.
//  2. Load configuration from environment variables.
//  3. Open the credential backend (PostgreSQL with migrations, or memory).
//  4. Connect to the shared Redis token store.
//  5. Load the signing keys and wire the auth service.
//  6. Seed the bootstrap administrator, if configured.
//  7. Start HTTP server with graceful shutdown.
//
// No business logic lives here. All wiring is explicit constructor injection.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/taibuivan/yomira-iam/internal/api"
	"github.com/taibuivan/yomira-iam/internal/auth"
	"github.com/taibuivan/yomira-iam/internal/identity"
	"github.com/taibuivan/yomira-iam/internal/permission"
	"github.com/taibuivan/yomira-iam/internal/platform/apperr"
	"github.com/taibuivan/yomira-iam/internal/platform/config"
	"github.com/taibuivan/yomira-iam/internal/platform/constants"
	"github.com/taibuivan/yomira-iam/internal/platform/metrics"
	"github.com/taibuivan/yomira-iam/internal/platform/middleware"
	"github.com/taibuivan/yomira-iam/internal/platform/migration"
	pgstore "github.com/taibuivan/yomira-iam/internal/platform/postgres"
	redisstore "github.com/taibuivan/yomira-iam/internal/platform/redis"
	"github.com/taibuivan/yomira-iam/internal/platform/sec"
)

func main() {
	// ── 1. Logger ──────────────────────────────────────────────────────────
	// Initialize first so that subsequent startup errors are structured JSON.
	log := newLogger(slog.LevelInfo)
	slog.SetDefault(log)

	log.Info("[Yomira IAM] service_initializing", slog.String("version", constants.AppVersion))

	// ── 2. Configuration ──────────────────────────────────────────────────
	cfg, err := config.Load()
	must(log, err, "load configuration")

	if cfg.Debug {
		log = newLogger(slog.LevelDebug)
		slog.SetDefault(log)
		log.Debug("debug_logging_enabled")
	}

	log.Info("configuration_loaded",
		slog.String("environment", cfg.Environment),
		slog.String("port", cfg.ServerPort),
		slog.String("credential_backend", cfg.CredentialBackend),
		slog.Bool("strict_stamp_validation", cfg.StrictStampValidation),
		slog.Bool("trust_proxy_headers", cfg.TrustProxyHeaders),
	)

	// Root context for background workers; cancelled on shutdown.
	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	// Startup deadline so misconfiguration fails fast instead of hanging.
	startupCtx, startupCancel := context.WithTimeout(rootCtx, 30*time.Second)
	defer startupCancel()

	registry := permission.MustRegistry(permission.Catalog)
	lockout := identity.LockoutPolicy{Threshold: cfg.LockoutThreshold, Duration: cfg.LockoutDuration}

	// ── 3. Credential Backend ─────────────────────────────────────────────
	var (
		credentials   identity.CredentialStore
		checkDatabase func(ctx context.Context) error
	)

	switch cfg.CredentialBackend {
	case config.BackendPostgres:
		pool, err := pgstore.NewPool(startupCtx, cfg.DatabaseURL, log)
		must(log, err, "connect to postgres")
		defer func() {
			log.Info("closing postgres pool")
			pool.Close()
		}()

		must(log, migration.RunUp(cfg.DatabaseURL, cfg.MigrationPath, log), "run migrations")

		credentials = identity.NewPostgresStore(pool, lockout)
		checkDatabase = func(ctx context.Context) error { return pgstore.Ping(ctx, pool) }

	case config.BackendMemory:
		store, err := identity.NewMemoryStore(registry, permission.DefaultRoles, lockout)
		must(log, err, "initialize memory credential store")
		credentials = store
		log.Warn("memory_credential_backend_enabled", slog.String("note", "accounts are lost on restart"))
	}

	// ── 4. Redis ──────────────────────────────────────────────────────────
	rdb, err := redisstore.Open(startupCtx, cfg.RedisURL, log)
	must(log, err, "connect to redis")
	defer func() {
		log.Info("closing redis client")
		if cerr := rdb.Close(); cerr != nil {
			log.Error("redis close error", slog.Any("error", cerr))
		}
	}()

	tokenStore := auth.NewRedisTokenStore(rdb, cfg.TokenStoreClockSkew)

	// ── 5. Auth Service ───────────────────────────────────────────────────
	jwtSvc, err := sec.NewTokenService(cfg.JWTPrivKeyPath, cfg.JWTPubKeyPath, cfg.AuthIssuer)
	must(log, err, "initialize jwt service")

	observability := metrics.New()

	authService := auth.NewService(credentials, tokenStore, jwtSvc, registry, auth.Options{
		AccessTokenTTL:            cfg.AccessTokenTTL,
		RefreshTokenTTL:           cfg.RefreshTokenTTL,
		RememberMeRefreshTokenTTL: cfg.RememberMeRefreshTokenTTL,
		ReuseRevokesLineage:       cfg.ReuseRevokesLineage,
		RegistrationRoles:         []string{permission.RoleMember},
		Observer:                  observability,
		Logger:                    log,
	})

	// ── 6. Bootstrap Administrator ────────────────────────────────────────
	if cfg.HasSeedAdmin() {
		must(log, seedAdmin(startupCtx, credentials, cfg, log), "seed administrator")
	}

	// ── 7. HTTP Server ────────────────────────────────────────────────────
	liveness, readiness := api.NewHealthHandlers(api.HealthDependencies{
		CheckDatabase:   checkDatabase,
		CheckTokenStore: func(ctx context.Context) error { return redisstore.Ping(ctx, rdb) },
	}, log)

	security := api.Security{
		Verifier: jwtSvc,
		Limiter:  middleware.NewRateLimiter(rootCtx, cfg.AuthRateLimitRPS, cfg.AuthRateLimitBurst),
		Metrics:  observability,

		TrustProxyHeaders: cfg.TrustProxyHeaders,
	}
	if cfg.StrictStampValidation {
		security.Stamps = authService
	}

	server := api.NewServer(cfg.ServerPort, log, security, api.Handlers{
		Liveness:  liveness,
		Readiness: readiness,
		Auth:      auth.NewHandler(authService, permission.NewEngine(registry), observability),
	})

	// ── 8. Graceful Shutdown ──────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)

	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Block until OS signal or server error.
	select {
	case sig := <-quit:
		log.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-serverErr:
		log.Error("server startup error", slog.Any("error", err))
	}

	// Give in-flight requests enough time to complete.
	shutdownTimeout := constants.ShutdownTimeout
	log.Info("shutting down server", slog.Duration("timeout", shutdownTimeout))

	if err := server.Shutdown(shutdownTimeout); err != nil {
		log.Error("shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	log.Info("server stopped cleanly")
}

func newLogger(level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(handler).With(slog.String("app", constants.AppName))
}

// seedAdmin creates the configured administrator once. An existing account
// with that username is left untouched.
func seedAdmin(ctx context.Context, credentials identity.CredentialStore, cfg *config.Config, log *slog.Logger) error {
	principal, err := credentials.Create(ctx, identity.NewAccount{
		Username: cfg.SeedAdminUsername,
		Email:    cfg.SeedAdminEmail,
		Password: cfg.SeedAdminPassword,
	}, []string{permission.RoleAdmin})

	if apperr.HasCode(err, apperr.CodeConflict) {
		log.Info("seed_admin_exists", slog.String("username", cfg.SeedAdminUsername))
		return nil
	}
	if err != nil {
		return err
	}

	log.Info("seed_admin_created", slog.String("user_id", principal.ID))
	return nil
}

// must logs a structured fatal error and terminates the process if err is non-nil.
//
// It is limited to startup wiring. After startup, all errors are returned
// and handled explicitly.
func must(log *slog.Logger, err error, step string) {
	if err != nil {
		log.Error("startup failure",
			slog.String("context", step),
			slog.Any("error", err),
		)
		os.Exit(1)
	}
}
