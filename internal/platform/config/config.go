// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package config handles application-wide settings and environment parsing.

It leverages 'caarlos0/env' to map OS environment variables into a strongly-typed
Go struct, providing early validation and default values.

Usage:

	cfg, err := config.Load()
	if err != nil {
	    log.Fatal(err)
	}

Architecture:

  - Immutability: Once loaded, configuration is read-only.
  - DI-Friendly: Passed to core components (DB, Redis) via constructors.
  - Zero Hidden State: No global variables are used to store config.
*/
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Credential store backends accepted by CREDENTIAL_BACKEND.
const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// # Configuration Schema

// Config holds all runtime configuration for the identity API server.
type Config struct {

	// Server settings
	ServerPort  string `env:"SERVER_PORT"  envDefault:"8080"`
	Environment string `env:"ENVIRONMENT"  envDefault:"development"`
	Debug       bool   `env:"DEBUG"        envDefault:"false"`

	// CredentialBackend selects the identity store implementation.
	CredentialBackend string `env:"CREDENTIAL_BACKEND" envDefault:"postgres"`

	// Relational Database (PostgreSQL). Required for the postgres backend only.
	DatabaseURL string `env:"DATABASE_URL"`

	// MigrationPath is the filesystem path to the SQL migrations directory.
	MigrationPath string `env:"MIGRATION_PATH" envDefault:"./data/migrations"`

	// Shared token cache (Redis). Every backend instance must point at the same one.
	RedisURL string `env:"REDIS_URL,required"`

	// Cryptographic keys for access token signing
	JWTPrivKeyPath string `env:"JWT_PRIVATE_KEY_PATH,required"`
	JWTPubKeyPath  string `env:"JWT_PUBLIC_KEY_PATH,required"`
	AuthIssuer     string `env:"AUTH_ISSUER" envDefault:"iam.yomira.app"`

	// Token lifetimes
	AccessTokenTTL            time.Duration `env:"ACCESS_TOKEN_TTL"              envDefault:"15m"`
	RefreshTokenTTL           time.Duration `env:"REFRESH_TOKEN_TTL"             envDefault:"168h"`
	RememberMeRefreshTokenTTL time.Duration `env:"REMEMBER_ME_REFRESH_TOKEN_TTL" envDefault:"720h"`
	TokenStoreClockSkew       time.Duration `env:"TOKEN_STORE_CLOCK_SKEW"        envDefault:"2m"`

	// StrictStampValidation checks the live security stamp on every
	// authenticated request instead of only at refresh time.
	StrictStampValidation bool `env:"STRICT_STAMP_VALIDATION" envDefault:"false"`

	// ReuseRevokesLineage revokes every refresh token of a session when a
	// consumed token is presented again.
	ReuseRevokesLineage bool `env:"REUSE_REVOKES_LINEAGE" envDefault:"true"`

	// Account lockout
	LockoutThreshold int           `env:"LOCKOUT_THRESHOLD" envDefault:"5"`
	LockoutDuration  time.Duration `env:"LOCKOUT_DURATION"  envDefault:"15m"`

	// Brute-force throttling on the public auth endpoints
	AuthRateLimitRPS   float64 `env:"AUTH_RATE_LIMIT_RPS"   envDefault:"5"`
	AuthRateLimitBurst int     `env:"AUTH_RATE_LIMIT_BURST" envDefault:"10"`

	// TrustProxyHeaders keys throttling and logs on forwarding headers.
	// Leave off unless a reverse proxy overwrites them.
	TrustProxyHeaders bool `env:"TRUST_PROXY_HEADERS" envDefault:"false"`

	// Optional bootstrap administrator
	SeedAdminUsername string `env:"SEED_ADMIN_USERNAME"`
	SeedAdminEmail    string `env:"SEED_ADMIN_EMAIL"`
	SeedAdminPassword string `env:"SEED_ADMIN_PASSWORD"`
}

// # Configuration Loading

// Load parses environment variables into a [Config] struct.
func Load() (*Config, error) {

	// Initialize an empty config struct
	cfg := &Config{}

	// This will fail if any field marked with 'required' is missing.
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse environment variables: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// validate enforces the cross-field rules env tags cannot express.
func (c *Config) validate() error {
	switch c.CredentialBackend {
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres credential backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown CREDENTIAL_BACKEND %q", c.CredentialBackend)
	}

	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 || c.RememberMeRefreshTokenTTL <= 0 {
		return errors.New("token lifetimes must be positive")
	}
	if c.AccessTokenTTL >= c.RefreshTokenTTL {
		return errors.New("ACCESS_TOKEN_TTL must be shorter than REFRESH_TOKEN_TTL")
	}
	if c.TokenStoreClockSkew < 0 {
		return errors.New("TOKEN_STORE_CLOCK_SKEW must not be negative")
	}
	if c.LockoutThreshold < 1 {
		return errors.New("LOCKOUT_THRESHOLD must be at least 1")
	}

	return nil
}

// IsDevelopment reports whether the server is running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction reports whether the server is running in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// HasSeedAdmin reports whether a bootstrap administrator is configured.
func (c *Config) HasSeedAdmin() bool {
	return c.SeedAdminUsername != "" && c.SeedAdminPassword != ""
}
