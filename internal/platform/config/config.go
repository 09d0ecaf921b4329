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
  - DI-Friendly: Passed to core components (DB, Redis, AuthorizeManager) via constructors.
  - Explicit Defaults: Every authorization knob has its own default; no field
    inherits another field's value.
*/
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"

	"github.com/taibuivan/restgate/internal/platform/constants"
)

// # Configuration Schema

// Config holds all runtime configuration for the gateway.
type Config struct {

	// Server settings
	ServerPort  string `env:"SERVER_PORT"  envDefault:"8080"`
	Environment string `env:"ENVIRONMENT"  envDefault:"development"`
	Debug       bool   `env:"DEBUG"        envDefault:"false"`

	// RouterID identifies this gateway instance in minted bearer tokens.
	RouterID string `env:"ROUTER_ID" envDefault:"0"`

	// SupportsHTTPS gates redirect-based vendors that require TLS callbacks.
	SupportsHTTPS bool `env:"SUPPORTS_HTTPS" envDefault:"false"`

	// Relational Database (metadata: auth apps, users, privileges)
	DatabaseURL string `env:"DATABASE_URL,required"`

	// MigrationPath is the filesystem path to the SQL migrations directory.
	MigrationPath string `env:"MIGRATION_PATH" envDefault:"./data/migrations"`

	// Key-Value Cache (Redis)
	RedisURL string `env:"REDIS_URL,required"`

	// JWTSecret is the HS256 signing secret for bearer tokens. An empty
	// secret disables bearer token issuance and validation entirely.
	JWTSecret string `env:"JWT_SECRET"`

	// JWTExpireMinutes is the bearer token lifetime. Clamped to the session
	// timeout maximum.
	JWTExpireMinutes int `env:"JWT_EXPIRE_MINUTES" envDefault:"15"`

	// Session lifetime knobs, expressed in minutes. An inactivity timeout of
	// zero disables inactivity-based eviction.
	SessionExpireMinutes     int `env:"SESSION_EXPIRE_MINUTES"     envDefault:"15"`
	SessionInactivityMinutes int `env:"SESSION_INACTIVITY_MINUTES" envDefault:"0"`

	// MaxPassthroughPerUser bounds the per-user passthrough DB connection pool.
	MaxPassthroughPerUser int `env:"MAX_PASSTHROUGH_PER_USER" envDefault:"10"`

	// Authentication throttling, per account (handler id + account name).
	AccountMaxAttemptsPerMinute int `env:"ACCOUNT_MAX_ATTEMPTS_PER_MINUTE" envDefault:"0"`
	AccountMinTimeBetweenMs     int `env:"ACCOUNT_MIN_TIME_BETWEEN_MS"     envDefault:"0"`

	// Authentication throttling, per peer host.
	HostMaxAttemptsPerMinute int `env:"HOST_MAX_ATTEMPTS_PER_MINUTE" envDefault:"0"`
	HostMinTimeBetweenMs     int `env:"HOST_MIN_TIME_BETWEEN_MS"     envDefault:"0"`

	// BlockWhenExceededSeconds is how long an abusive key stays blocked.
	BlockWhenExceededSeconds int `env:"BLOCK_WHEN_EXCEEDED_SECONDS" envDefault:"60"`
}

// # Configuration Loading

// Load parses environment variables into a [Config] struct.
func Load() (*Config, error) {

	cfg := &Config{}

	// This will fail if any field marked with 'required' is missing.
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse environment variables: %w", err)
	}

	// Clamp session and token lifetimes to the platform maximum.
	if cfg.SessionExpireMinutes <= 0 {
		cfg.SessionExpireMinutes = constants.DefaultSessionExpireMinutes
	}
	if cfg.SessionExpireMinutes > constants.MaxSessionTimeoutMinutes {
		cfg.SessionExpireMinutes = constants.MaxSessionTimeoutMinutes
	}
	if cfg.SessionInactivityMinutes > constants.MaxSessionTimeoutMinutes {
		cfg.SessionInactivityMinutes = constants.MaxSessionTimeoutMinutes
	}
	if cfg.JWTExpireMinutes <= 0 || cfg.JWTExpireMinutes > constants.MaxSessionTimeoutMinutes {
		cfg.JWTExpireMinutes = constants.DefaultSessionExpireMinutes
	}
	if cfg.MaxPassthroughPerUser <= 0 {
		cfg.MaxPassthroughPerUser = constants.DefaultMaxPassthroughPerUser
	}

	return cfg, nil
}

// IsDevelopment reports whether the server is running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction reports whether the server is running in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
