// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package constants provides centralized, immutable values for the entire gateway.

It defines default timeouts, rate limits, and cross-cutting keys that are shared
between different layers of the system.

Categories:

  - Server Timing: Read/Write/Idle timeouts for the HTTP server.
  - Rate Limiting: Burst capacities and IP tracking TTLs.
  - Security: Session clamps, cookie naming, reserved accounts.

Using this package ensures Magic Strings and Magic Numbers are eliminated
from the business logic.
*/
package constants

import "time"

// # Metadata

const (
	AppName    = "restgate"
	AppVersion = "0.1.0-dev"
)

// # Server Timing

const (
	// DefaultReadTimeout is the maximum duration for reading the entire request.
	DefaultReadTimeout = 5 * time.Second

	// DefaultWriteTimeout is the maximum duration before timing out writes of the response.
	DefaultWriteTimeout = 10 * time.Second

	// DefaultIdleTimeout is the maximum amount of time to wait for the next request.
	DefaultIdleTimeout = 120 * time.Second

	// DefaultReadHeaderTimeout is the amount of time allowed to read request headers.
	DefaultReadHeaderTimeout = 2 * time.Second

	// GlobalRequestTimeout is the deadline for the entire request lifecycle.
	GlobalRequestTimeout = 30 * time.Second

	// ShutdownTimeout is how long we wait for in-flight requests to complete during shutdown.
	ShutdownTimeout = 30 * time.Second
)

// # Gateway Rate Limiting (coarse, per IP)

const (
	// DefaultRateLimitRPS is the requests per second allowed per IP.
	DefaultRateLimitRPS = 100.0

	// DefaultRateLimitBurst is the maximum burst allowed for the rate limiter.
	DefaultRateLimitBurst = 150

	// RateLimitCleanupInterval is how often old IP entries are removed from memory.
	RateLimitCleanupInterval = 1 * time.Minute

	// RateLimitClientTTL is how long a client must be idle before its entry is deleted.
	RateLimitClientTTL = 3 * time.Minute
)

// # Authentication & Sessions

const (
	// SessionCookiePrefix prefixes the per-handler session cookie name; the
	// full name is the prefix followed by the handler id in hex, so multiple
	// vendors can coexist on one service without cookie collisions.
	SessionCookiePrefix = "session_"

	// MaxSessionTimeoutMinutes clamps both the expiry and inactivity session
	// timeouts (30 days expressed in minutes).
	MaxSessionTimeoutMinutes = 43200

	// DefaultSessionExpireMinutes is the absolute session lifetime when the
	// deployment does not configure one.
	DefaultSessionExpireMinutes = 15

	// DefaultMaxPassthroughPerUser bounds the per-user passthrough database
	// connection pool.
	DefaultMaxPassthroughPerUser = 10

	// ReservedAccountMetadata is the internal account the gateway uses for
	// its own metadata connections. End users may never authenticate as it.
	ReservedAccountMetadata = "mysql_user"

	// ReservedAccountDataAccess is the internal account used for data-plane
	// connections. End users may never authenticate as it.
	ReservedAccountDataAccess = "mysql_user_data_access"
)

// # HTTP Headers

const (
	HeaderXRequestID      = "X-Request-ID"
	HeaderXRealIP         = "X-Real-IP"
	HeaderXForwardedFor   = "X-Forwarded-For"
	HeaderOrigin          = "Origin"
	HeaderAuthorization   = "Authorization"
	HeaderWWWAuthenticate = "WWW-Authenticate"
	HeaderRetryAfter      = "Retry-After"
)

// # JSON Field Identifiers

const (
	FieldData    = "data"
	FieldError   = "error"
	FieldCode    = "code"
	FieldDetails = "details"
	FieldStatus  = "status"
	FieldApp     = "app"
	FieldVersion = "version"
	FieldChecks  = "checks"
)

// # Redis Prefixes (Cache Taxonomy)

const (
	RedisPrefixAuthUser = "auth:user:"
)
