// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package constants provides centralized, immutable values for the entire platform.

It defines default timeouts, header names, and cross-cutting keys that are shared
between different layers of the system.

Categories:

  - Server Timing: Read/Write/Idle timeouts for the HTTP server.
  - Rate Limiting: IP tracking TTLs for the auth throttle.
  - Security: Claim types, cache key prefixes and public auth paths.
*/
package constants

import "time"

// # Metadata

const (
	AppName    = "yomira-iam"
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

// # Rate Limiting

const (
	// RateLimitCleanupInterval is how often old IP entries are removed from memory.
	RateLimitCleanupInterval = 1 * time.Minute

	// RateLimitClientTTL is how long a client must be idle before its entry is deleted.
	RateLimitClientTTL = 3 * time.Minute
)

// # HTTP Headers

const (
	HeaderAuthorization = "Authorization"
	HeaderXRequestID    = "X-Request-ID"
	HeaderXRealIP       = "X-Real-IP"
	HeaderXForwardedFor = "X-Forwarded-For"
	HeaderRetryAfter    = "Retry-After"

	// BearerScheme is the authorization scheme for access tokens.
	BearerScheme = "Bearer"
)

// # Authentication

const (
	// PermissionClaimType is the fixed claim type under which granted
	// permission names are embedded in access tokens.
	PermissionClaimType = "permission"

	// RoleClaimType is the claim type for role memberships.
	RoleClaimType = "role"

	// AuthRoutePrefix is where the authentication API is mounted.
	AuthRoutePrefix = "/api/auth"

	// Public auth endpoints. Clients never attach a bearer credential to these.
	PathLogin    = AuthRoutePrefix + "/login"
	PathRegister = AuthRoutePrefix + "/register"
	PathRefresh  = AuthRoutePrefix + "/refresh"

	// PathLogout revokes one refresh token; it carries no bearer either.
	PathLogout = AuthRoutePrefix + "/logout"
)

// # JSON Field Identifiers

const (
	FieldData    = "data"
	FieldMeta    = "meta"
	FieldError   = "error"
	FieldCode    = "code"
	FieldDetails = "details"
	FieldStatus  = "status"
	FieldChecks  = "checks"
)

// # Database Schemas

const (
	SchemaIAM = "iam"
)

// # Redis Prefixes (Cache Taxonomy)

const (
	RedisPrefixRefreshToken  = "auth:refresh:token:"
	RedisPrefixRefreshUser   = "auth:refresh:user:"
	RedisPrefixRefreshFamily = "auth:refresh:family:"
)
