// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package client shares one live session across every outbound request of a
process.

Components:

  - [AuthAPI]: HTTP client for the auth endpoints, with bounded retries.
  - [TokenDistributionService]: Holds the token pair and hands out a valid
    access token, refreshing it when it is about to expire.
  - [RefreshCoordinator]: Single-flight gate so concurrent callers share one
    refresh call.
  - [Interceptor]: [http.RoundTripper] that attaches the bearer token and
    retries once after a 401.
*/
package client

import (
	"errors"
	"time"
)

// # Errors

var (
	// ErrNoSession is returned when no session has been set or it was cleared.
	ErrNoSession = errors.New("client: no session")

	// ErrSessionInvalid is returned once the server rejected the refresh
	// token. The caller has to log in again.
	ErrSessionInvalid = errors.New("client: session is no longer valid")
)

// Session is the token pair returned by login, register and refresh.
type Session struct {
	AccessToken  string    `json:"token"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiration"`
	Username     string    `json:"username"`
	Roles        []string  `json:"roles"`
}

// State is the lifecycle position of a [TokenDistributionService].
type State int

const (
	// StateEmpty means no session is held.
	StateEmpty State = iota
	// StateIdle means a session is held and no refresh is running.
	StateIdle
	// StateRefreshing means one refresh call is in flight.
	StateRefreshing
	// StateInvalid means the server rejected the session.
	StateInvalid
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateIdle:
		return "idle"
	case StateRefreshing:
		return "refreshing"
	case StateInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Config tunes the client components. Zero values fall back to defaults.
type Config struct {
	// BaseURL is the scheme and host of the auth service.
	BaseURL string

	// MaxAttempts bounds the tries of one auth call on transient failures.
	MaxAttempts int

	// Backoff is multiplied by the attempt number between tries.
	Backoff time.Duration

	// ExpiryMargin refreshes tokens this long before they expire.
	ExpiryMargin time.Duration

	// RefreshTimeout bounds one refresh call, independent of any caller.
	RefreshTimeout time.Duration
}

const (
	DefaultMaxAttempts    = 3
	DefaultBackoff        = 200 * time.Millisecond
	DefaultExpiryMargin   = 30 * time.Second
	DefaultRefreshTimeout = 10 * time.Second
)

func (c Config) withDefaults() Config {
	if c.MaxAttempts < 1 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.Backoff <= 0 {
		c.Backoff = DefaultBackoff
	}
	if c.ExpiryMargin <= 0 {
		c.ExpiryMargin = DefaultExpiryMargin
	}
	if c.RefreshTimeout <= 0 {
		c.RefreshTimeout = DefaultRefreshTimeout
	}
	return c
}
