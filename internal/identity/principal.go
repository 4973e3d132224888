// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package identity defines the credential store consumed by the auth core.

It owns usernames, password hashes, security stamps, lockout counters, role
memberships and role grants. The auth service only sees the [CredentialStore]
contract, so any backend that honours it is substitutable.

Implementations:

  - [PostgresStore]: pgx-backed store over the iam schema.
  - [MemoryStore]: process-local store for development and tests.
*/
package identity

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/secure/precis"

	"github.com/taibuivan/yomira-iam/internal/platform/sec"
)

// Principal is the read-only view of an account handed to the auth core.
type Principal struct {
	ID            string    `json:"id"`
	Username      string    `json:"username"`
	Email         string    `json:"email"`
	Roles         []string  `json:"roles"`
	SecurityStamp string    `json:"-"`
	CreatedAt     time.Time `json:"created_at"`
}

// NewAccount is the input for account creation. Password is plain text; the
// store hashes it.
type NewAccount struct {
	Username string
	Email    string
	Password string
}

// LockoutPolicy controls automatic lockout after repeated failed logins.
type LockoutPolicy struct {
	Threshold int
	Duration  time.Duration
}

// DefaultLockoutPolicy locks an account for 15 minutes after 5 failures.
var DefaultLockoutPolicy = LockoutPolicy{Threshold: 5, Duration: 15 * time.Minute}

// NormalizeUsername maps a username to its comparison form (PRECIS
// UsernameCaseMapped: width-mapped, case-folded, NFC).
func NormalizeUsername(username string) (string, error) {
	normalized, err := precis.UsernameCaseMapped.String(strings.TrimSpace(username))
	if err != nil {
		return "", fmt.Errorf("identity: invalid username: %w", err)
	}
	return normalized, nil
}

// NormalizeEmail lower-cases and trims an email address for uniqueness checks.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NewSecurityStamp returns a fresh opaque stamp value.
func NewSecurityStamp() (string, error) {
	return sec.GenerateSecureToken(16)
}
