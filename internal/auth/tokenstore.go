// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/taibuivan/yomira-iam/pkg/uuid"
)

// Sentinel errors returned by [TokenStore] implementations.
var (
	ErrRecordNotFound = errors.New("auth: refresh record not found")
	ErrRecordExists   = errors.New("auth: refresh record already exists")
	ErrTokenMismatch  = errors.New("auth: refresh secret mismatch")
	ErrTokenRevoked   = errors.New("auth: refresh record revoked")
	ErrTokenExpired   = errors.New("auth: refresh record expired")
)

// RefreshTokenRecord is the server-side state behind one refresh token.
//
// FamilyID is shared by every record produced from the same login by
// rotation. ReplacedBy names the successor once the record was rotated.
// Only a hash of the client secret is stored.
type RefreshTokenRecord struct {
	TokenID       string
	FamilyID      string
	UserID        string
	JWTID         string
	SecretHash    string
	SecurityStamp string
	RememberMe    bool
	ExpiresAt     time.Time
	Revoked       bool
	ReplacedBy    string
	CreatedAt     time.Time
}

// Active reports whether the record may still be exchanged at now.
func (r *RefreshTokenRecord) Active(now time.Time) bool {
	return !r.Revoked && now.Before(r.ExpiresAt)
}

// TokenStore persists refresh records in storage shared by every backend
// instance.
//
// # Atomicity
//
// Rotate must be linearizable per record: of any number of concurrent calls
// naming the same old record, at most one succeeds.
type TokenStore interface {
	// Put stores a new record. Fails with ErrRecordExists on id collision.
	Put(ctx context.Context, record *RefreshTokenRecord) error

	// Get returns the record in any state, or ErrRecordNotFound.
	Get(ctx context.Context, tokenID string) (*RefreshTokenRecord, error)

	// GetActive returns the record only if it is neither revoked nor expired.
	GetActive(ctx context.Context, tokenID string) (*RefreshTokenRecord, error)

	// Rotate revokes oldTokenID and stores next in one atomic step. The old
	// record must carry secretHash. Returns ErrRecordNotFound,
	// ErrTokenMismatch, ErrTokenRevoked or ErrTokenExpired on failure.
	Rotate(ctx context.Context, oldTokenID, secretHash string, next *RefreshTokenRecord) error

	// Revoke marks one record revoked. Revoking a missing or already revoked
	// record is not an error.
	Revoke(ctx context.Context, tokenID string) error

	// RevokeFamily revokes every record of a rotation lineage.
	RevokeFamily(ctx context.Context, familyID string) (int, error)

	// RevokeAllForUser revokes every record owned by userID.
	RevokeAllForUser(ctx context.Context, userID string) (int, error)

	// ListActive returns the user's active records.
	ListActive(ctx context.Context, userID string) ([]RefreshTokenRecord, error)
}

// composeRefreshToken builds the opaque client value.
func composeRefreshToken(tokenID, secret string) string {
	return tokenID + refreshTokenSeparator + secret
}

// parseRefreshToken splits an opaque refresh token into id and secret.
// The id must be a canonical UUID; it is used verbatim as a storage key.
func parseRefreshToken(token string) (tokenID, secret string, ok bool) {
	tokenID, secret, found := strings.Cut(strings.TrimSpace(token), refreshTokenSeparator)
	if !found || !uuid.Valid(tokenID) || secret == "" || strings.Contains(secret, refreshTokenSeparator) {
		return "", "", false
	}
	return tokenID, secret, true
}
