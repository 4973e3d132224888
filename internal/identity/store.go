// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package identity

import (
	"context"

	"github.com/taibuivan/yomira-iam/pkg/pagination"
)

// CredentialStore is the identity capability the auth core depends on.
//
// # Error Contract
//
// Implementations return [apperr.AppError] values for domain outcomes:
// CONFLICT for duplicates, INVALID_CREDENTIALS for a failed check,
// ACCOUNT_LOCKED during lockout and NOT_FOUND for absent accounts or roles.
// Anything else is an infrastructure failure.
type CredentialStore interface {
	// Create persists a new account with the given initial roles and a fresh
	// security stamp.
	Create(ctx context.Context, account NewAccount, roles []string) (*Principal, error)

	// Verify checks a username/password pair, maintaining the lockout counter.
	Verify(ctx context.Context, username, password string) (*Principal, error)

	// FindByID returns the account's current state, including roles and stamp.
	FindByID(ctx context.Context, userID string) (*Principal, error)

	// GetRoles returns the account's current role names.
	GetRoles(ctx context.Context, userID string) ([]string, error)

	// GetSecurityStamp returns the account's current security stamp.
	GetSecurityStamp(ctx context.Context, userID string) (string, error)

	// RolePermissions returns the union of permission names granted to roles.
	RolePermissions(ctx context.Context, roles []string) ([]string, error)

	// UpdatePassword replaces the password hash and rotates the security stamp.
	UpdatePassword(ctx context.Context, userID, newPassword string) (string, error)

	// RotateSecurityStamp replaces the stamp without touching the password.
	RotateSecurityStamp(ctx context.Context, userID string) (string, error)

	// AssignRole adds a role membership. Assigning an existing membership is a no-op.
	AssignRole(ctx context.Context, userID, role string) error

	// RevokeRole removes a role membership. Removing an absent one is a no-op.
	RevokeRole(ctx context.Context, userID, role string) error

	// List returns one page of accounts and the total count.
	List(ctx context.Context, page pagination.Params) ([]Principal, int, error)
}
