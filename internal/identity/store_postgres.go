// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taibuivan/yomira-iam/internal/platform/apperr"
	"github.com/taibuivan/yomira-iam/internal/platform/database/schema"
	"github.com/taibuivan/yomira-iam/internal/platform/dberr"
	"github.com/taibuivan/yomira-iam/internal/platform/sec"
	"github.com/taibuivan/yomira-iam/pkg/pagination"
	"github.com/taibuivan/yomira-iam/pkg/uuid"
)

// Constraint names generated by the identity migration.
const (
	constraintUsername    = "account_normalizedusername_key"
	constraintEmail       = "account_normalizedemail_key"
	constraintRoleAccount = "accountrole_accountid_fkey"
)

// PostgresStore implements [CredentialStore] over the iam schema.
//
// # Locking
//
// Verify reads the account row with SELECT ... FOR UPDATE so concurrent
// failed logins cannot lose lockout increments.
type PostgresStore struct {
	pool    Pool
	lockout LockoutPolicy
	now     func() time.Time
}

// Pool is the part of [*pgxpool.Pool] the store uses.
type Pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ Pool = (*pgxpool.Pool)(nil)

// NewPostgresStore creates a store over an open pool.
func NewPostgresStore(pool Pool, lockout LockoutPolicy) *PostgresStore {
	if lockout.Threshold < 1 {
		lockout = DefaultLockoutPolicy
	}
	return &PostgresStore{pool: pool, lockout: lockout, now: time.Now}
}

// SetClock replaces the time source. Intended for tests.
func (store *PostgresStore) SetClock(now func() time.Time) {
	store.now = now
}

// accountColumns is the projection shared by every principal query. The
// role list is aggregated in a correlated sub-select.
var accountColumns = fmt.Sprintf(`a.%s, a.%s, a.%s, a.%s, a.%s,
	COALESCE((SELECT array_agg(r.%s ORDER BY r.%s) FROM %s r WHERE r.%s = a.%s), '{}')`,
	schema.IAMAccount.ID, schema.IAMAccount.Username, schema.IAMAccount.Email,
	schema.IAMAccount.SecurityStamp, schema.IAMAccount.CreatedAt,
	schema.IAMAccountRole.Role, schema.IAMAccountRole.Role, schema.IAMAccountRole.Table,
	schema.IAMAccountRole.AccountID, schema.IAMAccount.ID,
)

func scanPrincipal(row pgx.Row) (*Principal, error) {
	principal := &Principal{}
	err := row.Scan(
		&principal.ID,
		&principal.Username,
		&principal.Email,
		&principal.SecurityStamp,
		&principal.CreatedAt,
		&principal.Roles,
	)
	if err != nil {
		return nil, err
	}
	return principal, nil
}

// Create inserts the account and its role memberships in one transaction.
func (store *PostgresStore) Create(ctx context.Context, account NewAccount, roles []string) (*Principal, error) {
	normalizedName, err := NormalizeUsername(account.Username)
	if err != nil {
		return nil, apperr.ValidationError("Validation failed", apperr.FieldError{Field: "username", Message: "Contains disallowed characters"})
	}

	hash, err := sec.HashPassword(account.Password)
	if err != nil {
		return nil, fmt.Errorf("postgres_identity_hash_failed: %w", err)
	}
	stamp, err := NewSecurityStamp()
	if err != nil {
		return nil, fmt.Errorf("postgres_identity_stamp_failed: %w", err)
	}

	transaction, err := store.pool.Begin(ctx)
	if err != nil {
		return nil, dberr.Wrap(err, "begin_create_account", "Account")
	}
	defer transaction.Rollback(ctx) //nolint:errcheck

	insertAccount := fmt.Sprintf(`
		INSERT INTO %s (%s, %s, %s, %s, %s, %s, %s, %s, %s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`,
		schema.IAMAccount.Table,
		schema.IAMAccount.ID, schema.IAMAccount.Username, schema.IAMAccount.NormalizedUsername,
		schema.IAMAccount.Email, schema.IAMAccount.NormalizedEmail, schema.IAMAccount.PasswordHash,
		schema.IAMAccount.SecurityStamp, schema.IAMAccount.CreatedAt, schema.IAMAccount.UpdatedAt,
	)

	principal := &Principal{
		ID:            uuid.New(),
		Username:      account.Username,
		Email:         account.Email,
		Roles:         sortedCopy(roles),
		SecurityStamp: stamp,
		CreatedAt:     store.now().UTC(),
	}

	_, err = transaction.Exec(ctx, insertAccount,
		principal.ID,
		principal.Username,
		normalizedName,
		principal.Email,
		NormalizeEmail(account.Email),
		hash,
		principal.SecurityStamp,
		principal.CreatedAt,
	)
	if err != nil {
		switch {
		case dberr.IsUniqueViolation(err, constraintUsername):
			return nil, apperr.Conflict("Username is already taken")
		case dberr.IsUniqueViolation(err, constraintEmail):
			return nil, apperr.Conflict("Email is already registered")
		}
		return nil, dberr.Wrap(err, "insert_account", "Account")
	}

	insertRole := fmt.Sprintf(`INSERT INTO %s (%s, %s) VALUES ($1, $2)`,
		schema.IAMAccountRole.Table, schema.IAMAccountRole.AccountID, schema.IAMAccountRole.Role)
	for _, role := range principal.Roles {
		if _, err := transaction.Exec(ctx, insertRole, principal.ID, role); err != nil {
			return nil, dberr.Wrap(err, "insert_account_role", "Role")
		}
	}

	if err := transaction.Commit(ctx); err != nil {
		return nil, dberr.Wrap(err, "commit_create_account", "Account")
	}

	return principal, nil
}

// Verify checks the password and maintains the lockout counter.
func (store *PostgresStore) Verify(ctx context.Context, username, password string) (*Principal, error) {
	normalizedName, err := NormalizeUsername(username)
	if err != nil {
		sec.BurnPasswordCheck(password)
		return nil, apperr.InvalidCredentials()
	}

	transaction, err := store.pool.Begin(ctx)
	if err != nil {
		return nil, dberr.Wrap(err, "begin_verify", "Account")
	}
	defer transaction.Rollback(ctx) //nolint:errcheck

	query := fmt.Sprintf(`SELECT %s, %s, %s, %s, %s, %s, %s, %s FROM %s WHERE %s = $1 FOR UPDATE`,
		schema.IAMAccount.ID, schema.IAMAccount.Username, schema.IAMAccount.Email,
		schema.IAMAccount.SecurityStamp, schema.IAMAccount.CreatedAt,
		schema.IAMAccount.PasswordHash, schema.IAMAccount.FailedAttempts, schema.IAMAccount.LockedUntil,
		schema.IAMAccount.Table, schema.IAMAccount.NormalizedUsername,
	)

	var (
		principal      Principal
		passwordHash   string
		failedAttempts int
		lockedUntil    *time.Time
	)
	err = transaction.QueryRow(ctx, query, normalizedName).Scan(
		&principal.ID,
		&principal.Username,
		&principal.Email,
		&principal.SecurityStamp,
		&principal.CreatedAt,
		&passwordHash,
		&failedAttempts,
		&lockedUntil,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			sec.BurnPasswordCheck(password)
			return nil, apperr.InvalidCredentials()
		}
		return nil, dberr.Wrap(err, "select_account_for_verify", "Account")
	}

	now := store.now()
	if lockedUntil != nil && now.Before(*lockedUntil) {
		return nil, apperr.AccountLocked()
	}

	update := fmt.Sprintf(`UPDATE %s SET %s = $2, %s = $3, %s = $4 WHERE %s = $1`,
		schema.IAMAccount.Table,
		schema.IAMAccount.FailedAttempts, schema.IAMAccount.LockedUntil, schema.IAMAccount.UpdatedAt,
		schema.IAMAccount.ID,
	)

	if !sec.CheckPasswordHash(password, passwordHash) {
		failedAttempts++
		var lockUntil *time.Time
		outcome := apperr.InvalidCredentials()
		if failedAttempts >= store.lockout.Threshold {
			until := now.Add(store.lockout.Duration)
			lockUntil = &until
			failedAttempts = 0
			outcome = apperr.AccountLocked()
		}
		if _, err := transaction.Exec(ctx, update, principal.ID, failedAttempts, lockUntil, now); err != nil {
			return nil, dberr.Wrap(err, "record_failed_login", "Account")
		}
		if err := transaction.Commit(ctx); err != nil {
			return nil, dberr.Wrap(err, "commit_failed_login", "Account")
		}
		return nil, outcome
	}

	if failedAttempts != 0 || lockedUntil != nil {
		if _, err := transaction.Exec(ctx, update, principal.ID, 0, nil, now); err != nil {
			return nil, dberr.Wrap(err, "reset_lockout", "Account")
		}
	}
	if err := transaction.Commit(ctx); err != nil {
		return nil, dberr.Wrap(err, "commit_verify", "Account")
	}

	return store.FindByID(ctx, principal.ID)
}

// FindByID loads an account with its roles.
func (store *PostgresStore) FindByID(ctx context.Context, userID string) (*Principal, error) {
	if !uuid.Valid(userID) {
		return nil, apperr.NotFound("Account")
	}

	query := fmt.Sprintf(`SELECT %s FROM %s a WHERE a.%s = $1`,
		accountColumns, schema.IAMAccount.Table, schema.IAMAccount.ID)

	principal, err := scanPrincipal(store.pool.QueryRow(ctx, query, userID))
	if err != nil {
		return nil, dberr.Wrap(err, "find_account_by_id", "Account")
	}
	return principal, nil
}

// GetRoles returns the account's role names.
func (store *PostgresStore) GetRoles(ctx context.Context, userID string) ([]string, error) {
	principal, err := store.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return principal.Roles, nil
}

// GetSecurityStamp reads only the stamp column.
func (store *PostgresStore) GetSecurityStamp(ctx context.Context, userID string) (string, error) {
	if !uuid.Valid(userID) {
		return "", apperr.NotFound("Account")
	}

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s = $1`,
		schema.IAMAccount.SecurityStamp, schema.IAMAccount.Table, schema.IAMAccount.ID)

	var stamp string
	if err := store.pool.QueryRow(ctx, query, userID).Scan(&stamp); err != nil {
		return "", dberr.Wrap(err, "get_security_stamp", "Account")
	}
	return stamp, nil
}

// RolePermissions returns the distinct permissions granted to roles.
func (store *PostgresStore) RolePermissions(ctx context.Context, roles []string) ([]string, error) {
	if len(roles) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(`SELECT DISTINCT %s FROM %s WHERE %s = ANY($1) ORDER BY %s`,
		schema.IAMRolePermission.Permission, schema.IAMRolePermission.Table,
		schema.IAMRolePermission.Role, schema.IAMRolePermission.Permission)

	rows, err := store.pool.Query(ctx, query, roles)
	if err != nil {
		return nil, dberr.Wrap(err, "list_role_permissions", "Role")
	}

	permissions, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, dberr.Wrap(err, "scan_role_permissions", "Role")
	}
	return permissions, nil
}

// UpdatePassword stores a new hash and a fresh stamp.
func (store *PostgresStore) UpdatePassword(ctx context.Context, userID, newPassword string) (string, error) {
	if !uuid.Valid(userID) {
		return "", apperr.NotFound("Account")
	}

	hash, err := sec.HashPassword(newPassword)
	if err != nil {
		return "", fmt.Errorf("postgres_identity_hash_failed: %w", err)
	}
	stamp, err := NewSecurityStamp()
	if err != nil {
		return "", fmt.Errorf("postgres_identity_stamp_failed: %w", err)
	}

	query := fmt.Sprintf(`UPDATE %s SET %s = $2, %s = $3, %s = $4 WHERE %s = $1`,
		schema.IAMAccount.Table,
		schema.IAMAccount.PasswordHash, schema.IAMAccount.SecurityStamp, schema.IAMAccount.UpdatedAt,
		schema.IAMAccount.ID)

	tag, err := store.pool.Exec(ctx, query, userID, hash, stamp, store.now())
	if err != nil {
		return "", dberr.Wrap(err, "update_password", "Account")
	}
	if tag.RowsAffected() == 0 {
		return "", apperr.NotFound("Account")
	}
	return stamp, nil
}

// RotateSecurityStamp stores a fresh stamp.
func (store *PostgresStore) RotateSecurityStamp(ctx context.Context, userID string) (string, error) {
	if !uuid.Valid(userID) {
		return "", apperr.NotFound("Account")
	}

	stamp, err := NewSecurityStamp()
	if err != nil {
		return "", fmt.Errorf("postgres_identity_stamp_failed: %w", err)
	}

	query := fmt.Sprintf(`UPDATE %s SET %s = $2, %s = $3 WHERE %s = $1`,
		schema.IAMAccount.Table,
		schema.IAMAccount.SecurityStamp, schema.IAMAccount.UpdatedAt, schema.IAMAccount.ID)

	tag, err := store.pool.Exec(ctx, query, userID, stamp, store.now())
	if err != nil {
		return "", dberr.Wrap(err, "rotate_security_stamp", "Account")
	}
	if tag.RowsAffected() == 0 {
		return "", apperr.NotFound("Account")
	}
	return stamp, nil
}

// AssignRole inserts a membership, ignoring duplicates.
func (store *PostgresStore) AssignRole(ctx context.Context, userID, role string) error {
	if !uuid.Valid(userID) {
		return apperr.NotFound("Account")
	}

	query := fmt.Sprintf(`INSERT INTO %s (%s, %s) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		schema.IAMAccountRole.Table, schema.IAMAccountRole.AccountID, schema.IAMAccountRole.Role)

	if _, err := store.pool.Exec(ctx, query, userID, role); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == dberr.CodeForeignKeyViolation {
			if pgErr.ConstraintName == constraintRoleAccount {
				return apperr.NotFound("Account")
			}
			return apperr.NotFound("Role")
		}
		return dberr.Wrap(err, "assign_role", "Role")
	}
	return nil
}

// RevokeRole deletes a membership if present.
func (store *PostgresStore) RevokeRole(ctx context.Context, userID, role string) error {
	if _, err := store.FindByID(ctx, userID); err != nil {
		return err
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE %s = $1 AND %s = $2`,
		schema.IAMAccountRole.Table, schema.IAMAccountRole.AccountID, schema.IAMAccountRole.Role)

	if _, err := store.pool.Exec(ctx, query, userID, role); err != nil {
		return dberr.Wrap(err, "revoke_role", "Role")
	}
	return nil
}

// List returns accounts ordered by creation time.
func (store *PostgresStore) List(ctx context.Context, page pagination.Params) ([]Principal, int, error) {
	var total int
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, schema.IAMAccount.Table)
	if err := store.pool.QueryRow(ctx, countQuery).Scan(&total); err != nil {
		return nil, 0, dberr.Wrap(err, "count_accounts", "Account")
	}

	query := fmt.Sprintf(`SELECT %s FROM %s a ORDER BY a.%s, a.%s LIMIT $1 OFFSET $2`,
		accountColumns, schema.IAMAccount.Table, schema.IAMAccount.CreatedAt, schema.IAMAccount.ID)

	rows, err := store.pool.Query(ctx, query, page.Limit, page.Offset())
	if err != nil {
		return nil, 0, dberr.Wrap(err, "list_accounts", "Account")
	}
	defer rows.Close()

	principals := make([]Principal, 0, page.Limit)
	for rows.Next() {
		principal, err := scanPrincipal(rows)
		if err != nil {
			return nil, 0, dberr.Wrap(err, "scan_account", "Account")
		}
		principals = append(principals, *principal)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, dberr.Wrap(err, "iterate_accounts", "Account")
	}

	return principals, total, nil
}
