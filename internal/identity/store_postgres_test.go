// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package identity_test

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/yomira-iam/internal/identity"
	"github.com/taibuivan/yomira-iam/internal/platform/apperr"
	"github.com/taibuivan/yomira-iam/internal/platform/dberr"
	"github.com/taibuivan/yomira-iam/internal/platform/sec"
)

const pgAccountID = "0192f3a4-1b2c-7d3e-8f40-123456789abc"

var pgNow = time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)

var verifyColumns = []string{"id", "username", "email", "securitystamp", "createdat", "passwordhash", "failedattempts", "lockeduntil"}

func newPostgresStore(t *testing.T) (*identity.PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store := identity.NewPostgresStore(mock, identity.LockoutPolicy{Threshold: 3, Duration: time.Minute})
	store.SetClock(func() time.Time { return pgNow })
	return store, mock
}

func passwordHash(t *testing.T) string {
	t.Helper()
	hash, err := sec.HashPassword("correct-horse")
	require.NoError(t, err)
	return hash
}

/*
TestPostgresStore_VerifyLockout drives the lockout counter through the
locked row read.
*/
func TestPostgresStore_VerifyLockout(t *testing.T) {
	hash := passwordHash(t)
	lockedUntil := pgNow.Add(time.Minute)

	tests := []struct {
		name     string
		password string
		failed   int
		locked   *time.Time
		expect   func(mock pgxmock.PgxPoolIface)
		wantCode string
	}{
		{
			name:     "first_failure_counts",
			password: "wrong-horse",
			expect: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec(`UPDATE iam\.account SET failedattempts`).
					WithArgs(pgAccountID, 1, pgxmock.AnyArg(), pgNow).
					WillReturnResult(pgxmock.NewResult("UPDATE", 1))
				mock.ExpectCommit()
			},
			wantCode: apperr.CodeInvalidCredentials,
		},
		{
			name:     "threshold_locks_and_resets_counter",
			password: "wrong-horse",
			failed:   2,
			expect: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec(`UPDATE iam\.account SET failedattempts`).
					WithArgs(pgAccountID, 0, pgxmock.AnyArg(), pgNow).
					WillReturnResult(pgxmock.NewResult("UPDATE", 1))
				mock.ExpectCommit()
			},
			wantCode: apperr.CodeAccountLocked,
		},
		{
			name:     "locked_account_skips_update",
			password: "correct-horse",
			locked:   &lockedUntil,
			expect: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectRollback()
			},
			wantCode: apperr.CodeAccountLocked,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newPostgresStore(t)

			mock.ExpectBegin()
			mock.ExpectQuery(`FROM iam\.account WHERE normalizedusername = \$1 FOR UPDATE`).
				WithArgs("alice").
				WillReturnRows(pgxmock.NewRows(verifyColumns).
					AddRow(pgAccountID, "Alice", "alice@example.com", "stamp", pgNow, hash, tt.failed, tt.locked))
			tt.expect(mock)

			_, err := store.Verify(context.Background(), "Alice", tt.password)
			assert.True(t, apperr.HasCode(err, tt.wantCode), "got %v", err)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

/*
TestPostgresStore_VerifySuccessResetsCounter clears earlier failures and
returns the principal with its roles.
*/
func TestPostgresStore_VerifySuccessResetsCounter(t *testing.T) {
	store, mock := newPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).
		WithArgs("alice").
		WillReturnRows(pgxmock.NewRows(verifyColumns).
			AddRow(pgAccountID, "Alice", "alice@example.com", "stamp", pgNow, passwordHash(t), 2, nil))
	mock.ExpectExec(`UPDATE iam\.account SET failedattempts`).
		WithArgs(pgAccountID, 0, nil, pgNow).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()
	mock.ExpectQuery(`FROM iam\.account a WHERE a\.id = \$1`).
		WithArgs(pgAccountID).
		WillReturnRows(pgxmock.NewRows([]string{"id", "username", "email", "securitystamp", "createdat", "roles"}).
			AddRow(pgAccountID, "Alice", "alice@example.com", "stamp", pgNow, []string{"Member"}))

	principal, err := store.Verify(context.Background(), "alice", "correct-horse")
	require.NoError(t, err)
	assert.Equal(t, pgAccountID, principal.ID)
	assert.Equal(t, []string{"Member"}, principal.Roles)
	assert.NoError(t, mock.ExpectationsWereMet())
}

/*
TestPostgresStore_VerifyUnknownUser answers like a wrong password.
*/
func TestPostgresStore_VerifyUnknownUser(t *testing.T) {
	store, mock := newPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WithArgs("ghost").WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	_, err := store.Verify(context.Background(), "ghost", "correct-horse")
	assert.True(t, apperr.HasCode(err, apperr.CodeInvalidCredentials))
	assert.NoError(t, mock.ExpectationsWereMet())
}

/*
TestPostgresStore_CreateConflicts maps each unique constraint to its own
conflict message.
*/
func TestPostgresStore_CreateConflicts(t *testing.T) {
	tests := []struct {
		name       string
		constraint string
		wantMsg    string
	}{
		{"username", "account_normalizedusername_key", "Username is already taken"},
		{"email", "account_normalizedemail_key", "Email is already registered"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newPostgresStore(t)

			mock.ExpectBegin()
			mock.ExpectExec(`INSERT INTO iam\.account `).
				WillReturnError(&pgconn.PgError{Code: dberr.CodeUniqueViolation, ConstraintName: tt.constraint})
			mock.ExpectRollback()

			_, err := store.Create(context.Background(), identity.NewAccount{
				Username: "Alice",
				Email:    "alice@example.com",
				Password: "correct-horse",
			}, nil)

			appError := apperr.As(err)
			require.NotNil(t, appError)
			assert.Equal(t, apperr.CodeConflict, appError.Code)
			assert.Equal(t, tt.wantMsg, appError.Message)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

/*
TestPostgresStore_AssignRoleForeignKeys tells a missing account from a
missing role by the violated constraint.
*/
func TestPostgresStore_AssignRoleForeignKeys(t *testing.T) {
	tests := []struct {
		name       string
		constraint string
		wantMsg    string
	}{
		{"missing_account", "accountrole_accountid_fkey", "Account not found"},
		{"missing_role", "accountrole_role_fkey", "Role not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newPostgresStore(t)

			mock.ExpectExec(`INSERT INTO iam\.accountrole`).
				WithArgs(pgAccountID, "Moderator").
				WillReturnError(&pgconn.PgError{Code: dberr.CodeForeignKeyViolation, ConstraintName: tt.constraint})

			err := store.AssignRole(context.Background(), pgAccountID, "Moderator")

			appError := apperr.As(err)
			require.NotNil(t, appError)
			assert.Equal(t, apperr.CodeNotFound, appError.Code)
			assert.Equal(t, tt.wantMsg, appError.Message)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}

	t.Run("malformed_id_skips_database", func(t *testing.T) {
		store, mock := newPostgresStore(t)

		err := store.AssignRole(context.Background(), "user:1", "Moderator")
		assert.True(t, apperr.HasCode(err, apperr.CodeNotFound))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

/*
TestPostgresStore_UpdatePasswordMissingAccount reports NOT_FOUND when no row
changed.
*/
func TestPostgresStore_UpdatePasswordMissingAccount(t *testing.T) {
	store, mock := newPostgresStore(t)

	mock.ExpectExec(`UPDATE iam\.account SET passwordhash`).
		WithArgs(pgAccountID, pgxmock.AnyArg(), pgxmock.AnyArg(), pgNow).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	_, err := store.UpdatePassword(context.Background(), pgAccountID, "battery-staple")
	assert.True(t, apperr.HasCode(err, apperr.CodeNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}
