// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

// Package dberr translates pgx errors into [apperr.AppError] values so
// storage details never reach the HTTP layer.
package dberr

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/taibuivan/yomira-iam/internal/platform/apperr"
)

// SQLSTATE codes the stores react to.
const (
	CodeUniqueViolation     = "23505"
	CodeForeignKeyViolation = "23503"
)

// Wrap classifies a database error. action names the failed operation and is
// kept in the wrapped chain for logs.
//
//   - pgx.ErrNoRows becomes NOT_FOUND for resource.
//   - a unique violation becomes CONFLICT.
//   - a foreign key violation becomes NOT_FOUND (the referenced row is absent).
//   - everything else becomes INTERNAL_ERROR.
func Wrap(err error, action, resource string) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound(resource)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case CodeUniqueViolation:
			return apperr.Conflict(fmt.Sprintf("%s already exists", resource))
		case CodeForeignKeyViolation:
			return apperr.NotFound(resource)
		}
	}

	return apperr.Internal(fmt.Errorf("%s: %w", action, err))
}

// IsUniqueViolation reports whether err is a Postgres unique violation,
// optionally restricted to one constraint.
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != CodeUniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}
