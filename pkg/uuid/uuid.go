// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package uuid generates and checks the identifiers used for accounts,
refresh tokens, token lineages and request IDs.

Every identifier is a Version 7 UUID: time-ordered, so accounts sort by
creation and primary keys stay B-tree friendly.
*/
package uuid

import "github.com/google/uuid"

// # Generators

// New generates a new UUIDv7 string.
func New() string {
	id, err := uuid.NewV7()

	// entropy failure is an unrecoverable system-level error
	if err != nil {
		panic("uuid: failed to generate UUIDv7: " + err.Error())
	}

	return id.String()
}

// # Validation

// Valid reports whether s is a canonical hyphenated UUID of any version.
// Lookups use it to answer "not found" for ids that could never exist.
func Valid(s string) bool {
	if len(s) != 36 {
		return false
	}
	return uuid.Validate(s) == nil
}
