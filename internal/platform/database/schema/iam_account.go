// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

// Package schema holds table and column identifiers for the iam schema so
// queries never hard-code names.
package schema

// IAMAccountTable represents the 'iam.account' table
type IAMAccountTable struct {
	Table              string
	ID                 string
	Username           string
	NormalizedUsername string
	Email              string
	NormalizedEmail    string
	PasswordHash       string
	SecurityStamp      string
	FailedAttempts     string
	LockedUntil        string
	CreatedAt          string
	UpdatedAt          string
}

// IAMAccount is the schema definition for iam.account
var IAMAccount = IAMAccountTable{
	Table:              "iam.account",
	ID:                 "id",
	Username:           "username",
	NormalizedUsername: "normalizedusername",
	Email:              "email",
	NormalizedEmail:    "normalizedemail",
	PasswordHash:       "passwordhash",
	SecurityStamp:      "securitystamp",
	FailedAttempts:     "failedattempts",
	LockedUntil:        "lockeduntil",
	CreatedAt:          "createdat",
	UpdatedAt:          "updatedat",
}
