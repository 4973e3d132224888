// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package auth

import "github.com/taibuivan/yomira-iam/internal/platform/sec"

// # Token Shape

const (
	// RefreshSecretLength is the byte length of the random refresh secret.
	RefreshSecretLength = 32

	// refreshTokenSeparator joins the record id and the secret in the opaque
	// refresh token handed to clients.
	refreshTokenSeparator = "."
)

// # Validation Fields

const (
	FieldUsername        = "username"
	FieldEmail           = "email"
	FieldPassword        = "password"
	FieldConfirmPassword = "confirmPassword"
	FieldRefreshToken    = "refreshToken"
	FieldCurrentPassword = "currentPassword"
	FieldNewPassword     = "newPassword"
	FieldRole            = "role"
	FieldUserID          = "id"
)

// # Input Limits

const (
	MinUsernameLength = 3
	MaxUsernameLength = 64
	MinPasswordLength = 8
	MaxPasswordLength = sec.MaxPasswordBytes
)

// # Metric Outcomes

const (
	OutcomeSuccess            = "success"
	OutcomeInvalidCredentials = "invalid_credentials"
	OutcomeLocked             = "locked"
	OutcomeInvalidToken       = "invalid_token"
	OutcomeReuseDetected      = "reuse_detected"
	OutcomeStaleStamp         = "stale_stamp"
	OutcomeLostRace           = "lost_race"
	OutcomeError              = "error"
)
