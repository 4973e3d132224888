// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/yomira-iam/internal/platform/config"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("JWT_PRIVATE_KEY_PATH", "/keys/private.pem")
	t.Setenv("JWT_PUBLIC_KEY_PATH", "/keys/public.pem")
}

/*
TestLoad_Defaults verifies the documented defaults for the memory backend.
*/
func TestLoad_Defaults(t *testing.T) {
	setRequired(t)
	t.Setenv("CREDENTIAL_BACKEND", config.BackendMemory)

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, 15*time.Minute, cfg.AccessTokenTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.RefreshTokenTTL)
	assert.Equal(t, 2*time.Minute, cfg.TokenStoreClockSkew)
	assert.False(t, cfg.StrictStampValidation)
	assert.False(t, cfg.TrustProxyHeaders)
	assert.True(t, cfg.ReuseRevokesLineage)
	assert.False(t, cfg.HasSeedAdmin())
	assert.True(t, cfg.IsDevelopment())
}

/*
TestLoad_PostgresRequiresDatabaseURL checks the cross-field backend rule.
*/
func TestLoad_PostgresRequiresDatabaseURL(t *testing.T) {
	setRequired(t)
	t.Setenv("CREDENTIAL_BACKEND", config.BackendPostgres)
	t.Setenv("DATABASE_URL", "")

	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

/*
TestLoad_Rejects covers invalid combinations.
*/
func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"unknown_backend", "CREDENTIAL_BACKEND", "ldap"},
		{"access_longer_than_refresh", "ACCESS_TOKEN_TTL", "200h"},
		{"zero_lockout_threshold", "LOCKOUT_THRESHOLD", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			t.Setenv("CREDENTIAL_BACKEND", config.BackendMemory)
			t.Setenv(tt.key, tt.value)

			_, err := config.Load()
			assert.Error(t, err)
		})
	}
}
