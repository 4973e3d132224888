// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package uuid_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/taibuivan/yomira-iam/pkg/uuid"
)

/*
TestNew_TimeOrdered checks that consecutive ids are valid and distinct.
*/
func TestNew_TimeOrdered(t *testing.T) {
	first, second := uuid.New(), uuid.New()

	assert.True(t, uuid.Valid(first))
	assert.NotEqual(t, first, second)
	assert.Equal(t, byte('7'), first[14], "version nibble")
}

/*
TestValid rejects everything but the canonical form.
*/
func TestValid(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"0190a6c4-7d2e-7c3a-9f00-1b2c3d4e5f60", true},
		{"0190A6C4-7D2E-7C3A-9F00-1B2C3D4E5F60", true},
		{"0190a6c47d2e7c3a9f001b2c3d4e5f60", false},
		{"urn:uuid:0190a6c4-7d2e-7c3a-9f00-1b2c3d4e5f60", false},
		{"not-a-uuid", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, uuid.Valid(tt.input))
		})
	}
}
