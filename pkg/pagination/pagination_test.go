// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package pagination_test

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/taibuivan/yomira-iam/pkg/pagination"
)

/*
TestFromRequest covers defaults and clamping.
*/
func TestFromRequest(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  pagination.Params
	}{
		{"defaults", "", pagination.Params{Page: 1, Limit: 20}},
		{"explicit", "?page=3&limit=50", pagination.Params{Page: 3, Limit: 50}},
		{"limit_too_large", "?limit=500", pagination.Params{Page: 1, Limit: 20}},
		{"negative_page", "?page=-2", pagination.Params{Page: 1, Limit: 20}},
		{"malformed", "?page=two&limit=ten", pagination.Params{Page: 1, Limit: 20}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			request := httptest.NewRequest("GET", "/users"+tt.query, nil)
			assert.Equal(t, tt.want, pagination.FromRequest(request))
		})
	}
}

/*
TestParams_Bounds keeps the range inside the list.
*/
func TestParams_Bounds(t *testing.T) {
	tests := []struct {
		name      string
		params    pagination.Params
		total     int
		wantStart int
		wantEnd   int
	}{
		{"first_page", pagination.Params{Page: 1, Limit: 2}, 5, 0, 2},
		{"last_partial", pagination.Params{Page: 3, Limit: 2}, 5, 4, 5},
		{"past_end", pagination.Params{Page: 9, Limit: 2}, 5, 5, 5},
		{"empty", pagination.Params{Page: 1, Limit: 20}, 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end := tt.params.Bounds(tt.total)
			assert.Equal(t, tt.wantStart, start)
			assert.Equal(t, tt.wantEnd, end)
		})
	}
}

/*
TestNewMeta rounds the page count up.
*/
func TestNewMeta(t *testing.T) {
	assert.Equal(t, pagination.Meta{Page: 2, Limit: 20, Total: 41, TotalPages: 3}, pagination.NewMeta(2, 20, 41))
	assert.Equal(t, 0, pagination.NewMeta(1, 0, 10).TotalPages)
}
