// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

// Package pagination parses page requests for the account listing and
// builds the metadata block of paginated responses.
package pagination

import (
	"net/http"
	"strconv"
)

const (
	// DefaultLimit is the page size when none is requested.
	DefaultLimit = 20
	// MaxLimit caps the page size.
	MaxLimit = 100
	// DefaultPage is the first page (1-indexed).
	DefaultPage = 1
)

// Params is a validated page request.
type Params struct {
	Page  int
	Limit int
}

// Offset returns the number of items before the page.
func (p Params) Offset() int {
	if p.Page <= 1 {
		return 0
	}
	return (p.Page - 1) * p.Limit
}

// Bounds returns the half-open index range of the page within a list of
// total items, clamped so that it can always be used to slice.
func (p Params) Bounds(total int) (start, end int) {
	start = min(p.Offset(), total)
	end = min(start+p.Limit, total)
	return start, end
}

// Meta is the pagination block of a list response.
type Meta struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// NewMeta builds the metadata for a page of a list of total items.
func NewMeta(page, limit, total int) Meta {
	totalPages := 0
	if limit > 0 {
		totalPages = (total + limit - 1) / limit
	}
	return Meta{Page: page, Limit: limit, Total: total, TotalPages: totalPages}
}

// FromRequest reads the "page" and "limit" query parameters. Missing,
// malformed or out-of-range values fall back to the defaults.
func FromRequest(r *http.Request) Params {
	query := r.URL.Query()

	page := intOr(query.Get("page"), DefaultPage)
	if page < 1 {
		page = DefaultPage
	}

	limit := intOr(query.Get("limit"), DefaultLimit)
	if limit < 1 || limit > MaxLimit {
		limit = DefaultLimit
	}

	return Params{Page: page, Limit: limit}
}

func intOr(raw string, fallback int) int {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
