// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

// Package ctxutil provides helpers for interacting with values stored in [context.Context].
package ctxutil

import (
	"context"
	"log/slog"
	"sync"

	"github.com/taibuivan/yomira-iam/internal/platform/ctxkey"
	"github.com/taibuivan/yomira-iam/internal/platform/sec"
)

// # Request Tracing

// WithRequestID returns a new context with the provided request ID attached.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxkey.KeyRequestID, id)
}

// GetRequestID retrieves the request ID from the context.
// Returns an empty string if not found.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxkey.KeyRequestID).(string)
	return id
}

// # Structured Logging

// WithLogger returns a new context with the provided logger attached.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxkey.KeyLogger, logger)
}

// GetLogger retrieves the logger from the context.
// If no logger is found, it returns the global default logger.
func GetLogger(ctx context.Context) *slog.Logger {
	logger, ok := ctx.Value(ctxkey.KeyLogger).(*slog.Logger)
	if !ok || logger == nil {
		return slog.Default()
	}
	return logger
}

// # Identity & Access

// AuthHolder lets an outer middleware observe claims attached further down
// the chain, where a derived context is invisible to it.
type AuthHolder struct {
	mu     sync.Mutex
	claims *sec.AuthClaims
}

// Claims returns the captured claims, or nil for anonymous requests.
func (h *AuthHolder) Claims() *sec.AuthClaims {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.claims
}

func (h *AuthHolder) set(claims *sec.AuthClaims) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.claims = claims
}

// WithAuthHolder plants holder in the context.
func WithAuthHolder(ctx context.Context, holder *AuthHolder) context.Context {
	return context.WithValue(ctx, ctxkey.KeyAuthHolder, holder)
}

// WithAuthUser returns a new context with the provided auth claims attached.
// A planted [AuthHolder] is updated as well.
func WithAuthUser(ctx context.Context, user *sec.AuthClaims) context.Context {
	if holder, ok := ctx.Value(ctxkey.KeyAuthHolder).(*AuthHolder); ok && holder != nil {
		holder.set(user)
	}
	return context.WithValue(ctx, ctxkey.KeyUser, user)
}

// GetAuthUser retrieves the [*sec.AuthClaims] from the [context.Context].
func GetAuthUser(ctx context.Context) *sec.AuthClaims {
	claims, ok := ctx.Value(ctxkey.KeyUser).(*sec.AuthClaims)
	if !ok {
		return nil
	}
	return claims
}
