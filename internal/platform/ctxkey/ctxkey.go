// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

// Package ctxkey defines typed context keys used by middleware and handlers.
//
// # Safety
//
// Keys use an unexported type, so a string key with the same text set by
// another package never collides with them.
package ctxkey

type key string

const (
	// KeyRequestID is the context key for the X-Request-ID correlation value.
	KeyRequestID key = "request_id"

	// KeyUser is the context key for the verified access token claims.
	KeyUser key = "user"

	// KeyAuthHolder is the context key for the claims holder planted by the
	// request logger.
	KeyAuthHolder key = "auth_holder"

	// KeyLogger is the context key for the per-request [*log/slog.Logger].
	KeyLogger key = "logger"
)
