// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package api wires together the HTTP router, middleware chain, and the
identity handlers into a runnable [http.Server].

Architecture:

  - This package is the topmost Presentation layer boundary.
  - It acts as the composition root for the HTTP transport (chi router).
  - Only this package and cmd/api import net/http server primitives.
*/
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/taibuivan/yomira-iam/internal/auth"
	"github.com/taibuivan/yomira-iam/internal/platform/constants"
	"github.com/taibuivan/yomira-iam/internal/platform/metrics"
	"github.com/taibuivan/yomira-iam/internal/platform/middleware"
)

// # Server Definitions

// Server wraps the chi router and the [http.Server].
//
// It is constructed once in main.go with all dependencies injected.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	log        *slog.Logger
}

// # Handler Registry

// Handlers groups the HTTP handler sets mounted by the server.
type Handlers struct {
	// Liveness is the /health handler. Always 200 while the process runs.
	Liveness http.HandlerFunc

	// Readiness is the /ready handler. 200 when every dependency answers.
	Readiness http.HandlerFunc

	// Auth serves everything under /api/auth.
	Auth *auth.Handler
}

// Security carries the request-level guards shared by every route.
type Security struct {
	// Verifier checks bearer access tokens.
	Verifier middleware.TokenVerifier

	// Stamps enables per-request security stamp checks. Nil keeps access
	// token validation stateless.
	Stamps middleware.StampChecker

	// Limiter throttles the auth endpoints per client IP. Optional.
	Limiter *middleware.RateLimiter

	// Metrics instruments requests and serves /metrics. Optional.
	Metrics *metrics.Registry

	// TrustProxyHeaders takes the client address from X-Forwarded-For,
	// X-Real-IP or True-Client-IP. Enable only behind a proxy that sets them.
	TrustProxyHeaders bool
}

// # Server Initialization

// NewServer constructs the chi router with the full middleware chain and
// registers all route groups.
func NewServer(port string, log *slog.Logger, security Security, h Handlers) *Server {
	r := chi.NewRouter()

	// # Middleware Chain
	// Global middleware applied in order of execution.
	r.Use(middleware.RequestID())
	if security.TrustProxyHeaders {
		r.Use(chimw.RealIP)
	}
	r.Use(middleware.StructuredLogger(log))
	r.Use(security.Metrics.Instrument)
	r.Use(chimw.Timeout(constants.GlobalRequestTimeout))
	r.Use(middleware.PanicRecovery)
	r.Use(chimw.CleanPath)
	r.Use(middleware.Authenticate(security.Verifier, security.Stamps))

	// # Infrastructure Endpoints
	// Unauthenticated probes for container orchestration.
	r.Get("/health", h.Liveness)
	r.Get("/ready", h.Readiness)
	if security.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", security.Metrics.Handler())
	}

	// # Application API
	r.Group(func(api chi.Router) {
		if security.Limiter != nil {
			api.Use(security.Limiter.Middleware)
		}
		api.Mount(constants.AuthRoutePrefix, h.Auth.Routes())
	})

	return &Server{
		router: r,
		log:    log,
		httpServer: &http.Server{
			Addr:              ":" + port,
			Handler:           r,
			ReadTimeout:       constants.DefaultReadTimeout,
			WriteTimeout:      constants.DefaultWriteTimeout,
			IdleTimeout:       constants.DefaultIdleTimeout,
			ReadHeaderTimeout: constants.DefaultReadHeaderTimeout,
		},
	}
}

// Handler exposes the configured router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// # Server Lifecycle

// ListenAndServe starts the HTTP server.
//
// It blocks until the server is closed or an error occurs.
func (s *Server) ListenAndServe() error {
	s.log.Info("server starting", slog.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server, waiting for in-flight requests.
func (s *Server) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}
