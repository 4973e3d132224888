// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package metrics owns the Prometheus collectors of the IAM service.

Collectors live on a private registry so tests can build independent
instances. Every method is safe on a nil [*Registry], which disables
collection.

Series:

  - auth_login_total{outcome}
  - auth_refresh_total{outcome}
  - auth_authorization_denied_total{permission}
  - http_requests_total{method,route,status}
  - http_request_duration_seconds{method,route,status}
  - http_in_flight_requests
*/
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// unmatchedRoute labels requests that no route pattern matched, keeping the
// route label bounded.
const unmatchedRoute = "unmatched"

// Registry groups the collectors and their Prometheus registry.
type Registry struct {
	registry *prometheus.Registry

	logins   *prometheus.CounterVec
	refresh  *prometheus.CounterVec
	denied   *prometheus.CounterVec
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inFlight prometheus.Gauge
}

// New creates and registers every collector, plus the Go runtime and process
// collectors.
func New() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_login_total",
			Help: "Login attempts by outcome.",
		}, []string{"outcome"}),
		refresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_refresh_total",
			Help: "Refresh attempts by outcome.",
		}, []string{"outcome"}),
		denied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_authorization_denied_total",
			Help: "Requests rejected by a permission policy.",
		}, []string{"permission"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_in_flight_requests",
			Help: "In-flight HTTP requests.",
		}),
	}

	r.registry.MustRegister(
		r.logins, r.refresh, r.denied, r.requests, r.duration, r.inFlight,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Gatherer exposes the underlying registry.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// Handler serves the exposition format.
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// ObserveLogin counts a login outcome.
func (r *Registry) ObserveLogin(outcome string) {
	if r == nil {
		return
	}
	r.logins.WithLabelValues(outcome).Inc()
}

// ObserveRefresh counts a refresh outcome.
func (r *Registry) ObserveRefresh(outcome string) {
	if r == nil {
		return
	}
	r.refresh.WithLabelValues(outcome).Inc()
}

// ObserveDenied counts a rejected authorization for permission.
func (r *Registry) ObserveDenied(permission string) {
	if r == nil {
		return
	}
	r.denied.WithLabelValues(permission).Inc()
}

// Instrument records request count, latency and in-flight gauge. The route
// label is the chi route pattern, resolved after the router has matched.
func (r *Registry) Instrument(next http.Handler) http.Handler {
	if r == nil {
		return next
	}
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		r.inFlight.Inc()
		defer r.inFlight.Dec()

		start := time.Now()
		recorder := &statusWriter{ResponseWriter: writer, code: http.StatusOK}
		next.ServeHTTP(recorder, request)

		route := unmatchedRoute
		if routeContext := chi.RouteContext(request.Context()); routeContext != nil {
			if pattern := routeContext.RoutePattern(); pattern != "" {
				route = pattern
			}
		}

		status := strconv.Itoa(recorder.code)
		r.duration.WithLabelValues(request.Method, route, status).Observe(time.Since(start).Seconds())
		r.requests.WithLabelValues(request.Method, route, status).Inc()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
