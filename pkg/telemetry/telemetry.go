// Package telemetry exposes Prometheus metrics for gateway decisions and
// HTTP traffic.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the gateway's Prometheus collectors. A nil *Metrics is
// valid and records nothing, so components can treat telemetry as
// optional.
type Metrics struct {
	registry *prometheus.Registry

	authzDecisions  *prometheus.CounterVec
	toolInvocations *prometheus.CounterVec
	tokenExchanges  *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// NewMetrics creates a Metrics instance backed by its own registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		authzDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "toolgate_authz_decisions_total",
			Help: "Total authorization decisions by outcome.",
		}, []string{"outcome"}),
		toolInvocations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "toolgate_tool_invocations_total",
			Help: "Total tool invocation attempts by tool and outcome.",
		}, []string{"tool", "outcome"}),
		tokenExchanges: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "toolgate_token_exchanges_total",
			Help: "Total exchange code redemptions by outcome.",
		}, []string{"outcome"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "toolgate_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
	}
}

// Decision outcomes for RecordAuthzDecision and RecordToolInvocation.
const (
	OutcomeAllowed = "allowed"
	OutcomeDenied  = "denied"
	OutcomeError   = "error"
)

// RecordAuthzDecision counts an authorization decision.
func (m *Metrics) RecordAuthzDecision(outcome string) {
	if m == nil {
		return
	}
	m.authzDecisions.WithLabelValues(outcome).Inc()
}

// RecordToolInvocation counts a tool invocation attempt.
func (m *Metrics) RecordToolInvocation(tool, outcome string) {
	if m == nil {
		return
	}
	m.toolInvocations.WithLabelValues(tool, outcome).Inc()
}

// RecordTokenExchange counts an exchange code redemption.
func (m *Metrics) RecordTokenExchange(outcome string) {
	if m == nil {
		return
	}
	m.tokenExchanges.WithLabelValues(outcome).Inc()
}

// Handler returns the /metrics endpoint handler.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Instrument wraps a handler to record request latencies.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		m.requestDuration.
			WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(sw.code)).
			Observe(time.Since(start).Seconds())
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
