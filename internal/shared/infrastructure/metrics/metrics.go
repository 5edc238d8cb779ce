// Package metrics holds the Prometheus collectors for sync, OAuth, outbox and HTTP traffic.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "blade"

// Outcome label values.
const (
	OutcomeSynced          = "synced"
	OutcomeConnectRequired = "connect_required"
	OutcomeReauthRequired  = "reauth_required"
	OutcomeFailed          = "failed"
	OutcomeSuccess         = "success"
	OutcomeRevoked         = "revoked"
	OutcomeError           = "error"
)

// Metrics owns a private registry so tests and multiple binaries never collide.
type Metrics struct {
	registry *prometheus.Registry

	SyncTotal         *prometheus.CounterVec
	SyncDuration      *prometheus.HistogramVec
	SyncedItems       *prometheus.CounterVec
	TokenRefreshTotal *prometheus.CounterVec
	BreakerState      *prometheus.GaugeVec
	OutboxPublished   prometheus.Counter
	OutboxFailed      prometheus.Counter
	OutboxDead        prometheus.Counter
	OutboxLag         prometheus.Gauge
	HTTPRequests      *prometheus.CounterVec
	HTTPDuration      *prometheus.HistogramVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		SyncTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calendar_sync_total",
			Help:      "Calendar sync requests by mode and outcome.",
		}, []string{"mode", "outcome"}),
		SyncDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "calendar_sync_duration_seconds",
			Help:      "Duration of connected calendar syncs.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"mode"}),
		SyncedItems: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calendar_synced_items_total",
			Help:      "Busy blocks written and events upserted, by kind.",
		}, []string{"kind"}),
		TokenRefreshTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oauth_token_refresh_total",
			Help:      "Access token refreshes by outcome.",
		}, []string{"outcome"}),
		BreakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "provider_breaker_state",
			Help:      "Circuit breaker state per provider call (0 closed, 1 half-open, 2 open).",
		}, []string{"name"}),
		OutboxPublished: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_published_total",
			Help:      "Outbox messages published.",
		}),
		OutboxFailed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_failed_total",
			Help:      "Outbox publish attempts that failed and will be retried.",
		}),
		OutboxDead: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_dead_total",
			Help:      "Outbox messages dead-lettered.",
		}),
		OutboxLag: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "outbox_lag_seconds",
			Help:      "Age of the oldest unpublished outbox message.",
		}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveSync records one sync outcome. Duration is recorded only for syncs that reached the provider.
func (m *Metrics) ObserveSync(mode, outcome string, started time.Time) {
	if m == nil {
		return
	}
	m.SyncTotal.WithLabelValues(mode, outcome).Inc()
	if outcome == OutcomeSynced || outcome == OutcomeFailed || outcome == OutcomeReauthRequired {
		m.SyncDuration.WithLabelValues(mode).Observe(time.Since(started).Seconds())
	}
}

// ObserveTokenRefresh records one token refresh outcome.
func (m *Metrics) ObserveTokenRefresh(outcome string) {
	if m == nil {
		return
	}
	m.TokenRefreshTotal.WithLabelValues(outcome).Inc()
}

// AddSyncedItems adds n items of the given kind.
func (m *Metrics) AddSyncedItems(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.SyncedItems.WithLabelValues(kind).Add(float64(n))
}

// SetBreakerState records a circuit breaker transition.
func (m *Metrics) SetBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(name).Set(float64(state))
}

// Middleware records request count and latency. The route label is the
// ServeMux pattern, so path parameters do not explode cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		m.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(sw.status)).Inc()
		m.HTTPDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
