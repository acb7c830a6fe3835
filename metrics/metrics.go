// Package metrics provides Prometheus metrics for session and API operations.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the SDK.
type Metrics struct {
	enabled bool

	// Session lifecycle metrics
	loginsTotal    *prometheus.CounterVec
	refreshesTotal *prometheus.CounterVec
	logoutsTotal   prometheus.Counter

	// Route guard metrics
	guardDecisionsTotal *prometheus.CounterVec

	// Store metrics
	storeOpsTotal *prometheus.CounterVec

	// HTTP metrics
	requestDuration *prometheus.HistogramVec
}

// Option configures metric registration.
type Option func(*config)

type config struct {
	registerer prometheus.Registerer
}

// WithRegisterer sets a custom registry. Default: prometheus.DefaultRegisterer.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(c *config) { c.registerer = r }
}

// New creates and registers Prometheus metrics.
// If enabled is false, returns a no-op Metrics instance.
func New(enabled bool, opts ...Option) *Metrics {
	m := &Metrics{enabled: enabled}
	if !enabled {
		return m
	}

	cfg := &config{registerer: prometheus.DefaultRegisterer}
	for _, o := range opts {
		o(cfg)
	}
	factory := promauto.With(cfg.registerer)

	m.loginsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "chms_logins_total",
		Help: "Login attempts by result",
	}, []string{"result"})

	m.refreshesTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "chms_token_refreshes_total",
		Help: "Token refresh attempts by result and trigger reason",
	}, []string{"result", "reason"})

	m.logoutsTotal = factory.NewCounter(prometheus.CounterOpts{
		Name: "chms_logouts_total",
		Help: "Logout operations",
	})

	m.guardDecisionsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "chms_guard_decisions_total",
		Help: "Route guard decisions by action",
	}, []string{"action"})

	m.storeOpsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "chms_store_operations_total",
		Help: "Key-value store operations by op and result",
	}, []string{"op", "result"})

	m.requestDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chms_request_duration_seconds",
		Help:    "Backend request duration by method, path and status",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	return m
}

// RecordLogin records a login attempt. result: success, failure, offline.
func (m *Metrics) RecordLogin(result string) {
	if m == nil || !m.enabled {
		return
	}
	m.loginsTotal.WithLabelValues(result).Inc()
}

// RecordRefresh records a refresh attempt. reason: exchange, scheduled, bootstrap.
func (m *Metrics) RecordRefresh(result, reason string) {
	if m == nil || !m.enabled {
		return
	}
	m.refreshesTotal.WithLabelValues(result, reason).Inc()
}

// RecordLogout records a logout.
func (m *Metrics) RecordLogout() {
	if m == nil || !m.enabled {
		return
	}
	m.logoutsTotal.Inc()
}

// RecordGuardDecision records a route guard decision. action: render, redirect, loading.
func (m *Metrics) RecordGuardDecision(action string) {
	if m == nil || !m.enabled {
		return
	}
	m.guardDecisionsTotal.WithLabelValues(action).Inc()
}

// RecordStoreOp records a store operation. op: get, set_multi, delete.
func (m *Metrics) RecordStoreOp(op, result string) {
	if m == nil || !m.enabled {
		return
	}
	m.storeOpsTotal.WithLabelValues(op, result).Inc()
}

// ObserveRequest records the duration of one backend request.
func (m *Metrics) ObserveRequest(method, path string, status int, seconds float64) {
	if m == nil || !m.enabled {
		return
	}
	m.requestDuration.WithLabelValues(method, path, strconv.Itoa(status)).Observe(seconds)
}
