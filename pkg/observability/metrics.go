package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Authorization metrics
	AuthzResolutionsTotal   prometheus.Counter
	AuthzResolutionDuration prometheus.Histogram
	AuthzDecisionsTotal     *prometheus.CounterVec

	// Audit metrics
	AuditWritesTotal       *prometheus.CounterVec
	AuditWriteDuration     prometheus.Histogram
	AuditMutationsRejected prometheus.Counter
	AuditBridgeDropsTotal  prometheus.Counter

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "castellan_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "castellan_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		AuthzResolutionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "castellan_authz_resolutions_total",
				Help: "Total number of authorization context resolutions",
			},
		),
		AuthzResolutionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "castellan_authz_resolution_duration_seconds",
				Help:    "Authorization context resolution duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
			},
		),
		AuthzDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "castellan_authz_decisions_total",
				Help: "Total number of guard decisions by outcome",
			},
			[]string{"guard", "allowed"},
		),
		AuditWritesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "castellan_audit_writes_total",
				Help: "Total number of audit record writes by outcome",
			},
			[]string{"status"},
		),
		AuditWriteDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "castellan_audit_write_duration_seconds",
				Help:    "Audit record write duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		AuditMutationsRejected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "castellan_audit_mutations_rejected_total",
				Help: "Total number of rejected update/delete attempts against audit records",
			},
		),
		AuditBridgeDropsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "castellan_audit_bridge_drops_total",
				Help: "Total number of audit entries dropped by the error bridge after a write failure",
			},
		),
		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "castellan_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "castellan_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AuthzResolutionsTotal,
		m.AuthzResolutionDuration,
		m.AuthzDecisionsTotal,
		m.AuditWritesTotal,
		m.AuditWriteDuration,
		m.AuditMutationsRejected,
		m.AuditBridgeDropsTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// Handler returns the Prometheus metrics HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveHTTPRequest records metrics for a completed HTTP request
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// ObserveDecision records a guard decision outcome
func (m *Metrics) ObserveDecision(guard string, allowed bool) {
	m.AuthzDecisionsTotal.WithLabelValues(guard, strconv.FormatBool(allowed)).Inc()
}
