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
	PermissionChecksTotal  *prometheus.CounterVec
	PermissionDenialsTotal *prometheus.CounterVec

	// Propagation metrics
	PropagationPassesTotal  prometheus.Counter
	PropagationWalkDepth    prometheus.Histogram
	PropagationRepointedRows prometheus.Histogram

	// Closure cache metrics
	ClosureCacheHitsTotal   prometheus.Counter
	ClosureCacheMissesTotal prometheus.Counter

	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agora_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agora_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		PermissionChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agora_permission_checks_total",
				Help: "Total role satisfaction checks by required role and outcome",
			},
			[]string{"role", "allowed"},
		),
		PermissionDenialsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agora_permission_denials_total",
				Help: "Total permission denials by operation",
			},
			[]string{"operation"},
		),
		PropagationPassesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "agora_propagation_passes_total",
				Help: "Total access-network propagation passes",
			},
		),
		PropagationWalkDepth: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "agora_propagation_walk_depth",
				Help:    "Publisher-chain hops walked per propagation pass",
				Buckets: prometheus.LinearBuckets(0, 1, 10),
			},
		),
		PropagationRepointedRows: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "agora_propagation_repointed_rows",
				Help:    "Dependent rows repointed per propagation pass",
				Buckets: prometheus.ExponentialBuckets(1, 4, 8),
			},
		),
		ClosureCacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "agora_closure_cache_hits_total",
				Help: "Network closure cache hits",
			},
		),
		ClosureCacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "agora_closure_cache_misses_total",
				Help: "Network closure cache misses",
			},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.PermissionChecksTotal,
		m.PermissionDenialsTotal,
		m.PropagationPassesTotal,
		m.PropagationWalkDepth,
		m.PropagationRepointedRows,
		m.ClosureCacheHitsTotal,
		m.ClosureCacheMissesTotal,
	)

	return m
}

// ObservePermissionCheck records one role satisfaction check.
func (m *Metrics) ObservePermissionCheck(role string, allowed bool) {
	m.PermissionChecksTotal.WithLabelValues(role, strconv.FormatBool(allowed)).Inc()
}

// ObserveDenial records a permission denial for an operation.
func (m *Metrics) ObserveDenial(operation string) {
	m.PermissionDenialsTotal.WithLabelValues(operation).Inc()
}

// ObservePropagation records one propagation pass.
func (m *Metrics) ObservePropagation(walkDepth int, repointed int64) {
	m.PropagationPassesTotal.Inc()
	m.PropagationWalkDepth.Observe(float64(walkDepth))
	m.PropagationRepointedRows.Observe(float64(repointed))
}

// Handler returns the HTTP handler serving the metrics registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps an HTTP handler with request counting and timing.
func (m *Metrics) InstrumentHandler(path string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(sw.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// statusWriter captures the response status code
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
