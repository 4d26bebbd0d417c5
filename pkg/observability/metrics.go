package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Authentication metrics
	AuthAttemptsTotal       *prometheus.CounterVec
	SessionValidationsTotal *prometheus.CounterVec
	SessionValidationTime   prometheus.Histogram
	AccountLockoutsTotal    prometheus.Counter

	// Authorization metrics
	PermissionChecksTotal *prometheus.CounterVec
	GrantChangesTotal     *prometheus.CounterVec
	AccessCacheTotal      *prometheus.CounterVec

	// Guard metrics
	RateLimitRejectionsTotal *prometheus.CounterVec
	SuspiciousIPs            prometheus.Gauge
	GuardBackendErrorsTotal  *prometheus.CounterVec

	// Audit metrics
	AuditEventsTotal     *prometheus.CounterVec
	AuditWriteDuration   prometheus.Histogram
	AuditQueueDepth      prometheus.Gauge
	AuditQueueOverflowed prometheus.Counter

	// Store metrics
	StoreOperationDuration *prometheus.HistogramVec
	StoreErrorsTotal       *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wasteintel_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wasteintel_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		AuthAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wasteintel_auth_attempts_total",
				Help: "Sign-in attempts by method and outcome",
			},
			[]string{"method", "outcome"},
		),
		SessionValidationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wasteintel_session_validations_total",
				Help: "Bearer token validations by outcome",
			},
			[]string{"outcome"},
		),
		SessionValidationTime: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "wasteintel_session_validation_duration_seconds",
				Help:    "Bearer token validation latency",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 5},
			},
		),
		AccountLockoutsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "wasteintel_account_lockouts_total",
				Help: "Accounts locked after repeated failed sign-ins",
			},
		),

		PermissionChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wasteintel_permission_checks_total",
				Help: "Permission checks by permission and result",
			},
			[]string{"permission", "result"},
		),
		GrantChangesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wasteintel_grant_changes_total",
				Help: "Company access grant changes by kind",
			},
			[]string{"kind"},
		),
		AccessCacheTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wasteintel_access_cache_total",
				Help: "Grant cache lookups by result",
			},
			[]string{"result"},
		),

		RateLimitRejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wasteintel_rate_limit_rejections_total",
				Help: "Requests rejected by the rate/anomaly guard",
			},
			[]string{"limiter", "reason"},
		),
		SuspiciousIPs: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "wasteintel_suspicious_ips",
				Help: "Source IPs currently flagged as suspicious",
			},
		),
		GuardBackendErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wasteintel_guard_backend_errors_total",
				Help: "Shared counter store errors that fell back to memory",
			},
			[]string{"backend"},
		),

		AuditEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wasteintel_audit_events_total",
				Help: "Audit events by action and write outcome",
			},
			[]string{"action", "outcome"},
		),
		AuditWriteDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "wasteintel_audit_write_duration_seconds",
				Help:    "Audit sink write latency",
				Buckets: prometheus.DefBuckets,
			},
		),
		AuditQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "wasteintel_audit_queue_depth",
				Help: "Audit events waiting to be written",
			},
		),
		AuditQueueOverflowed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "wasteintel_audit_queue_overflow_total",
				Help: "Audit events written synchronously because the queue was full",
			},
		),

		StoreOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wasteintel_store_operation_duration_seconds",
				Help:    "Credential store operation latency",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 5},
			},
			[]string{"operation"},
		),
		StoreErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wasteintel_store_errors_total",
				Help: "Credential store errors by operation",
			},
			[]string{"operation"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AuthAttemptsTotal,
		m.SessionValidationsTotal,
		m.SessionValidationTime,
		m.AccountLockoutsTotal,
		m.PermissionChecksTotal,
		m.GrantChangesTotal,
		m.AccessCacheTotal,
		m.RateLimitRejectionsTotal,
		m.SuspiciousIPs,
		m.GuardBackendErrorsTotal,
		m.AuditEventsTotal,
		m.AuditWriteDuration,
		m.AuditQueueDepth,
		m.AuditQueueOverflowed,
		m.StoreOperationDuration,
		m.StoreErrorsTotal,
	)

	return m
}

// NewTestMetrics returns metrics on a throwaway registry
func NewTestMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

// ObserveStore records a store operation's latency and error
func (m *Metrics) ObserveStore(operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.StoreOperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if err != nil {
		m.StoreErrorsTotal.WithLabelValues(operation).Inc()
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// Routes are labelled with the mux path template to keep cardinality bounded.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := routeTemplate(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

// MetricsHandler serves the registry in Prometheus text format
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
