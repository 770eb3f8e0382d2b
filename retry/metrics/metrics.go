package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/finboard/proxy-common/retry"
)

const (
	DefaultNamespace = "proxy"
	DefaultSubsystem = "retry"
)

// Ensure RetryMetrics implements retry.MetricsRecorder
var _ retry.MetricsRecorder = (*RetryMetrics)(nil)

// Config defines configuration for retry metrics
type Config struct {
	Namespace  string // e.g., "plaid_proxy"
	Subsystem  string // default: "retry"
	Registerer prometheus.Registerer
}

// RetryMetrics holds all retry-related Prometheus metrics
type RetryMetrics struct {
	namespace string
	subsystem string

	Attempts        *prometheus.CounterVec
	Sessions        *prometheus.CounterVec
	Backoff         *prometheus.HistogramVec
	SessionAttempts *prometheus.HistogramVec

	Requests *prometheus.CounterVec
	Retries  *prometheus.CounterVec
}

// New creates a new RetryMetrics instance with the given configuration
func New(cfg Config) *RetryMetrics {
	if cfg.Namespace == "" {
		cfg.Namespace = DefaultNamespace
	}
	if cfg.Subsystem == "" {
		cfg.Subsystem = DefaultSubsystem
	}
	if cfg.Registerer == nil {
		cfg.Registerer = prometheus.DefaultRegisterer
	}

	factory := promauto.With(cfg.Registerer)

	m := &RetryMetrics{
		namespace: cfg.Namespace,
		subsystem: cfg.Subsystem,
	}

	m.Attempts = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "attempts_total",
			Help:      "Operation invocations by outcome",
		},
		[]string{"operation", "outcome"}, // outcome: success|retryable|fatal|exhausted
	)

	m.Sessions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "sessions_total",
			Help:      "Completed retry sessions by outcome",
		},
		[]string{"operation", "outcome"},
	)

	m.Backoff = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "backoff_seconds",
			Help:      "Jittered delay waited before a retry",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 15},
		},
		[]string{"operation"},
	)

	m.SessionAttempts = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "session_attempts",
			Help:      "Number of invocations used by a retry session",
			Buckets:   []float64{1, 2, 3, 4, 5, 7, 10},
		},
		[]string{"operation"},
	)

	m.Requests = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "http_requests_total",
			Help:      "HTTP request attempts by upstream and status",
		},
		[]string{"upstream", "status"}, // status: success|error|rate_limited
	)

	m.Retries = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "http_retries_total",
			Help:      "HTTP request retries by upstream",
		},
		[]string{"upstream"},
	)

	return m
}

// RecordAttempt records one operation invocation
func (m *RetryMetrics) RecordAttempt(operation, outcome string) {
	m.Attempts.WithLabelValues(operation, outcome).Inc()
}

// RecordBackoff records the delay waited before a retry
func (m *RetryMetrics) RecordBackoff(operation string, delay time.Duration) {
	m.Backoff.WithLabelValues(operation).Observe(delay.Seconds())
}

// RecordSession records the end of a retry session
func (m *RetryMetrics) RecordSession(operation, outcome string, attempts int) {
	m.Sessions.WithLabelValues(operation, outcome).Inc()
	m.SessionAttempts.WithLabelValues(operation).Observe(float64(attempts))
}

// StatusHandler reports HTTP attempt statuses for one upstream. It satisfies
// httpclient.IHttpStatusHandler.
type StatusHandler struct {
	upstream string
	metrics  *RetryMetrics
}

// StatusHandler returns a handler that labels requests with upstream
func (m *RetryMetrics) StatusHandler(upstream string) *StatusHandler {
	return &StatusHandler{upstream: upstream, metrics: m}
}

func (h *StatusHandler) OnRequest(status string) {
	h.metrics.Requests.WithLabelValues(h.upstream, status).Inc()
}

func (h *StatusHandler) OnRetry() {
	h.metrics.Retries.WithLabelValues(h.upstream).Inc()
}
