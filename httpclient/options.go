package httpclient

import (
	"net/http"
	"time"

	"github.com/finboard/proxy-common/retry"
)

// HeaderIdempotencyKey is sent with every attempt of one logical request
const HeaderIdempotencyKey = "Idempotency-Key"

// RetryOptions configures retry behavior for HTTP requests
type RetryOptions struct {
	Retry             retry.Config
	LogPrefix         string        // also the operation name in retry logs and metrics
	ConnectionTimeout time.Duration // Timeout for establishing connection
	RequestTimeout    time.Duration // Total per-attempt timeout including reading response
}

// DefaultRetryOptions returns default retry options
func DefaultRetryOptions() RetryOptions {
	return RetryOptions{
		Retry:             retry.DefaultConfig(),
		LogPrefix:         "HTTP",
		ConnectionTimeout: 10 * time.Second, // Default 10s connection timeout
		RequestTimeout:    30 * time.Second, // Default 30s total request timeout
	}
}

// ClientOption is a functional option for configuring HTTPClientWithRetries
type ClientOption func(*HTTPClientWithRetries)

// WithLogger sets the logger used for retry logging
func WithLogger(logger retry.Logger) ClientOption {
	return func(c *HTTPClientWithRetries) {
		c.engineOpts = append(c.engineOpts, retry.WithLogger(logger))
	}
}

// WithMetrics sets the metrics recorder used for retry metrics
func WithMetrics(metrics retry.MetricsRecorder) ClientOption {
	return func(c *HTTPClientWithRetries) {
		c.engineOpts = append(c.engineOpts, retry.WithMetrics(metrics))
	}
}

// WithEngineOptions passes extra options to the underlying retry engine
func WithEngineOptions(opts ...retry.Option) ClientOption {
	return func(c *HTTPClientWithRetries) {
		c.engineOpts = append(c.engineOpts, opts...)
	}
}

// UpstreamGate holds attempts back while an upstream has asked callers to
// pause. *ratelimit.RateLimiterManager implements it.
type UpstreamGate interface {
	// Wait blocks until the request's upstream accepts traffic or the
	// request context is done
	Wait(req *http.Request) error
	// RetryAfter reports a Retry-After hint returned for req
	RetryAfter(req *http.Request, d time.Duration)
}

// WithUpstreamGate makes every attempt wait out Retry-After pauses
func WithUpstreamGate(gate UpstreamGate) ClientOption {
	return func(c *HTTPClientWithRetries) {
		c.gate = gate
	}
}
