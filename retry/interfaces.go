package retry

import "time"

//go:generate mockgen -package=mock -source=interfaces.go -destination=mock/retry.go

// Logger defines the interface for logging operations
// This allows users to plug in their own logger (logrus, zerolog, etc.)
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// MetricsRecorder defines the interface for recording retry metrics
// Users can implement this to integrate with their metrics system (Prometheus, etc.)
type MetricsRecorder interface {
	// RecordAttempt is called once per operation invocation.
	// outcome: success|retryable|fatal|exhausted
	RecordAttempt(operation, outcome string)
	RecordBackoff(operation string, delay time.Duration)
	// RecordSession is called once when a session ends
	RecordSession(operation, outcome string, attempts int)
}

// Attempt and session outcomes reported to MetricsRecorder
const (
	OutcomeSuccess   = "success"
	OutcomeRetryable = "retryable"
	OutcomeFatal     = "fatal"
	OutcomeExhausted = "exhausted"
	OutcomeCancelled = "cancelled"
)

// NoopLogger is a no-operation logger that discards all log messages
type NoopLogger struct{}

func (NoopLogger) Debug(msg string, keysAndValues ...interface{}) {}
func (NoopLogger) Info(msg string, keysAndValues ...interface{})  {}
func (NoopLogger) Warn(msg string, keysAndValues ...interface{})  {}
func (NoopLogger) Error(msg string, keysAndValues ...interface{}) {}

// NoopMetrics is a no-operation metrics recorder that discards all metrics
type NoopMetrics struct{}

func (NoopMetrics) RecordAttempt(operation, outcome string)               {}
func (NoopMetrics) RecordBackoff(operation string, delay time.Duration)   {}
func (NoopMetrics) RecordSession(operation, outcome string, attempts int) {}
