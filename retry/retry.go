// Package retry re-invokes failing operations with bounded exponential backoff
// and jitter. Errors are classified by status code, network failure and an
// optional custom condition; anything else is returned on first occurrence.
//
// Operations must be safe to invoke more than once. The engine never wraps the
// operation's error: a caller sees exactly what the last attempt returned.
package retry

import (
	"context"
	"math/rand"
	"time"

	"github.com/google/uuid"
)

// Engine runs operations under one retry policy. An Engine is immutable after
// New and may be shared by concurrent callers; every Run owns its own state.
type Engine struct {
	cfg     Config
	name    string
	logger  Logger
	metrics MetricsRecorder
	onRetry func(attempt int, err error, delay time.Duration)
	sleep   SleepFunc
	random  func() float64
}

// Option is a functional option for configuring an Engine
type Option func(*Engine)

// WithConfig replaces the policy; zero-valued fields fall back to DefaultConfig
func WithConfig(cfg Config) Option {
	return func(e *Engine) {
		cfg.ApplyDefaults()
		e.cfg = cfg
	}
}

// WithMaxAttempts sets the number of attempts including the first try
func WithMaxAttempts(n int) Option {
	return func(e *Engine) {
		e.cfg.MaxAttempts = n
	}
}

// WithInitialDelay sets the delay after the first failed attempt
func WithInitialDelay(d time.Duration) Option {
	return func(e *Engine) {
		e.cfg.InitialDelay = d
	}
}

// WithMaxDelay caps the un-jittered backoff
func WithMaxDelay(d time.Duration) Option {
	return func(e *Engine) {
		e.cfg.MaxDelay = d
	}
}

// WithBackoffFactor sets the per-attempt delay multiplier
func WithBackoffFactor(f float64) Option {
	return func(e *Engine) {
		e.cfg.BackoffFactor = f
	}
}

// WithRetryableStatusCodes replaces the set of transient status codes
func WithRetryableStatusCodes(codes ...int) Option {
	return func(e *Engine) {
		e.cfg.RetryableStatusCodes = append([]int(nil), codes...)
	}
}

// WithRetryCondition sets a predicate that marks additional errors retryable
func WithRetryCondition(cond func(error) bool) Option {
	return func(e *Engine) {
		e.cfg.RetryCondition = cond
	}
}

// WithName sets the operation name used in logs and metrics
func WithName(name string) Option {
	return func(e *Engine) {
		e.name = name
	}
}

// WithLogger sets the logger for the engine
func WithLogger(logger Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder for the engine
func WithMetrics(metrics MetricsRecorder) Option {
	return func(e *Engine) {
		if metrics != nil {
			e.metrics = metrics
		}
	}
}

// WithOnRetry registers a callback invoked before every backoff wait.
// attempt is the 1-based number of the attempt that just failed.
func WithOnRetry(fn func(attempt int, err error, delay time.Duration)) Option {
	return func(e *Engine) {
		e.onRetry = fn
	}
}

// WithSleep replaces the backoff wait
func WithSleep(sleep SleepFunc) Option {
	return func(e *Engine) {
		if sleep != nil {
			e.sleep = sleep
		}
	}
}

// WithRandom replaces the jitter source; fn must return values in [0, 1)
func WithRandom(fn func() float64) Option {
	return func(e *Engine) {
		if fn != nil {
			e.random = fn
		}
	}
}

// New creates an Engine from DefaultConfig with opts applied on top
func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		cfg:     DefaultConfig(),
		name:    "operation",
		logger:  NoopLogger{},
		metrics: NoopMetrics{},
		sleep:   sleepContext,
		random:  rand.Float64,
	}

	for _, opt := range opts {
		opt(e)
	}

	if err := e.cfg.Validate(); err != nil {
		return nil, err
	}

	return e, nil
}

// Config returns the engine's policy
func (e *Engine) Config() Config {
	return e.cfg
}

// attemptState is private to a single Run
type attemptState struct {
	index   int
	lastErr error
	session string
}

// Run invokes op until it succeeds, fails with a non-retryable error, or the
// attempts are exhausted. ctx only bounds the backoff waits: when it is done
// the session ends with the last operation error.
func (e *Engine) Run(ctx context.Context, op func() error) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var state attemptState
	for ; state.index < e.cfg.MaxAttempts; state.index++ {
		err := op()
		if err == nil {
			e.metrics.RecordAttempt(e.name, OutcomeSuccess)
			e.metrics.RecordSession(e.name, OutcomeSuccess, state.index+1)
			return nil
		}
		state.lastErr = err

		if e.cfg.Classify(err) == Fatal {
			e.metrics.RecordAttempt(e.name, OutcomeFatal)
			e.metrics.RecordSession(e.name, OutcomeFatal, state.index+1)
			e.logger.Debug("Operation failed with non-retryable error",
				"operation", e.name,
				"attempt", state.index+1,
				"error", err)
			return err
		}

		if state.index == e.cfg.MaxAttempts-1 {
			break
		}

		if state.session == "" {
			state.session = uuid.NewString()
		}

		delay := Jitter(Backoff(e.cfg, state.index), e.random())
		e.metrics.RecordAttempt(e.name, OutcomeRetryable)
		e.metrics.RecordBackoff(e.name, delay)
		e.logger.Info("Retrying operation",
			"operation", e.name,
			"session", state.session,
			"attempt", state.index+2,
			"max_attempts", e.cfg.MaxAttempts,
			"delay", delay,
			"error", err)

		if e.onRetry != nil {
			e.onRetry(state.index+1, err, delay)
		}

		if err := e.sleep(ctx, delay); err != nil {
			e.metrics.RecordSession(e.name, OutcomeCancelled, state.index+1)
			e.logger.Warn("Retry abandoned during backoff",
				"operation", e.name,
				"session", state.session,
				"reason", err)
			return state.lastErr
		}
	}

	e.metrics.RecordAttempt(e.name, OutcomeExhausted)
	e.metrics.RecordSession(e.name, OutcomeExhausted, e.cfg.MaxAttempts)
	e.logger.Warn("All retry attempts failed",
		"operation", e.name,
		"session", state.session,
		"attempts", e.cfg.MaxAttempts,
		"error", state.lastErr)

	return state.lastErr
}

// Do runs op through e and returns its result. On failure the zero value and
// the operation's last error are returned.
func Do[T any](ctx context.Context, e *Engine, op func() (T, error)) (T, error) {
	var result T
	err := e.Run(ctx, func() error {
		var opErr error
		result, opErr = op()
		return opErr
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

// Retry builds a one-off Engine from opts and runs op through it
func Retry[T any](ctx context.Context, op func() (T, error), opts ...Option) (T, error) {
	e, err := New(opts...)
	if err != nil {
		var zero T
		return zero, err
	}
	return Do(ctx, e, op)
}
