package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

const (
	jitterMin = 0.8
	jitterMax = 1.2
)

// SleepFunc waits for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

// Backoff returns the un-jittered delay that follows the failed attempt with
// the given 0-based index: min(InitialDelay * BackoffFactor^attempt, MaxDelay).
func Backoff(cfg Config, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := float64(cfg.InitialDelay) * math.Pow(cfg.BackoffFactor, float64(attempt))
	if math.IsInf(delay, 0) || math.IsNaN(delay) || delay > float64(cfg.MaxDelay) {
		return cfg.MaxDelay
	}
	return time.Duration(delay)
}

// Jitter scales d by a factor in [0.8, 1.2]; r is a uniform sample in [0, 1).
// The result saturates at the largest Duration.
func Jitter(d time.Duration, r float64) time.Duration {
	if d <= 0 {
		return 0
	}
	factor := jitterMin + (jitterMax-jitterMin)*r
	scaled := float64(d) * factor
	if scaled >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(scaled)
}

// CalculateBackoffWithJitter calculates the jittered delay before the attempt
// that follows the failed attempt with the given 0-based index.
func CalculateBackoffWithJitter(cfg Config, attempt int) time.Duration {
	return Jitter(Backoff(cfg, attempt), rand.Float64())
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
