// Package pgretry classifies transient PostgreSQL failures for the retry engine.
package pgretry

import (
	"context"
	"errors"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/finboard/proxy-common/retry"
)

// SQLSTATE codes worth another attempt
var transientCodes = map[string]struct{}{
	"08000": {}, // connection_exception
	"08001": {}, // sqlclient_unable_to_establish_sqlconnection
	"08003": {}, // connection_does_not_exist
	"08004": {}, // sqlserver_rejected_establishment_of_sqlconnection
	"08006": {}, // connection_failure
	"57P01": {}, // admin_shutdown
	"57P02": {}, // crash_shutdown
	"57P03": {}, // cannot_connect_now
	"40001": {}, // serialization_failure
	"40P01": {}, // deadlock_detected
}

// IsTransient reports whether err is a PostgreSQL failure that may succeed
// on a later attempt.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		_, ok := transientCodes[pgErr.Code]
		return ok
	}

	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return true
	}

	return errors.Is(err, syscall.ECONNREFUSED)
}

// Condition installs IsTransient as the engine's retry condition
func Condition() retry.Option {
	return retry.WithRetryCondition(IsTransient)
}

// WithPolicy replaces the database policy with policy, typically
// config.Policy(config.PolicyDatabase). IsTransient stays in effect next to
// any condition the policy carries.
func WithPolicy(policy retry.Config) retry.Option {
	custom := policy.RetryCondition
	policy.RetryCondition = func(err error) bool {
		return IsTransient(err) || (custom != nil && custom(err))
	}
	return retry.WithConfig(policy)
}

// DatabaseConfig is the policy used for queries
func DatabaseConfig() retry.Config {
	return retry.Config{
		MaxAttempts:   3,
		InitialDelay:  time.Second,
		MaxDelay:      10 * time.Second,
		BackoffFactor: 2,
		// database errors carry no transport status
		RetryableStatusCodes: []int{},
	}
}

// New builds an engine for database calls; opts are applied after the
// database policy.
func New(opts ...retry.Option) (*retry.Engine, error) {
	base := []retry.Option{
		retry.WithConfig(DatabaseConfig()),
		retry.WithName("db.query"),
		Condition(),
	}
	return retry.New(append(base, opts...)...)
}

// Query runs fn through e and returns its result
func Query[T any](ctx context.Context, e *retry.Engine, fn func(ctx context.Context) (T, error)) (T, error) {
	return retry.Do(ctx, e, func() (T, error) {
		return fn(ctx)
	})
}
