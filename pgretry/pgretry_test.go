package pgretry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finboard/proxy-common/retry"
)

func noSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, true},
		{"serialization failure", &pgconn.PgError{Code: "40001"}, true},
		{"admin shutdown wrapped", fmt.Errorf("query accounts: %w", &pgconn.PgError{Code: "57P01"}), true},
		{"connection failure", &pgconn.PgError{Code: "08006"}, true},
		{"unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"syntax error", &pgconn.PgError{Code: "42601"}, false},
		{"connection refused", &os.SyscallError{Syscall: "connect", Err: syscall.ECONNREFUSED}, true},
		{"plain error", errors.New("no rows"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestDatabaseConfig(t *testing.T) {
	cfg := DatabaseConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, time.Second, cfg.InitialDelay)
	assert.Empty(t, cfg.RetryableStatusCodes)
}

func TestQuery_RetriesTransientFailures(t *testing.T) {
	engine, err := New(retry.WithSleep(noSleep))
	require.NoError(t, err)

	calls := 0
	rows, err := Query(context.Background(), engine, func(ctx context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, &pgconn.PgError{Code: "40001", Message: "could not serialize access"}
		}
		return 7, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 7, rows)
	assert.Equal(t, 3, calls)
}

func TestQuery_ConstraintViolationIsFatal(t *testing.T) {
	engine, err := New(retry.WithSleep(noSleep))
	require.NoError(t, err)

	violation := &pgconn.PgError{Code: "23505", Message: "duplicate key"}
	calls := 0
	_, err = Query(context.Background(), engine, func(ctx context.Context) (struct{}, error) {
		calls++
		return struct{}{}, violation
	})

	assert.Same(t, violation, err)
	assert.Equal(t, 1, calls)
}

func TestNew_OptionsOverridePolicy(t *testing.T) {
	engine, err := New(retry.WithMaxAttempts(5))
	require.NoError(t, err)
	assert.Equal(t, 5, engine.Config().MaxAttempts)
	assert.Equal(t, time.Second, engine.Config().InitialDelay)
}

func TestWithPolicy_KeepsTransientCondition(t *testing.T) {
	policy := retry.Config{
		MaxAttempts:          4,
		InitialDelay:         time.Millisecond,
		RetryableStatusCodes: []int{},
		RetryCondition:       retry.MessageContains("too many clients"),
	}
	engine, err := New(WithPolicy(policy), retry.WithSleep(noSleep))
	require.NoError(t, err)
	assert.Equal(t, 4, engine.Config().MaxAttempts)

	calls := 0
	_, err = Query(context.Background(), engine, func(ctx context.Context) (int, error) {
		calls++
		switch calls {
		case 1:
			return 0, &pgconn.PgError{Code: "40P01"}
		case 2:
			return 0, errors.New("sorry, too many clients already")
		}
		return 1, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	_, err = Query(context.Background(), engine, func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("permission denied")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}
