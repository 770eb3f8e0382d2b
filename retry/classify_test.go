package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func errConnRefused() error {
	return &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}
}

type networkErr struct{}

func (networkErr) Error() string        { return "socket hang up" }
func (networkErr) NetworkFailure() bool { return true }

func TestClassify(t *testing.T) {
	cfg := DefaultConfig()
	withCond := DefaultConfig()
	withCond.RetryCondition = MessageContains("RATE_LIMIT")

	tests := []struct {
		name     string
		cfg      Config
		err      error
		expected Class
	}{
		{"nil error", cfg, nil, Fatal},
		{"503 is retryable", cfg, &statusError{code: 503}, Retryable},
		{"408 is retryable", cfg, &statusError{code: 408}, Retryable},
		{"429 is retryable", cfg, &statusError{code: 429}, Retryable},
		{"wrapped 502 is retryable", cfg, fmt.Errorf("plaid: %w", &statusError{code: 502}), Retryable},
		{"400 is fatal", cfg, &statusError{code: 400}, Fatal},
		{"401 is fatal", cfg, &statusError{code: 401}, Fatal},
		{"plain error is fatal", cfg, errors.New("validation failed"), Fatal},
		{"connection refused", cfg, errConnRefused(), Retryable},
		{"url error", cfg, &url.Error{Op: "Get", URL: "http://x", Err: errConnRefused()}, Retryable},
		{"unexpected eof", cfg, fmt.Errorf("read body: %w", io.ErrUnexpectedEOF), Retryable},
		{"network failure marker", cfg, networkErr{}, Retryable},
		{"context canceled", cfg, context.Canceled, Fatal},
		{"condition match", withCond, errors.New("RATE_LIMIT hit"), Retryable},
		{"condition miss", withCond, &statusError{code: 418, msg: "teapot"}, Fatal},
		{"non retryable marker wins", cfg, NonRetryable(&statusError{code: 503}), Fatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.cfg.Classify(tt.err))
		})
	}
}

func TestClassify_CustomStatusSet(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RetryableStatusCodes = []int{409}

	assert.Equal(t, Retryable, cfg.Classify(&statusError{code: 409}))
	assert.Equal(t, Fatal, cfg.Classify(&statusError{code: 503}))
}

func TestMessageContains(t *testing.T) {
	cond := MessageContains("RATE_LIMIT", "", "ITEM_LOCKED")

	assert.True(t, cond(errors.New("plaid: RATE_LIMIT")))
	assert.True(t, cond(errors.New("ITEM_LOCKED by institution")))
	assert.False(t, cond(errors.New("INVALID_REQUEST")))
	assert.False(t, cond(nil))
}

func TestClassString(t *testing.T) {
	assert.Equal(t, "retryable", Retryable.String())
	assert.Equal(t, "fatal", Fatal.String())
	assert.Equal(t, "unknown", Class(7).String())
}
