package httpclient

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/finboard/proxy-common/apperrors"
)

// MockHttpStatusHandler implements IHttpStatusHandler for testing
type MockHttpStatusHandler struct {
	mu              sync.Mutex
	requestStatuses []string
	retryCount      int
}

func NewMockHttpStatusHandler() *MockHttpStatusHandler {
	return &MockHttpStatusHandler{
		requestStatuses: make([]string, 0),
	}
}

func (m *MockHttpStatusHandler) OnRequest(status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestStatuses = append(m.requestStatuses, status)
}

func (m *MockHttpStatusHandler) OnRetry() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retryCount++
}

// Statuses returns the recorded request statuses
func (m *MockHttpStatusHandler) Statuses() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.requestStatuses...)
}

// GetRetryCount returns the number of retries recorded
func (m *MockHttpStatusHandler) GetRetryCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.retryCount
}

// testOptions returns options with minimal backoff for tests
func testOptions() RetryOptions {
	opts := DefaultRetryOptions()
	opts.Retry.InitialDelay = 10 * time.Millisecond
	opts.Retry.MaxDelay = 50 * time.Millisecond
	return opts
}

// mockTransport is a mock http.RoundTripper for testing custom behavior
type mockTransport struct {
	roundTripFunc func(req *http.Request) (*http.Response, error)
}

func (m *mockTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return m.roundTripFunc(req)
}

func okResponse(req *http.Request) *http.Response {
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(bytes.NewBufferString(`{"status":"ok"}`)),
		Header:     make(http.Header),
		Request:    req,
	}
}

func TestNewHTTPClientWithRetries_InvalidRetryConfig(t *testing.T) {
	opts := DefaultRetryOptions()
	opts.Retry.BackoffFactor = 0.5

	client, err := NewHTTPClientWithRetries(opts, nil, nil)

	assert.Error(t, err)
	assert.Nil(t, client)
}

// TestHTTPClientWithRetries_Timeouts tests that the Client correctly applies timeouts
func TestHTTPClientWithRetries_Timeouts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("delay") == "response" {
			time.Sleep(500 * time.Millisecond)
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	t.Run("RequestTimeout", func(t *testing.T) {
		opts := testOptions()
		opts.RequestTimeout = 100 * time.Millisecond
		opts.Retry.MaxAttempts = 3

		mockHandler := NewMockHttpStatusHandler()
		client, err := NewHTTPClientWithRetries(opts, mockHandler, nil)
		require.NoError(t, err)

		req, _ := http.NewRequest("GET", server.URL+"?delay=response", nil)
		_, _, _, err = client.ExecuteRequest(req)

		require.Error(t, err)
		assert.True(t, apperrors.IsNetworkError(err), "timeouts surface as network errors")
		assert.Equal(t, []string{StatusError, StatusError, StatusError}, mockHandler.Statuses())
		assert.Equal(t, 2, mockHandler.GetRetryCount())
	})

	t.Run("NoTimeout", func(t *testing.T) {
		opts := testOptions()
		opts.RequestTimeout = 2 * time.Second

		mockHandler := NewMockHttpStatusHandler()
		client, err := NewHTTPClientWithRetries(opts, mockHandler, nil)
		require.NoError(t, err)

		req, _ := http.NewRequest("GET", server.URL, nil)
		_, _, _, err = client.ExecuteRequest(req)

		assert.NoError(t, err)
		assert.Equal(t, []string{StatusSuccess}, mockHandler.Statuses())
		assert.Equal(t, 0, mockHandler.GetRetryCount())
	})
}

// TestHTTPClientWithRetries_Retries tests the retry behavior
func TestHTTPClientWithRetries_Retries(t *testing.T) {
	var attempts int32
	var idempotencyKeys sync.Map

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&attempts, 1)
		idempotencyKeys.Store(r.Header.Get(HeaderIdempotencyKey), true)

		// Fail the first two attempts
		if n <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":"service unavailable"}`))
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	opts := testOptions()
	opts.Retry.MaxAttempts = 3

	mockHandler := NewMockHttpStatusHandler()
	client, err := NewHTTPClientWithRetries(opts, mockHandler, nil)
	require.NoError(t, err)

	req, _ := http.NewRequest("GET", server.URL, nil)
	resp, body, duration, err := client.ExecuteRequest(req)

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `{"status":"ok"}`, string(body))
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
	assert.Greater(t, duration, time.Duration(0))

	assert.Equal(t, []string{StatusRateLimited, StatusRateLimited, StatusSuccess}, mockHandler.Statuses())
	assert.Equal(t, 2, mockHandler.GetRetryCount())

	keys := 0
	idempotencyKeys.Range(func(k, _ interface{}) bool {
		assert.NotEmpty(t, k)
		keys++
		return true
	})
	assert.Equal(t, 1, keys, "all attempts share one idempotency key")

	// body stays readable for callers
	replayed, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, body, replayed)
}

// TestHTTPClientWithRetries_ExhaustedReturnsLastError tests attempt exhaustion
func TestHTTPClientWithRetries_ExhaustedReturnsLastError(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error_code":"RATE_LIMIT_EXCEEDED"}`))
	}))
	defer server.Close()

	opts := testOptions()
	opts.Retry.MaxAttempts = 4

	client, err := NewHTTPClientWithRetries(opts, nil, nil)
	require.NoError(t, err)

	req, _ := http.NewRequest("GET", server.URL, nil)
	_, _, _, err = client.ExecuteRequest(req)

	require.Error(t, err)
	assert.Equal(t, int32(4), atomic.LoadInt32(&attempts))

	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, http.StatusTooManyRequests, appErr.StatusCode())
	assert.Equal(t, "30", appErr.Details["retry_after"])
}

// TestHTTPClientWithRetries_NonRetryableError tests that non-retryable errors fail immediately
func TestHTTPClientWithRetries_NonRetryableError(t *testing.T) {
	var attempts int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad request"}`))
	}))
	defer server.Close()

	opts := testOptions()
	opts.Retry.MaxAttempts = 3

	mockHandler := NewMockHttpStatusHandler()
	client, err := NewHTTPClientWithRetries(opts, mockHandler, nil)
	require.NoError(t, err)

	req, _ := http.NewRequest("GET", server.URL, nil)
	_, _, _, err = client.ExecuteRequest(req)

	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, apperrors.Status(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
	assert.Equal(t, []string{StatusError}, mockHandler.Statuses())
	assert.Equal(t, 0, mockHandler.GetRetryCount())
}

// TestHTTPClientWithRetries_NetworkErrors tests handling of network errors
func TestHTTPClientWithRetries_NetworkErrors(t *testing.T) {
	opts := testOptions()
	opts.Retry.MaxAttempts = 2

	mockHandler := NewMockHttpStatusHandler()
	client, err := NewHTTPClientWithRetries(opts, mockHandler, nil)
	require.NoError(t, err)

	errorReturned := false
	client.Client.Transport = &mockTransport{
		roundTripFunc: func(req *http.Request) (*http.Response, error) {
			if !errorReturned {
				errorReturned = true
				return nil, errors.New("connection reset by peer")
			}
			return okResponse(req), nil
		},
	}

	req, _ := http.NewRequest("GET", "http://example.com", nil)
	resp, body, _, err := client.ExecuteRequest(req)

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `{"status":"ok"}`, string(body))
	assert.Equal(t, []string{StatusError, StatusSuccess}, mockHandler.Statuses())
	assert.Equal(t, 1, mockHandler.GetRetryCount())
}

// TestHTTPClientWithRetries_ReplaysBody tests that POST bodies are resent on retry
func TestHTTPClientWithRetries_ReplaysBody(t *testing.T) {
	var bodies []string
	var mu sync.Mutex

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(b))
		n := len(bodies)
		mu.Unlock()

		if n == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client, err := NewHTTPClientWithRetries(testOptions(), nil, nil)
	require.NoError(t, err)

	req, _ := http.NewRequest("POST", server.URL, bytes.NewBufferString(`{"publicToken":"public-sandbox-123"}`))
	_, _, _, err = client.ExecuteRequest(req)

	require.NoError(t, err)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{`{"publicToken":"public-sandbox-123"}`, `{"publicToken":"public-sandbox-123"}`}, bodies)
}

// TestHTTPClientWithRetries_KeepsCallerIdempotencyKey tests that a preset key is not replaced
func TestHTTPClientWithRetries_KeepsCallerIdempotencyKey(t *testing.T) {
	var seen string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Get(HeaderIdempotencyKey)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client, err := NewHTTPClientWithRetries(testOptions(), nil, nil)
	require.NoError(t, err)

	req, _ := http.NewRequest("GET", server.URL, nil)
	req.Header.Set(HeaderIdempotencyKey, "charge-42")
	_, _, _, err = client.ExecuteRequest(req)

	require.NoError(t, err)
	assert.Equal(t, "charge-42", seen)
}

// TestHTTPClientWithRetries_RateLimiterCancelled tests that a failed limiter wait stops the session
func TestHTTPClientWithRetries_RateLimiterCancelled(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
	limiter.Allow() // drain the only token

	mockHandler := NewMockHttpStatusHandler()
	client, err := NewHTTPClientWithRetries(testOptions(), mockHandler, func(*http.Request) *rate.Limiter {
		return limiter
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	req, _ := http.NewRequestWithContext(ctx, "GET", server.URL, nil)
	_, _, _, err = client.ExecuteRequest(req)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limiter wait failed")
	assert.Equal(t, int32(0), atomic.LoadInt32(&attempts))
	assert.Equal(t, []string{StatusError}, mockHandler.Statuses())
}

// Test with no metrics handler
func TestHTTPClientWithRetries_NoHandler(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	client, err := NewHTTPClientWithRetries(DefaultRetryOptions(), nil, nil)
	require.NoError(t, err)

	req, _ := http.NewRequest("GET", server.URL, nil)
	resp, body, _, err := client.ExecuteRequest(req)

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `{"status":"ok"}`, string(body))
}

func TestPrepareAttempt_UnreplayableBody(t *testing.T) {
	req, _ := http.NewRequest("POST", "http://example.com", nil)
	req.Body = io.NopCloser(bytes.NewBufferString("x"))
	req.GetBody = nil

	first, err := prepareAttempt(req, 1)
	require.NoError(t, err)
	assert.Same(t, req, first)

	_, err = prepareAttempt(req, 2)
	assert.Error(t, err)
}

// TestHTTPClientWithRetries_LeavesCallerRequestUntouched tests that the generated key is not written back
func TestHTTPClientWithRetries_LeavesCallerRequestUntouched(t *testing.T) {
	var seen string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Get(HeaderIdempotencyKey)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client, err := NewHTTPClientWithRetries(testOptions(), nil, nil)
	require.NoError(t, err)

	req, _ := http.NewRequest("GET", server.URL, nil)
	_, _, _, err = client.ExecuteRequest(req)
	require.NoError(t, err)

	assert.NotEmpty(t, seen)
	assert.Empty(t, req.Header.Get(HeaderIdempotencyKey))

	// a reused request gets a fresh key
	first := seen
	_, _, _, err = client.ExecuteRequest(req)
	require.NoError(t, err)
	assert.NotEqual(t, first, seen)
}

// recordingGate is an UpstreamGate that records calls
type recordingGate struct {
	mu      sync.Mutex
	waits   int
	hints   []time.Duration
	waitErr error
}

func (g *recordingGate) Wait(req *http.Request) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.waits++
	return g.waitErr
}

func (g *recordingGate) RetryAfter(req *http.Request, d time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.hints = append(g.hints, d)
}

// TestHTTPClientWithRetries_ReportsRetryAfter tests that Retry-After hints reach the gate
func TestHTTPClientWithRetries_ReportsRetryAfter(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	gate := &recordingGate{}
	client, err := NewHTTPClientWithRetries(testOptions(), nil, nil, WithUpstreamGate(gate))
	require.NoError(t, err)

	req, _ := http.NewRequest("GET", server.URL, nil)
	_, _, _, err = client.ExecuteRequest(req)
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&attempts))
	assert.Equal(t, 2, gate.waits)
	assert.Equal(t, []time.Duration{2 * time.Second}, gate.hints)
}

// TestHTTPClientWithRetries_GateWaitFailure tests that a failed pause wait ends the session
func TestHTTPClientWithRetries_GateWaitFailure(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	gate := &recordingGate{waitErr: context.Canceled}
	client, err := NewHTTPClientWithRetries(testOptions(), nil, nil, WithUpstreamGate(gate))
	require.NoError(t, err)

	req, _ := http.NewRequest("GET", server.URL, nil)
	_, _, _, err = client.ExecuteRequest(req)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(0), atomic.LoadInt32(&attempts))
	assert.Equal(t, 1, gate.waits)
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		value string
		want  time.Duration
		ok    bool
	}{
		{"empty", "", 0, false},
		{"seconds", "30", 30 * time.Second, true},
		{"zero seconds", "0", 0, false},
		{"http date", now.Add(90 * time.Second).Format(http.TimeFormat), 90 * time.Second, true},
		{"past date", now.Add(-time.Minute).Format(http.TimeFormat), -time.Minute, false},
		{"garbage", "soon", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseRetryAfter(tt.value, now)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}
