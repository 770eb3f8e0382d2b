package httpclient

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/finboard/proxy-common/apperrors"
	"github.com/finboard/proxy-common/retry"
)

// HTTPClientWithRetries wraps an HTTP Client with retry capabilities
type HTTPClientWithRetries struct {
	Client        *http.Client
	Opts          RetryOptions
	StatusHandler IHttpStatusHandler
	// RateLimiter is an optional callback that returns a rate limiter for the request
	// The callback receives the request and should return a rate limiter or nil
	RateLimiter func(*http.Request) *rate.Limiter

	engine     *retry.Engine
	engineOpts []retry.Option
	gate       UpstreamGate
}

// NewHTTPClientWithRetries creates a new HTTP Client with retry capabilities
func NewHTTPClientWithRetries(opts RetryOptions, handler IHttpStatusHandler, rateLimiter func(*http.Request) *rate.Limiter, clientOpts ...ClientOption) (*HTTPClientWithRetries, error) {
	client := &http.Client{
		Timeout: opts.RequestTimeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout: opts.ConnectionTimeout,
			}).DialContext,
		},
	}

	c := &HTTPClientWithRetries{
		Client:        client,
		Opts:          opts,
		StatusHandler: handler,
		RateLimiter:   rateLimiter,
	}

	for _, opt := range clientOpts {
		opt(c)
	}

	engineOpts := []retry.Option{
		retry.WithConfig(opts.Retry),
		retry.WithName(opts.LogPrefix),
		retry.WithOnRetry(func(int, error, time.Duration) {
			if c.StatusHandler != nil {
				c.StatusHandler.OnRetry()
			}
		}),
	}
	engine, err := retry.New(append(engineOpts, c.engineOpts...)...)
	if err != nil {
		return nil, fmt.Errorf("invalid retry options: %w", err)
	}
	c.engine = engine

	return c, nil
}

// SetStatusHandler sets the status handler for this Client
func (c *HTTPClientWithRetries) SetStatusHandler(handler IHttpStatusHandler) {
	c.StatusHandler = handler
}

type attemptResult struct {
	resp *http.Response
	body []byte
}

// ExecuteRequest executes an HTTP request with retry logic. The returned
// error is the one produced by the last attempt: an *apperrors.AppError for
// network failures and non-2xx responses.
// The caller's request is not modified.
func (c *HTTPClientWithRetries) ExecuteRequest(req *http.Request) (*http.Response, []byte, time.Duration, error) {
	req = req.Clone(req.Context())
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	if req.Header.Get(HeaderIdempotencyKey) == "" {
		req.Header.Set(HeaderIdempotencyKey, uuid.NewString())
	}

	var requestDuration time.Duration
	attempt := 0

	result, err := retry.Do(req.Context(), c.engine, func() (*attemptResult, error) {
		attempt++

		attemptReq, err := prepareAttempt(req, attempt)
		if err != nil {
			c.onRequest(StatusError)
			return nil, err
		}

		if c.gate != nil {
			if err := c.gate.Wait(attemptReq); err != nil {
				c.onRequest(StatusError)
				return nil, retry.NonRetryable(fmt.Errorf("upstream pause wait failed: %w", err))
			}
		}

		// Rate limit before executing the request
		if c.RateLimiter != nil {
			if limiter := c.RateLimiter(attemptReq); limiter != nil {
				if err := limiter.Wait(attemptReq.Context()); err != nil {
					c.onRequest(StatusError)
					return nil, retry.NonRetryable(fmt.Errorf("rate limiter wait failed: %w", err))
				}
			}
		}

		requestStart := time.Now()
		resp, err := c.Client.Do(attemptReq)
		requestDuration = time.Since(requestStart)

		if err != nil {
			c.onRequest(StatusError)
			return nil, apperrors.NewNetworkError(
				fmt.Sprintf("request failed after %.2fs", requestDuration.Seconds()), err)
		}

		responseBody, err := processResponse(resp, attemptReq, requestDuration)
		_ = resp.Body.Close()
		if c.gate != nil {
			if wait, ok := parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()); ok && resp.StatusCode >= 400 {
				c.gate.RetryAfter(attemptReq, wait)
			}
		}
		if err != nil {
			if c.engine.Config().Classify(err) == retry.Retryable {
				c.onRequest(StatusRateLimited)
			} else {
				c.onRequest(StatusError)
			}
			return nil, err
		}

		resp.Body = io.NopCloser(bytes.NewReader(responseBody))
		c.onRequest(StatusSuccess)
		return &attemptResult{resp: resp, body: responseBody}, nil
	})
	if err != nil {
		return nil, nil, requestDuration, err
	}

	return result.resp, result.body, requestDuration, nil
}

func (c *HTTPClientWithRetries) onRequest(status string) {
	if c.StatusHandler != nil {
		c.StatusHandler.OnRequest(status)
	}
}

// prepareAttempt returns the request to send for the given 1-based attempt,
// rewinding the body for every attempt after the first.
func prepareAttempt(req *http.Request, attempt int) (*http.Request, error) {
	if attempt == 1 || req.Body == nil || req.Body == http.NoBody {
		return req, nil
	}
	if req.GetBody == nil {
		return nil, errors.New("request body cannot be replayed for retry")
	}

	body, err := req.GetBody()
	if err != nil {
		return nil, fmt.Errorf("failed to rewind request body: %w", err)
	}

	clone := req.Clone(req.Context())
	clone.Body = body
	return clone, nil
}

// parseRetryAfter reads a Retry-After value given in seconds or as an HTTP date
func parseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs <= 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	at, err := http.ParseTime(value)
	if err != nil {
		return 0, false
	}
	wait := at.Sub(now)
	return wait, wait > 0
}

// processResponse reads the response and converts failure statuses into API errors
func processResponse(resp *http.Response, req *http.Request, requestDuration time.Duration) ([]byte, error) {
	body, err := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode == http.StatusTooManyRequests {
			retryAfter := resp.Header.Get("Retry-After")
			return nil, apperrors.NewAPIError(resp.StatusCode,
				fmt.Sprintf("rate limit exceeded, retry after %s: %s", retryAfter, string(body))).
				WithDetail("retry_after", retryAfter).
				WithDetail("body", string(body))
		}

		// Special handling for 414 Request-URI Too Large to include URL length
		if resp.StatusCode == http.StatusRequestURITooLong {
			var urlLength int
			if req != nil && req.URL != nil {
				urlLength = len(req.URL.String())
			}
			return nil, apperrors.NewAPIError(resp.StatusCode,
				fmt.Sprintf("API request failed after %.2fs (URL length: %d): %s",
					requestDuration.Seconds(), urlLength, string(body))).
				WithDetail("url_length", urlLength)
		}

		return nil, apperrors.NewAPIError(resp.StatusCode,
			fmt.Sprintf("API request failed after %.2fs: %s", requestDuration.Seconds(), string(body))).
			WithDetail("body", string(body))
	}

	if err != nil {
		return nil, apperrors.NewNetworkError("error reading response", err)
	}

	return body, nil
}
