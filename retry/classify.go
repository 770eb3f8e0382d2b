package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
)

// Class is the classifier verdict for a failed attempt
type Class int

const (
	// Fatal errors are returned to the caller immediately
	Fatal Class = iota
	// Retryable errors trigger another attempt while attempts remain
	Retryable
)

func (c Class) String() string {
	switch c {
	case Retryable:
		return "retryable"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// StatusCoder is implemented by API errors carrying a transport status code
type StatusCoder interface {
	StatusCode() int
}

// networkFailure is implemented by errors that know they came from the network layer
type networkFailure interface {
	NetworkFailure() bool
}

// Classify decides whether err is worth another attempt. The checks run in
// order (status code, network failure, custom condition) and stop at the
// first match.
func (c Config) Classify(err error) Class {
	if err == nil || IsNonRetryable(err) {
		return Fatal
	}

	var sc StatusCoder
	if errors.As(err, &sc) && c.IsRetryableStatus(sc.StatusCode()) {
		return Retryable
	}

	if IsNetworkError(err) {
		return Retryable
	}

	if c.RetryCondition != nil && c.RetryCondition(err) {
		return Retryable
	}

	return Fatal
}

// IsNetworkError reports whether err is a connection or timeout failure of
// the underlying transport.
func IsNetworkError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	var nf networkFailure
	if errors.As(err, &nf) && nf.NetworkFailure() {
		return true
	}

	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}

	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}

// MessageContains builds a RetryCondition that matches errors whose message
// contains any of the given substrings.
func MessageContains(substrings ...string) func(error) bool {
	return func(err error) bool {
		if err == nil {
			return false
		}
		msg := err.Error()
		for _, s := range substrings {
			if s != "" && strings.Contains(msg, s) {
				return true
			}
		}
		return false
	}
}

// NonRetryableError wraps errors that must not be retried
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string {
	return fmt.Sprintf("non-retryable: %v", e.Err)
}

func (e *NonRetryableError) Unwrap() error {
	return e.Err
}

// NonRetryable marks err as fatal regardless of the classifier
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetryableError{Err: err}
}

// IsNonRetryable checks if an error is marked as non-retryable
func IsNonRetryable(err error) bool {
	var nre *NonRetryableError
	return errors.As(err, &nre)
}
