// Package apperrors defines the error taxonomy produced by the API client layer.
// API errors carry the transport status code and network errors identify
// themselves, so the retry classifier can tell them apart without knowing
// about any particular HTTP client.
package apperrors

import (
	"errors"
	"fmt"
)

// Error codes
const (
	CodeValidation = "VALIDATION_ERROR"
	CodeNetwork    = "NETWORK_ERROR"
	CodeAPI        = "API_ERROR"
	CodeAuth       = "AUTH_ERROR"
	CodeUnknown    = "UNKNOWN_ERROR"
)

// DefaultMessage is shown for errors that carry no usable message
const DefaultMessage = "An unexpected error occurred"

// AppError is an application error with a stable code
type AppError struct {
	Code    string
	Message string
	Status  int // transport status, API errors only
	Details map[string]interface{}
	Err     error
}

func (e *AppError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (status %d): %s", e.Code, e.Status, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// StatusCode returns the transport status for API errors and 0 otherwise
func (e *AppError) StatusCode() int {
	if e.Code != CodeAPI {
		return 0
	}
	return e.Status
}

// NetworkFailure reports whether the error came from the network layer
func (e *AppError) NetworkFailure() bool {
	return e.Code == CodeNetwork
}

// WithDetail attaches a detail value and returns e
func (e *AppError) WithDetail(key string, value interface{}) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates an AppError with an arbitrary code
func New(code, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// NewValidationError creates an error for invalid input
func NewValidationError(message string) *AppError {
	return &AppError{Code: CodeValidation, Message: message}
}

// NewNetworkError creates an error for a connection or timeout failure
func NewNetworkError(message string, cause error) *AppError {
	return &AppError{Code: CodeNetwork, Message: message, Err: cause}
}

// NewAPIError creates an error for an upstream response with a failure status
func NewAPIError(status int, message string) *AppError {
	return &AppError{Code: CodeAPI, Message: message, Status: status}
}

// NewAuthenticationError creates an error for rejected credentials
func NewAuthenticationError(message string) *AppError {
	return &AppError{Code: CodeAuth, Message: message}
}

func hasCode(err error, code string) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// IsAppError reports whether err is or wraps an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

func IsValidationError(err error) bool { return hasCode(err, CodeValidation) }
func IsNetworkError(err error) bool    { return hasCode(err, CodeNetwork) }
func IsAPIError(err error) bool        { return hasCode(err, CodeAPI) }
func IsAuthError(err error) bool       { return hasCode(err, CodeAuth) }

// Message returns a message suitable for showing to a user
func Message(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Message != "" {
		return appErr.Message
	}
	if err != nil && err.Error() != "" {
		return err.Error()
	}
	return DefaultMessage
}

// Code returns the AppError code or CodeUnknown
func Code(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeUnknown
}

// Status returns the API status code carried by err, or 0
func Status(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode()
	}
	return 0
}
