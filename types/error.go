package types

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode represents a unified error code across the framework.
type ErrorCode string

// Generation error codes
const (
	// ErrConfig marks missing or invalid request fields. Never retried.
	ErrConfig ErrorCode = "CONFIG_ERROR"
	// ErrParse marks an unrecognized or malformed provider response.
	ErrParse ErrorCode = "PARSE_ERROR"
	// ErrEmptyResponse marks a provider response with no image and no text.
	ErrEmptyResponse ErrorCode = "EMPTY_RESPONSE"
	// ErrTextOnly marks a response with text but no image (model declined).
	ErrTextOnly ErrorCode = "TEXT_ONLY"
	// ErrSafetyFiltered marks an explicit content rejection. Never retried.
	ErrSafetyFiltered ErrorCode = "SAFETY_FILTERED"
	// ErrProviderQuota marks a quota or rate-limit failure on the provider side.
	ErrProviderQuota ErrorCode = "PROVIDER_QUOTA"
	// ErrNetwork marks a connection or timeout failure reaching the provider.
	ErrNetwork ErrorCode = "NETWORK_ERROR"
	// ErrRateLimited marks an admission denial by our own limiter,
	// distinct from ErrProviderQuota.
	ErrRateLimited ErrorCode = "RATE_LIMITED"
	// ErrUpstream marks a generic provider-side failure.
	ErrUpstream ErrorCode = "UPSTREAM_ERROR"
	// ErrInternal marks an unexpected local failure.
	ErrInternal ErrorCode = "INTERNAL_ERROR"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode     `json:"code"`
	Message    string        `json:"message"`
	Hint       string        `json:"hint,omitempty"`
	HTTPStatus int           `json:"http_status,omitempty"`
	Retryable  bool          `json:"retryable"`
	Provider   string        `json:"provider,omitempty"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
	Cause      error         `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithProvider sets the provider name.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// WithHint sets the user-facing remediation hint.
func (e *Error) WithHint(hint string) *Error {
	e.Hint = hint
	return e
}

// WithRetryAfter records how long the caller should wait before retrying.
func (e *Error) WithRetryAfter(d time.Duration) *Error {
	e.RetryAfter = d
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
