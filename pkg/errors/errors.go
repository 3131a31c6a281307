// Package errors defines the typed errors shared across the bridge.
package errors

import (
	"fmt"
	"strings"
)

// Error types
const (
	// ErrConfig is returned for missing or invalid configuration; always fatal at startup
	ErrConfig = "config"

	// ErrAuthFailure is returned when a token or credential fails authentication
	ErrAuthFailure = "auth_failure"

	// ErrInsufficientScope is returned when a valid token lacks a required scope
	ErrInsufficientScope = "insufficient_scope"

	// ErrUpstreamHTTP is returned when the upstream responds with an error status
	ErrUpstreamHTTP = "upstream_http"

	// ErrRateLimited is returned by the local provisioning rate limiter
	ErrRateLimited = "rate_limited"

	// ErrStorage is returned for transient database failures
	ErrStorage = "storage"

	// ErrPipeline is returned for per-document indexing failures
	ErrPipeline = "pipeline"

	// ErrNotFound is returned when a requested resource does not exist
	ErrNotFound = "not_found"

	// ErrInternal is returned when there is an internal error
	ErrInternal = "internal"
)

// Error represents an error in the application
type Error struct {
	// Type is the error type
	Type string

	// Message is the error message
	Message string

	// Cause is the underlying error
	Cause error
}

// Error returns the error message
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new error
func NewError(errorType, message string, cause error) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
		Cause:   cause,
	}
}

// NewConfigError creates a new configuration error
func NewConfigError(message string, cause error) *Error {
	return NewError(ErrConfig, message, cause)
}

// NewAuthFailureError creates a new authentication failure error
func NewAuthFailureError(message string, cause error) *Error {
	return NewError(ErrAuthFailure, message, cause)
}

// NewStorageError creates a new storage error
func NewStorageError(message string, cause error) *Error {
	return NewError(ErrStorage, message, cause)
}

// NewPipelineError creates a new pipeline error
func NewPipelineError(message string, cause error) *Error {
	return NewError(ErrPipeline, message, cause)
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(message string, cause error) *Error {
	return NewError(ErrNotFound, message, cause)
}

// NewInternalError creates a new internal error
func NewInternalError(message string, cause error) *Error {
	return NewError(ErrInternal, message, cause)
}

// InsufficientScopeError is raised on a tool call whose required scopes are
// not covered by the caller's token.
type InsufficientScopeError struct {
	// Missing is the set of required scopes absent from the caller's token
	Missing []string
}

// Error returns the error message
func (e *InsufficientScopeError) Error() string {
	return fmt.Sprintf("%s: missing required scopes: %s", ErrInsufficientScope, strings.Join(e.Missing, " "))
}

// NewInsufficientScopeError creates an insufficient-scope error for the given missing scopes
func NewInsufficientScopeError(missing []string) *InsufficientScopeError {
	return &InsufficientScopeError{Missing: missing}
}

// UpstreamError carries the upstream status and body after retry exhaustion.
type UpstreamError struct {
	// Status is the upstream HTTP status code
	Status int

	// Body is the upstream response body, truncated for logging
	Body string
}

// Error returns the error message
func (e *UpstreamError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: upstream returned status %d", ErrUpstreamHTTP, e.Status)
	}
	return fmt.Sprintf("%s: upstream returned status %d: %s", ErrUpstreamHTTP, e.Status, e.Body)
}

// NewUpstreamHTTPError creates a new upstream HTTP error carrying the status
// code and (truncated) response body.
func NewUpstreamHTTPError(status int, body string) *UpstreamError {
	return &UpstreamError{Status: status, Body: body}
}

// RateLimitError carries the Retry-After hint for 429 responses.
type RateLimitError struct {
	// RetryAfter is the suggested delay in seconds before retrying
	RetryAfter int
}

// Error returns the error message
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: too many attempts, retry after %ds", ErrRateLimited, e.RetryAfter)
}

// NewRateLimitedError creates a new rate-limited error with the retry delay in seconds
func NewRateLimitedError(retryAfterSeconds int) *RateLimitError {
	return &RateLimitError{RetryAfter: retryAfterSeconds}
}

// IsConfig checks if the error is a configuration error
func IsConfig(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Type == ErrConfig
}

// IsAuthFailure checks if the error is an authentication failure
func IsAuthFailure(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Type == ErrAuthFailure
}

// IsInsufficientScope checks if the error is an insufficient-scope error
func IsInsufficientScope(err error) bool {
	_, ok := err.(*InsufficientScopeError)
	return ok
}

// IsUpstreamHTTP checks if the error is an upstream HTTP error
func IsUpstreamHTTP(err error) bool {
	_, ok := err.(*UpstreamError)
	return ok
}

// IsRateLimited checks if the error is a rate-limit error
func IsRateLimited(err error) bool {
	_, ok := err.(*RateLimitError)
	return ok
}

// IsStorage checks if the error is a storage error
func IsStorage(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Type == ErrStorage
}

// IsPipeline checks if the error is a pipeline error
func IsPipeline(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Type == ErrPipeline
}

// IsNotFound checks if the error is a not-found error
func IsNotFound(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Type == ErrNotFound
}
