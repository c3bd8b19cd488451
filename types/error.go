package types

import "fmt"

// ErrorCode represents a unified error code across the server.
type ErrorCode string

const (
	// ErrCapacityExceeded means admission was denied because the server is
	// at its configured session limit. Callers may retry later.
	ErrCapacityExceeded ErrorCode = "CAPACITY_EXCEEDED"
	// ErrInvalidMode means a requested conversation mode has no active
	// input or no active output.
	ErrInvalidMode ErrorCode = "INVALID_MODE"
	// ErrResourceUnavailable means a required pooled resource could not be
	// acquired (exhausted at creation time, or timed out mid-session).
	ErrResourceUnavailable ErrorCode = "RESOURCE_UNAVAILABLE"
	// ErrSessionNotFound means the referenced session id is not registered
	// (already ended, or never existed).
	ErrSessionNotFound ErrorCode = "SESSION_NOT_FOUND"
	// ErrSessionEnded means the session is ending or ended and no longer
	// accepts the operation.
	ErrSessionEnded ErrorCode = "SESSION_ENDED"
	// ErrInvalidRequest covers malformed caller input at the API boundary.
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST"
	// ErrInternalError covers invariant violations and unexpected failures.
	ErrInternalError ErrorCode = "INTERNAL_ERROR"
)

// Error represents a structured error with code, message, and metadata.
// Expected conditions (capacity, mode validation, resource exhaustion) are
// returned as *Error values, never raised as panics.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Cause      error     `json:"-"`
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

// Is reports whether target carries the same error code. This lets callers
// match sentinel instances with errors.Is regardless of message text.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
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

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return ""
}

// CapacityExceeded builds the standard admission rejection error.
func CapacityExceeded(active, max int64) *Error {
	return NewError(ErrCapacityExceeded,
		fmt.Sprintf("server at capacity: %d/%d sessions active", active, max)).
		WithRetryable(true)
}

// ResourceUnavailable builds the standard pool exhaustion error.
func ResourceUnavailable(kind string) *Error {
	return NewError(ErrResourceUnavailable,
		fmt.Sprintf("no %s instance available", kind)).
		WithRetryable(true)
}

// SessionNotFound builds the standard unknown-session error.
func SessionNotFound(id string) *Error {
	return NewError(ErrSessionNotFound, fmt.Sprintf("session %s not found", id))
}
