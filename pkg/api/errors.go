package api

import "fmt"

// ErrorKind represents the category of a broker error.
type ErrorKind string

const (
	ErrorKindUnauthorized ErrorKind = "unauthorized"
	ErrorKindForbidden    ErrorKind = "forbidden"
	ErrorKindRateLimited  ErrorKind = "rate_limited"
	ErrorKindRejected     ErrorKind = "rejected"
	ErrorKindBusy         ErrorKind = "busy"
	ErrorKindQueueFull    ErrorKind = "queue_full"
	ErrorKindTimeout      ErrorKind = "timeout"
	ErrorKindKilled       ErrorKind = "killed"
	ErrorKindNotFound     ErrorKind = "not_found"
	ErrorKindInvalid      ErrorKind = "invalid_request"
	ErrorKindRuntimeError ErrorKind = "runtime_error"
	ErrorKindInternal     ErrorKind = "internal"
)

// Error is a structured broker error with kind, code, param, and message.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Code    string    `json:"code,omitempty"`
	Param   string    `json:"param,omitempty"`
	Message string    `json:"message"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Param != "" {
		return fmt.Sprintf("%s: %s (param: %s)", e.Kind, e.Message, e.Param)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// ErrorResponse wraps an Error for JSON serialization as the top-level
// error response of a transport.
type ErrorResponse struct {
	Error *Error `json:"error"`
}

// NewUnauthorizedError creates an Error for missing/invalid credentials.
func NewUnauthorizedError(message string) *Error {
	return &Error{Kind: ErrorKindUnauthorized, Message: message}
}

// NewForbiddenError creates an Error for an authenticated caller denied access.
func NewForbiddenError(message string) *Error {
	return &Error{Kind: ErrorKindForbidden, Message: message}
}

// NewRateLimitedError creates an Error for a principal over its request budget.
func NewRateLimitedError(message string) *Error {
	return &Error{Kind: ErrorKindRateLimited, Message: message}
}

// NewRejectedError creates an Error for code blocked by the screener.
func NewRejectedError(message string) *Error {
	return &Error{Kind: ErrorKindRejected, Message: message}
}

// NewBusyError creates an Error for a session whose exec lock could not be
// acquired within its wait bound.
func NewBusyError(message string) *Error {
	return &Error{Kind: ErrorKindBusy, Message: message}
}

// NewQueueFullError creates an Error for an async submission rejected
// because the job queue is at capacity.
func NewQueueFullError(message string) *Error {
	return &Error{Kind: ErrorKindQueueFull, Message: message}
}

// NewTimeoutError creates an Error for an execution that exceeded its
// configured deadline.
func NewTimeoutError(message string) *Error {
	return &Error{Kind: ErrorKindTimeout, Message: message}
}

// NewKilledError creates an Error for a sandbox process killed by the
// runtime (typically an OOM kill).
func NewKilledError(message string) *Error {
	return &Error{Kind: ErrorKindKilled, Message: message}
}

// NewNotFoundError creates an Error for resources that cannot be found.
func NewNotFoundError(message string) *Error {
	return &Error{Kind: ErrorKindNotFound, Message: message}
}

// NewInvalidRequestError creates an Error for malformed request parameters.
func NewInvalidRequestError(param, message string) *Error {
	return &Error{Kind: ErrorKindInvalid, Param: param, Message: message}
}

// NewRuntimeError creates an Error for a container runtime failure, such as
// a sandbox that could not be created or reached.
func NewRuntimeError(message string) *Error {
	return &Error{Kind: ErrorKindRuntimeError, Message: message}
}

// NewInternalError creates an Error for unexpected broker-side failures.
func NewInternalError(message string) *Error {
	return &Error{Kind: ErrorKindInternal, Message: message}
}
