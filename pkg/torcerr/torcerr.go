// Package torcerr is the error taxonomy shared by the engine, the API,
// and the client. Every failure carries a Code that maps onto an HTTP
// status and survives the round trip over the wire, so callers on
// either side dispatch on the same codes.
package torcerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies a failure for API mapping and retry decisions.
type Code string

const (
	// CodeNotFound means the referenced entity does not exist.
	CodeNotFound Code = "not_found"

	// CodeConflict means the request contradicts existing state, e.g. a
	// duplicate result for the same attempt.
	CodeConflict Code = "conflict"

	// CodeInvalidDag means the workflow graph is unusable: a dependency
	// cycle or a dangling reference.
	CodeInvalidDag Code = "invalid_dag"

	// CodeInvalidState means the operation is not legal from the
	// entity's current status.
	CodeInvalidState Code = "invalid_state"

	// CodeRetryableConflict means a transient coordination failure; the
	// caller should retry with backoff.
	CodeRetryableConflict Code = "retryable_conflict"

	// CodeInvalidInput means the request itself is malformed.
	CodeInvalidInput Code = "invalid_input"

	// CodeAuthRequired means no credentials were presented.
	CodeAuthRequired Code = "auth_required"

	// CodeAuthFailed means the presented credentials were rejected.
	CodeAuthFailed Code = "auth_failed"

	// CodeInternal is everything else.
	CodeInternal Code = "internal"
)

// Error is the error type every torc component returns across package
// boundaries. It carries a Code for classification and optionally wraps
// an underlying cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an error with the given code.
func New(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying cause. A nil cause
// returns nil so call sites can wrap unconditionally.
func Wrap(err error, code Code, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

func NotFound(format string, args ...interface{}) *Error {
	return New(CodeNotFound, format, args...)
}

func Conflict(format string, args ...interface{}) *Error {
	return New(CodeConflict, format, args...)
}

func InvalidDag(format string, args ...interface{}) *Error {
	return New(CodeInvalidDag, format, args...)
}

func InvalidState(format string, args ...interface{}) *Error {
	return New(CodeInvalidState, format, args...)
}

func RetryableConflict(format string, args ...interface{}) *Error {
	return New(CodeRetryableConflict, format, args...)
}

func InvalidInput(format string, args ...interface{}) *Error {
	return New(CodeInvalidInput, format, args...)
}

func AuthRequired(format string, args ...interface{}) *Error {
	return New(CodeAuthRequired, format, args...)
}

func AuthFailed(format string, args ...interface{}) *Error {
	return New(CodeAuthFailed, format, args...)
}

func Internal(format string, args ...interface{}) *Error {
	return New(CodeInternal, format, args...)
}

// CodeOf extracts the classification from any error chain. Unclassified
// errors are internal.
func CodeOf(err error) Code {
	var te *Error
	if errors.As(err, &te) {
		return te.Code
	}
	return CodeInternal
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}

// HTTPStatus maps a classification to the status the API returns.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict, CodeInvalidState:
		return http.StatusConflict
	case CodeInvalidDag, CodeInvalidInput:
		return http.StatusBadRequest
	case CodeRetryableConflict:
		return http.StatusServiceUnavailable
	case CodeAuthRequired, CodeAuthFailed:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
