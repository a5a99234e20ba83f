// Package errors provides unified error handling for the incident manager.
package errors

import (
	"errors"
	"fmt"
)

// Code identifies a class of failure within the runtime.
type Code string

const (
	CodeInvalidInput               Code = "INVALID_INPUT"
	CodeNotFound                   Code = "NOT_FOUND"
	CodeIllegalTransition          Code = "ILLEGAL_TRANSITION"
	CodeStorageUnavailable         Code = "STORAGE_UNAVAILABLE"
	CodeStorageInconsistent        Code = "STORAGE_INCONSISTENT"
	CodeCircuitOpen                Code = "CIRCUIT_OPEN"
	CodeTimeout                    Code = "TIMEOUT"
	CodeRateLimited                Code = "RATE_LIMITED"
	CodeDownstreamFailure          Code = "DOWNSTREAM_FAILURE"
	CodeInternalInvariantViolation Code = "INTERNAL_INVARIANT_VIOLATION"
)

// Error is a structured error carrying a Code, message, optional details,
// and an optional wrapped cause.
type Error struct {
	Code    Code                   `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Err     error                  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// WithDetails attaches an additional key/value to the error and returns it
// for chaining.
func (e *Error) WithDetails(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates an *Error with no wrapped cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates an *Error wrapping an existing error.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// InvalidInput reports a malformed or incomplete request payload.
func InvalidInput(field, reason string) *Error {
	return New(CodeInvalidInput, "invalid input").
		WithDetails("field", field).
		WithDetails("reason", reason)
}

// NotFound reports a missing resource lookup.
func NotFound(resource, id string) *Error {
	return New(CodeNotFound, "resource not found").
		WithDetails("resource", resource).
		WithDetails("id", id)
}

// IllegalTransition reports a lifecycle state-graph violation.
func IllegalTransition(from, to string) *Error {
	return New(CodeIllegalTransition, "illegal state transition").
		WithDetails("from", from).
		WithDetails("to", to)
}

// StorageUnavailable reports a backend that could not be reached.
func StorageUnavailable(operation string, err error) *Error {
	return Wrap(CodeStorageUnavailable, "storage backend unavailable", err).
		WithDetails("operation", operation)
}

// StorageInconsistent reports a backend invariant violation (e.g. an index
// entry pointing at a record that no longer exists).
func StorageInconsistent(operation string, err error) *Error {
	return Wrap(CodeStorageInconsistent, "storage invariant violated", err).
		WithDetails("operation", operation)
}

// CircuitOpen reports a call rejected by an open circuit breaker.
func CircuitOpen(breaker string) *Error {
	return New(CodeCircuitOpen, "circuit breaker open").
		WithDetails("breaker", breaker)
}

// Timeout reports an operation that exceeded its deadline.
func Timeout(operation string) *Error {
	return New(CodeTimeout, "operation timed out").
		WithDetails("operation", operation)
}

// RateLimited reports a caller exceeding an admission limit (e.g. half-open
// probe slots).
func RateLimited(resource string) *Error {
	return New(CodeRateLimited, "rate limited").
		WithDetails("resource", resource)
}

// DownstreamFailure reports a failure surfaced by a wrapped external call.
func DownstreamFailure(target string, err error) *Error {
	return Wrap(CodeDownstreamFailure, "downstream call failed", err).
		WithDetails("target", target)
}

// InternalInvariantViolation reports a bug: a condition the code assumed
// could never occur.
func InternalInvariantViolation(message string) *Error {
	return New(CodeInternalInvariantViolation, message)
}

// Is reports whether err carries the given Code.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// Unwrap extracts the *Error from an error chain, if present.
func Unwrap(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}
