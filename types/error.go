package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the service.
type ErrorCode string

const (
	// ErrInitialization means a plugin failed to prepare its resources.
	ErrInitialization ErrorCode = "INITIALIZATION"
	// ErrPluginNotFound means an unknown or unloaded plugin identity was requested.
	ErrPluginNotFound ErrorCode = "PLUGIN_NOT_FOUND"
	// ErrValidation means a plugin rejected its input.
	ErrValidation ErrorCode = "VALIDATION"
	// ErrRouting means the classifier was unavailable or returned an unusable decision.
	ErrRouting ErrorCode = "ROUTING"
	// ErrPersistence means a context or turn read/write failed.
	ErrPersistence ErrorCode = "PERSISTENCE"
	// ErrExecution means a plugin fault was contained at the router boundary.
	ErrExecution ErrorCode = "EXECUTION"
	// ErrLLMUnavailable means the language model endpoint could not be reached
	// or answered with an unusable payload.
	ErrLLMUnavailable ErrorCode = "LLM_UNAVAILABLE"
)

// Error is a structured error with a code, message, and optional cause.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Cause   error     `json:"-"`
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

// Errorf creates a new Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// CodeOf extracts the error code from an error chain.
// Returns an empty code if no *Error is present.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries the given code anywhere in its chain.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}
