package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorType classifies a watcher error
type ErrorType string

const (
	ErrorTypeValidation    ErrorType = "validation"    // Malformed event or target; never retried
	ErrorTypeTransient     ErrorType = "transient"     // Throttling, timeouts, temporary unavailability; retryable
	ErrorTypeFatal         ErrorType = "fatal"         // Authorization failure, unknown cluster/service; never retried
	ErrorTypeConfiguration ErrorType = "configuration" // Bad or missing watcher configuration
)

// Error is a typed error returned by the watcher and its collaborators
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap exposes the underlying cause for errors.Is / errors.As
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewValidationError creates a validation error
func NewValidationError(format string, args ...any) *Error {
	return &Error{
		Type:    ErrorTypeValidation,
		Message: fmt.Sprintf(format, args...),
	}
}

// NewTransientError wraps a retryable control-plane failure
func NewTransientError(message string, cause error) *Error {
	return &Error{
		Type:    ErrorTypeTransient,
		Message: message,
		Cause:   cause,
	}
}

// NewFatalError wraps a non-retryable control-plane failure
func NewFatalError(message string, cause error) *Error {
	return &Error{
		Type:    ErrorTypeFatal,
		Message: message,
		Cause:   cause,
	}
}

// NewConfigurationError creates a configuration error
func NewConfigurationError(format string, args ...any) *Error {
	return &Error{
		Type:    ErrorTypeConfiguration,
		Message: fmt.Sprintf(format, args...),
	}
}

// TypeOf returns the classification of err, or ErrorTypeFatal for untyped errors
func TypeOf(err error) ErrorType {
	var typed *Error
	if stderrors.As(err, &typed) {
		return typed.Type
	}
	return ErrorTypeFatal
}

// IsTransient reports whether err is retryable
func IsTransient(err error) bool {
	return TypeOf(err) == ErrorTypeTransient
}

// IsValidation reports whether err is a validation error
func IsValidation(err error) bool {
	return TypeOf(err) == ErrorTypeValidation
}
