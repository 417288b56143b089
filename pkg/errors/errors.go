package errors

import (
	"fmt"
)

// ErrorType classifies a client failure
type ErrorType string

const (
	// ErrorTypeConnection is a transient transport failure; the stream may
	// be resumed by reconnecting with the last committed event ID.
	ErrorTypeConnection ErrorType = "connection"
	// ErrorTypeBadResponse is a fatal response classification failure
	// (wrong status or media type); no reconnection is attempted.
	ErrorTypeBadResponse ErrorType = "bad_response"
	// ErrorTypeClosed reports use of a client after Close.
	ErrorTypeClosed   ErrorType = "closed"
	ErrorTypeInternal ErrorType = "internal"
)

// Error represents a structured error with additional context
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]any
}

// NewError creates a new structured error
func NewError(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Details: make(map[string]any),
	}
}

// WithCause adds the underlying cause to the error
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithDetail adds a detail to the error
func (e *Error) WithDetail(key string, value any) *Error {
	e.Details[key] = value
	return e
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// IsFatal reports whether err rules out automatic reconnection.
func IsFatal(err error) bool {
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	return e.Type == ErrorTypeBadResponse || e.Type == ErrorTypeClosed
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
