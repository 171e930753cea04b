// Package errors provides domain-specific error types for Samasy.
//
// Import Path: samasy.io/samasy/internal/pkg/errors
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure categories. Every AppError carries one of
// these as its kind, so callers can branch with errors.Is.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrConflict      = errors.New("conflict")
	ErrInvalid       = errors.New("invalid")
	ErrRejected      = errors.New("rejected")
	ErrExhausted     = errors.New("exhausted")
	ErrInternal      = errors.New("internal error")
)

// AppError is a structured application error with a category and error code.
type AppError struct {
	// Code is a machine-readable error code (e.g., "PODS_EXHAUSTED").
	Code string `json:"code"`

	// Message is a human-readable error message.
	Message string `json:"message"`

	// Params carries structured context (plate, batch, volumes).
	Params map[string]interface{} `json:"params,omitempty"`

	// Err is the wrapped underlying error.
	Err error `json:"-"`

	kind error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is reports whether target is the category sentinel of this error.
func (e *AppError) Is(target error) bool {
	return e.kind != nil && target == e.kind
}

// Kind returns the category sentinel.
func (e *AppError) Kind() error {
	if e.kind == nil {
		return ErrInternal
	}
	return e.kind
}

// New creates a new AppError of the given kind.
func New(kind error, code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		kind:    kind,
	}
}

// Wrap wraps an existing error into an AppError.
func Wrap(err error, kind error, code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		kind:    kind,
	}
}

// WithParams attaches structured parameters to the error.
func (e *AppError) WithParams(params map[string]interface{}) *AppError {
	if e == nil || len(params) == 0 {
		return e
	}
	e.Params = params
	return e
}

// Common error constructors.

// NotFound creates a not-found error.
func NotFound(code, message string) *AppError {
	return New(ErrNotFound, code, message)
}

// AlreadyExists creates an identity error.
func AlreadyExists(code, message string) *AppError {
	return New(ErrAlreadyExists, code, message)
}

// Conflict creates a conflict error.
func Conflict(code, message string) *AppError {
	return New(ErrConflict, code, message)
}

// Invalid creates a validation error.
func Invalid(code, message string) *AppError {
	return New(ErrInvalid, code, message)
}

// Rejected creates an admission rejection.
func Rejected(code, message string) *AppError {
	return New(ErrRejected, code, message)
}

// Exhausted creates a resource exhaustion error.
func Exhausted(code, message string) *AppError {
	return New(ErrExhausted, code, message)
}

// Internal creates an internal error.
func Internal(code, message string) *AppError {
	return New(ErrInternal, code, message)
}

// IsAppError checks if an error is an AppError and returns it.
func IsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// CodeOf returns the AppError code of err, or CodeInternal for foreign errors.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	if appErr, ok := IsAppError(err); ok {
		return appErr.Code
	}
	return CodeInternal
}
