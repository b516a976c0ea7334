// Package domain defines core types, interfaces, and errors for the runner.
package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// NotFoundError indicates a resource was not found.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// AccessDeniedError indicates insufficient privileges. It is always fatal for
// the job that triggered it and is never retried.
type AccessDeniedError struct {
	Message string
}

func (e *AccessDeniedError) Error() string { return e.Message }

// CancelledError indicates that execution observed an external cancel signal.
type CancelledError struct {
	Message string
}

func (e *CancelledError) Error() string { return e.Message }

// ValidationError indicates invalid input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// ConflictError indicates a conflict (e.g., duplicate resource).
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

// ErrNotFound creates a NotFoundError with a formatted message.
func ErrNotFound(format string, args ...interface{}) *NotFoundError {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}

// ErrAccessDenied creates an AccessDeniedError with a formatted message.
func ErrAccessDenied(format string, args ...interface{}) *AccessDeniedError {
	return &AccessDeniedError{Message: fmt.Sprintf(format, args...)}
}

// ErrCancelled creates a CancelledError with a formatted message.
func ErrCancelled(format string, args ...interface{}) *CancelledError {
	return &CancelledError{Message: fmt.Sprintf(format, args...)}
}

// ErrValidation creates a ValidationError with a formatted message.
func ErrValidation(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ErrConflict creates a ConflictError with a formatted message.
func ErrConflict(format string, args ...interface{}) *ConflictError {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

// IsAccessDenied reports whether err is privilege-related.
func IsAccessDenied(err error) bool {
	var denied *AccessDeniedError
	return errors.As(err, &denied)
}

// IsCancellation reports whether err signals that the job was cancelled.
// Cancellation can surface as a typed CancelledError, a context error, or as
// driver-level text when the cancel hit the engine mid-execution.
func IsCancellation(err error) bool {
	if err == nil {
		return false
	}
	var cancelled *CancelledError
	if errors.As(err, &cancelled) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "cancel")
}

// RootCause returns the innermost wrapped error, or err itself when nothing
// is wrapped. Used when surfacing failure messages to the requester.
func RootCause(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}
