// Package dberror defines the structured error type shared by the lock
// manager and the transaction layer.
package dberror

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

// ErrorCategory classifies errors by their nature and appropriate handling strategy.
type ErrorCategory int

const (
	// ErrCategoryUser represents errors caused by invalid caller input.
	ErrCategoryUser ErrorCategory = iota

	// ErrCategorySystem represents errors requiring operator intervention or
	// indicating a broken internal contract.
	ErrCategorySystem

	// ErrCategoryConcurrency represents errors from concurrent transaction
	// conflicts: lock timeouts, deadlock victims, wounded transactions.
	// These are resolved by rolling the transaction back and retrying it.
	ErrCategoryConcurrency
)

func (c ErrorCategory) String() string {
	switch c {
	case ErrCategoryUser:
		return "user"
	case ErrCategorySystem:
		return "system"
	case ErrCategoryConcurrency:
		return "concurrency"
	default:
		return "unknown"
	}
}

// DBError represents a structured database error with context information.
type DBError struct {
	// Code is a unique identifier for this error type (e.g., "DEADLOCK_VICTIM").
	Code string

	// Category classifies the error for appropriate handling strategy.
	Category ErrorCategory

	// Message is a human-readable description of what went wrong.
	Message string

	// Detail provides additional context about the specific error instance.
	Detail string

	// Hint suggests how the caller might recover.
	Hint string

	// Operation identifies the operation in progress, e.g. "AcquireExclusive".
	Operation string

	// Component identifies the subsystem where the error originated,
	// e.g. "LockTable".
	Component string

	// Cause is the underlying error. It carries the stack trace recorded by
	// cockroachdb/errors when the DBError was built.
	Cause error
}

// New creates a new DBError with the specified code, category, and message.
func New(category ErrorCategory, code, message string) *DBError {
	return &DBError{
		Code:     code,
		Category: category,
		Message:  message,
		Cause:    errors.NewWithDepth(1, message),
	}
}

// Wrap wraps an existing error with database-specific context information.
// If the error is already a DBError, it enriches the existing error with
// operation and component context (only if not already set).
func Wrap(err error, code, operation, component string) *DBError {
	if err == nil {
		return nil
	}

	var dbErr *DBError
	if errors.As(err, &dbErr) {
		if dbErr.Operation == "" {
			dbErr.Operation = operation
		}
		if dbErr.Component == "" {
			dbErr.Component = component
		}
		return dbErr
	}

	return &DBError{
		Code:      code,
		Category:  ErrCategorySystem,
		Message:   err.Error(),
		Operation: operation,
		Component: component,
		Cause:     errors.WithStackDepth(err, 1),
	}
}

// Error implements the error interface.
//
// The format follows the pattern:
// [ERROR_CODE] Message: Detail (operation: Operation, component: Component)
func (e *DBError) Error() string {
	var b strings.Builder

	fmt.Fprintf(&b, "[%s] %s", e.Code, e.Message)

	if e.Detail != "" {
		fmt.Fprintf(&b, ": %s", e.Detail)
	}

	if e.Operation != "" {
		fmt.Fprintf(&b, " (operation: %s", e.Operation)
		if e.Component != "" {
			fmt.Fprintf(&b, ", component: %s", e.Component)
		}
		b.WriteString(")")
	}

	return b.String()
}

// Unwrap returns the underlying cause, enabling errors.Is and errors.As.
func (e *DBError) Unwrap() error {
	return e.Cause
}

// IsCategory reports whether err, or any error it wraps, is a DBError of
// the given category.
func IsCategory(err error, category ErrorCategory) bool {
	var dbErr *DBError
	return errors.As(err, &dbErr) && dbErr.Category == category
}
