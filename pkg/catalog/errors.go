package catalog

import (
	"errors"
	"fmt"
)

// ErrorCode represents the type of error that occurred.
type ErrorCode int

const (
	// ErrMissingCatalog indicates the status catalog index does not exist.
	ErrMissingCatalog ErrorCode = iota + 1

	// ErrMissingSettings indicates the catalog exists but the settings
	// singleton is absent or corrupt.
	ErrMissingSettings

	// ErrPreconditionFailed indicates an operation ran against a cluster in
	// the wrong state, e.g. setup against an already-initialized cluster.
	ErrPreconditionFailed

	// ErrActionFailed indicates an unexpected gateway failure.
	ErrActionFailed

	// ErrNotFound indicates the addressed catalog record does not exist.
	ErrNotFound

	// ErrConflict indicates a lost compare-and-swap or a repository already
	// owned by another in-flight thaw request.
	ErrConflict

	// ErrInvalidTransition indicates a lifecycle transition that is not
	// defined by the state machine.
	ErrInvalidTransition

	// ErrNoRepositoriesInRange indicates no repository's date range overlaps
	// the requested thaw window.
	ErrNoRepositoriesInRange
)

// String returns a human-readable name for the error code.
func (c ErrorCode) String() string {
	switch c {
	case ErrMissingCatalog:
		return "MissingCatalog"
	case ErrMissingSettings:
		return "MissingSettings"
	case ErrPreconditionFailed:
		return "PreconditionFailed"
	case ErrActionFailed:
		return "ActionFailed"
	case ErrNotFound:
		return "NotFound"
	case ErrConflict:
		return "Conflict"
	case ErrInvalidTransition:
		return "InvalidTransition"
	case ErrNoRepositoriesInRange:
		return "NoRepositoriesInRange"
	default:
		return "Unknown"
	}
}

// Error is a typed catalog error carrying a code, the failed operation,
// and an optional wrapped cause.
type Error struct {
	Code   ErrorCode
	Op     string
	Detail string
	Err    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Op)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a typed catalog error.
func NewError(code ErrorCode, op, detail string) *Error {
	return &Error{Code: code, Op: op, Detail: detail}
}

// WrapError creates a typed catalog error wrapping a cause.
func WrapError(code ErrorCode, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

// CodeOf extracts the ErrorCode from an error chain, or 0 if the chain
// contains no catalog error.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}

// IsCode reports whether the error chain contains a catalog error with the
// given code.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}
