// Package errors provides error handling for scribe.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - Hints and details for user-facing messages
//   - Marks, so a wrapped error can be matched against a category with Is
//
// Usage:
//
//	if err := doSomething(); err != nil {
//	    return errors.Wrap(err, "failed to do something")
//	}
//
//	// Categorise an error without changing its message
//	return errors.Mark(err, errors.ErrTransientRemote)
//
//	if errors.Is(err, errors.ErrTransientRemote) {
//	    // retry later
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
	Mark         = crdb.Mark
)

// User-facing messages and details
var (
	WithHint           = crdb.WithHint
	WithHintf          = crdb.WithHintf
	WithDetail         = crdb.WithDetail
	WithDetailf        = crdb.WithDetailf
	WithSecondaryError = crdb.WithSecondaryError
)

// Error inspection
var (
	Is             = crdb.Is
	IsAny          = crdb.IsAny
	As             = crdb.As
	Unwrap         = crdb.Unwrap
	UnwrapAll      = crdb.UnwrapAll
	GetAllHints    = crdb.GetAllHints
	GetAllDetails  = crdb.GetAllDetails
	FlattenHints   = crdb.FlattenHints
	FlattenDetails = crdb.FlattenDetails
)

// Stack traces and assertions
var (
	GetReportableStackTrace = crdb.GetReportableStackTrace
	AssertionFailedf        = crdb.AssertionFailedf
)

// GetStack is an alias for GetReportableStackTrace for convenience.
var GetStack = crdb.GetReportableStackTrace

// General sentinel errors.
var (
	// ErrNotFound indicates the requested resource does not exist
	ErrNotFound = New("not found")

	// ErrInvalidRequest indicates the request was malformed or invalid
	ErrInvalidRequest = New("invalid request")

	// ErrTimeout indicates an operation timed out
	ErrTimeout = New("operation timed out")

	// ErrConflict indicates a resource conflict (e.g., duplicate key)
	ErrConflict = New("resource conflict")
)

// Pipeline error taxonomy. Producers attach these with Mark; consumers
// match them with Is.
var (
	// ErrInput marks a missing or unusable input file. Never retried.
	ErrInput = New("input error")

	// ErrIO marks a local read/write failure that may clear up on its own.
	ErrIO = New("i/o error")

	// ErrTransientRemote marks a network failure, timeout, 5xx or 429 that
	// survived the remote client's own retries.
	ErrTransientRemote = New("transient remote error")

	// ErrProviderRejection marks a 4xx (other than 429/408) from the provider.
	ErrProviderRejection = New("provider rejection")

	// ErrVerification marks a downloaded artifact that failed its structural check.
	ErrVerification = New("verification error")
)

// IsNotFoundError checks if an error is or wraps ErrNotFound.
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsInvalidRequestError checks if an error is or wraps ErrInvalidRequest
func IsInvalidRequestError(err error) bool {
	return err != nil && Is(err, ErrInvalidRequest)
}

// NewNotFoundError creates a not-found error with a formatted message
func NewNotFoundError(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrNotFound)
}

// NewInvalidRequestError creates an invalid-request error with a formatted message
func NewInvalidRequestError(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrInvalidRequest)
}

// NewInputError creates an input error with a formatted message
func NewInputError(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrInput)
}
