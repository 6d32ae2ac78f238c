// Package errors provides error handling for canvasledger.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - PII-safe error formatting
//
// Usage:
//
//	// Create new error
//	err := errors.New("something went wrong")
//
//	// Wrap with context
//	if err := doSomething(); err != nil {
//	    return errors.Wrap(err, "failed to do something")
//	}
//
//	// Add hints for users
//	return errors.WithHint(err, "run 'cl ingest catalog' first")
//
//	// Check errors
//	if errors.Is(err, errors.ErrNotFound) {
//	    // handle not found
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
)

// User-facing messages and details
var (
	WithHint    = crdb.WithHint
	WithHintf   = crdb.WithHintf
	WithDetail  = crdb.WithDetail
	WithDetailf = crdb.WithDetailf
)

// Error inspection
var (
	Is        = crdb.Is
	IsAny     = crdb.IsAny
	As        = crdb.As
	Unwrap    = crdb.Unwrap
	UnwrapAll = crdb.UnwrapAll

	GetAllHints   = crdb.GetAllHints
	GetAllDetails = crdb.GetAllDetails
	FlattenHints  = crdb.FlattenHints
)

// Mark associates err with the reference errors for errors.Is matching
// without changing its message. Used to tag failures with classification
// sentinels while preserving the original cause chain.
var Mark = crdb.Mark

// Stack trace access
var GetReportableStackTrace = crdb.GetReportableStackTrace

// GetStack is an alias for GetReportableStackTrace for convenience.
var GetStack = crdb.GetReportableStackTrace

// Sentinel errors forming the ledger's error taxonomy.
// Use these with errors.Is() for type-safe checking, and wrap them with
// errors.Wrap() to add context while preserving the classification.
var (
	// ErrNotFound indicates a referenced external id has no local record
	ErrNotFound = New("not found")

	// ErrValidation indicates malformed or rejected input
	ErrValidation = New("validation failed")

	// ErrConflict indicates a uniqueness conflict (duplicate alias name,
	// offering already a member)
	ErrConflict = New("conflict")

	// ErrTransientFetch indicates the fetch collaborator failed
	// (network, auth, remote error); the active run is aborted but the
	// ledger is untouched
	ErrTransientFetch = New("transient fetch failure")

	// ErrFatalStore indicates the underlying storage is unwritable or
	// corrupt; the operation halts and is not retried
	ErrFatalStore = New("fatal store failure")

	// ErrLedgerBusy indicates another ingestion run currently holds the
	// ledger's run lock
	ErrLedgerBusy = New("ledger busy")
)

// IsNotFound checks if an error is or wraps ErrNotFound.
func IsNotFound(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsValidation checks if an error is or wraps ErrValidation
func IsValidation(err error) bool {
	return err != nil && Is(err, ErrValidation)
}

// IsConflict checks if an error is or wraps ErrConflict
func IsConflict(err error) bool {
	return err != nil && Is(err, ErrConflict)
}

// IsTransientFetch checks if an error is or wraps ErrTransientFetch
func IsTransientFetch(err error) bool {
	return err != nil && Is(err, ErrTransientFetch)
}

// IsFatalStore checks if an error is or wraps ErrFatalStore
func IsFatalStore(err error) bool {
	return err != nil && Is(err, ErrFatalStore)
}

// IsLedgerBusy checks if an error is or wraps ErrLedgerBusy
func IsLedgerBusy(err error) bool {
	return err != nil && Is(err, ErrLedgerBusy)
}

// NewNotFoundf creates a not-found error with a formatted message
func NewNotFoundf(format string, args ...interface{}) error {
	return Wrap(ErrNotFound, Newf(format, args...).Error())
}

// NewValidationf creates a validation error with a formatted message
func NewValidationf(format string, args ...interface{}) error {
	return Wrap(ErrValidation, Newf(format, args...).Error())
}

// NewConflictf creates a conflict error with a formatted message
func NewConflictf(format string, args ...interface{}) error {
	return Wrap(ErrConflict, Newf(format, args...).Error())
}
