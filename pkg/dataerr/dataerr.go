// Package dataerr classifies the failures returned by the data-access layer.
//
// Every error produced by the engine carries one of five codes:
//
//   - INVALID_INPUT: caller-supplied data is invalid (ValidationError)
//   - NOT_FOUND: a referenced entity is absent
//   - DATABASE_ERROR: the underlying store failed, including use of a consumed transaction
//   - INTERNAL_ERROR: an engine invariant was violated
//   - CONFLICT: a hash-chain compare-and-swap failed because the row moved on
//
// Cache misses and absent ids are normal values and never reach this package.
package dataerr

import (
	stderrors "errors"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	perr "github.com/jmgilman/go/errors"
)

// ErrTransactionConsumed is returned when a unit of work is used after commit or rollback.
var ErrTransactionConsumed = perr.New(perr.CodeDatabase, "transaction consumed")

// Validation returns a ValidationError.
func Validation(format string, args ...any) error {
	return perr.Newf(perr.CodeInvalidInput, format, args...)
}

// FromValidation converts an ozzo-validation error into a ValidationError.
// Returns nil if err is nil.
func FromValidation(err error, message string) error {
	if err == nil {
		return nil
	}
	var verrs validation.Errors
	if stderrors.As(err, &verrs) {
		wrapped := perr.Wrap(err, perr.CodeInvalidInput, message)
		return perr.WithContext(wrapped, "fields", verrs.Error())
	}
	return perr.Wrap(err, perr.CodeInvalidInput, message)
}

// NotFound returns a NotFound error.
func NotFound(format string, args ...any) error {
	return perr.Newf(perr.CodeNotFound, format, args...)
}

// Conflict returns a Conflict error.
func Conflict(format string, args ...any) error {
	return perr.Newf(perr.CodeConflict, format, args...)
}

// Internal returns an InternalError.
func Internal(format string, args ...any) error {
	return perr.Newf(perr.CodeInternal, format, args...)
}

// Database classifies a store failure. Errors that are already classified pass
// through unchanged so the original code reaches the caller.
func Database(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	if perr.GetCode(err) != perr.CodeUnknown {
		return err
	}
	return perr.Wrap(err, perr.CodeDatabase, fmt.Sprintf(format, args...))
}

func IsValidation(err error) bool { return perr.GetCode(err) == perr.CodeInvalidInput }

func IsNotFound(err error) bool { return perr.GetCode(err) == perr.CodeNotFound }

func IsConflict(err error) bool { return perr.GetCode(err) == perr.CodeConflict }

func IsInternal(err error) bool { return perr.GetCode(err) == perr.CodeInternal }

// IsDatabase reports whether err is a store failure, including ErrTransactionConsumed.
func IsDatabase(err error) bool { return perr.GetCode(err) == perr.CodeDatabase }

// IsConsumed reports whether err stems from using a finished unit of work.
func IsConsumed(err error) bool { return perr.Is(err, ErrTransactionConsumed) }
