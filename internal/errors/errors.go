// Package errors defines the error taxonomy of the sync core.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode classifies a failure for callers that must degrade instead of crash.
type ErrorCode string

const (
	// Local persistence could not open, read or write.
	ErrStorageUnavailable ErrorCode = "STORAGE_UNAVAILABLE"
	// The batch call did not complete: network error, timeout, non-2xx, bad body.
	ErrTransportFailure ErrorCode = "TRANSPORT_FAILURE"
	// The server explicitly rejected a record.
	ErrRecordRejected ErrorCode = "RECORD_REJECTED"
	// The server response omitted a submitted record.
	ErrMissingOutcome ErrorCode = "MISSING_OUTCOME"

	ErrNotFound          ErrorCode = "NOT_FOUND"
	ErrInvalid           ErrorCode = "INVALID_INPUT"
	ErrInvalidTransition ErrorCode = "INVALID_TRANSITION"
)

// AppError represents an error with a taxonomy code.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Newf creates a new AppError with a formatted message.
func Newf(code ErrorCode, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// Is reports whether any error in err's chain is an AppError with code.
func Is(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// CodeOf returns the code of the first AppError in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}
