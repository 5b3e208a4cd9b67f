// Package errors provides the error codes shared by the queue store, the sync
// engine and the HTTP surface.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode identifies a class of failure. Codes are stable and appear in logs
// and HTTP error bodies.
type ErrorCode string

const (
	// General errors
	ErrInternal  ErrorCode = "INTERNAL_ERROR"
	ErrInvalid   ErrorCode = "INVALID_INPUT"
	ErrNotFound  ErrorCode = "NOT_FOUND"
	ErrDuplicate ErrorCode = "DUPLICATE"

	// Queue store errors
	ErrStorageUnavailable ErrorCode = "STORAGE_UNAVAILABLE"

	// Replay errors
	ErrUnsupportedOperation  ErrorCode = "UNSUPPORTED_OPERATION"
	ErrNetworkFailure        ErrorCode = "NETWORK_FAILURE"
	ErrCredentialUnavailable ErrorCode = "CREDENTIAL_UNAVAILABLE"

	// Sync errors
	ErrSyncInProgress ErrorCode = "SYNC_IN_PROGRESS"
)

// AppError represents an application error with code and message.
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
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new AppError with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *AppError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is reports whether any AppError in err's chain carries code.
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// CodeOf returns the code of the first AppError in err's chain,
// or ErrInternal when there is none.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}
