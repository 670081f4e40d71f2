// Package apperr provides error code definitions for the sync engine.
package apperr

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a unique error code surfaced as record state.
type ErrorCode string

const (
	// General errors
	ErrInternal ErrorCode = "INTERNAL_ERROR"
	ErrInvalid  ErrorCode = "INVALID_INPUT"
	ErrNotFound ErrorCode = "NOT_FOUND"

	// Store errors
	ErrStore     ErrorCode = "STORE_ERROR"
	ErrCorrupt   ErrorCode = "BLOB_CORRUPT"
	ErrDuplicate ErrorCode = "DUPLICATE"

	// Sync errors
	ErrTransient      ErrorCode = "TRANSIENT"
	ErrAssetMissing   ErrorCode = "ASSET_MISSING"
	ErrUploadFailed   ErrorCode = "UPLOAD_FAILED"
	ErrDownloadFailed ErrorCode = "DOWNLOAD_FAILED"
	ErrConsistency    ErrorCode = "CONSISTENCY"
	ErrQuarantined    ErrorCode = "QUARANTINED"
	ErrCancelled      ErrorCode = "CANCELLED"
	ErrBusy           ErrorCode = "BUSY"

	// Geocode errors
	ErrGeocodeFailed ErrorCode = "GEOCODE_FAILED"
)

// AppError represents an engine error with code and message.
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

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is checks if an error carries a specific code, unwrapping as needed.
func Is(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// CodeOf returns the code of an error, or ErrInternal for plain errors.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}

// Transient reports whether the error should re-queue the operation
// without mutating record state.
func Transient(err error) bool {
	return Is(err, ErrTransient) || Is(err, ErrBusy)
}
