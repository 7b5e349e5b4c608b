package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError represents an application error with HTTP status code
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError creates a new AppError
func NewAppError(code, message string, status int, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Status:  status,
		Err:     err,
	}
}

// Common error constructors

// BadRequest creates a 400 error
func BadRequest(message string, err error) *AppError {
	return &AppError{
		Code:    "BAD_REQUEST",
		Message: message,
		Status:  http.StatusBadRequest,
		Err:     err,
	}
}

// Unauthorized creates a 401 error
func Unauthorized(message string, err error) *AppError {
	return &AppError{
		Code:    "UNAUTHORIZED",
		Message: message,
		Status:  http.StatusUnauthorized,
		Err:     err,
	}
}

// Forbidden creates a 403 error
func Forbidden(message string, err error) *AppError {
	return &AppError{
		Code:    "FORBIDDEN",
		Message: message,
		Status:  http.StatusForbidden,
		Err:     err,
	}
}

// NotFound creates a 404 error
func NotFound(message string, err error) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Message: message,
		Status:  http.StatusNotFound,
		Err:     err,
	}
}

// Conflict creates a 409 error
func Conflict(message string, err error) *AppError {
	return &AppError{
		Code:    "CONFLICT",
		Message: message,
		Status:  http.StatusConflict,
		Err:     err,
	}
}

// Internal creates a 500 error
func Internal(message string, err error) *AppError {
	return &AppError{
		Code:    "INTERNAL_ERROR",
		Message: message,
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

// ServiceUnavailable creates a 503 error
func ServiceUnavailable(message string, err error) *AppError {
	return &AppError{
		Code:    "SERVICE_UNAVAILABLE",
		Message: message,
		Status:  http.StatusServiceUnavailable,
		Err:     err,
	}
}

// Domain-specific errors

var (
	ErrTransactionNotFound  = NotFound("Transaction not found", nil)
	ErrInvalidTransactionID = BadRequest("Invalid transaction id", nil)
	ErrInvalidStatusFilter  = BadRequest("Invalid status filter", nil)
)

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// GetAppError attempts to convert an error to AppError
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	// Return generic internal error if not an AppError
	return Internal("An unexpected error occurred", err)
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Pipeline classification.
//
// Consumer loops are the only place offsets are committed. Record handlers
// return plain errors for transient failures (broker, state store, database
// timeouts) and Poison-wrapped errors for records that can never succeed
// (malformed payloads, validation failures). The loop commits past poison
// records after routing them to the error sink; transient errors are
// retried in place and never committed past.

type poisonError struct {
	kind string
	err  error
}

func (e *poisonError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.kind, e.err)
	}
	return e.kind
}

func (e *poisonError) Unwrap() error {
	return e.err
}

// Poison marks err as a poison pill of the given kind. Kind becomes the
// errorType of the error-sink envelope, e.g. "ValidationError".
func Poison(kind string, err error) error {
	return &poisonError{kind: kind, err: err}
}

// IsPoison reports whether err is classified as a poison pill.
func IsPoison(err error) bool {
	var pe *poisonError
	return errors.As(err, &pe)
}

// PoisonKind returns the poison classification, or "" for other errors.
func PoisonKind(err error) string {
	var pe *poisonError
	if errors.As(err, &pe) {
		return pe.kind
	}
	return ""
}
