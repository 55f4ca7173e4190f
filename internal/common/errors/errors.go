// Package errors provides typed application errors for SparkQ.
// Every error carries a stable dotted code (e.g. "task.wrong_state") that is
// part of the API contract, plus the HTTP status it maps to.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Generic codes used when no entity-specific code applies.
const (
	CodeInvalid     = "request.invalid"
	CodeInternal    = "internal.error"
	CodeUnavailable = "storage.unavailable"
)

// AppError represents an application-specific error with a stable code.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"http_status"`
	Err        error  `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for use with errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Err
}

// NotFound creates a not found error for a resource. The code is derived from
// the resource name, e.g. NotFound("queue", id) → "queue.not_found".
func NotFound(resource, id string) *AppError {
	return &AppError{
		Code:       resource + ".not_found",
		Message:    fmt.Sprintf("%s %q not found", resource, id),
		HTTPStatus: http.StatusNotFound,
	}
}

// Conflict creates a conflict error with an explicit code.
func Conflict(code, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: http.StatusConflict,
	}
}

// WrongState is the conflict returned when a task is not in the state a
// transition requires.
func WrongState(taskID, have, want string) *AppError {
	return Conflict("task.wrong_state",
		fmt.Sprintf("task %q is %s, expected %s", taskID, have, want))
}

// Invalid creates a validation error.
func Invalid(message string) *AppError {
	return &AppError{
		Code:       CodeInvalid,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// InvalidField creates a validation error for a specific field.
func InvalidField(field, message string) *AppError {
	return &AppError{
		Code:       CodeInvalid,
		Message:    fmt.Sprintf("invalid %s: %s", field, message),
		HTTPStatus: http.StatusBadRequest,
	}
}

// Unavailable creates a transient storage error (e.g. lock timeout).
func Unavailable(message string, err error) *AppError {
	return &AppError{
		Code:       CodeUnavailable,
		Message:    message,
		HTTPStatus: http.StatusServiceUnavailable,
		Err:        err,
	}
}

// Internal creates an unexpected internal error with a wrapped cause.
func Internal(message string, err error) *AppError {
	return &AppError{
		Code:       CodeInternal,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// Wrap wraps an existing error with additional context, preserving the code
// and status of an AppError cause.
func Wrap(err error, message string) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return &AppError{
			Code:       appErr.Code,
			Message:    fmt.Sprintf("%s: %s", message, appErr.Message),
			HTTPStatus: appErr.HTTPStatus,
			Err:        err,
		}
	}
	return &AppError{
		Code:       CodeInternal,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// IsNotFound checks if the error maps to 404.
func IsNotFound(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.HTTPStatus == http.StatusNotFound
}

// IsConflict checks if the error maps to 409.
func IsConflict(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.HTTPStatus == http.StatusConflict
}

// IsInvalid checks if the error maps to 400.
func IsInvalid(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.HTTPStatus == http.StatusBadRequest
}

// GetHTTPStatus returns the HTTP status code for an error.
// Returns 500 Internal Server Error if the error is not an AppError.
func GetHTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// GetCode returns the stable code for an error, or "internal.error" if the
// error is not an AppError.
func GetCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}
