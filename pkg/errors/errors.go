package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// Request errors
	ErrorTypeValidation   ErrorType = "VALIDATION"
	ErrorTypeNotFound     ErrorType = "NOT_FOUND"
	ErrorTypeUnauthorized ErrorType = "UNAUTHORIZED"
	ErrorTypeConflict     ErrorType = "CONFLICT"

	// Session errors
	ErrorTypeLoadFailed  ErrorType = "LOAD_FAILED"
	ErrorTypeWriteFailed ErrorType = "WRITE_FAILED"

	// Infrastructure errors
	ErrorTypeStore       ErrorType = "STORE"
	ErrorTypeUnavailable ErrorType = "UNAVAILABLE"
	ErrorTypeInternal    ErrorType = "INTERNAL"
)

// AppError is an error with a type the transports can map to a response
type AppError struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	Cause      error     `json:"-"`
	HTTPStatus int       `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithCause records the error this one was raised for
func (e *AppError) WithCause(err error) *AppError {
	e.Cause = err
	return e
}

func newError(errType ErrorType, status int, message string) *AppError {
	return &AppError{Type: errType, Message: message, HTTPStatus: status}
}

// NewValidationError creates a validation error
func NewValidationError(message string) *AppError {
	return newError(ErrorTypeValidation, http.StatusBadRequest, message)
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string) *AppError {
	return newError(ErrorTypeNotFound, http.StatusNotFound, fmt.Sprintf("%s not found", resource))
}

// NewUnauthorizedError creates an unauthorized error
func NewUnauthorizedError(message string) *AppError {
	if message == "" {
		message = "unauthorized"
	}
	return newError(ErrorTypeUnauthorized, http.StatusUnauthorized, message)
}

// NewConflictError creates a conflict error
func NewConflictError(message string) *AppError {
	return newError(ErrorTypeConflict, http.StatusConflict, message)
}

// NewLoadError reports that a map session could not be opened. The caller is
// expected to abandon the session.
func NewLoadError(mapID string, err error) *AppError {
	return newError(ErrorTypeLoadFailed, http.StatusNotFound,
		fmt.Sprintf("map '%s' could not be loaded", mapID)).WithCause(err)
}

// NewWriteError reports a persistence write that exhausted its retries.
func NewWriteError(stream string, err error) *AppError {
	return newError(ErrorTypeWriteFailed, http.StatusServiceUnavailable,
		fmt.Sprintf("%s snapshot not saved", stream)).WithCause(err)
}

// NewStoreError creates a shared store error
func NewStoreError(operation string, err error) *AppError {
	return newError(ErrorTypeStore, http.StatusInternalServerError,
		fmt.Sprintf("store operation '%s' failed", operation)).WithCause(err)
}

// NewUnavailableError creates a service unavailable error
func NewUnavailableError(service string) *AppError {
	return newError(ErrorTypeUnavailable, http.StatusServiceUnavailable,
		fmt.Sprintf("service '%s' is unavailable", service))
}

// GetAppError extracts the outermost AppError from an error chain
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// IsType checks if any AppError in the chain has the given type
func IsType(err error, errType ErrorType) bool {
	for err != nil {
		appErr := GetAppError(err)
		if appErr == nil {
			return false
		}
		if appErr.Type == errType {
			return true
		}
		err = appErr.Cause
	}
	return false
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return IsType(err, ErrorTypeNotFound)
}

// IsValidation checks if an error is a validation error
func IsValidation(err error) bool {
	return IsType(err, ErrorTypeValidation)
}

// IsLoadFailure checks if an error means the session must be abandoned
func IsLoadFailure(err error) bool {
	return IsType(err, ErrorTypeLoadFailed)
}

// HTTPStatus returns the status code for an error, defaulting to 500
func HTTPStatus(err error) int {
	if appErr := GetAppError(err); appErr != nil && appErr.HTTPStatus != 0 {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
