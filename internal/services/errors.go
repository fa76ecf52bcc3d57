package services

import (
	"errors"
	"fmt"
	"net/http"
)

// Error types
const (
	ErrorTypeValidation         = "VALIDATION_ERROR"
	ErrorTypeNotFound           = "NOT_FOUND"
	ErrorTypeStorage            = "STORAGE_ERROR"
	ErrorTypeInternal           = "INTERNAL_ERROR"
	ErrorTypeServiceUnavailable = "SERVICE_UNAVAILABLE"
	ErrorTypeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
)

// ServiceError represents a structured service error
type ServiceError struct {
	Type       string                 `json:"type"`
	Message    string                 `json:"message"`
	Code       string                 `json:"code,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	StatusCode int                    `json:"-"`
	Cause      error                  `json:"-"`
}

// Error implements the error interface
func (e *ServiceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *ServiceError) Unwrap() error {
	return e.Cause
}

// GetStatusCode returns the HTTP status code for this error
func (e *ServiceError) GetStatusCode() int {
	if e.StatusCode > 0 {
		return e.StatusCode
	}
	return http.StatusInternalServerError
}

// WithDetail attaches a key/value to the error details
func (e *ServiceError) WithDetail(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ===============================
// ERROR CONSTRUCTORS
// ===============================

// NewValidationError creates a validation error
func NewValidationError(message string, cause error) *ServiceError {
	return &ServiceError{
		Type:       ErrorTypeValidation,
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Cause:      cause,
	}
}

// NewNotFoundError creates a not found error
func NewNotFoundError(message string) *ServiceError {
	return &ServiceError{
		Type:       ErrorTypeNotFound,
		Message:    message,
		StatusCode: http.StatusNotFound,
	}
}

// NewStorageError wraps a local persistence failure
func NewStorageError(message string, cause error) *ServiceError {
	return &ServiceError{
		Type:       ErrorTypeStorage,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Cause:      cause,
	}
}

// NewInternalError creates an internal server error
func NewInternalError(message string) *ServiceError {
	return &ServiceError{
		Type:       ErrorTypeInternal,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
	}
}

// NewServiceUnavailableError creates a service unavailable error
func NewServiceUnavailableError(message string) *ServiceError {
	return &ServiceError{
		Type:       ErrorTypeServiceUnavailable,
		Message:    message,
		StatusCode: http.StatusServiceUnavailable,
	}
}

// NewMethodNotAllowedError creates an error for a known path called with
// the wrong HTTP method
func NewMethodNotAllowedError(method string) *ServiceError {
	return &ServiceError{
		Type:       ErrorTypeMethodNotAllowed,
		Message:    fmt.Sprintf("Method %s not allowed", method),
		StatusCode: http.StatusMethodNotAllowed,
	}
}

// EntityNotFoundError creates a standard entity not found error
func EntityNotFoundError(entityType string, id interface{}) *ServiceError {
	return NewNotFoundError(fmt.Sprintf("%s not found", entityType)).WithDetail("id", id)
}

// ===============================
// ERROR HELPERS
// ===============================

// GetServiceError extracts a ServiceError from the error chain
func GetServiceError(err error) *ServiceError {
	var se *ServiceError
	if errors.As(err, &se) {
		return se
	}
	return nil
}

// IsErrorType checks the type of a ServiceError in the chain
func IsErrorType(err error, errorType string) bool {
	se := GetServiceError(err)
	return se != nil && se.Type == errorType
}

// IsNotFoundError checks if error is a not found error
func IsNotFoundError(err error) bool {
	return IsErrorType(err, ErrorTypeNotFound)
}

// IsValidationError checks if error is a validation error
func IsValidationError(err error) bool {
	return IsErrorType(err, ErrorTypeValidation)
}

// IsStorageError checks if error is a storage error
func IsStorageError(err error) bool {
	return IsErrorType(err, ErrorTypeStorage)
}
