// internal/errors/errors.go
package errors

import (
	"errors"
	"fmt"
)

// ErrorType classifies application errors
type ErrorType string

const (
	// transport errors
	ErrorTypeNetworkFailure  ErrorType = "network_failure"
	ErrorTypeInvalidPayload  ErrorType = "invalid_payload"
	ErrorTypeBackendRejected ErrorType = "backend_rejected"

	// store errors
	ErrorTypeIndexOutOfRange ErrorType = "index_out_of_range"
	ErrorTypeStaleResponse   ErrorType = "stale_response_discarded"

	// general errors
	ErrorTypeValidation ErrorType = "validation_error"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeCanceled   ErrorType = "canceled"
)

// AppError is the application error envelope
type AppError struct {
	Type    ErrorType
	Message string
	Err     error
	Code    string // user facing code
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap supports errors.Is / errors.As chains
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError creates a new AppError
func NewAppError(errType ErrorType, message string, originalError error) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Err:     originalError,
		Code:    generateErrorCode(errType),
	}
}

// NewNetworkFailure reports a request that produced no response
func NewNetworkFailure(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeNetworkFailure, message, originalError)
}

// NewInvalidPayload reports a response missing or malforming required fields
func NewInvalidPayload(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeInvalidPayload, message, originalError)
}

// NewBackendRejected reports a non-2xx answer from the generation backend
func NewBackendRejected(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeBackendRejected, message, originalError)
}

// NewIndexOutOfRange reports a positional reference the store no longer recognises
func NewIndexOutOfRange(message string) *AppError {
	return NewAppError(ErrorTypeIndexOutOfRange, message, nil)
}

// NewStaleResponse signals a deliberately discarded async result. It is not a failure.
func NewStaleResponse(message string) *AppError {
	return NewAppError(ErrorTypeStaleResponse, message, nil)
}

// NewValidationError creates a validation error
func NewValidationError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeValidation, message, originalError)
}

// NewNotFoundError creates a not found error
func NewNotFoundError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeNotFound, message, originalError)
}

// NewCanceledError reports an operation abandoned through its context
func NewCanceledError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeCanceled, message, originalError)
}

// TypeOf returns the ErrorType of err, or "" when err is not an AppError
func TypeOf(err error) ErrorType {
	var appError *AppError
	if errors.As(err, &appError) {
		return appError.Type
	}
	return ""
}

// IsNetworkFailure checks for a transport level failure
func IsNetworkFailure(err error) bool {
	return TypeOf(err) == ErrorTypeNetworkFailure
}

// IsInvalidPayload checks for a malformed backend response
func IsInvalidPayload(err error) bool {
	return TypeOf(err) == ErrorTypeInvalidPayload
}

// IsBackendRejected checks for a non-2xx backend answer
func IsBackendRejected(err error) bool {
	return TypeOf(err) == ErrorTypeBackendRejected
}

// IsIndexOutOfRange checks for a stale positional reference
func IsIndexOutOfRange(err error) bool {
	return TypeOf(err) == ErrorTypeIndexOutOfRange
}

// IsStaleResponse checks for a discarded async result
func IsStaleResponse(err error) bool {
	return TypeOf(err) == ErrorTypeStaleResponse
}

// IsValidationError checks for a validation error
func IsValidationError(err error) bool {
	return TypeOf(err) == ErrorTypeValidation
}

// IsNotFoundError checks for a not found error
func IsNotFoundError(err error) bool {
	return TypeOf(err) == ErrorTypeNotFound
}

// IsCanceled checks for an abandoned operation
func IsCanceled(err error) bool {
	return TypeOf(err) == ErrorTypeCanceled
}

// generateErrorCode maps an error type to its user facing code
func generateErrorCode(errType ErrorType) string {
	switch errType {
	case ErrorTypeNetworkFailure:
		return "NETWORK_FAILURE"
	case ErrorTypeInvalidPayload:
		return "INVALID_PAYLOAD"
	case ErrorTypeBackendRejected:
		return "BACKEND_REJECTED"
	case ErrorTypeIndexOutOfRange:
		return "INDEX_OUT_OF_RANGE"
	case ErrorTypeStaleResponse:
		return "STALE_RESPONSE_DISCARDED"
	case ErrorTypeValidation:
		return "VALIDATION_ERROR"
	case ErrorTypeNotFound:
		return "NOT_FOUND"
	case ErrorTypeCanceled:
		return "CANCELED"
	default:
		return "UNKNOWN_ERROR"
	}
}

// WrapError prefixes err with message, keeping the AppError type when present
func WrapError(err error, message string, errType ErrorType) error {
	if err == nil {
		return nil
	}

	var appError *AppError
	if errors.As(err, &appError) {
		return &AppError{
			Type:    appError.Type,
			Message: fmt.Sprintf("%s: %s", message, appError.Message),
			Err:     appError,
			Code:    appError.Code,
		}
	}

	return NewAppError(errType, message, err)
}
