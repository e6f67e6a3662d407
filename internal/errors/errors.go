package errors

import (
	"errors"
	"fmt"
	"net/http"

	"abstats/domain/core"
)

// Error codes carried by AppError and reported in API error bodies
const (
	CodeConfigInvalid    = "CONFIG_INVALID"
	CodeDatabaseError    = "DATABASE_ERROR"
	CodeExternalService  = "EXTERNAL_SERVICE_ERROR"
	CodeInternalError    = "INTERNAL_ERROR"
	CodeInvalidInput     = "INVALID_INPUT"
	CodeNotFound         = "NOT_FOUND"
	CodeValidationError  = "VALIDATION_ERROR"
	CodeConflict         = "CONFLICT"
	CodeInsufficientData = "INSUFFICIENT_DATA"
	CodeComputation      = "STATISTICAL_COMPUTATION"
)

// AppError is an infrastructure or request failure with a stable code.
// Domain failures stay core sentinels; AppError wraps them when a layer
// needs to add context.
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// New creates an AppError without a cause
func New(code, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Wrap adds context to err. The code of an AppError already in the chain is
// kept; anything else becomes INTERNAL_ERROR.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	code := CodeInternalError
	var appErr *AppError
	if errors.As(err, &appErr) {
		code = appErr.Code
	}
	return &AppError{Code: code, Message: message, Cause: err}
}

// Wrapf is Wrap with a formatted message
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return Wrap(err, fmt.Sprintf(format, args...))
}

// GetCode returns the code of the outermost AppError in the chain, the code
// implied by a domain sentinel, or "UNKNOWN"
func GetCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	switch {
	case err == nil:
		return ""
	case core.IsNotFoundError(err):
		return CodeNotFound
	case core.IsValidationError(err):
		return CodeValidationError
	case core.IsConflictError(err):
		return CodeConflict
	case errors.Is(err, core.ErrInsufficientData):
		return CodeInsufficientData
	case errors.Is(err, core.ErrStatisticalComputation):
		return CodeComputation
	}
	return "UNKNOWN"
}

// HTTPStatus maps an error chain to a response status. Domain sentinels win
// over infrastructure codes.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case core.IsNotFoundError(err):
		return http.StatusNotFound
	case core.IsValidationError(err), errors.Is(err, core.ErrStatisticalComputation):
		return http.StatusUnprocessableEntity
	case core.IsConflictError(err):
		return http.StatusConflict
	case errors.Is(err, core.ErrInsufficientData):
		return http.StatusAccepted
	}
	switch GetCode(err) {
	case CodeInvalidInput:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeDatabaseError, CodeExternalService:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func ConfigInvalid(message string) *AppError {
	return New(CodeConfigInvalid, message)
}

func InvalidInput(message string) *AppError {
	return New(CodeInvalidInput, message)
}

func NotFound(resource string) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", resource))
}

func InternalError(message string) *AppError {
	return New(CodeInternalError, message)
}

func DatabaseErrorf(cause error, format string, args ...interface{}) *AppError {
	return &AppError{
		Code:    CodeDatabaseError,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

func ExternalServiceError(service string, cause error) *AppError {
	return &AppError{
		Code:    CodeExternalService,
		Message: fmt.Sprintf("%s service error", service),
		Cause:   cause,
	}
}
