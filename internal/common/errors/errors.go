// Package errors provides standardized error handling for the evaluation engine.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodePhaseViolation    ErrorCode = "PHASE_VIOLATION"
	ErrCodeStrategyInvalid   ErrorCode = "STRATEGY_INVALID"
	ErrCodeLLMSchemaError    ErrorCode = "LLM_SCHEMA_ERROR"
	ErrCodeLLMTransientError ErrorCode = "LLM_TRANSIENT_ERROR"
	ErrCodeSearchTimeout     ErrorCode = "SEARCH_TIMEOUT"
	ErrCodeNotFound          ErrorCode = "NOT_FOUND"
	ErrCodeInternal          ErrorCode = "INTERNAL"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// NewPhaseViolationError creates a non-retryable phase transition error.
func NewPhaseViolationError(current, attempted string) *StandardError {
	return &StandardError{
		Code:      ErrCodePhaseViolation,
		Message:   "Operation not allowed in current session phase",
		Details:   fmt.Sprintf("phase: %s, attempted: %s", current, attempted),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewStrategyInvalidError creates a non-retryable strategy validation error.
func NewStrategyInvalidError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeStrategyInvalid,
		Message:   "Evaluation strategy failed validation",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewLLMSchemaError creates a non-retryable structured-output error. The
// gateway raises this only after its repair retries are exhausted.
func NewLLMSchemaError(model string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeLLMSchemaError,
		Message:   "LLM output failed schema validation",
		Details:   fmt.Sprintf("model: %s, error: %s", model, err.Error()),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewLLMTransientError creates a retryable provider error.
func NewLLMTransientError(model string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeLLMTransientError,
		Message:   "LLM provider error",
		Details:   fmt.Sprintf("model: %s, error: %s", model, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewSearchTimeoutError creates a retryable search ceiling error; the session
// stays usable and the search can be run again.
func NewSearchTimeoutError(elapsed time.Duration) *StandardError {
	return &StandardError{
		Code:      ErrCodeSearchTimeout,
		Message:   "Search exceeded its time ceiling",
		Details:   fmt.Sprintf("elapsed: %s", elapsed),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewNotFoundError creates a non-retryable lookup error.
func NewNotFoundError(resource, id string) *StandardError {
	return &StandardError{
		Code:      ErrCodeNotFound,
		Message:   fmt.Sprintf("%s not found", resource),
		Details:   fmt.Sprintf("id: %s", id),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewInternalError wraps an unexpected error.
func NewInternalError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeInternal,
		Message:   "Internal error",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// AsStandard extracts a StandardError from an error chain, wrapping unknown
// errors as internal.
func AsStandard(err error) *StandardError {
	var se *StandardError
	if errors.As(err, &se) {
		return se
	}
	return NewInternalError(err)
}

// HTTPStatus maps an error code to the HTTP status the API responds with.
func HTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodePhaseViolation:
		return http.StatusConflict
	case ErrCodeStrategyInvalid:
		return http.StatusUnprocessableEntity
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeLLMSchemaError, ErrCodeLLMTransientError:
		return http.StatusBadGateway
	case ErrCodeSearchTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// HTTPPayload is the JSON error body returned by every endpoint.
type HTTPPayload struct {
	Error     string `json:"error"`
	Detail    string `json:"detail,omitempty"`
	Retriable bool   `json:"retriable"`
}

// ToHTTPPayload converts any error into the wire error body.
func ToHTTPPayload(err error) (int, HTTPPayload) {
	se := AsStandard(err)
	return HTTPStatus(se.Code), HTTPPayload{
		Error:     string(se.Code),
		Detail:    se.Details,
		Retriable: se.Retryable,
	}
}

// IsRetryable checks whether the error chain carries a retryable StandardError.
func IsRetryable(err error) bool {
	var se *StandardError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return false
}
