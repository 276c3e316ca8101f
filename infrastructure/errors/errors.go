// Package errors provides unified, structured error handling for kira.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unique error code.
type ErrorCode string

const (
	// Authentication errors (1xxx)
	ErrCodeUnauthorized ErrorCode = "AUTH_1001"
	ErrCodeInvalidToken ErrorCode = "AUTH_1002"
	ErrCodeTokenExpired ErrorCode = "AUTH_1003"

	// Authorization errors (2xxx)
	ErrCodeForbidden ErrorCode = "AUTHZ_2001"

	// Validation errors (3xxx)
	ErrCodeInvalidInput     ErrorCode = "VAL_3001"
	ErrCodeMissingParameter ErrorCode = "VAL_3002"
	ErrCodeInvalidFormat    ErrorCode = "VAL_3003"
	ErrCodeOutOfRange       ErrorCode = "VAL_3004"

	// Resource errors (4xxx)
	ErrCodeNotFound      ErrorCode = "RES_4001"
	ErrCodeAlreadyExists ErrorCode = "RES_4002"
	ErrCodeConflict      ErrorCode = "RES_4003"

	// Service errors (5xxx)
	ErrCodeInternal          ErrorCode = "SVC_5001"
	ErrCodeExternalAPI       ErrorCode = "SVC_5004"
	ErrCodeTimeout           ErrorCode = "SVC_5005"
	ErrCodeRateLimitExceeded ErrorCode = "SVC_5006"

	// kira domain errors — appended to the error code space above for the
	// task FSM, dedupe store, agent graph budget enforcement and policy
	// enforcer, none of which existed in the original code space.
	ErrCodeInvalidTransition ErrorCode = "VAL_KIRA_FSM"
	ErrCodeDuplicateEvent    ErrorCode = "RES_KIRA_DUP"
	ErrCodeBudgetExceeded    ErrorCode = "SVC_KIRA_BUDGET"
	ErrCodePolicyDenied      ErrorCode = "AUTHZ_KIRA_POLICY"
)

// ServiceError represents a structured error with code, message and details.
//
// HTTPStatus is retained for shape parity with callers that render errors in
// a JSON envelope (the CLI trace output); kira has no HTTP surface of its own.
type ServiceError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Err        error                  `json:"-"`
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// WithDetails adds additional details to the error.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a new ServiceError.
func New(code ErrorCode, message string, httpStatus int) *ServiceError {
	return &ServiceError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an existing error with a ServiceError.
func Wrap(code ErrorCode, message string, httpStatus int, err error) *ServiceError {
	return &ServiceError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// Authentication errors

func Unauthorized(message string) *ServiceError {
	return New(ErrCodeUnauthorized, message, http.StatusUnauthorized)
}

func InvalidToken(err error) *ServiceError {
	return Wrap(ErrCodeInvalidToken, "invalid authentication token", http.StatusUnauthorized, err)
}

func TokenExpired() *ServiceError {
	return New(ErrCodeTokenExpired, "authentication token has expired", http.StatusUnauthorized)
}

// Authorization errors

func Forbidden(message string) *ServiceError {
	return New(ErrCodeForbidden, message, http.StatusForbidden)
}

// Validation errors

func InvalidInput(field, reason string) *ServiceError {
	return New(ErrCodeInvalidInput, "invalid input", http.StatusBadRequest).
		WithDetails("field", field).
		WithDetails("reason", reason)
}

func MissingParameter(param string) *ServiceError {
	return New(ErrCodeMissingParameter, "missing required parameter", http.StatusBadRequest).
		WithDetails("parameter", param)
}

func InvalidFormat(field, expected string) *ServiceError {
	return New(ErrCodeInvalidFormat, "invalid format", http.StatusBadRequest).
		WithDetails("field", field).
		WithDetails("expected", expected)
}

func OutOfRange(field string, minValue, maxValue interface{}) *ServiceError {
	return New(ErrCodeOutOfRange, "value out of range", http.StatusBadRequest).
		WithDetails("field", field).
		WithDetails("min", minValue).
		WithDetails("max", maxValue)
}

// Resource errors

func NotFound(resource, id string) *ServiceError {
	return New(ErrCodeNotFound, "resource not found", http.StatusNotFound).
		WithDetails("resource", resource).
		WithDetails("id", id)
}

func AlreadyExists(resource, id string) *ServiceError {
	return New(ErrCodeAlreadyExists, "resource already exists", http.StatusConflict).
		WithDetails("resource", resource).
		WithDetails("id", id)
}

func Conflict(message string) *ServiceError {
	return New(ErrCodeConflict, message, http.StatusConflict)
}

// Service errors

func Internal(message string, err error) *ServiceError {
	return Wrap(ErrCodeInternal, message, http.StatusInternalServerError, err)
}

func ExternalAPIError(service string, err error) *ServiceError {
	return Wrap(ErrCodeExternalAPI, "external API call failed", http.StatusBadGateway, err).
		WithDetails("service", service)
}

func Timeout(operation string) *ServiceError {
	return New(ErrCodeTimeout, "operation timed out", http.StatusGatewayTimeout).
		WithDetails("operation", operation)
}

func RateLimitExceeded(limit int, window string) *ServiceError {
	return New(ErrCodeRateLimitExceeded, "rate limit exceeded", http.StatusTooManyRequests).
		WithDetails("limit", limit).
		WithDetails("window", window)
}

// kira domain errors

// InvalidTransition reports a task FSM guard rejecting a state change.
func InvalidTransition(from, to, reason string) *ServiceError {
	return New(ErrCodeInvalidTransition, "invalid task state transition", http.StatusConflict).
		WithDetails("from", from).
		WithDetails("to", to).
		WithDetails("reason", reason)
}

// DuplicateEvent reports an event suppressed by the idempotency store.
func DuplicateEvent(fingerprint string) *ServiceError {
	return New(ErrCodeDuplicateEvent, "duplicate event suppressed", http.StatusConflict).
		WithDetails("fingerprint", fingerprint)
}

// BudgetExceeded reports an agent graph run aborted by budget enforcement.
func BudgetExceeded(kind string, limit int) *ServiceError {
	return New(ErrCodeBudgetExceeded, "agent run budget exceeded", http.StatusServiceUnavailable).
		WithDetails("kind", kind).
		WithDetails("limit", limit)
}

// PolicyDenied reports a tool call rejected by the capability policy enforcer.
func PolicyDenied(tool, capability string) *ServiceError {
	return New(ErrCodePolicyDenied, "policy denied tool invocation", http.StatusForbidden).
		WithDetails("tool", tool).
		WithDetails("capability", capability)
}

// Helper functions

// IsServiceError checks if an error is a ServiceError.
func IsServiceError(err error) bool {
	var serviceErr *ServiceError
	return errors.As(err, &serviceErr)
}

// GetServiceError extracts a ServiceError from an error chain.
func GetServiceError(err error) *ServiceError {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr
	}
	return nil
}

// GetHTTPStatus returns the HTTP status code associated with an error.
func GetHTTPStatus(err error) int {
	if serviceErr := GetServiceError(err); serviceErr != nil {
		return serviceErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
