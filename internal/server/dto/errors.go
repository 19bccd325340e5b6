// Package dto defines the HTTP API request and response types and its errors.
//
// Errors are returned by handlers as *APIError and written by the server as
// an ErrorResponse:
//
//	{"error": {"code": "CONFLICT", "message": "..."}, "details": {...}}
package dto

import (
	"fmt"
	"maps"
	"net/http"
	"strconv"
)

// ErrorCode is the machine readable classification of an error.
type ErrorCode string

const (
	// ErrorCodeValidationFailed is returned when the request is malformed.
	ErrorCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	// ErrorCodeMissingField is returned when a required parameter is absent.
	ErrorCodeMissingField ErrorCode = "MISSING_FIELD"
	// ErrorCodeNotFound is returned when a document does not exist.
	ErrorCodeNotFound ErrorCode = "NOT_FOUND"
	// ErrorCodeConflict is returned when a write lost the revision race.
	ErrorCodeConflict ErrorCode = "CONFLICT"
	// ErrorCodePayloadTooLarge is returned when the body exceeds the limit.
	ErrorCodePayloadTooLarge ErrorCode = "PAYLOAD_TOO_LARGE"
	// ErrorCodeRateLimited is returned when the client exhausted its budget.
	ErrorCodeRateLimited ErrorCode = "RATE_LIMITED"
	// ErrorCodeInternal is returned when an unexpected server error occurs.
	ErrorCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// ErrorDetails is the error object of an ErrorResponse.
type ErrorDetails struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   ErrorDetails   `json:"error"`
	Details map[string]any `json:"details,omitempty"`
}

// ErrorWithStatus is an error that knows its HTTP status and code.
type ErrorWithStatus interface {
	error
	StatusCode() int
	Code() ErrorCode
	Details() map[string]any
}

// APIError is the concrete ErrorWithStatus.
type APIError struct {
	statusCode int
	code       ErrorCode
	message    string
	details    map[string]any
	wrappedErr error
}

// NewAPIError returns an APIError without details.
func NewAPIError(statusCode int, code ErrorCode, message string) *APIError {
	return &APIError{statusCode: statusCode, code: code, message: message}
}

// WithDetails merges details into the error.
func (e *APIError) WithDetails(details map[string]any) *APIError {
	if e.details == nil {
		e.details = make(map[string]any, len(details))
	}
	maps.Copy(e.details, details)
	return e
}

// WithDetail sets one detail.
func (e *APIError) WithDetail(key string, value any) *APIError {
	return e.WithDetails(map[string]any{key: value})
}

// Wrap records the underlying error.
func (e *APIError) Wrap(err error) *APIError {
	e.wrappedErr = err
	return e
}

func (e *APIError) Error() string {
	if e.wrappedErr != nil {
		return fmt.Sprintf("%s: %v", e.message, e.wrappedErr)
	}
	return e.message
}

// StatusCode returns the HTTP status code.
func (e *APIError) StatusCode() int {
	return e.statusCode
}

// Code returns the error code.
func (e *APIError) Code() ErrorCode {
	return e.code
}

// Details returns the details, which may be nil.
func (e *APIError) Details() map[string]any {
	return e.details
}

// Unwrap returns the wrapped error if any.
func (e *APIError) Unwrap() error {
	return e.wrappedErr
}

// NotFound creates a 404 error.
func NotFound(resource string) *APIError {
	return NewAPIError(http.StatusNotFound, ErrorCodeNotFound, resource+" not found")
}

// BadRequest creates a 400 error.
func BadRequest(message string) *APIError {
	return NewAPIError(http.StatusBadRequest, ErrorCodeValidationFailed, message)
}

// MissingField creates a 400 error for an absent parameter.
func MissingField(name string) *APIError {
	return NewAPIError(http.StatusBadRequest, ErrorCodeMissingField, "missing required field: "+name)
}

// Conflict creates a 409 error. current is the stored document when it is
// known, and is returned to the client as details.current.
func Conflict(current map[string]any) *APIError {
	e := NewAPIError(http.StatusConflict, ErrorCodeConflict, "revision conflict")
	if current != nil {
		e.WithDetail("current", current)
	}
	return e
}

// PayloadTooLarge creates a 413 error.
func PayloadTooLarge(limit int64) *APIError {
	return NewAPIError(http.StatusRequestEntityTooLarge, ErrorCodePayloadTooLarge, "request body exceeds "+strconv.FormatInt(limit, 10)+" bytes").
		WithDetail("max_bytes", limit)
}

// RateLimited creates a 429 error.
func RateLimited(retryAfter int) *APIError {
	return NewAPIError(http.StatusTooManyRequests, ErrorCodeRateLimited, "rate limit exceeded").
		WithDetail("retry_after", retryAfter)
}

// Internal creates a 500 error.
func Internal(message string) *APIError {
	return NewAPIError(http.StatusInternalServerError, ErrorCodeInternal, message)
}

// InternalWithError creates a 500 error wrapping err.
func InternalWithError(message string, err error) *APIError {
	return Internal(message).Wrap(err)
}
