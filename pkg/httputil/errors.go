// Package httputil provides HTTP handler utilities for consistent error
// handling, JSON encoding/decoding, and request parsing.
package httputil

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/castellanhq/castellan/pkg/token"
)

// Stable machine-readable error codes used in response envelopes.
const (
	CodeValidationError = "VALIDATION_ERROR"
	CodeInvalidJSON     = "INVALID_JSON"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeForbidden       = "FORBIDDEN"
	CodeNotFound        = "NOT_FOUND"
	CodeConflict        = "CONFLICT"
	CodeDuplicateEntry  = "DUPLICATE_ENTRY"
	CodeRoleInUse       = "ROLE_IN_USE"
	CodeImmutableRecord = "AUDIT_LOG_IMMUTABLE"
	CodeInternalError   = "INTERNAL_ERROR"
)

// AppError carries an HTTP status and a stable code alongside the message.
// Handlers return plain errors; Classify turns them into AppErrors at the
// response boundary.
type AppError struct {
	Status  int               `json:"-"`
	Code    string            `json:"error"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
	cause   error
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.cause
}

// NewAppError creates an AppError with an explicit status and code.
func NewAppError(status int, code, message string) *AppError {
	return &AppError{Status: status, Code: code, Message: message}
}

// StatusCoder is implemented by domain errors that carry their own HTTP
// mapping. Classify consumes it; the owning packages stay in charge of
// their status and code choices without httputil importing them.
type StatusCoder interface {
	error
	HTTPStatus() int
	ErrorCode() string
}

// Classify maps a domain error to its HTTP representation. Unrecognized
// errors become 500 INTERNAL_ERROR with the original as cause.
func Classify(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	var coded StatusCoder
	if errors.As(err, &coded) {
		return &AppError{Status: coded.HTTPStatus(), Code: coded.ErrorCode(), Message: err.Error(), cause: err}
	}

	var (
		jsonSyntaxErr *json.SyntaxError
		jsonTypeErr   *json.UnmarshalTypeError
	)

	switch {
	case errors.Is(err, token.ErrInvalidToken), errors.Is(err, token.ErrInvalidTokenFormat):
		return &AppError{Status: http.StatusUnauthorized, Code: CodeUnauthorized, Message: err.Error(), cause: err}
	case errors.As(err, &jsonSyntaxErr), errors.As(err, &jsonTypeErr):
		return &AppError{Status: http.StatusBadRequest, Code: CodeInvalidJSON, Message: "request body is not valid JSON", cause: err}
	case errors.Is(err, sql.ErrNoRows):
		return &AppError{Status: http.StatusNotFound, Code: CodeNotFound, Message: "resource not found", cause: err}
	default:
		return &AppError{Status: http.StatusInternalServerError, Code: CodeInternalError, Message: "internal server error", cause: err}
	}
}
