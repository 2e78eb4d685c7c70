package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrInvalidCredentials = New("INVALID_CREDENTIALS", http.StatusUnauthorized, "invalid username or password")
	ErrInactiveAccount    = New("ACCOUNT_INACTIVE", http.StatusForbidden, "account is inactive")
	ErrNotFound           = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden          = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized       = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict           = New("CONFLICT", http.StatusConflict, "conflict")
	ErrPreconditionFailed = New("PRECONDITION_FAILED", http.StatusPreconditionFailed, "precondition failed")
	ErrValidation         = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal           = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrCacheMiss          = New("CACHE_MISS", http.StatusNotFound, "cache miss")
)

// FieldError describes a single rejected field within a payload. Index
// points at the offending item for batch payloads, -1 otherwise.
type FieldError struct {
	Index   int    `json:"index"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors aggregates every field failure detected across a payload
// or batch. Callers collect all failures before surfacing, so a single bad
// item never hides its siblings.
type ValidationErrors struct {
	Fields []FieldError `json:"fields"`
}

// Error implements the error interface.
func (v *ValidationErrors) Error() string {
	if v == nil || len(v.Fields) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %d field error(s)", len(v.Fields))
}

// Add appends a field failure for a batch item.
func (v *ValidationErrors) Add(index int, field, message string) {
	v.Fields = append(v.Fields, FieldError{Index: index, Field: field, Message: message})
}

// AddField appends a failure that is not tied to a batch position.
func (v *ValidationErrors) AddField(field, message string) {
	v.Add(-1, field, message)
}

// Empty reports whether any failure has been collected.
func (v *ValidationErrors) Empty() bool {
	return v == nil || len(v.Fields) == 0
}

// AsError converts collected failures into a *Error, or nil when empty.
func (v *ValidationErrors) AsError() *Error {
	if v.Empty() {
		return nil
	}
	return Wrap(v, ErrValidation.Code, ErrValidation.Status, v.Error())
}

// FieldsOf extracts collected field errors from an error chain.
func FieldsOf(err error) []FieldError {
	var v *ValidationErrors
	if errors.As(err, &v) {
		return v.Fields
	}
	return nil
}

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}
