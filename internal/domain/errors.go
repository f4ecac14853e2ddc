package domain

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrorCode classifies every failure that crosses a component boundary.
type ErrorCode string

const (
	CodeValidation ErrorCode = "VALIDATION_ERROR"
	CodeNotFound   ErrorCode = "NOT_FOUND"
	CodeExecution  ErrorCode = "EXECUTION_ERROR"
	CodePermission ErrorCode = "PERMISSION_DENIED"
	CodeTimeout    ErrorCode = "TIMEOUT"
)

// FieldError pinpoints a single argument that failed validation.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// Error is the structured envelope surfaced for every failure. A correlation
// ID is always present so a failure can be traced across boundaries.
type Error struct {
	Code          ErrorCode    `json:"code"`
	Message       string       `json:"message"`
	CorrelationID string       `json:"correlation_id"`
	FieldErrors   []FieldError `json:"field_errors,omitempty"`

	cause error
}

// NewError builds an envelope with a fresh correlation ID.
func NewError(code ErrorCode, format string, args ...any) *Error {
	return &Error{
		Code:          code,
		Message:       fmt.Sprintf(format, args...),
		CorrelationID: uuid.NewString(),
	}
}

// Wrap normalizes an arbitrary error into the envelope. Errors that already
// are envelopes pass through unchanged, keeping their correlation ID.
func Wrap(err error) *Error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	e := NewError(CodeExecution, "%s", err.Error())
	e.cause = err
	return e
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause, if any, for errors.Is/As chains.
func (e *Error) Unwrap() error { return e.cause }

// WithField appends a per-field validation detail.
func (e *Error) WithField(field, reason string) *Error {
	e.FieldErrors = append(e.FieldErrors, FieldError{Field: field, Reason: reason})
	return e
}

// IsCode reports whether err is an envelope carrying the given code.
func IsCode(err error, code ErrorCode) bool {
	var de *Error
	return errors.As(err, &de) && de.Code == code
}
