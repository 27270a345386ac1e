// Package apperr holds the error taxonomy surfaced by the invite, RSVP and
// check-in engine. Validation failures carry an HTTP-like code and a stable
// reason so the calling layer can render a message without string matching.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Reasons attached to validation errors
const (
	ReasonNotFound       = "not_found"
	ReasonTenantMismatch = "tenant_mismatch"
	ReasonRevoked        = "revoked"
	ReasonExpired        = "expired"
	ReasonExhausted      = "uses_exhausted"
	ReasonForbidden      = "forbidden"
	ReasonInvalid        = "invalid"
	ReasonInvalidAnswer  = "invalid_answer"
	ReasonInvalidCode    = "invalid_code"
	ReasonInvalidMethod  = "invalid_method"
	ReasonEventClosed    = "event_closed"
	ReasonEventInactive  = "event_inactive"
	ReasonBadTransition  = "invalid_transition"
	ReasonHouseholdFull  = "household_full"
)

// ValidationError is a caller-facing failure with an HTTP-like status code.
type ValidationError struct {
	Code    int
	Reason  string
	Message string
	// Field names the offending input, e.g. a question label.
	Field string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s (%s): %s", e.Message, e.Field, e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Message, e.Reason)
}

func newValidation(code int, reason, format string, args ...any) *ValidationError {
	return &ValidationError{Code: code, Reason: reason, Message: fmt.Sprintf(format, args...)}
}

func NotFound(reason, format string, args ...any) *ValidationError {
	return newValidation(http.StatusNotFound, reason, format, args...)
}

func Conflict(reason, format string, args ...any) *ValidationError {
	return newValidation(http.StatusConflict, reason, format, args...)
}

func Gone(reason, format string, args ...any) *ValidationError {
	return newValidation(http.StatusGone, reason, format, args...)
}

func Invalid(reason, format string, args ...any) *ValidationError {
	return newValidation(http.StatusUnprocessableEntity, reason, format, args...)
}

func Forbidden(format string, args ...any) *ValidationError {
	return newValidation(http.StatusForbidden, ReasonForbidden, format, args...)
}

// InvalidField is an Invalid error naming the offending field.
func InvalidField(reason, field, format string, args ...any) *ValidationError {
	e := Invalid(reason, format, args...)
	e.Field = field
	return e
}

// CodeOf returns the status code of a validation error, or 500.
func CodeOf(err error) int {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Code
	}
	return http.StatusInternalServerError
}

// HasReason reports whether err is a validation error with the given reason.
func HasReason(err error, reason string) bool {
	var ve *ValidationError
	return errors.As(err, &ve) && ve.Reason == reason
}

// ErrUnsupported is matched by every UnsupportedError.
var ErrUnsupported = errors.New("unsupported operation")

// UnsupportedError reports an operation the persisted schema cannot support.
type UnsupportedError struct {
	Operation string
	Missing   string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("%s is not supported: schema lacks %s", e.Operation, e.Missing)
}

func (e *UnsupportedError) Is(target error) bool {
	return target == ErrUnsupported
}

// TransientError wraps a delivery transport failure. It is recorded as a
// failed delivery and never returned from the engine's public operations.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}
