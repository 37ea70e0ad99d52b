// Package apperr is the error taxonomy shared by services and handlers.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Code classifies a failure. Callers decide whether to retry from the code alone.
type Code string

const (
	CodeValidation   Code = "VALIDATION_ERROR"
	CodeUnauthorized Code = "UNAUTHORIZED"
	CodeForbidden    Code = "FORBIDDEN"
	CodeNotFound     Code = "NOT_FOUND"
	CodeConflict     Code = "CONFLICT"
	CodeTooEarly     Code = "TOO_EARLY"
	CodeRateLimited  Code = "RATE_LIMITED"
	CodeUpstream     Code = "UPSTREAM_FAILURE"
	CodeInternal     Code = "INTERNAL"
)

// Error carries a Code plus what the caller is allowed to see.
type Error struct {
	Code       Code
	Op         string
	Message    string
	Cause      error
	Details    map[string]any
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	op := strings.TrimSpace(e.Op)
	msg := strings.TrimSpace(e.Message)
	switch {
	case op != "" && msg != "":
		return fmt.Sprintf("%s: %s (%s)", op, msg, e.Code)
	case msg != "":
		return fmt.Sprintf("%s (%s)", msg, e.Code)
	case op != "":
		return fmt.Sprintf("%s (%s)", op, e.Code)
	default:
		return string(e.Code)
	}
}

func (e *Error) Unwrap() error { return e.Cause }

// WithDetail attaches a caller-visible key/value and returns e.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	e.Details[key] = value
	return e
}

// New builds an error with an explicit code.
func New(code Code, op, message string, cause error) *Error {
	return &Error{Code: code, Op: strings.TrimSpace(op), Message: strings.TrimSpace(message), Cause: cause}
}

func Validation(op, message string) *Error { return New(CodeValidation, op, message, nil) }

// Unauthorized always uses the same message so callers learn nothing about why.
func Unauthorized(op string) *Error { return New(CodeUnauthorized, op, "invalid credentials", nil) }

func Forbidden(op string) *Error { return New(CodeForbidden, op, "not allowed", nil) }

func NotFound(op, what string) *Error { return New(CodeNotFound, op, what+" not found", nil) }

func Conflict(op, message string) *Error { return New(CodeConflict, op, message, nil) }

func TooEarly(op, message string, retryAfter time.Duration) *Error {
	e := New(CodeTooEarly, op, message, nil)
	e.RetryAfter = retryAfter
	return e
}

func RateLimited(op string, retryAfter time.Duration) *Error {
	e := New(CodeRateLimited, op, "too many requests, please wait before trying again", nil)
	e.RetryAfter = retryAfter
	return e
}

func Upstream(op string, cause error) *Error {
	return New(CodeUpstream, op, "upstream service unavailable", cause)
}

// Internal hides the cause from the message; handlers log it.
func Internal(op string, cause error) *Error {
	return New(CodeInternal, op, "internal error", cause)
}

// CodeOf extracts the code, treating anything untyped as INTERNAL.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

// IsCode checks whether err carries code.
func IsCode(err error, code Code) bool {
	var appErr *Error
	return errors.As(err, &appErr) && appErr.Code == code
}

// As returns the typed error, wrapping untyped errors as INTERNAL.
func As(err error) *Error {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal("", err)
}

// Retryable reports whether a caller may retry the same request later.
func Retryable(code Code) bool {
	switch code {
	case CodeTooEarly, CodeRateLimited, CodeUpstream:
		return true
	default:
		return false
	}
}

// HTTPStatus maps a code onto the HTTP status handlers answer with.
func HTTPStatus(code Code) int {
	switch code {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeTooEarly:
		return http.StatusTooEarly
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
