// Package apperr defines the error taxonomy shared by every service.
// Services return *Error values; the HTTP layer maps their codes to
// status codes without inspecting messages.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies an error for transport mapping
type Code string

const (
	CodeBadRequest           Code = "BAD_REQUEST"
	CodeInsufficientFunds    Code = "INSUFFICIENT_FUNDS"
	CodeInsufficientHoldings Code = "INSUFFICIENT_HOLDINGS"
	CodePriceUnavailable     Code = "PRICE_UNAVAILABLE"
	CodeNotFound             Code = "NOT_FOUND"
	CodeUnauthorized         Code = "UNAUTHORIZED"
	CodeConflict             Code = "CONFLICT"
	CodeRateLimit            Code = "RATE_LIMIT"
	CodeInternal             Code = "INTERNAL_ERROR"
)

// Error carries a code alongside the message and an optional cause
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an error with the given code
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying cause
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func BadRequest(format string, args ...any) *Error {
	return New(CodeBadRequest, format, args...)
}

func InsufficientFunds(format string, args ...any) *Error {
	return New(CodeInsufficientFunds, format, args...)
}

func InsufficientHoldings(format string, args ...any) *Error {
	return New(CodeInsufficientHoldings, format, args...)
}

func PriceUnavailable(cause error, format string, args ...any) *Error {
	return Wrap(CodePriceUnavailable, cause, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return New(CodeNotFound, format, args...)
}

func Conflict(format string, args ...any) *Error {
	return New(CodeConflict, format, args...)
}

func Internal(cause error, format string, args ...any) *Error {
	return Wrap(CodeInternal, cause, format, args...)
}

// CodeOf extracts the code from an error chain, defaulting to internal
func CodeOf(err error) Code {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeInternal
}

// HTTPStatus maps a code to its response status
func HTTPStatus(code Code) int {
	switch code {
	case CodeBadRequest, CodeInsufficientFunds, CodeInsufficientHoldings:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeConflict:
		return http.StatusConflict
	case CodeRateLimit:
		return http.StatusTooManyRequests
	case CodePriceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
