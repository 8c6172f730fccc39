package api

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error so transport layers can map it to a status
// code without matching on message strings.
type Kind string

const (
	KindBadRequest          Kind = "bad_request"
	KindUnauthenticated     Kind = "unauthenticated"
	KindForbidden           Kind = "forbidden"
	KindModelNotFound       Kind = "model_not_found"
	KindModelInactive       Kind = "model_inactive"
	KindInsufficientCredits Kind = "insufficient_credits"
	KindQuotaExceeded       Kind = "quota_exceeded"
	KindInvalidAmount       Kind = "invalid_amount"
	KindConflict            Kind = "conflict"
	KindProviderError       Kind = "provider_error"
	KindInternal            Kind = "internal"
)

var statusByKind = map[Kind]int{
	KindBadRequest:          http.StatusBadRequest,
	KindUnauthenticated:     http.StatusUnauthorized,
	KindForbidden:           http.StatusForbidden,
	KindModelNotFound:       http.StatusNotFound,
	KindModelInactive:       http.StatusNotFound,
	KindInsufficientCredits: http.StatusPaymentRequired,
	KindQuotaExceeded:       http.StatusTooManyRequests,
	KindInvalidAmount:       http.StatusBadRequest,
	KindConflict:            http.StatusConflict,
	KindProviderError:       http.StatusBadGateway,
	KindInternal:            http.StatusInternalServerError,
}

// Error is the standard application error shape.
type Error struct {
	Kind Kind
	// Safe message for the client
	Message string
	// Original error for internal logging
	Log error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Log
}

// Status returns the HTTP status code for the error's kind.
func (e *Error) Status() int {
	if code, ok := statusByKind[e.Kind]; ok {
		return code
	}
	return http.StatusInternalServerError
}

// AsError unwraps err into an *Error, falling back to an internal error
// so callers always get a mappable kind.
func AsError(err error) *Error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return &Error{Kind: KindInternal, Message: "internal server error", Log: err}
}

func BadRequest(msg string) *Error {
	return &Error{Kind: KindBadRequest, Message: msg}
}

func Unauthenticated(msg string) *Error {
	return &Error{Kind: KindUnauthenticated, Message: msg}
}

func Forbidden(msg string) *Error {
	return &Error{Kind: KindForbidden, Message: msg}
}

func ModelNotFound(name string) *Error {
	return &Error{Kind: KindModelNotFound, Message: fmt.Sprintf("model '%s' not found", name)}
}

func ModelInactive(name string) *Error {
	return &Error{Kind: KindModelInactive, Message: fmt.Sprintf("model '%s' is not available", name)}
}

func InsufficientCredits(msg string) *Error {
	return &Error{Kind: KindInsufficientCredits, Message: msg}
}

func QuotaExceeded(msg string) *Error {
	return &Error{Kind: KindQuotaExceeded, Message: msg}
}

func InvalidAmount(msg string) *Error {
	return &Error{Kind: KindInvalidAmount, Message: msg}
}

func Conflict(msg string) *Error {
	return &Error{Kind: KindConflict, Message: msg}
}

// ProviderError wraps an upstream transport or non-2xx failure.
func ProviderError(msg string, err error) *Error {
	return &Error{Kind: KindProviderError, Message: msg, Log: err}
}

func Internal(msg string, err error) *Error {
	return &Error{Kind: KindInternal, Message: msg, Log: err}
}

// ErrorBody is the JSON shape every error surfaces as.
type ErrorBody struct {
	Error string `json:"error"`
}
