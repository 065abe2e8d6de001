// Package errors carries the settlement engine's typed error codes and how
// each one is surfaced over HTTP.
package errors

import (
	stdErrors "errors"
	"net/http"
)

type Code string

// Caller faults.
const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeForbidden     Code = "FORBIDDEN"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeIdempotency   Code = "IDEMPOTENCY_KEY_REUSED"
	CodeRateLimit     Code = "RATE_LIMIT_EXCEEDED"
	CodeSignature     Code = "SIGNATURE_INVALID"
)

// Server and provider faults. All of them are retryable.
const (
	CodeInternal       Code = "INTERNAL_ERROR"
	CodeDependency     Code = "DEPENDENCY_ERROR"
	CodeTransaction    Code = "TRANSACTION_FAILED"
	CodeExternalPayout Code = "EXTERNAL_PAYOUT_FAILED"
)

// Metadata is the HTTP face of a code. Retryable means the same request, with
// the same idempotency key for payouts, may succeed later.
type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

func callerFault(status int, msg string) Metadata {
	return Metadata{HTTPStatus: status, PublicMessage: msg}
}

func serverFault(status int, msg string) Metadata {
	return Metadata{HTTPStatus: status, PublicMessage: msg, Retryable: true}
}

func (m Metadata) withDetails() Metadata {
	m.DetailsAllowed = true
	return m
}

var metadataByCode = map[Code]Metadata{
	CodeValidation:    callerFault(http.StatusBadRequest, "validation failed").withDetails(),
	CodeUnauthorized:  callerFault(http.StatusUnauthorized, "authentication required"),
	CodeForbidden:     callerFault(http.StatusForbidden, "access denied"),
	CodeNotFound:      callerFault(http.StatusNotFound, "resource not found"),
	CodeConflict:      callerFault(http.StatusConflict, "conflict detected"),
	CodeStateConflict: callerFault(http.StatusUnprocessableEntity, "state transition disallowed").withDetails(),
	CodeIdempotency:   callerFault(http.StatusConflict, "idempotency key reused").withDetails(),
	CodeRateLimit:     callerFault(http.StatusTooManyRequests, "rate limit exceeded"),
	CodeSignature:     callerFault(http.StatusBadRequest, "signature verification failed"),

	CodeInternal:       serverFault(http.StatusInternalServerError, "internal server error"),
	CodeDependency:     serverFault(http.StatusServiceUnavailable, "dependency unavailable").withDetails(),
	CodeTransaction:    serverFault(http.StatusServiceUnavailable, "transaction could not be completed"),
	CodeExternalPayout: serverFault(http.StatusBadGateway, "payout provider rejected the transfer").withDetails(),
}

// MetadataFor falls back to CodeInternal for codes it does not know.
func MetadataFor(code Code) Metadata {
	meta, ok := metadataByCode[code]
	if !ok {
		return metadataByCode[CodeInternal]
	}
	return meta
}

// Error is a coded failure. The message is safe to log; what reaches the
// client is decided by the code's Metadata.
type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

// Wrap attaches code and message to err. A nil err behaves like New.
func Wrap(code Code, err error, message string) *Error {
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

// WithDetails sets details on e and returns it for chaining.
func (e *Error) WithDetails(details any) *Error {
	if e != nil {
		e.details = details
	}
	return e
}

func (e *Error) Error() string {
	switch {
	case e == nil:
		return ""
	case e.cause == nil:
		return string(e.code) + ": " + e.message
	default:
		return string(e.code) + ": " + e.message + ": " + e.cause.Error()
	}
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// As returns the outermost *Error in err's chain.
func As(err error) *Error {
	var typed *Error
	if err == nil || !stdErrors.As(err, &typed) {
		return nil
	}
	return typed
}

func IsCode(err error, code Code) bool {
	return As(err).codeIs(code)
}

// IsRetryable treats untyped errors as internal, and therefore retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	typed := As(err)
	if typed == nil {
		return true
	}
	return MetadataFor(typed.code).Retryable
}

func (e *Error) codeIs(code Code) bool {
	return e != nil && e.code == code
}
