// Package domain provides the canonical failure type shared by every
// component of the gateway.
package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind represents the category of a failure.
type Kind string

const (
	// KindClientError indicates a bad envelope, bad tenant headers, an unknown
	// operation or arguments that fail schema validation. Never retried.
	KindClientError Kind = "client_error"

	// KindNotFound indicates the backend reported a missing resource.
	KindNotFound Kind = "not_found"

	// KindConflict indicates a uniqueness or state conflict in the backend.
	KindConflict Kind = "conflict"

	// KindUpstream indicates a backend 5xx or a network failure.
	KindUpstream Kind = "upstream"

	// KindTimeout indicates the backend did not answer in time.
	KindTimeout Kind = "timeout"

	// KindInternal indicates a programming error inside the gateway.
	KindInternal Kind = "internal"
)

// Code provides additional specificity beyond the kind.
type Code string

const (
	CodeMissingTenantHeaders Code = "missing_tenant_headers"
	CodeHeaderTooLong        Code = "header_too_long"
	CodeUnknownOperation     Code = "unknown_operation"
	CodeInvalidArguments     Code = "invalid_arguments"
	CodeMalformedEnvelope    Code = "malformed_envelope"
	CodeRateLimited          Code = "rate_limited"
	CodeCircuitOpen          Code = "circuit_open"
)

// opaqueMessage is what clients see for internal failures.
const opaqueMessage = "internal gateway error"

// Failure is the typed error every component returns across its boundary.
// Only the frontdoor converts it to a transport shape.
type Failure struct {
	// Kind is the category of failure
	Kind Kind `json:"kind"`

	// Code is an optional specific failure code
	Code Code `json:"code,omitempty"`

	// Message is the human-readable message
	Message string `json:"message"`

	// Field names the offending argument or header (if applicable)
	Field string `json:"field,omitempty"`

	// Retryable reports whether the caller may retry the same call
	Retryable bool `json:"retryable"`

	// StatusCode overrides the HTTP status derived from Kind
	StatusCode int `json:"-"`

	cause error
}

// Error implements the error interface.
func (f *Failure) Error() string {
	var msg string
	if f.Code != "" {
		msg = fmt.Sprintf("%s (%s): %s", f.Kind, f.Code, f.Message)
	} else {
		msg = fmt.Sprintf("%s: %s", f.Kind, f.Message)
	}
	if f.cause != nil {
		msg += ": " + f.cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause, if any.
func (f *Failure) Unwrap() error {
	return f.cause
}

// HTTPStatus returns the HTTP status code for this failure.
func (f *Failure) HTTPStatus() int {
	if f.StatusCode != 0 {
		return f.StatusCode
	}
	if f.Code == CodeRateLimited {
		return http.StatusTooManyRequests
	}

	switch f.Kind {
	case KindClientError:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindUpstream:
		return http.StatusBadGateway
	case KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the message that is safe to show a client.
// Internal failures are opaque.
func (f *Failure) PublicMessage() string {
	if f.Kind == KindInternal {
		return opaqueMessage
	}
	return f.Message
}

// NewFailure creates a new failure.
func NewFailure(kind Kind, message string) *Failure {
	return &Failure{
		Kind:      kind,
		Message:   message,
		Retryable: kind == KindUpstream || kind == KindTimeout,
	}
}

// WithCode adds a failure code.
func (f *Failure) WithCode(code Code) *Failure {
	f.Code = code
	return f
}

// WithField names the offending field.
func (f *Failure) WithField(field string) *Failure {
	f.Field = field
	return f
}

// WithCause records the underlying error for logs.
func (f *Failure) WithCause(err error) *Failure {
	f.cause = err
	return f
}

// WithRetryable overrides the retry hint derived from Kind.
func (f *Failure) WithRetryable(retryable bool) *Failure {
	f.Retryable = retryable
	return f
}

// WithStatusCode sets a specific HTTP status code.
func (f *Failure) WithStatusCode(code int) *Failure {
	f.StatusCode = code
	return f
}

// AsFailure converts any error into a *Failure. Errors that are not already
// failures become Internal with the original error kept as cause.
func AsFailure(err error) *Failure {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	return ErrInternal("unexpected error").WithCause(err)
}

// IsKind reports whether err is a failure of the given kind.
func IsKind(err error, kind Kind) bool {
	var f *Failure
	return errors.As(err, &f) && f.Kind == kind
}

// Convenience constructors for common failures

// ErrMissingTenantHeaders reports the first absent tenant header.
func ErrMissingTenantHeaders(header string) *Failure {
	return NewFailure(KindClientError, "missing required header: "+header).
		WithCode(CodeMissingTenantHeaders).
		WithField(header)
}

// ErrHeaderTooLong reports a tenant header above the length bound.
func ErrHeaderTooLong(header string, max int) *Failure {
	return NewFailure(KindClientError, fmt.Sprintf("header %s exceeds %d characters", header, max)).
		WithCode(CodeHeaderTooLong).
		WithField(header)
}

// ErrUnknownOperation reports an unregistered tool name.
func ErrUnknownOperation(name string) *Failure {
	return NewFailure(KindClientError, "unknown tool: "+name).
		WithCode(CodeUnknownOperation).
		WithField(name)
}

// ErrInvalidArguments reports the first violated argument.
func ErrInvalidArguments(field, reason string) *Failure {
	msg := reason
	if field != "" {
		msg = field + ": " + reason
	}
	return NewFailure(KindClientError, msg).
		WithCode(CodeInvalidArguments).
		WithField(field)
}

// ErrMalformedEnvelope reports an unparsable request body.
func ErrMalformedEnvelope(message string) *Failure {
	return NewFailure(KindClientError, message).WithCode(CodeMalformedEnvelope)
}

// ErrRateLimited reports a tenant over its request budget.
func ErrRateLimited(tenantID string) *Failure {
	return NewFailure(KindClientError, "rate limit exceeded for tenant "+tenantID).
		WithCode(CodeRateLimited).
		WithRetryable(true)
}

// ErrNotFound creates a not found failure.
func ErrNotFound(message string) *Failure {
	return NewFailure(KindNotFound, message)
}

// ErrConflict creates a conflict failure.
func ErrConflict(message string) *Failure {
	return NewFailure(KindConflict, message)
}

// ErrUpstream creates a retryable upstream failure.
func ErrUpstream(message string) *Failure {
	return NewFailure(KindUpstream, message)
}

// ErrCircuitOpen reports a backend that is failing fast.
func ErrCircuitOpen(service string) *Failure {
	return NewFailure(KindUpstream, "backend "+service+" temporarily unavailable").
		WithCode(CodeCircuitOpen)
}

// ErrTimeout creates a retryable timeout failure.
func ErrTimeout(message string) *Failure {
	return NewFailure(KindTimeout, message)
}

// ErrInternal creates an internal failure.
func ErrInternal(message string) *Failure {
	return NewFailure(KindInternal, message)
}
