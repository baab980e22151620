// Package errs provides structured error types and helpers for stratwatch services.
package errs

import (
	"strconv"
	"strings"
)

// Code identifies a monitoring-specific error category.
type Code string

const (
	// CodeInvalid indicates invalid input provided by the caller.
	CodeInvalid Code = "invalid_request"
	// CodeNetwork indicates a network transport failure.
	CodeNetwork Code = "network"
	// CodeBackend indicates a backend-side failure.
	CodeBackend Code = "backend_error"
	// CodeNotFound indicates a missing resource.
	CodeNotFound Code = "not_found"
	// CodeConflict indicates a concurrent mutation conflict.
	CodeConflict Code = "conflict"
	// CodeUnavailable indicates the service is temporarily unavailable.
	CodeUnavailable Code = "unavailable"
	// CodeCommandRejected indicates the backend refused a strategy action.
	CodeCommandRejected Code = "command_rejected"
)

// E captures structured error information produced across the stratwatch stack.
type E struct {
	Component string
	Code      Code
	HTTP      int
	Message   string
	Reason    string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the component and error code.
func New(component string, code Code, opts ...Option) *E {
	e := &E{
		Component: strings.TrimSpace(component),
		Code:      code,
		HTTP:      0,
		Message:   "",
		Reason:    "",
		cause:     nil,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithReason captures the backend-supplied rejection reason verbatim.
func WithReason(reason string) Option {
	return func(e *E) {
		e.Reason = reason
	}
}

// WithHTTP records the associated HTTP status code.
func WithHTTP(status int) Option {
	return func(e *E) {
		e.HTTP = status
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	component := strings.TrimSpace(e.Component)
	if component == "" {
		component = "unknown"
	}
	parts = append(parts, "component="+component)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if e.HTTP > 0 {
		parts = append(parts, "http="+strconv.Itoa(e.HTTP))
	}
	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.Reason != "" {
		parts = append(parts, "reason="+strconv.Quote(e.Reason))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// CodeOf extracts the error code from err when it carries an envelope.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	if env, ok := err.(*E); ok { //nolint:errorlint
		return env.Code
	}
	return ""
}

// ReasonOf extracts the backend rejection reason from err, falling back to the message.
func ReasonOf(err error) string {
	if env, ok := err.(*E); ok { //nolint:errorlint
		if env.Reason != "" {
			return env.Reason
		}
		return env.Message
	}
	if err != nil {
		return err.Error()
	}
	return ""
}
