package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

type (
	// Error is the structured failure record adapters surface to the core.
	// The Retryable flag drives the orchestrator's recovery policy; Kind and
	// Status preserve the classification for callers and logs.
	Error struct {
		// Kind classifies the failure.
		Kind ErrorKind `json:"kind"`
		// Retryable indicates another attempt has a reasonable chance of
		// succeeding.
		Retryable bool `json:"retryable"`
		// Status is the HTTP status code when one was observed, else 0.
		Status int `json:"status,omitempty"`
		// Message is a human-readable description.
		Message string `json:"message"`
		// Details carries free-form provider specifics.
		Details map[string]any `json:"details,omitempty"`
		// Cause preserves the underlying error for unwrapping.
		Cause error `json:"-"`
	}

	// ErrorKind is a provider failure class from a closed set.
	ErrorKind string
)

// Provider error kinds.
const (
	KindAuth          ErrorKind = "auth"
	KindRateLimit     ErrorKind = "rate_limit"
	KindTimeout       ErrorKind = "timeout"
	KindServerError   ErrorKind = "server_error"
	KindBadRequest    ErrorKind = "bad_request"
	KindModelNotFound ErrorKind = "model_not_found"
	KindContentPolicy ErrorKind = "content_policy"
	KindTransport     ErrorKind = "transport"
	KindUnknown       ErrorKind = "unknown"
)

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Status != 0 {
		return fmt.Sprintf("provider %s (HTTP %d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("provider %s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// ClassifyStatus maps an HTTP status code to an error kind and its
// retryability. Rate limits and server errors are retryable; credential,
// model and request errors are not.
func ClassifyStatus(status int) (ErrorKind, bool) {
	switch {
	case status == http.StatusTooManyRequests:
		return KindRateLimit, true
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return KindAuth, false
	case status == http.StatusNotFound:
		return KindModelNotFound, false
	case status == http.StatusRequestTimeout:
		return KindTimeout, true
	case status >= 500:
		return KindServerError, true
	case status >= 400:
		return KindBadRequest, false
	default:
		return KindUnknown, true
	}
}

// FromStatus builds an Error from an HTTP status code and underlying cause.
func FromStatus(status int, message string, cause error) *Error {
	kind, retryable := ClassifyStatus(status)
	return &Error{
		Kind:      kind,
		Retryable: retryable,
		Status:    status,
		Message:   message,
		Cause:     cause,
	}
}

// Wrap normalizes an arbitrary transport error into an *Error. Existing
// *Error values pass through; context and network timeouts classify as
// retryable timeouts; everything else is a retryable transport failure so the
// retry budget, not a misclassification, decides the outcome.
func Wrap(err error) *Error {
	if err == nil {
		return nil
	}
	var perr *Error
	if errors.As(err, &perr) {
		return perr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Retryable: true, Message: err.Error(), Cause: err}
	}
	if errors.Is(err, context.Canceled) {
		return &Error{Kind: KindTransport, Retryable: false, Message: err.Error(), Cause: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: KindTimeout, Retryable: true, Message: err.Error(), Cause: err}
	}
	return &Error{Kind: KindTransport, Retryable: true, Message: err.Error(), Cause: err}
}
