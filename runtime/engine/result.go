package engine

import (
	"fmt"
	"time"

	"github.com/persuadehq/persuade/runtime/provider"
	"github.com/persuadehq/persuade/runtime/validate"
)

type (
	// Result is the outcome of one orchestrated call. Anticipated failures
	// are reported here rather than as Go errors, so callers always receive
	// the attempt count, session id and metadata.
	Result struct {
		// Ok reports whether a valid value was produced.
		Ok bool
		// Value is the validated output when Ok.
		Value any
		// Err describes the failure when not Ok.
		Err *Error
		// Attempts is the number of prompts sent for validation (the
		// reinforcement prompt is not an attempt).
		Attempts int
		// SessionID is the logical session the call ran under. Callers can
		// retry against a fresh session by omitting it next time.
		SessionID string
		// Metadata summarizes execution.
		Metadata Metadata
	}

	// Error is the structured failure carried by a Result.
	Error struct {
		// Kind classifies the failure.
		Kind ErrorKind
		// Message is a human-readable description.
		Message string
		// Validation holds the last validation failure for KindValidation.
		Validation *validate.ValidationError
		// Provider holds the last provider failure for KindProvider.
		Provider *provider.Error
		// Cause preserves the underlying error for unwrapping.
		Cause error
	}

	// ErrorKind is a top-level failure class.
	ErrorKind string

	// Metadata summarizes one call's execution.
	Metadata struct {
		// Provider is the adapter name used.
		Provider string
		// Model is the model identifier used.
		Model string
		// Usage sums token consumption across all prompts, reinforcement
		// included.
		Usage provider.TokenUsage
		// StartedAt and FinishedAt bound the call.
		StartedAt  time.Time
		FinishedAt time.Time
		// Duration is FinishedAt minus StartedAt.
		Duration time.Duration
	}
)

// Failure kinds.
const (
	// KindValidation: the reply parsed or validated unsuccessfully on every
	// attempt.
	KindValidation ErrorKind = "validation"
	// KindProvider: the backend failed and the retry budget ran out or the
	// failure was not retryable.
	KindProvider ErrorKind = "provider"
	// KindConfiguration: the call was malformed; no provider contact happened.
	KindConfiguration ErrorKind = "configuration"
	// KindSession: the session could not be resolved or created.
	KindSession ErrorKind = "session"
	// KindCancelled: the caller's context was cancelled or timed out.
	KindCancelled ErrorKind = "cancelled"
)

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}
