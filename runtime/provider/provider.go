// Package provider defines the narrow seam between the orchestration core and
// concrete LLM backends. An Adapter abstracts stateless HTTP APIs, stateful
// CLI subprocesses and local servers behind the same contract so the retry
// loop and session manager never couple to a vendor SDK. Implementations live
// under features/provider and translate these normalized types into
// provider-specific formats.
package provider

import (
	"context"
	"errors"
	"time"
)

type (
	// Adapter is the contract every LLM backend implements. Adapters must be
	// safe for concurrent SendPrompt calls: a single instance is shared across
	// sessions and orchestrator calls.
	Adapter interface {
		// Name returns the stable provider identifier ("anthropic", "openai").
		Name() string

		// Version returns the adapter version string.
		Version() string

		// SupportsSessions reports whether the backend can hold conversational
		// state between prompts. When false, CreateSession must fail with
		// ErrSessionsUnsupported and SendPrompt must ignore any session id.
		SupportsSessions() bool

		// SupportedModels lists the model identifiers the adapter accepts.
		// Empty means the adapter passes model names through unchecked.
		SupportedModels() []string

		// Health reports backend reachability and readiness.
		Health(ctx context.Context) (Health, error)

		// CreateSession opens a provider-side conversation primed with the
		// given durable context and returns the provider's native session
		// handle. Stateless adapters return ErrSessionsUnsupported.
		CreateSession(ctx context.Context, sessionContext string, opts Options) (string, error)

		// SendPrompt sends one prompt, optionally within a provider session,
		// and returns the complete response. Responses are consumed whole;
		// the core does not stream. Errors should be *Error values so the
		// retry loop can classify them.
		SendPrompt(ctx context.Context, providerSessionID, prompt string, opts Options) (*Response, error)

		// DestroySession releases the provider-side conversation. A no-op for
		// stateless adapters and for unknown session ids.
		DestroySession(ctx context.Context, providerSessionID string) error
	}

	// Options carries per-request tuning passed through to the backend.
	// Fields map to common provider parameters; adapters document unsupported
	// fields and apply their own defaults for zero values.
	Options struct {
		// Model selects the target model identifier.
		Model string

		// Temperature controls sampling temperature. Zero means the provider
		// default.
		Temperature float64

		// TopP controls nucleus sampling. Zero means the provider default.
		TopP float64

		// MaxTokens caps completion tokens. Zero means the adapter default.
		MaxTokens int

		// Extra carries opaque provider-specific parameters.
		Extra map[string]any
	}

	// Response is the normalized result of one SendPrompt call.
	Response struct {
		// Content is the raw text reply.
		Content string

		// Usage reports token consumption when the backend provides it.
		Usage TokenUsage

		// Metadata carries free-form provider details (model, message id, ...).
		Metadata map[string]any

		// Truncated indicates the reply was cut off by a token limit.
		Truncated bool

		// StopReason explains why generation ended.
		StopReason StopReason
	}

	// TokenUsage records prompt/completion token counts. All fields are zero
	// when the backend does not report usage.
	TokenUsage struct {
		Input  int `json:"input"`
		Output int `json:"output"`
		Total  int `json:"total"`
	}

	// Health reports the outcome of a backend health check.
	Health struct {
		// Healthy is true when the backend is reachable and ready.
		Healthy bool
		// CheckedAt records when the check ran.
		CheckedAt time.Time
		// ResponseTime is the observed round-trip latency.
		ResponseTime time.Duration
		// Err describes the failure when Healthy is false.
		Err string
		// Details carries adapter-specific diagnostics.
		Details map[string]any
	}

	// StopReason is the normalized generation stop cause.
	StopReason string
)

// Stop reasons.
const (
	StopEndTurn      StopReason = "end_turn"
	StopMaxTokens    StopReason = "max_tokens"
	StopStopSequence StopReason = "stop_sequence"
	StopOther        StopReason = "other"
)

// Add accumulates usage across attempts.
func (u TokenUsage) Add(other TokenUsage) TokenUsage {
	return TokenUsage{
		Input:  u.Input + other.Input,
		Output: u.Output + other.Output,
		Total:  u.Total + other.Total,
	}
}

// ErrSessionsUnsupported is returned by CreateSession on stateless adapters.
var ErrSessionsUnsupported = errors.New("provider: sessions not supported")
