package engine

import (
	"time"

	"github.com/persuadehq/persuade/runtime/provider"
	"github.com/persuadehq/persuade/runtime/schema"
)

const (
	// DefaultRetries is the number of corrective attempts made after the
	// first, so a default call sends at most four prompts.
	DefaultRetries = 3

	// DefaultRequestTimeout bounds each individual provider request.
	DefaultRequestTimeout = 60 * time.Second
)

type (
	// Options parameterizes one Persuade call.
	Options struct {
		// Schema describes the required output shape. Required.
		Schema *schema.Schema
		// Input is the payload presented to the model: a string is passed
		// through, anything else is rendered as JSON. Required.
		Input any
		// Context is the durable instruction for a new session.
		Context string
		// Lens is an optional stylistic perspective applied to the prompt.
		Lens string
		// SessionID resumes a prior logical session. An id that fails lookup
		// is treated as absent.
		SessionID string
		// Retries is the number of additional attempts after the first.
		// Nil means DefaultRetries; zero disables retries.
		Retries *int
		// Model overrides the provider's default model.
		Model string
		// ExampleOutput replaces the generated example in the prompt. It is
		// validated against Schema before any provider contact.
		ExampleOutput any
		// SuccessMessage, when set, is sent as reinforcement after a
		// first-attempt success on session-capable providers.
		SuccessMessage string
		// ProviderOptions carries sampling and token limits to the adapter.
		ProviderOptions provider.Options
		// Reuse controls whether an existing active session for the provider
		// may be picked up when no SessionID is given. Nil means true for
		// session-capable providers.
		Reuse *bool
		// RequestTimeout bounds each provider request. An expired request
		// surfaces as a retryable timeout error charged against the retry
		// budget. Zero means DefaultRequestTimeout.
		RequestTimeout time.Duration
		// Timeout optionally bounds the whole call wall clock. Zero means
		// no call-level bound; each request is still bounded by
		// RequestTimeout.
		Timeout time.Duration
	}

	// InitOptions parameterizes InitSession.
	InitOptions struct {
		// Context is the durable instruction priming the session.
		Context string
		// InitialPrompt, when set, is sent once and its raw reply returned.
		InitialPrompt string
		// SessionID reuses an existing logical session.
		SessionID string
		// Model selects the model for the session.
		Model string
		// ProviderOptions carries sampling and token limits to the adapter.
		ProviderOptions provider.Options
		// Reuse controls most-recently-active session pickup. Nil means true.
		Reuse *bool
	}
)

// retries resolves the effective retry count.
func (o Options) retries() int {
	if o.Retries == nil {
		return DefaultRetries
	}
	if *o.Retries < 0 {
		return 0
	}
	return *o.Retries
}

// requestTimeout resolves the effective per-request timeout.
func (o Options) requestTimeout() time.Duration {
	if o.RequestTimeout <= 0 {
		return DefaultRequestTimeout
	}
	return o.RequestTimeout
}

// reuse resolves the effective session reuse flag.
func reuse(v *bool) bool {
	if v == nil {
		return true
	}
	return *v
}

// providerOptions merges the model override into the provider options.
func (o Options) providerOptions() provider.Options {
	opts := o.ProviderOptions
	if o.Model != "" {
		opts.Model = o.Model
	}
	return opts
}

// Int returns a pointer to v. Convenience for Options.Retries.
func Int(v int) *int { return &v }

// Bool returns a pointer to v. Convenience for Options.Reuse.
func Bool(v bool) *bool { return &v }
