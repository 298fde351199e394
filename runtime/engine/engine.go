// Package engine implements the orchestrated retry loop: it composes prompts,
// invokes the provider adapter, validates replies against the caller's schema
// and feeds corrective feedback into subsequent attempts until a valid value
// is produced or the retry budget runs out.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/persuadehq/persuade/runtime/prompt"
	"github.com/persuadehq/persuade/runtime/provider"
	"github.com/persuadehq/persuade/runtime/session"
	"github.com/persuadehq/persuade/runtime/telemetry"
	"github.com/persuadehq/persuade/runtime/validate"
)

type (
	// Engine drives orchestrated calls against one provider adapter. A single
	// Engine is safe for concurrent use; attempts within one call proceed
	// sequentially because each depends on the prior validation outcome.
	Engine struct {
		manager *session.Manager
		logger  telemetry.Logger
		metrics telemetry.Metrics
		backoff BackoffConfig
		sleep   func(ctx context.Context, d time.Duration) error
	}

	// Option customizes an Engine.
	Option func(*Engine)

	// InitResult is the outcome of InitSession.
	InitResult struct {
		// SessionID is the logical session created or reused.
		SessionID string
		// Response is the raw reply to InitialPrompt, empty when none was
		// sent.
		Response string
		// Metadata summarizes execution.
		Metadata Metadata
	}
)

// WithEngineLogger sets the engine's logger.
func WithEngineLogger(l telemetry.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithEngineMetrics sets the engine's metrics recorder.
func WithEngineMetrics(m telemetry.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithBackoff overrides the retry schedule.
func WithBackoff(cfg BackoffConfig) Option {
	return func(e *Engine) { e.backoff = cfg }
}

// WithSleep overrides the delay function. Tests use this to run retries
// without waiting.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Engine) { e.sleep = sleep }
}

// New builds an Engine over the given session manager. The manager carries
// the provider adapter.
func New(manager *session.Manager, opts ...Option) *Engine {
	e := &Engine{
		manager: manager,
		logger:  telemetry.NewNoopLogger(),
		metrics: telemetry.NewNoopMetrics(),
		backoff: DefaultBackoff(),
		sleep:   sleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Manager returns the engine's session manager.
func (e *Engine) Manager() *session.Manager { return e.manager }

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Persuade runs one orchestrated call. Anticipated failures come back inside
// the Result; the returned error is reserved for programmer mistakes such as
// a nil schema.
func (e *Engine) Persuade(ctx context.Context, opts Options) (*Result, error) {
	if opts.Schema == nil {
		return nil, fmt.Errorf("engine: schema is required")
	}

	start := time.Now()
	adapter := e.manager.Adapter()
	meta := Metadata{
		Provider:  adapter.Name(),
		Model:     opts.providerOptions().Model,
		StartedAt: start,
	}
	fail := func(sessID string, attempts int, err *Error) *Result {
		meta.FinishedAt = time.Now()
		meta.Duration = meta.FinishedAt.Sub(meta.StartedAt)
		e.metrics.IncCounter("persuade.calls", 1, "provider", meta.Provider, "outcome", string(err.Kind))
		e.metrics.RecordTimer("persuade.call.duration", meta.Duration, "provider", meta.Provider)
		return &Result{Ok: false, Err: err, Attempts: attempts, SessionID: sessID, Metadata: meta}
	}

	if opts.Input == nil {
		return fail(opts.SessionID, 0, &Error{
			Kind:    KindConfiguration,
			Message: "input is required",
		}), nil
	}

	// A caller-supplied example that fails its own schema would poison every
	// prompt, so reject it before any provider contact.
	if opts.ExampleOutput != nil {
		if issues := opts.Schema.Check(opts.ExampleOutput); len(issues) > 0 {
			return fail(opts.SessionID, 0, &Error{
				Kind:    KindConfiguration,
				Message: fmt.Sprintf("example output does not satisfy the schema (%d issues)", len(issues)),
			}), nil
		}
	}

	// The optional wall clock bounds the whole call; individual provider
	// requests get their own deadline below so a hung request burns one
	// attempt, not the entire budget.
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	if opts.SessionID != "" && !adapter.SupportsSessions() {
		e.logger.Warn(ctx, "session id supplied for stateless provider, ignoring",
			"session_id", opts.SessionID, "provider", adapter.Name())
	}

	sess, err := e.manager.EnsureSession(ctx, opts.Context, opts.SessionID, reuse(opts.Reuse), opts.providerOptions())
	if err != nil {
		if ctx.Err() != nil {
			return fail(opts.SessionID, 0, cancelErr(ctx)), nil
		}
		return fail(opts.SessionID, 0, &Error{
			Kind:    KindSession,
			Message: err.Error(),
			Cause:   err,
		}), nil
	}

	maxAttempts := opts.retries() + 1
	// Session-backed conversations already carry the durable context after
	// the first prompt; stateless providers need it on every prompt.
	contextCarried := !sess.Stateless() && sess.Metadata.PromptCount > 0

	var (
		lastErr  *Error
		feedback string
		attempts int
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctx.Err() != nil {
			if lastErr == nil {
				lastErr = cancelErr(ctx)
			}
			break
		}
		attempts = attempt

		composed, err := prompt.Build(prompt.Parts{
			Context:     opts.Context,
			Lens:        opts.Lens,
			Schema:      opts.Schema,
			Example:     opts.ExampleOutput,
			Input:       opts.Input,
			Feedback:    feedback,
			OmitContext: contextCarried || (!sess.Stateless() && attempt > 1),
		})
		if err != nil {
			return fail(sess.ID, 0, &Error{Kind: KindConfiguration, Message: err.Error(), Cause: err}), nil
		}

		psid := ""
		if !sess.Stateless() {
			psid = sess.ProviderData.ProviderSessionID
		}
		resp, serr := e.sendPrompt(ctx, adapter, psid, composed, opts)
		if serr != nil {
			// Caller cancellation and the call wall clock end the loop; a
			// request-level deadline classifies as a retryable timeout below.
			if ctx.Err() != nil {
				lastErr = cancelErr(ctx)
				break
			}
			perr := provider.Wrap(serr)
			lastErr = &Error{Kind: KindProvider, Message: perr.Message, Provider: perr, Cause: perr}
			e.logger.Warn(ctx, "provider call failed",
				"session_id", sess.ID, "attempt", attempt, "kind", string(perr.Kind), "retryable", perr.Retryable)
			e.metrics.IncCounter("persuade.provider.errors", 1,
				"provider", meta.Provider, "kind", string(perr.Kind))
			if !perr.Retryable || attempt == maxAttempts {
				break
			}
			if err := e.sleep(ctx, e.backoff.Delay(attempt)); err != nil {
				lastErr = cancelErr(ctx)
				break
			}
			continue
		}

		meta.Usage = meta.Usage.Add(resp.Usage)
		if err := e.manager.RecordPrompt(ctx, sess.ID, resp.Usage); err != nil {
			e.logger.Warn(ctx, "prompt accounting failed", "session_id", sess.ID, "error", err.Error())
		}

		value, verr := validate.Validate(opts.Schema, resp.Content)
		if verr == nil {
			e.reinforce(ctx, sess, adapter, psid, attempt, value, opts, &meta)
			if err := e.manager.RecordOutcome(ctx, sess.ID, attempt, true, time.Since(start)); err != nil {
				e.logger.Warn(ctx, "outcome accounting failed", "session_id", sess.ID, "error", err.Error())
			}
			meta.FinishedAt = time.Now()
			meta.Duration = meta.FinishedAt.Sub(meta.StartedAt)
			e.metrics.IncCounter("persuade.calls", 1, "provider", meta.Provider, "outcome", "ok")
			e.metrics.IncCounter("persuade.attempts", float64(attempt), "provider", meta.Provider)
			e.metrics.RecordTimer("persuade.call.duration", meta.Duration, "provider", meta.Provider)
			return &Result{
				Ok:        true,
				Value:     value,
				Attempts:  attempt,
				SessionID: sess.ID,
				Metadata:  meta,
			}, nil
		}

		lastErr = &Error{Kind: KindValidation, Message: verr.Message, Validation: verr, Cause: verr}
		e.logger.Debug(ctx, "validation failed",
			"session_id", sess.ID, "attempt", attempt, "failure", string(verr.Kind), "issues", len(verr.Issues))
		e.metrics.IncCounter("persuade.validation.failures", 1,
			"provider", meta.Provider, "failure", string(verr.Kind))
		if attempt == maxAttempts {
			break
		}
		// Validation retries re-prompt immediately; backoff is for provider
		// failures only.
		feedback = validate.FormatRetryFeedback(verr, attempt+1, maxAttempts)
	}

	if err := e.manager.RecordOutcome(ctx, sess.ID, attempts, false, time.Since(start)); err != nil {
		e.logger.Warn(ctx, "outcome accounting failed", "session_id", sess.ID, "error", err.Error())
	}
	if lastErr == nil {
		lastErr = cancelErr(ctx)
	}
	return fail(sess.ID, attempts, lastErr), nil
}

// sendPrompt issues one provider request under its own deadline so a hung
// request costs a single attempt.
func (e *Engine) sendPrompt(ctx context.Context, adapter provider.Adapter, psid, composed string, opts Options) (*provider.Response, error) {
	reqCtx, cancel := context.WithTimeout(ctx, opts.requestTimeout())
	defer cancel()
	return adapter.SendPrompt(reqCtx, psid, composed, opts.providerOptions())
}

// reinforce sends the success message after a first-attempt success on
// session-capable providers. The reply is discarded; only its token cost is
// accounted.
func (e *Engine) reinforce(ctx context.Context, sess *session.Session, adapter provider.Adapter, psid string, attempt int, value any, opts Options, meta *Metadata) {
	if attempt != 1 || opts.SuccessMessage == "" || sess.Stateless() || !adapter.SupportsSessions() {
		return
	}
	resp, err := e.sendPrompt(ctx, adapter, psid, opts.SuccessMessage, opts)
	if err != nil {
		e.logger.Warn(ctx, "reinforcement prompt failed", "session_id", sess.ID, "error", err.Error())
		return
	}
	meta.Usage = meta.Usage.Add(resp.Usage)
	if err := e.manager.RecordReinforcement(ctx, sess.ID, resp.Usage); err != nil {
		e.logger.Warn(ctx, "reinforcement accounting failed", "session_id", sess.ID, "error", err.Error())
	}
	if err := e.manager.AddSuccessFeedback(ctx, sess.ID, session.FeedbackEntry{
		Message:       opts.SuccessMessage,
		Output:        value,
		AttemptNumber: attempt,
	}); err != nil {
		e.logger.Warn(ctx, "success feedback append failed", "session_id", sess.ID, "error", err.Error())
	}
}

// InitSession creates or reuses a session without schema validation,
// optionally sending a single prompt whose raw reply is returned.
func (e *Engine) InitSession(ctx context.Context, opts InitOptions) (*InitResult, error) {
	start := time.Now()
	adapter := e.manager.Adapter()
	popts := opts.ProviderOptions
	if opts.Model != "" {
		popts.Model = opts.Model
	}

	sess, err := e.manager.EnsureSession(ctx, opts.Context, opts.SessionID, reuse(opts.Reuse), popts)
	if err != nil {
		return nil, fmt.Errorf("init session: %w", err)
	}

	out := &InitResult{
		SessionID: sess.ID,
		Metadata: Metadata{
			Provider:  adapter.Name(),
			Model:     popts.Model,
			StartedAt: start,
		},
	}
	if opts.InitialPrompt != "" {
		psid := ""
		if !sess.Stateless() {
			psid = sess.ProviderData.ProviderSessionID
		}
		resp, err := adapter.SendPrompt(ctx, psid, opts.InitialPrompt, popts)
		if err != nil {
			return nil, fmt.Errorf("init session: initial prompt: %w", provider.Wrap(err))
		}
		out.Response = resp.Content
		out.Metadata.Usage = resp.Usage
		if err := e.manager.RecordPrompt(ctx, sess.ID, resp.Usage); err != nil {
			e.logger.Warn(ctx, "prompt accounting failed", "session_id", sess.ID, "error", err.Error())
		}
	}
	out.Metadata.FinishedAt = time.Now()
	out.Metadata.Duration = out.Metadata.FinishedAt.Sub(out.Metadata.StartedAt)
	return out, nil
}

func cancelErr(ctx context.Context) *Error {
	err := ctx.Err()
	msg := "call cancelled"
	if err == context.DeadlineExceeded {
		msg = "call timed out"
	}
	if err == nil {
		err = context.Canceled
	}
	return &Error{Kind: KindCancelled, Message: msg, Cause: err}
}
