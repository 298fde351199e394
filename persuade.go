// Package persuade turns free-form LLM replies into schema-valid values.
//
// A caller supplies a schema, an input and optional context; the runtime
// composes the prompt, invokes the configured provider adapter, validates the
// JSON reply against the schema and retries with progressively urgent
// corrective feedback until the reply validates or the retry budget runs out.
// Sessions preserve conversational context across calls and accumulate
// metrics plus success-feedback history.
//
// The package-level functions operate on a process-wide default engine
// initialized by Configure. Libraries and tests that need isolation should
// build their own engine via runtime/engine instead.
package persuade

import (
	"context"
	"fmt"
	"sync"

	"github.com/persuadehq/persuade/runtime/engine"
	"github.com/persuadehq/persuade/runtime/provider"
	"github.com/persuadehq/persuade/runtime/session"
	"github.com/persuadehq/persuade/runtime/session/inmem"
	"github.com/persuadehq/persuade/runtime/telemetry"
)

type (
	// Options parameterizes one Persuade call.
	Options = engine.Options

	// Result is the outcome of one Persuade call.
	Result = engine.Result

	// InitOptions parameterizes InitSession.
	InitOptions = engine.InitOptions

	// InitResult is the outcome of InitSession.
	InitResult = engine.InitResult

	// Config parameterizes Configure.
	Config struct {
		// Adapter is the provider backend. Required.
		Adapter provider.Adapter
		// Store persists sessions. Nil means in-memory.
		Store session.Store
		// Logger receives runtime log events. Nil means none.
		Logger telemetry.Logger
		// Metrics receives runtime measurements. Nil means none.
		Metrics telemetry.Metrics
		// Backoff overrides the retry schedule. Zero means the default
		// 100ms doubling schedule capped at 5s.
		Backoff engine.BackoffConfig
		// MaxFeedback bounds the per-session success-feedback history.
		// Zero means the default.
		MaxFeedback int
	}
)

// Int returns a pointer to v. Convenience for Options.Retries.
func Int(v int) *int { return engine.Int(v) }

// Bool returns a pointer to v. Convenience for Options.Reuse.
func Bool(v bool) *bool { return engine.Bool(v) }

var (
	mu            sync.Mutex
	defaultEngine *engine.Engine
)

// Configure initializes the process-wide default engine. It replaces any
// previous configuration; sessions held by a replaced engine are not
// destroyed.
func Configure(cfg Config) error {
	if cfg.Adapter == nil {
		return fmt.Errorf("persuade: adapter is required")
	}
	store := cfg.Store
	if store == nil {
		store = inmem.New()
	}
	var mgrOpts []session.ManagerOption
	if cfg.Logger != nil {
		mgrOpts = append(mgrOpts, session.WithLogger(cfg.Logger))
	}
	if cfg.Metrics != nil {
		mgrOpts = append(mgrOpts, session.WithMetrics(cfg.Metrics))
	}
	if cfg.MaxFeedback > 0 {
		mgrOpts = append(mgrOpts, session.WithMaxFeedback(cfg.MaxFeedback))
	}
	mgr := session.NewManager(store, cfg.Adapter, mgrOpts...)

	var engOpts []engine.Option
	if cfg.Logger != nil {
		engOpts = append(engOpts, engine.WithEngineLogger(cfg.Logger))
	}
	if cfg.Metrics != nil {
		engOpts = append(engOpts, engine.WithEngineMetrics(cfg.Metrics))
	}
	if cfg.Backoff != (engine.BackoffConfig{}) {
		engOpts = append(engOpts, engine.WithBackoff(cfg.Backoff))
	}

	mu.Lock()
	defaultEngine = engine.New(mgr, engOpts...)
	mu.Unlock()
	return nil
}

// SetDefault replaces the process-wide engine. Tests use this to inject a
// private engine instance.
func SetDefault(e *engine.Engine) {
	mu.Lock()
	defaultEngine = e
	mu.Unlock()
}

// Default returns the process-wide engine, or nil before Configure.
func Default() *engine.Engine {
	mu.Lock()
	defer mu.Unlock()
	return defaultEngine
}

// Persuade runs one orchestrated call on the default engine.
func Persuade(ctx context.Context, opts Options) (*Result, error) {
	e := Default()
	if e == nil {
		return nil, fmt.Errorf("persuade: not configured, call Configure first")
	}
	return e.Persuade(ctx, opts)
}

// InitSession creates or reuses a session on the default engine without
// schema validation, optionally sending a single prompt whose raw reply is
// returned.
func InitSession(ctx context.Context, opts InitOptions) (*InitResult, error) {
	e := Default()
	if e == nil {
		return nil, fmt.Errorf("persuade: not configured, call Configure first")
	}
	return e.InitSession(ctx, opts)
}

// Shutdown best-effort destroys provider-side sessions held by the default
// engine and clears it. Safe to call when never configured.
func Shutdown(ctx context.Context) error {
	mu.Lock()
	e := defaultEngine
	defaultEngine = nil
	mu.Unlock()
	if e == nil {
		return nil
	}
	return e.Manager().Shutdown(ctx)
}
