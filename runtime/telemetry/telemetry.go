// Package telemetry defines the logging and metrics contracts used across the
// orchestration runtime, with implementations backed by goa.design/clue/log
// and OpenTelemetry metrics plus no-op variants for tests.
package telemetry

import (
	"context"
	"time"
)

type (
	// Logger emits structured log events. Implementations read formatting and
	// sink configuration from the context (clue) or discard events (noop).
	Logger interface {
		// Debug emits a debug-level message with key-value pairs.
		Debug(ctx context.Context, msg string, keyvals ...any)
		// Info emits an info-level message with key-value pairs.
		Info(ctx context.Context, msg string, keyvals ...any)
		// Warn emits a warning-level message with key-value pairs.
		Warn(ctx context.Context, msg string, keyvals ...any)
		// Error emits an error-level message with key-value pairs.
		Error(ctx context.Context, msg string, keyvals ...any)
	}

	// Metrics records counters and timers for orchestration activity.
	Metrics interface {
		// IncCounter increments a counter metric by value with optional
		// key/value tag pairs.
		IncCounter(name string, value float64, tags ...string)
		// RecordTimer records a duration metric.
		RecordTimer(name string, duration time.Duration, tags ...string)
	}

	noopLogger  struct{}
	noopMetrics struct{}
)

// NewNoopLogger returns a Logger that discards all events.
func NewNoopLogger() Logger { return noopLogger{} }

// NewNoopMetrics returns a Metrics recorder that discards all measurements.
func NewNoopMetrics() Metrics { return noopMetrics{} }

func (noopLogger) Debug(context.Context, string, ...any) {}
func (noopLogger) Info(context.Context, string, ...any)  {}
func (noopLogger) Warn(context.Context, string, ...any)  {}
func (noopLogger) Error(context.Context, string, ...any) {}

func (noopMetrics) IncCounter(string, float64, ...string)        {}
func (noopMetrics) RecordTimer(string, time.Duration, ...string) {}
