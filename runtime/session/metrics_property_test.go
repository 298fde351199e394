package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/persuadehq/persuade/runtime/session"
)

// outcome is one simulated terminal orchestrator call.
type outcome struct {
	Attempts int
	Success  bool
	Millis   int
}

func genOutcome() gopter.Gen {
	return gopter.CombineGens(
		gen.IntRange(1, 6),
		gen.Bool(),
		gen.IntRange(1, 5000),
	).Map(func(vals []any) outcome {
		return outcome{Attempts: vals[0].(int), Success: vals[1].(bool), Millis: vals[2].(int)}
	})
}

func TestMetricsProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("successful validations never exceed total attempts", prop.ForAll(
		func(outcomes []outcome) bool {
			ctx := context.Background()
			m := newPropManager(t)
			sess, err := m.Create(ctx, "", session.Metadata{})
			if err != nil {
				return false
			}
			for _, o := range outcomes {
				dur := time.Duration(o.Millis) * time.Millisecond
				if err := m.RecordOutcome(ctx, sess.ID, o.Attempts, o.Success, dur); err != nil {
					return false
				}
			}
			mx, err := m.Metrics(ctx, sess.ID)
			if err != nil {
				return false
			}
			return mx.SuccessfulValidations <= mx.TotalAttempts &&
				mx.SuccessfulValidations <= mx.TotalOperations &&
				mx.SuccessRate >= 0 && mx.SuccessRate <= 1
		},
		gen.SliceOf(genOutcome()),
	))

	properties.Property("success feedback timestamps are non-decreasing", prop.ForAll(
		func(offsets []int) bool {
			ctx := context.Background()
			m := newPropManager(t)
			sess, err := m.Create(ctx, "", session.Metadata{})
			if err != nil {
				return false
			}
			at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
			for i, off := range offsets {
				at = at.Add(time.Duration(off) * time.Second)
				err := m.AddSuccessFeedback(ctx, sess.ID, session.FeedbackEntry{
					Message:       "ok",
					AttemptNumber: 1 + i%3,
					Timestamp:     at,
				})
				if err != nil {
					return false
				}
			}
			got, err := m.Get(ctx, sess.ID)
			if err != nil {
				return false
			}
			if len(got.SuccessFeedback) > session.DefaultMaxFeedback {
				return false
			}
			for i := 1; i < len(got.SuccessFeedback); i++ {
				if got.SuccessFeedback[i].Timestamp.Before(got.SuccessFeedback[i-1].Timestamp) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 3600)),
	))

	properties.TestingRun(t)
}

func newPropManager(t *testing.T) *session.Manager {
	t.Helper()
	return newTestManager(t, &fakeAdapter{})
}
