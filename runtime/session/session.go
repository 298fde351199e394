// Package session defines durable logical-session state and its lifecycle.
//
// A Session is the first-class conversational container: it owns the mapping
// from the core's stable logical id to the backend's native session handle,
// accumulates usage metrics, and keeps a bounded history of first-attempt
// successes used for reinforcement. Sessions are created and ended
// independently of any single orchestrator call.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/persuadehq/persuade/runtime/provider"
)

type (
	// Session captures durable conversation state for one logical session.
	//
	// Contract:
	// - IDs are opaque, globally unique and stable for the session's lifetime.
	// - ProviderData.ProviderSessionID, once assigned, never changes; rotating
	//   the backend conversation means creating a new Session.
	// - Only aggregate attempt effects are retained; per-attempt records live
	//   and die with a single orchestrator call.
	Session struct {
		// ID is the logical identifier callers hold.
		ID string
		// Context is the durable system instruction. May be empty.
		Context string
		// ProviderData holds the backend's native handles.
		ProviderData ProviderData
		// Metadata describes the session and its activity.
		Metadata Metadata
		// SuccessFeedback is the bounded, oldest-first history of
		// first-attempt successes.
		SuccessFeedback []FeedbackEntry
		// Metrics aggregates attempt outcomes across calls.
		Metrics Metrics
		// Extra preserves unrecognized top-level fields across persistence
		// round-trips.
		Extra map[string]json.RawMessage
	}

	// ProviderData holds backend-native session state.
	ProviderData struct {
		// ProviderSessionID is the backend's conversation handle, empty when
		// the backend is stateless or no conversation has been opened yet.
		ProviderSessionID string
	}

	// Metadata describes a session and tracks its activity.
	Metadata struct {
		// Provider is the adapter name the session is bound to.
		Provider string
		// Model is the model identifier used by the session.
		Model string
		// PromptCount counts adapter prompts sent under this session.
		PromptCount int
		// TotalTokens accumulates usage across all prompts.
		TotalTokens provider.TokenUsage
		// LastActivity is the time of the most recent prompt or update.
		LastActivity time.Time
		// Active is false once the session is deactivated or expired.
		Active bool
		// Tags are caller-provided labels used for filtering.
		Tags []string
		// CreatedAt records when the session was created.
		CreatedAt time.Time
	}

	// FeedbackEntry records one first-attempt success for later reinforcement
	// and metrics.
	FeedbackEntry struct {
		// Message is the reinforcement text sent to the provider.
		Message string
		// Output is the validated value that succeeded.
		Output any
		// AttemptNumber is the attempt on which validation succeeded.
		AttemptNumber int
		// Timestamp records when the success happened.
		Timestamp time.Time
		// Metadata carries optional free-form details.
		Metadata map[string]any
	}

	// Metrics aggregates validation outcomes for one session.
	Metrics struct {
		// TotalOperations counts terminal orchestrator calls (success or
		// failure) recorded against the session.
		TotalOperations int
		// TotalAttempts sums attempt counts across all operations.
		TotalAttempts int
		// SuccessfulValidations counts operations that produced a valid value.
		SuccessfulValidations int
		// MeanAttemptsToSuccess is the running mean of attempts used by
		// successful operations.
		MeanAttemptsToSuccess float64
		// SuccessRate is SuccessfulValidations over TotalOperations.
		SuccessRate float64
		// LastSuccessAt is the time of the most recent successful validation.
		LastSuccessAt *time.Time
		// TotalExecutionTime sums wall-clock duration across operations.
		TotalExecutionTime time.Duration
		// MeanExecutionTime is TotalExecutionTime over TotalOperations.
		MeanExecutionTime time.Duration
		// TotalTokens accumulates usage across operations, reinforcement
		// included.
		TotalTokens provider.TokenUsage
		// ReinforcementTokens counts tokens spent on reinforcement prompts.
		ReinforcementTokens int
		// OperationsWithRetries counts successes that needed more than one
		// attempt.
		OperationsWithRetries int
		// MaxAttempts is the largest attempt count observed for one operation.
		MaxAttempts int
	}

	// Filter narrows and orders List results. Zero values match everything.
	Filter struct {
		// Provider matches sessions bound to the named adapter.
		Provider string
		// Model matches sessions using the given model.
		Model string
		// Active, when set, matches sessions with the given active flag.
		Active *bool
		// CreatedAfter matches sessions created at or after the given time.
		CreatedAfter time.Time
		// CreatedBefore matches sessions created before the given time.
		CreatedBefore time.Time
		// Tags matches sessions carrying all of the given tags.
		Tags []string
		// OrderBy selects the sort key. Results are newest first.
		OrderBy Order
		// Limit caps the number of results. Zero means no limit.
		Limit int
	}

	// Order is a List sort key.
	Order string

	// Store persists sessions. Implementations must be safe for concurrent
	// use; the Manager serializes writes to a single session above this layer.
	Store interface {
		// Put inserts or replaces a session record.
		Put(ctx context.Context, sess *Session) error
		// Get loads a session. Returns ErrNotFound when missing.
		Get(ctx context.Context, id string) (*Session, error)
		// Delete removes a session. Deleting a missing session is a no-op.
		Delete(ctx context.Context, id string) error
		// List returns sessions matching the filter, newest first per
		// Filter.OrderBy.
		List(ctx context.Context, f Filter) ([]*Session, error)
	}
)

// List sort keys.
const (
	// OrderByLastActivity sorts by most recent activity. The default.
	OrderByLastActivity Order = "last_activity"
	// OrderByCreatedAt sorts by creation time.
	OrderByCreatedAt Order = "created_at"
)

const (
	// DefaultTTL is the inactivity window after which Cleanup removes a
	// session.
	DefaultTTL = 30 * 24 * time.Hour

	// DefaultMaxFeedback bounds the success-feedback history kept per session.
	DefaultMaxFeedback = 50

	// statelessPrefix marks synthetic ids handed out for stateless providers.
	statelessPrefix = "stateless-"
)

var (
	// ErrNotFound indicates the session does not exist in the store.
	ErrNotFound = errors.New("session not found")
	// ErrProviderSessionImmutable indicates an attempt to change an assigned
	// provider session id.
	ErrProviderSessionImmutable = errors.New("provider session id is immutable once assigned")
)

// IsStatelessID reports whether id is a synthetic identifier for a stateless
// provider. Such sessions are never persisted.
func IsStatelessID(id string) bool {
	return strings.HasPrefix(id, statelessPrefix)
}

// Stateless reports whether the session is a synthetic, non-persisted record
// for a stateless provider.
func (s *Session) Stateless() bool {
	return s != nil && IsStatelessID(s.ID)
}

// Clone returns a deep copy so callers can mutate freely without racing the
// store.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	if len(s.Metadata.Tags) > 0 {
		out.Metadata.Tags = append([]string(nil), s.Metadata.Tags...)
	}
	if s.Metrics.LastSuccessAt != nil {
		at := *s.Metrics.LastSuccessAt
		out.Metrics.LastSuccessAt = &at
	}
	if len(s.SuccessFeedback) > 0 {
		out.SuccessFeedback = make([]FeedbackEntry, len(s.SuccessFeedback))
		for i, e := range s.SuccessFeedback {
			out.SuccessFeedback[i] = e.clone()
		}
	}
	if len(s.Extra) > 0 {
		out.Extra = make(map[string]json.RawMessage, len(s.Extra))
		for k, v := range s.Extra {
			out.Extra[k] = append(json.RawMessage(nil), v...)
		}
	}
	return &out
}

func (e FeedbackEntry) clone() FeedbackEntry {
	out := e
	if len(e.Metadata) > 0 {
		out.Metadata = make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// Matches reports whether the session satisfies the filter's predicates.
// Ordering and limits are applied by the store, not here.
func (f Filter) Matches(s *Session) bool {
	if f.Provider != "" && s.Metadata.Provider != f.Provider {
		return false
	}
	if f.Model != "" && s.Metadata.Model != f.Model {
		return false
	}
	if f.Active != nil && s.Metadata.Active != *f.Active {
		return false
	}
	if !f.CreatedAfter.IsZero() && s.Metadata.CreatedAt.Before(f.CreatedAfter) {
		return false
	}
	if !f.CreatedBefore.IsZero() && !s.Metadata.CreatedAt.Before(f.CreatedBefore) {
		return false
	}
	for _, want := range f.Tags {
		found := false
		for _, tag := range s.Metadata.Tags {
			if tag == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
