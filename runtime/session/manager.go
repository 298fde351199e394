package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/persuadehq/persuade/runtime/provider"
	"github.com/persuadehq/persuade/runtime/telemetry"
)

type (
	// Manager owns logical sessions: lifecycle, the mapping to provider
	// sessions, metrics aggregation, success-feedback history and cleanup.
	// All mutating operations on a single session are serialized behind a
	// per-session lock; reads may run concurrently.
	Manager struct {
		store       Store
		adapter     provider.Adapter
		logger      telemetry.Logger
		metrics     telemetry.Metrics
		maxFeedback int
		now         func() time.Time
		newID       func() string

		mu    sync.Mutex
		locks map[string]*sync.Mutex
	}

	// ManagerOption customizes a Manager.
	ManagerOption func(*Manager)

	// Update carries partial session changes with merge semantics: nil fields
	// are left untouched.
	Update struct {
		// Context replaces the durable instruction.
		Context *string
		// ProviderSessionID assigns the backend handle. Assigning over an
		// existing different handle fails with ErrProviderSessionImmutable.
		ProviderSessionID *string
		// Model replaces the model identifier.
		Model *string
		// Active replaces the active flag.
		Active *bool
		// Tags replaces the tag set.
		Tags []string
	}
)

// WithLogger sets the manager's logger.
func WithLogger(l telemetry.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// WithMetrics sets the manager's metrics recorder.
func WithMetrics(mx telemetry.Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = mx }
}

// WithClock overrides the time source. Tests use this to control TTL and
// metric timestamps.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// WithMaxFeedback overrides the success-feedback history bound.
func WithMaxFeedback(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.maxFeedback = n
		}
	}
}

// WithIDGenerator overrides logical id generation.
func WithIDGenerator(gen func() string) ManagerOption {
	return func(m *Manager) { m.newID = gen }
}

// NewManager builds a Manager over the given store and adapter.
func NewManager(store Store, adapter provider.Adapter, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:       store,
		adapter:     adapter,
		logger:      telemetry.NewNoopLogger(),
		metrics:     telemetry.NewNoopMetrics(),
		maxFeedback: DefaultMaxFeedback,
		now:         time.Now,
		newID:       uuid.NewString,
		locks:       make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Adapter returns the provider adapter the manager is bound to.
func (m *Manager) Adapter() provider.Adapter { return m.adapter }

// lockFor returns the mutex guarding writes to the given session.
func (m *Manager) lockFor(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	mu, ok := m.locks[id]
	if !ok {
		mu = &sync.Mutex{}
		m.locks[id] = mu
	}
	return mu
}

func (m *Manager) dropLock(id string) {
	m.mu.Lock()
	delete(m.locks, id)
	m.mu.Unlock()
}

// Create persists a fresh session with a generated logical id.
func (m *Manager) Create(ctx context.Context, sessionContext string, meta Metadata) (*Session, error) {
	now := m.now().UTC()
	meta.CreatedAt = now
	meta.LastActivity = now
	meta.Active = true
	if meta.Provider == "" && m.adapter != nil {
		meta.Provider = m.adapter.Name()
	}
	sess := &Session{
		ID:       m.newID(),
		Context:  sessionContext,
		Metadata: meta,
	}
	if err := m.store.Put(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	m.metrics.IncCounter("persuade.sessions.created", 1, "provider", meta.Provider)
	m.logger.Debug(ctx, "session created", "session_id", sess.ID, "provider", meta.Provider)
	return sess.Clone(), nil
}

// Get loads a session by logical id. Returns ErrNotFound when missing;
// stateless synthetic ids are never stored and always miss.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	if IsStatelessID(id) {
		return nil, ErrNotFound
	}
	return m.store.Get(ctx, id)
}

// Update applies a partial change to a session and returns the merged result.
func (m *Manager) Update(ctx context.Context, id string, upd Update) (*Session, error) {
	mu := m.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	sess, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if upd.Context != nil {
		sess.Context = *upd.Context
	}
	if upd.ProviderSessionID != nil {
		cur := sess.ProviderData.ProviderSessionID
		if cur != "" && cur != *upd.ProviderSessionID {
			return nil, ErrProviderSessionImmutable
		}
		sess.ProviderData.ProviderSessionID = *upd.ProviderSessionID
	}
	if upd.Model != nil {
		sess.Metadata.Model = *upd.Model
	}
	if upd.Active != nil {
		sess.Metadata.Active = *upd.Active
	}
	if upd.Tags != nil {
		sess.Metadata.Tags = append([]string(nil), upd.Tags...)
	}
	sess.Metadata.LastActivity = m.now().UTC()
	if err := m.store.Put(ctx, sess); err != nil {
		return nil, fmt.Errorf("update session %s: %w", id, err)
	}
	return sess.Clone(), nil
}

// Delete removes a session, best-effort destroying the provider-side
// conversation first. Deleting a missing session is a no-op.
func (m *Manager) Delete(ctx context.Context, id string) error {
	mu := m.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	sess, err := m.store.Get(ctx, id)
	if err != nil {
		if err == ErrNotFound {
			return nil
		}
		return err
	}
	m.destroyProviderSession(ctx, sess)
	if err := m.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	m.dropLock(id)
	m.metrics.IncCounter("persuade.sessions.deleted", 1, "provider", sess.Metadata.Provider)
	return nil
}

func (m *Manager) destroyProviderSession(ctx context.Context, sess *Session) {
	psid := sess.ProviderData.ProviderSessionID
	if psid == "" || m.adapter == nil {
		return
	}
	if err := m.adapter.DestroySession(ctx, psid); err != nil {
		m.logger.Warn(ctx, "provider session destroy failed",
			"session_id", sess.ID, "provider_session_id", psid, "error", err.Error())
	}
}

// List returns sessions matching the filter.
func (m *Manager) List(ctx context.Context, f Filter) ([]*Session, error) {
	return m.store.List(ctx, f)
}

// Cleanup deletes sessions whose last activity is older than maxAge and
// returns the number deleted. Provider-side sessions are destroyed
// best-effort.
func (m *Manager) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		maxAge = DefaultTTL
	}
	cutoff := m.now().UTC().Add(-maxAge)
	all, err := m.store.List(ctx, Filter{OrderBy: OrderByLastActivity})
	if err != nil {
		return 0, fmt.Errorf("cleanup: list sessions: %w", err)
	}
	deleted := 0
	for _, sess := range all {
		if !sess.Metadata.LastActivity.Before(cutoff) {
			continue
		}
		if err := m.Delete(ctx, sess.ID); err != nil {
			m.logger.Warn(ctx, "cleanup: session delete failed", "session_id", sess.ID, "error", err.Error())
			continue
		}
		deleted++
	}
	if deleted > 0 {
		m.metrics.IncCounter("persuade.sessions.expired", float64(deleted))
		m.logger.Info(ctx, "session cleanup complete", "deleted", deleted, "max_age", maxAge.String())
	}
	return deleted, nil
}

// AddSuccessFeedback appends an entry to the session's bounded
// success-feedback history, evicting the oldest entries past the bound.
func (m *Manager) AddSuccessFeedback(ctx context.Context, id string, entry FeedbackEntry) error {
	if IsStatelessID(id) {
		return nil
	}
	mu := m.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	sess, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = m.now().UTC()
	}
	sess.SuccessFeedback = append(sess.SuccessFeedback, entry)
	if n := len(sess.SuccessFeedback); n > m.maxFeedback {
		sess.SuccessFeedback = sess.SuccessFeedback[n-m.maxFeedback:]
	}
	if err := m.store.Put(ctx, sess); err != nil {
		return fmt.Errorf("add success feedback to %s: %w", id, err)
	}
	return nil
}

// SuccessFeedback returns up to limit entries, most recent first. A zero or
// negative limit returns the full history.
func (m *Manager) SuccessFeedback(ctx context.Context, id string, limit int) ([]FeedbackEntry, error) {
	sess, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make([]FeedbackEntry, 0, len(sess.SuccessFeedback))
	for i := len(sess.SuccessFeedback) - 1; i >= 0; i-- {
		out = append(out, sess.SuccessFeedback[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Metrics returns the session's aggregated metrics.
func (m *Manager) Metrics(ctx context.Context, id string) (Metrics, error) {
	sess, err := m.Get(ctx, id)
	if err != nil {
		return Metrics{}, err
	}
	return sess.Metrics, nil
}

// EnsureSession resolves the session an orchestrator call should run under:
//
//  1. A caller-supplied logical id that resolves to a session bound to this
//     provider is refreshed and used. An id that fails lookup is treated as
//     absent.
//  2. Otherwise, with reuse enabled, the most recently active session for
//     this provider is used.
//  3. Otherwise, for session-capable providers, a fresh provider session is
//     opened and persisted under a new logical id.
//  4. Stateless providers get a synthetic, non-persisted id for reporting.
func (m *Manager) EnsureSession(ctx context.Context, sessionContext, logicalID string, reuse bool, opts provider.Options) (*Session, error) {
	if logicalID != "" && !IsStatelessID(logicalID) {
		sess, err := m.store.Get(ctx, logicalID)
		switch {
		case err == nil && sess.Metadata.Provider == m.adapter.Name():
			return m.touch(ctx, sess)
		case err != nil && err != ErrNotFound:
			return nil, fmt.Errorf("ensure session: lookup %s: %w", logicalID, err)
		default:
			m.logger.Debug(ctx, "session id not usable, falling back",
				"session_id", logicalID, "provider", m.adapter.Name())
		}
	}

	if reuse && m.adapter.SupportsSessions() {
		active := true
		candidates, err := m.store.List(ctx, Filter{
			Provider: m.adapter.Name(),
			Active:   &active,
			OrderBy:  OrderByLastActivity,
			Limit:    1,
		})
		if err != nil {
			return nil, fmt.Errorf("ensure session: list candidates: %w", err)
		}
		if len(candidates) > 0 {
			return m.touch(ctx, candidates[0])
		}
	}

	if m.adapter.SupportsSessions() {
		psid, err := m.adapter.CreateSession(ctx, sessionContext, opts)
		if err != nil {
			return nil, fmt.Errorf("ensure session: create provider session: %w", err)
		}
		sess, err := m.Create(ctx, sessionContext, Metadata{
			Provider: m.adapter.Name(),
			Model:    opts.Model,
		})
		if err != nil {
			return nil, err
		}
		sess, err = m.Update(ctx, sess.ID, Update{ProviderSessionID: &psid})
		if err != nil {
			return nil, err
		}
		return sess, nil
	}

	now := m.now().UTC()
	return &Session{
		ID:      fmt.Sprintf("%s%d-%s", statelessPrefix, now.UnixMilli(), m.newID()[:8]),
		Context: sessionContext,
		Metadata: Metadata{
			Provider:     m.adapter.Name(),
			Model:        opts.Model,
			CreatedAt:    now,
			LastActivity: now,
		},
	}, nil
}

func (m *Manager) touch(ctx context.Context, sess *Session) (*Session, error) {
	mu := m.lockFor(sess.ID)
	mu.Lock()
	defer mu.Unlock()

	sess.Metadata.LastActivity = m.now().UTC()
	if err := m.store.Put(ctx, sess); err != nil {
		return nil, fmt.Errorf("refresh session %s: %w", sess.ID, err)
	}
	return sess.Clone(), nil
}

// RecordPrompt accounts one adapter prompt against the session: prompt count,
// token usage and last activity. No-op for stateless sessions.
func (m *Manager) RecordPrompt(ctx context.Context, id string, usage provider.TokenUsage) error {
	if IsStatelessID(id) {
		return nil
	}
	mu := m.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	sess, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	sess.Metadata.PromptCount++
	sess.Metadata.TotalTokens = sess.Metadata.TotalTokens.Add(usage)
	sess.Metrics.TotalTokens = sess.Metrics.TotalTokens.Add(usage)
	sess.Metadata.LastActivity = m.now().UTC()
	if err := m.store.Put(ctx, sess); err != nil {
		return fmt.Errorf("record prompt on %s: %w", id, err)
	}
	return nil
}

// RecordReinforcement accounts tokens spent on a reinforcement prompt. The
// usage counts toward session totals and is tracked separately so the cost of
// reinforcement stays visible. No-op for stateless sessions.
func (m *Manager) RecordReinforcement(ctx context.Context, id string, usage provider.TokenUsage) error {
	if IsStatelessID(id) {
		return nil
	}
	mu := m.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	sess, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	sess.Metadata.PromptCount++
	sess.Metadata.TotalTokens = sess.Metadata.TotalTokens.Add(usage)
	sess.Metrics.TotalTokens = sess.Metrics.TotalTokens.Add(usage)
	sess.Metrics.ReinforcementTokens += usage.Total
	sess.Metadata.LastActivity = m.now().UTC()
	if err := m.store.Put(ctx, sess); err != nil {
		return fmt.Errorf("record reinforcement on %s: %w", id, err)
	}
	m.metrics.IncCounter("persuade.reinforcement.tokens", float64(usage.Total),
		"provider", sess.Metadata.Provider)
	return nil
}

// RecordOutcome folds one terminal orchestrator call into the session's
// metrics. attempts is the total attempt count for the call; success reports
// whether a valid value was produced. No-op for stateless sessions.
func (m *Manager) RecordOutcome(ctx context.Context, id string, attempts int, success bool, duration time.Duration) error {
	if IsStatelessID(id) {
		return nil
	}
	mu := m.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	sess, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	now := m.now().UTC()
	mx := &sess.Metrics
	mx.TotalOperations++
	mx.TotalAttempts += attempts
	if success {
		prev := mx.SuccessfulValidations
		mx.SuccessfulValidations++
		mx.MeanAttemptsToSuccess = (mx.MeanAttemptsToSuccess*float64(prev) + float64(attempts)) / float64(mx.SuccessfulValidations)
		mx.LastSuccessAt = &now
		if attempts > 1 {
			mx.OperationsWithRetries++
		}
	}
	mx.SuccessRate = float64(mx.SuccessfulValidations) / float64(mx.TotalOperations)
	mx.TotalExecutionTime += duration
	mx.MeanExecutionTime = mx.TotalExecutionTime / time.Duration(mx.TotalOperations)
	if attempts > mx.MaxAttempts {
		mx.MaxAttempts = attempts
	}
	sess.Metadata.LastActivity = now
	if err := m.store.Put(ctx, sess); err != nil {
		return fmt.Errorf("record outcome on %s: %w", id, err)
	}
	return nil
}

// Shutdown best-effort destroys the provider sessions of all active sessions.
// Session records stay persisted so conversations can be resumed or cleaned
// up later.
func (m *Manager) Shutdown(ctx context.Context) error {
	active := true
	sessions, err := m.store.List(ctx, Filter{Active: &active})
	if err != nil {
		return fmt.Errorf("shutdown: list sessions: %w", err)
	}
	for _, sess := range sessions {
		m.destroyProviderSession(ctx, sess)
	}
	return nil
}

// SortSessions orders sessions in place, newest first by the given key.
// Shared by store implementations that filter in memory.
func SortSessions(sessions []*Session, by Order) {
	sort.SliceStable(sessions, func(i, j int) bool {
		switch by {
		case OrderByCreatedAt:
			return sessions[i].Metadata.CreatedAt.After(sessions[j].Metadata.CreatedAt)
		default:
			return sessions[i].Metadata.LastActivity.After(sessions[j].Metadata.LastActivity)
		}
	})
}
