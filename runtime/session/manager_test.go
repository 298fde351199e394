package session_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/persuadehq/persuade/runtime/provider"
	"github.com/persuadehq/persuade/runtime/session"
	"github.com/persuadehq/persuade/runtime/session/inmem"
)

type fakeAdapter struct {
	mu        sync.Mutex
	stateless bool
	created   []string
	destroyed []string
	createErr error
	nextID    int
}

func (f *fakeAdapter) Name() string              { return "fake" }
func (f *fakeAdapter) Version() string           { return "0.0.1" }
func (f *fakeAdapter) SupportsSessions() bool    { return !f.stateless }
func (f *fakeAdapter) SupportedModels() []string { return nil }

func (f *fakeAdapter) Health(context.Context) (provider.Health, error) {
	return provider.Health{Healthy: true}, nil
}

func (f *fakeAdapter) CreateSession(_ context.Context, sessionContext string, _ provider.Options) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stateless {
		return "", provider.ErrSessionsUnsupported
	}
	if f.createErr != nil {
		return "", f.createErr
	}
	f.nextID++
	id := fmt.Sprintf("prov-%d", f.nextID)
	f.created = append(f.created, sessionContext)
	return id, nil
}

func (f *fakeAdapter) SendPrompt(context.Context, string, string, provider.Options) (*provider.Response, error) {
	return &provider.Response{Content: "{}"}, nil
}

func (f *fakeAdapter) DestroySession(_ context.Context, psid string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyed = append(f.destroyed, psid)
	return nil
}

func newTestManager(t *testing.T, adapter provider.Adapter, opts ...session.ManagerOption) *session.Manager {
	t.Helper()
	return session.NewManager(inmem.New(), adapter, opts...)
}

func TestManagerCreateAndGet(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, &fakeAdapter{})

	sess, err := m.Create(ctx, "be helpful", session.Metadata{Model: "m1"})
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, "fake", sess.Metadata.Provider)
	assert.True(t, sess.Metadata.Active)

	got, err := m.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "be helpful", got.Context)

	_, err = m.Get(ctx, "missing")
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestManagerUpdateProviderSessionImmutable(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, &fakeAdapter{})

	sess, err := m.Create(ctx, "", session.Metadata{})
	require.NoError(t, err)

	first := "prov-1"
	_, err = m.Update(ctx, sess.ID, session.Update{ProviderSessionID: &first})
	require.NoError(t, err)

	// Re-assigning the same handle is idempotent.
	_, err = m.Update(ctx, sess.ID, session.Update{ProviderSessionID: &first})
	require.NoError(t, err)

	other := "prov-2"
	_, err = m.Update(ctx, sess.ID, session.Update{ProviderSessionID: &other})
	assert.ErrorIs(t, err, session.ErrProviderSessionImmutable)
}

func TestManagerDeleteDestroysProviderSession(t *testing.T) {
	ctx := context.Background()
	adapter := &fakeAdapter{}
	m := newTestManager(t, adapter)

	sess, err := m.EnsureSession(ctx, "ctx", "", false, provider.Options{Model: "m1"})
	require.NoError(t, err)
	require.NotEmpty(t, sess.ProviderData.ProviderSessionID)

	require.NoError(t, m.Delete(ctx, sess.ID))
	assert.Equal(t, []string{sess.ProviderData.ProviderSessionID}, adapter.destroyed)

	// Deleting again is a no-op.
	require.NoError(t, m.Delete(ctx, sess.ID))
}

func TestManagerCleanup(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := &now
	m := newTestManager(t, &fakeAdapter{}, session.WithClock(func() time.Time { return *clock }))

	old, err := m.Create(ctx, "", session.Metadata{})
	require.NoError(t, err)

	later := now.Add(45 * 24 * time.Hour)
	clock = &later
	fresh, err := m.Create(ctx, "", session.Metadata{})
	require.NoError(t, err)

	deleted, err := m.Cleanup(ctx, session.DefaultTTL)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = m.Get(ctx, old.ID)
	assert.ErrorIs(t, err, session.ErrNotFound)
	_, err = m.Get(ctx, fresh.ID)
	assert.NoError(t, err)
}

func TestManagerSuccessFeedbackBoundedAndOrdered(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, &fakeAdapter{}, session.WithMaxFeedback(3))

	sess, err := m.Create(ctx, "", session.Metadata{})
	require.NoError(t, err)

	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		err := m.AddSuccessFeedback(ctx, sess.ID, session.FeedbackEntry{
			Message:       fmt.Sprintf("entry-%d", i),
			AttemptNumber: 1,
			Timestamp:     base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	entries, err := m.SuccessFeedback(ctx, sess.ID, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "entry-4", entries[0].Message)
	assert.Equal(t, "entry-3", entries[1].Message)
	assert.Equal(t, "entry-2", entries[2].Message)

	limited, err := m.SuccessFeedback(ctx, sess.ID, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "entry-4", limited[0].Message)
}

func TestEnsureSessionResolvesCallerID(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, &fakeAdapter{})

	sess, err := m.Create(ctx, "ctx", session.Metadata{Model: "m1"})
	require.NoError(t, err)

	got, err := m.EnsureSession(ctx, "ctx", sess.ID, true, provider.Options{Model: "m1"})
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)
}

func TestEnsureSessionUnknownIDFallsBackToNew(t *testing.T) {
	ctx := context.Background()
	adapter := &fakeAdapter{}
	m := newTestManager(t, adapter)

	got, err := m.EnsureSession(ctx, "ctx", "no-such-id", false, provider.Options{})
	require.NoError(t, err)
	assert.NotEqual(t, "no-such-id", got.ID)
	assert.Equal(t, "prov-1", got.ProviderData.ProviderSessionID)
	assert.Equal(t, []string{"ctx"}, adapter.created)
}

func TestEnsureSessionReusesMostRecentlyActive(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := &now
	m := newTestManager(t, &fakeAdapter{}, session.WithClock(func() time.Time { return *clock }))

	_, err := m.Create(ctx, "", session.Metadata{})
	require.NoError(t, err)
	later := now.Add(time.Hour)
	clock = &later
	recent, err := m.Create(ctx, "", session.Metadata{})
	require.NoError(t, err)

	got, err := m.EnsureSession(ctx, "", "", true, provider.Options{})
	require.NoError(t, err)
	assert.Equal(t, recent.ID, got.ID)
}

func TestEnsureSessionStatelessSynthetic(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, &fakeAdapter{stateless: true})

	got, err := m.EnsureSession(ctx, "ctx", "", true, provider.Options{})
	require.NoError(t, err)
	assert.True(t, got.Stateless())
	assert.Empty(t, got.ProviderData.ProviderSessionID)

	// Synthetic sessions are never persisted.
	_, err = m.Get(ctx, got.ID)
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestEnsureSessionCreateFailure(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, &fakeAdapter{createErr: errors.New("backend down")})

	_, err := m.EnsureSession(ctx, "ctx", "", false, provider.Options{})
	assert.Error(t, err)
}

func TestRecordPromptAccumulates(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, &fakeAdapter{})

	sess, err := m.Create(ctx, "", session.Metadata{})
	require.NoError(t, err)

	require.NoError(t, m.RecordPrompt(ctx, sess.ID, provider.TokenUsage{Input: 10, Output: 5, Total: 15}))
	require.NoError(t, m.RecordPrompt(ctx, sess.ID, provider.TokenUsage{Input: 20, Output: 10, Total: 30}))

	got, err := m.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Metadata.PromptCount)
	assert.Equal(t, provider.TokenUsage{Input: 30, Output: 15, Total: 45}, got.Metadata.TotalTokens)

	// Stateless ids are silently ignored.
	assert.NoError(t, m.RecordPrompt(ctx, "stateless-1-abc", provider.TokenUsage{Total: 5}))
}

func TestRecordReinforcementTracksTokensSeparately(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, &fakeAdapter{})

	sess, err := m.Create(ctx, "", session.Metadata{})
	require.NoError(t, err)

	require.NoError(t, m.RecordReinforcement(ctx, sess.ID, provider.TokenUsage{Input: 8, Output: 2, Total: 10}))

	got, err := m.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, got.Metrics.ReinforcementTokens)
	assert.Equal(t, 10, got.Metadata.TotalTokens.Total)
	assert.Equal(t, 1, got.Metadata.PromptCount)
}

func TestRecordOutcomeMetrics(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, &fakeAdapter{})

	sess, err := m.Create(ctx, "", session.Metadata{})
	require.NoError(t, err)

	require.NoError(t, m.RecordOutcome(ctx, sess.ID, 1, true, time.Second))
	require.NoError(t, m.RecordOutcome(ctx, sess.ID, 3, true, 3*time.Second))
	require.NoError(t, m.RecordOutcome(ctx, sess.ID, 4, false, 2*time.Second))

	mx, err := m.Metrics(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, mx.TotalOperations)
	assert.Equal(t, 8, mx.TotalAttempts)
	assert.Equal(t, 2, mx.SuccessfulValidations)
	assert.InDelta(t, 2.0, mx.MeanAttemptsToSuccess, 1e-9)
	assert.InDelta(t, 2.0/3.0, mx.SuccessRate, 1e-9)
	assert.Equal(t, 1, mx.OperationsWithRetries)
	assert.Equal(t, 4, mx.MaxAttempts)
	assert.Equal(t, 6*time.Second, mx.TotalExecutionTime)
	assert.Equal(t, 2*time.Second, mx.MeanExecutionTime)
	require.NotNil(t, mx.LastSuccessAt)
}

func TestManagerConcurrentOutcomes(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, &fakeAdapter{})

	sess, err := m.Create(ctx, "", session.Metadata{})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, m.RecordOutcome(ctx, sess.ID, 2, true, time.Millisecond))
		}()
	}
	wg.Wait()

	mx, err := m.Metrics(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 20, mx.TotalOperations)
	assert.Equal(t, 40, mx.TotalAttempts)
	assert.Equal(t, 20, mx.SuccessfulValidations)
}
