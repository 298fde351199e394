package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/persuadehq/persuade/runtime/session"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	s, err := New(Options{Client: client})
	require.NoError(t, err)
	return s, mr
}

func testSession(id, prov string, active bool, createdAt time.Time) *session.Session {
	return &session.Session{
		ID:      id,
		Context: "You extract fields.",
		Metadata: session.Metadata{
			Provider:     prov,
			Model:        "claude-sonnet-4-5",
			Active:       active,
			CreatedAt:    createdAt,
			LastActivity: createdAt,
		},
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	in := testSession("sess-1", "anthropic", true, time.Now().UTC().Truncate(time.Millisecond))
	require.NoError(t, s.Put(ctx, in))

	out, err := s.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, in.ID, out.ID)
	assert.Equal(t, in.Context, out.Context)
	assert.Equal(t, in.Metadata.Provider, out.Metadata.Provider)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	require.NoError(t, s.Put(ctx, testSession("sess-1", "anthropic", true, time.Now())))
	require.NoError(t, s.Delete(ctx, "sess-1"))
	require.NoError(t, s.Delete(ctx, "sess-1"))

	_, err := s.Get(ctx, "sess-1")
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestListFiltersAndOrders(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	old := testSession("old", "anthropic", true, base)
	newer := testSession("new", "anthropic", true, base.Add(2*time.Hour))
	newer.Metadata.LastActivity = base.Add(3 * time.Hour)
	inactive := testSession("done", "anthropic", false, base.Add(time.Hour))
	other := testSession("other", "openai", true, base.Add(time.Hour))

	for _, sess := range []*session.Session{old, newer, inactive, other} {
		require.NoError(t, s.Put(ctx, sess))
	}

	active := true
	got, err := s.List(ctx, session.Filter{Provider: "anthropic", Active: &active})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "new", got[0].ID)
	assert.Equal(t, "old", got[1].ID)

	got, err = s.List(ctx, session.Filter{Provider: "anthropic", OrderBy: session.OrderByCreatedAt, Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "new", got[0].ID)

	got, err = s.List(ctx, session.Filter{Tags: []string{"missing"}})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestExpiredRecordSkippedInList(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t)
	s.ttl = time.Minute

	require.NoError(t, s.Put(ctx, testSession("sess-1", "anthropic", true, time.Now().UTC())))
	require.NoError(t, s.Put(ctx, testSession("sess-2", "anthropic", true, time.Now().UTC())))

	// Expire one record while leaving its index entry behind.
	mr.FastForward(2 * time.Minute)
	require.NoError(t, s.Put(ctx, testSession("sess-2", "anthropic", true, time.Now().UTC())))

	got, err := s.List(ctx, session.Filter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "sess-2", got[0].ID)
}

func TestManagerIntegration(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	sess := testSession("sess-1", "anthropic", true, time.Now().UTC())
	sess.SuccessFeedback = []session.FeedbackEntry{{
		Message:       "Good job!",
		AttemptNumber: 1,
		Timestamp:     time.Now().UTC().Truncate(time.Millisecond),
	}}
	require.NoError(t, s.Put(ctx, sess))

	out, err := s.Get(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, out.SuccessFeedback, 1)
	assert.Equal(t, "Good job!", out.SuccessFeedback[0].Message)
}
