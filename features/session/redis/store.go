// Package redis provides a session.Store backed by Redis. Each session lives
// under its own key in canonical JSON form; two sorted sets index sessions by
// last activity and creation time so List can order server-side.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/persuadehq/persuade/runtime/session"
)

const (
	defaultKeyPrefix = "persuade"
	storeName        = "session-redis"
)

type (
	// Options configures the Redis session store.
	Options struct {
		// Client is the connected Redis client. Required.
		Client *redis.Client

		// KeyPrefix namespaces all keys written by the store. Defaults to
		// "persuade".
		KeyPrefix string

		// TTL expires session records after inactivity. Zero disables
		// expiration; Manager.Cleanup still applies its own window.
		TTL time.Duration
	}

	// Store implements session.Store on top of Redis.
	Store struct {
		client *redis.Client
		prefix string
		ttl    time.Duration
	}
)

// New returns a Store backed by Redis.
func New(opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("redis client is required")
	}
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &Store{
		client: opts.Client,
		prefix: prefix,
		ttl:    opts.TTL,
	}, nil
}

// NewFromURL connects to Redis using a redis:// URL and verifies the
// connection before returning.
func NewFromURL(ctx context.Context, url string, ttl time.Duration) (*Store, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return New(Options{Client: client, TTL: ttl})
}

// Name implements health.Pinger.
func (s *Store) Name() string {
	return storeName
}

// Ping implements health.Pinger.
func (s *Store) Ping(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return s.client.Ping(ctx).Err()
}

// Put implements session.Store.
func (s *Store) Put(ctx context.Context, sess *session.Session) error {
	if sess == nil || sess.ID == "" {
		return errors.New("session id is required")
	}
	data, err := session.MarshalRecord(sess)
	if err != nil {
		return err
	}
	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.sessionKey(sess.ID), data, s.ttl)
	pipe.ZAdd(ctx, s.activityKey(), redis.Z{
		Score:  float64(sess.Metadata.LastActivity.UnixMilli()),
		Member: sess.ID,
	})
	pipe.ZAdd(ctx, s.createdKey(), redis.Z{
		Score:  float64(sess.Metadata.CreatedAt.UnixMilli()),
		Member: sess.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store session %q: %w", sess.ID, err)
	}
	return nil
}

// Get implements session.Store.
func (s *Store) Get(ctx context.Context, id string) (*session.Session, error) {
	if id == "" {
		return nil, errors.New("session id is required")
	}
	data, err := s.client.Get(ctx, s.sessionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, session.ErrNotFound
		}
		return nil, fmt.Errorf("load session %q: %w", id, err)
	}
	return session.UnmarshalRecord(data)
}

// Delete implements session.Store. Deleting a missing session is a no-op.
func (s *Store) Delete(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("session id is required")
	}
	pipe := s.client.Pipeline()
	pipe.Del(ctx, s.sessionKey(id))
	pipe.ZRem(ctx, s.activityKey(), id)
	pipe.ZRem(ctx, s.createdKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete session %q: %w", id, err)
	}
	return nil
}

// List implements session.Store. Ids come from the sorted-set index in
// newest-first order; predicate filtering happens after decode since the
// predicates cut across fields Redis cannot index cheaply.
func (s *Store) List(ctx context.Context, f session.Filter) ([]*session.Session, error) {
	index := s.activityKey()
	if f.OrderBy == session.OrderByCreatedAt {
		index = s.createdKey()
	}
	ids, err := s.client.ZRevRange(ctx, index, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	var out []*session.Session
	for _, id := range ids {
		sess, err := s.Get(ctx, id)
		if err != nil {
			if errors.Is(err, session.ErrNotFound) {
				// Record expired but its index entry lingers. Skip; the next
				// Put or Delete of the id repairs the index.
				continue
			}
			return nil, err
		}
		if !f.Matches(sess) {
			continue
		}
		out = append(out, sess)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func (s *Store) sessionKey(id string) string {
	return fmt.Sprintf("%s:session:%s", s.prefix, id)
}

func (s *Store) activityKey() string {
	return s.prefix + ":sessions:by_activity"
}

func (s *Store) createdKey() string {
	return s.prefix + ":sessions:by_created"
}
