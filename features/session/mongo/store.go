// Package mongo provides a session.Store backed by MongoDB. Records are kept
// in their canonical JSON form alongside a few indexed columns used by List
// filters.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/persuadehq/persuade/runtime/session"
)

const (
	defaultCollection = "persuade_sessions"
	defaultOpTimeout  = 5 * time.Second
	storeName         = "session-mongo"
)

type (
	// Options configures the Mongo session store.
	Options struct {
		// Client is the connected Mongo client. Required.
		Client *mongodriver.Client

		// Database is the database name. Required.
		Database string

		// Collection overrides the default collection name.
		Collection string

		// Timeout bounds individual store operations. Defaults to 5s.
		Timeout time.Duration
	}

	// Store implements session.Store on top of a Mongo collection.
	Store struct {
		mongo   *mongodriver.Client
		coll    collection
		timeout time.Duration
	}

	// document is the persisted shape. Data carries the canonical JSON record
	// so the wire format stays identical across stores; the remaining fields
	// are denormalized copies used by List filters and indexes.
	document struct {
		ID           string    `bson:"_id"`
		Provider     string    `bson:"provider"`
		Model        string    `bson:"model"`
		Active       bool      `bson:"active"`
		Tags         []string  `bson:"tags,omitempty"`
		CreatedAt    time.Time `bson:"created_at"`
		LastActivity time.Time `bson:"last_activity"`
		Data         string    `bson:"data"`
	}
)

// New returns a Store backed by MongoDB. It creates the indexes List depends
// on before returning.
func New(opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	collName := opts.Collection
	if collName == "" {
		collName = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	coll := mongoCollection{coll: opts.Client.Database(opts.Database).Collection(collName)}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := ensureIndexes(ctx, coll); err != nil {
		return nil, fmt.Errorf("create session indexes: %w", err)
	}
	s, err := newStoreWithCollection(coll, timeout)
	if err != nil {
		return nil, err
	}
	s.mongo = opts.Client
	return s, nil
}

func newStoreWithCollection(coll collection, timeout time.Duration) (*Store, error) {
	if coll == nil {
		return nil, errors.New("collection is required")
	}
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	return &Store{coll: coll, timeout: timeout}, nil
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
	if s.mongo == nil {
		return nil
	}
	return s.mongo.Ping(ctx, readpref.Primary())
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
	doc := document{
		ID:           sess.ID,
		Provider:     sess.Metadata.Provider,
		Model:        sess.Metadata.Model,
		Active:       sess.Metadata.Active,
		Tags:         append([]string(nil), sess.Metadata.Tags...),
		CreatedAt:    sess.Metadata.CreatedAt.UTC(),
		LastActivity: sess.Metadata.LastActivity.UTC(),
		Data:         string(data),
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err = s.coll.ReplaceOne(ctx, bson.M{"_id": sess.ID}, doc, options.Replace().SetUpsert(true))
	return err
}

// Get implements session.Store.
func (s *Store) Get(ctx context.Context, id string) (*session.Session, error) {
	if id == "" {
		return nil, errors.New("session id is required")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var doc document
	if err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, session.ErrNotFound
		}
		return nil, err
	}
	return session.UnmarshalRecord([]byte(doc.Data))
}

// Delete implements session.Store. Deleting a missing session is a no-op.
func (s *Store) Delete(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("session id is required")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.coll.DeleteOne(ctx, bson.M{"_id": id})
	return err
}

// List implements session.Store. Filtering and ordering happen server-side so
// large collections do not round-trip through the client.
func (s *Store) List(ctx context.Context, f session.Filter) ([]*session.Session, error) {
	filter := bson.M{}
	if f.Provider != "" {
		filter["provider"] = f.Provider
	}
	if f.Model != "" {
		filter["model"] = f.Model
	}
	if f.Active != nil {
		filter["active"] = *f.Active
	}
	if len(f.Tags) > 0 {
		filter["tags"] = bson.M{"$all": f.Tags}
	}
	created := bson.M{}
	if !f.CreatedAfter.IsZero() {
		created["$gt"] = f.CreatedAfter.UTC()
	}
	if !f.CreatedBefore.IsZero() {
		created["$lt"] = f.CreatedBefore.UTC()
	}
	if len(created) > 0 {
		filter["created_at"] = created
	}

	sortKey := "last_activity"
	if f.OrderBy == session.OrderByCreatedAt {
		sortKey = "created_at"
	}
	findOpts := options.Find().SetSort(bson.D{{Key: sortKey, Value: -1}})
	if f.Limit > 0 {
		findOpts = findOpts.SetLimit(int64(f.Limit))
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	cur, err := s.coll.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = cur.Close(ctx)
	}()
	var out []*session.Session
	for cur.Next(ctx) {
		var doc document
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		sess, err := session.UnmarshalRecord([]byte(doc.Data))
		if err != nil {
			return nil, fmt.Errorf("decode session %q: %w", doc.ID, err)
		}
		out = append(out, sess)
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func ensureIndexes(ctx context.Context, coll collection) error {
	indexes := []mongodriver.IndexModel{
		{Keys: bson.D{{Key: "last_activity", Value: -1}}},
		{Keys: bson.D{{Key: "provider", Value: 1}, {Key: "active", Value: 1}, {Key: "last_activity", Value: -1}}},
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
	}
	for _, model := range indexes {
		if _, err := coll.Indexes().CreateOne(ctx, model); err != nil {
			return err
		}
	}
	return nil
}

type collection interface {
	FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) singleResult
	Find(ctx context.Context, filter any, opts ...options.Lister[options.FindOptions]) (cursor, error)
	ReplaceOne(ctx context.Context, filter any, replacement any,
		opts ...options.Lister[options.ReplaceOptions]) (*mongodriver.UpdateResult, error)
	DeleteOne(ctx context.Context, filter any,
		opts ...options.Lister[options.DeleteOneOptions]) (*mongodriver.DeleteResult, error)
	Indexes() indexView
}

type indexView interface {
	CreateOne(ctx context.Context, model mongodriver.IndexModel,
		opts ...options.Lister[options.CreateIndexesOptions]) (string, error)
}

type singleResult interface {
	Decode(val any) error
}

type cursor interface {
	Close(ctx context.Context) error
	Decode(val any) error
	Err() error
	Next(ctx context.Context) bool
}

type mongoCollection struct {
	coll *mongodriver.Collection
}

func (c mongoCollection) FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) singleResult {
	return c.coll.FindOne(ctx, filter, opts...)
}

func (c mongoCollection) Find(ctx context.Context, filter any, opts ...options.Lister[options.FindOptions]) (cursor, error) {
	return c.coll.Find(ctx, filter, opts...)
}

func (c mongoCollection) ReplaceOne(ctx context.Context, filter any, replacement any,
	opts ...options.Lister[options.ReplaceOptions]) (*mongodriver.UpdateResult, error) {
	return c.coll.ReplaceOne(ctx, filter, replacement, opts...)
}

func (c mongoCollection) DeleteOne(ctx context.Context, filter any,
	opts ...options.Lister[options.DeleteOneOptions]) (*mongodriver.DeleteResult, error) {
	return c.coll.DeleteOne(ctx, filter, opts...)
}

func (c mongoCollection) Indexes() indexView {
	return mongoIndexView{view: c.coll.Indexes()}
}

type mongoIndexView struct {
	view mongodriver.IndexView
}

func (v mongoIndexView) CreateOne(ctx context.Context, model mongodriver.IndexModel,
	opts ...options.Lister[options.CreateIndexesOptions]) (string, error) {
	return v.view.CreateOne(ctx, model, opts...)
}
