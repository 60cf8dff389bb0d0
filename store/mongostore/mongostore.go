// Package mongostore provides a rescache.Store backed by MongoDB, using a
// TTL index on an expiresAt field for expiry.
package mongostore

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sandrolain/rescache"
)

// Config holds the configuration for creating a MongoDB-backed Store.
type Config struct {
	// URI is the MongoDB connection URI (e.g., "mongodb://localhost:27017").
	// Required field.
	URI string

	// Database is the name of the database to use for caching.
	// Required field.
	Database string

	// Collection is the name of the collection to use for caching.
	// Optional - defaults to "rescache".
	Collection string

	// KeyPrefix is a prefix to add to all cache keys.
	// Optional - defaults to "cache:".
	KeyPrefix string

	// Timeout is the timeout for database operations.
	// Optional - defaults to 5 seconds.
	Timeout time.Duration

	// ClientOptions are additional options to pass to mongo.Connect.
	// Optional.
	ClientOptions *options.ClientOptions
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Collection: "rescache",
		KeyPrefix:  "cache:",
		Timeout:    5 * time.Second,
	}
}

// entry represents a stored document, with an expiresAt field a TTL
// index watches for automatic deletion.
type entry struct {
	Key       string    `bson:"_id"`
	Data      []byte    `bson:"data"`
	ExpiresAt time.Time `bson:"expiresAt,omitempty"`
}

// store is a rescache.Store that caches entries as documents in a
// MongoDB collection.
type store struct {
	client     *mongo.Client
	collection *mongo.Collection
	keyPrefix  string
	timeout    time.Duration
	ownsClient bool
}

func (s *store) cacheKey(key string) string {
	return s.keyPrefix + key
}

// New creates a new Store with the given configuration. It establishes
// a connection to MongoDB and creates a TTL index on expiresAt. The
// caller should call Close when done.
func New(ctx context.Context, config Config) (*store, error) {
	if config.URI == "" {
		return nil, fmt.Errorf("mongostore: URI is required")
	}
	if config.Database == "" {
		return nil, fmt.Errorf("mongostore: database name is required")
	}

	defaults := DefaultConfig()
	if config.Collection == "" {
		config.Collection = defaults.Collection
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = defaults.KeyPrefix
	}
	if config.Timeout == 0 {
		config.Timeout = defaults.Timeout
	}

	clientOpts := options.Client().ApplyURI(config.URI)
	if config.ClientOptions != nil {
		clientOpts = config.ClientOptions.ApplyURI(config.URI)
	}

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("mongostore: failed to connect: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, config.Timeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongostore: failed to ping: %w", err)
	}

	collection := client.Database(config.Database).Collection(config.Collection)
	s := &store{client: client, collection: collection, keyPrefix: config.KeyPrefix, timeout: config.Timeout, ownsClient: true}

	if err := s.ensureTTLIndex(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongostore: failed to create TTL index: %w", err)
	}

	return s, nil
}

// NewWithClient returns a new Store using an already-connected client,
// for callers that manage the connection themselves.
func NewWithClient(client *mongo.Client, database, collection string, config Config) (*store, error) {
	defaults := DefaultConfig()
	if collection == "" {
		collection = defaults.Collection
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = defaults.KeyPrefix
	}
	if config.Timeout == 0 {
		config.Timeout = defaults.Timeout
	}
	return &store{
		collection: client.Database(database).Collection(collection),
		keyPrefix:  config.KeyPrefix,
		timeout:    config.Timeout,
		ownsClient: false,
	}, nil
}

func (s *store) ensureTTLIndex(ctx context.Context) error {
	indexCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	_, err := s.collection.Indexes().CreateOne(indexCtx, mongo.IndexModel{
		Keys:    bson.D{{Key: "expiresAt", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0).SetName("rescache_ttl"),
	})
	return err
}

// Get returns the value for key if present.
func (s *store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	getCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var e entry
	err := s.collection.FindOne(getCtx, bson.M{"_id": s.cacheKey(key)}).Decode(&e)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("mongostore: get failed for key %q: %w", key, err)
	}
	// The TTL index reaps expired documents on its own ~60s cadence, so
	// a document can still be found here after its expiresAt has
	// passed; this check makes expiry observable immediately rather
	// than only after the background sweep catches up.
	if !e.ExpiresAt.IsZero() && time.Now().After(e.ExpiresAt) {
		return nil, false, nil
	}
	return e.Data, true, nil
}

// Set saves value under key with the given ttl. A zero ttl never
// expires (expiresAt is left unset and the TTL index skips it).
func (s *store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	setCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	e := entry{Key: s.cacheKey(key), Data: value}
	if ttl > 0 {
		e.ExpiresAt = time.Now().Add(ttl)
	}

	opts := options.Replace().SetUpsert(true)
	if _, err := s.collection.ReplaceOne(setCtx, bson.M{"_id": e.Key}, e, opts); err != nil {
		return fmt.Errorf("mongostore: set failed for key %q: %w", key, err)
	}
	return nil
}

// Close disconnects from MongoDB if this Store owns the client.
func (s *store) Close(ctx context.Context) error {
	if s.ownsClient && s.client != nil {
		return s.client.Disconnect(ctx)
	}
	return nil
}

var _ rescache.Store = (*store)(nil)
