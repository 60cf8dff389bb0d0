// Package rediscache provides a Redis-backed rescache.Store.
package rediscache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sandrolain/rescache"
)

// Config holds the configuration for creating a Redis-backed Store.
type Config struct {
	// Addr is the Redis server address (e.g., "localhost:6379").
	// Required field.
	Addr string

	// Password is the Redis password for authentication.
	// Optional - leave empty if no authentication is required.
	Password string

	// DB is the Redis database number to use.
	// Optional - defaults to 0.
	DB int

	// PoolSize is the maximum number of connections in the pool.
	// Optional - defaults to 10.
	PoolSize int

	// DialTimeout is the timeout for connecting to Redis.
	// Optional - defaults to 5 seconds.
	DialTimeout time.Duration
}

// store is a rescache.Store backed by a Redis server.
type store struct {
	client *redis.Client
}

// keyPrefix avoids collision with other keyspaces sharing the same
// Redis instance.
const keyPrefix = "rescache:"

func cacheKey(key string) string {
	return keyPrefix + key
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		PoolSize:    10,
		DialTimeout: 5 * time.Second,
		DB:          0,
	}
}

// New creates a new Store backed by Redis. It establishes a connection
// pool and verifies connectivity with a PING before returning.
func New(ctx context.Context, config Config) (rescache.Store, error) {
	if config.Addr == "" {
		return nil, fmt.Errorf("rescache/rediscache: address is required")
	}

	defaults := DefaultConfig()
	if config.PoolSize == 0 {
		config.PoolSize = defaults.PoolSize
	}
	if config.DialTimeout == 0 {
		config.DialTimeout = defaults.DialTimeout
	}

	client := redis.NewClient(&redis.Options{
		Addr:        config.Addr,
		Password:    config.Password,
		DB:          config.DB,
		PoolSize:    config.PoolSize,
		DialTimeout: config.DialTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("rescache/rediscache: failed to connect: %w", err)
	}

	return &store{client: client}, nil
}

// NewWithClient returns a new Store using an already-constructed
// *redis.Client, for callers that manage the connection themselves.
func NewWithClient(client *redis.Client) rescache.Store {
	return &store{client: client}
}

func (s *store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := s.client.Get(ctx, cacheKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("rescache/rediscache: get failed for key %q: %w", key, err)
	}
	return data, true, nil
}

func (s *store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, cacheKey(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("rescache/rediscache: set failed for key %q: %w", key, err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *store) Close() error {
	return s.client.Close()
}

var _ rescache.Store = (*store)(nil)
