// Package pgcache provides a rescache.Store backed by PostgreSQL, using
// an expires_at column filtered on read. Expired rows are deleted only
// by Sweep; Set does not remove them.
package pgcache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sandrolain/rescache"
)

// ErrNilPool is returned when a nil pool is provided to NewWithPool.
var ErrNilPool = errors.New("pgcache: pool cannot be nil")

const (
	// DefaultTableName is the default table name for cache storage.
	DefaultTableName = "rescache_entries"
	// DefaultKeyPrefix is the default prefix for cache keys.
	DefaultKeyPrefix = "cache:"
)

// Config holds the configuration for the PostgreSQL-backed Store.
type Config struct {
	// TableName is the name of the table to store cache entries.
	// Optional - defaults to DefaultTableName.
	TableName string
	// KeyPrefix is the prefix to add to all cache keys.
	// Optional - defaults to DefaultKeyPrefix.
	KeyPrefix string
	// Timeout is the maximum time to wait for database operations.
	// Optional - defaults to 5s.
	Timeout time.Duration
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		TableName: DefaultTableName,
		KeyPrefix: DefaultKeyPrefix,
		Timeout:   5 * time.Second,
	}
}

// store is a rescache.Store that stores entries in a PostgreSQL table,
// with expiry enforced by an expires_at column.
type store struct {
	pool      *pgxpool.Pool
	tableName string
	keyPrefix string
	timeout   time.Duration
}

func (s *store) cacheKey(key string) string {
	return s.keyPrefix + key
}

func (s *store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// New creates a connection pool from connString, ensures the cache
// table exists, and returns a Store backed by it.
func New(ctx context.Context, connString string, config Config) (*store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, err
	}

	defaults := DefaultConfig()
	if config.TableName == "" {
		config.TableName = defaults.TableName
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = defaults.KeyPrefix
	}
	if config.Timeout == 0 {
		config.Timeout = defaults.Timeout
	}

	s := &store{pool: pool, tableName: config.TableName, keyPrefix: config.KeyPrefix, timeout: config.Timeout}
	if err := s.createTable(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewWithPool returns a new Store using the provided connection pool.
// The caller remains responsible for creating the cache table (see
// CreateTable) and for closing the pool.
func NewWithPool(pool *pgxpool.Pool, config Config) (*store, error) {
	if pool == nil {
		return nil, ErrNilPool
	}
	defaults := DefaultConfig()
	if config.TableName == "" {
		config.TableName = defaults.TableName
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = defaults.KeyPrefix
	}
	if config.Timeout == 0 {
		config.Timeout = defaults.Timeout
	}
	return &store{pool: pool, tableName: config.TableName, keyPrefix: config.KeyPrefix, timeout: config.Timeout}, nil
}

// CreateTable creates the cache table if it doesn't exist.
func (s *store) CreateTable(ctx context.Context) error {
	return s.createTable(ctx)
}

func (s *store) createTable(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+s.tableName+` (
			key TEXT PRIMARY KEY,
			data BYTEA NOT NULL,
			expires_at TIMESTAMPTZ
		)
	`)
	return err
}

// Get returns the value for key if present and its expires_at (if set)
// is still in the future.
func (s *store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM `+s.tableName+` WHERE key = $1 AND (expires_at IS NULL OR expires_at > now())`,
		s.cacheKey(key),
	).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("pgcache: get failed for key %q: %w", key, err)
	}
	return data, true, nil
}

// Set saves value under key with the given ttl. A zero ttl never
// expires (expires_at is left NULL).
func (s *store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var expiresAt *time.Time
	if ttl > 0 {
		t := time.Now().Add(ttl)
		expiresAt = &t
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO `+s.tableName+` (key, data, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET data = $2, expires_at = $3
	`, s.cacheKey(key), value, expiresAt)
	if err != nil {
		return fmt.Errorf("pgcache: set failed for key %q: %w", key, err)
	}
	return nil
}

// Sweep deletes all expired rows. Callers may run this periodically;
// expired rows are also excluded by Get regardless of whether Sweep has
// run.
func (s *store) Sweep(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.pool.Exec(ctx, `DELETE FROM `+s.tableName+` WHERE expires_at IS NOT NULL AND expires_at < now()`)
	return err
}

// Close closes the connection pool.
func (s *store) Close() {
	s.pool.Close()
}

var _ rescache.Store = (*store)(nil)
