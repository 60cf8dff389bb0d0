// Package leveldbcache provides a rescache.Store backed by
// github.com/syndtr/goleveldb/leveldb.
package leveldbcache

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/sandrolain/rescache"
	"github.com/syndtr/goleveldb/leveldb"
)

// store is a rescache.Store backed by an on-disk LevelDB instance.
// LevelDB has no native per-key TTL, so values are wrapped in a small
// envelope carrying an absolute expiry timestamp.
type store struct {
	db *leveldb.DB
}

// New opens (or creates) a LevelDB database at path and returns a Store
// backed by it.
func New(path string) (*store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &store{db: db}, nil
}

// NewWithDB returns a Store using the provided leveldb.DB as underlying
// storage.
func NewWithDB(db *leveldb.DB) *store {
	return &store{db: db}
}

// Get returns the value for key if present and not yet expired. The
// context parameter is accepted for interface compliance but not used
// for LevelDB operations.
func (c *store) Get(_ context.Context, key string) ([]byte, bool, error) {
	raw, err := c.db.Get([]byte(key), nil)
	if err != nil {
		if err == leveldb.ErrNotFound {
			return nil, false, nil
		}
		return nil, false, err
	}
	value, expiresAt, err := decodeEnvelope(raw)
	if err != nil {
		return nil, false, nil
	}
	if !expiresAt.IsZero() && time.Now().After(expiresAt) {
		_ = c.db.Delete([]byte(key), nil) //nolint:errcheck // best-effort cleanup
		return nil, false, nil
	}
	return value, true, nil
}

// Set saves value under key with the given ttl. A zero ttl never
// expires. The context parameter is accepted for interface compliance
// but not used for LevelDB operations.
func (c *store) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	if err := c.db.Put([]byte(key), encodeEnvelope(value, expiresAt), nil); err != nil {
		return fmt.Errorf("leveldbcache set failed for key %q: %w", key, err)
	}
	return nil
}

// Close releases the underlying database handle.
func (c *store) Close() error {
	return c.db.Close()
}

func encodeEnvelope(value []byte, expiresAt time.Time) []byte {
	buf := make([]byte, 8, 8+len(value))
	var nano int64
	if !expiresAt.IsZero() {
		nano = expiresAt.UnixNano()
	}
	binary.BigEndian.PutUint64(buf, uint64(nano))
	return append(buf, value...)
}

func decodeEnvelope(raw []byte) ([]byte, time.Time, error) {
	if len(raw) < 8 {
		return nil, time.Time{}, fmt.Errorf("leveldbcache: truncated envelope")
	}
	nano := int64(binary.BigEndian.Uint64(raw[:8]))
	var expiresAt time.Time
	if nano != 0 {
		expiresAt = time.Unix(0, nano)
	}
	return raw[8:], expiresAt, nil
}

var _ rescache.Store = (*store)(nil)
