// Package freecache provides a high-performance, zero-GC overhead
// rescache.Store using github.com/coocood/freecache as the underlying
// storage.
package freecache

import (
	"context"
	"fmt"
	"time"

	"github.com/coocood/freecache"
	"github.com/sandrolain/rescache"
)

// store is a rescache.Store that uses freecache for storage. It
// provides zero-GC overhead and automatic LRU eviction when the cache
// is full.
type store struct {
	cache *freecache.Cache
}

// New creates a new Store with the specified size in bytes. The cache
// size will be set to 512KB at minimum.
func New(size int) *store {
	return &store{cache: freecache.NewCache(size)}
}

// Get returns the value for key if present. The context parameter is
// accepted for interface compliance but not used for in-memory
// operations.
func (c *store) Get(_ context.Context, key string) ([]byte, bool, error) {
	value, err := c.cache.Get([]byte(key))
	if err != nil {
		if err == freecache.ErrNotFound {
			return nil, false, nil
		}
		return nil, false, err
	}
	return value, true, nil
}

// Set saves value under key with the given ttl, translated to
// freecache's native expire-seconds argument. A zero ttl never
// expires. The context parameter is accepted for interface compliance
// but not used for in-memory operations.
func (c *store) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.cache.Set([]byte(key), value, int(ttl/time.Second)); err != nil {
		return fmt.Errorf("freecache set failed for key %q: %w", key, err)
	}
	return nil
}

// EntryCount returns the number of entries currently in the cache.
func (c *store) EntryCount() int64 {
	return c.cache.EntryCount()
}

// HitRate returns the ratio of cache hits to total lookups.
func (c *store) HitRate() float64 {
	return c.cache.HitRate()
}

// EvacuateCount returns the number of entries evicted to make room for
// new ones.
func (c *store) EvacuateCount() int64 {
	return c.cache.EvacuateCount()
}

// ExpiredCount returns the number of entries dropped for exceeding
// their ttl.
func (c *store) ExpiredCount() int64 {
	return c.cache.ExpiredCount()
}

// Clear removes all entries from the cache.
func (c *store) Clear() {
	c.cache.Clear()
}

var _ rescache.Store = (*store)(nil)
