// Package memcache provides a rescache.Store backed by
// github.com/bradfitz/gomemcache.
package memcache

import (
	"context"
	"fmt"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/sandrolain/rescache"
)

// store is a rescache.Store that caches entries in a memcache server.
type store struct {
	client *memcache.Client
}

// cacheKey prefixes keys to avoid collision with other data stored in
// the same memcache instance.
func cacheKey(key string) string {
	return "rescache:" + key
}

// New returns a new Store using the provided memcache server(s) with
// equal weight. If a server is listed multiple times, it gets a
// proportional amount of weight.
func New(server ...string) *store {
	return NewWithClient(memcache.New(server...))
}

// NewWithClient returns a new Store with the given memcache client.
func NewWithClient(client *memcache.Client) *store {
	return &store{client: client}
}

// Get returns the value for key if present. The context parameter is
// accepted for interface compliance but not used, due to library
// limitations.
func (c *store) Get(_ context.Context, key string) ([]byte, bool, error) {
	item, err := c.client.Get(cacheKey(key))
	if err != nil {
		if err == memcache.ErrCacheMiss {
			return nil, false, nil
		}
		return nil, false, err
	}
	return item.Value, true, nil
}

// Set saves value under key with the given ttl, translated to
// memcache's native Item.Expiration (seconds, capped by the library at
// 30 days before it's interpreted as a Unix timestamp instead — callers
// needing longer-lived entries should rely on a different backend). A
// zero ttl never expires. The context parameter is accepted for
// interface compliance but not used, due to library limitations.
func (c *store) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	item := &memcache.Item{
		Key:        cacheKey(key),
		Value:      value,
		Expiration: int32(ttl / time.Second),
	}
	if err := c.client.Set(item); err != nil {
		return fmt.Errorf("memcache set failed for key %q: %w", key, err)
	}
	return nil
}

var _ rescache.Store = (*store)(nil)
