// Package hazelcache provides a rescache.Store backed by a Hazelcast
// cluster.
package hazelcache

import (
	"context"
	"fmt"
	"time"

	"github.com/hazelcast/hazelcast-go-client"
	"github.com/sandrolain/rescache"
)

// store is a rescache.Store that caches entries in a Hazelcast map.
type store struct {
	m *hazelcast.Map
}

// cacheKey prefixes keys to avoid collision with other data stored in
// the same Hazelcast map.
func cacheKey(key string) string {
	return "rescache:" + key
}

// NewWithMap returns a new Store using the given Hazelcast map.
func NewWithMap(m *hazelcast.Map) *store {
	return &store{m: m}
}

// Get returns the value for key if present.
func (c *store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.m.Get(ctx, cacheKey(key))
	if err != nil {
		return nil, false, err
	}
	if val == nil {
		return nil, false, nil
	}
	data, ok := val.([]byte)
	if !ok {
		return nil, false, nil
	}
	return data, true, nil
}

// Set saves value under key with the given ttl via Hazelcast's native
// SetWithTTL. A zero ttl never expires.
func (c *store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.m.SetWithTTL(ctx, cacheKey(key), value, ttl); err != nil {
		return fmt.Errorf("hazelcast set failed for key %q: %w", key, err)
	}
	return nil
}

var _ rescache.Store = (*store)(nil)
