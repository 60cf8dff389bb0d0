// Package multistore provides a multi-tiered Store that cascades through
// multiple backends with automatic fallback on read and promotion of found
// values to faster tiers, e.g. an in-process freecache tier backed by a
// shared Redis tier backed by a durable Postgres tier.
package multistore

import (
	"context"
	"fmt"
	"time"

	"github.com/sandrolain/rescache"
)

// DefaultPromotionTTL is used for writes performed when promoting a value
// found in a slower tier to a faster one, since Get does not recover the
// original TTL a value was stored with.
const DefaultPromotionTTL = 5 * time.Minute

// Config holds the configuration for creating a multi-tiered Store.
type Config struct {
	// Tiers are the backing Store implementations, ordered from
	// fastest/smallest (first) to slowest/largest (last). At least one
	// tier is required, and all tiers must be non-nil and unique.
	Tiers []rescache.Store

	// PromotionTTL is the ttl applied when a value found in a slower
	// tier is written back to faster tiers. Defaults to
	// DefaultPromotionTTL.
	PromotionTTL time.Duration
}

// store cascades Get across tiers, promoting hits to faster tiers, and
// fans Set out to every tier.
type store struct {
	tiers        []rescache.Store
	promotionTTL time.Duration
}

// New creates a multi-tiered Store from config. Tiers should be ordered
// from fastest/smallest to slowest/largest.
func New(config Config) (*store, error) {
	if len(config.Tiers) == 0 {
		return nil, fmt.Errorf("multistore: at least one tier is required")
	}

	seen := make(map[rescache.Store]bool, len(config.Tiers))
	for _, tier := range config.Tiers {
		if tier == nil {
			return nil, fmt.Errorf("multistore: tier cannot be nil")
		}
		if seen[tier] {
			return nil, fmt.Errorf("multistore: duplicate tier")
		}
		seen[tier] = true
	}

	ttl := config.PromotionTTL
	if ttl == 0 {
		ttl = DefaultPromotionTTL
	}

	return &store{tiers: config.Tiers, promotionTTL: ttl}, nil
}

// Get searches each tier in order, starting with the fastest. When a value
// is found in a slower tier it is promoted (written) to all faster tiers
// for subsequent quick access; promotion errors are ignored since the
// value was already found successfully.
func (s *store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	for i, tier := range s.tiers {
		value, ok, err := tier.Get(ctx, key)
		if err != nil {
			return nil, false, err
		}
		if ok {
			s.promoteToFasterTiers(ctx, key, value, i)
			return value, true, nil
		}
	}
	return nil, false, nil
}

// Set stores value in every tier with the given ttl, in tier order. It
// returns at the first error; tiers after the failing one are not
// written, so a Set error can leave the tiers out of sync.
func (s *store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	for _, tier := range s.tiers {
		if err := tier.Set(ctx, key, value, ttl); err != nil {
			return err
		}
	}
	return nil
}

func (s *store) promoteToFasterTiers(ctx context.Context, key string, value []byte, foundAtTier int) {
	for i := 0; i < foundAtTier; i++ {
		_ = s.tiers[i].Set(ctx, key, value, s.promotionTTL)
	}
}

var _ rescache.Store = (*store)(nil)
