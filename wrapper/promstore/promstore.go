// Package promstore wraps a rescache.Store with metrics recording via a
// metrics.Collector, so operators can watch hit/miss/error rates and
// latency per backend without changing how the Store is used.
package promstore

import (
	"context"
	"time"

	"github.com/sandrolain/rescache"
	"github.com/sandrolain/rescache/metrics"
)

const (
	resultHit     = "hit"
	resultMiss    = "miss"
	resultSuccess = "success"
	resultError   = "error"
)

// Config holds the configuration for creating an instrumented Store.
type Config struct {
	// Store is the underlying Store implementation to wrap (required).
	Store rescache.Store

	// Backend names the store backend for metric labels (e.g. "redis",
	// "postgres", "memory").
	Backend string

	// Collector records the metrics. If nil, uses metrics.DefaultCollector.
	Collector metrics.Collector
}

type store struct {
	store     rescache.Store
	backend   string
	collector metrics.Collector
}

// New creates a Store that records metrics for every Get/Set against
// config.Store.
func New(config Config) *store {
	collector := config.Collector
	if collector == nil {
		collector = metrics.DefaultCollector
	}

	return &store{
		store:     config.Store,
		backend:   config.Backend,
		collector: collector,
	}
}

// Get retrieves a value from the underlying Store with metrics recording.
func (s *store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	start := time.Now()
	value, ok, err := s.store.Get(ctx, key)
	duration := time.Since(start)

	result := resultMiss
	switch {
	case err != nil:
		result = resultError
	case ok:
		result = resultHit
	}

	s.collector.RecordCacheOperation("get", s.backend, result, duration)

	return value, ok, err
}

// Set stores a value in the underlying Store with metrics recording.
func (s *store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	start := time.Now()
	err := s.store.Set(ctx, key, value, ttl)
	duration := time.Since(start)

	result := resultSuccess
	if err != nil {
		result = resultError
	}

	s.collector.RecordCacheOperation("set", s.backend, result, duration)

	return err
}

var _ rescache.Store = (*store)(nil)
