// Package metrics provides an interface for collecting cache middleware
// metrics. This package defines a generic interface that can be
// implemented by various metrics systems (Prometheus, OpenTelemetry,
// Datadog, etc.) without adding dependencies to the core rescache package.
package metrics

import "time"

// Collector defines the interface for metrics collection. Implementations
// can feed any monitoring system without requiring changes to the
// rescache core.
type Collector interface {
	// RecordCacheOperation records a Store operation.
	//   operation: "get" or "set"
	//   backend: store backend name (e.g., "memory", "redis", "postgres")
	//   result: operation result (e.g., "hit", "miss", "success", "error")
	RecordCacheOperation(operation, backend, result string, duration time.Duration)

	// RecordCacheEntries records the current number of entries in a
	// backend, for backends that can report it.
	RecordCacheEntries(backend string, count int64)

	// RecordRequest records an HTTP request handled by the caching
	// middleware.
	//   cacheStatus: "hit", "miss", "revalidated", or "bypass"
	RecordRequest(method, cacheStatus string, statusCode int, duration time.Duration)

	// RecordResponseSize records the size of a response body served
	// through the middleware.
	RecordResponseSize(cacheStatus string, sizeBytes int64)
}

// NoOpCollector implements Collector with no-op operations. It is the
// default collector when metrics are not enabled, so unconfigured use
// carries zero overhead.
type NoOpCollector struct{}

func (n *NoOpCollector) RecordCacheOperation(operation, backend, result string, duration time.Duration) {
}
func (n *NoOpCollector) RecordCacheEntries(backend string, count int64) {}
func (n *NoOpCollector) RecordRequest(method, cacheStatus string, statusCode int, duration time.Duration) {
}
func (n *NoOpCollector) RecordResponseSize(cacheStatus string, sizeBytes int64) {}

// DefaultCollector is the no-op collector used when metrics are not
// configured.
var DefaultCollector Collector = &NoOpCollector{}

var _ Collector = (*NoOpCollector)(nil)
