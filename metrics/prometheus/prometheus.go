// Package prometheus provides a Prometheus metrics.Collector implementation
// for rescache. This package is optional and only imported when
// Prometheus metrics are needed.
package prometheus

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sandrolain/rescache/metrics"
)

// Collector implements metrics.Collector for Prometheus.
type Collector struct {
	cacheOps       *prometheus.CounterVec
	cacheOpLatency *prometheus.HistogramVec
	cacheEntries   *prometheus.GaugeVec
	requests       *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
	responseSize   *prometheus.CounterVec
}

// CollectorConfig provides configuration options for the Prometheus
// collector.
type CollectorConfig struct {
	// Registry is the Prometheus registry to use. If nil, uses
	// prometheus.DefaultRegisterer.
	Registry prometheus.Registerer

	// Namespace for metrics (default: "rescache").
	Namespace string

	// Subsystem for metrics (optional).
	Subsystem string

	// ConstLabels are labels added to all metrics.
	ConstLabels prometheus.Labels
}

// NewCollector creates a new Prometheus collector with the default
// registry and configuration.
func NewCollector() *Collector {
	return NewCollectorWithConfig(CollectorConfig{})
}

// NewCollectorWithRegistry creates a new Prometheus collector with a
// custom registry.
func NewCollectorWithRegistry(reg prometheus.Registerer) *Collector {
	return NewCollectorWithConfig(CollectorConfig{Registry: reg})
}

// NewCollectorWithConfig creates a new Prometheus collector with custom
// configuration.
func NewCollectorWithConfig(config CollectorConfig) *Collector {
	if config.Registry == nil {
		config.Registry = prometheus.DefaultRegisterer
	}
	if config.Namespace == "" {
		config.Namespace = "rescache"
	}

	factory := promauto.With(config.Registry)

	return &Collector{
		cacheOps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   config.Namespace,
				Subsystem:   config.Subsystem,
				Name:        "store_operations_total",
				Help:        "Total number of Store operations",
				ConstLabels: config.ConstLabels,
			},
			[]string{"operation", "store_backend", "result"},
		),
		cacheOpLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace:   config.Namespace,
				Subsystem:   config.Subsystem,
				Name:        "store_operation_duration_seconds",
				Help:        "Duration of Store operations in seconds",
				Buckets:     []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 5},
				ConstLabels: config.ConstLabels,
			},
			[]string{"operation", "store_backend"},
		),
		cacheEntries: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace:   config.Namespace,
				Subsystem:   config.Subsystem,
				Name:        "store_entries_total",
				Help:        "Current number of entries in the store",
				ConstLabels: config.ConstLabels,
			},
			[]string{"store_backend"},
		),
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   config.Namespace,
				Subsystem:   config.Subsystem,
				Name:        "requests_total",
				Help:        "Total number of requests handled by the caching middleware",
				ConstLabels: config.ConstLabels,
			},
			[]string{"method", "cache_status", "status_code"},
		),
		requestLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace:   config.Namespace,
				Subsystem:   config.Subsystem,
				Name:        "request_duration_seconds",
				Help:        "Duration of requests handled by the caching middleware",
				Buckets:     []float64{.001, .005, .01, .05, .1, .5, 1, 2, 5, 10},
				ConstLabels: config.ConstLabels,
			},
			[]string{"method", "cache_status"},
		),
		responseSize: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   config.Namespace,
				Subsystem:   config.Subsystem,
				Name:        "response_size_bytes_total",
				Help:        "Total size of responses served through the middleware",
				ConstLabels: config.ConstLabels,
			},
			[]string{"cache_status"},
		),
	}
}

// RecordCacheOperation records a Store operation.
func (c *Collector) RecordCacheOperation(operation, backend, result string, duration time.Duration) {
	c.cacheOps.WithLabelValues(operation, backend, result).Inc()
	c.cacheOpLatency.WithLabelValues(operation, backend).Observe(duration.Seconds())
}

// RecordCacheEntries records the current number of entries in a backend.
func (c *Collector) RecordCacheEntries(backend string, count int64) {
	c.cacheEntries.WithLabelValues(backend).Set(float64(count))
}

// RecordRequest records a request handled by the caching middleware.
func (c *Collector) RecordRequest(method, cacheStatus string, statusCode int, duration time.Duration) {
	c.requests.WithLabelValues(method, cacheStatus, strconv.Itoa(statusCode)).Inc()
	c.requestLatency.WithLabelValues(method, cacheStatus).Observe(duration.Seconds())
}

// RecordResponseSize records the size of a response served through the
// middleware.
func (c *Collector) RecordResponseSize(cacheStatus string, sizeBytes int64) {
	c.responseSize.WithLabelValues(cacheStatus).Add(float64(sizeBytes))
}

var _ metrics.Collector = (*Collector)(nil)
