package prometheus

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorRecordCacheOperation(t *testing.T) {
	registry := prometheus.NewRegistry()
	collector := NewCollectorWithRegistry(registry)

	collector.RecordCacheOperation("get", "memory", "hit", 1*time.Millisecond)
	collector.RecordCacheOperation("get", "memory", "miss", 2*time.Millisecond)
	collector.RecordCacheOperation("set", "memory", "success", 500*time.Microsecond)

	expected := `
		# HELP rescache_store_operations_total Total number of Store operations
		# TYPE rescache_store_operations_total counter
		rescache_store_operations_total{operation="get",result="hit",store_backend="memory"} 1
		rescache_store_operations_total{operation="get",result="miss",store_backend="memory"} 1
		rescache_store_operations_total{operation="set",result="success",store_backend="memory"} 1
	`

	if err := testutil.CollectAndCompare(collector.cacheOps, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected metrics: %v", err)
	}

	if count := testutil.CollectAndCount(collector.cacheOpLatency); count < 2 {
		t.Errorf("expected at least 2 histogram series, got %d", count)
	}
}

func TestCollectorRecordRequest(t *testing.T) {
	registry := prometheus.NewRegistry()
	collector := NewCollectorWithRegistry(registry)

	collector.RecordRequest("GET", "hit", 200, 10*time.Millisecond)
	collector.RecordResponseSize("hit", 1024)
	collector.RecordCacheEntries("memory", 42)

	expected := `
		# HELP rescache_requests_total Total number of requests handled by the caching middleware
		# TYPE rescache_requests_total counter
		rescache_requests_total{cache_status="hit",method="GET",status_code="200"} 1
	`
	if err := testutil.CollectAndCompare(collector.requests, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected metrics: %v", err)
	}

	if got := testutil.ToFloat64(collector.cacheEntries.WithLabelValues("memory")); got != 42 {
		t.Errorf("expected cacheEntries=42, got %v", got)
	}
}

func TestCollectorWithConfig(t *testing.T) {
	registry := prometheus.NewRegistry()

	collector := NewCollectorWithConfig(CollectorConfig{
		Registry:  registry,
		Namespace: "custom",
		Subsystem: "test",
		ConstLabels: prometheus.Labels{
			"service": "test-service",
		},
	})

	collector.RecordCacheOperation("get", "redis", "hit", 1*time.Millisecond)

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	found := false
	for _, m := range families {
		if m.GetName() == "custom_test_store_operations_total" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected metric with custom namespace/subsystem to be registered")
	}
}
