package resilientstore

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sandrolain/rescache/test"
)

// flakyStore fails the first N calls, counted across Get and Set
// together, then behaves like a normal in-memory store.
type flakyStore struct {
	failuresLeft atomic.Int32
	data         map[string][]byte
}

func newFlakyStore(failures int32) *flakyStore {
	s := &flakyStore{data: make(map[string][]byte)}
	s.failuresLeft.Store(failures)
	return s
}

func (f *flakyStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	if f.failuresLeft.Load() > 0 {
		f.failuresLeft.Add(-1)
		return nil, false, fmt.Errorf("transient failure")
	}
	val, ok := f.data[key]
	return val, ok, nil
}

func (f *flakyStore) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	if f.failuresLeft.Load() > 0 {
		f.failuresLeft.Add(-1)
		return fmt.Errorf("transient failure")
	}
	f.data[key] = value
	return nil
}

func TestResilientStoreNoPolicies(t *testing.T) {
	s, err := New(Config{Store: newFlakyStore(0)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	test.Store(t, s)
}

func TestResilientStoreNilStore(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error for nil store")
	}
}

func TestResilientStoreRetriesTransientFailures(t *testing.T) {
	backing := newFlakyStore(2)
	s, err := New(Config{
		Store:       backing,
		RetryPolicy: RetryPolicyBuilder().WithMaxRetries(3).WithBackoff(time.Millisecond, 10*time.Millisecond).Build(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := s.Set(context.Background(), "k", []byte("v"), time.Hour); err != nil {
		t.Fatalf("Set should have succeeded after retries: %v", err)
	}

	backing.failuresLeft.Store(2)
	val, ok, err := s.Get(context.Background(), "k")
	if err != nil {
		t.Fatalf("Get should have succeeded after retries: %v", err)
	}
	if !ok || string(val) != "v" {
		t.Fatalf("expected %q, got %q (ok=%v)", "v", val, ok)
	}
}

func TestResilientStoreGivesUpAfterExhaustingRetries(t *testing.T) {
	backing := newFlakyStore(10)
	s, err := New(Config{
		Store:       backing,
		RetryPolicy: RetryPolicyBuilder().WithMaxRetries(2).WithBackoff(time.Millisecond, 5*time.Millisecond).Build(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, _, err := s.Get(context.Background(), "k"); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
}
