// Package resilientstore wraps a rescache.Store with retry and circuit
// breaker policies, so a flaky or overloaded backend (a cache is
// best-effort infrastructure, not the source of truth) degrades
// gracefully instead of taking the request path down with it.
package resilientstore

import (
	"context"
	"fmt"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"github.com/sandrolain/rescache"
)

var errNilStore = fmt.Errorf("resilientstore: store cannot be nil")

// result wraps the outcome of a Get so a single failsafe executor type
// can drive both Get and Set through the same retry/circuit-breaker
// policies.
type result struct {
	value []byte
	ok    bool
}

// Config holds the resilience policies applied around the underlying
// Store. Both fields are optional; a nil policy disables that behavior.
type Config struct {
	// Store is the underlying Store implementation to wrap (required).
	Store rescache.Store

	// RetryPolicy configures retry behavior using failsafe-go. If nil,
	// retry is disabled.
	RetryPolicy retrypolicy.RetryPolicy[result]

	// CircuitBreaker configures circuit breaker behavior using
	// failsafe-go. If nil, circuit breaking is disabled.
	CircuitBreaker circuitbreaker.CircuitBreaker[result]
}

type store struct {
	store    rescache.Store
	policies []failsafe.Policy[result]
}

// New creates a new Store that executes Get/Set against config.Store
// through the configured resilience policies.
func New(config Config) (*store, error) {
	if config.Store == nil {
		return nil, errNilStore
	}

	s := &store{store: config.Store}

	if config.RetryPolicy != nil {
		s.policies = append(s.policies, config.RetryPolicy)
	}
	if config.CircuitBreaker != nil {
		s.policies = append(s.policies, config.CircuitBreaker)
	}

	return s, nil
}

// RetryPolicyBuilder returns a pre-configured retry policy builder for
// Store operations: retries on any error, up to 3 retries, with
// exponential backoff from 100ms to 2s. Callers can further customize the
// builder before calling Build().
func RetryPolicyBuilder() retrypolicy.Builder[result] {
	return retrypolicy.NewBuilder[result]().
		HandleIf(func(_ result, err error) bool {
			return err != nil
		}).
		WithMaxRetries(3).
		WithBackoff(100*time.Millisecond, 2*time.Second)
}

// CircuitBreakerBuilder returns a pre-configured circuit breaker builder
// for Store operations: opens after 5 consecutive failures, closes again
// after 2 consecutive successes in the half-open state, with a 30 second
// delay before probing. Callers can further customize the builder before
// calling Build().
func CircuitBreakerBuilder() circuitbreaker.Builder[result] {
	return circuitbreaker.NewBuilder[result]().
		HandleIf(func(_ result, err error) bool {
			return err != nil
		}).
		WithFailureThreshold(5).
		WithSuccessThreshold(2).
		WithDelay(30 * time.Second)
}

// Get retrieves a value from the underlying Store through the configured
// resilience policies.
func (s *store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	fn := func() (result, error) {
		value, ok, err := s.store.Get(ctx, key)
		return result{value: value, ok: ok}, err
	}

	if len(s.policies) == 0 {
		r, err := fn()
		return r.value, r.ok, err
	}

	r, err := failsafe.With(s.policies...).Get(fn)
	return r.value, r.ok, err
}

// Set stores a value in the underlying Store through the configured
// resilience policies.
func (s *store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	fn := func() (result, error) {
		return result{}, s.store.Set(ctx, key, value, ttl)
	}

	if len(s.policies) == 0 {
		_, err := fn()
		return err
	}

	_, err := failsafe.With(s.policies...).Get(fn)
	return err
}

var _ rescache.Store = (*store)(nil)
