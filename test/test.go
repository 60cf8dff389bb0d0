// Package test provides a conformance helper exercised by every store
// package against the common rescache.Store contract.
package test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/sandrolain/rescache"
)

// Store exercises a rescache.Store implementation against the Get/Set
// contract: absence on an unknown key and round-trip of a stored value.
// Expiry is exercised separately by StoreExpiry.
func Store(t *testing.T, store rescache.Store) {
	t.Helper()
	ctx := context.Background()
	key := "test-key"

	_, ok, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("error getting key: %v", err)
	}
	if ok {
		t.Fatal("retrieved key before setting it")
	}

	val := []byte("some bytes")
	if err := store.Set(ctx, key, val, time.Hour); err != nil {
		t.Fatalf("error setting key: %v", err)
	}

	retVal, ok, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("error getting key: %v", err)
	}
	if !ok {
		t.Fatal("could not retrieve a value just set")
	}
	if !bytes.Equal(retVal, val) {
		t.Fatalf("retrieved %q, want %q", retVal, val)
	}
}

// StoreExpiry exercises a rescache.Store's TTL handling. wait is how
// long the test should sleep past ttl before asserting the key is gone
// — callers pick a backend-appropriate ttl/wait pair since some stores
// only honor whole-second granularity.
func StoreExpiry(t *testing.T, store rescache.Store, ttl, wait time.Duration) {
	t.Helper()
	ctx := context.Background()
	key := "test-expiry-key"

	if err := store.Set(ctx, key, []byte("v"), ttl); err != nil {
		t.Fatalf("error setting key: %v", err)
	}

	time.Sleep(wait)

	_, ok, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("error getting key: %v", err)
	}
	if ok {
		t.Fatal("key should have expired")
	}
}
