// Package natskv provides a rescache.Store backed by a NATS JetStream
// Key/Value bucket.
package natskv

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/sandrolain/rescache"
)

// Config holds the configuration for creating a NATS K/V-backed Store.
type Config struct {
	// NATSUrl is the URL of the NATS server. Defaults to nats.DefaultURL
	// when empty.
	NATSUrl string

	// Bucket is the name of the K/V bucket to use for caching. Required.
	Bucket string

	// Description is an optional description for the K/V bucket.
	Description string

	// BucketTTL, if set, is passed to the bucket itself as its default
	// per-entry expiry. Per-Set ttl values shorter than this still take
	// effect via the envelope fallback below; NATS K/V applies a single
	// bucket-wide TTL, not a per-put one, so entries needing a shorter
	// lifetime than the bucket default are additionally self-expired by
	// an envelope timestamp checked on Get.
	BucketTTL time.Duration

	// NATSOptions are additional options to pass to nats.Connect.
	NATSOptions []nats.Option
}

// store is a rescache.Store that caches entries in a NATS JetStream
// Key/Value bucket.
type store struct {
	kv jetstream.KeyValue
	nc *nats.Conn
}

func cacheKey(key string) string {
	return "rescache." + key
}

// New creates a new Store with the given configuration, connecting to
// NATS and creating or updating the K/V bucket. The caller should call
// Close when done, unless using NewWithKeyValue.
func New(ctx context.Context, config Config) (*store, error) {
	if config.Bucket == "" {
		return nil, fmt.Errorf("natskv: bucket name is required")
	}

	url := config.NATSUrl
	if url == "" {
		url = nats.DefaultURL
	}

	nc, err := nats.Connect(url, config.NATSOptions...)
	if err != nil {
		return nil, fmt.Errorf("natskv: failed to connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("natskv: failed to create JetStream context: %w", err)
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      config.Bucket,
		Description: config.Description,
		TTL:         config.BucketTTL,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("natskv: failed to create or update bucket: %w", err)
	}

	return &store{kv: kv, nc: nc}, nil
}

// NewWithKeyValue returns a new Store using the given NATS JetStream
// KeyValue store, for callers that manage the connection themselves.
func NewWithKeyValue(kv jetstream.KeyValue) *store {
	return &store{kv: kv}
}

// Get returns the value for key if present and not yet expired by its
// envelope timestamp.
func (s *store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	e, err := s.kv.Get(ctx, cacheKey(key))
	if err != nil {
		if err == jetstream.ErrKeyNotFound {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("natskv: get failed for key %q: %w", key, err)
	}
	value, expiresAt, err := decodeEnvelope(e.Value())
	if err != nil {
		return nil, false, nil
	}
	if !expiresAt.IsZero() && time.Now().After(expiresAt) {
		_ = s.kv.Delete(ctx, cacheKey(key)) //nolint:errcheck // best-effort cleanup
		return nil, false, nil
	}
	return value, true, nil
}

// Set saves value under key, wrapped in an envelope recording its
// absolute expiry so a per-entry ttl shorter than the bucket-wide TTL
// is still honored on read.
func (s *store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	if _, err := s.kv.Put(ctx, cacheKey(key), encodeEnvelope(value, expiresAt)); err != nil {
		return fmt.Errorf("natskv: set failed for key %q: %w", key, err)
	}
	return nil
}

// Close closes the underlying NATS connection if it was created by New.
// It's a no-op when using NewWithKeyValue.
func (s *store) Close() error {
	if s.nc != nil {
		s.nc.Close()
	}
	return nil
}

func encodeEnvelope(value []byte, expiresAt time.Time) []byte {
	var nano int64
	if !expiresAt.IsZero() {
		nano = expiresAt.UnixNano()
	}
	buf := make([]byte, 8, 8+len(value))
	binary.BigEndian.PutUint64(buf, uint64(nano))
	return append(buf, value...)
}

func decodeEnvelope(raw []byte) ([]byte, time.Time, error) {
	if len(raw) < 8 {
		return nil, time.Time{}, fmt.Errorf("natskv: truncated envelope")
	}
	nano := int64(binary.BigEndian.Uint64(raw[:8]))
	var expiresAt time.Time
	if nano != 0 {
		expiresAt = time.Unix(0, nano)
	}
	return raw[8:], expiresAt, nil
}

var _ rescache.Store = (*store)(nil)
