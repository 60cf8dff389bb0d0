// Package blobcache provides a rescache.Store backed by Go Cloud
// Development Kit blob storage, for cloud-agnostic cache storage across
// Amazon S3, Google Cloud Storage, Azure Blob Storage, and others.
//
// Example usage with S3:
//
//	import (
//	    "context"
//	    _ "gocloud.dev/blob/s3blob"
//	    "github.com/sandrolain/rescache/store/blobcache"
//	)
//
//	ctx := context.Background()
//	s, err := blobcache.New(ctx, blobcache.Config{
//	    BucketURL: "s3://my-bucket?region=us-west-2",
//	    KeyPrefix: "rescache/",
//	})
package blobcache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	"github.com/sandrolain/rescache"
)

// Config holds the configuration for the blob-backed Store.
type Config struct {
	// BucketURL is the Go Cloud blob URL (e.g., "s3://bucket?region=us-west-2").
	BucketURL string

	// KeyPrefix is prepended to all cache keys. Optional - defaults to
	// "cache/".
	KeyPrefix string

	// Timeout for blob operations. Optional - defaults to 30s.
	Timeout time.Duration

	// Bucket is an optional pre-opened bucket (if nil, BucketURL is used).
	Bucket *blob.Bucket
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		KeyPrefix: "cache/",
		Timeout:   30 * time.Second,
	}
}

// store is a rescache.Store using Go Cloud blob storage. There is no
// generic TTL primitive across gocloud.dev/blob providers, so each
// value is wrapped in a small envelope carrying an absolute expiry
// timestamp checked on read.
type store struct {
	bucket     *blob.Bucket
	keyPrefix  string
	timeout    time.Duration
	ownsBucket bool
}

// New creates a new Store with the given configuration. The bucket is
// opened using BucketURL. Call Close to release resources when done.
func New(ctx context.Context, config Config) (*store, error) {
	if config.BucketURL == "" && config.Bucket == nil {
		return nil, fmt.Errorf("blobcache: either BucketURL or Bucket must be provided")
	}

	defaults := DefaultConfig()
	if config.KeyPrefix == "" {
		config.KeyPrefix = defaults.KeyPrefix
	}
	if config.Timeout == 0 {
		config.Timeout = defaults.Timeout
	}

	var bucket *blob.Bucket
	var ownsBucket bool
	var err error

	if config.Bucket != nil {
		bucket = config.Bucket
	} else {
		bucket, err = blob.OpenBucket(ctx, config.BucketURL)
		if err != nil {
			return nil, fmt.Errorf("blobcache: failed to open bucket: %w", err)
		}
		ownsBucket = true
	}

	return &store{bucket: bucket, keyPrefix: config.KeyPrefix, timeout: config.Timeout, ownsBucket: ownsBucket}, nil
}

// NewWithBucket creates a Store using an already-opened bucket. The
// caller is responsible for closing the bucket.
func NewWithBucket(bucket *blob.Bucket, keyPrefix string, timeout time.Duration) *store {
	defaults := DefaultConfig()
	if keyPrefix == "" {
		keyPrefix = defaults.KeyPrefix
	}
	if timeout == 0 {
		timeout = defaults.Timeout
	}
	return &store{bucket: bucket, keyPrefix: keyPrefix, timeout: timeout}
}

// blobKey hashes the cache key to avoid issues with special characters
// across cloud storage providers.
func (s *store) blobKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return s.keyPrefix + hex.EncodeToString(hash[:])
}

func (s *store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// Get returns the value for key if present and not yet expired.
func (s *store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	reader, err := s.bucket.NewReader(ctx, s.blobKey(key), nil)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("blobcache: get failed for key %q: %w", key, err)
	}
	defer reader.Close() //nolint:errcheck // best-effort cleanup, error already handled

	raw, err := io.ReadAll(reader)
	if err != nil {
		return nil, false, fmt.Errorf("blobcache: read failed for key %q: %w", key, err)
	}

	value, expiresAt, err := decodeEnvelope(raw)
	if err != nil {
		return nil, false, nil
	}
	if !expiresAt.IsZero() && time.Now().After(expiresAt) {
		_ = s.bucket.Delete(ctx, s.blobKey(key)) //nolint:errcheck // best-effort cleanup
		return nil, false, nil
	}
	return value, true, nil
}

// Set saves value under key with the given ttl. A zero ttl never
// expires.
func (s *store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}

	writer, err := s.bucket.NewWriter(ctx, s.blobKey(key), nil)
	if err != nil {
		return fmt.Errorf("blobcache: set failed to create writer for key %q: %w", key, err)
	}

	_, writeErr := writer.Write(encodeEnvelope(value, expiresAt))
	closeErr := writer.Close()
	if writeErr != nil {
		return fmt.Errorf("blobcache: set failed to write for key %q: %w", key, writeErr)
	}
	if closeErr != nil {
		return fmt.Errorf("blobcache: set failed to close writer for key %q: %w", key, closeErr)
	}
	return nil
}

// Close closes the bucket if it was opened by New.
func (s *store) Close() error {
	if s.ownsBucket {
		if err := s.bucket.Close(); err != nil {
			return fmt.Errorf("blobcache: failed to close bucket: %w", err)
		}
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
		return nil, time.Time{}, fmt.Errorf("blobcache: truncated envelope")
	}
	nano := int64(binary.BigEndian.Uint64(raw[:8]))
	var expiresAt time.Time
	if nano != 0 {
		expiresAt = time.Unix(0, nano)
	}
	return raw[8:], expiresAt, nil
}

var _ rescache.Store = (*store)(nil)
