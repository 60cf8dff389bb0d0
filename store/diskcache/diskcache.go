// Package diskcache provides a rescache.Store backed by the diskv package,
// supplementing an in-memory index with persistent file storage.
package diskcache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/peterbourgon/diskv"
	"github.com/sandrolain/rescache"
)

// store is a rescache.Store that persists entries as files via diskv.
// diskv has no native per-key TTL, so each value is wrapped in a small
// envelope carrying an absolute expiry timestamp.
type store struct {
	d *diskv.Diskv
}

// New returns a new Store that will store files under basePath.
func New(basePath string) *store {
	return &store{
		d: diskv.New(diskv.Options{
			BasePath:     basePath,
			CacheSizeMax: 100 * 1024 * 1024,
		}),
	}
}

// NewWithDiskv returns a new Store using the provided Diskv as underlying
// storage.
func NewWithDiskv(d *diskv.Diskv) *store {
	return &store{d}
}

func keyToFilename(key string) string {
	h := sha256.New()
	//nolint:errcheck // io.WriteString to hash.Hash never fails
	_, _ = io.WriteString(h, key)
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the value for key if present and not yet expired. The
// context parameter is accepted for interface compliance but not used
// for disk operations.
func (c *store) Get(_ context.Context, key string) ([]byte, bool, error) {
	raw, err := c.d.Read(keyToFilename(key))
	if err != nil {
		return nil, false, nil
	}
	value, expiresAt, err := decodeEnvelope(raw)
	if err != nil {
		return nil, false, nil
	}
	if !expiresAt.IsZero() && time.Now().After(expiresAt) {
		_ = c.d.Erase(keyToFilename(key)) //nolint:errcheck // best-effort cleanup
		return nil, false, nil
	}
	return value, true, nil
}

// Set saves value under key with the given ttl. A zero ttl never
// expires. The context parameter is accepted for interface compliance
// but not used for disk operations.
func (c *store) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	if err := c.d.WriteStream(keyToFilename(key), bytes.NewReader(encodeEnvelope(value, expiresAt)), true); err != nil {
		return fmt.Errorf("diskcache set failed for key %q: %w", key, err)
	}
	return nil
}

// envelope layout: int64 unix-nano expiry (0 = no expiry), then the raw value.
func encodeEnvelope(value []byte, expiresAt time.Time) []byte {
	buf := make([]byte, 8, 8+len(value))
	var nano int64
	if !expiresAt.IsZero() {
		nano = expiresAt.UnixNano()
	}
	binary.BigEndian.PutUint64(buf, uint64(nano))
	return append(buf, value...)
}

func decodeEnvelope(raw []byte) ([]byte, time.Time, error) {
	if len(raw) < 8 {
		return nil, time.Time{}, fmt.Errorf("diskcache: truncated envelope")
	}
	nano := int64(binary.BigEndian.Uint64(raw[:8]))
	var expiresAt time.Time
	if nano != 0 {
		expiresAt = time.Unix(0, nano)
	}
	return raw[8:], expiresAt, nil
}

var _ rescache.Store = (*store)(nil)
