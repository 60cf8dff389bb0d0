// Package compressstore wraps a rescache.Store to automatically compress
// cached response bodies before they hit the backend, reducing storage
// footprint and transfer cost for large bodies. Supports gzip, brotli, and
// snappy; the algorithm is fixed per Store instance but decompression
// recognizes all three via a marker byte, so switching algorithms on an
// existing backend doesn't strand previously-written entries.
package compressstore

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/golang/snappy"

	"github.com/sandrolain/rescache"
)

// Algorithm identifies a compression algorithm.
type Algorithm int

const (
	// Gzip uses gzip compression (good balance of ratio and speed).
	Gzip Algorithm = iota
	// Brotli uses brotli compression (best ratio, slower).
	Brotli
	// Snappy uses snappy compression (fastest, lower ratio).
	Snappy
)

// String returns the string representation of the algorithm.
func (a Algorithm) String() string {
	switch a {
	case Gzip:
		return "gzip"
	case Brotli:
		return "brotli"
	case Snappy:
		return "snappy"
	default:
		return "unknown"
	}
}

// Stats holds compression statistics accumulated across Set calls.
type Stats struct {
	CompressedBytes   int64
	UncompressedBytes int64
	CompressedCount   int64
	UncompressedCount int64
	CompressionRatio  float64
	SavingsPercent    float64
}

// Config holds the configuration for creating a compressing Store.
type Config struct {
	// Store is the underlying Store implementation to wrap (required).
	Store rescache.Store

	// Algorithm selects the compression algorithm used for new writes.
	Algorithm Algorithm

	// GzipLevel is the gzip compression level (-2 to 9). Only used when
	// Algorithm is Gzip. Default: gzip.DefaultCompression.
	GzipLevel int

	// BrotliLevel is the brotli compression level (0 to 11). Only used
	// when Algorithm is Brotli. Default: 6.
	BrotliLevel int
}

type compressFunc func([]byte) ([]byte, error)
type decompressFunc func([]byte) ([]byte, error)

type store struct {
	store     rescache.Store
	algorithm Algorithm
	compress  compressFunc

	compressedBytes   atomic.Int64
	uncompressedBytes atomic.Int64
	compressedCount   atomic.Int64
	uncompressedCount atomic.Int64
}

// New creates a new Store that compresses values with the configured
// algorithm before delegating to config.Store.
func New(config Config) (*store, error) {
	if config.Store == nil {
		return nil, fmt.Errorf("compressstore: store cannot be nil")
	}

	s := &store{store: config.Store, algorithm: config.Algorithm}

	switch config.Algorithm {
	case Gzip:
		level := config.GzipLevel
		if level == 0 {
			level = gzip.DefaultCompression
		}
		if level < gzip.HuffmanOnly || level > gzip.BestCompression {
			return nil, fmt.Errorf("compressstore: invalid gzip compression level: %d", level)
		}
		s.compress = func(data []byte) ([]byte, error) { return compressGzip(data, level) }
	case Brotli:
		level := config.BrotliLevel
		if level == 0 {
			level = 6
		}
		if level < 0 || level > 11 {
			return nil, fmt.Errorf("compressstore: invalid brotli compression level: %d", level)
		}
		s.compress = func(data []byte) ([]byte, error) { return compressBrotli(data, level) }
	case Snappy:
		s.compress = compressSnappy
	default:
		return nil, fmt.Errorf("compressstore: unsupported algorithm: %v", config.Algorithm)
	}

	return s, nil
}

func compressGzip(data []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, fmt.Errorf("gzip writer creation failed: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("gzip write failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("gzip close failed: %w", err)
	}
	return buf.Bytes(), nil
}

func decompressGzip(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip reader creation failed: %w", err)
	}
	defer func() { _ = r.Close() }()
	return io.ReadAll(r)
}

func compressBrotli(data []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	w := brotli.NewWriterLevel(&buf, level)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("brotli write failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("brotli close failed: %w", err)
	}
	return buf.Bytes(), nil
}

func decompressBrotli(data []byte) ([]byte, error) {
	r := brotli.NewReader(bytes.NewReader(data))
	return io.ReadAll(r)
}

func compressSnappy(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

func decompressSnappy(data []byte) ([]byte, error) {
	decompressed, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("snappy decode failed: %w", err)
	}
	return decompressed, nil
}

func decompressWithAlgorithm(algorithm Algorithm, data []byte) ([]byte, error) {
	switch algorithm {
	case Gzip:
		return decompressGzip(data)
	case Brotli:
		return decompressBrotli(data)
	case Snappy:
		return decompressSnappy(data)
	default:
		return nil, fmt.Errorf("compressstore: unsupported decompression algorithm: %v", algorithm)
	}
}

// Get retrieves and decompresses a value from the underlying Store. The
// stored marker byte identifies the algorithm used at write time, so this
// works even after Algorithm has been changed for new writes.
func (s *store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, ok, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	if len(data) < 1 {
		return data, true, nil
	}

	marker := data[0]
	if marker == 0 {
		return data[1:], true, nil
	}

	decompressed, err := decompressWithAlgorithm(Algorithm(marker-1), data[1:])
	if err != nil {
		return nil, false, fmt.Errorf("compressstore: decompression failed for key %q: %w", key, err)
	}
	return decompressed, true, nil
}

// Set compresses value with the configured algorithm and stores it under
// key with the given ttl. If compression fails the value is stored
// uncompressed rather than losing the entry.
func (s *store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	compressed, err := s.compress(value)
	if err != nil {
		data := make([]byte, len(value)+1)
		data[0] = 0
		copy(data[1:], value)
		s.uncompressedCount.Add(1)
		s.uncompressedBytes.Add(int64(len(value)))
		return s.store.Set(ctx, key, data, ttl)
	}

	data := make([]byte, len(compressed)+1)
	data[0] = byte(s.algorithm + 1)
	copy(data[1:], compressed)

	s.compressedCount.Add(1)
	s.compressedBytes.Add(int64(len(compressed)))
	s.uncompressedBytes.Add(int64(len(value)))

	return s.store.Set(ctx, key, data, ttl)
}

// Stats returns compression statistics accumulated since the Store was
// created.
func (s *store) Stats() Stats {
	compressed := s.compressedBytes.Load()
	uncompressed := s.uncompressedBytes.Load()

	var ratio, savings float64
	if uncompressed > 0 {
		ratio = float64(compressed) / float64(uncompressed)
		savings = (1.0 - ratio) * 100
	}

	return Stats{
		CompressedBytes:   compressed,
		UncompressedBytes: uncompressed,
		CompressedCount:   s.compressedCount.Load(),
		UncompressedCount: s.uncompressedCount.Load(),
		CompressionRatio:  ratio,
		SavingsPercent:    savings,
	}
}

var _ rescache.Store = (*store)(nil)
