package rescache

import (
	"fmt"
	"time"
)

// MiddlewareOption configures a Middleware. Use the With* functions to
// build options.
type MiddlewareOption func(*Middleware) error

// WithMaximumCachedBodySize sets the buffering cap per response.
// Default: 64 KiB.
func WithMaximumCachedBodySize(n int64) MiddlewareOption {
	return func(m *Middleware) error {
		m.maximumCachedBodySize = n
		return nil
	}
}

// WithMinimumSplitBodySize sets the threshold at which a response body
// is stored separately from its CachedResponse entry. Default: 70*1024-1.
func WithMinimumSplitBodySize(n int64) MiddlewareOption {
	return func(m *Middleware) error {
		m.minimumSplitBodySize = n
		return nil
	}
}

// WithDefaultExpiration sets the freshness lifetime used when none is
// computable from response headers. Default: 10s.
func WithDefaultExpiration(d time.Duration) MiddlewareOption {
	return func(m *Middleware) error {
		m.defaultExpiration = d
		return nil
	}
}

// WithClock injects a source of the current UTC instant, for testing.
func WithClock(now func() time.Time) MiddlewareOption {
	return func(m *Middleware) error {
		m.now = now
		return nil
	}
}

// WithPrivateCache opts this middleware out of the shared-cache default
// and into single-consumer private-cache mode, in which responses
// carrying Cache-Control: private are cached rather than unconditionally
// excluded. A middleware constructed without this option is a shared
// cache per RFC 9111 and never stores or serves a private response to
// another requester.
func WithPrivateCache() MiddlewareOption {
	return func(m *Middleware) error {
		m.allowPrivateResponses = true
		return nil
	}
}

// WithMarkCachedResponses toggles the X-From-Cache response header on
// entries served from the cache. Default: true.
func WithMarkCachedResponses(mark bool) MiddlewareOption {
	return func(m *Middleware) error {
		m.markCachedResponses = mark
		return nil
	}
}

// WithEncryption enables AES-256-GCM encryption of cached payloads,
// deriving the key from passphrase via scrypt. Only payloads are
// encrypted; cache keys are written to the Store unhashed. Unlike
// wrapper/securestore, which also hashes every key, this option does
// not hash keys, and it derives its key with a different salt.
func WithEncryption(passphrase string) MiddlewareOption {
	return func(m *Middleware) error {
		if passphrase == "" {
			return fmt.Errorf("rescache: encryption passphrase cannot be empty")
		}
		gcm, err := newGCM(passphrase)
		if err != nil {
			return err
		}
		m.gcm = gcm
		return nil
	}
}
