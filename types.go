// Package rescache provides an in-line net/http middleware implementing a
// mostly RFC 9111 compliant shared cache for HTTP responses.
package rescache

import (
	"net/http"
	"time"
)

// CachedResponse is the persisted representation of a cached response.
// Headers never contains an Age entry; Age is synthesized on serve.
type CachedResponse struct {
	// BodyKeyPrefix is the opaque id under which the body is stored when
	// split out of the response entry. The middleware always sets it; it
	// is only consulted when Body is nil.
	BodyKeyPrefix string
	// Created is the response Date at store time.
	Created time.Time
	StatusCode int
	Headers    http.Header
	// Body is present iff the body is colocated (not split).
	Body []byte
}

// CachedResponseBody is a response body stored as a separate entry from
// its CachedResponse, keyed by BodyKeyPrefix.
type CachedResponseBody struct {
	Body []byte
}

// CachedVaryRules is the intermediate entry redirecting a base-key probe
// to a secondary, variant-specific key.
type CachedVaryRules struct {
	// VaryKeyPrefix is an opaque id mixed into the derived vary key.
	VaryKeyPrefix string
	// Headers is the normalized (upper-cased, sorted) list of vary-by
	// header names.
	Headers []string
	// Params is the normalized list of vary-by query-param names.
	Params []string
}

// reqContext is the per-invocation state owned by the Middleware. It is
// constructed at request entry and discarded at request exit.
type reqContext struct {
	request  *http.Request
	writer   http.ResponseWriter

	responseTime time.Time

	cachedResponse        *CachedResponse
	cachedResponseHeaders http.Header
	cachedEntryAge        time.Duration

	cachedVaryRules *CachedVaryRules

	storageBaseKey string
	storageVaryKey string

	cachedResponseValidFor time.Duration
	shouldCacheResponse    bool
	responseStarted        bool

	varyParamsSlot *[]string

	stream *bufferingResponseWriter
}
