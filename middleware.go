package rescache

import (
	"context"
	"crypto/cipher"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Middleware is the orchestrator: per-request context construction, the
// serve-from-cache path, the capture-and-store path, header
// finalization, and stream shim/unshim.
type Middleware struct {
	store Store
	gcm   cipher.AEAD

	maximumCachedBodySize int64
	minimumSplitBodySize  int64
	defaultExpiration     time.Duration
	now                   func() time.Time
	allowPrivateResponses bool
	markCachedResponses   bool
}

const (
	defaultMaximumCachedBodySize = 64 * 1024
	defaultMinimumSplitBodySize  = 70*1024 - 1
	defaultExpirationTimeSpan    = 10 * time.Second
)

// NewMiddleware constructs a Middleware backed by store, applying any
// MiddlewareOptions in order. store must not be nil.
func NewMiddleware(store Store, opts ...MiddlewareOption) (*Middleware, error) {
	if store == nil {
		return nil, fmt.Errorf("rescache: store cannot be nil")
	}

	m := &Middleware{
		store:                 store,
		maximumCachedBodySize: defaultMaximumCachedBodySize,
		minimumSplitBodySize:  defaultMinimumSplitBodySize,
		defaultExpiration:     defaultExpirationTimeSpan,
		now:                   time.Now,
		markCachedResponses:   true,
	}

	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// Wrap adapts the middleware to the idiomatic net/http decorator shape:
// a single Middleware instance is constructed once per pipeline and
// applied to any number of downstream handlers.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.invoke(w, r, next)
	})
}

// invoke implements Invoke(request) per §4.6: build context, check
// request cacheability, try serving from cache, otherwise shim the
// response stream, delegate downstream, and finalize headers/body on
// every exit path.
func (m *Middleware) invoke(w http.ResponseWriter, r *http.Request, next http.Handler) {
	log := GetLogger()

	if !isRequestCacheable(r, log) {
		next.ServeHTTP(w, r)
		return
	}

	ctx, slot := withVaryParamsSlot(r.Context())
	r = r.WithContext(ctx)

	rc := &reqContext{request: r, writer: w, varyParamsSlot: slot}

	if m.tryServeFromCache(rc, log) {
		return
	}

	stream := newBufferingResponseWriter(w, m.maximumCachedBodySize, func() {
		m.finalizeHeaders(rc, log)
	})
	rc.stream = stream

	defer func() {
		// Covers handlers that complete without ever writing: the
		// response-start hook never fired, so headers were never
		// finalized. responseStarted makes the repeat call a no-op
		// for handlers that did write.
		m.finalizeHeaders(rc, log)
		m.finalizeBody(rc, log)
	}()

	next.ServeHTTP(stream, r)
}

// tryServeFromCache implements §4.6.1. It returns true iff the request
// was fully served (a cache hit, a 304, or a 504 only-if-cached miss)
// and the caller must not delegate downstream.
func (m *Middleware) tryServeFromCache(rc *reqContext, log *slog.Logger) bool {
	ctx := rc.request.Context()

	// lookupBaseKeys/lookupVaryKeys each currently yield exactly one
	// key (see keyprovider.go); the loops below exist to honor the
	// multi-key contract in §4.1 without assuming it away.
	for _, base := range lookupBaseKeys(rc.request) {
		switch entry := getEntry(ctx, m.store, base, m.gcm, log).(type) {
		case *CachedVaryRules:
			rc.cachedVaryRules = entry
			for _, varyKey := range lookupVaryKeys(rc.request, base, entry) {
				resp, ok := getEntry(ctx, m.store, varyKey, m.gcm, log).(*CachedResponse)
				if !ok {
					continue
				}
				if m.serveCandidate(rc, resp, log) {
					return true
				}
				// Candidate was fresh-checked and abandoned
				// (stale, or its body went missing): per §4.6.1
				// this is a miss, not a reason to keep probing.
				return m.serveOnlyIfCachedOr504(rc, log)
			}
		case *CachedResponse:
			if m.serveCandidate(rc, entry, log) {
				return true
			}
			return m.serveOnlyIfCachedOr504(rc, log)
		}
	}

	return m.serveOnlyIfCachedOr504(rc, log)
}

// serveOnlyIfCachedOr504 implements the tail of §4.6.1: when no
// candidate served, respond 504 if the request demands only-if-cached,
// else report a miss so the caller delegates downstream.
func (m *Middleware) serveOnlyIfCachedOr504(rc *reqContext, log *slog.Logger) bool {
	if requestHasOnlyIfCached(rc.request, log) {
		rc.writer.WriteHeader(http.StatusGatewayTimeout)
		return true
	}
	return false
}

// serveCandidate implements the serve step of §4.6.1 for one candidate
// CachedResponse. Returns true iff the candidate was served (body or
// 304); false means the candidate was abandoned (stale, or its split
// body could not be fetched) and the whole request is now a miss.
func (m *Middleware) serveCandidate(rc *reqContext, entry *CachedResponse, log *slog.Logger) bool {
	rc.responseTime = m.now()
	age := rc.responseTime.Sub(entry.Created)
	if age < 0 {
		age = 0
	}
	rc.cachedEntryAge = age

	cc := parseCacheControl(entry.Headers, log)
	validFor := m.computeValidFor(cc, entry.Headers, entry.Created)

	if !isCachedEntryFresh(validFor, age, rc.request.Header, entry.Headers, log) {
		return false
	}

	rc.cachedResponse = entry
	rc.cachedResponseHeaders = entry.Headers

	if conditionalRequestSatisfied(entry.Headers, rc.request.Header) {
		rc.writer.WriteHeader(http.StatusNotModified)
		return true
	}

	body, ok := m.fetchBody(rc.request.Context(), entry, log)
	if !ok {
		return false
	}

	header := rc.writer.Header()
	for k, v := range entry.Headers {
		header[k] = append([]string(nil), v...)
	}
	header.Set(headerAge, formatAgeSeconds(age))
	if header.Get(headerContentLength) == "" && header.Get(headerTransferEnc) == "" {
		header.Set(headerContentLength, strconv.Itoa(len(body)))
	}
	if m.markCachedResponses {
		header.Set("X-From-Cache", "1")
	}

	rc.writer.WriteHeader(entry.StatusCode)
	if rc.request.Method != http.MethodHead {
		rc.writer.Write(body)
	}
	return true
}

// fetchBody resolves a candidate's body, colocated or split. The second
// return is false only on BodyFetchMiss (§7): the response entry exists
// but its body entry is gone.
func (m *Middleware) fetchBody(ctx context.Context, entry *CachedResponse, log *slog.Logger) ([]byte, bool) {
	if entry.Body != nil {
		return entry.Body, true
	}
	if entry.BodyKeyPrefix == "" {
		return nil, false
	}
	bodyEntry, ok := getEntry(ctx, m.store, entry.BodyKeyPrefix, m.gcm, log).(*CachedResponseBody)
	if !ok {
		return nil, false
	}
	return bodyEntry.Body, true
}

// finalizeHeaders implements §4.6.2. It runs at most once per request,
// gated by ResponseStarted, and decides whether the response will be
// cached, computing its validity window and vary signature.
func (m *Middleware) finalizeHeaders(rc *reqContext, log *slog.Logger) {
	if rc.responseStarted {
		return
	}
	rc.responseStarted = true
	rc.responseTime = m.now()

	header := rc.stream.Header()
	statusCode := rc.stream.statusCode
	if statusCode == 0 {
		statusCode = http.StatusOK
	}

	if !isResponseCacheable(statusCode, header, m.allowPrivateResponses, rc.responseTime, log) {
		rc.stream.DisableBuffering()
		return
	}

	rc.shouldCacheResponse = true

	cc := parseCacheControl(header, log)
	rc.cachedResponseValidFor = m.computeValidFor(cc, header, rc.responseTime)
	rc.storageBaseKey = storageBaseKey(rc.request)

	varyHeaders := normalizeVaryList(header.Values(headerVary))
	varyParams := normalizeVaryList(varyParamsFromSlot(rc.varyParamsSlot))

	if len(varyHeaders) > 0 || len(varyParams) > 0 {
		rules := rc.cachedVaryRules
		if rules == nil || !stringListsEqual(rules.Headers, varyHeaders) || !stringListsEqual(rules.Params, varyParams) {
			prefix, err := randomKeyPrefix()
			if err != nil {
				log.Warn("failed to mint vary key prefix, response will not be cached", "error", err)
				rc.shouldCacheResponse = false
				rc.stream.DisableBuffering()
				return
			}
			rules = &CachedVaryRules{VaryKeyPrefix: prefix, Headers: varyHeaders, Params: varyParams}
			rc.cachedVaryRules = rules
			setEntry(rc.request.Context(), m.store, rc.storageBaseKey, rules, rc.cachedResponseValidFor, m.gcm, log)
		}
		rc.storageVaryKey = storageVaryKey(rc.request, rc.storageBaseKey, rules)
	}

	if header.Get(headerDate) == "" {
		header.Set(headerDate, rc.responseTime.UTC().Format(http.TimeFormat))
	}
	created, err := time.Parse(http.TimeFormat, header.Get(headerDate))
	if err != nil {
		created = rc.responseTime
	}

	bodyKeyPrefix, err := randomKeyPrefix()
	if err != nil {
		log.Warn("failed to mint body key prefix, response will not be cached", "error", err)
		rc.shouldCacheResponse = false
		rc.stream.DisableBuffering()
		return
	}

	headersCopy := make(http.Header, len(header))
	for k, v := range header {
		if strings.EqualFold(k, headerAge) {
			continue
		}
		headersCopy[k] = append([]string(nil), v...)
	}

	rc.cachedResponse = &CachedResponse{
		BodyKeyPrefix: bodyKeyPrefix,
		Created:       created,
		StatusCode:    statusCode,
		Headers:       headersCopy,
	}
}

// finalizeBody implements §4.6.3. It runs exactly once at request end,
// via the deferred call in invoke, and stores the captured body under
// the rules established by finalizeHeaders.
func (m *Middleware) finalizeBody(rc *reqContext, log *slog.Logger) {
	if !rc.shouldCacheResponse || rc.cachedResponse == nil {
		return
	}
	if !rc.stream.BufferingEnabled() {
		return
	}

	buffered := rc.stream.Snapshot()

	if declared := rc.stream.Header().Get(headerContentLength); declared != "" {
		n, err := strconv.ParseInt(declared, 10, 64)
		if err != nil || n != int64(len(buffered)) {
			return
		}
	}

	storageKey := rc.storageVaryKey
	if storageKey == "" {
		storageKey = rc.storageBaseKey
	}

	ctx := rc.request.Context()
	// Strictly greater than, not >=: with the default threshold of
	// 70*1024-1 bytes, a 70*1024-1 byte body must colocate and a
	// 70*1024 byte body must split (spec.md §8 scenario 6).
	if int64(len(buffered)) > m.minimumSplitBodySize {
		setEntry(ctx, m.store, rc.cachedResponse.BodyKeyPrefix, &CachedResponseBody{Body: buffered}, rc.cachedResponseValidFor, m.gcm, log)
		setEntry(ctx, m.store, storageKey, rc.cachedResponse, rc.cachedResponseValidFor, m.gcm, log)
		return
	}

	entry := *rc.cachedResponse
	entry.Body = buffered
	setEntry(ctx, m.store, storageKey, &entry, rc.cachedResponseValidFor, m.gcm, log)
}

// computeValidFor resolves CachedResponseValidFor: the first present of
// s-maxage/max-age/Expires-minus-reference, else DefaultExpirationTimeSpan.
func (m *Middleware) computeValidFor(cc cacheControlDirectives, headers http.Header, reference time.Time) time.Duration {
	validFor := computeFreshnessLifetime(cc, headers, reference)
	if validFor <= 0 {
		return m.defaultExpiration
	}
	return validFor
}
