package rescache

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsRequestCacheable(t *testing.T) {
	log := GetLogger()

	get := httptest.NewRequest(http.MethodGet, "/x", nil)
	assert.True(t, isRequestCacheable(get, log))

	post := httptest.NewRequest(http.MethodPost, "/x", nil)
	assert.False(t, isRequestCacheable(post, log))

	noStore := httptest.NewRequest(http.MethodGet, "/x", nil)
	noStore.Header.Set("Cache-Control", "no-store")
	assert.False(t, isRequestCacheable(noStore, log))

	pragma := httptest.NewRequest(http.MethodGet, "/x", nil)
	pragma.Header.Set("Pragma", "no-cache")
	assert.False(t, isRequestCacheable(pragma, log))

	authed := httptest.NewRequest(http.MethodGet, "/x", nil)
	authed.Header.Set("Authorization", "Bearer t")
	assert.False(t, isRequestCacheable(authed, log))
}

func TestIsResponseCacheable(t *testing.T) {
	log := GetLogger()
	now := time.Now()

	cacheableByStatus := http.Header{}
	assert.True(t, isResponseCacheable(200, cacheableByStatus, false, now, log))

	uncacheableStatus := http.Header{}
	assert.False(t, isResponseCacheable(503, uncacheableStatus, false, now, log))

	withPublic := http.Header{"Cache-Control": {"public"}}
	assert.True(t, isResponseCacheable(503, withPublic, false, now, log))

	noStore := http.Header{"Cache-Control": {"no-store"}}
	assert.False(t, isResponseCacheable(200, noStore, false, now, log))

	withCookie := http.Header{"Set-Cookie": {"a=b"}}
	assert.False(t, isResponseCacheable(200, withCookie, false, now, log))

	// Cache-Control: private is unconditionally excluded by default
	// (shared cache), and only cacheable when the middleware has opted
	// into single-consumer private-cache mode.
	privateShared := http.Header{"Cache-Control": {"private"}}
	assert.False(t, isResponseCacheable(200, privateShared, false, now, log))
	assert.True(t, isResponseCacheable(200, privateShared, true, now, log))
}

func TestIsResponseCacheableMustUnderstand(t *testing.T) {
	log := GetLogger()
	now := time.Now()

	understood := http.Header{"Cache-Control": {"must-understand, no-store"}}
	assert.True(t, isResponseCacheable(200, understood, false, now, log))

	notUnderstood := http.Header{"Cache-Control": {"must-understand, no-store"}}
	assert.False(t, isResponseCacheable(207, notUnderstood, false, now, log))
}

func TestIsCachedEntryFreshBasic(t *testing.T) {
	log := GetLogger()
	reqHeaders := http.Header{}
	respHeaders := http.Header{}

	assert.True(t, isCachedEntryFresh(10*time.Second, 5*time.Second, reqHeaders, respHeaders, log))
	assert.False(t, isCachedEntryFresh(10*time.Second, 15*time.Second, reqHeaders, respHeaders, log))
}

func TestIsCachedEntryFreshRequestMaxStaleExtends(t *testing.T) {
	log := GetLogger()
	reqHeaders := http.Header{"Cache-Control": {"max-stale=10"}}
	respHeaders := http.Header{}

	assert.True(t, isCachedEntryFresh(10*time.Second, 15*time.Second, reqHeaders, respHeaders, log))
}

func TestIsCachedEntryFreshMustRevalidateIgnoresMaxStale(t *testing.T) {
	log := GetLogger()
	reqHeaders := http.Header{"Cache-Control": {"max-stale"}}
	respHeaders := http.Header{"Cache-Control": {"must-revalidate"}}

	assert.False(t, isCachedEntryFresh(10*time.Second, 15*time.Second, reqHeaders, respHeaders, log))
}

func TestIsCachedEntryFreshRequestMinFreshTightens(t *testing.T) {
	log := GetLogger()
	reqHeaders := http.Header{"Cache-Control": {"min-fresh=10"}}
	respHeaders := http.Header{}

	assert.False(t, isCachedEntryFresh(10*time.Second, 5*time.Second, reqHeaders, respHeaders, log))
}

func TestConditionalRequestSatisfiedETag(t *testing.T) {
	cached := http.Header{"Etag": {`"E1"`}}

	match := http.Header{"If-None-Match": {`"E1"`}}
	assert.True(t, conditionalRequestSatisfied(cached, match))

	mismatch := http.Header{"If-None-Match": {`"E2"`}}
	assert.False(t, conditionalRequestSatisfied(cached, mismatch))

	star := http.Header{"If-None-Match": {"*"}}
	assert.True(t, conditionalRequestSatisfied(cached, star))

	weak := http.Header{"If-None-Match": {`W/"E1"`}}
	assert.False(t, conditionalRequestSatisfied(cached, weak))
}

func TestConditionalRequestSatisfiedIfUnmodifiedSince(t *testing.T) {
	lastModified := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cached := http.Header{"Last-Modified": {lastModified.Format(http.TimeFormat)}}

	after := http.Header{"If-Unmodified-Since": {lastModified.Add(time.Hour).Format(http.TimeFormat)}}
	assert.True(t, conditionalRequestSatisfied(cached, after))

	before := http.Header{"If-Unmodified-Since": {lastModified.Add(-time.Hour).Format(http.TimeFormat)}}
	assert.False(t, conditionalRequestSatisfied(cached, before))
}

func TestRequestHasOnlyIfCached(t *testing.T) {
	log := GetLogger()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Cache-Control", "only-if-cached")
	assert.True(t, requestHasOnlyIfCached(req, log))

	plain := httptest.NewRequest(http.MethodGet, "/x", nil)
	assert.False(t, requestHasOnlyIfCached(plain, log))
}

func TestFormatAgeSeconds(t *testing.T) {
	assert.Equal(t, "0", formatAgeSeconds(0))
	assert.Equal(t, "5", formatAgeSeconds(5*time.Second+500*time.Millisecond))
	assert.Equal(t, "0", formatAgeSeconds(-time.Second))
}
