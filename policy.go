package rescache

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	headerAge           = "Age"
	headerVary          = "Vary"
	headerETag          = "Etag"
	headerLastModified  = "Last-Modified"
	headerDate          = "Date"
	headerIfNoneMatch   = "If-None-Match"
	headerIfUnmodified  = "If-Unmodified-Since"
	headerCacheControl  = "Cache-Control"
	headerPragma        = "Pragma"
	headerAuthorization = "Authorization"
	headerSetCookie     = "Set-Cookie"
	headerContentLength = "Content-Length"
	headerTransferEnc   = "Transfer-Encoding"

	ccNoCache       = "no-cache"
	ccNoStore       = "no-store"
	ccPrivate       = "private"
	ccPublic        = "public"
	ccMaxAge        = "max-age"
	ccSMaxAge       = "s-maxage"
	ccMinFresh      = "min-fresh"
	ccMaxStale      = "max-stale"
	ccOnlyIfCached  = "only-if-cached"
	ccMustRevalid   = "must-revalidate"
	ccMustUnderstand = "must-understand"
)

// understoodStatusCodes mirrors RFC 9111 §5.2.2.3's must-understand
// contract: the set of status codes this cache comprehends well enough
// to store even under an otherwise-prohibiting no-store directive.
var understoodStatusCodes = map[int]bool{
	200: true, 203: true, 204: true, 206: true,
	300: true, 301: true, 404: true, 405: true,
	410: true, 414: true, 501: true,
}

// cacheControlDirectives is a parsed Cache-Control header: directive
// name to value (empty string for valueless directives).
type cacheControlDirectives map[string]string

// parseCacheControl parses a Cache-Control header. Duplicate directives
// keep their first occurrence; conflicting combinations are logged and
// resolved toward the more restrictive directive.
func parseCacheControl(headers http.Header, log *slog.Logger) cacheControlDirectives {
	cc := cacheControlDirectives{}
	seen := map[string]bool{}

	for _, part := range strings.Split(headers.Get(headerCacheControl), ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, _ := strings.Cut(part, "=")
		name = strings.TrimSpace(strings.ToLower(name))
		value = strings.Trim(strings.TrimSpace(value), `"`)

		if seen[name] {
			log.Warn("duplicate Cache-Control directive, keeping first value", "directive", name)
			continue
		}
		seen[name] = true
		cc[name] = value
	}

	if _, hasPrivate := cc[ccPrivate]; hasPrivate {
		if _, hasPublic := cc[ccPublic]; hasPublic {
			log.Warn("conflicting Cache-Control directives, private takes precedence", "conflict", "public+private")
			delete(cc, ccPublic)
		}
	}

	return cc
}

// isRequestCacheable implements the Policy Provider's request predicate:
// only GET/HEAD, no no-cache/no-store, no Pragma: no-cache, and no
// Authorization header (shared-cache restriction per RFC 9111 §3.5).
func isRequestCacheable(req *http.Request, log *slog.Logger) bool {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return false
	}

	cc := parseCacheControl(req.Header, log)
	if _, ok := cc[ccNoCache]; ok {
		return false
	}
	if _, ok := cc[ccNoStore]; ok {
		return false
	}
	if strings.EqualFold(req.Header.Get(headerPragma), ccNoCache) {
		return false
	}
	if req.Header.Get(headerAuthorization) != "" {
		return false
	}
	return true
}

// isResponseCacheable implements the Policy Provider's response
// predicate per §4.2, a shared cache's predicate: Cache-Control:
// private is unconditionally excluded unless allowPrivateResponses
// opts this middleware into the single-consumer private-cache mode.
func isResponseCacheable(statusCode int, headers http.Header, allowPrivateResponses bool, now time.Time, log *slog.Logger) bool {
	cc := parseCacheControl(headers, log)
	_, hasMustUnderstand := cc[ccMustUnderstand]

	if hasMustUnderstand {
		// must-understand only licenses storage of a status this
		// cache comprehends; no-store is otherwise still binding.
		if !understoodStatusCodes[statusCode] {
			return false
		}
	} else if _, ok := cc[ccNoStore]; ok {
		return false
	}

	if _, ok := cc[ccNoCache]; ok {
		return false
	}
	if _, ok := cc[ccPrivate]; ok && !allowPrivateResponses {
		return false
	}
	if headers.Get(headerSetCookie) != "" {
		return false
	}

	statusCacheable := understoodStatusCodes[statusCode]
	_, hasPublic := cc[ccPublic]
	_, hasSMaxAge := cc[ccSMaxAge]
	_, hasMaxAge := cc[ccMaxAge]

	if !statusCacheable && !hasPublic && !hasSMaxAge && !hasMaxAge {
		return false
	}

	return computeFreshnessLifetime(cc, headers, now) >= 0
}

// computeFreshnessLifetime returns the response lifetime computed from
// s-maxage, max-age, or Expires minus the reference instant now; it never fails (absent
// signals yield 0, which FinalizeHeaders upgrades to
// DefaultExpirationTimeSpan), so "has a computable freshness" reduces to
// "no negative/malformed directive was supplied".
func computeFreshnessLifetime(cc cacheControlDirectives, headers http.Header, now time.Time) time.Duration {
	if v, ok := cc[ccSMaxAge]; ok {
		if d, ok := parseDeltaSeconds(v); ok {
			return d
		}
		return -1
	}
	if v, ok := cc[ccMaxAge]; ok {
		if d, ok := parseDeltaSeconds(v); ok {
			return d
		}
		return -1
	}
	if expires := headers.Get("Expires"); expires != "" {
		t, err := time.Parse(time.RFC1123, expires)
		if err != nil {
			return -1
		}
		return t.Sub(now)
	}
	return 0
}

func parseDeltaSeconds(v string) (time.Duration, bool) {
	if strings.Contains(v, ".") {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return time.Duration(n) * time.Second, true
}

func parseDateHeader(headers http.Header) (time.Time, error) {
	return time.Parse(time.RFC1123, headers.Get(headerDate))
}

// isCachedEntryFresh implements the Policy Provider's freshness
// predicate per §4.2, incorporating request-side max-age/min-fresh/
// max-stale adjustments and must-revalidate's override of max-stale.
func isCachedEntryFresh(validFor, age time.Duration, reqHeaders http.Header, respHeaders http.Header, log *slog.Logger) bool {
	reqCC := parseCacheControl(reqHeaders, log)
	respCC := parseCacheControl(respHeaders, log)

	lifetime := validFor
	currentAge := age

	if v, ok := reqCC[ccMaxAge]; ok {
		if d, ok := parseDeltaSeconds(v); ok {
			lifetime = d
		} else {
			lifetime = 0
		}
	}

	if v, ok := reqCC[ccMinFresh]; ok {
		if d, ok := parseDeltaSeconds(v); ok {
			currentAge += d
		}
	}

	if _, mustRevalidate := respCC[ccMustRevalid]; mustRevalidate {
		return lifetime > currentAge
	}

	if v, ok := reqCC[ccMaxStale]; ok {
		if v == "" {
			return true
		}
		if d, ok := parseDeltaSeconds(v); ok {
			currentAge -= d
		}
	}

	return lifetime > currentAge
}

// conditionalRequestSatisfied implements §4.6.1's ConditionalRequestSatisfied.
func conditionalRequestSatisfied(cachedHeaders, reqHeaders http.Header) bool {
	if inm := reqHeaders.Get(headerIfNoneMatch); inm != "" {
		if strings.TrimSpace(inm) == "*" {
			return true
		}
		etag := cachedHeaders.Get(headerETag)
		if etag == "" {
			return false
		}
		for _, tag := range strings.Split(inm, ",") {
			if strongETagMatch(strings.TrimSpace(tag), etag) {
				return true
			}
		}
		return false
	}

	if ius := reqHeaders.Get(headerIfUnmodified); ius != "" {
		reqTime, err := time.Parse(http.TimeFormat, ius)
		if err != nil {
			return false
		}
		ref := cachedHeaders.Get(headerLastModified)
		if ref == "" {
			ref = cachedHeaders.Get(headerDate)
		}
		refTime, err := time.Parse(http.TimeFormat, ref)
		if err != nil {
			return false
		}
		return !refTime.After(reqTime)
	}

	return false
}

func strongETagMatch(requestTag, cachedTag string) bool {
	if strings.HasPrefix(requestTag, "W/") || strings.HasPrefix(cachedTag, "W/") {
		return false
	}
	return requestTag == cachedTag
}

// requestHasOnlyIfCached reports whether the request's Cache-Control
// contains the only-if-cached directive.
func requestHasOnlyIfCached(req *http.Request, log *slog.Logger) bool {
	cc := parseCacheControl(req.Header, log)
	_, ok := cc[ccOnlyIfCached]
	return ok
}

// formatAgeSeconds formats a duration as the floor-of-seconds Age value.
func formatAgeSeconds(age time.Duration) string {
	seconds := int64(age.Seconds())
	if seconds < 0 {
		seconds = 0
	}
	return strconv.FormatInt(seconds, 10)
}
