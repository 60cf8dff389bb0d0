package rescache

import (
	"net/http"
	"sort"
	"strings"
)

// keyDelimiter separates the method from the path in a base key. \x1f
// (unit separator) cannot appear in a valid HTTP method or path token.
const keyDelimiter = "\x1f"

// lookupBaseKeys returns the ordered sequence of keys to probe for a
// primary entry. The reference implementation yields exactly one key of
// the shape METHOD\x1fPATH.
func lookupBaseKeys(req *http.Request) []string {
	return []string{baseKey(req)}
}

func baseKey(req *http.Request) string {
	return strings.ToUpper(req.Method) + keyDelimiter + req.URL.Path
}

// storageBaseKey returns the single key under which the base entry (vary
// rules, or the response itself when no vary applies) is written.
func storageBaseKey(req *http.Request) string {
	return baseKey(req)
}

// lookupVaryKeys returns the ordered sequence of keys to probe given a
// discovered CachedVaryRules. Each key concatenates the base key, the
// rules' VaryKeyPrefix, and the canonicalized request header/param
// values in rule order.
func lookupVaryKeys(req *http.Request, base string, rules *CachedVaryRules) []string {
	return []string{varyKeyFor(req, base, rules)}
}

// storageVaryKey returns the single key under which the variant response
// is written, given the active CachedVaryRules.
func storageVaryKey(req *http.Request, base string, rules *CachedVaryRules) string {
	return varyKeyFor(req, base, rules)
}

func varyKeyFor(req *http.Request, base string, rules *CachedVaryRules) string {
	var b strings.Builder
	b.WriteString(base)
	b.WriteString(rules.VaryKeyPrefix)
	for _, header := range rules.Headers {
		b.WriteString(header)
		b.WriteString("=")
		b.WriteString(canonicalToken(req.Header.Get(header)))
	}
	query := req.URL.Query()
	for _, param := range rules.Params {
		// Rule params are normalized to upper case, so the query name is
		// matched case-insensitively.
		value := ""
		for name, values := range query {
			if strings.EqualFold(name, param) && len(values) > 0 {
				value = values[0]
				break
			}
		}
		b.WriteString(param)
		b.WriteString("=")
		b.WriteString(canonicalToken(value))
	}
	return b.String()
}

// canonicalToken case-folds a vary-contributing value to upper case.
// Missing headers/params contribute the empty token, matching the
// contract in §4.1: absence is itself a distinguishing value.
func canonicalToken(v string) string {
	return strings.ToUpper(v)
}

// normalizeVaryList implements the normalization the key provider and
// FinalizeHeaders share: split on comma where applicable, trim,
// upper-case, and ordinal-sort. Idempotent and commutative with respect
// to input order. Generalized from a single-header normalizer to a
// whole-list normalizer since keys are built from normalized lists
// rather than single header values.
//
// Vary: * is not special-cased here, by design — see DESIGN.md's Open
// Question resolution. A literal "*" token is normalized and compared
// like any other element.
func normalizeVaryList(raw []string) []string {
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		for _, part := range strings.Split(item, ",") {
			part = strings.ToUpper(strings.TrimSpace(part))
			if part == "" {
				continue
			}
			if _, ok := seen[part]; ok {
				continue
			}
			seen[part] = struct{}{}
			out = append(out, part)
		}
	}
	sort.Strings(out)
	return out
}

// stringListsEqual reports whether two already-normalized string lists
// are identical element-wise.
func stringListsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
