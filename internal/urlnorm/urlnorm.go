// Package urlnorm implements the URL Canonicalizer (§4.1): a pure,
// deterministic function from a raw URL plus a per-host override table
// to a normalized URL and its SHA-256 canonical hash.
package urlnorm

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

// Override is one row of the per-host normalization override table
// (admin CRUD surface, §6 "url_normalization_overrides").
type Override struct {
	HostSuffix         string
	StripWWW           bool
	ForceHTTPS         bool
	StripQueryParams   []string
	StripQueryPrefixes []string
}

var defaultStripKeys = map[string]bool{
	"ref":    true,
	"fbclid": true,
	"gclid":  true,
}

// Result is the canonicalizer's output: the normalized URL and its hash.
// CanonicalHash is empty when the input could not be parsed as a URL.
type Result struct {
	NormalizedURL string
	CanonicalHash string
}

// Normalize runs the full §4.1 algorithm. overrides should be the
// enabled override rows fetched inside the same transaction as the
// caller's write, per §4.5 step 1.
func Normalize(raw string, overrides []Override) Result {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return Result{}
	}

	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Host)

	// Strip default ports.
	if scheme == "http" && strings.HasSuffix(host, ":80") {
		host = strings.TrimSuffix(host, ":80")
	}
	if scheme == "https" && strings.HasSuffix(host, ":443") {
		host = strings.TrimSuffix(host, ":443")
	}

	ov := matchOverride(host, overrides)
	if ov != nil {
		if ov.StripWWW {
			host = strings.TrimPrefix(host, "www.")
		}
		if ov.ForceHTTPS {
			scheme = "https"
		}
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	} else if len(path) > 1 && strings.HasSuffix(path, "/") {
		path = strings.TrimSuffix(path, "/")
	}

	query := filterQuery(u.RawQuery, ov)

	normalized := scheme + "://" + host + path
	if query != "" {
		normalized += "?" + query
	}

	return Result{
		NormalizedURL: normalized,
		CanonicalHash: hashOf(normalized),
	}
}

// matchOverride picks the longest-suffix-label match, per §4.1 step 2.
func matchOverride(host string, overrides []Override) *Override {
	var best *Override
	bestLen := -1
	for i := range overrides {
		suffix := strings.ToLower(overrides[i].HostSuffix)
		if !hostMatchesSuffix(host, suffix) {
			continue
		}
		if len(suffix) > bestLen {
			bestLen = len(suffix)
			best = &overrides[i]
		}
	}
	return best
}

func hostMatchesSuffix(host, suffix string) bool {
	if host == suffix {
		return true
	}
	return strings.HasSuffix(host, "."+suffix)
}

func filterQuery(raw string, ov *Override) string {
	if raw == "" {
		return ""
	}

	pairs := strings.Split(raw, "&")
	type kv struct{ key, rest string }
	kept := make([]kv, 0, len(pairs))

	for _, p := range pairs {
		if p == "" {
			continue
		}
		key := p
		if idx := strings.IndexByte(p, '='); idx >= 0 {
			key = p[:idx]
		}
		lowerKey := strings.ToLower(key)

		if strings.HasPrefix(lowerKey, "utm_") {
			continue
		}
		if defaultStripKeys[lowerKey] {
			continue
		}
		if ov != nil && stripListContains(ov.StripQueryParams, lowerKey) {
			continue
		}
		if ov != nil && hasStripPrefix(ov.StripQueryPrefixes, lowerKey) {
			continue
		}

		kept = append(kept, kv{key: key, rest: p})
	}

	// Stable sort by key ascending; duplicates and blank values preserved.
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].key < kept[j].key })

	parts := make([]string, 0, len(kept))
	for _, k := range kept {
		parts = append(parts, k.rest)
	}
	return strings.Join(parts, "&")
}

func stripListContains(list []string, key string) bool {
	for _, v := range list {
		if strings.ToLower(v) == key {
			return true
		}
	}
	return false
}

func hasStripPrefix(prefixes []string, key string) bool {
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(key, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

func hashOf(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// HashNormalized exposes the hash step alone, for callers that already
// hold a normalized_url (e.g. the projection engine falling back to a
// discovery's existing normalized_url).
func HashNormalized(normalizedURL string) string {
	if normalizedURL == "" {
		return ""
	}
	return hashOf(normalizedURL)
}
