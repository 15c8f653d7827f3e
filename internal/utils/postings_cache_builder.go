package utils

import (
	"strconv"
	"strings"
)

// BuildPostingsListCacheKey builds a deterministic cache key for a public
// `GET /postings` query (§6) from its filter knobs, so that repeated
// anonymous catalog reads for the same query can be served from
// internal/cache without hitting Postgres.
func BuildPostingsListCacheKey(q, org, country string, remote *bool, status, tag, sort string, ascending bool, limit, offset int) string {
	remoteStr := ""
	if remote != nil {
		remoteStr = strconv.FormatBool(*remote)
	}

	return "postings:list:v1:q=" + strings.ToLower(strings.TrimSpace(q)) +
		":org=" + strings.ToLower(strings.TrimSpace(org)) +
		":country=" + strings.ToLower(strings.TrimSpace(country)) +
		":remote=" + remoteStr +
		":status=" + status +
		":tag=" + strings.ToLower(strings.TrimSpace(tag)) +
		":sort=" + sort +
		":asc=" + strconv.FormatBool(ascending) +
		":limit=" + strconv.Itoa(limit) +
		":offset=" + strconv.Itoa(offset)
}
