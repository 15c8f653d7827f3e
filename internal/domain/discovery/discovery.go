// Package discovery models the connector-reported observation of a
// potential opportunity URL — the root input to the ingestion pipeline.
package discovery

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("discovery not found")

// Discovery is never deleted; url/normalized_url/canonical_hash may be
// rewritten in place by a resolve_url_redirects job.
type Discovery struct {
	ID              string         `json:"id"`
	OriginModuleID  string         `json:"originModuleId"`
	ExternalID      *string        `json:"externalId,omitempty"`
	DiscoveredAt    time.Time      `json:"discoveredAt"`
	URL             *string        `json:"url,omitempty"`
	NormalizedURL   *string        `json:"normalizedUrl,omitempty"`
	CanonicalHash   *string        `json:"canonicalHash,omitempty"`
	TitleHint       *string        `json:"titleHint,omitempty"`
	TextHint        *string        `json:"textHint,omitempty"`
	Metadata        map[string]any `json:"metadata"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

// CreateRequest is the normalized input to an ingest operation, after the
// URL canonicalizer has already run.
type CreateRequest struct {
	OriginModuleID string
	ExternalID     *string
	DiscoveredAt   time.Time
	URL            *string
	NormalizedURL  *string
	CanonicalHash  *string
	TitleHint      *string
	TextHint       *string
	Metadata       map[string]any
}

func New(req CreateRequest) Discovery {
	now := time.Now().UTC()

	discoveredAt := req.DiscoveredAt
	if discoveredAt.IsZero() {
		discoveredAt = now
	}

	meta := req.Metadata
	if meta == nil {
		meta = map[string]any{}
	}

	return Discovery{
		ID:             uuid.NewString(),
		OriginModuleID: req.OriginModuleID,
		ExternalID:     req.ExternalID,
		DiscoveredAt:   discoveredAt,
		URL:            req.URL,
		NormalizedURL:  req.NormalizedURL,
		CanonicalHash:  req.CanonicalHash,
		TitleHint:      req.TitleHint,
		TextHint:       req.TextHint,
		Metadata:       meta,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// MetadataString reads a string-valued metadata key; it returns "" and
// false when the key is absent or its value is not a string.
func (d Discovery) MetadataString(key string) (string, bool) {
	v, ok := d.Metadata[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// ResolveRedirects reads metadata.resolve_redirects, tolerating
// bool|int|string encodings as the wire contract allows (§6).
func (d Discovery) ResolveRedirects(defaultValue bool) bool {
	v, ok := d.Metadata["resolve_redirects"]
	if !ok {
		return defaultValue
	}
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		switch t {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return defaultValue
}
