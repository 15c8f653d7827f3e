// Package evidence models a captured artifact attached to a discovery.
package evidence

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("evidence not found")

type Kind string

const (
	KindSnapshot Kind = "snapshot"
	KindDocument Kind = "document"
	KindScreenshot Kind = "screenshot"
	KindOther    Kind = "other"
)

func (k Kind) IsValid() bool {
	switch k {
	case KindSnapshot, KindDocument, KindScreenshot, KindOther:
		return true
	default:
		return false
	}
}

type Evidence struct {
	ID          string         `json:"id"`
	DiscoveryID *string        `json:"discoveryId,omitempty"`
	Kind        Kind           `json:"kind"`
	URI         string         `json:"uri"`
	ContentHash string         `json:"contentHash"`
	CapturedAt  time.Time      `json:"capturedAt"`
	ContentType *string        `json:"contentType,omitempty"`
	ByteSize    *int64         `json:"byteSize,omitempty"`
	Metadata    map[string]any `json:"metadata"`
}

type CreateRequest struct {
	DiscoveryID *string
	Kind        Kind
	URI         string
	ContentHash string
	CapturedAt  time.Time
	ContentType *string
	ByteSize    *int64
	Metadata    map[string]any
}

func New(req CreateRequest) Evidence {
	capturedAt := req.CapturedAt
	if capturedAt.IsZero() {
		capturedAt = time.Now().UTC()
	}
	meta := req.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	return Evidence{
		ID:          uuid.NewString(),
		DiscoveryID: req.DiscoveryID,
		Kind:        req.Kind,
		URI:         req.URI,
		ContentHash: req.ContentHash,
		CapturedAt:  capturedAt,
		ContentType: req.ContentType,
		ByteSize:    req.ByteSize,
		Metadata:    meta,
	}
}
