// Package candidate models the internal working record between a raw
// discovery and a published posting (§3 PostingCandidate).
package candidate

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound       = errors.New("posting candidate not found")
	ErrInvalidState   = errors.New("invalid candidate state")
	ErrNotPublishable = errors.New("candidate has no linked posting")
)

type State string

const (
	StateDiscovered  State = "discovered"
	StateProcessed   State = "processed"
	StatePublishable State = "publishable"
	StateNeedsReview State = "needs_review"
	StatePublished   State = "published"
	StateRejected    State = "rejected"
	StateArchived    State = "archived"
	StateClosed      State = "closed"
)

func (s State) IsValid() bool {
	switch s {
	case StateDiscovered, StateProcessed, StatePublishable, StateNeedsReview,
		StatePublished, StateRejected, StateArchived, StateClosed:
		return true
	default:
		return false
	}
}

// Candidate is the aggregate row; discovery/evidence links live in
// separate join tables owned by the repository layer.
type Candidate struct {
	ID               string         `json:"id"`
	State            State          `json:"state"`
	DedupeBucketKey  *string        `json:"dedupeBucketKey,omitempty"`
	DedupeConfidence *float64       `json:"dedupeConfidence,omitempty"`
	ExtractedFields  map[string]any `json:"extractedFields"`
	RiskFlags        []string       `json:"riskFlags"`
	CreatedAt        time.Time      `json:"createdAt"`
	UpdatedAt        time.Time      `json:"updatedAt"`
}

type CreateRequest struct {
	State            State
	DedupeBucketKey  *string
	DedupeConfidence *float64
	ExtractedFields  map[string]any
	RiskFlags        []string
}

func New(req CreateRequest) Candidate {
	now := time.Now().UTC()
	fields := req.ExtractedFields
	if fields == nil {
		fields = map[string]any{}
	}
	flags := req.RiskFlags
	if flags == nil {
		flags = []string{}
	}
	return Candidate{
		ID:               uuid.NewString(),
		State:            req.State,
		DedupeBucketKey:  req.DedupeBucketKey,
		DedupeConfidence: req.DedupeConfidence,
		ExtractedFields:  fields,
		RiskFlags:        flags,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// HasRiskFlag reports whether a given flag is already recorded.
func (c Candidate) HasRiskFlag(flag string) bool {
	for _, f := range c.RiskFlags {
		if f == flag {
			return true
		}
	}
	return false
}

// ListFilter is the moderation queue's read-query boundary (§6
// `GET /candidates`): state and risk-flag filters plus offset paging.
type ListFilter struct {
	State     *State
	RiskFlag  *string
	Ascending bool
	Limit     int
	Offset    int
}

// Facets summarizes the queue by state, the counts a moderation UI
// renders as filter chips without a separate round trip per state.
type Facets struct {
	ByState map[State]int `json:"byState"`
	Total   int           `json:"total"`
}
