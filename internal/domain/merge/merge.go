// Package merge models the CandidateMergeDecision audit row (§3) that
// records every dedupe-scorer verdict, auto-merged or not.
package merge

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("merge decision not found")

type Decision string

const (
	DecisionAutoMerged    Decision = "auto_merged"
	DecisionManualMerged  Decision = "manual_merged"
	DecisionNeedsReview   Decision = "needs_review"
	DecisionRejected      Decision = "rejected"
)

func (d Decision) IsValid() bool {
	switch d {
	case DecisionAutoMerged, DecisionManualMerged, DecisionNeedsReview, DecisionRejected:
		return true
	default:
		return false
	}
}

// DecidedByMachine is the canonical actor id stamped on automatic
// dedupe-scorer decisions (scenario 5 in spec §8).
const DecidedByMachine = "machine_dedupe_v1"

type CandidateMergeDecision struct {
	ID         string         `json:"id"`
	PrimaryID  string         `json:"primaryCandidateId"`
	SecondaryID string        `json:"secondaryCandidateId"`
	Decision   Decision       `json:"decision"`
	Confidence *float64       `json:"confidence,omitempty"`
	DecidedBy  string         `json:"decidedBy"`
	Rationale  *string        `json:"rationale,omitempty"`
	Metadata   map[string]any `json:"metadata"`
	CreatedAt  time.Time      `json:"createdAt"`
}

type CreateRequest struct {
	PrimaryID   string
	SecondaryID string
	Decision    Decision
	Confidence  *float64
	DecidedBy   string
	Rationale   *string
	Metadata    map[string]any
}

func New(req CreateRequest) CandidateMergeDecision {
	meta := req.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	return CandidateMergeDecision{
		ID:          uuid.NewString(),
		PrimaryID:   req.PrimaryID,
		SecondaryID: req.SecondaryID,
		Decision:    req.Decision,
		Confidence:  req.Confidence,
		DecidedBy:   req.DecidedBy,
		Rationale:   req.Rationale,
		Metadata:    meta,
		CreatedAt:   time.Now().UTC(),
	}
}
