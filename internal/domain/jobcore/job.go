// Package jobcore models the leased work-queue entity (§3 Job) that the
// job queue engine claims, executes, and retires. Typed input/result
// payload contracts live in internal/jobs; this package owns the row
// shape, its closed enums, and the invariants the queue must preserve.
package jobcore

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("job not found")
	ErrInvalidKind   = errors.New("invalid job kind")
	ErrInvalidStatus = errors.New("invalid job status")
)

type Kind string

const (
	KindExtract              Kind = "extract"
	KindDedupe               Kind = "dedupe"
	KindEnrich               Kind = "enrich"
	KindCheckFreshness       Kind = "check_freshness"
	KindResolveURLRedirects  Kind = "resolve_url_redirects"
)

func (k Kind) IsValid() bool {
	switch k {
	case KindExtract, KindDedupe, KindEnrich, KindCheckFreshness, KindResolveURLRedirects:
		return true
	default:
		return false
	}
}

type Status string

const (
	StatusQueued     Status = "queued"
	StatusClaimed    Status = "claimed"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
	StatusDeadLetter Status = "dead_letter"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusQueued, StatusClaimed, StatusDone, StatusFailed, StatusDeadLetter:
		return true
	default:
		return false
	}
}

// TargetType names the entity kind a job operates against.
type TargetType string

const (
	TargetDiscovery TargetType = "discovery"
	TargetPosting   TargetType = "posting"
	TargetCandidate TargetType = "candidate"
)

// Job mirrors the §3 data model exactly: lock fields are present iff
// status=claimed (P2), attempt is monotonically non-decreasing (P1).
type Job struct {
	ID               string          `json:"id"`
	Kind             Kind            `json:"kind"`
	TargetType       TargetType      `json:"targetType"`
	TargetID         *string         `json:"targetId,omitempty"`
	InputsJSON       json.RawMessage `json:"inputsJson"`
	Status           Status          `json:"status"`
	Attempt          int             `json:"attempt"`
	LockedByModuleID *string         `json:"lockedByModuleId,omitempty"`
	LockedAt         *time.Time      `json:"lockedAt,omitempty"`
	LeaseExpiresAt   *time.Time      `json:"leaseExpiresAt,omitempty"`
	NextRunAt        time.Time       `json:"nextRunAt"`
	ResultJSON       json.RawMessage `json:"resultJson,omitempty"`
	ErrorJSON        json.RawMessage `json:"errorJson,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

type CreateRequest struct {
	Kind       Kind
	TargetType TargetType
	TargetID   *string
	InputsJSON json.RawMessage
	NextRunAt  time.Time
}

func New(req CreateRequest) (Job, error) {
	if !req.Kind.IsValid() {
		return Job{}, ErrInvalidKind
	}

	now := time.Now().UTC()
	nextRunAt := req.NextRunAt
	if nextRunAt.IsZero() {
		nextRunAt = now
	}

	return Job{
		ID:         uuid.NewString(),
		Kind:       req.Kind,
		TargetType: req.TargetType,
		TargetID:   req.TargetID,
		InputsJSON: req.InputsJSON,
		Status:     StatusQueued,
		Attempt:    0,
		NextRunAt:  nextRunAt,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// IsLeaseValid checks P2's lease-exclusivity invariant for a claimed job.
func (j Job) IsLeaseValid() bool {
	if j.Status != StatusClaimed {
		return j.LockedByModuleID == nil && j.LockedAt == nil && j.LeaseExpiresAt == nil
	}
	return j.LockedByModuleID != nil && j.LockedAt != nil && j.LeaseExpiresAt != nil &&
		j.LeaseExpiresAt.After(*j.LockedAt)
}
