// Package posting models the public, canonical opportunity record (§3
// Posting), unique by canonical_hash.
package posting

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound     = errors.New("posting not found")
	ErrInvalidStatus = errors.New("invalid posting status")
)

type Status string

const (
	StatusActive   Status = "active"
	StatusStale    Status = "stale"
	StatusArchived Status = "archived"
	StatusClosed   Status = "closed"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusActive, StatusStale, StatusArchived, StatusClosed:
		return true
	default:
		return false
	}
}

// SourceRef is one entry of the source_refs provenance list recorded on
// a posting (which discovery/module/trust decision produced this data).
type SourceRef struct {
	ModuleID  string    `json:"moduleId"`
	SourceKey string    `json:"sourceKey,omitempty"`
	At        time.Time `json:"at"`
}

type Posting struct {
	ID               string      `json:"id"`
	CandidateID      *string     `json:"candidateId,omitempty"`
	Title            string      `json:"title"`
	CanonicalURL     string      `json:"canonicalUrl"`
	NormalizedURL    string      `json:"normalizedUrl"`
	CanonicalHash    string      `json:"canonicalHash"`
	OrganizationName string      `json:"organizationName"`
	Sector           *string     `json:"sector,omitempty"`
	DegreeLevel      *string     `json:"degreeLevel,omitempty"`
	OpportunityKind  *string     `json:"opportunityKind,omitempty"`
	Country          *string     `json:"country,omitempty"`
	Region           *string     `json:"region,omitempty"`
	City             *string     `json:"city,omitempty"`
	Remote           bool        `json:"remote"`
	Tags             []string    `json:"tags"`
	Areas            []string    `json:"areas"`
	DescriptionText  *string     `json:"descriptionText,omitempty"`
	ApplicationURL   *string     `json:"applicationUrl,omitempty"`
	Deadline         *time.Time  `json:"deadline,omitempty"`
	SourceRefs       []SourceRef `json:"sourceRefs"`
	Status           Status      `json:"status"`
	PublishedAt      *time.Time  `json:"publishedAt,omitempty"`
	CreatedAt        time.Time   `json:"createdAt"`
	UpdatedAt        time.Time   `json:"updatedAt"`
}

// UpsertRequest is the shape the projection engine writes on
// `ON CONFLICT (canonical_hash) DO UPDATE`.
type UpsertRequest struct {
	CandidateID      *string
	Title            string
	CanonicalURL     string
	NormalizedURL    string
	CanonicalHash    string
	OrganizationName string
	Sector           *string
	DegreeLevel      *string
	OpportunityKind  *string
	Country          *string
	Region           *string
	City             *string
	Remote           bool
	Tags             []string
	Areas            []string
	DescriptionText  *string
	ApplicationURL   *string
	Deadline         *time.Time
	SourceRefs       []SourceRef
	Status           Status
}

func New(req UpsertRequest) Posting {
	now := time.Now().UTC()
	tags := req.Tags
	if tags == nil {
		tags = []string{}
	}
	areas := req.Areas
	if areas == nil {
		areas = []string{}
	}
	refs := req.SourceRefs
	if refs == nil {
		refs = []SourceRef{}
	}

	var publishedAt *time.Time
	if req.Status == StatusActive {
		publishedAt = &now
	}

	return Posting{
		ID:               uuid.NewString(),
		CandidateID:      req.CandidateID,
		Title:            req.Title,
		CanonicalURL:     req.CanonicalURL,
		NormalizedURL:    req.NormalizedURL,
		CanonicalHash:    req.CanonicalHash,
		OrganizationName: req.OrganizationName,
		Sector:           req.Sector,
		DegreeLevel:      req.DegreeLevel,
		OpportunityKind:  req.OpportunityKind,
		Country:          req.Country,
		Region:           req.Region,
		City:             req.City,
		Remote:           req.Remote,
		Tags:             tags,
		Areas:            areas,
		DescriptionText:  req.DescriptionText,
		ApplicationURL:   req.ApplicationURL,
		Deadline:         req.Deadline,
		SourceRefs:       refs,
		Status:           req.Status,
		PublishedAt:      publishedAt,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// ListFilter captures the public catalog read-query knobs named in §6.
// The query implementation itself is out of scope (§1); this struct is
// the thin boundary the read handler and repository share.
type ListFilter struct {
	Query            *string
	OrganizationName *string
	Country          *string
	Remote           *bool
	Status           *Status
	Tag              *string
	Sort             string // created_at|updated_at|deadline|published_at
	Ascending        bool
	Limit            int
	Offset           int
}
