package jobs

// PostingProjectionPayload is the set of posting-shaped fields an
// extract result can carry, whether nested under "posting" or
// top-level on the result (§6 wire contract, §9 open question 3).
type PostingProjectionPayload struct {
	Title            *string  `json:"title,omitempty"`
	OrganizationName *string  `json:"organization_name,omitempty"`
	CanonicalURL     *string  `json:"canonical_url,omitempty"`
	URL              *string  `json:"url,omitempty"`
	NormalizedURL    *string  `json:"normalized_url,omitempty"`
	CanonicalHash    *string  `json:"canonical_hash,omitempty"`
	Sector           *string  `json:"sector,omitempty"`
	DegreeLevel      *string  `json:"degree_level,omitempty"`
	OpportunityKind  *string  `json:"opportunity_kind,omitempty"`
	Country          *string  `json:"country,omitempty"`
	Region           *string  `json:"region,omitempty"`
	City             *string  `json:"city,omitempty"`
	Remote           *bool    `json:"remote,omitempty"`
	Tags             []string `json:"tags,omitempty"`
	Areas            []string `json:"areas,omitempty"`
	DescriptionText  *string  `json:"description_text,omitempty"`
	ApplicationURL   *string  `json:"application_url,omitempty"`
	Deadline         *string  `json:"deadline,omitempty"`
	SourceRefs       []any    `json:"source_refs,omitempty"`
}

// ExtractResult is the result_json shape for a successful `extract`
// job (§4.7, §9 open question 3). The projection engine accepts the
// posting-shaped fields either nested under "posting" or flattened at
// the top level; ResolvePosting merges the two, with the nested object
// taking precedence field-by-field.
type ExtractResult struct {
	DedupeConfidence *float64                  `json:"dedupe_confidence,omitempty"`
	RiskFlags        []string                  `json:"risk_flags,omitempty"`
	SourceKey        *string                   `json:"source_key,omitempty"`
	CandidateState   *string                   `json:"candidate_state,omitempty"`
	Posting          *PostingProjectionPayload `json:"posting,omitempty"`

	PostingProjectionPayload
}

// ResolvePosting merges the flattened top-level posting fields with
// the nested "posting" object, when present, per §9 open question 3:
// the nested object is authoritative field-by-field, and any field it
// leaves nil falls back to the flattened value.
func (r ExtractResult) ResolvePosting() PostingProjectionPayload {
	if r.Posting == nil {
		return r.PostingProjectionPayload
	}
	merged := r.PostingProjectionPayload
	overlay := *r.Posting

	if overlay.Title != nil {
		merged.Title = overlay.Title
	}
	if overlay.OrganizationName != nil {
		merged.OrganizationName = overlay.OrganizationName
	}
	if overlay.CanonicalURL != nil {
		merged.CanonicalURL = overlay.CanonicalURL
	}
	if overlay.URL != nil {
		merged.URL = overlay.URL
	}
	if overlay.NormalizedURL != nil {
		merged.NormalizedURL = overlay.NormalizedURL
	}
	if overlay.CanonicalHash != nil {
		merged.CanonicalHash = overlay.CanonicalHash
	}
	if overlay.Sector != nil {
		merged.Sector = overlay.Sector
	}
	if overlay.DegreeLevel != nil {
		merged.DegreeLevel = overlay.DegreeLevel
	}
	if overlay.OpportunityKind != nil {
		merged.OpportunityKind = overlay.OpportunityKind
	}
	if overlay.Country != nil {
		merged.Country = overlay.Country
	}
	if overlay.Region != nil {
		merged.Region = overlay.Region
	}
	if overlay.City != nil {
		merged.City = overlay.City
	}
	if overlay.Remote != nil {
		merged.Remote = overlay.Remote
	}
	if overlay.Tags != nil {
		merged.Tags = overlay.Tags
	}
	if overlay.Areas != nil {
		merged.Areas = overlay.Areas
	}
	if overlay.DescriptionText != nil {
		merged.DescriptionText = overlay.DescriptionText
	}
	if overlay.ApplicationURL != nil {
		merged.ApplicationURL = overlay.ApplicationURL
	}
	if overlay.Deadline != nil {
		merged.Deadline = overlay.Deadline
	}
	if overlay.SourceRefs != nil {
		merged.SourceRefs = overlay.SourceRefs
	}
	return merged
}

// HasProjectionSignal reports §4.7 step 2's has_projection_signal: the
// nested posting object was present, or a top-level projection field
// other than url, sector, degree_level, opportunity_kind and remote
// carries a value.
func (r ExtractResult) HasProjectionSignal() bool {
	if r.Posting != nil {
		return true
	}
	p := r.PostingProjectionPayload
	return p.Title != nil || p.OrganizationName != nil || p.CanonicalURL != nil ||
		p.NormalizedURL != nil || p.CanonicalHash != nil || len(p.Tags) > 0 ||
		len(p.Areas) > 0 || p.Country != nil || p.Region != nil || p.City != nil ||
		p.DescriptionText != nil || p.ApplicationURL != nil || p.Deadline != nil ||
		len(p.SourceRefs) > 0
}

// CheckFreshnessResult is the result_json shape for a `check_freshness`
// job (§4.6.3): the connector's verdict on what the posting's status
// should become.
type CheckFreshnessResult struct {
	RecommendedStatus string `json:"recommended_status"`
}

// ResolveURLRedirectsResult is the result_json shape for a
// `resolve_url_redirects` job (§4.6.3): the resolved URL state after
// following redirects, if it differs from what was enqueued.
type ResolveURLRedirectsResult struct {
	URL           string `json:"url,omitempty"`
	NormalizedURL string `json:"normalized_url,omitempty"`
	CanonicalHash string `json:"canonical_hash,omitempty"`
}
