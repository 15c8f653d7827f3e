package jobs

import "github.com/sourcejob/controlplane/internal/urlnorm"

// ExtractInputs is the inputs_json shape for an `extract` job
// (§4.5): the only thing a connector needs is the discovery to fetch.
type ExtractInputs struct {
	DiscoveryID string `json:"discovery_id"`
}

// ResolveURLRedirectsInputs carries a snapshot of the discovery's URL
// state and the override set in force at enqueue time; claim()
// overlays the current override set before handing this to a module
// (§4.6.2), so a module should trust the overlaid inputs over any it
// cached locally.
type ResolveURLRedirectsInputs struct {
	DiscoveryID   string             `json:"discovery_id"`
	URL           string             `json:"url"`
	NormalizedURL string             `json:"normalized_url"`
	CanonicalHash string             `json:"canonical_hash"`
	Overrides     []urlnorm.Override `json:"overrides"`
}

// CheckFreshnessInputs is the inputs_json shape for a `check_freshness`
// job (§4.6.5).
type CheckFreshnessInputs struct {
	PostingID         string  `json:"posting_id"`
	PostingStatus     string  `json:"posting_status"`
	PostingUpdatedAt  string  `json:"posting_updated_at"`
	StaleAfterHours   float64 `json:"stale_after_hours"`
	ArchiveAfterHours float64 `json:"archive_after_hours"`
}

// DedupeInputs and EnrichInputs back the two job kinds the core engine
// never enqueues itself (dedupe runs synchronously inside submit_result
// via the Dedupe Scorer) but that connector/processor modules may use
// as an extension point against an already-materialized candidate.
type DedupeInputs struct {
	CandidateID string `json:"candidate_id"`
}

type EnrichInputs struct {
	CandidateID string `json:"candidate_id"`
}
