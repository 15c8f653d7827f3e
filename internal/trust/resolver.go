// Package trust implements the Trust-Policy Resolver (§4.4): it picks
// the effective SourceTrustPolicy for a discovery and turns
// (can_project_posting, policy, dedupe_confidence, risk_flags) into a
// publish decision with an audit reason token.
package trust

import (
	"context"
	"fmt"
	"strings"

	"github.com/sourcejob/controlplane/internal/domain/candidate"
	"github.com/sourcejob/controlplane/internal/domain/module"
	"github.com/sourcejob/controlplane/internal/domain/posting"
	"github.com/sourcejob/controlplane/internal/domain/trustpolicy"
)

// defaultMinConfidence is the §4.4 fallback min_confidence for
// trusted/semi_trusted sources absent a rules_json override.
const defaultMinConfidence = 0.72

// PolicyLookup resolves an enabled policy row by its source_key, as
// stored by the repository layer. Implementations must only return
// policies where Enabled is true.
type PolicyLookup interface {
	LookupPolicy(ctx context.Context, sourceKey string) (trustpolicy.Policy, bool, error)
}

// Resolve implements the §4.4 lookup order: source_key_hint, then
// module:{origin_module_id}, then default:{trust_level}. If nothing
// matches an enabled row, it synthesizes the trust-level default.
func Resolve(ctx context.Context, lookup PolicyLookup, sourceKeyHint, originModuleID string, trustLevel module.TrustLevel) (trustpolicy.Policy, error) {
	candidates := []string{}
	if sourceKeyHint != "" {
		candidates = append(candidates, sourceKeyHint)
	}
	if originModuleID != "" {
		candidates = append(candidates, fmt.Sprintf("module:%s", originModuleID))
	}

	for _, key := range candidates {
		policy, found, err := lookup.LookupPolicy(ctx, key)
		if err != nil {
			return trustpolicy.Policy{}, err
		}
		if found && policy.Enabled {
			return policy, nil
		}
	}

	defaultKey := fmt.Sprintf("default:%s", trustLevel)
	policy, found, err := lookup.LookupPolicy(ctx, defaultKey)
	if err != nil {
		return trustpolicy.Policy{}, err
	}
	if found && policy.Enabled {
		return policy, nil
	}

	return trustpolicy.DefaultForTrustLevel(trustLevel), nil
}

// Decision is the resolver's verdict: the derived candidate/posting
// state pair plus the audit reason token.
type Decision struct {
	Publish         bool
	CandidateState  candidate.State
	PostingStatus   posting.Status
	Reason          string
}

// Reason tokens named verbatim in §4.4.
const (
	ReasonTrustedAutoPublish       = "trusted_auto_publish"
	ReasonBelowMinConfidence       = "below_min_confidence"
	ReasonSemiTrustedConflictFlag  = "semi_trusted_conflict_flag"
	ReasonUntrustedRequiresModeration = "untrusted_requires_moderation"
	ReasonNotAutoPublishEnabled    = "not_auto_publish_enabled"
	ReasonRequiresModeration       = "requires_moderation"
	ReasonCannotProjectPosting     = "cannot_project_posting"
)

// PublishDecisionInput is the resolver's input tuple per §4.4.
type PublishDecisionInput struct {
	CanProjectPosting bool
	Policy            trustpolicy.Policy
	DedupeConfidence  *float64
	RiskFlags         []string
}

// DecidePublish implements the §4.4 publish-decision table.
func DecidePublish(in PublishDecisionInput) Decision {
	if !in.CanProjectPosting {
		return notPublished(ReasonCannotProjectPosting)
	}

	minConfidence := effectiveMinConfidence(in.Policy)
	meetsConfidence := minConfidence == nil || (in.DedupeConfidence != nil && *in.DedupeConfidence >= *minConfidence)
	hasConflictFlag := hasConflict(in.RiskFlags)

	switch in.Policy.TrustLevel {
	case module.TrustTrusted:
		if in.Policy.AutoPublish && !in.Policy.RequiresModeration && meetsConfidence {
			return published(ReasonTrustedAutoPublish)
		}
		if !meetsConfidence {
			return notPublished(ReasonBelowMinConfidence)
		}
		if in.Policy.RequiresModeration {
			return notPublished(ReasonRequiresModeration)
		}
		return notPublished(ReasonNotAutoPublishEnabled)

	case module.TrustSemiTrusted:
		if in.Policy.AutoPublish && !in.Policy.RequiresModeration && meetsConfidence && !hasConflictFlag {
			return published(ReasonTrustedAutoPublish)
		}
		if hasConflictFlag {
			return notPublished(ReasonSemiTrustedConflictFlag)
		}
		if !meetsConfidence {
			return notPublished(ReasonBelowMinConfidence)
		}
		if in.Policy.RequiresModeration {
			return notPublished(ReasonRequiresModeration)
		}
		return notPublished(ReasonNotAutoPublishEnabled)

	default: // untrusted
		return notPublished(ReasonUntrustedRequiresModeration)
	}
}

// effectiveMinConfidence applies the §4.4 derivation: 0.72 for
// trusted/semi_trusted, none for untrusted, overridden by
// rules_json.min_confidence when present.
func effectiveMinConfidence(policy trustpolicy.Policy) *float64 {
	if policy.Rules.MinConfidence != nil {
		return policy.Rules.MinConfidence
	}
	switch policy.TrustLevel {
	case module.TrustTrusted, module.TrustSemiTrusted:
		v := defaultMinConfidence
		return &v
	default:
		return nil
	}
}

func hasConflict(flags []string) bool {
	for _, f := range flags {
		if strings.Contains(f, "conflict") {
			return true
		}
	}
	return false
}

func published(reason string) Decision {
	return Decision{
		Publish:        true,
		CandidateState: candidate.StatePublished,
		PostingStatus:  posting.StatusActive,
		Reason:         reason,
	}
}

func notPublished(reason string) Decision {
	return Decision{
		Publish:        false,
		CandidateState: candidate.StateNeedsReview,
		PostingStatus:  posting.StatusArchived,
		Reason:         reason,
	}
}
