package dedupe

import "strings"

const (
	DefaultAutoMergeThreshold = 0.93
	DefaultReviewThreshold    = 0.72
	DefaultAmbiguityBand      = 0.03
)

type Decision string

const (
	DecisionAutoMerged  Decision = "auto_merged"
	DecisionNeedsReview Decision = "needs_review"
	DecisionRejected    Decision = "rejected"
	DecisionNone        Decision = "none"
)

// Risk/conflict flag tokens, named directly by §4.2 step 4.
const (
	FlagConflictMultipleCloseMatches  = "conflict_multiple_close_matches"
	FlagManualReviewLowSignal         = "manual_review_low_signal"
	FlagConflictHashMismatch          = "conflict_hash_mismatch"
	FlagConflictOrganizationMismatch  = "conflict_organization_mismatch"
	FlagConflictTitleMismatch         = "conflict_title_mismatch"
	FlagConflictApplicationURLMismatch = "conflict_application_url_mismatch"
)

// PolicyParams lets callers override the three tunables; zero values
// fall back to the §4.2 defaults.
type PolicyParams struct {
	AutoMergeThreshold float64
	ReviewThreshold    float64
	AmbiguityBand      float64
}

func (p PolicyParams) withDefaults() PolicyParams {
	if p.AutoMergeThreshold == 0 {
		p.AutoMergeThreshold = DefaultAutoMergeThreshold
	}
	if p.ReviewThreshold == 0 {
		p.ReviewThreshold = DefaultReviewThreshold
	}
	if p.AmbiguityBand == 0 {
		p.AmbiguityBand = DefaultAmbiguityBand
	}
	return p
}

// PolicyResult is what evaluate_merge_policy returns.
type PolicyResult struct {
	Decision   Decision
	Best       *Score
	Second     *Score
	RiskFlags  []string
}

// EvaluateMergePolicy implements §4.2's evaluate_merge_policy: rank the
// existing snapshots against the incoming one, flag conflicts/ambiguity,
// then decide auto_merged/needs_review/rejected/none.
func EvaluateMergePolicy(incoming CandidateSnapshot, existing []CandidateSnapshot, params PolicyParams) PolicyResult {
	params = params.withDefaults()

	if len(existing) == 0 {
		return PolicyResult{Decision: DecisionNone}
	}

	scores := make([]Score, 0, len(existing))
	byID := map[string]CandidateSnapshot{}
	for _, ex := range existing {
		scores = append(scores, EvaluatePair(incoming, ex))
		byID[ex.CandidateID] = ex
	}
	sortScores(scores)

	best := scores[0]
	var second *Score
	if len(scores) > 1 {
		second = &scores[1]
	}

	var flags []string

	if second != nil && absDiff(best.Confidence, second.Confidence) <= params.AmbiguityBand && second.Confidence >= params.ReviewThreshold {
		flags = append(flags, FlagConflictMultipleCloseMatches)
	}

	if !best.HasStrongSignal && best.Confidence >= params.ReviewThreshold {
		flags = append(flags, FlagManualReviewLowSignal)
	}

	bestSnapshot := byID[best.CandidateID]
	const mismatchSimilarityFloor = 0.25
	if best.HasStrongSignal {
		if fieldConflict(hasSignal(best.StrongSignals, "canonical_hash"), incoming.CanonicalHash == "", bestSnapshot.CanonicalHash == "") {
			flags = append(flags, FlagConflictHashMismatch)
		}
		if incoming.OrganizationName != "" && bestSnapshot.OrganizationName != "" && best.OrgSimilarity < mismatchSimilarityFloor {
			flags = append(flags, FlagConflictOrganizationMismatch)
		}
		if incoming.Title != "" && bestSnapshot.Title != "" && best.TitleSimilarity < mismatchSimilarityFloor {
			flags = append(flags, FlagConflictTitleMismatch)
		}
		if fieldConflict(hasSignal(best.StrongSignals, "application_url"), incoming.ApplicationURL == "", bestSnapshot.ApplicationURL == "") {
			flags = append(flags, FlagConflictApplicationURLMismatch)
		}
	}

	decision := decide(best, flags, params)

	return PolicyResult{
		Decision:  decision,
		Best:      &best,
		Second:    second,
		RiskFlags: flags,
	}
}

func decide(best Score, flags []string, params PolicyParams) Decision {
	hasConflict := false
	for _, f := range flags {
		if strings.HasPrefix(f, "conflict_") {
			hasConflict = true
			break
		}
	}

	switch {
	case best.Confidence >= params.AutoMergeThreshold && best.HasStrongSignal && best.HasPosting && !hasConflict:
		return DecisionAutoMerged
	case best.Confidence >= params.ReviewThreshold || hasConflict:
		return DecisionNeedsReview
	case best.HasStrongSignal:
		return DecisionRejected
	default:
		return DecisionNone
	}
}

func hasSignal(signals []string, name string) bool {
	for _, s := range signals {
		if s == name {
			return true
		}
	}
	return false
}

func absDiff(a, b float64) float64 {
	if a > b {
		return a - b
	}
	return b - a
}
