package dedupe

import "testing"

func TestEvaluateMergePolicyNoExisting(t *testing.T) {
	result := EvaluateMergePolicy(CandidateSnapshot{}, nil, PolicyParams{})
	if result.Decision != DecisionNone {
		t.Fatalf("got %s, want none", result.Decision)
	}
}

func TestEvaluateMergePolicyAutoMergeOnHashMatch(t *testing.T) {
	// Hash (0.65) + title (0.45) + organization (0.25) caps at 0.9999,
	// above the 0.93 auto-merge threshold; a hash match alone is 0.65.
	incoming := CandidateSnapshot{CandidateID: "new", CanonicalHash: "abc", Title: "Biostatistics", OrganizationName: "Example University"}
	existing := []CandidateSnapshot{{
		CandidateID:      "old",
		CanonicalHash:    "abc",
		Title:            "Biostatistics",
		OrganizationName: "Example University",
		HasPosting:       true,
	}}

	result := EvaluateMergePolicy(incoming, existing, PolicyParams{})
	if result.Decision != DecisionAutoMerged {
		t.Fatalf("got %s, want auto_merged", result.Decision)
	}
}

func TestEvaluateMergePolicyNoAutoMergeWithoutPosting(t *testing.T) {
	incoming := CandidateSnapshot{CandidateID: "new", CanonicalHash: "abc", Title: "Biostatistics", OrganizationName: "Example University"}
	existing := []CandidateSnapshot{{
		CandidateID:      "old",
		CanonicalHash:    "abc",
		Title:            "Biostatistics",
		OrganizationName: "Example University",
		HasPosting:       false,
	}}

	result := EvaluateMergePolicy(incoming, existing, PolicyParams{})
	if result.Decision != DecisionNeedsReview {
		t.Fatalf("got %s, want needs_review", result.Decision)
	}
}

func TestEvaluateMergePolicyOrganizationMismatchFlagged(t *testing.T) {
	incoming := CandidateSnapshot{
		CandidateID:      "new",
		CanonicalHash:    "abc",
		OrganizationName: "Example University",
	}
	existing := []CandidateSnapshot{{
		CandidateID:      "old",
		CanonicalHash:    "abc",
		OrganizationName: "Totally Different Org",
		HasPosting:       true,
	}}

	result := EvaluateMergePolicy(incoming, existing, PolicyParams{})
	if result.Decision != DecisionNeedsReview {
		t.Fatalf("got %s, want needs_review due to conflict", result.Decision)
	}
	found := false
	for _, f := range result.RiskFlags {
		if f == FlagConflictOrganizationMismatch {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected %s flag, got %v", FlagConflictOrganizationMismatch, result.RiskFlags)
	}
}

func TestEvaluateMergePolicyRejectedWithStrongSignalBelowReview(t *testing.T) {
	incoming := CandidateSnapshot{CandidateID: "new", ApplicationURL: "https://x.test/apply"}
	existing := []CandidateSnapshot{{
		CandidateID:    "old",
		ApplicationURL: "https://x.test/apply",
		HasPosting:     false,
	}}

	result := EvaluateMergePolicy(incoming, existing, PolicyParams{})
	if result.Decision != DecisionRejected {
		t.Fatalf("got %s, want rejected (0.10 confidence, below review)", result.Decision)
	}
}

func TestJaccardEmptySetsScoreZero(t *testing.T) {
	if Jaccard(map[string]bool{}, map[string]bool{}) != 0 {
		t.Fatal("expected 0 for two empty sets")
	}
}
