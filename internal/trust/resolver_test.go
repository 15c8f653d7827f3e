package trust

import (
	"context"
	"testing"

	"github.com/sourcejob/controlplane/internal/domain/candidate"
	"github.com/sourcejob/controlplane/internal/domain/module"
	"github.com/sourcejob/controlplane/internal/domain/posting"
	"github.com/sourcejob/controlplane/internal/domain/trustpolicy"
)

type fakeLookup map[string]trustpolicy.Policy

func (f fakeLookup) LookupPolicy(ctx context.Context, sourceKey string) (trustpolicy.Policy, bool, error) {
	p, ok := f[sourceKey]
	return p, ok, nil
}

func TestResolvePrefersSourceKeyHint(t *testing.T) {
	lookup := fakeLookup{
		"feed:university-x": {SourceKey: "feed:university-x", TrustLevel: module.TrustTrusted, Enabled: true, AutoPublish: true},
		"module:mod-1":       {SourceKey: "module:mod-1", TrustLevel: module.TrustUntrusted, Enabled: true},
	}
	policy, err := Resolve(context.Background(), lookup, "feed:university-x", "mod-1", module.TrustSemiTrusted)
	if err != nil {
		t.Fatal(err)
	}
	if policy.SourceKey != "feed:university-x" {
		t.Fatalf("expected source_key_hint match, got %q", policy.SourceKey)
	}
}

func TestResolveFallsBackToModuleThenDefault(t *testing.T) {
	lookup := fakeLookup{}
	policy, err := Resolve(context.Background(), lookup, "", "mod-1", module.TrustUntrusted)
	if err != nil {
		t.Fatal(err)
	}
	if policy.AutoPublish || !policy.RequiresModeration {
		t.Fatalf("expected synthesized untrusted default, got %+v", policy)
	}
}

func TestDecidePublishTrustedAutoPublish(t *testing.T) {
	conf := 0.9
	decision := DecidePublish(PublishDecisionInput{
		CanProjectPosting: true,
		Policy: trustpolicy.Policy{
			TrustLevel:  module.TrustTrusted,
			AutoPublish: true,
		},
		DedupeConfidence: &conf,
	})
	if !decision.Publish || decision.Reason != ReasonTrustedAutoPublish {
		t.Fatalf("got %+v", decision)
	}
	if decision.CandidateState != candidate.StatePublished || decision.PostingStatus != posting.StatusActive {
		t.Fatalf("unexpected derived states: %+v", decision)
	}
}

func TestDecidePublishBelowMinConfidence(t *testing.T) {
	conf := 0.5
	decision := DecidePublish(PublishDecisionInput{
		CanProjectPosting: true,
		Policy: trustpolicy.Policy{
			TrustLevel:  module.TrustTrusted,
			AutoPublish: true,
		},
		DedupeConfidence: &conf,
	})
	if decision.Publish || decision.Reason != ReasonBelowMinConfidence {
		t.Fatalf("got %+v", decision)
	}
}

func TestDecidePublishSemiTrustedConflictFlagBlocks(t *testing.T) {
	conf := 0.95
	decision := DecidePublish(PublishDecisionInput{
		CanProjectPosting: true,
		Policy: trustpolicy.Policy{
			TrustLevel:  module.TrustSemiTrusted,
			AutoPublish: true,
		},
		DedupeConfidence: &conf,
		RiskFlags:        []string{"conflict_organization_mismatch"},
	})
	if decision.Publish || decision.Reason != ReasonSemiTrustedConflictFlag {
		t.Fatalf("got %+v", decision)
	}
}

func TestDecidePublishUntrustedNeverAutoPublishes(t *testing.T) {
	conf := 1.0
	decision := DecidePublish(PublishDecisionInput{
		CanProjectPosting: true,
		Policy: trustpolicy.Policy{
			TrustLevel:  module.TrustUntrusted,
			AutoPublish: true,
		},
		DedupeConfidence: &conf,
	})
	if decision.Publish || decision.Reason != ReasonUntrustedRequiresModeration {
		t.Fatalf("got %+v", decision)
	}
}

func TestDecidePublishCannotProjectPosting(t *testing.T) {
	decision := DecidePublish(PublishDecisionInput{CanProjectPosting: false})
	if decision.Publish || decision.Reason != ReasonCannotProjectPosting {
		t.Fatalf("got %+v", decision)
	}
}
