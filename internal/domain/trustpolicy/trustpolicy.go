// Package trustpolicy models the per-source routing rule (§3
// SourceTrustPolicy) that the Trust-Policy Resolver reads to choose
// publish vs. review.
package trustpolicy

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/sourcejob/controlplane/internal/domain/module"
)

var (
	ErrNotFound       = errors.New("source trust policy not found")
	ErrInvalidRules   = errors.New("rules_json contains unsupported keys")
	ErrInvalidMinConf = errors.New("min_confidence must be within [0,1]")
)

// Rules is the strict schema named in spec §9 open question 2: only
// min_confidence is supported. A richer per-merge-decision routing
// schema exists in the source lineage but is explicitly rejected here.
type Rules struct {
	MinConfidence *float64 `json:"min_confidence,omitempty"`
}

// UnmarshalJSON decodes rules_json strictly: any key other than
// min_confidence, or a malformed value, fails with ErrInvalidRules.
func (r *Rules) UnmarshalJSON(data []byte) error {
	type plain Rules
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var p plain
	if err := dec.Decode(&p); err != nil {
		return ErrInvalidRules
	}
	*r = Rules(p)
	return nil
}

func (r Rules) Validate() error {
	if r.MinConfidence == nil {
		return nil
	}
	if *r.MinConfidence < 0 || *r.MinConfidence > 1 {
		return ErrInvalidMinConf
	}
	return nil
}

type Policy struct {
	SourceKey          string             `json:"sourceKey"`
	TrustLevel         module.TrustLevel  `json:"trustLevel"`
	AutoPublish        bool               `json:"autoPublish"`
	RequiresModeration bool               `json:"requiresModeration"`
	Rules              Rules              `json:"rules"`
	Enabled            bool               `json:"enabled"`
}

// DefaultForTrustLevel synthesizes a policy when no row matches, per
// §4.4: trusted/semi_trusted auto-publish without moderation, untrusted
// never does.
func DefaultForTrustLevel(level module.TrustLevel) Policy {
	switch level {
	case module.TrustTrusted, module.TrustSemiTrusted:
		return Policy{
			SourceKey:          "default:" + string(level),
			TrustLevel:         level,
			AutoPublish:        true,
			RequiresModeration: false,
			Enabled:            true,
		}
	default:
		return Policy{
			SourceKey:          "default:" + string(level),
			TrustLevel:         level,
			AutoPublish:        false,
			RequiresModeration: true,
			Enabled:            true,
		}
	}
}
