package jobs

import (
	"encoding/json"

	"github.com/sourcejob/controlplane/internal/domain/jobcore"
)

// ToJSONRaw marshals any inputs/result payload into the json.RawMessage
// shape jobcore.Job stores it as.
func ToJSONRaw(payload any) (json.RawMessage, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}

// inputsZeroValue returns the zero value of the inputs type for a
// given job kind, for EncodeInputs's type check.
func inputsZeroValue(kind jobcore.Kind) any {
	switch kind {
	case jobcore.KindExtract:
		return ExtractInputs{}
	case jobcore.KindResolveURLRedirects:
		return ResolveURLRedirectsInputs{}
	case jobcore.KindCheckFreshness:
		return CheckFreshnessInputs{}
	case jobcore.KindDedupe:
		return DedupeInputs{}
	case jobcore.KindEnrich:
		return EnrichInputs{}
	default:
		return nil
	}
}
