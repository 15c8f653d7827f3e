package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/sourcejob/controlplane/internal/domain/jobcore"
)

// EncodeInputs marshals a typed inputs payload for the given job kind,
// rejecting payloads whose Go type doesn't match the kind's contract.
func EncodeInputs(kind jobcore.Kind, payload any) (json.RawMessage, error) {
	if !kind.IsValid() {
		return nil, ErrInvalidJobKind
	}
	if !sameShape(inputsZeroValue(kind), payload) {
		return nil, ErrPayloadTypeMismatch
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJobPayload, err)
	}
	return b, nil
}

// DecodeInputs unmarshals a job's inputs_json into the typed struct for
// its kind.
func DecodeInputs(j jobcore.Job) (any, error) {
	if !j.Kind.IsValid() {
		return nil, ErrInvalidJobKind
	}
	if len(j.InputsJSON) == 0 {
		return nil, ErrInvalidJobPayload
	}

	switch j.Kind {
	case jobcore.KindExtract:
		var p ExtractInputs
		if err := json.Unmarshal(j.InputsJSON, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidJobPayload, err)
		}
		return p, nil

	case jobcore.KindResolveURLRedirects:
		var p ResolveURLRedirectsInputs
		if err := json.Unmarshal(j.InputsJSON, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidJobPayload, err)
		}
		return p, nil

	case jobcore.KindCheckFreshness:
		var p CheckFreshnessInputs
		if err := json.Unmarshal(j.InputsJSON, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidJobPayload, err)
		}
		return p, nil

	case jobcore.KindDedupe:
		var p DedupeInputs
		if err := json.Unmarshal(j.InputsJSON, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidJobPayload, err)
		}
		return p, nil

	case jobcore.KindEnrich:
		var p EnrichInputs
		if err := json.Unmarshal(j.InputsJSON, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidJobPayload, err)
		}
		return p, nil

	default:
		return nil, ErrInvalidJobKind
	}
}

// DecodeExtractResult unmarshals an extract job's result_json,
// accepting both the nested-"posting" and flattened wire shapes (§9
// open question 3).
func DecodeExtractResult(resultJSON json.RawMessage) (ExtractResult, error) {
	var r ExtractResult
	if len(resultJSON) == 0 {
		return r, ErrInvalidJobPayload
	}
	if err := json.Unmarshal(resultJSON, &r); err != nil {
		return ExtractResult{}, fmt.Errorf("%w: %v", ErrInvalidJobPayload, err)
	}
	return r, nil
}

// DecodeCheckFreshnessResult unmarshals a check_freshness job's
// result_json.
func DecodeCheckFreshnessResult(resultJSON json.RawMessage) (CheckFreshnessResult, error) {
	var r CheckFreshnessResult
	if len(resultJSON) == 0 {
		return r, ErrInvalidJobPayload
	}
	if err := json.Unmarshal(resultJSON, &r); err != nil {
		return CheckFreshnessResult{}, fmt.Errorf("%w: %v", ErrInvalidJobPayload, err)
	}
	return r, nil
}

// DecodeResolveURLRedirectsResult unmarshals a resolve_url_redirects
// job's result_json.
func DecodeResolveURLRedirectsResult(resultJSON json.RawMessage) (ResolveURLRedirectsResult, error) {
	var r ResolveURLRedirectsResult
	if len(resultJSON) == 0 {
		return r, ErrInvalidJobPayload
	}
	if err := json.Unmarshal(resultJSON, &r); err != nil {
		return ResolveURLRedirectsResult{}, fmt.Errorf("%w: %v", ErrInvalidJobPayload, err)
	}
	return r, nil
}

func sameShape(zero, payload any) bool {
	if zero == nil || payload == nil {
		return false
	}
	switch payload.(type) {
	case ExtractInputs, *ExtractInputs:
		_, ok := zero.(ExtractInputs)
		return ok
	case ResolveURLRedirectsInputs, *ResolveURLRedirectsInputs:
		_, ok := zero.(ResolveURLRedirectsInputs)
		return ok
	case CheckFreshnessInputs, *CheckFreshnessInputs:
		_, ok := zero.(CheckFreshnessInputs)
		return ok
	case DedupeInputs, *DedupeInputs:
		_, ok := zero.(DedupeInputs)
		return ok
	case EnrichInputs, *EnrichInputs:
		_, ok := zero.(EnrichInputs)
		return ok
	default:
		return false
	}
}
