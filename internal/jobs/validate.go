package jobs

import (
	"strings"

	"github.com/sourcejob/controlplane/internal/domain/jobcore"
)

// ValidateInputs performs minimal required-field validation on a
// decoded inputs payload for the given job kind.
func ValidateInputs(kind jobcore.Kind, payload any) error {
	if !kind.IsValid() {
		return ErrInvalidJobKind
	}

	trim := func(s string) string { return strings.TrimSpace(s) }

	switch kind {
	case jobcore.KindExtract:
		p, ok := payload.(ExtractInputs)
		if !ok {
			return ErrPayloadTypeMismatch
		}
		if trim(p.DiscoveryID) == "" {
			return ErrInvalidJobPayload
		}
		return nil

	case jobcore.KindResolveURLRedirects:
		p, ok := payload.(ResolveURLRedirectsInputs)
		if !ok {
			return ErrPayloadTypeMismatch
		}
		if trim(p.DiscoveryID) == "" || trim(p.URL) == "" {
			return ErrInvalidJobPayload
		}
		return nil

	case jobcore.KindCheckFreshness:
		p, ok := payload.(CheckFreshnessInputs)
		if !ok {
			return ErrPayloadTypeMismatch
		}
		if trim(p.PostingID) == "" {
			return ErrInvalidJobPayload
		}
		return nil

	case jobcore.KindDedupe:
		p, ok := payload.(DedupeInputs)
		if !ok {
			return ErrPayloadTypeMismatch
		}
		if trim(p.CandidateID) == "" {
			return ErrInvalidJobPayload
		}
		return nil

	case jobcore.KindEnrich:
		p, ok := payload.(EnrichInputs)
		if !ok {
			return ErrPayloadTypeMismatch
		}
		if trim(p.CandidateID) == "" {
			return ErrInvalidJobPayload
		}
		return nil

	default:
		return ErrInvalidJobKind
	}
}
