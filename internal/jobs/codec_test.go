package jobs

import (
	"testing"

	"github.com/sourcejob/controlplane/internal/domain/jobcore"
)

func TestEncodeDecodeExtractInputs(t *testing.T) {
	payload := ExtractInputs{DiscoveryID: "disc-1"}

	raw, err := EncodeInputs(jobcore.KindExtract, payload)
	if err != nil {
		t.Fatalf("EncodeInputs error: %v", err)
	}

	job := jobcore.Job{Kind: jobcore.KindExtract, InputsJSON: raw}
	decoded, err := DecodeInputs(job)
	if err != nil {
		t.Fatalf("DecodeInputs error: %v", err)
	}

	p, ok := decoded.(ExtractInputs)
	if !ok {
		t.Fatalf("expected ExtractInputs, got %T", decoded)
	}
	if p.DiscoveryID != payload.DiscoveryID {
		t.Fatalf("expected discovery_id %s, got %s", payload.DiscoveryID, p.DiscoveryID)
	}
}

func TestEncodeInputsTypeMismatch(t *testing.T) {
	_, err := EncodeInputs(jobcore.KindExtract, CheckFreshnessInputs{PostingID: "p1"})
	if err != ErrPayloadTypeMismatch {
		t.Fatalf("expected ErrPayloadTypeMismatch, got %v", err)
	}
}

func TestValidateInputsRequiredFields(t *testing.T) {
	if err := ValidateInputs(jobcore.KindExtract, ExtractInputs{}); err == nil {
		t.Fatal("expected error for empty discovery_id")
	}
}

func TestDecodeExtractResultNestedPostingWins(t *testing.T) {
	raw := []byte(`{
		"dedupe_confidence": 0.8,
		"title": "Flattened Title",
		"posting": {"title": "Nested Title", "organization_name": "Example U"}
	}`)

	result, err := DecodeExtractResult(raw)
	if err != nil {
		t.Fatalf("DecodeExtractResult error: %v", err)
	}

	resolved := result.ResolvePosting()
	if resolved.Title == nil || *resolved.Title != "Nested Title" {
		t.Fatalf("expected nested title to win, got %+v", resolved.Title)
	}
	if resolved.OrganizationName == nil || *resolved.OrganizationName != "Example U" {
		t.Fatalf("expected organization_name from nested posting, got %+v", resolved.OrganizationName)
	}
}

func TestDecodeExtractResultFlattenedFallback(t *testing.T) {
	raw := []byte(`{"title": "Flattened Title", "organization_name": "Example U"}`)

	result, err := DecodeExtractResult(raw)
	if err != nil {
		t.Fatalf("DecodeExtractResult error: %v", err)
	}

	resolved := result.ResolvePosting()
	if resolved.Title == nil || *resolved.Title != "Flattened Title" {
		t.Fatalf("expected flattened title, got %+v", resolved.Title)
	}
	if !result.HasProjectionSignal() {
		t.Fatal("expected projection signal from flattened title")
	}
}

func TestHasProjectionSignalFalseWhenNoSignal(t *testing.T) {
	result := ExtractResult{}
	if result.HasProjectionSignal() {
		t.Fatal("expected no projection signal for empty result")
	}
}
