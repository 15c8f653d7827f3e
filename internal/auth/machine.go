package auth

import (
	"context"
	"errors"

	"github.com/sourcejob/controlplane/internal/apperr"
	"github.com/sourcejob/controlplane/internal/domain/module"
	"github.com/sourcejob/controlplane/internal/repo/postgres"
)

// MachineVerifier resolves a Machine principal from the X-Module-Id +
// X-API-Key pair §6 names, by constant-time hash compare in
// module_credentials (the comparison itself lives in the SQL equality
// predicate over the stored SHA-256 digest, never over the raw key).
type MachineVerifier struct {
	modules *postgres.ModulesRepo
}

func NewMachineVerifier(modules *postgres.ModulesRepo) *MachineVerifier {
	return &MachineVerifier{modules: modules}
}

// Verify looks up the module owning apiKey's hash and checks it matches
// the presented moduleID, so a valid key for module A can't be replayed
// against module B's X-Module-Id header.
func (v *MachineVerifier) Verify(ctx context.Context, moduleID, apiKey string) (Machine, error) {
	if moduleID == "" || apiKey == "" {
		return Machine{}, apperr.Unauthorized("missing_module_credentials", "X-Module-Id and X-API-Key are required")
	}

	m, err := v.modules.AuthenticateByAPIKeyHash(ctx, module.HashAPIKey(apiKey))
	if err != nil {
		if errors.Is(err, module.ErrCredentialNotFound) {
			return Machine{}, apperr.Unauthorized("invalid_module_credentials", "unknown or revoked API key")
		}
		return Machine{}, apperr.Unavailable("module_lookup_failed", "could not verify module credentials")
	}
	if m.ModuleID != moduleID {
		return Machine{}, apperr.Unauthorized("module_id_mismatch", "API key does not belong to the presented module id")
	}

	return Machine{ModuleID: m.ModuleID, ModuleDBID: m.ID, Scopes: m.Scopes}, nil
}
