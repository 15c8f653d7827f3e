// Package module models a connector or processor attached to the control
// plane (§3 Module) — the principal machines authenticate as.
package module

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound           = errors.New("module not found")
	ErrCredentialNotFound = errors.New("module credential not found")
)

type Kind string

const (
	KindConnector Kind = "connector"
	KindProcessor Kind = "processor"
)

func (k Kind) IsValid() bool {
	switch k {
	case KindConnector, KindProcessor:
		return true
	default:
		return false
	}
}

type TrustLevel string

const (
	TrustTrusted     TrustLevel = "trusted"
	TrustSemiTrusted TrustLevel = "semi_trusted"
	TrustUntrusted   TrustLevel = "untrusted"
)

func (t TrustLevel) IsValid() bool {
	switch t {
	case TrustTrusted, TrustSemiTrusted, TrustUntrusted:
		return true
	default:
		return false
	}
}

type Module struct {
	ID         string     `json:"id"`
	ModuleID   string     `json:"moduleId"`
	Name       string     `json:"name"`
	Kind       Kind       `json:"kind"`
	Enabled    bool       `json:"enabled"`
	Scopes     []string   `json:"scopes"`
	TrustLevel TrustLevel `json:"trustLevel"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// HasScope reports whether the module is entitled to a given HTTP scope.
func (m Module) HasScope(scope string) bool {
	for _, s := range m.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

type CreateRequest struct {
	ModuleID   string
	Name       string
	Kind       Kind
	Scopes     []string
	TrustLevel TrustLevel
}

func New(req CreateRequest) Module {
	now := time.Now().UTC()
	scopes := req.Scopes
	if scopes == nil {
		scopes = []string{}
	}
	return Module{
		ID:         uuid.NewString(),
		ModuleID:   req.ModuleID,
		Name:       req.Name,
		Kind:       req.Kind,
		Enabled:    true,
		Scopes:     scopes,
		TrustLevel: req.TrustLevel,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Credential is the hashed API key a machine principal authenticates
// with (§6 "machines present X-Module-Id + X-API-Key").
type Credential struct {
	ID         string     `json:"id"`
	ModuleID   string     `json:"moduleId"`
	APIKeyHash string     `json:"-"`
	CreatedAt  time.Time  `json:"createdAt"`
	RevokedAt  *time.Time `json:"revokedAt,omitempty"`
}

func NewCredential(moduleID, apiKeyHash string) Credential {
	return Credential{
		ID:         uuid.NewString(),
		ModuleID:   moduleID,
		APIKeyHash: apiKeyHash,
		CreatedAt:  time.Now().UTC(),
	}
}

// HashAPIKey computes the SHA-256 hex digest stored in
// module_credentials.api_key_hash. Verification compares this digest
// with constant-time equality, never the raw key.
func HashAPIKey(rawKey string) string {
	sum := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(sum[:])
}
