package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sourcejob/controlplane/internal/actorctx"
	"github.com/sourcejob/controlplane/internal/auth"
	"github.com/sourcejob/controlplane/internal/ingest"
)

// DiscoveryIngestor is the narrow interface this handler needs from
// internal/ingest.Ingestor.
type DiscoveryIngestor interface {
	Ingest(ctx context.Context, req ingest.Request) (ingest.Result, error)
}

type DiscoveriesHandler struct {
	ingestor DiscoveryIngestor
}

func NewDiscoveriesHandler(ingestor DiscoveryIngestor) *DiscoveriesHandler {
	return &DiscoveriesHandler{ingestor: ingestor}
}

type createDiscoveryRequest struct {
	OriginModuleID string         `json:"origin_module_id" binding:"required"`
	ExternalID     *string        `json:"external_id"`
	DiscoveredAt   time.Time      `json:"discovered_at" binding:"required"`
	URL            *string        `json:"url"`
	TitleHint      *string        `json:"title_hint"`
	TextHint       *string        `json:"text_hint"`
	Metadata       map[string]any `json:"metadata"`
}

// Create implements `POST /discoveries` (§6): a machine principal's
// report of an observed URL. origin_module_id must equal the
// authenticated principal's subject — a connector cannot ingest on
// another module's behalf.
func (h *DiscoveriesHandler) Create(ctx *gin.Context) {
	var req createDiscoveryRequest
	if !BindJSON(ctx, &req) {
		return
	}

	principal, ok := actorctx.PrincipalFrom(ctx.Request.Context())
	if !ok {
		RespondUnauthorized(ctx, "missing_principal", "request has no resolved principal")
		return
	}
	machine, ok := principal.(auth.Machine)
	if !ok || req.OriginModuleID != machine.ModuleID {
		RespondForbidden(ctx, "origin_module_mismatch", "origin_module_id must equal the authenticated module id")
		return
	}

	result, err := h.ingestor.Ingest(ctx.Request.Context(), ingest.Request{
		OriginModuleID: req.OriginModuleID,
		ExternalID:     req.ExternalID,
		DiscoveredAt:   req.DiscoveredAt,
		URL:            req.URL,
		TitleHint:      req.TitleHint,
		TextHint:       req.TextHint,
		Metadata:       req.Metadata,
	})
	if err != nil {
		RespondAppError(ctx, err)
		return
	}

	ctx.JSON(http.StatusAccepted, gin.H{
		"discovery_id":   result.Discovery.ID,
		"normalized_url": derefOr(result.Discovery.NormalizedURL, ""),
		"canonical_hash": derefOr(result.Discovery.CanonicalHash, ""),
	})
}
