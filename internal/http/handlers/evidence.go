package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sourcejob/controlplane/internal/actorctx"
	domevidence "github.com/sourcejob/controlplane/internal/domain/evidence"
	"github.com/sourcejob/controlplane/internal/ingest"
)

type EvidenceCapturer interface {
	Capture(ctx context.Context, req domevidence.CreateRequest, actorModuleID string) (ingest.CaptureResult, error)
}

type EvidenceHandler struct {
	capturer EvidenceCapturer
}

func NewEvidenceHandler(capturer EvidenceCapturer) *EvidenceHandler {
	return &EvidenceHandler{capturer: capturer}
}

type createEvidenceRequest struct {
	DiscoveryID *string        `json:"discovery_id"`
	Kind        string         `json:"kind" binding:"required"`
	URI         string         `json:"uri" binding:"required"`
	ContentHash string         `json:"content_hash" binding:"required"`
	CapturedAt  time.Time      `json:"captured_at"`
	ContentType *string        `json:"content_type"`
	ByteSize    *int64         `json:"byte_size"`
	Metadata    map[string]any `json:"metadata"`
}

// Create implements `POST /evidence` (§6): record a captured artifact,
// deduped by (discovery_id, content_hash).
func (h *EvidenceHandler) Create(ctx *gin.Context) {
	var req createEvidenceRequest
	if !BindJSON(ctx, &req) {
		return
	}

	moduleID, _ := actorctx.SubjectFrom(ctx.Request.Context())

	result, err := h.capturer.Capture(ctx.Request.Context(), domevidence.CreateRequest{
		DiscoveryID: req.DiscoveryID,
		Kind:        domevidence.Kind(req.Kind),
		URI:         req.URI,
		ContentHash: req.ContentHash,
		CapturedAt:  req.CapturedAt,
		ContentType: req.ContentType,
		ByteSize:    req.ByteSize,
		Metadata:    req.Metadata,
	}, moduleID)
	if err != nil {
		RespondAppError(ctx, err)
		return
	}

	ctx.JSON(http.StatusAccepted, gin.H{
		"evidence_id": result.Evidence.ID,
	})
}
