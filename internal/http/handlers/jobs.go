package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sourcejob/controlplane/internal/actorctx"
	"github.com/sourcejob/controlplane/internal/domain/jobcore"
)

// JobsEngine is the narrow interface this handler needs from
// internal/jobqueue.Engine.
type JobsEngine interface {
	ListQueued(ctx context.Context, limit int) ([]jobcore.Job, error)
	Claim(ctx context.Context, jobID, moduleID string, leaseSeconds int) (jobcore.Job, error)
	SubmitResult(ctx context.Context, jobID, moduleID string, requested jobcore.Status, resultJSON, errorJSON json.RawMessage) (jobcore.Job, error)
	ReapExpired(ctx context.Context, limit int, actorID string) ([]string, error)
	EnqueueDueFreshness(ctx context.Context, limit int, actorID string) ([]string, error)
}

type JobsHandler struct {
	engine JobsEngine
}

func NewJobsHandler(engine JobsEngine) *JobsHandler {
	return &JobsHandler{engine: engine}
}

// List implements `GET /jobs?limit` (§6): the advisory, non-locking
// queued view.
func (h *JobsHandler) List(ctx *gin.Context) {
	limit := parseInt(ctx.Query("limit"), 50)
	jobsOut, err := h.engine.ListQueued(ctx.Request.Context(), limit)
	if err != nil {
		RespondAppError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"items": jobsOut})
}

type claimJobRequest struct {
	LeaseSeconds int `json:"lease_seconds"`
}

// Claim implements `POST /jobs/{id}/claim` (§6).
func (h *JobsHandler) Claim(ctx *gin.Context) {
	jobID := ctx.Param("id")
	var req claimJobRequest
	if ctx.Request.ContentLength != 0 {
		if !BindJSON(ctx, &req) {
			return
		}
	}

	moduleID, ok := actorctx.SubjectFrom(ctx.Request.Context())
	if !ok {
		RespondUnauthorized(ctx, "missing_principal", "request has no resolved principal")
		return
	}

	j, err := h.engine.Claim(ctx.Request.Context(), jobID, moduleID, req.LeaseSeconds)
	if err != nil {
		RespondAppError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, j)
}

type submitResultRequest struct {
	Status     string          `json:"status" binding:"required"`
	ResultJSON json.RawMessage `json:"result_json"`
	ErrorJSON  json.RawMessage `json:"error_json"`
}

// SubmitResult implements `POST /jobs/{id}/result` (§6).
func (h *JobsHandler) SubmitResult(ctx *gin.Context) {
	jobID := ctx.Param("id")
	var req submitResultRequest
	if !BindJSON(ctx, &req) {
		return
	}

	moduleID, ok := actorctx.SubjectFrom(ctx.Request.Context())
	if !ok {
		RespondUnauthorized(ctx, "missing_principal", "request has no resolved principal")
		return
	}

	j, err := h.engine.SubmitResult(ctx.Request.Context(), jobID, moduleID, jobcore.Status(req.Status), req.ResultJSON, req.ErrorJSON)
	if err != nil {
		RespondAppError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, j)
}

// ReapExpired implements `POST /jobs/reap-expired?limit` (§6).
func (h *JobsHandler) ReapExpired(ctx *gin.Context) {
	limit := parseInt(ctx.Query("limit"), 50)
	actorID, _ := actorctx.SubjectFrom(ctx.Request.Context())

	requeued, err := h.engine.ReapExpired(ctx.Request.Context(), limit, actorID)
	if err != nil {
		RespondAppError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"requeued": len(requeued), "job_ids": requeued})
}

// EnqueueDueFreshness implements `POST /jobs/enqueue-freshness?limit`
// (§6): machine or admin.
func (h *JobsHandler) EnqueueDueFreshness(ctx *gin.Context) {
	limit := parseInt(ctx.Query("limit"), 50)
	actorID, _ := actorctx.SubjectFrom(ctx.Request.Context())

	enqueued, err := h.engine.EnqueueDueFreshness(ctx.Request.Context(), limit, actorID)
	if err != nil {
		RespondAppError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"enqueued": len(enqueued), "job_ids": enqueued})
}
