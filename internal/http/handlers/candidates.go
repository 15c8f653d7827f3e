package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sourcejob/controlplane/internal/actorctx"
	"github.com/sourcejob/controlplane/internal/domain/candidate"
	"github.com/sourcejob/controlplane/internal/domain/posting"
	"github.com/sourcejob/controlplane/internal/domain/provenance"
)

type CandidatesReader interface {
	GetByID(ctx context.Context, id string) (candidate.Candidate, error)
	List(ctx context.Context, f candidate.ListFilter) ([]candidate.Candidate, error)
	Facets(ctx context.Context) (candidate.Facets, error)
}

type CandidateEventsReader interface {
	ListByEntity(ctx context.Context, entityType, entityID string, limit int) ([]provenance.Event, error)
}

// CandidateModerator is the narrow slice of internal/moderation.Engine
// the candidate moderation routes need.
type CandidateModerator interface {
	UpdateCandidateState(ctx context.Context, candidateID string, toState candidate.State, actorUserID string, reason *string) (candidate.Candidate, error)
	OverrideCandidateState(ctx context.Context, candidateID string, toState candidate.State, toPostingStatus *posting.Status, actorUserID string, reason *string) (candidate.Candidate, error)
	MergeCandidates(ctx context.Context, primaryID, secondaryID, actorUserID string, reason *string) (candidate.Candidate, error)
}

type CandidatesHandler struct {
	repo   CandidatesReader
	events CandidateEventsReader
	engine CandidateModerator
}

func NewCandidatesHandler(repo CandidatesReader, events CandidateEventsReader, engine CandidateModerator) *CandidatesHandler {
	return &CandidatesHandler{repo: repo, events: events, engine: engine}
}

// List implements `GET /candidates` (§6): moderation queue read,
// filtered by state/risk flag.
func (h *CandidatesHandler) List(ctx *gin.Context) {
	f := candidate.ListFilter{
		Ascending: ctx.Query("order") == "asc",
		Limit:     parseInt(ctx.Query("limit"), 50),
		Offset:    parseInt(ctx.Query("offset"), 0),
	}
	if state := ctx.Query("state"); state != "" {
		s := candidate.State(state)
		f.State = &s
	}
	if flag := ctx.Query("risk_flag"); flag != "" {
		f.RiskFlag = &flag
	}

	items, err := h.repo.List(ctx.Request.Context(), f)
	if err != nil {
		RespondAppError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"items": items})
}

// GetByID implements `GET /candidates/{id}`.
func (h *CandidatesHandler) GetByID(ctx *gin.Context) {
	c, err := h.repo.GetByID(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		RespondAppError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, c)
}

// Facets implements `GET /candidates/facets` (§6): queue chip counts.
func (h *CandidatesHandler) Facets(ctx *gin.Context) {
	f, err := h.repo.Facets(ctx.Request.Context())
	if err != nil {
		RespondAppError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, f)
}

// Events implements `GET /candidates/{id}/events` (§6, §4.9): the
// candidate's provenance trail.
func (h *CandidatesHandler) Events(ctx *gin.Context) {
	limit := parseInt(ctx.Query("limit"), 100)
	events, err := h.events.ListByEntity(ctx.Request.Context(), "candidate", ctx.Param("id"), limit)
	if err != nil {
		RespondAppError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"items": events})
}

type patchCandidateStateRequest struct {
	State  string  `json:"state" binding:"required"`
	Reason *string `json:"reason"`
}

// Patch implements `PATCH /candidates/{id}` (§6, §4.8's
// update_candidate_state): guarded transition, cascading to a linked
// posting.
func (h *CandidatesHandler) Patch(ctx *gin.Context) {
	var req patchCandidateStateRequest
	if !BindJSON(ctx, &req) {
		return
	}
	actorID, _ := actorctx.SubjectFrom(ctx.Request.Context())

	c, err := h.engine.UpdateCandidateState(ctx.Request.Context(), ctx.Param("id"), candidate.State(req.State), actorID, req.Reason)
	if err != nil {
		RespondAppError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, c)
}

type overrideCandidateStateRequest struct {
	State         string  `json:"state" binding:"required"`
	PostingStatus *string `json:"posting_status"`
	Reason        *string `json:"reason"`
}

// Override implements `POST /candidates/{id}/override` (§6, §4.8's
// override_candidate_state): the administrative escape hatch that
// skips the transition guard.
func (h *CandidatesHandler) Override(ctx *gin.Context) {
	var req overrideCandidateStateRequest
	if !BindJSON(ctx, &req) {
		return
	}
	actorID, _ := actorctx.SubjectFrom(ctx.Request.Context())

	var postingStatus *posting.Status
	if req.PostingStatus != nil {
		s := posting.Status(*req.PostingStatus)
		postingStatus = &s
	}

	c, err := h.engine.OverrideCandidateState(ctx.Request.Context(), ctx.Param("id"), candidate.State(req.State), postingStatus, actorID, req.Reason)
	if err != nil {
		RespondAppError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, c)
}

type mergeCandidatesRequest struct {
	PrimaryID   string  `json:"primary_candidate_id" binding:"required"`
	SecondaryID string  `json:"secondary_candidate_id" binding:"required"`
	Reason      *string `json:"reason"`
}

// Merge implements `POST /candidates/merge` (§6, §4.8's
// merge_candidates).
func (h *CandidatesHandler) Merge(ctx *gin.Context) {
	var req mergeCandidatesRequest
	if !BindJSON(ctx, &req) {
		return
	}
	actorID, _ := actorctx.SubjectFrom(ctx.Request.Context())

	c, err := h.engine.MergeCandidates(ctx.Request.Context(), req.PrimaryID, req.SecondaryID, actorID, req.Reason)
	if err != nil {
		RespondAppError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, c)
}
