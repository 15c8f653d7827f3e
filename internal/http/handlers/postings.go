package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sourcejob/controlplane/internal/actorctx"
	"github.com/sourcejob/controlplane/internal/cache"
	"github.com/sourcejob/controlplane/internal/domain/posting"
	"github.com/sourcejob/controlplane/internal/utils"
)

type PostingsReader interface {
	GetByID(ctx context.Context, id string) (posting.Posting, error)
	List(ctx context.Context, f posting.ListFilter) ([]posting.Posting, error)
}

// PostingStatusUpdater is the narrow slice of internal/moderation.Engine
// this handler needs for the lifecycle PATCH.
type PostingStatusUpdater interface {
	UpdatePostingStatus(ctx context.Context, postingID string, toStatus posting.Status, actorUserID string, reason *string) (posting.Posting, error)
}

type PostingsHandler struct {
	reader PostingsReader
	engine PostingStatusUpdater
	cache  *cache.Cache
}

// NewPostingsHandler wires an optional list cache; pass nil to disable
// caching (e.g. in tests asserting on freshly-written rows).
func NewPostingsHandler(reader PostingsReader, engine PostingStatusUpdater, c *cache.Cache) *PostingsHandler {
	return &PostingsHandler{reader: reader, engine: engine, cache: c}
}

// List implements `GET /postings` (§6): the public catalog read
// surface, filters by q/organization_name/country/remote/status/tag.
func (h *PostingsHandler) List(ctx *gin.Context) {
	f := posting.ListFilter{
		Sort:      ctx.Query("sort"),
		Ascending: ctx.Query("order") == "asc",
		Limit:     parseInt(ctx.Query("limit"), 50),
		Offset:    parseInt(ctx.Query("offset"), 0),
	}
	if q := ctx.Query("q"); q != "" {
		f.Query = &q
	}
	if org := ctx.Query("organization_name"); org != "" {
		f.OrganizationName = &org
	}
	if country := ctx.Query("country"); country != "" {
		f.Country = &country
	}
	if remoteStr := ctx.Query("remote"); remoteStr != "" {
		remote := remoteStr == "true"
		f.Remote = &remote
	}
	if status := ctx.Query("status"); status != "" {
		s := posting.Status(status)
		f.Status = &s
	}
	if tag := ctx.Query("tag"); tag != "" {
		f.Tag = &tag
	}

	statusStr := ""
	if f.Status != nil {
		statusStr = string(*f.Status)
	}
	cacheKey := utils.BuildPostingsListCacheKey(
		ctx.Query("q"), ctx.Query("organization_name"), ctx.Query("country"),
		f.Remote, statusStr, ctx.Query("tag"), f.Sort, f.Ascending, f.Limit, f.Offset,
	)

	if h.cache != nil {
		if v, ok := h.cache.Get(cacheKey); ok {
			slog.Debug("postings.list.cache_hit", "key", cacheKey)
			ctx.JSON(http.StatusOK, v)
			return
		}
		slog.Debug("postings.list.cache_miss", "key", cacheKey)
	}

	items, err := h.reader.List(ctx.Request.Context(), f)
	if err != nil {
		RespondAppError(ctx, err)
		return
	}

	resp := gin.H{"items": items}
	if h.cache != nil {
		h.cache.Set(cacheKey, resp)
	}
	ctx.JSON(http.StatusOK, resp)
}

// GetByID implements `GET /postings/{id}` (§6): public read.
func (h *PostingsHandler) GetByID(ctx *gin.Context) {
	p, err := h.reader.GetByID(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		RespondAppError(ctx, err)
		return
	}
	RespondJSONWithETag(ctx, http.StatusOK, p)
}

type updatePostingStatusRequest struct {
	Status string  `json:"status" binding:"required"`
	Reason *string `json:"reason"`
}

// UpdateStatus implements `PATCH /postings/{id}` (§6, §4.8): moderation
// lifecycle transition with cascading candidate-state derivation.
func (h *PostingsHandler) UpdateStatus(ctx *gin.Context) {
	var req updatePostingStatusRequest
	if !BindJSON(ctx, &req) {
		return
	}

	actorID, _ := actorctx.SubjectFrom(ctx.Request.Context())

	p, err := h.engine.UpdatePostingStatus(ctx.Request.Context(), ctx.Param("id"), posting.Status(req.Status), actorID, req.Reason)
	if err != nil {
		RespondAppError(ctx, err)
		return
	}
	if h.cache != nil {
		h.cache.Clear()
	}
	ctx.JSON(http.StatusOK, p)
}
