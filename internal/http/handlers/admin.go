package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sourcejob/controlplane/internal/apperr"
	"github.com/sourcejob/controlplane/internal/domain/jobcore"
	"github.com/sourcejob/controlplane/internal/domain/module"
	"github.com/sourcejob/controlplane/internal/domain/trustpolicy"
	"github.com/sourcejob/controlplane/internal/observability"
	"github.com/sourcejob/controlplane/internal/urlnorm"
	"github.com/sourcejob/controlplane/internal/utils"
)

func parseInt(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}

// AdminModulesRepo is the narrow slice of internal/repo/postgres.ModulesRepo
// the admin module-registry routes need.
type AdminModulesRepo interface {
	List(ctx context.Context) ([]module.Module, error)
	Create(ctx context.Context, m module.Module) error
	SetEnabled(ctx context.Context, id string, enabled bool) error
	SetCredential(ctx context.Context, moduleDBID, apiKeyHash string) error
}

// AdminJobsRepo is the narrow slice of internal/repo/postgres.JobsRepo the
// admin jobs-maintenance routes need.
type AdminJobsRepo interface {
	ListCursor(ctx context.Context, status *string, limit int, afterUpdatedAt time.Time, afterID string) ([]jobcore.Job, *string, bool, error)
	GetByID(ctx context.Context, id string) (jobcore.Job, error)
	RequeueDeadLetter(ctx context.Context, id string) error
}

// AdminTrustPolicyRepo is the admin source-trust-policy CRUD surface.
type AdminTrustPolicyRepo interface {
	List(ctx context.Context) ([]trustpolicy.Policy, error)
	Upsert(ctx context.Context, p trustpolicy.Policy) error
}

// AdminOverridesRepo is the admin url-normalization-overrides CRUD
// surface.
type AdminOverridesRepo interface {
	List(ctx context.Context) ([]urlnorm.Override, error)
	Upsert(ctx context.Context, o urlnorm.Override) error
	SetEnabled(ctx context.Context, hostSuffix string, enabled bool) error
}

// JobMetricsProvider is the narrow slice of internal/jobqueue.Engine the
// admin status route needs: the claimed/done/failed/retried/
// dead-lettered counters and duration stats it accumulates in-process.
type JobMetricsProvider interface {
	MetricsSnapshot() observability.JobMetricsSnapShot
}

type AdminHandler struct {
	modules     AdminModulesRepo
	jobs        AdminJobsRepo
	trustPolicy AdminTrustPolicyRepo
	overrides   AdminOverridesRepo
	jobMetrics  JobMetricsProvider
}

func NewAdminHandler(modules AdminModulesRepo, jobs AdminJobsRepo, trustPolicy AdminTrustPolicyRepo, overrides AdminOverridesRepo, jobMetrics JobMetricsProvider) *AdminHandler {
	return &AdminHandler{modules: modules, jobs: jobs, trustPolicy: trustPolicy, overrides: overrides, jobMetrics: jobMetrics}
}

// JobMetrics implements `GET /admin/jobs/metrics`: a cheap in-process
// counter snapshot of this control plane's own job resolutions, distinct
// from the Prometheus scrape surface (§1) which tracks HTTP/DB, not
// per-kind job outcomes.
func (h *AdminHandler) JobMetrics(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, h.jobMetrics.MetricsSnapshot())
}

// ListModules implements `GET /admin/modules` (§6).
func (h *AdminHandler) ListModules(ctx *gin.Context) {
	items, err := h.modules.List(ctx.Request.Context())
	if err != nil {
		RespondAppError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"items": items})
}

type createModuleRequest struct {
	ModuleID   string   `json:"module_id" binding:"required"`
	Name       string   `json:"name" binding:"required"`
	Kind       string   `json:"kind" binding:"required"`
	TrustLevel string   `json:"trust_level" binding:"required"`
	Scopes     []string `json:"scopes"`
}

// CreateModule implements `POST /admin/modules` (§6): registers a new
// connector/processor and mints its first API key.
func (h *AdminHandler) CreateModule(ctx *gin.Context) {
	var req createModuleRequest
	if !BindJSON(ctx, &req) {
		return
	}
	if !module.Kind(req.Kind).IsValid() {
		RespondAppError(ctx, apperr.Validation("invalid_module_kind", "unrecognized module kind"))
		return
	}
	if !module.TrustLevel(req.TrustLevel).IsValid() {
		RespondAppError(ctx, apperr.Validation("invalid_trust_level", "unrecognized trust level"))
		return
	}

	m := module.New(module.CreateRequest{
		ModuleID:   req.ModuleID,
		Name:       req.Name,
		Kind:       module.Kind(req.Kind),
		Scopes:     req.Scopes,
		TrustLevel: module.TrustLevel(req.TrustLevel),
	})
	if err := h.modules.Create(ctx.Request.Context(), m); err != nil {
		RespondAppError(ctx, err)
		return
	}

	rawKey := utils.GenerateAPIKey()
	if err := h.modules.SetCredential(ctx.Request.Context(), m.ID, module.HashAPIKey(rawKey)); err != nil {
		RespondAppError(ctx, err)
		return
	}

	ctx.JSON(http.StatusCreated, gin.H{"module": m, "api_key": rawKey})
}

type setModuleEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

// SetModuleEnabled implements `PATCH /admin/modules/{id}` (§6).
func (h *AdminHandler) SetModuleEnabled(ctx *gin.Context) {
	var req setModuleEnabledRequest
	if !BindJSON(ctx, &req) {
		return
	}
	if err := h.modules.SetEnabled(ctx.Request.Context(), ctx.Param("id"), req.Enabled); err != nil {
		if errors.Is(err, module.ErrNotFound) {
			RespondAppError(ctx, apperr.NotFound("module_not_found", "module does not exist"))
			return
		}
		RespondAppError(ctx, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

// RotateModuleCredential implements `PUT /admin/modules/{id}/credential`
// (§6): revokes the module's current key and mints a new one.
func (h *AdminHandler) RotateModuleCredential(ctx *gin.Context) {
	rawKey := utils.GenerateAPIKey()
	if err := h.modules.SetCredential(ctx.Request.Context(), ctx.Param("id"), module.HashAPIKey(rawKey)); err != nil {
		RespondAppError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"api_key": rawKey})
}

// ListJobs implements `GET /admin/jobs` (§6): cursor-paginated
// maintenance view, independent of the non-locking §4.6.1 queue read.
func (h *AdminHandler) ListJobs(ctx *gin.Context) {
	var statusPtr *string
	if s := ctx.Query("status"); s != "" {
		statusPtr = &s
	}
	limit := parseInt(ctx.Query("limit"), 50)

	after := time.Now().UTC().Add(24 * time.Hour)
	afterID := "ffffffff-ffff-ffff-ffff-ffffffffffff"
	if cursor := ctx.Query("cursor"); cursor != "" {
		c, err := utils.DecodeJobCursor(cursor)
		if err != nil {
			RespondAppError(ctx, apperr.Validation("invalid_cursor", "cursor is malformed"))
			return
		}
		after, afterID = c.UpdatedAt, c.ID
	}

	items, next, hasMore, err := h.jobs.ListCursor(ctx.Request.Context(), statusPtr, limit, after, afterID)
	if err != nil {
		RespondAppError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"items": items, "next_cursor": next, "has_more": hasMore})
}

// RequeueJob implements `POST /admin/jobs/{id}/requeue` (§6): manually
// resets a dead_letter job back to queued.
func (h *AdminHandler) RequeueJob(ctx *gin.Context) {
	id := ctx.Param("id")
	j, err := h.jobs.GetByID(ctx.Request.Context(), id)
	if err != nil {
		if errors.Is(err, jobcore.ErrNotFound) {
			RespondAppError(ctx, apperr.NotFound("job_not_found", "job does not exist"))
			return
		}
		RespondAppError(ctx, err)
		return
	}
	if j.Status != jobcore.StatusDeadLetter {
		RespondAppError(ctx, apperr.Conflict("job_not_dead_letter", "only dead_letter jobs can be manually requeued"))
		return
	}
	if err := h.jobs.RequeueDeadLetter(ctx.Request.Context(), id); err != nil {
		RespondAppError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"job_id": id, "status": jobcore.StatusQueued})
}

// ListTrustPolicies implements `GET /admin/source-trust-policy` (§6).
func (h *AdminHandler) ListTrustPolicies(ctx *gin.Context) {
	items, err := h.trustPolicy.List(ctx.Request.Context())
	if err != nil {
		RespondAppError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"items": items})
}

type upsertTrustPolicyRequest struct {
	SourceKey          string             `json:"source_key" binding:"required"`
	TrustLevel         string             `json:"trust_level" binding:"required"`
	AutoPublish        bool               `json:"auto_publish"`
	RequiresModeration bool               `json:"requires_moderation"`
	Rules              trustpolicy.Rules  `json:"rules"`
	Enabled            bool               `json:"enabled"`
}

// UpsertTrustPolicy implements `PUT /admin/source-trust-policy` (§6).
func (h *AdminHandler) UpsertTrustPolicy(ctx *gin.Context) {
	var req upsertTrustPolicyRequest
	if !BindJSON(ctx, &req) {
		return
	}
	if !module.TrustLevel(req.TrustLevel).IsValid() {
		RespondAppError(ctx, apperr.Validation("invalid_trust_level", "unrecognized trust level"))
		return
	}
	if err := req.Rules.Validate(); err != nil {
		RespondAppError(ctx, apperr.Wrap(apperr.KindValidation, "invalid_rules", err.Error(), err))
		return
	}

	p := trustpolicy.Policy{
		SourceKey:          req.SourceKey,
		TrustLevel:         module.TrustLevel(req.TrustLevel),
		AutoPublish:        req.AutoPublish,
		RequiresModeration: req.RequiresModeration,
		Rules:              req.Rules,
		Enabled:            req.Enabled,
	}
	if err := h.trustPolicy.Upsert(ctx.Request.Context(), p); err != nil {
		RespondAppError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, p)
}

// ListOverrides implements `GET /admin/url-normalization-overrides`
// (§6).
func (h *AdminHandler) ListOverrides(ctx *gin.Context) {
	items, err := h.overrides.List(ctx.Request.Context())
	if err != nil {
		RespondAppError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"items": items})
}

// UpsertOverride implements `PUT /admin/url-normalization-overrides`
// (§6).
func (h *AdminHandler) UpsertOverride(ctx *gin.Context) {
	var o urlnorm.Override
	if !BindJSON(ctx, &o) {
		return
	}
	if err := h.overrides.Upsert(ctx.Request.Context(), o); err != nil {
		RespondAppError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, o)
}

type setOverrideEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

// SetOverrideEnabled implements `PATCH
// /admin/url-normalization-overrides/{hostSuffix}` (§6).
func (h *AdminHandler) SetOverrideEnabled(ctx *gin.Context) {
	var req setOverrideEnabledRequest
	if !BindJSON(ctx, &req) {
		return
	}
	if err := h.overrides.SetEnabled(ctx.Request.Context(), ctx.Param("hostSuffix"), req.Enabled); err != nil {
		RespondAppError(ctx, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}
