package http

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/sourcejob/controlplane/internal/auth"
	"github.com/sourcejob/controlplane/internal/cache"
	"github.com/sourcejob/controlplane/internal/config"
	"github.com/sourcejob/controlplane/internal/http/handlers"
	"github.com/sourcejob/controlplane/internal/http/middlewares"
	"github.com/sourcejob/controlplane/internal/ingest"
	"github.com/sourcejob/controlplane/internal/jobqueue"
	"github.com/sourcejob/controlplane/internal/moderation"
	"github.com/sourcejob/controlplane/internal/observability"
	"github.com/sourcejob/controlplane/internal/projection"
	"github.com/sourcejob/controlplane/internal/queue/redisclient"
	"github.com/sourcejob/controlplane/internal/repo/postgres"
)

// Engines is the set of transactional engines NewRouter wires, exposed
// so cmd/api can also drive them from a cron schedule (§4.6.4/§4.6.5)
// without duplicating repo/engine construction.
type Engines struct {
	Jobs *jobqueue.Engine
}

// NewRouter wires every repo, engine, and handler named in §4/§6 behind
// the middleware chain the teacher's router establishes: recovery,
// request id, structured request logging, CORS, security headers, body
// size cap, and a JSON content-type gate on mutating verbs.
func NewRouter(pool *pgxpool.Pool, cfg config.Config, reg prometheus.Registerer) (*gin.Engine, Engines) {
	if cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}

	prom := observability.NewProm(reg)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware("sourcejob-controlplane"))
	r.Use(middlewares.RequestID())
	r.Use(middlewares.RequestLogger())
	r.Use(middlewares.CORSMiddleware(cfg.CORSAllowedOrigins))
	r.Use(middlewares.SecurityHeaders())
	r.Use(middlewares.MaxBodyBytes(1 << 20))
	r.Use(middlewares.RequireJSON())
	r.Use(prom.GinHandleMiddleware())

	redis := redisclient.New(redisclient.Config{Addr: cfg.RedisAddr})
	readyCheck := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()
		if err := pool.Ping(ctx); err != nil {
			return err
		}
		return redis.Ping(ctx)
	}
	healthHandler := handlers.NewHealthHandler(readyCheck)

	discoveriesRepo := postgres.NewDiscoveriesRepo(pool, prom)
	evidenceRepo := postgres.NewEvidenceRepo(pool, prom)
	jobsRepo := postgres.NewJobsRepo(pool, prom)
	postingsRepo := postgres.NewPostingsRepo(pool, prom)
	candidatesRepo := postgres.NewCandidatesRepo(pool, prom)
	overridesRepo := postgres.NewOverridesRepo(pool, prom)
	provenanceRepo := postgres.NewProvenanceRepo(pool, prom)
	mergeRepo := postgres.NewMergeRepo(pool, prom)
	modulesRepo := postgres.NewModulesRepo(pool, prom)
	trustPolicyRepo := postgres.NewTrustPolicyRepo(pool, prom)

	projectionEngine := projection.New(candidatesRepo, postingsRepo, mergeRepo, evidenceRepo, trustPolicyRepo, modulesRepo, provenanceRepo)

	jobSettings := jobqueue.Settings{
		JobMaxAttempts:              cfg.JobMaxAttempts,
		JobRetryBaseSeconds:         cfg.JobRetryBaseSeconds,
		JobRetryMaxSeconds:          cfg.JobRetryMaxSeconds,
		DefaultLeaseSeconds:         cfg.DefaultLeaseSeconds,
		FreshnessCheckIntervalHours: cfg.FreshnessCheckIntervalHours,
		FreshnessStaleAfterHours:    cfg.FreshnessStaleAfterHours,
		FreshnessArchiveAfterHours:  cfg.FreshnessArchiveAfterHours,
	}
	jobsEngine := jobqueue.New(pool, jobsRepo, discoveriesRepo, postingsRepo, candidatesRepo, overridesRepo, provenanceRepo, projectionEngine, jobSettings)
	ingestor := ingest.New(pool, discoveriesRepo, overridesRepo, jobsRepo, provenanceRepo)
	evidenceCapture := ingest.NewEvidenceCapture(pool, evidenceRepo, provenanceRepo)
	moderationEngine := moderation.New(pool, candidatesRepo, postingsRepo, mergeRepo, provenanceRepo)

	machineVerifier := auth.NewMachineVerifier(modulesRepo)
	humanVerifier := auth.NewHumanVerifier(cfg.IdentityProviderIssuer, cfg.IdentityProviderIntrospectURL, cfg.IdentityProviderAudience, auth.BreakerConfig{})
	authMiddleware := middlewares.NewAuthMiddleware(machineVerifier, humanVerifier)

	discoveriesHandler := handlers.NewDiscoveriesHandler(ingestor)
	evidenceHandler := handlers.NewEvidenceHandler(evidenceCapture)
	jobsHandler := handlers.NewJobsHandler(jobsEngine)
	postingsCache := cache.New(5 * time.Second)
	postingsHandler := handlers.NewPostingsHandler(postingsRepo, moderationEngine, postingsCache)
	candidatesHandler := handlers.NewCandidatesHandler(candidatesRepo, provenanceRepo, moderationEngine)
	adminHandler := handlers.NewAdminHandler(modulesRepo, jobsRepo, trustPolicyRepo, overridesRepo, jobsEngine)

	machineLimiter := middlewares.NewRedisRateLimiter(redis.Raw(), 120, 1*time.Minute)
	publicLimiter := middlewares.NewRateLimiter(60, 1*time.Minute)

	r.GET("/healthz", healthHandler.Healthz)
	r.GET("/readyz", healthHandler.Readyz)
	r.GET("/docs", handlers.SwaggerUI)
	r.GET("/swagger", handlers.SwaggerUI)

	// Public catalog reads (§6 "public routes") — no principal required.
	r.GET("/postings", publicLimiter.RateLimiterMiddleware(middlewares.KeyByIP), postingsHandler.List)
	r.GET("/postings/:id", publicLimiter.RateLimiterMiddleware(middlewares.KeyByIP), postingsHandler.GetByID)

	authed := r.Group("/")
	authed.Use(authMiddleware.RequireAuth())

	// Machine routes: connectors and processors driving the pipeline.
	authed.POST("/discoveries", machineLimiter.RateLimiterMiddleware(middlewares.KeyByUserOrIP),
		middlewares.RequireScopes(auth.ScopeDiscoveriesWrite), discoveriesHandler.Create)
	authed.POST("/evidence", machineLimiter.RateLimiterMiddleware(middlewares.KeyByUserOrIP),
		middlewares.RequireScopes(auth.ScopeEvidenceWrite), evidenceHandler.Create)
	authed.GET("/jobs", middlewares.RequireScopes(auth.ScopeJobsRead), jobsHandler.List)
	authed.POST("/jobs/:id/claim", middlewares.RequireScopes(auth.ScopeJobsWrite), jobsHandler.Claim)
	authed.POST("/jobs/:id/result", middlewares.RequireScopes(auth.ScopeJobsWrite), jobsHandler.SubmitResult)
	authed.POST("/jobs/reap-expired", middlewares.RequireScopes(auth.ScopeJobsWrite), jobsHandler.ReapExpired)
	authed.POST("/jobs/enqueue-freshness", middlewares.RequireScopes(auth.ScopeJobsWrite), jobsHandler.EnqueueDueFreshness)

	// Human routes: moderation queue and posting lifecycle.
	authed.PATCH("/postings/:id", middlewares.RequireScopes(auth.ScopeModerationWrite), postingsHandler.UpdateStatus)
	authed.GET("/candidates", middlewares.RequireScopes(auth.ScopeModerationRead), candidatesHandler.List)
	authed.GET("/candidates/facets", middlewares.RequireScopes(auth.ScopeModerationRead), candidatesHandler.Facets)
	authed.GET("/candidates/:id", middlewares.RequireScopes(auth.ScopeModerationRead), candidatesHandler.GetByID)
	authed.GET("/candidates/:id/events", middlewares.RequireScopes(auth.ScopeModerationRead), candidatesHandler.Events)
	authed.PATCH("/candidates/:id", middlewares.RequireScopes(auth.ScopeModerationWrite), candidatesHandler.Patch)
	authed.POST("/candidates/:id/override", middlewares.RequireScopes(auth.ScopeModerationWrite), candidatesHandler.Override)
	authed.POST("/candidates/merge", middlewares.RequireScopes(auth.ScopeModerationWrite), candidatesHandler.Merge)

	// Human admin routes: module registry, job maintenance, trust policy, overrides.
	admin := authed.Group("/admin")
	admin.Use(middlewares.RequireScopes(auth.ScopeAdminWrite))
	{
		admin.GET("/modules", adminHandler.ListModules)
		admin.POST("/modules", adminHandler.CreateModule)
		admin.PATCH("/modules/:id", adminHandler.SetModuleEnabled)
		admin.PUT("/modules/:id/credential", adminHandler.RotateModuleCredential)

		admin.GET("/jobs", adminHandler.ListJobs)
		admin.POST("/jobs/:id/requeue", adminHandler.RequeueJob)
		admin.GET("/jobs/metrics", adminHandler.JobMetrics)

		admin.GET("/source-trust-policy", adminHandler.ListTrustPolicies)
		admin.PUT("/source-trust-policy", adminHandler.UpsertTrustPolicy)

		admin.GET("/url-normalization-overrides", adminHandler.ListOverrides)
		admin.PUT("/url-normalization-overrides", adminHandler.UpsertOverride)
		admin.PATCH("/url-normalization-overrides/:hostSuffix", adminHandler.SetOverrideEnabled)
	}

	return r, Engines{Jobs: jobsEngine}
}
