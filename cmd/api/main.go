package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"github.com/sourcejob/controlplane/internal/config"
	"github.com/sourcejob/controlplane/internal/db"
	httpx "github.com/sourcejob/controlplane/internal/http"
	"github.com/sourcejob/controlplane/internal/observability"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := observability.NewLogger(cfg.Env)

	pool, err := db.NewPool(cfg.DBURL, db.PoolConfig{MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
	if err != nil {
		log.Error("db connection failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := db.Migrate(cfg.DBURL); err != nil {
		log.Error("migration failed", "err", err)
		os.Exit(1)
	}

	seedCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err = db.EnsureBootstrapModule(seedCtx, pool, cfg, cfg.BootstrapModuleID, cfg.BootstrapModuleName, cfg.BootstrapModuleKey)
	cancel()
	if err != nil {
		log.Error("failed to seed bootstrap module", "err", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	router, engines := httpx.NewRouter(pool, cfg, reg)

	// Periodic maintenance (§2 component 9 / §4.6.4-5): lease reaping
	// and freshness enqueue run on their own cron schedule rather than
	// waiting on an operator to hit the admin endpoints. "system" is
	// the actor_id these two write into every provenance_event row.
	maintenance := cron.New()
	const maintenanceActor = "system"
	if _, err := maintenance.AddFunc(cfg.MaintenanceReapCron, func() {
		reapCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		requeued, err := engines.Jobs.ReapExpired(reapCtx, cfg.MaintenanceBatchLimit, maintenanceActor)
		if err != nil {
			log.Error("maintenance.reap_expired_failed", "err", err)
			return
		}
		if len(requeued) > 0 {
			log.Info("maintenance.reap_expired", "requeued", len(requeued))
		}
	}); err != nil {
		log.Error("maintenance.reap_schedule_invalid", "err", err)
		os.Exit(1)
	}
	if _, err := maintenance.AddFunc(cfg.MaintenanceFreshnessCron, func() {
		freshCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		enqueued, err := engines.Jobs.EnqueueDueFreshness(freshCtx, cfg.MaintenanceBatchLimit, maintenanceActor)
		if err != nil {
			log.Error("maintenance.enqueue_freshness_failed", "err", err)
			return
		}
		if len(enqueued) > 0 {
			log.Info("maintenance.enqueue_freshness", "enqueued", len(enqueued))
		}
	}); err != nil {
		log.Error("maintenance.freshness_schedule_invalid", "err", err)
		os.Exit(1)
	}
	maintenance.Start()
	defer func() { <-maintenance.Stop().Done() }()

	metricsSrv := &http.Server{
		Addr:              ":" + os.Getenv("SJ_METRICS_PORT"),
		Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	if metricsSrv.Addr == ":" {
		metricsSrv.Addr = ":9090"
	}
	go func() {
		log.Info("metrics server starting", "addr", metricsSrv.Addr)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server failed", "err", err)
		}
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "err", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownContext, cancelFunc := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelFunc()

	if err := srv.Shutdown(shutdownContext); err != nil {
		log.Error("server graceful shutdown failed", "err", err)
		_ = srv.Close()
	} else {
		log.Info("server stopped gracefully.")
	}
	_ = metricsSrv.Shutdown(shutdownContext)
}
