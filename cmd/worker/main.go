// cmd/worker is a reference machine module: it polls this control
// plane's own HTTP API (§6) exactly the way an external connector or
// processor would, claiming jobs and submitting results over the wire
// rather than touching the database directly. See internal/queue/worker
// for why its handlers are stand-ins, not real extraction logic.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/sourcejob/controlplane/internal/queue/worker"
	workerhealth "github.com/sourcejob/controlplane/internal/worker"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := worker.Config{
		BaseURL:       getEnv("SJ_WORKER_BASE_URL", "http://127.0.0.1:8080"),
		ModuleID:      getEnv("SJ_WORKER_MODULE_ID", ""),
		APIKey:        getEnv("SJ_WORKER_API_KEY", ""),
		PollInterval:  getEnvDuration("SJ_WORKER_POLL_INTERVAL_SECONDS", 2*time.Second),
		LeaseSeconds:  getEnvInt("SJ_WORKER_LEASE_SECONDS", 300),
		Concurrency:   getEnvInt("SJ_WORKER_CONCURRENCY", 1),
		ShutdownGrace: 10 * time.Second,
	}
	if cfg.ModuleID == "" || cfg.APIKey == "" {
		logger.Error("worker.missing_credentials", "hint", "set SJ_WORKER_MODULE_ID and SJ_WORKER_API_KEY")
		os.Exit(1)
	}

	healthAddr := getEnv("SJ_WORKER_HEALTH_ADDR", ":8081")
	healthSrv := &http.Server{
		Addr:              healthAddr,
		Handler:           workerhealth.HealthHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("worker.health_listening", "addr", healthAddr)
		if err := healthSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("worker.health_failed", "err", err)
		}
	}()

	w := worker.New(cfg, logger)
	logger.Info("worker.start", "base_url", cfg.BaseURL, "module_id", cfg.ModuleID, "poll_interval", cfg.PollInterval)

	if err := w.Run(ctx); err != nil {
		logger.Error("worker.run_failed", "err", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	_ = healthSrv.Shutdown(shutdownCtx)

	logger.Info("worker.shutdown_complete")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return fallback
}
