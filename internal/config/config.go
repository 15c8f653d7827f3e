package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds every SJ_-prefixed operational knob (§6 "CLI / env").
type Config struct {
	Env  string
	Port int
	DBURL string

	DBMaxConns int32
	DBMinConns int32

	RedisAddr string

	JobMaxAttempts       int
	JobRetryBaseSeconds  int
	JobRetryMaxSeconds   int

	FreshnessCheckIntervalHours float64
	FreshnessStaleAfterHours    float64
	FreshnessArchiveAfterHours  float64

	DefaultLeaseSeconds int

	IdentityProviderIssuer        string
	IdentityProviderJWKSURL       string
	IdentityProviderIntrospectURL string
	IdentityProviderAudience      string

	CORSAllowedOrigins []string

	BootstrapModuleID   string
	BootstrapModuleName string
	BootstrapModuleKey  string

	MaintenanceReapCron      string
	MaintenanceFreshnessCron string
	MaintenanceBatchLimit    int
}

func Load() Config {
	return Config{
		Env:  getEnv("SJ_ENV", "dev"),
		Port: getEnvInt("SJ_PORT", 8080),
		DBURL: buildDBURL(),

		DBMaxConns: int32(getEnvInt("SJ_DB_MAX_CONNS", 10)),
		DBMinConns: int32(getEnvInt("SJ_DB_MIN_CONNS", 2)),

		RedisAddr: getEnv("SJ_REDIS_ADDR", "127.0.0.1:6379"),

		JobMaxAttempts:      getEnvInt("SJ_JOB_MAX_ATTEMPTS", 8),
		JobRetryBaseSeconds: getEnvInt("SJ_JOB_RETRY_BASE_SECONDS", 30),
		JobRetryMaxSeconds:  getEnvInt("SJ_JOB_RETRY_MAX_SECONDS", 3600),

		FreshnessCheckIntervalHours: getEnvFloat("SJ_FRESHNESS_CHECK_INTERVAL_HOURS", 24),
		FreshnessStaleAfterHours:    getEnvFloat("SJ_FRESHNESS_STALE_AFTER_HOURS", 24*14),
		FreshnessArchiveAfterHours:  getEnvFloat("SJ_FRESHNESS_ARCHIVE_AFTER_HOURS", 24*60),

		DefaultLeaseSeconds: getEnvInt("SJ_DEFAULT_LEASE_SECONDS", 300),

		IdentityProviderIssuer:        getEnv("SJ_IDP_ISSUER", ""),
		IdentityProviderJWKSURL:       getEnv("SJ_IDP_JWKS_URL", ""),
		IdentityProviderIntrospectURL: getEnv("SJ_IDP_INTROSPECT_URL", ""),
		IdentityProviderAudience:      getEnv("SJ_IDP_AUDIENCE", ""),

		CORSAllowedOrigins: splitCSV(getEnv("SJ_CORS_ALLOWED_ORIGINS", "http://localhost:3000")),

		BootstrapModuleID:   getEnv("SJ_BOOTSTRAP_MODULE_ID", ""),
		BootstrapModuleName: getEnv("SJ_BOOTSTRAP_MODULE_NAME", "bootstrap-connector"),
		BootstrapModuleKey:  getEnv("SJ_BOOTSTRAP_MODULE_KEY", ""),

		MaintenanceReapCron:      getEnv("SJ_MAINTENANCE_REAP_CRON", "*/1 * * * *"),
		MaintenanceFreshnessCron: getEnv("SJ_MAINTENANCE_FRESHNESS_CRON", "*/15 * * * *"),
		MaintenanceBatchLimit:    getEnvInt("SJ_MAINTENANCE_BATCH_LIMIT", 100),
	}
}

func splitCSV(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

func buildDBURL() string {
	if dsn := os.Getenv("SJ_DATABASE_URL"); dsn != "" {
		return dsn
	}

	host := getEnv("SJ_DB_HOST", "127.0.0.1")
	port := getEnv("SJ_DB_PORT", "5432")
	user := getEnv("SJ_DB_USER", "sourcejob")
	pass := getEnv("SJ_DB_PASSWORD", "sourcejob")
	name := getEnv("SJ_DB_NAME", "sourcejob")
	ssl := getEnv("SJ_DB_SSLMODE", "disable")

	return "postgres://" + user + ":" + pass + "@" + host + ":" + port + "/" + name + "?sslmode=" + ssl
}

func WithTimeout(duration time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), duration)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		num, err := strconv.Atoi(v)
		if err != nil {
			fmt.Println(err)
			return fallback
		}
		return num
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		num, err := strconv.ParseFloat(v, 64)
		if err != nil {
			fmt.Println(err)
			return fallback
		}
		return num
	}
	return fallback
}
