// Package config loads runtime configuration from the environment.
// File: config/config.go
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"go-score-hub/logger"
)

// Config carries every tunable the service reads at startup. Nothing in the
// hot path reads the environment directly; the coordinator and its
// collaborators receive this struct (or fields of it) at construction time.
type Config struct {
	Port           string
	AppEnv         string
	ApplicationURL string
	WebsocketURL   string
	DBPath         string
	SessionSecret  string

	// liveness
	HeartbeatTimeout time.Duration
	SweepInterval    time.Duration

	// protocol discipline
	ProtocolStrikeLimit int
	SessionLockTimeout  time.Duration

	// conflict policy
	ConflictTolerance        float64 // absolute points
	ConflictTolerancePercent float64 // optional, % of max possible score; 0 disables
	SingleJudgeAllowed       bool
	RequiredJudges           int

	MetricsEnabled bool
}

// Load reads .env (if present) and then the process environment, applying
// defaults for anything unset.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		logger.Debug.Printf("[config] no .env file loaded: %v", err)
	}

	cfg := Config{
		Port:                     getEnv("PORT", "8080"),
		AppEnv:                   getEnv("APP_ENV", "development"),
		ApplicationURL:           getEnv("APPLICATION_URL", "http://localhost:8080"),
		WebsocketURL:             getEnv("WEBSOCKET_URL", "ws://localhost:8080/scoring-updates"),
		DBPath:                   getEnv("DB_PATH", "./scores.db"),
		SessionSecret:            getEnv("SESSION_SECRET", "change-me"),
		HeartbeatTimeout:         time.Duration(getEnvInt("HEARTBEAT_TIMEOUT_SECONDS", 45)) * time.Second,
		SweepInterval:            time.Duration(getEnvInt("SWEEP_INTERVAL_SECONDS", 10)) * time.Second,
		ProtocolStrikeLimit:      getEnvInt("PROTOCOL_STRIKE_LIMIT", 5),
		SessionLockTimeout:       time.Duration(getEnvInt("SESSION_LOCK_TIMEOUT_MS", 3000)) * time.Millisecond,
		ConflictTolerance:        getEnvFloat("CONFLICT_TOLERANCE", 5.0),
		ConflictTolerancePercent: getEnvFloat("CONFLICT_TOLERANCE_PERCENT", 0),
		SingleJudgeAllowed:       getEnvBool("SINGLE_JUDGE_ALLOWED", true),
		RequiredJudges:           getEnvInt("REQUIRED_JUDGES", 3),
		MetricsEnabled:           getEnvBool("METRICS_ENABLED", false),
	}
	logger.Info.Printf("[config] loaded: env=%s port=%s heartbeatTimeout=%v tolerance=%.1f requiredJudges=%d",
		cfg.AppEnv, cfg.Port, cfg.HeartbeatTimeout, cfg.ConflictTolerance, cfg.RequiredJudges)
	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logger.Warn.Printf("[config] %s=%q is not an integer; using default %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		logger.Warn.Printf("[config] %s=%q is not a number; using default %v", key, v, fallback)
		return fallback
	}
	return f
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		logger.Warn.Printf("[config] %s=%q is not a boolean; using default %v", key, v, fallback)
		return fallback
	}
	return b
}
