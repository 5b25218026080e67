package infra

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv           string
	Port             string
	DatabaseURL      string
	JWTSecret        string
	CredentialKey    string
	BatchSize        int
	ClaimLimit       int
	StaleAfter       time.Duration
	MaxJobRetries    int
	SchedulerTick    time.Duration
	CacheSweepTick   time.Duration
	HeartbeatTick    time.Duration
	DebounceWindow   time.Duration
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:           getEnv("APP_ENV", "development"),
		Port:             getEnv("PORT", "8080"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		CredentialKey:    os.Getenv("CREDENTIAL_KEY"),
		BatchSize:        getEnvInt("BATCH_SIZE", 12),
		ClaimLimit:       getEnvInt("CLAIM_LIMIT", 5),
		StaleAfter:       time.Minute * time.Duration(getEnvInt("STALE_AFTER_MINUTES", 5)),
		MaxJobRetries:    getEnvInt("MAX_JOB_RETRIES", 3),
		SchedulerTick:    time.Second * time.Duration(getEnvInt("SCHEDULER_TICK_SECONDS", 10)),
		CacheSweepTick:   time.Minute * time.Duration(getEnvInt("CACHE_SWEEP_MINUTES", 60)),
		HeartbeatTick:    time.Second * time.Duration(getEnvInt("STREAM_HEARTBEAT_SECONDS", 30)),
		DebounceWindow:   time.Millisecond * time.Duration(getEnvInt("STREAM_DEBOUNCE_MS", 500)),
		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	if cfg.CredentialKey == "" {
		return nil, fmt.Errorf("CREDENTIAL_KEY is required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
