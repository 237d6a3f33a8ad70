package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all process configuration values, loaded once at startup.
type Config struct {
	Addr            string
	Env             string
	GracefulTimeout time.Duration

	MongoURI      string
	MongoDatabase string

	RedisURL string

	JWTSecret     string
	EncryptionKey string // base64-encoded 32-byte AES-256 key

	RateLimitEnabled bool
	RateLimitRPM     int
	RateLimitBurst   int

	DefaultTimeout time.Duration
	MaxBodyBytes   int64

	CORSOrigins []string

	LogLevel string

	WorkerConcurrency      int
	LeaseDuration          time.Duration
	HeartbeatSweepInterval time.Duration
	SchedulerSweepInterval time.Duration

	RetryBackoffBase time.Duration
	RetryBackoffCap  time.Duration
	MaxAttempts      int

	EnforceEnvValidation bool
}

// Load reads configuration from environment variables and an optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	gracefulSec := getEnvInt("GRACEFUL_TIMEOUT_SEC", 15)
	defaultTimeoutSec := getEnvInt("DEFAULT_TIMEOUT_SEC", 30)

	cfg := &Config{
		Addr:            getEnv("ADDR", ":8080"),
		Env:             getEnv("ENV", "development"),
		GracefulTimeout: time.Duration(gracefulSec) * time.Second,

		MongoURI:      getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase: getEnv("MONGO_DATABASE", "virtualize"),

		RedisURL: getEnv("REDIS_URL", "redis://localhost:6379"),

		JWTSecret:     getEnv("JWT_SECRET", ""),
		EncryptionKey: getEnv("ENCRYPTION_KEY", ""),

		RateLimitEnabled: getEnvBool("RATE_LIMIT_ENABLED", true),
		RateLimitRPM:     getEnvInt("RATE_LIMIT_RPM", 120),
		RateLimitBurst:   getEnvInt("RATE_LIMIT_BURST", 20),

		DefaultTimeout: time.Duration(defaultTimeoutSec) * time.Second,
		MaxBodyBytes:   int64(getEnvInt("MAX_BODY_BYTES", 1*1024*1024)),

		CORSOrigins: []string{getEnv("CORS_ORIGINS", "*")},

		LogLevel: getEnv("LOG_LEVEL", "info"),

		WorkerConcurrency:      getEnvInt("WORKER_CONCURRENCY", 4),
		LeaseDuration:          time.Duration(getEnvInt("LEASE_DURATION_SEC", 300)) * time.Second,
		HeartbeatSweepInterval: time.Duration(getEnvInt("HEARTBEAT_SWEEP_SEC", 30)) * time.Second,
		SchedulerSweepInterval: time.Duration(getEnvInt("SCHEDULER_SWEEP_SEC", 3600)) * time.Second,

		RetryBackoffBase: time.Duration(getEnvInt("RETRY_BACKOFF_BASE_SEC", 5)) * time.Second,
		RetryBackoffCap:  time.Duration(getEnvInt("RETRY_BACKOFF_CAP_SEC", 300)) * time.Second,
		MaxAttempts:      getEnvInt("MAX_ATTEMPTS", 3),

		EnforceEnvValidation: getEnvBool("ENFORCE_ENV_VALIDATION", false),
	}

	if cfg.EnforceEnvValidation {
		if cfg.JWTSecret == "" {
			return nil, fmt.Errorf("config: JWT_SECRET is required when ENFORCE_ENV_VALIDATION is set")
		}
		if cfg.EncryptionKey == "" {
			return nil, fmt.Errorf("config: ENCRYPTION_KEY is required when ENFORCE_ENV_VALIDATION is set")
		}
	}

	return cfg, nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
