package infra

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv         string
	Port           string
	DatabaseURL    string
	JWTSecret      string
	StoragePath    string
	StorageBaseURL string

	SunoAPIKey    string
	SunoBaseURL   string
	SunoModel     string
	MurekaAPIKey  string
	MurekaBaseURL string
	MurekaModel   string

	ProviderTimeout time.Duration

	// Rate limit windows are provider specific.
	SunoRateLimit    int
	SunoRateWindow   time.Duration
	MurekaRateLimit  int
	MurekaRateWindow time.Duration

	PollMaxAttempts int
	PollMaxWait     time.Duration

	IngestLockTTL   time.Duration
	IngestWorkers   int
	IngestQueueSize int

	SweepInterval   time.Duration
	SunoStaleGrace  time.Duration
	MurekaHardLimit time.Duration

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:         getEnv("APP_ENV", "development"),
		Port:           getEnv("PORT", "8080"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		StoragePath:    getEnv("STORAGE_PATH", "./storage"),
		StorageBaseURL: getEnv("STORAGE_BASE_URL", "http://localhost:8080/static"),

		SunoAPIKey:    os.Getenv("SUNO_API_KEY"),
		SunoBaseURL:   getEnv("SUNO_BASE_URL", "https://api.sunoapi.org"),
		SunoModel:     getEnv("SUNO_MODEL", "V4_5"),
		MurekaAPIKey:  os.Getenv("MUREKA_API_KEY"),
		MurekaBaseURL: getEnv("MUREKA_BASE_URL", "https://api.mureka.ai"),
		MurekaModel:   getEnv("MUREKA_MODEL", "auto"),

		ProviderTimeout: time.Second * time.Duration(getEnvInt("PROVIDER_TIMEOUT_SECONDS", 30)),

		SunoRateLimit:    getEnvInt("SUNO_RATE_LIMIT", 10),
		SunoRateWindow:   time.Minute * time.Duration(getEnvInt("SUNO_RATE_WINDOW_MINUTES", 10)),
		MurekaRateLimit:  getEnvInt("MUREKA_RATE_LIMIT", 20),
		MurekaRateWindow: time.Minute * time.Duration(getEnvInt("MUREKA_RATE_WINDOW_MINUTES", 10)),

		PollMaxAttempts: getEnvInt("POLL_MAX_ATTEMPTS", 60),
		PollMaxWait:     time.Second * time.Duration(getEnvInt("POLL_MAX_WAIT_SECONDS", 300)),

		IngestLockTTL:   time.Second * time.Duration(getEnvInt("INGEST_LOCK_TTL_SECONDS", 120)),
		IngestWorkers:   getEnvInt("INGEST_WORKERS", 4),
		IngestQueueSize: getEnvInt("INGEST_QUEUE_SIZE", 64),

		SweepInterval:   time.Second * time.Duration(getEnvInt("SWEEP_INTERVAL_SECONDS", 60)),
		SunoStaleGrace:  time.Minute * time.Duration(getEnvInt("SUNO_STALE_GRACE_MINUTES", 10)),
		MurekaHardLimit: time.Minute * time.Duration(getEnvInt("MUREKA_HARD_LIMIT_MINUTES", 60)),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
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
