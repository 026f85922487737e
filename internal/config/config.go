package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL       string
	RedisURL          string
	HTTPListenAddr    string
	MetricsListenAddr string
	LogLevel          string
	ServiceName       string
	// InstanceID identifies this process in logs when several dispatcher
	// replicas share one database.
	InstanceID string

	// Chain registry file (YAML) mapping chain IDs to gateway endpoints.
	ChainsFile string

	ModerationURL string

	// Manifest storage (S3/MinIO).
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string

	// Webhook delivery policy.
	WebhookSigningKey  string
	WebhookMaxRetries  int
	WebhookBackoffBase time.Duration
	WebhookBackoffMax  time.Duration

	// Dispatcher tick intervals and the debounce window before a job in an
	// actionable status is picked up.
	EscrowPollInterval  time.Duration
	WebhookPollInterval time.Duration
	JobDebounce         time.Duration
}

func Load() (*Config, error) {
	// A missing .env file is fine; env vars win either way.
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:       getEnv("DATABASE_URL", ""),
		RedisURL:          getEnv("REDIS_URL", "redis://localhost:6379/0"),
		HTTPListenAddr:    getEnv("HTTP_LISTEN_ADDR", ":8090"),
		MetricsListenAddr: getEnv("METRICS_LISTEN_ADDR", ":9090"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		ServiceName:       getEnv("SERVICE_NAME", ""),
		InstanceID:        getEnv("INSTANCE_ID", ""),
		ChainsFile:        getEnv("CHAINS_FILE", "chains.yaml"),
		ModerationURL:     getEnv("MODERATION_URL", ""),
		S3Endpoint:        getEnv("S3_ENDPOINT", ""),
		S3AccessKey:       getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey:       getEnv("S3_SECRET_KEY", ""),
		S3Bucket:          getEnv("S3_BUCKET", "manifests"),
		WebhookSigningKey: getEnv("WEBHOOK_SIGNING_KEY", ""),
	}

	var err error
	if cfg.WebhookMaxRetries, err = getEnvInt("WEBHOOK_MAX_RETRIES", 5); err != nil {
		return nil, err
	}
	if cfg.WebhookBackoffBase, err = getEnvDuration("WEBHOOK_BACKOFF_BASE", time.Minute); err != nil {
		return nil, err
	}
	if cfg.WebhookBackoffMax, err = getEnvDuration("WEBHOOK_BACKOFF_MAX", time.Hour); err != nil {
		return nil, err
	}
	if cfg.EscrowPollInterval, err = getEnvDuration("ESCROW_POLL_INTERVAL", time.Minute); err != nil {
		return nil, err
	}
	if cfg.WebhookPollInterval, err = getEnvDuration("WEBHOOK_POLL_INTERVAL", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.JobDebounce, err = getEnvDuration("JOB_DEBOUNCE", 30*time.Second); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the config fields required by the given service are set.
func (c *Config) Validate(service string) error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	switch service {
	case "escrow-api":
		if c.S3Endpoint == "" {
			return fmt.Errorf("S3_ENDPOINT is required for %s", service)
		}
		if c.WebhookSigningKey == "" {
			return fmt.Errorf("WEBHOOK_SIGNING_KEY is required for %s", service)
		}
	case "dispatcher":
		if c.WebhookSigningKey == "" {
			return fmt.Errorf("WEBHOOK_SIGNING_KEY is required for %s", service)
		}
		if c.ModerationURL == "" {
			return fmt.Errorf("MODERATION_URL is required for %s", service)
		}
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}
