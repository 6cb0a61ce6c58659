package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Defaults matching the reference deployment.
const (
	defaultPrefetch        = 11
	defaultMaxFileSize     = 5 * 1024 * 1024 // 5 MiB
	defaultExpirationHours = 24
	defaultSweepMinutes    = 60
)

// Config is the environment-derived configuration consumed by both the
// API and the worker binaries. Load reads it once at startup; nothing
// re-reads the environment afterwards.
type Config struct {
	Port string
	Host string
	Env  string

	RedisURL string

	BrokerURL     string
	QueueName     string
	PrefetchCount int

	S3Bucket string

	AllowedFormats []string
	MaxFileSize    int64

	ExpirationWindow time.Duration
	SweepInterval    time.Duration

	// Webhook URLs are optional; an empty value disables the
	// corresponding notification.
	CompletionWebhookURL string
	ExpirationWebhookURL string

	DefaultRedirectURL string
}

// Load builds a Config from the environment. It fails fast on missing
// required variables so a misconfigured process never half-starts.
func Load() (*Config, error) {
	cfg := &Config{
		Port:                 envOrDefault("PORT", "3000"),
		Host:                 envOrDefault("HOST", "localhost"),
		Env:                  os.Getenv("APP_ENV"),
		RedisURL:             os.Getenv("REDIS_URL"),
		BrokerURL:            os.Getenv("RABBITMQ_URL"),
		QueueName:            os.Getenv("RABBITMQ_QUEUE_NAME"),
		S3Bucket:             os.Getenv("S3_BUCKET_NAME"),
		CompletionWebhookURL: os.Getenv("COMPLETION_WEBHOOK_URL"),
		ExpirationWebhookURL: os.Getenv("EXPIRATION_WEBHOOK_URL"),
		DefaultRedirectURL:   os.Getenv("REDIRECT_URL"),
	}

	for name, val := range map[string]string{
		"REDIS_URL":           cfg.RedisURL,
		"RABBITMQ_URL":        cfg.BrokerURL,
		"RABBITMQ_QUEUE_NAME": cfg.QueueName,
		"S3_BUCKET_NAME":      cfg.S3Bucket,
	} {
		if val == "" {
			return nil, fmt.Errorf("missing required environment variable %s", name)
		}
	}

	cfg.PrefetchCount = envInt("RABBITMQ_PREFETCH", defaultPrefetch)
	cfg.MaxFileSize = int64(envInt("MAX_FILE_SIZE", defaultMaxFileSize))
	cfg.ExpirationWindow = time.Duration(envInt("FORM_EXPIRATION_HOURS", defaultExpirationHours)) * time.Hour
	cfg.SweepInterval = time.Duration(envInt("CLEANUP_INTERVAL_MINUTES", defaultSweepMinutes)) * time.Minute

	formats := envOrDefault("ALLOWED_FILE_FORMATS", "pdf,png,jpg,jpeg")
	for _, f := range strings.Split(formats, ",") {
		f = strings.ToLower(strings.TrimSpace(f))
		if f != "" {
			cfg.AllowedFormats = append(cfg.AllowedFormats, f)
		}
	}
	if len(cfg.AllowedFormats) == 0 {
		return nil, fmt.Errorf("ALLOWED_FILE_FORMATS resolves to an empty allow-list")
	}

	return cfg, nil
}

// BaseURL is the public origin used when building shareable form links.
func (c *Config) BaseURL() string {
	scheme := "http"
	if c.Env == "production" {
		scheme = "https"
	}
	return scheme + "://" + c.Host
}

func envOrDefault(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func envInt(name string, fallback int) int {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
