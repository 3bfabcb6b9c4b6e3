package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration values.
type Config struct {
	Port             string
	BackendURL       string
	BackendToken     string
	BackendTimeout   time.Duration
	RequestTimeout   time.Duration
	LogLevel         string // e.g., "debug", "info", "warn", "error"
	CertFile         string
	KeyFile          string
	AllowedOrigins   []string
	RabbitMQ_URL     string // empty disables run events and queued runs
	Postgres_DSN     string // empty disables the run archive
	MinIO_Endpoint   string // empty disables the artifact mirror
	MinIO_AccessKey  string
	MinIO_SecretKey  string
	MinIO_UseSSL     bool
	MinIO_BucketName string
	DispatchInterval time.Duration
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	// Helper to get env var with default
	getenv := func(key, fallback string) string {
		if value, exists := os.LookupEnv(key); exists {
			return value
		}
		return fallback
	}

	// Helper to get bool env var
	getenvBool := func(key string, fallback bool) bool {
		if valueStr, exists := os.LookupEnv(key); exists {
			value, err := strconv.ParseBool(valueStr)
			if err == nil {
				return value
			}
		}
		return fallback
	}

	// Helper to get duration env var
	getenvDuration := func(key string, fallback time.Duration) time.Duration {
		if valueStr, exists := os.LookupEnv(key); exists {
			value, err := time.ParseDuration(valueStr)
			if err == nil {
				return value
			}
		}
		return fallback
	}

	cfg := &Config{
		Port:             getenv("PORT", "8080"),
		BackendURL:       getenv("BACKEND_URL", "http://localhost:8000/api"),
		BackendToken:     getenv("BACKEND_TOKEN", ""),
		BackendTimeout:   getenvDuration("BACKEND_TIMEOUT", 15*time.Second),
		RequestTimeout:   getenvDuration("REQUEST_TIMEOUT", 15*time.Second),
		LogLevel:         getenv("LOG_LEVEL", "info"),
		CertFile:         getenv("CERT_FILE", ""),
		KeyFile:          getenv("KEY_FILE", ""),
		AllowedOrigins:   splitList(getenv("ALLOWED_ORIGINS", "*")),
		RabbitMQ_URL:     getenv("RABBITMQ_URL", ""),
		Postgres_DSN:     getenv("POSTGRES_DSN", ""),
		MinIO_Endpoint:   getenv("MINIO_ENDPOINT", ""),
		MinIO_AccessKey:  getenv("MINIO_ACCESS_KEY", ""),
		MinIO_SecretKey:  getenv("MINIO_SECRET_KEY", ""),
		MinIO_UseSSL:     getenvBool("MINIO_USE_SSL", false),
		MinIO_BucketName: getenv("MINIO_BUCKET_NAME", "test-artifacts"),
		DispatchInterval: getenvDuration("DISPATCH_INTERVAL", 5*time.Second),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise only fail on first use.
func (c *Config) Validate() error {
	u, err := url.Parse(c.BackendURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("BACKEND_URL %q must be an absolute http(s) URL", c.BackendURL)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	if (c.CertFile == "") != (c.KeyFile == "") {
		return fmt.Errorf("CERT_FILE and KEY_FILE must be set together")
	}
	if c.MinIO_Endpoint != "" && (c.MinIO_AccessKey == "" || c.MinIO_SecretKey == "") {
		return fmt.Errorf("MINIO_ACCESS_KEY and MINIO_SECRET_KEY are required when MINIO_ENDPOINT is set")
	}
	if c.DispatchInterval <= 0 {
		return fmt.Errorf("DISPATCH_INTERVAL must be positive")
	}
	return nil
}

func (c *Config) TLSEnabled() bool {
	return c.CertFile != "" && c.KeyFile != ""
}

func (c *Config) ArchiveEnabled() bool { return c.Postgres_DSN != "" }

func (c *Config) ArtifactsEnabled() bool { return c.MinIO_Endpoint != "" }

func (c *Config) QueueEnabled() bool { return c.RabbitMQ_URL != "" }

// ParseLogLevel maps LOG_LEVEL values onto slog levels.
func ParseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
