// Package config loads configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all server configuration.
type Config struct {
	// Server
	ListenAddr  string
	MetricsAddr string

	// Logging
	LogLevel  string
	LogFormat string

	// Database
	DatabaseURL string

	// Auth
	JWTSecret string

	// Storage
	UploadDir string

	// Image processing: web variant cap, longest side in pixels.
	// Thumbnail size and encoding qualities are fixed (see storage).
	WebMaxDimension int

	// Variant derivation worker count (CPU-bound resize pool)
	DeriveWorkers int

	// Uploads
	MaxUploadSize int64

	// Cleanup
	SweepInterval time.Duration

	// Credential attempts allowed per client per minute on login, 2FA,
	// and share password endpoints. Zero disables the limit.
	AuthRateLimit int

	// CORS
	AllowedOrigins string
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:      envOr("LISTEN_ADDR", ":8080"),
		MetricsAddr:     envOr("METRICS_ADDR", ":9090"),
		LogLevel:        envOr("LOG_LEVEL", "info"),
		LogFormat:       envOr("LOG_FORMAT", "json"),
		DatabaseURL:     envOr("DATABASE_URL", ""),
		JWTSecret:       envOr("JWT_SECRET", ""),
		UploadDir:       envOr("UPLOAD_DIR", "./uploads"),
		WebMaxDimension: envInt("WEB_MAX_DIMENSION", 2400),
		DeriveWorkers:   envInt("DERIVE_WORKERS", 2),
		MaxUploadSize:   envInt64("MAX_UPLOAD_SIZE", 500*1024*1024), // 500MB default
		SweepInterval:   time.Duration(envInt("SWEEP_INTERVAL_SECONDS", 1800)) * time.Second,
		AuthRateLimit:   envInt("AUTH_RATE_LIMIT", 10),
		AllowedOrigins:  envOr("ALLOWED_ORIGINS", "*"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}
