package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// ServerConfig holds configuration for the notification server.
type ServerConfig struct {
	// Server settings
	Port        int
	Environment string

	// Database
	DatabaseURL string

	// Content source
	YouTubeAPIKey string
	APIRateLimit  float64 // YouTube Data API requests per second
	SourceTimeout time.Duration

	// Monitoring defaults
	DefaultPollInterval  time.Duration
	MinPollInterval      time.Duration
	MaxConsecutiveErrors int
	MaxMonitors          int

	// Cache
	CacheTTL time.Duration

	// Shortener
	ShortenerTimeout time.Duration

	// Webhook
	WebhookTimeout time.Duration
	TestWebhookURL string

	// Timeouts
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Load loads the server configuration from environment variables.
func Load() (*ServerConfig, error) {
	cfg := &ServerConfig{
		Port:                 getEnvInt("PORT", 8080),
		Environment:          getEnv("ENVIRONMENT", "development"),
		DatabaseURL:          getEnv("DATABASE_URL", ""),
		YouTubeAPIKey:        getEnv("YOUTUBE_API_KEY", ""),
		APIRateLimit:         getEnvFloat("API_RATE_LIMIT", 5),
		SourceTimeout:        getEnvDuration("SOURCE_TIMEOUT", 15*time.Second),
		DefaultPollInterval:  getEnvDuration("DEFAULT_POLL_INTERVAL", 60*time.Second),
		MinPollInterval:      getEnvDuration("MIN_POLL_INTERVAL", 5*time.Second),
		MaxConsecutiveErrors: getEnvInt("MAX_CONSECUTIVE_ERRORS", 5),
		MaxMonitors:          getEnvInt("MAX_MONITORS", 50),
		CacheTTL:             getEnvDuration("CACHE_TTL", 30*time.Second),
		ShortenerTimeout:     getEnvDuration("SHORTENER_TIMEOUT", 10*time.Second),
		WebhookTimeout:       getEnvDuration("WEBHOOK_TIMEOUT", 10*time.Second),
		TestWebhookURL:       getEnv("TEST_WEBHOOK_URL", ""),
		ReadTimeout:          getEnvDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:         getEnvDuration("WRITE_TIMEOUT", 30*time.Second),
		ShutdownTimeout:      getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.MaxConsecutiveErrors <= 0 {
		return nil, fmt.Errorf("MAX_CONSECUTIVE_ERRORS must be positive")
	}
	if cfg.DefaultPollInterval < cfg.MinPollInterval {
		return nil, fmt.Errorf("DEFAULT_POLL_INTERVAL must be at least %s", cfg.MinPollInterval)
	}

	return cfg, nil
}

// IsDevelopment reports whether the server runs in development mode.
// Error responses include diagnostic detail only in development.
func (c *ServerConfig) IsDevelopment() bool {
	return c.Environment != "production"
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}
