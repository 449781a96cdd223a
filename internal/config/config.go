// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string

	AnthropicAPIKey string
	TutorModel      string
	ClassifierModel string
	TutorMaxTokens  int64

	// StruggleThreshold is the count a topic must exceed before
	// intervention fires. Must be positive.
	StruggleThreshold int
	// ClassifierTimeout bounds the background classifier call so hung
	// calls cannot pile up background jobs.
	ClassifierTimeout time.Duration
	// TrackerTimeout bounds a full background analysis job.
	TrackerTimeout time.Duration
	// TrackerDrainTimeout is how long shutdown waits for in-flight jobs.
	TrackerDrainTimeout time.Duration

	ChatRateLimit      int
	ChatRateWindow     time.Duration
	MaxRequestBodySize int64
	HistoryWindow      int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/biocbot.db"),

		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		TutorModel:      getEnv("TUTOR_MODEL", "claude-sonnet-4-5-20250929"),
		ClassifierModel: getEnv("CLASSIFIER_MODEL", "claude-3-5-haiku-20241022"),
		TutorMaxTokens:  int64(getEnvInt("TUTOR_MAX_TOKENS", 1024)),

		StruggleThreshold:   getEnvInt("STRUGGLE_THRESHOLD", 3),
		ClassifierTimeout:   getEnvDuration("CLASSIFIER_TIMEOUT", 10*time.Second),
		TrackerTimeout:      getEnvDuration("TRACKER_TIMEOUT", 15*time.Second),
		TrackerDrainTimeout: getEnvDuration("TRACKER_DRAIN_TIMEOUT", 10*time.Second),

		ChatRateLimit:      getEnvInt("CHAT_RATE_LIMIT", 20),
		ChatRateWindow:     getEnvDuration("CHAT_RATE_WINDOW", time.Minute),
		MaxRequestBodySize: int64(getEnvInt("MAX_REQUEST_BODY_SIZE", 1<<20)),
		HistoryWindow:      getEnvInt("HISTORY_WINDOW", 12),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.AnthropicAPIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required")
	}
	if c.StruggleThreshold <= 0 {
		return fmt.Errorf("STRUGGLE_THRESHOLD must be > 0")
	}
	if c.ClassifierTimeout <= 0 {
		return fmt.Errorf("CLASSIFIER_TIMEOUT must be > 0")
	}
	if c.ChatRateLimit <= 0 {
		return fmt.Errorf("CHAT_RATE_LIMIT must be > 0")
	}
	if c.MaxRequestBodySize <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
