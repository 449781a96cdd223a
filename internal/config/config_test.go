package config

import (
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Port:               "8080",
		DBPath:             "./data/biocbot.db",
		AnthropicAPIKey:    "sk-test",
		StruggleThreshold:  3,
		ClassifierTimeout:  10 * time.Second,
		ChatRateLimit:      20,
		MaxRequestBodySize: 1 << 20,
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"empty port", func(c *Config) { c.Port = "" }, true},
		{"empty db path", func(c *Config) { c.DBPath = "" }, true},
		{"missing api key", func(c *Config) { c.AnthropicAPIKey = "" }, true},
		{"zero threshold", func(c *Config) { c.StruggleThreshold = 0 }, true},
		{"negative threshold", func(c *Config) { c.StruggleThreshold = -1 }, true},
		{"zero classifier timeout", func(c *Config) { c.ClassifierTimeout = 0 }, true},
		{"zero rate limit", func(c *Config) { c.ChatRateLimit = 0 }, true},
		{"zero body size", func(c *Config) { c.MaxRequestBodySize = 0 }, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantErr && err == nil {
				t.Error("expected validation error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("expected valid config, got %v", err)
			}
		})
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("expected default port 8080, got %q", cfg.Port)
	}
	if cfg.StruggleThreshold != 3 {
		t.Errorf("expected default threshold 3, got %d", cfg.StruggleThreshold)
	}
	if cfg.ClassifierTimeout != 10*time.Second {
		t.Errorf("expected default classifier timeout 10s, got %v", cfg.ClassifierTimeout)
	}
	if cfg.HistoryWindow != 12 {
		t.Errorf("expected default history window 12, got %d", cfg.HistoryWindow)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	t.Setenv("PORT", "9000")
	t.Setenv("STRUGGLE_THRESHOLD", "5")
	t.Setenv("CLASSIFIER_TIMEOUT", "2s")
	t.Setenv("FRONTEND_URL", "https://biocbot.example.edu")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "9000" {
		t.Errorf("expected port 9000, got %q", cfg.Port)
	}
	if cfg.StruggleThreshold != 5 {
		t.Errorf("expected threshold 5, got %d", cfg.StruggleThreshold)
	}
	if cfg.ClassifierTimeout != 2*time.Second {
		t.Errorf("expected 2s timeout, got %v", cfg.ClassifierTimeout)
	}
	if cfg.IsDevelopment() {
		t.Error("expected production mode with non-local frontend URL")
	}
}

func TestLoadMissingAPIKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")

	if _, err := Load(); err == nil {
		t.Error("expected error when ANTHROPIC_API_KEY is unset")
	}
}

func TestGetEnvIntBadValue(t *testing.T) {
	t.Setenv("STRUGGLE_THRESHOLD", "not-a-number")

	if got := getEnvInt("STRUGGLE_THRESHOLD", 3); got != 3 {
		t.Errorf("expected fallback 3 on bad value, got %d", got)
	}
}

func TestIsDevelopment(t *testing.T) {
	cases := []struct {
		url  string
		want bool
	}{
		{"", true},
		{"http://localhost:3000", true},
		{"http://127.0.0.1:3000", true},
		{"https://biocbot.example.edu", false},
	}
	for _, tc := range cases {
		cfg := &Config{FrontendURL: tc.url}
		if got := cfg.IsDevelopment(); got != tc.want {
			t.Errorf("IsDevelopment(%q) = %v, want %v", tc.url, got, tc.want)
		}
	}
}
