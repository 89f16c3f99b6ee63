package config

import (
	"strings"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Matcher.Dim != 128 {
		t.Errorf("expected dim 128, got %d", cfg.Matcher.Dim)
	}
	if cfg.Matcher.Threshold != 0.4 {
		t.Errorf("expected threshold 0.4, got %v", cfg.Matcher.Threshold)
	}
	if cfg.Matcher.Strategy != "exact" {
		t.Errorf("expected exact strategy, got %q", cfg.Matcher.Strategy)
	}
	if cfg.Session.ReapInterval != 30*time.Second {
		t.Errorf("expected reap interval 30s, got %v", cfg.Session.ReapInterval)
	}
	if cfg.Registration.Samples != 5 {
		t.Errorf("expected 5 samples, got %d", cfg.Registration.Samples)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("ATTENDANCE_DESCRIPTOR_DIM", "512")
	t.Setenv("MATCH_THRESHOLD", "0.55")
	t.Setenv("MATCH_STRATEGY", "indexed")
	t.Setenv("SCAN_COOLDOWN", "2m")
	t.Setenv("DATABASE_URL", "postgres://localhost/attendance")
	t.Setenv("WEB_PORT", "9090")
	t.Setenv("WEB_ALLOWED_ORIGINS", "https://kiosk.example.org, ,https://admin.example.org")

	cfg := Load()

	if cfg.Matcher.Dim != 512 {
		t.Errorf("expected dim 512, got %d", cfg.Matcher.Dim)
	}
	if cfg.Matcher.Threshold != 0.55 {
		t.Errorf("expected threshold 0.55, got %v", cfg.Matcher.Threshold)
	}
	if cfg.Matcher.Strategy != "indexed" {
		t.Errorf("expected indexed, got %q", cfg.Matcher.Strategy)
	}
	if cfg.Scan.Cooldown != 2*time.Minute {
		t.Errorf("expected 2m cooldown, got %v", cfg.Scan.Cooldown)
	}
	if cfg.Database.URL != "postgres://localhost/attendance" {
		t.Errorf("unexpected database URL %q", cfg.Database.URL)
	}
	if got := cfg.Web.ListenAddr(); got != "0.0.0.0:9090" {
		t.Errorf("expected 0.0.0.0:9090, got %q", got)
	}
	if len(cfg.Web.AllowedOrigins) != 2 || cfg.Web.AllowedOrigins[1] != "https://admin.example.org" {
		t.Errorf("unexpected allowed origins %v", cfg.Web.AllowedOrigins)
	}
	if cfg.Web.MaxUploadMB != 32 {
		t.Errorf("expected default upload limit 32, got %d", cfg.Web.MaxUploadMB)
	}
}

func TestLoad_InvalidEnvFallsBack(t *testing.T) {
	t.Setenv("ATTENDANCE_DESCRIPTOR_DIM", "-3")
	t.Setenv("MATCH_THRESHOLD", "abc")
	t.Setenv("SESSION_REAP_INTERVAL", "soon")

	cfg := Load()

	if cfg.Matcher.Dim != 128 {
		t.Errorf("expected fallback dim 128, got %d", cfg.Matcher.Dim)
	}
	if cfg.Matcher.Threshold != 0.4 {
		t.Errorf("expected fallback threshold 0.4, got %v", cfg.Matcher.Threshold)
	}
	if cfg.Session.ReapInterval != 30*time.Second {
		t.Errorf("expected fallback 30s, got %v", cfg.Session.ReapInterval)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults are valid", func(*Config) {}, ""},
		{"threshold above one", func(c *Config) { c.Matcher.Threshold = 1.5 }, "match threshold"},
		{"unknown strategy", func(c *Config) { c.Matcher.Strategy = "fuzzy" }, "unknown match strategy"},
		{"unknown extractor", func(c *Config) { c.Extractor.Backend = "magic" }, "unknown extractor"},
		{"http without url", func(c *Config) { c.Extractor.URL = "" }, "EMBEDDING_URL"},
		{"simulated without url", func(c *Config) { c.Extractor.Backend = "simulated"; c.Extractor.URL = "" }, ""},
		{"zero dim", func(c *Config) { c.Matcher.Dim = 0 }, "dimension"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}
