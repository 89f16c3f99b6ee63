package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kozaktomas/face-attendance/internal/facematch"
)

//go:embed defaults.yaml
var defaultsYAML []byte

type Config struct {
	Matcher      MatcherConfig      `yaml:"matcher"`
	Session      SessionConfig      `yaml:"session"`
	Registration RegistrationConfig `yaml:"registration"`
	Extractor    ExtractorConfig    `yaml:"extractor"`
	Descriptors  DescriptorsConfig  `yaml:"descriptors"`
	Scan         ScanConfig         `yaml:"scan"`
	Audit        AuditConfig        `yaml:"audit"`
	Archive      ArchiveConfig      `yaml:"archive"`
	Web          WebConfig          `yaml:"web"`
	Log          LogConfig          `yaml:"log"`
	Database     DatabaseConfig     `yaml:"-"`
	NATS         NATSConfig         `yaml:"-"`
	Redis        RedisConfig        `yaml:"-"`
}

type MatcherConfig struct {
	Dim            int     `yaml:"dim"`             // descriptor length, fixed per deployment
	Threshold      float64 `yaml:"threshold"`       // minimum confidence to accept a match
	HighConfidence float64 `yaml:"high_confidence"` // early-exit cutoff
	Strategy       string  `yaml:"strategy"`        // exact, early-exit or indexed
	IndexNeighbors int     `yaml:"index_neighbors"`
}

type SessionConfig struct {
	ReapInterval time.Duration `yaml:"reap_interval"`
	MaxMinutes   int           `yaml:"max_minutes"`
}

type RegistrationConfig struct {
	Samples     int `yaml:"samples"`
	FrameFactor int `yaml:"frame_factor"` // frames examined = samples * factor
}

type ExtractorConfig struct {
	Backend string        `yaml:"backend"` // http or simulated
	URL     string        `yaml:"url"`     // embedding server, defaults to http://localhost:8000
	Timeout time.Duration `yaml:"timeout"`
	Retries int           `yaml:"retries"`
}

type DescriptorsConfig struct {
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

type ScanConfig struct {
	Cooldown time.Duration `yaml:"cooldown"`
}

type AuditConfig struct {
	Buffer int `yaml:"buffer"`
}

type ArchiveConfig struct {
	Bucket   string `yaml:"bucket"` // empty disables archiving
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"` // S3-compatible endpoint (MinIO etc.), optional
	Prefix   string `yaml:"prefix"`
}

type WebConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	APIToken string `yaml:"-"` // bearer token; empty disables auth

	AllowedOrigins []string `yaml:"allowed_origins"`
	MaxUploadMB    int      `yaml:"max_upload_mb"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type DatabaseConfig struct {
	URL          string // PostgreSQL connection URL; empty selects the in-memory store
	MaxOpenConns int    // Maximum open connections (default 25)
	MaxIdleConns int    // Maximum idle connections (default 5)
}

type NATSConfig struct {
	URL string // empty selects the in-process event hub
}

type RedisConfig struct {
	URL string // empty selects the in-memory scan cooldown
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads a non-negative float, falling back to defaultVal.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 0 {
		return f
	}
	return defaultVal
}

// envDuration reads a Go duration string such as "45s", falling back to defaultVal.
func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// envList reads a comma-separated list, dropping empty items.
func envList(key string, defaultVal []string) []string {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	var out []string
	for item := range strings.SplitSeq(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Defaults returns the embedded defaults without environment overrides.
func Defaults() *Config {
	var cfg Config
	if err := yaml.Unmarshal(defaultsYAML, &cfg); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}
	return &cfg
}

func Load() *Config {
	d := Defaults()

	return &Config{
		Matcher: MatcherConfig{
			Dim:            envInt("ATTENDANCE_DESCRIPTOR_DIM", d.Matcher.Dim),
			Threshold:      envFloat("MATCH_THRESHOLD", d.Matcher.Threshold),
			HighConfidence: envFloat("MATCH_HIGH_CONFIDENCE", d.Matcher.HighConfidence),
			Strategy:       envString("MATCH_STRATEGY", d.Matcher.Strategy),
			IndexNeighbors: envInt("MATCH_INDEX_NEIGHBORS", d.Matcher.IndexNeighbors),
		},
		Session: SessionConfig{
			ReapInterval: envDuration("SESSION_REAP_INTERVAL", d.Session.ReapInterval),
			MaxMinutes:   envInt("SESSION_MAX_MINUTES", d.Session.MaxMinutes),
		},
		Registration: RegistrationConfig{
			Samples:     envInt("REGISTRATION_SAMPLES", d.Registration.Samples),
			FrameFactor: envInt("REGISTRATION_FRAME_FACTOR", d.Registration.FrameFactor),
		},
		Extractor: ExtractorConfig{
			Backend: envString("EXTRACTOR", d.Extractor.Backend),
			URL:     envString("EMBEDDING_URL", d.Extractor.URL),
			Timeout: envDuration("EXTRACTOR_TIMEOUT", d.Extractor.Timeout),
			Retries: envInt("EXTRACTOR_RETRIES", d.Extractor.Retries),
		},
		Descriptors: DescriptorsConfig{
			CacheTTL: envDuration("DESCRIPTOR_CACHE_TTL", d.Descriptors.CacheTTL),
		},
		Scan: ScanConfig{
			Cooldown: envDuration("SCAN_COOLDOWN", d.Scan.Cooldown),
		},
		Audit: AuditConfig{
			Buffer: envInt("AUDIT_BUFFER", d.Audit.Buffer),
		},
		Archive: ArchiveConfig{
			Bucket:   envString("ARCHIVE_S3_BUCKET", d.Archive.Bucket),
			Region:   envString("ARCHIVE_S3_REGION", d.Archive.Region),
			Endpoint: envString("ARCHIVE_S3_ENDPOINT", d.Archive.Endpoint),
			Prefix:   envString("ARCHIVE_S3_PREFIX", d.Archive.Prefix),
		},
		Web: WebConfig{
			Host:     envString("WEB_HOST", d.Web.Host),
			Port:     envInt("WEB_PORT", d.Web.Port),
			APIToken: os.Getenv("WEB_API_TOKEN"),

			AllowedOrigins: envList("WEB_ALLOWED_ORIGINS", d.Web.AllowedOrigins),
			MaxUploadMB:    envInt("WEB_MAX_UPLOAD_MB", d.Web.MaxUploadMB),
		},
		Log: LogConfig{
			Level:  envString("LOG_LEVEL", d.Log.Level),
			Format: envString("LOG_FORMAT", d.Log.Format),
		},
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		NATS: NATSConfig{
			URL: os.Getenv("NATS_URL"),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
	}
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Matcher.Dim <= 0 {
		errs = append(errs, fmt.Errorf("descriptor dimension must be positive, got %d", c.Matcher.Dim))
	}
	if c.Matcher.Threshold < 0 || c.Matcher.Threshold > 1 {
		errs = append(errs, fmt.Errorf("match threshold must be within [0, 1], got %v", c.Matcher.Threshold))
	}
	if c.Matcher.HighConfidence < 0 || c.Matcher.HighConfidence > 1 {
		errs = append(errs, fmt.Errorf("high confidence must be within [0, 1], got %v", c.Matcher.HighConfidence))
	}
	if _, err := facematch.ParseStrategy(c.Matcher.Strategy); err != nil {
		errs = append(errs, err)
	}
	switch c.Extractor.Backend {
	case "http", "simulated":
	default:
		errs = append(errs, fmt.Errorf("unknown extractor %q (want http or simulated)", c.Extractor.Backend))
	}
	if c.Extractor.Backend == "http" && c.Extractor.URL == "" {
		errs = append(errs, errors.New("EMBEDDING_URL is required for the http extractor"))
	}
	if c.Registration.Samples <= 0 {
		errs = append(errs, fmt.Errorf("registration samples must be positive, got %d", c.Registration.Samples))
	}
	if c.Registration.FrameFactor <= 0 {
		errs = append(errs, fmt.Errorf("registration frame factor must be positive, got %d", c.Registration.FrameFactor))
	}
	if c.Audit.Buffer <= 0 {
		errs = append(errs, fmt.Errorf("audit buffer must be positive, got %d", c.Audit.Buffer))
	}
	return errors.Join(errs...)
}

// ListenAddr returns host:port for the HTTP server.
func (c *WebConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
