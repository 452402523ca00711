package rivalwatch

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/rivalwatch/rivalwatch/internal/fetch"
)

// Config configures the rivalwatch service. Durations accept Go syntax
// ("30s", "24h") in YAML.
type Config struct {
	// DBPath is the SQLite database file.
	DBPath string `yaml:"db_path" validate:"required"`
	// Listen is the HTTP API address.
	Listen string `yaml:"listen"`
	// LogLevel is debug, info, warn or error.
	LogLevel string `yaml:"log_level" validate:"oneof=debug info warn error"`
	// LogFormat is json or text.
	LogFormat string `yaml:"log_format" validate:"oneof=json text"`
	// TechRules is an optional YAML file replacing the built-in technology rules.
	TechRules string `yaml:"tech_rules"`

	Fetch      FetchConfig      `yaml:"fetch"`
	Render     RenderConfig     `yaml:"render"`
	Engine     EngineConfig     `yaml:"engine"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`

	// RouteWatchInterval is how often the routes table is polled. Default: 2s.
	RouteWatchInterval time.Duration `yaml:"route_watch_interval"`
	// EventRetentionDays bounds the business event log. Unset: 90. Zero or
	// negative keeps every event.
	EventRetentionDays *int `yaml:"event_retention_days"`
}

// FetchConfig configures page retrieval.
type FetchConfig struct {
	Timeout   time.Duration `yaml:"timeout"`
	MaxBytes  int64         `yaml:"max_bytes" validate:"gte=0"`
	UserAgent string        `yaml:"user_agent"`
}

// RenderConfig configures the headless browser fallback.
type RenderConfig struct {
	// Mode is http, auto or browser.
	Mode string `yaml:"mode" validate:"oneof=http auto browser"`
	// RemoteURL is the DevTools URL of an external Chrome.
	RemoteURL string        `yaml:"remote_url"`
	Settle    time.Duration `yaml:"settle"`
}

// EngineConfig selects the LLM behind the local compare_snapshots handler.
// An empty Provider registers no local handler; a route must then be set
// in the routes table.
type EngineConfig struct {
	Provider    string        `yaml:"provider" validate:"omitempty,oneof=gemini openai"`
	BaseURL     string        `yaml:"base_url" validate:"omitempty,url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	Temperature *float64      `yaml:"temperature" validate:"omitempty,gte=0,lte=2"` // unset: 0.2
	Timeout     time.Duration `yaml:"timeout"`
}

// ClassifierConfig configures change classification.
type ClassifierConfig struct {
	MaxChars int `yaml:"max_chars" validate:"gte=0"`
}

// SchedulerConfig configures background scans.
type SchedulerConfig struct {
	// Disabled turns off background scans; manual scans still work.
	Disabled      bool          `yaml:"disabled"`
	CheckInterval time.Duration `yaml:"check_interval"`
	MaxFailCount  int           `yaml:"max_fail_count" validate:"gte=0"`
	Concurrency   int           `yaml:"concurrency" validate:"gte=0,lte=64"`
}

func (c *Config) defaults() {
	if c.DBPath == "" {
		c.DBPath = "data/rivalwatch.db"
	}
	if c.Listen == "" {
		c.Listen = ":8080"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "json"
	}
	if c.Fetch.Timeout <= 0 {
		c.Fetch.Timeout = 30 * time.Second
	}
	if c.Fetch.MaxBytes <= 0 {
		c.Fetch.MaxBytes = 10 * 1024 * 1024
	}
	if c.Fetch.UserAgent == "" {
		c.Fetch.UserAgent = fetch.DefaultUserAgent
	}
	if c.Render.Mode == "" {
		c.Render.Mode = fetch.ModeHTTP
	}
	if c.Render.Settle <= 0 {
		c.Render.Settle = 2 * time.Second
	}
	if c.Engine.Temperature == nil {
		c.Engine.Temperature = ptr(0.2)
	}
	if c.Engine.Timeout <= 0 {
		c.Engine.Timeout = 60 * time.Second
	}
	if c.Classifier.MaxChars <= 0 {
		c.Classifier.MaxChars = 10_000
	}
	if c.Scheduler.CheckInterval <= 0 {
		c.Scheduler.CheckInterval = time.Minute
	}
	if c.Scheduler.MaxFailCount <= 0 {
		c.Scheduler.MaxFailCount = 10
	}
	if c.Scheduler.Concurrency <= 0 {
		c.Scheduler.Concurrency = 4
	}
	if c.RouteWatchInterval <= 0 {
		c.RouteWatchInterval = 2 * time.Second
	}
	if c.EventRetentionDays == nil {
		c.EventRetentionDays = ptr(90)
	}
}

func ptr[T any](v T) *T { return &v }

// DefaultConfig returns a Config with every default applied.
func DefaultConfig() *Config {
	c := &Config{}
	c.defaults()
	return c
}

// LoadConfig reads path, then <name>.local.<ext> next to it when present,
// each merged over the defaults. An empty path returns the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	ext := filepath.Ext(path)
	local := strings.TrimSuffix(path, ext) + ".local" + ext

	found := false
	for _, p := range []string{path, local} {
		data, err := os.ReadFile(p)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("rivalwatch: read config: %w", err)
		}
		var override Config
		if err := yaml.Unmarshal(data, &override); err != nil {
			return nil, fmt.Errorf("rivalwatch: parse config %s: %w", p, err)
		}
		// Pointer fields are replaced, not dereferenced, so an explicit 0 wins.
		if err := mergo.Merge(cfg, override, mergo.WithOverride, mergo.WithoutDereference); err != nil {
			return nil, fmt.Errorf("rivalwatch: merge config %s: %w", p, err)
		}
		if p == local {
			slog.Info("rivalwatch: merged local config overrides", "local", local)
		}
		found = true
	}
	if !found {
		return nil, fmt.Errorf("rivalwatch: config %s: %w", path, os.ErrNotExist)
	}

	cfg.defaults()
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseLevel maps a log_level value to a slog.Level. Unknown values are info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
