package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds all engine configuration loaded from environment variables.
type Config struct {
	// General
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	ListenAddr  string `envconfig:"LISTEN_ADDR" default:":8080"`

	// Store. Driver is "sqlite" or "postgres"; DSN is a file path for
	// sqlite or a connection string for postgres.
	DBDriver string `envconfig:"DB_DRIVER" default:"sqlite"`
	DBDSN    string `envconfig:"DB_DSN" default:"overlap.db"`

	// Auth
	AuthMode  string `envconfig:"AUTH_MODE" default:"jwt"` // "jwt" or "none"
	JWTSecret string `envconfig:"JWT_SECRET"`

	// HTTP hardening
	RateLimitRPS   int    `envconfig:"RATE_LIMIT_RPS" default:"100"`
	RateLimitBurst int    `envconfig:"RATE_LIMIT_BURST" default:"200"`
	CORSOrigins    string `envconfig:"CORS_ORIGINS"`

	// Session lifecycle
	StaleTimeout time.Duration `envconfig:"STALE_TIMEOUT" default:"8h"`
	EndedTimeout time.Duration `envconfig:"ENDED_TIMEOUT" default:"24h"`
	SweepInterval time.Duration `envconfig:"SWEEP_INTERVAL" default:"10m"`

	// Enrichment
	EnrichEveryEvents int           `envconfig:"ENRICH_EVERY_EVENTS" default:"3"`
	EnrichThrottle    time.Duration `envconfig:"ENRICH_THROTTLE" default:"5s"`
	OverlapResultCap  int           `envconfig:"OVERLAP_RESULT_CAP" default:"10"`
	ScopeRulesPath    string        `envconfig:"SCOPE_RULES_PATH"`

	// Background tasks
	TaskWorkers   int `envconfig:"TASK_WORKERS" default:"4"`
	TaskQueueSize int `envconfig:"TASK_QUEUE_SIZE" default:"1000"`

	// Live stream
	StreamPollInterval      time.Duration `envconfig:"STREAM_POLL_INTERVAL" default:"3s"`
	StreamKeepaliveInterval time.Duration `envconfig:"STREAM_KEEPALIVE_INTERVAL" default:"25s"`

	// Slack overlap notifications (optional)
	SlackBotToken string `envconfig:"SLACK_BOT_TOKEN"`
	SlackChannel  string `envconfig:"SLACK_CHANNEL"`

	// GitHub repo metadata enrichment (optional)
	GitHubToken string `envconfig:"GITHUB_TOKEN"`
}

// SlackEnabled returns true if Slack notifications are configured.
func (c *Config) SlackEnabled() bool {
	return c.SlackBotToken != "" && c.SlackChannel != ""
}

// GitHubEnabled returns true if GitHub enrichment is configured.
func (c *Config) GitHubEnabled() bool {
	return c.GitHubToken != ""
}

// Load reads configuration from OVERLAP_-prefixed environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("OVERLAP", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if cfg.AuthMode == "jwt" && cfg.JWTSecret == "" {
		return nil, fmt.Errorf("OVERLAP_JWT_SECRET is required when auth mode is jwt")
	}
	return &cfg, nil
}

// ScopeRules maps path prefixes to semantic scope names for the heuristic
// classifier. Longest prefix wins.
type ScopeRules struct {
	Prefixes map[string]string `yaml:"prefixes"`
}

// LoadScopeRules reads the optional YAML scope-rules file. A missing path
// returns empty rules, not an error.
func LoadScopeRules(path string) (*ScopeRules, error) {
	if path == "" {
		return &ScopeRules{}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &ScopeRules{}, nil
		}
		return nil, fmt.Errorf("reading scope rules: %w", err)
	}
	var rules ScopeRules
	if err := yaml.Unmarshal(raw, &rules); err != nil {
		return nil, fmt.Errorf("parsing scope rules %s: %w", path, err)
	}
	return &rules, nil
}
