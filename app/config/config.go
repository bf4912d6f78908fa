package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"planify/app/services/ai"
	"planify/app/services/gcal"
	"planify/app/session"
	coreconfig "planify/core/config"
	coredatabase "planify/core/database"
)

// SessionConfig tunes the dialogue state machine.
type SessionConfig struct {
	ListPageSize           int `yaml:"list_page_size" envconfig:"SESSION_LIST_PAGE_SIZE" default:"10"`
	ExtractTimeoutSeconds  int `yaml:"extract_timeout_seconds" envconfig:"SESSION_EXTRACT_TIMEOUT_SECONDS" default:"30"`
	CalendarTimeoutSeconds int `yaml:"calendar_timeout_seconds" envconfig:"SESSION_CALENDAR_TIMEOUT_SECONDS" default:"15"`
	AuthTimeoutSeconds     int `yaml:"auth_timeout_seconds" envconfig:"SESSION_AUTH_TIMEOUT_SECONDS" default:"15"`
}

// Config is the full application configuration: the shared bot core plus
// the calendar, extraction, and storage backends.
type Config struct {
	Core     coreconfig.Config   `yaml:",inline"`
	Database coredatabase.Config `yaml:"database"`
	Google   gcal.Config         `yaml:"google"`
	AI       ai.Config           `yaml:"ai"`
	Session  SessionConfig       `yaml:"session"`
}

// Load reads YAML, overlays environment variables, and validates.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("config: environment overlay: %w", err)
	}
	if err := coreconfig.Normalize(&cfg.Core); err != nil {
		return nil, err
	}
	if cfg.Google.ClientID == "" || cfg.Google.ClientSecret == "" {
		return nil, fmt.Errorf("config: google client_id and client_secret are required")
	}
	if cfg.AI.APIKey == "" {
		return nil, fmt.Errorf("config: ai api_key is required")
	}
	return cfg, nil
}

// CoreConfig exposes the embedded bot core configuration.
func (c *Config) CoreConfig() *coreconfig.Config {
	return &c.Core
}

// SessionConfig maps the timeout knobs onto the dispatcher's config.
func (c *Config) SessionConfig() session.Config {
	return session.Config{
		ListPageSize:    c.Session.ListPageSize,
		ExtractTimeout:  time.Duration(c.Session.ExtractTimeoutSeconds) * time.Second,
		CalendarTimeout: time.Duration(c.Session.CalendarTimeoutSeconds) * time.Second,
		AuthTimeout:     time.Duration(c.Session.AuthTimeoutSeconds) * time.Second,
	}
}
