// ABOUTME: Application configuration for the pipeline engine
// ABOUTME: Merges .env, the XDG config file and environment variable overrides

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"github.com/spf13/cast"
)

const (
	AppName = "pipeline"

	BackendSQLite = "sqlite"
	BackendCharm  = "charm"

	ProviderRules  = "rules"
	ProviderOpenAI = "openai"
)

// InsightConfig selects and configures the insight generator.
type InsightConfig struct {
	Provider string `json:"provider"`
	BaseURL  string `json:"base_url,omitempty"`
	APIKey   string `json:"api_key,omitempty"`
	Model    string `json:"model,omitempty"`
}

type Config struct {
	DBPath        string        `json:"db_path"`
	Backend       string        `json:"backend"`
	UserID        string        `json:"user_id,omitempty"`
	LogLevel      string        `json:"log_level"`
	RetryAttempts int           `json:"retry_attempts"`
	Insight       InsightConfig `json:"insight"`
}

// Dir is the XDG data directory for the app.
func Dir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

func Path() string {
	return filepath.Join(Dir(), "config.json")
}

func Default() *Config {
	return &Config{
		DBPath:        filepath.Join(Dir(), "pipeline.db"),
		Backend:       BackendSQLite,
		LogLevel:      "info",
		RetryAttempts: 3,
		Insight: InsightConfig{
			Provider: ProviderRules,
			BaseURL:  "https://api.openai.com/v1",
			Model:    "gpt-4o-mini",
		},
	}
}

// Load reads .env from the working directory if present, then the config
// file at Path, then environment overrides.
func Load() (*Config, error) {
	LoadDotEnv()
	return LoadFrom(Path())
}

// LoadDotEnv loads .env from the working directory; a missing file is ignored.
func LoadDotEnv() {
	_ = godotenv.Load()
}

// LoadFrom reads the config file at path. A missing file yields defaults.
// Environment variables override file values:
// - PIPELINE_DB_PATH
// - PIPELINE_BACKEND
// - PIPELINE_USER_ID
// - PIPELINE_LOG_LEVEL
// - PIPELINE_RETRY_ATTEMPTS
// - INSIGHT_PROVIDER, INSIGHT_BASE_URL, INSIGHT_API_KEY, INSIGHT_MODEL.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()

	f, err := os.Open(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("failed to open config file: %w", err)
	default:
		defer func() { _ = f.Close() }()
		if err := json.NewDecoder(f).Decode(cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("PIPELINE_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("PIPELINE_BACKEND"); v != "" {
		cfg.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("PIPELINE_USER_ID"); v != "" {
		cfg.UserID = v
	}
	if v := os.Getenv("PIPELINE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("PIPELINE_RETRY_ATTEMPTS"); v != "" {
		n, err := cast.ToIntE(v)
		if err != nil {
			return fmt.Errorf("invalid PIPELINE_RETRY_ATTEMPTS %q: %w", v, err)
		}
		cfg.RetryAttempts = n
	}
	if v := os.Getenv("INSIGHT_PROVIDER"); v != "" {
		cfg.Insight.Provider = strings.ToLower(v)
	}
	if v := os.Getenv("INSIGHT_BASE_URL"); v != "" {
		cfg.Insight.BaseURL = v
	}
	if v := os.Getenv("INSIGHT_API_KEY"); v != "" {
		cfg.Insight.APIKey = v
	}
	if v := os.Getenv("INSIGHT_MODEL"); v != "" {
		cfg.Insight.Model = v
	}
	return nil
}

func (c *Config) Validate() error {
	switch c.Backend {
	case BackendSQLite, BackendCharm:
	default:
		return fmt.Errorf("unknown backend %q (want %s or %s)", c.Backend, BackendSQLite, BackendCharm)
	}
	switch c.Insight.Provider {
	case ProviderRules:
	case ProviderOpenAI:
		if c.Insight.BaseURL == "" {
			return fmt.Errorf("insight provider %s needs a base URL", ProviderOpenAI)
		}
	default:
		return fmt.Errorf("unknown insight provider %q", c.Insight.Provider)
	}
	if c.RetryAttempts < 1 {
		return fmt.Errorf("retry attempts must be at least 1, got %d", c.RetryAttempts)
	}
	return nil
}

// Save writes the config to path with restricted permissions.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
