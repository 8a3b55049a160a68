// ABOUTME: Configuration for the Charm KV deal backend
// ABOUTME: Persists server host and auto-sync preference under the XDG data dir

package charm

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/charmbracelet/charm/kv"
)

const (
	// DefaultCharmHost is the self-hosted charm server.
	DefaultCharmHost = "charm.2389.dev"

	// AppName names both the charm KV database and the local data dir.
	AppName = "pipeline"

	ConfigFileName = "charm-config.json"
)

// Config holds charm connection settings.
type Config struct {
	Host string `json:"host,omitempty"`

	// AutoSync pushes every write to the server immediately.
	AutoSync bool `json:"auto_sync"`

	StaleThreshold time.Duration `json:"stale_threshold,omitempty"`
}

func DefaultConfig() *Config {
	return &Config{
		Host:           DefaultCharmHost,
		AutoSync:       true,
		StaleThreshold: kv.DefaultStaleThreshold,
	}
}

var configPathFunc = func() (string, error) {
	dataDir := filepath.Join(xdg.DataHome, AppName)
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return "", err
	}
	return filepath.Join(dataDir, ConfigFileName), nil
}

// LoadConfig loads config from disk, falling back to defaults when the file
// is missing or unreadable JSON.
func LoadConfig() (*Config, error) {
	path, err := configPathFunc()
	if err != nil {
		return DefaultConfig(), nil //nolint:nilerr // no data dir means defaults
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return DefaultConfig(), nil //nolint:nilerr // corrupt config means defaults
	}

	if cfg.Host == "" {
		cfg.Host = DefaultCharmHost
	}
	if cfg.StaleThreshold == 0 {
		cfg.StaleThreshold = kv.DefaultStaleThreshold
	}
	if host := os.Getenv("CHARM_HOST"); host != "" {
		cfg.Host = host
	}

	return &cfg, nil
}

// Save persists the config to disk.
func (c *Config) Save() error {
	path, err := configPathFunc()
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

func (c *Config) SetAutoSync(enabled bool) error {
	c.AutoSync = enabled
	return c.Save()
}
