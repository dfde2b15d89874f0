package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Default config file path.
const DefaultConfigPath = "~/.config/nobletrack/config.yaml"

// Idle threshold bounds in minutes.
const (
	MinIdleMinutes     = 1
	MaxIdleMinutes     = 240
	DefaultIdleMinutes = 30
)

// Config holds all NobleTrack configuration.
type Config struct {
	Remote   RemoteConfig   `yaml:"remote"`
	Privacy  PrivacyConfig  `yaml:"privacy"`
	Tracking TrackingConfig `yaml:"tracking"`
	Daemon   DaemonConfig   `yaml:"daemon"`
	Storage  StorageConfig  `yaml:"storage"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// RemoteConfig describes the spreadsheet-backed remote store. Either a full
// endpoint URL or a bare Apps Script deployment ID may be given; the
// deployment ID expands to the standard exec URL.
type RemoteConfig struct {
	Endpoint     string `yaml:"endpoint"`
	DeploymentID string `yaml:"deployment_id"`
	SharedSecret string `yaml:"shared_secret"`
	Telemetry    bool   `yaml:"telemetry"`
}

type PrivacyConfig struct {
	ConsentLogging bool `yaml:"consent_logging"`
	DomainOnly     bool `yaml:"domain_only"`
	AnonymizeURLs  bool `yaml:"anonymize_urls"`
	OmitTitles     bool `yaml:"omit_titles"`
}

type TrackingConfig struct {
	Users       []string `yaml:"users"`
	IdleMinutes int      `yaml:"idle_minutes"`
}

type DaemonConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type StorageConfig struct {
	Path       string `yaml:"path"`
	SQLiteFile string `yaml:"sqlite_file"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load reads a YAML config file at path and merges it with defaults.
// Returns an error if the file cannot be read or contains invalid YAML.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.normalize()
	return cfg, nil
}

// normalize clamps and cleans fields that arrive from user-edited YAML.
func (c *Config) normalize() {
	c.Remote.SharedSecret = strings.TrimSpace(c.Remote.SharedSecret)

	if c.Tracking.IdleMinutes < MinIdleMinutes {
		c.Tracking.IdleMinutes = DefaultIdleMinutes
	}
	if c.Tracking.IdleMinutes > MaxIdleMinutes {
		c.Tracking.IdleMinutes = MaxIdleMinutes
	}
	if len(c.Tracking.Users) == 0 {
		c.Tracking.Users = DefaultUsers()
	}
}

// EndpointURL returns the remote endpoint, expanding a bare deployment ID
// into the Apps Script exec URL. Empty when nothing is configured.
func (c *Config) EndpointURL() string {
	if c.Remote.Endpoint != "" {
		return c.Remote.Endpoint
	}
	if c.Remote.DeploymentID != "" {
		return fmt.Sprintf("https://script.google.com/macros/s/%s/exec", c.Remote.DeploymentID)
	}
	return ""
}

// HasSecret reports whether payload signing is configured.
func (c *Config) HasSecret() bool {
	return c.Remote.SharedSecret != ""
}

// AllowedUser reports whether name is in the configured users list.
func (c *Config) AllowedUser(name string) bool {
	for _, u := range c.Tracking.Users {
		if u == name {
			return true
		}
	}
	return false
}

// DatabasePath returns the resolved SQLite file path.
func (c *Config) DatabasePath() (string, error) {
	dir, err := expandPath(c.Storage.Path)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, c.Storage.SQLiteFile), nil
}

// expandPath replaces a leading ~ with the user's home directory.
func expandPath(path string) (string, error) {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving home directory: %w", err)
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// LoadOrCreate loads the config from the default path. If the file does
// not exist, it creates the directory structure and writes defaults.
func LoadOrCreate() (*Config, error) {
	path, err := expandPath(DefaultConfigPath)
	if err != nil {
		return nil, err
	}
	return LoadOrCreateAt(path)
}

// LoadOrCreateAt loads the config from the given path. If the file does
// not exist, it creates the directory structure and writes defaults.
func LoadOrCreateAt(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.normalize()

		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating config directory: %w", err)
		}

		data, err := yaml.Marshal(cfg)
		if err != nil {
			return nil, fmt.Errorf("marshaling default config: %w", err)
		}

		if err := os.WriteFile(path, data, 0600); err != nil {
			return nil, fmt.Errorf("writing default config: %w", err)
		}

		return cfg, nil
	}

	return Load(path)
}
