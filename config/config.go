// Package config holds the tunable options of a larder database and their
// YAML file representation.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds all database options.
type Config struct {
	// JournalMode is the SQLite journal mode; defaults to WAL.
	JournalMode string `yaml:"journal_mode"`
	// Synchronous is the durability mode; defaults to NORMAL.
	Synchronous string `yaml:"synchronous"`
	// BusyTimeoutMS is the engine busy handler timeout.
	BusyTimeoutMS int `yaml:"busy_timeout_ms"`
	// Monitor enables external-change detection via data-version polling
	// and filesystem watching.
	Monitor bool `yaml:"monitor"`
	// CacheCapacity is the per-table result cache entry limit.
	CacheCapacity int `yaml:"cache_capacity"`
	// BackupPages is the page count copied per backup step.
	BackupPages int `yaml:"backup_pages"`
	// Journal configures the optional JSON-lines change journal.
	Journal JournalConfig `yaml:"journal"`
}

// JournalConfig configures the change journal file.
type JournalConfig struct {
	// Path is empty when the journal is disabled.
	Path      string `yaml:"path,omitempty"`
	MaxSizeMB int    `yaml:"max_size_mb,omitempty"`
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
	return &Config{
		JournalMode:   "WAL",
		Synchronous:   "NORMAL",
		BusyTimeoutMS: 5000,
		CacheCapacity: 512,
		BackupPages:   64,
	}
}

// Load reads a Config from the YAML file at path. If the file does not
// exist, it returns Default without error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// ConfigDir returns the directory holding the default config file.
func ConfigDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate config dir: %w", err)
	}
	return filepath.Join(base, "larder"), nil
}

// LoadDefault reads the Config from its default location, falling back to
// defaults when the file does not exist.
func LoadDefault() (*Config, error) {
	dir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	return Load(filepath.Join(dir, "config.yaml"))
}

// Save writes the Config to the YAML file at path, creating any necessary
// parent directories.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
