// Package config provides configuration management for Stagehand.
//
// The config file describes how the server runs (listen address, database,
// sync timing, logging, seed file). Room state itself lives in the database
// and survives config changes.
//
// Config file locations (priority order):
//  1. $STAGEHAND_CONFIG
//  2. ./stagehand.yaml
//  3. $XDG_CONFIG_HOME/stagehand/config.yaml
//  4. ~/.config/stagehand/config.yaml
//  5. /etc/stagehand/config.yaml
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath names an explicit config file
const EnvConfigPath = "STAGEHAND_CONFIG"

// SearchPaths lists the candidate config files, highest priority first
func SearchPaths() []string {
	var paths []string
	if path := os.Getenv(EnvConfigPath); path != "" {
		paths = append(paths, path)
	}
	paths = append(paths, "stagehand.yaml")
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		paths = append(paths, filepath.Join(xdg, "stagehand", "config.yaml"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "stagehand", "config.yaml"))
	}
	return append(paths, "/etc/stagehand/config.yaml")
}

// Load reads the first config file found on SearchPaths, or returns
// defaults if there is none. A file that exists but cannot be parsed is
// an error.
func Load() (*Config, string, error) {
	for _, path := range SearchPaths() {
		cfg, _, err := LoadFromPath(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		return cfg, path, err
	}
	return DefaultConfig(), "", nil
}

// LoadFromPath loads config from a specific path
func LoadFromPath(path string) (*Config, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, path, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, path, nil
}

// Save writes config to the specified path
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}

// DefaultConfig returns sensible defaults for a new installation
func DefaultConfig() *Config {
	return &Config{
		Version:  1,
		Profile:  ProfileBalanced,
		Server:   ServerConfig{Addr: DefaultAddr},
		Database: DatabaseConfig{Path: "./stagehand.db"},
		Sync:     SyncConfig{Room: DefaultRoom},
		Log:      LogConfig{Level: "info", Format: "console"},
	}
}

// applyDefaults fills in missing values with defaults
func (c *Config) applyDefaults() {
	if c.Version == 0 {
		c.Version = 1
	}
	if c.Profile == "" {
		c.Profile = ProfileBalanced
	}
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultAddr
	}
	if c.Database.Path == "" {
		c.Database.Path = "./stagehand.db"
	}
	if c.Sync.Room == "" {
		c.Sync.Room = DefaultRoom
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
}

// EffectiveTiming returns the profile timing with overrides applied
func (c *Config) EffectiveTiming() Timing {
	base := c.Profile.GetTiming()

	// Apply overrides
	if c.Sync.TickInterval != nil {
		base.TickInterval = c.Sync.TickInterval.Duration()
	}
	if c.Sync.SnapshotInterval != nil {
		base.SnapshotInterval = c.Sync.SnapshotInterval.Duration()
	}
	if c.Sync.PersistInterval != nil {
		base.PersistInterval = c.Sync.PersistInterval.Duration()
	}
	if c.Sync.MaxPeers != nil {
		base.MaxPeers = *c.Sync.MaxPeers
	}

	return base
}

// Summary returns a human-readable config summary
func (c *Config) Summary() string {
	timing := c.EffectiveTiming()

	summary := fmt.Sprintf("Room: %s, Profile: %s, Listen: %s\n", c.Sync.Room, c.Profile, c.Server.Addr)
	summary += fmt.Sprintf("Tick: %s, Snapshot: %s, Persist: %s, Peers: %d\n",
		timing.TickInterval, timing.SnapshotInterval, timing.PersistInterval, timing.MaxPeers)
	summary += fmt.Sprintf("Database: %s", c.Database.Path)
	if c.Seed.Path != "" {
		summary += fmt.Sprintf(", Seed: %s (watch=%t)", c.Seed.Path, c.Seed.Watch)
	}

	return summary
}
