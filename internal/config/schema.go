package config

import (
	"time"
)

const (
	// DefaultAddr is the listen address when none is configured
	DefaultAddr = ":8080"
	// DefaultRoom names the room served when none is configured
	DefaultRoom = "main"
)

// Config is the root configuration structure
type Config struct {
	Version  int            `yaml:"version"`
	Profile  Profile        `yaml:"profile"`
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Sync     SyncConfig     `yaml:"sync"`
	Log      LogConfig      `yaml:"log"`
	Seed     SeedConfig     `yaml:"seed"`
}

// ServerConfig holds HTTP listener settings
type ServerConfig struct {
	Addr string `yaml:"addr"`
	// AllowedOrigins feeds the CORS middleware and websocket origin check;
	// empty allows any origin
	AllowedOrigins []string `yaml:"allowed_origins,omitempty"`
}

// DatabaseConfig holds database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// SyncConfig holds room settings. Nil intervals fall back to the profile.
type SyncConfig struct {
	Room             string    `yaml:"room"`
	TickInterval     *Duration `yaml:"tick_interval,omitempty"`
	SnapshotInterval *Duration `yaml:"snapshot_interval,omitempty"`
	PersistInterval  *Duration `yaml:"persist_interval,omitempty"`
	MaxPeers         *int      `yaml:"max_peers,omitempty"`
}

// LogConfig selects the logger
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // console, json
}

// SeedConfig points at a YAML file of initial members
type SeedConfig struct {
	Path  string `yaml:"path,omitempty"`
	Watch bool   `yaml:"watch"`
}

// Duration wraps time.Duration for YAML unmarshaling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}
