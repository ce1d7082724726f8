package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseProfile(t *testing.T) {
	tests := []struct {
		input string
		want  Profile
	}{
		{"realtime", ProfileRealtime},
		{"balanced", ProfileBalanced},
		{"relaxed", ProfileRelaxed},
		{"invalid", ProfileBalanced}, // Default
		{"", ProfileBalanced},        // Default
	}

	for _, tt := range tests {
		if got := ParseProfile(tt.input); got != tt.want {
			t.Errorf("ParseProfile(%q) = %s, want %s", tt.input, got, tt.want)
		}
	}
}

func TestProfileGetTiming(t *testing.T) {
	profiles := []Profile{ProfileRealtime, ProfileBalanced, ProfileRelaxed}

	for _, p := range profiles {
		timing := p.GetTiming()
		if timing.TickInterval == 0 {
			t.Errorf("Profile(%s).GetTiming().TickInterval should not be 0", p)
		}
		if timing.MaxPeers == 0 {
			t.Errorf("Profile(%s).GetTiming().MaxPeers should not be 0", p)
		}
		if timing.SnapshotInterval <= timing.TickInterval {
			t.Errorf("Profile(%s) snapshots should be rarer than ticks", p)
		}
	}

	realtime := ProfileRealtime.GetTiming()
	relaxed := ProfileRelaxed.GetTiming()
	if realtime.TickInterval >= relaxed.TickInterval {
		t.Error("Realtime should tick faster than relaxed")
	}

	if got := Profile("unknown").GetTiming(); got != ProfileBalanced.GetTiming() {
		t.Errorf("unknown profile timing = %+v, want balanced", got)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Version != 1 {
		t.Errorf("Version = %d, want 1", cfg.Version)
	}
	if cfg.Profile != ProfileBalanced {
		t.Errorf("Profile = %s, want %s", cfg.Profile, ProfileBalanced)
	}
	if cfg.Database.Path == "" {
		t.Error("Database.Path should not be empty")
	}
	if cfg.Server.Addr != DefaultAddr {
		t.Errorf("Server.Addr = %s, want %s", cfg.Server.Addr, DefaultAddr)
	}
	if cfg.Sync.Room != DefaultRoom {
		t.Errorf("Sync.Room = %s, want %s", cfg.Sync.Room, DefaultRoom)
	}
}

func TestEffectiveTiming(t *testing.T) {
	cfg := DefaultConfig()

	timing := cfg.EffectiveTiming()
	expected := ProfileBalanced.GetTiming()
	if timing != expected {
		t.Errorf("EffectiveTiming() = %+v, want %+v", timing, expected)
	}

	override := 10 * time.Millisecond
	peers := 3
	cfg.Sync.TickInterval = (*Duration)(&override)
	cfg.Sync.MaxPeers = &peers
	timing = cfg.EffectiveTiming()

	if timing.TickInterval != override {
		t.Errorf("TickInterval = %s, want %s (override)", timing.TickInterval, override)
	}
	if timing.MaxPeers != peers {
		t.Errorf("MaxPeers = %d, want %d (override)", timing.MaxPeers, peers)
	}
	// Other fields should still be from profile
	if timing.SnapshotInterval != expected.SnapshotInterval {
		t.Errorf("SnapshotInterval = %s, want %s (profile default)",
			timing.SnapshotInterval, expected.SnapshotInterval)
	}
}

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Profile = ProfileRealtime
	cfg.Sync.Room = "lobby"
	tick := 20 * time.Millisecond
	cfg.Sync.TickInterval = (*Duration)(&tick)
	cfg.Seed = SeedConfig{Path: "seed.yaml", Watch: true}

	if err := cfg.Save(configPath); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	loaded, path, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("LoadFromPath() error: %v", err)
	}
	if path != configPath {
		t.Errorf("path = %s, want %s", path, configPath)
	}

	if loaded.Profile != ProfileRealtime {
		t.Errorf("Profile = %s, want %s", loaded.Profile, ProfileRealtime)
	}
	if loaded.Sync.Room != "lobby" {
		t.Errorf("Sync.Room = %s, want lobby", loaded.Sync.Room)
	}
	if loaded.Sync.TickInterval == nil || loaded.Sync.TickInterval.Duration() != tick {
		t.Errorf("Sync.TickInterval = %v, want %s", loaded.Sync.TickInterval, tick)
	}
	if !loaded.Seed.Watch || loaded.Seed.Path != "seed.yaml" {
		t.Errorf("Seed = %+v, want seed.yaml with watch", loaded.Seed)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("sync:\n  room: arena\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, _, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("LoadFromPath() error: %v", err)
	}
	if cfg.Sync.Room != "arena" {
		t.Errorf("Sync.Room = %s, want arena", cfg.Sync.Room)
	}
	if cfg.Server.Addr != DefaultAddr || cfg.Log.Level != "info" || cfg.Version != 1 {
		t.Errorf("defaults not applied: %+v", cfg)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, _, err := LoadFromPath(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadFromPath() should fail for a missing file")
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("sync:\n  tick_interval: soon\n"), 0644); err != nil {
		t.Fatal(err)
	}
	_, _, err := LoadFromPath(bad)
	if err == nil || !strings.Contains(err.Error(), "parse config") {
		t.Errorf("LoadFromPath() error = %v, want parse config error", err)
	}
}

func TestLoadSearchOrder(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())

	// Nothing on disk gives defaults
	cfg, path, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if path != "" || cfg.Sync.Room != DefaultRoom {
		t.Errorf("Load() = %q, room %q, want defaults", path, cfg.Sync.Room)
	}

	// Working directory file is found
	local := DefaultConfig()
	local.Sync.Room = "local"
	if err := local.Save("stagehand.yaml"); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if cfg, path, err = Load(); err != nil || cfg.Sync.Room != "local" {
		t.Errorf("Load() = %q, room %q, err %v, want local", path, cfg.Sync.Room, err)
	}

	// Missing explicit path falls through
	t.Setenv(EnvConfigPath, "/nonexistent/path.yaml")
	if cfg, _, err = Load(); err != nil || cfg.Sync.Room != "local" {
		t.Errorf("Load() room %q, err %v, want local", cfg.Sync.Room, err)
	}

	// Existing explicit path wins
	explicit := filepath.Join(t.TempDir(), "explicit.yaml")
	env := DefaultConfig()
	env.Sync.Room = "explicit"
	if err := env.Save(explicit); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	t.Setenv(EnvConfigPath, explicit)
	if cfg, path, err = Load(); err != nil || path != explicit || cfg.Sync.Room != "explicit" {
		t.Errorf("Load() = %q, room %q, err %v, want %s", path, cfg.Sync.Room, err, explicit)
	}
}

func TestSearchPaths(t *testing.T) {
	t.Setenv(EnvConfigPath, "/custom.yaml")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	paths := SearchPaths()
	if paths[0] != "/custom.yaml" || paths[1] != "stagehand.yaml" {
		t.Errorf("SearchPaths() = %v, want env then working directory first", paths)
	}
	if paths[2] != filepath.Join("/xdg", "stagehand", "config.yaml") {
		t.Errorf("SearchPaths()[2] = %s, want XDG path", paths[2])
	}
	if last := paths[len(paths)-1]; last != "/etc/stagehand/config.yaml" {
		t.Errorf("SearchPaths() last = %s, want /etc path", last)
	}
}

func TestSummary(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Seed.Path = "seed.yaml"

	summary := cfg.Summary()
	for _, want := range []string{"Room: main", "Profile: balanced", "Seed: seed.yaml"} {
		if !strings.Contains(summary, want) {
			t.Errorf("Summary() = %q, missing %q", summary, want)
		}
	}
}

func TestDuration(t *testing.T) {
	d := Duration(5 * time.Minute)

	if d.Duration() != 5*time.Minute {
		t.Errorf("Duration() = %s, want 5m", d.Duration())
	}

	marshaled, err := d.MarshalYAML()
	if err != nil {
		t.Fatalf("MarshalYAML() error: %v", err)
	}
	if marshaled != "5m0s" {
		t.Errorf("MarshalYAML() = %v, want 5m0s", marshaled)
	}
}
