package config

import "time"

// Profile selects how eagerly the room commits and publishes
type Profile string

const (
	ProfileRealtime Profile = "realtime" // commit every frame, frequent snapshots
	ProfileBalanced Profile = "balanced" // default
	ProfileRelaxed  Profile = "relaxed"  // batch edits, few peers
)

// ParseProfile converts a string to Profile, defaulting to ProfileBalanced
func ParseProfile(s string) Profile {
	switch s {
	case "realtime":
		return ProfileRealtime
	case "balanced":
		return ProfileBalanced
	case "relaxed":
		return ProfileRelaxed
	case "auto":
		return ProfileAuto
	default:
		return ProfileBalanced
	}
}

// Timing defines the room's loop intervals and limits
type Timing struct {
	TickInterval     time.Duration `yaml:"tick_interval"`     // commit + "tick" phase
	SnapshotInterval time.Duration `yaml:"snapshot_interval"` // full frame for late joiners
	PersistInterval  time.Duration `yaml:"persist_interval"`  // database checkpoint
	MaxPeers         int           `yaml:"max_peers"`
}

// ProfileTimings maps profiles to their default timing
var ProfileTimings = map[Profile]Timing{
	ProfileRealtime: {
		TickInterval:     50 * time.Millisecond,
		SnapshotInterval: 5 * time.Second,
		PersistInterval:  10 * time.Second,
		MaxPeers:         256,
	},
	ProfileBalanced: {
		TickInterval:     250 * time.Millisecond,
		SnapshotInterval: 30 * time.Second,
		PersistInterval:  time.Minute,
		MaxPeers:         64,
	},
	ProfileRelaxed: {
		TickInterval:     2 * time.Second,
		SnapshotInterval: 5 * time.Minute,
		PersistInterval:  5 * time.Minute,
		MaxPeers:         16,
	},
}

// GetTiming returns the timing for a profile
func (p Profile) GetTiming() Timing {
	if timing, ok := ProfileTimings[p]; ok {
		return timing
	}
	return ProfileTimings[ProfileBalanced]
}
