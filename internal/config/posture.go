package config

import "time"

// Posture defines how hard a run leans on hosts and the management network
type Posture string

const (
	PostureGentle     Posture = "gentle"     // few hosts at a time, slow controller requests
	PostureBalanced   Posture = "balanced"   // default
	PostureAggressive Posture = "aggressive" // large fleets, short timeouts
)

// ParsePosture converts a string to Posture, defaulting to PostureBalanced
func ParsePosture(s string) Posture {
	switch s {
	case "gentle":
		return PostureGentle
	case "balanced":
		return PostureBalanced
	case "aggressive":
		return PostureAggressive
	default:
		return PostureBalanced
	}
}

// RunProfile defines timing and concurrency settings of a run
type RunProfile struct {
	Workers        int           `yaml:"workers"`
	RunTimeout     time.Duration `yaml:"run_timeout"`
	AdapterTimeout time.Duration `yaml:"adapter_timeout"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
	// ManagementRate is controller requests per second per host
	ManagementRate  float64 `yaml:"management_rate"`
	ManagementBurst int     `yaml:"management_burst"`
}

// PostureProfiles maps postures to their default run profiles
var PostureProfiles = map[Posture]RunProfile{
	PostureGentle: {
		Workers:         2,
		RunTimeout:      30 * time.Minute,
		AdapterTimeout:  5 * time.Minute,
		CommandTimeout:  60 * time.Second,
		ManagementRate:  1,
		ManagementBurst: 1,
	},
	PostureBalanced: {
		Workers:         8,
		RunTimeout:      15 * time.Minute,
		AdapterTimeout:  3 * time.Minute,
		CommandTimeout:  30 * time.Second,
		ManagementRate:  4,
		ManagementBurst: 4,
	},
	PostureAggressive: {
		Workers:         32,
		RunTimeout:      10 * time.Minute,
		AdapterTimeout:  90 * time.Second,
		CommandTimeout:  15 * time.Second,
		ManagementRate:  10,
		ManagementBurst: 10,
	},
}

// GetProfile returns the run profile for a posture
func (p Posture) GetProfile() RunProfile {
	if profile, ok := PostureProfiles[p]; ok {
		return profile
	}
	return PostureProfiles[PostureBalanced]
}
