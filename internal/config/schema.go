package config

import (
	"time"
)

// Config is the root configuration structure
type Config struct {
	Version     int               `yaml:"version"`
	Posture     Posture           `yaml:"posture"`
	Run         *RunOverride      `yaml:"run,omitempty"`
	Inventory   InventoryConfig   `yaml:"inventory"`
	Credentials CredentialsConfig `yaml:"credentials"`
	CLI         CLIConfig         `yaml:"cli"`
	Management  ManagementConfig  `yaml:"management"`
	NUMA        NUMAConfig        `yaml:"numa"`
	Policy      Policy            `yaml:"policy"`
	Output      OutputConfig      `yaml:"output"`
}

// RunOverride allows overriding posture defaults
type RunOverride struct {
	Workers         *int      `yaml:"workers,omitempty"`
	RunTimeout      *Duration `yaml:"run_timeout,omitempty"`
	AdapterTimeout  *Duration `yaml:"adapter_timeout,omitempty"`
	CommandTimeout  *Duration `yaml:"command_timeout,omitempty"`
	ManagementRate  *float64  `yaml:"management_rate,omitempty"`
	ManagementBurst *int      `yaml:"management_burst,omitempty"`
}

// InventoryConfig locates the hypervisor inventory document
type InventoryConfig struct {
	Path string `yaml:"path"`
}

// CredentialsConfig holds references to credentials (paths and variable
// names, never values)
type CredentialsConfig struct {
	CLI        CredentialRef `yaml:"cli"`
	Management CredentialRef `yaml:"management"`
	// MountedPaths are scanned for mounted secret files
	MountedPaths []string `yaml:"mounted_paths,omitempty"`
}

// CredentialRef says where to find one credential
type CredentialRef struct {
	Username      string `yaml:"username,omitempty"`
	UsernameEnv   string `yaml:"username_env,omitempty"`
	PasswordEnv   string `yaml:"password_env,omitempty"`
	PasswordFile  string `yaml:"password_file,omitempty"`
	KeyPath       string `yaml:"key_path,omitempty"`
	PassphraseEnv string `yaml:"passphrase_env,omitempty"`
	KnownHosts    string `yaml:"known_hosts,omitempty"`
}

// CLIConfig configures the remote command adapter
type CLIConfig struct {
	Port int `yaml:"port"`
	// DriverModule is the SR-IOV driver whose module parameters hold the
	// live VF and trust vectors
	DriverModule string `yaml:"driver_module"`
	// SwitchAnnotation queries physical switch neighbors per port
	SwitchAnnotation bool `yaml:"switch_annotation"`
}

// ManagementConfig configures the management-controller adapters
type ManagementConfig struct {
	// LegacyModels and RESTModels are model substrings; legacy is checked first
	LegacyModels []string        `yaml:"legacy_models"`
	RESTModels   []string        `yaml:"rest_models"`
	InsecureTLS  bool            `yaml:"insecure_tls"`
	Preflight    PreflightConfig `yaml:"preflight"`
}

// PreflightConfig controls the controller reachability check
type PreflightConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// NUMAConfig is the bus-number threshold table.
// Node i holds buses <= Thresholds[i]; the last node takes the rest, so a
// table of n thresholds describes n+1 nodes.
type NUMAConfig struct {
	Thresholds []int `yaml:"thresholds"`
}

// Nodes returns the number of NUMA nodes the table describes
func (n NUMAConfig) Nodes() int {
	return len(n.Thresholds) + 1
}

// OutputConfig selects report sinks
type OutputConfig struct {
	Format     string `yaml:"format"`
	Path       string `yaml:"path,omitempty"`
	SQLitePath string `yaml:"sqlite_path,omitempty"`
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
