// Package config provides configuration management for nictopo.
//
// The config file carries everything that is policy rather than code: run
// pacing, where credentials live, which management protocol applies to
// which hardware model, the NUMA threshold table and the version
// allow-lists used by the consistency rules.
//
// Config file locations (priority order):
//  1. $NICTOPO_CONFIG
//  2. ./nictopo.yaml
//  3. ~/.config/nictopo/config.yaml
//  4. /etc/nictopo/config.yaml
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load finds and loads the config file, or returns defaults if none found
func Load() (*Config, string, error) {
	path := FindConfigPath()

	if path == "" {
		return DefaultConfig(), "", nil
	}

	return LoadFromPath(path)
}

// LoadFromPath loads config from a specific path
func LoadFromPath(path string) (*Config, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, fmt.Errorf("read config: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

// Parse decodes config YAML and applies defaults
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
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

	return os.WriteFile(path, data, 0600)
}

// DefaultConfig returns the defaults used when no config file exists
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills in missing values with defaults
func (c *Config) applyDefaults() {
	if c.Version == 0 {
		c.Version = 1
	}
	if c.Posture == "" {
		c.Posture = PostureBalanced
	}
	if c.Inventory.Path == "" {
		c.Inventory.Path = "./inventory.yaml"
	}
	if len(c.Credentials.MountedPaths) == 0 {
		c.Credentials.MountedPaths = []string{"/run/secrets/nictopo", "/secrets/nictopo"}
	}
	if c.CLI.Port == 0 {
		c.CLI.Port = 22
	}
	if c.CLI.DriverModule == "" {
		c.CLI.DriverModule = "i40en"
	}
	if len(c.Management.LegacyModels) == 0 {
		c.Management.LegacyModels = []string{"R730"}
	}
	if len(c.Management.RESTModels) == 0 {
		c.Management.RESTModels = []string{"PowerEdge"}
	}
	if c.Management.Preflight.Port == 0 {
		c.Management.Preflight.Port = 443
	}
	if len(c.NUMA.Thresholds) == 0 {
		c.NUMA.Thresholds = []int{130}
	}
	if c.Output.Format == "" {
		c.Output.Format = "json"
	}

	c.Policy.applyDefaults()
}

// Validate rejects configurations that cannot drive a run
func (c *Config) Validate() error {
	prev := -1
	for _, t := range c.NUMA.Thresholds {
		if t < 0 || t > 255 {
			return fmt.Errorf("numa threshold %d out of bus range", t)
		}
		if t <= prev {
			return fmt.Errorf("numa thresholds must be strictly ascending: %v", c.NUMA.Thresholds)
		}
		prev = t
	}

	switch strings.ToLower(c.Output.Format) {
	case "json", "jsonl", "csv", "yaml", "yml":
	default:
		return fmt.Errorf("unknown output format %q", c.Output.Format)
	}

	if c.Run != nil && c.Run.Workers != nil && *c.Run.Workers < 1 {
		return fmt.Errorf("run.workers must be at least 1")
	}
	return nil
}

// EffectiveRun returns the run profile with overrides applied
func (c *Config) EffectiveRun() RunProfile {
	base := c.Posture.GetProfile()

	if c.Run == nil {
		return base
	}

	if c.Run.Workers != nil {
		base.Workers = *c.Run.Workers
	}
	if c.Run.RunTimeout != nil {
		base.RunTimeout = c.Run.RunTimeout.Duration()
	}
	if c.Run.AdapterTimeout != nil {
		base.AdapterTimeout = c.Run.AdapterTimeout.Duration()
	}
	if c.Run.CommandTimeout != nil {
		base.CommandTimeout = c.Run.CommandTimeout.Duration()
	}
	if c.Run.ManagementRate != nil {
		base.ManagementRate = *c.Run.ManagementRate
	}
	if c.Run.ManagementBurst != nil {
		base.ManagementBurst = *c.Run.ManagementBurst
	}

	return base
}

// Summary returns a human-readable config summary
func (c *Config) Summary() string {
	run := c.EffectiveRun()

	summary := fmt.Sprintf("Posture: %s, Workers: %d\n", c.Posture, run.Workers)
	summary += fmt.Sprintf("Run timeout: %s, Adapter timeout: %s, Command timeout: %s\n",
		run.RunTimeout, run.AdapterTimeout, run.CommandTimeout)
	summary += fmt.Sprintf("NUMA thresholds: %v (%d nodes), Output: %s",
		c.NUMA.Thresholds, c.NUMA.Nodes(), c.Output.Format)

	return summary
}
