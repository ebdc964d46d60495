package config

import (
	"path/filepath"
	"testing"
	"time"
)

func TestParsePosture(t *testing.T) {
	tests := []struct {
		input string
		want  Posture
	}{
		{"gentle", PostureGentle},
		{"balanced", PostureBalanced},
		{"aggressive", PostureAggressive},
		{"invalid", PostureBalanced}, // Default
		{"", PostureBalanced},        // Default
	}

	for _, tt := range tests {
		if got := ParsePosture(tt.input); got != tt.want {
			t.Errorf("ParsePosture(%q) = %s, want %s", tt.input, got, tt.want)
		}
	}
}

func TestPostureGetProfile(t *testing.T) {
	for _, p := range []Posture{PostureGentle, PostureBalanced, PostureAggressive} {
		profile := p.GetProfile()
		if profile.Workers == 0 {
			t.Errorf("Posture(%s).GetProfile().Workers should not be 0", p)
		}
		if profile.AdapterTimeout == 0 || profile.AdapterTimeout > profile.RunTimeout {
			t.Errorf("Posture(%s) adapter timeout %s must be within run timeout %s",
				p, profile.AdapterTimeout, profile.RunTimeout)
		}
	}

	gentle := PostureGentle.GetProfile()
	aggressive := PostureAggressive.GetProfile()
	if gentle.Workers >= aggressive.Workers {
		t.Error("Gentle should run fewer hosts at once than aggressive")
	}
	if gentle.ManagementRate >= aggressive.ManagementRate {
		t.Error("Gentle should pace controller requests slower than aggressive")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Version != 1 {
		t.Errorf("Version = %d, want 1", cfg.Version)
	}
	if cfg.Posture != PostureBalanced {
		t.Errorf("Posture = %s, want %s", cfg.Posture, PostureBalanced)
	}
	if len(cfg.NUMA.Thresholds) != 1 || cfg.NUMA.Thresholds[0] != 130 {
		t.Errorf("NUMA.Thresholds = %v, want [130]", cfg.NUMA.Thresholds)
	}
	if cfg.NUMA.Nodes() != 2 {
		t.Errorf("NUMA.Nodes() = %d, want 2", cfg.NUMA.Nodes())
	}
	if cfg.CLI.DriverModule != "i40en" {
		t.Errorf("CLI.DriverModule = %s, want i40en", cfg.CLI.DriverModule)
	}
	if cfg.Policy.SRIOVDriver != "i40en" {
		t.Errorf("Policy.SRIOVDriver = %s, want i40en", cfg.Policy.SRIOVDriver)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() on defaults: %v", err)
	}
}

func TestEffectiveRun(t *testing.T) {
	cfg := DefaultConfig()

	run := cfg.EffectiveRun()
	expected := PostureBalanced.GetProfile()
	if run.Workers != expected.Workers {
		t.Errorf("Workers = %d, want %d", run.Workers, expected.Workers)
	}

	workers := 3
	timeout := Duration(45 * time.Second)
	cfg.Run = &RunOverride{Workers: &workers, AdapterTimeout: &timeout}
	run = cfg.EffectiveRun()

	if run.Workers != 3 {
		t.Errorf("Workers = %d, want 3 (override)", run.Workers)
	}
	if run.AdapterTimeout != 45*time.Second {
		t.Errorf("AdapterTimeout = %s, want 45s (override)", run.AdapterTimeout)
	}
	if run.RunTimeout != expected.RunTimeout {
		t.Errorf("RunTimeout = %s, want %s (posture default)", run.RunTimeout, expected.RunTimeout)
	}
}

func TestParseAppliesDefaultsAndOverrides(t *testing.T) {
	data := []byte(`
posture: gentle
numa:
  thresholds: [63, 127, 191]
policy:
  esxi_builds: ["17499825"]
  driver_versions:
    ixgben: ["1.8.7"]
management:
  legacy_models: ["R630", "R730"]
`)
	cfg, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}

	if cfg.Posture != PostureGentle {
		t.Errorf("Posture = %s, want gentle", cfg.Posture)
	}
	if cfg.NUMA.Nodes() != 4 {
		t.Errorf("NUMA.Nodes() = %d, want 4", cfg.NUMA.Nodes())
	}
	if len(cfg.Policy.ESXiBuilds) != 1 || cfg.Policy.ESXiBuilds[0] != "17499825" {
		t.Errorf("ESXiBuilds = %v, want override", cfg.Policy.ESXiBuilds)
	}
	if _, ok := cfg.Policy.DriverVersions["i40en"]; ok {
		t.Error("an explicit driver_versions map replaces the default one")
	}
	if len(cfg.Policy.Components.CPLD) == 0 {
		t.Error("unset component lists should keep their defaults")
	}
	if len(cfg.Management.RESTModels) != 1 || cfg.Management.RESTModels[0] != "PowerEdge" {
		t.Errorf("RESTModels = %v, want default", cfg.Management.RESTModels)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr bool
	}{
		{name: "defaults", yaml: "version: 1", wantErr: false},
		{name: "descending thresholds", yaml: "numa: {thresholds: [130, 64]}", wantErr: true},
		{name: "threshold out of range", yaml: "numa: {thresholds: [300]}", wantErr: true},
		{name: "unknown format", yaml: "output: {format: html}", wantErr: true},
		{name: "zero workers", yaml: "run: {workers: 0}", wantErr: true},
		{name: "bad duration", yaml: "run: {run_timeout: soon}", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if (err != nil) != tt.wantErr {
				t.Errorf("Parse() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	cfg := DefaultConfig()
	cfg.Posture = PostureAggressive
	cfg.Inventory.Path = "fleet.yaml"
	cfg.Credentials.CLI = CredentialRef{Username: "root", PasswordEnv: "ESXI_PASSWORD"}

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
	if loaded.Posture != PostureAggressive {
		t.Errorf("Posture = %s, want %s", loaded.Posture, PostureAggressive)
	}
	if loaded.Credentials.CLI.PasswordEnv != "ESXI_PASSWORD" {
		t.Errorf("Credentials.CLI.PasswordEnv = %q", loaded.Credentials.CLI.PasswordEnv)
	}
	if got := ResolveRelative(path, loaded.Inventory.Path); got != filepath.Join(tmpDir, "fleet.yaml") {
		t.Errorf("ResolveRelative() = %s, want inventory next to config", got)
	}
}

func TestFindConfigPath(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, ConfigFileName)

	cfg := DefaultConfig()
	if err := cfg.Save(configPath); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	t.Chdir(tmpDir)

	found := FindConfigPath()
	if found == "" {
		t.Error("FindConfigPath() should find config in working directory")
	}

	t.Setenv(EnvConfigPath, "/nonexistent/path.yaml")

	// Explicit path doesn't exist, should fall back
	found = FindConfigPath()
	if found == "" {
		t.Error("FindConfigPath() should fall back when env path doesn't exist")
	}
}

func TestFindConfigPath_Precedence(t *testing.T) {
	t.Chdir(t.TempDir())

	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	userPath := filepath.Join(xdg, ConfigDirName, "config.yaml")
	if err := DefaultConfig().Save(userPath); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if got := FindConfigPath(); got != userPath {
		t.Errorf("FindConfigPath() = %q, want the user config %q", got, userPath)
	}

	explicit := filepath.Join(t.TempDir(), "site.yaml")
	if err := DefaultConfig().Save(explicit); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	t.Setenv(EnvConfigPath, explicit)
	if got := FindConfigPath(); got != explicit {
		t.Errorf("FindConfigPath() = %q, want the explicit path %q", got, explicit)
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
