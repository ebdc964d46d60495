package config

import (
	"os"
	"path/filepath"
)

const (
	// EnvConfigPath names an explicit config file
	EnvConfigPath = "NICTOPO_CONFIG"
	// ConfigFileName is looked up in the working directory
	ConfigFileName = "nictopo.yaml"
	// ConfigDirName holds config.yaml under the user and system config dirs
	ConfigDirName = "nictopo"
)

// configCandidates lists config locations, highest precedence first
func configCandidates() []string {
	var paths []string
	if p := os.Getenv(EnvConfigPath); p != "" {
		paths = append(paths, p)
	}
	if abs, err := filepath.Abs(ConfigFileName); err == nil {
		paths = append(paths, abs)
	}
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, ConfigDirName, "config.yaml"))
	}
	return append(paths, filepath.Join("/etc", ConfigDirName, "config.yaml"))
}

// FindConfigPath returns the first existing config file, or "" when the
// built-in defaults apply. A missing $NICTOPO_CONFIG target falls through to
// the remaining locations.
func FindConfigPath() string {
	for _, p := range configCandidates() {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p
		}
	}
	return ""
}

// ResolveRelative interprets p relative to the directory of the config file
// it was read from. Absolute paths and paths from a default config are
// returned unchanged.
func ResolveRelative(configPath, p string) string {
	if p == "" || filepath.IsAbs(p) || configPath == "" {
		return p
	}
	return filepath.Join(filepath.Dir(configPath), p)
}
