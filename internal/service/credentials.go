package service

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"nictopo/internal/config"
	"nictopo/internal/domain"
)

// CredentialResolver hands the engine the credentials for one host
type CredentialResolver interface {
	Resolve(host domain.HostTarget) domain.Credentials
}

// Environment variables read when the config names none
var defaultCredentialEnv = map[domain.CredentialKind]map[string]string{
	domain.CredentialCLI: {
		"username":   "NICTOPO_CLI_USERNAME",
		"password":   "NICTOPO_CLI_PASSWORD",
		"passphrase": "NICTOPO_CLI_PASSPHRASE",
	},
	domain.CredentialManagement: {
		"username": "NICTOPO_MGMT_USERNAME",
		"password": "NICTOPO_MGMT_PASSWORD",
	},
}

// CredentialStore resolves the CLI and management credentials from mounted
// secret files, environment variables and config references, in that
// order; later sources override earlier ones key by key.
//
// Mounted secrets are laid out as <mounted path>/<kind>/<key>, where kind
// is cli or management and key one of username, password, private_key,
// passphrase or known_hosts. SSH key files named id_* count as private_key.
type CredentialStore struct {
	cfg    config.CredentialsConfig
	logger logrus.FieldLogger

	mu     sync.RWMutex
	loaded map[domain.CredentialKind]*domain.Credential
}

// NewCredentialStore creates a store over the credentials config section
func NewCredentialStore(cfg config.CredentialsConfig, logger logrus.FieldLogger) *CredentialStore {
	return &CredentialStore{
		cfg:    cfg,
		logger: logger.WithField("component", "credentials"),
		loaded: make(map[domain.CredentialKind]*domain.Credential),
	}
}

// Load reads every credential source. It fails only when a file the config
// names explicitly cannot be read.
func (s *CredentialStore) Load() error {
	found := map[domain.CredentialKind]*domain.Credential{
		domain.CredentialCLI:        {Kind: domain.CredentialCLI, Data: map[string]string{}},
		domain.CredentialManagement: {Kind: domain.CredentialManagement, Data: map[string]string{}},
	}

	for _, base := range s.cfg.MountedPaths {
		s.loadMounted(base, found)
	}

	for kind, vars := range defaultCredentialEnv {
		for key, env := range vars {
			if v := os.Getenv(env); v != "" {
				found[kind].Data[key] = v
				found[kind].Source = domain.CredentialSourceEnvironment
			}
		}
	}

	refs := map[domain.CredentialKind]config.CredentialRef{
		domain.CredentialCLI:        s.cfg.CLI,
		domain.CredentialManagement: s.cfg.Management,
	}
	for kind, ref := range refs {
		if err := applyRef(found[kind], ref); err != nil {
			return fmt.Errorf("load %s credentials: %w", kind, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loaded = make(map[domain.CredentialKind]*domain.Credential)
	for kind, cred := range found {
		if !cred.Usable() {
			s.logger.WithField("kind", kind).Debug("No usable credential")
			continue
		}
		s.loaded[kind] = cred
		s.logger.WithFields(logrus.Fields{
			"kind":   kind,
			"source": cred.Source,
		}).Info("Loaded credential")
	}
	return nil
}

// loadMounted walks one mounted secrets directory
func (s *CredentialStore) loadMounted(base string, found map[domain.CredentialKind]*domain.Credential) {
	if _, err := os.Stat(base); err != nil {
		return
	}

	err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(base, path)
		if err != nil {
			return nil
		}
		dir, name := filepath.Split(rel)
		cred, ok := found[domain.CredentialKind(strings.Trim(dir, string(filepath.Separator)))]
		if !ok {
			return nil
		}
		key, ok := mountedKey(name)
		if !ok {
			return nil
		}

		if key == "known_hosts" {
			cred.KnownHostsPath = path
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			s.logger.WithError(err).WithField("path", path).Warn("Failed to read mounted secret")
			return nil
		}
		cred.Data[key] = secretText(key, data)
		cred.Source = domain.CredentialSourceMounted
		return nil
	})
	if err != nil {
		s.logger.WithError(err).WithField("path", base).Warn("Error walking secrets path")
	}
}

// mountedKey maps a secret file name to a credential data key
func mountedKey(name string) (string, bool) {
	lower := strings.ToLower(strings.TrimSuffix(name, filepath.Ext(name)))
	switch {
	case lower == "username", lower == "password", lower == "passphrase", lower == "known_hosts":
		return lower, true
	case lower == "private_key", strings.HasPrefix(lower, "id_"):
		return "private_key", true
	}
	return "", false
}

// secretText trims the trailing newline secret files usually carry. Keys
// keep their bytes.
func secretText(key string, data []byte) string {
	if key == "private_key" {
		return string(data)
	}
	return strings.TrimRight(string(data), "\r\n")
}

func applyRef(cred *domain.Credential, ref config.CredentialRef) error {
	set := func(key, value string) {
		if value != "" {
			cred.Data[key] = value
			cred.Source = domain.CredentialSourceConfig
		}
	}

	set("username", ref.Username)
	if ref.UsernameEnv != "" {
		set("username", os.Getenv(ref.UsernameEnv))
	}
	if ref.PasswordEnv != "" {
		set("password", os.Getenv(ref.PasswordEnv))
	}
	if ref.PassphraseEnv != "" {
		set("passphrase", os.Getenv(ref.PassphraseEnv))
	}
	if ref.PasswordFile != "" {
		data, err := os.ReadFile(ref.PasswordFile)
		if err != nil {
			return fmt.Errorf("read password file: %w", err)
		}
		set("password", secretText("password", data))
	}
	if ref.KeyPath != "" {
		data, err := os.ReadFile(ref.KeyPath)
		if err != nil {
			return fmt.Errorf("read key file: %w", err)
		}
		set("private_key", string(data))
	}
	if ref.KnownHosts != "" {
		cred.KnownHostsPath = ref.KnownHosts
	}
	return nil
}

// Resolve returns the loaded credentials. The same credentials serve every
// host; a kind with nothing usable stays nil so its adapters are skipped.
func (s *CredentialStore) Resolve(host domain.HostTarget) domain.Credentials {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.Credentials{
		CLI:        s.loaded[domain.CredentialCLI],
		Management: s.loaded[domain.CredentialManagement],
	}
}

// Summaries lists the loaded credentials without their values
func (s *CredentialStore) Summaries() []domain.CredentialSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.CredentialSummary
	for _, kind := range []domain.CredentialKind{domain.CredentialCLI, domain.CredentialManagement} {
		if cred, ok := s.loaded[kind]; ok {
			out = append(out, cred.ToSummary())
		}
	}
	return out
}
