package domain

import "sort"

// CredentialSource indicates where a credential originated
type CredentialSource string

const (
	// CredentialSourceMounted is a credential read from a mounted secret file
	CredentialSourceMounted CredentialSource = "mounted"
	// CredentialSourceEnvironment is a credential read from environment variables
	CredentialSourceEnvironment CredentialSource = "environment"
	// CredentialSourceConfig is a credential referenced from the config file
	CredentialSourceConfig CredentialSource = "config"
)

// CredentialKind names the remote system a credential unlocks
type CredentialKind string

const (
	CredentialCLI        CredentialKind = "cli"
	CredentialManagement CredentialKind = "management"
)

// Credential holds what an adapter needs to authenticate.
// Data keys: username, password, private_key, passphrase.
type Credential struct {
	Kind   CredentialKind    `json:"kind"`
	Source CredentialSource  `json:"source"`
	Data   map[string]string `json:"-"`
	// KnownHostsPath enables host key verification for SSH when set
	KnownHostsPath string `json:"known_hosts_path,omitempty"`
}

// Username returns the configured user name
func (c *Credential) Username() string { return c.value("username") }

// Password returns the password, if any
func (c *Credential) Password() string { return c.value("password") }

// PrivateKey returns the PEM private key, if any
func (c *Credential) PrivateKey() string { return c.value("private_key") }

// Passphrase returns the private key passphrase, if any
func (c *Credential) Passphrase() string { return c.value("passphrase") }

// Usable reports whether the credential can authenticate: a user name and
// either a password or a private key
func (c *Credential) Usable() bool {
	if c == nil || c.Username() == "" {
		return false
	}
	return c.Password() != "" || c.PrivateKey() != ""
}

func (c *Credential) value(key string) string {
	if c == nil || c.Data == nil {
		return ""
	}
	return c.Data[key]
}

// CredentialSummary is a safe view of a credential (no sensitive data)
type CredentialSummary struct {
	Kind     CredentialKind   `json:"kind"`
	Source   CredentialSource `json:"source"`
	Username string           `json:"username,omitempty"`
	DataKeys []string         `json:"data_keys"`
}

// ToSummary creates a summary that lists data keys but never their values
func (c *Credential) ToSummary() CredentialSummary {
	keys := make([]string, 0, len(c.Data))
	for k := range c.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return CredentialSummary{
		Kind:     c.Kind,
		Source:   c.Source,
		Username: c.Username(),
		DataKeys: keys,
	}
}

// Credentials is the per-host credential set handed to adapters. A nil entry
// means the adapter that needs it is skipped.
type Credentials struct {
	CLI        *Credential
	Management *Credential
}
