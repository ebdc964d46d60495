package adapter

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"nictopo/internal/domain"
)

// SSHDialer opens SSH command sessions
type SSHDialer struct {
	Port    int
	Timeout time.Duration
}

// Dial connects to address and authenticates with cred. A failed dial is
// retried once unless the context has ended.
func (d *SSHDialer) Dial(ctx context.Context, address string, cred *domain.Credential) (Runner, error) {
	config, err := d.buildSSHConfig(cred)
	if err != nil {
		return nil, fmt.Errorf("failed to build SSH config: %w", err)
	}

	client, err := d.connect(ctx, address, config)
	if err != nil && ctx.Err() == nil {
		client, err = d.connect(ctx, address, config)
	}
	if err != nil {
		return nil, err
	}
	return &sshRunner{client: client}, nil
}

// connect establishes an SSH connection with context support
func (d *SSHDialer) connect(ctx context.Context, host string, config *ssh.ClientConfig) (*ssh.Client, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(d.Port))

	dialer := &net.Dialer{
		Timeout: d.Timeout,
	}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial: %w", err)
	}

	// The handshake does not observe ctx; bound it by the connection deadline
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to establish SSH connection: %w", err)
	}
	conn.SetDeadline(time.Time{})

	return ssh.NewClient(sshConn, chans, reqs), nil
}

// buildSSHConfig creates an SSH client config from a credential. Key and
// password auth are both offered when both are present, key first.
func (d *SSHDialer) buildSSHConfig(cred *domain.Credential) (*ssh.ClientConfig, error) {
	username := cred.Username()
	if username == "" {
		return nil, fmt.Errorf("username not found in credential")
	}

	var auth []ssh.AuthMethod
	if key := cred.PrivateKey(); key != "" {
		var signer ssh.Signer
		var err error
		if passphrase := cred.Passphrase(); passphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase([]byte(key), []byte(passphrase))
		} else {
			signer, err = ssh.ParsePrivateKey([]byte(key))
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if password := cred.Password(); password != "" {
		auth = append(auth, ssh.Password(password))
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("no SSH authentication method in credential")
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if cred.KnownHostsPath != "" {
		cb, err := knownhosts.New(cred.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts: %w", err)
		}
		hostKeyCallback = cb
	}

	return &ssh.ClientConfig{
		User:            username,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         d.Timeout,
	}, nil
}

// sshRunner runs commands over one SSH connection
type sshRunner struct {
	client *ssh.Client
}

// Run executes a command over SSH and returns the output. The session is
// killed when ctx ends first.
func (r *sshRunner) Run(ctx context.Context, cmd string) (string, error) {
	session, err := r.client.NewSession()
	if err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	defer session.Close()

	type outcome struct {
		output []byte
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		output, err := session.CombinedOutput(cmd)
		done <- outcome{output, err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			// Non-zero exit status still carries output ("grep" without a match)
			var exitErr *ssh.ExitError
			if errors.As(res.err, &exitErr) {
				return string(res.output), nil
			}
			return "", fmt.Errorf("command failed: %w", res.err)
		}
		return string(res.output), nil
	case <-ctx.Done():
		session.Signal(ssh.SIGKILL)
		return "", fmt.Errorf("command %q: %w", cmd, ctx.Err())
	}
}

// Close closes the connection
func (r *sshRunner) Close() error {
	return r.client.Close()
}
