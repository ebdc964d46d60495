package adapter

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"nictopo/internal/domain"
	"nictopo/internal/pci"
)

// CLIName is the source tag of the remote command adapter
const CLIName = "cli"

// Runner executes commands on one remote host
type Runner interface {
	// Run executes command and returns its combined output. A command that
	// runs but exits non-zero is not an error.
	Run(ctx context.Context, command string) (string, error)
	Close() error
}

// Dialer opens a command session to a host
type Dialer interface {
	Dial(ctx context.Context, address string, cred *domain.Credential) (Runner, error)
}

// CLIConfig holds configuration for the remote command adapter
type CLIConfig struct {
	Port              int
	ConnectionTimeout time.Duration
	CommandTimeout    time.Duration
	// DriverModule is the SR-IOV driver whose parameters hold the live vectors
	DriverModule string
	// SwitchAnnotation runs the physical switch neighbor query
	SwitchAnnotation bool
	Queries          []CLIQuery
}

// DefaultCLIConfig returns sensible defaults
func DefaultCLIConfig() CLIConfig {
	return CLIConfig{
		Port:              22,
		ConnectionTimeout: 10 * time.Second,
		CommandTimeout:    30 * time.Second,
		DriverModule:      "i40en",
		Queries:           DefaultCLIQueries,
	}
}

// CLIAdapter gathers live NIC state over a remote command session
type CLIAdapter struct {
	cfg    CLIConfig
	dialer Dialer
	logger logrus.FieldLogger
}

// NewCLIAdapter creates a CLI adapter that connects over SSH
func NewCLIAdapter(cfg CLIConfig, logger logrus.FieldLogger) *CLIAdapter {
	def := DefaultCLIConfig()
	if cfg.Port == 0 {
		cfg.Port = def.Port
	}
	if cfg.ConnectionTimeout == 0 {
		cfg.ConnectionTimeout = def.ConnectionTimeout
	}
	if cfg.CommandTimeout == 0 {
		cfg.CommandTimeout = def.CommandTimeout
	}
	if cfg.DriverModule == "" {
		cfg.DriverModule = def.DriverModule
	}
	if len(cfg.Queries) == 0 {
		cfg.Queries = def.Queries
	}

	return &CLIAdapter{
		cfg: cfg,
		dialer: &SSHDialer{
			Port:    cfg.Port,
			Timeout: cfg.ConnectionTimeout,
		},
		logger: logger.WithField("adapter", CLIName),
	}
}

// WithDialer replaces the transport
func (c *CLIAdapter) WithDialer(d Dialer) *CLIAdapter {
	c.dialer = d
	return c
}

// Name returns the adapter identifier
func (c *CLIAdapter) Name() string {
	return CLIName
}

// Kind returns the adapter kind
func (c *CLIAdapter) Kind() Kind {
	return KindCLI
}

// Cost returns the adapter cost
func (c *CLIAdapter) Cost() int {
	return 20
}

// Collect implements Source
func (c *CLIAdapter) Collect(ctx context.Context, host domain.HostTarget, creds domain.Credentials) Result {
	if !creds.CLI.Usable() {
		return Skipped(CLIName, "no cli credentials")
	}

	runner, err := c.dialer.Dial(ctx, host.CLIAddress(), creds.CLI)
	if err != nil {
		return Failed(CLIName, domain.NewTransportError(CLIName, "connect", err))
	}
	defer runner.Close()

	result := NewResult(CLIName)
	session := &cliSession{
		runner:  runner,
		cfg:     c.cfg,
		result:  &result,
		ports:   make(map[string]pci.Address),
		drivers: make(map[string]string),
	}

	log := c.logger.WithField("host", host.Name)
	for _, q := range c.cfg.Queries {
		if q.Optional && !c.cfg.SwitchAnnotation {
			continue
		}

		if err := q.Run(ctx, session); err != nil {
			if ctx.Err() != nil {
				return Failed(CLIName, domain.NewTransportError(CLIName, q.Name, ctx.Err()))
			}
			log.WithError(err).WithField("query", q.Name).Debug("Query failed")
			result.Warn(fmt.Sprintf("%s: %v", q.Name, err))
		}
	}

	return result
}

// cliSession carries state between the queries of one host
type cliSession struct {
	runner Runner
	cfg    CLIConfig
	result *Result
	// ports maps interface names learned by earlier queries to addresses
	ports   map[string]pci.Address
	drivers map[string]string
}

// run executes one command under the command timeout
func (s *cliSession) run(ctx context.Context, command string) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, s.cfg.CommandTimeout)
	defer cancel()
	return s.runner.Run(cctx, command)
}

// learn records an interface name seen by a query
func (s *cliSession) learn(name string, addr pci.Address, driver string) {
	s.ports[name] = addr
	if driver != "" {
		s.drivers[name] = driver
	}
}

// portNames returns the learned interface names in sorted order
func (s *cliSession) portNames() []string {
	names := make([]string, 0, len(s.ports))
	for name := range s.ports {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
