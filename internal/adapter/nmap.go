package adapter

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	nmap "github.com/Ullaakut/nmap/v3"
	"github.com/sirupsen/logrus"
)

// ErrUnreachable means a controller did not accept connections on its
// management port
var ErrUnreachable = errors.New("controller unreachable")

// NmapPreflight checks a controller's management port with a single-port
// nmap scan before the adapter spends requests on it
type NmapPreflight struct {
	port              int
	timeout           time.Duration
	skipHostDiscovery bool
	logger            logrus.FieldLogger
	run               scanFunc
}

// scanFunc runs one scan; replaced in tests
type scanFunc func(ctx context.Context, opts ...nmap.Option) (*nmap.Run, []string, error)

// NewNmapPreflight creates a preflight prober
func NewNmapPreflight(logger logrus.FieldLogger, opts ...NmapOption) *NmapPreflight {
	p := &NmapPreflight{
		port:              443,
		timeout:           15 * time.Second,
		skipHostDiscovery: true,
		logger:            logger.WithField("component", "preflight"),
		run:               runNmap,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Probe implements Prober. When nmap is not installed the check is
// skipped and the controller assumed reachable.
func (p *NmapPreflight) Probe(ctx context.Context, address string) error {
	host := controllerHost(address)

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	opts := []nmap.Option{
		nmap.WithTargets(host),
		nmap.WithPorts(strconv.Itoa(p.port)),
	}
	if p.skipHostDiscovery {
		opts = append(opts, nmap.WithSkipHostDiscovery())
	}

	result, warnings, err := p.run(ctx, opts...)
	if len(warnings) > 0 {
		p.logger.WithField("warnings", warnings).Debug("nmap warnings")
	}
	if err != nil {
		if errors.Is(err, nmap.ErrNmapNotInstalled) {
			p.logger.Debug("nmap not installed, skipping preflight")
			return nil
		}
		return fmt.Errorf("preflight %s: %w", host, err)
	}

	if !portOpen(result, p.port) {
		return fmt.Errorf("%w: %s port %d", ErrUnreachable, host, p.port)
	}
	return nil
}

func runNmap(ctx context.Context, opts ...nmap.Option) (*nmap.Run, []string, error) {
	scanner, err := nmap.NewScanner(ctx, opts...)
	if err != nil {
		return nil, nil, err
	}

	result, warnings, err := scanner.Run()
	var w []string
	if warnings != nil {
		w = *warnings
	}
	return result, w, err
}

// portOpen reports whether any up host in result has port open
func portOpen(result *nmap.Run, port int) bool {
	if result == nil {
		return false
	}
	for _, host := range result.Hosts {
		if host.Status.State != "up" {
			continue
		}
		for _, p := range host.Ports {
			if int(p.ID) == port && p.State.State == "open" {
				return true
			}
		}
	}
	return false
}

// controllerHost strips scheme, port and path from a controller address
func controllerHost(address string) string {
	u, err := url.Parse(controllerURL(address))
	if err != nil || u.Hostname() == "" {
		return address
	}
	return u.Hostname()
}
