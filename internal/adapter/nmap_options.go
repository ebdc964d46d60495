package adapter

import "time"

// NmapOption is a functional option for configuring NmapPreflight
type NmapOption func(*NmapPreflight)

// WithPreflightPort sets the management port to check
func WithPreflightPort(port int) NmapOption {
	return func(p *NmapPreflight) {
		if port > 0 && port <= 65535 {
			p.port = port
		}
	}
}

// WithTimeout sets the timeout for one preflight scan
func WithTimeout(d time.Duration) NmapOption {
	return func(p *NmapPreflight) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithSkipHostDiscovery sets whether to skip ping and treat the controller
// as online (-Pn). Management networks often block ICMP.
func WithSkipHostDiscovery(skip bool) NmapOption {
	return func(p *NmapPreflight) {
		p.skipHostDiscovery = skip
	}
}

// withScanner replaces the nmap invocation
func withScanner(run scanFunc) NmapOption {
	return func(p *NmapPreflight) {
		p.run = run
	}
}
