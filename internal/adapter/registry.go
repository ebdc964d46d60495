package adapter

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"nictopo/internal/domain"
)

// ModelPolicy chooses the management adapter for a hardware model. Legacy
// patterns are checked first; a model matching neither gets no management
// adapter.
type ModelPolicy struct {
	Legacy []string
	REST   []string
}

// Select returns the name of the management adapter for model
func (p ModelPolicy) Select(model string) (string, error) {
	for _, pattern := range p.Legacy {
		if pattern != "" && strings.Contains(model, pattern) {
			return LegacyName, nil
		}
	}
	for _, pattern := range p.REST {
		if pattern != "" && strings.Contains(model, pattern) {
			return RedfishName, nil
		}
	}
	return "", fmt.Errorf("%w: %q", domain.ErrUnsupportedModel, model)
}

// Registry manages the registered adapters
type Registry struct {
	mu      sync.RWMutex
	sources map[string]Source
	policy  ModelPolicy
	logger  logrus.FieldLogger
}

// NewRegistry creates a new adapter registry
func NewRegistry(policy ModelPolicy, logger logrus.FieldLogger) *Registry {
	return &Registry{
		sources: make(map[string]Source),
		policy:  policy,
		logger:  logger.WithField("component", "adapters"),
	}
}

// Register adds an adapter to the registry
func (r *Registry) Register(source Source) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := source.Name()
	if _, exists := r.sources[name]; exists {
		return fmt.Errorf("adapter %s already registered", name)
	}

	r.sources[name] = source
	r.logger.WithFields(logrus.Fields{
		"adapter": name,
		"kind":    source.Kind(),
		"cost":    source.Cost(),
	}).Debug("Registered adapter")

	return nil
}

// Sources returns every registered adapter, cheapest first
func (r *Registry) Sources() []Source {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sources := make([]Source, 0, len(r.sources))
	for _, s := range r.sources {
		sources = append(sources, s)
	}
	sortSources(sources)
	return sources
}

// Select returns the adapters that apply to host, cheapest first. All
// hypervisor and CLI adapters apply; of the management adapters only the
// one the model policy names does.
func (r *Registry) Select(host domain.HostTarget) []Source {
	management, _ := r.policy.Select(host.Model)

	var selected []Source
	for _, s := range r.Sources() {
		if s.Kind() == KindManagement && s.Name() != management {
			continue
		}
		selected = append(selected, s)
	}
	return selected
}

// ManagementAdapter names the management adapter the policy picks for host,
// or "" when none applies
func (r *Registry) ManagementAdapter(host domain.HostTarget) string {
	name, err := r.policy.Select(host.Model)
	if err != nil {
		return ""
	}
	return name
}

// CollectAll runs the selected adapters concurrently, each bounded by
// timeout, and delivers their results in completion order. The channel is
// closed once every adapter has reported. An adapter still running when its
// deadline passes is reported as failed and its late result discarded.
func (r *Registry) CollectAll(ctx context.Context, host domain.HostTarget, creds domain.Credentials, timeout time.Duration) <-chan Result {
	sources := r.Select(host)
	results := make(chan Result, len(sources))

	var wg sync.WaitGroup
	for _, s := range sources {
		wg.Add(1)
		go func(s Source) {
			defer wg.Done()
			results <- r.collectOne(ctx, s, host, creds, timeout)
		}(s)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	return results
}

// collectOne runs a single adapter under its own deadline
func (r *Registry) collectOne(ctx context.Context, s Source, host domain.HostTarget, creds domain.Credentials, timeout time.Duration) Result {
	start := time.Now()
	log := r.logger.WithFields(logrus.Fields{
		"host":    host.Name,
		"adapter": s.Name(),
	})

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan Result, 1)
	go func() {
		done <- s.Collect(ctx, host, creds)
	}()

	var result Result
	select {
	case result = <-done:
	case <-ctx.Done():
		result = Failed(s.Name(), domain.NewTransportError(s.Name(), "collect", ctx.Err()))
	}

	// A transport failure contributes nothing, whatever the adapter gathered
	if result.Err != nil {
		result.Observations = nil
		result.Facts = nil
	}
	result.Source = s.Name()
	result.Elapsed = time.Since(start)

	switch result.State() {
	case domain.AdapterSkipped:
		log.WithField("reason", result.Reason).Debug("Adapter skipped")
	case domain.AdapterFailed:
		log.WithError(result.Err).WithField("elapsed", result.Elapsed).Debug("Adapter failed")
	default:
		log.WithFields(logrus.Fields{
			"observations": len(result.Observations),
			"warnings":     len(result.Warnings),
			"elapsed":      result.Elapsed,
		}).Debug("Adapter finished")
	}

	return result
}

func sortSources(sources []Source) {
	sort.Slice(sources, func(i, j int) bool {
		if sources[i].Cost() != sources[j].Cost() {
			return sources[i].Cost() < sources[j].Cost()
		}
		return sources[i].Name() < sources[j].Name()
	})
}
