package service

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"nictopo/internal/adapter"
	"nictopo/internal/config"
	"nictopo/internal/domain"
	"nictopo/internal/registry"
)

// EngineConfig holds the run-level knobs of the engine
type EngineConfig struct {
	Workers        int
	RunTimeout     time.Duration
	AdapterTimeout time.Duration
	// SRIOVDriver is the driver family VF vectors are computed over
	SRIOVDriver string
	NUMA        NUMATable
	Policy      config.Policy
}

// NewEngineConfig derives the engine settings from a loaded config
func NewEngineConfig(cfg *config.Config) EngineConfig {
	run := cfg.EffectiveRun()
	return EngineConfig{
		Workers:        run.Workers,
		RunTimeout:     run.RunTimeout,
		AdapterTimeout: run.AdapterTimeout,
		SRIOVDriver:    cfg.Policy.SRIOVDriver,
		NUMA:           NUMATable{Thresholds: cfg.NUMA.Thresholds},
		Policy:         cfg.Policy,
	}
}

// Engine reconciles hosts: it collects observations from the adapters,
// merges them into a port registry, runs the derivation passes and checks
// the result against policy.
type Engine struct {
	adapters *adapter.Registry
	creds    CredentialResolver
	checker  *Checker
	cfg      EngineConfig
	bus      *EventBus
	logger   logrus.FieldLogger
	now      func() time.Time
}

// NewEngine creates an engine. bus may be nil.
func NewEngine(adapters *adapter.Registry, creds CredentialResolver, cfg EngineConfig, bus *EventBus, logger logrus.FieldLogger) *Engine {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.SRIOVDriver == "" {
		cfg.SRIOVDriver = config.DefaultPolicy().SRIOVDriver
	}
	return &Engine{
		adapters: adapters,
		creds:    creds,
		checker:  NewChecker(cfg.Policy),
		cfg:      cfg,
		bus:      bus,
		logger:   logger.WithField("component", "engine"),
		now:      time.Now,
	}
}

// Checker returns the engine's consistency checker
func (e *Engine) Checker() *Checker {
	return e.checker
}

// Run reconciles hosts with at most Workers in flight and returns one
// report per host, in input order. Hosts still waiting when the run timeout
// passes are reconciled with an expired context, so their adapters fail
// fast and the report says so.
func (e *Engine) Run(ctx context.Context, hosts []domain.HostTarget) []domain.HostReport {
	runID := uuid.NewString()
	log := e.logger.WithField("run_id", runID)

	if e.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.RunTimeout)
		defer cancel()
	}

	log.WithFields(logrus.Fields{
		"hosts":   len(hosts),
		"workers": e.cfg.Workers,
	}).Info("Starting run")
	e.bus.Publish(Event{Type: EventRunStarted, RunID: runID, Payload: RunSummary{Hosts: len(hosts)}})

	reports := make([]domain.HostReport, len(hosts))
	g := new(errgroup.Group)
	g.SetLimit(e.cfg.Workers)
	for i, host := range hosts {
		g.Go(func() error {
			reports[i] = e.ReconcileHost(ctx, runID, host)
			return nil
		})
	}
	_ = g.Wait()

	anomalies := 0
	for _, r := range reports {
		anomalies += len(r.Anomalies)
	}
	log.WithField("anomalies", anomalies).Info("Run complete")
	e.bus.Publish(Event{Type: EventRunFinished, RunID: runID, Payload: RunSummary{Hosts: len(hosts), Anomalies: anomalies}})

	return reports
}

// ReconcileHost runs one host to completion. It always returns a report;
// adapter failures are recorded in it rather than returned.
func (e *Engine) ReconcileHost(ctx context.Context, runID string, host domain.HostTarget) domain.HostReport {
	log := e.logger.WithFields(logrus.Fields{
		"run_id": runID,
		"host":   host.Name,
	})
	e.bus.Publish(Event{Type: EventHostStarted, RunID: runID, Host: host.Name})

	report := domain.HostReport{
		RunID:     runID,
		Host:      host,
		StartedAt: e.now(),
		Facts:     make(map[domain.HostFact]string),
	}

	ports := registry.New()

	// Single writer: results arrive in completion order and only this loop
	// touches the registry
	for res := range e.adapters.CollectAll(ctx, host, e.creds.Resolve(host), e.cfg.AdapterTimeout) {
		ports.MergeAll(res.Observations)
		for fact, v := range res.Facts {
			report.Facts[fact] = v
		}
		status := res.Status()
		report.Adapters = append(report.Adapters, status)
		e.bus.Publish(Event{Type: EventAdapterFinished, RunID: runID, Host: host.Name, Payload: status})
	}
	sort.Slice(report.Adapters, func(i, j int) bool { return report.Adapters[i].Source < report.Adapters[j].Source })

	retry := ports.RetryDeferred()
	report.Unresolved = retry.Dropped
	for _, err := range ports.Rejected() {
		log.WithError(err).Debug("Rejected field value")
	}

	ports.MergeAll(ResolveSiblings(ports.Snapshot()))

	vectors := CalculateVectors(ports.Snapshot(), e.cfg.SRIOVDriver)
	vectors.Observed = report.Facts[domain.FactObservedVFVector]
	vectors.ObservedTrust = report.Facts[domain.FactObservedTrustVector]

	hostNodes, _ := strconv.Atoi(report.Facts[domain.FactNUMANodes])
	numa, supported := AssignNUMA(ports.Snapshot(), e.cfg.NUMA, hostNodes)
	ports.MergeAll(numa)
	if !supported {
		log.WithField("numa_nodes", hostNodes).Warn("NUMA layout not covered by the threshold table")
	}

	report.Ports = ports.Snapshot()
	report.Vectors = vectors
	report.Anomalies = e.checker.Check(CheckContext{
		Host:           host,
		Facts:          report.Facts,
		Ports:          report.Ports,
		Vectors:        vectors,
		Adapters:       report.Adapters,
		NUMASupported:  supported,
		NUMATableNodes: e.cfg.NUMA.Nodes(),
	})
	report.FinishedAt = e.now()

	failed := 0
	for _, a := range report.Adapters {
		if a.State == domain.AdapterFailed {
			failed++
		}
	}
	log.WithFields(logrus.Fields{
		"ports":      len(report.Ports),
		"anomalies":  len(report.Anomalies),
		"conflicts":  ports.Conflicts(),
		"orphaned":   retry.Orphaned,
		"unresolved": retry.Dropped,
		"failed":     failed,
		"elapsed":    report.FinishedAt.Sub(report.StartedAt),
	}).Info("Host reconciled")
	e.bus.Publish(Event{Type: EventHostFinished, RunID: runID, Host: host.Name, Payload: HostSummary{
		Ports:     len(report.Ports),
		Anomalies: len(report.Anomalies),
		Failed:    failed,
	}})

	return report
}
