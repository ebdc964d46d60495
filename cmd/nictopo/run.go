package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"nictopo/internal/adapter"
	"nictopo/internal/codec"
	"nictopo/internal/config"
	"nictopo/internal/domain"
	"nictopo/internal/inventory"
	"nictopo/internal/repository"
	"nictopo/internal/repository/sqlite"
	"nictopo/internal/service"
)

func newRunCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [host|cluster ...]",
		Short: "Reconcile hosts and write the port report",
		Long: `Collects NIC observations for every selected host from the hypervisor
inventory, the host CLI and the management controller, merges them into one
record per port and reports policy anomalies. Without arguments every host in
the inventory is reconciled.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a.applyRunOverrides()
			return a.run(cmd.Context(), args, cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.Int("workers", 0, "hosts reconciled concurrently")
	flags.Duration("run-timeout", 0, "deadline for the whole run")
	flags.Duration("adapter-timeout", 0, "deadline for each adapter on each host")
	flags.Duration("command-timeout", 0, "deadline for each remote CLI command")
	flags.StringP("format", "f", "", "report format (json, csv, yaml)")
	flags.StringP("output", "o", "", "report file (default stdout)")
	flags.String("sqlite", "", "also write the run to this SQLite database")
	for _, name := range []string{"workers", "run-timeout", "adapter-timeout", "command-timeout", "format", "output", "sqlite"} {
		_ = a.v.BindPFlag(name, flags.Lookup(name))
	}
	return cmd
}

// applyRunOverrides layers flags and NICTOPO_* variables over the file config
func (a *app) applyRunOverrides() {
	if a.cfg.Run == nil {
		a.cfg.Run = &config.RunOverride{}
	}
	if a.v.IsSet("workers") {
		w := a.v.GetInt("workers")
		a.cfg.Run.Workers = &w
	}
	durations := map[string]**config.Duration{
		"run-timeout":     &a.cfg.Run.RunTimeout,
		"adapter-timeout": &a.cfg.Run.AdapterTimeout,
		"command-timeout": &a.cfg.Run.CommandTimeout,
	}
	for key, dst := range durations {
		if a.v.IsSet(key) {
			d := config.Duration(a.v.GetDuration(key))
			*dst = &d
		}
	}
	if a.v.IsSet("format") {
		a.cfg.Output.Format = a.v.GetString("format")
	}
	if a.v.IsSet("output") {
		a.cfg.Output.Path = a.v.GetString("output")
	}
	if a.v.IsSet("sqlite") {
		a.cfg.Output.SQLitePath = a.v.GetString("sqlite")
	}
}

func (a *app) run(ctx context.Context, filters []string, stdout io.Writer) error {
	if err := a.cfg.Validate(); err != nil {
		return err
	}
	a.logger.Info(a.cfg.Summary())

	exporter, err := codec.ForFormat(a.cfg.Output.Format)
	if err != nil {
		return err
	}

	inv, err := inventory.LoadYAML(a.cfg.Inventory.Path)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	all, err := inv.Hosts(ctx)
	if err != nil {
		return err
	}
	hosts := inventory.Select(all, filters)
	if len(hosts) == 0 {
		return fmt.Errorf("no inventory hosts match %v", filters)
	}

	adapters, err := a.buildAdapters(inv)
	if err != nil {
		return err
	}

	creds := service.NewCredentialStore(a.cfg.Credentials, a.logger)
	if err := creds.Load(); err != nil {
		return err
	}
	for _, s := range creds.Summaries() {
		a.logger.WithFields(logrus.Fields{"kind": s.Kind, "source": s.Source}).Debug("credential available")
	}

	bus := service.NewEventBus()
	events := make(chan service.Event, 256)
	bus.Subscribe(events)
	done := make(chan struct{})
	go func() {
		defer close(done)
		logProgress(a.logger, events)
	}()

	engine := service.NewEngine(adapters, creds, service.NewEngineConfig(a.cfg), bus, a.logger)
	reports := engine.Run(ctx, hosts)

	close(events)
	<-done

	if err := a.writeReport(exporter, reports, stdout); err != nil {
		return err
	}
	return a.saveRun(reports)
}

func (a *app) buildAdapters(inv inventory.Provider) (*adapter.Registry, error) {
	run := a.cfg.EffectiveRun()
	registry := adapter.NewRegistry(adapter.ModelPolicy{
		Legacy: a.cfg.Management.LegacyModels,
		REST:   a.cfg.Management.RESTModels,
	}, a.logger)

	cliCfg := adapter.DefaultCLIConfig()
	cliCfg.Port = a.cfg.CLI.Port
	cliCfg.CommandTimeout = run.CommandTimeout
	cliCfg.DriverModule = a.cfg.CLI.DriverModule
	cliCfg.SwitchAnnotation = a.cfg.CLI.SwitchAnnotation

	mgmt := adapter.ManagementConfig{
		RequestTimeout: run.CommandTimeout,
		InsecureTLS:    a.cfg.Management.InsecureTLS,
		Rate:           run.ManagementRate,
		Burst:          run.ManagementBurst,
	}
	if a.cfg.Management.Preflight.Enabled {
		mgmt.Prober = adapter.NewNmapPreflight(a.logger,
			adapter.WithPreflightPort(a.cfg.Management.Preflight.Port),
			adapter.WithTimeout(run.CommandTimeout),
			adapter.WithSkipHostDiscovery(true),
		)
	}

	sources := []adapter.Source{
		adapter.NewHypervisorAdapter(inv),
		adapter.NewCLIAdapter(cliCfg, a.logger),
		adapter.NewRedfishAdapter(mgmt, a.logger),
		adapter.NewLegacyAdapter(mgmt, a.logger),
	}
	for _, s := range sources {
		if err := registry.Register(s); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func (a *app) writeReport(exporter codec.Exporter, reports []domain.HostReport, stdout io.Writer) error {
	if a.cfg.Output.Path == "" || a.cfg.Output.Path == "-" {
		return exporter.Export(reports, stdout)
	}

	f, err := os.Create(a.cfg.Output.Path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	if err := exporter.Export(reports, f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close report: %w", err)
	}
	a.logger.WithFields(logrus.Fields{
		"path":   a.cfg.Output.Path,
		"format": exporter.Format(),
	}).Info("report written")
	return nil
}

func (a *app) saveRun(reports []domain.HostReport) error {
	if a.cfg.Output.SQLitePath == "" {
		return nil
	}

	var sink repository.ReportSink
	repo, err := sqlite.New(a.cfg.Output.SQLitePath)
	if err != nil {
		return err
	}
	sink = repo
	defer sink.Close()

	// A cancelled run still gets its partial reports persisted
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := sink.SaveRun(ctx, reports); err != nil {
		return err
	}
	a.logger.WithField("path", a.cfg.Output.SQLitePath).Info("run saved")
	return nil
}

// logProgress turns engine events into log lines until events is closed
func logProgress(logger logrus.FieldLogger, events <-chan service.Event) {
	for ev := range events {
		entry := logger.WithField("run_id", ev.RunID)
		if ev.Host != "" {
			entry = entry.WithField("host", ev.Host)
		}

		switch p := ev.Payload.(type) {
		case service.RunSummary:
			if ev.Type == service.EventRunStarted {
				entry.WithField("hosts", p.Hosts).Info("run started")
			} else {
				entry.WithFields(logrus.Fields{"hosts": p.Hosts, "anomalies": p.Anomalies}).Info("run finished")
			}
		case service.AdapterEvent:
			entry = entry.WithFields(logrus.Fields{"adapter": p.Source, "state": p.State})
			if p.State == domain.AdapterFailed {
				entry.WithField("error", p.Reason).Warn("adapter failed")
			} else {
				entry.Debug("adapter finished")
			}
		case service.HostSummary:
			entry.WithFields(logrus.Fields{
				"ports":     p.Ports,
				"anomalies": p.Anomalies,
				"failed":    p.Failed,
			}).Debug("host finished")
		default:
			entry.Debug(string(ev.Type))
		}
	}
}
