package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"nictopo/internal/config"
)

// version is stamped at build time with -ldflags "-X main.version=..."
var version = "dev"

// app carries the state shared by every subcommand
type app struct {
	v          *viper.Viper
	logger     *logrus.Logger
	cfg        *config.Config
	configPath string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New(), logger: logrus.New()}

	cmd := &cobra.Command{
		Use:          "nictopo",
		Short:        "Reconcile host NIC topology across inventory, CLI and management controllers",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setupLogger(); err != nil {
				return err
			}
			return a.loadConfig()
		},
	}

	flags := cmd.PersistentFlags()
	flags.String("config", "", "config file (default: search $NICTOPO_CONFIG, ./nictopo.yaml, XDG and /etc)")
	flags.String("log-level", "info", "log level (trace, debug, info, warn, error)")
	flags.String("log-format", "text", "log format (text or json)")
	flags.String("inventory", "", "hypervisor inventory document")
	for _, name := range []string{"config", "log-level", "log-format", "inventory"} {
		_ = a.v.BindPFlag(name, flags.Lookup(name))
	}

	a.v.SetEnvPrefix("nictopo")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	cmd.AddCommand(newRunCmd(a), newPolicyCmd(a), newHostsCmd(a), newVersionCmd())
	return cmd
}

func (a *app) setupLogger() error {
	level, err := logrus.ParseLevel(a.v.GetString("log-level"))
	if err != nil {
		return fmt.Errorf("parse log level: %w", err)
	}
	a.logger.SetLevel(level)
	a.logger.SetOutput(os.Stderr)

	switch strings.ToLower(a.v.GetString("log-format")) {
	case "json":
		a.logger.SetFormatter(&logrus.JSONFormatter{})
	case "text", "":
		a.logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("unknown log format %q", a.v.GetString("log-format"))
	}
	return nil
}

func (a *app) loadConfig() error {
	var (
		cfg  *config.Config
		path string
		err  error
	)
	if explicit := a.v.GetString("config"); explicit != "" {
		cfg, path, err = config.LoadFromPath(explicit)
	} else {
		cfg, path, err = config.Load()
	}
	if err != nil {
		return err
	}

	if inv := a.v.GetString("inventory"); inv != "" {
		cfg.Inventory.Path = inv
	} else {
		cfg.Inventory.Path = config.ResolveRelative(path, cfg.Inventory.Path)
	}
	cfg.Output.Path = config.ResolveRelative(path, cfg.Output.Path)
	cfg.Output.SQLitePath = config.ResolveRelative(path, cfg.Output.SQLitePath)

	a.cfg = cfg
	a.configPath = path

	entry := a.logger.WithField("config", path)
	if path == "" {
		entry = a.logger.WithField("config", "defaults")
	}
	entry.Debug("configuration loaded")
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "nictopo", version)
		},
	}
}
