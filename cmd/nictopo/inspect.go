package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"nictopo/internal/adapter"
	"nictopo/internal/config"
	"nictopo/internal/inventory"
)

func newPolicyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "policy",
		Short: "Print the effective policy and NUMA table",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := struct {
				Policy config.Policy     `yaml:"policy"`
				NUMA   config.NUMAConfig `yaml:"numa"`
				Run    config.RunProfile `yaml:"run"`
			}{a.cfg.Policy, a.cfg.NUMA, a.cfg.EffectiveRun()}

			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(out); err != nil {
				return fmt.Errorf("encode policy: %w", err)
			}
			return enc.Close()
		},
	}
}

func newHostsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "hosts [host|cluster ...]",
		Short: "List inventory hosts and the management adapter each would use",
		RunE: func(cmd *cobra.Command, args []string) error {
			inv, err := inventory.LoadYAML(a.cfg.Inventory.Path)
			if err != nil {
				return err
			}
			all, err := inv.Hosts(cmd.Context())
			if err != nil {
				return err
			}

			policy := adapter.NewRegistry(adapter.ModelPolicy{
				Legacy: a.cfg.Management.LegacyModels,
				REST:   a.cfg.Management.RESTModels,
			}, a.logger)

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "HOST\tCLUSTER\tMODEL\tMANAGEMENT")
			for _, h := range inventory.Select(all, args) {
				mgmt := policy.ManagementAdapter(h)
				if mgmt == "" {
					mgmt = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", h.Name, h.Cluster, h.Model, mgmt)
			}
			return tw.Flush()
		},
	}
}
