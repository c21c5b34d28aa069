package main

import (
	"context"
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/gpufleet/gpuctl/internal/guard"
	"github.com/gpufleet/gpuctl/internal/val"
)

func newGuardCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "guard",
		Short: "Inspect and manage Guard Mode policies and enforcement",
	}

	cmd.AddCommand(
		newGuardStatusCmd(flags),
		newGuardToggleCmd(flags, "enable", "enable Guard Mode evaluation", func(cfg *guard.GuardConfig) { cfg.Enabled = true }),
		newGuardToggleCmd(flags, "disable", "disable Guard Mode evaluation", func(cfg *guard.GuardConfig) { cfg.Enabled = false }),
		newGuardToggleCmd(flags, "dry-run", "force observe-only mode", func(cfg *guard.GuardConfig) { cfg.DryRun = true }),
		newGuardToggleCmd(flags, "enforce", "allow soft/hard enforcement per policy severity", func(cfg *guard.GuardConfig) { cfg.DryRun = false }),
		newGuardPolicyCmd(flags, "add-user", "add or replace a user policy", func(s *guard.Store, raw []byte) error {
			var p guard.UserPolicy
			if err := json.Unmarshal(raw, &p); err != nil {
				return &argumentError{msg: err.Error()}
			}
			return s.UpsertUserPolicy(p)
		}),
		newGuardPolicyCmd(flags, "add-group", "add or replace a group policy", func(s *guard.Store, raw []byte) error {
			var p guard.GroupPolicy
			if err := json.Unmarshal(raw, &p); err != nil {
				return &argumentError{msg: err.Error()}
			}
			return s.UpsertGroupPolicy(p)
		}),
		newGuardPolicyCmd(flags, "add-gpu", "add or replace a GPU policy", func(s *guard.Store, raw []byte) error {
			var p guard.GpuPolicy
			if err := json.Unmarshal(raw, &p); err != nil {
				return &argumentError{msg: err.Error()}
			}
			return s.UpsertGpuPolicy(p)
		}),
		newGuardRemoveCmd(flags, "remove-user", "remove a user policy by username", func(s *guard.Store, key string) error {
			return s.RemoveUserPolicy(key)
		}),
		newGuardRemoveCmd(flags, "remove-group", "remove a group policy by name", func(s *guard.Store, key string) error {
			return s.RemoveGroupPolicy(key)
		}),
		newGuardExportCmd(flags),
		newGuardTestCmd(flags),
	)
	return cmd
}

func openGuardStore(flags *globalFlags) (*guard.Store, error) {
	dir, err := resolveConfigDir(flags)
	if err != nil {
		return nil, err
	}
	return guard.OpenStore(dir)
}

func newGuardStatusCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Evaluate Guard Mode over the current local GPU processes and print the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openGuardStore(flags)
			if err != nil {
				return err
			}
			engine := guard.NewEngine(store)
			procs, err := currentProcesses(cmd.Context())
			if err != nil {
				return err
			}
			report, err := engine.Evaluate(cmd.Context(), procs, flags.dryRun)
			if err != nil {
				return err
			}
			return printJSON(struct {
				Config guard.GuardConfig `json:"config"`
				guard.Report
			}{Config: store.Config(), Report: report})
		},
	}
}

func newGuardToggleCmd(flags *globalFlags, use, short string, apply func(*guard.GuardConfig)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openGuardStore(flags)
			if err != nil {
				return err
			}
			cfg := store.Config()
			apply(&cfg)
			if err := store.ReplaceConfig(cfg); err != nil {
				return err
			}
			return printJSON(cfg)
		},
	}
}

func newGuardPolicyCmd(flags *globalFlags, use, short string, apply func(*guard.Store, []byte) error) *cobra.Command {
	var policyJSON string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			if policyJSON == "" {
				return &argumentError{msg: "--policy (a JSON document) is required"}
			}
			store, err := openGuardStore(flags)
			if err != nil {
				return err
			}
			if err := apply(store, []byte(policyJSON)); err != nil {
				return err
			}
			return printJSON(store.Policies())
		},
	}
	cmd.Flags().StringVar(&policyJSON, "policy", "", "the policy document as JSON")
	return cmd
}

func newGuardRemoveCmd(flags *globalFlags, use, short string, remove func(*guard.Store, string) error) *cobra.Command {
	var key string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			if key == "" {
				return &argumentError{msg: "--key is required"}
			}
			store, err := openGuardStore(flags)
			if err != nil {
				return err
			}
			if err := remove(store, key); err != nil {
				return err
			}
			return printJSON(store.Policies())
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "the policy's scope key (username or group name)")
	return cmd
}

func newGuardExportCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Print the current config and policy set as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openGuardStore(flags)
			if err != nil {
				return err
			}
			return printJSON(struct {
				Config   guard.GuardConfig `json:"config"`
				Policies guard.PolicySet   `json:"policies"`
			}{Config: store.Config(), Policies: store.Policies()})
		},
	}
}

func newGuardTestCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Dry-run Guard Mode over the current local GPU processes regardless of the live dry_run setting",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openGuardStore(flags)
			if err != nil {
				return err
			}
			engine := guard.NewEngine(store)
			procs, err := currentProcesses(cmd.Context())
			if err != nil {
				return err
			}
			report, err := engine.SimulatePolicyCheck(cmd.Context(), procs)
			if err != nil {
				return err
			}
			return printJSON(report)
		},
	}
}

func currentProcesses(ctx context.Context) ([]val.ProcessRecord, error) {
	manager, err := val.NewGpuManager(ctx)
	if err != nil {
		return nil, err
	}
	defer manager.Close()
	return manager.GetAllProcesses(ctx)
}
