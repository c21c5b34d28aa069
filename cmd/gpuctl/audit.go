package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gpufleet/gpuctl/internal/audit"
	"github.com/gpufleet/gpuctl/internal/rogue"
)

func newAuditCmd(flags *globalFlags) *cobra.Command {
	var hours float64
	var user string
	var process string
	var summary bool
	var runRogue bool
	var cleanupDays float64

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query the audit log, or run the rogue detector over it",
		RunE: func(cmd *cobra.Command, args []string) error {
			dataDir, err := resolveDataDir(flags)
			if err != nil {
				return err
			}
			mgr, err := audit.NewManager(dataDir)
			if err != nil {
				return err
			}

			if cleanupDays > 0 {
				if err := mgr.Cleanup(cleanupDays); err != nil {
					return err
				}
				fmt.Printf("retained records within %.0f day(s)\n", cleanupDays)
				return nil
			}

			if summary {
				s, err := mgr.Summary(hours)
				if err != nil {
					return err
				}
				return printJSON(s)
			}

			if runRogue {
				configDir, err := resolveConfigDir(flags)
				if err != nil {
					return err
				}
				store, err := rogue.OpenStore(configDir)
				if err != nil {
					return err
				}
				records, err := mgr.Query(hours, user, process)
				if err != nil {
					return err
				}
				result := rogue.Detect(records, store.Config().Rules)
				return printJSON(result)
			}

			records, err := mgr.Query(hours, user, process)
			if err != nil {
				return err
			}
			return printJSON(records)
		},
	}

	cmd.Flags().Float64Var(&hours, "hours", 24, "lookback window in hours")
	cmd.Flags().StringVar(&user, "user", "", "restrict to this username")
	cmd.Flags().StringVar(&process, "process", "", "restrict to process names containing this substring")
	cmd.Flags().BoolVar(&summary, "summary", false, "print top-10 users/processes instead of raw records")
	cmd.Flags().BoolVar(&runRogue, "rogue", false, "run the rogue detector over the queried window instead of printing raw records")
	cmd.Flags().Float64Var(&cleanupDays, "cleanup_days", 0, "rewrite the audit log keeping only the last N days, then exit")
	return cmd
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
