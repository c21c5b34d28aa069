package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/gpufleet/gpuctl/internal/cluster"
	"github.com/gpufleet/gpuctl/internal/health"
	"github.com/gpufleet/gpuctl/internal/val"
)

func newAgentCmd(flags *globalFlags) *cobra.Command {
	var coordinatorURL string

	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Run the node-local uploader that reports GPU state to a coordinator",
		RunE: func(cmd *cobra.Command, args []string) error {
			if coordinatorURL == "" {
				return &argumentError{msg: "--coordinator is required"}
			}

			ctx := cmd.Context()
			dataDir, err := resolveDataDir(flags)
			if err != nil {
				return err
			}

			manager, err := val.NewGpuManager(ctx)
			if err != nil {
				return err
			}
			defer manager.Close()

			uploader, err := cluster.NewAgentUploader(coordinatorURL, dataDir, manager)
			if err != nil {
				return err
			}
			uploader.OnUpload = func() {
				if err := health.Update(); err != nil {
					slog.Warn("failed to refresh health marker", "err", err)
				}
			}

			return uploader.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&coordinatorURL, "coordinator", "", "base URL of the cluster coordinator, e.g. http://coordinator:8743")
	return cmd
}
