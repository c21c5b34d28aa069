package main

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/gpufleet/gpuctl/internal/audit"
	"github.com/gpufleet/gpuctl/internal/cluster"
	"github.com/gpufleet/gpuctl/internal/guard"
	"github.com/gpufleet/gpuctl/internal/rogue"
)

func newServerCmd(flags *globalFlags) *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the cluster coordinator: HTTP API, janitor, and rogue/guard evaluation",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			dataDir, err := resolveDataDir(flags)
			if err != nil {
				return err
			}
			configDir, err := resolveConfigDir(flags)
			if err != nil {
				return err
			}

			auditMgr, err := audit.NewManager(dataDir)
			if err != nil {
				return err
			}
			guardStore, err := guard.OpenStore(configDir)
			if err != nil {
				return err
			}
			guardEngine := guard.NewEngine(guardStore)
			rogueStore, err := rogue.OpenStore(configDir)
			if err != nil {
				return err
			}
			rogueEngine := rogue.NewEngine(rogueStore)

			coordinator := cluster.NewCoordinator(auditMgr)
			go coordinator.RunJanitor(ctx)

			e := coordinator.Router(rogueEngine, guardStore, guardEngine)

			addr := fmt.Sprintf("%s:%d", host, port)
			slog.Info("coordinator listening", "addr", addr)
			if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "address to bind the coordinator HTTP API to")
	cmd.Flags().IntVar(&port, "port", 8743, "port to bind the coordinator HTTP API to")
	return cmd
}
