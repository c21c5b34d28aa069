package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/gpufleet/gpuctl/internal/health"
)

func newHealthCmd(flags *globalFlags) *cobra.Command {
	var coordinatorURL string

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Print ok and exit 0 if this process's local state is healthy",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := health.Check(); err != nil {
				return err
			}
			if coordinatorURL != "" {
				if err := probeCoordinator(coordinatorURL); err != nil {
					return err
				}
			}
			fmt.Println("ok")
			return nil
		},
	}

	cmd.Flags().StringVar(&coordinatorURL, "coordinator", "", "also probe this coordinator's /api/nodes endpoint")
	return cmd
}

func probeCoordinator(coordinatorURL string) error {
	client := http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(coordinatorURL + "/api/nodes")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("coordinator health probe returned status %d", resp.StatusCode)
	}
	return nil
}
