package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/gpufleet/gpuctl/internal/plm"
	"github.com/gpufleet/gpuctl/internal/val"
)

func newListCmd() *cobra.Command {
	var details bool
	var watch int
	var containers bool
	var vendor string
	var output string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List GPU devices and the processes attached to them",
		RunE: func(cmd *cobra.Command, args []string) error {
			if output != "table" && output != "json" {
				return &argumentError{msg: "--output must be table or json"}
			}

			ctx := cmd.Context()
			run := func() error { return runList(ctx, details, containers, vendor, output) }

			if watch <= 0 {
				return run()
			}
			for {
				if err := run(); err != nil {
					return err
				}
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(time.Duration(watch) * time.Second):
				}
			}
		},
	}

	cmd.Flags().BoolVar(&details, "details", false, "include per-process detail in the listing")
	cmd.Flags().IntVar(&watch, "watch", 0, "refresh every N seconds instead of listing once")
	cmd.Flags().BoolVar(&containers, "containers", false, "annotate processes with the detected container runtime")
	cmd.Flags().StringVar(&vendor, "vendor", "all", "restrict to one vendor: nvidia, amd, intel, apple, all")
	cmd.Flags().StringVar(&output, "output", "table", "output format: table or json")
	return cmd
}

func runList(ctx context.Context, details, containers bool, vendor, output string) error {
	manager, err := val.NewGpuManager(ctx)
	if err != nil {
		return err
	}
	defer manager.Close()

	devices, err := manager.GetAllSnapshots(ctx)
	if err != nil {
		return err
	}
	if vendor != "" && vendor != "all" {
		devices = filterDevicesByVendor(devices, val.GpuVendor(vendor))
	}

	var procs []val.ProcessRecord
	if details {
		procs, err = manager.GetAllProcesses(ctx)
		if err != nil {
			return err
		}
		if containers {
			procs = plm.Enrich(ctx, procs)
		}
	}

	if output == "json" {
		return printListJSON(devices, procs)
	}
	printListTable(devices, procs, details)
	return nil
}

func filterDevicesByVendor(devices []val.DeviceSnapshot, vendor val.GpuVendor) []val.DeviceSnapshot {
	var out []val.DeviceSnapshot
	for _, d := range devices {
		if d.Vendor == vendor {
			out = append(out, d)
		}
	}
	return out
}

func printListJSON(devices []val.DeviceSnapshot, procs []val.ProcessRecord) error {
	payload := struct {
		Devices   []val.DeviceSnapshot `json:"devices"`
		Processes []val.ProcessRecord  `json:"processes,omitempty"`
	}{Devices: devices, Processes: procs}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}

func printListTable(devices []val.DeviceSnapshot, procs []val.ProcessRecord, details bool) {
	fmt.Printf("%-5s %-10s %-24s %8s %8s %6s\n", "INDEX", "VENDOR", "NAME", "MEM MB", "TOTAL", "UTIL%")
	for _, d := range devices {
		fmt.Printf("%-5d %-10s %-24s %8d %8d %5.1f%%\n", d.Index, d.Vendor, d.Name, d.MemUsedMB, d.MemTotalMB, d.UtilPct)
	}
	if !details {
		return
	}
	fmt.Println()
	fmt.Printf("%-8s %-6s %-20s %8s %-12s\n", "GPU", "PID", "PROCESS", "MEM MB", "CONTAINER")
	for _, p := range procs {
		container := "-"
		if p.Container != nil {
			container = *p.Container
		}
		fmt.Printf("%-8d %-6d %-20s %8d %-12s\n", p.GpuIndex, p.Pid, truncate(p.ProcName, 20), p.UsedMemMB, container)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.TrimSpace(s[:n])
}
