package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gpufleet/gpuctl/internal/val"
)

func newResetCmd(flags *globalFlags) *cobra.Command {
	var gpu int
	var all bool
	var force bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Reset a GPU device, or every device",
		RunE: func(cmd *cobra.Command, args []string) error {
			if (gpu >= 0) == all {
				return &argumentError{msg: "exactly one of --gpu or --all must be specified"}
			}

			ctx := cmd.Context()
			manager, err := val.NewGpuManager(ctx)
			if err != nil {
				return err
			}
			defer manager.Close()

			if !force {
				procs, err := manager.GetAllProcesses(ctx)
				if err != nil {
					return err
				}
				if gpu >= 0 && hasActiveProcess(procs, uint16(gpu)) {
					return &argumentError{msg: fmt.Sprintf("gpu %d has active processes; pass --force to reset anyway", gpu)}
				}
				if all && len(procs) > 0 {
					return &argumentError{msg: "one or more GPUs have active processes; pass --force to reset anyway"}
				}
			}

			if all {
				var lastErr error
				for i := uint32(0); i < manager.DeviceCount(); i++ {
					if err := manager.ResetGpu(ctx, i); err != nil {
						lastErr = err
					}
				}
				return lastErr
			}
			if err := manager.ResetGpu(ctx, uint32(gpu)); err != nil {
				return err
			}
			fmt.Printf("reset gpu %d\n", gpu)
			return nil
		},
	}

	cmd.Flags().IntVar(&gpu, "gpu", -1, "reset this GPU index")
	cmd.Flags().BoolVar(&all, "all", false, "reset every GPU device")
	cmd.Flags().BoolVar(&force, "force", false, "override the active-process guard")
	return cmd
}

func hasActiveProcess(procs []val.ProcessRecord, gpuIndex uint16) bool {
	for _, p := range procs {
		if p.GpuIndex == gpuIndex {
			return true
		}
	}
	return false
}
