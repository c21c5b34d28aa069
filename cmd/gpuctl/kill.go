package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gpufleet/gpuctl/internal/plm"
	"github.com/gpufleet/gpuctl/internal/val"
)

func newKillCmd(flags *globalFlags) *cobra.Command {
	var pid uint32
	var filter string
	var gpu int
	var batch bool
	var timeoutSecs int
	var force bool

	cmd := &cobra.Command{
		Use:   "kill",
		Short: "Terminate one or more GPU-attached processes",
		RunE: func(cmd *cobra.Command, args []string) error {
			selectors := 0
			if pid != 0 {
				selectors++
			}
			if filter != "" {
				selectors++
			}
			if gpu >= 0 {
				selectors++
			}
			if selectors != 1 {
				return &argumentError{msg: "exactly one of --pid, --filter, --gpu must be specified"}
			}
			if batch && filter == "" {
				return &argumentError{msg: "--batch requires --filter"}
			}

			ctx := cmd.Context()
			manager, err := val.NewGpuManager(ctx)
			if err != nil {
				return err
			}
			defer manager.Close()

			procs, err := manager.GetAllProcesses(ctx)
			if err != nil {
				return err
			}
			procs = plm.Enrich(ctx, procs)

			switch {
			case pid != 0:
				if err := plm.Validate(ctx, pid, false, procs); err != nil {
					return err
				}
				if err := plm.GracefulKill(ctx, pid, timeoutSecs, force); err != nil {
					return err
				}
				fmt.Printf("killed pid %d\n", pid)
				return nil

			case gpu >= 0:
				var onGpu []val.ProcessRecord
				for _, p := range procs {
					if uint32(p.GpuIndex) == uint32(gpu) {
						onGpu = append(onGpu, p)
					}
				}
				killed, err := plm.BatchKill(ctx, onGpu, timeoutSecs, force)
				fmt.Printf("killed %d process(es) on gpu %d\n", len(killed), gpu)
				return err

			default:
				matched, err := plm.FilterByName(procs, filter)
				if err != nil {
					return &argumentError{msg: err.Error()}
				}
				if !batch && len(matched) > 1 {
					return &argumentError{msg: "--filter matched more than one process; pass --batch to kill all of them"}
				}
				killed, err := plm.BatchKill(ctx, matched, timeoutSecs, force)
				fmt.Printf("killed %d process(es) matching %q\n", len(killed), filter)
				return err
			}
		},
	}

	cmd.Flags().Uint32Var(&pid, "pid", 0, "kill a single process by PID")
	cmd.Flags().StringVar(&filter, "filter", "", "kill processes whose name matches this regular expression")
	cmd.Flags().IntVar(&gpu, "gpu", -1, "kill every process attached to this GPU index")
	cmd.Flags().BoolVar(&batch, "batch", false, "allow --filter to match and kill more than one process")
	cmd.Flags().IntVar(&timeoutSecs, "timeout_secs", 5, "seconds to wait after the polite signal before escalating")
	cmd.Flags().BoolVar(&force, "force", false, "escalate to a forced kill if the polite signal times out")
	return cmd
}
