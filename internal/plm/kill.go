package plm

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/gpufleet/gpuctl/internal/val"
)

const pollInterval = 100 * time.Millisecond
const forceWait = 500 * time.Millisecond

// pidLive consults the OS's live-process table, not the signal facility, so
// a zombie counts as gone.
func pidLive(ctx context.Context, pid uint32) bool {
	exists, err := process.PidExistsWithContext(ctx, int32(pid))
	if err != nil || !exists {
		return false
	}
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return false
	}
	if status, err := p.StatusWithContext(ctx); err == nil {
		for _, s := range status {
			if s == process.Zombie {
				return false
			}
		}
	}
	return true
}

// waitForExit polls pidLive every 100ms until it returns false or budget
// elapses, returning true if the process exited within budget.
func waitForExit(ctx context.Context, pid uint32, budget time.Duration) bool {
	deadline := time.Now().Add(budget)
	for {
		if !pidLive(ctx, pid) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(pollInterval):
		}
	}
}

// GracefulKill implements the polite-then-forced escalation protocol:
// send the polite signal, poll liveness for timeoutSecs, then either
// succeed, escalate to the forced signal (if force), or report a timeout.
func GracefulKill(ctx context.Context, pid uint32, timeoutSecs int, force bool) error {
	if !pidLive(ctx, pid) {
		return &ProcessNotFoundError{Pid: pid}
	}

	if err := sendSignal(pid, politeSignal); err != nil {
		return err
	}

	if waitForExit(ctx, pid, time.Duration(timeoutSecs)*time.Second) {
		return nil
	}

	if !force {
		return &KillTimeoutError{Pid: pid, Secs: timeoutSecs}
	}

	if err := sendSignal(pid, forceSignal); err != nil {
		return err
	}
	if waitForExit(ctx, pid, forceWait) {
		return nil
	}
	return &KillForcedButAliveError{Pid: pid}
}

// BatchKill deduplicates procs by PID (a PID appears once even if attached
// to multiple GPUs), kills in first-occurrence order, and accumulates
// failures. It returns an error only if at least one kill failed.
func BatchKill(ctx context.Context, procs []val.ProcessRecord, timeoutSecs int, force bool) ([]uint32, error) {
	seen := make(map[uint32]struct{}, len(procs))
	var killed []uint32
	var failed []uint32

	for _, p := range procs {
		if _, dup := seen[p.Pid]; dup {
			continue
		}
		seen[p.Pid] = struct{}{}

		if err := GracefulKill(ctx, p.Pid, timeoutSecs, force); err != nil {
			failed = append(failed, p.Pid)
			continue
		}
		killed = append(killed, p.Pid)
	}

	if len(failed) > 0 {
		return killed, &BatchFailedError{Failed: failed}
	}
	return killed, nil
}

// Validate checks a PID exists, and optionally that some GPU backend
// reports it attached to a device.
func Validate(ctx context.Context, pid uint32, requireGpu bool, gpuProcs []val.ProcessRecord) error {
	if !pidLive(ctx, pid) {
		return &ProcessNotFoundError{Pid: pid}
	}
	if !requireGpu {
		return nil
	}
	for _, p := range gpuProcs {
		if p.Pid == pid {
			return nil
		}
	}
	return &ProcessNotUsingGpuError{Pid: pid}
}
