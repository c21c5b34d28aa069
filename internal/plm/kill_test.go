//go:build !windows

package plm

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/gpufleet/gpuctl/internal/val"
)

// spawnSleeper starts a child process and returns its PID plus a cleanup
// that waits it out, for tests exercising real signal delivery.
func spawnSleeper(t *testing.T, script string) uint32 {
	t.Helper()
	cmd := exec.Command("sh", "-c", script)
	if err := cmd.Start(); err != nil {
		t.Fatalf("failed to start test process: %v", err)
	}
	pid := uint32(cmd.Process.Pid)
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
		_, _ = cmd.Process.Wait()
	})
	return pid
}

// TestGracefulKill_ExitsOnPoliteSignal mirrors scenario 1: a process that
// honors SIGTERM exits well within the polling window.
func TestGracefulKill_ExitsOnPoliteSignal(t *testing.T) {
	pid := spawnSleeper(t, "sleep 10")

	start := time.Now()
	err := GracefulKill(context.Background(), pid, 5, false)
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed > 2*time.Second {
		t.Fatalf("expected quick exit on polite signal, took %v", elapsed)
	}
}

// TestGracefulKill_EscalatesToForce mirrors scenario 2: a process that traps
// SIGTERM only yields to the forced signal.
func TestGracefulKill_EscalatesToForce(t *testing.T) {
	pid := spawnSleeper(t, "trap '' TERM; sleep 30")

	start := time.Now()
	err := GracefulKill(context.Background(), pid, 1, true)
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed < 1*time.Second {
		t.Fatalf("expected escalation to take at least the polite window, took %v", elapsed)
	}
	if elapsed > 3*time.Second {
		t.Fatalf("expected escalation to finish quickly after forced signal, took %v", elapsed)
	}
}

func TestGracefulKill_TimeoutWithoutForce(t *testing.T) {
	pid := spawnSleeper(t, "trap '' TERM; sleep 30")

	err := GracefulKill(context.Background(), pid, 1, false)
	if _, ok := err.(*KillTimeoutError); !ok {
		t.Fatalf("expected *KillTimeoutError, got %v", err)
	}
}

// TestBatchKill_DedupesMultiGpuProcess mirrors scenario 3: a PID attached to
// two GPUs is killed exactly once.
func TestBatchKill_DedupesMultiGpuProcess(t *testing.T) {
	pidA := spawnSleeper(t, "sleep 10")
	pidB := spawnSleeper(t, "sleep 10")

	procs := []val.ProcessRecord{
		{Pid: pidA, GpuIndex: 0},
		{Pid: pidA, GpuIndex: 1},
		{Pid: pidB, GpuIndex: 0},
	}

	killed, err := BatchKill(context.Background(), procs, 5, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(killed) != 2 {
		t.Fatalf("expected 2 unique pids killed, got %d: %v", len(killed), killed)
	}

	seen := map[uint32]bool{}
	for _, p := range killed {
		if seen[p] {
			t.Fatalf("pid %d killed more than once", p)
		}
		seen[p] = true
	}
	if !seen[pidA] || !seen[pidB] {
		t.Fatalf("expected both pids killed, got %v", killed)
	}
}

func TestValidate_NotFound(t *testing.T) {
	err := Validate(context.Background(), 999999, false, nil)
	if _, ok := err.(*ProcessNotFoundError); !ok {
		t.Fatalf("expected *ProcessNotFoundError, got %v", err)
	}
}

func TestValidate_RequireGpuNotAttached(t *testing.T) {
	pid := spawnSleeper(t, "sleep 10")
	err := Validate(context.Background(), pid, true, []val.ProcessRecord{{Pid: pid + 1}})
	if _, ok := err.(*ProcessNotUsingGpuError); !ok {
		t.Fatalf("expected *ProcessNotUsingGpuError, got %v", err)
	}
}
