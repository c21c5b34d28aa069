// Package plm resolves OS-level attributes of GPU-attached PIDs, selects
// processes by predicate, and terminates them with a graceful-then-forced
// escalation protocol.
package plm

import "fmt"

// ProcessNotFoundError indicates the PID does not exist in the live process
// table at the time of the check.
type ProcessNotFoundError struct{ Pid uint32 }

func (e *ProcessNotFoundError) Error() string { return fmt.Sprintf("process %d not found", e.Pid) }

// ProcessNotUsingGpuError indicates the PID exists but no backend reports it
// attached to any device.
type ProcessNotUsingGpuError struct{ Pid uint32 }

func (e *ProcessNotUsingGpuError) Error() string {
	return fmt.Sprintf("process %d is not using a GPU", e.Pid)
}

// KillTimeoutError indicates the polite signal was sent but the process was
// still alive after secs seconds, and force was not requested.
type KillTimeoutError struct {
	Pid  uint32
	Secs int
}

func (e *KillTimeoutError) Error() string {
	return fmt.Sprintf("process %d still running after %ds polite wait", e.Pid, e.Secs)
}

// KillForcedButAliveError indicates the uncatchable signal was sent and the
// process was still alive after the forced wait window.
type KillForcedButAliveError struct{ Pid uint32 }

func (e *KillForcedButAliveError) Error() string {
	return fmt.Sprintf("process %d still running after forced kill", e.Pid)
}

// NoPermissionError indicates the caller lacks permission to signal the PID.
// Distinguished from ProcessNotFoundError because callers may choose to
// escalate privilege and retry; a dry-run preview remains safe either way.
type NoPermissionError struct{ Pid uint32 }

func (e *NoPermissionError) Error() string {
	return fmt.Sprintf("no permission to signal process %d", e.Pid)
}

// BatchFailedError is returned by BatchKill when at least one PID in the
// batch could not be killed.
type BatchFailedError struct{ Failed []uint32 }

func (e *BatchFailedError) Error() string {
	return fmt.Sprintf("batch kill failed for %d pid(s): %v", len(e.Failed), e.Failed)
}
