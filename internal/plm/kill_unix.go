//go:build !windows

package plm

import (
	"os"
	"syscall"
)

// politeSignal and forceSignal are the catchable terminator and the
// uncatchable killer required by the escalation protocol.
var politeSignal os.Signal = syscall.SIGTERM
var forceSignal os.Signal = syscall.SIGKILL

func sendSignal(pid uint32, sig os.Signal) error {
	proc, err := os.FindProcess(int(pid))
	if err != nil {
		return err
	}
	err = proc.Signal(sig)
	if err != nil {
		if os.IsPermission(err) {
			return &NoPermissionError{Pid: pid}
		}
		return err
	}
	return nil
}
