//go:build windows

package plm

import "os"

// Windows has no catchable-terminator/uncatchable-killer distinction for an
// arbitrary external process; both escalation steps invoke Process.Kill.
var politeSignal os.Signal = os.Kill
var forceSignal os.Signal = os.Kill

func sendSignal(pid uint32, sig os.Signal) error {
	proc, err := os.FindProcess(int(pid))
	if err != nil {
		return err
	}
	if err := proc.Kill(); err != nil {
		if os.IsPermission(err) {
			return &NoPermissionError{Pid: pid}
		}
		return err
	}
	return nil
}
