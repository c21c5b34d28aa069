package main

import (
	"errors"

	"github.com/gpufleet/gpuctl/internal/plm"
	"github.com/gpufleet/gpuctl/internal/val"
)

// Exit codes per the external interface: 0 success, 1 general error, 2
// vendor-backend init failure, 3 argument error, 4 permission error, 5
// operation unsupported on this platform/vendor.
const (
	exitSuccess            = 0
	exitGeneralError       = 1
	exitBackendInitFailure = 2
	exitArgumentError      = 3
	exitPermissionError    = 4
	exitUnsupported        = 5
)

// exitCodeFor classifies err against the concrete domain error types so the
// CLI can select an exit code by identity rather than string matching.
func exitCodeFor(err error) int {
	if err == nil {
		return exitSuccess
	}

	var backendUnavailable *val.BackendUnavailableError
	if errors.As(err, &backendUnavailable) {
		return exitBackendInitFailure
	}

	var unsupported *val.UnsupportedError
	if errors.As(err, &unsupported) {
		return exitUnsupported
	}

	var noPermission *plm.NoPermissionError
	if errors.As(err, &noPermission) {
		return exitPermissionError
	}

	var argErr *argumentError
	if errors.As(err, &argErr) {
		return exitArgumentError
	}

	return exitGeneralError
}

// argumentError marks a CLI-level input mistake (bad flag combination,
// missing required value) distinct from a failure inside a subsystem.
type argumentError struct{ msg string }

func (e *argumentError) Error() string { return e.msg }
