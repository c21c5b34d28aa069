// Package health tracks agent-uploader liveness via the modification time
// of a marker file in a shared temp location, checked by `gpuctl health`.
// The uploader must call Update() after every successful snapshot upload
// for the process to be considered healthy.
package health

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

const staleAfter = 91 * time.Second

var markerFile = markerFilePath()

func markerFilePath() string {
	const filename = "gpuctl_agent_health"
	if runtime.GOOS == "linux" {
		path := filepath.Join("/dev/shm", filename)
		if err := touch(path); err == nil {
			return path
		}
	}
	return filepath.Join(os.TempDir(), filename)
}

func touch(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	return f.Close()
}

// Check reports an error if the marker file is missing or older than
// staleAfter, indicating the agent uploader has stopped reporting in.
func Check() error {
	info, err := os.Stat(markerFile)
	if err != nil {
		return err
	}
	if time.Since(info.ModTime()) > staleAfter {
		return errors.New("agent uploader has not reported in over 90 seconds")
	}
	return nil
}

// Update refreshes the marker file's modification time.
func Update() error {
	return touch(markerFile)
}

// CleanUp removes the marker file, for graceful shutdown.
func CleanUp() error {
	return os.Remove(markerFile)
}
