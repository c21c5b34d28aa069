// Package xdg resolves per-user data and config directories, adapted from
// the reference agent's data-directory probing: try the platform's natural
// location first, then fall back progressively, creating whichever
// candidate is writable.
package xdg

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
)

const appName = "gpukill"

// DataDir resolves the per-user data directory for appName, per the
// fallback chain: platform-natural location, then $HOME/.local/share, then
// the current working directory.
func DataDir() (string, error) {
	return resolve(platformDataCandidates())
}

// ConfigDir resolves the per-user config directory for appName: the
// platform's config location, then the current working directory.
func ConfigDir() (string, error) {
	return resolve(platformConfigCandidates())
}

func platformDataCandidates() []string {
	var candidates []string
	switch runtime.GOOS {
	case "windows":
		if v := os.Getenv("LOCALAPPDATA"); v != "" {
			candidates = append(candidates, filepath.Join(v, appName))
		}
	case "darwin":
		if home, err := os.UserHomeDir(); err == nil {
			candidates = append(candidates, filepath.Join(home, "Library", "Application Support", appName))
		}
	default:
		if v := os.Getenv("XDG_DATA_HOME"); v != "" {
			candidates = append(candidates, filepath.Join(v, appName))
		} else if home, err := os.UserHomeDir(); err == nil {
			candidates = append(candidates, filepath.Join(home, ".local", "share", appName))
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".local", "share", appName))
	}
	if cwd, err := os.Getwd(); err == nil {
		candidates = append(candidates, filepath.Join(cwd, appName))
	}
	return candidates
}

func platformConfigCandidates() []string {
	var candidates []string
	switch runtime.GOOS {
	case "windows":
		if v := os.Getenv("APPDATA"); v != "" {
			candidates = append(candidates, filepath.Join(v, appName))
		}
	case "darwin":
		if home, err := os.UserHomeDir(); err == nil {
			candidates = append(candidates, filepath.Join(home, "Library", "Application Support", appName))
		}
	default:
		if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
			candidates = append(candidates, filepath.Join(v, appName))
		} else if home, err := os.UserHomeDir(); err == nil {
			candidates = append(candidates, filepath.Join(home, ".config", appName))
		}
	}
	if cwd, err := os.Getwd(); err == nil {
		candidates = append(candidates, filepath.Join(cwd, appName))
	}
	return candidates
}

// resolve returns the first candidate that already exists and is writable,
// creating the first candidate that can be created and made writable.
func resolve(candidates []string) (string, error) {
	for _, path := range candidates {
		if writable(path) {
			return path, nil
		}
	}
	for _, path := range candidates {
		if err := os.MkdirAll(path, 0o755); err != nil {
			continue
		}
		if writable(path) {
			return path, nil
		}
	}
	return "", errors.New("no writable data/config directory found")
}

func writable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return false
	}
	probe := filepath.Join(path, ".write-test")
	f, err := os.Create(probe)
	if err != nil {
		return false
	}
	f.Close()
	os.Remove(probe)
	return true
}
