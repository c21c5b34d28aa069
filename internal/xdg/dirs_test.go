package xdg

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolve_PrefersFirstWritableCandidate(t *testing.T) {
	tmp := t.TempDir()
	already := filepath.Join(tmp, "already-exists")
	if err := os.MkdirAll(already, 0o755); err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	notYet := filepath.Join(tmp, "not-created-yet")

	got, err := resolve([]string{already, notYet})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != already {
		t.Fatalf("expected %s, got %s", already, got)
	}
}

func TestResolve_CreatesFirstCreatableCandidate(t *testing.T) {
	tmp := t.TempDir()
	target := filepath.Join(tmp, "nested", "dir")

	got, err := resolve([]string{target})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != target {
		t.Fatalf("expected %s, got %s", target, got)
	}
	if !writable(target) {
		t.Fatalf("expected %s to be writable after resolve", target)
	}
}

func TestDataDir_ReturnsWritablePath(t *testing.T) {
	dir, err := DataDir()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !writable(dir) {
		t.Fatalf("expected DataDir() result %s to be writable", dir)
	}
}
