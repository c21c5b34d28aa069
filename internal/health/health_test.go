package health

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func withTempMarker(t *testing.T) {
	t.Helper()
	original := markerFile
	markerFile = filepath.Join(t.TempDir(), "gpuctl_agent_health_test")
	t.Cleanup(func() { markerFile = original })
}

func TestCheck_NoMarkerFileIsUnhealthy(t *testing.T) {
	withTempMarker(t)
	if err := Check(); !os.IsNotExist(err) {
		t.Fatalf("expected a file-not-exist error, got %v", err)
	}
}

func TestUpdateThenCheck_IsHealthy(t *testing.T) {
	withTempMarker(t)
	if err := Update(); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if err := Check(); err != nil {
		t.Fatalf("Check failed immediately after Update: %v", err)
	}
}

func TestCheck_StaleMarkerIsUnhealthy(t *testing.T) {
	withTempMarker(t)
	if err := Update(); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	old := time.Now().Add(-92 * time.Second)
	if err := os.Chtimes(markerFile, old, old); err != nil {
		t.Fatalf("Chtimes failed: %v", err)
	}
	if err := Check(); err == nil {
		t.Fatal("expected Check to report unhealthy after 92s")
	}
}

func TestCleanUp_RemovesMarker(t *testing.T) {
	withTempMarker(t)
	if err := Update(); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if err := CleanUp(); err != nil {
		t.Fatalf("CleanUp failed: %v", err)
	}
	if _, err := os.Stat(markerFile); !os.IsNotExist(err) {
		t.Fatalf("expected marker file to be removed, got err=%v", err)
	}
}
