package plm

import (
	"context"
	"os"
	"testing"

	"github.com/gpufleet/gpuctl/internal/val"
)

func TestEnrich_FillsFieldsForLiveProcess(t *testing.T) {
	self := uint32(os.Getpid())
	procs := []val.ProcessRecord{{Pid: self, GpuIndex: 0}}

	out := Enrich(context.Background(), procs)
	if len(out) != 1 {
		t.Fatalf("expected 1 record, got %d", len(out))
	}
	if out[0].ProcName == "" || out[0].ProcName == unknown {
		t.Fatalf("expected a resolved process name, got %q", out[0].ProcName)
	}
	if out[0].User == "" {
		t.Fatalf("expected a non-empty user")
	}
}

func TestEnrich_UnknownForDeadPid(t *testing.T) {
	procs := []val.ProcessRecord{{Pid: 999999, GpuIndex: 0}}
	out := Enrich(context.Background(), procs)
	if out[0].User != unknown || out[0].ProcName != unknown {
		t.Fatalf("expected unknown fields for dead pid, got %+v", out[0])
	}
}

func TestEnrich_CachesRepeatedPid(t *testing.T) {
	self := uint32(os.Getpid())
	procs := []val.ProcessRecord{
		{Pid: self, GpuIndex: 0},
		{Pid: self, GpuIndex: 1},
	}
	out := Enrich(context.Background(), procs)
	if out[0].ProcName != out[1].ProcName || out[0].User != out[1].User {
		t.Fatalf("expected identical enrichment across GPUs for the same pid")
	}
}

func TestDetectContainer_CmdlineMarker(t *testing.T) {
	found := false
	lower := "containerd-shim-runc-v2 -namespace moby"
	for _, m := range containerCmdlineMarkers {
		if containsSubstring(lower, m.marker) {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a marker to match a containerd-shim cmdline")
	}
}

func containsSubstring(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}
