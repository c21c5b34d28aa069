package plm

import (
	"testing"

	"github.com/gpufleet/gpuctl/internal/val"
)

func sampleProcs() []val.ProcessRecord {
	return []val.ProcessRecord{
		{Pid: 1, ProcName: "xmrig", User: "alice", UsedMemMB: 2048},
		{Pid: 2, ProcName: "python3", User: "bob", UsedMemMB: 512},
		{Pid: 3, ProcName: "pytorch_worker", User: "alice", UsedMemMB: 4096},
	}
}

func TestFilterByName(t *testing.T) {
	out, err := FilterByName(sampleProcs(), "^py")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(out))
	}
}

func TestFilterByName_InvalidPattern(t *testing.T) {
	_, err := FilterByName(sampleProcs(), "(unclosed")
	if err == nil {
		t.Fatal("expected error for invalid regex")
	}
}

func TestFilterByUser(t *testing.T) {
	out, err := FilterByUser(sampleProcs(), "^alice$")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(out))
	}
}

func TestFilterByMemory(t *testing.T) {
	out := FilterByMemory(sampleProcs(), 1000)
	if len(out) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(out))
	}
}
