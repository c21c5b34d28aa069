package rogue

import (
	"testing"

	"github.com/gpufleet/gpuctl/internal/audit"
	"github.com/gpufleet/gpuctl/internal/val"
)

func newTestAuditManager(t *testing.T) *audit.Manager {
	t.Helper()
	m, err := audit.NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	return m
}

func TestEngineRun_DisabledProducesEmptyResult(t *testing.T) {
	s, err := OpenStore(t.TempDir())
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	e := NewEngine(s)
	mgr := newTestAuditManager(t)

	result, err := e.Run(mgr)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(result.CryptoMiners) != 0 || len(result.SuspiciousProcesses) != 0 || len(result.ResourceAbusers) != 0 {
		t.Fatalf("expected empty result when disabled, got %+v", result)
	}
}

func TestEngineRun_EnabledDetectsOverManagerRecords(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenStore(dir)
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	cfg := s.Config()
	cfg.Enabled = true
	cfg.LookbackHours = 24
	if err := s.ReplaceConfig(cfg); err != nil {
		t.Fatalf("ReplaceConfig failed: %v", err)
	}

	mgr := newTestAuditManager(t)
	devices := []val.DeviceSnapshot{{Index: 0, Name: "Test GPU", MemTotalMB: 40 * 1024, UtilPct: 96}}
	procs := []val.ProcessRecord{{GpuIndex: 0, Pid: 777, User: "svc-worker", ProcName: "xmrig", UsedMemMB: 9 * 1024}}
	if err := mgr.LogSnapshot(devices, procs); err != nil {
		t.Fatalf("LogSnapshot failed: %v", err)
	}

	e := NewEngine(s)
	result, err := e.Run(mgr)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(result.CryptoMiners) != 1 {
		t.Fatalf("expected 1 crypto miner detected via the manager, got %d", len(result.CryptoMiners))
	}
}
