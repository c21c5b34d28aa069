package audit

import (
	"testing"

	"github.com/gpufleet/gpuctl/internal/val"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	return m
}

func TestLogSnapshot_AttributesUtilizationEvenly(t *testing.T) {
	m := newTestManager(t)

	devices := []val.DeviceSnapshot{{Index: 0, Name: "gpu0", UtilPct: 90, MemUsedMB: 4096}}
	procs := []val.ProcessRecord{
		{GpuIndex: 0, Pid: 1, User: "alice", ProcName: "train"},
		{GpuIndex: 0, Pid: 2, User: "bob", ProcName: "infer"},
	}

	if err := m.LogSnapshot(devices, procs); err != nil {
		t.Fatalf("LogSnapshot failed: %v", err)
	}

	records, err := m.Query(1, "", "")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	// one device record + two process records
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}

	var sum float64
	for _, rec := range records {
		if rec.Pid != nil {
			sum += rec.UtilizationPct
		}
	}
	if sum != 90 {
		t.Fatalf("expected attributed utilization to sum to device util_pct 90, got %v", sum)
	}
}

func TestQuery_FiltersByUserAndProcess(t *testing.T) {
	m := newTestManager(t)
	devices := []val.DeviceSnapshot{{Index: 0, Name: "gpu0", UtilPct: 50}}
	procs := []val.ProcessRecord{
		{GpuIndex: 0, Pid: 1, User: "alice", ProcName: "xmrig"},
		{GpuIndex: 0, Pid: 2, User: "bob", ProcName: "pytorch"},
	}
	if err := m.LogSnapshot(devices, procs); err != nil {
		t.Fatalf("LogSnapshot failed: %v", err)
	}

	records, err := m.Query(1, "alice", "")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(records) != 1 || records[0].User == nil || *records[0].User != "alice" {
		t.Fatalf("expected exactly alice's record, got %+v", records)
	}

	records, err = m.Query(1, "", "torch")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(records) != 1 || records[0].ProcessName == nil || *records[0].ProcessName != "pytorch" {
		t.Fatalf("expected substring match on process name, got %+v", records)
	}
}

func TestQuery_ZeroHoursReturnsEmpty(t *testing.T) {
	m := newTestManager(t)
	devices := []val.DeviceSnapshot{{Index: 0, Name: "gpu0"}}
	if err := m.LogSnapshot(devices, nil); err != nil {
		t.Fatalf("LogSnapshot failed: %v", err)
	}

	records, err := m.Query(0, "", "")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected empty result for hours=0, got %d", len(records))
	}
}

func TestCleanup_KeepAllIsNoop(t *testing.T) {
	m := newTestManager(t)
	devices := []val.DeviceSnapshot{{Index: 0, Name: "gpu0"}}
	if err := m.LogSnapshot(devices, nil); err != nil {
		t.Fatalf("LogSnapshot failed: %v", err)
	}

	if err := m.Cleanup(365 * 100); err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	records, err := m.Query(24, "", "")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected cleanup with a huge retention window to be a no-op, got %d records", len(records))
	}
}

func TestCleanup_ZeroDaysEmptiesLog(t *testing.T) {
	m := newTestManager(t)
	devices := []val.DeviceSnapshot{{Index: 0, Name: "gpu0"}}
	if err := m.LogSnapshot(devices, nil); err != nil {
		t.Fatalf("LogSnapshot failed: %v", err)
	}

	if err := m.Cleanup(0); err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	records, err := m.Query(24*365, "", "")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected cleanup(0) to empty the log, got %d records", len(records))
	}
}

func TestSummary_TopUsersByMemory(t *testing.T) {
	m := newTestManager(t)
	devices := []val.DeviceSnapshot{{Index: 0, Name: "gpu0", UtilPct: 50}}
	procs := []val.ProcessRecord{
		{GpuIndex: 0, Pid: 1, User: "alice", ProcName: "train", UsedMemMB: 8000},
		{GpuIndex: 0, Pid: 2, User: "bob", ProcName: "infer", UsedMemMB: 2000},
	}
	if err := m.LogSnapshot(devices, procs); err != nil {
		t.Fatalf("LogSnapshot failed: %v", err)
	}

	summary, err := m.Summary(1)
	if err != nil {
		t.Fatalf("Summary failed: %v", err)
	}
	if len(summary.TopUsers) == 0 || summary.TopUsers[0].Name != "alice" {
		t.Fatalf("expected alice to lead top users, got %+v", summary.TopUsers)
	}
}
