package cluster

import (
	"context"
	"testing"
	"time"

	"github.com/gpufleet/gpuctl/internal/audit"
)

func newTestCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	mgr, err := audit.NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	return NewCoordinator(mgr)
}

func TestGetClusterSnapshot_MissingBeforeAnyUpload(t *testing.T) {
	c := newTestCoordinator(t)
	_, err := c.GetClusterSnapshot()
	if _, ok := err.(*CoordinatorStateMissingError); !ok {
		t.Fatalf("expected *CoordinatorStateMissingError, got %v", err)
	}
}

func TestRegisterNode_ThenUpdateSnapshot_RecomputesCluster(t *testing.T) {
	c := newTestCoordinator(t)
	c.RegisterNode(NodeInfo{ID: "node-a", Hostname: "gpu-box-1"})

	c.UpdateSnapshot("node-a", NodeSnapshot{
		NodeID:  "node-a",
		Devices: []DeviceSample{{Index: 0, Name: "Test GPU", MemUsedMB: 1024, MemTotalMB: 40960, UtilPct: 10}},
	})

	snap, err := c.GetClusterSnapshot()
	if err != nil {
		t.Fatalf("GetClusterSnapshot failed: %v", err)
	}
	if len(snap.Nodes) != 1 || snap.Nodes[0].Status != StatusOnline {
		t.Fatalf("expected 1 online node, got %+v", snap.Nodes)
	}
	if _, ok := snap.Snapshots["node-a"]; !ok {
		t.Fatal("expected node-a's snapshot to be present")
	}
}

func TestRunJanitor_RemovesStaleNodes(t *testing.T) {
	c := newTestCoordinator(t)
	c.RegisterNode(NodeInfo{ID: "node-a"})
	c.mu.Lock()
	stale := c.nodes["node-a"]
	stale.LastSeen = time.Now().UTC().Add(-10 * time.Minute)
	c.nodes["node-a"] = stale
	c.mu.Unlock()

	c.sweepStale()

	nodes := c.GetNodes()
	if len(nodes) != 0 {
		t.Fatalf("expected stale node to be removed, got %+v", nodes)
	}
}

func TestRunJanitor_StopsOnCancellation(t *testing.T) {
	c := newTestCoordinator(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.RunJanitor(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected RunJanitor to return promptly after cancellation")
	}
}

// TestGetContentionAnalysis_TwoNodeScenario mirrors scenario 6: node A's
// device 0 is at 90% utilization with 2 bob processes; node B's device 0 is
// at 30% utilization but 90% memory with 1 alice process. Expected: both
// devices are blocked, and alice outranks bob by total memory.
func TestGetContentionAnalysis_TwoNodeScenario(t *testing.T) {
	c := newTestCoordinator(t)
	c.RegisterNode(NodeInfo{ID: "node-a"})
	c.RegisterNode(NodeInfo{ID: "node-b"})

	c.UpdateSnapshot("node-a", NodeSnapshot{
		NodeID:  "node-a",
		Devices: []DeviceSample{{Index: 0, UtilPct: 90, MemUsedMB: 10 * 1024, MemTotalMB: 40 * 1024}},
		Processes: []ProcessSample{
			{GpuIndex: 0, Pid: 1, User: "bob", UsedMemMB: 5 * 1024},
			{GpuIndex: 0, Pid: 2, User: "bob", UsedMemMB: 5 * 1024},
		},
	})
	c.UpdateSnapshot("node-b", NodeSnapshot{
		NodeID:  "node-b",
		Devices: []DeviceSample{{Index: 0, UtilPct: 30, MemUsedMB: 36 * 1024, MemTotalMB: 40 * 1024}},
		Processes: []ProcessSample{
			{GpuIndex: 0, Pid: 3, User: "alice", UsedMemMB: 36 * 1024},
		},
	})

	analysis := c.GetContentionAnalysis()
	if len(analysis.BlockedGpus) != 2 {
		t.Fatalf("expected both devices blocked, got %d: %+v", len(analysis.BlockedGpus), analysis.BlockedGpus)
	}
	if len(analysis.TopUsers) < 2 {
		t.Fatalf("expected at least 2 users ranked, got %+v", analysis.TopUsers)
	}
	if analysis.TopUsers[0].User != "alice" {
		t.Fatalf("expected alice to rank above bob by memory, got %+v", analysis.TopUsers)
	}
}

func TestGetContentionAnalysis_ReportsMemGrowthAcrossJanitorCycles(t *testing.T) {
	c := newTestCoordinator(t)
	c.RegisterNode(NodeInfo{ID: "node-a"})

	c.UpdateSnapshot("node-a", NodeSnapshot{
		NodeID:  "node-a",
		Devices: []DeviceSample{{Index: 0, UtilPct: 95, MemUsedMB: 10 * 1024, MemTotalMB: 40 * 1024}},
	})
	if got := c.GetContentionAnalysis().BlockedGpus[0].MemGrowthMB; got != 0 {
		t.Fatalf("expected no growth before a first janitor cycle, got %d", got)
	}

	c.sweepStale()
	c.UpdateSnapshot("node-a", NodeSnapshot{
		NodeID:  "node-a",
		Devices: []DeviceSample{{Index: 0, UtilPct: 95, MemUsedMB: 12 * 1024, MemTotalMB: 40 * 1024}},
	})

	got := c.GetContentionAnalysis().BlockedGpus[0].MemGrowthMB
	if want := int64(2 * 1024); got != want {
		t.Fatalf("expected mem growth %d, got %d", want, got)
	}
}
