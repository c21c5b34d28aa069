package cluster

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gpufleet/gpuctl/internal/audit"
	"github.com/gpufleet/gpuctl/internal/guard"
	"github.com/gpufleet/gpuctl/internal/rogue"
)

func newTestRouter(t *testing.T) (*Coordinator, http.Handler) {
	t.Helper()
	auditMgr, err := audit.NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("audit.NewManager failed: %v", err)
	}
	c := NewCoordinator(auditMgr)

	guardStore, err := guard.OpenStore(t.TempDir())
	if err != nil {
		t.Fatalf("guard.OpenStore failed: %v", err)
	}
	guardEngine := guard.NewEngine(guardStore)

	rogueStore, err := rogue.OpenStore(t.TempDir())
	if err != nil {
		t.Fatalf("rogue.OpenStore failed: %v", err)
	}
	rogueEngine := rogue.NewEngine(rogueStore)

	return c, c.Router(rogueEngine, guardStore, guardEngine)
}

func TestRouter_NodeRegisterAndSnapshotRoundTrip(t *testing.T) {
	_, router := newTestRouter(t)
	srv := httptest.NewServer(router)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/nodes/node-a/register", "application/json",
		bytes.NewBufferString(`{"hostname":"gpu-box-1"}`))
	if err != nil {
		t.Fatalf("register request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/api/nodes")
	if err != nil {
		t.Fatalf("nodes request failed: %v", err)
	}
	defer resp.Body.Close()
	var nodes []NodeInfo
	if err := json.NewDecoder(resp.Body).Decode(&nodes); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(nodes) != 1 || nodes[0].ID != "node-a" {
		t.Fatalf("expected node-a registered, got %+v", nodes)
	}
}

func TestRouter_ClusterSnapshotMissingReturns404(t *testing.T) {
	_, router := newTestRouter(t)
	srv := httptest.NewServer(router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/cluster/snapshot")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 before any upload, got %d", resp.StatusCode)
	}
}

func TestRouter_GuardConfigAndToggleDryRun(t *testing.T) {
	_, router := newTestRouter(t)
	srv := httptest.NewServer(router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/guard/config")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	var cfg guard.GuardConfig
	if err := json.NewDecoder(resp.Body).Decode(&cfg); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	resp.Body.Close()
	if !cfg.DryRun {
		t.Fatalf("expected default config to be dry-run, got %+v", cfg)
	}

	resp, err = http.Post(srv.URL+"/api/guard/toggle-dry-run", "application/json", nil)
	if err != nil {
		t.Fatalf("toggle request failed: %v", err)
	}
	defer resp.Body.Close()
	var toggled map[string]bool
	if err := json.NewDecoder(resp.Body).Decode(&toggled); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if toggled["dry_run"] {
		t.Fatalf("expected dry_run to flip to false, got %+v", toggled)
	}
}

func TestRouter_GuardStatusOverAggregatedProcesses(t *testing.T) {
	c, router := newTestRouter(t)
	srv := httptest.NewServer(router)
	defer srv.Close()

	c.RegisterNode(NodeInfo{ID: "node-a"})
	c.UpdateSnapshot("node-a", NodeSnapshot{
		NodeID: "node-a",
		Processes: []ProcessSample{
			{GpuIndex: 0, Pid: 42, User: "bob", UsedMemMB: 1024},
		},
	})

	resp, err := http.Get(srv.URL + "/api/guard/status")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var status guardStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
}
