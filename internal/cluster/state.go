package cluster

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gpufleet/gpuctl/internal/audit"
)

// CoordinatorStateMissingError is returned when a query runs before the
// aggregate has ever been populated.
type CoordinatorStateMissingError struct{}

func (e *CoordinatorStateMissingError) Error() string { return "coordinator state missing" }

// Coordinator is the single mutex-guarded aggregate of cluster state. All
// reads and writes go through one lock; update_snapshot updates node info,
// the node's snapshot, and the derived cluster snapshot in one critical
// section, never releasing the lock between those three steps.
type Coordinator struct {
	mu        sync.RWMutex
	nodes     map[string]NodeInfo
	snapshots map[string]NodeSnapshot
	last      *ClusterSnapshot

	audit *audit.Manager
	// memGrowth tracks each device's memory usage across janitor cycles, so
	// the contention analysis can report growth rate alongside point-in-time
	// usage. Keyed by "nodeID/gpuIndex".
	memGrowth *deltaTracker[string, int64]
}

// NewCoordinator builds an empty Coordinator backed by a shared audit
// manager (every handler that needs audit data borrows this one instance).
func NewCoordinator(auditMgr *audit.Manager) *Coordinator {
	return &Coordinator{
		nodes:     make(map[string]NodeInfo),
		snapshots: make(map[string]NodeSnapshot),
		audit:     auditMgr,
		memGrowth: newDeltaTracker[string, int64](),
	}
}

// RegisterNode upserts a node by its ID, marking it Online.
func (c *Coordinator) RegisterNode(node NodeInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	node.Status = StatusOnline
	node.LastSeen = time.Now().UTC()
	c.nodes[node.ID] = node
}

// UpdateSnapshot writes a node's snapshot, refreshes its NodeInfo, and
// recomputes the cluster snapshot, all under one write lock.
func (c *Coordinator) UpdateSnapshot(nodeID string, snap NodeSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().UTC()
	info, ok := c.nodes[nodeID]
	if !ok {
		info = NodeInfo{ID: nodeID}
	}
	info.Status = StatusOnline
	info.LastSeen = now
	c.nodes[nodeID] = info

	snap.Timestamp = now
	c.snapshots[nodeID] = snap

	for _, d := range snap.Devices {
		c.memGrowth.set(deviceKey(nodeID, d.Index), int64(d.MemUsedMB))
	}

	c.recomputeLocked(now)
}

// GetNodes returns every currently registered NodeInfo.
func (c *Coordinator) GetNodes() []NodeInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]NodeInfo, 0, len(c.nodes))
	for _, n := range c.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetClusterSnapshot returns the most recently computed ClusterSnapshot, if
// any node has ever uploaded one.
func (c *Coordinator) GetClusterSnapshot() (ClusterSnapshot, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.last == nil {
		return ClusterSnapshot{}, &CoordinatorStateMissingError{}
	}
	return *c.last, nil
}

// recomputeLocked rebuilds last from nodes/snapshots. Caller must hold mu.
func (c *Coordinator) recomputeLocked(now time.Time) {
	nodes := make([]NodeInfo, 0, len(c.nodes))
	for _, n := range c.nodes {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })

	snaps := make(map[string]NodeSnapshot, len(c.snapshots))
	for k, v := range c.snapshots {
		snaps[k] = v
	}

	c.last = &ClusterSnapshot{Nodes: nodes, Snapshots: snaps, UpdatedAt: now}
}

// RunJanitor sweeps stale nodes every janitorInterval until ctx is
// cancelled, removing from both maps and refreshing the cluster snapshot in
// the same critical section as the sweep.
func (c *Coordinator) RunJanitor(ctx context.Context) {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweepStale()
		}
	}
}

func (c *Coordinator) sweepStale() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().UTC()
	cutoff := now.Add(-staleThreshold)
	for id, n := range c.nodes {
		if n.LastSeen.Before(cutoff) {
			delete(c.nodes, id)
			delete(c.snapshots, id)
		}
	}
	c.recomputeLocked(now)
	c.memGrowth.cycle()
}

func deviceKey(nodeID string, gpuIndex uint16) string {
	return nodeID + "/" + strconv.Itoa(int(gpuIndex))
}
