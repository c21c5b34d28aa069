// Package cluster implements the Cluster Coordinator: a single in-memory
// aggregate of per-node state behind a read/write mutex, HTTP and streaming
// surfaces for querying it, a stale-node janitor, and the node-local agent
// uploader that feeds it.
package cluster

import "time"

// NodeStatus tracks a node's liveness: a node is marked Online on
// registration or upload and again on each refresh. The stale sweep removes
// a node outright, so the Coordinator never assigns StatusOffline.
type NodeStatus string

const (
	StatusOnline  NodeStatus = "online"
	StatusOffline NodeStatus = "offline"
)

// NodeInfo is the registration record for one cluster member.
type NodeInfo struct {
	ID       string     `json:"id"`
	Hostname string     `json:"hostname"`
	Status   NodeStatus `json:"status"`
	LastSeen time.Time  `json:"last_seen"`
}

// DeviceSample is one GPU device's metrics as uploaded by a node.
type DeviceSample struct {
	Index      uint16  `json:"index"`
	Name       string  `json:"name"`
	MemUsedMB  uint32  `json:"mem_used_mb"`
	MemTotalMB uint32  `json:"mem_total_mb"`
	UtilPct    float32 `json:"util_pct"`
	TempC      int32   `json:"temp_c"`
	PowerW     float32 `json:"power_w"`
}

// ProcessSample is one GPU-attached process as uploaded by a node.
type ProcessSample struct {
	GpuIndex  uint16 `json:"gpu_index"`
	Pid       uint32 `json:"pid"`
	User      string `json:"user"`
	ProcName  string `json:"proc_name"`
	UsedMemMB uint32 `json:"used_mem_mb"`
}

// NodeSnapshot is one node's uploaded device/process state.
type NodeSnapshot struct {
	NodeID    string          `json:"node_id"`
	Devices   []DeviceSample  `json:"devices"`
	Processes []ProcessSample `json:"processes"`
	Timestamp time.Time       `json:"timestamp"`
}

// ClusterSnapshot is the whole-cluster view derived from every live node's
// last uploaded NodeSnapshot.
type ClusterSnapshot struct {
	Nodes     []NodeInfo              `json:"nodes"`
	Snapshots map[string]NodeSnapshot `json:"snapshots"`
	UpdatedAt time.Time               `json:"updated_at"`
}

// BlockedGpu is a device over the contention threshold, with the processes
// attached to it.
type BlockedGpu struct {
	NodeID            string          `json:"node_id"`
	GpuIndex          uint16          `json:"gpu_index"`
	UtilPct           float32         `json:"util_pct"`
	MemFraction       float64         `json:"mem_fraction"`
	BlockingProcesses []ProcessSample `json:"blocking_processes"`
	// MemGrowthMB is the change in memory usage since the previous janitor
	// cycle, or 0 for a device with no prior cycle on record.
	MemGrowthMB int64 `json:"mem_growth_mb"`
}

// UserUsage is one user's aggregate usage across every blocked device they
// hold a process on.
type UserUsage struct {
	User           string  `json:"user"`
	GpuCount       int     `json:"gpu_count"`
	TotalMemoryMB  uint64  `json:"total_memory_mb"`
	AvgUtilization float64 `json:"avg_utilization"`
	ProcessCount   int     `json:"process_count"`
}

// ContentionAnalysis is the get_contention_analysis result.
type ContentionAnalysis struct {
	BlockedGpus     []BlockedGpu `json:"blocked_gpus"`
	TopUsers        []UserUsage  `json:"top_users"`
	Recommendations []string     `json:"recommendations"`
}

const (
	// blockedUtilPct is the per-device utilization contention threshold.
	blockedUtilPct = 80
	// blockedMemFraction is the per-device memory-fraction contention threshold.
	blockedMemFraction = 0.8
	// staleThreshold is how long since last_seen before a node is removed.
	staleThreshold = 5 * time.Minute
	// janitorInterval is the background sweep cadence.
	janitorInterval = 30 * time.Second
	// pushInterval is the /ws streaming cadence.
	pushInterval = 5 * time.Second
)
