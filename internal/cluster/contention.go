package cluster

import (
	"sort"
	"strconv"
)

// GetContentionAnalysis computes blocked devices and per-user aggregate
// usage across every node's most recent snapshot. A device is blocked when
// util_pct > 80 or mem_used/mem_total > 0.8; a user's aggregate accumulates
// once per process attached to a blocked device.
func (c *Coordinator) GetContentionAnalysis() ContentionAnalysis {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var blocked []BlockedGpu
	userTotals := make(map[string]*UserUsage)

	for nodeID, snap := range c.snapshots {
		for _, d := range snap.Devices {
			memFraction := 0.0
			if d.MemTotalMB > 0 {
				memFraction = float64(d.MemUsedMB) / float64(d.MemTotalMB)
			}
			if d.UtilPct <= blockedUtilPct && memFraction <= blockedMemFraction {
				continue
			}

			var procsOnDevice []ProcessSample
			for _, p := range snap.Processes {
				if p.GpuIndex == d.Index {
					procsOnDevice = append(procsOnDevice, p)
				}
			}

			blocked = append(blocked, BlockedGpu{
				NodeID:            nodeID,
				GpuIndex:          d.Index,
				UtilPct:           d.UtilPct,
				MemFraction:       memFraction,
				BlockingProcesses: procsOnDevice,
				MemGrowthMB:       c.memGrowth.delta(deviceKey(nodeID, d.Index)),
			})

			for _, p := range procsOnDevice {
				u, ok := userTotals[p.User]
				if !ok {
					u = &UserUsage{User: p.User}
					userTotals[p.User] = u
				}
				u.GpuCount++
				u.TotalMemoryMB += uint64(p.UsedMemMB)
				u.ProcessCount++
				u.AvgUtilization += float64(d.UtilPct)
			}
		}
	}

	for _, u := range userTotals {
		if u.ProcessCount > 0 {
			u.AvgUtilization /= float64(u.ProcessCount)
		}
	}

	topUsers := make([]UserUsage, 0, len(userTotals))
	for _, u := range userTotals {
		topUsers = append(topUsers, *u)
	}
	sort.Slice(topUsers, func(i, j int) bool { return topUsers[i].TotalMemoryMB > topUsers[j].TotalMemoryMB })
	if len(topUsers) > 10 {
		topUsers = topUsers[:10]
	}

	return ContentionAnalysis{
		BlockedGpus:     blocked,
		TopUsers:        topUsers,
		Recommendations: recommendationsFor(blocked, topUsers),
	}
}

func recommendationsFor(blocked []BlockedGpu, topUsers []UserUsage) []string {
	if len(blocked) == 0 {
		return nil
	}
	var out []string
	if len(topUsers) > 0 {
		top := topUsers[0]
		out = append(out, "user "+top.User+" holds the largest share of contended GPU memory")
	}
	if len(blocked) == 1 {
		out = append(out, "1 device is over the contention threshold")
	} else {
		out = append(out, "multiple devices are over the contention threshold")
	}
	for _, b := range blocked {
		if b.MemGrowthMB > 1024 {
			out = append(out, b.NodeID+" gpu "+strconv.Itoa(int(b.GpuIndex))+" memory usage is climbing fast")
		}
	}
	return out
}
