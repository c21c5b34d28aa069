package plm

import (
	"context"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/gpufleet/gpuctl/internal/val"
)

const unknown = "unknown"

// containerCmdlineMarkers are cmdline/cgroup substrings that identify a
// process as running inside a recognized container runtime.
var containerCmdlineMarkers = []struct {
	marker string
	name   string
}{
	{"kubepods", "kubernetes"},
	{"docker-containerd-shim", "docker"},
	{"/docker/", "docker"},
	{"containerd-shim", "containerd"},
	{"/lxc/", "lxc"},
	{"libpod", "podman"},
}

// containerEnvPrefixes are environment variable name prefixes whose presence
// identifies the owning container runtime.
var containerEnvPrefixes = []struct {
	prefix string
	name   string
}{
	{"KUBERNETES_SERVICE_", "kubernetes"},
	{"DOCKER_CONTAINER", "docker"},
	{"PODMAN_", "podman"},
}

// Enrich fills user, proc_name, start_time and container for each record via
// OS introspection. A per-record lookup failure degrades that record's
// fields to "unknown" rather than aborting the whole batch.
func Enrich(ctx context.Context, procs []val.ProcessRecord) []val.ProcessRecord {
	out := make([]val.ProcessRecord, len(procs))
	copy(out, procs)

	cache := make(map[uint32]val.ProcessRecord)
	for i := range out {
		pid := out[i].Pid
		if cached, ok := cache[pid]; ok {
			out[i].User = cached.User
			out[i].ProcName = cached.ProcName
			out[i].StartTime = cached.StartTime
			out[i].Container = cached.Container
			continue
		}
		enrichOne(ctx, &out[i])
		cache[pid] = out[i]
	}
	return out
}

func enrichOne(ctx context.Context, rec *val.ProcessRecord) {
	rec.User = unknown
	rec.ProcName = unknown
	rec.StartTime = unknown

	p, err := process.NewProcessWithContext(ctx, int32(rec.Pid))
	if err != nil {
		return
	}
	if u, err := p.UsernameWithContext(ctx); err == nil && u != "" {
		rec.User = u
	}
	if n, err := p.NameWithContext(ctx); err == nil && n != "" {
		rec.ProcName = n
	}
	if ms, err := p.CreateTimeWithContext(ctx); err == nil && ms > 0 {
		rec.StartTime = time.UnixMilli(ms).UTC().Format(time.RFC3339)
	}

	if name, ok := detectContainer(ctx, p); ok {
		rec.Container = &name
	}
}

// detectContainer inspects a process's command line and environment for
// markers of the common container runtimes.
func detectContainer(ctx context.Context, p *process.Process) (string, bool) {
	if cmdline, err := p.CmdlineWithContext(ctx); err == nil {
		lower := strings.ToLower(cmdline)
		for _, m := range containerCmdlineMarkers {
			if strings.Contains(lower, m.marker) {
				return m.name, true
			}
		}
	}

	if env, err := p.EnvironWithContext(ctx); err == nil {
		for _, kv := range env {
			key := kv
			if idx := strings.IndexByte(kv, '='); idx >= 0 {
				key = kv[:idx]
			}
			for _, e := range containerEnvPrefixes {
				if strings.HasPrefix(key, e.prefix) {
					return e.name, true
				}
			}
		}
	}

	return "", false
}
