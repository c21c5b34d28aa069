//go:build darwin

package val

import (
	"bufio"
	"context"
	"os/exec"
	"strconv"
	"strings"
)

// gpuAffinityAllowlist matches the source tool's keyword allowlist used to
// identify processes likely to be touching the GPU on macOS, where there is
// no per-process GPU memory accounting API available to a CLI tool.
var gpuAffinityAllowlist = []string{
	"metal", "opengl", "coreanimation", "quartz", "windowserver",
	"python", "tensorflow", "pytorch", "jupyter", "matplotlib",
	"ffmpeg", "blender", "unity", "unreal", "xcode", "simulator",
}

// appleBackend uses system_profiler for identity/total memory, vm_stat for
// a rough active-memory heuristic, and ps filtered by gpuAffinityAllowlist
// for process enumeration. Reset is unsupported.
type appleBackend struct{}

func newAppleBackend() GpuBackend { return &appleBackend{} }

func (b *appleBackend) Vendor() GpuVendor { return VendorApple }

func (b *appleBackend) IsAvailable(ctx context.Context) bool {
	_, err := exec.LookPath("system_profiler")
	return err == nil
}

func (b *appleBackend) Initialize(ctx context.Context) error { return nil }
func (b *appleBackend) Close() error                         { return nil }

func (b *appleBackend) DeviceCount(ctx context.Context) (uint32, error) { return 1, nil }

func (b *appleBackend) GetDeviceInfo(ctx context.Context, index uint32) (DeviceInfo, error) {
	name := "Apple GPU"
	var memTotalMB uint32

	if out, err := exec.CommandContext(ctx, "system_profiler", "SPDisplaysDataType").Output(); err == nil {
		if v, ok := firstNonEmptyAfter(string(out), "Chipset Model"); ok {
			name = v
		}
	}
	if out, err := exec.CommandContext(ctx, "system_profiler", "SPHardwareDataType").Output(); err == nil {
		if v, ok := firstNonEmptyAfter(string(out), "Memory"); ok {
			memTotalMB = parseGBToMB(v)
		}
	}

	return DeviceInfo{Index: uint16(index), Vendor: VendorApple, Name: name, MemTotalMB: memTotalMB}, nil
}

// parseGBToMB parses strings like "16 GB" into megabytes.
func parseGBToMB(s string) uint32 {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return 0
	}
	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0
	}
	return uint32(v * 1024)
}

// activeMemoryHeuristic parses `vm_stat`'s "Pages active:" line and returns
// a rough estimate (in MB) of GPU-related unified memory, following the
// source tool's heuristic of a quarter of active pages.
func activeMemoryHeuristic(ctx context.Context) uint32 {
	out, err := exec.CommandContext(ctx, "vm_stat").Output()
	if err != nil {
		return 0
	}
	scanner := bufio.NewScanner(strings.NewReader(string(out)))
	const pageSizeBytes = 16 * 1024
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.Contains(line, "Pages active:") {
			continue
		}
		fields := strings.FieldsFunc(line, func(r rune) bool { return r == ':' || r == '.' || r == ' ' })
		for _, f := range fields {
			if pages, err := strconv.ParseUint(f, 10, 64); err == nil {
				bytes := pages * pageSizeBytes
				return uint32(bytes / 4 / (1024 * 1024))
			}
		}
	}
	return 0
}

func (b *appleBackend) GetDeviceSnapshot(ctx context.Context, index uint32) (DeviceSnapshot, error) {
	info, _ := b.GetDeviceInfo(ctx, index)
	memUsedMB := activeMemoryHeuristic(ctx)
	if memUsedMB > info.MemTotalMB {
		memUsedMB = info.MemTotalMB
	}
	procs, _ := b.GetDeviceProcesses(ctx, index)

	var util float32
	if info.MemTotalMB > 0 {
		util = float32(memUsedMB) / float32(info.MemTotalMB) * 100
	}

	return DeviceSnapshot{
		Index:      uint16(index),
		Vendor:     VendorApple,
		Name:       info.Name,
		MemUsedMB:  memUsedMB,
		MemTotalMB: info.MemTotalMB,
		UtilPct:    util,
		Pids:       len(procs),
	}, nil
}

func (b *appleBackend) GetDeviceProcesses(ctx context.Context, index uint32) ([]ProcessRecord, error) {
	out, err := exec.CommandContext(ctx, "ps", "-axo", "pid,user,comm,%mem").Output()
	if err != nil {
		return nil, &BackendCallFailedError{Vendor: VendorApple, Op: "ps", Cause: err}
	}

	var procs []ProcessRecord
	scanner := bufio.NewScanner(strings.NewReader(string(out)))
	scanner.Scan() // header
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 {
			continue
		}
		comm := strings.ToLower(strings.Join(fields[2:len(fields)-1], " "))
		if !matchesGpuAffinity(comm) {
			continue
		}
		pid, err := strconv.ParseUint(fields[0], 10, 32)
		if err != nil {
			continue
		}
		procs = append(procs, ProcessRecord{
			GpuIndex: uint16(index),
			Pid:      uint32(pid),
			User:     fields[1],
			ProcName: fields[2],
		})
	}
	return procs, nil
}

func matchesGpuAffinity(lowerComm string) bool {
	for _, kw := range gpuAffinityAllowlist {
		if strings.Contains(lowerComm, kw) {
			return true
		}
	}
	return false
}

func (b *appleBackend) ResetDevice(ctx context.Context, index uint32) error {
	return &UnsupportedError{Vendor: VendorApple, Op: "reset"}
}
