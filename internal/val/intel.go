package val

import (
	"bufio"
	"context"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

const intelGpuTopCmd = "intel_gpu_top"

// intelBackend shells to `intel_gpu_top -l 1` and parses utilization from
// the "Render/3D" line. There is exactly one Intel GPU device model here
// (the tool does not distinguish multiple Intel GPUs), and process
// enumeration is out of reach of the tool so Pids is always reported as 0.
//
// Memory usage is estimated as util * mem_total; this is a known
// approximation carried over from the source tool, not a true reading.
type intelBackend struct{}

func newIntelBackend() GpuBackend { return &intelBackend{} }

func (b *intelBackend) Vendor() GpuVendor { return VendorIntel }

func (b *intelBackend) IsAvailable(ctx context.Context) bool {
	_, err := exec.LookPath(intelGpuTopCmd)
	return err == nil
}

func (b *intelBackend) Initialize(ctx context.Context) error { return nil }
func (b *intelBackend) Close() error                         { return nil }

func (b *intelBackend) DeviceCount(ctx context.Context) (uint32, error) { return 1, nil }

func (b *intelBackend) GetDeviceInfo(ctx context.Context, index uint32) (DeviceInfo, error) {
	return DeviceInfo{Index: uint16(index), Vendor: VendorIntel, Name: "Intel GPU", MemTotalMB: 1024}, nil
}

// render3DPercent runs intel_gpu_top for a single sample and extracts the
// Render/3D utilization percentage.
func (b *intelBackend) render3DPercent(ctx context.Context) (float64, error) {
	runCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	cmd := exec.CommandContext(runCtx, intelGpuTopCmd, "-l", "1")
	out, err := cmd.Output()
	if err != nil {
		return 0, &BackendCallFailedError{Vendor: VendorIntel, Op: "intel_gpu_top", Cause: err}
	}

	scanner := bufio.NewScanner(strings.NewReader(string(out)))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.Contains(line, "Render/3D") {
			continue
		}
		fields := strings.Fields(line)
		for _, f := range fields {
			f = strings.TrimSuffix(f, "%")
			if v, err := strconv.ParseFloat(f, 64); err == nil {
				return v, nil
			}
		}
	}
	return 0, nil
}

func (b *intelBackend) GetDeviceSnapshot(ctx context.Context, index uint32) (DeviceSnapshot, error) {
	info, _ := b.GetDeviceInfo(ctx, index)

	util, err := b.render3DPercent(ctx)
	if err != nil {
		return DeviceSnapshot{}, err
	}

	memUsedMB := uint32(util / 100.0 * float64(info.MemTotalMB))

	return DeviceSnapshot{
		Index:      uint16(index),
		Vendor:     VendorIntel,
		Name:       info.Name,
		MemUsedMB:  memUsedMB,
		MemTotalMB: info.MemTotalMB,
		UtilPct:    float32(util),
		TempC:      0,
		PowerW:     0,
		Pids:       0,
	}, nil
}

func (b *intelBackend) GetDeviceProcesses(ctx context.Context, index uint32) ([]ProcessRecord, error) {
	return nil, nil
}

func (b *intelBackend) ResetDevice(ctx context.Context, index uint32) error {
	return &UnsupportedError{Vendor: VendorIntel, Op: "reset"}
}
