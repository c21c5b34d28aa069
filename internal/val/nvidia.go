package val

import (
	"context"
	"fmt"
	"sync"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

// nvidiaBackend talks to the NVIDIA Management Library directly via
// go-nvml's bindings, rather than shelling to nvidia-smi and parsing text.
// Reset is unsupported at the library level (matches the source tool's
// nvml_wrapper-based backend).
type nvidiaBackend struct {
	mu   sync.Mutex
	init bool
}

func newNvidiaBackend() GpuBackend { return &nvidiaBackend{} }

func (b *nvidiaBackend) Vendor() GpuVendor { return VendorNvidia }

func (b *nvidiaBackend) IsAvailable(ctx context.Context) bool {
	ret := nvml.Init()
	if ret != nvml.SUCCESS {
		return false
	}
	nvml.Shutdown()
	return true
}

func (b *nvidiaBackend) Initialize(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.init {
		return nil
	}
	if ret := nvml.Init(); ret != nvml.SUCCESS {
		return &BackendUnavailableError{Vendor: VendorNvidia, Cause: fmt.Errorf("nvmlInit: %v", nvml.ErrorString(ret))}
	}
	b.init = true
	return nil
}

func (b *nvidiaBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.init {
		return nil
	}
	nvml.Shutdown()
	b.init = false
	return nil
}

func (b *nvidiaBackend) DeviceCount(ctx context.Context) (uint32, error) {
	count, ret := nvml.DeviceGetCount()
	if ret != nvml.SUCCESS {
		return 0, &BackendCallFailedError{Vendor: VendorNvidia, Op: "DeviceGetCount", Cause: fmt.Errorf("%v", nvml.ErrorString(ret))}
	}
	return uint32(count), nil
}

func (b *nvidiaBackend) handle(index uint32) (nvml.Device, error) {
	dev, ret := nvml.DeviceGetHandleByIndex(int(index))
	if ret != nvml.SUCCESS {
		return nvml.Device{}, &BackendCallFailedError{Vendor: VendorNvidia, Op: "DeviceGetHandleByIndex", Cause: fmt.Errorf("%v", nvml.ErrorString(ret))}
	}
	return dev, nil
}

func (b *nvidiaBackend) GetDeviceInfo(ctx context.Context, index uint32) (DeviceInfo, error) {
	dev, err := b.handle(index)
	if err != nil {
		return DeviceInfo{}, err
	}
	name, ret := dev.GetName()
	if ret != nvml.SUCCESS {
		name = "NVIDIA GPU"
	}
	mem, ret := dev.GetMemoryInfo()
	var totalMB uint32
	if ret == nvml.SUCCESS {
		totalMB = uint32(mem.Total / (1024 * 1024))
	}
	return DeviceInfo{
		Index:      uint16(index),
		Vendor:     VendorNvidia,
		Name:       name,
		MemTotalMB: totalMB,
	}, nil
}

func (b *nvidiaBackend) GetDeviceSnapshot(ctx context.Context, index uint32) (DeviceSnapshot, error) {
	dev, err := b.handle(index)
	if err != nil {
		return DeviceSnapshot{}, err
	}

	name, ret := dev.GetName()
	if ret != nvml.SUCCESS {
		name = "NVIDIA GPU"
	}

	var memUsedMB, memTotalMB uint32
	if mem, ret := dev.GetMemoryInfo(); ret == nvml.SUCCESS {
		memUsedMB = uint32(mem.Used / (1024 * 1024))
		memTotalMB = uint32(mem.Total / (1024 * 1024))
	}

	var util float32
	if rates, ret := dev.GetUtilizationRates(); ret == nvml.SUCCESS {
		util = float32(rates.Gpu)
	}

	var tempC int32
	if t, ret := dev.GetTemperature(nvml.TEMPERATURE_GPU); ret == nvml.SUCCESS {
		tempC = int32(t)
	}

	var powerW float32
	if mw, ret := dev.GetPowerUsage(); ret == nvml.SUCCESS {
		powerW = float32(mw) / 1000.0 // mW -> W
	}

	procs, _ := b.GetDeviceProcesses(ctx, index)

	return DeviceSnapshot{
		Index:      uint16(index),
		Vendor:     VendorNvidia,
		Name:       name,
		MemUsedMB:  memUsedMB,
		MemTotalMB: memTotalMB,
		UtilPct:    util,
		TempC:      tempC,
		PowerW:     powerW,
		Pids:       len(procs),
	}, nil
}

func (b *nvidiaBackend) GetDeviceProcesses(ctx context.Context, index uint32) ([]ProcessRecord, error) {
	dev, err := b.handle(index)
	if err != nil {
		return nil, err
	}

	infos, ret := dev.GetComputeRunningProcesses()
	if ret != nvml.SUCCESS {
		return nil, &BackendCallFailedError{Vendor: VendorNvidia, Op: "GetComputeRunningProcesses", Cause: fmt.Errorf("%v", nvml.ErrorString(ret))}
	}

	out := make([]ProcessRecord, 0, len(infos))
	for _, p := range infos {
		var usedMB uint32
		// UsedGpuMemory is reported in bytes; NVML uses a documented
		// sentinel (max uint64) when the driver cannot report per-process
		// memory, which we treat as zero rather than overflowing.
		if p.UsedGpuMemory > 0 && p.UsedGpuMemory < (1<<50) {
			usedMB = uint32(p.UsedGpuMemory / (1024 * 1024))
		}
		// user/proc_name/start_time are filled in by PLM enrichment.
		out = append(out, ProcessRecord{
			GpuIndex:  uint16(index),
			Pid:       p.Pid,
			UsedMemMB: usedMB,
		})
	}
	return out, nil
}

func (b *nvidiaBackend) ResetDevice(ctx context.Context, index uint32) error {
	return &UnsupportedError{Vendor: VendorNvidia, Op: "reset"}
}
