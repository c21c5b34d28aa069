package val

import (
	"context"
	"fmt"
	"log/slog"
)

// backendOrder is the deterministic order GpuManager composes backends in
// and the order the global device index space is built over.
var backendOrder = []GpuVendor{VendorNvidia, VendorAMD, VendorIntel, VendorApple}

// candidateBackends is overridden in tests; in production it returns one
// instance per supported vendor in backendOrder.
var candidateBackends = func() []GpuBackend {
	return []GpuBackend{
		newNvidiaBackend(),
		newAmdBackend(),
		newIntelBackend(),
		newAppleBackend(),
	}
}

// GpuManager composes every backend that reports itself available at
// construction and presents a single global device index space over them,
// ordered per backendOrder. A single backend failure is logged and skipped;
// it does not fail an aggregate call unless every backend fails.
type GpuManager struct {
	backends []GpuBackend
	counts   []uint32 // device count per backend, same order as backends
}

// NewGpuManager probes every known backend, initializes the available ones,
// and fails only when the composed set of available backends is empty.
func NewGpuManager(ctx context.Context) (*GpuManager, error) {
	gm := &GpuManager{}

	for _, b := range candidateBackends() {
		if !b.IsAvailable(ctx) {
			continue
		}
		if err := b.Initialize(ctx); err != nil {
			slog.Warn("GPU backend init failed, demoting", "vendor", b.Vendor(), "err", err)
			continue
		}
		count, err := b.DeviceCount(ctx)
		if err != nil || count == 0 {
			slog.Warn("GPU backend reports no devices, demoting", "vendor", b.Vendor(), "err", err)
			continue
		}
		gm.backends = append(gm.backends, b)
		gm.counts = append(gm.counts, count)
	}

	if len(gm.backends) == 0 {
		return nil, &BackendUnavailableError{Vendor: VendorUnknown, Cause: fmt.Errorf("no GPU backend available on this host")}
	}

	return gm, nil
}

// Close releases every composed backend's handles.
func (gm *GpuManager) Close() error {
	var firstErr error
	for _, b := range gm.backends {
		if err := b.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// resolve maps a global index to its owning backend and local index within
// that backend, per the cumulative-count scheme in §4.1.
func (gm *GpuManager) resolve(global uint32) (GpuBackend, uint32, error) {
	remaining := global
	for i, b := range gm.backends {
		if remaining < gm.counts[i] {
			return b, remaining, nil
		}
		remaining -= gm.counts[i]
	}
	return nil, 0, &DeviceNotFoundError{Index: global}
}

// DeviceCount returns the total device count across all composed backends.
func (gm *GpuManager) DeviceCount() uint32 {
	var total uint32
	for _, c := range gm.counts {
		total += c
	}
	return total
}

// GetAllDeviceInfo enumerates DeviceInfo across every backend in order.
func (gm *GpuManager) GetAllDeviceInfo(ctx context.Context) ([]DeviceInfo, error) {
	var out []DeviceInfo
	var anySucceeded bool
	var lastErr error
	global := uint32(0)
	for bi, b := range gm.backends {
		for local := uint32(0); local < gm.counts[bi]; local++ {
			info, err := b.GetDeviceInfo(ctx, local)
			if err != nil {
				slog.Warn("device info failed", "vendor", b.Vendor(), "index", local, "err", err)
				lastErr = err
				global++
				continue
			}
			info.Index = uint16(global)
			out = append(out, info)
			anySucceeded = true
			global++
		}
	}
	if !anySucceeded && lastErr != nil {
		return nil, lastErr
	}
	return out, nil
}

// GetAllSnapshots enumerates DeviceSnapshot across every backend in order.
// A single backend failure is logged and skipped; the aggregate only fails
// when every backend fails.
func (gm *GpuManager) GetAllSnapshots(ctx context.Context) ([]DeviceSnapshot, error) {
	var out []DeviceSnapshot
	var anySucceeded bool
	var lastErr error
	global := uint32(0)
	for bi, b := range gm.backends {
		for local := uint32(0); local < gm.counts[bi]; local++ {
			snap, err := b.GetDeviceSnapshot(ctx, local)
			if err != nil {
				slog.Warn("device snapshot failed", "vendor", b.Vendor(), "index", local, "err", err)
				lastErr = err
				global++
				continue
			}
			snap.Index = uint16(global)
			out = append(out, snap)
			anySucceeded = true
			global++
		}
	}
	if !anySucceeded && lastErr != nil {
		return nil, lastErr
	}
	return out, nil
}

// GetAllProcesses enumerates ProcessRecord across every device of every
// backend, with GpuIndex rewritten into the global index space.
func (gm *GpuManager) GetAllProcesses(ctx context.Context) ([]ProcessRecord, error) {
	var out []ProcessRecord
	var anySucceeded bool
	var lastErr error
	global := uint32(0)
	for bi, b := range gm.backends {
		for local := uint32(0); local < gm.counts[bi]; local++ {
			procs, err := b.GetDeviceProcesses(ctx, local)
			if err != nil {
				slog.Warn("device processes failed", "vendor", b.Vendor(), "index", local, "err", err)
				lastErr = err
				global++
				continue
			}
			for i := range procs {
				procs[i].GpuIndex = uint16(global)
			}
			out = append(out, procs...)
			anySucceeded = true
			global++
		}
	}
	if !anySucceeded && lastErr != nil && gm.DeviceCount() > 0 {
		return nil, lastErr
	}
	return out, nil
}

// ResetGpu resets the device at the given global index, translating to the
// owning backend's local index.
func (gm *GpuManager) ResetGpu(ctx context.Context, global uint32) error {
	b, local, err := gm.resolve(global)
	if err != nil {
		return err
	}
	return b.ResetDevice(ctx, local)
}

// Snapshot gathers a full per-host snapshot suitable for audit logging and
// cluster upload.
func (gm *GpuManager) Snapshot(ctx context.Context, host string, nowISO string) (Snapshot, error) {
	devices, err := gm.GetAllSnapshots(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	procs, err := gm.GetAllProcesses(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		Host:         host,
		TimestampISO: nowISO,
		Devices:      devices,
		Procs:        procs,
	}, nil
}
