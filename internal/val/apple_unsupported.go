//go:build !darwin

package val

import "context"

// appleBackend is compiled on non-Darwin hosts as a permanently-unavailable
// stub; GpuManager demotes it during composition without ever initializing
// the real system_profiler/vm_stat/ps-backed implementation.
type appleBackend struct{}

func newAppleBackend() GpuBackend { return &appleBackend{} }

func (b *appleBackend) Vendor() GpuVendor { return VendorApple }

func (b *appleBackend) IsAvailable(ctx context.Context) bool { return false }

func (b *appleBackend) Initialize(ctx context.Context) error {
	return &UnsupportedError{Vendor: VendorApple, Op: "initialize"}
}

func (b *appleBackend) Close() error { return nil }

func (b *appleBackend) DeviceCount(ctx context.Context) (uint32, error) { return 0, nil }

func (b *appleBackend) GetDeviceInfo(ctx context.Context, index uint32) (DeviceInfo, error) {
	return DeviceInfo{}, &UnsupportedError{Vendor: VendorApple, Op: "get_device_info"}
}

func (b *appleBackend) GetDeviceSnapshot(ctx context.Context, index uint32) (DeviceSnapshot, error) {
	return DeviceSnapshot{}, &UnsupportedError{Vendor: VendorApple, Op: "get_device_snapshot"}
}

func (b *appleBackend) GetDeviceProcesses(ctx context.Context, index uint32) ([]ProcessRecord, error) {
	return nil, &UnsupportedError{Vendor: VendorApple, Op: "get_device_processes"}
}

func (b *appleBackend) ResetDevice(ctx context.Context, index uint32) error {
	return &UnsupportedError{Vendor: VendorApple, Op: "reset"}
}
