package val

import "context"

// GpuBackend is the capability set every vendor adapter must realize. The
// rest of the system only ever talks to this interface; shelling out to a
// vendor binary or linking a vendor library is legitimate only behind it.
type GpuBackend interface {
	Vendor() GpuVendor

	// IsAvailable is a cheap probe (library load, binary presence, OS
	// family check) run before Initialize.
	IsAvailable(ctx context.Context) bool

	// Initialize acquires whatever handles the backend needs. Called once,
	// only on backends that reported IsAvailable.
	Initialize(ctx context.Context) error

	DeviceCount(ctx context.Context) (uint32, error)
	GetDeviceInfo(ctx context.Context, index uint32) (DeviceInfo, error)
	GetDeviceSnapshot(ctx context.Context, index uint32) (DeviceSnapshot, error)
	GetDeviceProcesses(ctx context.Context, index uint32) ([]ProcessRecord, error)

	// ResetDevice returns an *UnsupportedError when the capability is
	// genuinely not provided by this backend.
	ResetDevice(ctx context.Context, index uint32) error

	Close() error
}
