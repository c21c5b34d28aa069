package val

import (
	"bufio"
	"context"
	"os/exec"
	"strconv"
	"strings"
)

const rocmSmiCmd = "rocm-smi"

// amdBackend shells to rocm-smi and parses its textual output line by line.
// Each metric is queried independently; an individual metric's failure
// degrades that field to a zero/default value rather than aborting the
// whole snapshot.
type amdBackend struct {
	count uint32
}

func newAmdBackend() GpuBackend { return &amdBackend{} }

func (b *amdBackend) Vendor() GpuVendor { return VendorAMD }

func (b *amdBackend) IsAvailable(ctx context.Context) bool {
	_, err := exec.LookPath(rocmSmiCmd)
	return err == nil
}

func (b *amdBackend) Initialize(ctx context.Context) error {
	out, err := runCommand(ctx, rocmSmiCmd, "--showid")
	if err != nil {
		return &BackendUnavailableError{Vendor: VendorAMD, Cause: err}
	}
	b.count = uint32(countGpuLines(out))
	if b.count == 0 {
		b.count = 1
	}
	return nil
}

func (b *amdBackend) Close() error { return nil }

func (b *amdBackend) DeviceCount(ctx context.Context) (uint32, error) { return b.count, nil }

// countGpuLines counts "GPU[n]" prefixed lines in rocm-smi output.
func countGpuLines(out string) int {
	seen := map[string]struct{}{}
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		if idx := strings.Index(line, "GPU["); idx >= 0 {
			end := strings.Index(line[idx:], "]")
			if end > 0 {
				seen[line[idx:idx+end+1]] = struct{}{}
			}
		}
	}
	return len(seen)
}

func runCommand(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// showMetric runs `rocm-smi -d <index> <flag>` and returns its raw output,
// or "" on any failure so the caller can degrade that one field.
func (b *amdBackend) showMetric(ctx context.Context, index uint32, flag string) string {
	out, err := runCommand(ctx, rocmSmiCmd, "-d", strconv.FormatUint(uint64(index), 10), flag)
	if err != nil {
		return ""
	}
	return out
}

// firstFloatAfter scans out for the first line containing key and returns
// the first floating-point token found after it on that line.
func firstFloatAfter(out, key string) (float64, bool) {
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		keyIdx := strings.Index(line, key)
		if keyIdx < 0 {
			continue
		}
		fields := strings.FieldsFunc(line[keyIdx+len(key):], func(r rune) bool {
			return r == ':' || r == ',' || r == ' ' || r == '%'
		})
		for _, f := range fields {
			if v, err := strconv.ParseFloat(f, 64); err == nil {
				return v, true
			}
		}
	}
	return 0, false
}

func (b *amdBackend) GetDeviceInfo(ctx context.Context, index uint32) (DeviceInfo, error) {
	name := "AMD GPU"
	if out := b.showMetric(ctx, index, "--showproductname"); out != "" {
		if v, ok := firstNonEmptyAfter(out, "Card series"); ok {
			name = v
		}
	}
	memTotalMB := uint32(8192) // default fallback per source behavior
	if out := b.showMetric(ctx, index, "--showmeminfo"); out != "" {
		if v, ok := firstFloatAfter(out, "vram"); ok {
			memTotalMB = uint32(v / (1024 * 1024))
		}
	}
	return DeviceInfo{Index: uint16(index), Vendor: VendorAMD, Name: name, MemTotalMB: memTotalMB}, nil
}

func (b *amdBackend) GetDeviceSnapshot(ctx context.Context, index uint32) (DeviceSnapshot, error) {
	info, _ := b.GetDeviceInfo(ctx, index)

	var utilPct float32
	if out := b.showMetric(ctx, index, "--showuse"); out != "" {
		if v, ok := firstFloatAfter(out, "GPU use"); ok {
			utilPct = float32(v)
		}
	}

	var tempC int32
	if out := b.showMetric(ctx, index, "--showtemp"); out != "" {
		if v, ok := firstFloatAfter(out, "Temperature"); ok {
			tempC = int32(v)
		}
	}

	var powerW float32
	if out := b.showMetric(ctx, index, "--showpower"); out != "" {
		if v, ok := firstFloatAfter(out, "Power"); ok {
			powerW = float32(v)
		}
	}

	memUsedMB := uint32(0)
	if out := b.showMetric(ctx, index, "--showmemuse"); out != "" {
		if v, ok := firstFloatAfter(out, "GPU memory use"); ok {
			memUsedMB = uint32(v * float64(info.MemTotalMB) / 100.0)
		}
	}

	return DeviceSnapshot{
		Index:      uint16(index),
		Vendor:     VendorAMD,
		Name:       info.Name,
		MemUsedMB:  memUsedMB,
		MemTotalMB: info.MemTotalMB,
		UtilPct:    utilPct,
		TempC:      tempC,
		PowerW:     powerW,
		Pids:       0,
	}, nil
}

// GetDeviceProcesses is not exposed by rocm-smi's default text output in a
// form worth trusting; the source tool does not populate AMD process lists
// either, so this returns an empty set rather than fabricating data.
func (b *amdBackend) GetDeviceProcesses(ctx context.Context, index uint32) ([]ProcessRecord, error) {
	return nil, nil
}

func (b *amdBackend) ResetDevice(ctx context.Context, index uint32) error {
	_, err := runCommand(ctx, rocmSmiCmd, "-d", strconv.FormatUint(uint64(index), 10), "--reset")
	if err != nil {
		return &BackendCallFailedError{Vendor: VendorAMD, Op: "reset", Cause: err}
	}
	return nil
}

// firstNonEmptyAfter returns the text of the line containing key, the part
// after the ":" separator that follows key, trimmed. rocm-smi's output lines
// carry a leading "GPU[n]\t\t:" prefix before the key itself, so the split
// point must be the colon after key, not the line's first colon.
func firstNonEmptyAfter(out, key string) (string, bool) {
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		keyIdx := strings.Index(line, key)
		if keyIdx < 0 {
			continue
		}
		rest := line[keyIdx+len(key):]
		if idx := strings.Index(rest, ":"); idx >= 0 {
			v := strings.TrimSpace(rest[idx+1:])
			if v != "" {
				return v, true
			}
		}
	}
	return "", false
}
