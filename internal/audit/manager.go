package audit

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gpufleet/gpuctl/internal/val"
)

const fileName = "audit.jsonl"

// Manager owns the single audit log file for a host. Writes are
// mutex-serialized within the process and append-only; reads scan the
// whole file and filter in memory.
type Manager struct {
	mu   sync.Mutex
	path string
}

// NewManager opens (creating if absent) the audit log under dataDir.
func NewManager(dataDir string) (*Manager, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, &IOError{Path: dataDir, Cause: err}
	}
	path := filepath.Join(dataDir, fileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, &IOError{Path: path, Cause: err}
	}
	f.Close()
	return &Manager{path: path}, nil
}

// LogSnapshot produces one per-device record plus, for each GPU, per-process
// records sharing the device's timestamp and carrying the attributed
// utilization util_pct / max(1, n_procs_on_device).
func (m *Manager) LogSnapshot(devices []val.DeviceSnapshot, procs []val.ProcessRecord) error {
	now := time.Now().UTC()
	tsISO := now.Format(time.RFC3339)
	tsMs := now.UnixMilli()

	byDevice := make(map[uint16][]val.ProcessRecord)
	for _, p := range procs {
		byDevice[p.GpuIndex] = append(byDevice[p.GpuIndex], p)
	}

	var lines []Record
	for _, d := range devices {
		lines = append(lines, Record{
			ID:             tsMs,
			TimestampISO:   tsISO,
			GpuIndex:       d.Index,
			GpuName:        d.Name,
			MemoryUsedMB:   d.MemUsedMB,
			UtilizationPct: float64(d.UtilPct),
			TemperatureC:   d.TempC,
			PowerW:         d.PowerW,
		})

		devProcs := byDevice[d.Index]
		n := len(devProcs)
		if n == 0 {
			continue
		}
		attributed := float64(d.UtilPct) / float64(n)
		for _, p := range devProcs {
			pid := p.Pid
			user := p.User
			name := p.ProcName
			rec := Record{
				ID:             tsMs + int64(pid),
				TimestampISO:   tsISO,
				GpuIndex:       d.Index,
				GpuName:        d.Name,
				Pid:            &pid,
				User:           &user,
				ProcessName:    &name,
				MemoryUsedMB:   p.UsedMemMB,
				UtilizationPct: attributed,
				TemperatureC:   d.TempC,
				PowerW:         d.PowerW,
				Container:      p.Container,
				NodeID:         p.NodeID,
			}
			lines = append(lines, rec)
		}
	}

	return m.appendLines(lines)
}

func (m *Manager) appendLines(records []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, err := os.OpenFile(m.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return &IOError{Path: m.path, Cause: err}
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, rec := range records {
		b, err := json.Marshal(rec)
		if err != nil {
			return &IOError{Path: m.path, Cause: err}
		}
		if _, err := w.Write(b); err != nil {
			return &IOError{Path: m.path, Cause: err}
		}
		if err := w.WriteByte('\n'); err != nil {
			return &IOError{Path: m.path, Cause: err}
		}
	}
	return w.Flush()
}

// scan reads every line, skipping malformed ones with a logged warning, and
// invokes keep for each parsed record. Readers never modify the file.
func (m *Manager) scan(keep func(Record) bool) ([]Record, error) {
	f, err := os.Open(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &IOError{Path: m.path, Cause: err}
	}
	defer f.Close()

	var out []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			slog.Warn("skipping malformed audit line", "err", &ParseError{LineNo: lineNo, Cause: err})
			continue
		}
		if keep == nil || keep(rec) {
			out = append(out, rec)
		}
	}
	if err := scanner.Err(); err != nil {
		return out, &IOError{Path: m.path, Cause: err}
	}
	return out, nil
}

// Query scans the log, filtering by ts >= now-hours, optional exact-match
// user and substring-match process, returning newest-first.
func (m *Manager) Query(hours float64, user, process string) ([]Record, error) {
	cutoff := time.Now().Add(-time.Duration(hours * float64(time.Hour)))

	records, err := m.scan(func(rec Record) bool {
		ts, perr := time.Parse(time.RFC3339, rec.TimestampISO)
		if perr != nil || ts.Before(cutoff) {
			return false
		}
		if user != "" && (rec.User == nil || *rec.User != user) {
			return false
		}
		if process != "" && (rec.ProcessName == nil || !strings.Contains(*rec.ProcessName, process)) {
			return false
		}
		return true
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].TimestampISO > records[j].TimestampISO
	})
	return records, nil
}

// Summary aggregates top-10 users and top-10 processes by summed memory over
// the window, plus a per-hour average-memory bucket.
type Summary struct {
	TopUsers      []NameTotal       `json:"top_users"`
	TopProcesses  []NameTotal       `json:"top_processes"`
	HourlyAverage map[string]float64 `json:"hourly_average_memory_mb"`
}

// NameTotal is a (name, total memory) pair used for top-N rankings.
type NameTotal struct {
	Name        string `json:"name"`
	TotalMemory uint64 `json:"total_memory_mb"`
}

func (m *Manager) Summary(hours float64) (Summary, error) {
	records, err := m.Query(hours, "", "")
	if err != nil {
		return Summary{}, err
	}

	userTotals := make(map[string]uint64)
	procTotals := make(map[string]uint64)
	hourSum := make(map[string]uint64)
	hourCount := make(map[string]int)

	for _, rec := range records {
		if rec.Pid == nil {
			continue // device-level record; not attributable to a user or process
		}
		if rec.User != nil {
			userTotals[*rec.User] += uint64(rec.MemoryUsedMB)
		}
		if rec.ProcessName != nil {
			procTotals[*rec.ProcessName] += uint64(rec.MemoryUsedMB)
		}
		if ts, err := time.Parse(time.RFC3339, rec.TimestampISO); err == nil {
			bucket := ts.Truncate(time.Hour).Format(time.RFC3339)
			hourSum[bucket] += uint64(rec.MemoryUsedMB)
			hourCount[bucket]++
		}
	}

	hourlyAvg := make(map[string]float64, len(hourSum))
	for bucket, sum := range hourSum {
		hourlyAvg[bucket] = float64(sum) / float64(hourCount[bucket])
	}

	return Summary{
		TopUsers:      topN(userTotals, 10),
		TopProcesses:  topN(procTotals, 10),
		HourlyAverage: hourlyAvg,
	}, nil
}

func topN(totals map[string]uint64, n int) []NameTotal {
	out := make([]NameTotal, 0, len(totals))
	for name, total := range totals {
		out = append(out, NameTotal{Name: name, TotalMemory: total})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TotalMemory > out[j].TotalMemory })
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// Cleanup rewrites the file keeping only records within the retention
// window, replacing it atomically via a temp file plus rename. This
// tightens the source behavior (a plain truncating rewrite) to actually
// satisfy the atomic-replace invariant in §6.
func (m *Manager) Cleanup(keepDays float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-time.Duration(keepDays * 24 * float64(time.Hour)))
	kept, err := m.scan(func(rec Record) bool {
		ts, perr := time.Parse(time.RFC3339, rec.TimestampISO)
		return perr == nil && !ts.Before(cutoff)
	})
	if err != nil {
		return err
	}

	tmpPath := m.path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return &IOError{Path: tmpPath, Cause: err}
	}

	w := bufio.NewWriter(f)
	for _, rec := range kept {
		b, err := json.Marshal(rec)
		if err != nil {
			f.Close()
			os.Remove(tmpPath)
			return &IOError{Path: tmpPath, Cause: err}
		}
		w.Write(b)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return &IOError{Path: tmpPath, Cause: err}
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return &IOError{Path: tmpPath, Cause: err}
	}

	if err := os.Rename(tmpPath, m.path); err != nil {
		os.Remove(tmpPath)
		return &IOError{Path: m.path, Cause: err}
	}
	return nil
}
