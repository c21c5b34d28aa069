package rogue

import (
	"strings"
	"time"

	"github.com/gpufleet/gpuctl/internal/audit"
)

// Engine runs detection passes against an audit trail using a Store's
// persisted rules.
type Engine struct {
	store *Store
}

// NewEngine builds an Engine backed by store.
func NewEngine(store *Store) *Engine {
	return &Engine{store: store}
}

// processGroup accumulates a pid's per-process records for one pass.
type processGroup struct {
	pid         uint32
	user        string
	processName string
	gpuIndex    uint16
	samples     int
	memSumMB    float64
	utilSum     float64
	firstTs     time.Time
	lastTs      time.Time
}

func (g processGroup) avgMemoryGB() float64 {
	if g.samples == 0 {
		return 0
	}
	return (g.memSumMB / float64(g.samples)) / 1024.0
}

func (g processGroup) avgUtilization() float64 {
	if g.samples == 0 {
		return 0
	}
	return g.utilSum / float64(g.samples)
}

func (g processGroup) duration() time.Duration {
	if g.lastTs.Before(g.firstTs) {
		return 0
	}
	return g.lastTs.Sub(g.firstTs)
}

func (g processGroup) ref() processRef {
	return processRef{Pid: g.pid, User: g.user, ProcessName: g.processName, GpuIndex: g.gpuIndex}
}

func groupByPid(records []audit.Record) map[uint32]*processGroup {
	groups := make(map[uint32]*processGroup)
	for _, r := range records {
		if r.Pid == nil {
			continue
		}
		pid := *r.Pid
		g, ok := groups[pid]
		if !ok {
			g = &processGroup{pid: pid, gpuIndex: r.GpuIndex}
			groups[pid] = g
		}
		if r.User != nil {
			g.user = *r.User
		}
		if r.ProcessName != nil {
			g.processName = *r.ProcessName
		}
		g.samples++
		g.memSumMB += float64(r.MemoryUsedMB)
		g.utilSum += r.UtilizationPct

		ts, err := time.Parse(time.RFC3339, r.TimestampISO)
		if err != nil {
			continue
		}
		if g.firstTs.IsZero() || ts.Before(g.firstTs) {
			g.firstTs = ts
		}
		if ts.After(g.lastTs) {
			g.lastTs = ts
		}
	}
	return groups
}

func isWhitelisted(rules DetectionRules, g *processGroup) bool {
	user := strings.ToLower(g.user)
	name := strings.ToLower(g.processName)
	for _, w := range rules.Whitelist {
		lw := strings.ToLower(w)
		if lw == user || lw == name {
			return true
		}
	}
	return false
}

// Config returns the engine's current detection configuration.
func (e *Engine) Config() Config {
	return e.store.Config()
}

// Run pulls the configured lookback window from the audit manager and runs
// a detection pass, returning an empty result if detection is disabled.
func (e *Engine) Run(mgr *audit.Manager) (DetectionResult, error) {
	cfg := e.store.Config()
	if !cfg.Enabled {
		return DetectionResult{}, nil
	}
	records, err := mgr.Query(cfg.LookbackHours, "", "")
	if err != nil {
		return DetectionResult{}, err
	}
	return Detect(records, cfg.Rules), nil
}

// Detect runs one detection pass over records already scoped to the
// lookback window the caller wants (e.g. via audit.Manager.Query).
func Detect(records []audit.Record, rules DetectionRules) DetectionResult {
	result := DetectionResult{}
	groups := groupByPid(records)

	for _, g := range groups {
		if isWhitelisted(rules, g) {
			continue
		}
		if miner, ok := classifyCryptoMiner(g, rules); ok {
			result.CryptoMiners = append(result.CryptoMiners, miner)
		}
		if susp, ok := classifySuspiciousProcess(g, rules); ok {
			result.SuspiciousProcesses = append(result.SuspiciousProcesses, susp)
		}
		if abuser, ok := classifyResourceAbuser(g, rules); ok {
			result.ResourceAbusers = append(result.ResourceAbusers, abuser)
		}
	}

	result.RiskScore = aggregateRiskScore(result)
	return result
}

// classifyCryptoMiner implements the exact weighted heuristic: +0.3 per
// crypto_miner_patterns substring match, +0.5 per suspicious_process_names
// match, +0.2 if average utilization exceeds 90%, +0.1 if average memory
// exceeds 8 GB, +0.1 if the process has run over 2 hours.
func classifyCryptoMiner(g *processGroup, rules DetectionRules) (CryptoMiner, bool) {
	name := strings.ToLower(g.processName)
	var confidence float64
	var indicators []string

	for _, pat := range rules.CryptoMinerPatterns {
		if pat == "" {
			continue
		}
		if strings.Contains(name, strings.ToLower(pat)) {
			confidence += 0.3
			indicators = append(indicators, "miner_pattern:"+pat)
		}
	}
	for _, pat := range rules.SuspiciousProcessNames {
		if pat == "" {
			continue
		}
		if strings.Contains(name, strings.ToLower(pat)) {
			confidence += 0.5
			indicators = append(indicators, "suspicious_name:"+pat)
		}
	}
	if g.avgUtilization() > 90 {
		confidence += 0.2
		indicators = append(indicators, "sustained_high_utilization")
	}
	if g.avgMemoryGB() > 8 {
		confidence += 0.1
		indicators = append(indicators, "high_memory_usage")
	}
	if g.duration() > 2*time.Hour {
		confidence += 0.1
		indicators = append(indicators, "long_running")
	}

	if confidence < rules.MinConfidenceThreshold {
		return CryptoMiner{}, false
	}
	clamped := confidence
	if clamped > 1.0 {
		clamped = 1.0
	}
	return CryptoMiner{
		Process:    g.ref(),
		Indicators: indicators,
		Confidence: clamped,
		RiskLevel:  riskLevelFromConfidence(clamped),
	}, true
}

var unusualNameSubstrings = []string{"temp", "tmp", "random", "test", "unknown"}

func hasUnusualNamePattern(name string) bool {
	lower := strings.ToLower(name)
	digits := 0
	for _, r := range lower {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	if len(lower) > 20 && digits > 5 {
		return true
	}
	for _, s := range unusualNameSubstrings {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

var unusualUsers = map[string]bool{"root": true, "admin": true, "system": true, "daemon": true, "nobody": true}

// classifySuspiciousProcess implements the generic suspicion heuristic:
// unusual name pattern (+0.3), utilization above the configured ceiling
// (+0.4), memory above the configured ceiling (+0.3), and an unusual
// operator user (+0.2).
func classifySuspiciousProcess(g *processGroup, rules DetectionRules) (SuspiciousProcess, bool) {
	var confidence float64
	var indicators []string

	if hasUnusualNamePattern(g.processName) {
		confidence += 0.3
		indicators = append(indicators, "unusual_name_pattern")
	}
	if rules.MaxUtilizationPct > 0 && g.avgUtilization() > rules.MaxUtilizationPct {
		confidence += 0.4
		indicators = append(indicators, "utilization_above_ceiling")
	}
	if rules.MaxMemoryUsageGB > 0 && g.avgMemoryGB() > rules.MaxMemoryUsageGB {
		confidence += 0.3
		indicators = append(indicators, "memory_above_ceiling")
	}
	if unusualUsers[strings.ToLower(g.user)] {
		confidence += 0.2
		indicators = append(indicators, "unusual_user")
	}

	if confidence <= 0 {
		return SuspiciousProcess{}, false
	}
	clamped := confidence
	if clamped > 1.0 {
		clamped = 1.0
	}
	return SuspiciousProcess{
		Process:    g.ref(),
		Indicators: indicators,
		Confidence: clamped,
		RiskLevel:  riskLevelFromConfidence(clamped),
	}, true
}

// classifyResourceAbuser reports the first overrunning category, checked in
// memory, utilization, duration order, as a single overrun ratio clamped to
// 2.0. Emitted only when that ratio exceeds 1.0.
func classifyResourceAbuser(g *processGroup, rules DetectionRules) (ResourceAbuser, bool) {
	type candidate struct {
		category string
		ratio    float64
	}
	candidates := []candidate{
		{"memory", ratioOrZero(g.avgMemoryGB(), rules.MaxMemoryUsageGB)},
		{"utilization", ratioOrZero(g.avgUtilization(), rules.MaxUtilizationPct)},
		{"duration", ratioOrZero(g.duration().Hours(), rules.MaxDurationHours)},
	}
	for _, c := range candidates {
		if c.ratio > 1.0 {
			severity := c.ratio
			if severity > 2.0 {
				severity = 2.0
			}
			return ResourceAbuser{Process: g.ref(), Category: c.category, Severity: severity}, true
		}
	}
	return ResourceAbuser{}, false
}

func ratioOrZero(value, ceiling float64) float64 {
	if ceiling <= 0 {
		return 0
	}
	return value / ceiling
}

// aggregateRiskScore combines every detected threat into a single cluster
// risk indicator: risk_level weights for suspicious processes, confidence
// scaled by 0.8 for miners, and severity scaled by 0.3 for resource abusers,
// summed and normalized against a ceiling of 10, clamped to 1.0.
func aggregateRiskScore(result DetectionResult) float64 {
	var total float64
	for _, s := range result.SuspiciousProcesses {
		total += riskLevelWeight(s.RiskLevel)
	}
	for _, m := range result.CryptoMiners {
		total += m.Confidence * 0.8
	}
	for _, a := range result.ResourceAbusers {
		total += a.Severity * 0.3
	}
	score := total / 10.0
	if score > 1.0 {
		score = 1.0
	}
	return score
}
