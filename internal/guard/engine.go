package guard

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/gpufleet/gpuctl/internal/plm"
	"github.com/gpufleet/gpuctl/internal/val"
)

// Killer matches internal/plm.GracefulKill's signature so the engine can be
// exercised with a fake in tests without spawning real processes.
type Killer func(ctx context.Context, pid uint32, timeoutSecs int, force bool) error

// Engine evaluates the current process list against a Store's config and
// policies, materializing violations, warnings, and actions.
type Engine struct {
	store *Store
	kill  Killer
}

// NewEngine builds an Engine backed by store, killing via plm.GracefulKill.
func NewEngine(store *Store) *Engine {
	return &Engine{store: store, kill: plm.GracefulKill}
}

// NewEngineWithKiller builds an Engine with a substitute Killer, for tests.
func NewEngineWithKiller(store *Store, kill Killer) *Engine {
	return &Engine{store: store, kill: kill}
}

type effectiveLimits struct {
	memoryLimitGB          float64
	utilizationLimitPct    float64
	maxConcurrentProcesses int
	allowedGpus            map[uint16]bool
	blockedGpus             map[uint16]bool
}

func (e *Engine) effectiveUserLimits(cfg GuardConfig, policies PolicySet, username string, at time.Time) effectiveLimits {
	limits := effectiveLimits{
		memoryLimitGB:          cfg.DefaultMemoryLimitGB,
		utilizationLimitPct:    cfg.DefaultUtilizationLimitPct,
		maxConcurrentProcesses: cfg.DefaultMaxConcurrentProcesses,
	}

	policy, ok := policies.Users[username]
	if !ok {
		return limits
	}
	if policy.MemoryLimitGB > 0 {
		limits.memoryLimitGB = policy.MemoryLimitGB
	}
	if policy.UtilizationLimitPct > 0 {
		limits.utilizationLimitPct = policy.UtilizationLimitPct
	}
	if policy.MaxConcurrentProcesses > 0 {
		limits.maxConcurrentProcesses = policy.MaxConcurrentProcesses
	}
	limits.allowedGpus = policy.AllowedGpus
	limits.blockedGpus = policy.BlockedGpus

	for _, name := range policy.TimeOverrides {
		tp, ok := policies.TimePolicies[name]
		if !ok || !tp.active(at) {
			continue
		}
		if tp.MemoryMultiplier > 0 {
			limits.memoryLimitGB *= tp.MemoryMultiplier
		}
		if tp.UtilizationMultiplier > 0 {
			limits.utilizationLimitPct *= tp.UtilizationMultiplier
		}
	}
	return limits
}

// Evaluate runs one evaluation tick. simulate forces observe mode regardless
// of the live dry_run setting, per simulate_policy_check's contract.
func (e *Engine) Evaluate(ctx context.Context, procs []val.ProcessRecord, simulate bool) (Report, error) {
	cfg := e.store.Config()
	if !cfg.Enabled {
		return Report{}, nil
	}
	policies := e.store.Policies()
	dryRun := cfg.DryRun || simulate
	now := time.Now().UTC()

	report := Report{}

	byUser := make(map[string][]val.ProcessRecord)
	for _, p := range procs {
		byUser[p.User] = append(byUser[p.User], p)
	}

	for user, userProcs := range byUser {
		limits := e.effectiveUserLimits(cfg, policies, user, now)
		e.evaluateScope(ctx, &report, cfg, dryRun, user, userProcs, limits)
	}

	for _, group := range policies.Groups {
		var memberProcs []val.ProcessRecord
		for _, p := range procs {
			if group.Members[p.User] {
				memberProcs = append(memberProcs, p)
			}
		}
		if len(memberProcs) == 0 {
			continue
		}
		limits := effectiveLimits{
			memoryLimitGB:          group.TotalMemoryLimitGB,
			utilizationLimitPct:    group.TotalUtilizationLimitPct,
			maxConcurrentProcesses: group.MaxConcurrentProcesses,
			allowedGpus:            group.AllowedGpus,
			blockedGpus:            group.BlockedGpus,
		}
		e.evaluateScope(ctx, &report, cfg, dryRun, "group:"+group.GroupName, memberProcs, limits)
	}

	byGpu := make(map[uint16][]val.ProcessRecord)
	for _, p := range procs {
		byGpu[p.GpuIndex] = append(byGpu[p.GpuIndex], p)
	}
	for gpuIndex, gpuProcs := range byGpu {
		policy, ok := policies.Gpus[gpuIndex]
		if !ok {
			continue
		}
		e.evaluateGpuScope(ctx, &report, cfg, dryRun, policy, gpuProcs)
	}

	return report, nil
}

func (e *Engine) evaluateScope(ctx context.Context, report *Report, cfg GuardConfig, dryRun bool, scope string, procs []val.ProcessRecord, limits effectiveLimits) {
	var totalMemMB uint32
	for _, p := range procs {
		totalMemMB += p.UsedMemMB
	}
	totalMemoryGB := float64(totalMemMB) / 1024.0
	processCount := len(procs)

	if limits.memoryLimitGB > 0 && totalMemoryGB > limits.memoryLimitGB {
		v := Violation{
			Type: ViolationMemoryLimitExceeded, Severity: SeverityHigh, Scope: scope,
			Message: fmt.Sprintf("%s: %.2f GB exceeds limit %.2f GB", scope, totalMemoryGB, limits.memoryLimitGB),
		}
		report.Violations = append(report.Violations, v)
		e.materialize(ctx, report, cfg, dryRun, v, heaviestPid(procs))
	} else if limits.memoryLimitGB > 0 && totalMemoryGB > 0.8*limits.memoryLimitGB {
		w := Violation{
			Type: ViolationApproachingMemoryLimit, Severity: SeverityLow, Scope: scope,
			Message: fmt.Sprintf("%s: %.2f GB approaching limit %.2f GB", scope, totalMemoryGB, limits.memoryLimitGB),
		}
		report.Warnings = append(report.Warnings, w)
	}

	if limits.maxConcurrentProcesses > 0 && processCount > limits.maxConcurrentProcesses {
		v := Violation{
			Type: ViolationConcurrentProcessExceeded, Severity: SeverityMedium, Scope: scope,
			Message: fmt.Sprintf("%s: %d processes exceeds limit %d", scope, processCount, limits.maxConcurrentProcesses),
		}
		report.Violations = append(report.Violations, v)
		e.materialize(ctx, report, cfg, dryRun, v, heaviestPid(procs))
	}

	for _, p := range procs {
		pid := p.Pid
		gi := p.GpuIndex
		if len(limits.blockedGpus) > 0 && limits.blockedGpus[gi] {
			v := Violation{
				Type: ViolationUnauthorizedGpuAccess, Severity: SeverityCritical, Scope: scope, GpuIndex: &gi,
				Message: fmt.Sprintf("%s: pid %d on blocked gpu %d", scope, pid, gi),
			}
			report.Violations = append(report.Violations, v)
			e.materialize(ctx, report, cfg, dryRun, v, &pid)
			continue
		}
		if len(limits.allowedGpus) > 0 && !limits.allowedGpus[gi] {
			v := Violation{
				Type: ViolationUnauthorizedGpuAccess, Severity: SeverityHigh, Scope: scope, GpuIndex: &gi,
				Message: fmt.Sprintf("%s: pid %d on unauthorized gpu %d", scope, pid, gi),
			}
			report.Violations = append(report.Violations, v)
			e.materialize(ctx, report, cfg, dryRun, v, &pid)
		}
	}
}

func (e *Engine) evaluateGpuScope(ctx context.Context, report *Report, cfg GuardConfig, dryRun bool, policy GpuPolicy, procs []val.ProcessRecord) {
	var totalMemMB uint32
	for _, p := range procs {
		totalMemMB += p.UsedMemMB
	}
	scope := fmt.Sprintf("gpu:%d", policy.GpuIndex)
	totalMemoryGB := float64(totalMemMB) / 1024.0

	if policy.MaxMemoryGB > 0 && totalMemoryGB > policy.MaxMemoryGB {
		v := Violation{
			Type: ViolationMemoryLimitExceeded, Severity: SeverityHigh, Scope: scope, GpuIndex: &policy.GpuIndex,
			Message: fmt.Sprintf("%s: %.2f GB exceeds limit %.2f GB", scope, totalMemoryGB, policy.MaxMemoryGB),
		}
		report.Violations = append(report.Violations, v)
		e.materialize(ctx, report, cfg, dryRun, v, heaviestPid(procs))
	}

	for _, p := range procs {
		pid := p.Pid
		if len(policy.BlockedUsers) > 0 && policy.BlockedUsers[p.User] {
			v := Violation{
				Type: ViolationUnauthorizedGpuAccess, Severity: SeverityCritical, Scope: scope, GpuIndex: &policy.GpuIndex,
				Message: fmt.Sprintf("%s: user %s is blocked", scope, p.User),
			}
			report.Violations = append(report.Violations, v)
			e.materialize(ctx, report, cfg, dryRun, v, &pid)
			continue
		}
		if len(policy.AllowedUsers) > 0 && !policy.AllowedUsers[p.User] {
			v := Violation{
				Type: ViolationUnauthorizedGpuAccess, Severity: SeverityHigh, Scope: scope, GpuIndex: &policy.GpuIndex,
				Message: fmt.Sprintf("%s: user %s is not authorized", scope, p.User),
			}
			report.Violations = append(report.Violations, v)
			e.materialize(ctx, report, cfg, dryRun, v, &pid)
		}
	}
}

// materialize selects and appends the action for a violation: termination
// for Critical severity under hard enforcement, a warning for High/Medium
// under soft enforcement, otherwise a notification. dry_run threads through
// as an Observe/Enforce mode parameter rather than a global flag.
func (e *Engine) materialize(ctx context.Context, report *Report, cfg GuardConfig, dryRun bool, v Violation, targetPid *uint32) {
	var action Action
	switch {
	case v.Severity == SeverityCritical && cfg.HardEnforcement:
		action = Action{Type: ActionProcessTermination, Scope: v.Scope, Pid: targetPid, Message: v.Message}
		if dryRun {
			action.Success = true
		} else if targetPid != nil {
			err := e.kill(ctx, *targetPid, 5, true)
			action.Success = err == nil
			if err != nil {
				action.Message = fmt.Sprintf("%s (termination failed: %v)", action.Message, err)
			}
		}
	case (v.Severity == SeverityHigh || v.Severity == SeverityMedium) && cfg.SoftEnforcement:
		action = Action{Type: ActionWarning, Scope: v.Scope, Pid: targetPid, Message: v.Message, Success: true}
	default:
		action = Action{Type: ActionNotificationSent, Scope: v.Scope, Pid: targetPid, Message: v.Message, Success: true}
	}

	if dryRun {
		action.Message = "[DRY-RUN] " + action.Message
		action.Success = true
	}
	report.Actions = append(report.Actions, action)
}

// SimulatePolicyCheck runs Evaluate in forced observe mode regardless of the
// store's live dry_run setting, for the test-policies HTTP surface.
func (e *Engine) SimulatePolicyCheck(ctx context.Context, procs []val.ProcessRecord) (Report, error) {
	return e.Evaluate(ctx, procs, true)
}

// heaviestPid picks the process using the most memory in a scope, the
// deterministic termination target when a violation is aggregate-scoped
// rather than tied to one process.
func heaviestPid(procs []val.ProcessRecord) *uint32 {
	if len(procs) == 0 {
		return nil
	}
	sorted := make([]val.ProcessRecord, len(procs))
	copy(sorted, procs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].UsedMemMB > sorted[j].UsedMemMB })
	pid := sorted[0].Pid
	return &pid
}
