package cluster

import (
	"net/http"

	"github.com/labstack/echo/v5"

	"github.com/gpufleet/gpuctl/internal/guard"
	"github.com/gpufleet/gpuctl/internal/val"
)

// aggregatedProcessesLocked converts every node's most recent ProcessSample set
// into val.ProcessRecord, tagging each with its owning node, for Guard Mode
// evaluation over the whole cluster's current view. Caller must hold mu.
func (c *Coordinator) aggregatedProcessesLocked() []val.ProcessRecord {
	var out []val.ProcessRecord
	for nodeID, snap := range c.snapshots {
		id := nodeID
		for _, p := range snap.Processes {
			out = append(out, val.ProcessRecord{
				GpuIndex:  p.GpuIndex,
				Pid:       p.Pid,
				User:      p.User,
				ProcName:  p.ProcName,
				UsedMemMB: p.UsedMemMB,
				NodeID:    &id,
			})
		}
	}
	return out
}

func lastN(v []guard.Violation, n int) []guard.Violation {
	if len(v) <= n {
		return v
	}
	return v[len(v)-n:]
}

// guardStatusResponse is the condensed /api/guard/status payload.
type guardStatusResponse struct {
	Config     guard.GuardConfig `json:"config"`
	Violations []guard.Violation `json:"violations"`
	Warnings   []guard.Violation `json:"warnings"`
}

func (c *Coordinator) handleGetGuardConfig(store *guard.Store) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		return ctx.JSON(http.StatusOK, store.Config())
	}
}

func (c *Coordinator) handlePostGuardConfig(store *guard.Store) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		var cfg guard.GuardConfig
		if err := ctx.Bind(&cfg); err != nil {
			return ctx.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
		if err := store.ReplaceConfig(cfg); err != nil {
			return ctx.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}
		return ctx.JSON(http.StatusOK, store.Config())
	}
}

func (c *Coordinator) handleGetGuardPolicies(store *guard.Store) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		return ctx.JSON(http.StatusOK, store.Policies())
	}
}

// guardPolicyUpsertRequest carries exactly one of the three policy kinds,
// matching the route's "upsert policies" grouping (§6: "add/remove
// user|group|gpu policies" is one conceptual operation).
type guardPolicyUpsertRequest struct {
	User  *guard.UserPolicy  `json:"user,omitempty"`
	Group *guard.GroupPolicy `json:"group,omitempty"`
	Gpu   *guard.GpuPolicy   `json:"gpu,omitempty"`
}

func (c *Coordinator) handlePostGuardPolicies(store *guard.Store) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		var req guardPolicyUpsertRequest
		if err := ctx.Bind(&req); err != nil {
			return ctx.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
		var err error
		switch {
		case req.User != nil:
			err = store.UpsertUserPolicy(*req.User)
		case req.Group != nil:
			err = store.UpsertGroupPolicy(*req.Group)
		case req.Gpu != nil:
			err = store.UpsertGpuPolicy(*req.Gpu)
		default:
			return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "one of user, group, gpu is required"})
		}
		if err != nil {
			return ctx.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}
		return ctx.JSON(http.StatusOK, store.Policies())
	}
}

func (c *Coordinator) handleGetGuardStatus(store *guard.Store, engine *guard.Engine) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		c.mu.RLock()
		procs := c.aggregatedProcessesLocked()
		c.mu.RUnlock()

		report, err := engine.Evaluate(ctx.Request().Context(), procs, true)
		if err != nil {
			return ctx.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}
		return ctx.JSON(http.StatusOK, guardStatusResponse{
			Config:     store.Config(),
			Violations: lastN(report.Violations, 10),
			Warnings:   lastN(report.Warnings, 10),
		})
	}
}

func (c *Coordinator) handleToggleDryRun(store *guard.Store) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		dryRun, err := store.ToggleDryRun()
		if err != nil {
			return ctx.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}
		return ctx.JSON(http.StatusOK, map[string]bool{"dry_run": dryRun})
	}
}

func (c *Coordinator) handleTestGuardPolicies(engine *guard.Engine) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		c.mu.RLock()
		procs := c.aggregatedProcessesLocked()
		c.mu.RUnlock()

		report, err := engine.SimulatePolicyCheck(ctx.Request().Context(), procs)
		if err != nil {
			return ctx.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}
		return ctx.JSON(http.StatusOK, report)
	}
}
