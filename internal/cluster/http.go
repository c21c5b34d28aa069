package cluster

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v5"

	"github.com/gpufleet/gpuctl/internal/guard"
	"github.com/gpufleet/gpuctl/internal/rogue"
)

// Router builds the echo router serving the Coordinator's HTTP surface,
// matching the route table: node registration and snapshot upload, cluster
// and contention queries, a rogue-detection view over the shared audit log,
// and the Guard Mode config/policy/status surface evaluated over the
// cluster's latest aggregated process view.
func (c *Coordinator) Router(rogueEngine *rogue.Engine, guardStore *guard.Store, guardEngine *guard.Engine) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	e.GET("/api/nodes", c.handleGetNodes)
	e.POST("/api/nodes/:id/register", c.handleRegisterNode)
	e.POST("/api/nodes/:id/snapshot", c.handleUpdateSnapshot)
	e.GET("/api/cluster/snapshot", c.handleGetClusterSnapshot)
	e.GET("/api/cluster/contention", c.handleGetContentionAnalysis)
	e.GET("/api/cluster/rogue", c.handleGetRogueReport(rogueEngine))
	e.GET("/api/guard/config", c.handleGetGuardConfig(guardStore))
	e.POST("/api/guard/config", c.handlePostGuardConfig(guardStore))
	e.GET("/api/guard/policies", c.handleGetGuardPolicies(guardStore))
	e.POST("/api/guard/policies", c.handlePostGuardPolicies(guardStore))
	e.GET("/api/guard/status", c.handleGetGuardStatus(guardStore, guardEngine))
	e.POST("/api/guard/toggle-dry-run", c.handleToggleDryRun(guardStore))
	e.POST("/api/guard/test-policies", c.handleTestGuardPolicies(guardEngine))
	e.GET("/ws", c.handleWebsocket)

	return e
}

func (c *Coordinator) handleGetNodes(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, c.GetNodes())
}

func (c *Coordinator) handleRegisterNode(ctx echo.Context) error {
	var node NodeInfo
	if err := ctx.Bind(&node); err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	node.ID = ctx.PathParam("id")
	c.RegisterNode(node)
	return ctx.JSON(http.StatusOK, node)
}

func (c *Coordinator) handleUpdateSnapshot(ctx echo.Context) error {
	var snap NodeSnapshot
	if err := ctx.Bind(&snap); err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	snap.NodeID = ctx.PathParam("id")
	c.UpdateSnapshot(snap.NodeID, snap)
	return ctx.NoContent(http.StatusNoContent)
}

func (c *Coordinator) handleGetClusterSnapshot(ctx echo.Context) error {
	snap, err := c.GetClusterSnapshot()
	if err != nil {
		return ctx.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	}
	return ctx.JSON(http.StatusOK, snap)
}

func (c *Coordinator) handleGetContentionAnalysis(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, c.GetContentionAnalysis())
}

// handleGetRogueReport defaults the lookback window to 24h, overridable
// with ?hours=N.
func (c *Coordinator) handleGetRogueReport(engine *rogue.Engine) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		hours := 24.0
		if raw := ctx.QueryParam("hours"); raw != "" {
			parsed, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "invalid hours"})
			}
			hours = parsed
		}
		records, err := c.audit.Query(hours, "", "")
		if err != nil {
			return ctx.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}
		cfg := engine.Config()
		return ctx.JSON(http.StatusOK, rogue.Detect(records, cfg.Rules))
	}
}
