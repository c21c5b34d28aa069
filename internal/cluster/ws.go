package cluster

import (
	"encoding/json"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/lxzan/gws"
)

const wsDeadline = 30 * time.Second

// wsHandler implements the gws event handler for cluster-snapshot streaming
// connections: push the current snapshot on open, then a ticker goroutine
// pushes refreshed snapshots every pushInterval until the client disconnects.
type wsHandler struct {
	gws.BuiltinEventHandler
	coordinator *Coordinator
}

// OnOpen sets a read deadline and starts the periodic push loop for this
// connection.
func (h *wsHandler) OnOpen(conn *gws.Conn) {
	conn.SetDeadline(time.Now().Add(wsDeadline))
	h.pushSnapshot(conn)
	go h.pushLoop(conn)
}

// OnPing echoes a pong and refreshes the deadline, per the keepalive
// contract.
func (h *wsHandler) OnPing(conn *gws.Conn, payload []byte) {
	conn.SetDeadline(time.Now().Add(wsDeadline))
	_ = conn.WritePong(payload)
}

func (h *wsHandler) pushLoop(conn *gws.Conn) {
	ticker := time.NewTicker(pushInterval)
	defer ticker.Stop()
	for range ticker.C {
		if !h.pushSnapshot(conn) {
			return
		}
	}
}

// pushSnapshot writes the current cluster snapshot as a JSON text frame.
// Returns false once the connection can no longer be written to, so the
// caller's push loop can stop.
func (h *wsHandler) pushSnapshot(conn *gws.Conn) bool {
	snap, err := h.coordinator.GetClusterSnapshot()
	if err != nil {
		snap = ClusterSnapshot{}
	}
	body, err := json.Marshal(snap)
	if err != nil {
		return true
	}
	conn.SetDeadline(time.Now().Add(wsDeadline))
	return conn.WriteMessage(gws.OpcodeText, body) == nil
}

// handleWebsocket upgrades the request to a gws connection served by
// wsHandler.
func (c *Coordinator) handleWebsocket(ctx echo.Context) error {
	handler := &wsHandler{coordinator: c}
	upgrader := gws.NewUpgrader(handler, nil)
	socket, err := upgrader.Upgrade(ctx.Response(), ctx.Request())
	if err != nil {
		return err
	}
	go socket.ReadLoop()
	return nil
}
