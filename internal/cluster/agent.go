package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gpufleet/gpuctl/internal/val"
)

const uploadInterval = 30 * time.Second

// AgentUploader is the node-local process that builds a Snapshot via the
// vendor abstraction layer, registers itself with a Coordinator, and
// uploads snapshots on a fixed cadence until cancelled.
type AgentUploader struct {
	coordinatorURL string
	nodeID         string
	httpClient     *http.Client
	manager        *val.GpuManager

	// OnUpload, if set, runs after every successful snapshot upload. The
	// health command's liveness marker is wired in through this hook rather
	// than importing internal/health here, keeping the uploader agnostic of
	// how its liveness is observed.
	OnUpload func()
}

// NewAgentUploader builds an uploader targeting coordinatorURL, identified
// by a node id persisted under dataDir.
func NewAgentUploader(coordinatorURL, dataDir string, manager *val.GpuManager) (*AgentUploader, error) {
	id, err := NodeID(dataDir)
	if err != nil {
		return nil, err
	}
	return &AgentUploader{
		coordinatorURL: coordinatorURL,
		nodeID:         id.String(),
		httpClient:     &http.Client{Timeout: 10 * time.Second},
		manager:        manager,
	}, nil
}

// Run performs one register call, then uploads a snapshot every
// uploadInterval until ctx is cancelled.
func (a *AgentUploader) Run(ctx context.Context) error {
	hostname, _ := os.Hostname()
	if err := a.register(ctx, hostname); err != nil {
		return fmt.Errorf("register node: %w", err)
	}

	ticker := time.NewTicker(uploadInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := a.uploadOnce(ctx); err != nil {
				slog.Warn("snapshot upload failed", "node_id", a.nodeID, "err", err)
			} else if a.OnUpload != nil {
				a.OnUpload()
			}
		}
	}
}

func (a *AgentUploader) register(ctx context.Context, hostname string) error {
	body, err := json.Marshal(NodeInfo{ID: a.nodeID, Hostname: hostname})
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/api/nodes/%s/register", a.coordinatorURL, a.nodeID)
	return a.post(ctx, url, body)
}

func (a *AgentUploader) uploadOnce(ctx context.Context) error {
	hostname, _ := os.Hostname()
	snap, err := a.manager.Snapshot(ctx, hostname, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return err
	}

	devices := make([]DeviceSample, 0, len(snap.Devices))
	for _, d := range snap.Devices {
		devices = append(devices, DeviceSample{
			Index: d.Index, Name: d.Name, MemUsedMB: d.MemUsedMB,
			MemTotalMB: d.MemTotalMB, UtilPct: d.UtilPct, TempC: d.TempC, PowerW: d.PowerW,
		})
	}
	procs := make([]ProcessSample, 0, len(snap.Procs))
	for _, p := range snap.Procs {
		procs = append(procs, ProcessSample{
			GpuIndex: p.GpuIndex, Pid: p.Pid, User: p.User, ProcName: p.ProcName, UsedMemMB: p.UsedMemMB,
		})
	}

	body, err := json.Marshal(NodeSnapshot{NodeID: a.nodeID, Devices: devices, Processes: procs})
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/api/nodes/%s/snapshot", a.coordinatorURL, a.nodeID)
	return a.post(ctx, url, body)
}

func (a *AgentUploader) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("coordinator returned status %d", resp.StatusCode)
	}
	return nil
}
