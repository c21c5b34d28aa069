package cluster

import (
	"crypto/sha256"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
)

const nodeIDFileName = "node_id"

// knownBadHostID is a commonly duplicated "product_uuid" seen across cloned
// VM images; treated as absent rather than trusted.
const knownBadHostID = "03000200-0400-0500-0006-000700080009"

// NodeID returns this host's persistent cluster node id, reading it from
// dataDir if a previous run already saved one, generating and saving a new
// one otherwise. This is the same persist-or-generate shape as a system
// fingerprint, wrapped into a uuid.UUID derived from the fingerprint bytes
// so restarts always resolve to the same identity.
func NodeID(dataDir string) (uuid.UUID, error) {
	if dataDir != "" {
		if id, err := readNodeID(dataDir); err == nil {
			return id, nil
		}
	}
	id := generateNodeID()
	if dataDir != "" {
		if err := saveNodeID(dataDir, id); err != nil {
			return id, err
		}
	}
	return id, nil
}

func generateNodeID() uuid.UUID {
	seed, err := host.HostID()
	if err != nil || seed == "" || seed == knownBadHostID {
		hostname, _ := os.Hostname()
		cpuModel := ""
		if info, err := cpu.Info(); err == nil && len(info) > 0 {
			cpuModel = info[0].ModelName
		}
		seed = hostname + cpuModel
	}
	sum := sha256.Sum256([]byte(seed))
	id, _ := uuid.FromBytes(sum[:16]) // fixed 16-byte slice, error is unreachable
	return id
}

func readNodeID(dataDir string) (uuid.UUID, error) {
	raw, err := os.ReadFile(filepath.Join(dataDir, nodeIDFileName))
	if err != nil {
		return uuid.UUID{}, err
	}
	return uuid.Parse(strings.TrimSpace(string(raw)))
}

func saveNodeID(dataDir string, id uuid.UUID) error {
	return os.WriteFile(filepath.Join(dataDir, nodeIDFileName), []byte(id.String()), 0o644)
}
