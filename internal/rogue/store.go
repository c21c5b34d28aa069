package rogue

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/gpufleet/gpuctl/internal/xdg"
)

const configFileName = "rogue_config.toml"

// Config aggregates global detection settings alongside the classifier
// rules.
type Config struct {
	Enabled        bool           `toml:"enabled"`
	CheckIntervalS int            `toml:"check_interval_s"`
	LookbackHours  float64        `toml:"lookback_hours"`
	Rules          DetectionRules `toml:"rules"`
	LastModified   string         `toml:"last_modified"`
}

// DefaultConfig matches the conservative out-of-the-box posture: detection
// disabled, a 24-hour lookback window once enabled.
func DefaultConfig() Config {
	return Config{
		Enabled:        false,
		CheckIntervalS: 60,
		LookbackHours:  24,
		Rules:          DefaultDetectionRules(),
	}
}

// Store owns a single rogue_config.toml file and the in-memory Config it
// persists. Every mutation rewrites the file and refreshes LastModified.
type Store struct {
	mu     sync.Mutex
	path   string
	config Config
}

// OpenStore loads the config from configDir, creating a default document if
// none exists yet.
func OpenStore(configDir string) (*Store, error) {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(configDir, configFileName)

	s := &Store{path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		s.config = DefaultConfig()
		if err := s.persistLocked(); err != nil {
			return nil, err
		}
		return s, nil
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	s.config = cfg
	return s, nil
}

// OpenDefaultStore resolves the per-user config directory and opens the
// store within it.
func OpenDefaultStore() (*Store, error) {
	dir, err := xdg.ConfigDir()
	if err != nil {
		return nil, err
	}
	return OpenStore(dir)
}

func (s *Store) persistLocked() error {
	s.config.LastModified = time.Now().UTC().Format(time.RFC3339)
	b, err := toml.Marshal(s.config)
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Config returns a copy of the current configuration.
func (s *Store) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config
}

// ReplaceConfig overwrites the configuration and persists it.
func (s *Store) ReplaceConfig(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config = cfg
	return s.persistLocked()
}

// ReplaceRules overwrites just the classifier rules and persists.
func (s *Store) ReplaceRules(rules DetectionRules) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config.Rules = rules
	return s.persistLocked()
}
