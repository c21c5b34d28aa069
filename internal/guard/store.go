package guard

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/gpufleet/gpuctl/internal/xdg"
)

const configFileName = "guard_mode_config.toml"

// PolicySet holds every configured policy, keyed by its natural scope.
type PolicySet struct {
	Users        map[string]UserPolicy  `toml:"users"`
	Groups       map[string]GroupPolicy `toml:"groups"`
	Gpus         map[uint16]GpuPolicy   `toml:"gpus"`
	TimePolicies map[string]TimePolicy  `toml:"time_policies"`
}

func newPolicySet() PolicySet {
	return PolicySet{
		Users:        make(map[string]UserPolicy),
		Groups:       make(map[string]GroupPolicy),
		Gpus:         make(map[uint16]GpuPolicy),
		TimePolicies: make(map[string]TimePolicy),
	}
}

// document is the on-disk shape of guard_mode_config.toml.
type document struct {
	Config    GuardConfig `toml:"config"`
	Policies  PolicySet   `toml:"policies"`
}

// PolicyNotFoundError indicates a management operation referenced a policy
// scope that does not exist.
type PolicyNotFoundError struct{ Scope string }

func (e *PolicyNotFoundError) Error() string { return fmt.Sprintf("policy not found: %s", e.Scope) }

// PolicyConflictError indicates an attempt to add a policy scope that
// already exists.
type PolicyConflictError struct{ Scope string }

func (e *PolicyConflictError) Error() string { return fmt.Sprintf("policy already exists: %s", e.Scope) }

// Store owns a single guard_mode_config.toml file and the in-memory config
// and policy set it persists. Every mutation rewrites the file and refreshes
// LastModified.
type Store struct {
	mu     sync.Mutex
	path   string
	config GuardConfig
	policy PolicySet
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
		s.config = DefaultGuardConfig()
		s.policy = newPolicySet()
		if err := s.persistLocked(); err != nil {
			return nil, err
		}
		return s, nil
	}

	var doc document
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	s.config = doc.Config
	s.policy = doc.Policies
	if s.policy.Users == nil {
		s.policy = newPolicySet()
	}
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
	doc := document{Config: s.config, Policies: s.policy}
	b, err := toml.Marshal(doc)
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Config returns a copy of the current global configuration.
func (s *Store) Config() GuardConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config
}

// ReplaceConfig overwrites the global configuration and persists it.
func (s *Store) ReplaceConfig(cfg GuardConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config = cfg
	return s.persistLocked()
}

// ToggleDryRun flips dry_run and returns the new value.
func (s *Store) ToggleDryRun() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config.DryRun = !s.config.DryRun
	if err := s.persistLocked(); err != nil {
		return false, err
	}
	return s.config.DryRun, nil
}

// Policies returns a snapshot of the current policy set.
func (s *Store) Policies() PolicySet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.policy
}

// UpsertUserPolicy adds or replaces a UserPolicy and persists.
func (s *Store) UpsertUserPolicy(p UserPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policy.Users[p.Username] = p
	return s.persistLocked()
}

// RemoveUserPolicy deletes a UserPolicy by username.
func (s *Store) RemoveUserPolicy(username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.policy.Users[username]; !ok {
		return &PolicyNotFoundError{Scope: username}
	}
	delete(s.policy.Users, username)
	return s.persistLocked()
}

// UpsertGroupPolicy adds or replaces a GroupPolicy and persists.
func (s *Store) UpsertGroupPolicy(p GroupPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policy.Groups[p.GroupName] = p
	return s.persistLocked()
}

// RemoveGroupPolicy deletes a GroupPolicy by name.
func (s *Store) RemoveGroupPolicy(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.policy.Groups[name]; !ok {
		return &PolicyNotFoundError{Scope: name}
	}
	delete(s.policy.Groups, name)
	return s.persistLocked()
}

// UpsertGpuPolicy adds or replaces a GpuPolicy and persists.
func (s *Store) UpsertGpuPolicy(p GpuPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policy.Gpus[p.GpuIndex] = p
	return s.persistLocked()
}

// RemoveGpuPolicy deletes a GpuPolicy by index.
func (s *Store) RemoveGpuPolicy(index uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.policy.Gpus[index]; !ok {
		return &PolicyNotFoundError{Scope: fmt.Sprintf("gpu %d", index)}
	}
	delete(s.policy.Gpus, index)
	return s.persistLocked()
}
