package guard

import "testing"

func TestOpenStore_CreatesDefaultConfigWhenAbsent(t *testing.T) {
	s := newTestStore(t)
	cfg := s.Config()
	if cfg.Enabled {
		t.Fatal("expected default config to start disabled")
	}
	if !cfg.DryRun {
		t.Fatal("expected default config to start in dry-run")
	}
	if cfg.LastModified == "" {
		t.Fatal("expected LastModified to be set on creation")
	}
}

func TestUpsertUserPolicy_RefreshesLastModified(t *testing.T) {
	s := newTestStore(t)
	const stale = "2000-01-01T00:00:00Z"
	s.config.LastModified = stale

	if err := s.UpsertUserPolicy(UserPolicy{Username: "alice", MemoryLimitGB: 16}); err != nil {
		t.Fatalf("UpsertUserPolicy failed: %v", err)
	}

	after := s.Config().LastModified
	if after == "" {
		t.Fatal("expected LastModified to be set")
	}
	if after == stale {
		t.Fatalf("expected LastModified to be refreshed from %s", stale)
	}

	policies := s.Policies()
	if _, ok := policies.Users["alice"]; !ok {
		t.Fatal("expected alice's policy to be persisted in memory")
	}
}

func TestRemoveUserPolicy_NotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.RemoveUserPolicy("nobody")
	if _, ok := err.(*PolicyNotFoundError); !ok {
		t.Fatalf("expected *PolicyNotFoundError, got %v", err)
	}
}

func TestToggleDryRun(t *testing.T) {
	s := newTestStore(t)
	start := s.Config().DryRun
	got, err := s.ToggleDryRun()
	if err != nil {
		t.Fatalf("ToggleDryRun failed: %v", err)
	}
	if got == start {
		t.Fatalf("expected dry_run to flip from %v", start)
	}
	if s.Config().DryRun != got {
		t.Fatalf("expected stored config to reflect the toggle")
	}
}

func TestOpenStore_ReloadsPersistedPolicies(t *testing.T) {
	dir := t.TempDir()
	s1, err := OpenStore(dir)
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	if err := s1.UpsertGpuPolicy(GpuPolicy{GpuIndex: 2, MaxMemoryGB: 40}); err != nil {
		t.Fatalf("UpsertGpuPolicy failed: %v", err)
	}

	s2, err := OpenStore(dir)
	if err != nil {
		t.Fatalf("second OpenStore failed: %v", err)
	}
	policy, ok := s2.Policies().Gpus[2]
	if !ok || policy.MaxMemoryGB != 40 {
		t.Fatalf("expected reloaded store to retain the GPU policy, got %+v ok=%v", policy, ok)
	}
}
