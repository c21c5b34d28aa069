package rogue

import "testing"

func TestOpenStore_CreatesDefaultConfigWhenAbsent(t *testing.T) {
	s, err := OpenStore(t.TempDir())
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	cfg := s.Config()
	if cfg.Enabled {
		t.Fatal("expected default config to start disabled")
	}
	if cfg.LastModified == "" {
		t.Fatal("expected LastModified to be set on creation")
	}
	if len(cfg.Rules.CryptoMinerPatterns) == 0 {
		t.Fatal("expected default crypto miner patterns to be populated")
	}
}

func TestReplaceRules_PersistsAcrossReload(t *testing.T) {
	dir := t.TempDir()
	s1, err := OpenStore(dir)
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	rules := s1.Config().Rules
	rules.Whitelist = []string{"ci-bot"}
	if err := s1.ReplaceRules(rules); err != nil {
		t.Fatalf("ReplaceRules failed: %v", err)
	}

	s2, err := OpenStore(dir)
	if err != nil {
		t.Fatalf("second OpenStore failed: %v", err)
	}
	got := s2.Config().Rules.Whitelist
	if len(got) != 1 || got[0] != "ci-bot" {
		t.Fatalf("expected reloaded whitelist to contain ci-bot, got %+v", got)
	}
}
