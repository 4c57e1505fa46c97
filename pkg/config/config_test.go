package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig_ResourceBounds(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Tasks.MaxInterruptDepth != 4 {
		t.Errorf("expected max interrupt depth 4, got %d", cfg.Tasks.MaxInterruptDepth)
	}
	if cfg.History.InitialRounds != 3 {
		t.Errorf("expected initial history window of 3 rounds, got %d", cfg.History.InitialRounds)
	}
	if cfg.History.GrowthIncrement <= 0 {
		t.Errorf("expected positive history growth increment, got %d", cfg.History.GrowthIncrement)
	}
	if cfg.Router.MaxRetries != 2 {
		t.Errorf("expected max retries 2, got %d", cfg.Router.MaxRetries)
	}
}

func TestDefaultConfig_Durations(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.RetryBackoff() != 500*time.Millisecond {
		t.Errorf("expected retry backoff 500ms, got %v", cfg.RetryBackoff())
	}
	if cfg.CompletionTimeout() != 120*time.Second {
		t.Errorf("expected completion timeout 120s, got %v", cfg.CompletionTimeout())
	}
	if cfg.ToolTimeout() != 60*time.Second {
		t.Errorf("expected tool timeout 60s, got %v", cfg.ToolTimeout())
	}
	if cfg.DraftTTL() != 10*time.Minute {
		t.Errorf("expected draft TTL 10m, got %v", cfg.DraftTTL())
	}
}

func TestDefaultConfig_WorkspacePath(t *testing.T) {
	cfg := DefaultConfig()

	path := cfg.WorkspacePath()
	if path == "" {
		t.Fatal("expected non-empty workspace path")
	}
	if path[0] == '~' {
		t.Errorf("expected expanded home dir, got %q", path)
	}
}

func TestConfig_StorePath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Agent.Workspace = "/tmp/kiwid-test"

	want := filepath.Join("/tmp/kiwid-test", "state", "kiwid.db")
	if got := cfg.StorePath(); got != want {
		t.Errorf("expected store path %q, got %q", want, got)
	}
}

func TestSaveConfig_FilePermissions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	if err := SaveConfig(path, DefaultConfig()); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat config: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("expected file mode 0600, got %v", info.Mode().Perm())
	}
}

func TestLoadConfig_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Tasks.MaxInterruptDepth != DefaultConfig().Tasks.MaxInterruptDepth {
		t.Error("expected defaults when file is missing")
	}
}

func TestLoadConfig_EnvOverridesWithoutFile(t *testing.T) {
	t.Setenv("KIWID_TASKS_MAX_INTERRUPT_DEPTH", "9")
	t.Setenv("KIWID_HISTORY_INITIAL_ROUNDS", "5")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Tasks.MaxInterruptDepth != 9 {
		t.Errorf("expected env override depth 9, got %d", cfg.Tasks.MaxInterruptDepth)
	}
	if cfg.History.InitialRounds != 5 {
		t.Errorf("expected env override initial rounds 5, got %d", cfg.History.InitialRounds)
	}
}

func TestLoadConfig_FileThenEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{"tasks":{"max_interrupt_depth":7},"drafts":{"ttl_seconds":30}}`), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("KIWID_DRAFTS_TTL_SECONDS", "45")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Tasks.MaxInterruptDepth != 7 {
		t.Errorf("expected file value 7, got %d", cfg.Tasks.MaxInterruptDepth)
	}
	if cfg.Drafts.TTLSeconds != 45 {
		t.Errorf("expected env to win over file, got %d", cfg.Drafts.TTLSeconds)
	}
}

func TestFlexibleStringSlice_MixedTypes(t *testing.T) {
	var slice FlexibleStringSlice
	if err := slice.UnmarshalJSON([]byte(`["abc", 123]`)); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if len(slice) != 2 || slice[0] != "abc" || slice[1] != "123" {
		t.Errorf("unexpected slice contents: %v", slice)
	}
}
