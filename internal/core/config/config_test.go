package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), DefaultFile)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
version = 1

[paths]
state_dir = "./state"

[knowledge_base]
path = "./compat.toml"
watch = true

[scan]
exclude_dirs = ["target", "generated*"]
exclude_files = ["*.min.js"]
include_tests = false
workers = 3

[planner]
high_risk_blocker_density = 0.5
high_risk_max_batch = 2

[execute]
workers = 8
rewrite_command = ["openrewrite", "--file", "{file}"]
rewrite_rate = 5.0

[verify]
timeout = "30s"
memory_mb = 256
jvm_args = ["-Dspring.main.web-application-type=none"]

[watch]
debounce = "1s"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Paths.StateDir != "./state" {
		t.Errorf("expected state_dir ./state, got %q", cfg.Paths.StateDir)
	}
	if !cfg.KnowledgeBase.Watch || cfg.KnowledgeBase.Path != "./compat.toml" {
		t.Errorf("unexpected knowledge base config: %+v", cfg.KnowledgeBase)
	}
	if cfg.Scan.TestsIncluded() {
		t.Error("expected include_tests=false to be honored")
	}
	if cfg.Scan.Workers != 3 {
		t.Errorf("expected 3 scan workers, got %d", cfg.Scan.Workers)
	}
	if cfg.Planner.HighRiskMaxBatch != 2 || cfg.Planner.MediumRiskFiles != 50 {
		t.Errorf("unexpected planner config: %+v", cfg.Planner)
	}
	if cfg.Execute.Workers != 8 || len(cfg.Execute.RewriteCommand) != 3 {
		t.Errorf("unexpected execute config: %+v", cfg.Execute)
	}
	if cfg.Verify.Timeout != 30*time.Second || cfg.Verify.MemoryMB != 256 {
		t.Errorf("unexpected verify config: %+v", cfg.Verify)
	}
	if cfg.Verify.JavaBinary != "java" {
		t.Errorf("expected default java binary, got %q", cfg.Verify.JavaBinary)
	}
	if cfg.Watch.Debounce != time.Second {
		t.Errorf("expected debounce 1s, got %v", cfg.Watch.Debounce)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Version != CurrentVersion {
		t.Errorf("expected version %d, got %d", CurrentVersion, cfg.Version)
	}
	if !cfg.Scan.TestsIncluded() {
		t.Error("expected tests to be included by default")
	}
	if len(cfg.Scan.ExcludeDirs) == 0 {
		t.Error("expected default exclude dirs")
	}
	if cfg.DB.BusyTimeout != 5*time.Second {
		t.Errorf("expected busy timeout 5s, got %v", cfg.DB.BusyTimeout)
	}
	if cfg.Planner.HighRiskBlockerDensity != 0.2 {
		t.Errorf("expected density 0.2, got %v", cfg.Planner.HighRiskBlockerDensity)
	}
}

func TestLoad_Rejects(t *testing.T) {
	cases := []struct {
		name    string
		content string
		want    string
	}{
		{name: "FutureVersion", content: "version = 9", want: "unsupported config version"},
		{name: "Driver", content: "[db]\ndriver = \"postgres\"", want: "db.driver must be sqlite"},
		{name: "Glob", content: "[scan]\nexclude_dirs = [\"[\"]", want: "scan.exclude_dirs[0]"},
		{name: "Density", content: "[planner]\nhigh_risk_blocker_density = 1.5", want: "high_risk_blocker_density"},
		{name: "RewriteProgram", content: "[execute]\nrewrite_command = [\" \", \"{file}\"]", want: "execute.rewrite_command"},
		{name: "Memory", content: "[verify]\nmemory_mb = 8", want: "verify.memory_mb"},
		{name: "AddressSpace", content: "[verify]\naddress_space_mb = -1", want: "verify.address_space_mb"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.content))
			if err == nil {
				t.Fatalf("expected error containing %q", tc.want)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("NSMIGRATE_VERIFY_TIMEOUT", "5s")
	t.Setenv("NSMIGRATE_EXECUTE_WORKERS", "2")
	t.Setenv("NSMIGRATE_KNOWLEDGE_BASE_WATCH", "true")
	t.Setenv("NSMIGRATE_SCAN_WORKERS", "not-a-number")

	cfg := Default()
	before := cfg.Scan.Workers
	ApplyEnvOverrides(cfg)

	if cfg.Verify.Timeout != 5*time.Second {
		t.Errorf("expected timeout override, got %v", cfg.Verify.Timeout)
	}
	if cfg.Execute.Workers != 2 {
		t.Errorf("expected workers override, got %d", cfg.Execute.Workers)
	}
	if !cfg.KnowledgeBase.Watch {
		t.Error("expected knowledge base watch override")
	}
	if cfg.Scan.Workers != before {
		t.Errorf("expected invalid int override to be ignored, got %d", cfg.Scan.Workers)
	}
}
