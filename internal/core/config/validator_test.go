package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.DB.Driver = "mysql"
	cfg.Verify.MemoryMB = 1
	cfg.KnowledgeBase.Path = "/non/existent/compat.toml"

	errs := Validate(cfg)
	if len(errs) != 3 {
		t.Fatalf("expected 3 errors, got %d: %v", len(errs), errs)
	}
	target := `knowledge_base.path "/non/existent/compat.toml" does not exist`
	if errs[2].Error() != target {
		t.Errorf("expected %q, got %q", target, errs[2].Error())
	}
}

func TestValidate_StateDirMustBeDirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "state")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := Default()
	cfg.Paths.StateDir = file

	errs := Validate(cfg)
	want := fmt.Sprintf("paths.state_dir %q is not a directory", file)
	found := false
	for _, err := range errs {
		if err.Error() == want {
			found = true
		}
	}
	if !found {
		t.Errorf("expected %q, got %v", want, errs)
	}
}
