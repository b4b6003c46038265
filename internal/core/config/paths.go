package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"nsmigrate/internal/shared/util"
)

type ResolvedPaths struct {
	StateDir          string
	LogFile           string
	KnowledgeBasePath string
}

// ResolvePaths anchors relative config paths at cwd and fills in the
// per-user state location when none is configured.
func ResolvePaths(cfg *Config, cwd string) (ResolvedPaths, error) {
	if strings.TrimSpace(cwd) == "" {
		return ResolvedPaths{}, fmt.Errorf("cwd must not be empty")
	}

	stateDir := cfg.Paths.StateDir
	if stateDir == "" {
		stateDir = DefaultStateDir()
	}
	stateDir = ResolveRelative(cwd, stateDir)

	logFile := cfg.Paths.LogFile
	if logFile == "" {
		logFile = filepath.Join(stateDir, "nsmigrate.log")
	} else {
		logFile = ResolveRelative(cwd, logFile)
	}

	resolved := ResolvedPaths{
		StateDir: filepath.Clean(stateDir),
		LogFile:  filepath.Clean(logFile),
	}
	if cfg.KnowledgeBase.Path != "" {
		resolved.KnowledgeBasePath = ResolveRelative(cwd, cfg.KnowledgeBase.Path)
	}
	return resolved, nil
}

// ProgressDBPath is the deterministic location of a project's progress store.
func (p ResolvedPaths) ProgressDBPath(projectPath string) (string, error) {
	key, err := util.ProjectKey(projectPath)
	if err != nil {
		return "", err
	}
	return filepath.Join(p.StateDir, "projects", key+".db"), nil
}

func DefaultStateDir() string {
	if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
		return filepath.Join(xdg, "nsmigrate")
	}
	home, err := os.UserHomeDir()
	if err == nil && home != "" {
		return filepath.Join(home, ".local", "state", "nsmigrate")
	}
	return ".nsmigrate"
}

func ResolveRelative(base, value string) string {
	raw := strings.TrimSpace(value)
	if raw == "" {
		return filepath.Clean(base)
	}
	if filepath.IsAbs(raw) {
		return filepath.Clean(raw)
	}
	return filepath.Clean(filepath.Join(base, raw))
}

// FindConfig walks up from start looking for nsmigrate.toml.
func FindConfig(start string) (string, bool) {
	abs, err := filepath.Abs(start)
	if err != nil {
		return "", false
	}
	dir := abs
	if info, err := os.Stat(abs); err == nil && !info.IsDir() {
		dir = filepath.Dir(abs)
	}
	for {
		candidate := filepath.Join(dir, DefaultFile)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}
