package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/gobwas/glob"
)

func validateVersion(cfg *Config) error {
	if cfg.Version < 1 {
		return fmt.Errorf("version must be >= 1, got %d", cfg.Version)
	}
	if cfg.Version > CurrentVersion {
		return fmt.Errorf("unsupported config version %d; supported version is %d", cfg.Version, CurrentVersion)
	}
	return nil
}

func validateDatabase(cfg *Config) error {
	if cfg.DB.Driver != "sqlite" {
		return fmt.Errorf("db.driver must be sqlite, got %q", cfg.DB.Driver)
	}
	return nil
}

func validateScan(cfg *Config) error {
	for i, pattern := range cfg.Scan.ExcludeDirs {
		if _, err := glob.Compile(pattern); err != nil {
			return fmt.Errorf("scan.exclude_dirs[%d] %q is not a valid glob: %w", i, pattern, err)
		}
	}
	for i, pattern := range cfg.Scan.ExcludeFiles {
		if _, err := glob.Compile(pattern); err != nil {
			return fmt.Errorf("scan.exclude_files[%d] %q is not a valid glob: %w", i, pattern, err)
		}
	}
	return nil
}

func validatePlanner(cfg *Config) error {
	if cfg.Planner.HighRiskBlockerDensity > 1 {
		return fmt.Errorf("planner.high_risk_blocker_density must be within (0, 1], got %v", cfg.Planner.HighRiskBlockerDensity)
	}
	return nil
}

func validateExecute(cfg *Config) error {
	if cfg.Execute.Workers > 256 {
		return fmt.Errorf("execute.workers must be <= 256, got %d", cfg.Execute.Workers)
	}
	if cfg.Execute.RewriteRate < 0 {
		return fmt.Errorf("execute.rewrite_rate must not be negative")
	}
	if len(cfg.Execute.RewriteCommand) > 0 && strings.TrimSpace(cfg.Execute.RewriteCommand[0]) == "" {
		return fmt.Errorf("execute.rewrite_command must start with a program")
	}
	return nil
}

func validateVerify(cfg *Config) error {
	if cfg.Verify.MemoryMB < 16 {
		return fmt.Errorf("verify.memory_mb must be >= 16, got %d", cfg.Verify.MemoryMB)
	}
	if cfg.Verify.AddressSpaceMB < 0 {
		return fmt.Errorf("verify.address_space_mb must not be negative, got %d", cfg.Verify.AddressSpaceMB)
	}
	return nil
}

// Validate performs a comprehensive validation of the configuration and
// returns every problem found instead of stopping at the first.
func Validate(cfg *Config) []error {
	var errs []error

	if err := validateVersion(cfg); err != nil {
		errs = append(errs, err)
	}
	if err := validateDatabase(cfg); err != nil {
		errs = append(errs, err)
	}
	if err := validateScan(cfg); err != nil {
		errs = append(errs, err)
	}
	if err := validatePlanner(cfg); err != nil {
		errs = append(errs, err)
	}
	if err := validateExecute(cfg); err != nil {
		errs = append(errs, err)
	}
	if err := validateVerify(cfg); err != nil {
		errs = append(errs, err)
	}

	if path := cfg.KnowledgeBase.Path; path != "" {
		if info, err := os.Stat(path); err != nil {
			errs = append(errs, fmt.Errorf("knowledge_base.path %q does not exist", path))
		} else if info.IsDir() {
			errs = append(errs, fmt.Errorf("knowledge_base.path %q is a directory", path))
		}
	}
	if path := cfg.Paths.StateDir; path != "" {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			errs = append(errs, fmt.Errorf("paths.state_dir %q is not a directory", path))
		}
	}
	return errs
}
