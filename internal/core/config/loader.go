package config

import (
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)
	normalize(&cfg)

	if err := validateVersion(&cfg); err != nil {
		return nil, err
	}
	if err := validateDatabase(&cfg); err != nil {
		return nil, err
	}
	if err := validateScan(&cfg); err != nil {
		return nil, err
	}
	if err := validatePlanner(&cfg); err != nil {
		return nil, err
	}
	if err := validateExecute(&cfg); err != nil {
		return nil, err
	}
	if err := validateVerify(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

var defaultExcludeDirs = []string{".git", ".gradle", ".idea", ".mvn", "target", "build", "out", "node_modules", "bin"}

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}

	if strings.TrimSpace(cfg.DB.Driver) == "" {
		cfg.DB.Driver = "sqlite"
	}
	if cfg.DB.BusyTimeout <= 0 {
		cfg.DB.BusyTimeout = 5 * time.Second
	}

	if cfg.Scan.ExcludeDirs == nil {
		cfg.Scan.ExcludeDirs = append([]string(nil), defaultExcludeDirs...)
	}
	if cfg.Scan.Workers <= 0 {
		cfg.Scan.Workers = runtime.NumCPU()
	}
	if cfg.Scan.MaxFileBytes <= 0 {
		cfg.Scan.MaxFileBytes = 4 << 20
	}

	if cfg.Planner.HighRiskBlockerDensity <= 0 {
		cfg.Planner.HighRiskBlockerDensity = 0.2
	}
	if cfg.Planner.MediumRiskFiles <= 0 {
		cfg.Planner.MediumRiskFiles = 50
	}
	if cfg.Planner.HighRiskMaxBatch <= 0 {
		cfg.Planner.HighRiskMaxBatch = 4
	}

	if cfg.Execute.Workers <= 0 {
		cfg.Execute.Workers = 4
	}
	if cfg.Execute.RewriteTimeout <= 0 {
		cfg.Execute.RewriteTimeout = 2 * time.Minute
	}
	if cfg.Execute.RewriteBurst <= 0 {
		cfg.Execute.RewriteBurst = 1
	}

	if strings.TrimSpace(cfg.Verify.JavaBinary) == "" {
		cfg.Verify.JavaBinary = "java"
	}
	if cfg.Verify.Timeout <= 0 {
		cfg.Verify.Timeout = 60 * time.Second
	}
	if cfg.Verify.MemoryMB <= 0 {
		cfg.Verify.MemoryMB = 512
	}
	if cfg.Verify.MaxOutputBytes <= 0 {
		cfg.Verify.MaxOutputBytes = 1 << 20
	}

	// Default debounce if not set.
	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = 500 * time.Millisecond
	}
}

func normalize(cfg *Config) {
	cfg.Paths.StateDir = strings.TrimSpace(cfg.Paths.StateDir)
	cfg.Paths.LogFile = strings.TrimSpace(cfg.Paths.LogFile)
	cfg.DB.Driver = strings.ToLower(strings.TrimSpace(cfg.DB.Driver))
	cfg.KnowledgeBase.Path = strings.TrimSpace(cfg.KnowledgeBase.Path)
	cfg.Observability.MetricsAddr = strings.TrimSpace(cfg.Observability.MetricsAddr)
	cfg.Observability.OTLPEndpoint = strings.TrimSpace(cfg.Observability.OTLPEndpoint)
	cfg.Scan.ExcludeDirs = trimNonEmpty(cfg.Scan.ExcludeDirs)
	cfg.Scan.ExcludeFiles = trimNonEmpty(cfg.Scan.ExcludeFiles)
	cfg.Execute.RewriteCommand = trimNonEmpty(cfg.Execute.RewriteCommand)
}

func trimNonEmpty(values []string) []string {
	if values == nil {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
