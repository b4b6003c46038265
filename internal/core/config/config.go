package config

import "time"

const (
	CurrentVersion = 1
	DefaultFile    = "nsmigrate.toml"
)

type Config struct {
	Version       int           `toml:"version"`
	Paths         Paths         `toml:"paths"`
	DB            Database      `toml:"db"`
	KnowledgeBase KnowledgeBase `toml:"knowledge_base"`
	Scan          Scan          `toml:"scan"`
	Planner       Planner       `toml:"planner"`
	Execute       Execute       `toml:"execute"`
	Verify        Verify        `toml:"verify"`
	Watch         Watch         `toml:"watch"`
	Observability Observability `toml:"observability"`
}

type Paths struct {
	// StateDir holds one progress database per project. Empty resolves to
	// $XDG_STATE_HOME/nsmigrate or ~/.local/state/nsmigrate.
	StateDir string `toml:"state_dir"`
	LogFile  string `toml:"log_file"`
}

type Database struct {
	Driver      string        `toml:"driver"`
	BusyTimeout time.Duration `toml:"busy_timeout"`
}

type KnowledgeBase struct {
	// Path to a TOML or YAML table; empty uses the embedded default.
	Path  string `toml:"path"`
	Watch bool   `toml:"watch"`
}

type Scan struct {
	ExcludeDirs  []string `toml:"exclude_dirs"`
	ExcludeFiles []string `toml:"exclude_files"`
	IncludeTests *bool    `toml:"include_tests"`
	Workers      int      `toml:"workers"`
	MaxFileBytes int64    `toml:"max_file_bytes"`
}

type Planner struct {
	HighRiskBlockerDensity float64 `toml:"high_risk_blocker_density"`
	MediumRiskFiles        int     `toml:"medium_risk_files"`
	HighRiskMaxBatch       int     `toml:"high_risk_max_batch"`
}

type Execute struct {
	Workers        int           `toml:"workers"`
	RewriteCommand []string      `toml:"rewrite_command"`
	RewriteTimeout time.Duration `toml:"rewrite_timeout"`
	RewriteRate    float64       `toml:"rewrite_rate"`
	RewriteBurst   int           `toml:"rewrite_burst"`
}

type Verify struct {
	JavaBinary string        `toml:"java_binary"`
	JVMArgs    []string      `toml:"jvm_args"`
	Args       []string      `toml:"args"`
	Timeout    time.Duration `toml:"timeout"`
	MemoryMB   int           `toml:"memory_mb"`
	// AddressSpaceMB caps the virtual memory of artifacts that are not jars
	// (Linux only). Zero leaves them unbounded. A JVM reserves far more
	// address space than its heap, so keep it well above memory_mb when the
	// artifact is a launcher script.
	AddressSpaceMB int `toml:"address_space_mb"`
	// MaxOutputBytes caps captured stdout/stderr per stream.
	MaxOutputBytes int `toml:"max_output_bytes"`
}

type Watch struct {
	Debounce time.Duration `toml:"debounce"`
}

type Observability struct {
	MetricsAddr  string `toml:"metrics_addr"`
	OTLPEndpoint string `toml:"otlp_endpoint"`
}

func (s Scan) TestsIncluded() bool {
	if s.IncludeTests == nil {
		return true
	}
	return *s.IncludeTests
}

// Default returns a config with every default applied, used when no config
// file exists.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}
