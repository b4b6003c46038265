package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// ApplyEnvOverrides applies environment variable overrides to the configuration.
// Pattern: NSMIGRATE_[SECTION]_[KEY] (e.g., NSMIGRATE_VERIFY_TIMEOUT).
func ApplyEnvOverrides(cfg *Config) {
	setEnvString(&cfg.Paths.StateDir, "NSMIGRATE_PATHS_STATE_DIR")
	setEnvString(&cfg.Paths.LogFile, "NSMIGRATE_PATHS_LOG_FILE")

	setEnvDuration(&cfg.DB.BusyTimeout, "NSMIGRATE_DB_BUSY_TIMEOUT")

	setEnvString(&cfg.KnowledgeBase.Path, "NSMIGRATE_KNOWLEDGE_BASE_PATH")
	setEnvBool(&cfg.KnowledgeBase.Watch, "NSMIGRATE_KNOWLEDGE_BASE_WATCH")

	setEnvInt(&cfg.Scan.Workers, "NSMIGRATE_SCAN_WORKERS")

	setEnvInt(&cfg.Execute.Workers, "NSMIGRATE_EXECUTE_WORKERS")
	setEnvFloat64(&cfg.Execute.RewriteRate, "NSMIGRATE_EXECUTE_REWRITE_RATE")
	setEnvDuration(&cfg.Execute.RewriteTimeout, "NSMIGRATE_EXECUTE_REWRITE_TIMEOUT")

	setEnvString(&cfg.Verify.JavaBinary, "NSMIGRATE_VERIFY_JAVA_BINARY")
	setEnvDuration(&cfg.Verify.Timeout, "NSMIGRATE_VERIFY_TIMEOUT")
	setEnvInt(&cfg.Verify.MemoryMB, "NSMIGRATE_VERIFY_MEMORY_MB")
	setEnvInt(&cfg.Verify.AddressSpaceMB, "NSMIGRATE_VERIFY_ADDRESS_SPACE_MB")

	setEnvString(&cfg.Observability.MetricsAddr, "NSMIGRATE_OBSERVABILITY_METRICS_ADDR")
	setEnvString(&cfg.Observability.OTLPEndpoint, "NSMIGRATE_OBSERVABILITY_OTLP_ENDPOINT")
}

func setEnvString(target *string, key string) {
	if val, ok := os.LookupEnv(key); ok {
		slog.Debug("applying env override", "key", key, "value", val)
		*target = val
	}
}

func setEnvInt(target *int, key string) {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			slog.Debug("applying env override", "key", key, "value", val)
			*target = i
		}
	}
}

func setEnvBool(target *bool, key string) {
	if val, ok := os.LookupEnv(key); ok {
		b, err := strconv.ParseBool(strings.ToLower(val))
		if err == nil {
			slog.Debug("applying env override", "key", key, "value", val)
			*target = b
		}
	}
}

func setEnvFloat64(target *float64, key string) {
	if val, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			slog.Debug("applying env override", "key", key, "value", val)
			*target = f
		}
	}
}

func setEnvDuration(target *time.Duration, key string) {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			slog.Debug("applying env override", "key", key, "value", val)
			*target = d
		}
	}
}
