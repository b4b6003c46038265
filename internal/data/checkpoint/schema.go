package checkpoint

import (
	"database/sql"
	"fmt"
)

// SchemaVersion is the newest database layout this build understands.
const SchemaVersion = 1

type migration struct {
	version int
	sql     string
}

var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS progress (
  id INTEGER PRIMARY KEY CHECK (id = 1),
  schema_version INTEGER NOT NULL,
  project TEXT NOT NULL,
  run_id TEXT NOT NULL,
  state TEXT NOT NULL,
  plan_json TEXT NOT NULL DEFAULT '',
  updated_at_utc TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS files (
  path TEXT PRIMARY KEY,
  phase INTEGER NOT NULL,
  status TEXT NOT NULL,
  checkpoint_id TEXT NOT NULL DEFAULT '',
  error TEXT NOT NULL DEFAULT '',
  skip_reason TEXT NOT NULL DEFAULT '',
  updated_at_utc TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_files_phase ON files(phase);
CREATE TABLE IF NOT EXISTS snapshots (
  id TEXT PRIMARY KEY,
  size INTEGER NOT NULL,
  content BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS checkpoints (
  seq INTEGER PRIMARY KEY AUTOINCREMENT,
  id TEXT NOT NULL UNIQUE,
  path TEXT NOT NULL,
  phase INTEGER NOT NULL,
  snapshot_id TEXT NOT NULL REFERENCES snapshots(id),
  created_at_utc TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_checkpoints_phase ON checkpoints(phase);
CREATE INDEX IF NOT EXISTS idx_checkpoints_path ON checkpoints(path);
`,
	},
}

// EnsureSchema applies pending migrations and rejects databases written by
// a newer version.
func EnsureSchema(db *sql.DB) error {
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS schema_migrations (
  version INTEGER PRIMARY KEY,
  applied_at_utc TEXT NOT NULL DEFAULT (CURRENT_TIMESTAMP)
);
`); err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}

	var current int
	if err := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("read schema_migrations version: %w", err)
	}
	if current > SchemaVersion {
		return &newerSchemaError{found: current}
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.version, err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations(version) VALUES (?)`, m.version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.version, err)
		}
	}
	return nil
}

type newerSchemaError struct {
	found int
}

func (e *newerSchemaError) Error() string {
	return fmt.Sprintf("schema version %d is newer than supported version %d", e.found, SchemaVersion)
}
