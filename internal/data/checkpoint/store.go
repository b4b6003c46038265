// Package checkpoint persists migration progress, file records and
// pre-transformation snapshots in a per-project SQLite database.
package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	domainerrors "nsmigrate/internal/core/errors"
	"nsmigrate/internal/engine/planner"
	"nsmigrate/internal/engine/tracker"
)

const (
	driverName  = "sqlite"
	maxAttempts = 5
)

// Store implements tracker.Store. Writes are serialized.
type Store struct {
	path string
	db   *sql.DB
	mu   sync.Mutex
}

var _ tracker.Store = (*Store)(nil)

func Open(path string, busyTimeout time.Duration) (*Store, error) {
	cleanPath := strings.TrimSpace(path)
	if cleanPath == "" {
		return nil, domainerrors.New(domainerrors.CodeValidationError, "progress database path must not be empty")
	}
	existed := false
	if info, err := os.Stat(cleanPath); err == nil {
		if info.IsDir() {
			return nil, domainerrors.Newf(domainerrors.CodeValidationError, "progress database path %q is a directory, expected file", cleanPath)
		}
		existed = info.Size() > 0
	}
	// An existing file that cannot be read as a database is corrupt.
	openErr := func(err error) error {
		if existed && !isLockError(err) {
			return domainerrors.AddContext(domainerrors.Wrap(err, domainerrors.CodeCorruptState, "progress database is unreadable"), domainerrors.CtxPath, cleanPath)
		}
		return classify(err)
	}

	dir := filepath.Dir(cleanPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create state directory %q: %w", dir, err)
		}
	}
	if busyTimeout <= 0 {
		busyTimeout = 2 * time.Second
	}

	// busy_timeout + WAL reduce lock conflicts between concurrent workers.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cleanPath, busyTimeout.Milliseconds())
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open progress database %q: %w", cleanPath, err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, openErr(fmt.Errorf("ping progress database %q: %w", cleanPath, err))
	}
	if err := EnsureSchema(db); err != nil {
		_ = db.Close()
		var newer *newerSchemaError
		if errors.As(err, &newer) {
			return nil, domainerrors.AddContext(domainerrors.Wrap(err, domainerrors.CodeNotSupported, "progress database"), domainerrors.CtxPath, cleanPath)
		}
		return nil, openErr(fmt.Errorf("initialize schema %q: %w", cleanPath, err))
	}

	return &Store{path: cleanPath, db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

func (s *Store) Load(ctx context.Context) (*tracker.Progress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		p        tracker.Progress
		state    string
		planJSON string
		tsRaw    string
	)
	err := s.withRetry("load progress", func() error {
		return s.db.QueryRowContext(ctx, `
SELECT schema_version, project, run_id, state, plan_json, updated_at_utc
FROM progress WHERE id = 1
`).Scan(&p.SchemaVersion, &p.Project, &p.RunID, &state, &planJSON, &tsRaw)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	if p.SchemaVersion > tracker.SchemaVersion {
		return nil, domainerrors.Newf(domainerrors.CodeNotSupported, "progress schema version %d is newer than supported version %d", p.SchemaVersion, tracker.SchemaVersion)
	}
	if p.State, err = tracker.ParseState(state); err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeCorruptState, "decode progress state")
	}
	if planJSON != "" {
		p.Plan = &planner.Plan{}
		if err := json.Unmarshal([]byte(planJSON), p.Plan); err != nil {
			return nil, domainerrors.Wrap(err, domainerrors.CodeCorruptState, "decode stored plan")
		}
	}
	if p.UpdatedAt, err = parseTime(tsRaw); err != nil {
		return nil, err
	}

	var rows *sql.Rows
	err = s.withRetry("load files", func() error {
		var qErr error
		rows, qErr = s.db.QueryContext(ctx, `
SELECT path, phase, status, checkpoint_id, error, skip_reason, updated_at_utc
FROM files ORDER BY phase ASC, path ASC
`)
		return qErr
	})
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rec    tracker.FileRecord
			status string
			ts     string
		)
		if err := rows.Scan(&rec.Path, &rec.Phase, &status, &rec.CheckpointID, &rec.Error, &rec.SkipReason, &ts); err != nil {
			return nil, classify(fmt.Errorf("scan file row: %w", err))
		}
		rec.Status = tracker.FileStatus(status)
		if rec.UpdatedAt, err = parseTime(ts); err != nil {
			return nil, err
		}
		p.PutRecord(rec)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(fmt.Errorf("iterate file rows: %w", err))
	}
	return &p, nil
}

func (s *Store) SaveProgress(ctx context.Context, p *tracker.Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	planJSON := ""
	if p.Plan != nil {
		data, err := json.Marshal(p.Plan)
		if err != nil {
			return fmt.Errorf("encode plan: %w", err)
		}
		planJSON = string(data)
	}
	updated := p.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	return s.withRetry("save progress", func() error {
		_, err := s.db.ExecContext(ctx, `
INSERT INTO progress (id, schema_version, project, run_id, state, plan_json, updated_at_utc)
VALUES (1, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  schema_version=excluded.schema_version,
  project=excluded.project,
  run_id=excluded.run_id,
  state=excluded.state,
  plan_json=excluded.plan_json,
  updated_at_utc=excluded.updated_at_utc
`, tracker.SchemaVersion, p.Project, p.RunID, p.State.String(), planJSON, formatTime(updated))
		return err
	})
}

const upsertFile = `
INSERT INTO files (path, phase, status, checkpoint_id, error, skip_reason, updated_at_utc)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(path) DO UPDATE SET
  phase=excluded.phase,
  status=excluded.status,
  checkpoint_id=excluded.checkpoint_id,
  error=excluded.error,
  skip_reason=excluded.skip_reason,
  updated_at_utc=excluded.updated_at_utc
`

func fileArgs(rec tracker.FileRecord) []any {
	return []any{rec.Path, rec.Phase, string(rec.Status), rec.CheckpointID, rec.Error, rec.SkipReason, formatTime(rec.UpdatedAt)}
}

func (s *Store) SaveFile(ctx context.Context, rec tracker.FileRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.withRetry("save file", func() error {
		_, err := s.db.ExecContext(ctx, upsertFile, fileArgs(rec)...)
		return err
	})
}

func (s *Store) ReplaceFiles(ctx context.Context, recs []tracker.FileRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.withRetry("replace files", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM files`); err != nil {
			_ = tx.Rollback()
			return err
		}
		for _, rec := range recs {
			if _, err := tx.ExecContext(ctx, upsertFile, fileArgs(rec)...); err != nil {
				_ = tx.Rollback()
				return err
			}
		}
		return tx.Commit()
	})
}

// SaveCheckpoint stores content once per digest and records the checkpoint
// in the same transaction.
func (s *Store) SaveCheckpoint(ctx context.Context, cp tracker.Checkpoint, content []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.withRetry("save checkpoint", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO snapshots (id, size, content) VALUES (?, ?, ?)`,
			cp.SnapshotID, len(content), content,
		); err != nil {
			_ = tx.Rollback()
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO checkpoints (id, path, phase, snapshot_id, created_at_utc) VALUES (?, ?, ?, ?, ?)`,
			cp.ID, cp.Path, cp.Phase, cp.SnapshotID, formatTime(cp.CreatedAt),
		); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}

func (s *Store) Checkpoints(ctx context.Context, fromPhase int) ([]tracker.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rows *sql.Rows
	err := s.withRetry("load checkpoints", func() error {
		var qErr error
		rows, qErr = s.db.QueryContext(ctx, `
SELECT id, path, phase, snapshot_id, created_at_utc
FROM checkpoints WHERE phase >= ? ORDER BY seq DESC
`, fromPhase)
		return qErr
	})
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	out := make([]tracker.Checkpoint, 0)
	for rows.Next() {
		var (
			cp tracker.Checkpoint
			ts string
		)
		if err := rows.Scan(&cp.ID, &cp.Path, &cp.Phase, &cp.SnapshotID, &ts); err != nil {
			return nil, classify(fmt.Errorf("scan checkpoint row: %w", err))
		}
		if cp.CreatedAt, err = parseTime(ts); err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(fmt.Errorf("iterate checkpoint rows: %w", err))
	}
	return out, nil
}

func (s *Store) Snapshot(ctx context.Context, id string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var content []byte
	err := s.withRetry("load snapshot", func() error {
		return s.db.QueryRowContext(ctx, `SELECT content FROM snapshots WHERE id = ?`, id).Scan(&content)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domainerrors.Newf(domainerrors.CodeCorruptState, "snapshot %s is missing", id)
	}
	if err != nil {
		return nil, classify(err)
	}
	return content, nil
}

// DeleteCheckpoints drops checkpoints of fromPhase and later and any
// snapshot no longer referenced.
func (s *Store) DeleteCheckpoints(ctx context.Context, fromPhase int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.withRetry("delete checkpoints", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM checkpoints WHERE phase >= ?`, fromPhase); err != nil {
			_ = tx.Rollback()
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM snapshots WHERE id NOT IN (SELECT snapshot_id FROM checkpoints)`); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}

func (s *Store) withRetry(op string, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if errors.Is(err, sql.ErrNoRows) {
			return err
		}
		lastErr = err
		if !isLockError(err) || attempt == maxAttempts {
			break
		}
		time.Sleep(time.Duration(attempt*25) * time.Millisecond)
	}
	return fmt.Errorf("%s: %w", op, lastErr)
}

func isLockError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "busy")
}

func IsCorruptError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "malformed") || strings.Contains(msg, "not a database") || errors.Is(err, os.ErrInvalid)
}

// classify tags corruption so callers treat it as fatal.
func classify(err error) error {
	if IsCorruptError(err) {
		return domainerrors.Wrap(err, domainerrors.CodeCorruptState, "progress database is corrupt")
	}
	return err
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(raw string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, domainerrors.Wrap(fmt.Errorf("parse timestamp %q: %w", raw, err), domainerrors.CodeCorruptState, "decode progress")
	}
	return ts.UTC(), nil
}
