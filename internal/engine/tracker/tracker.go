package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	domainerrors "nsmigrate/internal/core/errors"
	"nsmigrate/internal/engine/planner"
	"nsmigrate/internal/shared/observability"
	"nsmigrate/internal/shared/util"
)

// Store persists progress for one project. Implementations serialize
// writes; callers may write different file keys concurrently.
type Store interface {
	// Load returns nil and no error when the project has no run yet.
	Load(ctx context.Context) (*Progress, error)
	SaveProgress(ctx context.Context, p *Progress) error
	SaveFile(ctx context.Context, rec FileRecord) error
	// ReplaceFiles drops every file record and stores recs.
	ReplaceFiles(ctx context.Context, recs []FileRecord) error
	SaveCheckpoint(ctx context.Context, cp Checkpoint, content []byte) error
	// Checkpoints returns checkpoints of fromPhase and later, newest first.
	Checkpoints(ctx context.Context, fromPhase int) ([]Checkpoint, error)
	Snapshot(ctx context.Context, id string) ([]byte, error)
	DeleteCheckpoints(ctx context.Context, fromPhase int) error
}

// Tracker drives the state machine for one project and keeps the store in
// step with it. Safe for concurrent use.
type Tracker struct {
	root  string
	store Store

	mu       sync.Mutex
	progress *Progress
}

// Open loads an existing run for root. A store error here is fatal for the
// run and reported as corrupt state.
func Open(ctx context.Context, root string, store Store) (*Tracker, error) {
	p, err := store.Load(ctx)
	if err != nil {
		if domainerrors.IsCode(err, domainerrors.CodeCorruptState) || domainerrors.IsCode(err, domainerrors.CodeNotSupported) {
			return nil, err
		}
		return nil, domainerrors.Wrap(err, domainerrors.CodeCorruptState, "load progress")
	}
	if p == nil {
		p = NewProgress(root, "", nil)
	}
	return &Tracker{root: root, store: store, progress: p}, nil
}

// Snapshot returns a copy of the current progress.
func (t *Tracker) Snapshot() *Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.progress.clone()
}

func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.progress.State
}

// Begin attaches plan to the run. A running migration keeps its own plan
// so it resumes rather than restarts: a nil plan or one with the same ID
// resumes, a different plan is a conflict until the run is rolled back to
// the start. The returned plan is the one in force.
func (t *Tracker) Begin(ctx context.Context, plan *planner.Plan) (*planner.Plan, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.progress.State
	switch {
	case st.Running() && t.progress.Plan != nil:
		if plan != nil && plan.ID != t.progress.Plan.ID {
			return nil, domainerrors.AddContext(
				domainerrors.Newf(domainerrors.CodeConflict, "run %s is executing plan %s, not %s; roll back to phase 1 to switch plans",
					t.progress.RunID, t.progress.Plan.ID, plan.ID),
				domainerrors.CtxOperation, "begin")
		}
		slog.Debug("resuming run", "run", t.progress.RunID, "plan", t.progress.Plan.ID)
		return t.progress.Plan, nil
	case st.Kind == KindFailed:
		return nil, domainerrors.Newf(domainerrors.CodeConflict, "run %s failed; remove the progress database to start over", t.progress.RunID)
	case st.Kind == KindVerified || st.Kind == KindComplete:
		return nil, domainerrors.Newf(domainerrors.CodeConflict, "run %s is already %s", t.progress.RunID, st)
	}
	if plan == nil {
		return nil, domainerrors.New(domainerrors.CodeValidationError, "a plan is required to start a run")
	}

	runID := t.progress.RunID
	if runID == "" {
		runID = uuid.New().String()
	}
	next := NewProgress(t.root, runID, plan)
	if err := t.store.SaveProgress(ctx, next); err != nil {
		return nil, t.storeError(err, "save progress")
	}
	if err := t.store.ReplaceFiles(ctx, next.Records(0)); err != nil {
		return nil, t.storeError(err, "save file records")
	}
	t.progress = next
	return plan, nil
}

func (t *Tracker) transition(ctx context.Context, fn func(State) (State, error)) error {
	next, err := fn(t.progress.State)
	if err != nil {
		return err
	}
	prev := t.progress.State
	t.progress.State = next
	t.progress.UpdatedAt = time.Now().UTC()
	if err := t.store.SaveProgress(ctx, t.progress); err != nil {
		t.progress.State = prev
		return t.storeError(err, "save progress")
	}
	slog.Debug("state transition", "run", t.progress.RunID, "from", prev.String(), "to", next.String())
	return nil
}

func (t *Tracker) StartPhase(ctx context.Context, phase int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.transition(ctx, func(s State) (State, error) { return s.Start(phase) })
}

// CompletePhase advances past phase once every file succeeded or was
// skipped.
func (t *Tracker) CompletePhase(ctx context.Context, phase int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.progress.CanAdvance(phase); err != nil {
		return err
	}
	return t.transition(ctx, func(s State) (State, error) { return s.CompletePhase(phase) })
}

func (t *Tracker) MarkVerified(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.transition(ctx, State.MarkVerified)
}

// Complete ends the run and purges its checkpoints.
func (t *Tracker) Complete(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.transition(ctx, State.Complete); err != nil {
		return err
	}
	if err := t.store.DeleteCheckpoints(ctx, 1); err != nil {
		return t.storeError(err, "purge checkpoints")
	}
	return nil
}

func (t *Tracker) Fail(ctx context.Context, cause error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	slog.Error("migration run failed", "run", t.progress.RunID, "state", t.progress.State.String(), "error", cause)
	return t.transition(ctx, State.Fail)
}

// Checkpoint snapshots path before it is transformed.
func (t *Tracker) Checkpoint(ctx context.Context, path string, phase int) (Checkpoint, error) {
	content, err := os.ReadFile(filepath.Join(t.root, filepath.FromSlash(path)))
	if err != nil {
		return Checkpoint{}, err
	}
	cp := Checkpoint{
		ID:         uuid.New().String(),
		Path:       path,
		Phase:      phase,
		SnapshotID: util.ContentDigest(content),
		CreatedAt:  time.Now().UTC(),
	}
	if err := t.store.SaveCheckpoint(ctx, cp, content); err != nil {
		return Checkpoint{}, t.storeError(err, "save checkpoint")
	}
	return cp, nil
}

// Restore writes the snapshot of cp back over its file, undoing a partial
// transformation.
func (t *Tracker) Restore(ctx context.Context, cp Checkpoint) error {
	content, err := t.store.Snapshot(ctx, cp.SnapshotID)
	if err != nil {
		return t.storeError(err, "load snapshot")
	}
	target := filepath.Join(t.root, filepath.FromSlash(cp.Path))
	if err := util.WriteFileAtomic(target, content, 0o644); err != nil {
		return domainerrors.AddContext(domainerrors.Wrap(err, domainerrors.CodeInternal, "restore file"), domainerrors.CtxPath, cp.Path)
	}
	return nil
}

func (t *Tracker) RecordSuccess(ctx context.Context, path, checkpointID string) error {
	return t.record(ctx, func(p *Progress) (FileRecord, error) { return p.MarkSucceeded(path, checkpointID) })
}

func (t *Tracker) RecordFailure(ctx context.Context, path string, cause error) error {
	return t.record(ctx, func(p *Progress) (FileRecord, error) { return p.MarkFailed(path, cause) })
}

// Skip acknowledges that path stays as is. It is valid while a run is in
// progress.
func (t *Tracker) Skip(ctx context.Context, path, reason string) error {
	if st := t.State(); !st.Running() {
		return fmt.Errorf("%w: cannot skip files in state %s", ErrInvalidTransition, st)
	}
	return t.record(ctx, func(p *Progress) (FileRecord, error) { return p.Skip(path, reason) })
}

func (t *Tracker) record(ctx context.Context, fn func(p *Progress) (FileRecord, error)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, err := fn(t.progress)
	if err != nil {
		return err
	}
	if err := t.store.SaveFile(ctx, rec); err != nil {
		return t.storeError(err, "save file record")
	}
	return nil
}

type RollbackResult struct {
	From     string   `json:"from" yaml:"from"`
	To       string   `json:"to" yaml:"to"`
	Restored []string `json:"restored" yaml:"restored"`
	Reset    []string `json:"reset" yaml:"reset"`
}

// RollbackTo restores every file of toPhase and later from its checkpoint
// snapshot, discards those checkpoints and moves the state back.
func (t *Tracker) RollbackTo(ctx context.Context, toPhase int) (RollbackResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	from := t.progress.State
	next, err := from.RollbackTo(toPhase)
	if err != nil {
		return RollbackResult{}, err
	}

	cps, err := t.store.Checkpoints(ctx, toPhase)
	if err != nil {
		return RollbackResult{}, t.storeError(err, "list checkpoints")
	}
	res := RollbackResult{From: from.String(), To: next.String()}

	// Newest first, so the oldest snapshot of a file is written last.
	restored := make(map[string]bool)
	for _, cp := range cps {
		content, err := t.store.Snapshot(ctx, cp.SnapshotID)
		if err != nil {
			return res, t.storeError(err, "load snapshot")
		}
		target := filepath.Join(t.root, filepath.FromSlash(cp.Path))
		if err := util.WriteFileAtomic(target, content, 0o644); err != nil {
			return res, domainerrors.AddContext(domainerrors.Wrap(err, domainerrors.CodeInternal, "restore file"), domainerrors.CtxPath, cp.Path)
		}
		restored[cp.Path] = true
	}
	res.Restored = util.SortedStringKeys(restored)

	for _, rec := range t.progress.Records(0) {
		if rec.Phase < toPhase || rec.Status == StatusPending {
			continue
		}
		reset, err := t.progress.Reset(rec.Path)
		if err != nil {
			return res, err
		}
		if err := t.store.SaveFile(ctx, reset); err != nil {
			return res, t.storeError(err, "save file record")
		}
		res.Reset = append(res.Reset, rec.Path)
	}
	if err := t.store.DeleteCheckpoints(ctx, toPhase); err != nil {
		return res, t.storeError(err, "delete checkpoints")
	}
	if err := t.transition(ctx, func(State) (State, error) { return next, nil }); err != nil {
		return res, err
	}
	observability.RollbacksTotal.Inc()
	slog.Info("rolled back", "run", t.progress.RunID, "from", res.From, "to", res.To, "restored", len(res.Restored))
	return res, nil
}

func (t *Tracker) storeError(err error, op string) error {
	return domainerrors.Lift(err, domainerrors.CodeCorruptState, op)
}

func (p *Progress) clone() *Progress {
	out := *p
	out.files = make(map[string]*FileRecord, len(p.files))
	for k, v := range p.files {
		r := *v
		out.files[k] = &r
	}
	return &out
}
