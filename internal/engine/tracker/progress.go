package tracker

import (
	"fmt"
	"sort"
	"strings"
	"time"

	domainerrors "nsmigrate/internal/core/errors"
	"nsmigrate/internal/engine/planner"
	"nsmigrate/internal/shared/util"
)

// SchemaVersion of persisted progress records.
const SchemaVersion = 1

type FileStatus string

const (
	StatusPending   FileStatus = "pending"
	StatusSucceeded FileStatus = "succeeded"
	StatusFailed    FileStatus = "failed"
	StatusSkipped   FileStatus = "skipped"
)

func (s FileStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusSkipped
}

type FileRecord struct {
	Path         string     `json:"path" yaml:"path"`
	Phase        int        `json:"phase" yaml:"phase"`
	Status       FileStatus `json:"status" yaml:"status"`
	CheckpointID string     `json:"checkpoint_id,omitempty" yaml:"checkpoint_id,omitempty"`
	Error        string     `json:"error,omitempty" yaml:"error,omitempty"`
	SkipReason   string     `json:"skip_reason,omitempty" yaml:"skip_reason,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at" yaml:"updated_at"`
}

// Checkpoint is taken immediately before a file is transformed. The
// snapshot holds the file content under its sha256 digest.
type Checkpoint struct {
	ID         string    `json:"id" yaml:"id"`
	Path       string    `json:"path" yaml:"path"`
	Phase      int       `json:"phase" yaml:"phase"`
	SnapshotID string    `json:"snapshot_id" yaml:"snapshot_id"`
	CreatedAt  time.Time `json:"created_at" yaml:"created_at"`
}

// Progress is one project run: its state, the plan it executes and a
// record for every planned file.
type Progress struct {
	SchemaVersion int           `json:"schema_version" yaml:"schema_version"`
	Project       string        `json:"project" yaml:"project"`
	RunID         string        `json:"run_id" yaml:"run_id"`
	State         State         `json:"state" yaml:"state"`
	Plan          *planner.Plan `json:"plan,omitempty" yaml:"plan,omitempty"`
	UpdatedAt     time.Time     `json:"updated_at" yaml:"updated_at"`

	files map[string]*FileRecord
}

// NewProgress registers every planned file as pending.
func NewProgress(project, runID string, plan *planner.Plan) *Progress {
	p := &Progress{
		SchemaVersion: SchemaVersion,
		Project:       project,
		RunID:         runID,
		State:         Initial(),
		Plan:          plan,
		UpdatedAt:     time.Now().UTC(),
		files:         make(map[string]*FileRecord),
	}
	if plan != nil {
		for _, ph := range plan.Phases {
			for _, f := range ph.Files {
				p.files[f.Path] = &FileRecord{Path: f.Path, Phase: ph.Number, Status: StatusPending, UpdatedAt: p.UpdatedAt}
			}
		}
	}
	return p
}

// PutRecord replaces a file record, used when loading from a store.
func (p *Progress) PutRecord(rec FileRecord) {
	if p.files == nil {
		p.files = make(map[string]*FileRecord)
	}
	r := rec
	p.files[rec.Path] = &r
}

func (p *Progress) Record(path string) (FileRecord, bool) {
	r, ok := p.files[path]
	if !ok {
		return FileRecord{}, false
	}
	return *r, true
}

// Records returns file records for phase, or every phase when phase is 0,
// ordered by phase then path.
func (p *Progress) Records(phase int) []FileRecord {
	out := make([]FileRecord, 0, len(p.files))
	for _, path := range util.SortedStringKeys(p.files) {
		r := p.files[path]
		if phase == 0 || r.Phase == phase {
			out = append(out, *r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Phase < out[j].Phase })
	return out
}

func (p *Progress) update(path string, fn func(r *FileRecord) error) (FileRecord, error) {
	r, ok := p.files[path]
	if !ok {
		return FileRecord{}, domainerrors.Newf(domainerrors.CodeNotFound, "file %q is not part of the plan", path)
	}
	next := *r
	if err := fn(&next); err != nil {
		return FileRecord{}, err
	}
	next.UpdatedAt = time.Now().UTC()
	*r = next
	p.UpdatedAt = next.UpdatedAt
	return next, nil
}

func (p *Progress) MarkSucceeded(path, checkpointID string) (FileRecord, error) {
	return p.update(path, func(r *FileRecord) error {
		r.Status = StatusSucceeded
		r.CheckpointID = checkpointID
		r.Error = ""
		r.SkipReason = ""
		return nil
	})
}

func (p *Progress) MarkFailed(path string, cause error) (FileRecord, error) {
	return p.update(path, func(r *FileRecord) error {
		r.Status = StatusFailed
		r.Error = "unknown error"
		if cause != nil {
			r.Error = cause.Error()
		}
		return nil
	})
}

// Skip is an operator acknowledgement that path will not be migrated. It
// requires a reason and is not allowed for files that already succeeded.
func (p *Progress) Skip(path, reason string) (FileRecord, error) {
	reason = strings.TrimSpace(reason)
	return p.update(path, func(r *FileRecord) error {
		if reason == "" {
			return domainerrors.New(domainerrors.CodeValidationError, "a skip reason is required")
		}
		if r.Status == StatusSucceeded {
			return domainerrors.Newf(domainerrors.CodeConflict, "file %q already succeeded; roll back instead", path)
		}
		r.Status = StatusSkipped
		r.SkipReason = reason
		return nil
	})
}

// Reset returns path to pending, dropping its checkpoint reference.
func (p *Progress) Reset(path string) (FileRecord, error) {
	return p.update(path, func(r *FileRecord) error {
		r.Status = StatusPending
		r.CheckpointID = ""
		r.Error = ""
		r.SkipReason = ""
		return nil
	})
}

// FilesFailed lists failed files in phase, or in every phase when phase
// is 0. Failures never change the run state by themselves.
func (p *Progress) FilesFailed(phase int) []string {
	var out []string
	for _, r := range p.Records(phase) {
		if r.Status == StatusFailed {
			out = append(out, r.Path)
		}
	}
	return out
}

type Counts struct {
	Total     int `json:"total" yaml:"total"`
	Pending   int `json:"pending" yaml:"pending"`
	Succeeded int `json:"succeeded" yaml:"succeeded"`
	Failed    int `json:"failed" yaml:"failed"`
	Skipped   int `json:"skipped" yaml:"skipped"`
}

func (p *Progress) Counts(phase int) Counts {
	var c Counts
	for _, r := range p.Records(phase) {
		c.Total++
		switch r.Status {
		case StatusPending:
			c.Pending++
		case StatusSucceeded:
			c.Succeeded++
		case StatusFailed:
			c.Failed++
		case StatusSkipped:
			c.Skipped++
		}
	}
	return c
}

// CanAdvance requires every file of phase to have succeeded or been
// skipped.
func (p *Progress) CanAdvance(phase int) error {
	var open []string
	for _, r := range p.Records(phase) {
		if r.Status != StatusSucceeded && r.Status != StatusSkipped {
			open = append(open, fmt.Sprintf("%s (%s)", r.Path, r.Status))
		}
	}
	if len(open) == 0 {
		return nil
	}
	err := domainerrors.Newf(domainerrors.CodeBlocked, "phase %d has %d unresolved file(s): %s", phase, len(open), strings.Join(open, ", "))
	return domainerrors.AddContext(err, domainerrors.CtxPhase, phase)
}

type PhaseReport struct {
	Number int `json:"number" yaml:"number"`
	Counts `json:",inline" yaml:",inline"`
}

// Report is a standalone view of a run, valid at any point.
type Report struct {
	Project     string        `json:"project" yaml:"project"`
	RunID       string        `json:"run_id" yaml:"run_id"`
	PlanID      string        `json:"plan_id,omitempty" yaml:"plan_id,omitempty"`
	State       string        `json:"state" yaml:"state"`
	Phases      []PhaseReport `json:"phases" yaml:"phases"`
	FilesFailed []string      `json:"files_failed" yaml:"files_failed"`
	Skipped     []FileRecord  `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	UpdatedAt   time.Time     `json:"updated_at" yaml:"updated_at"`
}

func (p *Progress) Report() Report {
	r := Report{
		Project:     p.Project,
		RunID:       p.RunID,
		State:       p.State.String(),
		FilesFailed: p.FilesFailed(0),
		UpdatedAt:   p.UpdatedAt,
	}
	if p.Plan != nil {
		r.PlanID = p.Plan.ID
	}
	if r.FilesFailed == nil {
		r.FilesFailed = []string{}
	}
	for n := 1; n <= planner.PhaseCount; n++ {
		r.Phases = append(r.Phases, PhaseReport{Number: n, Counts: p.Counts(n)})
	}
	for _, rec := range p.Records(0) {
		if rec.Status == StatusSkipped {
			r.Skipped = append(r.Skipped, rec)
		}
	}
	return r
}
