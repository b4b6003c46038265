package ports

import (
	"context"
	"time"

	"nsmigrate/internal/engine/classify"
	"nsmigrate/internal/engine/graph"
	"nsmigrate/internal/engine/planner"
	"nsmigrate/internal/engine/scanner"
	"nsmigrate/internal/engine/tracker"
	"nsmigrate/internal/engine/verifier"
)

// RewriteRequest describes one file transformation.
type RewriteRequest struct {
	Root    string           `json:"root"`
	Path    string           `json:"path"`
	Phase   int              `json:"phase"`
	Kind    scanner.FileKind `json:"kind"`
	Actions []planner.Action `json:"actions"`
}

// Rewriter applies the planned edits to one file in place. It is the
// external rewrite capability; the engine only schedules and checkpoints.
type Rewriter interface {
	Rewrite(ctx context.Context, req RewriteRequest) error
}

// RewriterFunc adapts a function to Rewriter.
type RewriterFunc func(ctx context.Context, req RewriteRequest) error

func (f RewriterFunc) Rewrite(ctx context.Context, req RewriteRequest) error {
	return f(ctx, req)
}

// CheckpointStore is a tracker store that owns a resource.
type CheckpointStore interface {
	tracker.Store
	Close() error
}

// AnalysisResult is the standalone output of analyze.
type AnalysisResult struct {
	Project       string              `json:"project" yaml:"project"`
	AnalyzedAt    time.Time           `json:"analyzed_at" yaml:"analyzed_at"`
	KnowledgeBase string              `json:"knowledge_base" yaml:"knowledge_base"`
	Graph         *graph.Graph        `json:"graph" yaml:"graph"`
	Report        classify.Report     `json:"report" yaml:"report"`
	Usages        []scanner.FileUsage `json:"usages" yaml:"usages"`
	References    map[string][]string `json:"references" yaml:"references"`
	Unresolved    []string            `json:"unresolved,omitempty" yaml:"unresolved,omitempty"`
	Warnings      []string            `json:"warnings" yaml:"warnings"`
}

func (r *AnalysisResult) PlannerInput() planner.Input {
	return planner.Input{
		Root:       r.Project,
		Graph:      r.Graph,
		Report:     r.Report,
		Usages:     r.Usages,
		References: r.References,
		Unresolved: r.Unresolved,
	}
}

// PhaseRange bounds an execute call. The zero value means every phase.
type PhaseRange struct {
	From int `json:"from" yaml:"from"`
	To   int `json:"to" yaml:"to"`
}

func (r PhaseRange) Normalize() PhaseRange {
	if r.From <= 0 {
		r.From = 1
	}
	if r.To <= 0 || r.To > planner.PhaseCount {
		r.To = planner.PhaseCount
	}
	return r
}

type FileResult struct {
	Path       string             `json:"path" yaml:"path"`
	Phase      int                `json:"phase" yaml:"phase"`
	Status     tracker.FileStatus `json:"status" yaml:"status"`
	Checkpoint string             `json:"checkpoint,omitempty" yaml:"checkpoint,omitempty"`
	Error      string             `json:"error,omitempty" yaml:"error,omitempty"`
	Duration   time.Duration      `json:"duration" yaml:"duration"`
}

// ExecutionResult is the standalone output of execute. StoppedAt names the
// phase that could not advance, or 0.
type ExecutionResult struct {
	RunID     string         `json:"run_id" yaml:"run_id"`
	PlanID    string         `json:"plan_id" yaml:"plan_id"`
	Resumed   bool           `json:"resumed" yaml:"resumed"`
	Files     []FileResult   `json:"files" yaml:"files"`
	StoppedAt int            `json:"stopped_at,omitempty" yaml:"stopped_at,omitempty"`
	Reason    string         `json:"reason,omitempty" yaml:"reason,omitempty"`
	Progress  tracker.Report `json:"progress" yaml:"progress"`
}

type VerifyRequest struct {
	Project   string   `json:"project" yaml:"project"`
	Artifact  string   `json:"artifact" yaml:"artifact"`
	Classpath []string `json:"classpath,omitempty" yaml:"classpath,omitempty"`
	MainClass string   `json:"main_class,omitempty" yaml:"main_class,omitempty"`
	Args      []string `json:"args,omitempty" yaml:"args,omitempty"`
}

type VerificationResult struct {
	verifier.Result `yaml:",inline"`
	// State is the run state after verification, when a project was given.
	State string `json:"state,omitempty" yaml:"state,omitempty"`
}

// MigrationService is the driving port over the engine operations.
type MigrationService interface {
	Analyze(ctx context.Context, projectPath string) (*AnalysisResult, error)
	Plan(ctx context.Context, projectPath string, analysis *AnalysisResult) (*planner.Plan, error)
	Execute(ctx context.Context, projectPath string, plan *planner.Plan, phases PhaseRange) (*ExecutionResult, error)
	Verify(ctx context.Context, req VerifyRequest) (*VerificationResult, error)
	Rollback(ctx context.Context, projectPath string, toPhase int) (tracker.RollbackResult, error)
	Skip(ctx context.Context, projectPath, filePath, reason string) error
	Status(ctx context.Context, projectPath string) (tracker.Report, error)
	Complete(ctx context.Context, projectPath string) error
	Replan(ctx context.Context, projectPath string, analysis *AnalysisResult, findings []classify.Blocker) (*planner.Plan, error)
}

// WatchService re-runs analysis when project files change.
type WatchService interface {
	Watch(ctx context.Context, projectPath string, onUpdate func(*AnalysisResult, error)) error
}
