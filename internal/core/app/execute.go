package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	domainerrors "nsmigrate/internal/core/errors"
	"nsmigrate/internal/core/ports"
	"nsmigrate/internal/engine/planner"
	"nsmigrate/internal/engine/tracker"
	"nsmigrate/internal/shared/observability"
	"nsmigrate/internal/shared/util"
)

// Execute applies the plan phase by phase. A project with a run in progress
// resumes it with the plan it started with; a fresh run given no plan
// analyzes and plans the project first. Per-file failures are recorded
// and stop the run at that phase's barrier; only store corruption or an
// unreadable root fails the run.
func (a *App) Execute(ctx context.Context, projectPath string, plan *planner.Plan, phases ports.PhaseRange) (*ports.ExecutionResult, error) {
	ctx, span := observability.Tracer.Start(ctx, "app.Execute")
	defer span.End()
	defer observe("execute", time.Now())

	project, err := resolveProject(projectPath)
	if err != nil {
		return nil, err
	}
	if a.rewriter == nil {
		return nil, domainerrors.New(domainerrors.CodeValidationError, "no rewriter configured; set execute.rewrite_command")
	}
	phases = phases.Normalize()
	if phases.From > phases.To {
		return nil, domainerrors.Newf(domainerrors.CodeValidationError, "invalid phase range %d..%d", phases.From, phases.To)
	}

	res := &ports.ExecutionResult{Files: []ports.FileResult{}}
	err = a.withTracker(ctx, project, func(sctx context.Context, t *tracker.Tracker) error {
		res.Resumed = t.State().Running()
		if plan == nil && !res.Resumed {
			built, err := a.Plan(ctx, project, nil)
			if err != nil {
				return err
			}
			plan = built
		}
		active, err := t.Begin(sctx, plan)
		if err != nil {
			return statusError(err, "begin")
		}
		snap := t.Snapshot()
		res.RunID, res.PlanID = snap.RunID, active.ID
		span.SetAttributes(attribute.String("run", res.RunID), attribute.Bool("resumed", res.Resumed))

		throttle := util.NewThrottle(a.Config.Execute.RewriteRate, a.Config.Execute.RewriteBurst)
		for n := phases.From; n <= phases.To; n++ {
			done := t.State().CompletedPhases()
			if done >= n {
				continue
			}
			if n > done+1 {
				return domainerrors.AddContext(
					domainerrors.Newf(domainerrors.CodeConflict, "phase %d cannot start before phase %d is complete", n, done+1),
					domainerrors.CtxPhase, n)
			}
			if err := ctx.Err(); err != nil {
				res.StoppedAt = n
				res.Reason = "cancelled before phase " + phaseLabel(n)
				slog.Info("execution cancelled between phases", "run", res.RunID, "next_phase", n)
				break
			}

			phase, ok := active.Phase(n)
			if !ok {
				phase = planner.Phase{Number: n}
			}
			if err := t.StartPhase(sctx, n); err != nil {
				return statusError(err, "start_phase")
			}

			started := time.Now()
			files, err := a.runPhase(ctx, t, project, phase, throttle)
			res.Files = append(res.Files, files...)
			observability.PhaseDuration.WithLabelValues(phaseLabel(n)).Observe(time.Since(started).Seconds())
			if err != nil {
				return a.failRun(sctx, t, err)
			}

			if err := t.CompletePhase(sctx, n); err != nil {
				if domainerrors.IsCode(err, domainerrors.CodeBlocked) {
					res.StoppedAt = n
					res.Reason = err.Error()
					slog.Warn("phase blocked", "run", res.RunID, "phase", n, "failed", t.Snapshot().FilesFailed(n))
					break
				}
				if domainerrors.IsFatal(err) {
					return a.failRun(sctx, t, err)
				}
				return statusError(err, "complete_phase")
			}
			slog.Info("phase complete", "run", res.RunID, "phase", n, "files", len(phase.Files), "duration", time.Since(started), "throttled", throttle.Waited())
		}
		res.Progress = t.Snapshot().Report()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// failRun moves the run to failed and returns the cause. ctx must not be
// cancellable.
func (a *App) failRun(ctx context.Context, t *tracker.Tracker, cause error) error {
	if !domainerrors.IsFatal(cause) {
		return cause
	}
	if err := t.Fail(ctx, cause); err != nil {
		slog.Error("could not record run failure", "error", err)
	}
	return cause
}

// runPhase transforms every pending or failed file of phase, batch by
// batch. Files inside a batch run in parallel; each file runs to completion
// even when ctx is cancelled. The returned error is fatal for the run.
func (a *App) runPhase(ctx context.Context, t *tracker.Tracker, project string, phase planner.Phase, throttle *util.Throttle) ([]ports.FileResult, error) {
	ctx, span := observability.Tracer.Start(ctx, "app.runPhase")
	defer span.End()
	span.SetAttributes(attribute.Int("phase", phase.Number), attribute.Int("files", len(phase.Files)))

	snap := t.Snapshot()
	workers := a.Config.Execute.Workers
	if workers <= 0 {
		workers = 1
	}

	var out []ports.FileResult
	for _, batch := range batchesOf(phase) {
		results := make([]ports.FileResult, len(batch.Files))
		var fatal atomic.Bool

		g := new(errgroup.Group)
		g.SetLimit(workers)
		for i, path := range batch.Files {
			if rec, ok := snap.Record(path); ok && (rec.Status == tracker.StatusSucceeded || rec.Status == tracker.StatusSkipped) {
				results[i] = ports.FileResult{Path: path, Phase: phase.Number, Status: rec.Status, Checkpoint: rec.CheckpointID}
				continue
			}
			fa, _ := phase.File(path)
			g.Go(func() error {
				if fatal.Load() {
					results[i] = ports.FileResult{Path: path, Phase: phase.Number, Status: tracker.StatusPending}
					return nil
				}
				r, err := a.transform(context.WithoutCancel(ctx), t, project, phase.Number, fa, throttle)
				results[i] = r
				if err != nil {
					fatal.Store(true)
				}
				return err
			})
		}
		err := g.Wait()
		out = append(out, results...)
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

// batchesOf falls back to one batch when a plan carries none.
func batchesOf(phase planner.Phase) []planner.Batch {
	if len(phase.Batches) > 0 || len(phase.Files) == 0 {
		return phase.Batches
	}
	return []planner.Batch{{Files: phase.Paths()}}
}

// transform checkpoints and rewrites one file. A failed rewrite restores the
// checkpoint so the file is left untouched. Only store errors are returned.
func (a *App) transform(ctx context.Context, t *tracker.Tracker, project string, phase int, fa planner.FileAction, throttle *util.Throttle) (ports.FileResult, error) {
	started := time.Now()
	res := ports.FileResult{Path: fa.Path, Phase: phase}
	fail := func(cause error) (ports.FileResult, error) {
		res.Status = tracker.StatusFailed
		res.Error = cause.Error()
		res.Duration = time.Since(started)
		observability.FilesTransformedTotal.WithLabelValues(phaseLabel(phase), "failed").Inc()
		slog.Warn("file transformation failed", "path", fa.Path, "phase", phase, "error", cause)
		if err := t.RecordFailure(ctx, fa.Path, cause); err != nil {
			return res, err
		}
		return res, nil
	}

	waited, err := throttle.Acquire(ctx)
	if err != nil {
		return fail(err)
	}
	if waited > 0 {
		slog.Debug("rewrite throttled", "path", fa.Path, "waited", waited)
	}

	cp, err := t.Checkpoint(ctx, fa.Path, phase)
	if err != nil {
		if domainerrors.IsFatal(err) {
			return res, err
		}
		return fail(fmt.Errorf("checkpoint: %w", err))
	}
	res.Checkpoint = cp.ID

	req := ports.RewriteRequest{Root: project, Path: fa.Path, Phase: phase, Kind: fa.Kind, Actions: fa.Actions}
	if err := a.rewriter.Rewrite(ctx, req); err != nil {
		if rerr := t.Restore(ctx, cp); rerr != nil {
			if domainerrors.IsFatal(rerr) {
				return res, rerr
			}
			slog.Error("restoring file after failed rewrite", "path", fa.Path, "error", rerr)
		}
		return fail(err)
	}

	if err := t.RecordSuccess(ctx, fa.Path, cp.ID); err != nil {
		return res, err
	}
	res.Status = tracker.StatusSucceeded
	res.Duration = time.Since(started)
	observability.FilesTransformedTotal.WithLabelValues(phaseLabel(phase), "succeeded").Inc()
	return res, nil
}
