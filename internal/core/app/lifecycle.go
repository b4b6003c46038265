package app

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	domainerrors "nsmigrate/internal/core/errors"
	"nsmigrate/internal/core/ports"
	"nsmigrate/internal/engine/planner"
	"nsmigrate/internal/engine/tracker"
	"nsmigrate/internal/engine/verifier"
	"nsmigrate/internal/shared/observability"
)

// Verify runs the built artifact. When a project is given, failures are
// correlated with its plan and a passing run after the last phase marks the
// migration verified.
func (a *App) Verify(ctx context.Context, req ports.VerifyRequest) (*ports.VerificationResult, error) {
	ctx, span := observability.Tracer.Start(ctx, "app.Verify")
	defer span.End()
	defer observe("verify", time.Now())

	vc := verifier.Context{Classpath: req.Classpath, MainClass: req.MainClass, Args: req.Args}
	if strings.TrimSpace(req.Project) == "" {
		r, err := a.verifier().Verify(ctx, req.Artifact, vc)
		if err != nil {
			return nil, err
		}
		return &ports.VerificationResult{Result: r}, nil
	}

	project, err := resolveProject(req.Project)
	if err != nil {
		return nil, err
	}
	var out *ports.VerificationResult
	err = a.withTracker(ctx, project, func(sctx context.Context, t *tracker.Tracker) error {
		snap := t.Snapshot()
		vc.Plan = snap.Plan
		vc.Dir = project
		r, err := a.verifier().Verify(ctx, req.Artifact, vc)
		if err != nil {
			return err
		}
		st := t.State()
		if r.Passed() && st.Kind == tracker.KindPhaseComplete && st.Phase == planner.PhaseCount {
			if err := t.MarkVerified(sctx); err != nil {
				return statusError(err, "mark_verified")
			}
			slog.Info("migration verified", "project", project, "run", snap.RunID)
		}
		out = &ports.VerificationResult{Result: r, State: t.State().String()}
		return nil
	})
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("status", string(out.Status)))
	return out, nil
}

// Rollback restores every file of toPhase and later from its checkpoint.
func (a *App) Rollback(ctx context.Context, projectPath string, toPhase int) (tracker.RollbackResult, error) {
	ctx, span := observability.Tracer.Start(ctx, "app.Rollback")
	defer span.End()
	defer observe("rollback", time.Now())

	project, err := resolveProject(projectPath)
	if err != nil {
		return tracker.RollbackResult{}, err
	}
	if toPhase < 1 || toPhase > planner.PhaseCount {
		return tracker.RollbackResult{}, domainerrors.Newf(domainerrors.CodeValidationError, "phase must be between 1 and %d", planner.PhaseCount)
	}
	var res tracker.RollbackResult
	err = a.withTracker(ctx, project, func(sctx context.Context, t *tracker.Tracker) error {
		r, err := t.RollbackTo(sctx, toPhase)
		res = r
		if err != nil {
			if domainerrors.IsFatal(err) {
				return a.failRun(sctx, t, err)
			}
			return statusError(err, "rollback")
		}
		return nil
	})
	return res, err
}

// Skip acknowledges that a file stays as it is so its phase can advance.
func (a *App) Skip(ctx context.Context, projectPath, filePath, reason string) error {
	ctx, span := observability.Tracer.Start(ctx, "app.Skip")
	defer span.End()

	project, err := resolveProject(projectPath)
	if err != nil {
		return err
	}
	rel, err := relativeTo(project, filePath)
	if err != nil {
		return err
	}
	return a.withTracker(ctx, project, func(sctx context.Context, t *tracker.Tracker) error {
		if err := t.Skip(sctx, rel, reason); err != nil {
			return statusError(err, "skip")
		}
		slog.Info("file skipped", "project", project, "path", rel, "reason", reason)
		return nil
	})
}

// Status reports the run state and per-phase file counts.
func (a *App) Status(ctx context.Context, projectPath string) (tracker.Report, error) {
	ctx, span := observability.Tracer.Start(ctx, "app.Status")
	defer span.End()

	project, err := resolveProject(projectPath)
	if err != nil {
		return tracker.Report{}, err
	}
	var rep tracker.Report
	err = a.withTracker(ctx, project, func(sctx context.Context, t *tracker.Tracker) error {
		rep = t.Snapshot().Report()
		return nil
	})
	return rep, err
}

// Complete closes a verified run and discards its checkpoints.
func (a *App) Complete(ctx context.Context, projectPath string) error {
	ctx, span := observability.Tracer.Start(ctx, "app.Complete")
	defer span.End()

	project, err := resolveProject(projectPath)
	if err != nil {
		return err
	}
	return a.withTracker(ctx, project, func(sctx context.Context, t *tracker.Tracker) error {
		if err := t.Complete(sctx); err != nil {
			return statusError(err, "complete")
		}
		slog.Info("migration complete", "project", project)
		return nil
	})
}

func relativeTo(project, path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", domainerrors.New(domainerrors.CodeValidationError, "file path is required")
	}
	if !filepath.IsAbs(path) {
		return filepath.ToSlash(filepath.Clean(path)), nil
	}
	rel, err := filepath.Rel(project, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", domainerrors.AddContext(domainerrors.New(domainerrors.CodeValidationError, "file is outside the project"), domainerrors.CtxPath, path)
	}
	return filepath.ToSlash(rel), nil
}
