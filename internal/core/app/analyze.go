package app

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/attribute"

	domainerrors "nsmigrate/internal/core/errors"
	"nsmigrate/internal/core/ports"
	"nsmigrate/internal/engine/classify"
	"nsmigrate/internal/engine/graph"
	"nsmigrate/internal/engine/planner"
	"nsmigrate/internal/shared/observability"
)

// Analyze scans the project, builds its dependency graph and classifies
// every artifact. Unparseable inputs become warnings; only an unreadable
// root or cancellation is an error.
func (a *App) Analyze(ctx context.Context, projectPath string) (*ports.AnalysisResult, error) {
	ctx, span := observability.Tracer.Start(ctx, "app.Analyze")
	defer span.End()
	defer observe("analyze", time.Now())

	project, err := resolveProject(projectPath)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("project", project))

	s, err := a.scanner()
	if err != nil {
		return nil, err
	}
	table := a.kb.Get()
	scan, err := s.Scan(ctx, project, table)
	if err != nil {
		return nil, domainerrors.AddContext(err, domainerrors.CtxOperation, "scan")
	}

	b := graph.NewBuilder(filepath.Base(project))
	b.AddFiles(scan.Manifests)
	g := b.Build()
	report := classify.ClassifyGraph(g, table)

	res := &ports.AnalysisResult{
		Project:       project,
		AnalyzedAt:    time.Now().UTC(),
		KnowledgeBase: table.Source(),
		Graph:         g,
		Report:        report,
		Usages:        scan.Usages,
		References:    scan.References,
		Unresolved:    scan.Unresolved,
		Warnings:      []string{},
	}
	if len(scan.Manifests) == 0 {
		res.Warnings = append(res.Warnings, "no build manifests found")
	}
	for _, fe := range g.Errors() {
		res.Warnings = append(res.Warnings, fe.String())
	}
	for _, w := range scan.Warnings {
		res.Warnings = append(res.Warnings, fmt.Sprintf("%s: %s", w.Path, w.Message))
	}

	span.SetAttributes(
		attribute.Int("artifacts", report.Summary.Total),
		attribute.Int("blockers", len(report.Blockers)),
		attribute.Int("usages", len(scan.Usages)),
	)
	slog.Info("analysis complete",
		"project", project,
		"state", report.Summary.State,
		"artifacts", report.Summary.Total,
		"blockers", len(report.Blockers),
		"files_with_usage", len(scan.Usages),
		"warnings", len(res.Warnings),
	)
	return res, nil
}

// Plan turns an analysis into a phased plan. A nil analysis is computed on
// the spot.
func (a *App) Plan(ctx context.Context, projectPath string, analysis *ports.AnalysisResult) (*planner.Plan, error) {
	ctx, span := observability.Tracer.Start(ctx, "app.Plan")
	defer span.End()
	defer observe("plan", time.Now())

	analysis, err := a.ensureAnalysis(ctx, projectPath, analysis)
	if err != nil {
		return nil, err
	}
	plan, err := a.planner().Build(analysis.PlannerInput())
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeValidationError, "build plan")
	}
	span.SetAttributes(attribute.String("plan", plan.ID), attribute.Int("files", plan.FileCount()))
	return plan, nil
}

// Replan folds verifier findings into the analysis and rebuilds the plan.
func (a *App) Replan(ctx context.Context, projectPath string, analysis *ports.AnalysisResult, findings []classify.Blocker) (*planner.Plan, error) {
	ctx, span := observability.Tracer.Start(ctx, "app.Replan")
	defer span.End()
	defer observe("replan", time.Now())

	analysis, err := a.ensureAnalysis(ctx, projectPath, analysis)
	if err != nil {
		return nil, err
	}
	plan, err := a.planner().Replan(analysis.PlannerInput(), findings)
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeValidationError, "rebuild plan")
	}
	return plan, nil
}

func (a *App) ensureAnalysis(ctx context.Context, projectPath string, analysis *ports.AnalysisResult) (*ports.AnalysisResult, error) {
	project, err := resolveProject(projectPath)
	if err != nil {
		return nil, err
	}
	if analysis == nil {
		return a.Analyze(ctx, project)
	}
	if analysis.Graph == nil {
		return nil, domainerrors.New(domainerrors.CodeValidationError, "analysis result has no graph")
	}
	if analysis.Project != "" && filepath.Clean(analysis.Project) != project {
		return nil, domainerrors.AddContext(
			domainerrors.Newf(domainerrors.CodeConflict, "analysis belongs to %s", analysis.Project),
			domainerrors.CtxPath, project)
	}
	return analysis, nil
}
