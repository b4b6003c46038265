// Package app wires the engine packages into the migration operations.
package app

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"nsmigrate/internal/core/config"
	domainerrors "nsmigrate/internal/core/errors"
	"nsmigrate/internal/core/ports"
	"nsmigrate/internal/data/checkpoint"
	"nsmigrate/internal/engine/kb"
	"nsmigrate/internal/engine/planner"
	"nsmigrate/internal/engine/scanner"
	"nsmigrate/internal/engine/tracker"
	"nsmigrate/internal/engine/verifier"
	"nsmigrate/internal/shared/observability"
)

// StoreOpener opens the progress store of one project.
type StoreOpener func(projectPath string) (ports.CheckpointStore, error)

// Dependencies overrides the collaborators New would build from config.
type Dependencies struct {
	KnowledgeBase *kb.Store
	Rewriter      ports.Rewriter
	OpenStore     StoreOpener
}

// App implements ports.MigrationService. Operations on one project are
// serialized; different projects may run concurrently.
type App struct {
	Config *config.Config

	paths    config.ResolvedPaths
	kb       *kb.Store
	rewriter ports.Rewriter
	open     StoreOpener

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

var _ ports.MigrationService = (*App)(nil)

func New(cfg *config.Config) (*App, error) {
	return NewWithDependencies(cfg, Dependencies{})
}

func NewWithDependencies(cfg *config.Config, deps Dependencies) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	paths, err := config.ResolvePaths(cfg, cwd)
	if err != nil {
		return nil, err
	}

	store := deps.KnowledgeBase
	if store == nil {
		if paths.KnowledgeBasePath != "" {
			store, err = kb.NewStore(paths.KnowledgeBasePath)
		} else {
			var table *kb.KnowledgeBase
			table, err = kb.Default()
			store = kb.StaticStore(table)
		}
		if err != nil {
			return nil, domainerrors.AddContext(err, domainerrors.CtxOperation, "load_knowledge_base")
		}
	}

	rewriter := deps.Rewriter
	if rewriter == nil && len(cfg.Execute.RewriteCommand) > 0 {
		rewriter = NewCommandRewriter(cfg.Execute)
	}

	a := &App{
		Config:   cfg,
		paths:    paths,
		kb:       store,
		rewriter: rewriter,
		open:     deps.OpenStore,
		locks:    make(map[string]*sync.Mutex),
	}
	if a.open == nil {
		a.open = a.openSQLite
	}
	return a, nil
}

// KnowledgeBase returns the store backing classification, for hot reload.
func (a *App) KnowledgeBase() *kb.Store {
	return a.kb
}

func (a *App) Paths() config.ResolvedPaths {
	return a.paths
}

func (a *App) openSQLite(projectPath string) (ports.CheckpointStore, error) {
	dbPath, err := a.paths.ProgressDBPath(projectPath)
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeValidationError, "derive progress store path")
	}
	return checkpoint.Open(dbPath, a.Config.DB.BusyTimeout)
}

func (a *App) projectLock(project string) func() {
	a.locksMu.Lock()
	mu, ok := a.locks[project]
	if !ok {
		mu = &sync.Mutex{}
		a.locks[project] = mu
	}
	a.locksMu.Unlock()
	mu.Lock()
	return mu.Unlock
}

// resolveProject returns the absolute project root. An unreadable root is
// fatal for every operation.
func resolveProject(projectPath string) (string, error) {
	if strings.TrimSpace(projectPath) == "" {
		return "", domainerrors.New(domainerrors.CodeValidationError, "project path is required")
	}
	abs, err := filepath.Abs(projectPath)
	if err != nil {
		return "", domainerrors.Wrap(err, domainerrors.CodeValidationError, "resolve project path")
	}
	info, err := os.Stat(abs)
	switch {
	case os.IsNotExist(err):
		return "", domainerrors.AddContext(domainerrors.New(domainerrors.CodeNotFound, "project root does not exist"), domainerrors.CtxPath, abs)
	case os.IsPermission(err):
		return "", domainerrors.AddContext(domainerrors.Wrap(err, domainerrors.CodePermissionDenied, "project root is unreadable"), domainerrors.CtxPath, abs)
	case err != nil:
		return "", domainerrors.AddContext(domainerrors.Wrap(err, domainerrors.CodeInternal, "stat project root"), domainerrors.CtxPath, abs)
	case !info.IsDir():
		return "", domainerrors.AddContext(domainerrors.New(domainerrors.CodeValidationError, "project path is not a directory"), domainerrors.CtxPath, abs)
	}
	if _, err := os.ReadDir(abs); err != nil {
		return "", domainerrors.AddContext(domainerrors.Wrap(err, domainerrors.CodePermissionDenied, "project root is unreadable"), domainerrors.CtxPath, abs)
	}
	return abs, nil
}

// withTracker opens the project's store and tracker for the duration of fn.
// fn receives a context detached from cancellation for store bookkeeping;
// cancelling mid-write must never look like a corrupt store.
func (a *App) withTracker(ctx context.Context, project string, fn func(sctx context.Context, t *tracker.Tracker) error) error {
	unlock := a.projectLock(project)
	defer unlock()

	store, err := a.open(project)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			slog.Warn("closing progress store failed", "project", project, "error", cerr)
		}
	}()

	sctx := context.WithoutCancel(ctx)
	t, err := tracker.Open(sctx, project, store)
	if err != nil {
		return err
	}
	return fn(sctx, t)
}

func (a *App) scanner() (*scanner.Scanner, error) {
	s, err := scanner.New(scanner.Options{
		ExcludeDirs:  a.Config.Scan.ExcludeDirs,
		ExcludeFiles: a.Config.Scan.ExcludeFiles,
		IncludeTests: a.Config.Scan.TestsIncluded(),
		Workers:      a.Config.Scan.Workers,
		MaxFileBytes: a.Config.Scan.MaxFileBytes,
	})
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeValidationError, "configure scanner")
	}
	return s, nil
}

func (a *App) planner() *planner.Builder {
	opts := planner.DefaultOptions()
	opts.HighRiskBlockerDensity = a.Config.Planner.HighRiskBlockerDensity
	opts.MediumRiskFiles = a.Config.Planner.MediumRiskFiles
	opts.HighRiskMaxBatch = a.Config.Planner.HighRiskMaxBatch
	return planner.New(opts)
}

func (a *App) verifier() *verifier.Verifier {
	return verifier.New(verifier.OptionsFromConfig(a.Config.Verify), a.kb.Get())
}

func observe(operation string, start time.Time) {
	elapsed := time.Since(start)
	observability.AnalysisDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
	slog.Debug("operation finished", "operation", operation, "duration", elapsed)
}

func phaseLabel(phase int) string {
	return strconv.Itoa(phase)
}

// statusError lifts tracker state-machine violations into conflicts.
func statusError(err error, op string) error {
	if err == nil {
		return nil
	}
	if domainerrors.CodeOf(err) == "" && errors.Is(err, tracker.ErrInvalidTransition) {
		err = domainerrors.Wrap(err, domainerrors.CodeConflict, "invalid state transition")
	}
	return domainerrors.Lift(err, domainerrors.CodeInternal, op)
}
