package app

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"

	"nsmigrate/internal/core/ports"
	"nsmigrate/internal/core/watcher"
	"nsmigrate/internal/engine/kb"
	"nsmigrate/internal/engine/scanner"
)

var _ ports.WatchService = (*App)(nil)

// Watch analyzes the project once, then again after every debounced batch
// of relevant changes, until ctx is done. A knowledge-base reload also
// triggers re-analysis.
func (a *App) Watch(ctx context.Context, projectPath string, onUpdate func(*ports.AnalysisResult, error)) error {
	project, err := resolveProject(projectPath)
	if err != nil {
		return err
	}

	var mu sync.Mutex
	reanalyze := func(reason string, paths []string) {
		mu.Lock()
		defer mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		slog.Debug("re-analyzing", "reason", reason, "changed", len(paths))
		res, err := a.Analyze(ctx, project)
		onUpdate(res, err)
	}

	w, err := watcher.NewWatcher(a.Config.Watch.Debounce, a.Config.Scan.ExcludeDirs, a.Config.Scan.ExcludeFiles, func(paths []string) {
		reanalyze("files changed", paths)
	})
	if err != nil {
		return err
	}
	defer w.Close()
	w.SetFilter(func(path string) bool {
		rel, err := filepath.Rel(project, path)
		if err != nil {
			return false
		}
		_, ok := scanner.KindOf(filepath.ToSlash(rel))
		return ok
	})

	if a.Config.KnowledgeBase.Watch && a.paths.KnowledgeBasePath != "" {
		a.kb.OnReload(func(*kb.KnowledgeBase) { reanalyze("knowledge base reloaded", nil) })
		go func() {
			if err := a.kb.Watch(ctx, a.Config.Watch.Debounce); err != nil && ctx.Err() == nil {
				slog.Warn("knowledge base watch stopped", "error", err)
			}
		}()
	}

	reanalyze("initial", nil)
	if err := w.Watch([]string{project}); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}
