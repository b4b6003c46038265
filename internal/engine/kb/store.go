package kb

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"nsmigrate/internal/shared/observability"
)

// Store holds the active table and swaps it on reload. Readers always see a
// complete table.
type Store struct {
	path    string
	current atomic.Pointer[KnowledgeBase]

	mu       sync.Mutex
	onReload []func(*KnowledgeBase)
}

// NewStore loads path (or the embedded default when empty).
func NewStore(path string) (*Store, error) {
	kb, err := LoadOrDefault(path)
	if err != nil {
		return nil, err
	}
	s := &Store{path: path}
	s.current.Store(kb)
	return s, nil
}

// StaticStore wraps an already loaded table; Reload is a no-op.
func StaticStore(kb *KnowledgeBase) *Store {
	s := &Store{}
	s.current.Store(kb)
	return s
}

func (s *Store) Get() *KnowledgeBase {
	return s.current.Load()
}

// OnReload registers fn to run after every successful reload.
func (s *Store) OnReload(fn func(*KnowledgeBase)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onReload = append(s.onReload, fn)
}

// Reload re-reads the table. On error the previous table stays active.
func (s *Store) Reload() error {
	if s.path == "" {
		return nil
	}
	kb, err := Load(s.path)
	if err != nil {
		return err
	}
	s.current.Store(kb)
	slog.Info("knowledge base reloaded", "path", s.path, "entries", len(kb.Entries), "families", len(kb.Families))

	s.mu.Lock()
	hooks := append([]func(*KnowledgeBase){}, s.onReload...)
	s.mu.Unlock()
	for _, fn := range hooks {
		fn(kb)
	}
	return nil
}

// Watch reloads the table whenever its file changes, until ctx is done.
// Editors that replace the file by rename are handled by watching the
// directory.
func (s *Store) Watch(ctx context.Context, debounce time.Duration) error {
	if s.path == "" {
		<-ctx.Done()
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	target := filepath.Clean(s.path)
	if err := fsw.Add(filepath.Dir(target)); err != nil {
		return err
	}

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			observability.WatcherEventsTotal.Inc()
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			timerMu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				if err := s.Reload(); err != nil {
					slog.Warn("knowledge base reload failed; keeping previous table", "path", s.path, "error", err)
				}
			})
			timerMu.Unlock()
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			slog.Error("knowledge base watcher error", "error", err)
		}
	}
}
