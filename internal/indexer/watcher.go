package indexer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher feeds filesystem changes into an Indexer. Write bursts for the
// same path are debounced so an editor's save storm indexes once.
type Watcher struct {
	ix       *Indexer
	fs       *fsnotify.Watcher
	debounce time.Duration
	logger   *zap.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewWatcher creates a Watcher. A non-positive debounce defaults to 500ms.
func NewWatcher(ix *Indexer, debounce time.Duration, logger *zap.Logger) (*Watcher, error) {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("indexer: create watcher: %w", err)
	}
	return &Watcher{
		ix:       ix,
		fs:       fs,
		debounce: debounce,
		logger:   logger.With(zap.String("component", "watcher")),
		timers:   make(map[string]*time.Timer),
	}, nil
}

// Add registers a directory for watching.
func (w *Watcher) Add(dir string) error {
	if err := w.fs.Add(dir); err != nil {
		return fmt.Errorf("indexer: watch %s: %w", dir, err)
	}
	return nil
}

// Run processes events until the context is cancelled or the underlying
// watcher closes.
func (w *Watcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handle(ctx, ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", zap.Error(err))
		}
	}
}

// Close stops the watcher and cancels pending debounce timers.
func (w *Watcher) Close() error {
	w.mu.Lock()
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
	w.mu.Unlock()
	return w.fs.Close()
}

func (w *Watcher) handle(ctx context.Context, ev fsnotify.Event) {
	switch {
	case ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename):
		w.cancelPending(ev.Name)
		if err := w.ix.RemoveFile(ev.Name); err != nil {
			w.logger.Warn("remove failed", zap.String("path", ev.Name), zap.Error(err))
		}
	case ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Write):
		w.schedule(ctx, ev.Name)
	}
}

// schedule arms (or re-arms) the per-path debounce timer.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		if _, err := w.ix.IndexFile(ctx, path); err != nil {
			w.logger.Warn("index failed", zap.String("path", path), zap.Error(err))
		}
	})
}

func (w *Watcher) cancelPending(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[path]; ok {
		t.Stop()
		delete(w.timers, path)
	}
}
