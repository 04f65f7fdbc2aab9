package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"codeloom/internal/logging"
)

// Watcher watches config.json for edits and notifies the running app so
// theme and logging changes apply without a restart. Editors tend to fire
// several filesystem events per save, so changes are debounced.
type Watcher struct {
	watcher     *fsnotify.Watcher
	path        string
	onChange    func(Config)
	stopCh      chan struct{}
	doneCh      chan struct{}
	stopOnce    sync.Once
	debounceDur time.Duration

	mu      sync.Mutex
	pending bool
	lastEv  time.Time
}

// NewWatcher creates a watcher for the given config file path. onChange is
// called with the freshly loaded config after each settled change.
func NewWatcher(path string, onChange func(Config)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		watcher:     fw,
		path:        path,
		onChange:    onChange,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		debounceDur: 300 * time.Millisecond,
	}, nil
}

// Start begins watching. Watches the directory rather than the file so
// rename-based saves keep working.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}
	logging.Boot("config watcher: watching %s", w.path)
	go w.run(ctx)
	return nil
}

// Stop halts the watcher. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		<-w.doneCh
		if err := w.watcher.Close(); err != nil {
			logging.Get(logging.CategoryBoot).Error("config watcher: close: %v", err)
		}
	})
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryBoot).Error("config watcher: %v", err)

		case <-ticker.C:
			w.flushPending()
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != filepath.Clean(w.path) {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}

	w.mu.Lock()
	w.pending = true
	w.lastEv = time.Now()
	w.mu.Unlock()
}

func (w *Watcher) flushPending() {
	w.mu.Lock()
	if !w.pending || time.Since(w.lastEv) < w.debounceDur {
		w.mu.Unlock()
		return
	}
	w.pending = false
	w.mu.Unlock()

	cfg, err := LoadFrom(w.path)
	if err != nil {
		logging.Get(logging.CategoryBoot).Warn("config watcher: reload: %v", err)
		return
	}
	logging.Boot("config watcher: config reloaded")
	if w.onChange != nil {
		w.onChange(cfg)
	}
}
