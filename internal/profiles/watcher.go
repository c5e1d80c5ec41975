package profiles

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

const defaultWatchDebounce = 500 * time.Millisecond

// Watcher reloads a Registry when its profiles file changes on disk
type Watcher struct {
	path     string
	registry *Registry
	logger   *logrus.Entry
	debounce time.Duration
	onReload func(count int)

	mu      sync.Mutex
	timer   *time.Timer
	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	once    sync.Once
}

// NewWatcher creates a watcher for path feeding registry
func NewWatcher(path string, registry *Registry, logger *logrus.Entry) (*Watcher, error) {
	if registry == nil {
		return nil, fmt.Errorf("profiles registry required")
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Watcher{
		path:     filepath.Clean(path),
		registry: registry,
		logger:   logger.WithField("component", "profiles-watcher"),
		debounce: defaultWatchDebounce,
		stopCh:   make(chan struct{}),
	}, nil
}

// OnReload registers a callback invoked after each successful reload
func (w *Watcher) OnReload(fn func(count int)) {
	w.mu.Lock()
	w.onReload = fn
	w.mu.Unlock()
}

// Start watches the directory of the profiles file. Editors usually replace
// files instead of writing them in place, so the file itself is not watched.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		_ = fsw.Close()
		return err
	}

	w.mu.Lock()
	w.watcher = fsw
	w.mu.Unlock()

	go w.loop(fsw)
	go func() {
		select {
		case <-ctx.Done():
			w.Stop()
		case <-w.stopCh:
		}
	}()
	w.logger.Infof("Watching %s for profile changes", w.path)
	return nil
}

// Stop ends the watch loop
func (w *Watcher) Stop() {
	w.once.Do(func() {
		close(w.stopCh)
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		if w.watcher != nil {
			_ = w.watcher.Close()
		}
		w.mu.Unlock()
	})
}

func (w *Watcher) loop(fsw *fsnotify.Watcher) {
	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.schedule()
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warnf("Profiles watcher error: %v", err)
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

// reload keeps the previous registry when the new file does not parse
func (w *Watcher) reload() {
	profiles, err := ReadFile(w.path)
	if err != nil {
		w.logger.Errorf("Keeping previous profiles, reload failed: %v", err)
		return
	}
	w.registry.Reload(profiles)
	w.logger.Infof("Reloaded %d profiles", len(profiles))

	w.mu.Lock()
	cb := w.onReload
	w.mu.Unlock()
	if cb != nil {
		cb(len(profiles))
	}
}
