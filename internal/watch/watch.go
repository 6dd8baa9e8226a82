package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const DefaultDebounce = 250 * time.Millisecond

// Watcher nudges the poller when the transcript file changes. It watches
// the parent directory so writes to sidecar files (chat.db-wal) count.
type Watcher struct {
	path     string
	prefix   string
	debounce time.Duration
	trigger  func()
	logger   *zap.Logger
	watcher  *fsnotify.Watcher

	closeOnce sync.Once
	closeErr  error
}

func New(path string, debounce time.Duration, trigger func(), logger *zap.Logger) (*Watcher, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("watch path is required")
	}
	if trigger == nil {
		return nil, fmt.Errorf("trigger is required")
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fs watcher: %w", err)
	}
	dir := filepath.Dir(path)
	if err := fw.Add(dir); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	return &Watcher{
		path:     path,
		prefix:   filepath.Base(path),
		debounce: debounce,
		trigger:  trigger,
		logger:   logger.With(zap.String("watch_path", path)),
		watcher:  fw,
	}, nil
}

// Close releases the underlying watcher. It is safe to call more than once
// and concurrently with Run, which then returns.
func (w *Watcher) Close() error {
	w.closeOnce.Do(func() {
		w.closeErr = w.watcher.Close()
	})
	return w.closeErr
}

// Run delivers debounced triggers until ctx is done or the watcher is
// closed, then closes it.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.Close()

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()
	pending := false

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			if !pending {
				pending = true
				timer.Reset(w.debounce)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("fs watcher error", zap.Error(err))
		case <-timer.C:
			pending = false
			w.logger.Debug("transcript changed")
			w.trigger()
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
		return false
	}
	return strings.HasPrefix(filepath.Base(event.Name), w.prefix)
}
