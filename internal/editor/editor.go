// Package editor turns a text file into a live editing surface: saves are
// fed to a session as keystroke-level edits, and stopping the watcher
// commits the last saved text the way losing focus does in a browser.
package editor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Target receives edits. *flow.Flow implements it.
type Target interface {
	HandleTextChange(text string)
	Commit(text string) ([]string, error)
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// Watcher follows one file.
type Watcher struct {
	path    string
	target  Target
	watcher *fsnotify.Watcher
	logger  *slog.Logger

	mu      sync.Mutex
	last    string
	read    bool
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New creates a watcher for path feeding target.
func New(path string, target Target, opts ...Option) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve path: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	w := &Watcher{
		path:    abs,
		target:  target,
		watcher: fw,
		logger:  slog.Default(),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start begins watching. It returns immediately; events are handled on a
// background goroutine until ctx is done or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	// Editors often save by renaming a temp file over the target, which
	// drops a watch on the file itself. Watch the directory instead.
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", w.path, err)
	}
	if text, err := os.ReadFile(w.path); err == nil {
		w.last, w.read = string(text), true
	}
	w.running = true
	go w.run(ctx)
	w.logger.Info("watching file", "path", w.path)
	return nil
}

// Stop ends the watch and commits the last text read from the file.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return w.watcher.Close()
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	var errs []error
	if err := w.watcher.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close watcher: %w", err))
	}
	// Pick up a save that raced with shutdown.
	w.reload()

	w.mu.Lock()
	text, ok := w.last, w.read
	w.mu.Unlock()
	if ok {
		if _, err := w.target.Commit(text); err != nil {
			errs = append(errs, fmt.Errorf("commit edit: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)
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
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "path", w.path, "error", err)
		}
	}
}

// reload reads the file and forwards it when the content changed.
func (w *Watcher) reload() {
	data, err := os.ReadFile(w.path)
	if err != nil {
		// Mid-rename; the create event that follows will retry.
		w.logger.Debug("read watched file", "path", w.path, "error", err)
		return
	}
	text := string(data)

	w.mu.Lock()
	if w.read && text == w.last {
		w.mu.Unlock()
		return
	}
	w.last, w.read = text, true
	w.mu.Unlock()

	w.logger.Debug("file changed", "path", w.path, "bytes", len(data))
	w.target.HandleTextChange(text)
}

// Path returns the absolute path being watched.
func (w *Watcher) Path() string { return w.path }
