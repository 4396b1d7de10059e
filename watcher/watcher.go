// Package watcher reports file system changes below the configured roots as
// debounced batches.
package watcher

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// IgnoreChecker is used by the watcher to check if a path should be ignored.
type IgnoreChecker interface {
	ShouldIgnoreDir(absolutePath string) bool
	ShouldIgnore(absolutePath string) bool
	IsIgnoreFile(absolutePath string) bool
}

// Options configures a Watcher.
type Options struct {
	Roots    []string
	Ignore   IgnoreChecker
	Debounce time.Duration // defaults to 100ms
	Logger   *slog.Logger
}

// Watcher provides recursive file system watching with debouncing.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	debouncer *Debouncer
	ignore    IgnoreChecker
	logger    *slog.Logger
}

// New creates a recursive watcher on every root. It registers all non-ignored
// subdirectories for watching.
func New(options Options) (*Watcher, error) {
	if len(options.Roots) == 0 {
		return nil, errors.New("watcher needs at least one root")
	}
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	debounce := options.Debounce
	if debounce <= 0 {
		debounce = 100 * time.Millisecond
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	w := &Watcher{
		fsWatcher: fsWatcher,
		debouncer: NewDebouncer(debounce),
		ignore:    options.Ignore,
		logger:    logger,
	}

	for _, root := range options.Roots {
		if err := w.addTree(root, true); err != nil {
			fsWatcher.Close()
			return nil, err
		}
	}
	return w, nil
}

// addTree watches dir and every non-ignored directory below it.
func (w *Watcher) addTree(dir string, isRoot bool) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if path == dir && isRoot {
				return err
			}
			return nil // Skip entries that can't be read
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && w.ignore.ShouldIgnoreDir(path) {
			return filepath.SkipDir
		}
		if watchErr := w.fsWatcher.Add(path); watchErr != nil {
			w.logger.Warn("failed to watch directory", "path", path, "error", watchErr)
		}
		return nil
	})
}

// Events returns the channel that receives debounced file system events.
func (w *Watcher) Events() <-chan []DebouncedEvent {
	return w.debouncer.Output()
}

// Run listens for file system events until ctx is done or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return w.Close()

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", "error", err)
		}
	}
}

// handleEvent processes a single fsnotify event, converting it to a debounced event.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	path := event.Name

	// New directories are watched and reported: files written into them before
	// the watch was added produce no events of their own.
	if event.Has(fsnotify.Create) {
		info, err := os.Stat(path)
		if err == nil && info.IsDir() {
			if w.ignore.ShouldIgnoreDir(path) {
				return
			}
			if err := w.addTree(path, false); err != nil {
				w.logger.Warn("failed to watch new directory", "path", path, "error", err)
			}
			w.debouncer.Add(path, OpCreate)
			return
		}
	}

	if w.ignore.ShouldIgnore(path) && !w.ignore.IsIgnoreFile(path) {
		return
	}

	var op EventOp
	switch {
	case event.Has(fsnotify.Create):
		op = OpCreate
	case event.Has(fsnotify.Write):
		op = OpWrite
	case event.Has(fsnotify.Remove):
		op = OpRemove
	case event.Has(fsnotify.Rename):
		op = OpRename
	default:
		return
	}

	w.debouncer.Add(path, op)
}

// Close stops the watcher and releases resources.
func (w *Watcher) Close() error {
	w.debouncer.Stop()
	return w.fsWatcher.Close()
}
