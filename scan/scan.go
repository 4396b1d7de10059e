// Package scan enumerates the indexable files under the configured roots.
package scan

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/lexandro/tokenindex-mcp/ignore"
	"github.com/lexandro/tokenindex-mcp/indexerr"
)

// FileRecord describes one candidate file. Identity is Path.
type FileRecord struct {
	Path    string // absolute
	Root    string // configured root containing Path
	Size    int64
	ModTime time.Time
}

// Result is one item of an enumeration. Exactly one of File and Err is set.
// Unknown is set alongside Err when a file or directory could not be read; the
// state of every path at or below it is undetermined for this pass.
type Result struct {
	File    *FileRecord
	Err     error
	Unknown string
}

// Options configures an Enumerator.
type Options struct {
	Roots          []string
	Rules          ignore.Rules
	FollowSymlinks bool
	Logger         *slog.Logger
}

// Enumerator walks the roots. Each Scan is an independent pass.
type Enumerator struct {
	roots          []string
	rules          ignore.Rules
	followSymlinks bool
	logger         *slog.Logger
}

// New creates an enumerator.
func New(options Options) *Enumerator {
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	roots := make([]string, 0, len(options.Roots))
	for _, root := range options.Roots {
		if abs, err := filepath.Abs(root); err == nil {
			root = abs
		}
		roots = append(roots, filepath.Clean(root))
	}
	return &Enumerator{
		roots:          roots,
		rules:          options.Rules,
		followSymlinks: options.FollowSymlinks,
		logger:         logger,
	}
}

// Roots returns the absolute roots.
func (e *Enumerator) Roots() []string {
	return e.roots
}

// Scan starts an enumeration and streams its results. The channel is closed when
// every root has been walked or ctx is cancelled.
func (e *Enumerator) Scan(ctx context.Context) <-chan Result {
	results := make(chan Result, 256)
	go func() {
		defer close(results)
		w := &walk{
			Enumerator: e,
			ctx:        ctx,
			out:        results,
			visited:    make(map[fileID]bool),
			seen:       make(map[string]bool),
		}
		for _, root := range e.roots {
			if err := w.root(root); err != nil {
				return
			}
		}
	}()
	return results
}

// Collect runs a full enumeration and gathers its results.
func (e *Enumerator) Collect(ctx context.Context) (*Listing, error) {
	listing := &Listing{}
	for result := range e.Scan(ctx) {
		switch {
		case result.File != nil:
			listing.Files = append(listing.Files, *result.File)
		case result.Err != nil:
			listing.Errors = append(listing.Errors, result.Err)
			if result.Unknown != "" {
				listing.Unknown = append(listing.Unknown, result.Unknown)
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return listing, err
	}
	return listing, nil
}

// Listing is the materialized outcome of one enumeration.
type Listing struct {
	Files   []FileRecord
	Errors  []error
	Unknown []string
}

// walk holds the state of one enumeration pass.
type walk struct {
	*Enumerator
	ctx     context.Context
	out     chan<- Result
	visited map[fileID]bool
	seen    map[string]bool
}

func (w *walk) send(r Result) error {
	select {
	case w.out <- r:
		return nil
	case <-w.ctx.Done():
		return w.ctx.Err()
	}
}

func (w *walk) root(root string) error {
	info, err := os.Stat(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			w.logger.Warn("root does not exist", "root", root)
			return nil
		}
		return w.send(Result{Err: &indexerr.IOAccessError{Path: root, Op: "stat", Err: err}, Unknown: root})
	}
	if !info.IsDir() {
		return w.send(Result{Err: &indexerr.IOAccessError{Path: root, Op: "stat", Err: errors.New("not a directory")}, Unknown: root})
	}
	return w.dir(root, root, info)
}

func (w *walk) dir(root, dir string, info fs.FileInfo) error {
	if id, ok := idOf(dir, info); ok {
		if w.visited[id] {
			w.logger.Debug("directory already visited", "path", dir)
			return nil
		}
		w.visited[id] = true
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		w.logger.Warn("cannot read directory", "path", dir, "error", err)
		if sendErr := w.send(Result{Err: &indexerr.IOAccessError{Path: dir, Op: "readdir", Err: err}, Unknown: dir}); sendErr != nil {
			return sendErr
		}
	}

	for _, entry := range entries {
		if err := w.ctx.Err(); err != nil {
			return err
		}
		if err := w.entry(root, filepath.Join(dir, entry.Name()), entry); err != nil {
			return err
		}
	}
	return nil
}

func (w *walk) entry(root, path string, entry fs.DirEntry) error {
	mode := entry.Type()
	isLink := mode&fs.ModeSymlink != 0
	if isLink && !w.followSymlinks {
		return nil
	}

	var (
		info fs.FileInfo
		err  error
	)
	if isLink {
		info, err = os.Stat(path)
	} else {
		info, err = entry.Info()
	}
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// dangling link or removed during the walk
			w.logger.Debug("entry vanished", "path", path, "error", err)
			return nil
		}
		return w.send(Result{Err: &indexerr.IOAccessError{Path: path, Op: "stat", Err: err}, Unknown: path})
	}

	if info.IsDir() {
		if w.rules.ShouldIgnoreDir(path) {
			return nil
		}
		return w.dir(root, path, info)
	}
	if !info.Mode().IsRegular() || w.rules.ShouldIgnore(path) || w.seen[path] {
		return nil
	}
	w.seen[path] = true

	if m := w.rules.For(path); m != nil && m.IsFileTooLarge(info.Size()) {
		return w.send(Result{Err: &indexerr.SkippedError{Path: path, Reason: "file exceeds max_file_size"}})
	}
	return w.send(Result{File: &FileRecord{
		Path:    path,
		Root:    root,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}})
}
