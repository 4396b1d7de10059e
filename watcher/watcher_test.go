package watcher

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lexandro/tokenindex-mcp/ignore"
)

func newTestWatcher(t *testing.T, roots ...string) *Watcher {
	t.Helper()
	var rules ignore.Rules
	for _, root := range roots {
		rules = append(rules, ignore.NewMatcher(ignore.MatcherOptions{RootDir: root}))
	}
	w, err := New(Options{
		Roots:    roots,
		Ignore:   rules,
		Debounce: 30 * time.Millisecond,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return w
}

func tempRoot(t *testing.T) string {
	t.Helper()
	root, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return root
}

// waitForPath drains batches until one holds path or the timeout expires.
func waitForPath(t *testing.T, w *Watcher, path string) DebouncedEvent {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case batch := <-w.Events():
			for _, event := range batch {
				if event.Path == path {
					return event
				}
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event on %s", path)
			return DebouncedEvent{}
		}
	}
}

func Test_New_NoRoots(t *testing.T) {
	if _, err := New(Options{Ignore: ignore.Rules{}}); err == nil {
		t.Fatal("expected error without roots")
	}
}

func Test_Watcher_ReportsFilesInEveryRoot(t *testing.T) {
	rootA := tempRoot(t)
	rootB := tempRoot(t)
	w := newTestWatcher(t, rootA, rootB)

	pathA := filepath.Join(rootA, "a.go")
	if err := os.WriteFile(pathA, []byte("package a\n"), 0644); err != nil {
		t.Fatal(err)
	}
	waitForPath(t, w, pathA)

	pathB := filepath.Join(rootB, "b.go")
	if err := os.WriteFile(pathB, []byte("package b\n"), 0644); err != nil {
		t.Fatal(err)
	}
	waitForPath(t, w, pathB)
}

func Test_Watcher_NewDirectoryIsWatched(t *testing.T) {
	root := tempRoot(t)
	w := newTestWatcher(t, root)

	dir := filepath.Join(root, "pkg")
	if err := os.Mkdir(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if event := waitForPath(t, w, dir); event.Op != OpCreate {
		t.Errorf("expected create for new directory, got %s", event.Op)
	}

	nested := filepath.Join(dir, "nested.go")
	if err := os.WriteFile(nested, []byte("package pkg\n"), 0644); err != nil {
		t.Fatal(err)
	}
	waitForPath(t, w, nested)
}

func Test_Watcher_IgnoredDirectoryIsSkipped(t *testing.T) {
	root := tempRoot(t)
	if err := os.Mkdir(filepath.Join(root, "node_modules"), 0755); err != nil {
		t.Fatal(err)
	}
	w := newTestWatcher(t, root)

	if err := os.WriteFile(filepath.Join(root, "node_modules", "dep.js"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	marker := filepath.Join(root, "main.go")
	if err := os.WriteFile(marker, []byte("package main\n"), 0644); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(3 * time.Second)
	for {
		select {
		case batch := <-w.Events():
			sawMarker := false
			for _, event := range batch {
				if filepath.Dir(event.Path) == filepath.Join(root, "node_modules") {
					t.Fatalf("unexpected event inside ignored directory: %s", event.Path)
				}
				sawMarker = sawMarker || event.Path == marker
			}
			if sawMarker {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for marker event")
		}
	}
}
