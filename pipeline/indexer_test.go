package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lexandro/tokenindex-mcp/change"
	"github.com/lexandro/tokenindex-mcp/extract"
	"github.com/lexandro/tokenindex-mcp/ignore"
	"github.com/lexandro/tokenindex-mcp/index"
	"github.com/lexandro/tokenindex-mcp/indexerr"
	"github.com/lexandro/tokenindex-mcp/language"
	"github.com/lexandro/tokenindex-mcp/nlp"
	"github.com/lexandro/tokenindex-mcp/query"
	"github.com/lexandro/tokenindex-mcp/scan"
	"github.com/lexandro/tokenindex-mcp/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const utilPy = "import itertools\nfrom itertools import chain\n\n# simple helper to sum values\ndef total(xs):\n    return sum(chain(xs))\n"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

// fixture is an indexer over a temporary root with in-memory stores.
type fixture struct {
	root    string
	rules   ignore.Rules
	store   *index.Store
	state   *state.Store
	indexer *Indexer
}

func newFixture(t *testing.T, options Options) *fixture {
	t.Helper()
	f := &fixture{root: t.TempDir()}

	var err error
	f.store, err = index.NewMemStore()
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.store.Close() })
	f.state, err = state.Open(state.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.state.Close() })

	f.indexer = f.build(t, f.store, options)
	return f
}

// build wires a fresh indexer to the fixture's stores and root.
func (f *fixture) build(t *testing.T, idx Index, options Options) *Indexer {
	t.Helper()
	return f.wire(t, idx, f.state, options)
}

// buildWithState wires a fresh indexer over the fixture's index and st.
func (f *fixture) buildWithState(t *testing.T, st IndexState, options Options) *Indexer {
	t.Helper()
	return f.wire(t, f.store, st, options)
}

func (f *fixture) wire(t *testing.T, idx Index, st IndexState, options Options) *Indexer {
	t.Helper()
	f.rules = ignore.Rules{ignore.NewMatcher(ignore.MatcherOptions{RootDir: f.root, MaxFileSizeBytes: 4096})}
	enumerator := scan.New(scan.Options{Roots: []string{f.root}, Rules: f.rules, Logger: discardLogger()})

	registry, err := extract.NewLexerRegistry(0)
	require.NoError(t, err)
	model, err := nlp.Load(nlp.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = model.Close() })
	extractor, err := extract.New(extract.DefaultOptions(), model, registry)
	require.NoError(t, err)
	classifier := language.NewClassifier(language.ClassifierOptions{Registry: registry})

	options.Logger = discardLogger()
	return New(enumerator, classifier, extractor, idx, st, nil, options)
}

func (f *fixture) path(name string) string {
	return filepath.Join(f.root, filepath.FromSlash(name))
}

func (f *fixture) search(t *testing.T, q string) []string {
	t.Helper()
	engine := query.New(f.store, f.indexer.Catalog(), query.Options{CaseSensitive: true, MaxResults: 10000})
	resp, err := engine.Search(context.Background(), query.Request{Query: q, Scope: query.ScopeAll})
	require.NoError(t, err)
	paths := make([]string, 0, len(resp.Files))
	for _, file := range resp.Files {
		paths = append(paths, file.Path)
	}
	return paths
}

func runPass(t *testing.T, ix *Indexer, opts PassOptions) *PassResult {
	t.Helper()
	result, err := ix.RunPass(context.Background(), opts)
	require.NoError(t, err)
	return result
}

func Test_Indexer_Idempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{Workers: 4})
	writeFile(t, f.path("util.py"), utilPy)
	writeFile(t, f.path("cmd/main.go"), "package main\n\nfunc main() { startServer() }\n")
	writeFile(t, f.path("README.md"), "# Usage\n\nCall `startServer` to begin.\n")

	first := runPass(t, f.indexer, PassOptions{})
	assert.Equal(t, 3, first.Added)
	assert.Empty(t, first.Diagnostics)

	before, err := f.store.Paths(ctx)
	require.NoError(t, err)
	docBefore, _, err := f.store.Get(ctx, f.path("util.py"))
	require.NoError(t, err)

	second := runPass(t, f.indexer, PassOptions{})
	assert.Zero(t, second.Added+second.Updated+second.Removed, "second pass must have an empty delta")
	assert.Equal(t, 3, second.Unchanged)

	after, err := f.store.Paths(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	docAfter, _, err := f.store.Get(ctx, f.path("util.py"))
	require.NoError(t, err)
	assert.Equal(t, docBefore, docAfter)
}

func Test_Indexer_RoundTrip(t *testing.T) {
	f := newFixture(t, Options{})
	writeFile(t, f.path("util.py"), utilPy)
	runPass(t, f.indexer, PassOptions{})

	assert.Equal(t, []string{f.path("util.py")}, f.search(t, "itertools"))
	assert.Equal(t, []string{f.path("util.py")}, f.search(t, "chain"))
	assert.Empty(t, f.search(t, "iter"))
}

func Test_Indexer_NaturalLanguageComment(t *testing.T) {
	f := newFixture(t, Options{})
	writeFile(t, f.path("util.py"), utilPy)
	runPass(t, f.indexer, PassOptions{})

	rec, ok, err := f.state.Get(context.Background(), f.path("util.py"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"helper", "simple", "sum", "values"}, rec.Text)
	assert.Equal(t, "Python", rec.Language)
	assert.Equal(t, "structured", rec.Strategy)
	assert.NotEmpty(t, rec.Hash)
	assert.Empty(t, f.search(t, "to"))
}

func Test_Indexer_Deletion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	writeFile(t, f.path("util.py"), utilPy)
	writeFile(t, f.path("keep.go"), "package keep\n")
	runPass(t, f.indexer, PassOptions{})

	require.NoError(t, os.Remove(f.path("util.py")))
	result := runPass(t, f.indexer, PassOptions{})
	assert.Equal(t, 1, result.Removed)

	assert.Empty(t, f.search(t, "itertools"))
	_, ok, err := f.state.Get(ctx, f.path("util.py"))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, f.indexer.Catalog().Get(f.path("util.py")))
	assert.NotNil(t, f.indexer.Catalog().Get(f.path("keep.go")))
}

func Test_Indexer_Update(t *testing.T) {
	f := newFixture(t, Options{})
	path := f.path("server.go")
	writeFile(t, path, "package server\n\nfunc oldHandler() {}\n")
	runPass(t, f.indexer, PassOptions{})
	require.Equal(t, []string{path}, f.search(t, "oldHandler"))

	writeFile(t, path, "package server\n\nfunc newHandler() {}\n")
	later := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, later, later))

	result := runPass(t, f.indexer, PassOptions{})
	assert.Equal(t, 1, result.Updated)
	assert.Empty(t, f.search(t, "oldHandler"))
	assert.Equal(t, []string{path}, f.search(t, "newHandler"))
}

func Test_Indexer_CancelledPassCommitsFinishedFiles(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newFixture(t, Options{})
	f.indexer = f.build(t, f.store, Options{
		Workers: 1,
		Progress: func(done, _ int) {
			if done == 2 {
				cancel()
			}
		},
	})
	writeFile(t, f.path("a.go"), "package a\n\nvar alphaToken = 1\n")
	writeFile(t, f.path("b.go"), "package b\n\nvar betaToken = 2\n")
	writeFile(t, f.path("c.go"), "package c\n\nvar gammaToken = 3\n")

	result, err := f.indexer.RunPass(ctx, PassOptions{})
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, result)
	assert.True(t, result.Cancelled)
	assert.Equal(t, 2, result.Committed)

	assert.Equal(t, []string{f.path("a.go")}, f.search(t, "alphaToken"))
	assert.Equal(t, []string{f.path("b.go")}, f.search(t, "betaToken"))
	assert.Empty(t, f.search(t, "gammaToken"))

	next := runPass(t, f.indexer, PassOptions{})
	assert.Equal(t, 1, next.Added)
	assert.Equal(t, 2, next.Unchanged)
	assert.Equal(t, []string{f.path("c.go")}, f.search(t, "gammaToken"))
}

// failingIndex fails every commit while fail is set.
type failingIndex struct {
	*index.Store
	fail bool
}

func (f *failingIndex) Commit(ctx context.Context) error {
	if f.fail {
		return errors.New("disk full")
	}
	return f.Store.Commit(ctx)
}

func Test_Indexer_CommitFailureIsFatalAndRecoverable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	broken := &failingIndex{Store: f.store, fail: true}
	f.indexer = f.build(t, broken, Options{})
	writeFile(t, f.path("a.go"), "package a\n\nvar alphaToken = 1\n")
	writeFile(t, f.path("b.go"), "package b\n\nvar betaToken = 2\n")

	_, err := f.indexer.RunPass(ctx, PassOptions{})
	require.Error(t, err)
	assert.True(t, indexerr.IsFatal(err))
	var commitErr *indexerr.IndexCommitError
	require.True(t, errors.As(err, &commitErr))
	assert.Equal(t, "index", commitErr.Stage)

	count, err := f.state.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Empty(t, f.search(t, "alphaToken"))

	broken.fail = false
	result := runPass(t, f.indexer, PassOptions{})
	assert.Equal(t, 2, result.Added)
	assert.Equal(t, []string{f.path("a.go")}, f.search(t, "alphaToken"))
}

// failingState fails Apply while fail is set.
type failingState struct {
	*state.Store
	fail bool
}

func (f *failingState) Apply(ctx context.Context, batch state.Batch) error {
	if f.fail {
		return errors.New("database is locked")
	}
	return f.Store.Apply(ctx, batch)
}

func Test_Indexer_StateCommitFailureConverges(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	broken := &failingState{Store: f.state, fail: true}
	f.indexer = f.buildWithState(t, broken, Options{})
	writeFile(t, f.path("a.go"), "package a\n\nvar alphaToken = 1\n")
	writeFile(t, f.path("b.go"), "package b\n\nvar betaToken = 2\n")

	_, err := f.indexer.RunPass(ctx, PassOptions{})
	require.Error(t, err)
	assert.True(t, indexerr.IsFatal(err))
	var commitErr *indexerr.IndexCommitError
	require.True(t, errors.As(err, &commitErr))
	assert.Equal(t, "state", commitErr.Stage)

	count, err := f.state.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Equal(t, []string{f.path("a.go")}, f.search(t, "alphaToken"), "index committed ahead of state")
	assert.Nil(t, f.indexer.LastPass())

	writeFile(t, f.path("a.go"), "package a\n\nvar gammaToken = 3\n")
	broken.fail = false
	result := runPass(t, f.indexer, PassOptions{})
	assert.Equal(t, 2, result.Added)

	assert.Empty(t, f.search(t, "alphaToken"))
	assert.Equal(t, []string{f.path("a.go")}, f.search(t, "gammaToken"))
	assert.Equal(t, []string{f.path("b.go")}, f.search(t, "betaToken"))
	count, err = f.state.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	report, err := f.indexer.Verify(ctx)
	require.NoError(t, err)
	assert.True(t, report.Consistent())
}

func Test_Indexer_LastPassDoesNotWaitForPass(t *testing.T) {
	f := newFixture(t, Options{})
	writeFile(t, f.path("a.go"), "package a\n")
	first := runPass(t, f.indexer, PassOptions{})

	f.indexer.mu.Lock()
	defer f.indexer.mu.Unlock()
	got := make(chan *PassResult, 1)
	go func() { got <- f.indexer.LastPass() }()
	select {
	case last := <-got:
		assert.Equal(t, first.ID, last.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("LastPass blocked while a pass held the indexer")
	}
}

func Test_Indexer_RacyEntriesSettle(t *testing.T) {
	hashes := 0
	f := newFixture(t, Options{Detector: change.Options{
		Policy:     change.HashRacy,
		RacyWindow: 50 * time.Millisecond,
		Hasher: func(path string) (string, error) {
			hashes++
			return change.HashFile(path)
		},
	}})
	writeFile(t, f.path("a.go"), "package a\n")
	runPass(t, f.indexer, PassOptions{})

	time.Sleep(100 * time.Millisecond)
	second := runPass(t, f.indexer, PassOptions{})
	assert.Equal(t, 1, second.Unchanged)
	settled := hashes

	for range 2 {
		result := runPass(t, f.indexer, PassOptions{})
		assert.Equal(t, 1, result.Unchanged)
	}
	assert.Equal(t, settled, hashes, "verified entries are not hashed again")
}

func Test_Indexer_FingerprintChangeForcesFullPass(t *testing.T) {
	f := newFixture(t, Options{Fingerprint: "v1"})
	writeFile(t, f.path("a.go"), "package a\n")
	writeFile(t, f.path("b.go"), "package b\n")
	runPass(t, f.indexer, PassOptions{})

	same := runPass(t, f.indexer, PassOptions{})
	assert.False(t, same.Full)
	assert.Zero(t, same.Updated)

	f.indexer = f.build(t, f.store, Options{Fingerprint: "v2"})
	changed := runPass(t, f.indexer, PassOptions{})
	assert.True(t, changed.Full)
	assert.Equal(t, 2, changed.Updated)

	again := runPass(t, f.indexer, PassOptions{})
	assert.False(t, again.Full)
}

func Test_Indexer_FullPassRemovesOrphans(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	writeFile(t, f.path("a.go"), "package a\n")
	runPass(t, f.indexer, PassOptions{})

	orphan := filepath.Join(t.TempDir(), "orphan.go")
	require.NoError(t, f.store.AddOrReplace(index.Document{Path: orphan, Code: []string{"orphanToken"}}))
	require.NoError(t, f.store.Commit(ctx))

	incremental := runPass(t, f.indexer, PassOptions{})
	assert.Zero(t, incremental.Removed)

	full := runPass(t, f.indexer, PassOptions{Full: true})
	assert.Equal(t, 1, full.Removed)
	assert.Equal(t, 1, full.Updated)
	paths, err := f.store.Paths(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{f.path("a.go")}, paths)
}

func Test_Indexer_RecordsDiagnostics(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	writeFile(t, f.path("big.go"), "package big\n\n// "+strings.Repeat("x", 5000)+"\n")
	writeFile(t, f.path("broken.txt"), "valid start \xff\xfe end")
	writeFile(t, f.path("ok.go"), "package ok\n")

	result := runPass(t, f.indexer, PassOptions{})
	kinds := make(map[string]indexerr.Kind)
	for _, d := range result.Diagnostics {
		kinds[d.Path] = d.Kind
	}
	assert.Equal(t, indexerr.KindSkipped, kinds[f.path("big.go")])
	assert.Equal(t, indexerr.KindDecode, kinds[f.path("broken.txt")])

	rec, ok, err := f.state.Get(ctx, f.path("broken.txt"))
	require.NoError(t, err)
	require.True(t, ok, "undecodable files are still recorded")
	assert.Empty(t, rec.Code)
	assert.Empty(t, rec.Text)
	assert.NotEmpty(t, rec.Diagnostic)

	file := f.indexer.Catalog().Get(f.path("broken.txt"))
	require.NotNil(t, file)
	assert.NotEmpty(t, file.Diagnostic)
}

func Test_Indexer_Catalog(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	writeFile(t, f.path("pkg/util.py"), utilPy)
	runPass(t, f.indexer, PassOptions{})

	file := f.indexer.Catalog().Get(f.path("pkg/util.py"))
	require.NotNil(t, file)
	assert.Equal(t, "pkg/util.py", file.RelativePath)
	assert.Equal(t, f.root, file.Root)
	assert.Equal(t, "Python", file.Language)
	assert.Positive(t, file.TokenCount)

	reloaded := f.build(t, f.store, Options{})
	require.NoError(t, reloaded.LoadCatalog(ctx))
	assert.Equal(t, 1, reloaded.Catalog().Len())
	assert.Equal(t, file.TokenCount, reloaded.Catalog().Get(f.path("pkg/util.py")).TokenCount)
}

func Test_Indexer_Throughput(t *testing.T) {
	if testing.Short() {
		t.Skip("throughput test skipped in short mode")
	}
	f := newFixture(t, Options{Workers: 8})
	const files = 5000
	for i := range files {
		writeFile(t, f.path(fmt.Sprintf("pkg%02d/file%04d.go", i%50, i)),
			fmt.Sprintf("package pkg\n\n// handler number %d\nfunc handler%d() int { return %d }\n", i, i, i))
	}

	start := time.Now()
	result := runPass(t, f.indexer, PassOptions{})
	elapsed := time.Since(start)

	assert.Equal(t, files, result.Added)
	assert.Empty(t, result.Diagnostics)
	assert.Less(t, elapsed, time.Minute)
	assert.Equal(t, []string{f.path("pkg07/file4957.go")}, f.search(t, "handler4957"))
}
