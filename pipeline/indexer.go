// Package pipeline runs indexing passes: it enumerates the roots, computes the
// delta against IndexState, extracts the changed files on a worker pool and
// commits the pass to the persistent index and IndexState.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/lexandro/tokenindex-mcp/change"
	"github.com/lexandro/tokenindex-mcp/extract"
	"github.com/lexandro/tokenindex-mcp/index"
	"github.com/lexandro/tokenindex-mcp/indexerr"
	"github.com/lexandro/tokenindex-mcp/language"
	"github.com/lexandro/tokenindex-mcp/scan"
	"github.com/lexandro/tokenindex-mcp/state"
	"golang.org/x/sync/errgroup"
)

// Meta keys kept in IndexState.
const (
	MetaFingerprint = "fingerprint"
	MetaLastPass    = "last_pass"
)

// Index is the write side of the persistent index. Staged changes become
// visible to readers only on Commit.
type Index interface {
	AddOrReplace(doc index.Document) error
	Remove(path string)
	Commit(ctx context.Context) error
	Discard()
	Paths(ctx context.Context) ([]string, error)
	Get(ctx context.Context, path string) (index.Document, bool, error)
	Recreated() bool
}

// IndexState records what the index holds per path. Apply commits one batch
// atomically.
type IndexState interface {
	Apply(ctx context.Context, batch state.Batch) error
	Snapshot(ctx context.Context) (map[string]state.Record, error)
	Each(ctx context.Context, fn func(state.Record) error) error
	Meta(ctx context.Context, key string) (string, bool, error)
	Invalidate(ctx context.Context, paths []string) error
	Clear(ctx context.Context) error
}

// Options configures an Indexer.
type Options struct {
	// Workers is the number of extraction goroutines.
	Workers int
	// Detector configures change detection; PassOptions.Rehash overrides its policy.
	Detector change.Options
	// Fingerprint identifies the extraction settings. A change forces a full pass.
	Fingerprint string
	// Progress is called after each extracted file.
	Progress func(done, total int)
	Logger   *slog.Logger
}

// PassOptions modifies a single pass.
type PassOptions struct {
	// Full re-extracts every file and drops index documents IndexState does not know.
	Full bool
	// Rehash compares content hashes of every file.
	Rehash bool
}

// PassResult summarizes a pass.
type PassResult struct {
	ID          string                `json:"id"`
	Full        bool                  `json:"full"`
	Added       int                   `json:"added"`
	Updated     int                   `json:"updated"`
	Removed     int                   `json:"removed"`
	Unchanged   int                   `json:"unchanged"`
	Carried     int                   `json:"carried"`
	Committed   int                   `json:"committed"`
	Cancelled   bool                  `json:"cancelled"`
	Diagnostics []indexerr.Diagnostic `json:"diagnostics,omitempty"`
	Elapsed     time.Duration         `json:"elapsed"`
}

// Indexer runs passes. Passes are serialized; searches may run concurrently and
// see either the pre-pass or the post-pass index.
type Indexer struct {
	enumerator *scan.Enumerator
	classifier *language.Classifier
	extractor  *extract.Extractor
	index      Index
	state      IndexState
	catalog    *index.Catalog
	options    Options
	logger     *slog.Logger

	mu       sync.Mutex // serializes passes, verification and repair
	reset    bool       // the recreated index has been reconciled with IndexState
	lastPass atomic.Pointer[PassResult]
}

// New creates an indexer over already opened stores.
func New(
	enumerator *scan.Enumerator,
	classifier *language.Classifier,
	extractor *extract.Extractor,
	idx Index,
	st IndexState,
	catalog *index.Catalog,
	options Options,
) *Indexer {
	if options.Workers <= 0 {
		options.Workers = 8
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if catalog == nil {
		catalog = index.NewCatalog()
	}
	return &Indexer{
		enumerator: enumerator,
		classifier: classifier,
		extractor:  extractor,
		index:      idx,
		state:      st,
		catalog:    catalog,
		options:    options,
		logger:     logger,
	}
}

// Catalog returns the in-memory catalog of committed files.
func (ix *Indexer) Catalog() *index.Catalog {
	return ix.catalog
}

// State returns the IndexState store.
func (ix *Indexer) State() IndexState {
	return ix.state
}

// Roots returns the enumerated roots.
func (ix *Indexer) Roots() []string {
	return ix.enumerator.Roots()
}

// LastPass returns the result of the most recent pass, or nil.
func (ix *Indexer) LastPass() *PassResult {
	return ix.lastPass.Load()
}

// LoadCatalog fills the catalog from IndexState.
func (ix *Indexer) LoadCatalog(ctx context.Context) error {
	ix.catalog.Clear()
	return ix.state.Each(ctx, func(rec state.Record) error {
		ix.catalog.Put(ix.catalogEntry(rec))
		return nil
	})
}

// work is one extracted file on its way to the committer.
type work struct {
	record state.Record
	doc    index.Document
	diags  []indexerr.Diagnostic
	// gone is set when the file vanished after enumeration.
	gone bool
}

// RunPass runs one indexing pass. When ctx is cancelled mid-pass the files
// extracted so far are still committed and the result is returned together with
// the context error; the remaining files are picked up by the next pass. An
// IndexCommitError means nothing of this pass was recorded in IndexState.
func (ix *Indexer) RunPass(ctx context.Context, opts PassOptions) (*PassResult, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	start := time.Now()
	result := &PassResult{ID: uuid.NewString()}
	logger := ix.logger.With("passId", result.ID)
	var diags indexerr.Diagnostics

	full, err := ix.prepare(ctx, opts.Full, logger)
	if err != nil {
		return nil, err
	}
	result.Full = full

	listing, err := ix.enumerator.Collect(ctx)
	if err != nil {
		result.Cancelled = true
		result.Elapsed = time.Since(start)
		return result, err
	}
	for _, scanErr := range listing.Errors {
		diags.Add(pathOf(scanErr), scanErr)
	}

	records, err := ix.state.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading index state: %w", err)
	}
	prior := make(map[string]change.Entry, len(records))
	for path, rec := range records {
		prior[path] = change.Entry{
			Path:      path,
			Size:      rec.Size,
			ModTime:   rec.ModTime,
			Hash:      rec.Hash,
			IndexedAt: rec.IndexedAt,
		}
	}

	detectorOptions := ix.options.Detector
	if opts.Rehash {
		detectorOptions.Policy = change.HashAlways
	}
	delta := change.NewDetector(detectorOptions).Compute(
		change.Snapshot{Files: listing.Files, Unknown: listing.Unknown}, prior, full)
	for _, hashErr := range delta.Errors {
		diags.Add(pathOf(hashErr), hashErr)
	}
	result.Unchanged = delta.Unchanged
	result.Carried = len(delta.Carried)

	removals := append([]string(nil), delta.Removed...)
	if full {
		orphans, err := ix.orphans(ctx, listing.Files, prior)
		if err != nil {
			return nil, err
		}
		removals = append(removals, orphans...)
	}

	logger.Debug("delta computed",
		"added", len(delta.Added),
		"updated", len(delta.Updated),
		"removed", len(removals),
		"unchanged", delta.Unchanged,
		"carried", len(delta.Carried),
		"full", full,
	)

	pending := make([]scan.FileRecord, 0, len(delta.Added)+len(delta.Updated))
	pending = append(pending, delta.Added...)
	pending = append(pending, delta.Updated...)
	added := make(map[string]bool, len(delta.Added))
	for _, f := range delta.Added {
		added[f.Path] = true
	}

	done, extractErr := ix.extractAll(ctx, pending, start, logger)
	if extractErr != nil && ctx.Err() == nil {
		return nil, extractErr
	}
	result.Cancelled = ctx.Err() != nil

	for _, w := range done {
		for _, d := range w.diags {
			diags.Record(d)
		}
		switch {
		case w.gone:
			if _, known := prior[w.record.Path]; known {
				removals = append(removals, w.record.Path)
			}
		case added[w.record.Path]:
			result.Added++
		default:
			result.Updated++
		}
	}

	commitCtx := context.WithoutCancel(ctx)
	committed, err := ix.commit(commitCtx, done, removals, delta.Verified, start)
	if err != nil {
		logger.Error("pass commit failed", "error", err)
		return nil, err
	}
	result.Committed = committed
	result.Removed = len(removals)
	result.Diagnostics = diags.Items()
	result.Elapsed = time.Since(start)
	ix.lastPass.Store(result)

	for _, d := range result.Diagnostics {
		logger.Debug("diagnostic", "path", d.Path, "kind", d.Kind, "message", d.Message)
	}
	logger.Info("indexing pass complete",
		"added", result.Added,
		"updated", result.Updated,
		"removed", result.Removed,
		"unchanged", result.Unchanged,
		"carried", result.Carried,
		"diagnostics", len(result.Diagnostics),
		"cancelled", result.Cancelled,
		"elapsed", result.Elapsed,
	)

	if result.Cancelled {
		return result, ctx.Err()
	}
	return result, nil
}

// prepare decides whether the pass must be full. A recreated index or a changed
// extraction fingerprint invalidates every recorded entry.
func (ix *Indexer) prepare(ctx context.Context, full bool, logger *slog.Logger) (bool, error) {
	if ix.index.Recreated() && !ix.reset {
		logger.Info("index starts empty, clearing index state")
		if err := ix.state.Clear(ctx); err != nil {
			return false, fmt.Errorf("clearing index state: %w", err)
		}
		ix.catalog.Clear()
		ix.reset = true
		full = true
	}
	recorded, ok, err := ix.state.Meta(ctx, MetaFingerprint)
	if err != nil {
		return false, fmt.Errorf("reading fingerprint: %w", err)
	}
	if ok && recorded != ix.options.Fingerprint {
		logger.Info("extraction settings changed, running full pass")
		full = true
	}
	return full, nil
}

// orphans returns index documents that are neither on disk nor recorded in
// IndexState. Recorded paths are handled by the delta.
func (ix *Indexer) orphans(ctx context.Context, files []scan.FileRecord, prior map[string]change.Entry) ([]string, error) {
	keep := make(map[string]bool, len(files)+len(prior))
	for _, f := range files {
		keep[f.Path] = true
	}
	for p := range prior {
		keep[p] = true
	}
	paths, err := ix.index.Paths(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing index documents: %w", err)
	}
	var out []string
	for _, p := range paths {
		if !keep[p] {
			out = append(out, p)
		}
	}
	return out, nil
}

// extractAll runs the worker pool over files. It returns the files finished before
// ctx was cancelled, sorted by path.
func (ix *Indexer) extractAll(ctx context.Context, files []scan.FileRecord, passStart time.Time, logger *slog.Logger) ([]work, error) {
	if len(files) == 0 {
		return nil, nil
	}

	jobs := make(chan scan.FileRecord)
	results := make(chan work, ix.options.Workers)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(jobs)
		for _, f := range files {
			select {
			case jobs <- f:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	var workers sync.WaitGroup
	for range ix.options.Workers {
		workers.Add(1)
		g.Go(func() error {
			defer workers.Done()
			for f := range jobs {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				w := ix.extractOne(gctx, f, passStart, logger)
				select {
				case results <- w:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}
	go func() {
		workers.Wait()
		close(results)
	}()

	var done []work
	for w := range results {
		// Results arriving after cancellation are dropped; their files stay
		// unrecorded and are detected again next pass.
		if ctx.Err() != nil {
			continue
		}
		done = append(done, w)
		if ix.options.Progress != nil {
			ix.options.Progress(len(done), len(files))
		}
	}
	err := g.Wait()

	sort.Slice(done, func(i, j int) bool { return done[i].record.Path < done[j].record.Path })
	return done, err
}

// extractOne reads, classifies and extracts a single file.
func (ix *Indexer) extractOne(ctx context.Context, f scan.FileRecord, passStart time.Time, logger *slog.Logger) work {
	w := work{record: state.Record{
		Path:      f.Path,
		Size:      f.Size,
		ModTime:   f.ModTime,
		IndexedAt: passStart,
	}}

	content, err := readFileWithRetry(f.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Debug("file vanished before extraction", "path", f.Path)
			w.gone = true
			return w
		}
		ioErr := &indexerr.IOAccessError{Path: f.Path, Op: "read", Err: err}
		w.diags = append(w.diags, indexerr.Diagnose(f.Path, ioErr))
		w.record.Diagnostic = ioErr.Error()
		// An unreadable file is recorded with no tokens and no hash, so the
		// next pass that can read it replaces the entry.
		w.record.Size = -1
		w.doc = index.Document{Path: f.Path}
		return w
	}

	head := content[:min(len(content), language.SniffLength)]
	class := ix.classifier.Classify(f.Path, head)
	extracted := ix.extractor.Extract(ctx, f.Path, class, content)
	terms := extracted.Terms()

	w.record.Hash = change.HashBytes(content)
	w.record.Language = class.Language
	w.record.Strategy = class.Strategy.String()
	w.record.Code = terms.Code
	w.record.Text = terms.Text
	for _, d := range extracted.Diagnostics {
		diag := indexerr.Diagnose(f.Path, d)
		w.diags = append(w.diags, diag)
		if w.record.Diagnostic == "" {
			w.record.Diagnostic = diag.Message
		}
	}
	w.doc = index.Document{
		Path:     f.Path,
		Language: class.Language,
		Strategy: w.record.Strategy,
		Code:     terms.Code,
		Text:     terms.Text,
	}
	return w
}

// commit writes the pass: the persistent index first, then IndexState. A crash
// between the two leaves index documents IndexState does not record; the next
// pass re-extracts and replaces them.
func (ix *Indexer) commit(ctx context.Context, done []work, removals, verified []string, passStart time.Time) (int, error) {
	batch := state.Batch{
		Meta: map[string]string{
			MetaFingerprint: ix.options.Fingerprint,
			MetaLastPass:    time.Now().UTC().Format(time.RFC3339),
		},
		Verified:   verified,
		VerifiedAt: passStart,
	}

	staged := 0
	for _, w := range done {
		if w.gone {
			continue
		}
		if err := ix.index.AddOrReplace(w.doc); err != nil {
			ix.index.Discard()
			return 0, &indexerr.IndexCommitError{Stage: "index", Files: len(done), Err: err}
		}
		batch.Put = append(batch.Put, w.record)
		staged++
	}
	for _, path := range removals {
		ix.index.Remove(path)
		batch.Delete = append(batch.Delete, path)
	}

	if err := ix.index.Commit(ctx); err != nil {
		ix.index.Discard()
		return 0, &indexerr.IndexCommitError{Stage: "index", Files: staged, Err: err}
	}
	if err := ix.state.Apply(ctx, batch); err != nil {
		return 0, &indexerr.IndexCommitError{Stage: "state", Files: staged, Err: err}
	}

	for _, rec := range batch.Put {
		ix.catalog.Put(ix.catalogEntry(rec))
	}
	for _, path := range removals {
		ix.catalog.Remove(path)
	}
	return staged, nil
}

func (ix *Indexer) catalogEntry(rec state.Record) *index.IndexedFile {
	root := ix.rootOf(rec.Path)
	rel := filepath.ToSlash(rec.Path)
	if root != "" {
		if r, err := filepath.Rel(root, rec.Path); err == nil {
			rel = filepath.ToSlash(r)
		}
	}
	return &index.IndexedFile{
		Path:         rec.Path,
		Root:         root,
		RelativePath: rel,
		Language:     rec.Language,
		Strategy:     rec.Strategy,
		SizeBytes:    max(rec.Size, 0),
		ModTime:      rec.ModTime,
		TokenCount:   len(rec.Code) + len(rec.Text),
		Diagnostic:   rec.Diagnostic,
	}
}

// rootOf returns the longest configured root containing path.
func (ix *Indexer) rootOf(path string) string {
	best := ""
	for _, root := range ix.enumerator.Roots() {
		if path != root && !hasDirPrefix(path, root) {
			continue
		}
		if len(root) > len(best) {
			best = root
		}
	}
	return best
}

func hasDirPrefix(path, dir string) bool {
	return len(path) > len(dir) && path[:len(dir)] == dir && os.IsPathSeparator(path[len(dir)])
}

// readFileWithRetry retries once after a short delay; editors on Windows hold
// files locked while saving.
func readFileWithRetry(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return data, err
	}
	time.Sleep(50 * time.Millisecond)
	return os.ReadFile(path)
}

// pathOf extracts the path an indexing error refers to.
func pathOf(err error) string {
	var ioErr *indexerr.IOAccessError
	if errors.As(err, &ioErr) {
		return ioErr.Path
	}
	var skipped *indexerr.SkippedError
	if errors.As(err, &skipped) {
		return skipped.Path
	}
	var decodeErr *indexerr.DecodeError
	if errors.As(err, &decodeErr) {
		return decodeErr.Path
	}
	var parseErr *indexerr.ParseError
	if errors.As(err, &parseErr) {
		return parseErr.Path
	}
	return ""
}
