package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
)

// Field names a token field of an indexed document.
type Field string

const (
	// FieldCode holds identifiers and literals exactly as written.
	FieldCode Field = "code"
	// FieldCodeFolded holds the lower-cased code tokens.
	FieldCodeFolded Field = "code_folded"
	// FieldText holds natural-language words.
	FieldText Field = "text"
)

// pageSize bounds the hits fetched per search request when listing.
const pageSize = 5000

// Document is the index entry of one file. Path is the document ID.
type Document struct {
	Path     string
	Language string
	Strategy string
	Code     []string
	Text     []string
}

// bleveDocument is the document structure stored in Bleve.
type bleveDocument struct {
	Path       string   `json:"path"`
	Language   string   `json:"language"`
	Strategy   string   `json:"strategy"`
	Code       []string `json:"code"`
	CodeFolded []string `json:"code_folded"`
	Text       []string `json:"text"`
}

// Store is the persistent token index. Writes are staged and become visible
// together on Commit; searches only see committed state.
type Store struct {
	index     bleve.Index
	path      string
	recreated bool

	mu      sync.Mutex
	pending *bleve.Batch
	staged  int
}

// buildIndexMapping indexes every field as whole keywords; nothing is tokenized.
func buildIndexMapping() *mapping.IndexMappingImpl {
	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultAnalyzer = keyword.Name

	docMapping := bleve.NewDocumentMapping()
	docMapping.Dynamic = false

	keywordField := func(store bool) *mapping.FieldMapping {
		fm := bleve.NewKeywordFieldMapping()
		fm.Store = store
		fm.IncludeInAll = false
		fm.IncludeTermVectors = false
		return fm
	}
	docMapping.AddFieldMappingsAt("path", keywordField(true))
	docMapping.AddFieldMappingsAt("language", keywordField(true))
	docMapping.AddFieldMappingsAt("strategy", keywordField(true))
	docMapping.AddFieldMappingsAt(string(FieldCode), keywordField(true))
	docMapping.AddFieldMappingsAt(string(FieldCodeFolded), keywordField(false))
	docMapping.AddFieldMappingsAt(string(FieldText), keywordField(true))

	indexMapping.DefaultMapping = docMapping
	return indexMapping
}

// NewMemStore creates an in-memory store.
func NewMemStore() (*Store, error) {
	idx, err := bleve.NewMemOnly(buildIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("creating bleve index: %w", err)
	}
	return &Store{index: idx}, nil
}

// OpenStore opens the index at path, creating it when missing. An index that
// cannot be opened is discarded and recreated. Recreated reports true whenever
// the returned index started out empty.
func OpenStore(path string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating index directory: %w", err)
	}

	idx, err := bleve.Open(path)
	if err == nil {
		return &Store{index: idx, path: path}, nil
	}
	if !errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		logger.Warn("index unreadable, recreating", "path", path, "error", err)
		if removeErr := os.RemoveAll(path); removeErr != nil {
			return nil, fmt.Errorf("removing unreadable index %s: %w (open failed: %v)", path, removeErr, err)
		}
		idx, err = bleve.New(path, buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("recreating index: %w", err)
		}
		return &Store{index: idx, path: path, recreated: true}, nil
	}

	idx, err = bleve.New(path, buildIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("creating index: %w", err)
	}
	return &Store{index: idx, path: path, recreated: true}, nil
}

// Recreated reports whether the index was created empty by OpenStore. Entries
// recorded elsewhere for a previous index no longer hold.
func (s *Store) Recreated() bool {
	return s.recreated
}

// AddOrReplace stages doc, replacing any document with the same path.
func (s *Store) AddOrReplace(doc Document) error {
	folded := make([]string, 0, len(doc.Code))
	for _, token := range doc.Code {
		folded = append(folded, Fold(token))
	}
	bd := bleveDocument{
		Path:       doc.Path,
		Language:   doc.Language,
		Strategy:   doc.Strategy,
		Code:       doc.Code,
		CodeFolded: folded,
		Text:       doc.Text,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.batch().Index(doc.Path, bd); err != nil {
		return fmt.Errorf("staging %s: %w", doc.Path, err)
	}
	s.staged++
	return nil
}

// Remove stages the deletion of path.
func (s *Store) Remove(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batch().Delete(path)
	s.staged++
}

// Staged returns the number of staged operations.
func (s *Store) Staged() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.staged
}

// Commit applies every staged operation in one batch.
func (s *Store) Commit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.index.Batch(s.pending); err != nil {
		return fmt.Errorf("applying batch of %d: %w", s.staged, err)
	}
	s.pending = nil
	s.staged = 0
	return nil
}

// Discard drops every staged operation.
func (s *Store) Discard() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = nil
	s.staged = 0
}

func (s *Store) batch() *bleve.Batch {
	if s.pending == nil {
		s.pending = s.index.NewBatch()
	}
	return s.pending
}

// SearchExact returns the sorted paths of documents containing the terms in any
// of fields. With all set every term must match; otherwise any term suffices.
func (s *Store) SearchExact(ctx context.Context, terms []string, fields []Field, all bool) ([]string, error) {
	if len(terms) == 0 || len(fields) == 0 {
		return nil, nil
	}
	perTerm := make([]query.Query, 0, len(terms))
	for _, term := range terms {
		alternatives := make([]query.Query, 0, len(fields))
		for _, field := range fields {
			tq := bleve.NewTermQuery(term)
			tq.SetField(string(field))
			alternatives = append(alternatives, tq)
		}
		if len(alternatives) == 1 {
			perTerm = append(perTerm, alternatives[0])
		} else {
			perTerm = append(perTerm, bleve.NewDisjunctionQuery(alternatives...))
		}
	}

	var q query.Query
	switch {
	case len(perTerm) == 1:
		q = perTerm[0]
	case all:
		q = bleve.NewConjunctionQuery(perTerm...)
	default:
		q = bleve.NewDisjunctionQuery(perTerm...)
	}
	return s.ids(ctx, q)
}

// Paths returns every indexed path, sorted.
func (s *Store) Paths(ctx context.Context) ([]string, error) {
	return s.ids(ctx, bleve.NewMatchAllQuery())
}

func (s *Store) ids(ctx context.Context, q query.Query) ([]string, error) {
	var ids []string
	for from := 0; ; from += pageSize {
		req := bleve.NewSearchRequestOptions(q, pageSize, from, false)
		req.SortBy([]string{"_id"})
		req.Fields = []string{}
		res, err := s.index.SearchInContext(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("searching index: %w", err)
		}
		for _, hit := range res.Hits {
			ids = append(ids, hit.ID)
		}
		if len(res.Hits) < pageSize {
			return ids, nil
		}
	}
}

// Get returns the committed document of path.
func (s *Store) Get(ctx context.Context, path string) (Document, bool, error) {
	req := bleve.NewSearchRequest(bleve.NewDocIDQuery([]string{path}))
	req.Fields = []string{"path", "language", "strategy", string(FieldCode), string(FieldText)}
	res, err := s.index.SearchInContext(ctx, req)
	if err != nil {
		return Document{}, false, fmt.Errorf("reading %s: %w", path, err)
	}
	if len(res.Hits) == 0 {
		return Document{}, false, nil
	}
	fields := res.Hits[0].Fields
	return Document{
		Path:     path,
		Language: stringField(fields["language"]),
		Strategy: stringField(fields["strategy"]),
		Code:     listField(fields[string(FieldCode)]),
		Text:     listField(fields[string(FieldText)]),
	}, true, nil
}

// DocCount returns the number of committed documents.
func (s *Store) DocCount() (uint64, error) {
	return s.index.DocCount()
}

// Close closes the index. Staged operations are dropped.
func (s *Store) Close() error {
	s.Discard()
	return s.index.Close()
}

func stringField(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// listField reads a stored array field; bleve returns a bare value for one element.
func listField(v any) []string {
	var out []string
	switch value := v.(type) {
	case string:
		out = []string{value}
	case []any:
		for _, item := range value {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
	}
	sort.Strings(out)
	return out
}
