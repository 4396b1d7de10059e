// Package query resolves exact-token searches against the committed index.
package query

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/lexandro/tokenindex-mcp/index"
	"github.com/lexandro/tokenindex-mcp/indexerr"
	"github.com/lexandro/tokenindex-mcp/nlp"
	"golang.org/x/text/unicode/norm"
)

// Scope selects the token fields a query is matched against.
type Scope string

const (
	ScopeCode Scope = "code"
	ScopeText Scope = "text"
	ScopeAll  Scope = "all"
)

// Mode combines the tokens of a multi-token query.
type Mode string

const (
	ModeAnd Mode = "and"
	ModeOr  Mode = "or"
)

// Searcher is the read side of the persistent index.
type Searcher interface {
	SearchExact(ctx context.Context, terms []string, fields []index.Field, all bool) ([]string, error)
}

// Request is one search.
type Request struct {
	Query string
	// CaseSensitive overrides the engine default when set.
	CaseSensitive *bool
	Scope         Scope
	Mode          Mode
	// Group restricts results to the roots of a configured group.
	Group string
	// PathGlob restricts results to matching paths (doublestar, relative to the root
	// or absolute).
	PathGlob   string
	MaxResults int
	// Context adds the matching lines of each file, re-read from disk.
	Context      bool
	ContextLines int
}

// FileResult is one matching file.
type FileResult struct {
	Path         string      `json:"path"`
	RelativePath string      `json:"relativePath"`
	Language     string      `json:"language,omitempty"`
	Tokens       []string    `json:"tokens"`
	Matches      []LineMatch `json:"matches,omitempty"`
}

// Response is the outcome of a search. Files are sorted by path.
type Response struct {
	Query     string       `json:"query"`
	Tokens    []string     `json:"tokens"`
	Files     []FileResult `json:"files"`
	Total     int          `json:"total"`
	Truncated bool         `json:"truncated"`
}

// Options configures an Engine.
type Options struct {
	CaseSensitive  bool
	MaxResults     int
	ContextLines   int
	MaxLineMatches int
	Roots          []string
	Groups         map[string][]string
	// Model reduces text-scope query words the way prose was indexed. Without
	// it, text terms are only case-folded.
	Model  *nlp.Model
	Logger *slog.Logger
}

// Engine answers searches. It never writes.
type Engine struct {
	searcher Searcher
	catalog  *index.Catalog
	options  Options
	logger   *slog.Logger
}

// New creates an engine. catalog may be nil; it only enriches results.
func New(searcher Searcher, catalog *index.Catalog, options Options) *Engine {
	if options.MaxResults <= 0 {
		options.MaxResults = 100
	}
	if options.MaxLineMatches <= 0 {
		options.MaxLineMatches = 20
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{searcher: searcher, catalog: catalog, options: options, logger: logger}
}

// Tokens splits a query into NFC-normalized tokens.
func Tokens(q string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, field := range strings.Fields(norm.NFC.String(q)) {
		if trimmed := strings.TrimLeft(field, "$#@"); trimmed != "" {
			field = trimmed
		}
		if !seen[field] {
			seen[field] = true
			out = append(out, field)
		}
	}
	return out
}

// Search runs a request. An empty query is an EmptyQueryError; no match is an
// empty response.
func (e *Engine) Search(ctx context.Context, req Request) (*Response, error) {
	tokens := Tokens(req.Query)
	if len(tokens) == 0 {
		return nil, &indexerr.EmptyQueryError{Query: req.Query}
	}

	scope := req.Scope
	if scope == "" {
		scope = ScopeCode
	}
	if scope != ScopeCode && scope != ScopeText && scope != ScopeAll {
		return nil, fmt.Errorf("unknown scope %q (want code, text or all)", scope)
	}
	mode := req.Mode
	if mode == "" {
		mode = ModeAnd
	}
	if mode != ModeAnd && mode != ModeOr {
		return nil, fmt.Errorf("unknown mode %q (want and or or)", mode)
	}
	caseSensitive := e.options.CaseSensitive
	if req.CaseSensitive != nil {
		caseSensitive = *req.CaseSensitive
	}
	var groupRoots []string
	if req.Group != "" {
		roots, ok := e.options.Groups[req.Group]
		if !ok {
			return nil, fmt.Errorf("unknown group %q", req.Group)
		}
		groupRoots = roots
	}
	if req.PathGlob != "" && !doublestar.ValidatePattern(filepath.ToSlash(req.PathGlob)) {
		return nil, fmt.Errorf("invalid path glob: %s", req.PathGlob)
	}

	start := time.Now()
	matched := make(map[string][]string) // path -> query tokens found in it
	for i, token := range tokens {
		paths, err := e.lookup(ctx, token, scope, caseSensitive)
		if err != nil {
			return nil, err
		}
		if mode == ModeAnd {
			if i == 0 {
				for _, p := range paths {
					matched[p] = []string{token}
				}
				continue
			}
			hits := make(map[string]bool, len(paths))
			for _, p := range paths {
				hits[p] = true
			}
			for p := range matched {
				if hits[p] {
					matched[p] = append(matched[p], token)
				} else {
					delete(matched, p)
				}
			}
			continue
		}
		for _, p := range paths {
			matched[p] = append(matched[p], token)
		}
	}

	paths := make([]string, 0, len(matched))
	for p := range matched {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	maxResults := req.MaxResults
	if maxResults <= 0 || maxResults > e.options.MaxResults {
		maxResults = e.options.MaxResults
	}
	contextLines := req.ContextLines
	if contextLines <= 0 {
		contextLines = e.options.ContextLines
	}

	resp := &Response{Query: req.Query, Tokens: tokens, Files: []FileResult{}}
	for _, path := range paths {
		result := e.describe(path)
		if len(groupRoots) > 0 && !under(path, groupRoots) {
			continue
		}
		if req.PathGlob != "" && !result.matches(req.PathGlob) {
			continue
		}
		resp.Total++
		if len(resp.Files) >= maxResults {
			resp.Truncated = true
			continue
		}
		result.Tokens = matched[path]
		if req.Context {
			result.Matches = e.findMatchingLines(path, e.newLineMatcher(result.Tokens, scope, caseSensitive), contextLines)
		}
		resp.Files = append(resp.Files, result)
	}

	e.logger.Debug("search", "query", req.Query, "scope", scope, "mode", mode,
		"files", resp.Total, "elapsed", time.Since(start))
	return resp, nil
}

// lookup returns the paths containing token in the fields of scope.
func (e *Engine) lookup(ctx context.Context, token string, scope Scope, caseSensitive bool) ([]string, error) {
	type target struct {
		field index.Field
		terms []string
	}
	var targets []target
	if scope == ScopeCode || scope == ScopeAll {
		if caseSensitive {
			targets = append(targets, target{index.FieldCode, []string{token}})
		} else {
			targets = append(targets, target{index.FieldCodeFolded, []string{index.Fold(token)}})
		}
	}
	if scope == ScopeText || scope == ScopeAll {
		targets = append(targets, target{index.FieldText, e.textTerms(token)})
	}

	seen := make(map[string]bool)
	var out []string
	for _, t := range targets {
		paths, err := e.searcher.SearchExact(ctx, t.terms, []index.Field{t.field}, true)
		if err != nil {
			return nil, fmt.Errorf("searching %s: %w", t.field, err)
		}
		for _, p := range paths {
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	return out, nil
}

// textTerms returns the text-field terms of a query token. A token the model
// cannot reduce is looked up case-folded.
func (e *Engine) textTerms(token string) []string {
	if e.options.Model != nil {
		terms, err := e.options.Model.Terms(token)
		if err != nil {
			e.logger.Debug("query word not reduced", "token", token, "error", err)
		} else if len(terms) > 0 {
			return terms
		}
	}
	return []string{index.Fold(token)}
}

// describe fills the result metadata from the catalog or the configured roots.
func (e *Engine) describe(path string) FileResult {
	result := FileResult{Path: path}
	if e.catalog != nil {
		if file := e.catalog.Get(path); file != nil {
			result.RelativePath = file.RelativePath
			result.Language = file.Language
			return result
		}
	}
	result.RelativePath = filepath.ToSlash(path)
	best := ""
	for _, root := range e.options.Roots {
		if under(path, []string{root}) && len(root) > len(best) {
			best = root
		}
	}
	if best != "" {
		if rel, err := filepath.Rel(best, path); err == nil {
			result.RelativePath = filepath.ToSlash(rel)
		}
	}
	return result
}

func (r FileResult) matches(pattern string) bool {
	file := index.IndexedFile{Path: r.Path, RelativePath: r.RelativePath}
	return file.Match(pattern)
}

func under(path string, roots []string) bool {
	for _, root := range roots {
		root = filepath.Clean(root)
		if path == root || strings.HasPrefix(path, root+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
