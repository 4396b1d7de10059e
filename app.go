package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/lexandro/tokenindex-mcp/change"
	"github.com/lexandro/tokenindex-mcp/config"
	"github.com/lexandro/tokenindex-mcp/extract"
	"github.com/lexandro/tokenindex-mcp/ignore"
	"github.com/lexandro/tokenindex-mcp/index"
	"github.com/lexandro/tokenindex-mcp/language"
	"github.com/lexandro/tokenindex-mcp/nlp"
	"github.com/lexandro/tokenindex-mcp/pipeline"
	"github.com/lexandro/tokenindex-mcp/query"
	"github.com/lexandro/tokenindex-mcp/scan"
	"github.com/lexandro/tokenindex-mcp/state"
)

// app is one opened data directory and everything built on it.
type app struct {
	cfg     *config.Config
	dataDir string
	roots   []string
	rules   ignore.Rules
	logger  *slog.Logger

	lock    *pipeline.DataLock
	store   *index.Store
	state   *state.Store
	model   *nlp.Model
	indexer *pipeline.Indexer
	engine  *query.Engine
}

// appOptions tweaks how the app is built for one command.
type appOptions struct {
	// progress receives extraction progress of every pass.
	progress func(done, total int)
}

// openApp locks the data directory, opens both stores and wires the pipeline.
// The catalog is loaded from IndexState before it returns.
func openApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts appOptions) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if a.dataDir, err = cfg.ResolvedDataDir(); err != nil {
		return nil, fmt.Errorf("resolving data directory: %w", err)
	}
	for _, root := range cfg.Roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("resolving root %s: %w", root, err)
		}
		a.roots = append(a.roots, filepath.Clean(abs))
	}

	if a.lock, err = pipeline.LockDataDir(a.dataDir); err != nil {
		return nil, err
	}

	for _, root := range a.roots {
		a.rules = append(a.rules, ignore.NewMatcher(ignore.MatcherOptions{
			RootDir:          root,
			IgnoreFiles:      cfg.Ignore.IgnoreFiles,
			Exclude:          cfg.Ignore.Exclude,
			Include:          cfg.Ignore.Include,
			MaxFileSizeBytes: cfg.Ignore.MaxFileSize,
		}))
	}
	enumerator := scan.New(scan.Options{
		Roots:          a.roots,
		Rules:          a.rules,
		FollowSymlinks: cfg.Ignore.FollowSymlinks,
		Logger:         logger,
	})

	registry, err := extract.NewLexerRegistry(0)
	if err != nil {
		return nil, err
	}
	classifier := language.NewClassifier(language.ClassifierOptions{
		Overrides:    cfg.Overrides(),
		Registry:     registry,
		OpaqueAsText: cfg.Extraction.OpaqueAsText,
	})

	if cfg.NaturalLanguage.Enabled {
		a.model, err = nlp.Load(nlp.Options{
			Lemmatize: cfg.NaturalLanguage.Lemmatize,
			StopWords: cfg.NaturalLanguage.StopWords,
			MinLength: cfg.Extraction.MinTokenLength,
		})
		if err != nil {
			return nil, fmt.Errorf("loading natural-language model: %w", err)
		}
	}
	extractor, err := extract.New(extract.Options{
		IndexLiterals:  cfg.Extraction.IndexLiterals,
		Comments:       cfg.Extraction.Comments,
		MinTokenLength: cfg.Extraction.MinTokenLength,
		MaxTokenLength: cfg.Extraction.MaxTokenLength,
		MaxTextSize:    cfg.Extraction.MaxTextSize,
		DecodeFallback: cfg.Extraction.DecodeFallback,
	}, a.model, registry)
	if err != nil {
		return nil, fmt.Errorf("creating extractor: %w", err)
	}

	if a.store, err = index.OpenStore(filepath.Join(a.dataDir, "index.bleve"), logger); err != nil {
		return nil, err
	}
	if a.state, err = state.Open(filepath.Join(a.dataDir, "state.db")); err != nil {
		return nil, fmt.Errorf("opening index state: %w", err)
	}

	a.indexer = pipeline.New(enumerator, classifier, extractor, a.store, a.state, nil, pipeline.Options{
		Workers: cfg.Sync.Workers,
		Detector: change.Options{
			Policy: cfg.HashPolicy(),
		},
		Fingerprint: cfg.Fingerprint(),
		Progress:    opts.progress,
		Logger:      logger,
	})
	if !a.store.Recreated() {
		if err := a.indexer.LoadCatalog(ctx); err != nil {
			return nil, fmt.Errorf("loading catalog: %w", err)
		}
	}

	groups := make(map[string][]string, len(cfg.Groups))
	for name, roots := range cfg.Groups {
		for _, root := range roots {
			if abs, err := filepath.Abs(root); err == nil {
				groups[name] = append(groups[name], filepath.Clean(abs))
			}
		}
	}
	a.engine = query.New(a.store, a.indexer.Catalog(), query.Options{
		CaseSensitive: cfg.Query.CaseSensitive,
		MaxResults:    cfg.Query.MaxResults,
		ContextLines:  cfg.Query.ContextLines,
		Roots:         a.roots,
		Groups:        groups,
		Model:         a.model,
		Logger:        logger,
	})

	logger.Debug("data directory opened", "dataDir", a.dataDir, "roots", a.roots)
	return a, nil
}

// Close releases the stores and the data directory lock.
func (a *app) Close() error {
	var errs []error
	if a.state != nil {
		errs = append(errs, a.state.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.model != nil {
		errs = append(errs, a.model.Close())
	}
	if a.lock != nil {
		errs = append(errs, a.lock.Unlock())
	}
	return errors.Join(errs...)
}
