package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/lexandro/tokenindex-mcp/ignore"
	"github.com/lexandro/tokenindex-mcp/indexerr"
	"github.com/lexandro/tokenindex-mcp/watcher"
	"golang.org/x/time/rate"
)

// SyncOptions configures a Synchronizer.
type SyncOptions struct {
	// Interval runs a pass periodically; zero disables the ticker.
	Interval time.Duration
	// MinPassGap is the minimum time between two triggered passes.
	MinPassGap time.Duration
	// Rules are reloaded when an ignore file changes.
	Rules  ignore.Rules
	Logger *slog.Logger
}

// Synchronizer keeps the index current by running incremental passes when the
// watcher reports changes and on a fixed interval.
type Synchronizer struct {
	indexer  *Indexer
	rules    ignore.Rules
	interval time.Duration
	limiter  *rate.Limiter
	trigger  chan struct{}
	logger   *slog.Logger
}

// NewSynchronizer creates a synchronizer for indexer.
func NewSynchronizer(indexer *Indexer, options SyncOptions) *Synchronizer {
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Inf
	if options.MinPassGap > 0 {
		limit = rate.Every(options.MinPassGap)
	}
	return &Synchronizer{
		indexer:  indexer,
		rules:    options.Rules,
		interval: options.Interval,
		limiter:  rate.NewLimiter(limit, 1),
		trigger:  make(chan struct{}, 1),
		logger:   logger,
	}
}

// Trigger requests a pass. Requests made while one is pending are merged.
func (s *Synchronizer) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// HandleEvents reacts to one debounced batch of file system events. A changed
// ignore file reloads the rules before the pass is requested.
func (s *Synchronizer) HandleEvents(events []watcher.DebouncedEvent) {
	if len(events) == 0 {
		return
	}
	for _, event := range events {
		if s.rules.IsIgnoreFile(event.Path) {
			s.rules.Reload()
			s.logger.Info("reloaded ignore rules", "trigger", event.Path)
			break
		}
	}
	s.logger.Debug("change batch", "events", len(events))
	s.Trigger()
}

// Consume feeds watcher batches to HandleEvents until ctx is done or the channel closes.
func (s *Synchronizer) Consume(ctx context.Context, batches <-chan []watcher.DebouncedEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case events, ok := <-batches:
			if !ok {
				return
			}
			s.HandleEvents(events)
		}
	}
}

// Run executes requested and periodic passes until ctx is done. Pass errors,
// including commit failures, are logged; the next pass retries the same work.
func (s *Synchronizer) Run(ctx context.Context) error {
	var tick <-chan time.Time
	if s.interval > 0 {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		tick = ticker.C
		s.logger.Info("periodic sync started", "interval", s.interval)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
		case <-s.trigger:
		}
		if err := s.limiter.Wait(ctx); err != nil {
			return nil
		}
		s.pass(ctx)
	}
}

func (s *Synchronizer) pass(ctx context.Context) {
	result, err := s.indexer.RunPass(ctx, PassOptions{})
	switch {
	case err == nil:
		if result.Added+result.Updated+result.Removed == 0 {
			s.logger.Debug("sync pass found no changes", "passId", result.ID, "elapsed", result.Elapsed)
		}
	case errors.Is(err, context.Canceled):
		s.logger.Debug("sync pass cancelled")
	case indexerr.IsFatal(err):
		s.logger.Error("sync pass could not commit", "error", err)
	default:
		s.logger.Warn("sync pass failed", "error", err)
	}
}
