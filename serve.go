package main

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"time"

	"github.com/lexandro/tokenindex-mcp/pipeline"
	"github.com/lexandro/tokenindex-mcp/server"
	"github.com/lexandro/tokenindex-mcp/tools"
	"github.com/lexandro/tokenindex-mcp/watcher"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type serveOptions struct {
	watch    bool
	httpAddr string
	noMCP    bool
}

func newServeCommand(root *rootOptions) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the index over MCP (stdio) and keep it current",
		Long: `Starts the MCP server on stdio, runs an incremental pass right away and then
whenever watched files change or the sync interval elapses. --http also exposes
a JSON API.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("watch") {
				cfg.Sync.Watch = opts.watch
			}
			if opts.httpAddr != "" {
				cfg.Server.HTTPAddr = opts.httpAddr
			}
			// stdout carries MCP; default the log into the data directory
			if cfg.Log.File == "" && !opts.noMCP {
				dataDir, err := cfg.ResolvedDataDir()
				if err != nil {
					return err
				}
				cfg.Log.File = filepath.Join(dataDir, "tokenindex-mcp.log")
			}

			logger := setupLogger(cfg.Log.Level, cfg.Log.File)
			a, err := openApp(cmd.Context(), cfg, logger, appOptions{})
			if err != nil {
				logger.Error("failed to open data directory", "error", err)
				return err
			}
			defer a.Close()
			return a.serve(cmd.Context(), !opts.noMCP)
		},
	}
	cmd.Flags().BoolVar(&opts.watch, "watch", true, "Watch the roots for changes")
	cmd.Flags().StringVar(&opts.httpAddr, "http", "", "Also serve the JSON API on this address (e.g. 127.0.0.1:7391)")
	cmd.Flags().BoolVar(&opts.noMCP, "no-mcp", false, "Do not serve MCP on stdio; run until interrupted")
	return cmd
}

// serve runs the synchronizer, the optional watcher and HTTP API, and the MCP
// server until ctx is done or the MCP client disconnects.
func (a *app) serve(ctx context.Context, withMCP bool) error {
	startTime := time.Now()
	cfg := a.cfg
	a.logger.Info("starting tokenindex-mcp",
		"roots", a.roots,
		"dataDir", a.dataDir,
		"files", a.indexer.Catalog().Len(),
		"watch", cfg.Sync.Watch,
		"interval", cfg.Sync.Interval,
		"http", cfg.Server.HTTPAddr,
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	synchronizer := pipeline.NewSynchronizer(a.indexer, pipeline.SyncOptions{
		Interval:   cfg.Sync.Interval,
		MinPassGap: cfg.Sync.MinPassGap,
		Rules:      a.rules,
		Logger:     a.logger,
	})
	synchronizer.Trigger()
	g.Go(func() error { return synchronizer.Run(gctx) })

	if cfg.Sync.Watch {
		fileWatcher, err := watcher.New(watcher.Options{
			Roots:    a.roots,
			Ignore:   a.rules,
			Debounce: cfg.Sync.Debounce,
			Logger:   a.logger,
		})
		if err != nil {
			a.logger.Warn("failed to start file watcher, continuing without live updates", "error", err)
		} else {
			g.Go(func() error { return fileWatcher.Run(gctx) })
			g.Go(func() error {
				synchronizer.Consume(gctx, fileWatcher.Events())
				return nil
			})
		}
	}

	reindex := func(ctx context.Context, opts pipeline.PassOptions) (*pipeline.PassResult, error) {
		return a.indexer.RunPass(ctx, opts)
	}

	if cfg.Server.HTTPAddr != "" {
		httpServer := &http.Server{
			Addr: cfg.Server.HTTPAddr,
			Handler: server.NewHTTPHandler(server.API{
				Engine:   a.engine,
				Catalog:  a.indexer.Catalog(),
				State:    a.state,
				Index:    a.store,
				LastPass: a.indexer.LastPass,
				Reindex:  reindex,
				Logger:   a.logger,
			}, cfg.Server.CORSOrigins),
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      120 * time.Second,
			IdleTimeout:       120 * time.Second,
		}
		g.Go(func() error {
			a.logger.Info("HTTP API listening", "addr", cfg.Server.HTTPAddr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			return httpServer.Shutdown(shutdownCtx)
		})
	}

	if withMCP {
		mcpServer := server.Setup(server.Handlers{
			Search:  &tools.SearchHandler{Engine: a.engine, Logger: a.logger},
			Files:   &tools.FilesHandler{Catalog: a.indexer.Catalog(), Logger: a.logger},
			Tokens:  &tools.TokensHandler{State: a.state, Catalog: a.indexer.Catalog(), Roots: a.roots, Logger: a.logger},
			Status:  a.statusHandler(startTime),
			Reindex: &tools.ReindexHandler{DoReindex: reindex, Logger: a.logger},
		})
		g.Go(func() error {
			defer cancel()
			a.logger.Info("MCP server starting on stdio")
			err := mcpServer.Run(gctx, &mcp.StdioTransport{})
			if err != nil && gctx.Err() == nil {
				a.logger.Error("MCP server error", "error", err)
				return err
			}
			a.logger.Info("MCP client disconnected")
			return nil
		})
	}

	err := g.Wait()
	a.logger.Info("tokenindex-mcp stopped", "uptime", time.Since(startTime).Round(time.Second))
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
