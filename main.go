package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/lexandro/tokenindex-mcp/config"
	"github.com/spf13/cobra"
)

// rootOptions are the persistent flags shared by every command.
type rootOptions struct {
	configPath string
	roots      []string
	excludes   []string
	dataDir    string
	logLevel   string
	logFile    string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:   "tokenindex-mcp",
		Short: "Exact-token source code index with an MCP server",
		Long: `tokenindex-mcp extracts the identifiers, literals and prose words of every
file below one or more roots into a persistent index and answers exact-token
queries from it, on the command line, over MCP (stdio) or over HTTP.`,
		SilenceUsage: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Config file (YAML, or TOML with a .toml extension; default: ./tokenindex.yaml when present)")
	flags.StringSliceVar(&opts.roots, "root", nil, "Root directory to index (repeatable; overrides the config roots)")
	flags.StringSliceVar(&opts.excludes, "exclude", nil, "Extra ignore pattern (repeatable)")
	flags.StringVar(&opts.dataDir, "data-dir", "", "Directory holding the index and its state (default: <first root>/.tokenindex)")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level: debug|info|warn|error")
	flags.StringVar(&opts.logFile, "log-file", "", "Log file path (default: stderr)")

	rootCmd.AddCommand(
		newIndexCommand(opts),
		newSearchCommand(opts),
		newFilesCommand(opts),
		newTokensCommand(opts),
		newStatusCommand(opts),
		newVerifyCommand(opts),
		newServeCommand(opts),
		newConfigCommand(opts),
		newRegisterCommand(),
	)
	return rootCmd
}

// loadConfig reads the config file and applies the persistent flags.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	path := o.configPath
	if path == "" {
		path = "tokenindex.yaml"
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if len(o.roots) > 0 {
		cfg.Roots = o.roots
	}
	cfg.Ignore.Exclude = append(cfg.Ignore.Exclude, o.excludes...)
	if o.dataDir != "" {
		cfg.DataDir = o.dataDir
	}
	if o.logLevel != "" {
		cfg.Log.Level = strings.ToLower(o.logLevel)
	}
	if o.logFile != "" {
		cfg.Log.File = o.logFile
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid flags: %w", err)
	}
	return cfg, nil
}

// open loads the configuration, sets up logging and opens the data directory.
func (o *rootOptions) open(ctx context.Context, appOpts appOptions) (*app, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	logger := setupLogger(cfg.Log.Level, cfg.Log.File)
	return openApp(ctx, cfg, logger, appOpts)
}

// setupLogger creates an slog.Logger writing to stderr or a file. stdout is
// reserved for command output and the MCP stdio transport.
func setupLogger(level string, logFile string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	writer := os.Stderr
	if logFile != "" {
		if dir := filepath.Dir(logFile); dir != "" {
			_ = os.MkdirAll(dir, 0755)
		}
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: cannot open log file %s: %v, falling back to stderr\n", logFile, err)
		} else {
			writer = f
		}
	}

	handler := slog.NewTextHandler(writer, &slog.HandlerOptions{Level: logLevel})
	return slog.New(handler)
}
