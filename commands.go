package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lexandro/tokenindex-mcp/config"
	"github.com/lexandro/tokenindex-mcp/pipeline"
	"github.com/lexandro/tokenindex-mcp/query"
	"github.com/lexandro/tokenindex-mcp/register"
	"github.com/lexandro/tokenindex-mcp/tools"
	"github.com/mattn/go-isatty"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

func newIndexCommand(root *rootOptions) *cobra.Command {
	var passOpts pipeline.PassOptions
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Run one indexing pass and exit",
		Long: `Enumerates the roots, re-extracts new and changed files and removes vanished
ones. With --full every file is re-extracted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			progress := newProgress()
			a, err := root.open(cmd.Context(), appOptions{progress: progress.update})
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.indexer.RunPass(cmd.Context(), passOpts)
			progress.finish()
			if result != nil {
				fmt.Fprint(cmd.OutOrStdout(), tools.FormatPassResult(result))
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&passOpts.Full, "full", false, "Re-extract every file")
	cmd.Flags().BoolVar(&passOpts.Rehash, "rehash", false, "Compare content hashes of every file")
	return cmd
}

// progress draws a bar on an interactive stderr and nothing otherwise.
type progress struct {
	enabled bool
	bar     *progressbar.ProgressBar
}

func newProgress() *progress {
	fd := os.Stderr.Fd()
	return &progress{enabled: isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)}
}

func (p *progress) update(done, total int) {
	if !p.enabled {
		return
	}
	if p.bar == nil {
		p.bar = progressbar.NewOptions(total,
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription("Indexing"),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionClearOnFinish(),
		)
	}
	_ = p.bar.Set(done)
}

func (p *progress) finish() {
	if p.bar != nil {
		_ = p.bar.Finish()
	}
}

func newSearchCommand(root *rootOptions) *cobra.Command {
	var (
		req        query.Request
		ignoreCase bool
		contextN   int
		jsonOutput bool
	)
	cmd := &cobra.Command{
		Use:   "search <token>...",
		Short: "Find files containing whole tokens",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := root.open(cmd.Context(), appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			req.Query = strings.Join(args, " ")
			if ignoreCase {
				caseSensitive := false
				req.CaseSensitive = &caseSensitive
			}
			if cmd.Flags().Changed("context") {
				req.Context = true
				req.ContextLines = contextN
			}
			resp, err := a.engine.Search(cmd.Context(), req)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, resp)
			}
			fmt.Fprintln(cmd.OutOrStdout(), tools.FormatSearchResults(resp))
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar((*string)(&req.Scope), "scope", "", "code, text or all (default code)")
	flags.StringVar((*string)(&req.Mode), "mode", "", "and or or (default and)")
	flags.StringVar(&req.Group, "group", "", "Restrict results to a configured group of roots")
	flags.StringVar(&req.PathGlob, "glob", "", "Restrict results to paths matching a glob")
	flags.IntVar(&req.MaxResults, "max", 0, "Maximum number of files")
	flags.BoolVarP(&ignoreCase, "ignore-case", "i", false, "Match code tokens case-insensitively")
	flags.IntVarP(&contextN, "context", "C", 0, "Show matching lines with N lines of context")
	flags.BoolVar(&jsonOutput, "json", false, "Print the response as JSON")
	return cmd
}

func newFilesCommand(root *rootOptions) *cobra.Command {
	var args tools.FilesArgs
	cmd := &cobra.Command{
		Use:   "files [pattern]",
		Short: "List indexed files by glob pattern",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, positional []string) error {
			a, err := root.open(cmd.Context(), appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			args.Pattern = "**"
			if len(positional) == 1 {
				args.Pattern = positional[0]
			}
			h := &tools.FilesHandler{Catalog: a.indexer.Catalog(), Logger: a.logger}
			result, _, err := h.Handle(cmd.Context(), nil, args)
			return printToolResult(cmd, result, err)
		},
	}
	cmd.Flags().BoolVar(&args.NameOnly, "name-only", false, "Print paths only")
	cmd.Flags().BoolVar(&args.DiagnosticsOnly, "diagnostics", false, "List only files recorded with a problem")
	cmd.Flags().IntVar(&args.MaxResults, "max", 0, "Maximum number of files (default 50)")
	return cmd
}

func newTokensCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tokens <file>",
		Short: "Show the tokens committed for one file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := root.open(cmd.Context(), appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			path := args[0]
			if !filepath.IsAbs(path) {
				if abs, err := filepath.Abs(path); err == nil {
					if _, statErr := os.Stat(abs); statErr == nil {
						path = abs
					}
				}
			}
			h := &tools.TokensHandler{State: a.state, Catalog: a.indexer.Catalog(), Roots: a.roots, Logger: a.logger}
			result, _, err := h.Handle(cmd.Context(), nil, tools.TokensArgs{FilePath: path})
			return printToolResult(cmd, result, err)
		},
	}
}

func newStatusCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show what the index holds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := root.open(cmd.Context(), appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			h := a.statusHandler(time.Now())
			fmt.Fprint(cmd.OutOrStdout(), h.Report())
			return nil
		},
	}
}

func newVerifyCommand(root *rootOptions) *cobra.Command {
	var repair bool
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Compare the index with its recorded state",
		Long: `Checks that every file recorded in the index state has an index document with
the same tokens. With --repair, divergent files are re-extracted and stray
documents removed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := root.open(cmd.Context(), appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.indexer.Verify(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Checked %d files: %d missing in index, %d stray documents, %d divergent\n",
				report.Checked, len(report.MissingInIndex), len(report.MissingInState), len(report.Divergent))
			for _, path := range report.MissingInIndex {
				fmt.Fprintf(out, "missing in index: %s\n", path)
			}
			for _, path := range report.MissingInState {
				fmt.Fprintf(out, "stray document: %s\n", path)
			}
			for _, d := range report.Divergent {
				fmt.Fprintf(out, "\n%s (%s)\n%s", d.Path, d.Reason, d.Diff)
			}
			if report.Consistent() || !repair {
				if !report.Consistent() {
					return fmt.Errorf("index is inconsistent; run verify --repair")
				}
				return nil
			}

			if err := a.indexer.Repair(cmd.Context(), report); err != nil {
				return err
			}
			result, err := a.indexer.RunPass(cmd.Context(), pipeline.PassOptions{})
			if result != nil {
				fmt.Fprint(out, "\n"+tools.FormatPassResult(result))
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&repair, "repair", false, "Re-extract divergent files and drop stray documents")
	return cmd
}

func newConfigCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create the configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "init [path]",
		Short: "Write the default configuration",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "tokenindex.yaml"
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := config.Default().Save(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			return writeJSON(cmd, cfg)
		},
	})
	return cmd
}

func newRegisterCommand() *cobra.Command {
	var serverName string
	cmd := &cobra.Command{
		Use:   "register <project|user> [directory] [-- server flags]",
		Short: "Add this server to an MCP client configuration",
		Long: `Writes an entry running "tokenindex-mcp serve" into <directory>/.mcp.json
(project scope) or ~/.claude.json (user scope). Flags after -- are passed to serve.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			positional, serverArgs := register.SplitArgs(args, cmd.ArgsLenAtDash())
			if len(positional) == 0 || len(positional) > 2 {
				return fmt.Errorf("expected a scope and an optional directory")
			}
			scope, err := register.ParseScope(positional[0])
			if err != nil {
				return err
			}
			opts := register.Options{ServerName: serverName, Scope: scope, ServerArgs: serverArgs}
			if len(positional) == 2 {
				opts.Directory = positional[1]
			}
			configPath, err := register.Register(opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Registered in %s\n", configPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&serverName, "name", "", "Server name (default: binary name without -mcp)")
	return cmd
}

// statusHandler builds the status tool over the opened app.
func (a *app) statusHandler(started time.Time) *tools.StatusHandler {
	return &tools.StatusHandler{
		Catalog:   a.indexer.Catalog(),
		Index:     a.store,
		LastPass:  a.indexer.LastPass,
		StartTime: started,
		Roots:     a.roots,
		DataDir:   a.dataDir,
		Logger:    a.logger,
	}
}

// printToolResult prints the text of a tool result; error results fail the command.
func printToolResult(cmd *cobra.Command, result *mcp.CallToolResult, err error) error {
	if err != nil {
		return err
	}
	var text string
	for _, content := range result.Content {
		if tc, ok := content.(*mcp.TextContent); ok {
			text += tc.Text
		}
	}
	if result.IsError {
		return fmt.Errorf("%s", text)
	}
	fmt.Fprintln(cmd.OutOrStdout(), text)
	return nil
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
