package tools

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lexandro/tokenindex-mcp/index"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// FilesArgs defines the input parameters for the tokenindex_files tool.
type FilesArgs struct {
	Pattern         string `json:"pattern" jsonschema:"Glob pattern to match indexed files (e.g. **/*.ts or src/**/*.go)"`
	NameOnly        bool   `json:"nameOnly,omitempty" jsonschema:"If true return only file paths without metadata"`
	DiagnosticsOnly bool   `json:"diagnosticsOnly,omitempty" jsonschema:"If true list only files recorded with a problem"`
	MaxResults      int    `json:"maxResults,omitempty" jsonschema:"Maximum number of results to return (default 50)"`
}

// FilesHandler holds the dependencies for the files tool.
type FilesHandler struct {
	Catalog *index.Catalog
	Logger  *slog.Logger
}

// Handle processes a tokenindex_files request.
func (h *FilesHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args FilesArgs) (*mcp.CallToolResult, any, error) {
	start := time.Now()

	if args.Pattern == "" && !args.DiagnosticsOnly {
		h.Logger.Warn("tokenindex_files called with empty pattern")
		return errorResult("Error: pattern parameter is required"), nil, nil
	}

	var (
		results []*index.IndexedFile
		total   int
	)
	if args.DiagnosticsOnly {
		for _, file := range h.Catalog.WithDiagnostics() {
			if args.Pattern != "" && !file.Match(args.Pattern) {
				continue
			}
			total++
			if args.MaxResults <= 0 || len(results) < args.MaxResults {
				results = append(results, file)
			}
		}
	} else {
		var err error
		results, total, err = h.Catalog.SearchByGlob(args.Pattern, args.MaxResults)
		if err != nil {
			h.Logger.Error("tokenindex_files failed", "pattern", args.Pattern, "error", err)
			return errorResult(fmt.Sprintf("Search error: %v", err)), nil, nil
		}
	}

	h.Logger.Info("tokenindex_files",
		"pattern", args.Pattern,
		"results", len(results),
		"total", total,
		"elapsed", time.Since(start),
	)

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: FormatFileResults(results, total, args.NameOnly)}},
	}, nil, nil
}
