package tools

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/lexandro/tokenindex-mcp/index"
	"github.com/lexandro/tokenindex-mcp/state"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// TokensArgs defines the input parameters for the tokenindex_tokens tool.
type TokensArgs struct {
	FilePath string `json:"filePath" jsonschema:"Indexed file, relative to its root (e.g. src/main.go) or absolute"`
}

// TokensHandler shows the tokens committed for one file.
type TokensHandler struct {
	State   *state.Store
	Catalog *index.Catalog
	Roots   []string
	Logger  *slog.Logger
}

// Handle processes a tokenindex_tokens request.
func (h *TokensHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args TokensArgs) (*mcp.CallToolResult, any, error) {
	start := time.Now()

	if args.FilePath == "" {
		h.Logger.Warn("tokenindex_tokens called with empty filePath")
		return errorResult("Error: filePath parameter is required"), nil, nil
	}

	for _, candidate := range h.candidates(args.FilePath) {
		rec, ok, err := h.State.Get(ctx, candidate)
		if err != nil {
			h.Logger.Error("tokenindex_tokens failed", "filePath", args.FilePath, "error", err)
			return errorResult(fmt.Sprintf("Read error: %v", err)), nil, nil
		}
		if !ok {
			continue
		}

		display := args.FilePath
		if file := h.Catalog.Get(candidate); file != nil {
			display = file.RelativePath
		}
		h.Logger.Info("tokenindex_tokens", "filePath", args.FilePath, "elapsed", time.Since(start))
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: FormatTokens(display, rec)}},
		}, nil, nil
	}

	h.Logger.Info("tokenindex_tokens file not found", "filePath", args.FilePath)
	return errorResult(fmt.Sprintf("File not found in index: %s", args.FilePath)), nil, nil
}

// candidates lists the absolute paths a user-supplied path may refer to.
func (h *TokensHandler) candidates(path string) []string {
	path = filepath.FromSlash(path)
	if filepath.IsAbs(path) {
		return []string{filepath.Clean(path)}
	}
	out := make([]string, 0, len(h.Roots))
	for _, root := range h.Roots {
		out = append(out, filepath.Join(root, path))
	}
	return out
}
