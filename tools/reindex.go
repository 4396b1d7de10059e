package tools

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lexandro/tokenindex-mcp/pipeline"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ReindexArgs defines the input parameters for the tokenindex_reindex tool.
type ReindexArgs struct {
	Full   bool `json:"full,omitempty" jsonschema:"Re-extract every file instead of only changed ones"`
	Rehash bool `json:"rehash,omitempty" jsonschema:"Compare content hashes of every file to find changes"`
}

// ReindexFunc runs one indexing pass. It is provided by main to avoid circular dependencies.
type ReindexFunc func(ctx context.Context, opts pipeline.PassOptions) (*pipeline.PassResult, error)

// ReindexHandler holds the dependencies for the reindex tool.
type ReindexHandler struct {
	DoReindex ReindexFunc
	Logger    *slog.Logger
}

// Handle processes a tokenindex_reindex request.
func (h *ReindexHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args ReindexArgs) (*mcp.CallToolResult, any, error) {
	h.Logger.Info("tokenindex_reindex started", "full", args.Full, "rehash", args.Rehash)

	result, err := h.DoReindex(ctx, pipeline.PassOptions{Full: args.Full, Rehash: args.Rehash})
	if err != nil {
		h.Logger.Error("tokenindex_reindex failed", "error", err)
		return errorResult(fmt.Sprintf("Reindex error: %v", err)), nil, nil
	}

	h.Logger.Info("tokenindex_reindex complete",
		"passId", result.ID,
		"added", result.Added,
		"updated", result.Updated,
		"removed", result.Removed,
		"elapsed", result.Elapsed,
	)

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: FormatPassResult(result)}},
	}, nil, nil
}
