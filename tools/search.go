package tools

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lexandro/tokenindex-mcp/indexerr"
	"github.com/lexandro/tokenindex-mcp/query"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// SearchArgs defines the input parameters for the tokenindex_search tool.
type SearchArgs struct {
	Query         string `json:"query" jsonschema:"One or more whole tokens separated by spaces, e.g. parseConfig or itertools chain"`
	CaseSensitive *bool  `json:"caseSensitive,omitempty" jsonschema:"Match identifier case exactly (server default when omitted)"`
	Scope         string `json:"scope,omitempty" jsonschema:"code (identifiers and literals, default), text (words from comments and prose) or all"`
	Mode          string `json:"mode,omitempty" jsonschema:"and (every token must occur, default) or or (any token)"`
	Group         string `json:"group,omitempty" jsonschema:"Restrict results to the roots of a configured group"`
	PathGlob      string `json:"pathGlob,omitempty" jsonschema:"Optional glob to filter files (e.g. **/*.go)"`
	MaxResults    int    `json:"maxResults,omitempty" jsonschema:"Maximum number of files to return"`
	Context       bool   `json:"context,omitempty" jsonschema:"Include the matching lines of each file"`
	ContextLines  int    `json:"contextLines,omitempty" jsonschema:"Lines of context around each matching line (implies context)"`
}

// SearchHandler holds the dependencies for the search tool.
type SearchHandler struct {
	Engine *query.Engine
	Logger *slog.Logger
}

// Handle processes a tokenindex_search request.
func (h *SearchHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args SearchArgs) (*mcp.CallToolResult, any, error) {
	start := time.Now()

	resp, err := h.Engine.Search(ctx, query.Request{
		Query:         args.Query,
		CaseSensitive: args.CaseSensitive,
		Scope:         query.Scope(args.Scope),
		Mode:          query.Mode(args.Mode),
		Group:         args.Group,
		PathGlob:      args.PathGlob,
		MaxResults:    args.MaxResults,
		Context:       args.Context || args.ContextLines > 0,
		ContextLines:  args.ContextLines,
	})
	if indexerr.IsEmptyQuery(err) {
		h.Logger.Warn("tokenindex_search called with empty query")
		return errorResult("Error: query parameter is required"), nil, nil
	}
	if err != nil {
		h.Logger.Error("tokenindex_search failed", "query", args.Query, "error", err)
		return errorResult(fmt.Sprintf("Search error: %v", err)), nil, nil
	}

	h.Logger.Info("tokenindex_search",
		"query", args.Query,
		"scope", args.Scope,
		"pathGlob", args.PathGlob,
		"files", resp.Total,
		"elapsed", time.Since(start),
	)

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: FormatSearchResults(resp)}},
	}, nil, nil
}

func errorResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: true,
	}
}
