// Package server exposes the index over MCP (stdio) and an optional HTTP API.
package server

import (
	"github.com/lexandro/tokenindex-mcp/tools"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Version is reported to MCP clients.
const Version = "0.1.0"

// Handlers groups the tool handlers registered on the MCP server.
type Handlers struct {
	Search  *tools.SearchHandler
	Files   *tools.FilesHandler
	Tokens  *tools.TokensHandler
	Status  *tools.StatusHandler
	Reindex *tools.ReindexHandler
}

// Setup creates and configures the MCP server with all tool registrations.
func Setup(h Handlers) *mcp.Server {
	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    "tokenindex-mcp",
			Version: Version,
		},
		&mcp.ServerOptions{
			Instructions: `This server answers exact-token queries from a persistent index of identifiers, literals and prose words. A token either occurs in a file or it does not: there are no substring, prefix or fuzzy matches.

Use these tools to locate code by name:
- Use tokenindex_search to find every file that uses an identifier (e.g. a function, type or config key)
- Use tokenindex_files to list indexed files by glob, or files that had indexing problems
- Use tokenindex_tokens to see exactly which tokens a file contributed
- The index is refreshed by incremental passes; call tokenindex_reindex after large changes`,
		},
	)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name: "tokenindex_search",
		Description: `Find files containing whole tokens. Much faster than grep and never matches fragments: "iter" does not match "itertools".

Query: one or more tokens separated by spaces. mode "and" (default) requires all of them, "or" any.
Scope: "code" (identifiers and literals, default), "text" (words from comments, docs and prose, case-insensitive) or "all".
Filtering:
  - pathGlob: glob pattern relative to the root (e.g. "**/*.go")
  - group: a configured group of roots
Set context=true to include the matching lines.`,
	}, h.Search.Handle)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name: "tokenindex_files",
		Description: `List indexed files by glob pattern with language, strategy and token count.

Pattern examples:
  - "**/*.go" - all Go files
  - "src/**/*.ts" - TypeScript files under src/
  - "*.json" - JSON files in a root directory only
Set diagnosticsOnly=true to list files that could not be read, decoded or parsed.`,
	}, h.Files.Handle)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "tokenindex_tokens",
		Description: "Show the code and text tokens committed for one indexed file, with its language, strategy and last diagnostic.",
	}, h.Tokens.Handle)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "tokenindex_status",
		Description: "Show index status: file and document counts, size, strategies, languages, diagnostics, the last pass and uptime.",
	}, h.Status.Handle)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "tokenindex_reindex",
		Description: "Run an indexing pass now. Only changed files are re-extracted unless full=true; rehash=true compares content hashes of every file.",
	}, h.Reindex.Handle)

	return mcpServer
}
