package tools

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/lexandro/tokenindex-mcp/index"
	"github.com/lexandro/tokenindex-mcp/pipeline"
	"github.com/lexandro/tokenindex-mcp/query"
	"github.com/lexandro/tokenindex-mcp/state"
)

// FormatSearchResults renders a search response as text, one block per file.
func FormatSearchResults(resp *query.Response) string {
	if resp == nil || len(resp.Files) == 0 {
		return "No matches found."
	}

	var builder strings.Builder
	fmt.Fprintf(&builder, "Found %d files containing %s", resp.Total, strings.Join(resp.Tokens, " "))
	if resp.Truncated {
		fmt.Fprintf(&builder, " (showing %d)", len(resp.Files))
	}
	builder.WriteString(":\n\n")

	for i, file := range resp.Files {
		if i > 0 && len(file.Matches) > 0 {
			builder.WriteString("\n")
		}
		fmt.Fprintf(&builder, "── %s", file.RelativePath)
		if file.Language != "" {
			fmt.Fprintf(&builder, " (%s)", file.Language)
		}
		if len(resp.Tokens) > 1 {
			fmt.Fprintf(&builder, " [%s]", strings.Join(file.Tokens, ", "))
		}
		builder.WriteString("\n")

		for _, match := range file.Matches {
			for _, ctxLine := range match.ContextBefore {
				fmt.Fprintf(&builder, "  %s\n", ctxLine)
			}
			fmt.Fprintf(&builder, "  %d: %s\n", match.LineNumber, match.LineText)
			for _, ctxLine := range match.ContextAfter {
				fmt.Fprintf(&builder, "  %s\n", ctxLine)
			}
		}
	}
	return builder.String()
}

// FormatFileResults renders catalog entries.
func FormatFileResults(files []*index.IndexedFile, total int, nameOnly bool) string {
	if len(files) == 0 {
		return "No files matched."
	}

	var builder strings.Builder
	if total > len(files) {
		fmt.Fprintf(&builder, "Found %d files (showing %d):\n\n", total, len(files))
	} else {
		fmt.Fprintf(&builder, "Found %d files:\n\n", len(files))
	}

	for _, file := range files {
		if nameOnly {
			builder.WriteString(file.RelativePath)
			builder.WriteString("\n")
			continue
		}
		fmt.Fprintf(&builder, "  %s  (%s, %s, %s, %d tokens)\n",
			file.RelativePath,
			orUnknown(file.Language),
			file.Strategy,
			formatFileSize(file.SizeBytes),
			file.TokenCount,
		)
		if file.Diagnostic != "" {
			fmt.Fprintf(&builder, "    ! %s\n", file.Diagnostic)
		}
	}
	return builder.String()
}

// FormatTokens renders the committed token sets of one file.
func FormatTokens(displayPath string, rec state.Record) string {
	var builder strings.Builder
	fmt.Fprintf(&builder, "── %s (%s, %s) ──\n", displayPath, orUnknown(rec.Language), rec.Strategy)
	if rec.Diagnostic != "" {
		fmt.Fprintf(&builder, "Diagnostic: %s\n", rec.Diagnostic)
	}
	writeTokenList(&builder, "Code tokens", rec.Code)
	writeTokenList(&builder, "Text tokens", rec.Text)
	return builder.String()
}

func writeTokenList(builder *strings.Builder, title string, tokens []string) {
	fmt.Fprintf(builder, "%s (%d):\n", title, len(tokens))
	const perLine = 8
	for i := 0; i < len(tokens); i += perLine {
		end := min(i+perLine, len(tokens))
		fmt.Fprintf(builder, "  %s\n", strings.Join(tokens[i:end], " "))
	}
}

// FormatPassResult renders a one-pass summary.
func FormatPassResult(result *pipeline.PassResult) string {
	var builder strings.Builder
	kind := "Incremental"
	if result.Full {
		kind = "Full"
	}
	fmt.Fprintf(&builder, "%s pass complete in %s: %d added, %d updated, %d removed, %d unchanged",
		kind, result.Elapsed.Round(time.Millisecond), result.Added, result.Updated, result.Removed, result.Unchanged)
	if result.Carried > 0 {
		fmt.Fprintf(&builder, ", %d carried over", result.Carried)
	}
	builder.WriteString("\n")
	if result.Cancelled {
		builder.WriteString("Pass was cancelled; remaining files are picked up by the next pass.\n")
	}
	if len(result.Diagnostics) > 0 {
		fmt.Fprintf(&builder, "\nDiagnostics (%d):\n", len(result.Diagnostics))
		for _, d := range result.Diagnostics {
			fmt.Fprintf(&builder, "  [%s] %s\n", d.Kind, d.Message)
		}
	}
	return builder.String()
}

// sortedCounts orders a count map by count descending, then name.
func sortedCounts(counts map[string]int) []string {
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if counts[names[i]] != counts[names[j]] {
			return counts[names[i]] > counts[names[j]]
		}
		return names[i] < names[j]
	})
	return names
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

// formatFileSize converts bytes to a human-readable string.
func formatFileSize(bytes int64) string {
	switch {
	case bytes >= 1024*1024:
		return fmt.Sprintf("%.1f MB", float64(bytes)/(1024*1024))
	case bytes >= 1024:
		return fmt.Sprintf("%.1f KB", float64(bytes)/1024)
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
