package tools

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"time"

	"github.com/lexandro/tokenindex-mcp/index"
	"github.com/lexandro/tokenindex-mcp/pipeline"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// StatusArgs defines the input parameters for the tokenindex_status tool (none required).
type StatusArgs struct{}

// DocCounter reports the number of committed index documents.
type DocCounter interface {
	DocCount() (uint64, error)
}

// StatusHandler holds the dependencies for the status tool.
type StatusHandler struct {
	Catalog   *index.Catalog
	Index     DocCounter
	LastPass  func() *pipeline.PassResult
	StartTime time.Time
	Roots     []string
	DataDir   string
	Logger    *slog.Logger
}

// Handle processes a tokenindex_status request.
func (h *StatusHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args StatusArgs) (*mcp.CallToolResult, any, error) {
	text := h.Report()
	h.Logger.Info("tokenindex_status", "files", h.Catalog.Len())
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}, nil, nil
}

// Report renders the status text; the CLI status command prints it too.
func (h *StatusHandler) Report() string {
	var builder strings.Builder

	fileCount := h.Catalog.Len()
	totalSize := h.Catalog.TotalSizeBytes()
	uptime := time.Since(h.StartTime)

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	builder.WriteString("=== tokenindex-mcp Status ===\n\n")
	fmt.Fprintf(&builder, "Roots: %s\n", strings.Join(h.Roots, ", "))
	if h.DataDir != "" {
		fmt.Fprintf(&builder, "Data directory: %s\n", h.DataDir)
	}
	fmt.Fprintf(&builder, "Uptime: %s\n", formatDuration(uptime))
	fmt.Fprintf(&builder, "Indexed files: %d\n", fileCount)
	if h.Index != nil {
		if docs, err := h.Index.DocCount(); err == nil {
			fmt.Fprintf(&builder, "Index documents: %d\n", docs)
		}
	}
	fmt.Fprintf(&builder, "Total indexed size: %s\n", formatFileSize(totalSize))
	fmt.Fprintf(&builder, "Files with diagnostics: %d\n", len(h.Catalog.WithDiagnostics()))
	fmt.Fprintf(&builder, "Memory usage: %s (heap: %s)\n",
		formatFileSize(int64(memStats.Alloc)),
		formatFileSize(int64(memStats.HeapAlloc)),
	)

	if h.LastPass != nil {
		if pass := h.LastPass(); pass != nil {
			fmt.Fprintf(&builder, "Last pass: %d added, %d updated, %d removed in %s\n",
				pass.Added, pass.Updated, pass.Removed, pass.Elapsed.Round(time.Millisecond))
		}
	}

	writeCounts(&builder, "Strategies", h.Catalog.StrategyCounts())
	writeCounts(&builder, "Languages", h.Catalog.LanguageCounts())
	return builder.String()
}

func writeCounts(builder *strings.Builder, title string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	fmt.Fprintf(builder, "\n%s:\n", title)
	for _, name := range sortedCounts(counts) {
		fmt.Fprintf(builder, "  %-20s %d files\n", orUnknown(name), counts[name])
	}
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	totalSeconds := int(d.Seconds())
	if totalSeconds < 60 {
		return fmt.Sprintf("%ds", totalSeconds)
	}
	totalMinutes := totalSeconds / 60
	remainderSeconds := totalSeconds % 60
	if totalMinutes < 60 {
		return fmt.Sprintf("%dm%ds", totalMinutes, remainderSeconds)
	}
	hours := totalMinutes / 60
	remainderMinutes := totalMinutes % 60
	return fmt.Sprintf("%dh%dm", hours, remainderMinutes)
}
