package pipeline

import (
	"context"
	"fmt"
	"sort"

	"github.com/lexandro/tokenindex-mcp/state"
	"github.com/pmezard/go-difflib/difflib"
)

// Divergence is one path whose IndexState entry and index document disagree.
type Divergence struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
	// Diff is a unified diff from the IndexState tokens to the index tokens.
	Diff string `json:"diff,omitempty"`
}

// VerifyReport is the outcome of comparing IndexState with the persistent index.
type VerifyReport struct {
	Checked int `json:"checked"`
	// MissingInIndex are recorded paths without an index document.
	MissingInIndex []string `json:"missingInIndex,omitempty"`
	// MissingInState are index documents IndexState does not record.
	MissingInState []string     `json:"missingInState,omitempty"`
	Divergent      []Divergence `json:"divergent,omitempty"`
}

// Consistent reports whether no problem was found.
func (r *VerifyReport) Consistent() bool {
	return len(r.MissingInIndex) == 0 && len(r.MissingInState) == 0 && len(r.Divergent) == 0
}

// Verify compares the path sets and per-path token sets of IndexState and the
// persistent index. It does not look at the file tree.
func (ix *Indexer) Verify(ctx context.Context) (*VerifyReport, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	report := &VerifyReport{}
	recorded := make(map[string]bool)
	err := ix.state.Each(ctx, func(rec state.Record) error {
		report.Checked++
		recorded[rec.Path] = true

		doc, ok, err := ix.index.Get(ctx, rec.Path)
		if err != nil {
			return fmt.Errorf("reading index document %s: %w", rec.Path, err)
		}
		if !ok {
			report.MissingInIndex = append(report.MissingInIndex, rec.Path)
			return nil
		}
		want := tokenLines(rec.Code, rec.Text)
		got := tokenLines(doc.Code, doc.Text)
		if equalLines(want, got) {
			return nil
		}
		diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
			A:        want,
			B:        got,
			FromFile: "state:" + rec.Path,
			ToFile:   "index:" + rec.Path,
			Context:  1,
		})
		if err != nil {
			return fmt.Errorf("diffing %s: %w", rec.Path, err)
		}
		report.Divergent = append(report.Divergent, Divergence{Path: rec.Path, Reason: "token sets differ", Diff: diff})
		return nil
	})
	if err != nil {
		return nil, err
	}

	paths, err := ix.index.Paths(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing index documents: %w", err)
	}
	for _, p := range paths {
		if !recorded[p] {
			report.MissingInState = append(report.MissingInState, p)
		}
	}
	sort.Strings(report.MissingInIndex)
	return report, nil
}

// Repair schedules the problems of a report for the next pass: recorded paths
// are invalidated so they are re-extracted, unrecorded index documents are removed.
func (ix *Indexer) Repair(ctx context.Context, report *VerifyReport) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	invalid := append([]string(nil), report.MissingInIndex...)
	for _, d := range report.Divergent {
		invalid = append(invalid, d.Path)
	}
	if len(invalid) > 0 {
		if err := ix.state.Invalidate(ctx, invalid); err != nil {
			return fmt.Errorf("invalidating entries: %w", err)
		}
	}
	if len(report.MissingInState) > 0 {
		for _, p := range report.MissingInState {
			ix.index.Remove(p)
		}
		if err := ix.index.Commit(ctx); err != nil {
			ix.index.Discard()
			return fmt.Errorf("removing unrecorded documents: %w", err)
		}
	}
	ix.logger.Info("repair scheduled", "invalidated", len(invalid), "removed", len(report.MissingInState))
	return nil
}

// tokenLines renders token sets one per line for diffing.
func tokenLines(code, text []string) []string {
	lines := make([]string, 0, len(code)+len(text))
	for _, t := range code {
		lines = append(lines, "code "+t+"\n")
	}
	for _, t := range text {
		lines = append(lines, "text "+t+"\n")
	}
	return lines
}

func equalLines(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
