package indexerr

import (
	"sort"
	"sync"
)

// Diagnostic is the recorded form of a non-fatal per-file problem.
type Diagnostic struct {
	Path    string `json:"path"`
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

// Diagnose turns an error into a diagnostic for path.
func Diagnose(path string, err error) Diagnostic {
	return Diagnostic{Path: path, Kind: KindOf(err), Message: err.Error()}
}

// Diagnostics collects diagnostics from concurrent workers.
type Diagnostics struct {
	mu    sync.Mutex
	items []Diagnostic
}

// Add records err against path. A nil error is ignored.
func (d *Diagnostics) Add(path string, err error) {
	if err == nil {
		return
	}
	d.Record(Diagnose(path, err))
}

// Record appends a prepared diagnostic.
func (d *Diagnostics) Record(diag Diagnostic) {
	d.mu.Lock()
	d.items = append(d.items, diag)
	d.mu.Unlock()
}

// Len returns the number of recorded diagnostics.
func (d *Diagnostics) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.items)
}

// Items returns the diagnostics sorted by path, then kind.
func (d *Diagnostics) Items() []Diagnostic {
	d.mu.Lock()
	items := make([]Diagnostic, len(d.items))
	copy(items, d.items)
	d.mu.Unlock()

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Path != items[j].Path {
			return items[i].Path < items[j].Path
		}
		return items[i].Kind < items[j].Kind
	})
	return items
}

// CountByKind tallies diagnostics per kind.
func (d *Diagnostics) CountByKind() map[Kind]int {
	d.mu.Lock()
	defer d.mu.Unlock()
	counts := make(map[Kind]int)
	for _, item := range d.items {
		counts[item.Kind]++
	}
	return counts
}
