package index

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// IndexedFile is the catalog view of one committed file.
type IndexedFile struct {
	Path         string    `json:"path"`                 // Absolute file path, the index document ID
	Root         string    `json:"root"`                 // Configured root the file was found under
	RelativePath string    `json:"relativePath"`         // Path relative to Root (forward slashes)
	Language     string    `json:"language,omitempty"`   // Classifier language
	Strategy     string    `json:"strategy"`             // Extraction strategy name
	SizeBytes    int64     `json:"sizeBytes"`            // File size in bytes
	ModTime      time.Time `json:"modTime"`              // Modification time at indexing
	TokenCount   int       `json:"tokenCount"`           // Distinct committed tokens
	Diagnostic   string    `json:"diagnostic,omitempty"` // Last recorded per-file problem, if any
}

// Catalog keeps the committed files in memory for listing and status queries.
// It mirrors IndexState and is only updated after a pass commits.
type Catalog struct {
	mu          sync.RWMutex
	files       map[string]*IndexedFile // key: absolute path
	sortedPaths []string
	dirty       bool
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{files: make(map[string]*IndexedFile)}
}

// Put adds or replaces a file.
func (c *Catalog) Put(file *IndexedFile) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.files[file.Path]; !exists {
		c.sortedPaths = append(c.sortedPaths, file.Path)
		c.dirty = true
	}
	c.files[file.Path] = file
}

// Remove drops a file.
func (c *Catalog) Remove(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.files[path]; !exists {
		return
	}
	delete(c.files, path)
	c.sortLocked()
	idx := sort.SearchStrings(c.sortedPaths, path)
	if idx < len(c.sortedPaths) && c.sortedPaths[idx] == path {
		c.sortedPaths = append(c.sortedPaths[:idx], c.sortedPaths[idx+1:]...)
	}
}

// Get returns the file at path, or nil.
func (c *Catalog) Get(path string) *IndexedFile {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.files[path]
}

// Len returns the number of files.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.files)
}

// TotalSizeBytes returns the summed size of all files.
func (c *Catalog) TotalSizeBytes() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var total int64
	for _, file := range c.files {
		total += file.SizeBytes
	}
	return total
}

// LanguageCounts returns language -> file count.
func (c *Catalog) LanguageCounts() map[string]int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	counts := make(map[string]int)
	for _, file := range c.files {
		counts[file.Language]++
	}
	return counts
}

// StrategyCounts returns strategy -> file count.
func (c *Catalog) StrategyCounts() map[string]int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	counts := make(map[string]int)
	for _, file := range c.files {
		counts[file.Strategy]++
	}
	return counts
}

// WithDiagnostics returns the files that carry a diagnostic, sorted by path.
func (c *Catalog) WithDiagnostics() []*IndexedFile {
	var out []*IndexedFile
	for _, file := range c.All() {
		if file.Diagnostic != "" {
			out = append(out, file)
		}
	}
	return out
}

// Match reports whether a doublestar pattern matches the file. Relative patterns
// are matched against the path below the root, absolute ones against the full path.
func (f *IndexedFile) Match(pattern string) bool {
	pattern = strings.ReplaceAll(pattern, "\\", "/")
	target := f.RelativePath
	if strings.HasPrefix(pattern, "/") || filepath.IsAbs(pattern) {
		target = filepath.ToSlash(f.Path)
	}
	matched, err := doublestar.Match(pattern, target)
	return err == nil && matched
}

// SearchByGlob returns up to maxResults files matching pattern, sorted by path.
func (c *Catalog) SearchByGlob(pattern string, maxResults int) ([]*IndexedFile, int, error) {
	if maxResults <= 0 {
		maxResults = 50
	}
	normalized := strings.ReplaceAll(pattern, "\\", "/")
	if !doublestar.ValidatePattern(normalized) {
		return nil, 0, fmt.Errorf("invalid glob pattern: %s", pattern)
	}

	var (
		results []*IndexedFile
		total   int
	)
	for _, file := range c.All() {
		if !file.Match(normalized) {
			continue
		}
		total++
		if len(results) < maxResults {
			results = append(results, file)
		}
	}
	return results, total, nil
}

// All returns every file sorted by path.
func (c *Catalog) All() []*IndexedFile {
	c.mu.Lock()
	c.sortLocked()
	paths := c.sortedPaths
	out := make([]*IndexedFile, 0, len(paths))
	for _, path := range paths {
		out = append(out, c.files[path])
	}
	c.mu.Unlock()
	return out
}

// Clear removes every file.
func (c *Catalog) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.files = make(map[string]*IndexedFile)
	c.sortedPaths = nil
	c.dirty = false
}

// sortLocked sorts lazily; a pass adds thousands of files at once.
func (c *Catalog) sortLocked() {
	if c.dirty {
		sort.Strings(c.sortedPaths)
		c.dirty = false
	}
}
