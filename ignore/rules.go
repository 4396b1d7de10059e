package ignore

import (
	"path/filepath"
	"strings"
)

// Rules holds one Matcher per configured root and dispatches by path.
type Rules []*Matcher

// For returns the matcher whose root is the longest prefix of path, or nil.
func (r Rules) For(path string) *Matcher {
	var best *Matcher
	for _, m := range r {
		root := m.RootDir()
		if path != root && !strings.HasPrefix(path, root+string(filepath.Separator)) {
			continue
		}
		if best == nil || len(root) > len(best.RootDir()) {
			best = m
		}
	}
	return best
}

// ShouldIgnore reports whether a file is excluded; paths outside every root are excluded.
func (r Rules) ShouldIgnore(path string) bool {
	m := r.For(path)
	if m == nil {
		return true
	}
	return m.ShouldIgnore(path)
}

// ShouldIgnoreDir reports whether a directory is excluded.
func (r Rules) ShouldIgnoreDir(path string) bool {
	m := r.For(path)
	if m == nil {
		return true
	}
	return m.ShouldIgnoreDir(path)
}

// IsIgnoreFile reports whether path names an ignore file of its root.
func (r Rules) IsIgnoreFile(path string) bool {
	m := r.For(path)
	return m != nil && m.IsIgnoreFile(path)
}

// Reload reloads the ignore files of every root.
func (r Rules) Reload() {
	for _, m := range r {
		m.Reload()
	}
}
