package ignore

import (
	"path/filepath"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	gitignore "github.com/denormal/go-gitignore"
)

// DefaultIgnoreFiles are the per-directory ignore files honoured when none are configured.
var DefaultIgnoreFiles = []string{".gitignore", ".tokenindexignore"}

// Matcher decides whether a path under one root should be skipped during enumeration.
// It combines default patterns, nested ignore files (.gitignore and friends, in every
// directory), exclude globs and include globs.
// Thread-safe: Reload() acquires a write lock, the query methods acquire a read lock.
type Matcher struct {
	mu               sync.RWMutex
	rootDir          string
	ignoreFiles      []string
	repositories     []gitignore.GitIgnore
	exclude          []string
	include          []string
	maxFileSizeBytes int64
}

// MatcherOptions configures the ignore matcher.
type MatcherOptions struct {
	RootDir          string
	IgnoreFiles      []string
	Exclude          []string
	Include          []string
	MaxFileSizeBytes int64
}

// NewMatcher creates an ignore matcher for a single root directory.
func NewMatcher(options MatcherOptions) *Matcher {
	matcher := &Matcher{
		rootDir:          options.RootDir,
		ignoreFiles:      options.IgnoreFiles,
		exclude:          options.Exclude,
		include:          options.Include,
		maxFileSizeBytes: options.MaxFileSizeBytes,
	}
	if matcher.ignoreFiles == nil {
		matcher.ignoreFiles = DefaultIgnoreFiles
	}
	if matcher.maxFileSizeBytes <= 0 {
		matcher.maxFileSizeBytes = 1024 * 1024
	}
	matcher.repositories = loadRepositories(matcher.rootDir, matcher.ignoreFiles)
	return matcher
}

// RootDir returns the root this matcher applies to.
func (m *Matcher) RootDir() string {
	return m.rootDir
}

// ShouldIgnore returns true if the file at absolutePath should be excluded from indexing.
func (m *Matcher) ShouldIgnore(absolutePath string) bool {
	if m.shouldIgnore(absolutePath, false) {
		return true
	}
	return !m.isIncluded(absolutePath)
}

// ShouldIgnoreDir returns true if a directory should be skipped entirely during traversal.
func (m *Matcher) ShouldIgnoreDir(absolutePath string) bool {
	switch filepath.Base(absolutePath) {
	case ".git", ".svn", ".hg", "node_modules", "__pycache__",
		".idea", ".vscode", ".vs", ".next", ".nuxt",
		".cache", ".parcel-cache", "coverage", ".nyc_output", "htmlcov",
		".venv", "venv", ".tokenindex":
		return true
	}
	return m.shouldIgnore(absolutePath, true)
}

// IsFileTooLarge returns true if the file exceeds the max file size limit.
func (m *Matcher) IsFileTooLarge(fileSize int64) bool {
	return fileSize > m.maxFileSizeBytes
}

// MaxFileSizeBytes returns the configured maximum file size.
func (m *Matcher) MaxFileSizeBytes() int64 {
	return m.maxFileSizeBytes
}

// IsIgnoreFile reports whether name is one of the ignore files this matcher reads.
func (m *Matcher) IsIgnoreFile(name string) bool {
	base := filepath.Base(name)
	for _, f := range m.ignoreFiles {
		if base == f {
			return true
		}
	}
	return false
}

// Reload drops every cached ignore file so edits are picked up by the next match.
func (m *Matcher) Reload() {
	repositories := loadRepositories(m.rootDir, m.ignoreFiles)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.repositories = repositories
}

func (m *Matcher) shouldIgnore(absolutePath string, isDir bool) bool {
	relativePath, ok := m.relative(absolutePath)
	if !ok {
		return true
	}
	if relativePath == "." {
		return false
	}

	if IsDefaultIgnored(relativePath) {
		return true
	}

	m.mu.RLock()
	repositories := m.repositories
	m.mu.RUnlock()

	osRelative := filepath.FromSlash(relativePath)
	for _, repository := range repositories {
		match := repository.Relative(osRelative, isDir)
		if match != nil && match.Ignore() {
			return true
		}
	}

	return matchesAny(m.exclude, relativePath)
}

func (m *Matcher) isIncluded(absolutePath string) bool {
	if len(m.include) == 0 {
		return true
	}
	relativePath, ok := m.relative(absolutePath)
	if !ok {
		return false
	}
	return matchesAny(m.include, relativePath)
}

// relative returns the slash-separated path of absolutePath below the root.
func (m *Matcher) relative(absolutePath string) (string, bool) {
	relativePath, err := filepath.Rel(m.rootDir, absolutePath)
	if err != nil || relativePath == ".." || strings.HasPrefix(relativePath, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(relativePath), true
}

// matchesAny reports whether a doublestar pattern matches the relative path or its base name.
func matchesAny(patterns []string, relativePath string) bool {
	baseName := relativePath
	if i := strings.LastIndexByte(relativePath, '/'); i >= 0 {
		baseName = relativePath[i+1:]
	}
	for _, pattern := range patterns {
		if ok, _ := doublestar.Match(pattern, relativePath); ok {
			return true
		}
		if ok, _ := doublestar.Match(pattern, baseName); ok {
			return true
		}
	}
	return false
}

// loadRepositories opens one nested ignore-file repository per configured file name.
func loadRepositories(rootDir string, ignoreFiles []string) []gitignore.GitIgnore {
	repositories := make([]gitignore.GitIgnore, 0, len(ignoreFiles))
	for _, name := range ignoreFiles {
		repository, err := gitignore.NewRepositoryWithFile(rootDir, name)
		if err != nil || repository == nil {
			continue
		}
		repositories = append(repositories, repository)
	}
	return repositories
}
