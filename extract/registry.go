package extract

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/lexers"
	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultLexerCacheSize = 256

// LexerRegistry resolves chroma lexers by name or file name and caches the
// answers, including misses. lexers.Match scans every registered pattern.
type LexerRegistry struct {
	cache *lru.Cache[string, chroma.Lexer]
}

// NewLexerRegistry creates a registry caching up to size lookups.
func NewLexerRegistry(size int) (*LexerRegistry, error) {
	if size <= 0 {
		size = defaultLexerCacheSize
	}
	cache, err := lru.New[string, chroma.Lexer](size)
	if err != nil {
		return nil, fmt.Errorf("creating lexer cache: %w", err)
	}
	return &LexerRegistry{cache: cache}, nil
}

// ByName returns the lexer registered under a name or alias, or nil.
func (r *LexerRegistry) ByName(name string) chroma.Lexer {
	if name == "" {
		return nil
	}
	key := "name:" + strings.ToLower(name)
	if lexer, ok := r.cache.Get(key); ok {
		return lexer
	}
	lexer := usable(lexers.Get(name))
	r.cache.Add(key, lexer)
	return lexer
}

// ForFile returns the lexer matching a file name, or nil.
func (r *LexerRegistry) ForFile(filename string) chroma.Lexer {
	base := filepath.Base(filename)
	key := "file:" + strings.ToLower(filepath.Ext(base))
	if filepath.Ext(base) == "" {
		key = "base:" + base
	}
	if lexer, ok := r.cache.Get(key); ok {
		return lexer
	}
	lexer := usable(lexers.Match(base))
	r.cache.Add(key, lexer)
	return lexer
}

// LexerFor reports the lexer name for a file, for the language classifier.
func (r *LexerRegistry) LexerFor(filename string) (string, bool) {
	lexer := r.ForFile(filename)
	if lexer == nil {
		return "", false
	}
	return lexer.Config().Name, true
}

// usable drops lexers that never produce names.
func usable(lexer chroma.Lexer) chroma.Lexer {
	if lexer == nil {
		return nil
	}
	switch strings.ToLower(lexer.Config().Name) {
	case "plaintext", "fallback", "text only":
		return nil
	}
	return lexer
}
