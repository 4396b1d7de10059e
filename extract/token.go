package extract

import (
	"sort"

	"github.com/lexandro/tokenindex-mcp/language"
)

// Kind classifies a token.
type Kind uint8

const (
	KindIdentifier Kind = iota
	KindLiteral
	KindWord
)

func (k Kind) String() string {
	switch k {
	case KindIdentifier:
		return "identifier"
	case KindLiteral:
		return "literal"
	case KindWord:
		return "word"
	}
	return "unknown"
}

// Position is a 1-based line and byte column.
type Position struct {
	Line   int
	Column int
}

// Token is one searchable unit of a file.
type Token struct {
	Text string
	Kind Kind
	Pos  Position
}

// Result is the outcome of extracting one file.
type Result struct {
	Path        string
	Language    string
	Strategy    language.Strategy
	Tokens      []Token
	Diagnostics []error
}

// Terms is the deduplicated, sorted token set of a file, split by index field.
type Terms struct {
	// Code holds identifiers and literals, case preserved.
	Code []string
	// Text holds natural-language words.
	Text []string
}

// Len returns the number of distinct terms.
func (t Terms) Len() int {
	return len(t.Code) + len(t.Text)
}

// Terms folds the token sequence into its index fields.
func (r *Result) Terms() Terms {
	code := make(map[string]struct{})
	text := make(map[string]struct{})
	for _, tok := range r.Tokens {
		if tok.Kind == KindWord {
			text[tok.Text] = struct{}{}
		} else {
			code[tok.Text] = struct{}{}
		}
	}
	return Terms{Code: sortedKeys(code), Text: sortedKeys(text)}
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
