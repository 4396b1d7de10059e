package query

import (
	"os"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/lexandro/tokenindex-mcp/nlp"
)

// LineMatch is one line containing a matched token.
type LineMatch struct {
	LineNumber    int      `json:"line"`
	LineText      string   `json:"text"`
	ContextBefore []string `json:"before,omitempty"`
	ContextAfter  []string `json:"after,omitempty"`
}

// lineMatcher finds the lines a file matched on. Code tokens follow the case
// setting of the search; text tokens are compared case-folded and, with a model,
// by their reduced terms.
type lineMatcher struct {
	code     []string
	foldCode bool
	text     []string
	terms    map[string]bool
	model    *nlp.Model
}

func (e *Engine) newLineMatcher(tokens []string, scope Scope, caseSensitive bool) *lineMatcher {
	m := &lineMatcher{foldCode: !caseSensitive, terms: make(map[string]bool), model: e.options.Model}
	for _, token := range tokens {
		if scope == ScopeCode || scope == ScopeAll {
			if m.foldCode {
				m.code = append(m.code, strings.ToLower(token))
			} else {
				m.code = append(m.code, token)
			}
		}
		if scope == ScopeText || scope == ScopeAll {
			m.text = append(m.text, strings.ToLower(token))
			for _, term := range e.textTerms(token) {
				m.terms[term] = true
			}
		}
	}
	return m
}

func (m *lineMatcher) match(line string) bool {
	lower := strings.ToLower(line)
	if len(m.code) > 0 {
		haystack := line
		if m.foldCode {
			haystack = lower
		}
		if containsAnyToken(haystack, m.code) {
			return true
		}
	}
	if len(m.text) > 0 && containsAnyToken(lower, m.text) {
		return true
	}
	if m.model != nil && len(m.terms) > 0 {
		terms, err := m.model.Terms(line)
		if err != nil {
			return false
		}
		for _, term := range terms {
			if m.terms[term] {
				return true
			}
		}
	}
	return false
}

// findMatchingLines re-reads a file and returns the lines the matcher accepts.
// The index stores no positions; files edited since the last pass may yield
// fewer matches.
func (e *Engine) findMatchingLines(path string, matcher *lineMatcher, contextLines int) []LineMatch {
	data, err := os.ReadFile(path)
	if err != nil {
		e.logger.Debug("context lines unavailable", "path", path, "error", err)
		return nil
	}
	lines := strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
	limit := e.options.MaxLineMatches

	var matches []LineMatch
	for lineIdx, line := range lines {
		if !matcher.match(line) {
			continue
		}

		match := LineMatch{LineNumber: lineIdx + 1, LineText: line}
		if contextLines > 0 {
			startCtx := max(lineIdx-contextLines, 0)
			match.ContextBefore = append(match.ContextBefore, lines[startCtx:lineIdx]...)
			endCtx := min(lineIdx+contextLines+1, len(lines))
			match.ContextAfter = append(match.ContextAfter, lines[lineIdx+1:endCtx]...)
		}
		matches = append(matches, match)
		if limit > 0 && len(matches) >= limit {
			break
		}
	}
	return matches
}

func containsAnyToken(line string, tokens []string) bool {
	for _, token := range tokens {
		if containsToken(line, token) {
			return true
		}
	}
	return false
}

// containsToken reports an occurrence of token not adjoined by identifier characters.
func containsToken(line, token string) bool {
	if token == "" {
		return false
	}
	for offset := 0; offset <= len(line)-len(token); {
		i := strings.Index(line[offset:], token)
		if i < 0 {
			return false
		}
		start := offset + i
		end := start + len(token)
		before, _ := utf8.DecodeLastRuneInString(line[:start])
		after, _ := utf8.DecodeRuneInString(line[end:])
		if (start == 0 || !isWordRune(before)) && (end == len(line) || !isWordRune(after)) {
			return true
		}
		_, size := utf8.DecodeRuneInString(line[start:])
		offset = start + size
	}
	return false
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r)
}
