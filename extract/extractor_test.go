package extract

import (
	"context"
	"testing"

	"github.com/lexandro/tokenindex-mcp/indexerr"
	"github.com/lexandro/tokenindex-mcp/language"
	"github.com/lexandro/tokenindex-mcp/nlp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExtractor(t *testing.T, options Options, withModel bool) *Extractor {
	t.Helper()
	var model *nlp.Model
	if withModel {
		var err error
		model, err = nlp.Load(nlp.Options{})
		require.NoError(t, err)
		t.Cleanup(func() { _ = model.Close() })
	}
	e, err := New(options, model, nil)
	require.NoError(t, err)
	return e
}

func classify(path string, content []byte) language.Classification {
	return language.NewClassifier(language.ClassifierOptions{}).Classify(path, content)
}

func extractFile(t *testing.T, e *Extractor, path, content string) Result {
	t.Helper()
	return e.Extract(context.Background(), path, classify(path, []byte(content)), []byte(content))
}

func Test_Extractor_StructuredPython(t *testing.T) {
	e := newTestExtractor(t, DefaultOptions(), true)
	src := "import itertools\nfrom itertools import chain\n\n# simple helper to sum values\ndef total(xs):\n    return sum(chain(xs))\n"

	result := extractFile(t, e, "/repo/util.py", src)
	require.Empty(t, result.Diagnostics)
	assert.Equal(t, language.StructuredSource, result.Strategy)

	terms := result.Terms()
	assert.Subset(t, terms.Code, []string{"itertools", "chain", "total", "xs", "sum"})
	assert.NotContains(t, terms.Code, "iter")
	assert.NotContains(t, terms.Code, "import")
	assert.NotContains(t, terms.Code, "def")
	assert.NotContains(t, terms.Code, "return")
	assert.Equal(t, []string{"helper", "simple", "sum", "values"}, terms.Text)
}

func Test_Extractor_TokenPositions(t *testing.T) {
	e := newTestExtractor(t, DefaultOptions(), false)
	result := extractFile(t, e, "/repo/main.go", "package main\n\nfunc run() {\n\tstartServer()\n}\n")

	var found bool
	for _, tok := range result.Tokens {
		if tok.Text == "startServer" {
			found = true
			assert.Equal(t, KindIdentifier, tok.Kind)
			assert.Equal(t, Position{Line: 4, Column: 2}, tok.Pos)
		}
	}
	assert.True(t, found, "startServer not extracted")
}

func Test_Extractor_CommentsDisabled(t *testing.T) {
	options := DefaultOptions()
	options.Comments = false
	e := newTestExtractor(t, options, true)

	result := extractFile(t, e, "/repo/util.py", "# simple helper to sum values\nanswer = 42\n")
	terms := result.Terms()
	assert.Empty(t, terms.Text)
	assert.Equal(t, []string{"answer"}, terms.Code)
}

func Test_Extractor_Literals(t *testing.T) {
	src := "package main\n\nconst limit = 42\n\nvar name = \"config_key\"\n"

	t.Run("disabled", func(t *testing.T) {
		e := newTestExtractor(t, DefaultOptions(), false)
		result := extractFile(t, e, "/repo/main.go", src)
		terms := result.Terms()
		assert.NotContains(t, terms.Code, "42")
		assert.NotContains(t, terms.Code, "config_key")
		assert.Contains(t, terms.Code, "limit")
	})

	t.Run("enabled", func(t *testing.T) {
		options := DefaultOptions()
		options.IndexLiterals = true
		e := newTestExtractor(t, options, false)
		result := extractFile(t, e, "/repo/main.go", src)
		terms := result.Terms()
		assert.Contains(t, terms.Code, "42")
		assert.Contains(t, terms.Code, "config_key")
	})
}

func Test_Extractor_ParseErrorFallsBackToLexer(t *testing.T) {
	e := newTestExtractor(t, DefaultOptions(), false)
	result := extractFile(t, e, "/repo/broken.py", "def broken(:\n    return valid_name\n")

	require.Len(t, result.Diagnostics, 1)
	var parseErr *indexerr.ParseError
	require.ErrorAs(t, result.Diagnostics[0], &parseErr)
	assert.Equal(t, "Python", parseErr.Language)

	terms := result.Terms()
	assert.Contains(t, terms.Code, "valid_name")
	assert.NotContains(t, terms.Code, "return")
}

func Test_Extractor_ParseFallbackReportsLexerErrors(t *testing.T) {
	model, err := nlp.Load(nlp.Options{})
	require.NoError(t, err)
	e, err := New(DefaultOptions(), model, nil)
	require.NoError(t, err)
	require.NoError(t, model.Close())

	result := extractFile(t, e, "/repo/broken.py", "def broken(:\n    # explain the fallback\n    return valid_name\n")

	require.Len(t, result.Diagnostics, 1)
	diag := result.Diagnostics[0]
	var parseErr *indexerr.ParseError
	require.ErrorAs(t, diag, &parseErr)
	assert.ErrorIs(t, diag, nlp.ErrClosed)
	assert.Equal(t, indexerr.KindParse, indexerr.KindOf(diag))
	assert.Contains(t, result.Terms().Code, "valid_name")
}

func Test_Extractor_ScriptSource(t *testing.T) {
	e := newTestExtractor(t, DefaultOptions(), false)
	result := extractFile(t, e, "/repo/src/main.rs", "fn main() {\n    let counter_value = 42;\n}\n")

	require.Empty(t, result.Diagnostics)
	assert.Equal(t, language.ScriptSource, result.Strategy)
	terms := result.Terms()
	assert.Contains(t, terms.Code, "main")
	assert.Contains(t, terms.Code, "counter_value")
	assert.NotContains(t, terms.Code, "fn")
	assert.NotContains(t, terms.Code, "let")
	assert.NotContains(t, terms.Code, "42")
}

func Test_Extractor_GenericLexed(t *testing.T) {
	e := newTestExtractor(t, DefaultOptions(), false)
	class := language.Classification{Language: "Go", Strategy: language.GenericLexed, Lexer: "go"}
	content := []byte("package main\n\nfunc helperFn() {}\n")

	result := e.Extract(context.Background(), "/repo/x.go", class, content)
	terms := result.Terms()
	assert.Contains(t, terms.Code, "helperFn")
	assert.NotContains(t, terms.Code, "func")
}

func Test_Extractor_NoLexerScansIdentifiers(t *testing.T) {
	e := newTestExtractor(t, DefaultOptions(), false)
	class := language.Classification{Language: "Unknown", Strategy: language.ScriptSource}
	// decomposed e + combining acute accent
	content := []byte("cafe\u0301_id := 9lives\n")

	result := e.Extract(context.Background(), "/repo/notes.zzz", class, content)
	terms := result.Terms()
	assert.Equal(t, []string{"caf\u00e9_id", "lives"}, terms.Code)
}

func Test_Extractor_NaturalLanguage(t *testing.T) {
	e := newTestExtractor(t, DefaultOptions(), true)
	result := extractFile(t, e, "/repo/NOTES.txt", "The parser handles nested values.\n")

	terms := result.Terms()
	assert.Empty(t, terms.Code)
	assert.Equal(t, []string{"handles", "nested", "parser", "values"}, terms.Text)
	for _, tok := range result.Tokens {
		assert.Equal(t, KindWord, tok.Kind)
	}
}

func Test_Extractor_Markdown(t *testing.T) {
	e := newTestExtractor(t, DefaultOptions(), true)
	src := "# Usage\n\nCall `renderPage` to draw.\n\n```go\nfunc renderPage() {}\n```\n"

	result := extractFile(t, e, "/repo/README.md", src)
	require.Empty(t, result.Diagnostics)

	terms := result.Terms()
	assert.Equal(t, []string{"renderPage"}, terms.Code)
	assert.Subset(t, terms.Text, []string{"usage", "call", "draw"})
	assert.NotContains(t, terms.Text, "to")

	lines := map[int]bool{}
	for _, tok := range result.Tokens {
		if tok.Text == "renderPage" {
			lines[tok.Pos.Line] = true
		}
	}
	assert.Equal(t, map[int]bool{3: true, 6: true}, lines)
}

func Test_Extractor_NaturalLanguageSizeCap(t *testing.T) {
	options := DefaultOptions()
	options.MaxTextSize = 10
	e := newTestExtractor(t, options, true)

	result := extractFile(t, e, "/repo/big.txt", "far too many words for the cap\n")
	assert.Empty(t, result.Tokens)
	require.Len(t, result.Diagnostics, 1)
	assert.Equal(t, indexerr.KindSkipped, indexerr.KindOf(result.Diagnostics[0]))
}

func Test_Extractor_DecodeError(t *testing.T) {
	e := newTestExtractor(t, DefaultOptions(), false)
	class := language.Classification{Language: "Python", Strategy: language.StructuredSource, Lexer: "python"}

	result := e.Extract(context.Background(), "/repo/bad.py", class, []byte("abc\xff\xfd = 1\n"))
	assert.Empty(t, result.Tokens)
	require.Len(t, result.Diagnostics, 1)

	var decodeErr *indexerr.DecodeError
	require.ErrorAs(t, result.Diagnostics[0], &decodeErr)
	assert.Equal(t, 3, decodeErr.Offset)
}

func Test_Extractor_DecodeFallback(t *testing.T) {
	options := DefaultOptions()
	options.DecodeFallback = "windows-1252"
	e := newTestExtractor(t, options, false)
	class := language.Classification{Language: "Python", Strategy: language.StructuredSource, Lexer: "python"}

	result := e.Extract(context.Background(), "/repo/legacy.py", class, []byte("caf\xe9_name = 1\n"))
	require.Empty(t, result.Diagnostics)
	assert.Contains(t, result.Terms().Code, "café_name")
}

func Test_Extractor_UTF16(t *testing.T) {
	e := newTestExtractor(t, DefaultOptions(), false)
	class := language.Classification{Language: "Python", Strategy: language.StructuredSource, Lexer: "python"}

	content := []byte{0xFF, 0xFE}
	for _, b := range []byte("total_count = 1\n") {
		content = append(content, b, 0x00)
	}

	result := e.Extract(context.Background(), "/repo/wide.py", class, content)
	require.Empty(t, result.Diagnostics)
	assert.Equal(t, []string{"total_count"}, result.Terms().Code)
}

func Test_Extractor_Opaque(t *testing.T) {
	e := newTestExtractor(t, DefaultOptions(), true)
	result := e.Extract(context.Background(), "/repo/blob.bin",
		language.Classification{Language: "Binary", Strategy: language.Opaque, Binary: true},
		[]byte("identifier words here"))

	assert.Empty(t, result.Tokens)
	assert.Empty(t, result.Diagnostics)
}

func Test_Extractor_TokenLengthBounds(t *testing.T) {
	options := DefaultOptions()
	options.MinTokenLength = 3
	options.MaxTokenLength = 8
	e := newTestExtractor(t, options, false)

	result := extractFile(t, e, "/repo/a.py", "ab = averyverylongname = mid = 1\n")
	assert.Equal(t, []string{"mid"}, result.Terms().Code)
}

func Test_unquote(t *testing.T) {
	tests := []struct {
		raw    string
		body   string
		offset int
	}{
		{`"hello"`, "hello", 1},
		{`f"name"`, "name", 2},
		{`'''doc'''`, "doc", 3},
		{`bar`, "bar", 0},
		{"`tpl`", "tpl", 1},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			body, offset := unquote(tt.raw)
			assert.Equal(t, tt.body, body)
			assert.Equal(t, tt.offset, offset)
		})
	}
}

func Test_LexerRegistry(t *testing.T) {
	registry, err := NewLexerRegistry(8)
	require.NoError(t, err)

	require.NotNil(t, registry.ByName("python"))
	assert.Nil(t, registry.ByName("plaintext"))
	assert.Nil(t, registry.ForFile("notes.zzz"))

	name, ok := registry.LexerFor("main.rs")
	assert.True(t, ok)
	assert.Equal(t, "Rust", name)
}
