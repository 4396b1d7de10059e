// Package extract turns file content into typed tokens. Each extraction strategy
// is a function from decoded text to a token sequence; the classifier's strategy
// tag picks the function.
package extract

import (
	"context"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/lexandro/tokenindex-mcp/indexerr"
	"github.com/lexandro/tokenindex-mcp/language"
	"github.com/lexandro/tokenindex-mcp/nlp"
	"golang.org/x/text/unicode/norm"
)

// identPattern finds identifier-shaped runs in text the lexers could not classify.
var identPattern = regexp.MustCompile(`[\p{L}\p{Nl}_$][\p{L}\p{Nl}\p{Mn}\p{Mc}\p{Nd}\p{Pc}$]*`)

// Options controls what the strategies emit.
type Options struct {
	// IndexLiterals emits numeric literals and identifier-shaped string literals.
	IndexLiterals bool
	// Comments feeds comments, docstrings and string contents to the natural-language model.
	Comments bool
	// MinTokenLength and MaxTokenLength bound token length in runes.
	MinTokenLength int
	MaxTokenLength int
	// MaxTextSize caps natural-language-only files, in bytes.
	MaxTextSize int64
	// DecodeFallback names the encoding tried when content is not UTF-8.
	DecodeFallback string
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		Comments:       true,
		MinTokenLength: 1,
		MaxTokenLength: 256,
		MaxTextSize:    1_000_000,
	}
}

// Extractor runs the strategies. It is safe for concurrent use.
type Extractor struct {
	options  Options
	model    *nlp.Model
	registry *LexerRegistry
	decoder  *decoder
}

// New creates an extractor. model may be nil, which disables natural-language words.
func New(options Options, model *nlp.Model, registry *LexerRegistry) (*Extractor, error) {
	dec, err := newDecoder(options.DecodeFallback)
	if err != nil {
		return nil, err
	}
	if registry == nil {
		if registry, err = NewLexerRegistry(0); err != nil {
			return nil, err
		}
	}
	if options.MaxTokenLength <= 0 {
		options.MaxTokenLength = 256
	}
	return &Extractor{options: options, model: model, registry: registry, decoder: dec}, nil
}

// Registry returns the lexer registry, for use by the classifier.
func (e *Extractor) Registry() *LexerRegistry {
	return e.registry
}

// source is one decoded file handed to a strategy.
type source struct {
	path  string
	class language.Classification
	text  string
	lines lineIndex
}

// strategyFunc extracts tokens. A non-nil error is a diagnostic; the returned
// tokens are still valid.
type strategyFunc func(ctx context.Context, e *Extractor, src *source) ([]Token, error)

var strategies = map[language.Strategy]strategyFunc{
	language.Opaque:           extractOpaque,
	language.StructuredSource: extractStructured,
	language.ScriptSource:     extractScript,
	language.GenericLexed:     extractGeneric,
	language.NaturalLanguage:  extractNatural,
}

// Extract decodes content and runs the strategy chosen by class. It never fails;
// problems are reported in Result.Diagnostics.
func (e *Extractor) Extract(ctx context.Context, path string, class language.Classification, content []byte) Result {
	result := Result{Path: path, Language: class.Language, Strategy: class.Strategy}
	if class.Strategy == language.Opaque {
		return result
	}

	if class.Strategy == language.NaturalLanguage && e.options.MaxTextSize > 0 && int64(len(content)) > e.options.MaxTextSize {
		result.Diagnostics = append(result.Diagnostics, &indexerr.SkippedError{
			Path:   path,
			Reason: "text file exceeds max_text_size",
		})
		return result
	}

	text, err := e.decoder.decode(path, content)
	if err != nil {
		result.Diagnostics = append(result.Diagnostics, err)
		return result
	}

	src := &source{path: path, class: class, text: text, lines: newLineIndex(text)}
	fn, ok := strategies[class.Strategy]
	if !ok {
		fn = extractOpaque
	}
	tokens, err := fn(ctx, e, src)
	if err != nil {
		result.Diagnostics = append(result.Diagnostics, err)
	}
	result.Tokens = tokens
	return result
}

func extractOpaque(context.Context, *Extractor, *source) ([]Token, error) {
	return nil, nil
}

// collector accumulates normalized tokens for one source.
type collector struct {
	e      *Extractor
	src    *source
	tokens []Token
	err    error
}

func (e *Extractor) newCollector(src *source) *collector {
	return &collector{e: e, src: src}
}

// add normalizes text to NFC and records it if it passes the length bounds.
func (c *collector) add(text string, kind Kind, offset int) {
	if kind == KindIdentifier {
		text = strings.TrimLeft(text, "$#@")
		if strings.Trim(text, "_") == "" {
			return
		}
	}
	if text == "" {
		return
	}
	text = norm.NFC.String(text)
	n := utf8.RuneCountInString(text)
	if n < c.e.options.MinTokenLength || n > c.e.options.MaxTokenLength {
		return
	}
	c.tokens = append(c.tokens, Token{Text: text, Kind: kind, Pos: c.src.lines.position(offset)})
}

// identifiers adds every identifier-shaped run of text.
func (c *collector) identifiers(text string, offset int, kind Kind) {
	for _, loc := range identPattern.FindAllStringIndex(text, -1) {
		word := text[loc[0]:loc[1]]
		if startsWithDigit(word) {
			continue
		}
		c.add(word, kind, offset+loc[0])
	}
}

// literalString handles the contents of a string literal.
func (c *collector) literalString(raw string, offset int) {
	body, bodyOffset := unquote(raw)
	if c.e.options.IndexLiterals && isIdentifier(body) {
		c.add(body, KindLiteral, offset+bodyOffset)
	}
	c.prose(body, offset+bodyOffset)
}

// prose runs the natural-language model over a comment or string, if enabled.
func (c *collector) prose(text string, offset int) {
	if !c.e.options.Comments {
		return
	}
	c.words(text, offset)
}

// words adds the content words of text.
func (c *collector) words(text string, offset int) {
	if c.e.model == nil || strings.TrimSpace(text) == "" {
		return
	}
	words, err := c.e.model.Words(text)
	if err != nil {
		if c.err == nil {
			c.err = err
		}
		return
	}
	for _, w := range words {
		c.add(w.Text, KindWord, offset+w.Start)
	}
}

func isIdentifier(s string) bool {
	if s == "" || startsWithDigit(s) {
		return false
	}
	loc := identPattern.FindStringIndex(s)
	return loc != nil && loc[0] == 0 && loc[1] == len(s)
}

func startsWithDigit(s string) bool {
	return s != "" && s[0] >= '0' && s[0] <= '9'
}

// unquote strips string prefixes and quote characters, returning the body and its offset.
func unquote(raw string) (string, int) {
	const quotes = "\"'`"
	q := strings.IndexAny(raw, quotes)
	if q < 0 {
		return raw, 0
	}
	for i := 0; i < q; i++ {
		if strings.IndexByte("bBrRuUfF@$", raw[i]) < 0 {
			return raw, 0
		}
	}
	start, end := q, len(raw)
	for start < end && strings.IndexByte(quotes, raw[start]) >= 0 {
		start++
	}
	for end > start && strings.IndexByte(quotes, raw[end-1]) >= 0 {
		end--
	}
	return raw[start:end], start
}
