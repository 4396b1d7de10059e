// Package nlp turns prose into content words. A Model is loaded once per process,
// shared by all extraction workers and closed on shutdown.
package nlp

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/registry"
	"github.com/blevesearch/segment"
)

// ErrClosed is returned by a Model after Close.
var ErrClosed = errors.New("nlp model is closed")

// Options configures a Model.
type Options struct {
	// Lemmatize reduces words to their stems ("values" -> "valu").
	Lemmatize bool
	// StopWords are dropped in addition to the English stop list.
	StopWords []string
	// MinLength drops shorter words (in bytes).
	MinLength int
}

// Word is one content word and its byte span in the analysed text.
type Word struct {
	Text  string
	Start int
	End   int
}

// Model segments text into words and filters them down to content words.
// termFilters is the same chain without the stop lists, applied to query terms.
type Model struct {
	filters     []analysis.TokenFilter
	termFilters []analysis.TokenFilter
	minLength   int
	closed      atomic.Bool
}

// Load builds the filter chain. It is comparatively expensive; call it once.
func Load(options Options) (*Model, error) {
	cache := registry.NewCache()
	names := []string{en.PossessiveName, lowercase.Name, en.StopName}
	if options.Lemmatize {
		names = append(names, en.SnowballStemmerName)
	}

	filters := make([]analysis.TokenFilter, 0, len(names)+1)
	termFilters := make([]analysis.TokenFilter, 0, len(names))
	for _, name := range names {
		filter, err := cache.TokenFilterNamed(name)
		if err != nil {
			return nil, fmt.Errorf("loading token filter %s: %w", name, err)
		}
		filters = append(filters, filter)
		if name != en.StopName {
			termFilters = append(termFilters, filter)
		}
	}
	if len(options.StopWords) > 0 {
		filters = append(filters, newStopFilter(options.StopWords))
	}

	minLength := options.MinLength
	if minLength <= 0 {
		minLength = 2
	}
	return &Model{filters: filters, termFilters: termFilters, minLength: minLength}, nil
}

// Words returns the content words of text in order of appearance.
func (m *Model) Words(text string) ([]Word, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}

	stream := segmentWords([]byte(text))
	for _, filter := range m.filters {
		stream = filter.Filter(stream)
	}

	words := make([]Word, 0, len(stream))
	for _, token := range stream {
		if len(token.Term) < m.minLength {
			continue
		}
		words = append(words, Word{Text: string(token.Term), Start: token.Start, End: token.End})
	}
	return words, nil
}

// Terms reduces a query word to the forms Words indexes it under. Stop words
// are kept, so a query is never silently emptied.
func (m *Model) Terms(text string) ([]string, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}

	stream := segmentWords([]byte(text))
	for _, filter := range m.termFilters {
		stream = filter.Filter(stream)
	}

	terms := make([]string, 0, len(stream))
	for _, token := range stream {
		terms = append(terms, string(token.Term))
	}
	return terms, nil
}

// Close releases the model. Later calls to Words fail with ErrClosed.
func (m *Model) Close() error {
	m.closed.Store(true)
	return nil
}

// segmentWords splits input into Unicode words (UAX #29), dropping punctuation,
// whitespace and pure numbers.
func segmentWords(input []byte) analysis.TokenStream {
	stream := make(analysis.TokenStream, 0, len(input)/6+1)
	segmenter := segment.NewWordSegmenterDirect(input)
	start, position := 0, 1
	for segmenter.Segment() {
		word := segmenter.Bytes()
		end := start + len(word)
		var typ analysis.TokenType
		switch segmenter.Type() {
		case segment.Letter:
			typ = analysis.AlphaNumeric
		case segment.Ideo, segment.Kana:
			typ = analysis.Ideographic
		default:
			start = end
			continue
		}
		term := make([]byte, len(word))
		copy(term, word)
		stream = append(stream, &analysis.Token{
			Term:     term,
			Start:    start,
			End:      end,
			Position: position,
			Type:     typ,
		})
		position++
		start = end
	}
	return stream
}

// stopFilter drops configured stop words; terms are compared lower-cased.
type stopFilter struct {
	words map[string]struct{}
}

func newStopFilter(words []string) *stopFilter {
	f := &stopFilter{words: make(map[string]struct{}, len(words))}
	for _, w := range words {
		f.words[strings.ToLower(strings.TrimSpace(w))] = struct{}{}
	}
	return f
}

func (f *stopFilter) Filter(input analysis.TokenStream) analysis.TokenStream {
	out := input[:0]
	for _, token := range input {
		if _, stop := f.words[string(token.Term)]; !stop {
			out = append(out, token)
		}
	}
	return out
}
