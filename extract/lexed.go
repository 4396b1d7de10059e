package extract

import (
	"context"
	"fmt"

	"github.com/alecthomas/chroma/v2"
)

// extractScript lexes with the lexer named by the classification. Only names
// become identifiers; keywords, operators and text are dropped.
func extractScript(_ context.Context, e *Extractor, src *source) ([]Token, error) {
	lexer := e.registry.ByName(src.class.Lexer)
	if lexer == nil {
		lexer = e.registry.ByName(src.class.Language)
	}
	if lexer == nil {
		lexer = e.registry.ForFile(src.path)
	}
	return e.lexSource(src, lexer, false)
}

// extractGeneric lexes with whatever lexer matches the file name and also takes
// identifier-shaped words from text the lexer left unclassified.
func extractGeneric(_ context.Context, e *Extractor, src *source) ([]Token, error) {
	lexer := e.registry.ByName(src.class.Lexer)
	if lexer == nil {
		lexer = e.registry.ForFile(src.path)
	}
	return e.lexSource(src, lexer, true)
}

func (e *Extractor) lexSource(src *source, lexer chroma.Lexer, generic bool) ([]Token, error) {
	c := e.newCollector(src)
	if lexer == nil {
		c.identifiers(src.text, 0, KindIdentifier)
		return c.tokens, nil
	}
	if err := c.lex(lexer, src.text, identity, generic); err != nil {
		return c.tokens, err
	}
	return c.tokens, c.err
}

func identity(offset int) int { return offset }

// lex runs a chroma lexer over text. at maps an offset in text to an offset in
// the source, for fragments such as fenced code blocks.
func (c *collector) lex(lexer chroma.Lexer, text string, at func(int) int, generic bool) error {
	iterator, err := chroma.Coalesce(lexer).Tokenise(&chroma.TokeniseOptions{State: "root"}, text)
	if err != nil {
		c.identifiers(text, at(0), KindIdentifier)
		return fmt.Errorf("lexing %s with %s: %w", c.src.path, lexer.Config().Name, err)
	}

	offset := 0
	for token := iterator(); token != chroma.EOF; token = iterator() {
		start := offset
		offset += len(token.Value)
		if start >= len(text) {
			break
		}
		pos := at(start)

		switch tt := token.Type; {
		case tt.InSubCategory(chroma.CommentPreproc):
		case tt.InCategory(chroma.Comment):
			c.prose(token.Value, pos)
		case tt.InCategory(chroma.Keyword):
		case tt.InCategory(chroma.Name):
			c.identifiers(token.Value, pos, KindIdentifier)
		case tt.InSubCategory(chroma.LiteralNumber):
			if c.e.options.IndexLiterals {
				c.add(token.Value, KindLiteral, pos)
			}
		case tt == chroma.LiteralStringDoc:
			c.prose(token.Value, pos)
		case tt == chroma.LiteralStringInterpol, tt == chroma.LiteralStringAffix:
		case tt.InSubCategory(chroma.LiteralString):
			c.literalString(token.Value, pos)
		case generic && (tt == chroma.Text || tt == chroma.Other):
			c.identifiers(token.Value, pos, KindIdentifier)
		}
	}
	return nil
}
