package extract

import (
	"context"
	"sort"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

var markdownParser = goldmark.New().Parser()

// extractNatural emits the content words of a prose file. Markdown is parsed so
// that code spans and fenced blocks are indexed as code rather than words.
func extractNatural(_ context.Context, e *Extractor, src *source) ([]Token, error) {
	c := e.newCollector(src)
	if src.class.Language == "Markdown" {
		c.markdown()
	} else {
		c.words(src.text, 0)
	}
	return c.tokens, c.err
}

func (c *collector) markdown() {
	content := []byte(c.src.text)
	doc := markdownParser.Parse(text.NewReader(content))

	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.CodeSpan:
			for child := node.FirstChild(); child != nil; child = child.NextSibling() {
				if t, ok := child.(*ast.Text); ok {
					c.identifiers(string(t.Segment.Value(content)), t.Segment.Start, KindIdentifier)
				}
			}
			return ast.WalkSkipChildren, nil
		case *ast.FencedCodeBlock:
			c.codeBlock(content, node.Lines(), string(node.Language(content)))
			return ast.WalkSkipChildren, nil
		case *ast.CodeBlock:
			c.codeBlock(content, node.Lines(), "")
			return ast.WalkSkipChildren, nil
		case *ast.HTMLBlock, *ast.RawHTML, *ast.AutoLink:
			return ast.WalkSkipChildren, nil
		case *ast.Text:
			c.words(string(node.Segment.Value(content)), node.Segment.Start)
		}
		return ast.WalkContinue, nil
	})
}

// codeBlock lexes the lines of a code block with the lexer for its info string,
// or scans for identifiers when there is none.
func (c *collector) codeBlock(content []byte, lines *text.Segments, lang string) {
	if lines == nil || lines.Len() == 0 {
		return
	}
	var (
		body   []byte
		starts []int // offset in body where each line starts
		origin []int // offset in the source of each line
	)
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		starts = append(starts, len(body))
		origin = append(origin, seg.Start)
		body = append(body, seg.Value(content)...)
	}
	at := func(offset int) int {
		i := sort.Search(len(starts), func(i int) bool { return starts[i] > offset }) - 1
		if i < 0 {
			i = 0
		}
		return origin[i] + offset - starts[i]
	}

	code := string(body)
	if lexer := c.e.registry.ByName(lang); lexer != nil {
		if err := c.lex(lexer, code, at, false); err != nil && c.err == nil {
			c.err = err
		}
		return
	}
	for _, loc := range identPattern.FindAllStringIndex(code, -1) {
		word := code[loc[0]:loc[1]]
		if !startsWithDigit(word) {
			c.add(word, KindIdentifier, at(loc[0]))
		}
	}
}
