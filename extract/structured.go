package extract

import (
	"context"
	"errors"
	"fmt"

	"github.com/lexandro/tokenindex-mcp/indexerr"
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// grammars are the languages parsed into syntax trees, keyed by classifier language name.
var grammars = map[string]func() *sitter.Language{
	"Go":         golang.GetLanguage,
	"Python":     python.GetLanguage,
	"JavaScript": javascript.GetLanguage,
	"TypeScript": typescript.GetLanguage,
	"TSX":        tsx.GetLanguage,
}

// HasGrammar reports whether a language is parsed rather than lexed.
func HasGrammar(lang string) bool {
	_, ok := grammars[lang]
	return ok
}

// Node kinds shared by the supported grammars.
var (
	identifierNodes = set(
		"identifier", "field_identifier", "type_identifier", "package_identifier",
		"property_identifier", "shorthand_property_identifier",
		"shorthand_property_identifier_pattern", "statement_identifier",
		"private_property_identifier", "label_name",
	)
	numberNodes = set(
		"int_literal", "float_literal", "imaginary_literal",
		"integer", "float", "number",
	)
	stringNodes = set(
		"interpreted_string_literal", "raw_string_literal", "rune_literal",
		"string", "template_string",
	)
	// interpolationNodes inside strings hold code again.
	interpolationNodes = set("interpolation", "template_substitution")
	commentNodes       = set("comment")
)

// extractStructured walks the syntax tree. Trees with syntax errors are not
// trusted; the file is lexed instead and a ParseError is reported.
func extractStructured(ctx context.Context, e *Extractor, src *source) ([]Token, error) {
	tokens, err := e.parse(ctx, src)
	if err == nil {
		return tokens, nil
	}
	parseErr := &indexerr.ParseError{Path: src.path, Language: src.class.Language, Err: err}
	fallback, err := extractScript(ctx, e, src)
	if err != nil {
		return fallback, errors.Join(parseErr, err)
	}
	return fallback, parseErr
}

func (e *Extractor) parse(ctx context.Context, src *source) ([]Token, error) {
	grammar, ok := grammars[src.class.Language]
	if !ok {
		return nil, fmt.Errorf("no grammar for %s", src.class.Language)
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(grammar())

	content := []byte(src.text)
	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, err
	}
	if tree == nil {
		return nil, fmt.Errorf("nil tree")
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		return nil, indexerr.ErrParseFailed
	}

	c := e.newCollector(src)
	stack := []*sitter.Node{root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		typ := n.Type()
		start, end := int(n.StartByte()), int(n.EndByte())
		if end > len(content) || start > end {
			continue
		}
		switch {
		case identifierNodes[typ]:
			c.add(src.text[start:end], KindIdentifier, start)
			continue
		case numberNodes[typ]:
			if e.options.IndexLiterals {
				c.add(src.text[start:end], KindLiteral, start)
			}
			continue
		case commentNodes[typ]:
			c.prose(src.text[start:end], start)
			continue
		case stringNodes[typ]:
			c.literalString(stripInterpolations(n, src.text), start)
			stack = pushChildren(stack, n, interpolationNodes)
			continue
		}
		stack = pushChildren(stack, n, nil)
	}
	return c.tokens, c.err
}

// pushChildren pushes the children of n in reverse so they pop in source order.
// With a filter, only children of those kinds are pushed.
func pushChildren(stack []*sitter.Node, n *sitter.Node, only map[string]bool) []*sitter.Node {
	for i := int(n.ChildCount()) - 1; i >= 0; i-- {
		child := n.Child(i)
		if child == nil {
			continue
		}
		if only != nil && !only[child.Type()] {
			continue
		}
		stack = append(stack, child)
	}
	return stack
}

// stripInterpolations returns the text of a string node with embedded code blanked out,
// keeping byte offsets intact.
func stripInterpolations(n *sitter.Node, text string) string {
	start, end := int(n.StartByte()), int(n.EndByte())
	raw := []byte(text[start:end])
	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		if child == nil || !interpolationNodes[child.Type()] {
			continue
		}
		for j := int(child.StartByte()) - start; j < int(child.EndByte())-start && j < len(raw); j++ {
			if j >= 0 {
				raw[j] = ' '
			}
		}
	}
	return string(raw)
}

func set(items ...string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, item := range items {
		m[item] = true
	}
	return m
}
