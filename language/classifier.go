package language

import (
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Classification is the outcome of classifying one file.
type Classification struct {
	Language string
	Strategy Strategy
	Lexer    string
	Binary   bool
}

// Override forces a strategy for paths matching a doublestar pattern.
type Override struct {
	Pattern  string
	Strategy Strategy
	Language string
	Lexer    string
}

// GenericRegistry resolves lexers for files the static tables do not know.
type GenericRegistry interface {
	LexerFor(filename string) (name string, ok bool)
}

// Classifier maps files to extraction strategies. Classification depends only on
// the path, the sniffed bytes and the classifier's construction arguments.
type Classifier struct {
	overrides    []Override
	registry     GenericRegistry
	opaqueAsText bool
}

// ClassifierOptions configures a Classifier.
type ClassifierOptions struct {
	Overrides []Override
	Registry  GenericRegistry
	// OpaqueAsText feeds otherwise opaque text files to natural-language extraction.
	OpaqueAsText bool
}

// NewClassifier creates a classifier.
func NewClassifier(options ClassifierOptions) *Classifier {
	return &Classifier{
		overrides:    options.Overrides,
		registry:     options.Registry,
		opaqueAsText: options.OpaqueAsText,
	}
}

// Classify picks a strategy for filePath. head holds at most SniffLength leading bytes.
// Order: overrides, filename and extension tables (ambiguous extensions sniffed),
// content sniffing, the generic lexer registry, then Opaque.
func (c *Classifier) Classify(filePath string, head []byte) Classification {
	if IsBinaryContent(head) {
		return Classification{Language: "Binary", Strategy: Opaque, Binary: true}
	}

	if rule, ok := c.matchOverride(filePath); ok {
		return classification(rule)
	}

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filePath), "."))
	if resolve, ok := ambiguousExtensions[ext]; ok {
		return classification(resolve(head))
	}
	if rule, ok := Lookup(filePath); ok {
		return classification(rule)
	}
	if rule, ok := sniffContent(head); ok {
		return classification(rule)
	}
	if c.registry != nil {
		if name, ok := c.registry.LexerFor(filePath); ok {
			return Classification{Language: name, Strategy: GenericLexed, Lexer: name}
		}
	}
	if c.opaqueAsText {
		return Classification{Language: "Text", Strategy: NaturalLanguage}
	}
	return Classification{Language: "Unknown", Strategy: Opaque}
}

func (c *Classifier) matchOverride(filePath string) (Rule, bool) {
	slashed := strings.TrimPrefix(filepath.ToSlash(filePath), "/")
	base := filepath.Base(filePath)
	for _, o := range c.overrides {
		matched, _ := doublestar.Match(o.Pattern, base)
		if !matched {
			matched, _ = doublestar.Match(o.Pattern, slashed)
		}
		if !matched {
			continue
		}
		rule := Rule{Language: o.Language, Strategy: o.Strategy, Lexer: o.Lexer}
		if known, ok := Lookup(filePath); ok {
			if rule.Language == "" {
				rule.Language = known.Language
			}
			if rule.Lexer == "" {
				rule.Lexer = known.Lexer
			}
		}
		if rule.Language == "" {
			rule.Language = "Unknown"
		}
		return rule, true
	}
	return Rule{}, false
}

func classification(rule Rule) Classification {
	return Classification{Language: rule.Language, Strategy: rule.Strategy, Lexer: rule.Lexer}
}
