package language

import "fmt"

// Strategy selects how tokens are extracted from a file.
type Strategy uint8

const (
	// Opaque files contribute no tokens.
	Opaque Strategy = iota
	// StructuredSource files are parsed into a syntax tree.
	StructuredSource
	// ScriptSource files are lexed with a dedicated lexer for their language.
	ScriptSource
	// GenericLexed files are lexed with whatever lexer the registry offers for the file name.
	GenericLexed
	// NaturalLanguage files are prose.
	NaturalLanguage
)

var strategyNames = [...]string{
	Opaque:           "opaque",
	StructuredSource: "structured",
	ScriptSource:     "script",
	GenericLexed:     "generic",
	NaturalLanguage:  "natural",
}

func (s Strategy) String() string {
	if int(s) < len(strategyNames) {
		return strategyNames[s]
	}
	return fmt.Sprintf("strategy(%d)", uint8(s))
}

// ParseStrategy parses the name used in configuration files.
func ParseStrategy(name string) (Strategy, error) {
	for i, n := range strategyNames {
		if n == name {
			return Strategy(i), nil
		}
	}
	return Opaque, fmt.Errorf("unknown strategy %q", name)
}

// Strategies lists every strategy name, in declaration order.
func Strategies() []string {
	names := make([]string, len(strategyNames))
	copy(names, strategyNames[:])
	return names
}
