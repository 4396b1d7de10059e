package language

import (
	"path/filepath"
	"strings"
)

// Rule binds a language to its extraction strategy and the lexer used for it.
type Rule struct {
	Language string
	Strategy Strategy
	Lexer    string
}

func structured(lang, lexer string) Rule { return Rule{Language: lang, Strategy: StructuredSource, Lexer: lexer} }
func script(lang, lexer string) Rule     { return Rule{Language: lang, Strategy: ScriptSource, Lexer: lexer} }
func prose(lang string) Rule             { return Rule{Language: lang, Strategy: NaturalLanguage} }

// ExtensionRules maps file extensions (without dot, lower case) to rules.
var ExtensionRules = map[string]Rule{
	// Parsed languages
	"go":  structured("Go", "go"),
	"py":  structured("Python", "python"),
	"pyi": structured("Python", "python"),
	"pyw": structured("Python", "python"),
	"js":  structured("JavaScript", "javascript"),
	"jsx": structured("JavaScript", "javascript"),
	"mjs": structured("JavaScript", "javascript"),
	"cjs": structured("JavaScript", "javascript"),
	"ts":  structured("TypeScript", "typescript"),
	"mts": structured("TypeScript", "typescript"),
	"cts": structured("TypeScript", "typescript"),
	"tsx": structured("TSX", "typescript"),

	// Lexed languages
	"rs":      script("Rust", "rust"),
	"java":    script("Java", "java"),
	"kt":      script("Kotlin", "kotlin"),
	"kts":     script("Kotlin", "kotlin"),
	"scala":   script("Scala", "scala"),
	"groovy":  script("Groovy", "groovy"),
	"gradle":  script("Groovy", "groovy"),
	"c":       script("C", "c"),
	"cpp":     script("C++", "cpp"),
	"cc":      script("C++", "cpp"),
	"cxx":     script("C++", "cpp"),
	"hpp":     script("C++", "cpp"),
	"hh":      script("C++", "cpp"),
	"hxx":     script("C++", "cpp"),
	"cs":      script("C#", "csharp"),
	"csx":     script("C#", "csharp"),
	"swift":   script("Swift", "swift"),
	"dart":    script("Dart", "dart"),
	"rb":      script("Ruby", "ruby"),
	"rake":    script("Ruby", "ruby"),
	"gemspec": script("Ruby", "ruby"),
	"php":     script("PHP", "php"),
	"lua":     script("Lua", "lua"),
	"pl":      script("Perl", "perl"),
	"pm":      script("Perl", "perl"),
	"sh":      script("Shell", "bash"),
	"bash":    script("Shell", "bash"),
	"zsh":     script("Shell", "bash"),
	"fish":    script("Fish", "fish"),
	"ps1":     script("PowerShell", "powershell"),
	"psm1":    script("PowerShell", "powershell"),
	"bat":     script("Batch", "batch"),
	"cmd":     script("Batch", "batch"),
	"r":       script("R", "r"),
	"ex":      script("Elixir", "elixir"),
	"exs":     script("Elixir", "elixir"),
	"erl":     script("Erlang", "erlang"),
	"hrl":     script("Erlang", "erlang"),
	"hs":      script("Haskell", "haskell"),
	"ml":      script("OCaml", "ocaml"),
	"mli":     script("OCaml", "ocaml"),
	"fs":      script("F#", "fsharp"),
	"fsx":     script("F#", "fsharp"),
	"clj":     script("Clojure", "clojure"),
	"cljs":    script("Clojure", "clojure"),
	"pyx":     script("Cython", "cython"),
	"pxd":     script("Cython", "cython"),
	"pxi":     script("Cython", "cython"),
	"zig":     script("Zig", "zig"),
	"nim":     script("Nim", "nim"),
	"jl":      script("Julia", "julia"),
	"v":       script("V", "v"),
	"sql":     script("SQL", "sql"),
	"proto":   script("Protocol Buffers", "protobuf"),
	"graphql": script("GraphQL", "graphql"),
	"gql":     script("GraphQL", "graphql"),
	"tf":      script("Terraform", "terraform"),
	"hcl":     script("HCL", "hcl"),
	"vue":     script("Vue", "vue"),
	"svelte":  script("Svelte", "svelte"),
	"html":    script("HTML", "html"),
	"htm":     script("HTML", "html"),
	"css":     script("CSS", "css"),
	"scss":    script("SCSS", "scss"),
	"sass":    script("Sass", "sass"),
	"json":    script("JSON", "json"),
	"yaml":    script("YAML", "yaml"),
	"yml":     script("YAML", "yaml"),
	"toml":    script("TOML", "toml"),
	"xml":     script("XML", "xml"),
	"xsd":     script("XML", "xml"),
	"svg":     script("XML", "xml"),
	"ini":     script("INI", "ini"),
	"cfg":     script("INI", "ini"),
	"cmake":   script("CMake", "cmake"),
	"mk":      script("Makefile", "makefile"),

	// Prose
	"md":       prose("Markdown"),
	"markdown": prose("Markdown"),
	"txt":      prose("Text"),
	"text":     prose("Text"),
	"rst":      prose("reStructuredText"),
	"adoc":     prose("AsciiDoc"),
	"org":      prose("Org"),
}

// FilenameRules maps lower-cased base names of extension-less files to rules.
var FilenameRules = map[string]Rule{
	"makefile":    script("Makefile", "makefile"),
	"gnumakefile": script("Makefile", "makefile"),
	"dockerfile":  script("Dockerfile", "docker"),
	"gemfile":     script("Ruby", "ruby"),
	"rakefile":    script("Ruby", "ruby"),
	"vagrantfile": script("Ruby", "ruby"),
	"jenkinsfile": script("Groovy", "groovy"),
	"readme":      prose("Text"),
	"license":     prose("Text"),
	"authors":     prose("Text"),
	"changelog":   prose("Text"),
}

// Lookup resolves the rule for a path from the static tables.
func Lookup(filePath string) (Rule, bool) {
	base := strings.ToLower(filepath.Base(filePath))
	if rule, ok := FilenameRules[base]; ok {
		return rule, true
	}
	if base == "cmakelists.txt" {
		return script("CMake", "cmake"), true
	}
	ext := strings.TrimPrefix(filepath.Ext(base), ".")
	if ext == "" {
		return Rule{}, false
	}
	rule, ok := ExtensionRules[ext]
	return rule, ok
}

// DetectLanguage returns the language name for a path, or "Unknown".
func DetectLanguage(filePath string) string {
	if rule, ok := Lookup(filePath); ok {
		return rule.Language
	}
	return "Unknown"
}
