package language

import (
	"bytes"
	"path/filepath"
	"strings"
)

// interpreterRules maps shebang interpreters (version suffix stripped) to rules.
var interpreterRules = map[string]Rule{
	"python":  structured("Python", "python"),
	"pypy":    structured("Python", "python"),
	"node":    structured("JavaScript", "javascript"),
	"nodejs":  structured("JavaScript", "javascript"),
	"deno":    structured("TypeScript", "typescript"),
	"ts-node": structured("TypeScript", "typescript"),
	"tsx":     structured("TypeScript", "typescript"),
	"sh":      script("Shell", "bash"),
	"bash":    script("Shell", "bash"),
	"zsh":     script("Shell", "bash"),
	"ksh":     script("Shell", "bash"),
	"dash":    script("Shell", "bash"),
	"fish":    script("Fish", "fish"),
	"ruby":    script("Ruby", "ruby"),
	"perl":    script("Perl", "perl"),
	"php":     script("PHP", "php"),
	"lua":     script("Lua", "lua"),
	"rscript": script("R", "r"),
	"awk":     script("Awk", "awk"),
	"make":    script("Makefile", "makefile"),
	"pwsh":    script("PowerShell", "powershell"),
}

// ambiguousExtensions are resolved from content rather than the table.
var ambiguousExtensions = map[string]func(head []byte) Rule{
	"h": func(head []byte) Rule {
		if containsAny(head, "class ", "namespace ", "template<", "template <", "std::", "public:", "private:") {
			return script("C++", "cpp")
		}
		if containsAny(head, "@interface", "@implementation", "#import ") {
			return script("Objective-C", "objective-c")
		}
		return script("C", "c")
	},
	"m": func(head []byte) Rule {
		if containsAny(head, "@interface", "@implementation", "#import ", "#include ") {
			return script("Objective-C", "objective-c")
		}
		return script("MATLAB", "matlab")
	},
	"pl": func(head []byte) Rule {
		if containsAny(head, ":- ", "?- ") && !containsAny(head, "use strict", "my $", "sub ") {
			return script("Prolog", "prolog")
		}
		return script("Perl", "perl")
	},
}

// sniffContent detects a language from the leading bytes of a file.
func sniffContent(head []byte) (Rule, bool) {
	trimmed := bytes.TrimLeft(head, "\xef\xbb\xbf")
	if rule, ok := sniffShebang(trimmed); ok {
		return rule, true
	}

	text := bytes.TrimLeft(trimmed, " \t\r\n")
	switch {
	case bytes.HasPrefix(text, []byte("<?php")):
		return script("PHP", "php"), true
	case bytes.HasPrefix(text, []byte("<?xml")):
		return script("XML", "xml"), true
	case hasPrefixFold(text, "<!doctype html"), hasPrefixFold(text, "<html"):
		return script("HTML", "html"), true
	case bytes.HasPrefix(text, []byte("package ")) && bytes.Contains(text, []byte("\nfunc ")):
		return structured("Go", "go"), true
	}
	return Rule{}, false
}

// sniffShebang parses "#!/usr/bin/env python3 -u" style first lines.
func sniffShebang(head []byte) (Rule, bool) {
	if !bytes.HasPrefix(head, []byte("#!")) {
		return Rule{}, false
	}
	line := head[2:]
	if i := bytes.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	fields := strings.Fields(string(line))
	if len(fields) == 0 {
		return Rule{}, false
	}

	interpreter := filepath.Base(fields[0])
	if interpreter == "env" {
		interpreter = ""
		for _, f := range fields[1:] {
			if strings.HasPrefix(f, "-") || strings.Contains(f, "=") {
				continue
			}
			interpreter = filepath.Base(f)
			break
		}
	}
	interpreter = strings.ToLower(strings.TrimRight(interpreter, "0123456789."))
	rule, ok := interpreterRules[interpreter]
	return rule, ok
}

func containsAny(head []byte, markers ...string) bool {
	for _, marker := range markers {
		if bytes.Contains(head, []byte(marker)) {
			return true
		}
	}
	return false
}

func hasPrefixFold(text []byte, prefix string) bool {
	return len(text) >= len(prefix) && strings.EqualFold(string(text[:len(prefix)]), prefix)
}
