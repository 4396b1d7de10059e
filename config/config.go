// Package config loads the tokenindex configuration. Only the binary reads it;
// every other package takes its own Options struct.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/lexandro/tokenindex-mcp/change"
	"github.com/lexandro/tokenindex-mcp/language"
	"golang.org/x/text/encoding/htmlindex"
	yamlv3 "gopkg.in/yaml.v3"
)

// DefaultDataDir is created under the first root when data_dir is unset.
const DefaultDataDir = ".tokenindex"

// Config is the complete configuration.
type Config struct {
	Roots           []string            `yaml:"roots" koanf:"roots"`
	Groups          map[string][]string `yaml:"groups,omitempty" koanf:"groups"`
	DataDir         string              `yaml:"data_dir,omitempty" koanf:"data_dir"`
	Ignore          IgnoreConfig        `yaml:"ignore" koanf:"ignore"`
	Strategies      []StrategyOverride  `yaml:"strategies,omitempty" koanf:"strategies"`
	Extraction      ExtractionConfig    `yaml:"extraction" koanf:"extraction"`
	NaturalLanguage NaturalLanguage     `yaml:"natural_language" koanf:"natural_language"`
	Sync            SyncConfig          `yaml:"sync" koanf:"sync"`
	Query           QueryConfig         `yaml:"query" koanf:"query"`
	Server          ServerConfig        `yaml:"server" koanf:"server"`
	Log             LogConfig           `yaml:"log" koanf:"log"`
}

// IgnoreConfig controls which files are enumerated.
type IgnoreConfig struct {
	Exclude        []string `yaml:"exclude,omitempty" koanf:"exclude"`
	Include        []string `yaml:"include,omitempty" koanf:"include"`
	IgnoreFiles    []string `yaml:"ignore_files" koanf:"ignore_files"`
	MaxFileSize    int64    `yaml:"max_file_size" koanf:"max_file_size"`
	FollowSymlinks bool     `yaml:"follow_symlinks" koanf:"follow_symlinks"`
}

// StrategyOverride forces a strategy for files matching Pattern.
type StrategyOverride struct {
	Pattern  string `yaml:"pattern" koanf:"pattern"`
	Strategy string `yaml:"strategy" koanf:"strategy"`
	Language string `yaml:"language,omitempty" koanf:"language"`
	Lexer    string `yaml:"lexer,omitempty" koanf:"lexer"`
}

// ExtractionConfig controls token extraction.
type ExtractionConfig struct {
	IndexLiterals  bool   `yaml:"index_literals" koanf:"index_literals"`
	Comments       bool   `yaml:"comments" koanf:"comments"`
	MinTokenLength int    `yaml:"min_token_length" koanf:"min_token_length"`
	MaxTokenLength int    `yaml:"max_token_length" koanf:"max_token_length"`
	DecodeFallback string `yaml:"decode_fallback,omitempty" koanf:"decode_fallback"`
	OpaqueAsText   bool   `yaml:"opaque_as_text" koanf:"opaque_as_text"`
	MaxTextSize    int64  `yaml:"max_text_size" koanf:"max_text_size"`
}

// NaturalLanguage controls the word model used for prose.
type NaturalLanguage struct {
	Enabled   bool     `yaml:"enabled" koanf:"enabled"`
	Lemmatize bool     `yaml:"lemmatize" koanf:"lemmatize"`
	StopWords []string `yaml:"stop_words,omitempty" koanf:"stop_words"`
}

// SyncConfig controls indexing passes.
type SyncConfig struct {
	Workers    int           `yaml:"workers" koanf:"workers"`
	HashPolicy string        `yaml:"hash_policy" koanf:"hash_policy"`
	Interval   time.Duration `yaml:"interval" koanf:"interval"`
	Watch      bool          `yaml:"watch" koanf:"watch"`
	Debounce   time.Duration `yaml:"debounce" koanf:"debounce"`
	MinPassGap time.Duration `yaml:"min_pass_gap" koanf:"min_pass_gap"`
}

// QueryConfig holds query defaults.
type QueryConfig struct {
	CaseSensitive bool `yaml:"case_sensitive" koanf:"case_sensitive"`
	MaxResults    int  `yaml:"max_results" koanf:"max_results"`
	ContextLines  int  `yaml:"context_lines" koanf:"context_lines"`
}

// ServerConfig configures the HTTP API. An empty address disables it.
type ServerConfig struct {
	HTTPAddr    string   `yaml:"http_addr,omitempty" koanf:"http_addr"`
	CORSOrigins []string `yaml:"cors_origins,omitempty" koanf:"cors_origins"`
}

// LogConfig configures logging. An empty file logs to stderr.
type LogConfig struct {
	Level string `yaml:"level" koanf:"level"`
	File  string `yaml:"file,omitempty" koanf:"file"`
}

// Default returns a complete, valid configuration indexing the working directory.
func Default() *Config {
	return &Config{
		Roots: []string{"."},
		Ignore: IgnoreConfig{
			IgnoreFiles: []string{".gitignore", ".tokenindexignore"},
			MaxFileSize: 1024 * 1024,
		},
		Extraction: ExtractionConfig{
			Comments:       true,
			MinTokenLength: 1,
			MaxTokenLength: 256,
			MaxTextSize:    1_000_000,
		},
		NaturalLanguage: NaturalLanguage{Enabled: true},
		Sync: SyncConfig{
			Workers:    8,
			HashPolicy: change.HashNever.String(),
			Debounce:   100 * time.Millisecond,
			MinPassGap: time.Second,
		},
		Query: QueryConfig{
			CaseSensitive: true,
			MaxResults:    50,
			ContextLines:  0,
		},
		Log: LogConfig{Level: "info"},
	}
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if len(c.Roots) == 0 {
		return fmt.Errorf("at least one root is required")
	}
	for name, roots := range c.Groups {
		if len(roots) == 0 {
			return fmt.Errorf("group %q has no roots", name)
		}
	}
	if c.Ignore.MaxFileSize < 0 {
		return fmt.Errorf("ignore.max_file_size must be non-negative")
	}
	for _, pattern := range append(append([]string(nil), c.Ignore.Exclude...), c.Ignore.Include...) {
		if !doublestar.ValidatePattern(filepath.ToSlash(pattern)) {
			return fmt.Errorf("invalid ignore pattern %q", pattern)
		}
	}
	for _, o := range c.Strategies {
		if !doublestar.ValidatePattern(filepath.ToSlash(o.Pattern)) {
			return fmt.Errorf("invalid strategy pattern %q", o.Pattern)
		}
		if _, err := language.ParseStrategy(o.Strategy); err != nil {
			return fmt.Errorf("strategy override %q: %w", o.Pattern, err)
		}
	}
	if c.Extraction.MinTokenLength < 0 || c.Extraction.MaxTokenLength < 0 {
		return fmt.Errorf("token length bounds must be non-negative")
	}
	if c.Extraction.MaxTokenLength > 0 && c.Extraction.MinTokenLength > c.Extraction.MaxTokenLength {
		return fmt.Errorf("extraction.min_token_length %d exceeds max_token_length %d",
			c.Extraction.MinTokenLength, c.Extraction.MaxTokenLength)
	}
	if c.Extraction.DecodeFallback != "" {
		if _, err := htmlindex.Get(c.Extraction.DecodeFallback); err != nil {
			return fmt.Errorf("unknown extraction.decode_fallback %q", c.Extraction.DecodeFallback)
		}
	}
	if c.Sync.Workers < 0 {
		return fmt.Errorf("sync.workers must be non-negative")
	}
	if _, err := change.ParseHashPolicy(c.Sync.HashPolicy); err != nil {
		return fmt.Errorf("sync.hash_policy: %w", err)
	}
	if c.Sync.Interval < 0 || c.Sync.Debounce < 0 || c.Sync.MinPassGap < 0 {
		return fmt.Errorf("sync durations must be non-negative")
	}
	if c.Query.MaxResults < 0 || c.Query.ContextLines < 0 {
		return fmt.Errorf("query limits must be non-negative")
	}
	if !validLogLevels[c.Log.Level] {
		return fmt.Errorf("invalid log.level %q: must be one of debug, info, warn, error", c.Log.Level)
	}
	return nil
}

// ResolvedDataDir returns the absolute data directory.
func (c *Config) ResolvedDataDir() (string, error) {
	dir := c.DataDir
	if dir == "" {
		dir = filepath.Join(c.Roots[0], DefaultDataDir)
	}
	return filepath.Abs(dir)
}

// HashPolicy returns the parsed hash policy. Call after Validate.
func (c *Config) HashPolicy() change.HashPolicy {
	p, _ := change.ParseHashPolicy(c.Sync.HashPolicy)
	return p
}

// Overrides returns the strategy overrides for the classifier. Call after Validate.
func (c *Config) Overrides() []language.Override {
	out := make([]language.Override, 0, len(c.Strategies))
	for _, o := range c.Strategies {
		strategy, _ := language.ParseStrategy(o.Strategy)
		out = append(out, language.Override{
			Pattern:  filepath.ToSlash(o.Pattern),
			Strategy: strategy,
			Language: o.Language,
			Lexer:    o.Lexer,
		})
	}
	return out
}

// Fingerprint identifies the settings that change what a file's tokens are.
// Indexes built with a different fingerprint are rebuilt.
func (c *Config) Fingerprint() string {
	settings := struct {
		Strategies      []StrategyOverride `yaml:"strategies"`
		Extraction      ExtractionConfig   `yaml:"extraction"`
		NaturalLanguage NaturalLanguage    `yaml:"natural_language"`
	}{c.Strategies, c.Extraction, c.NaturalLanguage}
	data, err := yamlv3.Marshal(settings)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}
