package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides. A double underscore separates
// nesting levels: TOKENINDEX_SYNC__HASH_POLICY sets sync.hash_policy.
const EnvPrefix = "TOKENINDEX_"

// Load reads the configuration file at path (YAML, or TOML for a .toml
// extension) over the defaults, then applies environment overrides and validates
// the result. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), parserFor(path)); err != nil {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("accessing config %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading env overrides: %w", err)
	}

	resetLists(k, cfg)
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// resetLists drops default list values the loaded sources replace, so a shorter
// configured list does not keep trailing default elements.
func resetLists(k *koanf.Koanf, cfg *Config) {
	lists := map[string]func(){
		"roots":                       func() { cfg.Roots = nil },
		"ignore.exclude":              func() { cfg.Ignore.Exclude = nil },
		"ignore.include":              func() { cfg.Ignore.Include = nil },
		"ignore.ignore_files":         func() { cfg.Ignore.IgnoreFiles = nil },
		"strategies":                  func() { cfg.Strategies = nil },
		"natural_language.stop_words": func() { cfg.NaturalLanguage.StopWords = nil },
		"server.cors_origins":         func() { cfg.Server.CORSOrigins = nil },
	}
	for key, reset := range lists {
		if k.Exists(key) {
			reset()
		}
	}
}

func envKey(name string) string {
	name = strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
	return strings.ReplaceAll(name, "__", ".")
}

func parserFor(path string) koanf.Parser {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return tomlParser{}
	}
	return yaml.Parser()
}

// tomlParser adapts BurntSushi/toml to koanf.
type tomlParser struct{}

func (tomlParser) Unmarshal(data []byte) (map[string]any, error) {
	out := make(map[string]any)
	if _, err := toml.NewDecoder(bytes.NewReader(data)).Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func (tomlParser) Marshal(m map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	data, err := yamlv3.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}
