// Package config resolves the Caseline runtime configuration: built-in
// defaults, an optional YAML file, then CASELINE_* environment overrides,
// in increasing precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"

	"github.com/caseline/caseline/internal/extract"
	"github.com/caseline/caseline/internal/resolve"
	"github.com/caseline/caseline/internal/store"
)

// Config is the top-level Caseline configuration, corresponding to
// ~/.caseline/config.yaml.
type Config struct {
	DBPath         string `yaml:"db_path" koanf:"db_path"`
	DictionaryPath string `yaml:"dictionary_path" koanf:"dictionary_path"`

	SubjectPattern      string  `yaml:"subject_pattern" koanf:"subject_pattern"`
	AutoAssignThreshold float64 `yaml:"auto_assign_threshold" koanf:"auto_assign_threshold"`

	MinTokenLength     int `yaml:"min_token_length" koanf:"min_token_length"`
	MaxTextTerms       int `yaml:"max_text_terms" koanf:"max_text_terms"`
	MaxStructuredTerms int `yaml:"max_structured_terms" koanf:"max_structured_terms"`

	Workers  int    `yaml:"workers" koanf:"workers"`
	LogLevel string `yaml:"log_level" koanf:"log_level"`
}

// DefaultConfigPath returns ~/.caseline/config.yaml.
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".caseline", "config.yaml")
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		DBPath:              store.DefaultDBPath,
		SubjectPattern:      resolve.DefaultSubjectPattern,
		AutoAssignThreshold: resolve.DefaultAutoAssignThreshold,
		MinTokenLength:      extract.DefaultMinTokenLength,
		MaxTextTerms:        extract.DefaultMaxTextTerms,
		MaxStructuredTerms:  extract.DefaultMaxStructuredTerms,
		Workers:             4,
		LogLevel:            "info",
	}
}

// Load reads configuration from the given YAML file (missing is fine), then
// overlays environment variable overrides: CASELINE_DB_PATH -> db_path, etc.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		path = DefaultConfigPath()
	}

	k := koanf.New(".")
	cfg := DefaultConfig()

	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("accessing config %s: %w", path, err)
	}

	if err := k.Load(env.Provider("CASELINE_", ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, "CASELINE_"))
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env overrides: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to the given YAML file path.
func (c *Config) Save(path string) error {
	data, err := yamlv3.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Validate checks that the configuration contains usable values.
func (c *Config) Validate() error {
	if c.AutoAssignThreshold < 0 || c.AutoAssignThreshold > 1 {
		return fmt.Errorf("auto_assign_threshold must be in [0,1], got %v", c.AutoAssignThreshold)
	}
	if c.MinTokenLength < 1 {
		return fmt.Errorf("min_token_length must be positive")
	}
	if c.MaxTextTerms < 1 || c.MaxStructuredTerms < 1 {
		return fmt.Errorf("term caps must be positive")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be positive")
	}
	return nil
}

// ExtractOptions maps the configuration onto extractor options.
func (c *Config) ExtractOptions() extract.Options {
	return extract.Options{
		MinTokenLength:     c.MinTokenLength,
		MaxTextTerms:       c.MaxTextTerms,
		MaxStructuredTerms: c.MaxStructuredTerms,
	}
}

// ResolveOptions maps the configuration onto resolver options.
func (c *Config) ResolveOptions() resolve.Options {
	return resolve.Options{
		SubjectPattern:      c.SubjectPattern,
		AutoAssignThreshold: c.AutoAssignThreshold,
	}
}
