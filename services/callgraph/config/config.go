// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the call graph engine configuration.
//
// Values are layered, later sources overriding earlier ones:
//
//  1. built-in defaults
//  2. a callgraph.yaml, callgraph.yml or callgraph.toml file
//  3. CALLGRAPH_* environment variables (CALLGRAPH_BUILD_CHUNK_SIZE sets
//     build.chunk_size)
//  4. command-line flags registered with RegisterFlags
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/AleutianAI/callgraph/services/callgraph/ast"
	"github.com/AleutianAI/callgraph/services/callgraph/discover"
	"github.com/AleutianAI/callgraph/services/callgraph/resolve"
	"github.com/AleutianAI/callgraph/services/callgraph/telemetry"
)

// EnvPrefix prefixes every environment variable the loader reads.
const EnvPrefix = "CALLGRAPH_"

// DefaultFileNames are searched, in order, when no config path is given.
var DefaultFileNames = []string{"callgraph.yaml", "callgraph.yml", "callgraph.toml"}

// Pattern category names accepted by patterns.disable.
const (
	PatternTests         = "tests"
	PatternWeb           = "web"
	PatternEvents        = "events"
	PatternMacros        = "macros"
	PatternSerialization = "serialization"
	PatternFFI           = "ffi"
)

// Config is the complete engine configuration.
type Config struct {
	Build     BuildConfig     `koanf:"build" json:"build"`
	Discovery DiscoveryConfig `koanf:"discovery" json:"discovery"`
	Parser    ParserConfig    `koanf:"parser" json:"parser"`
	Patterns  PatternsConfig  `koanf:"patterns" json:"patterns"`
	Cache     CacheConfig     `koanf:"cache" json:"cache"`
	Telemetry TelemetryConfig `koanf:"telemetry" json:"telemetry"`
	Server    ServerConfig    `koanf:"server" json:"server"`
	Log       LogConfig       `koanf:"log" json:"log"`
}

// BuildConfig controls the parallel orchestrator.
type BuildConfig struct {
	// Workers is the worker pool size. Zero means one per CPU.
	Workers int `koanf:"workers" json:"workers" validate:"gte=0,lte=1024"`

	// ChunkSize is the number of files per extraction chunk. Zero derives
	// it from the file count and worker count.
	ChunkSize int `koanf:"chunk_size" json:"chunk_size" validate:"gte=0"`

	// MaxFunctions bounds the function index of one build.
	MaxFunctions int `koanf:"max_functions" json:"max_functions" validate:"gt=0"`
}

// DiscoveryConfig controls which files are analyzed.
type DiscoveryConfig struct {
	Languages []string `koanf:"languages" json:"languages" validate:"min=1,dive,oneof=rust python"`
	Ignore    []string `koanf:"ignore" json:"ignore"`
	Gitignore bool     `koanf:"gitignore" json:"gitignore"`
}

// ParserConfig controls source parsing.
type ParserConfig struct {
	MaxFileSize    int64 `koanf:"max_file_size" json:"max_file_size" validate:"gt=0"`
	TolerateErrors bool  `koanf:"tolerate_errors" json:"tolerate_errors"`
}

// PatternsConfig controls framework pattern detection.
type PatternsConfig struct {
	// Disable lists pattern categories to skip.
	Disable []string `koanf:"disable" json:"disable" validate:"dive,oneof=tests web events macros serialization ffi"`

	// Custom maps attribute or decorator names to a description.
	Custom map[string]string `koanf:"custom" json:"custom"`
}

// CacheConfig controls the persistent graph cache.
type CacheConfig struct {
	Enabled bool `koanf:"enabled" json:"enabled"`

	// Dir is the badger directory. Empty means the user cache directory.
	Dir string `koanf:"dir" json:"dir"`
}

// TelemetryConfig selects trace and metric exporters.
type TelemetryConfig struct {
	Traces       string `koanf:"traces" json:"traces" validate:"oneof=none stdout otlp"`
	Metrics      string `koanf:"metrics" json:"metrics" validate:"oneof=none stdout prometheus"`
	OTLPEndpoint string `koanf:"otlp_endpoint" json:"otlp_endpoint" validate:"required_if=Traces otlp"`
	ServiceName  string `koanf:"service_name" json:"service_name" validate:"required"`
}

// ServerConfig configures the HTTP query service.
type ServerConfig struct {
	Addr string `koanf:"addr" json:"addr" validate:"hostname_port"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `koanf:"level" json:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" json:"format" validate:"oneof=text json"`
}

// defaults holds the built-in values, flattened with "." as delimiter.
var defaults = map[string]interface{}{
	"build.workers":           0,
	"build.chunk_size":        0,
	"build.max_functions":     1_000_000,
	"discovery.languages":     []string{"rust", "python"},
	"discovery.ignore":        []string{},
	"discovery.gitignore":     true,
	"parser.max_file_size":    int64(ast.DefaultMaxFileSize),
	"parser.tolerate_errors":  true,
	"patterns.disable":        []string{},
	"patterns.custom":         map[string]interface{}{},
	"cache.enabled":           true,
	"cache.dir":               "",
	"telemetry.traces":        "none",
	"telemetry.metrics":       "prometheus",
	"telemetry.otlp_endpoint": "",
	"telemetry.service_name":  "callgraph",
	"server.addr":             "localhost:8181",
	"log.level":               "info",
	"log.format":              "text",
}

// flagKeys maps flag names registered by RegisterFlags to config keys.
// Negated flags invert their value.
var flagKeys = map[string]struct {
	key    string
	negate bool
}{
	"workers":       {key: "build.workers"},
	"chunk-size":    {key: "build.chunk_size"},
	"lang":          {key: "discovery.languages"},
	"ignore":        {key: "discovery.ignore"},
	"no-gitignore":  {key: "discovery.gitignore", negate: true},
	"max-file-size": {key: "parser.max_file_size"},
	"strict-parse":  {key: "parser.tolerate_errors", negate: true},
	"no-cache":      {key: "cache.enabled", negate: true},
	"cache-dir":     {key: "cache.dir"},
	"traces":        {key: "telemetry.traces"},
	"metrics":       {key: "telemetry.metrics"},
	"otlp-endpoint": {key: "telemetry.otlp_endpoint"},
	"addr":          {key: "server.addr"},
	"log-level":     {key: "log.level"},
	"log-format":    {key: "log.format"},
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg, err := Load("", nil)
	if err != nil {
		// Defaults are static and always valid.
		panic(fmt.Sprintf("config: invalid defaults: %v", err))
	}
	return cfg
}

// RegisterFlags adds the configuration flags to fs. Flags the user does
// not set leave file and environment values untouched.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "config file (default: ./callgraph.yaml, .yml or .toml if present)")
	fs.Int("workers", 0, "worker pool size (0 = one per CPU)")
	fs.Int("chunk-size", 0, "files per extraction chunk (0 = automatic)")
	fs.StringSlice("lang", []string{"rust", "python"}, "languages to analyze")
	fs.StringSlice("ignore", nil, "glob patterns to ignore, relative to the root")
	fs.Bool("no-gitignore", false, "do not apply .gitignore files")
	fs.Int64("max-file-size", ast.DefaultMaxFileSize, "maximum source file size in bytes")
	fs.Bool("strict-parse", false, "treat files with syntax errors as parse failures")
	fs.Bool("no-cache", false, "disable the graph cache")
	fs.String("cache-dir", "", "cache directory")
	fs.String("traces", "none", "trace exporter: none, stdout or otlp")
	fs.String("metrics", "prometheus", "metric exporter: none, stdout or prometheus")
	fs.String("otlp-endpoint", "", "OTLP gRPC endpoint for traces")
	fs.String("addr", "localhost:8181", "HTTP listen address")
	fs.String("log-level", "info", "log level: debug, info, warn or error")
	fs.String("log-format", "text", "log format: text or json")
}

// Load builds the configuration.
//
// Description:
//
//	Layers defaults, the config file, CALLGRAPH_* environment variables and
//	changed flags, then validates the result. When path is empty the
//	current directory is searched for DefaultFileNames and a missing file
//	is not an error.
//
// Inputs:
//   - path: Config file path, or "" to search.
//   - flags: Parsed flag set, or nil. Only flags registered by
//     RegisterFlags are read.
//
// Outputs:
//   - *Config: The validated configuration.
//   - error: ErrConfigNotFound, ErrUnsupportedFormat, ErrInvalidConfig, or a
//     load failure.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path == "" && flags != nil {
		if p, err := flags.GetString("config"); err == nil {
			path = p
		}
	}
	if path == "" {
		path = findDefaultFile(".")
	} else if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, fmt.Errorf("stat config %s: %w", path, err)
	}
	if path != "" {
		parser, err := parserFor(path)
		if err != nil {
			return nil, err
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envValue), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	if flags != nil {
		p := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			m, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			val := posflag.FlagVal(flags, f)
			if m.negate {
				b, _ := val.(bool)
				return m.key, !b
			}
			return m.key, val
		})
		if err := k.Load(p, nil); err != nil {
			return nil, fmt.Errorf("loading flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// listKeys hold comma-separated values when set from the environment.
var listKeys = map[string]bool{
	"discovery.languages": true,
	"discovery.ignore":    true,
	"patterns.disable":    true,
}

// envValue maps CALLGRAPH_SECTION_SOME_KEY to section.some_key and splits
// list values on commas.
func envValue(name, value string) (string, interface{}) {
	key := strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
	key = strings.Replace(key, "_", ".", 1)
	if !listKeys[key] {
		return key, value
	}
	parts := make([]string, 0)
	for _, p := range strings.Split(value, ",") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return key, parts
}

func findDefaultFile(dir string) string {
	for _, name := range DefaultFileNames {
		p := filepath.Join(dir, name)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p
		}
	}
	return ""
}

func parserFor(path string) (koanf.Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yamlParser{}, nil
	case ".toml":
		return toml.Parser(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Hash returns a short digest of the settings that change a build's
// output. Worker counts, cache, telemetry, server and log settings are
// excluded.
func (c *Config) Hash() string {
	payload := struct {
		Languages      []string          `json:"languages"`
		Ignore         []string          `json:"ignore"`
		Gitignore      bool              `json:"gitignore"`
		MaxFileSize    int64             `json:"max_file_size"`
		TolerateErrors bool              `json:"tolerate_errors"`
		MaxFunctions   int               `json:"max_functions"`
		Disable        []string          `json:"disable"`
		Custom         map[string]string `json:"custom"`
	}{
		Languages:      c.Discovery.Languages,
		Ignore:         c.Discovery.Ignore,
		Gitignore:      c.Discovery.Gitignore,
		MaxFileSize:    c.Parser.MaxFileSize,
		TolerateErrors: c.Parser.TolerateErrors,
		MaxFunctions:   c.Build.MaxFunctions,
		Disable:        c.Patterns.Disable,
		Custom:         c.Patterns.Custom,
	}
	data, _ := json.Marshal(payload)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}

// Extensions returns the file extensions of the configured languages.
func (c *Config) Extensions() []string {
	var out []string
	for _, lang := range c.Discovery.Languages {
		switch ast.Language(lang) {
		case ast.LanguageRust:
			out = append(out, ".rs")
		case ast.LanguagePython:
			out = append(out, ".py")
		}
	}
	return out
}

// DiscoverOptions returns the discoverer options for this configuration.
func (c *Config) DiscoverOptions() []discover.Option {
	return []discover.Option{
		discover.WithExtensions(c.Extensions()...),
		discover.WithIgnore(c.Discovery.Ignore...),
		discover.WithGitignore(c.Discovery.Gitignore),
	}
}

// ParserOptions returns the parser options for this configuration.
func (c *Config) ParserOptions() []ast.ParserOption {
	return []ast.ParserOption{
		ast.WithMaxFileSize(c.Parser.MaxFileSize),
		ast.WithTolerateErrors(c.Parser.TolerateErrors),
	}
}

// PatternConfig returns the framework pattern configuration.
func (c *Config) PatternConfig() resolve.PatternConfig {
	pc := resolve.DefaultPatternConfig()
	for _, name := range c.Patterns.Disable {
		switch name {
		case PatternTests:
			pc.DetectTests = false
		case PatternWeb:
			pc.DetectWebHandlers = false
		case PatternEvents:
			pc.DetectEventHandlers = false
		case PatternMacros:
			pc.DetectMacroCallbacks = false
		case PatternSerialization:
			pc.DetectSerialization = false
		case PatternFFI:
			pc.DetectFFI = false
		}
	}
	if len(c.Patterns.Custom) > 0 {
		pc.CustomPatterns = make(map[string]string, len(c.Patterns.Custom))
		for k, v := range c.Patterns.Custom {
			pc.CustomPatterns[k] = v
		}
	}
	return pc
}

// NewLogger returns a logger writing to w at the configured level and
// format.
func (c LogConfig) NewLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	switch c.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// ResolveDir returns the cache directory, defaulting to a callgraph
// directory under the user cache directory.
func (c CacheConfig) ResolveDir() (string, error) {
	if c.Dir != "" {
		return c.Dir, nil
	}
	base, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("resolving cache directory: %w", err)
	}
	return filepath.Join(base, "callgraph"), nil
}

// Telemetry converts the section into a telemetry.Config.
func (c TelemetryConfig) Telemetry(version string) telemetry.Config {
	return telemetry.Config{
		ServiceName:    c.ServiceName,
		ServiceVersion: version,
		TraceExporter:  c.Traces,
		MetricExporter: c.Metrics,
		OTLPEndpoint:   c.OTLPEndpoint,
		OTLPInsecure:   true,
	}
}
