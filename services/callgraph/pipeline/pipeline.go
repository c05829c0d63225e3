// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline orchestrates call graph builds.
//
// A build discovers the project files and then, for each language:
//
//  1. reads file contents on a fixed-size worker pool;
//  2. parses and extracts partial graphs chunk by chunk in parallel,
//     merges them in one reduce and resolves cross-file calls;
//  3. runs the enhanced resolver, the cross-module resolver and the
//     finalizer sequentially on the calling goroutine.
//
// The Rust result is cached by project fingerprint. Python is rebuilt on
// every run and merged with the Rust result.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/callgraph/services/callgraph/ast"
	"github.com/AleutianAI/callgraph/services/callgraph/cache"
	"github.com/AleutianAI/callgraph/services/callgraph/config"
	"github.com/AleutianAI/callgraph/services/callgraph/discover"
	"github.com/AleutianAI/callgraph/services/callgraph/graph"
	"github.com/AleutianAI/callgraph/services/callgraph/resolve"
)

// Options configures an Orchestrator.
type Options struct {
	// Workers is the worker pool size.
	// Default: runtime.NumCPU()
	Workers int

	// ChunkSize is the number of files per extraction chunk.
	// Default: files / Workers, rounded up
	ChunkSize int

	ParserOptions   []ast.ParserOption
	DiscoverOptions []discover.Option
	ResolveOptions  []resolve.Option

	// Cache stores Rust results between runs. May be nil.
	Cache *cache.Cache

	// ConfigHash is folded into cache keys.
	ConfigHash string

	// Progress receives throttled progress events. May be nil.
	Progress ProgressFunc

	// ProgressRate caps intermediate progress events per second.
	// Default: DefaultProgressRate
	ProgressRate float64

	Logger *slog.Logger
}

// Option is a functional option for configuring an Orchestrator.
type Option func(*Options)

// WithWorkers sets the worker pool size. Non-positive values keep the
// default.
func WithWorkers(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.Workers = n
		}
	}
}

// WithChunkSize sets the number of files per extraction chunk.
func WithChunkSize(n int) Option {
	return func(o *Options) {
		o.ChunkSize = n
	}
}

// WithParserOptions sets the parser options.
func WithParserOptions(opts ...ast.ParserOption) Option {
	return func(o *Options) {
		o.ParserOptions = append(o.ParserOptions, opts...)
	}
}

// WithDiscoverOptions sets the file discovery options.
func WithDiscoverOptions(opts ...discover.Option) Option {
	return func(o *Options) {
		o.DiscoverOptions = append(o.DiscoverOptions, opts...)
	}
}

// WithResolveOptions sets the accumulator options.
func WithResolveOptions(opts ...resolve.Option) Option {
	return func(o *Options) {
		o.ResolveOptions = append(o.ResolveOptions, opts...)
	}
}

// WithCache enables the result cache.
func WithCache(c *cache.Cache, configHash string) Option {
	return func(o *Options) {
		o.Cache = c
		o.ConfigHash = configHash
	}
}

// WithProgress sets the progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(o *Options) {
		o.Progress = fn
	}
}

// WithProgressRate caps intermediate progress events per second.
func WithProgressRate(perSecond float64) Option {
	return func(o *Options) {
		o.ProgressRate = perSecond
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// WithConfig applies the build, discovery, parser and pattern settings of
// cfg. The cache is opened by the caller and passed with WithCache.
func WithConfig(cfg *config.Config) Option {
	return func(o *Options) {
		if cfg == nil {
			return
		}
		if cfg.Build.Workers > 0 {
			o.Workers = cfg.Build.Workers
		}
		o.ChunkSize = cfg.Build.ChunkSize
		o.ParserOptions = append(o.ParserOptions, cfg.ParserOptions()...)
		o.DiscoverOptions = append(o.DiscoverOptions, cfg.DiscoverOptions()...)
		o.ResolveOptions = append(o.ResolveOptions,
			resolve.WithPatternConfig(cfg.PatternConfig()),
			resolve.WithMaxFunctions(cfg.Build.MaxFunctions),
		)
		o.ConfigHash = cfg.Hash()
	}
}

// Orchestrator runs builds.
//
// Thread Safety: An Orchestrator is immutable after New. Concurrent Build
// calls are safe; each owns its own state.
type Orchestrator struct {
	options  Options
	registry *ast.ParserRegistry
	logger   *slog.Logger
}

// New creates an Orchestrator.
//
// Example:
//
//	o := pipeline.New(pipeline.WithConfig(cfg), pipeline.WithCache(c, cfg.Hash()))
//	res, err := o.Build(ctx, "/path/to/project")
func New(opts ...Option) *Orchestrator {
	options := Options{
		Workers:      runtime.NumCPU(),
		ProgressRate: DefaultProgressRate,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.Workers <= 0 {
		options.Workers = 1
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	return &Orchestrator{
		options:  options,
		registry: ast.NewDefaultRegistry(options.ParserOptions...),
		logger:   options.Logger,
	}
}

// With returns a copy of o with opts applied on top of its options. The
// copy shares o's parser registry and cache.
//
// Example:
//
//	streaming := o.With(pipeline.WithProgress(send))
func (o *Orchestrator) With(opts ...Option) *Orchestrator {
	options := o.options
	for _, opt := range opts {
		opt(&options)
	}
	if options.Workers <= 0 {
		options.Workers = 1
	}
	if options.Logger == nil {
		options.Logger = o.logger
	}
	return &Orchestrator{
		options:  options,
		registry: o.registry,
		logger:   options.Logger,
	}
}

// Workers returns the worker pool size.
func (o *Orchestrator) Workers() int {
	return o.options.Workers
}

// Build discovers and analyzes every source file under root.
//
// Description:
//
//	Only discovery failures and cancellation are returned as errors.
//	Files that cannot be read or parsed are listed in Result.FileErrors
//	and contribute nothing to the graph.
//
// Inputs:
//   - ctx: Context for cancellation and tracing.
//   - root: Project root directory.
//
// Outputs:
//   - *Result: The finished build.
//   - error: ErrEmptyRoot, ErrDiscovery, or the context error.
//
// Thread Safety: Safe for concurrent use.
func (o *Orchestrator) Build(ctx context.Context, root string) (*Result, error) {
	return o.build(ctx, root, nil)
}

// BuildFiles analyzes a pre-enumerated list of root-relative files instead
// of walking root.
func (o *Orchestrator) BuildFiles(ctx context.Context, root string, files []string) (*Result, error) {
	return o.build(ctx, root, []discover.Option{discover.WithFiles(files)})
}

func (o *Orchestrator) build(ctx context.Context, root string, extra []discover.Option) (_ *Result, err error) {
	if root == "" {
		return nil, ErrEmptyRoot
	}
	if abs, absErr := filepath.Abs(root); absErr == nil {
		root = abs
	}

	start := time.Now()
	ctx, span := startBuildSpan(ctx, root)
	defer span.End()

	res := &Result{
		BuildID:             uuid.NewString(),
		Root:                root,
		FrameworkExclusions: graph.NewFunctionSet(),
		PointerUsed:         graph.NewFunctionSet(),
		FileErrors:          make([]FileError, 0),
	}
	defer func() {
		res.Stats.Total = time.Since(start)
		setBuildSpanResult(span, res.Stats, res.CacheHit, err)
		recordBuildMetrics(ctx, res.Stats.Total, res.Stats.Nodes, res.Stats.Edges, res.CacheHit, err == nil)
	}()

	files, err := o.discover(ctx, root, extra)
	res.Stats.Durations.Discover = time.Since(start)
	if err != nil {
		return nil, err
	}
	res.Stats.FilesDiscovered = len(files)

	byLang := make(map[ast.Language][]string)
	for _, f := range files {
		lang := ast.LanguageForPath(f)
		byLang[lang] = append(byLang[lang], f)
	}

	progress := newProgressReporter(o.options.Progress, o.options.ProgressRate)
	var parts []*langResult

	rust, err := o.buildRust(ctx, root, byLang[ast.LanguageRust], progress, res)
	if err != nil {
		return nil, err
	}
	parts = append(parts, rust)

	if pyFiles := byLang[ast.LanguagePython]; len(pyFiles) > 0 {
		progress.reset()
		py, err := o.buildLanguage(ctx, root, ast.LanguagePython, pyFiles, progress, res)
		if err != nil {
			return nil, err
		}
		parts = append(parts, py)
	}

	graphs := make([]*graph.CallGraph, 0, len(parts))
	for _, p := range parts {
		if p == nil {
			continue
		}
		graphs = append(graphs, p.graph)
		res.FrameworkExclusions.Union(p.exclusions)
		res.PointerUsed.Union(p.pointerUsed)
		res.PublicAPIs = append(res.PublicAPIs, p.publicAPIs...)
	}
	res.Graph = graph.MergeAll(graphs...)
	sort.Slice(res.PublicAPIs, func(i, j int) bool { return res.PublicAPIs[i].Less(res.PublicAPIs[j]) })

	res.Stats.Nodes = res.Graph.NodeCount()
	res.Stats.Edges = res.Graph.EdgeCount()
	sort.Slice(res.FileErrors, func(i, j int) bool { return res.FileErrors[i].Path < res.FileErrors[j].Path })
	res.Stats.FilesFailed = len(res.FileErrors)
	res.Stats.FrameworkExclusions = res.FrameworkExclusions.Len()
	res.Stats.PointerUsed = res.PointerUsed.Len()

	o.logger.Info("call graph built",
		slog.String("build_id", res.BuildID),
		slog.String("root", root),
		slog.Int("files", res.Stats.FilesDiscovered),
		slog.Int("file_errors", res.Stats.FilesFailed),
		slog.Int("nodes", res.Stats.Nodes),
		slog.Int("edges", res.Stats.Edges),
		slog.Bool("cache_hit", res.CacheHit),
		slog.Duration("duration", time.Since(start)))
	return res, nil
}

func (o *Orchestrator) discover(ctx context.Context, root string, extra []discover.Option) ([]string, error) {
	// Configured options come after the registry's extensions so they can
	// narrow them.
	opts := []discover.Option{discover.WithExtensions(o.registry.Extensions()...), discover.WithLogger(o.logger)}
	opts = append(opts, o.options.DiscoverOptions...)
	opts = append(opts, extra...)
	d, err := discover.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDiscovery, err)
	}
	files, err := d.Discover(ctx, root)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %w", ErrDiscovery, err)
	}
	return files, nil
}

// buildRust serves the Rust files from the cache when their fingerprint
// matches and builds and stores them otherwise.
func (o *Orchestrator) buildRust(ctx context.Context, root string, files []string, progress *progressReporter, res *Result) (*langResult, error) {
	if len(files) == 0 {
		return nil, nil
	}
	c := o.options.Cache
	if c == nil {
		return o.buildLanguage(ctx, root, ast.LanguageRust, files, progress, res)
	}

	key, err := o.fingerprint(root, files)
	if err != nil {
		o.logger.Warn("cache disabled for this build", slog.String("error", err.Error()))
		return o.buildLanguage(ctx, root, ast.LanguageRust, files, progress, res)
	}

	if entry, ok := c.Get(ctx, key); ok {
		g, gerr := entry.CallGraph()
		if gerr == nil {
			res.CacheHit = true
			res.Stats.FilesParsed += entry.FilesParsed
			for _, f := range entry.FileFailures {
				res.FileErrors = append(res.FileErrors, FileError{Path: f.Path, Phase: f.Phase, Err: errors.New(f.Message)})
			}
			o.logger.Debug("using cached rust graph",
				slog.String("key", key),
				slog.Int("nodes", g.NodeCount()))
			return &langResult{
				graph:       g,
				exclusions:  entry.Exclusions(),
				pointerUsed: entry.PointerUsedSet(),
				publicAPIs:  entry.PublicAPIs,
			}, nil
		}
		o.logger.Warn("cached graph unusable, rebuilding",
			slog.String("key", key),
			slog.String("error", gerr.Error()))
	}

	parsedBefore, failedBefore := res.Stats.FilesParsed, len(res.FileErrors)
	lr, err := o.buildLanguage(ctx, root, ast.LanguageRust, files, progress, res)
	if err != nil {
		return nil, err
	}
	entry := cache.NewEntry(root, lr.graph, lr.exclusions, lr.pointerUsed, lr.publicAPIs)
	entry.FilesParsed = res.Stats.FilesParsed - parsedBefore
	for _, fe := range res.FileErrors[failedBefore:] {
		entry.FileFailures = append(entry.FileFailures, cache.FileFailure{Path: fe.Path, Phase: fe.Phase, Message: fe.Message()})
	}
	if _, err := c.Put(ctx, key, entry); err != nil {
		o.logger.Warn("failed to store cache entry",
			slog.String("key", key),
			slog.String("error", err.Error()))
	}
	return lr, nil
}

func (o *Orchestrator) fingerprint(root string, files []string) (string, error) {
	stats, err := cache.StatFiles(root, files)
	if err != nil {
		return "", err
	}
	return cache.Fingerprint(root, stats, o.options.ConfigHash)
}
