// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package resolve implements the sequential resolution phase: the
// Enhanced Resolver's four per-file passes, cross-module resolution and
// the Finalizer, all sharing one Accumulator.
package resolve

import (
	"fmt"
	"log/slog"

	"github.com/AleutianAI/callgraph/services/callgraph/ast"
	"github.com/AleutianAI/callgraph/services/callgraph/extract"
	"github.com/AleutianAI/callgraph/services/callgraph/graph"
	"github.com/AleutianAI/callgraph/services/callgraph/index"
)

// UnresolvedKind says what an unresolved reference was used for.
type UnresolvedKind int

const (
	// UnresolvedCall is a call site.
	UnresolvedCall UnresolvedKind = iota

	// UnresolvedValue is a function named as a value.
	UnresolvedValue
)

// Unresolved is a reference the per-file passes could not match. The
// cross-module resolver retries it once every file has been registered.
type Unresolved struct {
	Kind     UnresolvedKind
	Caller   graph.FunctionID
	Target   string
	Receiver string
	IsMethod bool
	Line     int

	// HigherOrder is the function a value was passed to, if any.
	HigherOrder string

	// Called marks a value bound to a local name that the caller invokes.
	Called bool
}

// Path returns the full path the reference names.
func (u Unresolved) Path(lang ast.Language) string {
	if u.IsMethod && u.Receiver != "" {
		return u.Receiver + lang.PathSeparator() + u.Target
	}
	return u.Target
}

// Stats counts the work of the resolution phase.
type Stats struct {
	Files              int `json:"files"`
	BasicEdges         int `json:"basic_edges"`
	DispatchEdges      int `json:"dispatch_edges"`
	PointerEdges       int `json:"pointer_edges"`
	CrossModuleEdges   int `json:"cross_module_edges"`
	FinalizerEdges     int `json:"finalizer_edges"`
	TraitCalls         int `json:"trait_calls"`
	UnresolvedTraits   int `json:"unresolved_trait_calls"`
	CrossModuleDropped int `json:"cross_module_dropped"`
	Patterns           int `json:"patterns"`
}

// Options configures an Accumulator.
type Options struct {
	Patterns PatternConfig

	// MaxFunctions bounds the function index.
	// Default: index.DefaultMaxFunctions
	MaxFunctions int

	Logger *slog.Logger
}

// Option is a functional option for configuring an Accumulator.
type Option func(*Options)

// WithPatternConfig sets the framework pattern configuration.
func WithPatternConfig(cfg PatternConfig) Option {
	return func(o *Options) {
		o.Patterns = cfg
	}
}

// WithMaxFunctions bounds the number of indexed functions.
func WithMaxFunctions(n int) Option {
	return func(o *Options) {
		o.MaxFunctions = n
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// Accumulator is the state shared by the resolution passes of one build.
//
// Description:
//
//	Every pass reads symbols earlier passes and earlier files registered,
//	and adds edges, set members or deferred work. The accumulator is
//	passed explicitly to each pass and lives for one pipeline run.
//
// Thread Safety:
//
//	Not safe for concurrent use. Exactly one goroutine owns it; the graph
//	it wraps stays safe for concurrent readers.
type Accumulator struct {
	graph       *graph.CallGraph
	index       *index.FunctionIndex
	calls       *index.CallResolver
	modules     *ModuleIndex
	traits      *TraitRegistry
	pointers    *FunctionPointerTracker
	patterns    *FrameworkPatternDetector
	exclusions  *graph.FunctionSet
	pointerUsed *graph.FunctionSet

	files      map[string]*ast.FileAST
	order      []string
	unresolved []Unresolved
	traitCalls []TraitCall
	selfCalls  []selfCall

	stats     Stats
	finalized bool
	logger    *slog.Logger
}

// NewAccumulator creates an accumulator seeded with base.
//
// Inputs:
//   - base: The merged basic graph. The accumulator takes ownership and
//     adds to it. Nil starts from an empty graph.
func NewAccumulator(base *graph.CallGraph, opts ...Option) *Accumulator {
	options := Options{
		Patterns:     DefaultPatternConfig(),
		MaxFunctions: index.DefaultMaxFunctions,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	if base == nil {
		base = graph.NewCallGraph()
	}
	idx := index.NewFunctionIndex(index.WithMaxFunctions(options.MaxFunctions))
	return &Accumulator{
		graph:       base,
		index:       idx,
		calls:       index.NewCallResolver(idx),
		modules:     NewModuleIndex(),
		traits:      NewTraitRegistry(),
		pointers:    NewFunctionPointerTracker(),
		patterns:    NewFrameworkPatternDetector(options.Patterns),
		exclusions:  graph.NewFunctionSet(),
		pointerUsed: graph.NewFunctionSet(),
		files:       make(map[string]*ast.FileAST),
		logger:      options.Logger,
	}
}

// Register adds a file's symbols: functions, modules, imports, traits and
// impls. Registering the same path twice is a no-op.
func (a *Accumulator) Register(file *ast.FileAST) error {
	if file == nil || file.Path == "" {
		return fmt.Errorf("%w: nil file or empty path", ErrInvalidFile)
	}
	if _, ok := a.files[file.Path]; ok {
		return nil
	}
	if _, err := a.index.AddFile(file); err != nil {
		return fmt.Errorf("registering %s: %w", file.Path, err)
	}
	entries := a.index.ByFile(file.Path)
	a.modules.AddFile(file, entries)
	a.traits.AddFile(file, entries)
	for _, fn := range file.Functions {
		a.graph.AddFunction(extract.NodeFor(file.Path, fn))
	}
	a.files[file.Path] = file
	a.order = append(a.order, file.Path)
	return nil
}

// link adds an edge and reports whether it is new.
func (a *Accumulator) link(caller, callee graph.FunctionID, typ graph.CallType) bool {
	return a.graph.AddCall(graph.CallEdge{Caller: caller, Callee: callee, Type: typ})
}

func (a *Accumulator) deferRef(u Unresolved) {
	a.unresolved = append(a.unresolved, u)
}

// dispatch links a trait call to every implementation currently known and
// returns the number of new edges and whether any implementation exists.
func (a *Accumulator) dispatch(tc TraitCall) (int, bool) {
	var targets []graph.FunctionID
	for _, trait := range tc.Traits {
		targets = append(targets, a.traits.Implementations(trait, tc.Method)...)
	}
	targets = uniqueIDs(targets)
	added := 0
	for _, t := range targets {
		if t == tc.Caller && len(targets) > 1 {
			continue
		}
		if a.link(tc.Caller, t, graph.CallDelegate) {
			added++
		}
	}
	return added, len(targets) > 0
}

// selfCall is a Python self.method() or cls.method() call, dispatched
// through the class hierarchy.
type selfCall struct {
	caller graph.FunctionID
	class  string
	method string
}

// Graph returns the graph being built.
func (a *Accumulator) Graph() *graph.CallGraph { return a.graph }

// Index returns the function index of all registered files.
func (a *Accumulator) Index() *index.FunctionIndex { return a.index }

// Modules returns the module index.
func (a *Accumulator) Modules() *ModuleIndex { return a.modules }

// Traits returns the trait registry.
func (a *Accumulator) Traits() *TraitRegistry { return a.traits }

// Pointers returns the function pointer tracker.
func (a *Accumulator) Pointers() *FunctionPointerTracker { return a.pointers }

// Patterns returns the framework pattern detector.
func (a *Accumulator) Patterns() *FrameworkPatternDetector { return a.patterns }

// Exclusions returns the framework exclusion set.
func (a *Accumulator) Exclusions() *graph.FunctionSet { return a.exclusions }

// PointerUsed returns the set of functions used as values.
func (a *Accumulator) PointerUsed() *graph.FunctionSet { return a.pointerUsed }

// Unresolved returns references awaiting cross-module resolution.
func (a *Accumulator) Unresolved() []Unresolved {
	return append([]Unresolved(nil), a.unresolved...)
}

// File returns a registered file.
func (a *Accumulator) File(path string) (*ast.FileAST, bool) {
	f, ok := a.files[path]
	return f, ok
}

// Stats returns the counts so far.
func (a *Accumulator) Stats() Stats { return a.stats }

// Finalized reports whether Finalize has run.
func (a *Accumulator) Finalized() bool { return a.finalized }
