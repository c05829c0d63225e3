// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resolve

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/callgraph/services/callgraph/graph"
)

// EnhancedGraph is the final result of the resolution phase.
type EnhancedGraph struct {
	Graph *graph.CallGraph

	// FrameworkExclusions are functions invoked by frameworks, macros or
	// external traits. Never reported as dead code.
	FrameworkExclusions *graph.FunctionSet

	// PointerUsed are functions observed as values.
	PointerUsed *graph.FunctionSet

	// PublicAPIs are functions callable from outside the project.
	PublicAPIs []graph.FunctionID

	Patterns         []FrameworkPattern
	HigherOrderCalls []HigherOrderCall
	Stats            Stats
}

// Finalizer completes a build once every file has been processed.
type Finalizer struct {
	logger *slog.Logger
}

// NewFinalizer creates a finalizer. A nil logger uses slog.Default().
func NewFinalizer(logger *slog.Logger) *Finalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Finalizer{logger: logger}
}

// Finalize completes the accumulator and returns the enhanced graph.
//
// Description:
//
//	Every recorded trait call and Python self call is dispatched again
//	against the complete registry, picking up implementations and
//	subclasses in files processed after the call site. Implementations of visitor traits and of traits declared
//	outside the project are added to the framework exclusions, since the
//	code invoking them is not in the graph. The accumulator is frozen
//	afterwards.
//
// Inputs:
//   - ctx: Context for cancellation and tracing.
//   - acc: The build's accumulator.
//
// Outputs:
//   - *EnhancedGraph: The final graph and its sets.
//   - error: ErrNilAccumulator, ErrAlreadyFinalized on a second call, or
//     the context error.
func (f *Finalizer) Finalize(ctx context.Context, acc *Accumulator) (*EnhancedGraph, error) {
	if acc == nil {
		return nil, ErrNilAccumulator
	}
	if acc.finalized {
		return nil, ErrAlreadyFinalized
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ctx, span := startResolveSpan(ctx, "Finalizer.Finalize",
		attribute.Int("resolve.trait_calls", len(acc.traitCalls)))
	defer span.End()
	start := time.Now()

	added := 0
	acc.stats.UnresolvedTraits = 0
	for _, tc := range acc.traitCalls {
		n, found := acc.dispatch(tc)
		added += n
		if !found {
			acc.stats.UnresolvedTraits++
		}
	}
	for _, sc := range acc.selfCalls {
		added += dispatchPythonSelf(acc, sc)
	}
	acc.stats.FinalizerEdges += added

	for _, impl := range acc.traits.VisitImpls() {
		for _, id := range acc.traits.ImplMethodIDs(impl) {
			f.exclude(ctx, acc, FrameworkPattern{
				Type:       PatternVisitTrait,
				Function:   id,
				Framework:  impl.Trait,
				Trigger:    "impl " + impl.Trait,
				Confidence: 1.0,
			})
		}
	}
	for _, impl := range acc.traits.ExternalImpls() {
		for _, id := range acc.traits.ImplMethodIDs(impl) {
			f.exclude(ctx, acc, FrameworkPattern{
				Type:       PatternCustom,
				Function:   id,
				Framework:  impl.Trait,
				Trigger:    "external trait " + impl.Trait,
				Confidence: 0.85,
			})
		}
	}

	// The exclusion set covers every excluded detection.
	for _, p := range acc.patterns.Patterns() {
		if p.Excluded() {
			acc.exclusions.Add(p.Function, p.Type.String())
		}
	}

	result := &EnhancedGraph{
		Graph:               acc.graph,
		FrameworkExclusions: acc.exclusions,
		PointerUsed:         acc.pointerUsed,
		PublicAPIs:          PublicAPIs(acc),
		Patterns:            acc.patterns.Patterns(),
		HigherOrderCalls:    acc.pointers.HigherOrderCalls(),
		Stats:               acc.stats,
	}
	acc.finalized = true

	recordPass(ctx, "finalizer", time.Since(start), added)
	span.SetAttributes(
		attribute.Int("resolve.edges", added),
		attribute.Int("resolve.unresolved_traits", acc.stats.UnresolvedTraits))
	f.logger.Info("call graph finalized",
		slog.Int("functions", acc.graph.NodeCount()),
		slog.Int("edges", acc.graph.EdgeCount()),
		slog.Int("finalizer_edges", added),
		slog.Int("exclusions", acc.exclusions.Len()),
		slog.Int("pointer_used", acc.pointerUsed.Len()),
		slog.Int("unresolved_trait_calls", acc.stats.UnresolvedTraits))
	return result, nil
}

func (f *Finalizer) exclude(ctx context.Context, acc *Accumulator, p FrameworkPattern) {
	if acc.patterns.Add(p) {
		acc.stats.Patterns++
		recordPattern(ctx, p.Type)
	}
	acc.exclusions.Add(p.Function, p.Type.String())
}

// LiveFunctions returns every function reachable from a root: entry
// points, tests, framework exclusions, functions used as values and public
// APIs.
func (g *EnhancedGraph) LiveFunctions() *graph.FunctionSet {
	live := graph.NewFunctionSet()
	var queue []graph.FunctionID
	root := func(id graph.FunctionID, reason string) {
		if g.Graph.HasFunction(id) && live.Add(id, reason) {
			queue = append(queue, id)
		}
	}
	for _, n := range g.Graph.Nodes() {
		switch {
		case n.IsEntryPoint:
			root(n.ID, "entry point")
		case n.IsTest:
			root(n.ID, "test")
		}
	}
	for _, e := range g.FrameworkExclusions.Entries() {
		root(e.ID, e.Reason)
	}
	for _, e := range g.PointerUsed.Entries() {
		root(e.ID, e.Reason)
	}
	for _, id := range g.PublicAPIs {
		root(id, "public api")
	}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, callee := range g.Graph.Callees(cur) {
			if live.Add(callee, "called by "+cur.String()) {
				queue = append(queue, callee)
			}
		}
	}
	return live
}

// PotentialDeadCode returns functions no root reaches, sorted.
func (g *EnhancedGraph) PotentialDeadCode() []graph.FunctionID {
	live := g.LiveFunctions()
	var out []graph.FunctionID
	for _, n := range g.Graph.Nodes() {
		if !live.Contains(n.ID) {
			out = append(out, n.ID)
		}
	}
	return out
}
