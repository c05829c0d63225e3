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

	"github.com/AleutianAI/callgraph/services/callgraph/ast"
	"github.com/AleutianAI/callgraph/services/callgraph/graph"
	"github.com/AleutianAI/callgraph/services/callgraph/index"
)

// ctxCheckInterval is how many references are resolved between context
// checks.
const ctxCheckInterval = 256

// CrossModuleStats summarizes one cross-module run.
type CrossModuleStats struct {
	Attempted int `json:"attempted"`
	Resolved  int `json:"resolved"`
	Dropped   int `json:"dropped"`
}

// CrossModuleResolver retries deferred references once every file has
// been registered.
type CrossModuleResolver struct {
	logger *slog.Logger
}

// NewCrossModuleResolver creates a resolver. A nil logger uses
// slog.Default().
func NewCrossModuleResolver(logger *slog.Logger) *CrossModuleResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &CrossModuleResolver{logger: logger}
}

// ResolveAll resolves the accumulator's deferred references.
//
// Description:
//
//	Each reference is resolved against the complete module index using
//	its caller's module context. References that still match nothing,
//	usually calls into the standard library or third-party packages, are
//	dropped and logged at debug level. Deferred references are cleared
//	afterwards, so a second call does nothing.
//
// Inputs:
//   - ctx: Context for cancellation, checked periodically.
//   - acc: The build's accumulator, after every file was processed.
//
// Outputs:
//   - CrossModuleStats: Attempted, resolved and dropped counts.
//   - error: ErrNilAccumulator, ErrAlreadyFinalized or the context error.
//     On cancellation the references not yet processed stay deferred.
func (r *CrossModuleResolver) ResolveAll(ctx context.Context, acc *Accumulator) (CrossModuleStats, error) {
	var stats CrossModuleStats
	if acc == nil {
		return stats, ErrNilAccumulator
	}
	if acc.finalized {
		return stats, ErrAlreadyFinalized
	}
	ctx, span := startResolveSpan(ctx, "CrossModuleResolver.ResolveAll",
		attribute.Int("resolve.deferred", len(acc.unresolved)))
	defer span.End()
	start := time.Now()

	pending := acc.unresolved
	added := 0
	for i, u := range pending {
		if i%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				acc.unresolved = pending[i:]
				return stats, err
			}
		}
		stats.Attempted++

		caller, ok := acc.index.Get(u.Caller)
		if !ok {
			stats.Dropped++
			continue
		}
		targets := r.resolve(acc, caller, u)
		if len(targets) == 0 {
			stats.Dropped++
			if u.Kind == UnresolvedValue {
				acc.pointers.RecordUnresolved()
			}
			r.logger.Debug("dropping unresolved reference",
				slog.String("caller", u.Caller.String()),
				slog.String("target", u.Path(caller.Language)),
				slog.Int("line", u.Line))
			continue
		}
		stats.Resolved++

		if u.Kind == UnresolvedValue {
			added += acc.useValue(u.Caller, targets, u.HigherOrder, u.Called)
			if u.HigherOrder != "" {
				acc.pointers.RecordHigherOrder(HigherOrderCall{
					Caller:      u.Caller,
					HigherOrder: u.HigherOrder,
					Arguments:   targets,
					Line:        u.Line,
				})
			}
			continue
		}
		for _, t := range targets {
			typ := graph.CallDirect
			if e, ok := acc.index.Get(t); ok && e.IsAsync {
				typ = graph.CallAsync
			}
			if acc.link(u.Caller, t, typ) {
				added++
			}
		}
	}
	acc.unresolved = nil

	acc.stats.CrossModuleEdges += added
	acc.stats.CrossModuleDropped += stats.Dropped
	recordPass(ctx, "cross_module", time.Since(start), added)
	recordDropped(ctx, stats.Dropped)
	span.SetAttributes(
		attribute.Int("resolve.resolved", stats.Resolved),
		attribute.Int("resolve.dropped", stats.Dropped))

	r.logger.Info("cross-module resolution complete",
		slog.Int("attempted", stats.Attempted),
		slog.Int("resolved", stats.Resolved),
		slog.Int("dropped", stats.Dropped),
		slog.Int("edges", added))
	return stats, nil
}

func (r *CrossModuleResolver) resolve(acc *Accumulator, caller *index.Entry, u Unresolved) []graph.FunctionID {
	lang := caller.Language
	if ids := entryIDs(acc.modules.Resolve(caller, u.Path(lang))); len(ids) > 0 {
		return ids
	}

	// Type::method and Class() where the type is known by name only.
	segs := splitClean(ast.StripGenerics(u.Path(lang)), lang)
	switch {
	case len(segs) >= 2:
		owner, method := segs[len(segs)-2], segs[len(segs)-1]
		if best := index.SelectBest(acc.index.Method(owner, method), caller.ID.File, false); best != nil {
			return []graph.FunctionID{best.ID}
		}
	case len(segs) == 1 && lang == ast.LanguagePython:
		if best := index.SelectBest(acc.index.Method(segs[0], "__init__"), caller.ID.File, false); best != nil {
			return []graph.FunctionID{best.ID}
		}
	}
	return nil
}

// PublicAPIs returns functions reachable from outside the project: public
// Rust items outside test modules, and public top-level functions of
// Python package __init__ files.
func PublicAPIs(acc *Accumulator) []graph.FunctionID {
	var out []graph.FunctionID
	for _, e := range acc.index.All() {
		switch e.Language {
		case ast.LanguageRust:
			if e.Visibility != ast.VisibilityPublic || e.InTraitDef {
				continue
			}
			if n, ok := acc.graph.Node(e.ID); ok && n.IsTest {
				continue
			}
			out = append(out, e.ID)
		case ast.LanguagePython:
			if e.Owner != "" || !index.IsPackageInit(e.ID.File) || e.BaseName == ast.ModuleFunctionName {
				continue
			}
			if len(e.BaseName) > 0 && e.BaseName[0] == '_' {
				continue
			}
			out = append(out, e.ID)
		}
	}
	return out
}
