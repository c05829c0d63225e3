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
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/callgraph/services/callgraph/ast"
	"github.com/AleutianAI/callgraph/services/callgraph/extract"
	"github.com/AleutianAI/callgraph/services/callgraph/graph"
	"github.com/AleutianAI/callgraph/services/callgraph/index"
)

// EnhancedResolver runs the per-file resolution passes.
//
// Thread Safety: Stateless; all state lives in the Accumulator.
type EnhancedResolver struct {
	logger *slog.Logger
}

// NewEnhancedResolver creates a resolver. A nil logger uses slog.Default().
func NewEnhancedResolver(logger *slog.Logger) *EnhancedResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &EnhancedResolver{logger: logger}
}

type resolvePass struct {
	name string
	run  func(ctx context.Context, acc *Accumulator, file *ast.FileAST) int
}

// ProcessFile registers a file and runs the four passes over it.
//
// Description:
//
//	The passes run in a fixed order, each reading what the previous ones
//	registered:
//	  1. basic calls, resolved with module context (imports, crate, self,
//	     super) and receiver types
//	  2. trait dispatch and Python class hierarchy dispatch
//	  3. function pointers, bindings and higher-order arguments
//	  4. framework patterns
//	References no pass can match yet are kept for cross-module resolution.
//
// Inputs:
//   - ctx: Context for cancellation and tracing.
//   - acc: The build's accumulator.
//   - file: A parsed file.
//
// Outputs:
//   - error: ErrNilAccumulator, ErrAlreadyFinalized, ErrInvalidFile, an
//     index capacity error, or the context error.
//
// Thread Safety: Callers must serialize calls sharing an accumulator.
func (r *EnhancedResolver) ProcessFile(ctx context.Context, acc *Accumulator, file *ast.FileAST) error {
	if acc == nil {
		return ErrNilAccumulator
	}
	if acc.finalized {
		return ErrAlreadyFinalized
	}
	if file == nil || file.Path == "" {
		return fmt.Errorf("%w: nil file or empty path", ErrInvalidFile)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	ctx, span := startResolveSpan(ctx, "EnhancedResolver.ProcessFile", attribute.String("resolve.file", file.Path))
	defer span.End()

	if err := acc.Register(file); err != nil {
		return err
	}

	passes := []resolvePass{
		{"basic", r.resolveBasicCalls},
		{"trait_dispatch", r.resolveTraitDispatch},
		{"function_pointer", r.resolvePointers},
		{"framework_pattern", r.detectFrameworkPatterns},
	}
	for _, p := range passes {
		start := time.Now()
		n := p.run(ctx, acc, file)
		recordPass(ctx, p.name, time.Since(start), n)
		span.SetAttributes(attribute.Int("resolve."+p.name, n))
	}
	acc.stats.Files++

	r.logger.Debug("resolved file",
		slog.String("file", file.Path),
		slog.Int("functions", len(file.Functions)),
		slog.Int("deferred", len(acc.unresolved)))
	return nil
}

func callerEntry(acc *Accumulator, file *ast.FileAST, fn *ast.Function) (*index.Entry, bool) {
	return acc.index.Get(index.FunctionIDFor(file.Path, fn))
}

// isLocalName reports whether a bare name refers to a parameter or local
// binding rather than a function.
func isLocalName(fn *ast.Function, path string) bool {
	return !strings.ContainsAny(path, ":.") && fn.IsBound(path)
}

// resolveBasicCalls is pass 1.
func (r *EnhancedResolver) resolveBasicCalls(_ context.Context, acc *Accumulator, file *ast.FileAST) int {
	added := 0
	for _, fn := range file.Functions {
		caller, ok := callerEntry(acc, file, fn)
		if !ok {
			continue
		}
		for _, call := range fn.Calls {
			if call.IsMethod {
				added += r.resolveMethodCall(acc, file, fn, caller, call)
				continue
			}
			if isLocalName(fn, call.Path) {
				continue
			}
			segs := ast.SplitPath(ast.StripGenerics(call.Path), file.Language)
			if len(segs) >= 2 && acc.traits.IsTrait(segs[len(segs)-2]) {
				continue
			}
			targets := acc.modules.Resolve(caller, call.Path)
			if len(targets) == 0 {
				acc.deferRef(Unresolved{Kind: UnresolvedCall, Caller: caller.ID, Target: call.Path, Line: call.Line})
				continue
			}
			for _, t := range targets {
				if acc.link(caller.ID, t.ID, extract.EdgeType(acc.index, call, t.ID)) {
					added++
				}
			}
		}
	}
	acc.stats.BasicEdges += added
	return added
}

func (r *EnhancedResolver) resolveMethodCall(acc *Accumulator, file *ast.FileAST, fn *ast.Function, caller *index.Entry, call ast.CallSite) int {
	recvType := extract.ReceiverType(fn, call.Receiver)
	if recvType == "" && index.IsSelfReceiver(call.Receiver) && !fn.InTraitDef {
		recvType = fn.Owner
	}
	if recvType != "" {
		best := index.SelectBest(acc.index.Method(recvType, call.Path), file.Path, true)
		if best == nil {
			return 0
		}
		if acc.link(caller.ID, best.ID, extract.EdgeType(acc.index, call, best.ID)) {
			return 1
		}
		return 0
	}

	// Python attribute calls on an imported module or class.
	if file.Language != ast.LanguagePython {
		return 0
	}
	head, _, _ := strings.Cut(call.Receiver, ".")
	if head == "" || strings.ContainsAny(call.Receiver, "()[]") || index.IsSelfReceiver(head) || fn.IsBound(head) {
		return 0
	}
	targets := acc.modules.Resolve(caller, call.Receiver+"."+call.Path)
	if len(targets) == 0 {
		acc.deferRef(Unresolved{
			Kind:     UnresolvedCall,
			Caller:   caller.ID,
			Target:   call.Path,
			Receiver: call.Receiver,
			IsMethod: true,
			Line:     call.Line,
		})
		return 0
	}
	added := 0
	for _, t := range targets {
		if acc.link(caller.ID, t.ID, extract.EdgeType(acc.index, call, t.ID)) {
			added++
		}
	}
	return added
}

// dispatchSite is how one call reaches trait implementations.
type dispatchSite struct {
	traits   []string
	concrete string
	method   string
}

func dispatchSiteFor(acc *Accumulator, fn *ast.Function, call ast.CallSite) dispatchSite {
	if !call.IsMethod {
		segs := ast.SplitPath(ast.StripGenerics(call.Path), ast.LanguageRust)
		if n := len(segs); n >= 2 && acc.traits.IsTrait(segs[n-2]) {
			return dispatchSite{traits: []string{segs[n-2]}, method: segs[n-1]}
		}
		return dispatchSite{}
	}

	site := dispatchSite{method: call.Path}
	if index.IsSelfReceiver(call.Receiver) {
		if fn.InTraitDef {
			site.traits = []string{fn.Owner}
		} else {
			site.concrete = fn.Owner
		}
		return site
	}
	declared, ok := fn.LocalType(call.Receiver)
	if !ok {
		return dispatchSite{}
	}
	te := ast.ParseTypeExpr(declared)
	switch {
	case len(te.Traits) > 0:
		site.traits = te.Traits
	case fn.Bounds[te.Concrete] != nil:
		site.traits = fn.Bounds[te.Concrete]
	default:
		site.concrete = te.Concrete
	}
	return site
}

// resolveTraitDispatch is pass 2.
func (r *EnhancedResolver) resolveTraitDispatch(ctx context.Context, acc *Accumulator, file *ast.FileAST) int {
	added := 0
	for _, fn := range file.Functions {
		id := index.FunctionIDFor(file.Path, fn)
		for _, call := range fn.Calls {
			if file.Language == ast.LanguagePython {
				if call.IsMethod && index.IsSelfReceiver(call.Receiver) && fn.Owner != "" {
					sc := selfCall{caller: id, class: fn.Owner, method: call.Path}
					acc.selfCalls = append(acc.selfCalls, sc)
					added += dispatchPythonSelf(acc, sc)
				}
				continue
			}

			site := dispatchSiteFor(acc, fn, call)
			if site.concrete != "" {
				// A known type narrows dispatch to what that type inherits.
				if len(acc.index.Method(site.concrete, site.method)) == 0 {
					for _, t := range acc.traits.DefaultFor(site.concrete, site.method) {
						if acc.link(id, t, graph.CallDelegate) {
							added++
						}
					}
				}
				continue
			}
			if len(site.traits) == 0 {
				continue
			}
			tc := TraitCall{Caller: id, Traits: site.traits, Method: site.method, Line: call.Line}
			acc.traitCalls = append(acc.traitCalls, tc)
			acc.stats.TraitCalls++
			n, _ := acc.dispatch(tc)
			recordFanout(ctx, n)
			added += n
		}
	}
	acc.stats.DispatchEdges += added
	return added
}

// dispatchPythonSelf links self.method() to the method the class defines or
// inherits, and to overrides in subclasses.
func dispatchPythonSelf(acc *Accumulator, sc selfCall) int {
	caller, class, method := sc.caller, sc.class, sc.method
	added := 0
	if len(acc.index.Method(class, method)) == 0 {
		for _, base := range acc.traits.Ancestors(class) {
			if best := index.SelectBest(acc.index.Method(base, method), caller.File, true); best != nil {
				if acc.link(caller, best.ID, graph.CallDirect) {
					added++
				}
				break
			}
		}
	}
	for _, sub := range acc.traits.Descendants(class) {
		for _, e := range acc.index.Method(sub, method) {
			if acc.link(caller, e.ID, graph.CallDelegate) {
				added++
			}
		}
	}
	return added
}

// resolvePointers is pass 3.
func (r *EnhancedResolver) resolvePointers(_ context.Context, acc *Accumulator, file *ast.FileAST) int {
	added := 0
	for _, fn := range file.Functions {
		caller, ok := callerEntry(acc, file, fn)
		if !ok {
			continue
		}

		for _, b := range fn.Bindings {
			if b.IsClosure {
				acc.pointers.RecordClosure()
				continue
			}
			if b.Target == "" || isLocalName(fn, b.Target) {
				continue
			}
			targets := resolveValue(acc, fn, caller, b.Target)
			if len(targets) == 0 {
				acc.deferRef(Unresolved{
					Kind:   UnresolvedValue,
					Caller: caller.ID,
					Target: b.Target,
					Line:   b.Line,
					Called: callsName(fn, b.Name),
				})
				continue
			}
			acc.pointers.Bind(caller.ID, b.Name, targets)
			for _, t := range targets {
				acc.pointerUsed.Add(t, "bound to "+b.Name)
			}
		}

		for _, call := range fn.Calls {
			if call.IsMethod || strings.ContainsAny(call.Path, ":.") {
				continue
			}
			if b, ok := fn.Binding(call.Path); !ok || b.IsClosure {
				continue
			}
			targets := acc.pointers.Targets(caller.ID, call.Path)
			for _, t := range targets {
				if acc.link(caller.ID, t, graph.CallCallback) {
					added++
				}
			}
			if len(targets) > 0 {
				acc.pointers.RecordPointerCall()
			}
		}

		for _, ref := range fn.ValueRefs {
			if isLocalName(fn, ref.Path) || index.IsSelfReceiver(ref.Path) {
				continue
			}
			targets := resolveValue(acc, fn, caller, ref.Path)
			if len(targets) == 0 {
				acc.deferRef(Unresolved{
					Kind:        UnresolvedValue,
					Caller:      caller.ID,
					Target:      ref.Path,
					Line:        ref.Line,
					HigherOrder: ref.HigherOrder,
				})
				continue
			}
			added += acc.useValue(caller.ID, targets, ref.HigherOrder, false)
			if ref.HigherOrder != "" {
				acc.pointers.RecordHigherOrder(HigherOrderCall{
					Caller:      caller.ID,
					HigherOrder: ref.HigherOrder,
					Arguments:   targets,
					Line:        ref.Line,
				})
			}
		}
	}
	acc.stats.PointerEdges += added
	return added
}

// useValue marks targets as used by value and links them from the caller
// when the value is invoked. Returns the number of new edges.
func (a *Accumulator) useValue(caller graph.FunctionID, targets []graph.FunctionID, higherOrder string, called bool) int {
	reason := "passed as value"
	if higherOrder != "" {
		reason = "argument to " + higherOrder
	}
	added := 0
	for _, t := range targets {
		a.pointerUsed.Add(t, reason)
		if higherOrder == "" && !called {
			continue
		}
		if a.link(caller, t, graph.CallCallback) {
			added++
		}
	}
	return added
}

func callsName(fn *ast.Function, name string) bool {
	for _, c := range fn.Calls {
		if !c.IsMethod && c.Path == name {
			return true
		}
	}
	return false
}

// resolveValue resolves a function named as a value.
func resolveValue(acc *Accumulator, fn *ast.Function, caller *index.Entry, path string) []graph.FunctionID {
	segs := ast.SplitPath(path, caller.Language)
	if len(segs) == 2 && index.IsSelfReceiver(segs[0]) && fn.Owner != "" {
		classes := append([]string{fn.Owner}, acc.traits.Ancestors(fn.Owner)...)
		for _, c := range classes {
			if best := index.SelectBest(acc.index.Method(c, segs[1]), caller.ID.File, true); best != nil {
				return []graph.FunctionID{best.ID}
			}
		}
		return nil
	}
	return entryIDs(acc.modules.Resolve(caller, path))
}

// detectFrameworkPatterns is pass 4.
func (r *EnhancedResolver) detectFrameworkPatterns(ctx context.Context, acc *Accumulator, file *ast.FileAST) int {
	n := 0
	for _, fn := range file.Functions {
		for _, p := range acc.patterns.AnalyzeFunction(file, fn) {
			n++
			recordPattern(ctx, p.Type)
			if p.Excluded() {
				acc.exclusions.Add(p.Function, p.Type.String())
			}
		}
	}
	acc.stats.Patterns += n
	return n
}
