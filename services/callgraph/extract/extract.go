// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package extract builds partial call graphs from parsed files.
//
// A partial graph holds every function of its files, the calls whose
// target is defined in the caller's own file, and a PendingCall for every
// other call site. Partial graphs are merged and their pending calls
// resolved once the whole project is known.
package extract

import (
	"strings"

	"github.com/AleutianAI/callgraph/services/callgraph/ast"
	"github.com/AleutianAI/callgraph/services/callgraph/graph"
	"github.com/AleutianAI/callgraph/services/callgraph/index"
)

// entryPrefixes mark conventional entry points besides main.
var entryPrefixes = []string{"handle_", "run_"}

// testAttributes are attributes and decorators marking a test function.
var testAttributes = []string{"test", "rstest", "test_case", "bench", "quickcheck", "proptest"}

// Extract builds one partial graph from files.
//
// Description:
//
//	Every function becomes a node. Calls that resolve unambiguously to a
//	function in the caller's own file become Direct, Async or Pipeline
//	edges; the rest become pending calls carrying the receiver's declared
//	type when the caller knows it. Calls to a parameter or local binding
//	are left to pointer analysis, and method calls on a trait object or
//	bounded generic are left to trait dispatch.
//
// Inputs:
//   - files: Parsed files. Nil entries are skipped.
//
// Outputs:
//   - *graph.CallGraph: Never nil. The result depends only on files, not on
//     their order.
//
// Thread Safety: Safe for concurrent use on disjoint inputs.
func Extract(files []*ast.FileAST) *graph.CallGraph {
	g := graph.NewCallGraph()
	idx := index.NewFunctionIndex(index.WithMaxFunctions(int(^uint(0) >> 1)))
	for _, f := range files {
		if f == nil || f.Path == "" {
			continue
		}
		// Unbounded index, so AddFile cannot fail on capacity.
		_, _ = idx.AddFile(f)
	}
	resolver := index.NewCallResolver(idx)

	for _, f := range files {
		if f == nil || f.Path == "" {
			continue
		}
		for _, fn := range f.Functions {
			g.AddFunction(NodeFor(f.Path, fn))
		}
		for _, fn := range f.Functions {
			extractCalls(g, idx, resolver, f.Path, fn)
		}
	}
	return g
}

// NodeFor returns the graph node for a parsed function.
func NodeFor(file string, fn *ast.Function) graph.FunctionNode {
	return graph.FunctionNode{
		ID:           index.FunctionIDFor(file, fn),
		IsEntryPoint: IsEntryPoint(fn),
		IsTest:       IsTest(file, fn),
		Complexity:   fn.Complexity,
		Length:       fn.Length(),
	}
}

func extractCalls(g *graph.CallGraph, idx *index.FunctionIndex, resolver *index.CallResolver, file string, fn *ast.Function) {
	caller := index.FunctionIDFor(file, fn)
	for _, call := range fn.Calls {
		if !call.IsMethod && !strings.ContainsAny(call.Path, ":.") && fn.IsBound(call.Path) {
			continue
		}
		if call.IsMethod && DispatchedReceiver(fn, call.Receiver) {
			// Trait dispatch links every implementer later.
			continue
		}
		recvType := ""
		if call.IsMethod {
			recvType = ReceiverType(fn, call.Receiver)
		}

		callee, ok := resolver.Resolve(index.Call{
			CallerFile:   file,
			CallerOwner:  fn.Owner,
			Target:       call.Path,
			Receiver:     call.Receiver,
			ReceiverType: recvType,
			IsMethod:     call.IsMethod,
			SameFileOnly: true,
		})
		if ok {
			g.AddCall(graph.CallEdge{Caller: caller, Callee: callee, Type: EdgeType(idx, call, callee)})
			continue
		}
		g.AddPending(graph.PendingCall{
			Caller:       caller,
			Target:       call.Path,
			Receiver:     call.Receiver,
			ReceiverType: recvType,
			IsMethod:     call.IsMethod,
			Line:         call.Line,
		})
	}
}

// ReceiverType returns the concrete type of a method receiver when the
// function declares it. Generic parameters and trait objects return "".
func ReceiverType(fn *ast.Function, receiver string) string {
	if receiver == "" {
		return ""
	}
	declared, ok := fn.LocalType(receiver)
	if !ok {
		return ""
	}
	te := ast.ParseTypeExpr(declared)
	if te.Concrete == "" {
		return ""
	}
	if _, generic := fn.Bounds[te.Concrete]; generic {
		return ""
	}
	return te.Concrete
}

// DispatchedReceiver reports whether receiver is declared as a trait object,
// an impl Trait, or a generic parameter with trait bounds.
func DispatchedReceiver(fn *ast.Function, receiver string) bool {
	if receiver == "" {
		return false
	}
	declared, ok := fn.LocalType(receiver)
	if !ok {
		return false
	}
	te := ast.ParseTypeExpr(declared)
	if len(te.Traits) > 0 {
		return true
	}
	return te.Concrete != "" && len(fn.Bounds[te.Concrete]) > 0
}

// EdgeType classifies a resolved call.
//
// Calls to async functions are Async; method calls on the result of another
// call ("iter().map(..)") are Pipeline; everything else is Direct.
func EdgeType(idx *index.FunctionIndex, call ast.CallSite, callee graph.FunctionID) graph.CallType {
	if e, ok := idx.Get(callee); ok && e.IsAsync {
		return graph.CallAsync
	}
	if call.IsMethod && strings.HasSuffix(call.Receiver, ")") {
		return graph.CallPipeline
	}
	return graph.CallDirect
}

// IsEntryPoint reports whether fn is main, a handle_* or run_* function, or
// a Python module body.
func IsEntryPoint(fn *ast.Function) bool {
	if fn.Name == ast.ModuleFunctionName {
		return true
	}
	if fn.Owner == "" && fn.BaseName == "main" {
		return true
	}
	for _, p := range entryPrefixes {
		if strings.HasPrefix(fn.BaseName, p) {
			return true
		}
	}
	return false
}

// IsTest reports whether fn is a test: it carries a test attribute, its name
// starts with test_, it sits in a test module, or its file lives under a
// test directory.
func IsTest(file string, fn *ast.Function) bool {
	if fn.InTestModule || strings.HasPrefix(fn.BaseName, "test_") {
		return true
	}
	for _, a := range testAttributes {
		if fn.HasAttribute(a) {
			return true
		}
	}
	return IsTestPath(file)
}

// IsTestPath reports whether a path has a test or tests directory component,
// or a test_*.py / *_test.py style file name.
func IsTestPath(file string) bool {
	parts := strings.Split(strings.ReplaceAll(file, "\\", "/"), "/")
	for _, p := range parts[:len(parts)-1] {
		if p == "test" || p == "tests" {
			return true
		}
	}
	name := parts[len(parts)-1]
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		name = name[:i]
	}
	return strings.HasPrefix(name, "test_") || strings.HasSuffix(name, "_test") || name == "conftest"
}
