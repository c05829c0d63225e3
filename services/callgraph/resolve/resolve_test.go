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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/callgraph/services/callgraph/ast"
	"github.com/AleutianAI/callgraph/services/callgraph/graph"
)

// fnDef builds a function. Names with "::" or "." get the segment before
// the last as their owner.
func fnDef(lang ast.Language, name string, line int, calls ...ast.CallSite) *ast.Function {
	f := &ast.Function{
		Name:       name,
		BaseName:   ast.LastSegment(name),
		StartLine:  line,
		EndLine:    line + 3,
		Complexity: 1,
		Visibility: ast.VisibilityPrivate,
		Calls:      calls,
	}
	if segs := ast.SplitPath(name, lang); len(segs) > 1 {
		f.Owner = segs[len(segs)-2]
	}
	return f
}

func rs(name string, line int, calls ...ast.CallSite) *ast.Function {
	return fnDef(ast.LanguageRust, name, line, calls...)
}

func py(name string, line int, calls ...ast.CallSite) *ast.Function {
	return fnDef(ast.LanguagePython, name, line, calls...)
}

func rustFile(path string, fns ...*ast.Function) *ast.FileAST {
	return &ast.FileAST{Path: path, Language: ast.LanguageRust, Functions: fns}
}

func pyFile(path string, fns ...*ast.Function) *ast.FileAST {
	return &ast.FileAST{Path: path, Language: ast.LanguagePython, Functions: fns}
}

func call(path string, line int) ast.CallSite {
	return ast.CallSite{Path: path, Line: line}
}

func method(name, receiver string, line int) ast.CallSite {
	return ast.CallSite{Path: name, Receiver: receiver, IsMethod: true, Line: line}
}

func fid(file, name string, line int) graph.FunctionID {
	return graph.FunctionID{File: file, Name: name, Line: line}
}

// build runs every phase of the resolution over files in order.
func build(t *testing.T, files ...*ast.FileAST) (*Accumulator, *EnhancedGraph) {
	t.Helper()
	ctx := context.Background()
	acc := NewAccumulator(nil)
	r := NewEnhancedResolver(nil)
	for _, f := range files {
		require.NoError(t, r.ProcessFile(ctx, acc, f))
	}
	_, err := NewCrossModuleResolver(nil).ResolveAll(ctx, acc)
	require.NoError(t, err)
	eg, err := NewFinalizer(nil).Finalize(ctx, acc)
	require.NoError(t, err)
	return acc, eg
}

func edgeType(t *testing.T, g *graph.CallGraph, from, to graph.FunctionID) graph.CallType {
	t.Helper()
	typ, ok := g.EdgeType(from, to)
	require.True(t, ok, "missing edge %s -> %s", from, to)
	return typ
}

func TestResolve_RustImportsAndQualifiedPaths(t *testing.T) {
	main := rustFile("src/main.rs",
		rs("main", 3, call("send", 4), call("net::connect", 5), call("crate::util::log", 6), call("std::process::exit", 7)))
	main.Uses = []ast.UseDecl{{Path: []string{"crate", "net", "send"}, Alias: "send", Line: 1}}
	net := rustFile("src/net.rs", rs("send", 1), rs("connect", 5))
	util := rustFile("src/util.rs", rs("log", 1))

	ctx := context.Background()
	acc := NewAccumulator(nil)
	r := NewEnhancedResolver(nil)
	for _, f := range []*ast.FileAST{main, net, util} {
		require.NoError(t, r.ProcessFile(ctx, acc, f))
	}
	assert.Len(t, acc.Unresolved(), 4, "targets in later files wait for cross-module resolution")

	stats, err := NewCrossModuleResolver(nil).ResolveAll(ctx, acc)
	require.NoError(t, err)
	assert.Equal(t, CrossModuleStats{Attempted: 4, Resolved: 3, Dropped: 1}, stats)
	assert.Empty(t, acc.Unresolved())

	g := acc.Graph()
	caller := fid("src/main.rs", "main", 3)
	assert.Equal(t, graph.CallDirect, edgeType(t, g, caller, fid("src/net.rs", "send", 1)))
	assert.True(t, g.HasEdge(caller, fid("src/net.rs", "connect", 5)))
	assert.True(t, g.HasEdge(caller, fid("src/util.rs", "log", 1)))
	assert.Equal(t, 3, g.EdgeCount())
	assert.Equal(t, 1, acc.Stats().CrossModuleDropped)
}

func TestResolve_RustSameFileOrderResolvesInPassOne(t *testing.T) {
	util := rustFile("src/util.rs", rs("log", 1))
	main := rustFile("src/main.rs", rs("main", 1, call("util::log", 2)))

	acc, _ := build(t, util, main)
	assert.True(t, acc.Graph().HasEdge(fid("src/main.rs", "main", 1), fid("src/util.rs", "log", 1)))
	assert.Equal(t, 1, acc.Stats().BasicEdges)
	assert.Equal(t, 0, acc.Stats().CrossModuleEdges)
}

func TestResolve_RustGlobImport(t *testing.T) {
	lib := rustFile("src/lib.rs", rs("run", 3, call("helper", 4)))
	lib.Uses = []ast.UseDecl{{Path: []string{"crate", "prelude"}, IsGlob: true, Line: 1}}
	prelude := rustFile("src/prelude.rs", rs("helper", 1))

	acc, _ := build(t, lib, prelude)
	assert.True(t, acc.Graph().HasEdge(fid("src/lib.rs", "run", 3), fid("src/prelude.rs", "helper", 1)))
}

func TestResolve_RustReExport(t *testing.T) {
	lib := rustFile("src/lib.rs")
	lib.Uses = []ast.UseDecl{{Path: []string{"crate", "inner", "deep", "api"}, Alias: "api", IsPublic: true, Line: 1}}
	deep := rustFile("src/inner/deep.rs", rs("api", 1))
	app := rustFile("src/app.rs", rs("start", 1, call("crate::api", 2)))

	acc, _ := build(t, app, lib, deep)
	assert.True(t, acc.Graph().HasEdge(fid("src/app.rs", "start", 1), fid("src/inner/deep.rs", "api", 1)))
}

func TestResolve_RustSuper(t *testing.T) {
	client := rustFile("src/net/client.rs", rs("connect", 1, call("super::util::retry", 2)))
	util := rustFile("src/net/util.rs", rs("retry", 1))

	acc, _ := build(t, client, util)
	assert.True(t, acc.Graph().HasEdge(fid("src/net/client.rs", "connect", 1), fid("src/net/util.rs", "retry", 1)))
}

func TestResolve_PythonImports(t *testing.T) {
	helpers := pyFile("app/helpers.py", py("calculate", 1))
	utils := pyFile("app/utils.py", py("fmt", 1))
	models := pyFile("app/models.py", py("Order.__init__", 2), py("Order.total", 6))
	models.Types = []ast.TypeDecl{{Name: "Order", Line: 1}}
	models.Impls = []ast.ImplBlock{{Type: "Order", Methods: []string{"__init__", "total"}, Line: 1}}

	main := pyFile("app/main.py", py("run", 5,
		call("calculate", 6),
		method("fmt", "utils", 7),
		call("Order", 8),
		call("print", 9)))
	main.Uses = []ast.UseDecl{
		{Path: []string{"helpers", "calculate"}, Alias: "calculate", Level: 1, IsPublic: true, Line: 1},
		{Path: []string{"utils"}, Alias: "utils", Level: 1, IsPublic: true, Line: 2},
		{Path: []string{"models", "Order"}, Alias: "Order", Level: 1, IsPublic: true, Line: 3},
	}

	acc, eg := build(t, helpers, utils, models, main)
	g := acc.Graph()
	run := fid("app/main.py", "run", 5)
	assert.True(t, g.HasEdge(run, fid("app/helpers.py", "calculate", 1)))
	assert.True(t, g.HasEdge(run, fid("app/utils.py", "fmt", 1)))
	assert.True(t, g.HasEdge(run, fid("app/models.py", "Order.__init__", 2)), "calling a class calls its constructor")
	assert.Equal(t, 3, g.EdgeCount())
	assert.Equal(t, 1, eg.Stats.CrossModuleDropped)
	assert.True(t, eg.FrameworkExclusions.Contains(fid("app/models.py", "Order.__init__", 2)))
}

func TestResolve_PythonAbsoluteImportAlias(t *testing.T) {
	svc := pyFile("pkg/services/billing.py", py("charge", 1))
	main := pyFile("pkg/main.py", py("run", 3, method("charge", "billing", 4)))
	main.Uses = []ast.UseDecl{{Path: []string{"pkg", "services", "billing"}, Alias: "billing", IsPublic: true, Line: 1}}

	acc, _ := build(t, main, svc)
	assert.True(t, acc.Graph().HasEdge(fid("pkg/main.py", "run", 3), fid("pkg/services/billing.py", "charge", 1)))
}

func shapeFiles() []*ast.FileAST {
	shape := rustFile("src/shape.rs", func() *ast.Function {
		f := rs("Shape::describe", 5)
		f.InTraitDef = true
		f.Trait = "Shape"
		return f
	}())
	shape.Traits = []ast.TraitDef{{Name: "Shape", Methods: []string{"area", "describe"}, Line: 1}}

	circleArea := rs("Circle::area", 3)
	circleArea.Trait = "Shape"
	circle := rustFile("src/circle.rs", circleArea)
	circle.Types = []ast.TypeDecl{{Name: "Circle", Line: 1}}
	circle.Impls = []ast.ImplBlock{{Trait: "Shape", Type: "Circle", Methods: []string{"area"}, Line: 2}}

	squareArea := rs("Square::area", 3)
	squareArea.Trait = "Shape"
	squareDescribe := rs("Square::describe", 7)
	squareDescribe.Trait = "Shape"
	square := rustFile("src/square.rs", squareArea, squareDescribe)
	square.Types = []ast.TypeDecl{{Name: "Square", Line: 1}}
	square.Impls = []ast.ImplBlock{{Trait: "Shape", Type: "Square", Methods: []string{"area", "describe"}, Line: 2}}

	return []*ast.FileAST{shape, circle, square}
}

func TestResolve_TraitDispatchOverApproximates(t *testing.T) {
	render := rs("render", 1, method("area", "s", 2), method("describe", "s", 3))
	render.Params = []ast.Param{{Name: "s", Type: "&dyn Shape"}}
	notify := rs("notify", 10, method("area", "t", 11))
	notify.Params = []ast.Param{{Name: "t", Type: "T"}}
	notify.Bounds = map[string][]string{"T": {"Shape"}}
	main := rustFile("src/main.rs", render, notify)

	// The call sites come before any implementation; the finalizer
	// dispatches them against the complete registry.
	files := append([]*ast.FileAST{main}, shapeFiles()...)
	acc, eg := build(t, files...)
	g := acc.Graph()

	from := fid("src/main.rs", "render", 1)
	for _, to := range []graph.FunctionID{
		fid("src/circle.rs", "Circle::area", 3),
		fid("src/square.rs", "Square::area", 3),
		fid("src/square.rs", "Square::describe", 7),
		fid("src/shape.rs", "Shape::describe", 5),
	} {
		assert.Equal(t, graph.CallDelegate, edgeType(t, g, from, to))
	}
	assert.Equal(t, 6, g.EdgeCount())

	generic := fid("src/main.rs", "notify", 10)
	assert.True(t, g.HasEdge(generic, fid("src/circle.rs", "Circle::area", 3)))
	assert.True(t, g.HasEdge(generic, fid("src/square.rs", "Square::area", 3)))

	assert.Equal(t, 3, eg.Stats.TraitCalls)
	assert.Equal(t, 0, eg.Stats.UnresolvedTraits)
	assert.Equal(t, 6, eg.Stats.FinalizerEdges)
}

func TestResolve_KnownReceiverTypeNarrowsDispatch(t *testing.T) {
	draw := rs("draw", 1, method("area", "c", 2), method("describe", "c", 3))
	draw.LocalTypes = map[string]string{"c": "Circle"}
	main := rustFile("src/main.rs", draw)

	acc, _ := build(t, append(shapeFiles(), main)...)
	g := acc.Graph()
	from := fid("src/main.rs", "draw", 1)

	assert.Equal(t, graph.CallDirect, edgeType(t, g, from, fid("src/circle.rs", "Circle::area", 3)))
	assert.Equal(t, graph.CallDelegate, edgeType(t, g, from, fid("src/shape.rs", "Shape::describe", 5)),
		"Circle inherits the default describe")
	assert.False(t, g.HasEdge(from, fid("src/square.rs", "Square::area", 3)))
	assert.Equal(t, 2, g.EdgeCount())
}

func TestResolve_UnresolvedTraitCallIsCounted(t *testing.T) {
	run := rs("run", 1, method("flush", "w", 2))
	run.Params = []ast.Param{{Name: "w", Type: "&mut dyn Sink"}}

	_, eg := build(t, rustFile("src/lib.rs", run))
	assert.Equal(t, 1, eg.Stats.TraitCalls)
	assert.Equal(t, 1, eg.Stats.UnresolvedTraits)
	assert.Equal(t, 0, eg.Graph.EdgeCount())
}

func TestResolve_PythonClassHierarchy(t *testing.T) {
	base := pyFile("app/base.py",
		py("Base.run", 2, method("step", "self", 3)),
		py("Base.step", 6))
	base.Types = []ast.TypeDecl{{Name: "Base", Line: 1}}
	base.Impls = []ast.ImplBlock{{Type: "Base", Methods: []string{"run", "step"}, Line: 1}}

	worker := pyFile("app/worker.py",
		py("Worker.step", 4),
		py("Worker.process", 8, method("run", "self", 9)))
	worker.Types = []ast.TypeDecl{{Name: "Worker", Line: 3}}
	worker.Impls = []ast.ImplBlock{{Type: "Worker", Bases: []string{"Base"}, Methods: []string{"step", "process"}, Line: 3}}
	worker.Uses = []ast.UseDecl{{Path: []string{"base", "Base"}, Alias: "Base", Level: 1, IsPublic: true, Line: 1}}

	acc, _ := build(t, base, worker)
	g := acc.Graph()

	run := fid("app/base.py", "Base.run", 2)
	assert.Equal(t, graph.CallDirect, edgeType(t, g, run, fid("app/base.py", "Base.step", 6)))
	assert.Equal(t, graph.CallDelegate, edgeType(t, g, run, fid("app/worker.py", "Worker.step", 4)),
		"an override in a subclass may run instead")
	assert.True(t, g.HasEdge(fid("app/worker.py", "Worker.process", 8), run), "inherited method")
}

func TestResolve_FunctionPointers(t *testing.T) {
	run := rs("run", 10, call("f", 12), call("g", 14))
	run.Bindings = []ast.Binding{
		{Name: "f", Target: "parse", Line: 11},
		{Name: "g", IsClosure: true, Line: 13},
	}
	run.ValueRefs = []ast.ValueRef{{Path: "validate", Line: 15, HigherOrder: "map"}}
	lib := rustFile("src/lib.rs", rs("parse", 1), run, rs("validate", 20), rs("unused", 30))

	acc, eg := build(t, lib)
	g := acc.Graph()
	from := fid("src/lib.rs", "run", 10)

	assert.Equal(t, graph.CallCallback, edgeType(t, g, from, fid("src/lib.rs", "parse", 1)))
	assert.Equal(t, graph.CallCallback, edgeType(t, g, from, fid("src/lib.rs", "validate", 20)))
	assert.Equal(t, 2, g.EdgeCount())

	assert.True(t, eg.PointerUsed.Contains(fid("src/lib.rs", "parse", 1)))
	reason, ok := eg.PointerUsed.Reason(fid("src/lib.rs", "validate", 20))
	require.True(t, ok)
	assert.Equal(t, "argument to map", reason)
	assert.False(t, eg.PointerUsed.Contains(fid("src/lib.rs", "unused", 30)))

	require.Len(t, eg.HigherOrderCalls, 1)
	assert.Equal(t, "map", eg.HigherOrderCalls[0].HigherOrder)

	stats := acc.Pointers().Stats()
	assert.Equal(t, 1, stats.Bindings)
	assert.Equal(t, 1, stats.PointerCalls)
	assert.Equal(t, 1, stats.Closures)
	assert.Equal(t, 1, stats.HigherOrderCalls)
}

func TestResolve_ValueReferenceInLaterFile(t *testing.T) {
	app := rustFile("src/app.rs", func() *ast.Function {
		f := rs("register", 1)
		f.ValueRefs = []ast.ValueRef{{Path: "handlers::on_start", Line: 2}}
		return f
	}())
	handlers := rustFile("src/handlers.rs", rs("on_start", 1))

	acc, eg := build(t, app, handlers)
	target := fid("src/handlers.rs", "on_start", 1)
	assert.True(t, eg.PointerUsed.Contains(target))
	assert.False(t, acc.Graph().HasEdge(fid("src/app.rs", "register", 1), target),
		"a value that is only passed around is used but not called")
}

func TestResolve_FrameworkPatterns(t *testing.T) {
	index := rs("index", 1)
	index.Attributes = []string{"get"}
	works := rs("works", 5)
	works.Attributes = []string{"tokio::test"}
	newCfg := rs("Config::new", 10)
	fromEnv := rs("Config::from_env", 15)
	fromEnv.Visibility = ast.VisibilityPublic
	dump := rs("dump", 20)
	dump.Attributes = []string{"serde::serialize"}
	traced := rs("traced", 25)
	traced.Attributes = []string{"my_macro"}
	inlined := rs("fast", 30)
	inlined.Attributes = []string{"inline"}
	ffi := rs("exported", 35)
	ffi.IsExternABI = true

	_, eg := build(t, rustFile("src/api.rs", index, works, newCfg, fromEnv, dump, traced, inlined, ffi))
	excluded := func(name string, line int) bool {
		return eg.FrameworkExclusions.Contains(fid("src/api.rs", name, line))
	}

	assert.True(t, excluded("index", 1))
	assert.True(t, excluded("works", 5))
	assert.False(t, excluded("Config::new", 10), "private constructor stays below the threshold")
	assert.True(t, excluded("Config::from_env", 15))
	assert.True(t, excluded("dump", 20))
	assert.False(t, excluded("traced", 25), "unknown attributes are low confidence")
	assert.False(t, excluded("fast", 30))
	assert.True(t, excluded("exported", 35))

	reason, ok := eg.FrameworkExclusions.Reason(fid("src/api.rs", "index", 1))
	require.True(t, ok)
	assert.Equal(t, "web_handler", reason)
}

func TestFrameworkPattern_Excluded(t *testing.T) {
	cases := []struct {
		p    FrameworkPattern
		want bool
	}{
		{FrameworkPattern{Type: PatternTest, Confidence: 0.1}, true},
		{FrameworkPattern{Type: PatternSerialization, Confidence: 0.7}, false},
		{FrameworkPattern{Type: PatternSerialization, Confidence: 0.75}, true},
		{FrameworkPattern{Type: PatternConstructor, Confidence: 0.5}, false},
		{FrameworkPattern{Type: PatternCustom, Confidence: 0.8}, false},
		{FrameworkPattern{Type: PatternCustom, Confidence: 0.85}, true},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, c.p.Excluded(), "%s %.2f", c.p.Type, c.p.Confidence)
	}
}

func TestPatternType_Text(t *testing.T) {
	b, err := PatternWebHandler.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "web_handler", string(b))

	var p PatternType
	require.NoError(t, p.UnmarshalText([]byte("visit_trait")))
	assert.Equal(t, PatternVisitTrait, p)
	assert.Error(t, p.UnmarshalText([]byte("nope")))
}

func TestFinalize_ExternalAndVisitorImpls(t *testing.T) {
	fmtFn := rs("Circle::fmt", 5)
	fmtFn.Trait = "Display"
	visit := rs("Collector::visit_expr", 12)
	visit.Trait = "Visit"
	lib := rustFile("src/lib.rs", fmtFn, visit)
	lib.Impls = []ast.ImplBlock{
		{Trait: "Display", Type: "Circle", Methods: []string{"fmt"}, Line: 4},
		{Trait: "Visit", Type: "Collector", Methods: []string{"visit_expr"}, Line: 11},
	}

	acc, eg := build(t, lib)
	reason, ok := eg.FrameworkExclusions.Reason(fid("src/lib.rs", "Circle::fmt", 5))
	require.True(t, ok)
	assert.Equal(t, "custom", reason)
	assert.True(t, eg.FrameworkExclusions.Contains(fid("src/lib.rs", "Collector::visit_expr", 12)))
	assert.Contains(t, acc.Patterns().PatternsFor(fid("src/lib.rs", "Circle::fmt", 5)), PatternCustom)
}

func TestFinalize_OnlyOnce(t *testing.T) {
	ctx := context.Background()
	acc, _ := build(t, rustFile("src/lib.rs", rs("a", 1)))
	assert.True(t, acc.Finalized())

	_, err := NewFinalizer(nil).Finalize(ctx, acc)
	assert.ErrorIs(t, err, ErrAlreadyFinalized)

	err = NewEnhancedResolver(nil).ProcessFile(ctx, acc, rustFile("src/b.rs", rs("b", 1)))
	assert.ErrorIs(t, err, ErrAlreadyFinalized)

	_, err = NewCrossModuleResolver(nil).ResolveAll(ctx, acc)
	assert.ErrorIs(t, err, ErrAlreadyFinalized)
}

func TestProcessFile_Errors(t *testing.T) {
	ctx := context.Background()
	r := NewEnhancedResolver(nil)

	assert.ErrorIs(t, r.ProcessFile(ctx, nil, rustFile("src/a.rs")), ErrNilAccumulator)
	assert.ErrorIs(t, r.ProcessFile(ctx, NewAccumulator(nil), nil), ErrInvalidFile)

	acc := NewAccumulator(nil, WithMaxFunctions(1))
	assert.Error(t, r.ProcessFile(ctx, acc, rustFile("src/a.rs", rs("a", 1), rs("b", 5))))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, r.ProcessFile(cancelled, NewAccumulator(nil), rustFile("src/a.rs")), context.Canceled)

	_, err := NewFinalizer(nil).Finalize(ctx, nil)
	assert.ErrorIs(t, err, ErrNilAccumulator)
}

func TestProcessFile_Monotonic(t *testing.T) {
	ctx := context.Background()
	files := append(shapeFiles(), rustFile("src/main.rs", func() *ast.Function {
		f := rs("render", 1, method("area", "s", 2), call("helper", 3))
		f.Params = []ast.Param{{Name: "s", Type: "&dyn Shape"}}
		return f
	}(), rs("helper", 10)))

	acc := NewAccumulator(nil)
	r := NewEnhancedResolver(nil)
	var before []graph.CallEdge
	for _, f := range files {
		require.NoError(t, r.ProcessFile(ctx, acc, f))
		after := acc.Graph().Edges()
		for _, e := range before {
			assert.True(t, acc.Graph().HasEdge(e.Caller, e.Callee), "edge %s -> %s disappeared", e.Caller, e.Callee)
		}
		assert.GreaterOrEqual(t, len(after), len(before))
		before = after
	}

	// Registering a file twice adds nothing.
	require.NoError(t, acc.Register(files[0]))
	assert.Equal(t, len(before), acc.Graph().EdgeCount())
}

func TestEnhancedGraph_DeadCode(t *testing.T) {
	api := rs("api", 20)
	api.Visibility = ast.VisibilityPublic
	check := rs("check", 30, call("b", 31))
	check.Attributes = []string{"test"}
	lib := rustFile("src/main.rs",
		rs("main", 1, call("a", 2)),
		rs("a", 5),
		rs("b", 10),
		rs("orphan", 15),
		api,
		check)

	_, eg := build(t, lib)
	live := eg.LiveFunctions()
	assert.True(t, live.Contains(fid("src/main.rs", "a", 5)))
	assert.True(t, live.Contains(fid("src/main.rs", "b", 10)), "called from a test")
	assert.True(t, live.Contains(fid("src/main.rs", "api", 20)))
	assert.Equal(t, []graph.FunctionID{fid("src/main.rs", "orphan", 15)}, eg.PotentialDeadCode())
}

func TestPublicAPIs(t *testing.T) {
	pub := rs("open", 1)
	pub.Visibility = ast.VisibilityPublic
	pubTest := rs("fixture", 10)
	pubTest.Visibility = ast.VisibilityPublic
	pubTest.InTestModule = true

	acc := NewAccumulator(nil)
	r := NewEnhancedResolver(nil)
	ctx := context.Background()
	require.NoError(t, r.ProcessFile(ctx, acc, rustFile("src/lib.rs", pub, pubTest, rs("private", 20))))
	require.NoError(t, r.ProcessFile(ctx, acc, pyFile("pkg/__init__.py", py("load", 1), py("_internal", 5), py("Reader.read", 10))))
	require.NoError(t, r.ProcessFile(ctx, acc, pyFile("pkg/impl.py", py("helper", 1))))

	assert.Equal(t, []graph.FunctionID{
		fid("pkg/__init__.py", "load", 1),
		fid("src/lib.rs", "open", 1),
	}, PublicAPIs(acc))
}
