// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/callgraph/services/callgraph/ast"
	"github.com/AleutianAI/callgraph/services/callgraph/graph"
)

func rustFn(name string, line int) *ast.Function {
	fn := &ast.Function{Name: name, BaseName: ast.LastSegment(name), StartLine: line, EndLine: line + 2}
	if i := len(name) - len(fn.BaseName) - 2; i > 0 {
		fn.Owner = name[:i]
	}
	return fn
}

func pyFn(name string, line int) *ast.Function {
	fn := &ast.Function{Name: name, BaseName: ast.LastSegment(name), StartLine: line, EndLine: line + 2}
	if i := len(name) - len(fn.BaseName) - 1; i > 0 {
		fn.Owner = name[:i]
	}
	return fn
}

func testIndex(t *testing.T) *FunctionIndex {
	t.Helper()
	idx := NewFunctionIndex()
	files := []*ast.FileAST{
		{Path: "src/main.rs", Language: ast.LanguageRust, Functions: []*ast.Function{
			rustFn("main", 1), rustFn("helper", 10),
		}},
		{Path: "src/utils.rs", Language: ast.LanguageRust, Functions: []*ast.Function{
			rustFn("helper", 1), rustFn("format_all", 8), rustFn("Parser::parse", 20), rustFn("Parser::new", 30),
		}},
		{Path: "src/other.rs", Language: ast.LanguageRust, Functions: []*ast.Function{
			rustFn("format_all", 4), rustFn("Lexer::parse", 12),
		}},
		{Path: "app/service.py", Language: ast.LanguagePython, Functions: []*ast.Function{
			pyFn("Service.__init__", 3), pyFn("Service.run", 8), pyFn("start", 20),
		}},
	}
	for _, f := range files {
		_, err := idx.AddFile(f)
		require.NoError(t, err)
	}
	return idx
}

func TestModulePathFor(t *testing.T) {
	tests := []struct {
		file  string
		lang  ast.Language
		want  []string
		root  string
		crate string
	}{
		{"src/lib.rs", ast.LanguageRust, []string{"crate"}, "", ""},
		{"src/main.rs", ast.LanguageRust, []string{"crate"}, "", ""},
		{"src/net/mod.rs", ast.LanguageRust, []string{"crate", "net"}, "", ""},
		{"src/net/http.rs", ast.LanguageRust, []string{"crate", "net", "http"}, "", ""},
		{"crates/io-x/src/fs.rs", ast.LanguageRust, []string{"crate", "fs"}, "crates/io-x", "io_x"},
		{"build.rs", ast.LanguageRust, []string{"crate"}, "", ""},
		{"tests/it.rs", ast.LanguageRust, []string{"crate"}, "tests", "tests"},
		{"pkg/sub/mod.py", ast.LanguagePython, []string{"pkg", "sub", "mod"}, "", ""},
		{"pkg/__init__.py", ast.LanguagePython, []string{"pkg"}, "", ""},
		{"main.py", ast.LanguagePython, []string{"main"}, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			mp := ModulePathFor(tt.file, tt.lang)
			assert.Equal(t, tt.want, mp.Segments)
			assert.Equal(t, tt.root, mp.Root)
			assert.Equal(t, tt.crate, mp.Crate)
		})
	}
	assert.Equal(t, "crate::net::http", ModulePathFor("src/net/http.rs", ast.LanguageRust).String())
	assert.Equal(t, "pkg.sub", ModulePathFor("pkg/sub/__init__.py", ast.LanguagePython).String())
	assert.True(t, IsPackageInit("pkg/__init__.py"))
	assert.False(t, IsPackageInit("pkg/init.py"))
}

func TestFunctionIndex_Lookups(t *testing.T) {
	idx := testIndex(t)

	assert.Equal(t, 11, idx.Len())
	assert.Len(t, idx.ByName("helper"), 2)
	assert.Len(t, idx.ByBaseName("parse"), 2)
	assert.Len(t, idx.ByFile("src/utils.rs"), 4)
	assert.Len(t, idx.ByOwner("Parser"), 2)
	require.Len(t, idx.Method("Service", "run"), 1)
	assert.Nil(t, idx.Method("Service", "missing"))

	e, ok := idx.Get(graph.FunctionID{File: "src/utils.rs", Name: "Parser::parse", Line: 20})
	require.True(t, ok)
	assert.Equal(t, []string{"crate", "utils"}, e.Module)
	assert.Equal(t, []string{"crate", "utils", "Parser", "parse"}, e.Path)
	assert.True(t, e.IsMethod())

	py := idx.Method("Service", "run")[0]
	assert.Equal(t, []string{"app", "service", "Service", "run"}, py.Path)

	all := idx.All()
	require.Len(t, all, 11)
	assert.Equal(t, "app/service.py", all[0].ID.File)
}

func TestFunctionIndex_AddFileIdempotent(t *testing.T) {
	idx := NewFunctionIndex()
	f := &ast.FileAST{Path: "src/lib.rs", Language: ast.LanguageRust, Functions: []*ast.Function{rustFn("a", 1)}}

	n, err := idx.AddFile(f)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = idx.AddFile(f)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, idx.ByName("a"), 1)
}

func TestFunctionIndex_Errors(t *testing.T) {
	idx := NewFunctionIndex(WithMaxFunctions(1))

	_, err := idx.AddFile(nil)
	assert.ErrorIs(t, err, ErrInvalidFile)

	_, err = idx.AddFile(&ast.FileAST{Path: "src/lib.rs", Language: ast.LanguageRust,
		Functions: []*ast.Function{rustFn("a", 1), rustFn("b", 5)}})
	assert.ErrorIs(t, err, ErrMaxFunctionsExceeded)
	assert.Zero(t, idx.Len(), "a rejected file adds nothing")
}

func TestCallResolver_Resolve(t *testing.T) {
	idx := testIndex(t)
	r := NewCallResolver(idx)

	tests := []struct {
		name string
		call Call
		want graph.FunctionID
		ok   bool
	}{
		{
			name: "bare name prefers same file",
			call: Call{CallerFile: "src/main.rs", Target: "helper"},
			want: graph.FunctionID{File: "src/main.rs", Name: "helper", Line: 10},
			ok:   true,
		},
		{
			name: "bare name ambiguous across files",
			call: Call{CallerFile: "src/lib.rs", Target: "format_all"},
		},
		{
			name: "module qualified",
			call: Call{CallerFile: "src/main.rs", Target: "utils::format_all"},
			want: graph.FunctionID{File: "src/utils.rs", Name: "format_all", Line: 8},
			ok:   true,
		},
		{
			name: "crate qualified with turbofish",
			call: Call{CallerFile: "src/main.rs", Target: "crate::utils::format_all::<u8>"},
			want: graph.FunctionID{File: "src/utils.rs", Name: "format_all", Line: 8},
			ok:   true,
		},
		{
			name: "associated function",
			call: Call{CallerFile: "src/main.rs", Target: "Parser::new"},
			want: graph.FunctionID{File: "src/utils.rs", Name: "Parser::new", Line: 30},
			ok:   true,
		},
		{
			name: "self method",
			call: Call{CallerFile: "src/utils.rs", CallerOwner: "Parser", Target: "new", Receiver: "self", IsMethod: true},
			want: graph.FunctionID{File: "src/utils.rs", Name: "Parser::new", Line: 30},
			ok:   true,
		},
		{
			name: "known receiver type",
			call: Call{CallerFile: "src/main.rs", Target: "parse", Receiver: "lx", ReceiverType: "Lexer", IsMethod: true},
			want: graph.FunctionID{File: "src/other.rs", Name: "Lexer::parse", Line: 12},
			ok:   true,
		},
		{
			name: "unknown receiver ambiguous methods in different files",
			call: Call{CallerFile: "src/main.rs", Target: "parse", Receiver: "x", IsMethod: true},
		},
		{
			name: "std trait method skipped",
			call: Call{CallerFile: "src/main.rs", Target: "clone", Receiver: "x", IsMethod: true},
		},
		{
			name: "python class call resolves to __init__",
			call: Call{CallerFile: "app/main.py", Target: "Service"},
			want: graph.FunctionID{File: "app/service.py", Name: "Service.__init__", Line: 3},
			ok:   true,
		},
		{
			name: "same file only",
			call: Call{CallerFile: "src/lib.rs", Target: "utils::format_all", SameFileOnly: true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := r.Resolve(tt.call)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestCallResolver_ResolvePending(t *testing.T) {
	r := NewCallResolver(testIndex(t))
	caller := graph.FunctionID{File: "src/utils.rs", Name: "Parser::parse", Line: 20}

	got := r.ResolvePending(graph.PendingCall{Caller: caller, Target: "new", Receiver: "self", IsMethod: true})
	assert.Equal(t, []graph.FunctionID{{File: "src/utils.rs", Name: "Parser::new", Line: 30}}, got)

	assert.Nil(t, r.ResolvePending(graph.PendingCall{Caller: caller, Target: "missing"}))
}

func TestSelectBest_Preferences(t *testing.T) {
	plain := &Entry{ID: graph.FunctionID{File: "a.rs", Name: "run", Line: 1}}
	method := &Entry{ID: graph.FunctionID{File: "a.rs", Name: "Task::run", Line: 9}, Owner: "Task"}
	generic := &Entry{ID: graph.FunctionID{File: "b.rs", Name: "go", Line: 1}, Generic: true}
	concrete := &Entry{ID: graph.FunctionID{File: "b.rs", Name: "go", Line: 20}}

	assert.Equal(t, plain, SelectBest([]*Entry{method, plain}, "z.rs", false))
	assert.Equal(t, concrete, SelectBest([]*Entry{generic, concrete}, "z.rs", true))
	assert.Nil(t, SelectBest(nil, "a.rs", true))
	assert.Equal(t, plain, SelectBest([]*Entry{plain, plain}, "z.rs", false))
}

func TestNormalizePathPrefix(t *testing.T) {
	assert.Equal(t, "a::b", NormalizePathPrefix("crate::a::b"))
	assert.Equal(t, "b", NormalizePathPrefix("self::super::b"))
	assert.Equal(t, "x", NormalizePathPrefix("x"))
	assert.True(t, HasSuffix([]string{"crate", "a", "b"}, []string{"a", "b"}))
	assert.False(t, HasSuffix([]string{"b"}, []string{"a", "b"}))
	assert.False(t, HasSuffix([]string{"a"}, nil))
}
