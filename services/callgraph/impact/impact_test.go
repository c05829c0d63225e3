// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package impact

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/callgraph/services/callgraph/graph"
)

const utilPatch = "diff --git a/src/util.rs b/src/util.rs\n" +
	"index 3b18e51..a1c2d3f 100644\n" +
	"--- a/src/util.rs\n" +
	"+++ b/src/util.rs\n" +
	"@@ -4,2 +4,3 @@\n" +
	" \n" +
	"-fn inner() {}\n" +
	"+fn inner() {\n" +
	"+}\n"

func id(file, name string, line int) graph.FunctionID {
	return graph.FunctionID{File: file, Name: name, Line: line}
}

// testGraph: main -> helper -> inner <- it_works
func testGraph() *graph.CallGraph {
	g := graph.NewCallGraph()
	main := id("src/main.rs", "main", 3)
	helper := id("src/util.rs", "helper", 1)
	inner := id("src/util.rs", "inner", 5)
	test := id("src/util.rs", "it_works", 8)

	g.AddFunction(graph.FunctionNode{ID: main, IsEntryPoint: true, Length: 3})
	g.AddFunction(graph.FunctionNode{ID: helper, Length: 3})
	g.AddFunction(graph.FunctionNode{ID: inner, Length: 2})
	g.AddFunction(graph.FunctionNode{ID: test, IsTest: true, Length: 1})
	g.AddCall(graph.CallEdge{Caller: main, Callee: helper, Type: graph.CallDirect})
	g.AddCall(graph.CallEdge{Caller: helper, Callee: inner, Type: graph.CallDirect})
	g.AddCall(graph.CallEdge{Caller: test, Callee: inner, Type: graph.CallDirect})
	return g
}

func TestParsePatch(t *testing.T) {
	changes, err := ParsePatch([]byte(utilPatch))
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, "src/util.rs", changes[0].Path)
	assert.Equal(t, []int{4, 5, 6}, changes[0].Lines)
}

func TestParsePatch_DeletedFileIsDropped(t *testing.T) {
	patch := `--- a/src/old.rs
+++ /dev/null
@@ -1,1 +0,0 @@
-fn gone() {}
`
	changes, err := ParsePatch([]byte(patch))
	require.NoError(t, err)
	assert.Empty(t, changes)
}

func TestAnalyze(t *testing.T) {
	changes, err := ParsePatch([]byte(utilPatch))
	require.NoError(t, err)

	r := Analyze(testGraph(), changes, 0)
	assert.Equal(t, []graph.FunctionID{id("src/util.rs", "inner", 5)}, r.Changed)
	assert.Equal(t, []graph.FunctionID{
		id("src/main.rs", "main", 3),
		id("src/util.rs", "helper", 1),
		id("src/util.rs", "it_works", 8),
	}, r.Affected)
	assert.Equal(t, []graph.FunctionID{id("src/util.rs", "it_works", 8)}, r.Tests)
}

func TestAnalyze_MaxDepth(t *testing.T) {
	changes := []FileChange{{Path: "src/util.rs", Lines: []int{5}}}
	r := Analyze(testGraph(), changes, 1)
	assert.Equal(t, []graph.FunctionID{
		id("src/util.rs", "helper", 1),
		id("src/util.rs", "it_works", 8),
	}, r.Affected)
}

func TestAnalyze_NoMatch(t *testing.T) {
	r := Analyze(testGraph(), []FileChange{{Path: "README.md", Lines: []int{1}}}, 0)
	assert.Empty(t, r.Changed)
	assert.Empty(t, r.Affected)
	assert.NotNil(t, r.Tests)
}
