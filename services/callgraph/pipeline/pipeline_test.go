// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/callgraph/services/callgraph/cache"
	"github.com/AleutianAI/callgraph/services/callgraph/config"
	"github.com/AleutianAI/callgraph/services/callgraph/graph"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		writeFile(t, root, rel, content)
	}
	return root
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

// chainProject returns n Rust modules, each calling the next one through a
// crate path and a local helper.
func chainProject(n int) map[string]string {
	files := make(map[string]string, n+1)
	lib := ""
	for i := 0; i < n; i++ {
		lib += fmt.Sprintf("pub mod m%d;\n", i)
		body := fmt.Sprintf("pub fn f%d() {\n    helper%d();\n", i, i)
		if i+1 < n {
			body += fmt.Sprintf("    crate::m%d::f%d();\n", i+1, i+1)
		}
		body += fmt.Sprintf("}\n\nfn helper%d() {}\n", i)
		files[fmt.Sprintf("src/m%d.rs", i)] = body
	}
	files["src/lib.rs"] = lib + "\npub fn run_all() {\n    m0::f0();\n}\n"
	return files
}

func TestBuild_RustAndPython(t *testing.T) {
	root := writeTree(t, map[string]string{
		"src/main.rs":    "mod util;\n\nfn main() {\n    util::helper();\n}\n",
		"src/util.rs":    "pub fn helper() {\n    inner();\n}\n\nfn inner() {}\n",
		"app/service.py": "def helper():\n    pass\n\n\ndef main():\n    helper()\n",
	})

	res, err := New(WithWorkers(2)).Build(context.Background(), root)
	require.NoError(t, err)

	assert.NotEmpty(t, res.BuildID)
	assert.False(t, res.CacheHit)
	assert.Empty(t, res.FileErrors)
	assert.Equal(t, 3, res.Stats.FilesDiscovered)
	assert.Equal(t, 3, res.Stats.FilesParsed)

	mainRS := res.Graph.FindByName("main")
	require.NotEmpty(t, mainRS)

	callers := res.Graph.CallersByName("inner")
	require.Len(t, callers, 1)
	assert.Equal(t, "helper", callers[0].Name)
	assert.Equal(t, "src/util.rs", callers[0].File)

	var rustCaller, pyCaller bool
	for _, c := range res.Graph.CallersByName("helper") {
		switch c.File {
		case "src/main.rs":
			rustCaller = c.Name == "main"
		case "app/service.py":
			pyCaller = c.Name == "main"
		}
	}
	assert.True(t, rustCaller, "cross-file call through a module path")
	assert.True(t, pyCaller, "same-file python call")

	assert.Equal(t, res.Graph.NodeCount(), res.Stats.Nodes)
	assert.Equal(t, res.Graph.EdgeCount(), res.Stats.Edges)
}

func TestBuild_UnparsableFileIsSkipped(t *testing.T) {
	root := writeTree(t, map[string]string{
		"src/lib.rs":    "pub fn ok() {\n    other();\n}\n\nfn other() {}\n",
		"src/broken.rs": string([]byte{0xff, 0xfe, 'f', 'n', ' ', 'x'}),
	})

	res, err := New().Build(context.Background(), root)
	require.NoError(t, err, "a parse failure never aborts the build")

	require.Len(t, res.FileErrors, 1)
	assert.Equal(t, "src/broken.rs", res.FileErrors[0].Path)
	assert.Equal(t, "parse", res.FileErrors[0].Phase)
	assert.Equal(t, 1, res.Stats.FilesFailed)

	assert.Equal(t, 2, res.Graph.NodeCount())
	assert.Equal(t, 1, res.Graph.EdgeCount())
	for _, n := range res.Graph.Nodes() {
		assert.NotEqual(t, "src/broken.rs", n.ID.File)
	}
}

func TestBuild_ChunkingDoesNotChangeTheGraph(t *testing.T) {
	root := writeTree(t, chainProject(49))

	parallel, err := New(WithWorkers(2), WithChunkSize(25)).Build(context.Background(), root)
	require.NoError(t, err)
	sequential, err := New(WithWorkers(1), WithChunkSize(50)).Build(context.Background(), root)
	require.NoError(t, err)
	tiny, err := New(WithWorkers(4), WithChunkSize(1)).Build(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, 50, parallel.Stats.FilesDiscovered)
	assert.Equal(t, 2, parallel.Stats.Chunks)
	assert.Equal(t, 1, sequential.Stats.Chunks)
	assert.Equal(t, 50, tiny.Stats.Chunks)

	assert.Equal(t, sequential.Graph.NodeCount(), parallel.Graph.NodeCount())
	assert.Equal(t, sequential.Graph.EdgeCount(), parallel.Graph.EdgeCount())
	assert.Equal(t, sequential.Graph.Hash(), parallel.Graph.Hash())
	assert.Equal(t, sequential.Graph.Hash(), tiny.Graph.Hash())
	assert.Equal(t, 99, parallel.Graph.NodeCount())
}

func TestBuild_Deterministic(t *testing.T) {
	root := writeTree(t, chainProject(10))
	o := New(WithWorkers(3))

	a, err := o.Build(context.Background(), root)
	require.NoError(t, err)
	b, err := o.Build(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, a.Graph.Hash(), b.Graph.Hash())
	assert.Equal(t, a.FrameworkExclusions.IDs(), b.FrameworkExclusions.IDs())
	assert.Equal(t, a.PublicAPIs, b.PublicAPIs)
	assert.NotEqual(t, a.BuildID, b.BuildID)
}

func TestBuild_Errors(t *testing.T) {
	_, err := New().Build(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyRoot)

	_, err = New().Build(context.Background(), filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, ErrDiscovery)

	root := writeTree(t, chainProject(3))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = New().Build(ctx, root)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBuildFiles(t *testing.T) {
	root := writeTree(t, chainProject(5))

	res, err := New().BuildFiles(context.Background(), root, []string{"src/m3.rs", "src/m4.rs", "README.md"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Stats.FilesDiscovered)
	assert.Equal(t, 4, res.Graph.NodeCount())
}

func TestBuild_CacheReusesRustAndRebuildsPython(t *testing.T) {
	c, err := cache.Open(cache.WithInMemory())
	require.NoError(t, err)
	defer c.Close()

	files := chainProject(4)
	files["tools/report.py"] = "def report():\n    pass\n"
	root := writeTree(t, files)

	o := New(WithCache(c, "cfg"))
	first, err := o.Build(context.Background(), root)
	require.NoError(t, err)
	assert.False(t, first.CacheHit)

	second, err := o.Build(context.Background(), root)
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.Graph.Hash(), second.Graph.Hash())
	assert.Equal(t, first.FrameworkExclusions.IDs(), second.FrameworkExclusions.IDs())

	writeFile(t, root, "tools/report.py", "def report():\n    summary()\n\n\ndef summary():\n    pass\n")
	third, err := o.Build(context.Background(), root)
	require.NoError(t, err)
	assert.True(t, third.CacheHit, "python files are not part of the fingerprint")
	assert.NotEmpty(t, third.Graph.FindByName("summary"), "python is reprocessed on every run")
	assert.Equal(t, first.Graph.NodeCount()+1, third.Graph.NodeCount())

	writeFile(t, root, "src/m0.rs", "pub fn f0() {}\n")
	fourth, err := o.Build(context.Background(), root)
	require.NoError(t, err)
	assert.False(t, fourth.CacheHit, "a rust edit invalidates the entry")
}

func TestBuild_CacheHitKeepsFileStats(t *testing.T) {
	c, err := cache.Open(cache.WithInMemory())
	require.NoError(t, err)
	defer c.Close()

	root := writeTree(t, map[string]string{
		"src/lib.rs":      "pub fn ok() {\n    other();\n}\n\nfn other() {}\n",
		"src/broken.rs":   string([]byte{0xff, 0xfe, 'f', 'n', ' ', 'x'}),
		"tools/report.py": "def report():\n    pass\n",
	})

	o := New(WithCache(c, "cfg"))
	cold, err := o.Build(context.Background(), root)
	require.NoError(t, err)
	require.False(t, cold.CacheHit)

	warm, err := o.Build(context.Background(), root)
	require.NoError(t, err)
	require.True(t, warm.CacheHit)

	assert.Equal(t, cold.Stats.FilesParsed, warm.Stats.FilesParsed)
	assert.Equal(t, 1, warm.Stats.FilesFailed)
	assert.Equal(t, cold.Stats.FilesFailed, warm.Stats.FilesFailed)
	require.Len(t, warm.FileErrors, 1)
	assert.Equal(t, "src/broken.rs", warm.FileErrors[0].Path)
	assert.Equal(t, "parse", warm.FileErrors[0].Phase)
	assert.Equal(t, cold.FileErrors[0].Message(), warm.FileErrors[0].Message())
}

func TestBuild_TraitObjectCallsDispatchToEveryImpl(t *testing.T) {
	root := writeTree(t, map[string]string{
		"src/lib.rs": `pub trait Shape {
    fn area(&self) -> f64;
}

pub struct Sq;
pub struct Ci;

impl Shape for Sq {
    fn area(&self) -> f64 {
        1.0
    }
}

impl Shape for Ci {
    fn area(&self) -> f64 {
        2.0
    }
}

pub fn total(s: &dyn Shape) -> f64 {
    s.area()
}
`,
	})

	res, err := New().Build(context.Background(), root)
	require.NoError(t, err)

	callees := make(map[string]graph.CallType)
	for _, e := range res.Graph.Edges() {
		if e.Caller.Name == "total" {
			callees[e.Callee.Name] = e.Type
		}
	}
	assert.Equal(t, graph.CallDelegate, callees["Sq::area"])
	assert.Equal(t, graph.CallDelegate, callees["Ci::area"])
	for name, typ := range callees {
		assert.Equal(t, graph.CallDelegate, typ, name)
	}
}

func TestBuild_Progress(t *testing.T) {
	root := writeTree(t, chainProject(8))

	var mu sync.Mutex
	var events []Progress
	o := New(WithWorkers(2), WithProgressRate(1000), WithProgress(func(p Progress) {
		mu.Lock()
		events = append(events, p)
		mu.Unlock()
	}))
	_, err := o.Build(context.Background(), root)
	require.NoError(t, err)

	last := make(map[Phase]Progress)
	for _, e := range events {
		if prev, ok := last[e.Phase]; ok {
			assert.Greater(t, e.Current, prev.Current, "progress never goes backwards")
		}
		last[e.Phase] = e
	}
	for _, phase := range []Phase{PhaseReading, PhaseExtracting, PhaseResolving, PhaseFinalizing} {
		e, ok := last[phase]
		require.True(t, ok, phase.String())
		assert.True(t, e.Done(), phase.String())
	}
	assert.Equal(t, 9, last[PhaseReading].Total)
	assert.Equal(t, 9, last[PhaseResolving].Total)
}

func TestProgressReporter_Throttles(t *testing.T) {
	var got []Progress
	r := newProgressReporter(func(p Progress) { got = append(got, p) }, 0.001)

	r.report(PhaseReading, 0, 100)
	for i := 1; i <= 100; i++ {
		r.report(PhaseReading, i, 100)
	}
	r.report(PhaseReading, 50, 100)

	require.GreaterOrEqual(t, len(got), 2)
	assert.Less(t, len(got), 10)
	assert.Equal(t, 0, got[0].Current)
	assert.Equal(t, 100, got[len(got)-1].Current, "the closing event is always delivered")

	var nilReporter *progressReporter
	nilReporter.report(PhaseReading, 1, 1)
}

func TestWithConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Build.Workers = 3
	cfg.Build.ChunkSize = 7
	cfg.Discovery.Languages = []string{"python"}

	o := New(WithConfig(cfg))
	assert.Equal(t, 3, o.Workers())
	assert.Equal(t, 7, o.options.ChunkSize)
	assert.Equal(t, cfg.Hash(), o.options.ConfigHash)

	root := writeTree(t, map[string]string{
		"src/lib.rs": "pub fn f() {}\n",
		"app/x.py":   "def g():\n    pass\n",
	})
	res, err := o.Build(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Stats.FilesDiscovered, "configured languages narrow discovery")
}
