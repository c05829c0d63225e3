// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/callgraph/services/callgraph/graph"
)

func newTestDB(t *testing.T) *badger.DB {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestCache(t *testing.T) (*Cache, *badger.DB) {
	t.Helper()
	db := newTestDB(t)
	c, err := New(db, nil)
	require.NoError(t, err)
	return c, db
}

func testEntry() *Entry {
	main := graph.FunctionID{File: "src/main.rs", Name: "main", Line: 1}
	run := graph.FunctionID{File: "src/lib.rs", Name: "run", Line: 3}
	g := graph.NewCallGraph()
	g.AddFunction(graph.FunctionNode{ID: main, IsEntryPoint: true, Complexity: 1, Length: 4})
	g.AddFunction(graph.FunctionNode{ID: run, Complexity: 2, Length: 10})
	g.AddCall(graph.CallEdge{Caller: main, Callee: run, Type: graph.CallDirect})

	excl := graph.NewFunctionSet()
	excl.Add(main, "main")
	ptr := graph.NewFunctionSet()
	ptr.Add(run, "bound to f")
	e := NewEntry("/work/project", g, excl, ptr, []graph.FunctionID{run})
	e.FilesParsed = 2
	e.FileFailures = []FileFailure{{Path: "src/bad.rs", Phase: "parse", Message: "invalid UTF-8"}}
	return e
}

func TestNew_NilDB(t *testing.T) {
	_, err := New(nil, nil)
	assert.ErrorIs(t, err, ErrNilDB)
}

func TestCache_PutGet(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	entry := testEntry()

	meta, err := c.Put(ctx, "abc123", entry)
	require.NoError(t, err)
	assert.Equal(t, 2, meta.NodeCount)
	assert.Equal(t, 1, meta.EdgeCount)
	assert.Equal(t, SchemaVersion, meta.SchemaVersion)
	assert.NotEmpty(t, meta.ContentHash)

	got, ok := c.Get(ctx, "abc123")
	require.True(t, ok)
	assert.Equal(t, "/work/project", got.Root)
	assert.Equal(t, entry.PublicAPIs, got.PublicAPIs)
	assert.Equal(t, 2, got.FilesParsed)
	assert.Equal(t, entry.FileFailures, got.FileFailures)

	g, err := got.CallGraph()
	require.NoError(t, err)
	want, err := entry.CallGraph()
	require.NoError(t, err)
	assert.Equal(t, want.Hash(), g.Hash())
	assert.True(t, got.Exclusions().Contains(graph.FunctionID{File: "src/main.rs", Name: "main", Line: 1}))
	reason, ok := got.PointerUsedSet().Reason(graph.FunctionID{File: "src/lib.rs", Name: "run", Line: 3})
	require.True(t, ok)
	assert.Equal(t, "bound to f", reason)
}

func TestCache_Misses(t *testing.T) {
	c, db := newTestCache(t)
	ctx := context.Background()

	_, ok := c.Get(ctx, "missing")
	assert.False(t, ok)
	_, ok = c.Get(ctx, "")
	assert.False(t, ok)

	_, err := c.Put(ctx, "k", testEntry())
	require.NoError(t, err)

	// Corrupt payload: the checksum no longer matches.
	require.NoError(t, db.Update(func(txn *badger.Txn) error {
		return txn.Set(dataKey("k"), []byte("not gzip"))
	}))
	_, ok = c.Get(ctx, "k")
	assert.False(t, ok)

	// Another schema version.
	_, err = c.Put(ctx, "old", testEntry())
	require.NoError(t, err)
	require.NoError(t, db.Update(func(txn *badger.Txn) error {
		return txn.Set(metaKey("old"), []byte(`{"schema_version":"0"}`))
	}))
	_, ok = c.Get(ctx, "old")
	assert.False(t, ok)

	// Unparseable metadata.
	_, err = c.Put(ctx, "bad", testEntry())
	require.NoError(t, err)
	require.NoError(t, db.Update(func(txn *badger.Txn) error {
		return txn.Set(metaKey("bad"), []byte("{"))
	}))
	_, ok = c.Get(ctx, "bad")
	assert.False(t, ok)
}

func TestCache_PutErrors(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	_, err := c.Put(ctx, "", testEntry())
	assert.ErrorIs(t, err, ErrInvalidKey)
	_, err = c.Put(ctx, "k", nil)
	assert.ErrorIs(t, err, ErrNilEntry)
	_, err = c.Put(ctx, "k", &Entry{})
	assert.ErrorIs(t, err, ErrNilEntry)
}

func TestCache_ListAndClear(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	_, err := c.Put(ctx, "first", testEntry())
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	_, err = c.Put(ctx, "second", testEntry())
	require.NoError(t, err)

	list, err := c.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "second", list[0].Key, "newest first")
	assert.Equal(t, "first", list[1].Key)

	n, err := c.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	list, err = c.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
	_, ok := c.Get(ctx, "first")
	assert.False(t, ok)
}

func TestOpen_InMemory(t *testing.T) {
	c, err := Open(WithInMemory())
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Put(context.Background(), "k", testEntry())
	require.NoError(t, err)
	_, ok := c.Get(context.Background(), "k")
	assert.True(t, ok)
}

func TestFingerprint(t *testing.T) {
	files := []FileStat{
		{Path: "src/lib.rs", Size: 100, ModTime: 1},
		{Path: "app/main.py", Size: 50, ModTime: 2},
	}
	base, err := Fingerprint("/work/project", files, "cfg")
	require.NoError(t, err)
	assert.Len(t, base, 16)

	reordered, err := Fingerprint("/work/project", []FileStat{files[1], files[0]}, "cfg")
	require.NoError(t, err)
	assert.Equal(t, base, reordered, "file order does not matter")

	changes := map[string][]FileStat{
		"size":    {{Path: "src/lib.rs", Size: 101, ModTime: 1}, files[1]},
		"mtime":   {{Path: "src/lib.rs", Size: 100, ModTime: 9}, files[1]},
		"removed": {files[0]},
		"renamed": {{Path: "src/core.rs", Size: 100, ModTime: 1}, files[1]},
	}
	for name, fs := range changes {
		fp, err := Fingerprint("/work/project", fs, "cfg")
		require.NoError(t, err)
		assert.NotEqual(t, base, fp, name)
	}

	other, err := Fingerprint("/work/project", files, "cfg2")
	require.NoError(t, err)
	assert.NotEqual(t, base, other, "config change")

	moved, err := Fingerprint("/work/elsewhere", files, "cfg")
	require.NoError(t, err)
	assert.NotEqual(t, base, moved, "root change")
}

func TestStatFiles(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "lib.rs"), []byte("fn a() {}"), 0o644))

	stats, err := StatFiles(root, []string{"src/lib.rs"})
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, "src/lib.rs", stats[0].Path)
	assert.Equal(t, int64(9), stats[0].Size)
	assert.NotZero(t, stats[0].ModTime)

	_, err = StatFiles(root, []string{"src/missing.rs"})
	assert.ErrorIs(t, err, os.ErrNotExist)
}
