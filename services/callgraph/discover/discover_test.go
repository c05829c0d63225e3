// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package discover

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return root
}

func TestDiscover_WalksAndFilters(t *testing.T) {
	root := writeTree(t, map[string]string{
		"src/main.rs":                "fn main() {}",
		"src/net/mod.rs":             "",
		"src/notes.txt":              "",
		"app/service.py":             "",
		"target/debug/build.rs":      "",
		"node_modules/x/index.py":    "",
		"app/__pycache__/service.py": "",
		".git/hooks/pre-commit.py":   "",
	})

	d, err := New()
	require.NoError(t, err)
	files, err := d.Discover(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, []string{"app/service.py", "src/main.rs", "src/net/mod.rs"}, files)
}

func TestDiscover_Extensions(t *testing.T) {
	root := writeTree(t, map[string]string{"a.rs": "", "b.py": ""})

	d, err := New(WithExtensions("rs"))
	require.NoError(t, err)
	files, err := d.Discover(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.rs"}, files)
}

func TestDiscover_IgnoreGlobs(t *testing.T) {
	root := writeTree(t, map[string]string{
		"src/lib.rs":             "",
		"src/generated/types.rs": "",
		"benches/bench.rs":       "",
		"tools/gen_test.py":      "",
	})

	d, err := New(WithIgnore("src/generated/**", "benches", "**/*_test.py"))
	require.NoError(t, err)
	files, err := d.Discover(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, []string{"src/lib.rs"}, files)
}

func TestDiscover_NestedGitignore(t *testing.T) {
	root := writeTree(t, map[string]string{
		".gitignore":          "*.gen.rs\nbuild/\n",
		"src/lib.rs":          "",
		"src/out.gen.rs":      "",
		"build/script.py":     "",
		"pkg/.gitignore":      "local.py\n!keep.gen.rs\n/rooted.py\n",
		"pkg/local.py":        "",
		"pkg/keep.gen.rs":     "",
		"pkg/rooted.py":       "",
		"pkg/sub/rooted.py":   "",
		"pkg/sub/local.py":    "",
		"other/local.py":      "",
		"other/nested/run.py": "",
	})

	d, err := New()
	require.NoError(t, err)
	files, err := d.Discover(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"other/local.py",
		"other/nested/run.py",
		"pkg/keep.gen.rs",
		"pkg/sub/rooted.py",
		"src/lib.rs",
	}, files)

	d, err = New(WithGitignore(false))
	require.NoError(t, err)
	files, err = d.Discover(context.Background(), root)
	require.NoError(t, err)
	assert.Len(t, files, 10)
}

func TestDiscover_PreEnumerated(t *testing.T) {
	d, err := New(WithFiles([]string{"src/b.rs", "src/a.rs", "./src/a.rs", "README.md", "app/x.py"}))
	require.NoError(t, err)

	files, err := d.Discover(context.Background(), "/does/not/exist")
	require.NoError(t, err, "a supplied file list skips the file system")
	assert.Equal(t, []string{"app/x.py", "src/a.rs", "src/b.rs"}, files)
}

func TestDiscover_PreEnumeratedOutsideRoot(t *testing.T) {
	for _, f := range []string{"../secret/keys.py", "..", "src/../../x.rs", "/etc/app/main.py"} {
		d, err := New(WithFiles([]string{"src/a.rs", f}))
		require.NoError(t, err)
		_, err = d.Discover(context.Background(), "/srv/project")
		assert.ErrorIs(t, err, ErrPathOutsideRoot, f)
	}

	d, err := New(WithFiles([]string{"src/../lib/a.rs"}))
	require.NoError(t, err)
	files, err := d.Discover(context.Background(), "/srv/project")
	require.NoError(t, err)
	assert.Equal(t, []string{"lib/a.rs"}, files)
}

func TestDiscover_UnanchoredGitignoreAtDepth(t *testing.T) {
	root := writeTree(t, map[string]string{
		".gitignore":                "*_pb2.py\n*.rs.bk\n",
		"top_pb2.py":                "",
		"pkg/proto/msg_pb2.py":      "",
		"pkg/proto/v1/api_pb2.py":   "",
		"src/net/http/client.rs.bk": "",
		"src/lib.rs":                "",
		"pkg/proto/msg.py":          "",
	})

	d, err := New(WithExtensions("rs", "py", "bk"))
	require.NoError(t, err)
	files, err := d.Discover(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, []string{"pkg/proto/msg.py", "src/lib.rs"}, files)
}

func TestDiscover_Errors(t *testing.T) {
	d, err := New()
	require.NoError(t, err)

	_, err = d.Discover(context.Background(), filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, ErrRootNotFound)

	root := writeTree(t, map[string]string{"file.rs": ""})
	_, err = d.Discover(context.Background(), filepath.Join(root, "file.rs"))
	assert.ErrorIs(t, err, ErrRootNotFound)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = d.Discover(ctx, root)
	assert.ErrorIs(t, err, context.Canceled)

	_, err = New(WithIgnore("[unterminated"))
	assert.ErrorIs(t, err, ErrInvalidPattern)
}

func TestParseGitignore(t *testing.T) {
	set, bad := parseGitignore("", strings.NewReader("# comment\n\n*.log\n!important.log\ndocs/\n/top.py\n"))
	assert.Empty(t, bad)
	require.Len(t, set.rules, 4)

	cases := []struct {
		rel     string
		isDir   bool
		decided bool
		ignored bool
	}{
		{"x.log", false, true, true},
		{"a/b/x.log", false, true, true},
		{"important.log", false, true, false},
		{"docs", true, true, true},
		{"docs", false, false, false},
		{"top.py", false, true, true},
		{"a/top.py", false, false, false},
		{"main.rs", false, false, false},
	}
	for _, c := range cases {
		decided, ignored := set.match(c.rel, c.isDir)
		assert.Equal(t, c.decided, decided, c.rel)
		assert.Equal(t, c.ignored, ignored, c.rel)
	}
}
