// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pythonSample = `import utils
import numpy as np
from helpers import calculate, format_value as fmt
from .sibling import *
from .. import parent_mod


class Service(Base):
    def __init__(self, store):
        self.store = store

    def handle(self, item):
        if item and self.ready():
            return fmt(calculate(item))
        return None

    def ready(self):
        return True

    def _private(self):
        pass


def main():
    svc = Service(None)
    svc.handle(1)
    utils.calculate(2)
    values = map(transform, [1, 2])
    worker = transform
    worker(3)


def transform(x):
    return x


if __name__ == "__main__":
    main()
`

func parsePython(t *testing.T, src string) *FileAST {
	t.Helper()
	result, err := NewPythonParser().Parse(context.Background(), []byte(src), "app/service.py")
	require.NoError(t, err)
	require.NotNil(t, result)
	return result
}

func TestPythonParser_Functions(t *testing.T) {
	file := parsePython(t, pythonSample)

	names := make([]string, 0, len(file.Functions))
	for _, fn := range file.Functions {
		names = append(names, fn.Name)
	}
	assert.ElementsMatch(t, []string{
		"Service.__init__",
		"Service.handle",
		"Service.ready",
		"Service._private",
		"main",
		"transform",
		ModuleFunctionName,
	}, names)

	handle := findFunction(t, file, "Service.handle")
	assert.Equal(t, "Service", handle.Owner)
	assert.Equal(t, "handle", handle.BaseName)
	assert.Equal(t, 3, handle.Complexity, "if plus boolean operator")

	private := findFunction(t, file, "Service._private")
	assert.Equal(t, VisibilityPrivate, private.Visibility)

	init := findFunction(t, file, "Service.__init__")
	assert.Equal(t, VisibilityPublic, init.Visibility)

	self, ok := handle.LocalType("self")
	assert.True(t, ok)
	assert.Equal(t, "Service", self)
}

func TestPythonParser_Calls(t *testing.T) {
	file := parsePython(t, pythonSample)

	handle := findFunction(t, file, "Service.handle")
	assert.ElementsMatch(t, []string{"self.ready", "fmt", "calculate"}, callPaths(handle))

	main := findFunction(t, file, "main")
	paths := callPaths(main)
	assert.Contains(t, paths, "Service")
	assert.Contains(t, paths, "svc.handle")
	assert.Contains(t, paths, "utils.calculate")
	assert.Contains(t, paths, "worker")

	typ, ok := main.LocalType("svc")
	assert.True(t, ok)
	assert.Equal(t, "Service", typ)

	b, ok := main.Binding("worker")
	require.True(t, ok)
	assert.Equal(t, "transform", b.Target)

	var hof []ValueRef
	for _, ref := range main.ValueRefs {
		if ref.HigherOrder != "" {
			hof = append(hof, ref)
		}
	}
	require.Len(t, hof, 1)
	assert.Equal(t, "transform", hof[0].Path)

	module := findFunction(t, file, ModuleFunctionName)
	assert.Equal(t, 1, module.StartLine)
	assert.Contains(t, callPaths(module), "main")
}

func TestPythonParser_Imports(t *testing.T) {
	file := parsePython(t, pythonSample)

	type imp struct {
		path  string
		alias string
		glob  bool
		level int
	}
	var got []imp
	for _, u := range file.Uses {
		p := ""
		for i, s := range u.Path {
			if i > 0 {
				p += "."
			}
			p += s
		}
		got = append(got, imp{path: p, alias: u.Alias, glob: u.IsGlob, level: u.Level})
		assert.True(t, u.IsPublic)
	}

	assert.ElementsMatch(t, []imp{
		{path: "utils", alias: "utils"},
		{path: "numpy", alias: "np"},
		{path: "helpers.calculate", alias: "calculate"},
		{path: "helpers.format_value", alias: "fmt"},
		{path: "sibling", glob: true, level: 1},
		{path: "parent_mod", alias: "parent_mod", level: 2},
	}, got)

	require.Len(t, file.Impls, 1)
	assert.Equal(t, "Service", file.Impls[0].Type)
	assert.Equal(t, []string{"Base"}, file.Impls[0].Bases)
	assert.Equal(t, []string{"__init__", "handle", "ready", "_private"}, file.Impls[0].Methods)
}

func TestPythonParser_Decorators(t *testing.T) {
	src := `@app.route("/items")
def list_items():
    return []


@pytest.fixture
def client():
    return None
`
	file := parsePython(t, src)

	list := findFunction(t, file, "list_items")
	assert.Equal(t, []string{"app.route"}, list.Attributes)
	assert.True(t, list.HasAttribute("route"))

	client := findFunction(t, file, "client")
	assert.True(t, client.HasAttribute("pytest.fixture"))
}

func TestPythonParser_SyntaxError(t *testing.T) {
	_, err := NewPythonParser().Parse(context.Background(), []byte("def broken(:\n    pass\n"), "bad.py")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSyntax))
}

func TestParserRegistry(t *testing.T) {
	registry := NewDefaultRegistry()

	p, err := registry.ForPath("src/lib.rs")
	require.NoError(t, err)
	assert.Equal(t, LanguageRust, p.Language())

	p, err = registry.ForPath("pkg/mod.py")
	require.NoError(t, err)
	assert.Equal(t, LanguagePython, p.Language())

	_, err = registry.ForPath("README.md")
	assert.True(t, errors.Is(err, ErrUnsupportedLanguage))

	assert.Equal(t, []string{".py", ".pyi", ".rs"}, registry.Extensions())
	assert.Equal(t, LanguagePython, LanguageForPath("a/b.pyi"))
}
