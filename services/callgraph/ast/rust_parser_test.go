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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const rustSample = `use crate::store::{Store, load as load_all};
pub use self::inner::*;

pub trait Shape {
    fn area(&self) -> f64;
    fn describe(&self) -> String {
        self.area();
        String::new()
    }
}

pub struct Circle {
    r: f64,
}

impl Shape for Circle {
    fn area(&self) -> f64 {
        helper(self.r)
    }
}

impl Circle {
    pub fn new(r: f64) -> Self {
        Self::validate(r);
        Circle { r }
    }

    fn validate(r: f64) {
        if r < 0.0 && r != -1.0 {
            panic!("bad");
        }
    }
}

fn helper(x: f64) -> f64 {
    x * 2.0
}

pub fn run(shapes: &[Box<dyn Shape>]) {
    let f = helper;
    let c = Circle::new(1.0);
    for s in shapes {
        s.area();
    }
    c.area();
    f(1.0);
    shapes.iter().map(describe_one);
    println!("{}", load_all());
}

fn describe_one(s: &Box<dyn Shape>) -> String {
    s.describe()
}

#[cfg(test)]
mod tests {
    use super::*;

    #[test]
    fn test_helper() {
        assert_eq!(helper(1.0), 2.0);
    }
}
`

func parseRust(t *testing.T, src string) *FileAST {
	t.Helper()
	result, err := NewRustParser().Parse(context.Background(), []byte(src), "src/shapes.rs")
	require.NoError(t, err)
	require.NotNil(t, result)
	return result
}

func findFunction(t *testing.T, file *FileAST, name string) *Function {
	t.Helper()
	for _, fn := range file.Functions {
		if fn.Name == name {
			return fn
		}
	}
	t.Fatalf("function %q not found", name)
	return nil
}

func callPaths(fn *Function) []string {
	paths := make([]string, 0, len(fn.Calls))
	for _, c := range fn.Calls {
		if c.IsMethod {
			paths = append(paths, c.Receiver+"."+c.Path)
			continue
		}
		paths = append(paths, c.Path)
	}
	return paths
}

func TestRustParser_Functions(t *testing.T) {
	file := parseRust(t, rustSample)

	names := make([]string, 0, len(file.Functions))
	for _, fn := range file.Functions {
		names = append(names, fn.Name)
	}
	assert.Equal(t, []string{
		"Shape::describe",
		"Circle::area",
		"Circle::new",
		"Circle::validate",
		"helper",
		"run",
		"describe_one",
		"test_helper",
	}, names)

	area := findFunction(t, file, "Circle::area")
	assert.Equal(t, "Circle", area.Owner)
	assert.Equal(t, "Shape", area.Trait)
	assert.False(t, area.InTraitDef)

	describe := findFunction(t, file, "Shape::describe")
	assert.True(t, describe.InTraitDef)
	assert.Equal(t, "Shape", describe.Trait)

	newFn := findFunction(t, file, "Circle::new")
	assert.Equal(t, VisibilityPublic, newFn.Visibility)
	assert.Equal(t, "new", newFn.BaseName)

	helper := findFunction(t, file, "helper")
	assert.Equal(t, VisibilityPrivate, helper.Visibility)
	assert.Equal(t, 3, helper.Length())
}

func TestRustParser_Calls(t *testing.T) {
	file := parseRust(t, rustSample)

	newFn := findFunction(t, file, "Circle::new")
	assert.Contains(t, callPaths(newFn), "Circle::validate", "Self:: is rewritten to the impl type")

	describe := findFunction(t, file, "Shape::describe")
	assert.Contains(t, callPaths(describe), "self.area")
	assert.Contains(t, callPaths(describe), "String::new")

	run := findFunction(t, file, "run")
	paths := callPaths(run)
	assert.Contains(t, paths, "Circle::new")
	assert.Contains(t, paths, "s.area")
	assert.Contains(t, paths, "c.area")
	assert.Contains(t, paths, "f")
	assert.Contains(t, paths, "load_all", "calls inside macro arguments are recovered")

	typ, ok := run.LocalType("c")
	assert.True(t, ok)
	assert.Equal(t, "Circle", typ)

	typ, ok = run.LocalType("shapes")
	assert.True(t, ok)
	assert.Equal(t, "&[Box<dyn Shape>]", typ)

	b, ok := run.Binding("f")
	require.True(t, ok)
	assert.Equal(t, "helper", b.Target)

	var hof []ValueRef
	for _, ref := range run.ValueRefs {
		if ref.HigherOrder != "" {
			hof = append(hof, ref)
		}
	}
	require.Len(t, hof, 1)
	assert.Equal(t, "describe_one", hof[0].Path)
	assert.Equal(t, "map", hof[0].HigherOrder)
}

func TestRustParser_ComplexityAndAttributes(t *testing.T) {
	file := parseRust(t, rustSample)

	validate := findFunction(t, file, "Circle::validate")
	assert.Equal(t, 3, validate.Complexity, "if plus one && operator")

	test := findFunction(t, file, "test_helper")
	assert.True(t, test.HasAttribute("test"))
	assert.True(t, test.InTestModule)
	assert.Equal(t, []string{"tests"}, test.Module)

	require.Len(t, file.Modules, 1)
	assert.True(t, file.Modules[0].IsTest)
}

func TestRustParser_TraitsImplsAndUses(t *testing.T) {
	file := parseRust(t, rustSample)

	require.Len(t, file.Traits, 1)
	assert.Equal(t, "Shape", file.Traits[0].Name)
	assert.Equal(t, []string{"area", "describe"}, file.Traits[0].Methods)

	require.Len(t, file.Impls, 2)
	assert.Equal(t, "Shape", file.Impls[0].Trait)
	assert.Equal(t, "Circle", file.Impls[0].Type)
	assert.Empty(t, file.Impls[1].Trait)

	var uses []string
	for _, u := range file.Uses {
		if u.Module != nil {
			continue
		}
		desc := strings.Join(u.Path, "::")
		if u.IsGlob {
			desc += "::*"
		} else {
			desc += " as " + u.Alias
		}
		if u.IsPublic {
			desc = "pub " + desc
		}
		uses = append(uses, desc)
	}
	assert.ElementsMatch(t, []string{
		"crate::store::Store as Store",
		"crate::store::load as load_all",
		"pub self::inner::*",
	}, uses)

	require.Len(t, file.Types, 1)
	assert.Equal(t, "Circle", file.Types[0].Name)
}

func TestRustParser_SyntaxError(t *testing.T) {
	src := "fn broken( {\n    let x = ;\n}\n"

	_, err := NewRustParser().Parse(context.Background(), []byte(src), "src/broken.rs")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSyntax))

	var parseErr *ParseError
	require.True(t, errors.As(err, &parseErr))
	assert.Equal(t, "src/broken.rs", parseErr.FilePath)

	result, err := NewRustParser(WithTolerateErrors(true)).Parse(context.Background(), []byte(src), "src/broken.rs")
	require.NoError(t, err)
	assert.NotNil(t, result)
}

func TestRustParser_RejectsInvalidInput(t *testing.T) {
	t.Run("invalid utf8", func(t *testing.T) {
		_, err := NewRustParser().Parse(context.Background(), []byte{0xff, 0xfe}, "src/bad.rs")
		assert.True(t, errors.Is(err, ErrInvalidContent))
	})

	t.Run("too large", func(t *testing.T) {
		p := NewRustParser(WithMaxFileSize(8))
		_, err := p.Parse(context.Background(), []byte("fn main() {}"), "src/main.rs")
		assert.True(t, errors.Is(err, ErrFileTooLarge))
	})

	t.Run("canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := NewRustParser().Parse(ctx, []byte("fn main() {}"), "src/main.rs")
		assert.True(t, errors.Is(err, context.Canceled))
	})
}

func TestParseUseTree(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []UseDecl
	}{
		{
			name: "simple path",
			in:   "crate::a::b",
			want: []UseDecl{{Path: []string{"crate", "a", "b"}, Alias: "b"}},
		},
		{
			name: "alias",
			in:   "super::util::parse as p",
			want: []UseDecl{{Path: []string{"super", "util", "parse"}, Alias: "p"}},
		},
		{
			name: "glob",
			in:   "crate::prelude::*",
			want: []UseDecl{{Path: []string{"crate", "prelude"}, IsGlob: true}},
		},
		{
			name: "nested list with self",
			in:   "crate::net::{self, http::{get, post as send}, tcp::*}",
			want: []UseDecl{
				{Path: []string{"crate", "net"}, Alias: "net"},
				{Path: []string{"crate", "net", "tcp"}, IsGlob: true},
				{Path: []string{"crate", "net", "http", "get"}, Alias: "get"},
				{Path: []string{"crate", "net", "http", "post"}, Alias: "send"},
			},
		},
		{
			name: "underscore import skipped",
			in:   "std::io::Write as _",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ElementsMatch(t, tt.want, ParseUseTree(tt.in))
		})
	}
}

func TestStripGenerics(t *testing.T) {
	assert.Equal(t, "Vec::new", StripGenerics("Vec::<u8>::new"))
	assert.Equal(t, "parse", StripGenerics("parse::<Config>"))
	assert.Equal(t, "HashMap::with_capacity", StripGenerics("HashMap::<String, Vec<u8>>::with_capacity"))
	assert.Equal(t, "plain::path", StripGenerics("plain::path"))
}

func TestParseTypeExpr(t *testing.T) {
	assert.Equal(t, TypeExpr{Traits: []string{"Store"}}, ParseTypeExpr("&mut Box<dyn Store + Send>"))
	assert.Equal(t, TypeExpr{Traits: []string{"Shape", "Debug"}}, ParseTypeExpr("impl Shape + fmt::Debug"))
	assert.Equal(t, TypeExpr{Concrete: "Cache"}, ParseTypeExpr("Arc<crate::cache::Cache>"))
	assert.Equal(t, TypeExpr{Concrete: "Vec"}, ParseTypeExpr("&'a Vec<u8>"))
	assert.Equal(t, TypeExpr{}, ParseTypeExpr("(u8, u8)"))

	name, bounds := ParseBounds("T: Shape + Clone + 'static")
	assert.Equal(t, "T", name)
	assert.Equal(t, []string{"Shape", "Clone"}, bounds)
}
