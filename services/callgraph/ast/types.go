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
	"strings"
)

// Language identifies the source language of a parsed file.
type Language string

const (
	// LanguageRust is the primary, cacheable language.
	LanguageRust Language = "rust"

	// LanguagePython is rebuilt on every run.
	LanguagePython Language = "python"
)

// PathSeparator returns the separator used between segments of a
// qualified function name in the given language.
func (l Language) PathSeparator() string {
	if l == LanguagePython {
		return "."
	}
	return "::"
}

// Visibility is the declared visibility of a function.
type Visibility int

const (
	// VisibilityPrivate is the default for Rust items and for Python names
	// starting with an underscore.
	VisibilityPrivate Visibility = iota

	// VisibilityRestricted covers pub(crate), pub(super) and pub(in path).
	VisibilityRestricted

	// VisibilityPublic is a bare pub (or any non-underscore Python name).
	VisibilityPublic
)

// String returns the human-readable visibility.
func (v Visibility) String() string {
	switch v {
	case VisibilityPublic:
		return "public"
	case VisibilityRestricted:
		return "restricted"
	default:
		return "private"
	}
}

// ModuleFunctionName is the synthetic function that owns Python top-level
// statements.
const ModuleFunctionName = "<module>"

// FileAST is the language-neutral view of one parsed source file.
//
// Description:
//
//	Parsers flatten their syntax trees into FileAST so the extraction and
//	resolution phases never touch tree-sitter nodes. Every slice is in
//	source order, which keeps downstream output deterministic.
//
// Thread Safety:
//
//	A FileAST is immutable once returned by a Parser and may be shared
//	between goroutines.
type FileAST struct {
	// Path is the file path relative to the project root, slash separated.
	Path string `json:"path"`

	// Language is the source language.
	Language Language `json:"language"`

	// Hash is the SHA256 of the file content.
	Hash string `json:"hash"`

	// Functions contains every function or method definition.
	Functions []*Function `json:"functions"`

	// Uses contains every import, one entry per imported name.
	Uses []UseDecl `json:"uses"`

	// Traits contains trait definitions (Rust only).
	Traits []TraitDef `json:"traits"`

	// Impls contains impl blocks, and for Python, class declarations.
	Impls []ImplBlock `json:"impls"`

	// Modules contains inline module declarations (mod x { ... }).
	Modules []ModuleDecl `json:"modules"`

	// Types contains the names of struct, enum and class declarations.
	Types []TypeDecl `json:"types"`
}

// Function is one function or method definition.
type Function struct {
	// Name is the qualified local name: "run", "Type::method" or "Class.method".
	Name string `json:"name"`

	// BaseName is the unqualified name.
	BaseName string `json:"base_name"`

	// Owner is the impl type (Rust) or enclosing class (Python).
	Owner string `json:"owner,omitempty"`

	// Trait is the implemented trait, or the declaring trait for default methods.
	Trait string `json:"trait,omitempty"`

	// InTraitDef is true for default method bodies declared inside a trait.
	InTraitDef bool `json:"in_trait_def,omitempty"`

	// Module is the inline module scope the function is nested in.
	Module []string `json:"module,omitempty"`

	StartLine int `json:"start_line"`
	EndLine   int `json:"end_line"`

	// Attributes are normalized attribute or decorator paths,
	// e.g. "test", "tokio::test", "app.route".
	Attributes []string `json:"attributes,omitempty"`

	Visibility Visibility `json:"visibility"`

	// IsExternABI is set for extern "C" functions.
	IsExternABI bool `json:"is_extern_abi,omitempty"`

	IsAsync bool `json:"is_async,omitempty"`

	// InTestModule is set for functions inside a #[cfg(test)] module.
	InTestModule bool `json:"in_test_module,omitempty"`

	// Complexity is the cyclomatic complexity of the body.
	Complexity int `json:"complexity"`

	// Params are the declared parameters with their type text.
	Params []Param `json:"params,omitempty"`

	// Bounds maps generic type parameters to their trait bounds.
	Bounds map[string][]string `json:"bounds,omitempty"`

	// LocalTypes maps local bindings to the type they were constructed
	// with or annotated as.
	LocalTypes map[string]string `json:"local_types,omitempty"`

	// Calls are the call sites in the body, in source order.
	Calls []CallSite `json:"calls,omitempty"`

	// ValueRefs are paths referenced as values rather than called.
	ValueRefs []ValueRef `json:"value_refs,omitempty"`

	// Bindings are local names bound to a function path or a closure.
	Bindings []Binding `json:"bindings,omitempty"`
}

// Length returns the number of source lines the function spans.
func (f *Function) Length() int {
	if f.EndLine < f.StartLine {
		return 1
	}
	return f.EndLine - f.StartLine + 1
}

// HasAttribute reports whether the function carries the attribute, matching
// either the full path or its last segment.
func (f *Function) HasAttribute(name string) bool {
	for _, a := range f.Attributes {
		if a == name || LastSegment(a) == name {
			return true
		}
	}
	return false
}

// LocalType returns the known type of a local binding or parameter.
func (f *Function) LocalType(name string) (string, bool) {
	if t, ok := f.LocalTypes[name]; ok {
		return t, true
	}
	for _, p := range f.Params {
		if p.Name == name && p.Type != "" {
			return p.Type, true
		}
	}
	return "", false
}

// IsBound reports whether name is a parameter or local binding of the
// function, which shadows any function of the same name.
func (f *Function) IsBound(name string) bool {
	for _, p := range f.Params {
		if p.Name == name {
			return true
		}
	}
	if _, ok := f.LocalTypes[name]; ok {
		return true
	}
	for _, b := range f.Bindings {
		if b.Name == name {
			return true
		}
	}
	return false
}

// Binding returns the binding for a local name.
func (f *Function) Binding(name string) (Binding, bool) {
	for i := len(f.Bindings) - 1; i >= 0; i-- {
		if f.Bindings[i].Name == name {
			return f.Bindings[i], true
		}
	}
	return Binding{}, false
}

// Param is one declared parameter.
type Param struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// CallSite is one call expression.
//
// For a plain or path call ("foo()", "a::b::foo()", "Type::new()") Path is
// the callee path with generic arguments stripped and Receiver is empty.
// For a method call ("x.foo()") IsMethod is set, Path is the method name and
// Receiver is the receiver expression text ("self", "x", "self.inner").
type CallSite struct {
	Path     string `json:"path"`
	Receiver string `json:"receiver,omitempty"`
	IsMethod bool   `json:"is_method,omitempty"`
	Line     int    `json:"line"`

	// InMacro is set for calls recovered from macro token trees.
	InMacro bool `json:"in_macro,omitempty"`
}

// Segments splits the call path using the language separator.
func (c CallSite) Segments(lang Language) []string {
	return SplitPath(c.Path, lang)
}

// ValueRef is a path used as a value, for example passed as an argument.
type ValueRef struct {
	Path string `json:"path"`
	Line int    `json:"line"`

	// HigherOrder names the function or method the value was passed to
	// when that callee is a known higher-order function (map, filter, ...).
	HigherOrder string `json:"higher_order,omitempty"`
}

// Binding is a local name bound to a function path or to a closure.
type Binding struct {
	Name      string `json:"name"`
	Target    string `json:"target,omitempty"`
	IsClosure bool   `json:"is_closure,omitempty"`
	Line      int    `json:"line"`
}

// UseDecl is one imported name.
//
// Rust use trees are flattened: "use a::{b, c as d, e::*}" produces three
// entries. Python "from . import x" has Level 1.
type UseDecl struct {
	// Path is the full imported path, including the imported item.
	// For glob imports it is the module path.
	Path []string `json:"path"`

	// Alias is the local name the import binds. Empty for globs.
	Alias string `json:"alias,omitempty"`

	IsGlob bool `json:"is_glob,omitempty"`

	// IsPublic marks a re-export (pub use).
	IsPublic bool `json:"is_public,omitempty"`

	// Level is the Python relative import level (number of leading dots).
	Level int `json:"level,omitempty"`

	// Module is the inline module scope containing the declaration.
	Module []string `json:"module,omitempty"`

	Line int `json:"line"`
}

// TraitDef is a trait declaration.
type TraitDef struct {
	Name    string   `json:"name"`
	Methods []string `json:"methods"`
	Module  []string `json:"module,omitempty"`
	Line    int      `json:"line"`
}

// ImplBlock is an impl block or a Python class body.
type ImplBlock struct {
	// Trait is empty for inherent impls.
	Trait string `json:"trait,omitempty"`

	// Type is the implementing type, generic arguments stripped.
	Type string `json:"type"`

	// Bases lists Python base classes.
	Bases []string `json:"bases,omitempty"`

	Methods []string `json:"methods"`
	Module  []string `json:"module,omitempty"`
	Line    int      `json:"line"`
}

// ModuleDecl is an inline module declaration.
type ModuleDecl struct {
	// Path is the full inline scope, e.g. ["outer", "inner"].
	Path []string `json:"path"`

	IsTest bool `json:"is_test,omitempty"`
	Line   int  `json:"line"`
}

// TypeDecl is a struct, enum, union or class declaration.
type TypeDecl struct {
	Name   string   `json:"name"`
	Module []string `json:"module,omitempty"`
	Line   int      `json:"line"`
}

// SplitPath splits a qualified path into segments.
func SplitPath(path string, lang Language) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, lang.PathSeparator())
}

// LastSegment returns the last "::" or "." separated segment of a path.
func LastSegment(path string) string {
	if i := strings.LastIndex(path, "::"); i >= 0 {
		path = path[i+2:]
	}
	if i := strings.LastIndex(path, "."); i >= 0 {
		path = path[i+1:]
	}
	return path
}

// StripGenerics removes generic arguments from a path, including turbofish
// forms: "Vec::<u8>::new" becomes "Vec::new" and "parse::<T>" becomes "parse".
func StripGenerics(path string) string {
	if !strings.ContainsAny(path, "<>") {
		return path
	}
	var b strings.Builder
	depth := 0
	for _, r := range path {
		switch {
		case r == '<':
			depth++
		case r == '>':
			if depth > 0 {
				depth--
			}
		case depth == 0:
			b.WriteRune(r)
		}
	}
	out := b.String()
	for strings.Contains(out, "::::") {
		out = strings.ReplaceAll(out, "::::", "::")
	}
	return strings.TrimSuffix(out, "::")
}
