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
	"sort"
	"strings"

	"github.com/AleutianAI/callgraph/services/callgraph/ast"
	"github.com/AleutianAI/callgraph/services/callgraph/graph"
	"github.com/AleutianAI/callgraph/services/callgraph/index"
)

// TraitImpl is one impl block of a trait for a type, or one Python class
// with its base classes.
type TraitImpl struct {
	Trait string
	Type  string
	File  string
	Line  int

	// Methods are the method names the impl defines.
	Methods []string
}

// TraitCall is a method call dispatched through a trait whose
// implementations are not all known yet.
type TraitCall struct {
	Caller graph.FunctionID
	Traits []string
	Method string
	Line   int
}

// TraitRegistry records traits, their implementations and Python class
// hierarchies.
//
// Description:
//
//	The registry answers "which functions can a call to method m through
//	trait T reach". Each implementing type contributes its own method, or
//	the trait's default body when it does not override it. Traits
//	declared outside the project (Display, Iterator, ...) have impls but
//	no TraitDef; their methods are invoked by code the graph cannot see.
//
// Thread Safety: Not safe for concurrent use. Owned by one Accumulator.
type TraitRegistry struct {
	// trait -> declared method names
	traits map[string][]string

	// trait -> implementing impl blocks
	impls map[string][]TraitImpl

	// type -> implemented traits
	typeTraits map[string]map[string]bool

	// trait \x00 type \x00 method -> impl methods
	implMethods map[string][]graph.FunctionID

	// trait \x00 method -> default bodies
	defaults map[string][]graph.FunctionID

	// Python class -> base classes, and the reverse.
	bases      map[string][]string
	subclasses map[string][]string
}

// NewTraitRegistry creates an empty registry.
func NewTraitRegistry() *TraitRegistry {
	return &TraitRegistry{
		traits:      make(map[string][]string),
		impls:       make(map[string][]TraitImpl),
		typeTraits:  make(map[string]map[string]bool),
		implMethods: make(map[string][]graph.FunctionID),
		defaults:    make(map[string][]graph.FunctionID),
		bases:       make(map[string][]string),
		subclasses:  make(map[string][]string),
	}
}

func implKey(trait, typ, method string) string {
	return trait + "\x00" + typ + "\x00" + method
}

// AddFile registers the traits, impls and classes of one file.
func (r *TraitRegistry) AddFile(file *ast.FileAST, entries []*index.Entry) {
	for _, t := range file.Traits {
		r.traits[t.Name] = append(r.traits[t.Name], t.Methods...)
	}
	for _, impl := range file.Impls {
		if file.Language == ast.LanguagePython {
			r.addClass(impl.Type, impl.Bases)
			continue
		}
		if impl.Trait == "" {
			continue
		}
		r.impls[impl.Trait] = append(r.impls[impl.Trait], TraitImpl{
			Trait:   impl.Trait,
			Type:    impl.Type,
			File:    file.Path,
			Line:    impl.Line,
			Methods: impl.Methods,
		})
		if r.typeTraits[impl.Type] == nil {
			r.typeTraits[impl.Type] = make(map[string]bool)
		}
		r.typeTraits[impl.Type][impl.Trait] = true
	}
	for _, e := range entries {
		switch {
		case e.InTraitDef:
			k := e.Owner + "\x00" + e.BaseName
			r.defaults[k] = append(r.defaults[k], e.ID)
		case e.Trait != "":
			k := implKey(e.Trait, e.Owner, e.BaseName)
			r.implMethods[k] = append(r.implMethods[k], e.ID)
		}
	}
}

func (r *TraitRegistry) addClass(class string, bases []string) {
	for _, b := range bases {
		if b == "object" || b == class {
			continue
		}
		r.bases[class] = append(r.bases[class], b)
		r.subclasses[b] = append(r.subclasses[b], class)
	}
}

// IsTrait reports whether name is a trait declared in the project.
func (r *TraitRegistry) IsTrait(name string) bool {
	_, ok := r.traits[name]
	return ok
}

// DeclaresMethod reports whether the project trait declares method.
func (r *TraitRegistry) DeclaresMethod(trait, method string) bool {
	for _, m := range r.traits[trait] {
		if m == method {
			return true
		}
	}
	return false
}

// TraitsOf returns the traits a type implements, sorted.
func (r *TraitRegistry) TraitsOf(typ string) []string {
	out := make([]string, 0, len(r.typeTraits[typ]))
	for t := range r.typeTraits[typ] {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Impls returns the impl blocks of a trait.
func (r *TraitRegistry) Impls(trait string) []TraitImpl {
	return r.impls[trait]
}

// Implementations returns every function a call to method through trait
// can reach: each implementing type's own method, or the trait default
// for types that do not override it.
func (r *TraitRegistry) Implementations(trait, method string) []graph.FunctionID {
	var out []graph.FunctionID
	usesDefault := false
	seen := make(map[string]bool)
	for _, impl := range r.impls[trait] {
		if seen[impl.Type] {
			continue
		}
		seen[impl.Type] = true
		if ids := r.implMethods[implKey(trait, impl.Type, method)]; len(ids) > 0 {
			out = append(out, ids...)
		} else {
			usesDefault = true
		}
	}
	if usesDefault || len(r.impls[trait]) == 0 {
		out = append(out, r.defaults[trait+"\x00"+method]...)
	}
	return uniqueIDs(out)
}

// ImplementationFor returns the method a concrete type provides for a trait
// method, falling back to the trait default.
func (r *TraitRegistry) ImplementationFor(trait, typ, method string) []graph.FunctionID {
	if ids := r.implMethods[implKey(trait, typ, method)]; len(ids) > 0 {
		return uniqueIDs(ids)
	}
	if r.typeTraits[typ][trait] {
		return uniqueIDs(r.defaults[trait+"\x00"+method])
	}
	return nil
}

// DefaultFor returns the default body of method inherited by typ from any
// trait it implements.
func (r *TraitRegistry) DefaultFor(typ, method string) []graph.FunctionID {
	var out []graph.FunctionID
	for _, t := range r.TraitsOf(typ) {
		if len(r.implMethods[implKey(t, typ, method)]) > 0 {
			continue
		}
		out = append(out, r.defaults[t+"\x00"+method]...)
	}
	return uniqueIDs(out)
}

// Ancestors returns the base classes of a Python class, nearest first.
func (r *TraitRegistry) Ancestors(class string) []string {
	return r.walk(class, r.bases)
}

// Descendants returns the subclasses of a Python class, nearest first.
func (r *TraitRegistry) Descendants(class string) []string {
	return r.walk(class, r.subclasses)
}

func (r *TraitRegistry) walk(start string, next map[string][]string) []string {
	visited := map[string]bool{start: true}
	var out []string
	queue := []string{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, n := range next[cur] {
			if visited[n] {
				continue
			}
			visited[n] = true
			out = append(out, n)
			queue = append(queue, n)
		}
	}
	return out
}

// ExternalImpls returns impls of traits not declared in the project,
// sorted by trait and type.
func (r *TraitRegistry) ExternalImpls() []TraitImpl {
	var out []TraitImpl
	for trait, impls := range r.impls {
		if r.IsTrait(trait) {
			continue
		}
		out = append(out, impls...)
	}
	sortImpls(out)
	return out
}

// VisitImpls returns impls of visitor traits (Visit, VisitMut, Visitor...).
func (r *TraitRegistry) VisitImpls() []TraitImpl {
	var out []TraitImpl
	for trait, impls := range r.impls {
		if strings.HasPrefix(trait, "Visit") {
			out = append(out, impls...)
		}
	}
	sortImpls(out)
	return out
}

// ImplMethodIDs returns the functions defined by an impl block.
func (r *TraitRegistry) ImplMethodIDs(impl TraitImpl) []graph.FunctionID {
	var out []graph.FunctionID
	for _, m := range impl.Methods {
		for _, id := range r.implMethods[implKey(impl.Trait, impl.Type, m)] {
			if id.File == impl.File {
				out = append(out, id)
			}
		}
	}
	return uniqueIDs(out)
}

// TraitStats summarizes the registry.
type TraitStats struct {
	Traits  int `json:"traits"`
	Impls   int `json:"impls"`
	Classes int `json:"classes"`
}

// Stats returns registry counts.
func (r *TraitRegistry) Stats() TraitStats {
	s := TraitStats{Traits: len(r.traits), Classes: len(r.bases)}
	for _, impls := range r.impls {
		s.Impls += len(impls)
	}
	return s
}

func sortImpls(impls []TraitImpl) {
	sort.Slice(impls, func(i, j int) bool {
		a, b := impls[i], impls[j]
		if a.Trait != b.Trait {
			return a.Trait < b.Trait
		}
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		if a.File != b.File {
			return a.File < b.File
		}
		return a.Line < b.Line
	})
}

func uniqueIDs(ids []graph.FunctionID) []graph.FunctionID {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[graph.FunctionID]bool, len(ids))
	out := make([]graph.FunctionID, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].File != out[j].File {
			return out[i].File < out[j].File
		}
		if out[i].Line != out[j].Line {
			return out[i].Line < out[j].Line
		}
		return out[i].Name < out[j].Name
	})
	return out
}
