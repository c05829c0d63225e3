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
	"strings"

	"github.com/AleutianAI/callgraph/services/callgraph/ast"
	"github.com/AleutianAI/callgraph/services/callgraph/graph"
	"github.com/AleutianAI/callgraph/services/callgraph/index"
)

// Module is one module namespace: a Rust file or inline mod, or a Python
// module or package.
type Module struct {
	Language ast.Language
	Root     string
	Path     []string

	// IsPackage marks a Python package __init__ module. Relative imports
	// inside it are anchored at the package itself.
	IsPackage bool

	IsTest bool
	Files  []string

	functions map[string][]*index.Entry
	methods   map[string][]*index.Entry
	types     map[string]bool
	uses      []ast.UseDecl
}

func newModule(lang ast.Language, root string, path []string) *Module {
	return &Module{
		Language:  lang,
		Root:      root,
		Path:      path,
		functions: make(map[string][]*index.Entry),
		methods:   make(map[string][]*index.Entry),
		types:     make(map[string]bool),
	}
}

// Uses returns the module's imports.
func (m *Module) Uses() []ast.UseDecl {
	return m.uses
}

// ModuleIndex maps module paths to the functions, types and imports they
// declare.
//
// Description:
//
//	Rust modules are keyed by crate root and "crate"-anchored path, so two
//	crates in one workspace never collide. Python modules are keyed by
//	their dotted path; an absolute import that matches no module exactly
//	falls back to the unique module whose path ends with it, which covers
//	src-layout projects.
//
// Thread Safety: Not safe for concurrent use. Owned by one Accumulator.
type ModuleIndex struct {
	modules map[string]*Module
	crates  map[string]string
	owners  map[string][]*index.Entry
	suffix  map[string]*Module
}

// NewModuleIndex creates an empty module index.
func NewModuleIndex() *ModuleIndex {
	return &ModuleIndex{
		modules: make(map[string]*Module),
		crates:  make(map[string]string),
		owners:  make(map[string][]*index.Entry),
		suffix:  make(map[string]*Module),
	}
}

func moduleKey(lang ast.Language, root string, path []string) string {
	return string(lang) + "|" + root + "|" + strings.Join(path, "/")
}

func ownerKey(lang ast.Language, root, owner, method string) string {
	return string(lang) + "|" + root + "|" + owner + "|" + method
}

func methodKey(owner, method string) string {
	return owner + "\x00" + method
}

// Len returns the number of modules.
func (m *ModuleIndex) Len() int {
	return len(m.modules)
}

// Module returns the module at path, or nil.
func (m *ModuleIndex) Module(lang ast.Language, root string, path []string) *Module {
	return m.modules[moduleKey(lang, root, path)]
}

func (m *ModuleIndex) ensure(lang ast.Language, root string, path []string) *Module {
	key := moduleKey(lang, root, path)
	mod, ok := m.modules[key]
	if !ok {
		mod = newModule(lang, root, append([]string(nil), path...))
		m.modules[key] = mod
	}
	return mod
}

// AddFile registers the modules, items and imports of one file.
//
// Inputs:
//   - file: The parsed file.
//   - entries: The file's entries from the function index.
func (m *ModuleIndex) AddFile(file *ast.FileAST, entries []*index.Entry) {
	lang := file.Language
	mp := index.ModulePathFor(file.Path, lang)
	if lang == ast.LanguageRust && mp.Crate != "" {
		m.crates[mp.Crate] = mp.Root
	}
	scoped := func(inner []string) []string {
		return append(append([]string{}, mp.Segments...), inner...)
	}

	base := m.ensure(lang, mp.Root, mp.Segments)
	base.Files = append(base.Files, file.Path)
	if lang == ast.LanguagePython && index.IsPackageInit(file.Path) {
		base.IsPackage = true
	}
	for _, md := range file.Modules {
		mod := m.ensure(lang, mp.Root, scoped(md.Path))
		mod.IsTest = mod.IsTest || md.IsTest
	}
	for _, e := range entries {
		mod := m.ensure(lang, mp.Root, e.Module)
		if e.Owner == "" {
			mod.functions[e.BaseName] = append(mod.functions[e.BaseName], e)
			continue
		}
		mod.methods[methodKey(e.Owner, e.BaseName)] = append(mod.methods[methodKey(e.Owner, e.BaseName)], e)
		k := ownerKey(lang, mp.Root, e.Owner, e.BaseName)
		m.owners[k] = append(m.owners[k], e)
	}
	for _, t := range file.Types {
		m.ensure(lang, mp.Root, scoped(t.Module)).types[t.Name] = true
	}
	for _, t := range file.Traits {
		m.ensure(lang, mp.Root, scoped(t.Module)).types[t.Name] = true
	}
	for _, u := range file.Uses {
		mod := m.ensure(lang, mp.Root, scoped(u.Module))
		u.Module = nil
		mod.uses = append(mod.uses, u)
	}
	if lang == ast.LanguagePython {
		m.suffix = make(map[string]*Module)
	}
}

// Methods returns the methods named method on owner defined anywhere in the
// crate or Python project rooted at root.
func (m *ModuleIndex) Methods(lang ast.Language, root, owner, method string) []*index.Entry {
	return m.owners[ownerKey(lang, root, owner, method)]
}

// Resolve resolves a call path as written inside the caller's module.
//
// Description:
//
//	Strategies, in order: crate/self/super anchors, imports (aliased or
//	not), items of the caller's module and its child modules, glob
//	imports, other crates by name, and finally paths relative to the crate
//	root (Rust) or absolute dotted paths (Python). Public re-exports are
//	followed transitively with a visited set. Generic arguments are
//	ignored.
//
// Outputs:
//   - []*index.Entry: Definitions the path names, sorted. Nil if none.
func (m *ModuleIndex) Resolve(caller *index.Entry, target string) []*index.Entry {
	lang := caller.Language
	segs := splitClean(ast.StripGenerics(target), lang)
	if len(segs) == 0 {
		return nil
	}
	l := &pathLookup{m: m, lang: lang, visited: make(map[string]bool)}
	root := index.ModulePathFor(caller.ID.File, lang).Root
	return sortedEntries(l.resolveIn(root, caller.Module, segs))
}

func splitClean(path string, lang ast.Language) []string {
	var out []string
	for _, s := range ast.SplitPath(path, lang) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// absPath is a path anchored at a crate root ("crate"-prefixed for Rust)
// or at the Python project root.
type absPath struct {
	root string
	segs []string
}

type pathLookup struct {
	m       *ModuleIndex
	lang    ast.Language
	visited map[string]bool
}

func concat(a []string, b ...string) []string {
	out := make([]string, 0, len(a)+len(b))
	return append(append(out, a...), b...)
}

func (l *pathLookup) resolveIn(root string, scope, segs []string) []*index.Entry {
	if abs, ok := l.anchored(root, scope, segs); ok {
		return l.lookup(abs)
	}
	first := segs[0]

	if mod := l.m.Module(l.lang, root, scope); mod != nil {
		for _, u := range mod.uses {
			if u.IsGlob || u.Alias != first {
				continue
			}
			for _, base := range l.usePaths(mod, u) {
				if es := l.lookup(absPath{base.root, concat(base.segs, segs[1:]...)}); len(es) > 0 {
					return es
				}
			}
		}

		if len(segs) == 1 {
			if es := l.item(mod, first); len(es) > 0 {
				return es
			}
		} else if es := l.lookup(absPath{root, concat(scope, segs...)}); len(es) > 0 {
			return es
		}

		for _, u := range mod.uses {
			if !u.IsGlob {
				continue
			}
			for _, base := range l.usePaths(mod, u) {
				if es := l.lookup(absPath{base.root, concat(base.segs, segs...)}); len(es) > 0 {
					return es
				}
			}
		}
	}

	if len(segs) < 2 {
		return nil
	}
	if l.lang == ast.LanguagePython {
		return l.lookup(absPath{"", segs})
	}
	if other, ok := l.m.crates[first]; ok {
		if es := l.lookup(absPath{other, concat([]string{index.CrateKeyword}, segs[1:]...)}); len(es) > 0 {
			return es
		}
	}
	return l.lookup(absPath{root, concat([]string{index.CrateKeyword}, segs...)})
}

// anchored handles Rust paths starting with crate, self or super.
func (l *pathLookup) anchored(root string, scope, segs []string) (absPath, bool) {
	if l.lang != ast.LanguageRust || len(segs) == 0 {
		return absPath{}, false
	}
	switch segs[0] {
	case index.CrateKeyword:
		return absPath{root, concat([]string{index.CrateKeyword}, segs[1:]...)}, true
	case "self":
		return absPath{root, concat(scope, segs[1:]...)}, true
	case "super":
		cur := scope
		i := 0
		for i < len(segs) && segs[i] == "super" {
			if len(cur) > 1 {
				cur = cur[:len(cur)-1]
			}
			i++
		}
		return absPath{root, concat(cur, segs[i:]...)}, true
	}
	return absPath{}, false
}

// usePaths returns the candidate absolute paths an import names, most
// specific first.
func (l *pathLookup) usePaths(mod *Module, u ast.UseDecl) []absPath {
	if l.lang == ast.LanguagePython {
		if u.Level > 0 {
			base := mod.Path
			if !mod.IsPackage && len(base) > 0 {
				base = base[:len(base)-1]
			}
			for i := 1; i < u.Level && len(base) > 0; i++ {
				base = base[:len(base)-1]
			}
			return []absPath{{"", concat(base, u.Path...)}}
		}
		return []absPath{{"", u.Path}}
	}

	if len(u.Path) == 0 {
		return nil
	}
	if abs, ok := l.anchored(mod.Root, mod.Path, u.Path); ok {
		return []absPath{abs}
	}
	if other, ok := l.m.crates[u.Path[0]]; ok {
		return []absPath{{other, concat([]string{index.CrateKeyword}, u.Path[1:]...)}}
	}
	return []absPath{
		{mod.Root, concat(mod.Path, u.Path...)},
		{mod.Root, concat([]string{index.CrateKeyword}, u.Path...)},
	}
}

// lookup finds the definitions an absolute path names: a function of a
// module, or a method of a type in a module.
func (l *pathLookup) lookup(abs absPath) []*index.Entry {
	key := abs.root + "|" + strings.Join(abs.segs, "/")
	if l.visited[key] {
		return nil
	}
	l.visited[key] = true

	n := len(abs.segs)
	if n >= 2 {
		if mod := l.find(abs.root, abs.segs[:n-1]); mod != nil {
			if es := l.item(mod, abs.segs[n-1]); len(es) > 0 {
				return es
			}
		}
	}
	if n >= 3 {
		if mod := l.find(abs.root, abs.segs[:n-2]); mod != nil {
			if es := l.method(mod, abs.segs[n-2], abs.segs[n-1]); len(es) > 0 {
				return es
			}
		}
	}
	return nil
}

// item finds a function, or a Python class constructor, visible in mod
// under name, following re-exports.
func (l *pathLookup) item(mod *Module, name string) []*index.Entry {
	if es := mod.functions[name]; len(es) > 0 {
		return es
	}
	if l.lang == ast.LanguagePython && mod.types[name] {
		if es := mod.methods[methodKey(name, "__init__")]; len(es) > 0 {
			return es
		}
	}
	for _, u := range mod.uses {
		if u.IsGlob || u.Alias != name || !l.exported(u) {
			continue
		}
		for _, base := range l.usePaths(mod, u) {
			if es := l.lookup(base); len(es) > 0 {
				return es
			}
			if l.lang == ast.LanguagePython {
				if es := l.lookup(absPath{base.root, concat(base.segs, "__init__")}); len(es) > 0 {
					return es
				}
			}
		}
	}
	for _, u := range mod.uses {
		if !u.IsGlob || !l.exported(u) {
			continue
		}
		for _, base := range l.usePaths(mod, u) {
			if es := l.lookup(absPath{base.root, concat(base.segs, name)}); len(es) > 0 {
				return es
			}
		}
	}
	return nil
}

// method finds typ::name for a type visible in mod.
func (l *pathLookup) method(mod *Module, typ, name string) []*index.Entry {
	if es := mod.methods[methodKey(typ, name)]; len(es) > 0 {
		return es
	}
	for _, u := range mod.uses {
		if u.IsGlob || u.Alias != typ || !l.exported(u) {
			continue
		}
		for _, base := range l.usePaths(mod, u) {
			if es := l.lookup(absPath{base.root, concat(base.segs, name)}); len(es) > 0 {
				return es
			}
		}
	}
	// Rust impl blocks may live in another module of the same crate.
	if mod.types[typ] {
		return l.m.Methods(l.lang, mod.Root, typ, name)
	}
	return nil
}

func (l *pathLookup) exported(u ast.UseDecl) bool {
	return l.lang == ast.LanguagePython || u.IsPublic
}

// find returns the module at path. Python paths that match no module fall
// back to the unique module whose path ends with them.
func (l *pathLookup) find(root string, path []string) *Module {
	if mod := l.m.Module(l.lang, root, path); mod != nil {
		return mod
	}
	if l.lang != ast.LanguagePython || len(path) == 0 {
		return nil
	}
	key := strings.Join(path, "/")
	if mod, ok := l.m.suffix[key]; ok {
		return mod
	}
	var found *Module
	ambiguous := false
	for _, mod := range l.m.modules {
		if mod.Language != ast.LanguagePython || !index.HasSuffix(mod.Path, path) {
			continue
		}
		if found != nil {
			ambiguous = true
			break
		}
		found = mod
	}
	if ambiguous {
		found = nil
	}
	l.m.suffix[key] = found
	return found
}

func sortedEntries(entries []*index.Entry) []*index.Entry {
	if len(entries) == 0 {
		return nil
	}
	seen := make(map[graph.FunctionID]bool, len(entries))
	out := make([]*index.Entry, 0, len(entries))
	for _, e := range entries {
		if !seen[e.ID] {
			seen[e.ID] = true
			out = append(out, e)
		}
	}
	index.SortEntries(out)
	return out
}

// entryIDs returns the IDs of entries.
func entryIDs(entries []*index.Entry) []graph.FunctionID {
	ids := make([]graph.FunctionID, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return uniqueIDs(ids)
}
