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
	"fmt"
	"sort"
	"sync"

	"github.com/AleutianAI/callgraph/services/callgraph/ast"
	"github.com/AleutianAI/callgraph/services/callgraph/graph"
)

// DefaultMaxFunctions is the default capacity of a FunctionIndex.
const DefaultMaxFunctions = 1_000_000

// FunctionIndexOptions configures FunctionIndex limits.
type FunctionIndexOptions struct {
	// MaxFunctions is the maximum number of functions the index can hold.
	// Adding past it returns ErrMaxFunctionsExceeded.
	// Default: 1,000,000
	MaxFunctions int
}

// FunctionIndexOption is a functional option for configuring FunctionIndex.
type FunctionIndexOption func(*FunctionIndexOptions)

// WithMaxFunctions sets the maximum number of functions the index can hold.
func WithMaxFunctions(max int) FunctionIndexOption {
	return func(o *FunctionIndexOptions) {
		o.MaxFunctions = max
	}
}

// Entry is one indexed function definition.
type Entry struct {
	ID       graph.FunctionID
	Language ast.Language

	// Module is the file module path plus any inline module scope.
	Module []string

	// Path is Module followed by the segments of the function name, e.g.
	// ["crate", "net", "Client", "send"].
	Path []string

	Owner    string
	Trait    string
	BaseName string

	// InTraitDef marks a default method body inside a trait declaration.
	InTraitDef bool

	Visibility ast.Visibility

	// Generic marks functions declaring bounded type parameters.
	Generic bool

	IsAsync bool
}

// IsMethod reports whether the entry is defined on a type or trait.
func (e *Entry) IsMethod() bool {
	return e.Owner != ""
}

// FunctionIndex provides lookups of function definitions by several keys.
//
// The index maintains these maps:
//   - byID: primary index
//   - byName: local name ("helper", "Type::method", "Class.method")
//   - byBase: last name segment
//   - byFile: defining file
//   - byOwner: owner type or trait
//
// Thread Safety:
//
//	FunctionIndex is safe for concurrent use. The resolution phases read it
//	from several goroutines while nothing writes.
type FunctionIndex struct {
	mu sync.RWMutex

	byID    map[graph.FunctionID]*Entry
	byName  map[string][]*Entry
	byBase  map[string][]*Entry
	byFile  map[string][]*Entry
	byOwner map[string][]*Entry

	options FunctionIndexOptions
}

// NewFunctionIndex creates an empty index.
//
// Example:
//
//	idx := NewFunctionIndex()
//	idx := NewFunctionIndex(WithMaxFunctions(100_000))
func NewFunctionIndex(opts ...FunctionIndexOption) *FunctionIndex {
	options := FunctionIndexOptions{MaxFunctions: DefaultMaxFunctions}
	for _, opt := range opts {
		opt(&options)
	}
	return &FunctionIndex{
		byID:    make(map[graph.FunctionID]*Entry),
		byName:  make(map[string][]*Entry),
		byBase:  make(map[string][]*Entry),
		byFile:  make(map[string][]*Entry),
		byOwner: make(map[string][]*Entry),
		options: options,
	}
}

// FunctionIDFor returns the graph identity of a parsed function.
func FunctionIDFor(file string, fn *ast.Function) graph.FunctionID {
	return graph.FunctionID{File: file, Name: fn.Name, Line: fn.StartLine}
}

// AddFile indexes every function of a parsed file.
//
// Description:
//
//	Functions already present (same file, name and line) are skipped so a
//	file may be added more than once. The capacity check covers the whole
//	file; either all new functions are added or none.
//
// Outputs:
//   - int: Number of functions added.
//   - error: ErrInvalidFile or ErrMaxFunctionsExceeded.
//
// Thread Safety: Safe for concurrent use.
func (idx *FunctionIndex) AddFile(file *ast.FileAST) (int, error) {
	if file == nil || file.Path == "" {
		return 0, fmt.Errorf("%w: nil file or empty path", ErrInvalidFile)
	}
	mp := ModulePathFor(file.Path, file.Language)

	entries := make([]*Entry, 0, len(file.Functions))
	for _, fn := range file.Functions {
		module := append(append([]string{}, mp.Segments...), fn.Module...)
		entries = append(entries, &Entry{
			ID:         FunctionIDFor(file.Path, fn),
			Language:   file.Language,
			Module:     module,
			Path:       append(append([]string{}, module...), ast.SplitPath(fn.Name, file.Language)...),
			Owner:      fn.Owner,
			Trait:      fn.Trait,
			BaseName:   fn.BaseName,
			InTraitDef: fn.InTraitDef,
			Visibility: fn.Visibility,
			Generic:    len(fn.Bounds) > 0,
			IsAsync:    fn.IsAsync,
		})
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	fresh := entries[:0]
	for _, e := range entries {
		if _, ok := idx.byID[e.ID]; !ok {
			fresh = append(fresh, e)
		}
	}
	if len(idx.byID)+len(fresh) > idx.options.MaxFunctions {
		return 0, fmt.Errorf("%w: %d + %d > %d", ErrMaxFunctionsExceeded, len(idx.byID), len(fresh), idx.options.MaxFunctions)
	}
	for _, e := range fresh {
		idx.addLocked(e)
	}
	return len(fresh), nil
}

func (idx *FunctionIndex) addLocked(e *Entry) {
	idx.byID[e.ID] = e
	idx.byName[e.ID.Name] = append(idx.byName[e.ID.Name], e)
	idx.byBase[e.BaseName] = append(idx.byBase[e.BaseName], e)
	idx.byFile[e.ID.File] = append(idx.byFile[e.ID.File], e)
	if e.Owner != "" {
		idx.byOwner[e.Owner] = append(idx.byOwner[e.Owner], e)
	}
}

// Get returns the entry for id.
func (idx *FunctionIndex) Get(id graph.FunctionID) (*Entry, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	e, ok := idx.byID[id]
	return e, ok
}

// ByName returns entries whose local name equals name.
func (idx *FunctionIndex) ByName(name string) []*Entry {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return copyEntries(idx.byName[name])
}

// ByBaseName returns entries whose last name segment equals name.
func (idx *FunctionIndex) ByBaseName(name string) []*Entry {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return copyEntries(idx.byBase[name])
}

// ByFile returns the entries defined in file.
func (idx *FunctionIndex) ByFile(file string) []*Entry {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return copyEntries(idx.byFile[file])
}

// ByOwner returns the methods defined on a type or trait.
func (idx *FunctionIndex) ByOwner(owner string) []*Entry {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return copyEntries(idx.byOwner[owner])
}

// Method returns the methods named name on owner.
func (idx *FunctionIndex) Method(owner, name string) []*Entry {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	var out []*Entry
	for _, e := range idx.byOwner[owner] {
		if e.BaseName == name {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of indexed functions.
func (idx *FunctionIndex) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.byID)
}

// All returns every entry ordered by file, line and name.
func (idx *FunctionIndex) All() []*Entry {
	idx.mu.RLock()
	out := make([]*Entry, 0, len(idx.byID))
	for _, e := range idx.byID {
		out = append(out, e)
	}
	idx.mu.RUnlock()
	SortEntries(out)
	return out
}

// SortEntries orders entries by file, line and name.
func SortEntries(entries []*Entry) {
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i].ID, entries[j].ID
		if a.File != b.File {
			return a.File < b.File
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return a.Name < b.Name
	})
}

func copyEntries(src []*Entry) []*Entry {
	if len(src) == 0 {
		return nil
	}
	out := make([]*Entry, len(src))
	copy(out, src)
	return out
}
