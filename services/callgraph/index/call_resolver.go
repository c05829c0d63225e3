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
	"strings"

	"github.com/AleutianAI/callgraph/services/callgraph/ast"
	"github.com/AleutianAI/callgraph/services/callgraph/graph"
)

// Call is a call site described by names only.
type Call struct {
	CallerFile string

	// CallerOwner is the type owning the calling method, if any.
	CallerOwner string

	// Target is the callee path for path calls and the method name for
	// method calls.
	Target string

	Receiver     string
	ReceiverType string
	IsMethod     bool

	// SameFileOnly restricts candidates to CallerFile.
	SameFileOnly bool
}

// CallResolver matches call sites to indexed functions by name.
//
// Description:
//
//	Resolution uses exact, qualified-suffix and base-name matching, then
//	picks one candidate: same-file definitions first for unqualified
//	names, then the least qualified name, then non-generic definitions.
//	Candidates spread over different files with none in the caller's file
//	are ambiguous and resolve to nothing. Method calls on an unknown receiver
//	whose name belongs to a standard trait (clone, map, unwrap, ...) are
//	not resolved at all.
//
// Thread Safety: Safe for concurrent use if the index is not being written.
type CallResolver struct {
	idx *FunctionIndex
}

// NewCallResolver creates a resolver over idx.
func NewCallResolver(idx *FunctionIndex) *CallResolver {
	return &CallResolver{idx: idx}
}

// ResolvePending implements graph.PendingResolver.
func (r *CallResolver) ResolvePending(p graph.PendingCall) []graph.FunctionID {
	id, ok := r.Resolve(Call{
		CallerFile:   p.Caller.File,
		CallerOwner:  p.Caller.Owner(),
		Target:       p.Target,
		Receiver:     p.Receiver,
		ReceiverType: p.ReceiverType,
		IsMethod:     p.IsMethod,
	})
	if !ok {
		return nil
	}
	return []graph.FunctionID{id}
}

// Resolve returns the single best definition for c.
func (r *CallResolver) Resolve(c Call) (graph.FunctionID, bool) {
	lang := ast.LanguageForPath(c.CallerFile)
	target := NormalizePathPrefix(ast.StripGenerics(c.Target))
	if target == "" {
		return graph.FunctionID{}, false
	}

	var candidates []*Entry
	sameFileHint := false
	if c.IsMethod {
		recvType := c.ReceiverType
		if recvType == "" && IsSelfReceiver(c.Receiver) {
			recvType = c.CallerOwner
		}
		if recvType != "" {
			candidates = r.idx.Method(recvType, target)
			sameFileHint = true
		} else {
			if lang != ast.LanguagePython && IsStdTraitMethod(target) {
				return graph.FunctionID{}, false
			}
			for _, e := range r.idx.ByBaseName(target) {
				if e.IsMethod() {
					candidates = append(candidates, e)
				}
			}
		}
	} else {
		segs := ast.SplitPath(target, lang)
		if len(segs) == 1 {
			sameFileHint = true
			for _, e := range r.idx.ByName(target) {
				if !e.IsMethod() {
					candidates = append(candidates, e)
				}
			}
			if len(candidates) == 0 && lang == ast.LanguagePython {
				candidates = r.idx.Method(target, "__init__")
			}
		} else {
			for _, e := range r.idx.ByBaseName(segs[len(segs)-1]) {
				if HasSuffix(e.Path, segs) {
					candidates = append(candidates, e)
				}
			}
		}
	}

	if c.SameFileOnly {
		candidates = filterFile(candidates, c.CallerFile)
	}
	best := SelectBest(candidates, c.CallerFile, sameFileHint)
	if best == nil {
		return graph.FunctionID{}, false
	}
	return best.ID, true
}

// SelectBest picks one candidate or returns nil when the choice is
// ambiguous.
func SelectBest(candidates []*Entry, callerFile string, sameFileHint bool) *Entry {
	candidates = dedupe(candidates)
	switch len(candidates) {
	case 0:
		return nil
	case 1:
		return candidates[0]
	}

	var local []*Entry
	if sameFileHint {
		local = filterFile(candidates, callerFile)
	}
	if len(local) > 0 {
		candidates = local
	} else if spansFiles(candidates) {
		return nil
	}

	minQual := -1
	for _, e := range candidates {
		if q := qualification(e.ID.Name); minQual < 0 || q < minQual {
			minQual = q
		}
	}
	var narrowed []*Entry
	for _, e := range candidates {
		if qualification(e.ID.Name) == minQual {
			narrowed = append(narrowed, e)
		}
	}

	var nonGeneric []*Entry
	for _, e := range narrowed {
		if !e.Generic {
			nonGeneric = append(nonGeneric, e)
		}
	}
	if len(nonGeneric) > 0 {
		narrowed = nonGeneric
	}
	SortEntries(narrowed)
	return narrowed[0]
}

func spansFiles(entries []*Entry) bool {
	for _, e := range entries[1:] {
		if e.ID.File != entries[0].ID.File {
			return true
		}
	}
	return false
}

func qualification(name string) int {
	return strings.Count(name, "::") + strings.Count(name, ".")
}

func dedupe(entries []*Entry) []*Entry {
	if len(entries) < 2 {
		return entries
	}
	seen := make(map[graph.FunctionID]struct{}, len(entries))
	out := make([]*Entry, 0, len(entries))
	for _, e := range entries {
		if _, ok := seen[e.ID]; ok {
			continue
		}
		seen[e.ID] = struct{}{}
		out = append(out, e)
	}
	return out
}

func filterFile(entries []*Entry, file string) []*Entry {
	var out []*Entry
	for _, e := range entries {
		if e.ID.File == file {
			out = append(out, e)
		}
	}
	return out
}

// HasSuffix reports whether path ends with suffix, segment by segment.
func HasSuffix(path, suffix []string) bool {
	if len(suffix) == 0 || len(suffix) > len(path) {
		return false
	}
	off := len(path) - len(suffix)
	for i, s := range suffix {
		if path[off+i] != s {
			return false
		}
	}
	return true
}

// NormalizePathPrefix drops leading crate, self and super segments.
func NormalizePathPrefix(p string) string {
	for {
		switch {
		case strings.HasPrefix(p, "crate::"):
			p = p[len("crate::"):]
		case strings.HasPrefix(p, "self::"):
			p = p[len("self::"):]
		case strings.HasPrefix(p, "super::"):
			p = p[len("super::"):]
		default:
			return p
		}
	}
}

// IsSelfReceiver reports whether a receiver expression is the method's own
// instance or class.
func IsSelfReceiver(receiver string) bool {
	return receiver == "self" || receiver == "cls" || receiver == "Self"
}

var stdTraitMethods = map[string]bool{
	// Iterator
	"any": true, "all": true, "map": true, "filter": true, "fold": true, "reduce": true,
	"collect": true, "find": true, "position": true, "enumerate": true, "zip": true,
	"chain": true, "flat_map": true, "flatten": true, "skip": true, "take": true,
	"cloned": true, "copied": true, "cycle": true, "rev": true, "peekable": true,
	"for_each": true, "nth": true, "last": true, "step_by": true, "scan": true,
	"fuse": true, "inspect": true, "partition": true, "try_fold": true, "try_for_each": true,
	"iter": true, "into_iter": true, "iter_mut": true, "next": true,

	// Option and Result
	"unwrap": true, "expect": true, "unwrap_or": true, "unwrap_or_else": true,
	"and_then": true, "or_else": true, "is_some": true, "is_none": true,
	"is_ok": true, "is_err": true, "as_ref": true, "as_mut": true, "ok": true, "err": true,
	"transpose": true, "unwrap_or_default": true, "map_err": true,

	// Common traits
	"clone": true, "to_string": true, "to_owned": true, "into": true, "from": true,
	"default": true, "eq": true, "ne": true, "cmp": true, "partial_cmp": true,
	"hash": true, "fmt": true, "display": true,
}

// IsStdTraitMethod reports whether name is a method of a standard library
// trait or container that is almost never a project function.
func IsStdTraitMethod(name string) bool {
	return stdTraitMethods[name]
}
