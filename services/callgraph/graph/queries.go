// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"strings"
)

// MaxDelegatorComplexity is the highest complexity a function may have to
// be reported as a delegator.
const MaxDelegatorComplexity = 3

// matchesName reports whether a node name matches a lookup name. The lookup
// matches the full name, or a trailing path ("helper" matches
// "Parser::helper" and "Parser.helper"; "Parser::helper" matches itself).
func matchesName(nodeName, name string) bool {
	if nodeName == name {
		return true
	}
	return strings.HasSuffix(nodeName, "::"+name) || strings.HasSuffix(nodeName, "."+name)
}

// FindByName returns every function whose name matches, ignoring file and
// line.
func (g *CallGraph) FindByName(name string) []FunctionID {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []FunctionID
	for id := range g.nodes {
		if matchesName(id.Name, name) {
			out = append(out, id)
		}
	}
	sortIDs(out)
	return out
}

// CallersByName returns the callers of every function matching name,
// ignoring file and line.
func (g *CallGraph) CallersByName(name string) []FunctionID {
	g.mu.RLock()
	defer g.mu.RUnlock()

	seen := make(map[FunctionID]struct{})
	for id := range g.nodes {
		if !matchesName(id.Name, name) {
			continue
		}
		for caller := range g.callers[id] {
			seen[caller] = struct{}{}
		}
	}
	return sortedSet(seen)
}

// CalleesByName returns the callees of every function matching name.
func (g *CallGraph) CalleesByName(name string) []FunctionID {
	g.mu.RLock()
	defer g.mu.RUnlock()

	seen := make(map[FunctionID]struct{})
	for id := range g.nodes {
		if !matchesName(id.Name, name) {
			continue
		}
		for callee := range g.callees[id] {
			seen[callee] = struct{}{}
		}
	}
	return sortedSet(seen)
}

// FindTestOnlyFunctions returns non-test functions that are reachable from
// tests but not from production code.
//
// Description:
//
//	Production roots are entry points plus every non-test function with no
//	callers. A function is test-only when a test reaches it and no
//	production root does. Both traversals keep a visited set, so cycles
//	terminate.
//
// Outputs:
//   - []FunctionID: Sorted test-only functions. Never nil.
func (g *CallGraph) FindTestOnlyFunctions() []FunctionID {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var tests, roots []FunctionID
	for id, n := range g.nodes {
		if n.IsTest {
			tests = append(tests, id)
			continue
		}
		if n.IsEntryPoint || len(g.callers[id]) == 0 {
			roots = append(roots, id)
		}
	}

	fromTests := g.reachLocked(tests, g.callees, 0)
	fromProd := g.reachLocked(roots, g.callees, 0)

	out := make([]FunctionID, 0)
	for id := range fromTests {
		if g.nodes[id].IsTest {
			continue
		}
		if _, ok := fromProd[id]; ok {
			continue
		}
		out = append(out, id)
	}
	sortIDs(out)
	return out
}

// reachLocked walks adjacency breadth-first from starts and returns every
// visited node with its depth. Starts are included at depth 0. A maxDepth of
// zero or less means unlimited.
func (g *CallGraph) reachLocked(starts []FunctionID, adj map[FunctionID]map[FunctionID]struct{}, maxDepth int) map[FunctionID]int {
	visited := make(map[FunctionID]int, len(starts))
	queue := make([]FunctionID, 0, len(starts))
	for _, s := range starts {
		if _, ok := visited[s]; ok {
			continue
		}
		visited[s] = 0
		queue = append(queue, s)
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		depth := visited[cur]
		if maxDepth > 0 && depth >= maxDepth {
			continue
		}
		for next := range adj[cur] {
			if _, ok := visited[next]; ok {
				continue
			}
			visited[next] = depth + 1
			queue = append(queue, next)
		}
	}
	return visited
}

// TransitiveCallees returns every function reachable from id through call
// edges, up to maxDepth hops (unlimited when maxDepth <= 0). id itself is
// only included when it is reachable through a cycle.
func (g *CallGraph) TransitiveCallees(id FunctionID, maxDepth int) []FunctionID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.transitiveLocked(id, g.callees, maxDepth)
}

// TransitiveCallers returns every function that reaches id, up to maxDepth
// hops (unlimited when maxDepth <= 0).
func (g *CallGraph) TransitiveCallers(id FunctionID, maxDepth int) []FunctionID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.transitiveLocked(id, g.callers, maxDepth)
}

func (g *CallGraph) transitiveLocked(id FunctionID, adj map[FunctionID]map[FunctionID]struct{}, maxDepth int) []FunctionID {
	visited := g.reachLocked([]FunctionID{id}, adj, maxDepth)
	set := make(map[FunctionID]struct{}, len(visited))
	for v, depth := range visited {
		if v != id {
			set[v] = struct{}{}
		}
		if maxDepth > 0 && depth >= maxDepth {
			continue
		}
		if _, ok := adj[v][id]; ok {
			set[id] = struct{}{}
		}
	}
	return sortedSet(set)
}

// FindEntryPoints returns the functions flagged as entry points.
func (g *CallGraph) FindEntryPoints() []FunctionID {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]FunctionID, 0)
	for id, n := range g.nodes {
		if n.IsEntryPoint {
			out = append(out, id)
		}
	}
	sortIDs(out)
	return out
}

// IsTestHelper reports whether id is a non-test function whose callers are
// all tests.
func (g *CallGraph) IsTestHelper(id FunctionID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n, ok := g.nodes[id]
	if !ok || n.IsTest || len(g.callers[id]) == 0 {
		return false
	}
	for caller := range g.callers[id] {
		if c, ok := g.nodes[caller]; !ok || !c.IsTest {
			return false
		}
	}
	return true
}

// Delegation describes a simple function that forwards work to more
// complex callees.
type Delegation struct {
	Function  FunctionID   `json:"function"`
	Delegates []FunctionID `json:"delegates"`
}

// DetectDelegation reports whether id is a low-complexity function that
// delegates to callees more complex than itself.
func (g *CallGraph) DetectDelegation(id FunctionID) (Delegation, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n, ok := g.nodes[id]
	if !ok || n.Complexity > MaxDelegatorComplexity {
		return Delegation{}, false
	}
	d := Delegation{Function: id}
	for callee := range g.callees[id] {
		if c, ok := g.nodes[callee]; ok && c.Complexity > n.Complexity {
			d.Delegates = append(d.Delegates, callee)
		}
	}
	if len(d.Delegates) == 0 {
		return Delegation{}, false
	}
	sortIDs(d.Delegates)
	return d, true
}

// FindFunctionAt returns the innermost function in file whose span covers
// line.
func (g *CallGraph) FindFunctionAt(file string, line int) (FunctionID, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var best FunctionID
	found := false
	for id, n := range g.nodes {
		if id.File != file || line < id.Line {
			continue
		}
		length := n.Length
		if length < 1 {
			length = 1
		}
		if line > id.Line+length-1 {
			continue
		}
		if !found || id.Line > best.Line || (id.Line == best.Line && id.Name < best.Name) {
			best = id
			found = true
		}
	}
	return best, found
}
