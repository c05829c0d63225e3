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
	"sort"
	"sync"
)

// CallGraph is a directed graph of function definitions and call edges.
//
// Description:
//
//	Nodes are keyed by FunctionID and edges are deduplicated by
//	(caller, callee). The graph only grows: there is no operation that
//	removes a node or an edge. Forward and reverse adjacency are kept in
//	step so that an edge (a, b) exists exactly when b is a callee of a and
//	a is a caller of b.
//
// Thread Safety:
//
//	All methods are safe for concurrent use. Writers take an exclusive
//	lock; queries take a shared lock.
type CallGraph struct {
	mu      sync.RWMutex
	nodes   map[FunctionID]*FunctionNode
	edges   map[edgeKey]CallType
	callees map[FunctionID]map[FunctionID]struct{}
	callers map[FunctionID]map[FunctionID]struct{}
	pending map[PendingCall]struct{}
}

// NewCallGraph creates an empty graph.
func NewCallGraph() *CallGraph {
	return &CallGraph{
		nodes:   make(map[FunctionID]*FunctionNode),
		edges:   make(map[edgeKey]CallType),
		callees: make(map[FunctionID]map[FunctionID]struct{}),
		callers: make(map[FunctionID]map[FunctionID]struct{}),
		pending: make(map[PendingCall]struct{}),
	}
}

// AddFunction adds a node. A node seen again keeps its identity; flags are
// combined with OR and sizes with max so that the outcome does not depend
// on the order definitions are seen in.
//
// Returns true if the node was new.
func (g *CallGraph) AddFunction(node FunctionNode) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.addFunctionLocked(node)
}

func (g *CallGraph) addFunctionLocked(node FunctionNode) bool {
	existing, ok := g.nodes[node.ID]
	if !ok {
		n := node
		g.nodes[node.ID] = &n
		return true
	}
	existing.IsEntryPoint = existing.IsEntryPoint || node.IsEntryPoint
	existing.IsTest = existing.IsTest || node.IsTest
	if node.Complexity > existing.Complexity {
		existing.Complexity = node.Complexity
	}
	if node.Length > existing.Length {
		existing.Length = node.Length
	}
	return false
}

// AddCall adds an edge. Endpoints missing from the graph are added as bare
// nodes. When the edge already exists the lower CallType is kept, so
// CallDirect wins over any indirect classification.
//
// Returns true if the edge was new.
func (g *CallGraph) AddCall(edge CallEdge) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.addCallLocked(edge.Caller, edge.Callee, edge.Type)
}

func (g *CallGraph) addCallLocked(caller, callee FunctionID, typ CallType) bool {
	key := edgeKey{caller: caller, callee: callee}
	if existing, ok := g.edges[key]; ok {
		if typ < existing {
			g.edges[key] = typ
		}
		return false
	}
	if _, ok := g.nodes[caller]; !ok {
		g.nodes[caller] = &FunctionNode{ID: caller}
	}
	if _, ok := g.nodes[callee]; !ok {
		g.nodes[callee] = &FunctionNode{ID: callee}
	}
	g.edges[key] = typ
	addAdjacent(g.callees, caller, callee)
	addAdjacent(g.callers, callee, caller)
	return true
}

func addAdjacent(m map[FunctionID]map[FunctionID]struct{}, from, to FunctionID) {
	set, ok := m[from]
	if !ok {
		set = make(map[FunctionID]struct{})
		m[from] = set
	}
	set[to] = struct{}{}
}

// AddPending records an unresolved call site.
func (g *CallGraph) AddPending(p PendingCall) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pending[p] = struct{}{}
}

// Pending returns the unresolved call sites in deterministic order.
func (g *CallGraph) Pending() []PendingCall {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]PendingCall, 0, len(g.pending))
	for p := range g.pending {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// PendingCount returns the number of unresolved call sites.
func (g *CallGraph) PendingCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.pending)
}

// Node returns the node for id.
func (g *CallGraph) Node(id FunctionID) (FunctionNode, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	if !ok {
		return FunctionNode{}, false
	}
	return *n, true
}

// HasFunction reports whether id is a node.
func (g *CallGraph) HasFunction(id FunctionID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.nodes[id]
	return ok
}

// HasEdge reports whether the edge (caller, callee) exists.
func (g *CallGraph) HasEdge(caller, callee FunctionID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.edges[edgeKey{caller: caller, callee: callee}]
	return ok
}

// EdgeType returns the call type of an edge.
func (g *CallGraph) EdgeType(caller, callee FunctionID) (CallType, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	t, ok := g.edges[edgeKey{caller: caller, callee: callee}]
	return t, ok
}

// NodeCount returns the number of nodes.
func (g *CallGraph) NodeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// EdgeCount returns the number of edges.
func (g *CallGraph) EdgeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.edges)
}

// Nodes returns all nodes ordered by file, line and name.
func (g *CallGraph) Nodes() []FunctionNode {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodesLocked()
}

func (g *CallGraph) nodesLocked() []FunctionNode {
	out := make([]FunctionNode, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, *n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Less(out[j].ID) })
	return out
}

// Edges returns all edges ordered by caller then callee.
func (g *CallGraph) Edges() []CallEdge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.edgesLocked()
}

func (g *CallGraph) edgesLocked() []CallEdge {
	out := make([]CallEdge, 0, len(g.edges))
	for k, t := range g.edges {
		out = append(out, CallEdge{Caller: k.caller, Callee: k.callee, Type: t})
	}
	sortEdges(out)
	return out
}

func sortEdges(edges []CallEdge) {
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Caller != edges[j].Caller {
			return edges[i].Caller.Less(edges[j].Caller)
		}
		return edges[i].Callee.Less(edges[j].Callee)
	})
}

// Callees returns the functions id calls, sorted.
func (g *CallGraph) Callees(id FunctionID) []FunctionID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedSet(g.callees[id])
}

// Callers returns the functions that call id, sorted.
func (g *CallGraph) Callers(id FunctionID) []FunctionID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedSet(g.callers[id])
}

func sortedSet(set map[FunctionID]struct{}) []FunctionID {
	out := make([]FunctionID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sortIDs(out)
	return out
}

func sortIDs(ids []FunctionID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
}

// Clone returns an independent copy of the graph, pending calls included.
func (g *CallGraph) Clone() *CallGraph {
	out := NewCallGraph()
	out.Merge(g)
	return out
}
