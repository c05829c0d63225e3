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
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// SchemaVersion is the version of the serialization schema.
// Increment when the serialization format changes in a breaking way.
const SchemaVersion = "1.0"

// SerializableGraph is the JSON representation of a CallGraph.
//
// Description:
//
//	Nodes, edges and pending calls are sorted so that two equal graphs
//	always encode to the same bytes. GraphHash is computed over the same
//	ordering and can be compared without decoding the whole payload.
//
// Thread Safety: SerializableGraph is a value type with no internal state.
type SerializableGraph struct {
	SchemaVersion string `json:"schema_version"`

	// GraphHash is the hex sha256 of the node and edge sets.
	GraphHash string `json:"graph_hash"`

	Nodes []FunctionNode `json:"nodes"`

	Edges []SerializableEdge `json:"edges"`

	Pending []PendingCall `json:"pending,omitempty"`
}

// SerializableEdge is the JSON representation of a CallEdge.
type SerializableEdge struct {
	Caller FunctionID `json:"caller"`
	Callee FunctionID `json:"callee"`

	// Type is the human-readable call type ("direct", "delegate", ...).
	Type string `json:"type"`
}

// ToSerializable converts the graph to its JSON representation.
//
// Outputs:
//   - *SerializableGraph: Never nil. A nil graph yields an empty payload.
//
// Thread Safety: Safe for concurrent use.
func (g *CallGraph) ToSerializable() *SerializableGraph {
	if g == nil {
		return &SerializableGraph{
			SchemaVersion: SchemaVersion,
			GraphHash:     hashGraph(nil, nil),
			Nodes:         []FunctionNode{},
			Edges:         []SerializableEdge{},
		}
	}

	g.mu.RLock()
	nodes := g.nodesLocked()
	edges := g.edgesLocked()
	g.mu.RUnlock()

	out := &SerializableGraph{
		SchemaVersion: SchemaVersion,
		GraphHash:     hashGraph(nodes, edges),
		Nodes:         nodes,
		Edges:         make([]SerializableEdge, 0, len(edges)),
		Pending:       g.Pending(),
	}
	for _, e := range edges {
		out.Edges = append(out.Edges, SerializableEdge{
			Caller: e.Caller,
			Callee: e.Callee,
			Type:   e.Type.String(),
		})
	}
	return out
}

// FromSerializable rebuilds a CallGraph.
//
// Description:
//
//	Nodes and edges are replayed through AddFunction and AddCall so the
//	adjacency indexes are rebuilt by the normal construction path.
//
// Outputs:
//   - *CallGraph: The rebuilt graph.
//   - error: ErrUnsupportedSchema on a version mismatch, ErrInvalidGraph if
//     sg is nil or an edge carries an unknown call type.
func FromSerializable(sg *SerializableGraph) (*CallGraph, error) {
	if sg == nil {
		return nil, fmt.Errorf("%w: nil serializable graph", ErrInvalidGraph)
	}
	if sg.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("%w: got %q, want %q", ErrUnsupportedSchema, sg.SchemaVersion, SchemaVersion)
	}

	g := NewCallGraph()
	for _, n := range sg.Nodes {
		g.AddFunction(n)
	}
	for i, se := range sg.Edges {
		typ, err := ParseCallType(se.Type)
		if err != nil {
			return nil, fmt.Errorf("edge %d (%s -> %s): %w", i, se.Caller, se.Callee, err)
		}
		g.AddCall(CallEdge{Caller: se.Caller, Callee: se.Callee, Type: typ})
	}
	for _, p := range sg.Pending {
		g.AddPending(p)
	}
	return g, nil
}

// Hash returns a deterministic hex digest of the node and edge sets.
// Pending calls are not part of the hash.
func (g *CallGraph) Hash() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return hashGraph(g.nodesLocked(), g.edgesLocked())
}

func hashGraph(nodes []FunctionNode, edges []CallEdge) string {
	h := sha256.New()
	for _, n := range nodes {
		fmt.Fprintf(h, "n|%s|%t|%t|%d|%d\n", n.ID, n.IsEntryPoint, n.IsTest, n.Complexity, n.Length)
	}
	for _, e := range edges {
		fmt.Fprintf(h, "e|%s|%s|%d\n", e.Caller, e.Callee, e.Type)
	}
	return hex.EncodeToString(h.Sum(nil))
}
