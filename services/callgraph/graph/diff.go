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
	"fmt"
)

// GraphDiff contains the differences between two call graphs.
type GraphDiff struct {
	// NodesAdded are functions present in target but not in base.
	NodesAdded []FunctionID `json:"nodes_added"`

	// NodesRemoved are functions present in base but not in target.
	NodesRemoved []FunctionID `json:"nodes_removed"`

	// NodesModified are functions whose flags or size changed.
	NodesModified []FunctionID `json:"nodes_modified"`

	EdgesAdded   []CallEdge `json:"edges_added"`
	EdgesRemoved []CallEdge `json:"edges_removed"`

	Summary DiffSummary `json:"summary"`
}

// DiffSummary contains aggregate statistics about a diff.
type DiffSummary struct {
	// TotalChanges counts added, removed and modified nodes plus edge changes.
	TotalChanges int `json:"total_changes"`

	// FilesAffected is the number of distinct files with changed functions.
	FilesAffected int `json:"files_affected"`

	// ChangeRatio is the fraction of nodes that changed (0.0 to 1.0).
	ChangeRatio float64 `json:"change_ratio"`
}

// Empty reports whether the graphs were identical.
func (d *GraphDiff) Empty() bool {
	return d.Summary.TotalChanges == 0
}

// Diff computes the differences between two graphs.
//
// Description:
//
//	Nodes are compared by FunctionID, so a function that moved to another
//	line shows as a remove plus an add. Edges are compared by endpoints;
//	an edge whose call type changed shows as a remove plus an add.
//
// Inputs:
//   - base: The earlier graph. Must not be nil.
//   - target: The later graph. Must not be nil.
//
// Outputs:
//   - *GraphDiff: Sorted differences.
//   - error: ErrInvalidGraph if either graph is nil.
//
// Thread Safety: Safe for concurrent use.
func Diff(base, target *CallGraph) (*GraphDiff, error) {
	if base == nil || target == nil {
		return nil, fmt.Errorf("%w: diff requires two graphs", ErrInvalidGraph)
	}

	baseNodes := indexNodes(base.Nodes())
	targetNodes := indexNodes(target.Nodes())

	diff := &GraphDiff{
		NodesAdded:    []FunctionID{},
		NodesRemoved:  []FunctionID{},
		NodesModified: []FunctionID{},
		EdgesAdded:    []CallEdge{},
		EdgesRemoved:  []CallEdge{},
	}
	affectedFiles := make(map[string]struct{})

	for id, tn := range targetNodes {
		bn, ok := baseNodes[id]
		if !ok {
			diff.NodesAdded = append(diff.NodesAdded, id)
			affectedFiles[id.File] = struct{}{}
			continue
		}
		if bn != tn {
			diff.NodesModified = append(diff.NodesModified, id)
			affectedFiles[id.File] = struct{}{}
		}
	}
	for id := range baseNodes {
		if _, ok := targetNodes[id]; !ok {
			diff.NodesRemoved = append(diff.NodesRemoved, id)
			affectedFiles[id.File] = struct{}{}
		}
	}
	sortIDs(diff.NodesAdded)
	sortIDs(diff.NodesRemoved)
	sortIDs(diff.NodesModified)

	baseEdges := indexEdges(base.Edges())
	targetEdges := indexEdges(target.Edges())
	for key, e := range targetEdges {
		if _, ok := baseEdges[key]; !ok {
			diff.EdgesAdded = append(diff.EdgesAdded, e)
		}
	}
	for key, e := range baseEdges {
		if _, ok := targetEdges[key]; !ok {
			diff.EdgesRemoved = append(diff.EdgesRemoved, e)
		}
	}
	sortEdges(diff.EdgesAdded)
	sortEdges(diff.EdgesRemoved)

	totalNodes := len(baseNodes)
	if len(targetNodes) > totalNodes {
		totalNodes = len(targetNodes)
	}
	changedNodes := len(diff.NodesAdded) + len(diff.NodesRemoved) + len(diff.NodesModified)
	changeRatio := 0.0
	if totalNodes > 0 {
		changeRatio = float64(changedNodes) / float64(totalNodes)
	}
	diff.Summary = DiffSummary{
		TotalChanges:  changedNodes + len(diff.EdgesAdded) + len(diff.EdgesRemoved),
		FilesAffected: len(affectedFiles),
		ChangeRatio:   changeRatio,
	}
	return diff, nil
}

func indexNodes(nodes []FunctionNode) map[FunctionID]FunctionNode {
	m := make(map[FunctionID]FunctionNode, len(nodes))
	for _, n := range nodes {
		m[n.ID] = n
	}
	return m
}

type typedEdgeKey struct {
	edgeKey
	typ CallType
}

func indexEdges(edges []CallEdge) map[typedEdgeKey]CallEdge {
	m := make(map[typedEdgeKey]CallEdge, len(edges))
	for _, e := range edges {
		m[typedEdgeKey{edgeKey{caller: e.Caller, callee: e.Callee}, e.Type}] = e
	}
	return m
}
