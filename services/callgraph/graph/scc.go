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

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// RecursionClusters returns the groups of functions that call each other
// recursively.
//
// Description:
//
//	Every strongly connected component with more than one member is a
//	cluster. A function that calls itself directly is a single-member
//	cluster. The gonum directed graph rejects self edges, so direct
//	recursion is detected from the adjacency sets instead.
//
// Outputs:
//   - [][]FunctionID: Each cluster sorted; clusters sorted by first member.
//     Never nil.
//
// Thread Safety: Safe for concurrent use.
func (g *CallGraph) RecursionClusters() [][]FunctionID {
	g.mu.RLock()
	nodes := g.nodesLocked()
	edges := g.edgesLocked()
	g.mu.RUnlock()

	ids := make(map[FunctionID]int64, len(nodes))
	byID := make([]FunctionID, len(nodes))
	dg := simple.NewDirectedGraph()
	for i, n := range nodes {
		ids[n.ID] = int64(i)
		byID[i] = n.ID
		dg.AddNode(simple.Node(int64(i)))
	}

	selfLoops := make(map[FunctionID]struct{})
	for _, e := range edges {
		if e.Caller == e.Callee {
			selfLoops[e.Caller] = struct{}{}
			continue
		}
		dg.SetEdge(dg.NewEdge(simple.Node(ids[e.Caller]), simple.Node(ids[e.Callee])))
	}

	clusters := make([][]FunctionID, 0)
	for _, component := range topo.TarjanSCC(dg) {
		if len(component) == 1 {
			id := byID[component[0].ID()]
			if _, ok := selfLoops[id]; !ok {
				continue
			}
		}
		cluster := make([]FunctionID, 0, len(component))
		for _, n := range component {
			cluster = append(cluster, byID[n.ID()])
		}
		sortIDs(cluster)
		clusters = append(clusters, cluster)
	}
	sort.Slice(clusters, func(i, j int) bool { return clusters[i][0].Less(clusters[j][0]) })
	return clusters
}
