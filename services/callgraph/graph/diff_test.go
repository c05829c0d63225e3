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
	"errors"
	"testing"
)

func buildDiffTestGraph() *CallGraph {
	g := NewCallGraph()
	g.AddFunction(FunctionNode{ID: fid("src/main.rs", "main", 1), IsEntryPoint: true, Complexity: 1, Length: 4})
	g.AddFunction(FunctionNode{ID: fid("src/lib.rs", "helper", 3), Complexity: 2, Length: 6})
	g.AddCall(CallEdge{Caller: fid("src/main.rs", "main", 1), Callee: fid("src/lib.rs", "helper", 3)})
	return g
}

func TestDiff_IdenticalGraphs(t *testing.T) {
	g := buildDiffTestGraph()

	diff, err := Diff(g, g.Clone())
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if !diff.Empty() {
		t.Errorf("total changes = %d, want 0", diff.Summary.TotalChanges)
	}
	if diff.Summary.ChangeRatio != 0 {
		t.Errorf("change ratio = %f, want 0", diff.Summary.ChangeRatio)
	}
}

func TestDiff_AddedRemovedModified(t *testing.T) {
	base := buildDiffTestGraph()
	target := buildDiffTestGraph()

	added := fid("src/lib.rs", "extra", 20)
	target.AddCall(CallEdge{Caller: fid("src/lib.rs", "helper", 3), Callee: added})
	target.AddFunction(FunctionNode{ID: fid("src/lib.rs", "helper", 3), Complexity: 5})

	removed := fid("src/old.rs", "legacy", 1)
	base.AddFunction(FunctionNode{ID: removed})

	diff, err := Diff(base, target)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}

	if len(diff.NodesAdded) != 1 || diff.NodesAdded[0] != added {
		t.Errorf("nodes added = %v, want [%v]", diff.NodesAdded, added)
	}
	if len(diff.NodesRemoved) != 1 || diff.NodesRemoved[0] != removed {
		t.Errorf("nodes removed = %v, want [%v]", diff.NodesRemoved, removed)
	}
	if len(diff.NodesModified) != 1 || diff.NodesModified[0].Name != "helper" {
		t.Errorf("nodes modified = %v, want helper", diff.NodesModified)
	}
	if len(diff.EdgesAdded) != 1 || diff.EdgesAdded[0].Callee != added {
		t.Errorf("edges added = %v", diff.EdgesAdded)
	}
	if len(diff.EdgesRemoved) != 0 {
		t.Errorf("edges removed = %d, want 0", len(diff.EdgesRemoved))
	}
	if diff.Summary.TotalChanges != 4 {
		t.Errorf("total changes = %d, want 4", diff.Summary.TotalChanges)
	}
	if diff.Summary.FilesAffected != 2 {
		t.Errorf("files affected = %d, want 2", diff.Summary.FilesAffected)
	}
}

func TestDiff_NilGraph(t *testing.T) {
	if _, err := Diff(nil, NewCallGraph()); !errors.Is(err, ErrInvalidGraph) {
		t.Errorf("Diff(nil, g) error = %v, want ErrInvalidGraph", err)
	}
}
