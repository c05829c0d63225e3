// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package impact maps a unified diff onto a call graph.
//
// Changed lines are matched to the functions that contain them, and the
// transitive callers of those functions are reported as affected. Line
// numbers are read from the new side of each hunk, so the graph must be
// built from the patched tree.
package impact

import (
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/sourcegraph/go-diff/diff"

	"github.com/AleutianAI/callgraph/services/callgraph/graph"
)

// ErrInvalidPatch is returned when a patch cannot be parsed.
var ErrInvalidPatch = errors.New("invalid patch")

const devNull = "/dev/null"

// FileChange lists the changed lines of one file.
type FileChange struct {
	// Path is the slash-separated path relative to the repository root.
	Path string `json:"path"`

	// Lines are the changed line numbers in the new file, sorted.
	Lines []int `json:"lines"`
}

// Report is the result of Analyze.
type Report struct {
	// Changed holds the functions containing a changed line.
	Changed []graph.FunctionID `json:"changed"`

	// Affected holds the transitive callers of Changed, excluding Changed.
	Affected []graph.FunctionID `json:"affected"`

	// Tests holds the test functions among Changed and Affected.
	Tests []graph.FunctionID `json:"tests"`
}

// ParsePatch parses a unified diff, such as git diff output.
//
// Description:
//
//	Added lines count as changed. A removed line marks the line before
//	the removal point, which keeps removals at the end of a function
//	inside that function. Deleted files are dropped since none of their
//	functions exist in the new tree.
//
// Outputs:
//   - []FileChange: One entry per file with at least one changed line,
//     sorted by path.
//   - error: ErrInvalidPatch.
func ParsePatch(patch []byte) ([]FileChange, error) {
	fileDiffs, err := diff.ParseMultiFileDiff(patch)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPatch, err)
	}

	changes := make([]FileChange, 0, len(fileDiffs))
	for _, fd := range fileDiffs {
		if fd.NewName == devNull {
			continue
		}
		lines := make(map[int]struct{})
		for _, h := range fd.Hunks {
			collectLines(h, lines)
		}
		if len(lines) == 0 {
			continue
		}
		fc := FileChange{Path: stripPrefix(fd.NewName), Lines: make([]int, 0, len(lines))}
		for l := range lines {
			fc.Lines = append(fc.Lines, l)
		}
		sort.Ints(fc.Lines)
		changes = append(changes, fc)
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Path < changes[j].Path })
	return changes, nil
}

func collectLines(h *diff.Hunk, lines map[int]struct{}) {
	newLine := int(h.NewStartLine)
	for _, l := range strings.Split(string(h.Body), "\n") {
		if l == "" {
			continue
		}
		switch l[0] {
		case '+':
			lines[newLine] = struct{}{}
			newLine++
		case '-':
			prev := newLine - 1
			if prev < 1 {
				prev = 1
			}
			lines[prev] = struct{}{}
		case ' ':
			newLine++
		}
	}
}

// stripPrefix removes git's a/ and b/ path prefixes.
func stripPrefix(name string) string {
	name = strings.TrimPrefix(strings.TrimPrefix(name, "b/"), "a/")
	return path.Clean(name)
}

// Analyze reports the functions a set of changes touches and the functions
// that reach them.
//
// Inputs:
//   - g: Graph built from the patched tree.
//   - changes: Output of ParsePatch.
//   - maxDepth: Caller hops to follow; <= 0 is unlimited.
//
// Outputs:
//   - *Report: Never nil. Every list is sorted and non-nil.
func Analyze(g *graph.CallGraph, changes []FileChange, maxDepth int) *Report {
	changed := make(map[graph.FunctionID]struct{})
	for _, fc := range changes {
		for _, line := range fc.Lines {
			if id, ok := g.FindFunctionAt(fc.Path, line); ok {
				changed[id] = struct{}{}
			}
		}
	}

	affected := make(map[graph.FunctionID]struct{})
	for id := range changed {
		for _, caller := range g.TransitiveCallers(id, maxDepth) {
			if _, ok := changed[caller]; !ok {
				affected[caller] = struct{}{}
			}
		}
	}

	r := &Report{
		Changed:  sortedIDs(changed),
		Affected: sortedIDs(affected),
		Tests:    make([]graph.FunctionID, 0),
	}
	for _, ids := range [][]graph.FunctionID{r.Changed, r.Affected} {
		for _, id := range ids {
			if n, ok := g.Node(id); ok && n.IsTest {
				r.Tests = append(r.Tests, id)
			}
		}
	}
	sort.Slice(r.Tests, func(i, j int) bool { return r.Tests[i].Less(r.Tests[j]) })
	return r
}

func sortedIDs(set map[graph.FunctionID]struct{}) []graph.FunctionID {
	out := make([]graph.FunctionID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}
