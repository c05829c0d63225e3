// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"time"

	"github.com/AleutianAI/callgraph/services/callgraph/graph"
	"github.com/AleutianAI/callgraph/services/callgraph/resolve"
)

// Result is the output of one build.
type Result struct {
	// BuildID uniquely identifies this build.
	BuildID string

	// Root is the absolute project root.
	Root string

	Graph *graph.CallGraph

	// FrameworkExclusions are functions invoked by frameworks, macros or
	// external traits; never dead code.
	FrameworkExclusions *graph.FunctionSet

	// PointerUsed are functions referenced as values.
	PointerUsed *graph.FunctionSet

	// PublicAPIs are functions callable from outside the project.
	PublicAPIs []graph.FunctionID

	// FileErrors lists files that were skipped. Never fatal.
	FileErrors []FileError

	Stats Stats

	// CacheHit reports that the Rust graph came from the cache.
	CacheHit bool
}

// PhaseDurations holds wall time per phase, summed over languages.
type PhaseDurations struct {
	Discover time.Duration `json:"discover"`
	Read     time.Duration `json:"read"`
	Extract  time.Duration `json:"extract"`
	Resolve  time.Duration `json:"resolve"`
	Finalize time.Duration `json:"finalize"`
}

// Stats summarizes a build.
type Stats struct {
	FilesDiscovered int `json:"files_discovered"`
	FilesParsed     int `json:"files_parsed"`
	FilesFailed     int `json:"files_failed"`
	Chunks          int `json:"chunks"`

	Nodes int `json:"nodes"`
	Edges int `json:"edges"`

	// CrossFileResolved counts pending calls resolved after the chunk merge.
	CrossFileResolved int `json:"cross_file_resolved"`

	CrossModule resolve.CrossModuleStats `json:"cross_module"`
	Resolve     resolve.Stats            `json:"resolve"`

	FrameworkExclusions int `json:"framework_exclusions"`
	PointerUsed         int `json:"pointer_used"`

	Durations PhaseDurations `json:"durations"`
	Total     time.Duration  `json:"total"`
}

func (s *Stats) add(o resolve.Stats) {
	s.Resolve.Files += o.Files
	s.Resolve.BasicEdges += o.BasicEdges
	s.Resolve.DispatchEdges += o.DispatchEdges
	s.Resolve.PointerEdges += o.PointerEdges
	s.Resolve.CrossModuleEdges += o.CrossModuleEdges
	s.Resolve.FinalizerEdges += o.FinalizerEdges
	s.Resolve.TraitCalls += o.TraitCalls
	s.Resolve.UnresolvedTraits += o.UnresolvedTraits
	s.Resolve.CrossModuleDropped += o.CrossModuleDropped
	s.Resolve.Patterns += o.Patterns
}

// DeadCodeCandidates returns the functions that no entry point, test,
// framework exclusion, pointer use or public API reaches.
func (r *Result) DeadCodeCandidates() []graph.FunctionID {
	eg := &resolve.EnhancedGraph{
		Graph:               r.Graph,
		FrameworkExclusions: r.FrameworkExclusions,
		PointerUsed:         r.PointerUsed,
		PublicAPIs:          r.PublicAPIs,
	}
	return eg.PotentialDeadCode()
}
