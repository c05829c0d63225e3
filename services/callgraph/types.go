// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package callgraph

import (
	"github.com/AleutianAI/callgraph/services/callgraph/graph"
	"github.com/AleutianAI/callgraph/services/callgraph/impact"
	"github.com/AleutianAI/callgraph/services/callgraph/pipeline"
)

// BuildRequest is the body of POST /v1/callgraph/build.
type BuildRequest struct {
	// Root is the absolute project root. Required.
	Root string `json:"root" binding:"required"`

	// Files limits the build to these root-relative paths (optional).
	Files []string `json:"files" binding:"omitempty,dive,required"`
}

// StreamMessage is one WebSocket frame of GET /v1/callgraph/build/stream.
// Type is "progress", "result" or "error"; the matching field is set.
type StreamMessage struct {
	Type     string         `json:"type"`
	Progress *ProgressInfo  `json:"progress,omitempty"`
	Result   *BuildResponse `json:"result,omitempty"`
	Error    *ErrorResponse `json:"error,omitempty"`
}

// ProgressInfo is a pipeline progress event.
type ProgressInfo struct {
	Phase   string `json:"phase"`
	Current int    `json:"current"`
	Total   int    `json:"total"`
}

// FileErrorInfo describes a skipped file.
type FileErrorInfo struct {
	Path  string `json:"path"`
	Phase string `json:"phase"`
	Error string `json:"error"`
}

// BuildResponse is the response of POST /v1/callgraph/build.
type BuildResponse struct {
	GraphID    string          `json:"graph_id"`
	Root       string          `json:"root"`
	CacheHit   bool            `json:"cache_hit"`
	GraphHash  string          `json:"graph_hash"`
	Stats      pipeline.Stats  `json:"stats"`
	FileErrors []FileErrorInfo `json:"file_errors"`
}

// FunctionsResponse lists functions answering a query.
type FunctionsResponse struct {
	GraphID string `json:"graph_id"`

	// Name is the queried function name, empty for whole-graph queries.
	Name string `json:"name,omitempty"`

	Functions []graph.FunctionID `json:"functions"`
	Count     int                `json:"count"`
}

// ExclusionsResponse lists framework exclusions and pointer-used functions.
type ExclusionsResponse struct {
	GraphID     string           `json:"graph_id"`
	Exclusions  []graph.SetEntry `json:"exclusions"`
	PointerUsed []graph.SetEntry `json:"pointer_used"`
	PublicAPIs  int              `json:"public_apis"`
}

// GraphResponse carries a serialized graph.
type GraphResponse struct {
	GraphID string                   `json:"graph_id"`
	Root    string                   `json:"root"`
	Graph   *graph.SerializableGraph `json:"graph"`
}

// HealthResponse is the response of GET /v1/callgraph/health.
type HealthResponse struct {
	Status string `json:"status"`
	Graphs int    `json:"graphs"`
}

// ErrorResponse is the body of every error response.
type ErrorResponse struct {
	Error string `json:"error"`

	// Code is a stable machine-readable error code.
	Code string `json:"code,omitempty"`
}

// ImpactRequest is the body of POST /v1/callgraph/graphs/:id/impact.
type ImpactRequest struct {
	// Patch is a unified diff against the graph's tree. Required.
	Patch string `json:"patch" binding:"required"`

	// MaxDepth limits caller hops; 0 is unlimited.
	MaxDepth int `json:"max_depth" binding:"min=0"`
}

// ImpactResponse is the response of POST /v1/callgraph/graphs/:id/impact.
type ImpactResponse struct {
	GraphID string              `json:"graph_id"`
	Files   []impact.FileChange `json:"files"`
	impact.Report
}
