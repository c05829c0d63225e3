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
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/callgraph/services/callgraph/discover"
	"github.com/AleutianAI/callgraph/services/callgraph/graph"
	"github.com/AleutianAI/callgraph/services/callgraph/impact"
	"github.com/AleutianAI/callgraph/services/callgraph/pipeline"
	"github.com/AleutianAI/callgraph/services/callgraph/telemetry"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handlers holds the HTTP handlers of the call graph service.
//
// Thread Safety: Safe for concurrent use.
type Handlers struct {
	svc    *Service
	logger *slog.Logger
}

// NewHandlers creates handlers for svc.
func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc, logger: svc.logger}
}

// HandleBuild handles POST /v1/callgraph/build.
//
// Description:
//
//	Builds the call graph of a project root and caches it. The returned
//	graph_id addresses the graph in every other endpoint.
//
// Request Body:
//
//	BuildRequest
//
// Response:
//
//	200 OK: BuildResponse
//	400 Bad Request: Invalid body, relative or disallowed root, a file
//	outside the root, unreadable root
//	409 Conflict: A build of the same root is running
//	504 Gateway Timeout: The build exceeded MaxBuildDuration
//	500 Internal Server Error: Any other failure
func (h *Handlers) HandleBuild(c *gin.Context) {
	logger := h.requestLogger(c, "HandleBuild")

	var req BuildRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: "INVALID_REQUEST"})
		return
	}

	logger.Info("building call graph", slog.String("root", req.Root), slog.Int("files", len(req.Files)))
	cached, err := h.svc.Build(c.Request.Context(), req.Root, req.Files)
	if err != nil {
		status, code := buildErrorStatus(err)
		logger.Error("build failed", slog.String("error", err.Error()), slog.String("code", code))
		c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
		return
	}

	res := cached.Result
	resp := buildResponse(res)
	logger.Info("call graph built",
		slog.String("graph_id", res.BuildID),
		slog.Int("nodes", res.Stats.Nodes),
		slog.Int("edges", res.Stats.Edges))
	c.JSON(http.StatusOK, resp)
}

// HandleBuildStream handles GET /v1/callgraph/build/stream?root=.
//
// Description:
//
//	Upgrades to a WebSocket and builds root, sending one StreamMessage of
//	type "progress" per progress event, then a single "result" or "error"
//	message before closing. Repeated file= parameters limit the build to
//	those files.
//
// Response:
//
//	101 Switching Protocols, then StreamMessage frames
//	400 Bad Request: Missing root (before the upgrade)
func (h *Handlers) HandleBuildStream(c *gin.Context) {
	logger := h.requestLogger(c, "HandleBuildStream")

	root := c.Query("root")
	if root == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "root parameter is required", Code: "MISSING_PARAMETER"})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Error("failed to upgrade the websocket", slog.String("error", err.Error()))
		return
	}
	defer ws.Close()

	var writeErr error
	send := func(msg StreamMessage) {
		if writeErr != nil {
			return
		}
		if writeErr = ws.WriteJSON(msg); writeErr != nil {
			logger.Warn("failed to write websocket message", slog.String("error", writeErr.Error()))
		}
	}

	logger.Info("streaming call graph build", slog.String("root", root))
	cached, err := h.svc.BuildWithProgress(c.Request.Context(), root, c.QueryArray("file"), func(p pipeline.Progress) {
		send(StreamMessage{Type: "progress", Progress: &ProgressInfo{Phase: p.Phase.String(), Current: p.Current, Total: p.Total}})
	})
	if err != nil {
		_, code := buildErrorStatus(err)
		logger.Error("build failed", slog.String("error", err.Error()), slog.String("code", code))
		send(StreamMessage{Type: "error", Error: &ErrorResponse{Error: err.Error(), Code: code}})
		return
	}
	resp := buildResponse(cached.Result)
	send(StreamMessage{Type: "result", Result: &resp})
	_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func buildResponse(res *pipeline.Result) BuildResponse {
	resp := BuildResponse{
		GraphID:    res.BuildID,
		Root:       res.Root,
		CacheHit:   res.CacheHit,
		GraphHash:  res.Graph.Hash(),
		Stats:      res.Stats,
		FileErrors: make([]FileErrorInfo, 0, len(res.FileErrors)),
	}
	for _, fe := range res.FileErrors {
		resp.FileErrors = append(resp.FileErrors, FileErrorInfo{Path: fe.Path, Phase: fe.Phase, Error: fe.Message()})
	}
	return resp
}

func buildErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ErrRelativePath), errors.Is(err, discover.ErrPathOutsideRoot):
		return http.StatusBadRequest, "INVALID_PATH"
	case errors.Is(err, ErrRootNotAllowed):
		return http.StatusBadRequest, "ROOT_NOT_ALLOWED"
	case errors.Is(err, pipeline.ErrDiscovery):
		return http.StatusBadRequest, "DISCOVERY_FAILED"
	case errors.Is(err, ErrBuildInProgress):
		return http.StatusConflict, "BUILD_IN_PROGRESS"
	case errors.Is(err, ErrBuildTimeout):
		return http.StatusGatewayTimeout, "BUILD_TIMEOUT"
	default:
		return http.StatusInternalServerError, "BUILD_FAILED"
	}
}

// HandleCallers handles GET /v1/callgraph/graphs/:id/callers?name=.
//
// Response:
//
//	200 OK: FunctionsResponse
//	400 Bad Request: Missing name
//	404 Not Found: Unknown graph
func (h *Handlers) HandleCallers(c *gin.Context) {
	h.handleNameQuery(c, "HandleCallers", (*graph.CallGraph).CallersByName)
}

// HandleCallees handles GET /v1/callgraph/graphs/:id/callees?name=.
//
// Response:
//
//	200 OK: FunctionsResponse
//	400 Bad Request: Missing name
//	404 Not Found: Unknown graph
func (h *Handlers) HandleCallees(c *gin.Context) {
	h.handleNameQuery(c, "HandleCallees", (*graph.CallGraph).CalleesByName)
}

func (h *Handlers) handleNameQuery(c *gin.Context, handler string, query func(*graph.CallGraph, string) []graph.FunctionID) {
	logger := h.requestLogger(c, handler)

	name := c.Query("name")
	if name == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "name parameter is required", Code: "MISSING_PARAMETER"})
		return
	}
	cached, ok := h.graph(c)
	if !ok {
		return
	}
	fns := query(cached.Result.Graph, name)
	logger.Debug("name query", slog.String("name", name), slog.Int("count", len(fns)))
	c.JSON(http.StatusOK, functionsResponse(c.Param("id"), name, fns))
}

// HandleTestOnly handles GET /v1/callgraph/graphs/:id/test-only.
//
// Description:
//
//	Lists non-test functions reachable from tests but from no production
//	root.
func (h *Handlers) HandleTestOnly(c *gin.Context) {
	cached, ok := h.graph(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, functionsResponse(c.Param("id"), "", cached.Result.Graph.FindTestOnlyFunctions()))
}

// HandleDeadCode handles GET /v1/callgraph/graphs/:id/dead-code.
//
// Description:
//
//	Lists functions that no entry point, test, framework exclusion,
//	pointer use or public API reaches.
func (h *Handlers) HandleDeadCode(c *gin.Context) {
	cached, ok := h.graph(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, functionsResponse(c.Param("id"), "", cached.Result.DeadCodeCandidates()))
}

// HandleImpact handles POST /v1/callgraph/graphs/:id/impact.
//
// Description:
//
//	Maps the changed lines of a unified diff onto the graph and lists the
//	changed functions, their transitive callers and the tests among them.
//
// Request Body:
//
//	ImpactRequest
//
// Response:
//
//	200 OK: ImpactResponse
//	400 Bad Request: Invalid body or unparsable patch
//	404 Not Found: Unknown graph
func (h *Handlers) HandleImpact(c *gin.Context) {
	logger := h.requestLogger(c, "HandleImpact")

	var req ImpactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: "INVALID_REQUEST"})
		return
	}
	cached, ok := h.graph(c)
	if !ok {
		return
	}
	changes, err := impact.ParsePatch([]byte(req.Patch))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_PATCH"})
		return
	}
	report := impact.Analyze(cached.Result.Graph, changes, req.MaxDepth)
	logger.Debug("impact analysis",
		slog.Int("files", len(changes)),
		slog.Int("changed", len(report.Changed)),
		slog.Int("affected", len(report.Affected)))
	c.JSON(http.StatusOK, ImpactResponse{GraphID: c.Param("id"), Files: changes, Report: *report})
}

// HandleExclusions handles GET /v1/callgraph/graphs/:id/exclusions.
func (h *Handlers) HandleExclusions(c *gin.Context) {
	cached, ok := h.graph(c)
	if !ok {
		return
	}
	res := cached.Result
	c.JSON(http.StatusOK, ExclusionsResponse{
		GraphID:     res.BuildID,
		Exclusions:  res.FrameworkExclusions.Entries(),
		PointerUsed: res.PointerUsed.Entries(),
		PublicAPIs:  len(res.PublicAPIs),
	})
}

// HandleGraph handles GET /v1/callgraph/graphs/:id and returns the
// serialized graph.
func (h *Handlers) HandleGraph(c *gin.Context) {
	cached, ok := h.graph(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, GraphResponse{
		GraphID: cached.Result.BuildID,
		Root:    cached.Result.Root,
		Graph:   cached.Result.Graph.ToSerializable(),
	})
}

// HandleHealth handles GET /v1/callgraph/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "healthy", Graphs: h.svc.GraphCount()})
}

// graph looks up the :id graph and writes a 404 when it is unknown.
func (h *Handlers) graph(c *gin.Context) (*CachedGraph, bool) {
	cached, err := h.svc.Graph(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "GRAPH_NOT_FOUND"})
		return nil, false
	}
	return cached, true
}

func (h *Handlers) requestLogger(c *gin.Context, handler string) *slog.Logger {
	requestID := getOrCreateRequestID(c)
	logger := telemetry.LoggerWithTrace(c.Request.Context(), h.logger)
	return logger.With(slog.String("request_id", requestID), slog.String("handler", handler))
}

func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}

func functionsResponse(id, name string, fns []graph.FunctionID) FunctionsResponse {
	if fns == nil {
		fns = []graph.FunctionID{}
	}
	return FunctionsResponse{GraphID: id, Name: name, Functions: fns, Count: len(fns)}
}
