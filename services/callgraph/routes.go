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
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/callgraph/services/callgraph/telemetry"
)

// RegisterRoutes registers the /callgraph endpoints on rg.
//
// Endpoints:
//
//	POST /v1/callgraph/build                 - Build a graph
//	GET  /v1/callgraph/build/stream          - Build with WebSocket progress
//	GET  /v1/callgraph/graphs/:id            - Serialized graph
//	GET  /v1/callgraph/graphs/:id/callers    - Callers of ?name=
//	GET  /v1/callgraph/graphs/:id/callees    - Callees of ?name=
//	GET  /v1/callgraph/graphs/:id/test-only  - Functions only tests reach
//	GET  /v1/callgraph/graphs/:id/dead-code  - Unreachable functions
//	GET  /v1/callgraph/graphs/:id/exclusions - Framework exclusions
//	POST /v1/callgraph/graphs/:id/impact     - Functions a diff affects
//	GET  /v1/callgraph/health                - Health check
//
// Example:
//
//	v1 := router.Group("/v1")
//	callgraph.RegisterRoutes(v1, callgraph.NewHandlers(svc))
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	cg := rg.Group("/callgraph")
	{
		cg.POST("/build", handlers.HandleBuild)
		cg.GET("/build/stream", handlers.HandleBuildStream)

		graphs := cg.Group("/graphs/:id")
		graphs.GET("", handlers.HandleGraph)
		graphs.GET("/callers", handlers.HandleCallers)
		graphs.GET("/callees", handlers.HandleCallees)
		graphs.GET("/test-only", handlers.HandleTestOnly)
		graphs.GET("/dead-code", handlers.HandleDeadCode)
		graphs.GET("/exclusions", handlers.HandleExclusions)
		graphs.POST("/impact", handlers.HandleImpact)

		cg.GET("/health", handlers.HandleHealth)
	}
}

// NewRouter returns an engine with recovery, otelgin tracing, the /v1
// routes and, when the Prometheus exporter is active, /metrics.
func NewRouter(handlers *Handlers, serviceName string) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))

	v1 := router.Group("/v1")
	RegisterRoutes(v1, handlers)

	if h := telemetry.MetricsHandler(); h != nil {
		router.GET("/metrics", gin.WrapH(h))
	}
	return router
}
