// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/AleutianAI/callgraph/services/callgraph"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		maxGraphs    int
		allowedRoots []string
		buildTimeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the call graph HTTP API",
		Long: `Start the HTTP query service on --addr.

Endpoints:
  POST /v1/callgraph/build                  {"root": "/abs/path", "files": [...]}
  GET  /v1/callgraph/graphs/:id             serialized graph
  GET  /v1/callgraph/graphs/:id/callers     ?name=
  GET  /v1/callgraph/graphs/:id/callees     ?name=
  GET  /v1/callgraph/graphs/:id/test-only
  GET  /v1/callgraph/graphs/:id/dead-code
  GET  /v1/callgraph/graphs/:id/exclusions
  GET  /v1/callgraph/health
  GET  /metrics                             when --metrics prometheus

Examples:
  callgraph serve
  callgraph serve --addr 0.0.0.0:8181 --allow-root /srv/projects
  curl -X POST localhost:8181/v1/callgraph/build -d '{"root": "/srv/projects/app"}'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := callgraph.DefaultServiceConfig()
			cfg.MaxCachedGraphs = maxGraphs
			cfg.AllowedRoots = allowedRoots
			cfg.MaxBuildDuration = buildTimeout
			return a.serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().IntVar(&maxGraphs, "max-graphs", callgraph.DefaultServiceConfig().MaxCachedGraphs, "graphs kept in memory")
	cmd.Flags().StringSliceVar(&allowedRoots, "allow-root", nil, "restrict build roots to these directories")
	cmd.Flags().DurationVar(&buildTimeout, "build-timeout", callgraph.DefaultServiceConfig().MaxBuildDuration, "maximum duration of one build")
	return cmd
}

func (a *app) serve(ctx context.Context, cfg callgraph.ServiceConfig) error {
	if a.cfg.Log.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	// The server never reports progress; requests run concurrently.
	a.quiet = true
	orch, release := a.orchestrator()
	defer release()

	svc := callgraph.NewService(orch, cfg, a.logger)
	router := callgraph.NewRouter(callgraph.NewHandlers(svc), a.cfg.Telemetry.ServiceName)

	ln, err := net.Listen("tcp", a.cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", a.cfg.Server.Addr, err)
	}
	srv := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	a.logger.Info("call graph service listening", slog.String("addr", ln.Addr().String()))
	fmt.Fprintf(a.out, "listening on http://%s\n", ln.Addr())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	a.logger.Info("shutting down call graph service")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return nil
}
