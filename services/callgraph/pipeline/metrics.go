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
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("callgraph.pipeline")
	meter  = otel.Meter("callgraph.pipeline")
)

var (
	buildDuration metric.Float64Histogram
	phaseDuration metric.Float64Histogram
	buildTotal    metric.Int64Counter
	fileErrors    metric.Int64Counter
	graphNodes    metric.Int64Histogram
	graphEdges    metric.Int64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		buildDuration, err = meter.Float64Histogram(
			"callgraph_build_duration_seconds",
			metric.WithDescription("Duration of complete call graph builds"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		phaseDuration, err = meter.Float64Histogram(
			"callgraph_phase_duration_seconds",
			metric.WithDescription("Duration of each build phase"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		buildTotal, err = meter.Int64Counter(
			"callgraph_builds_total",
			metric.WithDescription("Builds run, by outcome and cache use"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		fileErrors, err = meter.Int64Counter(
			"callgraph_file_errors_total",
			metric.WithDescription("Files skipped during a build, by phase"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		graphNodes, err = meter.Int64Histogram(
			"callgraph_graph_nodes",
			metric.WithDescription("Functions in built graphs"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		graphEdges, err = meter.Int64Histogram(
			"callgraph_graph_edges",
			metric.WithDescription("Call edges in built graphs"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordBuildMetrics(ctx context.Context, d time.Duration, nodes, edges int, cacheHit, success bool) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.Bool("success", success),
		attribute.Bool("cache_hit", cacheHit),
	)
	buildDuration.Record(ctx, d.Seconds(), attrs)
	buildTotal.Add(ctx, 1, attrs)
	if success {
		graphNodes.Record(ctx, int64(nodes))
		graphEdges.Record(ctx, int64(edges))
	}
}

func recordPhase(ctx context.Context, phase Phase, lang string, d time.Duration) {
	if err := initMetrics(); err != nil {
		return
	}
	phaseDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("phase", phase.String()),
		attribute.String("language", lang),
	))
}

func recordFileError(ctx context.Context, phase string) {
	if err := initMetrics(); err != nil {
		return
	}
	fileErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("phase", phase)))
}

func startBuildSpan(ctx context.Context, root string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "pipeline.Build",
		trace.WithAttributes(attribute.String("build.root", root)),
	)
}

func setBuildSpanResult(span trace.Span, stats Stats, cacheHit bool, err error) {
	span.SetAttributes(
		attribute.Int("build.files", stats.FilesDiscovered),
		attribute.Int("build.nodes", stats.Nodes),
		attribute.Int("build.edges", stats.Edges),
		attribute.Int("build.file_errors", stats.FilesFailed),
		attribute.Bool("build.cache_hit", cacheHit),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}
