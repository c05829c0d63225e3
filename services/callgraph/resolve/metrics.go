// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resolve

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("callgraph.resolve")
	meter  = otel.Meter("callgraph.resolve")
)

var (
	passLatency      metric.Float64Histogram
	edgesResolved    metric.Int64Counter
	targetsDropped   metric.Int64Counter
	dispatchFanout   metric.Int64Histogram
	patternsDetected metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		passLatency, err = meter.Float64Histogram(
			"callgraph_resolve_pass_duration_seconds",
			metric.WithDescription("Duration of one resolution pass over one file"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		edgesResolved, err = meter.Int64Counter(
			"callgraph_resolve_results_total",
			metric.WithDescription("Edges or detections produced by each resolution pass"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		targetsDropped, err = meter.Int64Counter(
			"callgraph_cross_module_dropped_total",
			metric.WithDescription("Call targets no cross-module strategy could match"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		dispatchFanout, err = meter.Int64Histogram(
			"callgraph_trait_dispatch_fanout",
			metric.WithDescription("Implementations linked from one dispatched call"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		patternsDetected, err = meter.Int64Counter(
			"callgraph_framework_patterns_total",
			metric.WithDescription("Framework patterns detected"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordPass records one pass over one file.
func recordPass(ctx context.Context, pass string, duration time.Duration, produced int) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("pass", pass))
	passLatency.Record(ctx, duration.Seconds(), attrs)
	edgesResolved.Add(ctx, int64(produced), attrs)
}

func recordDropped(ctx context.Context, n int) {
	if err := initMetrics(); err != nil || n == 0 {
		return
	}
	targetsDropped.Add(ctx, int64(n))
}

func recordFanout(ctx context.Context, n int) {
	if err := initMetrics(); err != nil {
		return
	}
	dispatchFanout.Record(ctx, int64(n))
}

func recordPattern(ctx context.Context, kind PatternType) {
	if err := initMetrics(); err != nil {
		return
	}
	patternsDetected.Add(ctx, 1, metric.WithAttributes(attribute.String("pattern", kind.String())))
}

func startResolveSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}
