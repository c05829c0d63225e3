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
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("callgraph.graph")
	meter  = otel.Meter("callgraph.graph")
)

var (
	resolveLatency  metric.Float64Histogram
	pendingTotal    metric.Int64Counter
	resolvedPending metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		resolveLatency, err = meter.Float64Histogram(
			"callgraph_cross_file_resolve_duration_seconds",
			metric.WithDescription("Duration of cross-file call resolution"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		pendingTotal, err = meter.Int64Counter(
			"callgraph_pending_calls_total",
			metric.WithDescription("Pending calls considered by cross-file resolution"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		resolvedPending, err = meter.Int64Counter(
			"callgraph_pending_calls_resolved_total",
			metric.WithDescription("Pending calls resolved by cross-file resolution"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordResolveMetrics(ctx context.Context, duration time.Duration, pending, resolved int) {
	if err := initMetrics(); err != nil {
		return
	}
	resolveLatency.Record(ctx, duration.Seconds())
	pendingTotal.Add(ctx, int64(pending))
	resolvedPending.Add(ctx, int64(resolved))
}

func startGraphSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name)
}

func setResolveSpanResult(span trace.Span, pending, resolved int) {
	span.SetAttributes(
		attribute.Int("graph.pending", pending),
		attribute.Int("graph.resolved", resolved),
	)
}
