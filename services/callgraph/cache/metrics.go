// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cache

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("callgraph.cache")
	meter  = otel.Meter("callgraph.cache")
)

var (
	cacheHits   metric.Int64Counter
	cacheMisses metric.Int64Counter
	storedBytes metric.Int64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		cacheHits, err = meter.Int64Counter(
			"callgraph_cache_hits_total",
			metric.WithDescription("Cache lookups that returned an entry"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		cacheMisses, err = meter.Int64Counter(
			"callgraph_cache_misses_total",
			metric.WithDescription("Cache lookups that returned nothing, by reason"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		storedBytes, err = meter.Int64Histogram(
			"callgraph_cache_entry_bytes",
			metric.WithDescription("Compressed size of stored cache entries"),
			metric.WithUnit("By"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordHit(ctx context.Context) {
	if err := initMetrics(); err != nil {
		return
	}
	cacheHits.Add(ctx, 1)
}

func recordMiss(ctx context.Context, reason string) {
	if err := initMetrics(); err != nil {
		return
	}
	cacheMisses.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func recordStored(ctx context.Context, size int) {
	if err := initMetrics(); err != nil {
		return
	}
	storedBytes.Record(ctx, int64(size))
}

func startCacheSpan(ctx context.Context, name, key string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attribute.String("cache.key", key)))
}
