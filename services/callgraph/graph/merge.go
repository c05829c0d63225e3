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
	"fmt"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"
)

// PendingResolver maps an unresolved call site to its callees.
//
// Implementations must be safe for concurrent use; ResolveCrossFileCalls
// calls ResolvePending from several goroutines. An empty result leaves the
// call pending.
type PendingResolver interface {
	ResolvePending(call PendingCall) []FunctionID
}

// Merge unions other into g.
//
// Description:
//
//	Nodes are deduplicated by FunctionID, edges by (caller, callee) and
//	pending calls by value. Conflicts are settled by order-independent
//	rules (flag OR, size max, lowest CallType), so merging partial graphs
//	in any order and any grouping yields the same graph.
//
// Thread Safety:
//
//	Safe for concurrent use. other is snapshotted under its read lock
//	before g is locked, so two graphs merging into each other cannot
//	deadlock.
func (g *CallGraph) Merge(other *CallGraph) {
	if other == nil || other == g {
		return
	}

	other.mu.RLock()
	nodes := other.nodesLocked()
	edges := other.edgesLocked()
	pending := make([]PendingCall, 0, len(other.pending))
	for p := range other.pending {
		pending = append(pending, p)
	}
	other.mu.RUnlock()

	g.mu.Lock()
	defer g.mu.Unlock()
	for _, n := range nodes {
		g.addFunctionLocked(n)
	}
	for _, e := range edges {
		g.addCallLocked(e.Caller, e.Callee, e.Type)
	}
	for _, p := range pending {
		g.pending[p] = struct{}{}
	}
}

// MergeAll reduces partial graphs into a new graph on the calling
// goroutine.
func MergeAll(graphs ...*CallGraph) *CallGraph {
	out := NewCallGraph()
	for _, g := range graphs {
		out.Merge(g)
	}
	return out
}

// ResolveCrossFileCalls resolves pending calls once all partial graphs have
// been merged.
//
// Description:
//
//	Resolution runs in parallel over the pending calls, bounded by
//	workers, and only reads the resolver. Resulting edges are then applied
//	on the calling goroutine. Resolved calls leave the pending set;
//	unresolved ones stay for the later resolution phases.
//
// Inputs:
//   - ctx: Context for cancellation.
//   - resolver: Read-only resolver. Must be safe for concurrent use.
//   - workers: Parallelism. Non-positive means runtime.NumCPU().
//
// Outputs:
//   - int: Number of pending calls resolved.
//   - error: Non-nil only if ctx was canceled.
func (g *CallGraph) ResolveCrossFileCalls(ctx context.Context, resolver PendingResolver, workers int) (int, error) {
	ctx, span := startGraphSpan(ctx, "CallGraph.ResolveCrossFileCalls")
	defer span.End()
	start := time.Now()

	pending := g.Pending()
	if len(pending) == 0 || resolver == nil {
		return 0, nil
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	results := make([][]FunctionID, len(pending))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)
	for i := range pending {
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			results[i] = resolver.ResolvePending(pending[i])
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return 0, fmt.Errorf("resolving cross-file calls: %w", err)
	}

	g.mu.Lock()
	resolved := 0
	for i, p := range pending {
		if len(results[i]) == 0 {
			continue
		}
		for _, callee := range results[i] {
			g.addCallLocked(p.Caller, callee, CallDirect)
		}
		delete(g.pending, p)
		resolved++
	}
	g.mu.Unlock()

	recordResolveMetrics(ctx, time.Since(start), len(pending), resolved)
	setResolveSpanResult(span, len(pending), resolved)
	return resolved, nil
}
