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
	"sync"

	"golang.org/x/time/rate"
)

// Phase identifies a stage of a build.
type Phase int

const (
	// PhaseReading reads file contents across the worker pool.
	PhaseReading Phase = iota

	// PhaseExtracting parses chunks and extracts partial graphs.
	PhaseExtracting

	// PhaseResolving runs the enhanced resolver file by file.
	PhaseResolving

	// PhaseFinalizing runs cross-module resolution and the finalizer.
	PhaseFinalizing
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseReading:
		return "reading"
	case PhaseExtracting:
		return "extracting"
	case PhaseResolving:
		return "resolving"
	case PhaseFinalizing:
		return "finalizing"
	default:
		return "unknown"
	}
}

// Progress is one progress event.
type Progress struct {
	Phase Phase

	// Current is the number of units done. Units are files, except in
	// PhaseExtracting where they are chunks.
	Current int

	Total int
}

// Done reports whether the event closes its phase.
func (p Progress) Done() bool {
	return p.Current >= p.Total
}

// ProgressFunc receives progress events. Calls are serialized.
type ProgressFunc func(Progress)

// DefaultProgressRate is the default maximum number of intermediate
// progress events per second.
const DefaultProgressRate = 20

// progressReporter throttles and serializes progress events.
//
// Intermediate events beyond the rate limit are dropped. The first and the
// closing event of each phase are always delivered, and a phase never
// reports a smaller Current than it already reported.
//
// Thread Safety: Safe for concurrent use.
type progressReporter struct {
	mu      sync.Mutex
	fn      ProgressFunc
	limiter *rate.Limiter
	last    map[Phase]int
}

func newProgressReporter(fn ProgressFunc, perSecond float64) *progressReporter {
	if perSecond <= 0 {
		perSecond = DefaultProgressRate
	}
	return &progressReporter{
		fn:      fn,
		limiter: rate.NewLimiter(rate.Limit(perSecond), 1),
		last:    make(map[Phase]int),
	}
}

func (r *progressReporter) report(phase Phase, current, total int) {
	if r == nil || r.fn == nil {
		return
	}
	p := Progress{Phase: phase, Current: current, Total: total}

	r.mu.Lock()
	defer r.mu.Unlock()

	last, seen := r.last[phase]
	if seen && current <= last {
		return
	}
	if seen && !p.Done() && !r.limiter.Allow() {
		return
	}
	r.last[phase] = current
	r.fn(p)
}

// reset forgets what was reported so a phase may run again, as it does
// once per language.
func (r *progressReporter) reset() {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.last = make(map[Phase]int)
	r.mu.Unlock()
}
