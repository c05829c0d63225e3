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
	"sort"

	"github.com/AleutianAI/callgraph/services/callgraph/graph"
)

// HigherOrderCall is a call passing functions by value to a higher-order
// function such as map, filter or a callback registration.
type HigherOrderCall struct {
	Caller      graph.FunctionID   `json:"caller"`
	HigherOrder string             `json:"higher_order"`
	Arguments   []graph.FunctionID `json:"arguments"`
	Line        int                `json:"line"`
}

// PointerStats summarizes function pointer tracking.
type PointerStats struct {
	Bindings         int `json:"bindings"`
	PointerCalls     int `json:"pointer_calls"`
	HigherOrderCalls int `json:"higher_order_calls"`
	Closures         int `json:"closures"`
	UnresolvedRefs   int `json:"unresolved_refs"`
}

// FunctionPointerTracker records functions used as values.
//
// Description:
//
//	A local binding ("let f = parse;", "handler = self.on_event") maps a
//	name inside one function to the functions it may hold. Calls through
//	that name resolve to those targets. Every function observed as a value
//	is definitely used, whether or not a call through it is ever seen.
//
// Thread Safety: Not safe for concurrent use. Owned by one Accumulator.
type FunctionPointerTracker struct {
	bindings map[graph.FunctionID]map[string][]graph.FunctionID
	hof      []HigherOrderCall
	stats    PointerStats
}

// NewFunctionPointerTracker creates an empty tracker.
func NewFunctionPointerTracker() *FunctionPointerTracker {
	return &FunctionPointerTracker{
		bindings: make(map[graph.FunctionID]map[string][]graph.FunctionID),
	}
}

// Bind records that name inside fn holds targets.
func (t *FunctionPointerTracker) Bind(fn graph.FunctionID, name string, targets []graph.FunctionID) {
	if len(targets) == 0 {
		return
	}
	names := t.bindings[fn]
	if names == nil {
		names = make(map[string][]graph.FunctionID)
		t.bindings[fn] = names
	}
	names[name] = uniqueIDs(append(names[name], targets...))
	t.stats.Bindings++
}

// Targets returns the functions name may hold inside fn.
func (t *FunctionPointerTracker) Targets(fn graph.FunctionID, name string) []graph.FunctionID {
	return t.bindings[fn][name]
}

// RecordPointerCall counts a call resolved through a binding.
func (t *FunctionPointerTracker) RecordPointerCall() {
	t.stats.PointerCalls++
}

// RecordClosure counts a closure binding.
func (t *FunctionPointerTracker) RecordClosure() {
	t.stats.Closures++
}

// RecordUnresolved counts a value reference that named no known function.
func (t *FunctionPointerTracker) RecordUnresolved() {
	t.stats.UnresolvedRefs++
}

// RecordHigherOrder records functions passed to a higher-order function.
func (t *FunctionPointerTracker) RecordHigherOrder(call HigherOrderCall) {
	if len(call.Arguments) == 0 {
		return
	}
	t.hof = append(t.hof, call)
	t.stats.HigherOrderCalls++
}

// HigherOrderCalls returns recorded higher-order calls ordered by caller
// and line.
func (t *FunctionPointerTracker) HigherOrderCalls() []HigherOrderCall {
	out := append([]HigherOrderCall(nil), t.hof...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Caller != out[j].Caller {
			return out[i].Caller.String() < out[j].Caller.String()
		}
		return out[i].Line < out[j].Line
	})
	return out
}

// Stats returns tracking counts.
func (t *FunctionPointerTracker) Stats() PointerStats {
	return t.stats
}
