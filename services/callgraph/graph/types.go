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
	"fmt"
	"strings"
)

// FunctionID identifies a function definition.
//
// Two definitions are the same function only if file, name and line all
// match. FunctionID is comparable and used directly as a map key.
type FunctionID struct {
	// File is the defining file, relative to the project root.
	File string `json:"file"`

	// Name is the qualified local name ("run", "Type::method", "Class.method").
	Name string `json:"name"`

	// Line is the 1-indexed definition line.
	Line int `json:"line"`
}

// String returns "file:name:line".
func (id FunctionID) String() string {
	return fmt.Sprintf("%s:%s:%d", id.File, id.Name, id.Line)
}

// BaseName returns the name after the last "::" or ".".
func (id FunctionID) BaseName() string {
	name := id.Name
	if i := strings.LastIndex(name, "::"); i >= 0 {
		name = name[i+2:]
	}
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	return name
}

// Owner returns the type part of a method name, or "".
func (id FunctionID) Owner() string {
	if i := strings.LastIndex(id.Name, "::"); i >= 0 {
		return id.Name[:i]
	}
	if i := strings.LastIndex(id.Name, "."); i >= 0 {
		return id.Name[:i]
	}
	return ""
}

// Less orders IDs by file, line, then name.
func (id FunctionID) Less(other FunctionID) bool {
	if id.File != other.File {
		return id.File < other.File
	}
	if id.Line != other.Line {
		return id.Line < other.Line
	}
	return id.Name < other.Name
}

// FunctionNode is a function definition with its syntactic flags.
type FunctionNode struct {
	ID FunctionID `json:"id"`

	// IsEntryPoint marks main, handle_* and run_* style functions.
	IsEntryPoint bool `json:"is_entry_point"`

	// IsTest marks test functions (attribute, name prefix or test path).
	IsTest bool `json:"is_test"`

	Complexity int `json:"cyclomatic_complexity"`

	// Length is the number of source lines.
	Length int `json:"length"`
}

// CallType classifies how a call edge was discovered.
type CallType int

const (
	// CallDirect is a statically named call.
	CallDirect CallType = iota

	// CallDelegate is a call through trait dispatch.
	CallDelegate

	// CallPipeline is a call chained through an iterator or builder pipeline.
	CallPipeline

	// CallAsync is a call to an async function.
	CallAsync

	// CallCallback is a call through a function value or higher-order function.
	CallCallback
)

var callTypeNames = []string{"direct", "delegate", "pipeline", "async", "callback"}

// String returns the lowercase call type name.
func (t CallType) String() string {
	if t < 0 || int(t) >= len(callTypeNames) {
		return fmt.Sprintf("CallType(%d)", int(t))
	}
	return callTypeNames[t]
}

// ParseCallType returns the CallType for a name produced by String.
func ParseCallType(s string) (CallType, error) {
	for i, name := range callTypeNames {
		if name == s {
			return CallType(i), nil
		}
	}
	return CallDirect, fmt.Errorf("%w: call type %q", ErrInvalidGraph, s)
}

// CallEdge is a caller to callee relationship.
type CallEdge struct {
	Caller FunctionID `json:"caller"`
	Callee FunctionID `json:"callee"`
	Type   CallType   `json:"type"`
}

// edgeKey deduplicates edges by endpoints only.
type edgeKey struct {
	caller FunctionID
	callee FunctionID
}

// PendingCall is a call site whose target could not be resolved from the
// caller's own file. Pending calls travel with a partial graph and are
// resolved once every chunk has been merged.
type PendingCall struct {
	Caller FunctionID `json:"caller"`

	// Target is the callee path or method name as written.
	Target string `json:"target"`

	// Receiver is the receiver expression for method calls.
	Receiver string `json:"receiver,omitempty"`

	// ReceiverType is the receiver's declared type when the caller knows it.
	ReceiverType string `json:"receiver_type,omitempty"`

	IsMethod bool `json:"is_method,omitempty"`

	Line int `json:"line"`
}

// Less orders pending calls by caller, line, then target.
func (p PendingCall) Less(other PendingCall) bool {
	if p.Caller != other.Caller {
		return p.Caller.Less(other.Caller)
	}
	if p.Line != other.Line {
		return p.Line < other.Line
	}
	if p.Target != other.Target {
		return p.Target < other.Target
	}
	if p.Receiver != other.Receiver {
		return p.Receiver < other.Receiver
	}
	return p.ReceiverType < other.ReceiverType
}
