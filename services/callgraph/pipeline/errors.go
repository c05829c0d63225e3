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
	"errors"
	"fmt"
)

var (
	// ErrDiscovery indicates the project files could not be enumerated.
	// It is the only error that aborts a build.
	ErrDiscovery = errors.New("discovery failed")

	// ErrEmptyRoot indicates Build was called without a project root.
	ErrEmptyRoot = errors.New("project root must not be empty")
)

// FileError records a file that contributed nothing to the graph.
type FileError struct {
	// Path is the root-relative file path.
	Path string `json:"path"`

	// Phase is where the file failed: "read", "parse" or "resolve".
	Phase string `json:"phase"`

	Err error `json:"-"`
}

// Error implements the error interface.
func (e FileError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Phase, e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e FileError) Unwrap() error {
	return e.Err
}

// Message returns the underlying error text.
func (e FileError) Message() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}
