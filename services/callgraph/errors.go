// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package callgraph

import "errors"

var (
	// ErrGraphNotFound indicates no cached graph has the requested ID.
	ErrGraphNotFound = errors.New("graph not found")

	// ErrRelativePath indicates a build root that is not absolute.
	ErrRelativePath = errors.New("project root must be an absolute path")

	// ErrRootNotAllowed indicates a build root outside the allowed roots.
	ErrRootNotAllowed = errors.New("project root is not allowed")

	// ErrBuildInProgress indicates a build of the same root is running.
	ErrBuildInProgress = errors.New("build already in progress for this root")

	// ErrBuildTimeout indicates a build exceeded MaxBuildDuration.
	ErrBuildTimeout = errors.New("build timed out")
)
