// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package discover

import "errors"

// Discovery failures are the only errors that abort a build.
var (
	// ErrRootNotFound indicates the project root does not exist or is not a
	// directory.
	ErrRootNotFound = errors.New("project root not found")

	// ErrDiscovery indicates a directory under the root could not be read.
	ErrDiscovery = errors.New("file discovery failed")

	// ErrInvalidPattern indicates an ignore glob that does not compile.
	ErrInvalidPattern = errors.New("invalid ignore pattern")

	// ErrPathOutsideRoot indicates a supplied file that is absolute or
	// climbs above the root.
	ErrPathOutsideRoot = errors.New("path outside project root")
)
