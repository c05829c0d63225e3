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

import "errors"

var (
	// ErrInvalidGraph indicates serialized graph data that cannot be loaded.
	ErrInvalidGraph = errors.New("invalid graph")

	// ErrUnsupportedSchema indicates a serialized graph from another
	// schema version.
	ErrUnsupportedSchema = errors.New("unsupported graph schema version")

	// ErrNodeNotFound indicates a query for a function not in the graph.
	ErrNodeNotFound = errors.New("function not found")
)
