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
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/minio/highwayhash"
)

// fingerprintKey is the fixed 32-byte HighwayHash key. Changing it
// invalidates every stored entry.
var fingerprintKey = []byte("callgraph-fingerprint-key-000001")

// FileStat is the part of a file's state the fingerprint covers.
type FileStat struct {
	Path    string
	Size    int64
	ModTime int64
}

// StatFiles stats root-relative paths.
//
// Outputs:
//   - []FileStat: One entry per path, in input order.
//   - error: The first stat failure.
func StatFiles(root string, files []string) ([]FileStat, error) {
	out := make([]FileStat, 0, len(files))
	for _, f := range files {
		info, err := os.Stat(filepath.Join(root, filepath.FromSlash(f)))
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", f, err)
		}
		out = append(out, FileStat{Path: f, Size: info.Size(), ModTime: info.ModTime().UnixNano()})
	}
	return out, nil
}

// Fingerprint returns the cache key for a project state.
//
// Description:
//
//	Hashes the absolute root, every file's path, size and modification
//	time, and the configuration hash with 64-bit HighwayHash. File order
//	does not matter. Any edit, addition, removal or config change yields a
//	different key.
//
// Outputs:
//   - string: 16 hex characters.
//   - error: Non-nil only if the hash cannot be created.
func Fingerprint(root string, files []FileStat, configHash string) (string, error) {
	h, err := highwayhash.New64(fingerprintKey)
	if err != nil {
		return "", fmt.Errorf("creating fingerprint hash: %w", err)
	}
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}

	sorted := append([]FileStat(nil), files...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	buf := make([]byte, 0, 256)
	buf = append(buf, root...)
	buf = append(buf, 0)
	for _, f := range sorted {
		buf = append(buf, f.Path...)
		buf = append(buf, 0)
		buf = strconv.AppendInt(buf, f.Size, 10)
		buf = append(buf, 0)
		buf = strconv.AppendInt(buf, f.ModTime, 10)
		buf = append(buf, '\n')
		if len(buf) >= 4096 {
			h.Write(buf)
			buf = buf[:0]
		}
	}
	buf = append(buf, configHash...)
	h.Write(buf)
	return fmt.Sprintf("%016x", h.Sum64()), nil
}
