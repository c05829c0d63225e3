// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package index

import (
	"path"
	"strings"

	"github.com/AleutianAI/callgraph/services/callgraph/ast"
)

// CrateKeyword is the first segment of every Rust module path.
const CrateKeyword = "crate"

// ModulePath locates a file in its language's module namespace.
type ModulePath struct {
	// Root is the crate directory for Rust ("" for a crate at the project
	// root) and "" for Python.
	Root string

	// Crate is the Rust crate name as it appears in paths from other
	// crates: the crate directory name with '-' replaced by '_'.
	Crate string

	// Segments is the module path. Rust paths start with "crate"; Python
	// paths are the dotted package path.
	Segments []string
}

// String joins the segments with the language separator.
func (m ModulePath) String() string {
	if len(m.Segments) > 0 && m.Segments[0] == CrateKeyword {
		return strings.Join(m.Segments, "::")
	}
	return strings.Join(m.Segments, ".")
}

// ModulePathFor returns the module path of a slash-separated, root-relative
// file path.
//
// Rust:
//
//	"src/lib.rs"              -> crate
//	"src/net/mod.rs"          -> crate::net
//	"crates/io-x/src/fs.rs"   -> crate::fs in crate io_x
//	"build.rs"                -> crate (its own root)
//
// Python:
//
//	"pkg/sub/mod.py"      -> pkg.sub.mod
//	"pkg/__init__.py"     -> pkg
func ModulePathFor(file string, lang ast.Language) ModulePath {
	file = path.Clean(strings.ReplaceAll(file, "\\", "/"))
	if lang == ast.LanguagePython {
		return pythonModulePath(file)
	}
	return rustModulePath(file)
}

func rustModulePath(file string) ModulePath {
	parts := strings.Split(file, "/")
	srcAt := -1
	for i := len(parts) - 2; i >= 0; i-- {
		if parts[i] == "src" {
			srcAt = i
			break
		}
	}

	var mp ModulePath
	var rel []string
	if srcAt >= 0 {
		mp.Root = strings.Join(parts[:srcAt], "/")
		rel = parts[srcAt+1:]
	} else {
		mp.Root = path.Dir(file)
		if mp.Root == "." {
			mp.Root = ""
		}
		rel = []string{parts[len(parts)-1]}
	}
	if mp.Root != "" {
		mp.Crate = strings.ReplaceAll(path.Base(mp.Root), "-", "_")
	}

	last := strings.TrimSuffix(rel[len(rel)-1], ".rs")
	rel = rel[:len(rel)-1]
	mp.Segments = append([]string{CrateKeyword}, rel...)
	switch {
	case srcAt < 0:
		mp.Segments = []string{CrateKeyword}
	case last == "mod":
	case len(rel) == 0 && (last == "lib" || last == "main"):
	default:
		mp.Segments = append(mp.Segments, last)
	}
	return mp
}

func pythonModulePath(file string) ModulePath {
	trimmed := strings.TrimSuffix(strings.TrimSuffix(file, ".py"), ".pyi")
	parts := strings.Split(trimmed, "/")
	if parts[len(parts)-1] == "__init__" {
		parts = parts[:len(parts)-1]
	}
	return ModulePath{Segments: parts}
}

// IsPackageInit reports whether a Python file is a package __init__.
func IsPackageInit(file string) bool {
	base := path.Base(file)
	return base == "__init__.py" || base == "__init__.pyi"
}
