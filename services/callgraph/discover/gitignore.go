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

import (
	"bufio"
	"io"
	"strings"

	"github.com/gobwas/glob"
)

// ignoreRule is one compiled .gitignore line.
type ignoreRule struct {
	pattern string

	// globs match the rule; an unanchored rule also matches at any depth.
	globs []glob.Glob

	negate  bool
	dirOnly bool
}

// ignoreSet holds the rules of one .gitignore file. Patterns are matched
// against paths relative to base, the directory holding the file.
type ignoreSet struct {
	base  string
	rules []ignoreRule
}

// parseGitignore compiles the rules of a .gitignore file. Lines that do not
// compile are skipped and returned so the caller can log them.
func parseGitignore(base string, r io.Reader) (*ignoreSet, []string) {
	set := &ignoreSet{base: base}
	var bad []string

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), " \t\r")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		rule := ignoreRule{pattern: line}
		if strings.HasPrefix(line, "!") {
			rule.negate = true
			line = line[1:]
		}
		line = strings.TrimPrefix(line, `\`)
		if strings.HasSuffix(line, "/") {
			rule.dirOnly = true
			line = strings.TrimSuffix(line, "/")
		}
		anchored := strings.Contains(line, "/")
		line = strings.TrimPrefix(line, "/")
		if line == "" {
			continue
		}

		exprs := []string{line}
		if !anchored && !strings.HasPrefix(line, "**") {
			// gobwas/glob mis-handles "{*.x,**/*.x}", so each form is
			// compiled on its own.
			exprs = append(exprs, "**/"+line)
		}
		for _, expr := range exprs {
			g, err := glob.Compile(expr, '/')
			if err != nil {
				rule.globs = nil
				break
			}
			rule.globs = append(rule.globs, g)
		}
		if rule.globs == nil {
			bad = append(bad, rule.pattern)
			continue
		}
		set.rules = append(set.rules, rule)
	}
	return set, bad
}

// match reports whether the set decides rel, and if so whether rel is
// ignored. Later rules override earlier ones.
func (s *ignoreSet) match(rel string, isDir bool) (decided, ignored bool) {
	sub := rel
	if s.base != "" {
		if !strings.HasPrefix(rel, s.base+"/") {
			return false, false
		}
		sub = rel[len(s.base)+1:]
	}
	for _, r := range s.rules {
		if r.dirOnly && !isDir {
			continue
		}
		if r.matches(sub) {
			decided = true
			ignored = !r.negate
		}
	}
	return decided, ignored
}

func (r ignoreRule) matches(p string) bool {
	for _, g := range r.globs {
		if g.Match(p) {
			return true
		}
	}
	return false
}
