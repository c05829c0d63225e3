// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

import (
	"strings"
)

// TypeExpr is the dispatch-relevant reading of a type annotation.
//
// Exactly one of Concrete or Traits is set for types the resolver can use.
// "&mut Box<dyn Store + Send>" yields Traits ["Store"]; "Arc<Cache>" yields
// Concrete "Cache"; "T" yields Concrete "T" which callers look up in the
// function's generic bounds.
type TypeExpr struct {
	Concrete string
	Traits   []string
}

// wrapperTypes are smart pointers that dispatch to their contents.
var wrapperTypes = map[string]bool{
	"Box": true, "Rc": true, "Arc": true, "Pin": true,
}

// autoTraits carry no methods the resolver can dispatch through.
var autoTraits = map[string]bool{
	"Send": true, "Sync": true, "Sized": true, "Unpin": true, "Copy": true,
	"?Sized": true,
}

// ParseTypeExpr reads a Rust or Python type annotation.
func ParseTypeExpr(text string) TypeExpr {
	t := strings.TrimSpace(text)
	for {
		before := t
		t = strings.TrimPrefix(t, "&")
		t = strings.TrimSpace(t)
		if strings.HasPrefix(t, "'") {
			if i := strings.IndexByte(t, ' '); i > 0 {
				t = strings.TrimSpace(t[i+1:])
			}
		}
		t = strings.TrimPrefix(t, "mut ")
		t = strings.TrimSpace(t)

		name, inner, ok := splitGeneric(t)
		if ok && wrapperTypes[LastSegment(name)] {
			t = inner
		}
		if t == before {
			break
		}
	}

	switch {
	case strings.HasPrefix(t, "dyn "):
		return TypeExpr{Traits: boundList(strings.TrimPrefix(t, "dyn "))}
	case strings.HasPrefix(t, "impl "):
		return TypeExpr{Traits: boundList(strings.TrimPrefix(t, "impl "))}
	}
	// Python annotations may be quoted forward references.
	t = strings.Trim(t, `"'`)
	if t == "" || strings.ContainsAny(t, "([|") {
		return TypeExpr{}
	}
	return TypeExpr{Concrete: LastSegment(StripGenerics(t))}
}

// ParseBounds splits a "T: A + B" style declaration into its name and the
// trait bounds, skipping lifetimes and auto traits.
func ParseBounds(decl string) (string, []string) {
	name, rest, ok := strings.Cut(decl, ":")
	if !ok {
		return strings.TrimSpace(decl), nil
	}
	name = strings.TrimSpace(name)
	if strings.HasPrefix(name, "const ") || strings.HasPrefix(name, "'") {
		return "", nil
	}
	if i := strings.IndexByte(rest, '='); i >= 0 {
		rest = rest[:i]
	}
	return name, boundList(rest)
}

// boundList splits "A + B<X> + 'a" into ["A", "B"].
func boundList(s string) []string {
	var out []string
	depth := 0
	start := 0
	flush := func(end int) {
		part := strings.TrimSpace(s[start:end])
		if part == "" || strings.HasPrefix(part, "'") {
			return
		}
		name := LastSegment(StripGenerics(part))
		if name == "" || autoTraits[name] {
			return
		}
		out = append(out, name)
	}
	for i, r := range s {
		switch r {
		case '<', '(':
			depth++
		case '>', ')':
			depth--
		case '+':
			if depth == 0 {
				flush(i)
				start = i + 1
			}
		}
	}
	flush(len(s))
	return out
}

// splitGeneric splits "Box<dyn T>" into "Box" and "dyn T".
func splitGeneric(t string) (string, string, bool) {
	open := strings.IndexByte(t, '<')
	if open <= 0 || !strings.HasSuffix(t, ">") {
		return "", "", false
	}
	return t[:open], strings.TrimSpace(t[open+1 : len(t)-1]), true
}
