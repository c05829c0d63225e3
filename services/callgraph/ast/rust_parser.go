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
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/rust"
)

// higherOrderFunctions are callees whose function-valued arguments are
// invoked on the caller's behalf.
var higherOrderFunctions = map[string]bool{
	"map": true, "filter": true, "filter_map": true, "flat_map": true,
	"for_each": true, "fold": true, "try_fold": true, "any": true, "all": true,
	"find": true, "find_map": true, "position": true, "and_then": true,
	"or_else": true, "map_err": true, "unwrap_or_else": true, "map_or_else": true,
	"then": true, "inspect": true, "take_while": true, "skip_while": true,
	"sort_by": true, "sort_by_key": true, "max_by_key": true, "min_by_key": true,
	"retain": true, "spawn": true, "spawn_blocking": true, "sorted": true,
	"reduce": true,
}

// macroCallPattern finds call-shaped text inside macro token trees.
var macroCallPattern = regexp.MustCompile(`(\.\s*)?\b([A-Za-z_][A-Za-z0-9_]*(?:::[A-Za-z_][A-Za-z0-9_]*)*)\s*(?:::<[^()]*>)?\s*\(`)

// rustKeywords are call-shaped tokens that are never function calls.
var rustKeywords = map[string]bool{
	"if": true, "while": true, "for": true, "match": true, "return": true,
	"in": true, "as": true, "fn": true, "move": true, "loop": true,
	"Some": true, "Ok": true, "Err": true, "None": true,
}

// RustParser implements Parser for Rust source code.
//
// Description:
//
//	RustParser uses tree-sitter to parse Rust files and flattens functions,
//	impl blocks, traits, use trees, call sites and function-valued
//	references into a FileAST.
//
// Thread Safety:
//
//	RustParser instances are safe for concurrent use. Each Parse call
//	creates its own tree-sitter parser.
type RustParser struct {
	opts ParserOptions
}

// NewRustParser creates a RustParser with the given options.
//
// Example:
//
//	parser := NewRustParser(WithMaxFileSize(5 * 1024 * 1024))
func NewRustParser(opts ...ParserOption) *RustParser {
	return &RustParser{opts: buildParserOptions(opts)}
}

// Language returns LanguageRust.
func (p *RustParser) Language() Language {
	return LanguageRust
}

// Extensions returns []string{".rs"}.
func (p *RustParser) Extensions() []string {
	return []string{".rs"}
}

// Parse extracts functions, calls and imports from Rust source code.
//
// Description:
//
//	Parses content with tree-sitter and walks the tree once with an
//	explicit stack. In strict mode (the default) a tree containing syntax
//	errors is rejected with ErrSyntax so the file contributes nothing.
//
// Inputs:
//   - ctx: Context for cancellation. Checked before and after parsing.
//   - content: Raw source bytes. Must be valid UTF-8.
//   - filePath: Path relative to the project root, slash separated.
//
// Outputs:
//   - *FileAST: Extracted data. Never nil on success.
//   - error: ErrFileTooLarge, ErrInvalidContent, ErrSyntax or a context error.
//
// Thread Safety:
//
//	This method is safe for concurrent use.
func (p *RustParser) Parse(ctx context.Context, content []byte, filePath string) (*FileAST, error) {
	ctx, span := startParseSpan(ctx, LanguageRust, filePath, len(content))
	defer span.End()

	start := time.Now()

	hash, err := validateContent(ctx, content, filePath, p.opts.MaxFileSize)
	if err != nil {
		recordParseMetrics(ctx, LanguageRust, time.Since(start), 0, false)
		return nil, err
	}

	parser := sitter.NewParser()
	parser.SetLanguage(rust.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		recordParseMetrics(ctx, LanguageRust, time.Since(start), 0, false)
		return nil, fmt.Errorf("tree-sitter parse failed: %w", err)
	}
	defer tree.Close()

	if err := ctx.Err(); err != nil {
		recordParseMetrics(ctx, LanguageRust, time.Since(start), 0, false)
		return nil, fmt.Errorf("parse canceled after tree-sitter: %w", err)
	}

	root := tree.RootNode()
	if root == nil {
		recordParseMetrics(ctx, LanguageRust, time.Since(start), 0, false)
		return nil, newParseError(filePath, 0, ErrInvalidContent, "tree-sitter returned nil root node")
	}
	if root.HasError() && !p.opts.TolerateErrors {
		recordParseMetrics(ctx, LanguageRust, time.Since(start), 0, false)
		return nil, newParseError(filePath, firstErrorLine(root), ErrSyntax, "source contains syntax errors")
	}

	result := &FileAST{
		Path:     filePath,
		Language: LanguageRust,
		Hash:     hash,
	}
	w := &rustWalker{content: content, result: result}
	w.walk(root)

	setParseSpanResult(span, len(result.Functions), len(result.Uses))
	recordParseMetrics(ctx, LanguageRust, time.Since(start), len(result.Functions), true)

	return result, nil
}

// rustScope is the lexical context of a node.
type rustScope struct {
	module     []string
	owner      string
	trait      string
	inTraitDef bool
	inTest     bool
	fn         *Function
}

type rustFrame struct {
	node  *sitter.Node
	scope *rustScope
	attrs []string
}

// rustWalker flattens one Rust syntax tree.
type rustWalker struct {
	content []byte
	result  *FileAST
	stack   []rustFrame
}

func (w *rustWalker) text(n *sitter.Node) string {
	if n == nil {
		return ""
	}
	return n.Content(w.content)
}

// walk visits the tree iteratively in source order.
func (w *rustWalker) walk(root *sitter.Node) {
	w.stack = []rustFrame{{node: root, scope: &rustScope{}}}
	for len(w.stack) > 0 {
		f := w.stack[len(w.stack)-1]
		w.stack = w.stack[:len(w.stack)-1]
		w.visit(f)
	}
}

func (w *rustWalker) visit(f rustFrame) {
	n, scope := f.node, f.scope

	switch n.Type() {
	case "function_item":
		fn := w.newFunction(n, scope, f.attrs)
		inner := *scope
		inner.fn = fn
		if body := n.ChildByFieldName("body"); body != nil {
			w.pushChildren(body, &inner)
		}
		return

	case "function_signature_item", "foreign_mod_item", "const_item", "static_item",
		"type_item", "line_comment", "block_comment", "attribute_item", "inner_attribute_item":
		return

	case "impl_item":
		w.visitImpl(n, scope)
		return

	case "trait_item":
		w.visitTrait(n, scope)
		return

	case "mod_item":
		w.visitMod(n, scope, f.attrs)
		return

	case "use_declaration":
		w.visitUse(n, scope)
		return

	case "struct_item", "enum_item", "union_item":
		if name := n.ChildByFieldName("name"); name != nil {
			w.result.Types = append(w.result.Types, TypeDecl{
				Name:   w.text(name),
				Module: copyPath(scope.module),
				Line:   lineOf(n),
			})
		}
		return

	case "macro_invocation":
		w.visitMacro(n, scope)
		return

	case "call_expression":
		w.visitCall(n, scope)

	case "let_declaration":
		w.visitLet(n, scope)

	case "arguments", "array_expression", "tuple_expression":
		w.collectValueRefs(n, scope)

	case "field_initializer":
		if v := n.ChildByFieldName("value"); v != nil && scope.fn != nil {
			w.addValueRef(scope.fn, v, "")
		}
	}

	if scope.fn != nil {
		scope.fn.Complexity += rustDecisionWeight(n, w.content)
	}
	w.pushChildren(n, scope)
}

// pushChildren pushes the named children of n so they pop in source order,
// attaching each run of outer attributes to the item that follows it.
func (w *rustWalker) pushChildren(n *sitter.Node, scope *rustScope) {
	count := int(n.NamedChildCount())
	if count == 0 {
		return
	}
	frames := make([]rustFrame, 0, count)
	var pending []string
	for i := 0; i < count; i++ {
		c := n.NamedChild(i)
		if c == nil {
			continue
		}
		switch c.Type() {
		case "attribute_item":
			pending = append(pending, normalizeRustAttribute(w.text(c)))
			continue
		case "line_comment", "block_comment":
			continue
		}
		frames = append(frames, rustFrame{node: c, scope: scope, attrs: pending})
		pending = nil
	}
	for i := len(frames) - 1; i >= 0; i-- {
		w.stack = append(w.stack, frames[i])
	}
}

func (w *rustWalker) newFunction(n *sitter.Node, scope *rustScope, attrs []string) *Function {
	base := w.text(n.ChildByFieldName("name"))
	fn := &Function{
		Name:         base,
		BaseName:     base,
		Owner:        scope.owner,
		Trait:        scope.trait,
		InTraitDef:   scope.inTraitDef,
		Module:       copyPath(scope.module),
		StartLine:    lineOf(n),
		EndLine:      endLineOf(n),
		Attributes:   attrs,
		InTestModule: scope.inTest,
		Complexity:   1,
	}
	if scope.owner != "" {
		fn.Name = scope.owner + "::" + base
	}
	if scope.trait != "" {
		fn.Visibility = VisibilityPublic
	}

	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		switch c.Type() {
		case "visibility_modifier":
			if v := w.text(c); v == "pub" {
				fn.Visibility = VisibilityPublic
			} else if fn.Visibility != VisibilityPublic {
				fn.Visibility = VisibilityRestricted
			}
		case "function_modifiers":
			mods := w.text(c)
			fn.IsAsync = strings.Contains(mods, "async")
			fn.IsExternABI = strings.Contains(mods, "extern")
		case "where_clause":
			for j := 0; j < int(c.NamedChildCount()); j++ {
				w.addBounds(fn, w.text(c.NamedChild(j)))
			}
		}
	}

	if tps := n.ChildByFieldName("type_parameters"); tps != nil {
		for i := 0; i < int(tps.NamedChildCount()); i++ {
			w.addBounds(fn, w.text(tps.NamedChild(i)))
		}
	}

	if params := n.ChildByFieldName("parameters"); params != nil {
		for i := 0; i < int(params.NamedChildCount()); i++ {
			c := params.NamedChild(i)
			switch c.Type() {
			case "self_parameter":
				fn.Params = append(fn.Params, Param{Name: "self", Type: scope.owner})
			case "parameter":
				name := strings.TrimPrefix(w.text(c.ChildByFieldName("pattern")), "mut ")
				fn.Params = append(fn.Params, Param{
					Name: strings.TrimSpace(name),
					Type: w.text(c.ChildByFieldName("type")),
				})
			}
		}
	}

	w.result.Functions = append(w.result.Functions, fn)
	return fn
}

func (w *rustWalker) addBounds(fn *Function, decl string) {
	name, bounds := ParseBounds(decl)
	if name == "" || len(bounds) == 0 {
		return
	}
	if fn.Bounds == nil {
		fn.Bounds = make(map[string][]string)
	}
	fn.Bounds[name] = append(fn.Bounds[name], bounds...)
}

func (w *rustWalker) visitImpl(n *sitter.Node, scope *rustScope) {
	typ := normalizeTypeName(w.text(n.ChildByFieldName("type")))
	trait := normalizeTypeName(w.text(n.ChildByFieldName("trait")))
	if typ == "" {
		return
	}
	body := n.ChildByFieldName("body")
	impl := ImplBlock{
		Trait:   trait,
		Type:    typ,
		Methods: w.memberNames(body),
		Module:  copyPath(scope.module),
		Line:    lineOf(n),
	}
	w.result.Impls = append(w.result.Impls, impl)

	if body == nil {
		return
	}
	inner := &rustScope{
		module: scope.module,
		owner:  typ,
		trait:  trait,
		inTest: scope.inTest,
	}
	w.pushChildren(body, inner)
}

func (w *rustWalker) visitTrait(n *sitter.Node, scope *rustScope) {
	name := w.text(n.ChildByFieldName("name"))
	if name == "" {
		return
	}
	body := n.ChildByFieldName("body")
	w.result.Traits = append(w.result.Traits, TraitDef{
		Name:    name,
		Methods: w.memberNames(body),
		Module:  copyPath(scope.module),
		Line:    lineOf(n),
	})
	if body == nil {
		return
	}
	inner := &rustScope{
		module:     scope.module,
		owner:      name,
		trait:      name,
		inTraitDef: true,
		inTest:     scope.inTest,
	}
	w.pushChildren(body, inner)
}

// memberNames returns the function names declared directly in a body.
func (w *rustWalker) memberNames(body *sitter.Node) []string {
	if body == nil {
		return nil
	}
	var names []string
	for i := 0; i < int(body.NamedChildCount()); i++ {
		c := body.NamedChild(i)
		if c.Type() == "function_item" || c.Type() == "function_signature_item" {
			if name := w.text(c.ChildByFieldName("name")); name != "" {
				names = append(names, name)
			}
		}
	}
	return names
}

func (w *rustWalker) visitMod(n *sitter.Node, scope *rustScope, attrs []string) {
	name := w.text(n.ChildByFieldName("name"))
	body := n.ChildByFieldName("body")
	if name == "" || body == nil {
		return
	}
	isTest := scope.inTest
	for _, a := range attrs {
		if a == "cfg(test)" {
			isTest = true
		}
	}
	path := append(copyPath(scope.module), name)
	w.result.Modules = append(w.result.Modules, ModuleDecl{
		Path:   path,
		IsTest: isTest,
		Line:   lineOf(n),
	})
	w.pushChildren(body, &rustScope{module: path, inTest: isTest})
}

func (w *rustWalker) visitUse(n *sitter.Node, scope *rustScope) {
	arg := n.ChildByFieldName("argument")
	if arg == nil {
		return
	}
	public := false
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if c := n.NamedChild(i); c.Type() == "visibility_modifier" && w.text(c) == "pub" {
			public = true
		}
	}
	for _, u := range ParseUseTree(w.text(arg)) {
		u.IsPublic = public
		u.Module = copyPath(scope.module)
		u.Line = lineOf(n)
		w.result.Uses = append(w.result.Uses, u)
	}
}

func (w *rustWalker) visitCall(n *sitter.Node, scope *rustScope) {
	if scope.fn == nil {
		return
	}
	target := n.ChildByFieldName("function")
	if target == nil {
		return
	}
	if target.Type() == "generic_function" {
		if inner := target.ChildByFieldName("function"); inner != nil {
			target = inner
		}
	}

	call := CallSite{Line: lineOf(n)}
	switch target.Type() {
	case "identifier", "scoped_identifier":
		call.Path = w.rewriteSelfType(compactPath(w.text(target)), scope)
	case "field_expression":
		field := target.ChildByFieldName("field")
		if field == nil || field.Type() != "field_identifier" {
			return
		}
		call.IsMethod = true
		call.Path = w.text(field)
		call.Receiver = compactPath(w.text(target.ChildByFieldName("value")))
	default:
		return
	}
	if call.Path == "" {
		return
	}
	scope.fn.Calls = append(scope.fn.Calls, call)
}

// rewriteSelfType replaces a leading Self segment with the impl type.
// Inside a trait body Self stays symbolic so dispatch can expand it.
func (w *rustWalker) rewriteSelfType(path string, scope *rustScope) string {
	if scope.owner == "" || scope.inTraitDef {
		return path
	}
	if path == "Self" {
		return scope.owner
	}
	if strings.HasPrefix(path, "Self::") {
		return scope.owner + path[len("Self"):]
	}
	return path
}

func (w *rustWalker) visitLet(n *sitter.Node, scope *rustScope) {
	fn := scope.fn
	if fn == nil {
		return
	}
	pattern := n.ChildByFieldName("pattern")
	if pattern == nil {
		return
	}
	name := strings.TrimSpace(strings.TrimPrefix(w.text(pattern), "mut "))
	if !isIdentifier(name) {
		return
	}

	if t := n.ChildByFieldName("type"); t != nil {
		setLocalType(fn, name, w.text(t))
	}

	value := n.ChildByFieldName("value")
	if value == nil {
		return
	}
	line := lineOf(n)
	switch value.Type() {
	case "identifier", "scoped_identifier":
		fn.Bindings = append(fn.Bindings, Binding{
			Name:   name,
			Target: w.rewriteSelfType(compactPath(w.text(value)), scope),
			Line:   line,
		})
	case "closure_expression":
		fn.Bindings = append(fn.Bindings, Binding{Name: name, IsClosure: true, Line: line})
	case "struct_expression":
		if _, ok := fn.LocalTypes[name]; !ok {
			setLocalType(fn, name, normalizeTypeName(w.text(value.ChildByFieldName("name"))))
		}
	case "call_expression":
		// let x = Type::new(..) types x as Type.
		callee := value.ChildByFieldName("function")
		if callee == nil || callee.Type() != "scoped_identifier" {
			return
		}
		path := w.rewriteSelfType(compactPath(w.text(callee)), scope)
		segs := strings.Split(StripGenerics(path), "::")
		if len(segs) >= 2 && isTypeName(segs[len(segs)-2]) {
			if _, ok := fn.LocalTypes[name]; !ok {
				setLocalType(fn, name, segs[len(segs)-2])
			}
		}
	}
}

// collectValueRefs records bare paths passed as arguments or collected into
// arrays and tuples.
func (w *rustWalker) collectValueRefs(n *sitter.Node, scope *rustScope) {
	if scope.fn == nil {
		return
	}
	hof := ""
	if n.Type() == "arguments" {
		if parent := n.Parent(); parent != nil && parent.Type() == "call_expression" {
			hof = w.calleeName(parent)
			if !higherOrderFunctions[hof] {
				hof = ""
			}
		}
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		w.addValueRef(scope.fn, n.NamedChild(i), hof)
	}
}

func (w *rustWalker) addValueRef(fn *Function, v *sitter.Node, hof string) {
	if v == nil {
		return
	}
	if v.Type() == "reference_expression" {
		v = v.ChildByFieldName("value")
		if v == nil {
			return
		}
	}
	if v.Type() != "identifier" && v.Type() != "scoped_identifier" {
		return
	}
	path := compactPath(w.text(v))
	if path == "" || path == "self" || isTypeName(LastSegment(path)) {
		return
	}
	fn.ValueRefs = append(fn.ValueRefs, ValueRef{Path: path, Line: lineOf(v), HigherOrder: hof})
}

// calleeName returns the last path segment or method name of a call.
func (w *rustWalker) calleeName(call *sitter.Node) string {
	target := call.ChildByFieldName("function")
	if target == nil {
		return ""
	}
	if target.Type() == "generic_function" {
		target = target.ChildByFieldName("function")
		if target == nil {
			return ""
		}
	}
	if target.Type() == "field_expression" {
		return w.text(target.ChildByFieldName("field"))
	}
	return LastSegment(StripGenerics(w.text(target)))
}

// visitMacro recovers calls from macro arguments, which tree-sitter keeps as
// unparsed token trees.
func (w *rustWalker) visitMacro(n *sitter.Node, scope *rustScope) {
	if scope.fn == nil {
		return
	}
	var tokens *sitter.Node
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if c := n.NamedChild(i); c.Type() == "token_tree" {
			tokens = c
			break
		}
	}
	if tokens == nil {
		return
	}
	text := w.text(tokens)
	base := lineOf(tokens)
	for _, m := range macroCallPattern.FindAllStringSubmatchIndex(text, -1) {
		name := text[m[4]:m[5]]
		if rustKeywords[name] {
			continue
		}
		line := base + strings.Count(text[:m[0]], "\n")
		call := CallSite{Path: w.rewriteSelfType(name, scope), Line: line, InMacro: true}
		if m[2] >= 0 {
			call.IsMethod = true
			call.Path = name
			if strings.Contains(name, "::") {
				continue
			}
		}
		scope.fn.Calls = append(scope.fn.Calls, call)
	}
}

// rustDecisionWeight returns the cyclomatic contribution of a node.
func rustDecisionWeight(n *sitter.Node, content []byte) int {
	switch n.Type() {
	case "if_expression", "if_let_expression", "while_expression",
		"while_let_expression", "for_expression", "match_arm":
		return 1
	case "match_expression":
		return -1
	case "binary_expression":
		if op := n.ChildByFieldName("operator"); op != nil {
			if s := op.Content(content); s == "&&" || s == "||" {
				return 1
			}
		}
	}
	return 0
}

// ParseUseTree flattens the argument of a use declaration.
//
// "a::{b, c as d, e::*}" yields a::b (alias b), a::c (alias d) and a
// glob import of a::e. A trailing "self" imports the module itself.
func ParseUseTree(text string) []UseDecl {
	var out []UseDecl
	type item struct {
		prefix []string
		tree   string
	}
	work := []item{{tree: compactPath(text)}}
	for len(work) > 0 {
		it := work[0]
		work = work[1:]
		tree := strings.TrimPrefix(it.tree, "::")

		if open := strings.IndexByte(tree, '{'); open >= 0 {
			head := strings.TrimSuffix(tree[:open], "::")
			prefix := appendPath(it.prefix, head)
			closeIdx := strings.LastIndexByte(tree, '}')
			if closeIdx < open {
				continue
			}
			for _, part := range splitTopLevel(tree[open+1 : closeIdx]) {
				work = append(work, item{prefix: prefix, tree: part})
			}
			continue
		}

		if tree == "*" || strings.HasSuffix(tree, "::*") {
			path := appendPath(it.prefix, strings.TrimSuffix(strings.TrimSuffix(tree, "*"), "::"))
			out = append(out, UseDecl{Path: path, IsGlob: true})
			continue
		}

		pathText, alias, _ := strings.Cut(tree, " as ")
		path := appendPath(it.prefix, pathText)
		if len(path) == 0 {
			continue
		}
		if path[len(path)-1] == "self" {
			path = path[:len(path)-1]
			if len(path) == 0 {
				continue
			}
		}
		if alias == "" {
			alias = path[len(path)-1]
		}
		if alias == "_" {
			continue
		}
		out = append(out, UseDecl{Path: path, Alias: alias})
	}
	return out
}

// splitTopLevel splits on commas outside braces.
func splitTopLevel(s string) []string {
	var parts []string
	depth, start := 0, 0
	for i, r := range s {
		switch r {
		case '{':
			depth++
		case '}':
			depth--
		case ',':
			if depth == 0 {
				if p := strings.TrimSpace(s[start:i]); p != "" {
					parts = append(parts, p)
				}
				start = i + 1
			}
		}
	}
	if p := strings.TrimSpace(s[start:]); p != "" {
		parts = append(parts, p)
	}
	return parts
}

func appendPath(prefix []string, path string) []string {
	out := copyPath(prefix)
	path = strings.Trim(path, ":")
	if path == "" {
		return out
	}
	return append(out, strings.Split(path, "::")...)
}

// compactPath removes whitespace around path separators and collapses
// other whitespace runs to one space.
func compactPath(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	for _, sep := range []string{"::", ",", "{", "}", "<", ">"} {
		s = strings.ReplaceAll(s, " "+sep, sep)
		s = strings.ReplaceAll(s, sep+" ", sep)
	}
	return s
}

// normalizeRustAttribute turns "#[tokio::test(flavor = ...)]" into
// "tokio::test" and "#[cfg(test)]" into "cfg(test)".
func normalizeRustAttribute(text string) string {
	s := strings.TrimSpace(text)
	s = strings.TrimPrefix(s, "#")
	s = strings.TrimPrefix(s, "!")
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	s = strings.TrimSpace(s)
	if compact := strings.ReplaceAll(s, " ", ""); compact == "cfg(test)" {
		return compact
	}
	if i := strings.IndexAny(s, "(= "); i >= 0 {
		s = s[:i]
	}
	return s
}

// normalizeTypeName reduces "crate::model::User<T>" to "User".
func normalizeTypeName(text string) string {
	t := strings.TrimSpace(text)
	if t == "" {
		return ""
	}
	t = strings.TrimPrefix(t, "&")
	t = strings.TrimPrefix(strings.TrimSpace(t), "mut ")
	return LastSegment(StripGenerics(compactPath(t)))
}

func setLocalType(fn *Function, name, typ string) {
	if typ == "" {
		return
	}
	if fn.LocalTypes == nil {
		fn.LocalTypes = make(map[string]string)
	}
	fn.LocalTypes[name] = typ
}

func copyPath(p []string) []string {
	if len(p) == 0 {
		return nil
	}
	out := make([]string, len(p))
	copy(out, p)
	return out
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (i > 0 && r >= '0' && r <= '9') {
			continue
		}
		return false
	}
	return true
}

// isTypeName reports whether a segment looks like a type (UpperCamelCase).
func isTypeName(s string) bool {
	return s != "" && s[0] >= 'A' && s[0] <= 'Z' && strings.ToUpper(s) != s
}
