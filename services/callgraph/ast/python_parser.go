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
	"strings"
	"time"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// pythonHigherOrder are builtins and library calls that invoke a
// function-valued argument.
var pythonHigherOrder = map[string]bool{
	"map": true, "filter": true, "sorted": true, "reduce": true, "min": true,
	"max": true, "submit": true, "run_in_executor": true, "apply_async": true,
	"call_soon": true, "create_task": true, "partial": true,
}

// pythonCallbackKeywords are keyword arguments that carry callbacks.
var pythonCallbackKeywords = map[string]bool{
	"target": true, "key": true, "callback": true, "func": true, "fn": true,
}

// PythonParser implements Parser for Python source code.
//
// Description:
//
//	PythonParser uses tree-sitter to parse Python files into a FileAST.
//	Methods are named "Class.method". Statements at module level are
//	attributed to a synthetic "<module>" function at line 1 so that calls
//	made at import time still have a caller.
//
// Thread Safety:
//
//	PythonParser instances are safe for concurrent use.
type PythonParser struct {
	opts ParserOptions
}

// NewPythonParser creates a PythonParser with the given options.
func NewPythonParser(opts ...ParserOption) *PythonParser {
	return &PythonParser{opts: buildParserOptions(opts)}
}

// Language returns LanguagePython.
func (p *PythonParser) Language() Language {
	return LanguagePython
}

// Extensions returns []string{".py", ".pyi"}.
func (p *PythonParser) Extensions() []string {
	return []string{".py", ".pyi"}
}

// Parse extracts functions, calls and imports from Python source code.
//
// Inputs:
//   - ctx: Context for cancellation.
//   - content: Raw source bytes. Must be valid UTF-8.
//   - filePath: Path relative to the project root, slash separated.
//
// Outputs:
//   - *FileAST: Extracted data. Never nil on success.
//   - error: ErrFileTooLarge, ErrInvalidContent, ErrSyntax or a context error.
func (p *PythonParser) Parse(ctx context.Context, content []byte, filePath string) (*FileAST, error) {
	ctx, span := startParseSpan(ctx, LanguagePython, filePath, len(content))
	defer span.End()

	start := time.Now()

	hash, err := validateContent(ctx, content, filePath, p.opts.MaxFileSize)
	if err != nil {
		recordParseMetrics(ctx, LanguagePython, time.Since(start), 0, false)
		return nil, err
	}

	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		recordParseMetrics(ctx, LanguagePython, time.Since(start), 0, false)
		return nil, fmt.Errorf("tree-sitter parse failed: %w", err)
	}
	defer tree.Close()

	if err := ctx.Err(); err != nil {
		recordParseMetrics(ctx, LanguagePython, time.Since(start), 0, false)
		return nil, fmt.Errorf("parse canceled after tree-sitter: %w", err)
	}

	root := tree.RootNode()
	if root == nil {
		recordParseMetrics(ctx, LanguagePython, time.Since(start), 0, false)
		return nil, newParseError(filePath, 0, ErrInvalidContent, "tree-sitter returned nil root node")
	}
	if root.HasError() && !p.opts.TolerateErrors {
		recordParseMetrics(ctx, LanguagePython, time.Since(start), 0, false)
		return nil, newParseError(filePath, firstErrorLine(root), ErrSyntax, "source contains syntax errors")
	}

	result := &FileAST{
		Path:     filePath,
		Language: LanguagePython,
		Hash:     hash,
	}
	w := &pythonWalker{content: content, result: result, lastLine: endLineOf(root)}
	w.walk(root)

	setParseSpanResult(span, len(result.Functions), len(result.Uses))
	recordParseMetrics(ctx, LanguagePython, time.Since(start), len(result.Functions), true)

	return result, nil
}

type pyScope struct {
	owner string
	fn    *Function
}

type pyFrame struct {
	node       *sitter.Node
	scope      *pyScope
	decorators []string
}

type pythonWalker struct {
	content  []byte
	result   *FileAST
	stack    []pyFrame
	module   *Function
	lastLine int
}

func (w *pythonWalker) text(n *sitter.Node) string {
	if n == nil {
		return ""
	}
	return n.Content(w.content)
}

func (w *pythonWalker) walk(root *sitter.Node) {
	w.stack = []pyFrame{{node: root, scope: &pyScope{}}}
	for len(w.stack) > 0 {
		f := w.stack[len(w.stack)-1]
		w.stack = w.stack[:len(w.stack)-1]
		w.visit(f)
	}
}

// moduleFunction returns the synthetic function owning top-level code,
// creating it on first use.
func (w *pythonWalker) moduleFunction() *Function {
	if w.module == nil {
		w.module = &Function{
			Name:       ModuleFunctionName,
			BaseName:   ModuleFunctionName,
			StartLine:  1,
			EndLine:    w.lastLine,
			Visibility: VisibilityPublic,
			Complexity: 1,
		}
		w.result.Functions = append(w.result.Functions, w.module)
	}
	return w.module
}

// current returns the function statements in scope belong to.
func (w *pythonWalker) current(scope *pyScope) *Function {
	if scope.fn != nil {
		return scope.fn
	}
	return w.moduleFunction()
}

func (w *pythonWalker) visit(f pyFrame) {
	n, scope := f.node, f.scope

	switch n.Type() {
	case "decorated_definition":
		var decorators []string
		for i := 0; i < int(n.NamedChildCount()); i++ {
			c := n.NamedChild(i)
			if c.Type() == "decorator" {
				decorators = append(decorators, normalizeDecorator(w.text(c)))
			}
		}
		if def := n.ChildByFieldName("definition"); def != nil {
			w.stack = append(w.stack, pyFrame{node: def, scope: scope, decorators: decorators})
		}
		return

	case "function_definition":
		fn := w.newFunction(n, scope, f.decorators)
		if body := n.ChildByFieldName("body"); body != nil {
			w.pushChildren(body, &pyScope{owner: "", fn: fn})
		}
		return

	case "class_definition":
		w.visitClass(n, scope)
		return

	case "import_statement":
		w.visitImport(n)
		return

	case "import_from_statement":
		w.visitImportFrom(n)
		return

	case "comment", "decorator":
		return

	case "call":
		w.visitCall(n, scope)

	case "argument_list":
		w.collectValueRefs(n, scope)

	case "assignment":
		w.visitAssignment(n, scope)
	}

	if weight := pythonDecisionWeight(n); weight != 0 {
		w.current(scope).Complexity += weight
	}
	w.pushChildren(n, scope)
}

func (w *pythonWalker) pushChildren(n *sitter.Node, scope *pyScope) {
	count := int(n.NamedChildCount())
	for i := count - 1; i >= 0; i-- {
		if c := n.NamedChild(i); c != nil {
			w.stack = append(w.stack, pyFrame{node: c, scope: scope})
		}
	}
}

func (w *pythonWalker) newFunction(n *sitter.Node, scope *pyScope, decorators []string) *Function {
	base := w.text(n.ChildByFieldName("name"))
	fn := &Function{
		Name:       base,
		BaseName:   base,
		Owner:      scope.owner,
		StartLine:  lineOf(n),
		EndLine:    endLineOf(n),
		Attributes: decorators,
		IsAsync:    strings.HasPrefix(w.text(n), "async"),
		Complexity: 1,
		Visibility: VisibilityPublic,
	}
	if scope.owner != "" {
		fn.Name = scope.owner + "." + base
	}
	if strings.HasPrefix(base, "_") && !isDunder(base) {
		fn.Visibility = VisibilityPrivate
	}

	if params := n.ChildByFieldName("parameters"); params != nil {
		for i := 0; i < int(params.NamedChildCount()); i++ {
			c := params.NamedChild(i)
			var p Param
			switch c.Type() {
			case "identifier":
				p.Name = w.text(c)
			case "typed_parameter":
				for j := 0; j < int(c.NamedChildCount()); j++ {
					if id := c.NamedChild(j); id.Type() == "identifier" {
						p.Name = w.text(id)
						break
					}
				}
				p.Type = w.text(c.ChildByFieldName("type"))
			case "default_parameter", "typed_default_parameter":
				p.Name = w.text(c.ChildByFieldName("name"))
				p.Type = w.text(c.ChildByFieldName("type"))
			default:
				continue
			}
			if i == 0 && scope.owner != "" && (p.Name == "self" || p.Name == "cls") {
				p.Type = scope.owner
			}
			if p.Name != "" {
				fn.Params = append(fn.Params, p)
			}
		}
	}

	w.result.Functions = append(w.result.Functions, fn)
	return fn
}

func (w *pythonWalker) visitClass(n *sitter.Node, scope *pyScope) {
	name := w.text(n.ChildByFieldName("name"))
	if name == "" {
		return
	}
	impl := ImplBlock{Type: name, Line: lineOf(n)}
	if supers := n.ChildByFieldName("superclasses"); supers != nil {
		for i := 0; i < int(supers.NamedChildCount()); i++ {
			c := supers.NamedChild(i)
			if c.Type() == "identifier" || c.Type() == "attribute" {
				impl.Bases = append(impl.Bases, LastSegment(w.text(c)))
			}
		}
	}
	body := n.ChildByFieldName("body")
	if body != nil {
		for i := 0; i < int(body.NamedChildCount()); i++ {
			c := body.NamedChild(i)
			if c.Type() == "decorated_definition" {
				c = c.ChildByFieldName("definition")
			}
			if c != nil && c.Type() == "function_definition" {
				impl.Methods = append(impl.Methods, w.text(c.ChildByFieldName("name")))
			}
		}
	}
	w.result.Impls = append(w.result.Impls, impl)
	w.result.Types = append(w.result.Types, TypeDecl{Name: name, Line: lineOf(n)})

	if body != nil {
		w.pushChildren(body, &pyScope{owner: name, fn: scope.fn})
	}
}

func (w *pythonWalker) visitImport(n *sitter.Node) {
	line := lineOf(n)
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		switch c.Type() {
		case "dotted_name":
			segs := strings.Split(w.text(c), ".")
			// "import a.b" binds "a".
			w.result.Uses = append(w.result.Uses, UseDecl{
				Path: segs[:1], Alias: segs[0], IsPublic: true, Line: line,
			})
		case "aliased_import":
			path := w.text(c.ChildByFieldName("name"))
			alias := w.text(c.ChildByFieldName("alias"))
			if path == "" || alias == "" {
				continue
			}
			w.result.Uses = append(w.result.Uses, UseDecl{
				Path: strings.Split(path, "."), Alias: alias, IsPublic: true, Line: line,
			})
		}
	}
}

func (w *pythonWalker) visitImportFrom(n *sitter.Node) {
	line := lineOf(n)
	var module []string
	level := 0

	modNode := n.ChildByFieldName("module_name")
	if modNode != nil {
		switch modNode.Type() {
		case "relative_import":
			for j := 0; j < int(modNode.NamedChildCount()); j++ {
				c := modNode.NamedChild(j)
				switch c.Type() {
				case "import_prefix":
					level = strings.Count(w.text(c), ".")
				case "dotted_name":
					module = strings.Split(w.text(c), ".")
				}
			}
		default:
			module = strings.Split(w.text(modNode), ".")
		}
	}

	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		if modNode != nil && c.StartByte() == modNode.StartByte() && c.EndByte() == modNode.EndByte() {
			continue
		}
		switch c.Type() {
		case "wildcard_import":
			w.result.Uses = append(w.result.Uses, UseDecl{
				Path: copyPath(module), IsGlob: true, IsPublic: true, Level: level, Line: line,
			})
		case "dotted_name":
			name := w.text(c)
			w.result.Uses = append(w.result.Uses, UseDecl{
				Path:     append(copyPath(module), strings.Split(name, ".")...),
				Alias:    LastSegment(name),
				IsPublic: true,
				Level:    level,
				Line:     line,
			})
		case "aliased_import":
			name := w.text(c.ChildByFieldName("name"))
			alias := w.text(c.ChildByFieldName("alias"))
			if name == "" {
				continue
			}
			if alias == "" {
				alias = LastSegment(name)
			}
			w.result.Uses = append(w.result.Uses, UseDecl{
				Path:     append(copyPath(module), strings.Split(name, ".")...),
				Alias:    alias,
				IsPublic: true,
				Level:    level,
				Line:     line,
			})
		}
	}
}

func (w *pythonWalker) visitCall(n *sitter.Node, scope *pyScope) {
	target := n.ChildByFieldName("function")
	if target == nil {
		return
	}
	call := CallSite{Line: lineOf(n)}
	switch target.Type() {
	case "identifier":
		call.Path = w.text(target)
	case "attribute":
		call.IsMethod = true
		call.Path = w.text(target.ChildByFieldName("attribute"))
		call.Receiver = strings.Join(strings.Fields(w.text(target.ChildByFieldName("object"))), "")
	default:
		return
	}
	if call.Path == "" {
		return
	}
	fn := w.current(scope)
	fn.Calls = append(fn.Calls, call)
}

func (w *pythonWalker) collectValueRefs(n *sitter.Node, scope *pyScope) {
	hof := ""
	if parent := n.Parent(); parent != nil && parent.Type() == "call" {
		if target := parent.ChildByFieldName("function"); target != nil {
			name := LastSegment(w.text(target))
			if pythonHigherOrder[name] {
				hof = name
			}
		}
	}
	fn := w.current(scope)
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		switch c.Type() {
		case "identifier", "attribute":
			w.addValueRef(fn, c, hof)
		case "keyword_argument":
			kw := w.text(c.ChildByFieldName("name"))
			kwHOF := hof
			if pythonCallbackKeywords[kw] {
				kwHOF = kw
			}
			if v := c.ChildByFieldName("value"); v != nil && (v.Type() == "identifier" || v.Type() == "attribute") {
				w.addValueRef(fn, v, kwHOF)
			}
		}
	}
}

func (w *pythonWalker) addValueRef(fn *Function, v *sitter.Node, hof string) {
	path := strings.Join(strings.Fields(w.text(v)), "")
	switch path {
	case "", "self", "cls", "None", "True", "False":
		return
	}
	fn.ValueRefs = append(fn.ValueRefs, ValueRef{Path: path, Line: lineOf(v), HigherOrder: hof})
}

func (w *pythonWalker) visitAssignment(n *sitter.Node, scope *pyScope) {
	left := n.ChildByFieldName("left")
	if left == nil || left.Type() != "identifier" {
		return
	}
	fn := w.current(scope)
	name := w.text(left)
	if t := n.ChildByFieldName("type"); t != nil {
		setLocalType(fn, name, w.text(t))
	}
	right := n.ChildByFieldName("right")
	if right == nil {
		return
	}
	switch right.Type() {
	case "identifier", "attribute":
		fn.Bindings = append(fn.Bindings, Binding{
			Name:   name,
			Target: strings.Join(strings.Fields(w.text(right)), ""),
			Line:   lineOf(n),
		})
	case "lambda":
		fn.Bindings = append(fn.Bindings, Binding{Name: name, IsClosure: true, Line: lineOf(n)})
	case "call":
		target := right.ChildByFieldName("function")
		if target == nil {
			return
		}
		ctor := LastSegment(w.text(target))
		if isTypeName(ctor) {
			if _, ok := fn.LocalTypes[name]; !ok {
				setLocalType(fn, name, ctor)
			}
		}
	}
}

// pythonDecisionWeight returns the cyclomatic contribution of a node.
func pythonDecisionWeight(n *sitter.Node) int {
	switch n.Type() {
	case "if_statement", "elif_clause", "for_statement", "while_statement",
		"except_clause", "conditional_expression", "boolean_operator",
		"for_in_clause", "if_clause", "case_clause":
		return 1
	}
	return 0
}

// normalizeDecorator turns "@app.route('/x')" into "app.route".
func normalizeDecorator(text string) string {
	s := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(text), "@"))
	if i := strings.IndexByte(s, '('); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

func isDunder(name string) bool {
	return len(name) > 4 && strings.HasPrefix(name, "__") && strings.HasSuffix(name, "__")
}
