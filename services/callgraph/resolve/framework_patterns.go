// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resolve

import (
	"fmt"
	"sort"
	"strings"

	"github.com/AleutianAI/callgraph/services/callgraph/ast"
	"github.com/AleutianAI/callgraph/services/callgraph/graph"
	"github.com/AleutianAI/callgraph/services/callgraph/index"
)

// PatternType classifies why a function is invoked from outside the
// analyzed code.
type PatternType int

const (
	PatternTest PatternType = iota
	PatternBenchmark
	PatternWebHandler
	PatternEventHandler
	PatternMacroCallback
	PatternSerialization
	PatternConstructor
	PatternFFI
	PatternMain
	PatternVisitTrait
	PatternCustom
)

var patternNames = []string{
	"test", "benchmark", "web_handler", "event_handler", "macro_callback",
	"serialization", "constructor", "ffi", "main", "visit_trait", "custom",
}

// String returns the snake_case pattern name.
func (p PatternType) String() string {
	if p < 0 || int(p) >= len(patternNames) {
		return fmt.Sprintf("PatternType(%d)", int(p))
	}
	return patternNames[p]
}

// MarshalText implements encoding.TextMarshaler.
func (p PatternType) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *PatternType) UnmarshalText(b []byte) error {
	for i, name := range patternNames {
		if name == string(b) {
			*p = PatternType(i)
			return nil
		}
	}
	return fmt.Errorf("unknown pattern type %q", b)
}

// Exclusion thresholds. Patterns of other types are always excluded.
const (
	ConditionalThreshold = 0.7
	CustomThreshold      = 0.8
)

// FrameworkPattern is one detection.
type FrameworkPattern struct {
	Type       PatternType      `json:"type"`
	Function   graph.FunctionID `json:"function"`
	Framework  string           `json:"framework,omitempty"`
	Trigger    string           `json:"trigger,omitempty"`
	Confidence float64          `json:"confidence"`
}

// Excluded reports whether the pattern puts its function in the framework
// exclusion set.
func (p FrameworkPattern) Excluded() bool {
	switch p.Type {
	case PatternSerialization, PatternConstructor:
		return p.Confidence > ConditionalThreshold
	case PatternCustom:
		return p.Confidence > CustomThreshold
	default:
		return true
	}
}

// PatternConfig enables detection categories.
type PatternConfig struct {
	DetectTests          bool
	DetectWebHandlers    bool
	DetectEventHandlers  bool
	DetectMacroCallbacks bool
	DetectSerialization  bool
	DetectFFI            bool

	// CustomPatterns maps attribute or decorator names to a description.
	// Matching functions are reported as high-confidence custom patterns.
	CustomPatterns map[string]string
}

// DefaultPatternConfig enables every category.
func DefaultPatternConfig() PatternConfig {
	return PatternConfig{
		DetectTests:          true,
		DetectWebHandlers:    true,
		DetectEventHandlers:  true,
		DetectMacroCallbacks: true,
		DetectSerialization:  true,
		DetectFFI:            true,
	}
}

var testFrameworks = map[string]string{
	"test":              "std",
	"tokio::test":       "tokio",
	"async_test":        "async-std",
	"async_std::test":   "async-std",
	"wasm_bindgen_test": "wasm-bindgen",
	"proptest":          "proptest",
	"quickcheck":        "quickcheck",
	"rstest":            "rstest",
	"serial_test":       "serial_test",
	"serial":            "serial_test",
	"test_case":         "test-case",
}

var webAttributes = map[string]bool{
	"get": true, "post": true, "put": true, "delete": true, "patch": true,
	"head": true, "options": true, "route": true, "handler": true,
	"websocket": true, "api_view": true, "endpoint": true,
}

var webFrameworks = map[string]string{
	"actix_web": "actix-web", "rocket": "rocket", "warp": "warp", "axum": "axum",
	"tide": "tide", "hyper": "hyper", "poem": "poem",
	"app": "flask", "bp": "flask", "blueprint": "flask", "router": "fastapi",
}

var serializationAttributes = map[string]bool{
	"serde": true, "serialize": true, "deserialize": true,
}

var macroCallbackAttributes = map[string]bool{
	"proc_macro": true, "proc_macro_derive": true, "proc_macro_attribute": true,
	"no_mangle": true, "export_name": true, "link_name": true,
}

var eventDecorators = map[string]bool{
	"receiver": true, "listens_for": true, "listener": true, "subscribe": true,
	"subscriber": true, "event": true, "on_event": true, "hookimpl": true,
}

// pythonManagedDecorators are decorators whose functions are invoked by a
// framework rather than by project code.
var pythonManagedDecorators = map[string]string{
	"fixture":         "pytest",
	"command":         "click",
	"group":           "click",
	"task":            "celery",
	"shared_task":     "celery",
	"property":        "builtins",
	"cached_property": "functools",
	"setter":          "builtins",
	"getter":          "builtins",
	"deleter":         "builtins",
	"validator":       "pydantic",
	"field_validator": "pydantic",
	"root_validator":  "pydantic",
	"contextmanager":  "contextlib",
}

// unittestLifecycle are methods the unittest and pytest runners call.
var unittestLifecycle = map[string]bool{
	"setUp": true, "tearDown": true, "setUpClass": true, "tearDownClass": true,
	"setUpModule": true, "tearDownModule": true, "asyncSetUp": true, "asyncTearDown": true,
	"setup_method": true, "teardown_method": true, "setup_class": true, "teardown_class": true,
	"setup_module": true, "teardown_module": true, "setup_function": true, "teardown_function": true,
}

// lifecycleMethods are framework callbacks keyed by the top-level package
// a file must import for them to apply.
var lifecycleMethods = map[string][]string{
	"django":     {"save", "delete", "clean", "full_clean", "clean_fields", "validate_unique", "get_absolute_url", "ready", "get_queryset", "get_context_data", "dispatch", "form_valid", "form_invalid", "handle"},
	"flask":      {"before_request", "after_request", "teardown_request", "before_first_request", "errorhandler"},
	"fastapi":    {"startup", "shutdown"},
	"tornado":    {"initialize", "prepare", "on_finish", "get", "post", "put", "delete", "patch"},
	"tkinter":    {"mainloop", "destroy", "quit"},
	"kivy":       {"build", "on_start", "on_stop", "on_pause", "on_resume"},
	"wx":         {"OnInit", "OnExit"},
	"celery":     {"run", "on_success", "on_failure", "on_retry", "after_return"},
	"sqlalchemy": {"__tablename__", "__mapper_args__", "__table_args__"},
	"threading":  {"run"},
}

var eventFrameworks = map[string]bool{
	"tkinter": true, "wx": true, "kivy": true, "PyQt5": true, "PyQt6": true,
	"PySide2": true, "PySide6": true, "pygame": true, "asyncio": true,
}

// ignoredAttributes are compiler attributes carrying no invocation signal.
var ignoredAttributes = map[string]bool{
	"inline": true, "allow": true, "deny": true, "warn": true, "cfg": true,
	"cfg_attr": true, "doc": true, "must_use": true, "derive": true,
	"deprecated": true, "cold": true, "track_caller": true, "non_exhaustive": true,
	"repr": true, "cfg(test)": true, "expect": true, "instrument": true,
	"staticmethod": true, "classmethod": true, "abstractmethod": true,
	"override": true, "wraps": true, "lru_cache": true, "cache": true,
}

// IsVisitorMethodName reports whether name follows visitor conventions.
func IsVisitorMethodName(name string) bool {
	return strings.HasPrefix(name, "visit_") ||
		strings.HasPrefix(name, "walk_") ||
		strings.HasPrefix(name, "traverse_") ||
		name == "visit" || name == "walk"
}

// FrameworkPatternDetector finds functions invoked by frameworks,
// runtimes and foreign callers.
//
// Thread Safety: Not safe for concurrent use. Owned by one Accumulator.
type FrameworkPatternDetector struct {
	config     PatternConfig
	patterns   []FrameworkPattern
	byFunction map[graph.FunctionID][]PatternType
}

// NewFrameworkPatternDetector creates a detector.
func NewFrameworkPatternDetector(config PatternConfig) *FrameworkPatternDetector {
	return &FrameworkPatternDetector{
		config:     config,
		byFunction: make(map[graph.FunctionID][]PatternType),
	}
}

// Add records a pattern unless the function already has one of that type.
func (d *FrameworkPatternDetector) Add(p FrameworkPattern) bool {
	for _, t := range d.byFunction[p.Function] {
		if t == p.Type {
			return false
		}
	}
	d.byFunction[p.Function] = append(d.byFunction[p.Function], p.Type)
	d.patterns = append(d.patterns, p)
	return true
}

// AnalyzeFunction detects the patterns of one function and records them.
//
// Inputs:
//   - file: The defining file, used for its imports and path.
//   - fn: The function.
//
// Outputs:
//   - []FrameworkPattern: Newly recorded patterns.
func (d *FrameworkPatternDetector) AnalyzeFunction(file *ast.FileAST, fn *ast.Function) []FrameworkPattern {
	id := index.FunctionIDFor(file.Path, fn)
	var found []FrameworkPattern
	add := func(t PatternType, framework, trigger string, confidence float64) {
		p := FrameworkPattern{Type: t, Function: id, Framework: framework, Trigger: trigger, Confidence: confidence}
		if d.Add(p) {
			found = append(found, p)
		}
	}

	if IsVisitorMethodName(fn.BaseName) {
		add(PatternVisitTrait, "visitor_pattern", fn.BaseName, 0.9)
	}
	if (fn.Owner == "" && fn.BaseName == "main") || fn.Name == ast.ModuleFunctionName {
		add(PatternMain, "", fn.BaseName, 1.0)
	}
	if d.config.DetectFFI && fn.IsExternABI {
		add(PatternFFI, "", "extern", 1.0)
	}

	for _, attr := range fn.Attributes {
		d.analyzeAttribute(file.Language, attr, add)
	}

	if file.Language == ast.LanguagePython {
		d.analyzePython(file, fn, add)
	} else if fn.Owner != "" && fn.Trait == "" && !fn.InTraitDef && isRustConstructor(fn.BaseName) {
		confidence := 0.5
		if fn.Visibility == ast.VisibilityPublic {
			confidence = 0.75
		}
		add(PatternConstructor, "", fn.BaseName, confidence)
	}
	return found
}

func (d *FrameworkPatternDetector) analyzeAttribute(lang ast.Language, attr string, add func(PatternType, string, string, float64)) {
	last := ast.LastSegment(attr)
	first := attr
	if i := strings.IndexAny(attr, ":."); i > 0 {
		first = attr[:i]
	}

	if desc, ok := d.config.CustomPatterns[attr]; ok {
		add(PatternCustom, desc, attr, 0.9)
		return
	}
	if desc, ok := d.config.CustomPatterns[last]; ok {
		add(PatternCustom, desc, attr, 0.9)
		return
	}

	switch {
	case testFrameworks[attr] != "" || (lang == ast.LanguageRust && testFrameworks[last] != "") ||
		(lang == ast.LanguagePython && strings.Contains(attr, "pytest.mark")):
		if d.config.DetectTests {
			framework := testFrameworks[attr]
			if framework == "" {
				framework = testFrameworks[last]
			}
			if framework == "" {
				framework = "pytest"
			}
			add(PatternTest, framework, attr, 1.0)
		}
	case last == "bench" || last == "criterion" || first == "criterion":
		if d.config.DetectTests {
			add(PatternBenchmark, "bench", attr, 1.0)
		}
	case webAttributes[last] || webFrameworks[first] != "" && lang == ast.LanguageRust:
		if d.config.DetectWebHandlers {
			framework := webFrameworks[first]
			if framework == "" {
				framework = "web_framework"
			}
			add(PatternWebHandler, framework, attr, 0.9)
		}
	case serializationAttributes[last]:
		if d.config.DetectSerialization {
			add(PatternSerialization, "serde", attr, 0.8)
		}
	case macroCallbackAttributes[last]:
		if d.config.DetectMacroCallbacks {
			add(PatternMacroCallback, "", attr, 0.7)
		}
		if last == "no_mangle" && d.config.DetectFFI {
			add(PatternFFI, "", attr, 1.0)
		}
	case lang == ast.LanguagePython && eventDecorators[last]:
		if d.config.DetectEventHandlers {
			add(PatternEventHandler, first, attr, 0.9)
		}
	case lang == ast.LanguagePython && pythonManagedDecorators[last] != "":
		add(PatternCustom, pythonManagedDecorators[last], attr, 0.85)
	case !ignoredAttributes[attr] && !ignoredAttributes[last]:
		add(PatternCustom, "", attr, 0.6)
	}
}

func (d *FrameworkPatternDetector) analyzePython(file *ast.FileAST, fn *ast.Function, add func(PatternType, string, string, float64)) {
	name := fn.BaseName
	switch {
	case name == "__init__" || name == "__new__" || name == "__post_init__":
		if fn.Owner != "" {
			add(PatternConstructor, "", name, 0.9)
		}
		return
	case strings.HasPrefix(name, "__") && strings.HasSuffix(name, "__") && len(name) > 4:
		if fn.Owner != "" {
			add(PatternCustom, "python_data_model", name, 0.9)
		}
		return
	}

	if d.config.DetectTests {
		inTestClass := strings.HasPrefix(fn.Owner, "Test")
		if (strings.HasPrefix(name, "test") && (inTestClass || fn.Owner == "" && isPythonTestFile(file.Path))) ||
			(unittestLifecycle[name] && (inTestClass || fn.Owner == "" || isPythonTestFile(file.Path))) {
			add(PatternTest, "pytest", name, 1.0)
		}
	}

	if d.config.DetectSerialization && fn.Owner != "" {
		switch name {
		case "to_dict", "from_dict", "to_json", "from_json", "__getstate__", "__setstate__", "__reduce__":
			add(PatternSerialization, "", name, 0.75)
		}
	}

	for _, pkg := range importedPackages(file) {
		for _, m := range lifecycleMethods[pkg] {
			if m == name && fn.Owner != "" {
				add(PatternCustom, pkg, name, 0.85)
			}
		}
		if d.config.DetectEventHandlers && eventFrameworks[pkg] && fn.Owner != "" &&
			(strings.HasPrefix(name, "on_") || strings.HasPrefix(name, "On")) {
			add(PatternEventHandler, pkg, name, 0.8)
		}
	}
}

func isRustConstructor(name string) bool {
	return name == "new" || name == "default" || strings.HasPrefix(name, "with_") ||
		strings.HasPrefix(name, "from_") || strings.HasPrefix(name, "new_")
}

func isPythonTestFile(path string) bool {
	base := path[strings.LastIndexByte(path, '/')+1:]
	return strings.HasPrefix(base, "test_") || strings.HasSuffix(base, "_test.py") ||
		base == "conftest.py" || strings.Contains(path, "/tests/") || strings.HasPrefix(path, "tests/")
}

// importedPackages returns the sorted top-level packages a Python file
// imports absolutely.
func importedPackages(file *ast.FileAST) []string {
	seen := make(map[string]bool)
	var out []string
	for _, u := range file.Uses {
		if u.Level > 0 || len(u.Path) == 0 || seen[u.Path[0]] {
			continue
		}
		seen[u.Path[0]] = true
		out = append(out, u.Path[0])
	}
	sort.Strings(out)
	return out
}

// Patterns returns all recorded patterns ordered by function and type.
func (d *FrameworkPatternDetector) Patterns() []FrameworkPattern {
	out := append([]FrameworkPattern(nil), d.patterns...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Function != b.Function {
			if a.Function.File != b.Function.File {
				return a.Function.File < b.Function.File
			}
			if a.Function.Line != b.Function.Line {
				return a.Function.Line < b.Function.Line
			}
			return a.Function.Name < b.Function.Name
		}
		return a.Type < b.Type
	})
	return out
}

// PatternsFor returns the pattern types recorded for a function.
func (d *FrameworkPatternDetector) PatternsFor(id graph.FunctionID) []PatternType {
	return d.byFunction[id]
}

// FunctionsByPattern returns the functions recorded with pattern type t.
func (d *FrameworkPatternDetector) FunctionsByPattern(t PatternType) []graph.FunctionID {
	var out []graph.FunctionID
	for _, p := range d.patterns {
		if p.Type == t {
			out = append(out, p.Function)
		}
	}
	return uniqueIDs(out)
}

// PatternStats summarizes detections.
type PatternStats struct {
	Total     int            `json:"total"`
	Functions int            `json:"functions"`
	ByType    map[string]int `json:"by_type"`
}

// Stats returns detection counts.
func (d *FrameworkPatternDetector) Stats() PatternStats {
	s := PatternStats{Total: len(d.patterns), Functions: len(d.byFunction), ByType: make(map[string]int)}
	for _, p := range d.patterns {
		s.ByType[p.Type.String()]++
	}
	return s
}
