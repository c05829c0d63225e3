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
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"sync"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
)

const (
	// DefaultMaxFileSize is the largest file a parser accepts by default.
	DefaultMaxFileSize = 10 * 1024 * 1024

	// WarnFileSize is the size above which a warning is logged.
	WarnFileSize = 1 * 1024 * 1024
)

// Parser turns one source file into a FileAST.
//
// Description:
//
//	Implementations wrap a tree-sitter grammar. A failure affects only the
//	file being parsed; callers log it and skip the file.
//
// Thread Safety:
//
//	Implementations must be safe for concurrent use. Each Parse call
//	creates its own tree-sitter parser instance.
type Parser interface {
	// Parse extracts functions, calls and imports from content.
	//
	// Returns an error wrapping ErrFileTooLarge, ErrInvalidContent or
	// ErrSyntax (strict mode), or a context error.
	Parse(ctx context.Context, content []byte, filePath string) (*FileAST, error)

	// Language returns the language this parser handles.
	Language() Language

	// Extensions returns the handled file extensions, including the dot.
	Extensions() []string
}

// ParserOptions configures the tree-sitter parsers.
type ParserOptions struct {
	// MaxFileSize is the maximum content size in bytes.
	MaxFileSize int64

	// TolerateErrors keeps partial results for trees containing syntax
	// errors instead of failing with ErrSyntax.
	TolerateErrors bool
}

// ParserOption configures a parser.
type ParserOption func(*ParserOptions)

// WithMaxFileSize sets the maximum file size the parser will accept.
// Non-positive values are ignored.
func WithMaxFileSize(bytes int64) ParserOption {
	return func(o *ParserOptions) {
		if bytes > 0 {
			o.MaxFileSize = bytes
		}
	}
}

// WithTolerateErrors keeps partial results for files with syntax errors.
func WithTolerateErrors(tolerate bool) ParserOption {
	return func(o *ParserOptions) {
		o.TolerateErrors = tolerate
	}
}

func buildParserOptions(opts []ParserOption) ParserOptions {
	o := ParserOptions{MaxFileSize: DefaultMaxFileSize}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// ParserRegistry maps file extensions to parsers.
//
// Thread Safety:
//
//	ParserRegistry is safe for concurrent use. Registration uses write
//	locks, lookups use read locks.
type ParserRegistry struct {
	mu          sync.RWMutex
	byLanguage  map[Language]Parser
	byExtension map[string]Parser
}

// NewParserRegistry creates a new empty ParserRegistry.
func NewParserRegistry() *ParserRegistry {
	return &ParserRegistry{
		byLanguage:  make(map[Language]Parser),
		byExtension: make(map[string]Parser),
	}
}

// NewDefaultRegistry returns a registry with the Rust and Python parsers
// configured with opts.
func NewDefaultRegistry(opts ...ParserOption) *ParserRegistry {
	r := NewParserRegistry()
	r.Register(NewRustParser(opts...))
	r.Register(NewPythonParser(opts...))
	return r
}

// Register adds a parser under its language and all its extensions.
// Existing registrations are overwritten.
func (r *ParserRegistry) Register(parser Parser) {
	if parser == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.byLanguage[parser.Language()] = parser
	for _, ext := range parser.Extensions() {
		r.byExtension[ext] = parser
	}
}

// GetByLanguage returns the parser for the given language.
func (r *ParserRegistry) GetByLanguage(language Language) (Parser, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	parser, ok := r.byLanguage[language]
	return parser, ok
}

// GetByExtension returns the parser for the given extension (with dot).
func (r *ParserRegistry) GetByExtension(ext string) (Parser, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	parser, ok := r.byExtension[ext]
	return parser, ok
}

// ForPath returns the parser for a file path.
func (r *ParserRegistry) ForPath(filePath string) (Parser, error) {
	ext := path.Ext(filePath)
	p, ok := r.GetByExtension(ext)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, ext)
	}
	return p, nil
}

// Extensions returns all registered extensions in sorted order.
func (r *ParserRegistry) Extensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	extensions := make([]string, 0, len(r.byExtension))
	for ext := range r.byExtension {
		extensions = append(extensions, ext)
	}
	sort.Strings(extensions)
	return extensions
}

// LanguageForPath returns the language for a file extension, or "".
func LanguageForPath(filePath string) Language {
	switch path.Ext(filePath) {
	case ".rs":
		return LanguageRust
	case ".py", ".pyi":
		return LanguagePython
	default:
		return ""
	}
}

// validateContent runs the checks shared by every parser before tree-sitter
// is invoked and returns the content hash.
func validateContent(ctx context.Context, content []byte, filePath string, maxSize int64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("parse canceled before start: %w", err)
	}
	if int64(len(content)) > maxSize {
		return "", newParseError(filePath, 0, ErrFileTooLarge, "size %d exceeds limit %d", len(content), maxSize)
	}
	if len(content) > WarnFileSize {
		slog.Warn("parsing large file",
			slog.String("file", filePath),
			slog.Int("size_bytes", len(content)))
	}
	if !utf8.Valid(content) {
		return "", newParseError(filePath, 0, ErrInvalidContent, "content is not valid UTF-8")
	}
	hash := sha256.Sum256(content)
	return hex.EncodeToString(hash[:]), nil
}

// firstErrorLine returns the 1-indexed line of the first ERROR or MISSING
// node in the tree, or 0.
func firstErrorLine(root *sitter.Node) int {
	stack := []*sitter.Node{root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n.IsError() || n.IsMissing() {
			return int(n.StartPoint().Row) + 1
		}
		if !n.HasError() {
			continue
		}
		for i := int(n.ChildCount()) - 1; i >= 0; i-- {
			if c := n.Child(i); c != nil {
				stack = append(stack, c)
			}
		}
	}
	return 0
}

func lineOf(n *sitter.Node) int {
	return int(n.StartPoint().Row) + 1
}

func endLineOf(n *sitter.Node) int {
	return int(n.EndPoint().Row) + 1
}
