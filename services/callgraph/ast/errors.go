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
	"errors"
	"fmt"
)

// Sentinel errors for parse failure conditions.
//
// These errors can be checked using errors.Is() to determine the
// category of failure without inspecting error messages.
var (
	// ErrUnsupportedLanguage indicates that no parser is registered for
	// the file extension.
	ErrUnsupportedLanguage = errors.New("unsupported language")

	// ErrInvalidContent indicates content that cannot be parsed at all,
	// such as non-UTF-8 bytes.
	ErrInvalidContent = errors.New("invalid content")

	// ErrFileTooLarge indicates content above the configured size limit.
	ErrFileTooLarge = errors.New("file too large")

	// ErrSyntax indicates that the syntax tree contains errors and the
	// parser runs in strict mode.
	ErrSyntax = errors.New("syntax error")
)

// ParseError provides the location of a parse failure.
//
// Example:
//
//	_, err := parser.Parse(ctx, content, "src/lib.rs")
//	var parseErr *ParseError
//	if errors.As(err, &parseErr) {
//	    fmt.Printf("%s:%d: %s\n", parseErr.FilePath, parseErr.Line, parseErr.Message)
//	}
type ParseError struct {
	// FilePath is the path to the file where the error occurred.
	FilePath string

	// Line is the 1-indexed line of the first error node, or 0.
	Line int

	// Message describes the error in human-readable form.
	Message string

	// Cause is the underlying sentinel or I/O error.
	Cause error
}

// Error returns "file:line: message" or "file: message".
func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.FilePath, e.Line, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.FilePath, e.Message)
}

// Unwrap returns the underlying cause error.
func (e *ParseError) Unwrap() error {
	return e.Cause
}

// newParseError creates a ParseError wrapping cause.
func newParseError(filePath string, line int, cause error, format string, args ...any) *ParseError {
	return &ParseError{
		FilePath: filePath,
		Line:     line,
		Message:  fmt.Sprintf(format, args...),
		Cause:    cause,
	}
}
