// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package discover finds the source files a call graph is built from.
package discover

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"
)

// DefaultExtensions are the file extensions discovered when none are given.
var DefaultExtensions = []string{".rs", ".py"}

// alwaysIgnoredDirs are never descended into.
var alwaysIgnoredDirs = map[string]bool{
	".git":         true,
	"target":       true,
	"node_modules": true,
	"__pycache__":  true,
	".venv":        true,
	"venv":         true,
}

// Options configures a Discoverer.
type Options struct {
	// Extensions are the file extensions to return, including the dot.
	// Default: DefaultExtensions
	Extensions []string

	// Ignore holds glob patterns matched against slash-separated paths
	// relative to the root. "**" crosses directories, "*" does not.
	Ignore []string

	// RespectGitignore applies .gitignore files found at the root and in
	// any directory below it, each scoped to its own directory.
	// Default: true
	RespectGitignore bool

	// Files is a pre-enumerated file list. When set, the walk is skipped
	// and these paths are returned filtered by extension.
	Files []string

	Logger *slog.Logger
}

// Option is a functional option for configuring a Discoverer.
type Option func(*Options)

// WithExtensions sets the extensions to discover.
func WithExtensions(exts ...string) Option {
	return func(o *Options) {
		o.Extensions = exts
	}
}

// WithIgnore adds ignore globs.
func WithIgnore(patterns ...string) Option {
	return func(o *Options) {
		o.Ignore = append(o.Ignore, patterns...)
	}
}

// WithGitignore enables or disables .gitignore handling.
func WithGitignore(enabled bool) Option {
	return func(o *Options) {
		o.RespectGitignore = enabled
	}
}

// WithFiles supplies a pre-enumerated file list.
func WithFiles(files []string) Option {
	return func(o *Options) {
		o.Files = files
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// Discoverer walks a project tree and returns candidate source files.
//
// Thread Safety: A Discoverer is immutable after New and safe for
// concurrent use.
type Discoverer struct {
	options    Options
	extensions map[string]bool
	ignore     []glob.Glob
	logger     *slog.Logger
}

// New creates a Discoverer.
//
// Outputs:
//   - *Discoverer: Ready to use.
//   - error: ErrInvalidPattern if an ignore glob does not compile.
func New(opts ...Option) (*Discoverer, error) {
	options := Options{RespectGitignore: true}
	for _, opt := range opts {
		opt(&options)
	}
	if len(options.Extensions) == 0 {
		options.Extensions = DefaultExtensions
	}

	d := &Discoverer{
		options:    options,
		extensions: make(map[string]bool, len(options.Extensions)),
		logger:     options.Logger,
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	for _, ext := range options.Extensions {
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		d.extensions[ext] = true
	}
	for _, p := range options.Ignore {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("%w %q: %v", ErrInvalidPattern, p, err)
		}
		d.ignore = append(d.ignore, g)
	}
	return d, nil
}

// Discover returns the sorted, slash-separated, root-relative paths of every
// candidate file under root.
//
// Description:
//
//	When a pre-enumerated file list was supplied the file system is not
//	touched. Otherwise the tree is walked, skipping always-ignored
//	directories, paths matching an ignore glob, and paths excluded by a
//	.gitignore in the root or any directory above the path.
//
// Inputs:
//   - ctx: Context for cancellation. Checked for every directory entry.
//   - root: Project root directory.
//
// Outputs:
//   - []string: Sorted relative paths. Never nil on success.
//   - error: ErrRootNotFound, ErrDiscovery, ErrPathOutsideRoot for a
//     supplied file that escapes root, or the context error.
func (d *Discoverer) Discover(ctx context.Context, root string) ([]string, error) {
	if d.options.Files != nil {
		return d.filterFiles(d.options.Files)
	}

	info, err := os.Stat(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrRootNotFound, root)
		}
		return nil, fmt.Errorf("%w: stat %s: %v", ErrDiscovery, root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrRootNotFound, root)
	}

	gitignores := make(map[string]*ignoreSet)
	files := make([]string, 0)

	err = filepath.WalkDir(root, func(p string, entry fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			return fmt.Errorf("%w: %s: %v", ErrDiscovery, p, walkErr)
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrDiscovery, p, err)
		}
		rel = filepath.ToSlash(rel)

		if entry.IsDir() {
			if rel == "." {
				d.loadGitignore(root, "", gitignores)
				return nil
			}
			if alwaysIgnoredDirs[entry.Name()] || d.ignored(rel, true, gitignores) {
				return filepath.SkipDir
			}
			d.loadGitignore(p, rel, gitignores)
			return nil
		}

		if !entry.Type().IsRegular() || !d.extensions[path.Ext(rel)] {
			return nil
		}
		if d.ignored(rel, false, gitignores) {
			return nil
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(files)
	d.logger.Debug("discovered files",
		slog.String("root", root),
		slog.Int("count", len(files)))
	return files, nil
}

// filterFiles normalizes a pre-enumerated list without touching the file
// system. Every path must stay under the root.
func (d *Discoverer) filterFiles(in []string) ([]string, error) {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, f := range in {
		f = path.Clean(filepath.ToSlash(f))
		if path.IsAbs(f) || filepath.IsAbs(f) || f == ".." || strings.HasPrefix(f, "../") {
			return nil, fmt.Errorf("%w: %s", ErrPathOutsideRoot, f)
		}
		if !d.extensions[path.Ext(f)] {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	sort.Strings(out)
	return out, nil
}

func (d *Discoverer) ignored(rel string, isDir bool, gitignores map[string]*ignoreSet) bool {
	for _, g := range d.ignore {
		if g.Match(rel) {
			return true
		}
	}
	if !d.options.RespectGitignore {
		return false
	}

	// Outer files first so that deeper .gitignore files override them.
	ignored := false
	dirs := []string{""}
	for i := 0; i < len(rel); i++ {
		if rel[i] == '/' {
			dirs = append(dirs, rel[:i])
		}
	}
	for _, dir := range dirs {
		set, ok := gitignores[dir]
		if !ok {
			continue
		}
		if decided, ign := set.match(rel, isDir); decided {
			ignored = ign
		}
	}
	return ignored
}

func (d *Discoverer) loadGitignore(dirPath, rel string, gitignores map[string]*ignoreSet) {
	if !d.options.RespectGitignore {
		return
	}
	f, err := os.Open(filepath.Join(dirPath, ".gitignore"))
	if err != nil {
		return
	}
	defer f.Close()

	set, bad := parseGitignore(rel, f)
	for _, p := range bad {
		d.logger.Warn("skipping invalid .gitignore pattern",
			slog.String("dir", rel),
			slog.String("pattern", p))
	}
	gitignores[rel] = set
}
