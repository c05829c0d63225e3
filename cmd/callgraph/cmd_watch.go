// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/callgraph/services/callgraph/graph"
	"github.com/AleutianAI/callgraph/services/callgraph/pipeline"
)

// skipWatchDirs are never watched.
var skipWatchDirs = map[string]bool{
	".git":         true,
	"target":       true,
	"node_modules": true,
	"__pycache__":  true,
	".venv":        true,
	"venv":         true,
}

func newWatchCmd(a *app) *cobra.Command {
	var window time.Duration
	cmd := &cobra.Command{
		Use:   "watch [root]",
		Short: "Rebuild the graph when source files change and print what changed",
		Long: `Build the graph of root, then watch it for changes to .rs and .py files.

Changes are debounced; after each quiet period the graph is rebuilt and the
difference to the previous graph is printed. Unchanged Rust files are served
from the cache.

Examples:
  callgraph watch
  callgraph watch ./service --debounce 1s`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := filepath.Abs(rootArg(args))
			if err != nil {
				return err
			}
			return a.watch(cmd.Context(), root, window)
		},
	}
	cmd.Flags().DurationVar(&window, "debounce", 500*time.Millisecond, "quiet period before a rebuild")
	return cmd
}

func (a *app) watch(ctx context.Context, root string, window time.Duration) error {
	orch, release := a.orchestrator()
	defer release()

	res, err := orch.Build(ctx, root)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "watching %s: %d functions, %d calls\n", root, res.Stats.Nodes, res.Stats.Edges)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer w.Close()
	if err := addWatchDirs(w, root); err != nil {
		return err
	}

	exts := make(map[string]bool)
	for _, ext := range a.cfg.Extensions() {
		exts[ext] = true
	}

	changes := make(chan string, 256)
	go func() {
		defer close(changes)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Has(fsnotify.Create) {
					if info, err := os.Stat(ev.Name); err == nil && info.IsDir() && !skipWatchDirs[info.Name()] {
						if err := addWatchDirs(w, ev.Name); err != nil {
							a.logger.Warn("watching new directory", slog.String("dir", ev.Name), slog.String("error", err.Error()))
						}
						continue
					}
				}
				if !exts[filepath.Ext(ev.Name)] || (ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write)) {
					continue
				}
				select {
				case changes <- ev.Name:
				default:
					// A rebuild is already due; the dropped path changes nothing.
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				a.logger.Warn("watch error", slog.String("error", err.Error()))
			}
		}
	}()

	prev := res.Graph
	debounce(ctx, changes, window, func(paths []string) {
		start := time.Now()
		next, err := orch.Build(ctx, root)
		if err != nil {
			if ctx.Err() == nil {
				a.logger.Error("rebuild failed", slog.String("error", err.Error()))
			}
			return
		}
		a.printRebuild(paths, prev, next, time.Since(start))
		prev = next.Graph
	})
	return nil
}

func (a *app) printRebuild(paths []string, prev *graph.CallGraph, next *pipeline.Result, took time.Duration) {
	diff, err := graph.Diff(prev, next.Graph)
	if err != nil {
		a.logger.Error("diffing graphs", slog.String("error", err.Error()))
		return
	}
	if a.jsonOutput {
		_ = a.printJSON(map[string]any{"changed_files": paths, "diff": diff, "stats": next.Stats})
		return
	}
	fmt.Fprintln(a.out, a.style.heading.Render(fmt.Sprintf("[%s] %d file(s) changed, rebuilt in %s (cache %s)",
		time.Now().Format(time.TimeOnly), len(paths), took.Round(time.Millisecond), cacheLabel(next.CacheHit))))
	if diff.Empty() {
		fmt.Fprintln(a.out, a.style.dim.Render("  graph unchanged"))
		return
	}
	fmt.Fprintf(a.out, "  functions: +%d -%d ~%d  calls: +%d -%d\n",
		len(diff.NodesAdded), len(diff.NodesRemoved), len(diff.NodesModified),
		len(diff.EdgesAdded), len(diff.EdgesRemoved))
	for _, id := range diff.NodesAdded {
		fmt.Fprintln(a.out, a.style.added.Render("  + "+formatFunction(id)))
	}
	for _, id := range diff.NodesRemoved {
		fmt.Fprintln(a.out, a.style.removed.Render("  - "+formatFunction(id)))
	}
	for _, e := range diff.EdgesAdded {
		fmt.Fprintln(a.out, a.style.added.Render("  + "+e.Caller.Name+" -> "+e.Callee.Name))
	}
	for _, e := range diff.EdgesRemoved {
		fmt.Fprintln(a.out, a.style.removed.Render("  - "+e.Caller.Name+" -> "+e.Callee.Name))
	}
}

// debounce collects paths from changes and calls handle with the sorted,
// deduplicated batch once no change arrived for window. It returns when ctx
// is done or changes is closed; a pending batch is dropped then.
func debounce(ctx context.Context, changes <-chan string, window time.Duration, handle func([]string)) {
	pending := make(map[string]struct{})
	timer := time.NewTimer(window)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-changes:
			if !ok {
				return
			}
			pending[p] = struct{}{}
			timer.Reset(window)
		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			batch := make([]string, 0, len(pending))
			for p := range pending {
				batch = append(batch, p)
			}
			sort.Strings(batch)
			pending = make(map[string]struct{})
			handle(batch)
		}
	}
}

func addWatchDirs(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if p != root && skipWatchDirs[d.Name()] {
			return filepath.SkipDir
		}
		if err := w.Add(p); err != nil {
			return fmt.Errorf("watching %s: %w", p, err)
		}
		return nil
	})
}
