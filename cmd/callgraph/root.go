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
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/callgraph/services/callgraph/cache"
	"github.com/AleutianAI/callgraph/services/callgraph/config"
	"github.com/AleutianAI/callgraph/services/callgraph/pipeline"
	"github.com/AleutianAI/callgraph/services/callgraph/telemetry"
)

// app carries the state shared by every command of one invocation.
type app struct {
	out    io.Writer
	errOut io.Writer

	cfg      *config.Config
	logger   *slog.Logger
	shutdown func(context.Context) error

	style styles

	jsonOutput bool
	quiet      bool
}

// =============================================================================
// ROOT COMMAND
// =============================================================================

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	a := &app{out: out, errOut: errOut, style: newStyles(out)}

	root := &cobra.Command{
		Use:   "callgraph",
		Short: "Build and query call graphs of Rust and Python projects",
		Long: `callgraph builds a function-level call graph of a Rust and Python code base.

Calls are resolved across files and modules, through trait dispatch and
function pointers, and framework entry points (tests, web handlers, macro
callbacks, FFI exports) are recorded so they are never reported as dead code.

Rust results are cached between runs; Python files are always reprocessed.`,
		Version:            version,
		SilenceUsage:       true,
		SilenceErrors:      true,
		PersistentPreRunE:  a.setup,
		PersistentPostRunE: a.teardown,
	}

	config.RegisterFlags(root.PersistentFlags())
	root.PersistentFlags().BoolVar(&a.jsonOutput, "json", false, "output as JSON")
	root.PersistentFlags().BoolVarP(&a.quiet, "quiet", "q", false, "do not print build progress")

	root.AddCommand(
		newBuildCmd(a),
		newCallersCmd(a),
		newCalleesCmd(a),
		newTestOnlyCmd(a),
		newExclusionsCmd(a),
		newImpactCmd(a),
		newCacheCmd(a),
		newWatchCmd(a),
		newServeCmd(a),
	)
	return root
}

// setup loads the configuration and starts logging and telemetry.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load("", cmd.Flags())
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = cfg.Log.NewLogger(a.errOut)
	slog.SetDefault(a.logger)

	shutdown, err := telemetry.Init(cmd.Context(), cfg.Telemetry.Telemetry(version))
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	a.shutdown = shutdown
	return nil
}

func (a *app) teardown(_ *cobra.Command, _ []string) error {
	if a.shutdown == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.shutdown(ctx); err != nil {
		a.logger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
	}
	return nil
}

// =============================================================================
// SHARED HELPERS
// =============================================================================

// openCache opens the configured cache directory.
func (a *app) openCache() (*cache.Cache, error) {
	dir, err := a.cfg.Cache.ResolveDir()
	if err != nil {
		return nil, err
	}
	return cache.Open(cache.WithDir(dir), cache.WithLogger(a.logger))
}

// orchestrator returns an orchestrator for the loaded configuration and a
// function releasing its cache.
func (a *app) orchestrator() (*pipeline.Orchestrator, func()) {
	opts := []pipeline.Option{
		pipeline.WithConfig(a.cfg),
		pipeline.WithLogger(a.logger),
	}
	if !a.quiet && !a.jsonOutput {
		opts = append(opts, pipeline.WithProgress(newProgressPrinter(a.errOut).Update))
	}

	release := func() {}
	if a.cfg.Cache.Enabled {
		c, err := a.openCache()
		if err != nil {
			// A locked or unreadable cache only costs speed.
			a.logger.Warn("graph cache unavailable", slog.String("error", err.Error()))
		} else {
			opts = append(opts, pipeline.WithCache(c, a.cfg.Hash()))
			release = func() {
				if err := c.Close(); err != nil {
					a.logger.Warn("closing graph cache", slog.String("error", err.Error()))
				}
			}
		}
	}
	return pipeline.New(opts...), release
}

// build builds the graph of root.
func (a *app) build(ctx context.Context, root string) (*pipeline.Result, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	orch, release := a.orchestrator()
	defer release()
	return orch.Build(ctx, abs)
}

func (a *app) printJSON(v any) error {
	return newIndentEncoder(a.out).Encode(v)
}

func newIndentEncoder(w io.Writer) *json.Encoder {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc
}

func rootArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return "."
}
