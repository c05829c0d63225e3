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
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/callgraph/services/callgraph/graph"
	"github.com/AleutianAI/callgraph/services/callgraph/impact"
)

// impactOutput is the JSON form of the impact command.
type impactOutput struct {
	Files []impact.FileChange `json:"files"`
	impact.Report
}

func newImpactCmd(a *app) *cobra.Command {
	var (
		diffPath string
		depth    int
	)
	cmd := &cobra.Command{
		Use:   "impact [root]",
		Short: "List the functions a diff changes and everything that calls them",
		Long: `Read a unified diff, map its changed lines onto the call graph of root
and list the changed functions, their transitive callers and the tests
among them. The diff must describe the current state of root, as
"git diff" does for uncommitted changes.

Examples:
  git diff | callgraph impact --diff -
  callgraph impact ./service --diff change.patch --depth 2 --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch, err := readPatch(cmd, diffPath)
			if err != nil {
				return err
			}
			changes, err := impact.ParsePatch(patch)
			if err != nil {
				return err
			}
			res, err := a.build(cmd.Context(), rootArg(args))
			if err != nil {
				return err
			}
			report := impact.Analyze(res.Graph, changes, depth)
			if a.jsonOutput {
				return a.printJSON(impactOutput{Files: changes, Report: *report})
			}
			printImpact(a, report)
			return nil
		},
	}
	cmd.Flags().StringVar(&diffPath, "diff", "", `unified diff file, or "-" for stdin`)
	cmd.Flags().IntVar(&depth, "depth", 0, "caller hops to follow (0 is unlimited)")
	_ = cmd.MarkFlagRequired("diff")
	return cmd
}

func readPatch(cmd *cobra.Command, p string) ([]byte, error) {
	if p == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("reading diff: %w", err)
	}
	return data, nil
}

func printImpact(a *app, r *impact.Report) {
	sections := []struct {
		title string
		ids   []graph.FunctionID
	}{
		{"Changed", r.Changed},
		{"Affected callers", r.Affected},
		{"Tests to run", r.Tests},
	}
	for _, s := range sections {
		fmt.Fprintln(a.out, a.style.heading.Render(fmt.Sprintf("%s (%d):", s.title, len(s.ids))))
		printFunctions(a, s.ids)
	}
}
