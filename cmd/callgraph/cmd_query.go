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

	"github.com/spf13/cobra"

	"github.com/AleutianAI/callgraph/services/callgraph/graph"
	"github.com/AleutianAI/callgraph/services/callgraph/pipeline"
)

// functionsOutput is the JSON form of a function list.
type functionsOutput struct {
	Query     string             `json:"query"`
	Name      string             `json:"name,omitempty"`
	Functions []graph.FunctionID `json:"functions"`
	Count     int                `json:"count"`
}

// queryCmd builds the graph of --root and runs query against it.
func queryCmd(a *app, use, short, long string, nameArg bool, query func(res *pipeline.Result, name string) []graph.FunctionID) *cobra.Command {
	var root string
	args := cobra.NoArgs
	if nameArg {
		args = cobra.ExactArgs(1)
	}
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Long:  long,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.build(cmd.Context(), root)
			if err != nil {
				return err
			}
			name := ""
			if nameArg {
				name = args[0]
			}
			fns := query(res, name)
			if fns == nil {
				fns = []graph.FunctionID{}
			}
			if a.jsonOutput {
				return a.printJSON(functionsOutput{Query: cmd.Name(), Name: name, Functions: fns, Count: len(fns)})
			}
			printFunctions(a, fns)
			return nil
		},
	}
	cmd.Flags().StringVarP(&root, "root", "r", ".", "project root")
	return cmd
}

func newCallersCmd(a *app) *cobra.Command {
	return queryCmd(a, "callers NAME", "List the functions calling NAME",
		`List every function with a call edge to a function named NAME.

NAME matches the full local name or its trailing segments, so "helper"
matches "helper", "Parser::helper" and "Parser.helper".

Examples:
  callgraph callers helper
  callgraph callers Parser::parse --root ./compiler --json`,
		true, func(res *pipeline.Result, name string) []graph.FunctionID {
			return res.Graph.CallersByName(name)
		})
}

func newCalleesCmd(a *app) *cobra.Command {
	return queryCmd(a, "callees NAME", "List the functions NAME calls",
		`List every function a function named NAME has a call edge to.

Examples:
  callgraph callees main
  callgraph callees Server.handle --json`,
		true, func(res *pipeline.Result, name string) []graph.FunctionID {
			return res.Graph.CalleesByName(name)
		})
}

func newTestOnlyCmd(a *app) *cobra.Command {
	return queryCmd(a, "test-only", "List functions reachable only from tests",
		`List non-test functions that tests reach and no production entry point does.`,
		false, func(res *pipeline.Result, _ string) []graph.FunctionID {
			return res.Graph.FindTestOnlyFunctions()
		})
}

// exclusionsOutput is the JSON form of the exclusions command.
type exclusionsOutput struct {
	Exclusions  []graph.SetEntry   `json:"exclusions"`
	PointerUsed []graph.SetEntry   `json:"pointer_used"`
	PublicAPIs  []graph.FunctionID `json:"public_apis"`
}

func newExclusionsCmd(a *app) *cobra.Command {
	var root string
	cmd := &cobra.Command{
		Use:   "exclusions",
		Short: "List functions invoked by frameworks, pointers or external callers",
		Long: `List the functions that must never be reported as dead code: framework
exclusions (tests, web handlers, event handlers, macro callbacks,
serialization hooks, FFI exports) with the pattern that matched, functions
used as values, and public API functions.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := a.build(cmd.Context(), root)
			if err != nil {
				return err
			}
			out := exclusionsOutput{
				Exclusions:  res.FrameworkExclusions.Entries(),
				PointerUsed: res.PointerUsed.Entries(),
				PublicAPIs:  res.PublicAPIs,
			}
			if a.jsonOutput {
				return a.printJSON(out)
			}
			fmt.Fprintln(a.out, a.style.heading.Render(fmt.Sprintf("Framework exclusions (%d):", len(out.Exclusions))))
			for _, e := range out.Exclusions {
				fmt.Fprintf(a.out, "  %s  [%s]\n", formatFunction(e.ID), e.Reason)
			}
			fmt.Fprintln(a.out, a.style.heading.Render(fmt.Sprintf("Used as values (%d):", len(out.PointerUsed))))
			for _, e := range out.PointerUsed {
				fmt.Fprintf(a.out, "  %s\n", formatFunction(e.ID))
			}
			fmt.Fprintln(a.out, a.style.heading.Render(fmt.Sprintf("Public API (%d):", len(out.PublicAPIs))))
			printFunctions(a, out.PublicAPIs)
			return nil
		},
	}
	cmd.Flags().StringVarP(&root, "root", "r", ".", "project root")
	return cmd
}

func printFunctions(a *app, fns []graph.FunctionID) {
	if len(fns) == 0 {
		fmt.Fprintln(a.out, "  (none)")
		return
	}
	for _, id := range fns {
		fmt.Fprintf(a.out, "  %s\n", formatFunction(id))
	}
}

func formatFunction(id graph.FunctionID) string {
	return fmt.Sprintf("%s  %s:%d", id.Name, id.File, id.Line)
}
