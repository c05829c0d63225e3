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
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/callgraph/services/callgraph/graph"
	"github.com/AleutianAI/callgraph/services/callgraph/pipeline"
)

// buildOutput is the JSON form of a build.
type buildOutput struct {
	BuildID    string             `json:"build_id"`
	Root       string             `json:"root"`
	CacheHit   bool               `json:"cache_hit"`
	GraphHash  string             `json:"graph_hash"`
	Stats      pipeline.Stats     `json:"stats"`
	FileErrors []fileErrorOutput  `json:"file_errors"`
	DeadCode   []graph.FunctionID `json:"dead_code,omitempty"`
}

type fileErrorOutput struct {
	Path  string `json:"path"`
	Phase string `json:"phase"`
	Error string `json:"error"`
}

func newBuildCmd(a *app) *cobra.Command {
	var (
		outFile  string
		deadCode bool
	)
	cmd := &cobra.Command{
		Use:   "build [root]",
		Short: "Build the call graph of a project and print statistics",
		Long: `Build the call graph of the project at root (default: the current directory).

Examples:
  callgraph build
  callgraph build ./service --workers 8 --chunk-size 50
  callgraph build --dead-code --json
  callgraph build --out graph.json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.build(cmd.Context(), rootArg(args))
			if err != nil {
				return err
			}
			if outFile != "" {
				if err := writeGraph(outFile, res.Graph); err != nil {
					return err
				}
			}

			var dead []graph.FunctionID
			if deadCode {
				dead = res.DeadCodeCandidates()
			}
			if a.jsonOutput {
				return a.printJSON(newBuildOutput(res, dead))
			}
			printBuildText(a, res, dead, deadCode)
			return nil
		},
	}
	cmd.Flags().StringVarP(&outFile, "out", "o", "", "write the serialized graph to this file")
	cmd.Flags().BoolVar(&deadCode, "dead-code", false, "list dead code candidates")
	return cmd
}

func newBuildOutput(res *pipeline.Result, dead []graph.FunctionID) buildOutput {
	out := buildOutput{
		BuildID:    res.BuildID,
		Root:       res.Root,
		CacheHit:   res.CacheHit,
		GraphHash:  res.Graph.Hash(),
		Stats:      res.Stats,
		FileErrors: make([]fileErrorOutput, 0, len(res.FileErrors)),
		DeadCode:   dead,
	}
	for _, fe := range res.FileErrors {
		out.FileErrors = append(out.FileErrors, fileErrorOutput{Path: fe.Path, Phase: fe.Phase, Error: fe.Message()})
	}
	return out
}

func printBuildText(a *app, res *pipeline.Result, dead []graph.FunctionID, listDead bool) {
	s := res.Stats
	tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Root:\t%s\n", res.Root)
	fmt.Fprintf(tw, "Files:\t%d discovered, %d parsed, %d failed\n", s.FilesDiscovered, s.FilesParsed, s.FilesFailed)
	fmt.Fprintf(tw, "Functions:\t%d\n", s.Nodes)
	fmt.Fprintf(tw, "Calls:\t%d\n", s.Edges)
	fmt.Fprintf(tw, "Cross-file resolved:\t%d\n", s.CrossFileResolved)
	fmt.Fprintf(tw, "Cross-module resolved:\t%d of %d (%d dropped)\n", s.CrossModule.Resolved, s.CrossModule.Attempted, s.CrossModule.Dropped)
	fmt.Fprintf(tw, "Trait dispatch edges:\t%d\n", s.Resolve.DispatchEdges)
	fmt.Fprintf(tw, "Pointer edges:\t%d\n", s.Resolve.PointerEdges)
	fmt.Fprintf(tw, "Framework exclusions:\t%d\n", s.FrameworkExclusions)
	fmt.Fprintf(tw, "Cache:\t%s\n", cacheLabel(res.CacheHit))
	fmt.Fprintf(tw, "Duration:\t%s\n", s.Total.Round(time.Millisecond))
	tw.Flush()

	for _, fe := range res.FileErrors {
		fmt.Fprintln(a.out, a.style.dim.Render(fmt.Sprintf("  skipped %s (%s): %s", fe.Path, fe.Phase, fe.Message())))
	}
	if listDead {
		fmt.Fprintf(a.out, "\n%s\n", a.style.heading.Render(fmt.Sprintf("Dead code candidates (%d):", len(dead))))
		printFunctions(a, dead)
	}
}

func cacheLabel(hit bool) string {
	if hit {
		return "hit"
	}
	return "miss"
}

func writeGraph(path string, g *graph.CallGraph) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()
	enc := newIndentEncoder(f)
	if err := enc.Encode(g.ToSerializable()); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}
