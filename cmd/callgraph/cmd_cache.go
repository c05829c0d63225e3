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
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/callgraph/services/callgraph/cache"
)

func newCacheCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the graph cache",
		Long: `Commands for the persistent graph cache.

The cache lives in --cache-dir, or a callgraph directory under the user
cache directory. Entries are keyed by the project's Rust file fingerprint
and the analysis settings.`,
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List cached graphs",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.withCache(func(c *cache.Cache) error {
					entries, err := c.List(cmd.Context())
					if err != nil {
						return err
					}
					if a.jsonOutput {
						if entries == nil {
							entries = []*cache.Metadata{}
						}
						return a.printJSON(entries)
					}
					if len(entries) == 0 {
						fmt.Fprintln(a.out, "cache is empty")
						return nil
					}
					tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
					fmt.Fprintln(tw, "KEY\tROOT\tNODES\tEDGES\tSIZE\tCREATED")
					for _, m := range entries {
						fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s\n",
							m.Key, m.Root, m.NodeCount, m.EdgeCount, m.CompressedSize,
							time.UnixMilli(m.CreatedAtMilli).Format(time.RFC3339))
					}
					return tw.Flush()
				})
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Remove every cached graph",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.withCache(func(c *cache.Cache) error {
					n, err := c.Clear(cmd.Context())
					if err != nil {
						return err
					}
					if a.jsonOutput {
						return a.printJSON(map[string]int{"removed": n})
					}
					fmt.Fprintf(a.out, "removed %d cached graphs\n", n)
					return nil
				})
			},
		},
	)
	return cmd
}

func (a *app) withCache(fn func(*cache.Cache) error) error {
	c, err := a.openCache()
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			a.logger.Warn("closing graph cache", slog.String("error", err.Error()))
		}
	}()
	return fn(c)
}
