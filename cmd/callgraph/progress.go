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
	"sync"

	"github.com/mattn/go-isatty"

	"github.com/AleutianAI/callgraph/services/callgraph/pipeline"
)

// progressPrinter renders build progress. On a terminal each phase updates
// one line in place; elsewhere only finished phases are printed.
type progressPrinter struct {
	mu  sync.Mutex
	w   io.Writer
	tty bool
}

func newProgressPrinter(w io.Writer) *progressPrinter {
	tty := false
	if f, ok := w.(*os.File); ok {
		tty = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &progressPrinter{w: w, tty: tty}
}

// Update implements pipeline.ProgressFunc.
func (p *progressPrinter) Update(pr pipeline.Progress) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.tty {
		fmt.Fprintf(p.w, "\r\033[K%-10s %s", pr.Phase, progressBar(pr.Current, pr.Total, 30))
		if pr.Done() {
			fmt.Fprintln(p.w)
		}
		return
	}
	if pr.Done() {
		fmt.Fprintf(p.w, "%s: %d/%d\n", pr.Phase, pr.Current, pr.Total)
	}
}

func progressBar(current, total, width int) string {
	filled := width
	if total > 0 {
		filled = current * width / total
	}
	if filled > width {
		filled = width
	}
	bar := make([]byte, width)
	for i := range bar {
		if i < filled {
			bar[i] = '#'
		} else {
			bar[i] = '.'
		}
	}
	return fmt.Sprintf("[%s] %d/%d", bar, current, total)
}
