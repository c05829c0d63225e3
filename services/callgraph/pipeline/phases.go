// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/callgraph/services/callgraph/ast"
	"github.com/AleutianAI/callgraph/services/callgraph/extract"
	"github.com/AleutianAI/callgraph/services/callgraph/graph"
	"github.com/AleutianAI/callgraph/services/callgraph/index"
	"github.com/AleutianAI/callgraph/services/callgraph/resolve"
)

// errPanic wraps a recovered panic.
var errPanic = errors.New("panic")

// langResult is the finished build of one language.
type langResult struct {
	graph       *graph.CallGraph
	exclusions  *graph.FunctionSet
	pointerUsed *graph.FunctionSet
	publicAPIs  []graph.FunctionID
}

// sourceFile is a file read in phase one.
type sourceFile struct {
	path    string
	content []byte
}

// chunkResult is the output of one extraction chunk.
type chunkResult struct {
	partial *graph.CallGraph
	files   []*ast.FileAST
	errs    []FileError
}

// buildLanguage runs the three phases over the files of one language.
func (o *Orchestrator) buildLanguage(ctx context.Context, root string, lang ast.Language, files []string, progress *progressReporter, res *Result) (*langResult, error) {
	ctx, span := tracer.Start(ctx, "pipeline.buildLanguage")
	defer span.End()

	// Phase 1: read.
	start := time.Now()
	sources, readErrs := o.readFiles(ctx, root, files, progress)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res.FileErrors = append(res.FileErrors, readErrs...)
	elapsed := time.Since(start)
	res.Stats.Durations.Read += elapsed
	recordPhase(ctx, PhaseReading, string(lang), elapsed)

	// Phase 2: parse and extract per chunk, reduce, resolve cross-file.
	start = time.Now()
	chunks := o.chunk(sources)
	results, err := o.extractChunks(ctx, chunks, progress)
	if err != nil {
		return nil, err
	}
	partials := make([]*graph.CallGraph, 0, len(results))
	var parsed []*ast.FileAST
	for _, r := range results {
		partials = append(partials, r.partial)
		parsed = append(parsed, r.files...)
		res.FileErrors = append(res.FileErrors, r.errs...)
	}
	sort.Slice(parsed, func(i, j int) bool { return parsed[i].Path < parsed[j].Path })

	merged := graph.MergeAll(partials...)
	idx := index.NewFunctionIndex()
	for _, f := range parsed {
		if _, err := idx.AddFile(f); err != nil {
			o.logger.Warn("function index full; cross-file resolution is partial",
				slog.String("file", f.Path),
				slog.String("error", err.Error()))
			break
		}
	}
	crossFile, err := merged.ResolveCrossFileCalls(ctx, index.NewCallResolver(idx), o.options.Workers)
	if err != nil {
		return nil, err
	}
	res.Stats.Chunks += len(chunks)
	res.Stats.FilesParsed += len(parsed)
	res.Stats.CrossFileResolved += crossFile
	elapsed = time.Since(start)
	res.Stats.Durations.Extract += elapsed
	recordPhase(ctx, PhaseExtracting, string(lang), elapsed)

	// Phase 3: sequential resolution on this goroutine.
	start = time.Now()
	opts := append([]resolve.Option{resolve.WithLogger(o.logger)}, o.options.ResolveOptions...)
	acc := resolve.NewAccumulator(merged, opts...)
	resolver := resolve.NewEnhancedResolver(o.logger)
	progress.report(PhaseResolving, 0, len(parsed))
	for i, f := range parsed {
		if err := resolver.ProcessFile(ctx, acc, f); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			o.logger.Warn("skipping file in resolution",
				slog.String("file", f.Path),
				slog.String("error", err.Error()))
			res.FileErrors = append(res.FileErrors, FileError{Path: f.Path, Phase: "resolve", Err: err})
			recordFileError(ctx, "resolve")
		}
		progress.report(PhaseResolving, i+1, len(parsed))
	}
	elapsed = time.Since(start)
	res.Stats.Durations.Resolve += elapsed
	recordPhase(ctx, PhaseResolving, string(lang), elapsed)

	start = time.Now()
	progress.report(PhaseFinalizing, 0, 1)
	cm, err := resolve.NewCrossModuleResolver(o.logger).ResolveAll(ctx, acc)
	if err != nil {
		return nil, err
	}
	eg, err := resolve.NewFinalizer(o.logger).Finalize(ctx, acc)
	if err != nil {
		return nil, err
	}
	progress.report(PhaseFinalizing, 1, 1)
	res.Stats.CrossModule.Attempted += cm.Attempted
	res.Stats.CrossModule.Resolved += cm.Resolved
	res.Stats.CrossModule.Dropped += cm.Dropped
	res.Stats.add(eg.Stats)
	elapsed = time.Since(start)
	res.Stats.Durations.Finalize += elapsed
	recordPhase(ctx, PhaseFinalizing, string(lang), elapsed)

	o.logger.Debug("language built",
		slog.String("language", string(lang)),
		slog.Int("files", len(files)),
		slog.Int("parsed", len(parsed)),
		slog.Int("chunks", len(chunks)),
		slog.Int("nodes", eg.Graph.NodeCount()),
		slog.Int("edges", eg.Graph.EdgeCount()))

	return &langResult{
		graph:       eg.Graph,
		exclusions:  eg.FrameworkExclusions,
		pointerUsed: eg.PointerUsed,
		publicAPIs:  eg.PublicAPIs,
	}, nil
}

// readFiles reads files on the worker pool.
//
// Each worker appends failures to its own slice; contents are written to
// disjoint slots of a shared slice. Panics fail only the file.
func (o *Orchestrator) readFiles(ctx context.Context, root string, files []string, progress *progressReporter) ([]sourceFile, []FileError) {
	total := len(files)
	slots := make([]*sourceFile, total)
	progress.report(PhaseReading, 0, total)

	workers := o.options.Workers
	if workers > total {
		workers = total
	}
	jobs := make(chan int)
	workerErrs := make([][]FileError, workers)
	var processed atomic.Int64
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := range jobs {
				content, err := o.readFile(root, files[i])
				if err != nil {
					o.logger.Warn("skipping unreadable file",
						slog.String("file", files[i]),
						slog.String("error", err.Error()))
					workerErrs[w] = append(workerErrs[w], FileError{Path: files[i], Phase: "read", Err: err})
				} else {
					slots[i] = &sourceFile{path: files[i], content: content}
				}
				progress.report(PhaseReading, int(processed.Add(1)), total)
			}
		}(w)
	}

feed:
	for i := range files {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()

	out := make([]sourceFile, 0, total)
	for _, s := range slots {
		if s != nil {
			out = append(out, *s)
		}
	}
	var errs []FileError
	for _, we := range workerErrs {
		for _, e := range we {
			recordFileError(ctx, e.Phase)
			errs = append(errs, e)
		}
	}
	return out, errs
}

func (o *Orchestrator) readFile(root, rel string) (content []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w reading %s: %v", errPanic, rel, r)
		}
	}()
	return os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
}

// chunk splits sources into contiguous chunks of ChunkSize files.
func (o *Orchestrator) chunk(sources []sourceFile) [][]sourceFile {
	if len(sources) == 0 {
		return nil
	}
	size := o.options.ChunkSize
	if size <= 0 {
		size = (len(sources) + o.options.Workers - 1) / o.options.Workers
	}
	if size < 1 {
		size = 1
	}
	chunks := make([][]sourceFile, 0, (len(sources)+size-1)/size)
	for i := 0; i < len(sources); i += size {
		end := i + size
		if end > len(sources) {
			end = len(sources)
		}
		chunks = append(chunks, sources[i:end])
	}
	return chunks
}

// extractChunks parses and extracts every chunk into an independent
// partial graph, at most Workers chunks at a time.
func (o *Orchestrator) extractChunks(ctx context.Context, chunks [][]sourceFile, progress *progressReporter) ([]chunkResult, error) {
	results := make([]chunkResult, len(chunks))
	total := len(chunks)
	progress.report(PhaseExtracting, 0, total)

	var done atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.options.Workers)
	for i, c := range chunks {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			var r chunkResult
			for _, src := range c {
				file, err := o.parseFile(gctx, src)
				if err != nil {
					if ctxErr := gctx.Err(); ctxErr != nil {
						return ctxErr
					}
					o.logger.Warn("skipping unparsable file",
						slog.String("file", src.path),
						slog.String("error", err.Error()))
					recordFileError(gctx, "parse")
					r.errs = append(r.errs, FileError{Path: src.path, Phase: "parse", Err: err})
					continue
				}
				r.files = append(r.files, file)
			}
			r.partial = extract.Extract(r.files)
			results[i] = r
			progress.report(PhaseExtracting, int(done.Add(1)), total)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (o *Orchestrator) parseFile(ctx context.Context, src sourceFile) (file *ast.FileAST, err error) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("parser panic",
				slog.String("file", src.path),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			file, err = nil, fmt.Errorf("%w parsing %s: %v", errPanic, src.path, r)
		}
	}()
	parser, err := o.registry.ForPath(src.path)
	if err != nil {
		return nil, err
	}
	return parser.Parse(ctx, src.content, src.path)
}
