// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package callgraph serves call graphs over HTTP.
//
// A Service builds graphs with a pipeline.Orchestrator and keeps the most
// recent ones in memory, keyed by build ID. Handlers expose build and
// query endpoints under /v1/callgraph.
package callgraph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/callgraph/services/callgraph/pipeline"
)

// ServiceConfig configures a Service.
type ServiceConfig struct {
	// MaxCachedGraphs is the number of graphs kept in memory. The oldest
	// build is evicted first.
	// Default: 8
	MaxCachedGraphs int

	// MaxBuildDuration bounds one build. Zero means no limit.
	// Default: 10m
	MaxBuildDuration time.Duration

	// AllowedRoots restricts build roots to these directory prefixes.
	// Empty allows any absolute root.
	AllowedRoots []string
}

// DefaultServiceConfig returns the default configuration.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		MaxCachedGraphs:  8,
		MaxBuildDuration: 10 * time.Minute,
	}
}

// CachedGraph is a build result held by the Service.
type CachedGraph struct {
	Result *pipeline.Result

	BuiltAt time.Time

	seq uint64
}

// Service builds and caches call graphs.
//
// Thread Safety: Safe for concurrent use. Builds of the same root are
// serialized; builds of different roots run concurrently.
type Service struct {
	config ServiceConfig
	orch   *pipeline.Orchestrator
	logger *slog.Logger

	mu     sync.RWMutex
	graphs map[string]*CachedGraph
	seq    uint64

	buildLocks sync.Map // root -> *sync.Mutex
}

// NewService creates a Service around an orchestrator.
func NewService(orch *pipeline.Orchestrator, config ServiceConfig, logger *slog.Logger) *Service {
	if config.MaxCachedGraphs <= 0 {
		config.MaxCachedGraphs = DefaultServiceConfig().MaxCachedGraphs
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		config: config,
		orch:   orch,
		logger: logger,
		graphs: make(map[string]*CachedGraph),
	}
}

// Build builds the graph of root and caches it under its build ID.
//
// Description:
//
//	When files is non-empty only those root-relative files are built.
//	A second build of a root that is still building fails fast instead of
//	queueing.
//
// Outputs:
//   - *CachedGraph: The cached result.
//   - error: ErrRelativePath, ErrRootNotAllowed, ErrBuildInProgress,
//     ErrBuildTimeout, or a pipeline error. A file escaping root fails with
//     discover.ErrPathOutsideRoot.
func (s *Service) Build(ctx context.Context, root string, files []string) (*CachedGraph, error) {
	return s.BuildWithProgress(ctx, root, files, nil)
}

// BuildWithProgress is Build with a progress callback. A nil progress
// behaves like Build.
func (s *Service) BuildWithProgress(ctx context.Context, root string, files []string, progress pipeline.ProgressFunc) (*CachedGraph, error) {
	root, err := s.validateRoot(root)
	if err != nil {
		return nil, err
	}

	lock := s.buildLock(root)
	if !lock.TryLock() {
		return nil, fmt.Errorf("%w: %s", ErrBuildInProgress, root)
	}
	defer lock.Unlock()

	if s.config.MaxBuildDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.MaxBuildDuration)
		defer cancel()
	}

	orch := s.orch
	if progress != nil {
		orch = orch.With(pipeline.WithProgress(progress))
	}

	var res *pipeline.Result
	if len(files) > 0 {
		res, err = orch.BuildFiles(ctx, root, files)
	} else {
		res, err = orch.Build(ctx, root)
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", ErrBuildTimeout, s.config.MaxBuildDuration)
		}
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	cached := &CachedGraph{Result: res, BuiltAt: time.Now(), seq: s.seq}
	s.graphs[res.BuildID] = cached
	s.evictLocked()
	return cached, nil
}

// Graph returns the cached graph with the given build ID.
func (s *Service) Graph(id string) (*CachedGraph, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cached, ok := s.graphs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrGraphNotFound, id)
	}
	return cached, nil
}

// GraphCount returns the number of cached graphs.
func (s *Service) GraphCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.graphs)
}

func (s *Service) validateRoot(root string) (string, error) {
	if root == "" || !filepath.IsAbs(root) {
		return "", fmt.Errorf("%w: %q", ErrRelativePath, root)
	}
	root = filepath.Clean(root)
	if len(s.config.AllowedRoots) == 0 {
		return root, nil
	}
	for _, allowed := range s.config.AllowedRoots {
		allowed = filepath.Clean(allowed)
		if root == allowed || strings.HasPrefix(root, allowed+string(filepath.Separator)) {
			return root, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrRootNotAllowed, root)
}

func (s *Service) buildLock(root string) *sync.Mutex {
	lock, _ := s.buildLocks.LoadOrStore(root, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// evictLocked drops the oldest builds over capacity. Caller holds mu.
func (s *Service) evictLocked() {
	for len(s.graphs) > s.config.MaxCachedGraphs {
		var oldestID string
		var oldest uint64
		for id, g := range s.graphs {
			if oldestID == "" || g.seq < oldest {
				oldestID, oldest = id, g.seq
			}
		}
		s.logger.Debug("evicting cached graph", slog.String("graph_id", oldestID))
		delete(s.graphs, oldestID)
	}
}
