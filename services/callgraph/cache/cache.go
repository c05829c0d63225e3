// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cache persists finished call graphs keyed by a project
// fingerprint.
package cache

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/callgraph/services/callgraph/graph"
)

// SchemaVersion is the version of the stored entry format. Entries written
// with another version are treated as misses.
const SchemaVersion = "2"

// BadgerDB key layout.
const (
	keyPrefix     = "callgraph:cache:"
	keySuffixData = ":data"
	keySuffixMeta = ":meta"
)

// Entry is one cached build result.
type Entry struct {
	// Root is the absolute project root the entry was built from.
	Root string `json:"root"`

	Graph               *graph.SerializableGraph `json:"graph"`
	FrameworkExclusions []graph.SetEntry         `json:"framework_exclusions"`
	PointerUsed         []graph.SetEntry         `json:"pointer_used"`
	PublicAPIs          []graph.FunctionID       `json:"public_apis,omitempty"`

	// FilesParsed and FileFailures restore the build's file statistics on a
	// hit.
	FilesParsed  int           `json:"files_parsed"`
	FileFailures []FileFailure `json:"file_failures,omitempty"`

	callGraph *graph.CallGraph
}

// FileFailure is a file the cached build skipped.
type FileFailure struct {
	Path    string `json:"path"`
	Phase   string `json:"phase"`
	Message string `json:"message"`
}

// NewEntry builds an entry from a finished build.
func NewEntry(root string, g *graph.CallGraph, exclusions, pointerUsed *graph.FunctionSet, publicAPIs []graph.FunctionID) *Entry {
	e := &Entry{
		Root:       root,
		Graph:      g.ToSerializable(),
		PublicAPIs: publicAPIs,
		callGraph:  g,
	}
	if exclusions != nil {
		e.FrameworkExclusions = exclusions.Entries()
	}
	if pointerUsed != nil {
		e.PointerUsed = pointerUsed.Entries()
	}
	return e
}

// CallGraph returns the entry's graph, rebuilding it if needed.
func (e *Entry) CallGraph() (*graph.CallGraph, error) {
	if e.callGraph != nil {
		return e.callGraph, nil
	}
	g, err := graph.FromSerializable(e.Graph)
	if err != nil {
		return nil, err
	}
	e.callGraph = g
	return g, nil
}

// Exclusions returns the framework exclusion set.
func (e *Entry) Exclusions() *graph.FunctionSet {
	return graph.FunctionSetFromEntries(e.FrameworkExclusions)
}

// PointerUsedSet returns the pointer-used set.
func (e *Entry) PointerUsedSet() *graph.FunctionSet {
	return graph.FunctionSetFromEntries(e.PointerUsed)
}

// Metadata describes a stored entry.
type Metadata struct {
	Key            string `json:"key"`
	Root           string `json:"root"`
	SchemaVersion  string `json:"schema_version"`
	GraphHash      string `json:"graph_hash"`
	CreatedAtMilli int64  `json:"created_at_milli"`
	NodeCount      int    `json:"node_count"`
	EdgeCount      int    `json:"edge_count"`

	// CompressedSize is the size of the gzip JSON payload in bytes.
	CompressedSize int64 `json:"compressed_size"`

	// ContentHash is the hex sha256 of the compressed payload.
	ContentHash string `json:"content_hash"`
}

// Options configures Open.
type Options struct {
	// Dir is the badger directory. Ignored when InMemory is set.
	Dir string

	InMemory bool

	Logger *slog.Logger
}

// Option is a functional option for Open.
type Option func(*Options)

// WithDir sets the badger directory.
func WithDir(dir string) Option {
	return func(o *Options) {
		o.Dir = dir
	}
}

// WithInMemory keeps the cache in memory only.
func WithInMemory() Option {
	return func(o *Options) {
		o.InMemory = true
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// Cache stores build results in BadgerDB.
//
// Description:
//
//	Each entry is gzip-compressed JSON with a sha256 checksum kept in a
//	separate metadata record. Anything that cannot be read back intact
//	(missing metadata, checksum mismatch, bad gzip, bad JSON, another
//	schema version) is reported as a miss so the caller rebuilds.
//
// Thread Safety: Safe for concurrent use. BadgerDB handles its own
// concurrency control.
type Cache struct {
	db     *badger.DB
	owned  bool
	logger *slog.Logger
}

// New wraps an opened database. The caller keeps ownership of db.
func New(db *badger.DB, logger *slog.Logger) (*Cache, error) {
	if db == nil {
		return nil, ErrNilDB
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{db: db, logger: logger}, nil
}

// Open opens a badger database and returns a cache owning it.
//
// Outputs:
//   - *Cache: Close it when done.
//   - error: Non-nil if badger cannot open the directory.
func Open(opts ...Option) (*Cache, error) {
	var options Options
	for _, opt := range opts {
		opt(&options)
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}

	bopts := badger.DefaultOptions(options.Dir).WithLogger(nil)
	if options.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("opening cache at %q: %w", options.Dir, err)
	}
	return &Cache{db: db, owned: true, logger: options.Logger}, nil
}

// Close closes the database if the cache opened it.
func (c *Cache) Close() error {
	if !c.owned {
		return nil
	}
	return c.db.Close()
}

func dataKey(key string) []byte { return []byte(keyPrefix + key + keySuffixData) }
func metaKey(key string) []byte { return []byte(keyPrefix + key + keySuffixMeta) }

// Put stores an entry under key, replacing any previous one.
//
// Inputs:
//   - ctx: Context for cancellation.
//   - key: A fingerprint. Must not be empty.
//   - entry: Must carry a graph.
//
// Outputs:
//   - *Metadata: What was stored.
//   - error: ErrInvalidKey, ErrNilEntry, or a serialization or storage
//     error.
func (c *Cache) Put(ctx context.Context, key string, entry *Entry) (*Metadata, error) {
	if key == "" {
		return nil, ErrInvalidKey
	}
	if entry == nil || entry.Graph == nil {
		return nil, ErrNilEntry
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ctx, span := startCacheSpan(ctx, "Cache.Put", key)
	defer span.End()

	jsonData, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("marshaling entry: %w", err)
	}

	var compressed bytes.Buffer
	gw, err := gzip.NewWriterLevel(&compressed, gzip.BestSpeed)
	if err != nil {
		return nil, fmt.Errorf("creating gzip writer: %w", err)
	}
	if _, err := gw.Write(jsonData); err != nil {
		return nil, fmt.Errorf("compressing entry: %w", err)
	}
	if err := gw.Close(); err != nil {
		return nil, fmt.Errorf("closing gzip writer: %w", err)
	}
	payload := compressed.Bytes()

	meta := &Metadata{
		Key:            key,
		Root:           entry.Root,
		SchemaVersion:  SchemaVersion,
		GraphHash:      entry.Graph.GraphHash,
		CreatedAtMilli: time.Now().UnixMilli(),
		NodeCount:      len(entry.Graph.Nodes),
		EdgeCount:      len(entry.Graph.Edges),
		CompressedSize: int64(len(payload)),
		ContentHash:    hashBytes(payload),
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshaling metadata: %w", err)
	}

	err = c.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(dataKey(key), payload); err != nil {
			return fmt.Errorf("storing data: %w", err)
		}
		if err := txn.Set(metaKey(key), metaJSON); err != nil {
			return fmt.Errorf("storing metadata: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("writing cache entry %s: %w", key, err)
	}

	recordStored(ctx, len(payload))
	c.logger.Info("cache entry stored",
		slog.String("key", key),
		slog.Int("node_count", meta.NodeCount),
		slog.Int("edge_count", meta.EdgeCount),
		slog.Int64("compressed_size", meta.CompressedSize))
	return meta, nil
}

// Get returns the entry stored under key.
//
// Description:
//
//	A missing key is a silent miss. An unreadable entry is a miss logged
//	at WARN; it stays in place until overwritten or cleared.
//
// Outputs:
//   - *Entry: The entry with its graph already rebuilt.
//   - bool: False on any miss.
func (c *Cache) Get(ctx context.Context, key string) (*Entry, bool) {
	if key == "" || ctx.Err() != nil {
		return nil, false
	}
	ctx, span := startCacheSpan(ctx, "Cache.Get", key)
	defer span.End()

	entry, reason, err := c.load(key)
	if err != nil {
		recordMiss(ctx, reason)
		if reason != "not_found" {
			c.logger.Warn("ignoring unreadable cache entry",
				slog.String("key", key),
				slog.String("reason", reason),
				slog.Any("error", err))
		}
		return nil, false
	}
	recordHit(ctx)
	return entry, true
}

func (c *Cache) load(key string) (*Entry, string, error) {
	var payload, metaJSON []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(metaKey(key))
		if err != nil {
			return err
		}
		if metaJSON, err = item.ValueCopy(nil); err != nil {
			return err
		}
		item, err = txn.Get(dataKey(key))
		if err != nil {
			return err
		}
		payload, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, "not_found", err
	}
	if err != nil {
		return nil, "read_error", err
	}

	var meta Metadata
	if err := json.Unmarshal(metaJSON, &meta); err != nil {
		return nil, "corrupt_metadata", err
	}
	if meta.SchemaVersion != SchemaVersion {
		return nil, "schema_mismatch", fmt.Errorf("schema %q, want %q", meta.SchemaVersion, SchemaVersion)
	}
	if actual := hashBytes(payload); meta.ContentHash != actual {
		return nil, "checksum_mismatch", fmt.Errorf("expected %s, got %s", meta.ContentHash, actual)
	}

	gr, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, "corrupt_data", err
	}
	defer gr.Close()
	jsonData, err := io.ReadAll(gr)
	if err != nil {
		return nil, "corrupt_data", err
	}

	var entry Entry
	if err := json.Unmarshal(jsonData, &entry); err != nil {
		return nil, "corrupt_data", err
	}
	if entry.Graph == nil {
		return nil, "corrupt_data", ErrNilEntry
	}
	if _, err := entry.CallGraph(); err != nil {
		return nil, "schema_mismatch", err
	}
	return &entry, "", nil
}

// List returns the metadata of every stored entry, newest first. Corrupt
// metadata records are skipped with a warning.
func (c *Cache) List(ctx context.Context) ([]*Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []*Metadata
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(opts.Prefix); it.Valid(); it.Next() {
			item := it.Item()
			key := string(item.Key())
			if !strings.HasSuffix(key, keySuffixMeta) {
				continue
			}
			var meta Metadata
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &meta)
			}); err != nil {
				c.logger.Warn("skipping corrupt cache metadata", slog.String("key", key), slog.Any("error", err))
				continue
			}
			out = append(out, &meta)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing cache entries: %w", err)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAtMilli != out[j].CreatedAtMilli {
			return out[i].CreatedAtMilli > out[j].CreatedAtMilli
		}
		return out[i].Key < out[j].Key
	})
	return out, nil
}

// Clear removes every entry and returns how many there were.
func (c *Cache) Clear(ctx context.Context) (int, error) {
	entries, err := c.List(ctx)
	if err != nil {
		return 0, err
	}
	if err := c.db.DropPrefix([]byte(keyPrefix)); err != nil {
		return 0, fmt.Errorf("clearing cache: %w", err)
	}
	c.logger.Info("cache cleared", slog.Int("entries", len(entries)))
	return len(entries), nil
}

func hashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
