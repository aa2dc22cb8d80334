// Package cachemgr is the orchestrator: it discovers files under a
// PathFilter, maintains the path -> FileIndex map, drives (re)tagging and
// embedding through a ThreadPool and EmbeddingProcessor, and answers the
// queries the rest of the system is built to serve.
package cachemgr

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/vsctoolbox/index/internal/embedproc"
	"github.com/vsctoolbox/index/internal/fileindex"
	"github.com/vsctoolbox/index/internal/gitignore"
	"github.com/vsctoolbox/index/internal/ipc"
	"github.com/vsctoolbox/index/internal/pathfilter"
	"github.com/vsctoolbox/index/internal/queryparser"
	"github.com/vsctoolbox/index/internal/vectordb"
)

// discoveryBatchSize is how many newly-discovered files buildInitialIndex
// inserts into the map before yielding to other goroutines.
const discoveryBatchSize = 500

// Pool is the subset of ThreadPool's batch APIs CacheManager drives.
type Pool interface {
	IndexAll(ctx context.Context, inputs []ipc.IndexInput) ([]ipc.IndexOutput, error)
	ComputeChunksAll(ctx context.Context, inputs []ipc.ChunkInput) ([]ipc.ChunkOutput, error)
	SearchAll(ctx context.Context, inputs []ipc.SearchInput) ([]ipc.SearchOutput, error)
}

// SearchHit is one matching line of a text search, identified by file and
// line so callers can jump straight to it.
type SearchHit struct {
	FilePath string
	Line     int
	Text     string
}

// Embedder is what CacheManager needs from LlamaEmbedder: its fixed
// dimensionality (to size the vector database) and the batch embed call
// EmbeddingProcessor drives.
type Embedder interface {
	Dimensions() int
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// chunkComputerAdapter bridges Pool's ipc-typed ComputeChunksAll to
// embedproc's package-local ChunkComputer interface, so embedproc stays
// decoupled from the wire format.
type chunkComputerAdapter struct {
	pool Pool
}

func (a chunkComputerAdapter) ComputeChunksAll(ctx context.Context, inputs []embedproc.ChunkInput) ([]embedproc.ChunkOutput, error) {
	ipcInputs := make([]ipc.ChunkInput, len(inputs))
	for i, in := range inputs {
		ipcInputs[i] = ipc.ChunkInput{FilePath: in.FilePath, TagPath: in.TagPath}
	}
	outs, err := a.pool.ComputeChunksAll(ctx, ipcInputs)
	if err != nil {
		return nil, err
	}
	result := make([]embedproc.ChunkOutput, len(outs))
	for i, o := range outs {
		chunks := make([]embedproc.ChunkRecord, len(o.Chunks))
		for j, c := range o.Chunks {
			chunks[j] = embedproc.ChunkRecord{StartLine: c.StartLine, EndLine: c.EndLine, Text: c.Text, SHA256: c.SHA256}
		}
		result[i] = embedproc.ChunkOutput{FilePath: o.FilePath, Chunks: chunks, Error: o.Error}
	}
	return result, nil
}

// NearestResult is one similarity-ranked chunk match.
type NearestResult struct {
	FilePath   string
	StartLine  int
	EndLine    int
	Similarity float32
}

// CacheManager holds the file map, the PathFilter, the worker pool, the
// vector database, and the embedding pipeline for one workspace.
type CacheManager struct {
	mu sync.RWMutex

	filter    *pathfilter.PathFilter
	pool      Pool
	embedder  Embedder
	vectors   *vectordb.VectorDatabase
	embedProc *embedproc.Processor

	tagCmd    string
	cacheRoot string
	rootPath  string
	files     map[string]*fileindex.FileIndex

	ready chan struct{}
}

// Initialize computes the cache root from the filter's first include root,
// opens the vector database sized to the embedder's dimensionality, ensures
// the tag cache bucket directories exist, and schedules buildInitialIndex
// in the background. It returns as soon as setup completes, not once
// indexing finishes.
func Initialize(ctx context.Context, filter *pathfilter.PathFilter, tagCmd string, pool Pool, embedder Embedder) (*CacheManager, error) {
	roots := filter.IncludeRoots()
	if len(roots) == 0 {
		return nil, fmt.Errorf("cachemgr: no include roots configured")
	}
	rootPath := roots[0]
	cacheRoot := filepath.Join(rootPath, ".cache", "vsctoolbox", "index")

	vectors, err := vectordb.Open(cacheRoot, embedder.Dimensions())
	if err != nil {
		return nil, fmt.Errorf("open vector database: %w", err)
	}

	for _, bucket := range fileindex.TagBuckets() {
		if err := os.MkdirAll(filepath.Join(cacheRoot, "ctags", bucket), 0o755); err != nil {
			_ = vectors.Close()
			return nil, fmt.Errorf("create tag bucket %s: %w", bucket, err)
		}
	}

	cm := &CacheManager{
		filter:    filter,
		pool:      pool,
		embedder:  embedder,
		vectors:   vectors,
		tagCmd:    tagCmd,
		cacheRoot: cacheRoot,
		rootPath:  rootPath,
		files:     make(map[string]*fileindex.FileIndex),
		ready:     make(chan struct{}),
	}
	cm.embedProc = embedproc.New(chunkComputerAdapter{pool: pool}, embedder, vectors)

	go cm.buildInitialIndex(ctx)

	return cm, nil
}

// Ready is closed once the initial discovery-and-index pass started by
// Initialize completes.
func (cm *CacheManager) Ready() <-chan struct{} {
	return cm.ready
}

func (cm *CacheManager) buildInitialIndex(ctx context.Context) {
	cm.mu.RLock()
	ready := cm.ready
	cm.mu.RUnlock()
	defer close(ready)

	paths, err := cm.discoverPaths(ctx, "")
	if err != nil {
		return
	}

	var newEntries []*fileindex.FileIndex
	for i, p := range paths {
		key := normKey(p)

		cm.mu.Lock()
		if _, exists := cm.files[key]; !exists {
			fi := fileindex.New(cm.cacheRoot, p)
			cm.files[key] = fi
			newEntries = append(newEntries, fi)
		}
		cm.mu.Unlock()

		if (i+1)%discoveryBatchSize == 0 {
			runtime.Gosched()
			if ctx.Err() != nil {
				return
			}
		}
	}

	if len(newEntries) == 0 {
		return
	}
	if err := cm.indexFiles(ctx, newEntries); err != nil {
		slog.Warn("initial indexing failed", slog.String("error", err.Error()))
	}
}

// discoverPaths walks scope (or every include root when scope is empty,
// one goroutine per root) and returns every file PathFilter admits.
func (cm *CacheManager) discoverPaths(ctx context.Context, scope string) ([]string, error) {
	roots := []string{scope}
	if scope == "" {
		roots = cm.filter.IncludeRoots()
	}

	var mu sync.Mutex
	seen := make(map[string]struct{})
	var out []string

	g, gctx := errgroup.WithContext(ctx)
	for _, root := range roots {
		root := root
		g.Go(func() error {
			walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					return nil
				}
				if gctx.Err() != nil {
					return gctx.Err()
				}
				if d.IsDir() {
					return nil
				}
				if !cm.filter.ShouldInclude(path) {
					return nil
				}
				key := normKey(path)

				mu.Lock()
				defer mu.Unlock()
				if _, dup := seen[key]; dup {
					return nil
				}
				seen[key] = struct{}{}
				out = append(out, path)
				return nil
			})
			if walkErr != nil && gctx.Err() == nil {
				slog.Warn("scanning include root failed", slog.String("root", root), slog.String("error", walkErr.Error()))
			}
			return nil
		})
	}
	_ = g.Wait()
	if ctx.Err() != nil {
		return out, ctx.Err()
	}
	return out, nil
}

// indexFiles runs the tagger on whichever entries are stale, then hands
// every entry (stale or not) to the embedding pipeline so moved/deleted
// chunks are always reconciled.
func (cm *CacheManager) indexFiles(ctx context.Context, entries []*fileindex.FileIndex) error {
	var stale []*fileindex.FileIndex
	for _, fi := range entries {
		if !fi.IsValid() {
			stale = append(stale, fi)
		}
	}

	if len(stale) > 0 {
		inputs := make([]ipc.IndexInput, len(stale))
		for i, fi := range stale {
			inputs[i] = ipc.IndexInput{FilePath: fi.SourcePath, TagPath: fi.TagPath}
		}
		outputs, err := cm.pool.IndexAll(ctx, inputs)
		if err != nil {
			return fmt.Errorf("tag batch: %w", err)
		}
		for i, out := range outputs {
			if i >= len(stale) {
				break
			}
			if out.Status == ipc.IndexStatusFailed {
				slog.Warn("tagging failed", slog.String("file", stale[i].SourcePath), slog.String("error", out.Error))
			}
			stale[i].InvalidateSymbols()
		}
	}

	files := make([]embedproc.File, len(entries))
	for i, fi := range entries {
		files[i] = embedproc.File{FilePath: fi.SourcePath, TagPath: fi.TagPath}
	}
	if _, err := cm.embedProc.Run(ctx, files); err != nil {
		return fmt.Errorf("embed batch: %w", err)
	}
	return nil
}

// Add inserts path if PathFilter admits it and it isn't already tracked,
// then indexes it.
func (cm *CacheManager) Add(ctx context.Context, path string) error {
	if !cm.filter.ShouldInclude(path) {
		return nil
	}
	abs := cm.resolvePath(path)
	key := normKey(abs)

	cm.mu.Lock()
	if _, exists := cm.files[key]; exists {
		cm.mu.Unlock()
		return nil
	}
	fi := fileindex.New(cm.cacheRoot, abs)
	cm.files[key] = fi
	cm.mu.Unlock()

	return cm.indexFiles(ctx, []*fileindex.FileIndex{fi})
}

// Invalidate re-indexes path if its content hash no longer matches what
// was last tagged, and always drops its cached symbol list.
func (cm *CacheManager) Invalidate(ctx context.Context, path string) error {
	abs := cm.resolvePath(path)
	key := normKey(abs)

	cm.mu.RLock()
	fi, ok := cm.files[key]
	cm.mu.RUnlock()
	if !ok {
		return cm.Add(ctx, path)
	}

	fi.InvalidateSymbols()
	if fi.IsValid() {
		return nil
	}
	return cm.indexFiles(ctx, []*fileindex.FileIndex{fi})
}

// Remove drops path from the map and its symbol cache entry.
func (cm *CacheManager) Remove(ctx context.Context, path string) error {
	abs := cm.resolvePath(path)
	key := normKey(abs)

	cm.mu.Lock()
	fi, ok := cm.files[key]
	if ok {
		delete(cm.files, key)
	}
	cm.mu.Unlock()

	if ok {
		fi.InvalidateSymbols()
	}
	return nil
}

// Get looks up paths, optionally re-indexing whichever entries are stale
// in a single pool batch before returning.
func (cm *CacheManager) Get(ctx context.Context, paths []string, ensureValid bool) ([]*fileindex.FileIndex, error) {
	cm.mu.RLock()
	entries := make([]*fileindex.FileIndex, 0, len(paths))
	for _, p := range paths {
		if fi, ok := cm.files[normKey(cm.resolvePath(p))]; ok {
			entries = append(entries, fi)
		}
	}
	cm.mu.RUnlock()

	if !ensureValid {
		return entries, nil
	}
	return entries, cm.reindexInvalid(ctx, entries)
}

// GetAll returns every tracked entry, optionally re-indexing stale ones
// first.
func (cm *CacheManager) GetAll(ctx context.Context, ensureValid bool) ([]*fileindex.FileIndex, error) {
	cm.mu.RLock()
	entries := make([]*fileindex.FileIndex, 0, len(cm.files))
	for _, fi := range cm.files {
		entries = append(entries, fi)
	}
	cm.mu.RUnlock()

	if !ensureValid {
		return entries, nil
	}
	return entries, cm.reindexInvalid(ctx, entries)
}

func (cm *CacheManager) reindexInvalid(ctx context.Context, entries []*fileindex.FileIndex) error {
	var invalid []*fileindex.FileIndex
	for _, fi := range entries {
		if !fi.IsValid() {
			invalid = append(invalid, fi)
		}
	}
	if len(invalid) == 0 {
		return nil
	}
	return cm.indexFiles(ctx, invalid)
}

// GetAllPaths returns every tracked source path, optionally filtered by
// comma-separated gitignore-style glob lists.
func (cm *CacheManager) GetAllPaths(include, exclude string) []string {
	cm.mu.RLock()
	paths := make([]string, 0, len(cm.files))
	for _, fi := range cm.files {
		paths = append(paths, fi.SourcePath)
	}
	cm.mu.RUnlock()
	sort.Strings(paths)

	includeGlobs := splitPatterns(include)
	excludeGlobs := splitPatterns(exclude)
	if len(includeGlobs) == 0 && len(excludeGlobs) == 0 {
		return paths
	}

	out := make([]string, 0, len(paths))
	for _, p := range paths {
		rel := cm.relPath(p)
		if len(includeGlobs) > 0 && !gitignore.MatchesAnyPattern(rel, includeGlobs) {
			continue
		}
		if gitignore.MatchesAnyPattern(rel, excludeGlobs) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// AllPaths satisfies watchbridge.CacheMutator's no-argument accessor.
func (cm *CacheManager) AllPaths() []string {
	return cm.GetAllPaths("", "")
}

// Search runs an AND-conjunction literal/glob search for query across every
// tracked path admitted by scope (a comma-separated include-glob list, or
// "" for the whole tracked set), returning at most limit hits in path then
// line order. A file contributes nothing if any AND term has zero matches
// in it; that's enforced worker-side by worker.Search.
func (cm *CacheManager) Search(ctx context.Context, query, scope string, limit int) ([]SearchHit, error) {
	terms := strings.Fields(query)
	patterns := queryparser.ParseQueryAsAnd(query)
	if len(patterns) == 0 {
		return nil, nil
	}

	literals := make([][]string, len(terms))
	for i, t := range terms {
		literals[i] = queryparser.ExtractLiterals(t)
	}

	candidates := cm.GetAllPaths(scope, "")
	if len(candidates) == 0 {
		return nil, nil
	}

	inputs := make([]ipc.SearchInput, len(candidates))
	for i, p := range candidates {
		inputs[i] = ipc.SearchInput{FilePath: p, Patterns: patterns, Literals: literals}
	}

	outputs, err := cm.pool.SearchAll(ctx, inputs)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	var hits []SearchHit
	for _, out := range outputs {
		if out.Error != "" {
			continue
		}
		for _, m := range out.Matches {
			hits = append(hits, SearchHit{FilePath: out.FilePath, Line: m.Line, Text: m.Text})
			if limit > 0 && len(hits) >= limit {
				return hits, nil
			}
		}
	}
	return hits, nil
}

// GetNearestEmbeddings delegates to the vector database and converts its
// cosine distances to similarity scores.
func (cm *CacheManager) GetNearestEmbeddings(queryVector []float32, topK int) ([]NearestResult, error) {
	nearest, err := cm.vectors.GetNearestFileChunks(queryVector, topK)
	if err != nil {
		return nil, err
	}
	out := make([]NearestResult, len(nearest))
	for i, n := range nearest {
		out[i] = NearestResult{
			FilePath:   n.FilePath,
			StartLine:  n.StartLine,
			EndLine:    n.EndLine,
			Similarity: vectordb.DistanceToSimilarity(n.Distance),
		}
	}
	return out, nil
}

// UpdateConfig replaces the filter, clears the file map, and schedules a
// fresh discovery pass.
func (cm *CacheManager) UpdateConfig(ctx context.Context, filter *pathfilter.PathFilter) {
	cm.mu.Lock()
	cm.filter = filter
	cm.files = make(map[string]*fileindex.FileIndex)
	if roots := filter.IncludeRoots(); len(roots) > 0 {
		cm.rootPath = roots[0]
	}
	cm.ready = make(chan struct{})
	cm.mu.Unlock()

	go cm.buildInitialIndex(ctx)
}

// Reconcile re-derives the tracked set under scope ("" means the whole
// workspace) from the filesystem: files no longer admitted are dropped,
// newly-admitted ones are indexed.
func (cm *CacheManager) Reconcile(ctx context.Context, scope string) error {
	var walkRoot string
	if scope != "" {
		walkRoot = cm.resolvePath(scope)
	}

	discovered, err := cm.discoverPaths(ctx, walkRoot)
	if err != nil {
		return err
	}
	shouldBeIndexed := make(map[string]struct{}, len(discovered))
	for _, p := range discovered {
		shouldBeIndexed[normKey(p)] = struct{}{}
	}

	cm.mu.RLock()
	var trackedKeys []string
	for key, fi := range cm.files {
		if walkRoot != "" && !underRoot(fi.SourcePath, walkRoot) {
			continue
		}
		trackedKeys = append(trackedKeys, key)
	}
	cm.mu.RUnlock()

	trackedSet := make(map[string]struct{}, len(trackedKeys))
	for _, k := range trackedKeys {
		trackedSet[k] = struct{}{}
	}

	var toRemove []string
	for _, key := range trackedKeys {
		if _, ok := shouldBeIndexed[key]; !ok {
			toRemove = append(toRemove, key)
		}
	}
	var toAdd []string
	for _, p := range discovered {
		if _, ok := trackedSet[normKey(p)]; !ok {
			toAdd = append(toAdd, p)
		}
	}

	for _, key := range toRemove {
		cm.mu.Lock()
		fi, ok := cm.files[key]
		if ok {
			delete(cm.files, key)
		}
		cm.mu.Unlock()
		if ok {
			fi.InvalidateSymbols()
		}
	}

	var newEntries []*fileindex.FileIndex
	for _, p := range toAdd {
		fi := fileindex.New(cm.cacheRoot, p)
		cm.mu.Lock()
		cm.files[normKey(p)] = fi
		cm.mu.Unlock()
		newEntries = append(newEntries, fi)
	}

	slog.Info("reconciliation complete",
		slog.String("scope", scope),
		slog.Int("removed", len(toRemove)),
		slog.Int("added", len(newEntries)))

	if len(newEntries) == 0 {
		return nil
	}
	return cm.indexFiles(ctx, newEntries)
}

// ReconcileByPatterns drops already-tracked files matching any of
// addedPatterns without touching the filesystem: the cheap path for a
// .gitignore edit that only adds entries.
func (cm *CacheManager) ReconcileByPatterns(ctx context.Context, addedPatterns []string) error {
	if len(addedPatterns) == 0 {
		return nil
	}

	cm.mu.RLock()
	var toRemove []string
	for key, fi := range cm.files {
		if gitignore.MatchesAnyPattern(cm.relPath(fi.SourcePath), addedPatterns) {
			toRemove = append(toRemove, key)
		}
	}
	cm.mu.RUnlock()

	for _, key := range toRemove {
		cm.mu.Lock()
		fi, ok := cm.files[key]
		if ok {
			delete(cm.files, key)
		}
		cm.mu.Unlock()
		if ok {
			fi.InvalidateSymbols()
		}
	}

	slog.Info("pattern-diff reconciliation complete", slog.Int("removed", len(toRemove)))
	return nil
}

// Close persists the vector database and releases its resources.
func (cm *CacheManager) Close() error {
	if err := cm.vectors.Save(cm.cacheRoot); err != nil {
		slog.Warn("saving vector database", slog.String("error", err.Error()))
	}
	return cm.vectors.Close()
}

func (cm *CacheManager) resolvePath(path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	cm.mu.RLock()
	root := cm.rootPath
	cm.mu.RUnlock()
	return filepath.Join(root, path)
}

func (cm *CacheManager) relPath(abs string) string {
	cm.mu.RLock()
	root := cm.rootPath
	cm.mu.RUnlock()
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return filepath.ToSlash(abs)
	}
	return filepath.ToSlash(rel)
}

func underRoot(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func normKey(path string) string {
	return filepath.Clean(path)
}

func splitPatterns(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
