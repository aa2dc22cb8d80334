// Package fileindex wraps one source file with its derived tag path and
// freshness/symbol-lookup logic.
package fileindex

import (
	"os"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// symbolCacheCapacity is the process-wide LRU size for parsed symbol lists
// (spec §3: "capacity 300").
const symbolCacheCapacity = 300

type symbolCacheKey struct {
	tagPath string
	mtime   int64
}

// symbolCache is process-wide: every FileIndex shares it, keyed by tag path
// and the tag file's mtime at the time it was read.
var (
	symbolCacheOnce sync.Once
	symbolCache     *lru.Cache[symbolCacheKey, []Symbol]
)

func getSymbolCache() *lru.Cache[symbolCacheKey, []Symbol] {
	symbolCacheOnce.Do(func() {
		c, err := lru.New[symbolCacheKey, []Symbol](symbolCacheCapacity)
		if err != nil {
			panic(err) // only fails for non-positive capacity, which is a constant here
		}
		symbolCache = c
	})
	return symbolCache
}

// FileIndex is a per-file handle over one source path and its derived tag
// path.
type FileIndex struct {
	SourcePath string
	TagPath    string
}

// New constructs a FileIndex for sourcePath, deriving its tag path under
// cacheRoot.
func New(cacheRoot, sourcePath string) *FileIndex {
	return &FileIndex{
		SourcePath: sourcePath,
		TagPath:    TagPath(cacheRoot, sourcePath),
	}
}

// IsValid reports whether the tag file is fresh relative to the source.
// Fast path: tag-mtime >= source-mtime. Slow path: the tag file's sha256
// footer equals a freshly computed digest of the source. Returns false on
// any I/O error (missing tag file, unreadable source, ...).
func (fi *FileIndex) IsValid() bool {
	srcInfo, err := os.Stat(fi.SourcePath)
	if err != nil {
		return false
	}
	tagInfo, err := os.Stat(fi.TagPath)
	if err != nil {
		return false
	}

	if !tagInfo.ModTime().Before(srcInfo.ModTime()) {
		return true
	}

	footerHash, err := ReadFooterHash(fi.TagPath)
	if err != nil {
		return false
	}
	srcHash, err := SHA256File(fi.SourcePath)
	if err != nil {
		return false
	}
	return footerHash == srcHash
}

// GetSymbols returns the parsed symbol list, meaningful only once IsValid
// returns true. Results are cached in the module-level LRU, keyed by the
// tag file's mtime observed immediately before the read, so a concurrent
// rewrite of the tag file cannot falsely promote a stale cache entry.
func (fi *FileIndex) GetSymbols() ([]Symbol, error) {
	info, err := os.Stat(fi.TagPath)
	if err != nil {
		return nil, err
	}
	preReadMtime := info.ModTime().UnixNano()
	key := symbolCacheKey{tagPath: fi.TagPath, mtime: preReadMtime}

	cache := getSymbolCache()
	if symbols, ok := cache.Get(key); ok {
		return symbols, nil
	}

	f, err := os.Open(fi.TagPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	symbols, err := ParseTagFile(f)
	if err != nil {
		return nil, err
	}

	cache.Add(key, symbols)
	return symbols, nil
}

// InvalidateSymbols drops any cached symbol list for this file, regardless
// of mtime; called on external invalidation (watcher event, content hash
// mismatch) so a stale in-memory entry can't outlive the file change.
func (fi *FileIndex) InvalidateSymbols() {
	cache := getSymbolCache()
	for _, key := range cache.Keys() {
		if key.tagPath == fi.TagPath {
			cache.Remove(key)
		}
	}
}

// GetContainer returns the innermost container symbol enclosing line, or
// false if none does. Ties (same span width) are broken by latest start
// line.
func (fi *FileIndex) GetContainer(line int) (Symbol, bool) {
	symbols, err := fi.GetSymbols()
	if err != nil {
		return Symbol{}, false
	}
	return innermostContainer(symbols, line)
}

func innermostContainer(symbols []Symbol, line int) (Symbol, bool) {
	var candidates []Symbol
	for _, s := range symbols {
		if s.IsContainer() && s.Contains(line) {
			candidates = append(candidates, s)
		}
	}
	if len(candidates) == 0 {
		return Symbol{}, false
	}
	sort.Slice(candidates, func(i, j int) bool {
		spanI := candidates[i].EndLine - candidates[i].StartLine
		spanJ := candidates[j].EndLine - candidates[j].StartLine
		if spanI != spanJ {
			return spanI < spanJ
		}
		return candidates[i].StartLine > candidates[j].StartLine
	})
	return candidates[0], true
}

// GetFullyQualifiedName returns the "::"-scoped name of the symbol named
// name that contains line, built from its scope and its own name.
func (fi *FileIndex) GetFullyQualifiedName(name string, line int) (string, bool) {
	symbols, err := fi.GetSymbols()
	if err != nil {
		return "", false
	}
	for _, s := range symbols {
		if s.Name == name && s.Contains(line) {
			if s.Scope == "" {
				return s.Name, true
			}
			return s.Scope + "::" + s.Name, true
		}
	}
	return "", false
}

// FunctionDetails is the subset of a function/method symbol useful to a
// caller that already knows its name and an enclosing line.
type FunctionDetails struct {
	Name      string
	Signature string
	StartLine int
	EndLine   int
}

// GetFunctionDetails returns signature/line-range details for the
// function/method symbol named name that contains line.
func (fi *FileIndex) GetFunctionDetails(name string, line int) (FunctionDetails, bool) {
	symbols, err := fi.GetSymbols()
	if err != nil {
		return FunctionDetails{}, false
	}
	var best *Symbol
	for i := range symbols {
		s := symbols[i]
		if s.Name != name || !s.Contains(line) {
			continue
		}
		if s.Kind != "function" && s.Kind != "method" {
			continue
		}
		if best == nil || s.StartLine > best.StartLine {
			best = &symbols[i]
		}
	}
	if best == nil {
		return FunctionDetails{}, false
	}
	return FunctionDetails{
		Name:      best.Name,
		Signature: best.Signature,
		StartLine: best.StartLine,
		EndLine:   best.EndLine,
	}, true
}

// TagFileModTime returns the tag file's current modification time.
func (fi *FileIndex) TagFileModTime() (time.Time, error) {
	info, err := os.Stat(fi.TagPath)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}
