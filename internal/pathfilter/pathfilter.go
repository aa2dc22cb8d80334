// Package pathfilter decides whether a file path belongs in the index.
package pathfilter

import (
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

const excludeCacheSize = 256

// PathFilter admits a path iff its extension is recognized, it falls under
// one of the (pruned, non-nested) include roots, and no exclude glob
// matches it. Root/path comparison is case-insensitive, matching the
// spec's documented assumption of a case-insensitive host filesystem —
// except on hosts PathFilter detects as case-sensitive (Linux), where
// comparison is exact.
type PathFilter struct {
	includeRoots []string // normalized, pruned, non-nested
	excludeGlobs []*regexp.Regexp
	extensions   map[string]struct{} // lowercased, with leading dot

	caseSensitive bool
	excludeCache  *lru.Cache[string, bool]
}

// New builds a PathFilter. When includeRoots is empty, fallbackRoots (the
// host's workspace folders) is used instead. knowledgeBaseRoot, if
// non-empty, is appended to the root set before pruning.
func New(includeRoots, fallbackRoots []string, excludePatterns, extensions []string, knowledgeBaseRoot string) (*PathFilter, error) {
	roots := includeRoots
	if len(roots) == 0 {
		roots = fallbackRoots
	}
	if knowledgeBaseRoot != "" {
		roots = append(roots, knowledgeBaseRoot)
	}

	caseSensitive := runtime.GOOS == "linux"

	normalized := make([]string, 0, len(roots))
	for _, r := range roots {
		normalized = append(normalized, normalizePath(r, caseSensitive))
	}
	pruned := pruneNestedRoots(normalized)

	var globs []*regexp.Regexp
	for _, pat := range excludePatterns {
		for _, expanded := range expandBraces(pat) {
			re, err := compileGlob(expanded)
			if err != nil {
				return nil, err
			}
			globs = append(globs, re)
		}
	}

	extSet := make(map[string]struct{}, len(extensions))
	for _, e := range extensions {
		extSet[strings.ToLower(e)] = struct{}{}
	}

	cache, err := lru.New[string, bool](excludeCacheSize)
	if err != nil {
		return nil, err
	}

	return &PathFilter{
		includeRoots:  pruned,
		excludeGlobs:  globs,
		extensions:    extSet,
		caseSensitive: caseSensitive,
		excludeCache:  cache,
	}, nil
}

// IncludeRoots returns the normalized, pruned include roots this filter
// walks, for callers that need to enumerate files rather than just test
// membership.
func (f *PathFilter) IncludeRoots() []string {
	return append([]string(nil), f.includeRoots...)
}

// ShouldInclude returns true iff path's extension is admitted, it falls
// under some include root, and no exclude glob matches it.
func (f *PathFilter) ShouldInclude(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if _, ok := f.extensions[ext]; !ok {
		return false
	}

	norm := normalizePath(path, f.caseSensitive)
	underRoot := false
	for _, root := range f.includeRoots {
		if strings.HasPrefix(norm, root) {
			underRoot = true
			break
		}
	}
	if !underRoot {
		return false
	}

	if cached, ok := f.excludeCache.Get(norm); ok {
		return !cached
	}
	excluded := f.matchesExclude(norm)
	f.excludeCache.Add(norm, excluded)
	return !excluded
}

func (f *PathFilter) matchesExclude(normPath string) bool {
	for _, re := range f.excludeGlobs {
		if re.MatchString(normPath) {
			return true
		}
	}
	return false
}

func normalizePath(p string, caseSensitive bool) string {
	p = filepath.ToSlash(filepath.Clean(p))
	if !caseSensitive {
		p = strings.ToLower(p)
	}
	return p
}

// pruneNestedRoots keeps only roots that are not a path-prefix of another
// root already in the set: stable-sort lexicographically, single sweep.
func pruneNestedRoots(roots []string) []string {
	sorted := append([]string(nil), roots...)
	sort.Strings(sorted)

	var kept []string
	for _, r := range sorted {
		nested := false
		for _, k := range kept {
			if strings.HasPrefix(r, k+"/") || r == k {
				nested = true
				break
			}
		}
		if !nested {
			kept = append(kept, r)
		}
	}
	return kept
}

// expandBraces expands a single level of shell brace syntax, e.g.
// "**/*.{c,h}" -> ["**/*.c", "**/*.h"]. Patterns without braces pass
// through unchanged.
func expandBraces(pattern string) []string {
	start := strings.IndexByte(pattern, '{')
	if start < 0 {
		return []string{pattern}
	}
	end := strings.IndexByte(pattern[start:], '}')
	if end < 0 {
		return []string{pattern}
	}
	end += start

	prefix := pattern[:start]
	suffix := pattern[end+1:]
	options := strings.Split(pattern[start+1:end], ",")

	var out []string
	for _, opt := range options {
		out = append(out, expandBraces(prefix+opt+suffix)...)
	}
	return out
}

// compileGlob turns a glob pattern (supporting ** and *) into an anchored
// regex matched against a normalized, forward-slash path.
func compileGlob(pattern string) (*regexp.Regexp, error) {
	pattern = filepath.ToSlash(pattern)
	var b strings.Builder
	b.WriteByte('^')
	i := 0
	for i < len(pattern) {
		c := pattern[i]
		switch {
		case c == '*' && i+1 < len(pattern) && pattern[i+1] == '*':
			b.WriteString(".*")
			i += 2
		case c == '*':
			b.WriteString("[^/]*")
			i++
		case c == '?':
			b.WriteString("[^/]")
			i++
		case strings.ContainsRune(`.+^$()|[]\`, rune(c)):
			b.WriteString(regexp.QuoteMeta(string(c)))
			i++
		default:
			b.WriteByte(c)
			i++
		}
	}
	b.WriteByte('$')
	return regexp.Compile(b.String())
}
