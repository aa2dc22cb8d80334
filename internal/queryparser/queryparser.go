// Package queryparser translates a user query string into regex patterns
// with AND or OR semantics, and into literal fragments for pre-filtering.
package queryparser

import (
	"regexp"
	"strings"
)

var metaCharEscaper = regexp.MustCompile(`[.+^$()\[\]{}|\\]`)

var literalSplit = regexp.MustCompile(`[*?]+`)

// termToRegex escapes regex metacharacters other than * and ?, then maps
// * -> [^\n]* (must not cross newlines) and ? -> . .
func termToRegex(term string) string {
	var b strings.Builder
	for _, r := range term {
		switch r {
		case '*':
			b.WriteString(`[^\n]*`)
		case '?':
			b.WriteByte('.')
		default:
			s := string(r)
			if metaCharEscaper.MatchString(s) {
				b.WriteString(regexp.QuoteMeta(s))
			} else {
				b.WriteString(s)
			}
		}
	}
	return b.String()
}

// ParseQueryAsAnd splits a space-delimited query into per-term regex
// patterns, to be ANDed together by the caller (search ranking path).
func ParseQueryAsAnd(query string) []string {
	terms := strings.Fields(query)
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		out = append(out, termToRegex(t))
	}
	return out
}

// ParseQuery splits a space-delimited query into per-term regex patterns
// and joins them with `|`, for legacy OR-semantics callers.
func ParseQuery(query string) string {
	return strings.Join(ParseQueryAsAnd(query), "|")
}

// ExtractLiterals splits a raw term on runs of * and ? and returns the
// non-empty segments, used as cheap byte-substring pre-filters before a
// full regex scan.
func ExtractLiterals(term string) []string {
	parts := literalSplit.Split(term, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
