// Package chunker partitions a source file into overlapping line-range
// chunks: structurally for C/C++ using externally-tagged container ranges,
// uniformly otherwise.
package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/vsctoolbox/index/internal/fileindex"
)

const (
	// MaxChunkLines is the maximum number of lines a chunk may span.
	MaxChunkLines = 150
	// ChunkOverlapLines is the trailing overlap between consecutive strides.
	ChunkOverlapLines = 15
	// strideLines is MaxChunkLines - ChunkOverlapLines.
	strideLines = MaxChunkLines - ChunkOverlapLines
	// MinChunkChars is the minimum trimmed length of a surviving chunk.
	MinChunkChars = 75
)

var cppExtensions = map[string]struct{}{
	".c": {}, ".cc": {}, ".cpp": {}, ".cxx": {},
	".h": {}, ".hh": {}, ".hpp": {}, ".hxx": {},
}

// chunkerContainerKinds is the tag-kind set the chunker treats as a
// container range. Narrower than FileIndex's container set: namespace and
// module enclose too much source to be a useful single chunk boundary.
var chunkerContainerKinds = map[string]struct{}{
	"class": {}, "struct": {}, "union": {}, "function": {}, "method": {}, "enum": {}, "interface": {},
}

// Chunk is one emitted line-range unit.
type Chunk struct {
	StartLine int
	EndLine   int
	Text      string // prefixed, for embedding
	SHA256    string // over the un-prefixed text
}

// containerRange is a merged top-level tag extent.
type containerRange struct {
	start, end    int
	kind          string
	qualifiedName string
	signature     string
}

// ComputeChunks reads sourcePath and, if tagPath names an existing valid
// tag file and the extension is C/C++, partitions it structurally;
// otherwise falls back to a uniform split.
func ComputeChunks(sourcePath, tagPath string) ([]Chunk, error) {
	data, err := os.ReadFile(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("read source: %w", err)
	}
	lines := splitLines(string(data))

	ext := strings.ToLower(filepath.Ext(sourcePath))
	if _, isCpp := cppExtensions[ext]; !isCpp {
		return uniformChunk(sourcePath, lines, nil), nil
	}

	symbols, err := readTagSymbols(tagPath)
	if err != nil {
		// No usable tag file: fall back to the uniform chunker rather than
		// failing the whole file.
		return uniformChunk(sourcePath, lines, nil), nil
	}

	ranges, earliestTagLine := computeTopLevelRanges(symbols)
	ranges = expandRangesUpward(ranges, lines)

	return cursorScan(sourcePath, lines, ranges, earliestTagLine), nil
}

func readTagSymbols(tagPath string) ([]fileindex.Symbol, error) {
	f, err := os.Open(tagPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return fileindex.ParseTagFile(f)
}

func splitLines(text string) []string {
	// 1-based line semantics throughout: lines[0] is line 1.
	text = strings.ReplaceAll(text, "\r\n", "\n")
	if text == "" {
		return nil
	}
	lines := strings.Split(text, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// isPreambleTag identifies include-guard macros, which must not count
// toward the "earliest tag line" used to decide whether the cursor starts
// at line 1 or at the first real container.
func isPreambleTag(s fileindex.Symbol) bool {
	return s.Kind == "macro" && strings.HasSuffix(s.Name, "_H_")
}

// computeTopLevelRanges filters to container-kind tags with an end line,
// sorts by start line, and sweeps: a tag beyond the current cover opens a
// new range; one that extends the cover extends it; one fully inside is
// dropped. Also returns the earliest line of any non-preamble tag.
func computeTopLevelRanges(symbols []fileindex.Symbol) ([]containerRange, int) {
	var tags []fileindex.Symbol
	earliest := -1
	for _, s := range symbols {
		if !isPreambleTag(s) {
			if earliest == -1 || s.StartLine < earliest {
				earliest = s.StartLine
			}
		}
		if _, ok := chunkerContainerKinds[s.Kind]; ok && s.HasEnd {
			tags = append(tags, s)
		}
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].StartLine < tags[j].StartLine })

	var ranges []containerRange
	for _, t := range tags {
		if len(ranges) == 0 {
			ranges = append(ranges, newRange(t))
			continue
		}
		last := &ranges[len(ranges)-1]
		switch {
		case t.StartLine > last.end:
			ranges = append(ranges, newRange(t))
		case t.EndLine > last.end:
			last.end = t.EndLine
			// outermost kind/name/signature already set by the range opener
		default:
			// fully inside last; dropped
		}
	}
	return ranges, earliest
}

func newRange(t fileindex.Symbol) containerRange {
	name := t.Name
	if t.Scope != "" {
		name = t.Scope + "::" + t.Name
	}
	return containerRange{
		start:         t.StartLine,
		end:           t.EndLine,
		kind:          t.Kind,
		qualifiedName: name,
		signature:     t.Signature,
	}
}

// expandRangesUpward absorbs leading non-blank lines (typically doc
// comments) into each range, stopping at a blank line or the previous
// range's extent.
func expandRangesUpward(ranges []containerRange, lines []string) []containerRange {
	for i := range ranges {
		prevEnd := 0
		if i > 0 {
			prevEnd = ranges[i-1].end
		}
		start := ranges[i].start
		for start-1 > prevEnd {
			above := lineAt(lines, start-1)
			if strings.TrimSpace(above) == "" {
				break
			}
			start--
		}
		ranges[i].start = start
	}
	return ranges
}

func lineAt(lines []string, n int) string {
	if n < 1 || n > len(lines) {
		return ""
	}
	return lines[n-1]
}

// cursorScan walks ranges in order, chunking the gap before each range
// without container context, then the range itself with container context,
// and finally any trailing lines.
func cursorScan(sourcePath string, lines []string, ranges []containerRange, earliestTagLine int) []Chunk {
	var out []Chunk
	cursor := 1
	if earliestTagLine > 0 && (len(ranges) == 0 || earliestTagLine <= ranges[0].start) {
		cursor = earliestTagLine
	}

	for _, r := range ranges {
		if cursor <= r.start-1 {
			out = append(out, chunkSpan(sourcePath, lines, cursor, r.start-1, nil)...)
		}
		out = append(out, chunkSpan(sourcePath, lines, r.start, r.end, &r)...)
		cursor = r.end + 1
	}

	if cursor <= len(lines) {
		out = append(out, chunkSpan(sourcePath, lines, cursor, len(lines), nil)...)
	}
	return out
}

// chunkSpan splits [start, end] (1-based, inclusive) into strides of
// strideLines with a trailing ChunkOverlapLines overlap (the final stride
// carries none), drops boilerplate/too-short candidates, and prefixes each
// surviving chunk.
func chunkSpan(sourcePath string, lines []string, start, end int, r *containerRange) []Chunk {
	if start > end {
		return nil
	}

	var spans [][2]int
	cur := start
	for cur <= end {
		chunkEnd := cur + MaxChunkLines - 1
		if chunkEnd > end {
			chunkEnd = end
		}
		spans = append(spans, [2]int{cur, chunkEnd})
		if chunkEnd == end {
			break
		}
		cur += strideLines
	}

	var out []Chunk
	for i, span := range spans {
		isFirstOfRange := i == 0
		text := joinLines(lines, span[0], span[1])
		trimmed := strings.TrimSpace(text)
		if len(trimmed) < MinChunkChars {
			continue
		}
		if isBoilerplate(text) {
			continue
		}

		sum := sha256.Sum256([]byte(text))
		prefixed := buildPrefix(sourcePath, r, isFirstOfRange) + text

		out = append(out, Chunk{
			StartLine: span[0],
			EndLine:   span[1],
			Text:      prefixed,
			SHA256:    hex.EncodeToString(sum[:]),
		})
	}
	return out
}

func joinLines(lines []string, start, end int) string {
	if start < 1 {
		start = 1
	}
	if end > len(lines) {
		end = len(lines)
	}
	if start > end {
		return ""
	}
	return strings.Join(lines[start-1:end], "\n")
}

// buildPrefix renders the "file: / <kind>: <name> / signature: <sig>"
// header. The signature line is only attached to non-first chunks of
// function/method ranges, matching spec §4.5.
func buildPrefix(sourcePath string, r *containerRange, isFirst bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "file: %s\n", sourcePath)
	if r != nil {
		fmt.Fprintf(&b, "%s: %s\n", r.kind, r.qualifiedName)
		if !isFirst && r.signature != "" && (r.kind == "function" || r.kind == "method" || r.kind == "prototype") {
			fmt.Fprintf(&b, "signature: %s\n", r.signature)
		}
	}
	b.WriteString("\n")
	return b.String()
}

// uniformChunk handles non-C/C++ files: a single uniform split with no
// container context, carrying only the file-line prefix.
func uniformChunk(sourcePath string, lines []string, _ *containerRange) []Chunk {
	return chunkSpan(sourcePath, lines, 1, len(lines), nil)
}
