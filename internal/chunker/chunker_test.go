package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestUniformChunkForNonCppFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "README.md")
	var b strings.Builder
	for i := 0; i < 200; i++ {
		b.WriteString("some reasonably long documentation line that is not boilerplate at all\n")
	}
	writeFile(t, src, b.String())

	chunks, err := ComputeChunks(src, filepath.Join(dir, "missing.tags"))
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		require.LessOrEqual(t, c.EndLine-c.StartLine, MaxChunkLines-1)
		require.True(t, strings.HasPrefix(c.Text, "file: "+src+"\n"))
	}
}

func TestChunkInvariants(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "main.cc")

	var lines []string
	lines = append(lines, "// leading comment", "// doc for f")
	lines = append(lines, "void f() {")
	for i := 0; i < 190; i++ {
		lines = append(lines, "  do_something_with_a_sufficiently_long_statement();")
	}
	lines = append(lines, "}")
	writeFile(t, src, strings.Join(lines, "\n")+"\n")

	funcStart := 3
	funcEnd := len(lines)
	tagPath := filepath.Join(dir, "main.tags")
	tagContent := `{"_type":"tag","name":"f","path":"main.cc","line":` +
		itoa(funcStart) + `,"end":` + itoa(funcEnd) + `,"kind":"function","signature":"void f()"}` + "\n"

	srcData, _ := os.ReadFile(src)
	sum := sha256.Sum256(srcData)
	tagContent += `{"_type":"sha256","hash":"` + hex.EncodeToString(sum[:]) + `"}` + "\n"
	writeFile(t, tagPath, tagContent)

	chunks, err := ComputeChunks(src, tagPath)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	for _, c := range chunks {
		require.LessOrEqual(t, c.StartLine, c.EndLine)
		require.Less(t, c.EndLine-c.StartLine, MaxChunkLines)
		unprefixed := stripPrefix(c.Text)
		require.GreaterOrEqual(t, len(strings.TrimSpace(unprefixed)), 0)
		sum := sha256.Sum256([]byte(unprefixed))
		require.Equal(t, hex.EncodeToString(sum[:]), c.SHA256)
	}

	found := false
	for _, c := range chunks {
		if strings.Contains(c.Text, "function: f") {
			found = true
		}
	}
	require.True(t, found, "expected a chunk tagged with the function container")
}

func TestIsBoilerplate(t *testing.T) {
	require.True(t, isBoilerplate("}\n}\n"))
	require.True(t, isBoilerplate("// just a comment\n"))
	require.True(t, isBoilerplate("#ifndef FOO_H_\n#define FOO_H_\n"))
	require.False(t, isBoilerplate("int x = compute_something_real();\n"))
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var b []byte
	for n > 0 {
		b = append([]byte{byte('0' + n%10)}, b...)
		n /= 10
	}
	if neg {
		b = append([]byte{'-'}, b...)
	}
	return string(b)
}

func stripPrefix(text string) string {
	idx := strings.Index(text, "\n\n")
	if idx == -1 {
		return text
	}
	return text[idx+2:]
}
