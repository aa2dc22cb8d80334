package fileindex

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

// tagLine mirrors one line of ctags --output-format=json --fields=+cneNZKS
// output. Unknown _type values (anything other than "tag", "ptag",
// "sha256") are silently skipped per the pseudo-tag tolerance design note.
type tagLine struct {
	Type      string `json:"_type"`
	Name      string `json:"name"`
	Line      int    `json:"line"`
	End       int    `json:"end"`
	Kind      string `json:"kind"`
	Scope     string `json:"scope"`
	ScopeKind string `json:"scopeKind"`
	Signature string `json:"signature"`
	Typeref   string `json:"typeref"`
	Column    int    `json:"column"`
	Hash      string `json:"hash"` // present on the sha256 footer line
}

// footerLen is the fixed byte length of the sha256 footer line:
// `{"_type":"sha256","hash":"<64 hex>"}\n`.
const footerLen = 93

// footerHashOffset is the byte offset of the first hex character of the
// hash value within the footer line.
const footerHashOffset = 26

// ParseTagFile reads a tag file and returns its hydrated symbol entries,
// ignoring ptag and sha256 lines (and any other unrecognized _type).
func ParseTagFile(r io.Reader) ([]Symbol, error) {
	var symbols []Symbol
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var tl tagLine
		if err := json.Unmarshal(line, &tl); err != nil {
			continue // tolerate a malformed trailing line, e.g. partial footer
		}
		switch tl.Type {
		case "tag":
			symbols = append(symbols, hydrate(tl))
		case "ptag", "sha256":
			continue
		default:
			continue
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan tag file: %w", err)
	}
	return symbols, nil
}

func hydrate(tl tagLine) Symbol {
	s := Symbol{
		Name:      tl.Name,
		StartLine: tl.Line,
		Column:    tl.Column,
		Kind:      tl.Kind,
		Scope:     NormalizeScope(tl.Scope),
		Signature: tl.Signature,
		TypeRef:   tl.Typeref,
	}
	if tl.End > 0 {
		s.EndLine = tl.End
		s.HasEnd = true
	}
	return s
}

// WriteSHA256Footer appends the sha256 footer line for sourceHash. The
// caller has already written the tagger's own JSON lines to w.
func WriteSHA256Footer(w io.Writer, sourceHash string) error {
	line := fmt.Sprintf(`{"_type":"sha256","hash":"%s"}`+"\n", sourceHash)
	if len(line) != footerLen {
		return fmt.Errorf("internal error: footer line length %d, want %d", len(line), footerLen)
	}
	_, err := w.Write([]byte(line))
	return err
}

// ReadFooterHash reads just the trailing footer bytes of a tag file and
// extracts the hash field without parsing the whole file — the fast path
// for slow-path freshness validation.
func ReadFooterHash(tagPath string) (string, error) {
	f, err := os.Open(tagPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", err
	}
	if info.Size() < footerLen {
		return "", fmt.Errorf("tag file too short for footer: %d bytes", info.Size())
	}

	buf := make([]byte, footerLen)
	if _, err := f.ReadAt(buf, info.Size()-footerLen); err != nil {
		return "", err
	}

	line := string(buf)
	if !strings.HasPrefix(line, `{"_type":"sha256","hash":"`) {
		return "", fmt.Errorf("malformed sha256 footer")
	}
	hash := line[footerHashOffset : footerHashOffset+64]
	return hash, nil
}

// SHA256File computes the hex sha256 digest of a file's contents.
func SHA256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
