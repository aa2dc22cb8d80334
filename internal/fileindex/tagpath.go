package fileindex

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"
)

// TagPath computes the deterministic tag-file path for a source file under
// cacheRoot: <cacheRoot>/ctags/<bucket>/<basename>.<UPPER16HEX>.tags, where
// bucket is the lowercased first character of the basename if it falls in
// a-z, else "_", and UPPER16HEX is the first 16 hex chars (uppercased) of
// sha256(sourcePath).
func TagPath(cacheRoot, sourcePath string) string {
	base := filepath.Base(sourcePath)
	bucket := "_"
	if len(base) > 0 {
		c := strings.ToLower(base[:1])
		if c >= "a" && c <= "z" {
			bucket = c
		}
	}

	sum := sha256.Sum256([]byte(sourcePath))
	hash := strings.ToUpper(hex.EncodeToString(sum[:]))[:16]

	return filepath.Join(cacheRoot, "ctags", bucket, base+"."+hash+".tags")
}

// TagBuckets returns the 27 bucket names ("a".."z", "_") whose directories
// must exist under <cacheRoot>/ctags before workers can write tag files.
func TagBuckets() []string {
	buckets := make([]string, 0, 27)
	for c := 'a'; c <= 'z'; c++ {
		buckets = append(buckets, string(c))
	}
	buckets = append(buckets, "_")
	return buckets
}
