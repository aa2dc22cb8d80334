// Package vectordb is the append-only vector store backing chunk
// embeddings: an in-memory coder/hnsw graph for nearest-neighbor search,
// with per-chunk metadata (file path, line range, content hash) persisted
// in a modernc.org/sqlite side table keyed by the same id.
package vectordb

import (
	"bufio"
	"database/sql"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"
	_ "modernc.org/sqlite"
)

// ChunkRef identifies a stored chunk without its vector.
type ChunkRef struct {
	ID        uint64
	StartLine int
	EndLine   int
	SHA256    string
}

// NewChunk is one chunk ready to be embedded and inserted.
type NewChunk struct {
	FilePath  string
	StartLine int
	EndLine   int
	SHA256    string
	Vector    []float32
}

// LineUpdate moves a previously stored chunk's line range without
// re-embedding it.
type LineUpdate struct {
	ID        uint64
	StartLine int
	EndLine   int
}

// NearestChunk is one result of a nearest-neighbor query.
type NearestChunk struct {
	FilePath  string
	StartLine int
	EndLine   int
	Distance  float32 // cosine distance, range 0..2
}

// VectorDatabase is the append-only per-workspace vector store.
type VectorDatabase struct {
	mu    sync.RWMutex
	graph *hnsw.Graph[uint64]
	db    *sql.DB
	dims  int
}

const graphFileName = "graph.hnsw"
const metaFileName = "metadata.db"

// Open opens (creating if absent) the vector database under dir, fixing
// its vector dimensionality to dims if this is a fresh database.
func Open(dir string, dims int) (*VectorDatabase, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create vectordb dir: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(dir, metaFileName))
	if err != nil {
		return nil, fmt.Errorf("open metadata db: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS chunks (
			id INTEGER PRIMARY KEY,
			file_path TEXT NOT NULL,
			start_line INTEGER NOT NULL,
			end_line INTEGER NOT NULL,
			sha256 TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_chunks_file_path ON chunks(file_path);
		CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT NOT NULL);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	storedDims, err := readDims(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	if storedDims == 0 {
		if err := writeDims(db, dims); err != nil {
			db.Close()
			return nil, err
		}
		storedDims = dims
	} else if dims != 0 && storedDims != dims {
		db.Close()
		return nil, fmt.Errorf("vector database dimensionality mismatch: stored %d, requested %d", storedDims, dims)
	}

	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = 16
	graph.EfSearch = 20
	graph.Ml = 0.25

	vdb := &VectorDatabase{graph: graph, db: db, dims: storedDims}

	graphPath := filepath.Join(dir, graphFileName)
	if f, err := os.Open(graphPath); err == nil {
		defer f.Close()
		if err := graph.Import(bufio.NewReader(f)); err != nil {
			db.Close()
			return nil, fmt.Errorf("import hnsw graph: %w", err)
		}
	} else if !os.IsNotExist(err) {
		db.Close()
		return nil, fmt.Errorf("open hnsw graph file: %w", err)
	}

	return vdb, nil
}

func readDims(db *sql.DB) (int, error) {
	var v string
	err := db.QueryRow(`SELECT value FROM meta WHERE key = 'dims'`).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var dims int
	_, err = fmt.Sscanf(v, "%d", &dims)
	return dims, err
}

func writeDims(db *sql.DB, dims int) error {
	_, err := db.Exec(`INSERT INTO meta(key, value) VALUES('dims', ?)`, fmt.Sprintf("%d", dims))
	return err
}

// Dimensions returns the fixed vector width of this database.
func (v *VectorDatabase) Dimensions() int {
	return v.dims
}

// GetFileChunksByFilePath returns the stored chunk refs for path, used by
// EmbeddingProcessor's diff.
func (v *VectorDatabase) GetFileChunksByFilePath(path string) ([]ChunkRef, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	rows, err := v.db.Query(`SELECT id, start_line, end_line, sha256 FROM chunks WHERE file_path = ?`, path)
	if err != nil {
		return nil, fmt.Errorf("query chunks for %s: %w", path, err)
	}
	defer rows.Close()

	var out []ChunkRef
	for rows.Next() {
		var c ChunkRef
		if err := rows.Scan(&c.ID, &c.StartLine, &c.EndLine, &c.SHA256); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// AddFileChunks batch-inserts new chunks and returns their allocated ids in
// the same order as chunks.
func (v *VectorDatabase) AddFileChunks(chunks []NewChunk) ([]uint64, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	tx, err := v.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO chunks(file_path, start_line, end_line, sha256) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	ids := make([]uint64, len(chunks))
	for i, c := range chunks {
		if len(c.Vector) != v.dims {
			return nil, fmt.Errorf("chunk %d has %d dims, want %d", i, len(c.Vector), v.dims)
		}
		res, err := stmt.Exec(c.FilePath, c.StartLine, c.EndLine, c.SHA256)
		if err != nil {
			return nil, fmt.Errorf("insert chunk metadata: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, err
		}
		ids[i] = uint64(id)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	for i, c := range chunks {
		vec := make([]float32, len(c.Vector))
		copy(vec, c.Vector)
		normalizeInPlace(vec)
		v.graph.Add(hnsw.MakeNode(ids[i], vec))
	}

	return ids, nil
}

// DeleteFileChunks removes metadata rows for the given ids. The
// corresponding hnsw graph nodes are left in place (lazy deletion) so the
// graph's connectivity is never disturbed by removing the last node.
func (v *VectorDatabase) DeleteFileChunks(ids []uint64) error {
	if len(ids) == 0 {
		return nil
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	tx, err := v.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`DELETE FROM chunks WHERE id = ?`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.Exec(id); err != nil {
			return fmt.Errorf("delete chunk %d: %w", id, err)
		}
	}
	return tx.Commit()
}

// UpdateFileChunkLines rewrites line ranges for existing chunks without
// touching their vectors.
func (v *VectorDatabase) UpdateFileChunkLines(updates []LineUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	tx, err := v.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`UPDATE chunks SET start_line = ?, end_line = ? WHERE id = ?`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, u := range updates {
		if _, err := stmt.Exec(u.StartLine, u.EndLine, u.ID); err != nil {
			return fmt.Errorf("update chunk %d: %w", u.ID, err)
		}
	}
	return tx.Commit()
}

// GetNearestFileChunks returns the topK chunks nearest to query by cosine
// distance, skipping any graph node whose metadata row has since been
// deleted (a lazily-orphaned node).
func (v *VectorDatabase) GetNearestFileChunks(query []float32, topK int) ([]NearestChunk, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if len(query) != v.dims {
		return nil, fmt.Errorf("query has %d dims, want %d", len(query), v.dims)
	}
	if v.graph.Len() == 0 {
		return nil, nil
	}

	q := make([]float32, len(query))
	copy(q, query)
	normalizeInPlace(q)

	// Over-fetch to absorb orphaned nodes that will be filtered below.
	nodes := v.graph.Search(q, topK*3+topK)

	var out []NearestChunk
	for _, node := range nodes {
		if len(out) >= topK {
			break
		}
		ref, ok, err := v.lookupByID(node.Key)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		dist := v.graph.Distance(q, node.Value)
		out = append(out, NearestChunk{
			FilePath:  ref.filePath,
			StartLine: ref.startLine,
			EndLine:   ref.endLine,
			Distance:  dist,
		})
	}
	return out, nil
}

type fileChunkMeta struct {
	filePath  string
	startLine int
	endLine   int
}

func (v *VectorDatabase) lookupByID(id uint64) (fileChunkMeta, bool, error) {
	var m fileChunkMeta
	err := v.db.QueryRow(`SELECT file_path, start_line, end_line FROM chunks WHERE id = ?`, id).
		Scan(&m.filePath, &m.startLine, &m.endLine)
	if err == sql.ErrNoRows {
		return fileChunkMeta{}, false, nil
	}
	if err != nil {
		return fileChunkMeta{}, false, err
	}
	return m, true, nil
}

// Save persists the hnsw graph to disk; metadata is already durable via
// sqlite on every write.
func (v *VectorDatabase) Save(dir string) error {
	v.mu.RLock()
	defer v.mu.RUnlock()

	path := filepath.Join(dir, graphFileName)
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create graph temp file: %w", err)
	}
	if err := v.graph.Export(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("export hnsw graph: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// Close releases the metadata database handle.
func (v *VectorDatabase) Close() error {
	return v.db.Close()
}

func normalizeInPlace(v []float32) {
	var sumSquares float64
	for _, x := range v {
		sumSquares += float64(x) * float64(x)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}

// DistanceToSimilarity converts a cosine distance (range 0..2) to a
// similarity score the caller can rank by: 1 - d.
func DistanceToSimilarity(d float32) float32 {
	return 1 - d
}
