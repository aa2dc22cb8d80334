// Package embedproc implements the batch chunk/embed/diff pipeline: for
// each batch of files it recomputes chunks, diffs their content hashes
// against what the vector database already holds, and only deletes,
// moves, or embeds what actually changed.
package embedproc

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vsctoolbox/index/internal/vectordb"
)

const batchSize = 50

// ChunkInput names one file to chunk.
type ChunkInput struct {
	FilePath string
	TagPath  string
}

// ChunkRecord is one computed chunk.
type ChunkRecord struct {
	StartLine int
	EndLine   int
	Text      string
	SHA256    string
}

// ChunkOutput is the per-file result of a computeChunks call.
type ChunkOutput struct {
	FilePath string
	Chunks   []ChunkRecord
	Error    string
}

// ChunkComputer runs computeChunks for a batch of files, typically backed
// by the ThreadPool.
type ChunkComputer interface {
	ComputeChunksAll(ctx context.Context, inputs []ChunkInput) ([]ChunkOutput, error)
}

// Embedder embeds a batch of texts in one call.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorStore is the subset of VectorDatabase the processor needs.
type VectorStore interface {
	GetFileChunksByFilePath(path string) ([]vectordb.ChunkRef, error)
	AddFileChunks(chunks []vectordb.NewChunk) ([]uint64, error)
	DeleteFileChunks(ids []uint64) error
	UpdateFileChunkLines(updates []vectordb.LineUpdate) error
}

// File is one input to Run: a source file together with its current tag
// path (used to recompute chunks).
type File struct {
	FilePath string
	TagPath  string
}

// Processor runs the chunk/diff/embed pipeline over batches of files.
type Processor struct {
	chunks   ChunkComputer
	embedder Embedder
	store    VectorStore
}

// New builds a Processor wired to the given collaborators.
func New(chunks ChunkComputer, embedder Embedder, store VectorStore) *Processor {
	return &Processor{chunks: chunks, embedder: embedder, store: store}
}

// Stats summarizes one Run call across all batches.
type Stats struct {
	FilesProcessed int
	ChunksDeleted  int
	ChunksMoved    int
	ChunksEmbedded int
	EmbedFailures  int
}

// Run processes files in fixed-size batches, guaranteeing that an
// unchanged file produces zero deletes, zero updates, and zero
// embeddings.
func (p *Processor) Run(ctx context.Context, files []File) (Stats, error) {
	var stats Stats

	for start := 0; start < len(files); start += batchSize {
		end := start + batchSize
		if end > len(files) {
			end = len(files)
		}
		batchStats, err := p.runBatch(ctx, files[start:end])
		if err != nil {
			return stats, fmt.Errorf("embedding batch [%d:%d]: %w", start, end, err)
		}
		stats.FilesProcessed += batchStats.FilesProcessed
		stats.ChunksDeleted += batchStats.ChunksDeleted
		stats.ChunksMoved += batchStats.ChunksMoved
		stats.ChunksEmbedded += batchStats.ChunksEmbedded
		stats.EmbedFailures += batchStats.EmbedFailures
	}
	return stats, nil
}

type pendingEmbed struct {
	filePath string
	chunk    ChunkRecord
}

func (p *Processor) runBatch(ctx context.Context, batch []File) (Stats, error) {
	var stats Stats
	if len(batch) == 0 {
		return stats, nil
	}

	inputs := make([]ChunkInput, len(batch))
	for i, f := range batch {
		inputs[i] = ChunkInput{FilePath: f.FilePath, TagPath: f.TagPath}
	}

	outputs, err := p.chunks.ComputeChunksAll(ctx, inputs)
	if err != nil {
		return stats, fmt.Errorf("computeChunks: %w", err)
	}

	var idsToDelete []uint64
	var movedChunks []vectordb.LineUpdate
	var texts []string
	var pending []pendingEmbed

	for _, out := range outputs {
		stats.FilesProcessed++
		if out.Error != "" {
			slog.Warn("chunk computation failed, skipping embedding diff for file",
				slog.String("file", out.FilePath), slog.String("error", out.Error))
			continue
		}

		stored, err := p.store.GetFileChunksByFilePath(out.FilePath)
		if err != nil {
			return stats, fmt.Errorf("lookup stored chunks for %s: %w", out.FilePath, err)
		}

		storedByHash := make(map[string]vectordb.ChunkRef, len(stored))
		for _, r := range stored {
			storedByHash[r.SHA256] = r
		}
		newHashes := make(map[string]struct{}, len(out.Chunks))
		for _, c := range out.Chunks {
			newHashes[c.SHA256] = struct{}{}
		}

		for _, r := range stored {
			if _, ok := newHashes[r.SHA256]; !ok {
				idsToDelete = append(idsToDelete, r.ID)
			}
		}
		for _, c := range out.Chunks {
			r, ok := storedByHash[c.SHA256]
			switch {
			case !ok:
				texts = append(texts, c.Text)
				pending = append(pending, pendingEmbed{filePath: out.FilePath, chunk: c})
			case r.StartLine != c.StartLine || r.EndLine != c.EndLine:
				movedChunks = append(movedChunks, vectordb.LineUpdate{ID: r.ID, StartLine: c.StartLine, EndLine: c.EndLine})
			}
		}
	}

	if len(idsToDelete) > 0 {
		if err := p.store.DeleteFileChunks(idsToDelete); err != nil {
			return stats, fmt.Errorf("delete stale chunks: %w", err)
		}
		stats.ChunksDeleted = len(idsToDelete)
	}
	if len(movedChunks) > 0 {
		if err := p.store.UpdateFileChunkLines(movedChunks); err != nil {
			return stats, fmt.Errorf("update moved chunks: %w", err)
		}
		stats.ChunksMoved = len(movedChunks)
	}

	if len(texts) > 0 {
		vectors, err := p.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return stats, fmt.Errorf("embed batch: %w", err)
		}

		var newChunks []vectordb.NewChunk
		for i, pend := range pending {
			if i >= len(vectors) || vectors[i] == nil {
				stats.EmbedFailures++
				continue
			}
			newChunks = append(newChunks, vectordb.NewChunk{
				FilePath:  pend.filePath,
				StartLine: pend.chunk.StartLine,
				EndLine:   pend.chunk.EndLine,
				SHA256:    pend.chunk.SHA256,
				Vector:    vectors[i],
			})
		}
		if len(newChunks) > 0 {
			if _, err := p.store.AddFileChunks(newChunks); err != nil {
				return stats, fmt.Errorf("insert new chunks: %w", err)
			}
			stats.ChunksEmbedded = len(newChunks)
		}
	}

	return stats, nil
}
