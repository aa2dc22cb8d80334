package vectordb

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func vec(dims int, seed float32) []float32 {
	v := make([]float32, dims)
	for i := range v {
		v[i] = seed + float32(i)*0.01
	}
	return v
}

func TestAddAndGetFileChunksByFilePath(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, 8)
	require.NoError(t, err)
	defer db.Close()

	ids, err := db.AddFileChunks([]NewChunk{
		{FilePath: "a.cc", StartLine: 1, EndLine: 10, SHA256: "h1", Vector: vec(8, 1)},
		{FilePath: "a.cc", StartLine: 11, EndLine: 20, SHA256: "h2", Vector: vec(8, 2)},
	})
	require.NoError(t, err)
	require.Len(t, ids, 2)

	refs, err := db.GetFileChunksByFilePath("a.cc")
	require.NoError(t, err)
	require.Len(t, refs, 2)
}

func TestUpdateFileChunkLinesDoesNotTouchVector(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, 4)
	require.NoError(t, err)
	defer db.Close()

	ids, err := db.AddFileChunks([]NewChunk{
		{FilePath: "b.cc", StartLine: 1, EndLine: 5, SHA256: "h1", Vector: vec(4, 1)},
	})
	require.NoError(t, err)

	require.NoError(t, db.UpdateFileChunkLines([]LineUpdate{{ID: ids[0], StartLine: 2, EndLine: 6}}))

	refs, err := db.GetFileChunksByFilePath("b.cc")
	require.NoError(t, err)
	require.Len(t, refs, 1)
	require.Equal(t, 2, refs[0].StartLine)
	require.Equal(t, 6, refs[0].EndLine)
}

func TestDeleteFileChunksRemovesMetadataOnly(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, 4)
	require.NoError(t, err)
	defer db.Close()

	ids, err := db.AddFileChunks([]NewChunk{
		{FilePath: "c.cc", StartLine: 1, EndLine: 5, SHA256: "h1", Vector: vec(4, 1)},
	})
	require.NoError(t, err)

	require.NoError(t, db.DeleteFileChunks(ids))

	refs, err := db.GetFileChunksByFilePath("c.cc")
	require.NoError(t, err)
	require.Empty(t, refs)
}

func TestGetNearestFileChunksSkipsDeleted(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, 4)
	require.NoError(t, err)
	defer db.Close()

	ids, err := db.AddFileChunks([]NewChunk{
		{FilePath: "d.cc", StartLine: 1, EndLine: 5, SHA256: "h1", Vector: vec(4, 1)},
		{FilePath: "d.cc", StartLine: 6, EndLine: 10, SHA256: "h2", Vector: vec(4, 5)},
	})
	require.NoError(t, err)
	require.NoError(t, db.DeleteFileChunks(ids[:1]))

	results, err := db.GetNearestFileChunks(vec(4, 1), 5)
	require.NoError(t, err)
	for _, r := range results {
		require.NotEqual(t, 1, r.StartLine)
	}
}

func TestReopenPersistsGraphAndMetadata(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, 4)
	require.NoError(t, err)

	_, err = db.AddFileChunks([]NewChunk{
		{FilePath: "e.cc", StartLine: 1, EndLine: 5, SHA256: "h1", Vector: vec(4, 1)},
	})
	require.NoError(t, err)
	require.NoError(t, db.Save(dir))
	require.NoError(t, db.Close())

	reopened, err := Open(dir, 4)
	require.NoError(t, err)
	defer reopened.Close()

	refs, err := reopened.GetFileChunksByFilePath("e.cc")
	require.NoError(t, err)
	require.Len(t, refs, 1)

	results, err := reopened.GetNearestFileChunks(vec(4, 1), 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "e.cc", results[0].FilePath)
}

func TestDimensionMismatchRejected(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, 4)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.AddFileChunks([]NewChunk{{FilePath: "f.cc", Vector: vec(8, 1)}})
	require.Error(t, err)
}

func TestOpenRejectsDimensionalityChange(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, 4)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = Open(filepath.Clean(dir), 8)
	require.Error(t, err)
}
