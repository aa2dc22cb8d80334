package cachemgr

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vsctoolbox/index/internal/ipc"
	"github.com/vsctoolbox/index/internal/pathfilter"
	"github.com/vsctoolbox/index/internal/worker"
)

type fakePool struct{}

func (fakePool) IndexAll(ctx context.Context, inputs []ipc.IndexInput) ([]ipc.IndexOutput, error) {
	outs := make([]ipc.IndexOutput, len(inputs))
	for i, in := range inputs {
		outs[i] = ipc.IndexOutput{FilePath: in.FilePath, Status: ipc.IndexStatusIndexed}
	}
	return outs, nil
}

func (fakePool) ComputeChunksAll(ctx context.Context, inputs []ipc.ChunkInput) ([]ipc.ChunkOutput, error) {
	outs := make([]ipc.ChunkOutput, len(inputs))
	for i, in := range inputs {
		outs[i] = ipc.ChunkOutput{FilePath: in.FilePath}
	}
	return outs, nil
}

func (fakePool) SearchAll(ctx context.Context, inputs []ipc.SearchInput) ([]ipc.SearchOutput, error) {
	outs := make([]ipc.SearchOutput, len(inputs))
	for i, in := range inputs {
		patterns := make([]*regexp.Regexp, len(in.Patterns))
		for j, p := range in.Patterns {
			patterns[j] = regexp.MustCompile("(?im)" + p)
		}
		matches, err := worker.Search(in.FilePath, patterns, nil)
		if err != nil {
			outs[i] = ipc.SearchOutput{FilePath: in.FilePath, Error: err.Error()}
			continue
		}
		ipcMatches := make([]ipc.SearchMatch, len(matches))
		for j, m := range matches {
			ipcMatches[j] = ipc.SearchMatch{Line: m.Line, Text: m.Text}
		}
		outs[i] = ipc.SearchOutput{FilePath: in.FilePath, Matches: ipcMatches}
	}
	return outs, nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) Dimensions() int { return 3 }
func (fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func newTestManager(t *testing.T, root string) *CacheManager {
	t.Helper()
	filter, err := pathfilter.New([]string{root}, nil, nil, []string{".c"}, "")
	require.NoError(t, err)

	cm, err := Initialize(context.Background(), filter, "ctags", fakePool{}, fakeEmbedder{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = cm.Close() })

	select {
	case <-cm.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("initial index did not become ready")
	}
	return cm
}

func TestInitializeDiscoversExistingFiles(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.c"), []byte("int a;\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.h"), []byte("// header\n"), 0o644))

	cm := newTestManager(t, root)

	paths := cm.GetAllPaths("", "")
	require.Len(t, paths, 1)
	require.Equal(t, filepath.Join(root, "a.c"), paths[0])
}

func TestAddSkipsPathsPathFilterExcludes(t *testing.T) {
	root := t.TempDir()
	cm := newTestManager(t, root)

	require.NoError(t, os.WriteFile(filepath.Join(root, "skip.txt"), []byte("x"), 0o644))
	require.NoError(t, cm.Add(context.Background(), filepath.Join(root, "skip.txt")))

	require.Empty(t, cm.GetAllPaths("", ""))
}

func TestAddThenRemove(t *testing.T) {
	root := t.TempDir()
	cm := newTestManager(t, root)

	newFile := filepath.Join(root, "new.c")
	require.NoError(t, os.WriteFile(newFile, []byte("int b;\n"), 0o644))
	require.NoError(t, cm.Add(context.Background(), newFile))
	require.Len(t, cm.GetAllPaths("", ""), 1)

	require.NoError(t, cm.Remove(context.Background(), newFile))
	require.Empty(t, cm.GetAllPaths("", ""))
}

func TestGetAllPathsAppliesExcludeGlob(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "vendor"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.c"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "vendor", "lib.c"), []byte("x"), 0o644))

	cm := newTestManager(t, root)
	require.Len(t, cm.GetAllPaths("", ""), 2)

	filtered := cm.GetAllPaths("", "vendor/**")
	require.Len(t, filtered, 1)
	require.Equal(t, filepath.Join(root, "main.c"), filtered[0])
}

func TestReconcileByPatternsRemovesNewlyIgnoredFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "build.c"), []byte("x"), 0o644))
	cm := newTestManager(t, root)
	require.Len(t, cm.GetAllPaths("", ""), 1)

	require.NoError(t, cm.ReconcileByPatterns(context.Background(), []string{"build.c"}))
	require.Empty(t, cm.GetAllPaths("", ""))
}

func TestReconcileAddsNewAndRemovesDeletedFiles(t *testing.T) {
	root := t.TempDir()
	keep := filepath.Join(root, "keep.c")
	gone := filepath.Join(root, "gone.c")
	require.NoError(t, os.WriteFile(keep, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(gone, []byte("x"), 0o644))

	cm := newTestManager(t, root)
	require.Len(t, cm.GetAllPaths("", ""), 2)

	require.NoError(t, os.Remove(gone))
	fresh := filepath.Join(root, "fresh.c")
	require.NoError(t, os.WriteFile(fresh, []byte("x"), 0o644))

	require.NoError(t, cm.Reconcile(context.Background(), ""))

	paths := cm.GetAllPaths("", "")
	require.ElementsMatch(t, []string{keep, fresh}, paths)
}

func TestSearchFindsMatchesAcrossTrackedFiles(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "hit.c"), []byte("int foo(void);\nint bar(void);\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "miss.c"), []byte("int baz(void);\n"), 0o644))

	cm := newTestManager(t, root)

	hits, err := cm.Search(context.Background(), "foo", "", 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, filepath.Join(root, "hit.c"), hits[0].FilePath)
	require.Equal(t, 1, hits[0].Line)
}

func TestSearchRespectsLimit(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "multi.c"), []byte("foo 1\nfoo 2\nfoo 3\n"), 0o644))

	cm := newTestManager(t, root)

	hits, err := cm.Search(context.Background(), "foo", "", 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
}

func TestSearchEmptyQueryReturnsNoHits(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.c"), []byte("int a;\n"), 0o644))
	cm := newTestManager(t, root)

	hits, err := cm.Search(context.Background(), "", "", 0)
	require.NoError(t, err)
	require.Empty(t, hits)
}

func TestUpdateConfigRebuildsFromNewFilter(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.c"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.h"), []byte("x"), 0o644))

	cm := newTestManager(t, root)
	require.Len(t, cm.GetAllPaths("", ""), 1)

	newFilter, err := pathfilter.New([]string{root}, nil, nil, []string{".c", ".h"}, "")
	require.NoError(t, err)
	cm.UpdateConfig(context.Background(), newFilter)

	select {
	case <-cm.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("rebuild did not become ready")
	}
	require.Len(t, cm.GetAllPaths("", ""), 2)
}
