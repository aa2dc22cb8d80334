package watchbridge

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vsctoolbox/index/internal/watcher"
)

type fakeSource struct {
	events chan []watcher.FileEvent
	errors chan error
	root   string
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		events: make(chan []watcher.FileEvent, 4),
		errors: make(chan error, 4),
	}
}

func (f *fakeSource) Start(ctx context.Context, path string) error {
	f.root = path
	return nil
}
func (f *fakeSource) Stop() error                             { return nil }
func (f *fakeSource) Events() <-chan []watcher.FileEvent      { return f.events }
func (f *fakeSource) Errors() <-chan error                    { return f.errors }

type fakeCache struct {
	added       []string
	invalidated []string
	removed     []string
	reconciled  []string
	patterns    [][]string
}

func (c *fakeCache) Add(ctx context.Context, path string) error {
	c.added = append(c.added, path)
	return nil
}
func (c *fakeCache) Invalidate(ctx context.Context, path string) error {
	c.invalidated = append(c.invalidated, path)
	return nil
}
func (c *fakeCache) Remove(ctx context.Context, path string) error {
	c.removed = append(c.removed, path)
	return nil
}
func (c *fakeCache) AllPaths() []string { return nil }
func (c *fakeCache) Reconcile(ctx context.Context, scope string) error {
	c.reconciled = append(c.reconciled, scope)
	return nil
}
func (c *fakeCache) ReconcileByPatterns(ctx context.Context, added []string) error {
	c.patterns = append(c.patterns, added)
	return nil
}

func TestHandleEventRoutesCreateModifyDelete(t *testing.T) {
	cache := &fakeCache{}
	b := New(newFakeSource(), cache, t.TempDir())
	ctx := context.Background()

	require.NoError(t, b.handleEvent(ctx, watcher.FileEvent{Path: "a.c", Operation: watcher.OpCreate}))
	require.NoError(t, b.handleEvent(ctx, watcher.FileEvent{Path: "b.c", Operation: watcher.OpModify}))
	require.NoError(t, b.handleEvent(ctx, watcher.FileEvent{Path: "c.c", Operation: watcher.OpDelete}))

	require.Equal(t, []string{"a.c"}, cache.added)
	require.Equal(t, []string{"b.c"}, cache.invalidated)
	require.Equal(t, []string{"c.c"}, cache.removed)
}

func TestHandleEventSkipsDirectories(t *testing.T) {
	cache := &fakeCache{}
	b := New(newFakeSource(), cache, t.TempDir())

	require.NoError(t, b.handleEvent(context.Background(), watcher.FileEvent{Path: "dir", Operation: watcher.OpCreate, IsDir: true}))
	require.Empty(t, cache.added)
}

func TestHandleGitignoreChangeNestedTriggersSubtreeReconcile(t *testing.T) {
	root := t.TempDir()
	cache := &fakeCache{}
	b := New(newFakeSource(), cache, root)

	require.NoError(t, b.handleEvent(context.Background(), watcher.FileEvent{
		Path: filepath.Join("sub", ".gitignore"), Operation: watcher.OpGitignoreChange,
	}))

	require.Equal(t, []string{"sub"}, cache.reconciled)
}

func TestHandleGitignoreChangeRootAddedPatternsUsesPatternDiff(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ".gitignore"), []byte("*.log\n*.tmp\n"), 0o644))

	cache := &fakeCache{}
	b := New(newFakeSource(), cache, root)
	b.lastRootGitignore = "*.log\n"

	require.NoError(t, b.handleEvent(context.Background(), watcher.FileEvent{
		Path: ".gitignore", Operation: watcher.OpGitignoreChange,
	}))

	require.Empty(t, cache.reconciled)
	require.Len(t, cache.patterns, 1)
	require.Equal(t, []string{"*.tmp"}, cache.patterns[0])
}

func TestHandleGitignoreChangeRootRemovedPatternsTriggersFullReconcile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ".gitignore"), []byte("*.log\n"), 0o644))

	cache := &fakeCache{}
	b := New(newFakeSource(), cache, root)
	b.lastRootGitignore = "*.log\n*.tmp\n"

	require.NoError(t, b.handleEvent(context.Background(), watcher.FileEvent{
		Path: ".gitignore", Operation: watcher.OpGitignoreChange,
	}))

	require.Equal(t, []string{""}, cache.reconciled)
	require.Empty(t, cache.patterns)
}

func TestHandleEventConfigChangeTriggersFullReconcile(t *testing.T) {
	cache := &fakeCache{}
	b := New(newFakeSource(), cache, t.TempDir())

	require.NoError(t, b.handleEvent(context.Background(), watcher.FileEvent{
		Path: ".vsctoolbox.yaml", Operation: watcher.OpConfigChange,
	}))

	require.Equal(t, []string{""}, cache.reconciled)
}

func TestRunDrainsBatchesUntilContextCancelled(t *testing.T) {
	src := newFakeSource()
	cache := &fakeCache{}
	b := New(src, cache, t.TempDir())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	src.events <- []watcher.FileEvent{{Path: "a.c", Operation: watcher.OpCreate}}

	require.Eventually(t, func() bool {
		return len(cache.added) == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not exit after context cancellation")
	}
}
