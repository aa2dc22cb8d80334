// Package watchbridge translates raw filesystem events into the
// add/invalidate/remove calls CacheManager exposes, and decides when a
// .gitignore or workspace-config change needs a full rescan versus a
// cheaper partial reconciliation.
package watchbridge

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/vsctoolbox/index/internal/gitignore"
	"github.com/vsctoolbox/index/internal/watcher"
)

// CacheMutator is the subset of CacheManager the bridge drives.
type CacheMutator interface {
	Add(ctx context.Context, path string) error
	Invalidate(ctx context.Context, path string) error
	Remove(ctx context.Context, path string) error
	AllPaths() []string

	// Reconcile re-derives the include set under scope ("" means the whole
	// workspace) by walking the filesystem through PathFilter and adding or
	// removing entries so the file map matches what's on disk.
	Reconcile(ctx context.Context, scope string) error

	// ReconcileByPatterns removes already-tracked paths newly matched by
	// addedPatterns without touching the filesystem, for the common case of
	// a .gitignore gaining entries.
	ReconcileByPatterns(ctx context.Context, addedPatterns []string) error
}

// EventSource is what HybridWatcher (and any polling-only fallback) expose:
// batched, debounced events rather than one event at a time.
type EventSource interface {
	Start(ctx context.Context, path string) error
	Stop() error
	Events() <-chan []watcher.FileEvent
	Errors() <-chan error
}

// Bridge drains an EventSource and drives a CacheMutator from it.
type Bridge struct {
	source   EventSource
	cache    CacheMutator
	rootPath string

	mu                sync.Mutex
	lastRootGitignore string
}

// New builds a bridge over an already-constructed watcher. rootPath is the
// workspace root the watcher was (or will be) started on.
func New(source EventSource, cache CacheMutator, rootPath string) *Bridge {
	return &Bridge{source: source, cache: cache, rootPath: rootPath}
}

// Run starts the underlying watcher and services its event and error
// channels until ctx is cancelled or the watcher stops on its own.
func (b *Bridge) Run(ctx context.Context) error {
	b.mu.Lock()
	b.lastRootGitignore = readFile(filepath.Join(b.rootPath, ".gitignore"))
	b.mu.Unlock()

	// Start blocks while the watcher runs, so it gets its own goroutine.
	startErr := make(chan error, 1)
	go func() { startErr <- b.source.Start(ctx, b.rootPath) }()
	defer b.source.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-startErr:
			if err != nil {
				return err
			}
			startErr = nil
		case batch, ok := <-b.source.Events():
			if !ok {
				return nil
			}
			b.handleBatch(ctx, batch)
		case err, ok := <-b.source.Errors():
			if !ok {
				return nil
			}
			slog.Warn("watcher error", slog.String("error", err.Error()))
		}
	}
}

func (b *Bridge) handleBatch(ctx context.Context, events []watcher.FileEvent) {
	for _, ev := range events {
		if err := b.handleEvent(ctx, ev); err != nil {
			slog.Warn("failed to process watcher event",
				slog.String("path", ev.Path),
				slog.String("operation", ev.Operation.String()),
				slog.String("error", err.Error()))
		}
	}
}

func (b *Bridge) handleEvent(ctx context.Context, ev watcher.FileEvent) error {
	if ev.IsDir {
		return nil
	}

	switch ev.Operation {
	case watcher.OpCreate:
		return b.cache.Add(ctx, ev.Path)
	case watcher.OpModify:
		return b.cache.Invalidate(ctx, ev.Path)
	case watcher.OpDelete:
		return b.cache.Remove(ctx, ev.Path)
	case watcher.OpRename:
		// The rename event carries the old path, which no longer exists; the
		// new path arrives separately as an OpCreate.
		return b.cache.Remove(ctx, ev.Path)
	case watcher.OpGitignoreChange:
		return b.handleGitignoreChange(ctx, ev.Path)
	case watcher.OpConfigChange:
		return b.cache.Reconcile(ctx, "")
	default:
		return nil
	}
}

// handleGitignoreChange picks the cheapest reconciliation strategy for a
// .gitignore edit: a nested file only needs its own subtree rescanned, and a
// root file that only gained patterns can be handled by filtering the
// already-tracked paths instead of rescanning the filesystem.
func (b *Bridge) handleGitignoreChange(ctx context.Context, relPath string) error {
	dir := filepath.Dir(relPath)
	if dir != "." && dir != "" {
		return b.cache.Reconcile(ctx, dir)
	}

	b.mu.Lock()
	oldContent := b.lastRootGitignore
	newContent := readFile(filepath.Join(b.rootPath, relPath))
	b.lastRootGitignore = newContent
	b.mu.Unlock()

	added, removed := gitignore.DiffPatterns(oldContent, newContent)
	if len(removed) > 0 {
		// A removed pattern can unignore files we never tracked, which
		// ReconcileByPatterns can't discover without a filesystem walk.
		return b.cache.Reconcile(ctx, "")
	}
	if len(added) == 0 {
		return nil
	}
	return b.cache.ReconcileByPatterns(ctx, added)
}

func readFile(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}
