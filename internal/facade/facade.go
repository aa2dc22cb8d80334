// Package facade is the single process-wide entry point: it reads
// configuration, constructs every other component, binds the watcher to
// the cache manager, and tears everything down in reverse order.
package facade

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	"github.com/vsctoolbox/index/internal/cachemgr"
	"github.com/vsctoolbox/index/internal/config"
	"github.com/vsctoolbox/index/internal/embedder"
	"github.com/vsctoolbox/index/internal/pathfilter"
	"github.com/vsctoolbox/index/internal/threadpool"
	"github.com/vsctoolbox/index/internal/watchbridge"
	"github.com/vsctoolbox/index/internal/watcher"
)

const lockFileName = ".lock"

var (
	instance     *Facade
	instanceOnce sync.Once
)

// Get returns the single process-wide Facade, constructing it on first
// call. It is not yet initialized; call Initialize before use.
func Get() *Facade {
	instanceOnce.Do(func() {
		instance = &Facade{}
	})
	return instance
}

// Facade owns every long-lived component for one workspace and is safe
// for concurrent use by callers once Initialize has returned.
type Facade struct {
	mu          sync.Mutex
	initialized bool
	disposed    bool

	workspaceRoot string
	cfg           *config.Config
	lock          *flock.Flock

	pool       *threadpool.ThreadPool
	embedder   *embedder.LlamaEmbedder
	cache      *cachemgr.CacheManager
	bridge     *watchbridge.Bridge
	bridgeDone chan struct{}
	cancelRun  context.CancelFunc
}

// Initialize reads configuration for workspaceRoot, constructs the pool,
// filter, cache manager (which owns the vector database), and watcher
// bridge, and starts background indexing. It returns as soon as
// components are wired, before the initial index finishes, so callers
// remain responsive.
func (f *Facade) Initialize(hostCtx context.Context, workspaceRoot string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.initialized {
		return fmt.Errorf("facade: already initialized")
	}

	cfg, err := config.Load(workspaceRoot)
	if err != nil {
		return fmt.Errorf("facade: load config: %w", err)
	}

	// cachemgr.Initialize derives its own cache root from the filter's
	// first include root (<root>/.cache/vsctoolbox/index); the lock lives
	// there too so a second process on the same workspace collides with
	// the same directory the index data lives under.
	cacheRoot := filepath.Join(workspaceRoot, ".cache", "vsctoolbox", "index")

	lock, err := acquireLock(cacheRoot)
	if err != nil {
		return fmt.Errorf("facade: acquire workspace lock: %w", err)
	}

	filter, err := pathfilter.New(cfg.IncludePaths, []string{workspaceRoot}, cfg.ExcludePatterns, cfg.FileExtensions, "")
	if err != nil {
		_ = releaseLock(lock)
		return fmt.Errorf("facade: build path filter: %w", err)
	}

	pool, err := threadpool.New(hostCtx, cfg.ResolveWorkerThreads(), cfg.CtagsPath)
	if err != nil {
		_ = releaseLock(lock)
		return fmt.Errorf("facade: start worker pool: %w", err)
	}

	dims := cfg.Embedder.Dimensions
	if dims <= 0 {
		dims = 768
	}
	emb := embedder.New(embedder.Config{
		Endpoint:   cfg.Embedder.Endpoint,
		Dimensions: dims,
	})

	cache, err := cachemgr.Initialize(hostCtx, filter, cfg.CtagsPath, pool, emb)
	if err != nil {
		_ = pool.Dispose()
		_ = releaseLock(lock)
		return fmt.Errorf("facade: initialize cache manager: %w", err)
	}

	watchOpts := watcher.DefaultOptions()
	hybrid, err := watcher.NewHybridWatcher(watchOpts)
	if err != nil {
		_ = cache.Close()
		_ = pool.Dispose()
		_ = releaseLock(lock)
		return fmt.Errorf("facade: start file watcher: %w", err)
	}

	bridge := watchbridge.New(hybrid, cache, workspaceRoot)

	runCtx, cancel := context.WithCancel(hostCtx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := bridge.Run(runCtx); err != nil && runCtx.Err() == nil {
			slog.Warn("watch bridge stopped", slog.String("error", err.Error()))
		}
	}()

	f.workspaceRoot = workspaceRoot
	f.cfg = cfg
	f.lock = lock
	f.pool = pool
	f.embedder = emb
	f.cache = cache
	f.bridge = bridge
	f.bridgeDone = done
	f.cancelRun = cancel
	f.initialized = true

	return nil
}

// OnConfigChange reloads configuration, rebuilds the PathFilter, and
// pushes it into the CacheManager so a changed include/exclude/extension
// set is reflected without a process restart.
func (f *Facade) OnConfigChange(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.initialized || f.disposed {
		return fmt.Errorf("facade: not initialized")
	}

	cfg, err := config.Load(f.workspaceRoot)
	if err != nil {
		return fmt.Errorf("facade: reload config: %w", err)
	}
	filter, err := pathfilter.New(cfg.IncludePaths, []string{f.workspaceRoot}, cfg.ExcludePatterns, cfg.FileExtensions, "")
	if err != nil {
		return fmt.Errorf("facade: rebuild path filter: %w", err)
	}

	f.cfg = cfg
	f.cache.UpdateConfig(ctx, filter)
	return nil
}

// CacheManager exposes the underlying cache manager for query surfaces
// (MCP tools, CLI subcommands) to read from.
func (f *Facade) CacheManager() *cachemgr.CacheManager {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cache
}

// Ready returns the cache manager's readiness channel, or nil if the
// facade has not been initialized yet.
func (f *Facade) Ready() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cache == nil {
		return nil
	}
	return f.cache.Ready()
}

// Dispose tears down in reverse construction order: watcher, pool
// (shutdown with grace), cache manager (which persists and closes the
// vector database), then the workspace lock.
func (f *Facade) Dispose() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.initialized || f.disposed {
		return nil
	}
	f.disposed = true

	var errs []error

	if f.cancelRun != nil {
		f.cancelRun()
	}
	if f.bridgeDone != nil {
		<-f.bridgeDone
	}
	if f.pool != nil {
		if err := f.pool.Dispose(); err != nil {
			errs = append(errs, fmt.Errorf("dispose pool: %w", err))
		}
	}
	if f.cache != nil {
		if err := f.cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close cache manager (vector database): %w", err))
		}
	}
	if f.lock != nil {
		if err := releaseLock(f.lock); err != nil {
			errs = append(errs, fmt.Errorf("release workspace lock: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("facade dispose: %v", errs)
	}
	return nil
}

func acquireLock(cacheRoot string) (*flock.Flock, error) {
	if err := os.MkdirAll(cacheRoot, 0o755); err != nil {
		return nil, err
	}
	lock := flock.New(filepath.Join(cacheRoot, lockFileName))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("workspace already locked by another process")
	}
	return lock, nil
}

func releaseLock(lock *flock.Flock) error {
	if lock == nil {
		return nil
	}
	return lock.Unlock()
}
