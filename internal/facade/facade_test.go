package facade

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetReturnsSameInstance(t *testing.T) {
	a := Get()
	b := Get()
	require.Same(t, a, b)
}

func TestAcquireLockPreventsSecondLock(t *testing.T) {
	root := t.TempDir()
	cacheRoot := filepath.Join(root, ".cache", "vsctoolbox", "index")

	first, err := acquireLock(cacheRoot)
	require.NoError(t, err)
	defer releaseLock(first)

	_, err = acquireLock(cacheRoot)
	require.Error(t, err)
}

func TestAcquireLockReleaseThenReacquire(t *testing.T) {
	root := t.TempDir()
	cacheRoot := filepath.Join(root, ".cache", "vsctoolbox", "index")

	first, err := acquireLock(cacheRoot)
	require.NoError(t, err)
	require.NoError(t, releaseLock(first))

	second, err := acquireLock(cacheRoot)
	require.NoError(t, err)
	require.NoError(t, releaseLock(second))
}

func TestReleaseLockNilIsNoop(t *testing.T) {
	require.NoError(t, releaseLock(nil))
}

func TestDisposeBeforeInitializeIsNoop(t *testing.T) {
	f := &Facade{}
	require.NoError(t, f.Dispose())
}

func TestDisposeIsIdempotent(t *testing.T) {
	f := &Facade{initialized: true}
	require.NoError(t, f.Dispose())
	require.NoError(t, f.Dispose())
}

func TestOnConfigChangeBeforeInitializeErrors(t *testing.T) {
	f := &Facade{}
	err := f.OnConfigChange(context.Background())
	require.Error(t, err)
}

func TestReadyBeforeInitializeIsNil(t *testing.T) {
	f := &Facade{}
	require.Nil(t, f.Ready())
}
