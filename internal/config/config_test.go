package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithoutConfigFile(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	require.NoError(t, err)
	require.Equal(t, "ctags", cfg.CtagsPath)
	require.True(t, cfg.EnableEmbeddings)
	require.Equal(t, 0, cfg.WorkerThreads)
}

func TestLoadOverridesFromFile(t *testing.T) {
	dir := t.TempDir()
	yamlContent := "worker_threads: 4\nctags_path: /usr/local/bin/ctags\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, fileName), []byte(yamlContent), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	require.Equal(t, 4, cfg.WorkerThreads)
	require.Equal(t, "/usr/local/bin/ctags", cfg.CtagsPath)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, fileName), []byte("worker_threads: 2\n"), 0o644))
	t.Setenv("VSCTOOLBOX_WORKER_THREADS", "6")

	cfg, err := Load(dir)
	require.NoError(t, err)
	require.Equal(t, 6, cfg.WorkerThreads)
}

func TestValidateRejectsNegativeWorkers(t *testing.T) {
	cfg := Default()
	cfg.WorkerThreads = -1
	require.Error(t, cfg.Validate())
}

func TestResolveWorkerThreadsAuto(t *testing.T) {
	cfg := Default()
	require.Greater(t, cfg.ResolveWorkerThreads(), 0)
}
