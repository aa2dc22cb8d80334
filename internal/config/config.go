// Package config loads and validates vsctoolbox's workspace configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config mirrors the configuration keys named in the engine's external
// interface: worker count, include/exclude paths, admitted extensions, the
// tagger binary, and whether the embedding pipeline runs at all.
type Config struct {
	Version          int      `yaml:"version" json:"version"`
	WorkerThreads    int      `yaml:"worker_threads" json:"worker_threads"`
	IncludePaths     []string `yaml:"include_paths" json:"include_paths"`
	ExcludePatterns  []string `yaml:"exclude_patterns" json:"exclude_patterns"`
	FileExtensions   []string `yaml:"file_extensions" json:"file_extensions"`
	CtagsPath        string   `yaml:"ctags_path" json:"ctags_path"`
	EnableEmbeddings bool     `yaml:"enable_embeddings" json:"enable_embeddings"`
	Embedder         EmbedderConfig `yaml:"embedder" json:"embedder"`
	Logging          LoggingConfig  `yaml:"logging" json:"logging"`
}

// EmbedderConfig configures the local embedding HTTP service.
type EmbedderConfig struct {
	Endpoint   string `yaml:"endpoint" json:"endpoint"`
	BatchSize  int    `yaml:"batch_size" json:"batch_size"`
	Dimensions int    `yaml:"dimensions" json:"dimensions"`
}

// LoggingConfig controls the ambient logging stack.
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	Debug bool   `yaml:"debug" json:"debug"`
}

const fileName = ".vsctoolbox.yaml"

// Default returns built-in defaults. WorkerThreads of 0 means "auto",
// resolved to runtime.NumCPU() by ResolveWorkerThreads.
func Default() *Config {
	return &Config{
		Version:          1,
		WorkerThreads:    0,
		IncludePaths:     nil,
		ExcludePatterns:  []string{".git/**", "node_modules/**", "**/*.o", "**/*.obj"},
		FileExtensions:   []string{".c", ".cc", ".cpp", ".cxx", ".h", ".hh", ".hpp", ".hxx"},
		CtagsPath:        "ctags",
		EnableEmbeddings: true,
		Embedder: EmbedderConfig{
			Endpoint:   "http://localhost:8089",
			BatchSize:  50,
			Dimensions: 768,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads <workspaceRoot>/.vsctoolbox.yaml over the defaults, then layers
// environment variable overrides: defaults < file < env.
func Load(workspaceRoot string) (*Config, error) {
	cfg := Default()

	path := filepath.Join(workspaceRoot, fileName)
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("VSCTOOLBOX_WORKER_THREADS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.WorkerThreads = n
		}
	}
	if v := os.Getenv("VSCTOOLBOX_CTAGS_PATH"); v != "" {
		cfg.CtagsPath = v
	}
	if v := os.Getenv("VSCTOOLBOX_EMBEDDER_ENDPOINT"); v != "" {
		cfg.Embedder.Endpoint = v
	}
	if v := os.Getenv("VSCTOOLBOX_ENABLE_EMBEDDINGS"); v != "" {
		cfg.EnableEmbeddings = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("VSCTOOLBOX_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks invariants that would otherwise surface as confusing
// failures deep in the pipeline.
func (c *Config) Validate() error {
	if c.WorkerThreads < 0 {
		return fmt.Errorf("worker_threads must be >= 0, got %d", c.WorkerThreads)
	}
	if c.CtagsPath == "" {
		return fmt.Errorf("ctags_path must not be empty")
	}
	if c.Embedder.BatchSize <= 0 {
		return fmt.Errorf("embedder.batch_size must be > 0, got %d", c.Embedder.BatchSize)
	}
	return nil
}

// ResolveWorkerThreads returns the configured worker count, or the host CPU
// count when the config says "auto" (0).
func (c *Config) ResolveWorkerThreads() int {
	if c.WorkerThreads > 0 {
		return c.WorkerThreads
	}
	n := runtime.NumCPU()
	if n < 1 {
		return 1
	}
	return n
}

// FindProjectRoot walks up from startDir looking for a .git directory or a
// .vsctoolbox.yaml file, returning the first match. If neither is found
// before the filesystem root, it returns the absolute form of startDir.
func FindProjectRoot(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path: %w", err)
	}

	dir := absDir
	for {
		if info, err := os.Stat(filepath.Join(dir, ".git")); err == nil && info.IsDir() {
			return dir, nil
		}
		if _, err := os.Stat(filepath.Join(dir, fileName)); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return absDir, nil
		}
		dir = parent
	}
}
