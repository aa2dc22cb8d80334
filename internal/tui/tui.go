// Package tui renders indexing progress: a bubbletea view for interactive
// terminals, and a line-oriented fallback for pipes, CI, and --no-tui.
package tui

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
)

// Stage is one phase of the indexing pipeline.
type Stage int

const (
	StageDiscovery Stage = iota
	StageTag
	StageChunk
	StageEmbed
	StageDiff
	StageComplete
)

func (s Stage) String() string {
	switch s {
	case StageDiscovery:
		return "Discovery"
	case StageTag:
		return "Tag"
	case StageChunk:
		return "Chunk"
	case StageEmbed:
		return "Embed"
	case StageDiff:
		return "Diff"
	case StageComplete:
		return "Complete"
	default:
		return "Unknown"
	}
}

func (s Stage) Icon() string {
	switch s {
	case StageDiscovery:
		return "SCAN"
	case StageTag:
		return "TAG"
	case StageChunk:
		return "CHUNK"
	case StageEmbed:
		return "EMBED"
	case StageDiff:
		return "DIFF"
	case StageComplete:
		return "DONE"
	default:
		return "???"
	}
}

// ProgressEvent reports progress within one stage.
type ProgressEvent struct {
	Stage       Stage
	Current     int
	Total       int
	CurrentFile string
}

// ErrorEvent reports a per-file failure or warning.
type ErrorEvent struct {
	File   string
	Err    error
	IsWarn bool
}

// CompletionStats summarizes a finished index run.
type CompletionStats struct {
	Files    int
	Chunks   int
	Duration time.Duration
	Errors   int
	Warnings int
}

// Renderer receives progress updates from the indexing pipeline.
type Renderer interface {
	Start(ctx context.Context) error
	UpdateProgress(event ProgressEvent)
	AddError(event ErrorEvent)
	Complete(stats CompletionStats)
	Stop() error
}

// Config configures the renderer NewRenderer picks.
type Config struct {
	Output     io.Writer
	ForcePlain bool
	NoColor    bool
	Workspace  string
}

// NewRenderer returns a TUI renderer for interactive terminals and a plain
// renderer for CI, pipes, or --no-tui, falling back to plain if the TUI
// fails to start (e.g. output redirected mid-flight).
func NewRenderer(cfg Config) Renderer {
	if cfg.ForcePlain || !IsTTY(cfg.Output) || DetectCI() {
		return NewPlainRenderer(cfg)
	}
	r, err := NewTUIRenderer(cfg)
	if err != nil {
		return NewPlainRenderer(cfg)
	}
	return r
}

// IsTTY reports whether w is a terminal.
func IsTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// DetectNoColor reports whether NO_COLOR is set.
func DetectNoColor() bool {
	_, ok := os.LookupEnv("NO_COLOR")
	return ok
}

// DetectCI reports whether a known CI environment variable is set.
func DetectCI() bool {
	for _, v := range []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL"} {
		if _, ok := os.LookupEnv(v); ok {
			return true
		}
	}
	return false
}
