package tui

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPlainRendererWritesProgressLine(t *testing.T) {
	var buf bytes.Buffer
	r := NewPlainRenderer(Config{Output: &buf})

	r.UpdateProgress(ProgressEvent{Stage: StageChunk, Current: 2, Total: 5, CurrentFile: "a.c"})

	assert.Contains(t, buf.String(), "[CHUNK] 2/5 a.c")
}

func TestPlainRendererWritesError(t *testing.T) {
	var buf bytes.Buffer
	r := NewPlainRenderer(Config{Output: &buf})

	r.AddError(ErrorEvent{File: "a.c", Err: errors.New("parse failed")})

	assert.Contains(t, buf.String(), "ERROR: a.c: parse failed")
}

func TestPlainRendererWritesWarning(t *testing.T) {
	var buf bytes.Buffer
	r := NewPlainRenderer(Config{Output: &buf})

	r.AddError(ErrorEvent{File: "a.c", Err: errors.New("stale tags"), IsWarn: true})

	assert.Contains(t, buf.String(), "WARN: a.c: stale tags")
}

func TestPlainRendererWritesCompletionSummary(t *testing.T) {
	var buf bytes.Buffer
	r := NewPlainRenderer(Config{Output: &buf})

	r.Complete(CompletionStats{Files: 3, Chunks: 10, Duration: 2 * time.Second, Errors: 1})

	out := buf.String()
	assert.Contains(t, out, "3 files, 10 chunks")
	assert.Contains(t, out, "1 errors")
}

func TestNewRendererFallsBackToPlainForNonTTY(t *testing.T) {
	var buf bytes.Buffer
	r := NewRenderer(Config{Output: &buf})

	_, ok := r.(*PlainRenderer)
	assert.True(t, ok)
}
