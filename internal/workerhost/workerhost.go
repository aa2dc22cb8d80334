// Package workerhost is the child-process side of the index engine: it
// owns N worker threads, accepts batch requests on stdin, splits each
// batch evenly across its workers, and replies on stdout.
package workerhost

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"regexp"
	"sync"

	"github.com/vsctoolbox/index/internal/ipc"
	"github.com/vsctoolbox/index/internal/worker"
)

// Host owns the worker pool and the stdin/stdout IPC streams.
type Host struct {
	ctagsPath  string
	writer     *ipc.Writer
	numThreads int
}

// Run reads Init off r, acks, then services batch requests until shutdown
// or EOF. It blocks until the host should exit.
func Run(ctx context.Context, ctagsPath string, r io.Reader, w io.Writer) error {
	reader := ipc.NewReader(r)
	writer := ipc.NewWriter(w)

	env, raw, err := reader.ReadEnvelope()
	if err != nil {
		return err
	}
	if env.Type != ipc.TypeInit {
		return errUnexpectedMessage(env.Type)
	}
	var init ipc.Init
	if err := unmarshalInto(raw, &init); err != nil {
		return err
	}

	h := &Host{ctagsPath: ctagsPath, writer: writer, numThreads: init.NumThreads}
	if err := writer.WriteMessage(ipc.InitAck{Type: ipc.TypeInitAck, NumThreads: h.numThreads}); err != nil {
		return err
	}

	for {
		env, raw, err := reader.ReadEnvelope()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}

		switch env.Type {
		case ipc.TypeShutdown:
			return nil
		case ipc.TypeSearchBatch:
			h.handleSearchBatch(ctx, raw)
		case ipc.TypeIndexBatch:
			h.handleIndexBatch(ctx, raw)
		case ipc.TypeComputeChunks:
			h.handleComputeChunksBatch(ctx, raw)
		default:
			slog.Warn("workerhost received unknown message type", slog.String("type", string(env.Type)))
		}
	}
}

// splitContiguous divides n items into numWorkers near-equal contiguous
// sub-batches via ceil(n/numWorkers) stride.
func splitContiguous(n, numWorkers int) [][2]int {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	stride := (n + numWorkers - 1) / numWorkers
	if stride == 0 {
		return nil
	}
	var ranges [][2]int
	for start := 0; start < n; start += stride {
		end := start + stride
		if end > n {
			end = n
		}
		ranges = append(ranges, [2]int{start, end})
	}
	return ranges
}

func (h *Host) handleSearchBatch(ctx context.Context, raw []byte) {
	var req ipc.SearchBatchRequest
	if err := unmarshalInto(raw, &req); err != nil {
		slog.Error("decode search batch", slog.String("error", err.Error()))
		return
	}

	outputs := make([]ipc.SearchOutput, len(req.Inputs))
	var wg sync.WaitGroup
	for _, r := range splitContiguous(len(req.Inputs), h.numThreads) {
		wg.Add(1)
		go func(r [2]int) {
			defer wg.Done()
			defer recoverWorkerCrash(r, func(i int, errMsg string) {
				outputs[i] = ipc.SearchOutput{FilePath: req.Inputs[i].FilePath, Error: errMsg}
			})
			for i := r[0]; i < r[1]; i++ {
				outputs[i] = runSearch(req.Inputs[i])
			}
		}(r)
	}
	wg.Wait()

	_ = h.writer.WriteMessage(ipc.SearchBatchResponse{Type: ipc.TypeSearchBatch, MessageID: req.MessageID, Outputs: outputs})
}

func runSearch(in ipc.SearchInput) ipc.SearchOutput {
	patterns := make([]*regexp.Regexp, 0, len(in.Patterns))
	literals := make([][]string, 0, len(in.Patterns))
	for i, p := range in.Patterns {
		re, err := regexp.Compile("(?im)" + p)
		if err != nil {
			return ipc.SearchOutput{FilePath: in.FilePath, Error: err.Error()}
		}
		patterns = append(patterns, re)
		if i < len(in.Literals) {
			literals = append(literals, in.Literals[i])
		} else {
			literals = append(literals, nil)
		}
	}

	matches, err := worker.Search(in.FilePath, patterns, literals)
	if err != nil {
		return ipc.SearchOutput{FilePath: in.FilePath, Error: err.Error()}
	}

	out := make([]ipc.SearchMatch, len(matches))
	for i, m := range matches {
		out[i] = ipc.SearchMatch{Line: m.Line, Text: m.Text}
	}
	return ipc.SearchOutput{FilePath: in.FilePath, Matches: out}
}

func (h *Host) handleIndexBatch(ctx context.Context, raw []byte) {
	var req ipc.IndexBatchRequest
	if err := unmarshalInto(raw, &req); err != nil {
		slog.Error("decode index batch", slog.String("error", err.Error()))
		return
	}

	outputs := make([]ipc.IndexOutput, len(req.Inputs))
	var wg sync.WaitGroup
	for _, r := range splitContiguous(len(req.Inputs), h.numThreads) {
		wg.Add(1)
		go func(r [2]int) {
			defer wg.Done()
			defer recoverWorkerCrash(r, func(i int, errMsg string) {
				outputs[i] = ipc.IndexOutput{FilePath: req.Inputs[i].FilePath, Status: ipc.IndexStatusFailed, Error: errMsg}
			})
			for i := r[0]; i < r[1]; i++ {
				outputs[i] = runIndex(ctx, h.ctagsPath, req.Inputs[i])
			}
		}(r)
	}
	wg.Wait()

	_ = h.writer.WriteMessage(ipc.IndexBatchResponse{Type: ipc.TypeIndexBatch, MessageID: req.MessageID, Outputs: outputs})
}

func runIndex(ctx context.Context, ctagsPath string, in ipc.IndexInput) ipc.IndexOutput {
	result := worker.Index(ctx, ctagsPath, in.FilePath, in.TagPath)
	status := ipc.IndexStatusFailed
	switch result.Status {
	case worker.Indexed:
		status = ipc.IndexStatusIndexed
	case worker.Skipped:
		status = ipc.IndexStatusSkipped
	}
	return ipc.IndexOutput{FilePath: in.FilePath, Status: status, Error: result.Error}
}

func (h *Host) handleComputeChunksBatch(ctx context.Context, raw []byte) {
	var req ipc.ComputeChunksBatchRequest
	if err := unmarshalInto(raw, &req); err != nil {
		slog.Error("decode compute-chunks batch", slog.String("error", err.Error()))
		return
	}

	outputs := make([]ipc.ChunkOutput, len(req.Inputs))
	var wg sync.WaitGroup
	for _, r := range splitContiguous(len(req.Inputs), h.numThreads) {
		wg.Add(1)
		go func(r [2]int) {
			defer wg.Done()
			defer recoverWorkerCrash(r, func(i int, errMsg string) {
				outputs[i] = ipc.ChunkOutput{FilePath: req.Inputs[i].FilePath, Error: errMsg}
			})
			for i := r[0]; i < r[1]; i++ {
				outputs[i] = runComputeChunks(req.Inputs[i])
			}
		}(r)
	}
	wg.Wait()

	_ = h.writer.WriteMessage(ipc.ComputeChunksBatchResponse{Type: ipc.TypeComputeChunks, MessageID: req.MessageID, Outputs: outputs})
}

func runComputeChunks(in ipc.ChunkInput) ipc.ChunkOutput {
	chunks, err := worker.Chunk(in.FilePath, in.TagPath)
	if err != nil {
		return ipc.ChunkOutput{FilePath: in.FilePath, Error: err.Error()}
	}
	out := make([]ipc.ChunkRecord, len(chunks))
	for i, c := range chunks {
		out[i] = ipc.ChunkRecord{StartLine: c.StartLine, EndLine: c.EndLine, Text: c.Text, SHA256: c.SHA256}
	}
	return ipc.ChunkOutput{FilePath: in.FilePath, Chunks: out}
}

// recoverWorkerCrash is every worker goroutine's uncaught-panic handler: it
// logs and fills every output of that sub-batch (the [start,end) index
// range it owned, including items already computed) with per-item error
// entries rather than letting the
// host process die, matching the lost-sub-range policy for worker crashes.
func recoverWorkerCrash(r [2]int, fill func(i int, errMsg string)) {
	if rec := recover(); rec != nil {
		slog.Warn("worker thread crashed, sub-batch lost", slog.Any("panic", rec))
		for i := r[0]; i < r[1]; i++ {
			fill(i, "worker thread crashed")
		}
	}
}

func errUnexpectedMessage(t ipc.Type) error {
	return &unexpectedMessageError{t}
}

type unexpectedMessageError struct{ t ipc.Type }

func (e *unexpectedMessageError) Error() string {
	return "workerhost: expected init message, got " + string(e.t)
}

func unmarshalInto(raw []byte, v any) error {
	return json.Unmarshal(raw, v)
}
