// Package threadpool is the parent-process proxy to the worker-host child
// process: it spawns the host over IPC, sends one batch request per public
// call, and correlates replies by message id. If the host exits
// unexpectedly, every pending request fails; the host is not respawned, so
// later calls fail as well.
package threadpool

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vsctoolbox/index/internal/ipc"
)

const initTimeout = 10 * time.Second
const shutdownGrace = 2 * time.Second

// ThreadPool is the in-parent proxy to a worker-host child process.
type ThreadPool struct {
	numThreads int
	ctagsPath  string

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	writer  *ipc.Writer
	nextID  uint32
	pending map[uint32]chan json.RawMessage
	closed  bool

	initAcked chan struct{}
	ackOnce   sync.Once
	exited    chan struct{}
}

// New spawns the worker-host child process (a self-re-exec of the current
// binary with the hidden "__workerhost" subcommand) with numThreads worker
// threads, and blocks until it acknowledges init or initTimeout elapses.
func New(ctx context.Context, numThreads int, ctagsPath string) (*ThreadPool, error) {
	tp := &ThreadPool{
		numThreads: numThreads,
		ctagsPath:  ctagsPath,
		pending:    make(map[uint32]chan json.RawMessage),
		initAcked:  make(chan struct{}),
		exited:     make(chan struct{}),
	}
	if err := tp.spawn(ctx); err != nil {
		return nil, err
	}
	return tp, nil
}

func (tp *ThreadPool) spawn(ctx context.Context) error {
	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable path: %w", err)
	}

	cmd := exec.Command(execPath, "__workerhost", "--ctags-path", tp.ctagsPath)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("open workerhost stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("open workerhost stdout: %w", err)
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn workerhost: %w", err)
	}

	tp.mu.Lock()
	tp.cmd = cmd
	tp.stdin = stdin
	tp.writer = ipc.NewWriter(stdin)
	tp.mu.Unlock()

	go tp.readLoop(stdout)
	go tp.waitForExit()

	if err := tp.writer.WriteMessage(ipc.Init{Type: ipc.TypeInit, NumThreads: tp.numThreads}); err != nil {
		return fmt.Errorf("send init: %w", err)
	}

	select {
	case <-time.After(initTimeout):
		_ = cmd.Process.Kill()
		return fmt.Errorf("workerhost did not acknowledge init within %s", initTimeout)
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		return ctx.Err()
	case <-tp.initAcked:
	}
	return nil
}

func (tp *ThreadPool) waitForExit() {
	tp.mu.Lock()
	cmd := tp.cmd
	tp.mu.Unlock()
	if cmd == nil {
		return
	}
	err := cmd.Wait()
	close(tp.exited)

	tp.mu.Lock()
	wasClosed := tp.closed
	pending := tp.pending
	tp.pending = make(map[uint32]chan json.RawMessage)
	tp.mu.Unlock()

	if !wasClosed {
		slog.Warn("workerhost process exited unexpectedly", slog.Any("error", err))
	}
	for _, ch := range pending {
		close(ch)
	}
}

func (tp *ThreadPool) readLoop(stdout io.Reader) {
	reader := ipc.NewReader(stdout)
	for {
		env, raw, err := reader.ReadEnvelope()
		if err != nil {
			return
		}

		switch env.Type {
		case ipc.TypeInitAck:
			tp.ackOnce.Do(func() { close(tp.initAcked) })
		case ipc.TypeLog:
			var logMsg ipc.Log
			if err := json.Unmarshal(raw, &logMsg); err == nil {
				relayLog(logMsg)
			}
		case ipc.TypeSearchBatch, ipc.TypeIndexBatch, ipc.TypeComputeChunks:
			tp.deliver(env.MessageID, raw)
		}
	}
}

func relayLog(l ipc.Log) {
	switch l.Level {
	case "error":
		slog.Error("workerhost", slog.String("message", l.Message))
	case "warn":
		slog.Warn("workerhost", slog.String("message", l.Message))
	default:
		slog.Info("workerhost", slog.String("message", l.Message))
	}
}

func (tp *ThreadPool) deliver(id uint32, raw json.RawMessage) {
	tp.mu.Lock()
	ch, ok := tp.pending[id]
	if ok {
		delete(tp.pending, id)
	}
	tp.mu.Unlock()
	if ok {
		ch <- raw
	}
}

func (tp *ThreadPool) nextMessageID() uint32 {
	return atomic.AddUint32(&tp.nextID, 1)
}

func (tp *ThreadPool) register(id uint32) chan json.RawMessage {
	ch := make(chan json.RawMessage, 1)
	tp.mu.Lock()
	tp.pending[id] = ch
	tp.mu.Unlock()
	return ch
}

func (tp *ThreadPool) sendAndWait(ctx context.Context, id uint32, req any) (json.RawMessage, error) {
	ch := tp.register(id)

	tp.mu.Lock()
	writer := tp.writer
	tp.mu.Unlock()
	if writer == nil {
		return nil, fmt.Errorf("threadpool closed")
	}
	if err := writer.WriteMessage(req); err != nil {
		return nil, fmt.Errorf("send batch request: %w", err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case raw, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("workerhost crashed before replying")
		}
		return raw, nil
	}
}

// SearchAll runs a batch search across all worker threads.
func (tp *ThreadPool) SearchAll(ctx context.Context, inputs []ipc.SearchInput) ([]ipc.SearchOutput, error) {
	id := tp.nextMessageID()
	raw, err := tp.sendAndWait(ctx, id, ipc.SearchBatchRequest{Type: ipc.TypeSearchBatch, MessageID: id, Inputs: inputs})
	if err != nil {
		return nil, err
	}
	var resp ipc.SearchBatchResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	return resp.Outputs, nil
}

// IndexAll runs a batch tagger pass across all worker threads.
func (tp *ThreadPool) IndexAll(ctx context.Context, inputs []ipc.IndexInput) ([]ipc.IndexOutput, error) {
	id := tp.nextMessageID()
	raw, err := tp.sendAndWait(ctx, id, ipc.IndexBatchRequest{Type: ipc.TypeIndexBatch, MessageID: id, Inputs: inputs})
	if err != nil {
		return nil, err
	}
	var resp ipc.IndexBatchResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode index response: %w", err)
	}
	return resp.Outputs, nil
}

// ComputeChunksAll runs a batch chunk computation across all worker threads.
func (tp *ThreadPool) ComputeChunksAll(ctx context.Context, inputs []ipc.ChunkInput) ([]ipc.ChunkOutput, error) {
	id := tp.nextMessageID()
	raw, err := tp.sendAndWait(ctx, id, ipc.ComputeChunksBatchRequest{Type: ipc.TypeComputeChunks, MessageID: id, Inputs: inputs})
	if err != nil {
		return nil, err
	}
	var resp ipc.ComputeChunksBatchResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode compute-chunks response: %w", err)
	}
	return resp.Outputs, nil
}

// Dispose requests a graceful shutdown, waiting up to shutdownGrace before
// force-killing the child process.
func (tp *ThreadPool) Dispose() error {
	tp.mu.Lock()
	if tp.closed {
		tp.mu.Unlock()
		return nil
	}
	tp.closed = true
	writer := tp.writer
	cmd := tp.cmd
	tp.mu.Unlock()

	if writer != nil {
		_ = writer.WriteMessage(ipc.Shutdown{Type: ipc.TypeShutdown})
	}

	select {
	case <-tp.exited:
	case <-time.After(shutdownGrace):
		_ = cmd.Process.Kill()
		<-tp.exited
	}
	return nil
}
