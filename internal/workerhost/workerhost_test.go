package workerhost

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vsctoolbox/index/internal/ipc"
)

func TestRunHandlesSearchBatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello world\n"), 0o644))

	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- Run(ctx, "ctags", inR, outW) }()

	enc := json.NewEncoder(inW)
	require.NoError(t, enc.Encode(ipc.Init{Type: ipc.TypeInit, NumThreads: 2}))

	dec := json.NewDecoder(outR)
	var ack ipc.InitAck
	require.NoError(t, dec.Decode(&ack))
	require.Equal(t, 2, ack.NumThreads)

	require.NoError(t, enc.Encode(ipc.SearchBatchRequest{
		Type:      ipc.TypeSearchBatch,
		MessageID: 1,
		Inputs:    []ipc.SearchInput{{FilePath: path, Patterns: []string{"hello"}}},
	}))

	var resp ipc.SearchBatchResponse
	require.NoError(t, dec.Decode(&resp))
	require.Equal(t, uint32(1), resp.MessageID)
	require.Len(t, resp.Outputs, 1)
	require.Len(t, resp.Outputs[0].Matches, 1)

	require.NoError(t, enc.Encode(ipc.Shutdown{Type: ipc.TypeShutdown}))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("workerhost did not shut down")
	}
}

func TestSplitContiguous(t *testing.T) {
	ranges := splitContiguous(100, 8)
	total := 0
	for _, r := range ranges {
		total += r[1] - r[0]
	}
	require.Equal(t, 100, total)
	require.LessOrEqual(t, len(ranges), 8)
}

func TestSplitContiguousZeroItems(t *testing.T) {
	require.Empty(t, splitContiguous(0, 4))
}

func TestRunRejectsNonInitFirstMessage(t *testing.T) {
	in := strings.NewReader(`{"type":"searchBatch"}` + "\n")
	var out strings.Builder
	err := Run(context.Background(), "ctags", in, &out)
	require.Error(t, err)
}
