package threadpool

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNextMessageIDIncrementsAndNeverRepeats(t *testing.T) {
	tp := &ThreadPool{pending: map[uint32]chan json.RawMessage{}}
	seen := map[uint32]bool{}
	for i := 0; i < 100; i++ {
		id := tp.nextMessageID()
		require.False(t, seen[id])
		seen[id] = true
	}
}

func TestDeliverRoutesToRegisteredChannel(t *testing.T) {
	tp := &ThreadPool{pending: map[uint32]chan json.RawMessage{}}
	ch := tp.register(7)

	tp.deliver(7, json.RawMessage(`{"ok":true}`))

	select {
	case raw := <-ch:
		require.JSONEq(t, `{"ok":true}`, string(raw))
	default:
		t.Fatal("expected a delivered message")
	}
}

func TestDeliverUnknownIDIsIgnored(t *testing.T) {
	tp := &ThreadPool{pending: map[uint32]chan json.RawMessage{}}
	tp.deliver(42, json.RawMessage(`{}`)) // must not panic with no registered channel
}
