package stream

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubPublishReachesSubscriber(t *testing.T) {
	h := NewHub()
	ch, unsub := h.Subscribe("turn-1")
	defer unsub()

	want := Packet{
		Placement: Placement{Turn: 2, Branch: 1, Depth: 0},
		Kind:      KindAgentStart,
		Text:      "look up release dates",
	}
	h.Publish("turn-1", want)

	select {
	case raw := <-ch:
		var got Packet
		require.NoError(t, json.Unmarshal(raw, &got))
		assert.Equal(t, want, got)
	case <-time.After(time.Second):
		t.Fatal("no packet delivered")
	}
}

func TestHubIsolatesTurns(t *testing.T) {
	h := NewHub()
	ch, unsub := h.Subscribe("turn-a")
	defer unsub()

	h.Publish("turn-b", Packet{Kind: KindSectionEnd})
	select {
	case <-ch:
		t.Fatal("packet crossed turns")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubSlowSubscriberNeverBlocks(t *testing.T) {
	h := NewHub()
	_, unsub := h.Subscribe("turn-1")
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			h.Publish("turn-1", Packet{Kind: KindReportDelta, Text: "x"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestEmitterBindsTurn(t *testing.T) {
	h := NewHub()
	ch, unsub := h.Subscribe("turn-1")
	defer unsub()

	h.Emitter("turn-1").Emit(Packet{Kind: KindBranching, BranchCount: 2})
	select {
	case raw := <-ch:
		var got Packet
		require.NoError(t, json.Unmarshal(raw, &got))
		assert.Equal(t, KindBranching, got.Kind)
		assert.Equal(t, 2, got.BranchCount)
	case <-time.After(time.Second):
		t.Fatal("no packet delivered")
	}
}
