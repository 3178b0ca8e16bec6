package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcasterDeliversToSubscribers(t *testing.T) {
	b := NewBroadcaster()
	ch, cancel := b.Subscribe()
	defer cancel()

	b.Emit(Event{Type: EventStageStarted, Stage: "research"})

	select {
	case e := <-ch:
		assert.Equal(t, EventStageStarted, e.Type)
		assert.Equal(t, "research", e.Stage)
	case <-time.After(time.Second):
		t.Fatal("event never arrived")
	}
}

func TestBroadcasterDropsWhenSubscriberIsFull(t *testing.T) {
	b := NewBroadcaster()
	_, cancel := b.Subscribe()
	defer cancel()

	// Nobody drains the channel; emits beyond the buffer must not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			b.Emit(Event{Type: EventAgentIteration})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked on a slow subscriber")
	}
}

func TestBroadcasterCancelIsIdempotent(t *testing.T) {
	b := NewBroadcaster()
	_, cancel := b.Subscribe()
	require.Equal(t, 1, b.SubscriberCount())

	cancel()
	cancel() // second cancel must not panic or double-close
	assert.Equal(t, 0, b.SubscriberCount())

	// Emitting with no subscribers is a no-op.
	b.Emit(Event{Type: EventStageCompleted})
}

func TestNopEmitter(t *testing.T) {
	var e NopEmitter
	e.Emit(Event{Type: EventToolUsed}) // must not panic
}
