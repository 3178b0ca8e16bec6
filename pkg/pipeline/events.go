package pipeline

import (
	"sync"
	"time"
)

// Progress event types emitted while agents run.
const (
	EventStageStarted     = "stage_started"
	EventStageCompleted   = "stage_completed"
	EventAgentStarted     = "agent_started"
	EventAgentIteration   = "agent_iteration"
	EventToolUsed         = "tool_used"
	EventAgentReflected   = "agent_reflected"
	EventSubAgentsSpawned = "subagents_spawned"
	EventAgentCompleted   = "agent_completed"
	EventAgentError       = "agent_error"
)

// Event is one structured progress notification for live UIs.
type Event struct {
	Type      string         `json:"type"`
	Stage     string         `json:"stage,omitempty"`
	ExpertID  string         `json:"expertId,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Emitter receives progress events. Emit must not block the pipeline.
type Emitter interface {
	Emit(event Event)
}

// NopEmitter drops every event.
type NopEmitter struct{}

func (NopEmitter) Emit(Event) {}

// Broadcaster fans events out to any number of subscribers. Slow
// subscribers lose events rather than stalling agents.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[chan Event]struct{})}
}

// Subscribe registers a listener. The returned cancel func must be called
// when the listener goes away.
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 64)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

func (b *Broadcaster) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// SubscriberCount reports active listeners.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// emit is a nil-safe helper used throughout the stages.
func emit(e Emitter, eventType, stage, expertID string, detail map[string]any) {
	if e == nil {
		return
	}
	e.Emit(Event{
		Type:      eventType,
		Stage:     stage,
		ExpertID:  expertID,
		Detail:    detail,
		Timestamp: time.Now(),
	})
}
