// Package events provides a publish/subscribe event bus for operational
// observability. Events flow from the turn controller (pipeline, hold
// gate, idle escalator, context window) to subscribers (metrics
// collector, MQTT publisher, history log). The bus is nil-safe: calling
// Publish on a nil *Bus is a no-op, so components do not need guard
// checks.
package events

import (
	"sync"
	"time"
)

// Source constants identify which component published an event.
const (
	// SourcePipeline identifies events from the turn pipeline.
	SourcePipeline = "pipeline"
	// SourceGate identifies events from the hold gate.
	SourceGate = "gate"
	// SourceIdle identifies events from the idle escalator.
	SourceIdle = "idle"
	// SourceWindow identifies events from the context window controller.
	SourceWindow = "window"
)

// Kind constants describe the type of event within a source. Every
// event carries conversation_id in Data.
const (
	// KindSessionStart signals a new conversation.
	// Data: conversation_id.
	KindSessionStart = "session_start"
	// KindSessionEnd signals a conversation reached ended.
	// Data: conversation_id, reason, elapsed_ms.
	KindSessionEnd = "session_end"

	// KindTurn signals a completed language-model turn.
	// Data: conversation_id, model, iterations, tokens_in, tokens_out,
	// elapsed_ms, ok.
	KindTurn = "turn"
	// KindToolCall signals the start of a tool execution.
	// Data: conversation_id, tool.
	KindToolCall = "tool_call"
	// KindToolDone signals completion of a tool execution.
	// Data: conversation_id, tool, ok, duration_ms.
	KindToolDone = "tool_done"
	// KindUtterance signals text handed to the speech sink.
	// Data: conversation_id, role, text.
	KindUtterance = "utterance"

	// KindHold signals the conversation went on hold.
	// Data: conversation_id.
	KindHold = "hold"
	// KindWake signals a wake phrase ended hold.
	// Data: conversation_id, phrase.
	KindWake = "wake"
	// KindDropped signals a transcription discarded while on hold.
	// Data: conversation_id.
	KindDropped = "dropped"

	// KindNudge signals an idle check-in.
	// Data: conversation_id, retry.
	KindNudge = "nudge"
	// KindIdleClose signals the call was closed for silence.
	// Data: conversation_id, retry.
	KindIdleClose = "idle_close"

	// KindCompaction signals older history was replaced by a summary.
	// Data: conversation_id, compacted, kept, duration_ms.
	KindCompaction = "compaction"
	// KindCompactionFailed signals summarization failed and history was
	// left unchanged.
	// Data: conversation_id, error.
	KindCompactionFailed = "compaction_failed"
)

// Event represents a single operational event published by a component.
type Event struct {
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"ts"`
	// Source identifies the component that published the event.
	Source string `json:"source"`
	// Kind describes the type of event within the source.
	Kind string `json:"kind"`
	// Data holds event-specific key/value pairs.
	Data map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast event bus. Subscribers receive events
// on buffered channels; slow subscribers miss events rather than
// blocking publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	// recvToSend maps the receive-only channel returned by Subscribe
	// back to the bidirectional channel stored in subs. This allows
	// Unsubscribe to accept <-chan Event (the caller's view) without
	// an illegal type conversion.
	recvToSend map[<-chan Event]chan Event
}

// New creates a new event bus ready for use.
func New() *Bus {
	return &Bus{
		subs:       make(map[chan Event]struct{}),
		recvToSend: make(map[<-chan Event]chan Event),
	}
}

// Publish sends an event to all subscribers. Non-blocking: if a
// subscriber's channel is full, the event is dropped for that
// subscriber. Safe to call on a nil receiver (no-op).
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// Subscriber is full — drop the event rather than block.
		}
	}
}

// Subscribe returns a channel that receives published events. The
// caller must eventually call Unsubscribe to avoid resource leaks.
// bufSize controls the channel buffer; 64 is a reasonable default for
// WebSocket consumers.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes the channel. Safe to
// call with a channel that is already unsubscribed (no-op).
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}

// Emit publishes an event stamped with the current time. Safe to call
// on a nil receiver.
func (b *Bus) Emit(source, kind string, data map[string]any) {
	if b == nil {
		return
	}
	b.Publish(Event{
		Timestamp: time.Now(),
		Source:    source,
		Kind:      kind,
		Data:      data,
	})
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
