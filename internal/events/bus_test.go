package events

import (
	"encoding/json"
	"sync"
	"testing"
	"time"
)

func recv(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case e, ok := <-ch:
		if !ok {
			t.Fatal("subscription closed")
		}
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestNilBus(t *testing.T) {
	var b *Bus
	b.Publish(Event{Source: SourcePipeline, Kind: KindSessionStart})
	b.Emit(SourceIdle, KindNudge, map[string]any{"retry": 1})
	if got := b.SubscriberCount(); got != 0 {
		t.Errorf("SubscriberCount() on nil bus = %d, want 0", got)
	}
}

func TestConversationLifecycleInOrder(t *testing.T) {
	b := New()
	ch := b.Subscribe(16)
	defer b.Unsubscribe(ch)

	const conv = "3f1c0b9e"
	steps := []struct {
		source string
		kind   string
		data   map[string]any
	}{
		{SourcePipeline, KindSessionStart, map[string]any{"conversation_id": conv}},
		{SourcePipeline, KindUtterance, map[string]any{"conversation_id": conv, "role": "assistant", "text": "Welcome to the Grand Vista."}},
		{SourceGate, KindHold, map[string]any{"conversation_id": conv}},
		{SourceGate, KindDropped, map[string]any{"conversation_id": conv}},
		{SourceGate, KindWake, map[string]any{"conversation_id": conv, "phrase": "i'm back"}},
		{SourceIdle, KindNudge, map[string]any{"conversation_id": conv, "retry": 1}},
		{SourceIdle, KindIdleClose, map[string]any{"conversation_id": conv, "retry": 3}},
		{SourcePipeline, KindSessionEnd, map[string]any{"conversation_id": conv, "reason": "idle", "elapsed_ms": int64(41250)}},
	}
	for _, s := range steps {
		b.Emit(s.source, s.kind, s.data)
	}

	for i, want := range steps {
		got := recv(t, ch)
		if got.Source != want.source || got.Kind != want.kind {
			t.Fatalf("event %d = %s/%s, want %s/%s", i, got.Source, got.Kind, want.source, want.kind)
		}
		if got.Data["conversation_id"] != conv {
			t.Errorf("%s: conversation_id = %v, want %q", got.Kind, got.Data["conversation_id"], conv)
		}
	}
}

func TestTurnPayload(t *testing.T) {
	b := New()
	ch := b.Subscribe(1)
	defer b.Unsubscribe(ch)

	b.Emit(SourcePipeline, KindTurn, map[string]any{
		"conversation_id": "c1",
		"model":           "gpt-4o-mini",
		"iterations":      2,
		"tokens_in":       812,
		"tokens_out":      37,
		"elapsed_ms":      int64(930),
		"ok":              true,
	})

	got := recv(t, ch)
	if got.Timestamp.IsZero() {
		t.Error("Emit must stamp the event time")
	}
	if got.Data["model"] != "gpt-4o-mini" || got.Data["tokens_in"] != 812 || got.Data["ok"] != true {
		t.Errorf("turn data = %v", got.Data)
	}
}

func TestEventJSON(t *testing.T) {
	ts := time.Date(2026, 3, 14, 21, 5, 0, 0, time.UTC)

	tests := []struct {
		name string
		in   Event
		want string
	}{
		{
			name: "wake with phrase",
			in:   Event{Timestamp: ts, Source: SourceGate, Kind: KindWake, Data: map[string]any{"phrase": "back"}},
			want: `{"ts":"2026-03-14T21:05:00Z","source":"gate","kind":"wake","data":{"phrase":"back"}}`,
		},
		{
			name: "dropped without data",
			in:   Event{Timestamp: ts, Source: SourceGate, Kind: KindDropped},
			want: `{"ts":"2026-03-14T21:05:00Z","source":"gate","kind":"dropped"}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := json.Marshal(tt.in)
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("Marshal() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestKindsAreDistinct(t *testing.T) {
	kinds := []string{
		KindSessionStart, KindSessionEnd, KindTurn, KindToolCall, KindToolDone,
		KindUtterance, KindHold, KindWake, KindDropped, KindNudge, KindIdleClose,
		KindCompaction, KindCompactionFailed,
	}
	seen := make(map[string]bool, len(kinds))
	for _, k := range kinds {
		if k == "" || seen[k] {
			t.Errorf("kind %q is empty or duplicated", k)
		}
		seen[k] = true
	}
}

func TestFullSubscriberDoesNotStarveOthers(t *testing.T) {
	b := New()
	slow := b.Subscribe(1)
	fast := b.Subscribe(8)
	defer b.Unsubscribe(slow)
	defer b.Unsubscribe(fast)

	b.Emit(SourceIdle, KindNudge, map[string]any{"retry": 1})
	b.Emit(SourceIdle, KindNudge, map[string]any{"retry": 2})
	b.Emit(SourceIdle, KindIdleClose, map[string]any{"retry": 3})

	for _, want := range []string{KindNudge, KindNudge, KindIdleClose} {
		if got := recv(t, fast); got.Kind != want {
			t.Errorf("fast subscriber got %q, want %q", got.Kind, want)
		}
	}

	if got := recv(t, slow); got.Data["retry"] != 1 {
		t.Errorf("slow subscriber kept retry %v, want the first event", got.Data["retry"])
	}
	select {
	case e := <-slow:
		t.Errorf("slow subscriber should have dropped later events, got %+v", e)
	default:
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	a := b.Subscribe(4)
	c := b.Subscribe(4)
	if got := b.SubscriberCount(); got != 2 {
		t.Fatalf("SubscriberCount() = %d, want 2", got)
	}

	b.Unsubscribe(a)
	b.Unsubscribe(a)
	if _, ok := <-a; ok {
		t.Error("Unsubscribe should close the channel")
	}
	if got := b.SubscriberCount(); got != 1 {
		t.Errorf("SubscriberCount() = %d after unsubscribe, want 1", got)
	}

	b.Emit(SourceWindow, KindCompaction, map[string]any{"compacted": 81, "kept": 20})
	if got := recv(t, c); got.Data["kept"] != 20 {
		t.Errorf("remaining subscriber got %+v", got)
	}
	b.Unsubscribe(c)
	b.Emit(SourceWindow, KindCompactionFailed, map[string]any{"error": "timeout"})
}

func TestConcurrentConversations(t *testing.T) {
	b := New()
	ch := b.Subscribe(1024)

	const conversations = 8
	var wg sync.WaitGroup
	for i := range conversations {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := string(rune('a' + i))
			b.Emit(SourcePipeline, KindSessionStart, map[string]any{"conversation_id": id})
			b.Emit(SourcePipeline, KindSessionEnd, map[string]any{"conversation_id": id, "reason": "hangup"})
		}()
	}
	wg.Wait()
	b.Unsubscribe(ch)

	open := make(map[any]int)
	for e := range ch {
		switch e.Kind {
		case KindSessionStart:
			open[e.Data["conversation_id"]]++
		case KindSessionEnd:
			open[e.Data["conversation_id"]]--
		}
	}
	if len(open) != conversations {
		t.Fatalf("saw %d conversations, want %d", len(open), conversations)
	}
	for id, n := range open {
		if n != 0 {
			t.Errorf("conversation %v: start/end imbalance %d", id, n)
		}
	}
}
