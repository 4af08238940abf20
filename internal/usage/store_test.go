package usage

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nugget/frontdesk/internal/events"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	s, err := NewStore(db, nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func TestRecordAndSummary(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now()

	recs := []Record{
		{Timestamp: now, ConversationID: "c1", Model: "gpt-4o-mini", InputTokens: 1000, OutputTokens: 50, Iterations: 1, OK: true},
		{Timestamp: now, ConversationID: "c1", Model: "gpt-4o-mini", InputTokens: 1200, OutputTokens: 80, Iterations: 2, OK: true},
		{Timestamp: now, ConversationID: "c2", Model: "qwen3:4b", InputTokens: 300, OutputTokens: 0, Iterations: 1, OK: false},
	}
	for _, r := range recs {
		if err := s.Record(ctx, r); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	sum, err := s.Summary(ctx, now.Add(-time.Hour), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	want := Summary{Turns: 3, Conversations: 2, TotalInputTokens: 2500, TotalOutputTokens: 130, FailedTurns: 1}
	if sum != want {
		t.Errorf("Summary() = %+v, want %+v", sum, want)
	}

	byModel, err := s.SummaryByModel(ctx, now.Add(-time.Hour), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("SummaryByModel: %v", err)
	}
	if got := byModel["gpt-4o-mini"]; got.Turns != 2 || got.TotalInputTokens != 2200 || got.Conversations != 1 {
		t.Errorf("gpt-4o-mini = %+v", got)
	}
	if got := byModel["qwen3:4b"]; got.FailedTurns != 1 {
		t.Errorf("qwen3:4b = %+v", got)
	}
}

func TestSummaryFiltersByPeriod(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now()

	s.Record(ctx, Record{Timestamp: now.Add(-48 * time.Hour), ConversationID: "old", Model: "m", InputTokens: 999, OK: true})
	s.Record(ctx, Record{Timestamp: now, ConversationID: "new", Model: "m", InputTokens: 10, OK: true})

	sum, err := s.Summary(ctx, now.Add(-time.Hour), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.Turns != 1 || sum.TotalInputTokens != 10 {
		t.Errorf("Summary() = %+v, want only the recent record", sum)
	}

	empty, err := s.Summary(ctx, now.Add(time.Hour), now.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("Summary(empty): %v", err)
	}
	if empty != (Summary{}) {
		t.Errorf("empty period = %+v, want zero", empty)
	}
}

func TestFromEvent(t *testing.T) {
	rec, ok := FromEvent(events.Event{
		Timestamp: time.Now(),
		Kind:      events.KindTurn,
		Data: map[string]any{
			"conversation_id": "c9",
			"model":           "gpt-4o-mini",
			"iterations":      2,
			"tokens_in":       float64(640),
			"tokens_out":      int64(32),
			"ok":              true,
		},
	})
	if !ok {
		t.Fatal("FromEvent(turn) = false")
	}
	if rec.ConversationID != "c9" || rec.Model != "gpt-4o-mini" || rec.InputTokens != 640 || rec.OutputTokens != 32 || rec.Iterations != 2 || !rec.OK {
		t.Errorf("record = %+v", rec)
	}

	if _, ok := FromEvent(events.Event{Kind: events.KindHold}); ok {
		t.Error("FromEvent(hold) = true")
	}
}

func TestRunRecordsTurns(t *testing.T) {
	s := testStore(t)
	bus := events.New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx, bus)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for bus.SubscriberCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	bus.Emit(events.SourceGate, events.KindHold, map[string]any{"conversation_id": "c1"})
	bus.Emit(events.SourcePipeline, events.KindTurn, map[string]any{
		"conversation_id": "c1", "model": "m", "tokens_in": 5, "tokens_out": 7, "iterations": 1, "ok": true,
	})

	var sum Summary
	for time.Now().Before(deadline.Add(time.Second)) {
		sum, _ = s.Summary(context.Background(), time.Now().Add(-time.Minute), time.Now().Add(time.Minute))
		if sum.Turns == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if sum.Turns != 1 || sum.TotalOutputTokens != 7 {
		t.Errorf("Summary() = %+v, want one turn with 7 output tokens", sum)
	}
}
