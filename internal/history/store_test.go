package history

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nugget/frontdesk/internal/session"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store, err := NewStore(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func TestRecordAndTranscript(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	entries := []session.Entry{
		session.NewEntry(session.RoleUser, "Do you have a room Friday?"),
		session.NewEntry(session.RoleAssistant, "We have a deluxe room available."),
		{Role: session.RoleSystem, Content: "[Conversation Summary]", Summary: true},
	}
	for _, e := range entries {
		if err := s.Record(ctx, "conv-1", e); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	s.Record(ctx, "conv-2", session.NewEntry(session.RoleUser, "other call"))

	got, err := s.Transcript(ctx, "conv-1")
	if err != nil {
		t.Fatalf("Transcript: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Transcript length = %d, want 3", len(got))
	}
	for i := range entries {
		if got[i].Role != entries[i].Role || got[i].Content != entries[i].Content || got[i].Summary != entries[i].Summary {
			t.Errorf("entry %d = %+v, want %+v", i, got[i], entries[i])
		}
	}
	if got[0].Timestamp.IsZero() {
		t.Error("timestamp not restored")
	}
}

func TestFinish(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	s.Record(ctx, "conv-1", session.NewEntry(session.RoleUser, "hello"))
	if err := s.Finish(ctx, "conv-1", "farewell"); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	c, err := s.Get(ctx, "conv-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if c.Reason != "farewell" || c.EndedAt.IsZero() || c.Messages != 1 {
		t.Errorf("conversation = %+v", c)
	}

	// A conversation that never recorded a message still gets a row.
	if err := s.Finish(ctx, "silent", "hangup"); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if c, err := s.Get(ctx, "silent"); err != nil || c.Reason != "hangup" {
		t.Errorf("Get(silent) = %+v, %v", c, err)
	}
}

func TestRecent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		e := session.Entry{Role: session.RoleUser, Content: "hi", Timestamp: base.Add(time.Duration(i) * time.Minute)}
		s.Record(ctx, id, e)
	}

	got, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 || got[0].ID != "c" || got[1].ID != "b" {
		t.Errorf("Recent = %+v, want c then b", got)
	}
	if !got[0].EndedAt.IsZero() {
		t.Error("running conversation should have no end time")
	}
}

func TestGetMissing(t *testing.T) {
	s := setupTestStore(t)
	if _, err := s.Get(context.Background(), "nope"); err == nil {
		t.Error("Get of unknown conversation should fail")
	}
}
