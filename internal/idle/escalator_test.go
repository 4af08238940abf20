package idle

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/nugget/frontdesk/internal/session"
)

// recorder is a Notifier that records every escalation.
type recorder struct {
	mu     sync.Mutex
	nudges []string
	closes []string
	at     []time.Time
	closed chan struct{}
}

func newRecorder() *recorder {
	return &recorder{closed: make(chan struct{})}
}

func (r *recorder) Nudge(_ context.Context, _ int, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nudges = append(r.nudges, text)
	r.at = append(r.at, time.Now())
}

func (r *recorder) Close(_ context.Context, text string) {
	r.mu.Lock()
	r.closes = append(r.closes, text)
	r.at = append(r.at, time.Now())
	r.mu.Unlock()
	close(r.closed)
}

func (r *recorder) snapshot() (nudges, closes []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.nudges...), append([]string(nil), r.closes...)
}

func testPolicy(timeout time.Duration) Policy {
	p := DefaultPolicy()
	p.Timeout = timeout
	p.GentleNudge = "gentle"
	p.FirmNudge = "firm"
	p.Closing = "goodbye"
	return p
}

func TestFireSequence(t *testing.T) {
	s := session.New("c", "")
	rec := newRecorder()
	e := New(testPolicy(time.Hour), s, rec, slog.Default())
	ctx := context.Background()

	if e.Fire(ctx) {
		t.Fatal("first timeout should not finish escalation")
	}
	if e.Fire(ctx) {
		t.Fatal("second timeout should not finish escalation")
	}
	if !e.Fire(ctx) {
		t.Fatal("third timeout should finish escalation")
	}

	nudges, closes := rec.snapshot()
	if len(nudges) != 2 || nudges[0] != "gentle" || nudges[1] != "firm" {
		t.Errorf("nudges = %v, want [gentle firm]", nudges)
	}
	if len(closes) != 1 || closes[0] != "goodbye" {
		t.Errorf("closes = %v, want [goodbye]", closes)
	}
	if s.Mode() != session.ModeEnding {
		t.Errorf("Mode() = %v, want ending", s.Mode())
	}
	if !e.Fire(ctx) {
		t.Error("timeouts after close must stay terminal")
	}
	if nudges, _ := rec.snapshot(); len(nudges) != 2 {
		t.Errorf("nudge emitted after close: %v", nudges)
	}
}

func TestFireSuppressedWhileHolding(t *testing.T) {
	s := session.New("c", "")
	s.SetHold(true)
	rec := newRecorder()
	e := New(testPolicy(time.Hour), s, rec, slog.Default())

	for range 10 {
		if e.Fire(context.Background()) {
			t.Fatal("held session must never finish escalation")
		}
	}

	if nudges, closes := rec.snapshot(); len(nudges)+len(closes) != 0 {
		t.Errorf("escalated while holding: nudges=%v closes=%v", nudges, closes)
	}
	if s.IdleRetries() != 0 {
		t.Errorf("IdleRetries() = %d while holding, want 0", s.IdleRetries())
	}
}

func TestFireSuppressedWhileExecuting(t *testing.T) {
	s := session.New("c", "")
	rec := newRecorder()
	e := New(testPolicy(time.Hour), s, rec, slog.Default())

	inFlight := make(chan struct{})
	finish := make(chan struct{})
	go s.Track(func() error {
		close(inFlight)
		<-finish
		return nil
	})
	<-inFlight

	for range 5 {
		e.Fire(context.Background())
	}
	if nudges, closes := rec.snapshot(); len(nudges)+len(closes) != 0 {
		t.Fatalf("escalated during tracked operation: nudges=%v closes=%v", nudges, closes)
	}
	if s.IdleRetries() != 0 {
		t.Fatalf("IdleRetries() = %d during tracked operation, want 0", s.IdleRetries())
	}

	close(finish)
	deadline := time.Now().Add(time.Second)
	for s.Executing() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	e.Fire(context.Background())
	if nudges, _ := rec.snapshot(); len(nudges) != 1 || nudges[0] != "gentle" {
		t.Errorf("after guard released nudges = %v, want [gentle]", nudges)
	}
}

func TestResetClearsRetries(t *testing.T) {
	s := session.New("c", "")
	rec := newRecorder()
	e := New(testPolicy(time.Hour), s, rec, slog.Default())

	e.Fire(context.Background())
	e.Fire(context.Background())
	e.Reset()
	e.Fire(context.Background())

	nudges, closes := rec.snapshot()
	if len(closes) != 0 {
		t.Fatalf("closed despite reset: %v", closes)
	}
	if len(nudges) != 3 || nudges[2] != "gentle" {
		t.Errorf("nudges = %v, want third nudge to start gentle again", nudges)
	}
}

func TestMaxRetriesOne(t *testing.T) {
	s := session.New("c", "")
	rec := newRecorder()
	p := testPolicy(time.Hour)
	p.MaxRetries = 1
	e := New(p, s, rec, slog.Default())

	if !e.Fire(context.Background()) {
		t.Fatal("with max_retries=1 the first timeout closes")
	}
	if nudges, closes := rec.snapshot(); len(nudges) != 0 || len(closes) != 1 {
		t.Errorf("nudges=%v closes=%v, want no nudges and one close", nudges, closes)
	}
}

func TestRunEscalatesOnSchedule(t *testing.T) {
	t.Parallel()
	const timeout = 30 * time.Millisecond

	s := session.New("c", "")
	rec := newRecorder()
	e := New(testPolicy(timeout), s, rec, slog.Default())

	start := time.Now()
	go e.Run(context.Background())

	select {
	case <-rec.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for idle close")
	}
	<-e.Done()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.nudges) != 2 || len(rec.closes) != 1 {
		t.Fatalf("nudges=%v closes=%v", rec.nudges, rec.closes)
	}
	for i, at := range rec.at {
		earliest := time.Duration(i+1) * timeout
		if got := at.Sub(start); got < earliest {
			t.Errorf("escalation %d at %v, want no earlier than %v", i+1, got, earliest)
		}
	}
}

func TestRunResetPreventsNudges(t *testing.T) {
	t.Parallel()
	const timeout = 60 * time.Millisecond

	s := session.New("c", "")
	rec := newRecorder()
	e := New(testPolicy(timeout), s, rec, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	// User speaks well before every deadline.
	for range 6 {
		time.Sleep(timeout / 3)
		e.Reset()
	}
	e.Stop()
	<-e.Done()

	if nudges, closes := rec.snapshot(); len(nudges)+len(closes) != 0 {
		t.Errorf("escalated despite activity: nudges=%v closes=%v", nudges, closes)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	s := session.New("c", "")
	e := New(testPolicy(time.Hour), s, newRecorder(), slog.Default())
	go e.Run(context.Background())

	e.Stop()
	e.Stop()

	select {
	case <-e.Done():
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
}
