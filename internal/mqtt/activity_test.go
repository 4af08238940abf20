package mqtt

import (
	"sync"
	"testing"
	"time"

	"github.com/nugget/frontdesk/internal/events"
)

func ev(kind string, data map[string]any) events.Event {
	return events.Event{Timestamp: time.Now(), Kind: kind, Data: data}
}

func TestDailyActivity_Counts(t *testing.T) {
	d := NewDailyActivity(time.UTC)

	d.Observe(ev(events.KindSessionStart, nil))
	d.Observe(ev(events.KindSessionStart, nil))
	d.Observe(ev(events.KindTurn, map[string]any{"tokens_in": 120, "tokens_out": 30}))
	d.Observe(ev(events.KindTurn, map[string]any{"tokens_in": float64(10), "tokens_out": int64(5)}))
	d.Observe(ev(events.KindIdleClose, nil))
	d.Observe(ev(events.KindSessionEnd, nil))

	a := d.Snapshot()
	if a.Active != 1 {
		t.Errorf("Active = %d, want 1", a.Active)
	}
	if a.ConversationsDay != 2 {
		t.Errorf("ConversationsDay = %d, want 2", a.ConversationsDay)
	}
	if a.TokensDay != 165 {
		t.Errorf("TokensDay = %d, want 165", a.TokensDay)
	}
	if a.IdleClosesDay != 1 {
		t.Errorf("IdleClosesDay = %d, want 1", a.IdleClosesDay)
	}
	if a.LastEvent.IsZero() {
		t.Error("LastEvent not recorded")
	}
}

func TestDailyActivity_ActiveNeverNegative(t *testing.T) {
	d := NewDailyActivity(time.UTC)
	d.Observe(ev(events.KindSessionEnd, nil))

	if got := d.Snapshot().Active; got != 0 {
		t.Errorf("Active = %d, want 0", got)
	}
}

func TestDailyActivity_MidnightReset(t *testing.T) {
	d := NewDailyActivity(time.UTC)
	day := time.Date(2026, 3, 10, 23, 59, 0, 0, time.UTC)
	d.now = func() time.Time { return day }
	d.resetDay = day.YearDay()

	d.Observe(ev(events.KindSessionStart, nil))
	d.Observe(ev(events.KindTurn, map[string]any{"tokens_in": 50}))

	day = day.Add(2 * time.Minute)
	a := d.Snapshot()
	if a.ConversationsDay != 0 || a.TokensDay != 0 {
		t.Errorf("after midnight = %d conversations, %d tokens; want zeros", a.ConversationsDay, a.TokensDay)
	}
	if a.Active != 1 {
		t.Errorf("Active = %d after midnight, want 1 (not a daily counter)", a.Active)
	}
}

func TestDailyActivity_Concurrent(t *testing.T) {
	d := NewDailyActivity(nil)

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Observe(ev(events.KindTurn, map[string]any{"tokens_in": 1, "tokens_out": 1}))
			d.Snapshot()
		}()
	}
	wg.Wait()

	if got := d.Snapshot().TokensDay; got != 100 {
		t.Errorf("TokensDay = %d, want 100", got)
	}
}
