package mqtt

import (
	"sync"
	"time"

	"github.com/nugget/frontdesk/internal/events"
)

// Activity is a point-in-time view of conversation counters.
type Activity struct {
	Active           int
	ConversationsDay int64
	TokensDay        int64
	IdleClosesDay    int64
	LastEvent        time.Time
}

// DailyActivity accumulates bus events into counters that reset at
// local midnight. The active conversation count never resets. It is
// safe for concurrent use.
type DailyActivity struct {
	mu       sync.Mutex
	active   int
	convs    int64
	tokens   int64
	idle     int64
	last     time.Time
	resetDay int
	loc      *time.Location
	now      func() time.Time
}

// NewDailyActivity creates an accumulator using loc for midnight
// detection. If loc is nil, [time.Local] is used.
func NewDailyActivity(loc *time.Location) *DailyActivity {
	if loc == nil {
		loc = time.Local
	}
	d := &DailyActivity{loc: loc, now: time.Now}
	d.resetDay = d.now().In(loc).YearDay()
	return d
}

// Observe folds one event into the counters.
func (d *DailyActivity) Observe(e events.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.maybeReset()
	d.last = e.Timestamp
	switch e.Kind {
	case events.KindSessionStart:
		d.active++
		d.convs++
	case events.KindSessionEnd:
		if d.active > 0 {
			d.active--
		}
	case events.KindTurn:
		d.tokens += asInt64(e.Data["tokens_in"]) + asInt64(e.Data["tokens_out"])
	case events.KindIdleClose:
		d.idle++
	}
}

// Snapshot returns the current counters after checking for midnight
// rollover.
func (d *DailyActivity) Snapshot() Activity {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.maybeReset()
	return Activity{
		Active:           d.active,
		ConversationsDay: d.convs,
		TokensDay:        d.tokens,
		IdleClosesDay:    d.idle,
		LastEvent:        d.last,
	}
}

// maybeReset zeroes the daily counters when the local day changed.
// Must be called with d.mu held.
func (d *DailyActivity) maybeReset() {
	today := d.now().In(d.loc).YearDay()
	if today != d.resetDay {
		d.convs = 0
		d.tokens = 0
		d.idle = 0
		d.resetDay = today
	}
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	default:
		return 0
	}
}
