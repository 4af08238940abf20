// Package session holds the per-conversation state shared by the turn
// controller: mode, idle retry count, in-flight operation count, and
// the conversation history. Every field sits behind one mutex, so the
// hold gate, the idle escalator, and the context window controller all
// observe and mutate the same live values and never keep copies.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrEnded is returned by operations attempted after the session
// reached [ModeEnded].
var ErrEnded = errors.New("session ended")

// Mode is the conversation lifecycle state. Transitions only move
// toward ModeEnded: Active and OnHold alternate, either may move to
// Ending, and Ending moves to Ended.
type Mode int

const (
	ModeActive Mode = iota
	ModeOnHold
	ModeEnding
	ModeEnded
)

func (m Mode) String() string {
	switch m {
	case ModeActive:
		return "active"
	case ModeOnHold:
		return "on_hold"
	case ModeEnding:
		return "ending"
	case ModeEnded:
		return "ended"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Role identifies who authored an [Entry].
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Entry is one immutable message in the conversation history.
type Entry struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`

	// Summary marks the condensed entry produced by context window
	// compaction.
	Summary bool `json:"summary,omitempty"`
}

// NewEntry returns an entry stamped with the current time.
func NewEntry(role Role, content string) Entry {
	return Entry{Role: role, Content: content, Timestamp: time.Now()}
}

// Session is the state of one conversation. The zero value is not
// usable; create sessions with [New].
type Session struct {
	id string

	mu         sync.Mutex
	mode       Mode
	idleRetry  int
	executing  int
	system     Entry
	history    []Entry
	compacting bool
	ended      chan struct{}
}

// New creates an active session whose history holds only the pinned
// system entry.
func New(id string, systemPrompt string) *Session {
	return &Session{
		id:     id,
		mode:   ModeActive,
		system: NewEntry(RoleSystem, systemPrompt),
		ended:  make(chan struct{}),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Mode returns the current lifecycle mode.
func (s *Session) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Holding reports whether the session is on hold.
func (s *Session) Holding() bool {
	return s.Mode() == ModeOnHold
}

// SetHold moves the session between active and on-hold. It reports
// whether the mode changed; setting the current value again, or any
// change once the session is ending, is a no-op.
func (s *Session) SetHold(on bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case on && s.mode == ModeActive:
		s.mode = ModeOnHold
		return true
	case !on && s.mode == ModeOnHold:
		s.mode = ModeActive
		return true
	default:
		return false
	}
}

// BeginEnding moves an active or held session to ModeEnding. It
// reports false if the session was already ending or ended, so exactly
// one caller wins the right to say goodbye.
func (s *Session) BeginEnding() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.beginEndingLocked()
}

func (s *Session) beginEndingLocked() bool {
	if s.mode == ModeEnding || s.mode == ModeEnded {
		return false
	}
	s.mode = ModeEnding
	return true
}

// Finish marks the session ended. It is idempotent and reports whether
// this call performed the transition. After Finish, appends are
// discarded and [Session.Ended] is closed.
func (s *Session) Finish() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode == ModeEnded {
		return false
	}
	s.mode = ModeEnded
	close(s.ended)
	return true
}

// Ended returns a channel that is closed when the session reaches
// ModeEnded.
func (s *Session) Ended() <-chan struct{} {
	return s.ended
}

// IsEnded reports whether the session reached ModeEnded.
func (s *Session) IsEnded() bool {
	return s.Mode() == ModeEnded
}

// System returns the pinned system entry.
func (s *Session) System() Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.system
}

// Append adds an entry to the end of the history and returns the new
// history length. Entries arriving after the session ended are
// discarded with [ErrEnded].
func (s *Session) Append(e Entry) (int, error) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode == ModeEnded {
		return len(s.history), ErrEnded
	}
	s.history = append(s.history, e)
	return len(s.history), nil
}

// Len returns the number of history entries, excluding the pinned
// system entry.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history)
}

// History returns a copy of the history, excluding the pinned system
// entry.
func (s *Session) History() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.history...)
}

// Messages returns the context sent to the language model: the pinned
// system entry followed by the history.
func (s *Session) Messages() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.history)+1)
	out = append(out, s.system)
	return append(out, s.history...)
}

// Summary returns the condensed entry at the head of the history, if
// compaction has run.
func (s *Session) Summary() (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.history) > 0 && s.history[0].Summary {
		return s.history[0], true
	}
	return Entry{}, false
}

// BeginCompaction claims the older part of the history for
// summarization: every entry except the most recent keep. It returns
// ok=false when the history is not longer than threshold, when another
// compaction is in flight, or when the session has ended. A successful
// claim must be settled with [Session.CompleteCompaction] or
// [Session.AbortCompaction].
func (s *Session) BeginCompaction(threshold, keep int) (span []Entry, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.compacting || s.mode == ModeEnded || len(s.history) <= threshold {
		return nil, false
	}
	n := len(s.history) - keep
	if n <= 0 {
		return nil, false
	}
	s.compacting = true
	return append([]Entry(nil), s.history[:n]...), true
}

// CompleteCompaction replaces the first n history entries, the span
// returned by BeginCompaction, with summary. Entries appended while the
// summary was being produced are kept after the recent ones.
func (s *Session) CompleteCompaction(n int, summary Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.compacting {
		panic("session: CompleteCompaction without BeginCompaction")
	}
	s.compacting = false
	if s.mode == ModeEnded {
		return ErrEnded
	}
	if n > len(s.history) {
		return fmt.Errorf("compaction span %d exceeds history length %d", n, len(s.history))
	}

	summary.Summary = true
	if summary.Timestamp.IsZero() {
		summary.Timestamp = time.Now()
	}
	rest := s.history[n:]
	next := make([]Entry, 0, len(rest)+1)
	next = append(next, summary)
	s.history = append(next, rest...)
	return nil
}

// AbortCompaction releases a compaction claim without touching the
// history.
func (s *Session) AbortCompaction() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.compacting = false
}

// IdleRetries returns the current idle retry count.
func (s *Session) IdleRetries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idleRetry
}

// ResetIdle clears the idle retry count after a real user turn.
func (s *Session) ResetIdle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idleRetry = 0
}

// IdleStep is the outcome of one idle timeout.
type IdleStep int

const (
	// IdleSuppressedHold means the session is on hold; nothing changed.
	IdleSuppressedHold IdleStep = iota
	// IdleSuppressedExecuting means a tracked operation is in flight;
	// nothing changed.
	IdleSuppressedExecuting
	// IdleNudge means the retry count was incremented below the limit.
	IdleNudge
	// IdleClose means the retry limit was reached and the session moved
	// to ModeEnding.
	IdleClose
	// IdleStopped means the session is already ending or ended.
	IdleStopped
)

func (s IdleStep) String() string {
	switch s {
	case IdleSuppressedHold:
		return "suppressed_hold"
	case IdleSuppressedExecuting:
		return "suppressed_executing"
	case IdleNudge:
		return "nudge"
	case IdleClose:
		return "close"
	case IdleStopped:
		return "stopped"
	default:
		return fmt.Sprintf("idle_step(%d)", int(s))
	}
}

// ObserveIdle evaluates one idle timeout against the live hold state,
// in-flight count, and retry count under a single lock, so a hold or
// tool call starting concurrently cannot slip between the checks. It
// returns the step taken and the retry count after it.
func (s *Session) ObserveIdle(maxRetries int) (IdleStep, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.mode == ModeOnHold:
		return IdleSuppressedHold, s.idleRetry
	case s.mode != ModeActive:
		return IdleStopped, s.idleRetry
	case s.executing > 0:
		return IdleSuppressedExecuting, s.idleRetry
	}

	s.idleRetry++
	if s.idleRetry >= maxRetries {
		s.beginEndingLocked()
		return IdleClose, s.idleRetry
	}
	return IdleNudge, s.idleRetry
}
