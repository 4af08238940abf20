// Package holdgate suspends the assistant while the caller has asked it
// to wait. Held conversations drop transcribed speech until a wake
// phrase is heard; control signals always pass.
package holdgate

import (
	"log/slog"

	"github.com/nugget/frontdesk/internal/voice"
	"github.com/nugget/frontdesk/internal/wake"
)

// State is the live hold flag. [session.Session] satisfies it. The gate
// reads it on every call and never caches the value.
type State interface {
	Holding() bool
	SetHold(on bool) bool
}

// Verdict is the outcome of filtering one event.
type Verdict struct {
	// Pass is true when the event should continue downstream.
	Pass bool
	// Woke is true when this event ended hold mode.
	Woke bool
	// Phrase is the wake phrase that matched, when Woke is set.
	Phrase string
}

// Gate filters inbound events against the hold state.
type Gate struct {
	state   State
	matcher *wake.Matcher
	logger  *slog.Logger
}

// New creates a gate over state using the compiled wake phrases.
func New(state State, matcher *wake.Matcher, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{state: state, matcher: matcher, logger: logger}
}

// SetHold turns hold mode on or off and reports whether it changed.
func (g *Gate) SetHold(on bool) bool {
	changed := g.state.SetHold(on)
	switch {
	case changed && on:
		g.logger.Info("hold mode activated, waiting for wake phrase")
	case changed:
		g.logger.Info("hold mode deactivated, resuming conversation")
	default:
		g.logger.Debug("hold mode unchanged", "holding", g.state.Holding())
	}
	return changed
}

// Holding reports the live hold state.
func (g *Gate) Holding() bool {
	return g.state.Holding()
}

// Filter decides whether ev continues downstream. When not holding,
// everything passes. When holding, control events pass, transcriptions
// containing a wake phrase clear the hold and pass so the waking
// utterance is answered, and all other transcriptions are dropped.
func (g *Gate) Filter(ev voice.Event) Verdict {
	if !g.state.Holding() {
		return Verdict{Pass: true}
	}
	if !ev.IsText() {
		return Verdict{Pass: true}
	}

	phrase, ok := g.matcher.Match(ev.Text)
	if !ok {
		g.logger.Debug("dropping transcription while on hold", "text", ev.Text)
		return Verdict{}
	}

	g.logger.Info("wake phrase detected", "phrase", phrase, "text", ev.Text)
	g.SetHold(false)
	return Verdict{Pass: true, Woke: true, Phrase: phrase}
}
