// Package idle nudges a silent caller and eventually hangs up. The
// escalator runs its own timer beside the turn loop; each timeout is
// judged atomically against the session so a hold or an in-flight tool
// call always suppresses the nudge.
package idle

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nugget/frontdesk/internal/session"
)

// Policy is the idle escalation configuration. It is constant for the
// lifetime of a session.
type Policy struct {
	// Timeout is the silence interval between checks.
	Timeout time.Duration
	// MaxRetries is the timeout count at which the call is closed.
	MaxRetries int

	GentleNudge string
	FirmNudge   string
	Closing     string
}

// DefaultPolicy returns a 10 second, three strike policy.
func DefaultPolicy() Policy {
	return Policy{
		Timeout:     10 * time.Second,
		MaxRetries:  3,
		GentleNudge: "Hey, just checking in. Are you still with me?",
		FirmNudge:   "I'm still here whenever you're ready. Would you like to continue, or do you need a little more time?",
		Closing:     "It looks like you might be busy right now. Feel free to call back anytime. Take care!",
	}
}

// Session is the slice of [session.Session] the escalator needs.
type Session interface {
	ObserveIdle(maxRetries int) (session.IdleStep, int)
	ResetIdle()
}

// Notifier delivers escalation output. Implementations speak the text
// and, for Close, end the conversation once it has been spoken.
type Notifier interface {
	Nudge(ctx context.Context, attempt int, text string)
	Close(ctx context.Context, text string)
}

// Escalator owns the idle timer for one session.
type Escalator struct {
	policy Policy
	sess   Session
	notify Notifier
	logger *slog.Logger

	reset    chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// New creates an escalator. Call [Escalator.Run] to start the timer.
func New(policy Policy, sess Session, notify Notifier, logger *slog.Logger) *Escalator {
	if logger == nil {
		logger = slog.Default()
	}
	if policy.MaxRetries < 1 {
		policy.MaxRetries = 1
	}
	return &Escalator{
		policy: policy,
		sess:   sess,
		notify: notify,
		logger: logger,
		reset:  make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Run drives the timer until the session closes for idleness, Stop is
// called, or ctx is cancelled.
func (e *Escalator) Run(ctx context.Context) {
	defer close(e.done)

	timer := time.NewTimer(e.policy.Timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stop:
			return
		case <-e.reset:
			timer.Reset(e.policy.Timeout)
		case <-timer.C:
			if e.Fire(ctx) {
				e.logger.Debug("idle escalation finished")
				return
			}
			timer.Reset(e.policy.Timeout)
		}
	}
}

// Reset records user activity: the retry count returns to zero and the
// timer restarts from a full interval. Safe to call from any goroutine.
func (e *Escalator) Reset() {
	e.sess.ResetIdle()
	select {
	case e.reset <- struct{}{}:
	default:
		// A reset is already pending.
	}
}

// Stop cancels the timer permanently. It does not wait; callers that
// need Run to have returned wait on [Escalator.Done].
func (e *Escalator) Stop() {
	e.stopOnce.Do(func() { close(e.stop) })
}

// Done is closed when Run returns.
func (e *Escalator) Done() <-chan struct{} {
	return e.done
}

// Fire handles one timeout and reports whether escalation is over.
func (e *Escalator) Fire(ctx context.Context) bool {
	step, attempt := e.sess.ObserveIdle(e.policy.MaxRetries)

	switch step {
	case session.IdleSuppressedHold:
		e.logger.Debug("user idle but on hold, skipping idle prompt")
		return false
	case session.IdleSuppressedExecuting:
		e.logger.Debug("user idle but operation in flight, skipping idle prompt")
		return false
	case session.IdleNudge:
		text := e.policy.FirmNudge
		if attempt == 1 {
			text = e.policy.GentleNudge
		}
		e.logger.Info("user idle, checking in",
			"retry", attempt,
			"max_retries", e.policy.MaxRetries,
		)
		e.notify.Nudge(ctx, attempt, text)
		return false
	case session.IdleClose:
		e.logger.Info("user idle, ending call",
			"retry", attempt,
			"max_retries", e.policy.MaxRetries,
		)
		e.notify.Close(ctx, e.policy.Closing)
		return true
	default:
		return true
	}
}
