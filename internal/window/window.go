// Package window keeps a conversation's history within a fixed number
// of entries. When the history grows past the threshold, everything but
// the most recent entries is condensed into one summary entry by the
// language model. The pinned system entry lives outside the history and
// is never condensed.
package window

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nugget/frontdesk/internal/events"
	"github.com/nugget/frontdesk/internal/session"
)

// ErrSummarize wraps every summarization failure. It is never fatal: the
// history is left as it was and the next entry retries.
var ErrSummarize = errors.New("summarize history")

// Policy is the context window configuration. It is constant for the
// lifetime of a session.
type Policy struct {
	// Threshold is the history length above which compaction runs.
	Threshold int
	// KeepRecent is how many of the newest entries survive verbatim.
	KeepRecent int
	// Timeout bounds one summarization call. Zero means no bound beyond
	// the caller's context.
	Timeout time.Duration
}

// DefaultPolicy returns a 100 entry threshold keeping the last 20.
func DefaultPolicy() Policy {
	return Policy{Threshold: 100, KeepRecent: 20, Timeout: 30 * time.Second}
}

// Summarizer condenses entries into text. system is the pinned
// instruction entry, passed for context only.
type Summarizer interface {
	Summarize(ctx context.Context, system session.Entry, entries []session.Entry) (string, error)
}

// Controller appends entries to a session and compacts it when needed.
type Controller struct {
	sess       *session.Session
	summarizer Summarizer
	policy     Policy
	logger     *slog.Logger
	bus        *events.Bus
}

// New creates a controller for sess. bus may be nil.
func New(sess *session.Session, summarizer Summarizer, policy Policy, logger *slog.Logger, bus *events.Bus) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		sess:       sess,
		summarizer: summarizer,
		policy:     policy,
		logger:     logger,
		bus:        bus,
	}
}

// OnNewEntry appends e and, when the history is now longer than the
// threshold, replaces all but the newest KeepRecent entries with a
// summary. The summarization call is tracked by the session's execution
// guard so idle escalation stays quiet while it runs.
//
// It returns [session.ErrEnded] if the session is over, or an error
// wrapping [ErrSummarize] if compaction failed; in the latter case the
// entry was still appended and the history is otherwise unchanged.
func (c *Controller) OnNewEntry(ctx context.Context, e session.Entry) error {
	if _, err := c.sess.Append(e); err != nil {
		return err
	}
	return c.compact(ctx)
}

func (c *Controller) compact(ctx context.Context) error {
	span, ok := c.sess.BeginCompaction(c.policy.Threshold, c.policy.KeepRecent)
	if !ok {
		return nil
	}

	start := time.Now()
	summary, err := session.Tracked(c.sess, func() (string, error) {
		sctx := ctx
		if c.policy.Timeout > 0 {
			var cancel context.CancelFunc
			sctx, cancel = context.WithTimeout(ctx, c.policy.Timeout)
			defer cancel()
		}
		return c.summarizer.Summarize(sctx, c.sess.System(), span)
	})
	if err == nil && strings.TrimSpace(summary) == "" {
		err = errors.New("empty summary")
	}
	if err != nil {
		c.sess.AbortCompaction()
		c.logger.Warn("history compaction failed, keeping full history",
			"conversation", c.sess.ID(),
			"entries", len(span),
			"error", err,
		)
		c.bus.Emit(events.SourceWindow, events.KindCompactionFailed, map[string]any{
			"conversation_id": c.sess.ID(),
			"error":           err.Error(),
		})
		return fmt.Errorf("%w: %w", ErrSummarize, err)
	}

	entry := session.NewEntry(session.RoleSystem, formatSummary(span, summary))
	if err := c.sess.CompleteCompaction(len(span), entry); err != nil {
		// Ended while summarizing; the result is discarded.
		return err
	}

	elapsed := time.Since(start)
	c.logger.Info("history compacted",
		"conversation", c.sess.ID(),
		"compacted", len(span),
		"kept", c.sess.Len()-1,
		"elapsed", elapsed.Round(time.Millisecond),
	)
	c.bus.Emit(events.SourceWindow, events.KindCompaction, map[string]any{
		"conversation_id": c.sess.ID(),
		"compacted":       len(span),
		"kept":            c.sess.Len() - 1,
		"duration_ms":     elapsed.Milliseconds(),
	})
	return nil
}

// formatSummary wraps the model's summary with the span it covers. The
// compacted count is the number of span entries, so an earlier summary
// at the head of the span counts as one message.
func formatSummary(span []session.Entry, summary string) string {
	if len(span) == 0 {
		return summary
	}

	var sb strings.Builder
	sb.WriteString("[Conversation Summary]\n")
	fmt.Fprintf(&sb, "Period: %s to %s\n",
		span[0].Timestamp.Format("2006-01-02 15:04"),
		span[len(span)-1].Timestamp.Format("2006-01-02 15:04"))
	fmt.Fprintf(&sb, "Messages compacted: %d\n\n", len(span))
	sb.WriteString(strings.TrimSpace(summary))
	return sb.String()
}
