package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nugget/frontdesk/internal/events"
	"github.com/nugget/frontdesk/internal/holdgate"
	"github.com/nugget/frontdesk/internal/idle"
	"github.com/nugget/frontdesk/internal/llm"
	"github.com/nugget/frontdesk/internal/session"
	"github.com/nugget/frontdesk/internal/tools"
	"github.com/nugget/frontdesk/internal/voice"
	"github.com/nugget/frontdesk/internal/window"
)

// End reasons reported in session_end events and the history log.
const (
	ReasonFarewell = "farewell"
	ReasonIdle     = "idle"
	ReasonHangup   = "hangup"
	ReasonStopped  = "stopped"
)

// Conversation is one running session. All methods are safe for
// concurrent use.
type Conversation struct {
	p    *Pipeline
	id   string
	sess *session.Session

	gate      *holdgate.Gate
	escalator *idle.Escalator
	window    *window.Controller
	tools     *tools.Registry

	sink   Sink
	sinkMu sync.Mutex

	logger *slog.Logger
	bus    *events.Bus

	inbox   chan voice.Event
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	started time.Time

	reasonOnce sync.Once
	reason     string
}

// ID returns the conversation identifier.
func (c *Conversation) ID() string { return c.id }

// Session returns the live session state.
func (c *Conversation) Session() *session.Session { return c.sess }

// Done is closed once the conversation has ended and its worker and
// idle timer have exited.
func (c *Conversation) Done() <-chan struct{} { return c.done }

// Reason returns why the conversation ended, or "" while it runs.
func (c *Conversation) Reason() string {
	select {
	case <-c.done:
		return c.reason
	default:
		return ""
	}
}

// Submit queues an inbound event. Events are processed in the order
// they are submitted. Malformed events are dropped with an error
// wrapping [ErrMalformedEvent]; events after the session ended are
// refused with [session.ErrEnded].
func (c *Conversation) Submit(ev voice.Event) error {
	if err := ev.Validate(); err != nil {
		c.logger.Warn("dropping malformed event", "error", err)
		return fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	if c.sess.Mode() == session.ModeEnded {
		return session.ErrEnded
	}

	select {
	case c.inbox <- ev:
		return nil
	case <-c.sess.Ended():
		return session.ErrEnded
	case <-c.ctx.Done():
		return c.ctx.Err()
	}
}

// RequestHold puts the conversation on hold and speaks the fixed
// acknowledgment. It reports whether the mode changed; asking again
// while already holding does nothing.
func (c *Conversation) RequestHold(ctx context.Context) bool {
	if !c.gate.SetHold(true) {
		return false
	}
	c.emit(events.SourceGate, events.KindHold, nil)
	c.say(ctx, c.p.cfg.HoldAcknowledgment)
	return true
}

// RequestEnd speaks the fixed farewell and ends the conversation once
// it has been flushed. It reports false if the conversation was already
// ending.
func (c *Conversation) RequestEnd(ctx context.Context) bool {
	if !c.sess.BeginEnding() {
		return false
	}
	c.closeWith(ctx, c.p.cfg.Farewell, ReasonFarewell)
	return true
}

// Stop ends the conversation without a farewell and waits for the
// worker to exit. In-flight operations are allowed to finish; their
// results are discarded.
func (c *Conversation) Stop() {
	c.finish(ReasonStopped)
	<-c.done
}

// run is the single worker. It owns turn processing; the idle escalator
// and external RequestHold/RequestEnd callers only touch the session
// through its locked accessors.
func (c *Conversation) run() {
	defer c.shutdown()

	if c.p.cfg.Greet {
		c.turn(c.ctx)
		c.escalator.Reset()
	}

	for {
		select {
		case <-c.ctx.Done():
			c.finish(ReasonStopped)
			return
		case <-c.sess.Ended():
			return
		case ev := <-c.inbox:
			c.handle(c.ctx, ev)
		}
	}
}

// handle processes one inbound event: hold gate, idle reset, then the
// language-model turn.
func (c *Conversation) handle(ctx context.Context, ev voice.Event) {
	if c.sess.Mode() >= session.ModeEnding {
		return
	}

	verdict := c.gate.Filter(ev)
	if !verdict.Pass {
		c.emit(events.SourceGate, events.KindDropped, nil)
		return
	}
	if verdict.Woke {
		c.emit(events.SourceGate, events.KindWake, map[string]any{"phrase": verdict.Phrase})
	}

	if ev.Kind == voice.KindControl {
		switch ev.Control {
		case voice.ControlHangup:
			c.logger.Info("caller hung up")
			c.finish(ReasonHangup)
		default:
			c.escalator.Reset()
		}
		return
	}

	c.escalator.Reset()

	entry := session.Entry{Role: session.RoleUser, Content: strings.TrimSpace(ev.Text), Timestamp: ev.Timestamp}
	if !c.appendEntry(ctx, entry) {
		return
	}
	c.turn(ctx)

	// Silence is measured from the end of the reply.
	c.escalator.Reset()
}

// appendEntry adds e to the history through the context window
// controller and records it. It reports false when the session ended.
func (c *Conversation) appendEntry(ctx context.Context, e session.Entry) bool {
	err := c.window.OnNewEntry(ctx, e)
	switch {
	case errors.Is(err, session.ErrEnded):
		return false
	case err != nil:
		// Compaction failed; the entry is in and the next one retries.
		c.logger.Debug("history compaction deferred", "error", err)
	}
	c.record(ctx, e)
	return true
}

// turn runs one language-model turn over the current history, executing
// tool calls until the model answers in text, a control tool suppresses
// the follow-up, or the iteration limit is reached.
func (c *Conversation) turn(ctx context.Context) {
	start := time.Now()
	messages := toLLMMessages(c.sess.Messages())
	toolDefs := c.tools.List()

	var tokensIn, tokensOut int
	report := func(iterations int, ok bool) {
		c.emit(events.SourcePipeline, events.KindTurn, map[string]any{
			"model":      c.p.cfg.Model,
			"iterations": iterations,
			"tokens_in":  tokensIn,
			"tokens_out": tokensOut,
			"elapsed_ms": time.Since(start).Milliseconds(),
			"ok":         ok,
		})
	}

	for i := 1; i <= c.p.cfg.MaxToolIterations; i++ {
		resp, err := session.Tracked(c.sess, func() (*llm.ChatResponse, error) {
			return c.p.deps.LLM.Chat(ctx, c.p.cfg.Model, messages, toolDefs)
		})
		if c.sess.Mode() >= session.ModeEnding {
			return
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("language model call failed", "iteration", i, "error", err)
			c.say(ctx, c.p.cfg.Apology)
			report(i, false)
			return
		}
		tokensIn += resp.InputTokens
		tokensOut += resp.OutputTokens

		if len(resp.Message.ToolCalls) == 0 {
			text := strings.TrimSpace(resp.Message.Content)
			if text == "" {
				c.logger.Warn("language model returned an empty reply", "iteration", i)
				report(i, false)
				return
			}
			c.say(ctx, text)
			report(i, true)
			return
		}

		calls := withCallIDs(resp.Message.ToolCalls)
		messages = append(messages, llm.Message{
			Role:      "assistant",
			Content:   resp.Message.Content,
			ToolCalls: calls,
		})

		suppress := false
		for _, call := range calls {
			res := c.invoke(ctx, call)
			messages = append(messages, llm.Message{
				Role:       "tool",
				Content:    tools.Encode(res.Payload),
				ToolCallID: call.ID,
			})
			suppress = suppress || res.SuppressFollowup
		}
		if suppress || c.sess.Mode() >= session.ModeEnding {
			report(i, true)
			return
		}
	}

	c.logger.Warn("tool iteration limit reached", "max", c.p.cfg.MaxToolIterations)
	c.say(ctx, c.p.cfg.Apology)
	report(c.p.cfg.MaxToolIterations, false)
}

// invoke executes one tool call under the execution guard.
func (c *Conversation) invoke(ctx context.Context, call llm.ToolCall) tools.Result {
	name := call.Function.Name
	c.emit(events.SourcePipeline, events.KindToolCall, map[string]any{"tool": name})
	c.logger.Debug("tool call", "tool", name, "args", call.Function.Arguments)

	start := time.Now()
	res, err := session.Tracked(c.sess, func() (tools.Result, error) {
		return c.tools.Execute(ctx, name, call.Function.Arguments)
	})
	elapsed := time.Since(start)

	ok := err == nil
	if outcome, isOutcome := res.Payload.(tools.Outcome); isOutcome {
		ok = ok && outcome.Success
	}
	if err != nil {
		c.logger.Warn("tool failed", "tool", name, "elapsed", elapsed, "error", err)
	} else {
		c.logger.Debug("tool done", "tool", name, "elapsed", elapsed, "ok", ok)
	}
	c.emit(events.SourcePipeline, events.KindToolDone, map[string]any{
		"tool":        name,
		"ok":          ok,
		"duration_ms": elapsed.Milliseconds(),
	})
	return res
}

// say speaks text and appends it to the history. Speech is discarded
// once the conversation is ending, except for the closing utterance
// delivered by closeWith.
func (c *Conversation) say(ctx context.Context, text string) {
	if text == "" || c.sess.Mode() >= session.ModeEnding {
		return
	}
	c.speak(ctx, text)
	c.appendEntry(ctx, session.NewEntry(session.RoleAssistant, text))
}

// speak delivers a speak directive unconditionally.
func (c *Conversation) speak(ctx context.Context, text string) {
	c.emit(events.SourcePipeline, events.KindUtterance, map[string]any{"role": "assistant", "text": text})
	c.deliver(ctx, voice.Speak(text))
}

// deliver hands d to the sink under the execution guard. The sink
// returns once the directive is flushed, so the caller's silence is not
// counted while the agent is still speaking.
func (c *Conversation) deliver(ctx context.Context, d voice.Directive) {
	c.sinkMu.Lock()
	defer c.sinkMu.Unlock()
	err := c.sess.Track(func() error {
		return c.sink.Deliver(ctx, d)
	})
	if err != nil {
		c.logger.Warn("sink delivery failed", "kind", d.Kind, "error", err)
	}
}

// closeWith speaks a closing line, tells the sink the conversation is
// over, and ends the session. The caller must have moved the session to
// ending.
func (c *Conversation) closeWith(ctx context.Context, text, reason string) {
	if text != "" {
		c.speak(ctx, text)
		c.record(ctx, session.NewEntry(session.RoleAssistant, text))
	}
	c.deliver(ctx, voice.End())
	c.finish(reason)
}

// finish ends the session and stops the idle timer. The first caller's
// reason wins. It does not wait for the worker.
func (c *Conversation) finish(reason string) {
	c.reasonOnce.Do(func() { c.reason = reason })
	c.sess.BeginEnding()
	if c.sess.Finish() {
		c.logger.Info("conversation ended", "reason", c.reason, "elapsed", time.Since(c.started))
	}
	c.escalator.Stop()
}

// shutdown runs when the worker exits.
func (c *Conversation) shutdown() {
	c.finish(ReasonStopped)
	<-c.escalator.Done()
	c.cancel()

	if rec := c.p.deps.Recorder; rec != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := rec.Finish(ctx, c.id, c.reason); err != nil {
			c.logger.Warn("history finish failed", "error", err)
		}
		cancel()
	}
	c.emit(events.SourcePipeline, events.KindSessionEnd, map[string]any{
		"reason":     c.reason,
		"elapsed_ms": time.Since(c.started).Milliseconds(),
	})
	close(c.done)
}

func (c *Conversation) record(ctx context.Context, e session.Entry) {
	rec := c.p.deps.Recorder
	if rec == nil {
		return
	}
	if err := rec.Record(ctx, c.id, e); err != nil {
		c.logger.Warn("history record failed", "error", err)
	}
}

func (c *Conversation) emit(source, kind string, data map[string]any) {
	if c.bus == nil {
		return
	}
	if data == nil {
		data = make(map[string]any, 1)
	}
	data["conversation_id"] = c.id
	c.bus.Emit(source, kind, data)
}

// idleNotifier speaks escalation output for the escalator.
type idleNotifier struct {
	c *Conversation
}

func (n idleNotifier) Nudge(ctx context.Context, attempt int, text string) {
	n.c.emit(events.SourceIdle, events.KindNudge, map[string]any{"retry": attempt})
	n.c.say(ctx, text)
}

func (n idleNotifier) Close(ctx context.Context, text string) {
	n.c.emit(events.SourceIdle, events.KindIdleClose, map[string]any{"retry": n.c.sess.IdleRetries()})
	n.c.closeWith(ctx, text, ReasonIdle)
}

func toLLMMessages(entries []session.Entry) []llm.Message {
	out := make([]llm.Message, 0, len(entries))
	for _, e := range entries {
		if e.Role == session.RoleSystem && e.Content == "" {
			continue
		}
		out = append(out, llm.Message{Role: string(e.Role), Content: e.Content})
	}
	return out
}

// withCallIDs returns a copy of calls with every empty ID filled, so
// each tool response can be matched to its call.
func withCallIDs(calls []llm.ToolCall) []llm.ToolCall {
	out := make([]llm.ToolCall, len(calls))
	for i, call := range calls {
		if call.ID == "" {
			call.ID = fmt.Sprintf("call_%s_%d", call.Function.Name, i)
		}
		out[i] = call
	}
	return out
}
