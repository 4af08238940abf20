// Package pipeline composes the turn controller for one conversation:
// inbound events pass the hold gate, reset the idle escalator, and drive
// a language-model turn whose tool calls and summarization run under
// the session's execution guard. One [Conversation] owns one
// [session.Session]; a single worker goroutine processes inbound events
// in arrival order.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/frontdesk/internal/config"
	"github.com/nugget/frontdesk/internal/events"
	"github.com/nugget/frontdesk/internal/holdgate"
	"github.com/nugget/frontdesk/internal/idle"
	"github.com/nugget/frontdesk/internal/llm"
	"github.com/nugget/frontdesk/internal/session"
	"github.com/nugget/frontdesk/internal/tools"
	"github.com/nugget/frontdesk/internal/voice"
	"github.com/nugget/frontdesk/internal/wake"
	"github.com/nugget/frontdesk/internal/window"
)

// ErrMalformedEvent is returned by [Conversation.Submit] for events
// missing required fields. The event is dropped; the conversation
// continues.
var ErrMalformedEvent = errors.New("malformed event")

// Sink receives outbound directives, normally a text-to-speech stage or
// a transport. Deliver returns once the directive has been flushed.
// Calls are serialized per conversation.
type Sink interface {
	Deliver(ctx context.Context, d voice.Directive) error
}

// SinkFunc adapts a function to [Sink].
type SinkFunc func(ctx context.Context, d voice.Directive) error

// Deliver calls f.
func (f SinkFunc) Deliver(ctx context.Context, d voice.Directive) error { return f(ctx, d) }

// Recorder persists conversation transcripts. Failures are logged and
// never interrupt the conversation.
type Recorder interface {
	Record(ctx context.Context, conversationID string, e session.Entry) error
	Finish(ctx context.Context, conversationID, reason string) error
}

// Config is the per-conversation policy. It is constant for the
// lifetime of every conversation started from the same [Pipeline].
type Config struct {
	Model        string
	SystemPrompt string
	WakePhrases  []string

	HoldAcknowledgment string
	Farewell           string
	Apology            string

	// MaxToolIterations bounds model round trips within one turn.
	MaxToolIterations int
	// Greet runs one generation on start so the agent speaks first.
	Greet bool

	Idle   idle.Policy
	Window window.Policy

	// InboxSize is the inbound event buffer. Submit blocks when full.
	InboxSize int
}

// ConfigFrom derives a pipeline Config from file configuration.
// systemPrompt is the fully rendered instruction text.
func ConfigFrom(cfg *config.Config, systemPrompt string) Config {
	conv := cfg.Conversation
	greet := conv.Greet == nil || *conv.Greet
	return Config{
		Model:              cfg.LLM.Model,
		SystemPrompt:       systemPrompt,
		WakePhrases:        conv.WakePhrases,
		HoldAcknowledgment: conv.HoldAcknowledgment,
		Farewell:           conv.Farewell,
		Apology:            conv.Apology,
		MaxToolIterations:  conv.MaxToolIterations,
		Greet:              greet,
		Idle: idle.Policy{
			Timeout:     time.Duration(conv.Idle.TimeoutSec * float64(time.Second)),
			MaxRetries:  conv.Idle.MaxRetries,
			GentleNudge: conv.Idle.GentleNudge,
			FirmNudge:   conv.Idle.FirmNudge,
			Closing:     conv.Idle.Closing,
		},
		Window: window.Policy{
			Threshold:  conv.Context.ThresholdEntries,
			KeepRecent: conv.Context.KeepRecentEntries,
			Timeout:    time.Duration(conv.Context.SummaryTimeoutSec) * time.Second,
		},
	}
}

// Deps are the collaborators shared by every conversation.
type Deps struct {
	LLM        llm.Client
	Summarizer window.Summarizer

	// Tools holds the domain tools. The control tools put_on_hold and
	// end_call are added per conversation.
	Tools *tools.Registry

	// Optional.
	Recorder Recorder
	Bus      *events.Bus
	Logger   *slog.Logger
}

// Pipeline starts conversations. It is safe for concurrent use; each
// conversation has its own session and worker.
type Pipeline struct {
	cfg     Config
	deps    Deps
	matcher *wake.Matcher
	logger  *slog.Logger
}

// New creates a pipeline. The wake phrase set is compiled once here and
// shared, read-only, by every conversation.
func New(cfg Config, deps Deps) *Pipeline {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Tools == nil {
		deps.Tools = tools.NewRegistry()
	}
	if cfg.MaxToolIterations <= 0 {
		cfg.MaxToolIterations = 5
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 32
	}
	if cfg.Idle.Timeout <= 0 {
		cfg.Idle = idle.DefaultPolicy()
	}
	if cfg.Window.Threshold <= 0 {
		cfg.Window = window.DefaultPolicy()
	}
	if deps.Summarizer == nil {
		if deps.LLM != nil {
			deps.Summarizer = window.NewLLMSummarizer(deps.LLM, cfg.Model)
		} else {
			deps.Summarizer = window.SimpleSummarizer{}
		}
	}
	return &Pipeline{
		cfg:     cfg,
		deps:    deps,
		matcher: wake.Compile(cfg.WakePhrases),
		logger:  deps.Logger,
	}
}

// Start creates a session and begins processing. Output is delivered to
// sink. The conversation runs until it ends on its own, [Conversation.Stop]
// is called, or ctx is cancelled.
func (p *Pipeline) Start(ctx context.Context, sink Sink) (*Conversation, error) {
	if p.deps.LLM == nil {
		return nil, fmt.Errorf("pipeline has no language model client")
	}
	if sink == nil {
		return nil, fmt.Errorf("pipeline requires a sink")
	}

	id := uuid.NewString()
	logger := p.logger.With("conversation", id)
	sess := session.New(id, p.cfg.SystemPrompt)

	runCtx, cancel := context.WithCancel(ctx)
	c := &Conversation{
		p:       p,
		id:      id,
		sess:    sess,
		sink:    sink,
		logger:  logger,
		bus:     p.deps.Bus,
		inbox:   make(chan voice.Event, p.cfg.InboxSize),
		ctx:     runCtx,
		cancel:  cancel,
		done:    make(chan struct{}),
		started: time.Now(),
	}
	c.gate = holdgate.New(sess, p.matcher, logger)
	c.escalator = idle.New(p.cfg.Idle, sess, idleNotifier{c}, logger)
	c.window = window.New(sess, p.deps.Summarizer, p.cfg.Window, logger, p.deps.Bus)
	c.tools = c.buildTools()

	logger.Info("conversation started",
		"idle_timeout", p.cfg.Idle.Timeout,
		"max_retries", p.cfg.Idle.MaxRetries,
		"tools", len(c.tools.Names()),
	)
	c.emit(events.SourcePipeline, events.KindSessionStart, nil)

	go c.escalator.Run(runCtx)
	go c.run()
	return c, nil
}
