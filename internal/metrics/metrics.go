// Package metrics exposes conversation activity as Prometheus metrics.
// The collector subscribes to the event bus, so the turn controller
// never calls into it directly.
package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nugget/frontdesk/internal/buildinfo"
	"github.com/nugget/frontdesk/internal/events"
)

const namespace = "frontdesk"

// Collector turns bus events into metrics.
type Collector struct {
	registry *prometheus.Registry
	bus      *events.Bus
	logger   *slog.Logger

	conversationsActive prometheus.Gauge
	conversationsEnded  *prometheus.CounterVec
	conversationSeconds prometheus.Histogram

	turnsTotal   *prometheus.CounterVec
	turnSeconds  prometheus.Histogram
	tokensTotal  *prometheus.CounterVec
	toolCalls    *prometheus.CounterVec
	toolSeconds  *prometheus.HistogramVec
	utterances   prometheus.Counter
	gateEvents   *prometheus.CounterVec
	idleEvents   *prometheus.CounterVec
	compactions  *prometheus.CounterVec
	compactionMs prometheus.Histogram
}

// NewCollector registers every metric on a private registry.
func NewCollector(bus *events.Bus, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Collector{
		registry: prometheus.NewRegistry(),
		bus:      bus,
		logger:   logger,

		conversationsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "conversations_active",
			Help:      "Conversations currently running",
		}),
		conversationsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversations_ended_total",
			Help:      "Conversations ended, by reason",
		}, []string{"reason"}),
		conversationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "conversation_duration_seconds",
			Help:      "Conversation length in seconds",
			Buckets:   []float64{10, 30, 60, 120, 300, 600, 1200, 1800},
		}),
		turnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Language-model turns, by outcome",
		}, []string{"status"}),
		turnSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Time from user utterance to reply",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30},
		}),
		tokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_total",
			Help:      "Language-model tokens, by direction",
		}, []string{"direction"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool executions, by tool and outcome",
		}, []string{"tool", "status"}),
		toolSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_duration_seconds",
			Help:      "Tool execution time",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"tool"}),
		utterances: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_total",
			Help:      "Utterances handed to speech output",
		}),
		gateEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hold_gate_events_total",
			Help:      "Hold gate transitions and dropped transcriptions",
		}, []string{"kind"}),
		idleEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "idle_escalations_total",
			Help:      "Idle nudges and closes, by retry number",
		}, []string{"kind", "retry"}),
		compactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compactions_total",
			Help:      "Context window compactions, by outcome",
		}, []string{"status"}),
		compactionMs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "compaction_duration_seconds",
			Help:      "Summarization time for successful compactions",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30},
		}),
	}

	info := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "build_info",
		Help:      "Build metadata",
	}, []string{"version", "commit"})
	info.WithLabelValues(buildinfo.Version, buildinfo.GitCommit).Set(1)

	c.registry.MustRegister(
		c.conversationsActive, c.conversationsEnded, c.conversationSeconds,
		c.turnsTotal, c.turnSeconds, c.tokensTotal,
		c.toolCalls, c.toolSeconds, c.utterances,
		c.gateEvents, c.idleEvents, c.compactions, c.compactionMs,
		info,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry returns the registry backing Handler.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the metrics in Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Run consumes bus events until ctx is cancelled.
func (c *Collector) Run(ctx context.Context) error {
	ch := c.bus.Subscribe(256)
	defer c.bus.Unsubscribe(ch)

	c.logger.Debug("metrics collector started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			c.Observe(e)
		}
	}
}

// Observe applies one event.
func (c *Collector) Observe(e events.Event) {
	switch e.Kind {
	case events.KindSessionStart:
		c.conversationsActive.Inc()
	case events.KindSessionEnd:
		c.conversationsActive.Dec()
		c.conversationsEnded.WithLabelValues(str(e.Data["reason"])).Inc()
		c.conversationSeconds.Observe(seconds(e.Data["elapsed_ms"]))
	case events.KindTurn:
		c.turnsTotal.WithLabelValues(status(e.Data["ok"])).Inc()
		c.turnSeconds.Observe(seconds(e.Data["elapsed_ms"]))
		c.tokensTotal.WithLabelValues("input").Add(number(e.Data["tokens_in"]))
		c.tokensTotal.WithLabelValues("output").Add(number(e.Data["tokens_out"]))
	case events.KindToolDone:
		tool := str(e.Data["tool"])
		c.toolCalls.WithLabelValues(tool, status(e.Data["ok"])).Inc()
		c.toolSeconds.WithLabelValues(tool).Observe(seconds(e.Data["duration_ms"]))
	case events.KindUtterance:
		c.utterances.Inc()
	case events.KindHold, events.KindWake, events.KindDropped:
		c.gateEvents.WithLabelValues(e.Kind).Inc()
	case events.KindNudge, events.KindIdleClose:
		c.idleEvents.WithLabelValues(e.Kind, strconv.Itoa(int(number(e.Data["retry"])))).Inc()
	case events.KindCompaction:
		c.compactions.WithLabelValues("ok").Inc()
		c.compactionMs.Observe(seconds(e.Data["duration_ms"]))
	case events.KindCompactionFailed:
		c.compactions.WithLabelValues("failed").Inc()
	}
}

func str(v any) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return "unknown"
}

func status(v any) string {
	if ok, _ := v.(bool); ok {
		return "ok"
	}
	return "error"
}

func number(v any) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case float64:
		return n
	default:
		return 0
	}
}

func seconds(ms any) float64 {
	return number(ms) / 1000
}
