package transport

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nugget/frontdesk/internal/config"
	"github.com/nugget/frontdesk/internal/events"
	"github.com/nugget/frontdesk/internal/idle"
	"github.com/nugget/frontdesk/internal/llm"
	"github.com/nugget/frontdesk/internal/pipeline"
	"github.com/nugget/frontdesk/internal/voice"
)

const waitFor = 2 * time.Second

// deskLLM answers by the last user message.
type deskLLM struct{}

func (deskLLM) Chat(_ context.Context, _ string, msgs []llm.Message, _ []map[string]any) (*llm.ChatResponse, error) {
	var last llm.Message
	for _, m := range msgs {
		if m.Role == "user" || m.Role == "tool" {
			last = m
		}
	}
	switch {
	case last.Role == "tool":
		return &llm.ChatResponse{Message: llm.Message{Role: "assistant", Content: "unexpected follow-up"}}, nil
	case last.Content == "that's all":
		return &llm.ChatResponse{Message: llm.Message{
			Role:      "assistant",
			ToolCalls: []llm.ToolCall{{Function: llm.FunctionCall{Name: pipeline.ToolEndCall, Arguments: map[string]any{}}}},
		}}, nil
	default:
		return &llm.ChatResponse{Message: llm.Message{Role: "assistant", Content: "You said: " + last.Content}}, nil
	}
}

func (deskLLM) Ping(context.Context) error { return nil }

func startServer(t *testing.T) (*httptest.Server, <-chan events.Event) {
	t.Helper()
	bus := events.New()
	sub := bus.Subscribe(64)
	t.Cleanup(func() { bus.Unsubscribe(sub) })

	p := pipeline.New(pipeline.Config{
		Model:              "test-model",
		SystemPrompt:       "You are the front desk concierge.",
		WakePhrases:        config.DefaultWakePhrases(),
		HoldAcknowledgment: "Sure, I'll wait.",
		Farewell:           "Goodbye!",
		Apology:            "Sorry?",
		Idle:               idle.Policy{Timeout: time.Hour, MaxRetries: 3},
	}, pipeline.Deps{LLM: deskLLM{}, Bus: bus})

	srv := httptest.NewServer(NewHandler(p, nil))
	t.Cleanup(srv.Close)
	return srv, sub
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readDirective(t *testing.T, conn *websocket.Conn) voice.Directive {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(waitFor))
	var d voice.Directive
	if err := conn.ReadJSON(&d); err != nil {
		t.Fatalf("read directive: %v", err)
	}
	return d
}

func waitEnd(t *testing.T, sub <-chan events.Event) events.Event {
	t.Helper()
	deadline := time.After(waitFor)
	for {
		select {
		case e := <-sub:
			if e.Kind == events.KindSessionEnd {
				return e
			}
		case <-deadline:
			t.Fatal("timed out waiting for session_end")
			return events.Event{}
		}
	}
}

func TestTranscriptionRoundTrip(t *testing.T) {
	srv, _ := startServer(t)
	conn := dial(t, srv)

	if err := conn.WriteJSON(voice.Transcription("a room for two")); err != nil {
		t.Fatalf("write: %v", err)
	}
	d := readDirective(t, conn)
	if d.Kind != voice.DirectiveSpeak || d.Text != "You said: a room for two" {
		t.Fatalf("directive = %+v", d)
	}
}

func TestUndecodableFrameIsSkipped(t *testing.T) {
	srv, _ := startServer(t)
	conn := dial(t, srv)

	conn.WriteMessage(websocket.TextMessage, []byte("{not json"))
	conn.WriteJSON(voice.Event{Kind: voice.KindTranscription})
	conn.WriteJSON(voice.Transcription("still there?"))

	d := readDirective(t, conn)
	if d.Text != "You said: still there?" {
		t.Fatalf("directive = %+v, want reply to the valid frame", d)
	}
}

func TestEndCallClosesSocket(t *testing.T) {
	srv, sub := startServer(t)
	conn := dial(t, srv)

	conn.WriteJSON(voice.Transcription("that's all"))

	if d := readDirective(t, conn); d.Kind != voice.DirectiveSpeak || d.Text != "Goodbye!" {
		t.Fatalf("first directive = %+v, want farewell", d)
	}
	if d := readDirective(t, conn); d.Kind != voice.DirectiveEnd {
		t.Fatalf("second directive = %+v, want end", d)
	}

	conn.SetReadDeadline(time.Now().Add(waitFor))
	_, _, err := conn.ReadMessage()
	var ce *websocket.CloseError
	if !errors.As(err, &ce) || ce.Code != websocket.CloseNormalClosure || ce.Text != pipeline.ReasonFarewell {
		t.Fatalf("read after end = %v, want normal close with reason farewell", err)
	}

	if e := waitEnd(t, sub); e.Data["reason"] != pipeline.ReasonFarewell {
		t.Errorf("session_end reason = %v", e.Data["reason"])
	}
}

func TestDisconnectIsHangup(t *testing.T) {
	srv, sub := startServer(t)
	conn := dial(t, srv)

	conn.WriteJSON(voice.Transcription("hello"))
	readDirective(t, conn)
	conn.Close()

	if e := waitEnd(t, sub); e.Data["reason"] != pipeline.ReasonHangup {
		t.Errorf("session_end reason = %v, want hangup", e.Data["reason"])
	}
}
