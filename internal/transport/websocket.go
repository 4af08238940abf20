// Package transport carries conversations over WebSocket. Each socket
// is one conversation: the client sends voice events as JSON text
// frames and receives voice directives the same way. A dropped socket
// is treated as the caller hanging up.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nugget/frontdesk/internal/pipeline"
	"github.com/nugget/frontdesk/internal/session"
	"github.com/nugget/frontdesk/internal/voice"
)

const (
	maxFrameBytes = 64 << 10
	writeTimeout  = 10 * time.Second
	closeTimeout  = time.Second
)

// Starter begins a conversation that delivers to sink.
type Starter interface {
	Start(ctx context.Context, sink pipeline.Sink) (*pipeline.Conversation, error)
}

// Handler upgrades requests to WebSocket and runs one conversation per
// connection.
type Handler struct {
	starter  Starter
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewHandler returns a handler that starts conversations with s.
// Origins are not checked; the endpoint is meant for the telephony
// bridge on a private network.
func NewHandler(s Starter, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		starter: s,
		logger:  logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP blocks for the life of the conversation.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.logger.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxFrameBytes)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sink := &socketSink{conn: conn}
	conv, err := h.starter.Start(ctx, sink)
	if err != nil {
		h.logger.Error("start conversation", "remote", r.RemoteAddr, "error", err)
		closeSocket(conn, websocket.CloseInternalServerErr, "conversation unavailable")
		return
	}

	logger := h.logger.With("conversation", conv.ID(), "remote", r.RemoteAddr)
	logger.Info("websocket connected")

	go h.readLoop(conn, conv, logger)

	<-conv.Done()
	closeSocket(conn, websocket.CloseNormalClosure, conv.Reason())
	logger.Info("websocket closed", "reason", conv.Reason())
}

// readLoop feeds inbound frames to conv until the socket fails. A read
// error of any kind is reported to the conversation as a hangup.
func (h *Handler) readLoop(conn *websocket.Conn, conv *pipeline.Conversation, logger *slog.Logger) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			logger.Debug("websocket read ended", "error", err)
			err := conv.Submit(voice.ControlSignal(voice.ControlHangup))
			if err != nil && !errors.Is(err, session.ErrEnded) {
				conv.Stop()
			}
			return
		}

		var ev voice.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			logger.Warn("dropping undecodable frame", "error", err)
			continue
		}
		switch err := conv.Submit(ev); {
		case err == nil, errors.Is(err, pipeline.ErrMalformedEvent):
		default:
			return
		}
	}
}

// socketSink writes directives as JSON text frames.
type socketSink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *socketSink) Deliver(_ context.Context, d voice.Directive) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return s.conn.WriteJSON(d)
}

func closeSocket(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeTimeout))
}
