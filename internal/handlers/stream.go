package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/memohai/relay/internal/auth"
	"github.com/memohai/relay/internal/message/event"
	"github.com/memohai/relay/internal/network"
)

const (
	streamWriteWait      = 10 * time.Second
	streamPongWait       = 60 * time.Second
	streamPingPeriod     = (streamPongWait * 9) / 10
	streamMaxMessageSize = 4096
)

// SessionHub attaches websocket sessions to the event fan-out.
type SessionHub interface {
	Subscribe(user string) (string, <-chan event.Event, func())
}

type initFrame struct {
	Type     string            `json:"type"`
	Networks []network.Summary `json:"networks"`
}

// StreamHandler upgrades attached clients to a websocket and forwards every
// event routed for their user.
type StreamHandler struct {
	hub       SessionHub
	directory NetworkDirectory
	upgrader  websocket.Upgrader
	logger    *slog.Logger
}

func NewStreamHandler(log *slog.Logger, hub SessionHub, directory NetworkDirectory, allowedOrigins []string) *StreamHandler {
	if log == nil {
		log = slog.Default()
	}
	h := &StreamHandler{
		hub:       hub,
		directory: directory,
		logger:    log.With(slog.String("handler", "stream")),
	}
	policy := newOriginPolicy(allowedOrigins)
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if policy.check(r) {
				return true
			}
			h.logger.Warn("blocked stream from disallowed origin", slog.String("origin", r.Header.Get("Origin")))
			return false
		},
	}
	return h
}

func (h *StreamHandler) Register(e *echo.Echo) {
	e.GET("/stream", h.Stream)
}

// Stream sends an init frame with the user's networks, then one JSON frame
// per hub event until either side goes away.
func (h *StreamHandler) Stream(c echo.Context) error {
	userID, err := auth.UserIDFromContext(c)
	if err != nil {
		return err
	}
	if h.hub == nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "session hub not configured")
	}

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader has already answered the request.
		h.logger.Warn("websocket upgrade failed", slog.String("user", userID), slog.Any("error", err))
		return nil
	}

	sessionID, events, cancel := h.hub.Subscribe(userID)
	defer cancel()

	s := &streamSession{
		conn:   conn,
		events: events,
		logger: h.logger.With(slog.String("user", userID), slog.String("session_id", sessionID)),
	}
	done := make(chan struct{})
	go s.readPump(done)
	s.writePump(done, h.snapshot(userID))
	<-done
	return nil
}

func (h *StreamHandler) snapshot(userID string) initFrame {
	frame := initFrame{Type: "init", Networks: []network.Summary{}}
	if h.directory == nil {
		return frame
	}
	for _, n := range h.directory.Networks(userID) {
		frame.Networks = append(frame.Networks, n.Summary())
	}
	return frame
}

type streamSession struct {
	conn   *websocket.Conn
	events <-chan event.Event
	logger *slog.Logger
}

// readPump only services control frames; clients do not send data.
func (s *streamSession) readPump(done chan<- struct{}) {
	defer close(done)
	s.conn.SetReadLimit(streamMaxMessageSize)
	if err := s.conn.SetReadDeadline(time.Now().Add(streamPongWait)); err != nil {
		s.logger.Debug("set read deadline failed", slog.Any("error", err))
		return
	}
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("stream read failed", slog.Any("error", err))
			}
			return
		}
	}
}

func (s *streamSession) writePump(done <-chan struct{}, init initFrame) {
	ticker := time.NewTicker(streamPingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	if !s.writeJSON(init) {
		return
	}
	for {
		select {
		case <-done:
			return
		case ev, ok := <-s.events:
			if !ok {
				// The hub dropped this session because it fell behind.
				_ = s.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
				_ = s.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "session too slow"))
				return
			}
			if !s.writeJSON(ev) {
				return
			}
		case <-ticker.C:
			if err := s.conn.SetWriteDeadline(time.Now().Add(streamWriteWait)); err != nil {
				return
			}
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Debug("stream ping failed", slog.Any("error", err))
				return
			}
		}
	}
}

func (s *streamSession) writeJSON(v any) bool {
	payload, err := json.Marshal(v)
	if err != nil {
		s.logger.Warn("encode stream frame failed", slog.Any("error", err))
		return true
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(streamWriteWait)); err != nil {
		return false
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		s.logger.Debug("stream write failed", slog.Any("error", err))
		return false
	}
	return true
}
