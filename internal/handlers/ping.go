package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/memohai/relay/internal/version"
)

// SessionCounter reports how many websocket sessions are attached.
type SessionCounter interface {
	Total() int
}

type pingResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Commit        string `json:"commit"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Sessions      int    `json:"sessions"`
}

// PingHandler answers unauthenticated liveness probes.
type PingHandler struct {
	sessions SessionCounter
	started  time.Time
	logger   *slog.Logger
}

// NewPingHandler creates a PingHandler. sessions may be nil.
func NewPingHandler(log *slog.Logger, sessions SessionCounter) *PingHandler {
	if log == nil {
		log = slog.Default()
	}
	return &PingHandler{
		sessions: sessions,
		started:  time.Now(),
		logger:   log.With(slog.String("handler", "ping")),
	}
}

func (h *PingHandler) Register(e *echo.Echo) {
	e.GET("/ping", h.Ping)
	e.HEAD("/health", h.PingHead)
}

// Ping reports build info, uptime and the attached session count.
func (h *PingHandler) Ping(c echo.Context) error {
	resp := pingResponse{
		Status:        "ok",
		Version:       version.Version,
		Commit:        version.Commit,
		UptimeSeconds: int64(time.Since(h.started) / time.Second),
	}
	if h.sessions != nil {
		resp.Sessions = h.sessions.Total()
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *PingHandler) PingHead(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}
