package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/memohai/relay/internal/auth"
	"github.com/memohai/relay/internal/network"
	"github.com/memohai/relay/internal/router"
)

const eventMaxBodyBytes int64 = 64 << 10 // 64 KiB

// NetworkDirectory looks up the networks served by this process.
type NetworkDirectory interface {
	Network(networkID string) (*network.Network, bool)
	Networks(user string) []*network.Network
}

// EventDispatcher queues decoded protocol events on a network router.
type EventDispatcher interface {
	NetworkDirectory
	Dispatch(ctx context.Context, networkID string, ev router.Event) error
}

// EventsHandler accepts decoded protocol events from the connection layer.
type EventsHandler struct {
	dispatcher EventDispatcher
	limiter    *limiterPool
	validate   *validator.Validate
	logger     *slog.Logger
}

// NewEventsHandler creates an EventsHandler limited to rps events per second
// per user.
func NewEventsHandler(log *slog.Logger, dispatcher EventDispatcher, rps float64, burst int) *EventsHandler {
	if log == nil {
		log = slog.Default()
	}
	return &EventsHandler{
		dispatcher: dispatcher,
		limiter:    newLimiterPool(rps, burst),
		validate:   validator.New(),
		logger:     log.With(slog.String("handler", "events")),
	}
}

func (h *EventsHandler) Register(e *echo.Echo) {
	e.POST("/networks/:network_id/events", h.Ingest)
}

// Ingest queues one event for routing and answers 202 once it is queued.
func (h *EventsHandler) Ingest(c echo.Context) error {
	userID, err := auth.UserIDFromContext(c)
	if err != nil {
		return err
	}
	if h.dispatcher == nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "event dispatcher not configured")
	}
	networkID := strings.TrimSpace(c.Param("network_id"))
	if networkID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "network id is required")
	}
	net, ok := h.dispatcher.Network(networkID)
	if !ok || net.Owner() != userID {
		return echo.NewHTTPError(http.StatusNotFound, "network not found")
	}
	if !h.limiter.Allow(userID) {
		return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
	}

	payload, err := io.ReadAll(io.LimitReader(c.Request().Body, eventMaxBodyBytes+1))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("read body: %v", err))
	}
	if int64(len(payload)) > eventMaxBodyBytes {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, fmt.Sprintf("payload too large: max %d bytes", eventMaxBodyBytes))
	}
	var ev router.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("decode event: %v", err))
	}
	if err := h.validate.Struct(ev); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if err := h.dispatcher.Dispatch(c.Request().Context(), networkID, ev); err != nil {
		switch {
		case errors.Is(err, router.ErrUnknownNetwork):
			return echo.NewHTTPError(http.StatusNotFound, "network not found")
		case errors.Is(err, router.ErrStopped):
			return echo.NewHTTPError(http.StatusServiceUnavailable, "network router stopped")
		default:
			h.logger.Warn("dispatch event failed", slog.String("network_id", networkID), slog.Any("error", err))
			return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
		}
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "accepted"})
}
