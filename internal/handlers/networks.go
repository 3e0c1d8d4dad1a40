package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/memohai/relay/internal/auth"
	"github.com/memohai/relay/internal/network"
)

const (
	defaultMessageLimit = 100
	maxMessageLimit     = 1000
)

// NetworksHandler serves the read side for attached clients.
type NetworksHandler struct {
	directory NetworkDirectory
	logger    *slog.Logger
}

func NewNetworksHandler(log *slog.Logger, directory NetworkDirectory) *NetworksHandler {
	if log == nil {
		log = slog.Default()
	}
	return &NetworksHandler{
		directory: directory,
		logger:    log.With(slog.String("handler", "networks")),
	}
}

func (h *NetworksHandler) Register(e *echo.Echo) {
	e.GET("/networks", h.ListNetworks)
	e.GET("/networks/:network_id/conversations/:conversation_id/messages", h.ListMessages)
}

// ListNetworks returns the networks of the caller with their conversations.
func (h *NetworksHandler) ListNetworks(c echo.Context) error {
	userID, err := auth.UserIDFromContext(c)
	if err != nil {
		return err
	}
	if h.directory == nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "network directory not configured")
	}
	nets := h.directory.Networks(userID)
	items := make([]network.Summary, 0, len(nets))
	for _, n := range nets {
		items = append(items, n.Summary())
	}
	return c.JSON(http.StatusOK, map[string]any{"items": items})
}

// ListMessages returns the newest messages of one conversation, oldest first.
func (h *NetworksHandler) ListMessages(c echo.Context) error {
	userID, err := auth.UserIDFromContext(c)
	if err != nil {
		return err
	}
	if h.directory == nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "network directory not configured")
	}
	networkID := strings.TrimSpace(c.Param("network_id"))
	net, ok := h.directory.Network(networkID)
	if !ok || net.Owner() != userID {
		return echo.NewHTTPError(http.StatusNotFound, "network not found")
	}
	convID, err := strconv.ParseInt(strings.TrimSpace(c.Param("conversation_id")), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid conversation id")
	}
	conv := net.Lookup(convID)
	if conv == nil {
		return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
	}

	limit := defaultMessageLimit
	if s := strings.TrimSpace(c.QueryParam("limit")); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 && n <= maxMessageLimit {
			limit = n
		}
	}
	messages := conv.Messages()
	if len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}
	return c.JSON(http.StatusOK, map[string]any{
		"conversation": conv.Summary(),
		"items":        messages,
	})
}
