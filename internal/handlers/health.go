package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/memohai/relay/internal/auth"
	"github.com/memohai/relay/internal/healthcheck"
)

// HealthHandler reports runtime checks for the authenticated user.
type HealthHandler struct {
	checker healthcheck.Checker
	logger  *slog.Logger
}

func NewHealthHandler(log *slog.Logger, checker healthcheck.Checker) *HealthHandler {
	if log == nil {
		log = slog.Default()
	}
	return &HealthHandler{
		checker: checker,
		logger:  log.With(slog.String("handler", "health")),
	}
}

func (h *HealthHandler) Register(e *echo.Echo) {
	e.GET("/health/checks", h.ListChecks)
}

func (h *HealthHandler) ListChecks(c echo.Context) error {
	userID, err := auth.UserIDFromContext(c)
	if err != nil {
		return err
	}
	items := []healthcheck.CheckResult{}
	if h.checker != nil {
		items = h.checker.ListChecks(c.Request().Context(), userID)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status": healthcheck.Overall(items),
		"items":  items,
	})
}
