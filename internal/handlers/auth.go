package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/memohai/relay/internal/auth"
)

type tokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	UserID      string    `json:"user_id"`
}

// AuthHandler lets attached clients renew their session token.
type AuthHandler struct {
	secret    string
	expiresIn time.Duration
	logger    *slog.Logger
}

func NewAuthHandler(log *slog.Logger, secret string, expiresIn time.Duration) *AuthHandler {
	if log == nil {
		log = slog.Default()
	}
	return &AuthHandler{
		secret:    secret,
		expiresIn: expiresIn,
		logger:    log.With(slog.String("handler", "auth")),
	}
}

func (h *AuthHandler) Register(e *echo.Echo) {
	e.POST("/auth/refresh", h.Refresh)
}

// Refresh reissues the caller's token with the same lifetime.
func (h *AuthHandler) Refresh(c echo.Context) error {
	userID, err := auth.UserIDFromContext(c)
	if err != nil {
		return err
	}
	token, expiresAt, err := auth.RefreshTokenFromContext(c, h.secret, h.expiresIn)
	if err != nil {
		h.logger.Warn("refresh token failed", slog.String("user", userID), slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "refresh token failed")
	}
	return c.JSON(http.StatusOK, tokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresAt:   expiresAt,
		UserID:      userID,
	})
}
