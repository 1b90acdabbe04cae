package notification

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/medicheck/medicheck/internal/platform/auth"
)

// Handler lets a caller read and retry their own notifications.
type Handler struct {
	manager *Manager
}

func NewHandler(m *Manager) *Handler {
	return &Handler{manager: m}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/notifications", h.List)
	g.POST("/notifications/:id/retry", h.Retry)
}

func (h *Handler) List(c echo.Context) error {
	uid := auth.UserIDFromContext(c.Request().Context())
	if uid == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing caller identity")
	}
	list := h.manager.ListByUser(c.Request().Context(), uid, 100)
	if list == nil {
		list = []*Notification{}
	}
	return c.JSON(http.StatusOK, list)
}

func (h *Handler) Retry(c echo.Context) error {
	uid := auth.UserIDFromContext(c.Request().Context())
	if uid == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing caller identity")
	}
	n, err := h.manager.Retry(c.Request().Context(), uid, c.Param("id"))
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrNotFailed):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case err != nil:
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, n)
}
