package session

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/medicheck/medicheck/internal/domain/profile"
	"github.com/medicheck/medicheck/internal/platform/apperr"
)

type Handler struct {
	store *Store
}

func NewHandler(store *Store) *Handler {
	return &Handler{store: store}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/preferences", h.Get)
	api.POST("/preferences/theme/toggle", h.ToggleTheme)
}

func (h *Handler) Get(c echo.Context) error {
	caller, err := profile.CallerFrom(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(c, err)
	}
	prefs, err := h.store.Get(c.Request().Context(), caller.ID)
	if err != nil {
		return apperr.ToHTTP(c, err)
	}
	return c.JSON(http.StatusOK, prefs)
}

func (h *Handler) ToggleTheme(c echo.Context) error {
	ctx := c.Request().Context()
	caller, err := profile.CallerFrom(ctx)
	if err != nil {
		return apperr.ToHTTP(c, err)
	}
	sess, err := New(ctx, h.store, caller, nil)
	if err != nil {
		return apperr.ToHTTP(c, err)
	}
	prefs, err := sess.ToggleTheme(ctx)
	if err != nil {
		return apperr.ToHTTP(c, err)
	}
	return c.JSON(http.StatusOK, prefs)
}
