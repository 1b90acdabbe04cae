package account

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/medicheck/medicheck/internal/platform/apperr"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterPublicRoutes mounts the endpoints that run before authentication.
func (h *Handler) RegisterPublicRoutes(api *echo.Group) {
	api.POST("/auth/register", h.Register)
	api.POST("/auth/login", h.Login)
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/auth/logout", h.Logout)
}

func (h *Handler) Register(c echo.Context) error {
	var body RegisterRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sess, err := h.svc.Register(c.Request().Context(), body)
	if err != nil {
		return apperr.ToHTTP(c, err)
	}
	return c.JSON(http.StatusCreated, sess)
}

func (h *Handler) Login(c echo.Context) error {
	var body LoginRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sess, err := h.svc.Login(c.Request().Context(), body)
	if err != nil {
		return apperr.ToHTTP(c, err)
	}
	return c.JSON(http.StatusOK, sess)
}

func (h *Handler) Logout(c echo.Context) error {
	if err := h.svc.Logout(c.Request().Context()); err != nil {
		return apperr.ToHTTP(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
