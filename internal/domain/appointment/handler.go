package appointment

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/medicheck/medicheck/internal/domain/profile"
	"github.com/medicheck/medicheck/internal/platform/apperr"
	"github.com/medicheck/medicheck/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/appointments")
	g.POST("", h.Book, auth.RequireRole("PATIENT"))
	g.GET("", h.List, auth.RequireRole("PATIENT", "CLINIC"))
	g.GET("/:id", h.Get)
	g.POST("/:id/confirm", h.Confirm, auth.RequireRole("CLINIC"))
	g.POST("/:id/cancel", h.Cancel, auth.RequireRole("CLINIC"))
}

func (h *Handler) Book(c echo.Context) error {
	caller, err := profile.CallerFrom(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(c, err)
	}
	var body BookRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.Book(c.Request().Context(), caller, body)
	if err != nil {
		return apperr.ToHTTP(c, err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) List(c echo.Context) error {
	caller, err := profile.CallerFrom(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(c, err)
	}
	items, err := h.svc.List(c.Request().Context(), caller)
	if err != nil {
		return apperr.ToHTTP(c, err)
	}
	if status := c.QueryParam("status"); status != "" {
		st, ok := ParseStatus(status)
		if !ok {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid status")
		}
		filtered := items[:0]
		for _, a := range items {
			if a.Status == st {
				filtered = append(filtered, a)
			}
		}
		items = filtered
	}
	if items == nil {
		items = []*Appointment{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) Get(c echo.Context) error {
	caller, err := profile.CallerFrom(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(c, err)
	}
	a, err := h.svc.Get(c.Request().Context(), caller, c.Param("id"))
	if err != nil {
		return apperr.ToHTTP(c, err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) Confirm(c echo.Context) error {
	return h.decide(c, h.svc.Confirm)
}

func (h *Handler) Cancel(c echo.Context) error {
	return h.decide(c, h.svc.Cancel)
}

func (h *Handler) decide(c echo.Context, fn func(ctx context.Context, caller profile.Caller, id string) (*Appointment, error)) error {
	caller, err := profile.CallerFrom(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(c, err)
	}
	a, err := fn(c.Request().Context(), caller, c.Param("id"))
	if err != nil {
		return apperr.ToHTTP(c, err)
	}
	return c.JSON(http.StatusOK, a)
}
