package connection

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
	g := api.Group("/connections")
	g.POST("", h.Propose, auth.RequireRole("PATIENT", "DOCTOR"))
	g.GET("/incoming", h.ListIncoming)
	g.GET("/outgoing", h.ListOutgoing)
	g.GET("/staff", h.ListStaff, auth.RequireRole("CLINIC"))
	g.GET("/tags", h.ListTags)
	g.GET("/clinics/:clinicId", h.ListForClinic, auth.RequireRole("CLINIC", "DOCTOR"))
	g.GET("/:id", h.Get)
	g.DELETE("/:id", h.Revoke)
	g.POST("/:id/accept", h.Accept)
	g.POST("/:id/reject", h.Reject)
	g.PUT("/:id/tag", h.Retag)
}

type proposeRequest struct {
	ToID string `json:"toId"`
}

type tagRequest struct {
	Tag string `json:"tag"`
}

func (h *Handler) Propose(c echo.Context) error {
	caller, err := profile.CallerFrom(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(c, err)
	}
	var body proposeRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req, err := h.svc.Propose(c.Request().Context(), caller, body.ToID)
	if err != nil {
		return apperr.ToHTTP(c, err)
	}
	return c.JSON(http.StatusCreated, req)
}

func (h *Handler) ListIncoming(c echo.Context) error {
	return h.list(c, h.svc.ListIncoming)
}

func (h *Handler) ListOutgoing(c echo.Context) error {
	return h.list(c, h.svc.ListOutgoing)
}

type listFunc func(ctx context.Context, caller profile.Caller, f Filter) ([]*Request, error)

func (h *Handler) list(c echo.Context, fn listFunc) error {
	caller, err := profile.CallerFrom(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(c, err)
	}
	f, err := filterFromQuery(c)
	if err != nil {
		return err
	}
	items, err := fn(c.Request().Context(), caller, f)
	if err != nil {
		return apperr.ToHTTP(c, err)
	}
	return c.JSON(http.StatusOK, nonNil(items))
}

func filterFromQuery(c echo.Context) (Filter, error) {
	var f Filter
	if v := c.QueryParam("toRole"); v != "" {
		role, ok := profile.ParseRole(v)
		if !ok {
			return f, echo.NewHTTPError(http.StatusBadRequest, "invalid toRole")
		}
		f.ToRole = role
	}
	if v := c.QueryParam("status"); v != "" {
		st, ok := ParseStatus(v)
		if !ok {
			return f, echo.NewHTTPError(http.StatusBadRequest, "status must be PENDING or ACCEPTED")
		}
		f.Status = st
	}
	return f, nil
}

// ListForClinic serves a clinic's association requests to the clinic and to
// its Owner/Admin staff.
func (h *Handler) ListForClinic(c echo.Context) error {
	caller, err := profile.CallerFrom(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(c, err)
	}
	f, err := filterFromQuery(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListForClinic(c.Request().Context(), caller, c.Param("clinicId"), f.Status)
	if err != nil {
		return apperr.ToHTTP(c, err)
	}
	return c.JSON(http.StatusOK, nonNil(items))
}

func (h *Handler) ListStaff(c echo.Context) error {
	caller, err := profile.CallerFrom(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(c, err)
	}
	items, err := h.svc.ListActiveStaff(c.Request().Context(), caller)
	if err != nil {
		return apperr.ToHTTP(c, err)
	}
	return c.JSON(http.StatusOK, nonNil(items))
}

func (h *Handler) ListTags(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"default": DefaultStaffTag,
		"known":   KnownStaffTags,
	})
}

func (h *Handler) Get(c echo.Context) error {
	caller, err := profile.CallerFrom(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(c, err)
	}
	req, err := h.svc.Get(c.Request().Context(), caller, c.Param("id"))
	if err != nil {
		return apperr.ToHTTP(c, err)
	}
	return c.JSON(http.StatusOK, req)
}

func (h *Handler) Accept(c echo.Context) error {
	caller, err := profile.CallerFrom(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(c, err)
	}
	var body tagRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&body); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}
	req, err := h.svc.Accept(c.Request().Context(), caller, c.Param("id"), body.Tag)
	if err != nil {
		return apperr.ToHTTP(c, err)
	}
	return c.JSON(http.StatusOK, req)
}

func (h *Handler) Reject(c echo.Context) error {
	caller, err := profile.CallerFrom(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(c, err)
	}
	if err := h.svc.Reject(c.Request().Context(), caller, c.Param("id")); err != nil {
		return apperr.ToHTTP(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"id": c.Param("id"), "status": string(StatusRejected)})
}

func (h *Handler) Revoke(c echo.Context) error {
	caller, err := profile.CallerFrom(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(c, err)
	}
	if err := h.svc.Revoke(c.Request().Context(), caller, c.Param("id")); err != nil {
		return apperr.ToHTTP(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Retag(c echo.Context) error {
	caller, err := profile.CallerFrom(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(c, err)
	}
	var body tagRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req, err := h.svc.Retag(c.Request().Context(), caller, c.Param("id"), body.Tag)
	if err != nil {
		return apperr.ToHTTP(c, err)
	}
	return c.JSON(http.StatusOK, req)
}

func nonNil(items []*Request) []*Request {
	if items == nil {
		return []*Request{}
	}
	return items
}
