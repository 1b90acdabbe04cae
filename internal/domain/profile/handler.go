package profile

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/medicheck/medicheck/internal/platform/apperr"
	"github.com/medicheck/medicheck/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/profiles/me", h.GetMe)
	api.POST("/profiles/me", h.CreateMe)
	api.PUT("/profiles/me", h.UpdateMe)
	api.GET("/profiles/:id", h.GetProfile)
	api.GET("/profiles", h.ListProfiles)
}

func (h *Handler) GetMe(c echo.Context) error {
	caller, err := CallerFrom(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(c, err)
	}
	p, err := h.svc.Get(c.Request().Context(), caller.ID)
	if err != nil {
		return apperr.ToHTTP(c, err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) CreateMe(c echo.Context) error {
	caller, err := CallerFrom(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(c, err)
	}
	var p Profile
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateSelf(c.Request().Context(), caller, &p); err != nil {
		return apperr.ToHTTP(c, err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) UpdateMe(c echo.Context) error {
	caller, err := CallerFrom(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(c, err)
	}
	var p Profile
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.UpdateSelf(c.Request().Context(), caller, &p); err != nil {
		return apperr.ToHTTP(c, err)
	}
	return c.JSON(http.StatusOK, p)
}

// GetProfile returns the public summary of another identity.
func (h *Handler) GetProfile(c echo.Context) error {
	caller, err := CallerFrom(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(c, err)
	}
	p, err := h.svc.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return apperr.ToHTTP(c, err)
	}
	if p.ID == caller.ID {
		return c.JSON(http.StatusOK, p)
	}
	return c.JSON(http.StatusOK, p.Summary())
}

func (h *Handler) ListProfiles(c echo.Context) error {
	role, ok := ParseRole(c.QueryParam("role"))
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "role query parameter must be PATIENT, DOCTOR or CLINIC")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.Directory(c.Request().Context(), role, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(c, err)
	}
	summaries := make([]Summary, 0, len(items))
	for _, p := range items {
		summaries = append(summaries, p.Summary())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(summaries, total, pg.Limit, pg.Offset))
}
