package triage

import (
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
	api.POST("/triage/analyze", h.Analyze, auth.RequireRole("PATIENT"))
	api.POST("/companion/messages", h.Companion)
}

func (h *Handler) Analyze(c echo.Context) error {
	caller, err := profile.CallerFrom(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(c, err)
	}
	var body AnalyzeRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.Analyze(c.Request().Context(), caller, body)
	if err != nil {
		return apperr.ToHTTP(c, err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) Companion(c echo.Context) error {
	caller, err := profile.CallerFrom(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(c, err)
	}
	var body ChatRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	reply, err := h.svc.Reply(c.Request().Context(), caller, body.History, body.Message)
	if err != nil {
		return apperr.ToHTTP(c, err)
	}
	return c.JSON(http.StatusOK, reply)
}
