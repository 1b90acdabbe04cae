package exchange

import (
	"net/http"
	"strconv"

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
	reports := api.Group("/reports")
	reports.POST("", h.FileReport, auth.RequireRole("PATIENT"))
	reports.GET("", h.ListReports, auth.RequireRole("PATIENT", "DOCTOR"))
	reports.POST("/:id/read", h.MarkReportRead, auth.RequireRole("DOCTOR"))

	messages := api.Group("/messages")
	messages.POST("", h.SendAdvice, auth.RequireRole("DOCTOR"))
	messages.GET("", h.ListMessages, auth.RequireRole("PATIENT", "DOCTOR"))
	messages.POST("/:id/read", h.MarkMessageRead, auth.RequireRole("PATIENT"))

	api.GET("/history/:patientId", h.History, auth.RequireRole("DOCTOR"))
}

type fileReportRequest struct {
	Symptoms string `json:"symptoms"`
	Assessment
}

type adviceRequest struct {
	PatientID string `json:"patientId"`
	Content   string `json:"content"`
	ReportID  string `json:"reportId"`
}

func (h *Handler) FileReport(c echo.Context) error {
	caller, err := profile.CallerFrom(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(c, err)
	}
	var body fileReportRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rep, err := h.svc.FileReport(c.Request().Context(), caller, body.Symptoms, body.Assessment)
	if err != nil {
		return apperr.ToHTTP(c, err)
	}
	return c.JSON(http.StatusCreated, rep)
}

func (h *Handler) ListReports(c echo.Context) error {
	caller, err := profile.CallerFrom(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(c, err)
	}
	var items []*Report
	if caller.Role == profile.RoleDoctor {
		items, err = h.svc.ListSharedReports(c.Request().Context(), caller)
	} else {
		items, err = h.svc.ListPatientReports(c.Request().Context(), caller)
	}
	if err != nil {
		return apperr.ToHTTP(c, err)
	}
	if items == nil {
		items = []*Report{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) MarkReportRead(c echo.Context) error {
	caller, err := profile.CallerFrom(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(c, err)
	}
	if err := h.svc.MarkReportRead(c.Request().Context(), caller, c.Param("id")); err != nil {
		return apperr.ToHTTP(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) SendAdvice(c echo.Context) error {
	caller, err := profile.CallerFrom(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(c, err)
	}
	var body adviceRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if body.PatientID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "patientId is required")
	}
	m, err := h.svc.SendAdvice(c.Request().Context(), caller, body.PatientID, body.Content, body.ReportID)
	if err != nil {
		return apperr.ToHTTP(c, err)
	}
	return c.JSON(http.StatusCreated, m)
}

func (h *Handler) ListMessages(c echo.Context) error {
	caller, err := profile.CallerFrom(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(c, err)
	}
	var items []*Message
	if caller.Role == profile.RoleDoctor {
		items, err = h.svc.ListSentAdvice(c.Request().Context(), caller)
	} else {
		items, err = h.svc.ListInbox(c.Request().Context(), caller)
	}
	if err != nil {
		return apperr.ToHTTP(c, err)
	}
	if items == nil {
		items = []*Message{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) MarkMessageRead(c echo.Context) error {
	caller, err := profile.CallerFrom(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(c, err)
	}
	if err := h.svc.MarkMessageRead(c.Request().Context(), caller, c.Param("id")); err != nil {
		return apperr.ToHTTP(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) History(c echo.Context) error {
	caller, err := profile.CallerFrom(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(c, err)
	}
	days := 0
	if v := c.QueryParam("days"); v != "" {
		days, err = strconv.Atoi(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "days must be an integer")
		}
	}
	hist, err := h.svc.History(c.Request().Context(), caller, c.Param("patientId"), days)
	if err != nil {
		return apperr.ToHTTP(c, err)
	}
	return c.JSON(http.StatusOK, hist)
}
