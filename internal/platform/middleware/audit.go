package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medicheck/medicheck/internal/platform/auth"
)

// AuditEntry records who touched which health-data collection.
type AuditEntry struct {
	UserID     string
	UserRoles  []string
	Collection string
	RecordID   string
	PatientID  string
	Action     string // read, create, update, delete
	IPAddress  string
	Path       string
	Method     string
	Timestamp  time.Time
	RequestID  string
	StatusCode int
}

type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error {
	return f(entry)
}

// auditedCollections are the /api/v1 segments holding health data.
var auditedCollections = map[string]bool{
	"reports":      true,
	"messages":     true,
	"history":      true,
	"appointments": true,
	"connections":  true,
	"profiles":     true,
	"triage":       true,
}

// Audit logs access to health-data routes after the handler ran. Mount it as
// route-group middleware so c.Path() and path params are resolved.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			collection := collectionOf(req.URL.Path)
			if !auditedCollections[collection] {
				return next(c)
			}

			err := next(c)

			ctx := req.Context()
			entry := AuditEntry{
				Timestamp:  time.Now().UTC(),
				UserID:     auth.UserIDFromContext(ctx),
				UserRoles:  auth.RolesFromContext(ctx),
				Collection: collection,
				RecordID:   c.Param("id"),
				PatientID:  c.Param("patientId"),
				Action:     httpMethodToAction(req.Method),
				IPAddress:  c.RealIP(),
				Path:       req.URL.Path,
				Method:     req.Method,
				StatusCode: c.Response().Status,
			}
			if rid, ok := c.Get("request_id").(string); ok {
				entry.RequestID = rid
			}

			for _, r := range recorders {
				if r == nil {
					continue
				}
				if recErr := r.RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).Str("request_id", entry.RequestID).Msg("failed to record audit entry")
				}
			}

			logger.Info().
				Str("type", "health_data_access").
				Str("request_id", entry.RequestID).
				Str("user_id", entry.UserID).
				Strs("user_roles", entry.UserRoles).
				Str("collection", entry.Collection).
				Str("record_id", entry.RecordID).
				Str("patient_id", entry.PatientID).
				Str("action", entry.Action).
				Int("status", entry.StatusCode).
				Msg("access")

			return err
		}
	}
}

func collectionOf(path string) string {
	if !strings.HasPrefix(path, "/api/v1/") {
		return ""
	}
	seg := strings.SplitN(strings.TrimPrefix(path, "/api/v1/"), "/", 2)
	return seg[0]
}

func httpMethodToAction(method string) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}
