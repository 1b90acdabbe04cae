package profile

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/medicheck/medicheck/internal/platform/auth"
)

func newTestHandler(t *testing.T) (*Handler, *echo.Echo) {
	t.Helper()
	svc, _ := newTestService()
	ctx := context.Background()
	if err := svc.Register(ctx, &Profile{ID: "p1", Role: RolePatient, DisplayName: "Asha", Email: "asha@x.test"}); err != nil {
		t.Fatal(err)
	}
	if err := svc.Register(ctx, &Profile{ID: "d1", Role: RoleDoctor, DisplayName: "Dr. Rao", Doctor: &DoctorCredentials{Specialization: "Cardiology"}}); err != nil {
		t.Fatal(err)
	}
	return NewHandler(svc), echo.New()
}

func asCaller(req *http.Request, id string, role Role) *http.Request {
	return req.WithContext(WithCaller(req.Context(), Caller{ID: id, Role: role}))
}

func TestHandler_GetMe(t *testing.T) {
	h, e := newTestHandler(t)
	req := asCaller(httptest.NewRequest(http.MethodGet, "/", nil), "p1", RolePatient)
	rec := httptest.NewRecorder()

	if err := h.GetMe(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var p Profile
	_ = json.Unmarshal(rec.Body.Bytes(), &p)
	if p.ID != "p1" || p.Medical == nil {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestHandler_GetMe_NoCaller(t *testing.T) {
	h, e := newTestHandler(t)
	err := h.GetMe(e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder()))
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %v", err)
	}
}

func TestHandler_UpdateMe(t *testing.T) {
	h, e := newTestHandler(t)
	body := `{"displayName":"Asha K","medicalProfile":{"bloodGroup":"O+","allergies":"penicillin"}}`
	req := asCaller(httptest.NewRequest(http.MethodPut, "/", strings.NewReader(body)), "p1", RolePatient)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()

	if err := h.UpdateMe(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	p, _ := h.svc.Get(context.Background(), "p1")
	if p.Medical.BloodGroup != "O+" {
		t.Errorf("expected blood group to be stored, got %+v", p.Medical)
	}
}

func TestHandler_UpdateMe_RoleChange(t *testing.T) {
	h, e := newTestHandler(t)
	body := `{"displayName":"Asha","role":"DOCTOR"}`
	req := asCaller(httptest.NewRequest(http.MethodPut, "/", strings.NewReader(body)), "p1", RolePatient)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)

	err := h.UpdateMe(e.NewContext(req, httptest.NewRecorder()))
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_GetProfile_ReturnsSummaryForOthers(t *testing.T) {
	h, e := newTestHandler(t)
	req := asCaller(httptest.NewRequest(http.MethodGet, "/", nil), "p1", RolePatient)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("d1")

	if err := h.GetProfile(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var s map[string]interface{}
	_ = json.Unmarshal(rec.Body.Bytes(), &s)
	if s["specialization"] != "Cardiology" {
		t.Errorf("expected summary with specialization, got %v", s)
	}
	if _, ok := s["email"]; ok {
		t.Error("expected email to be hidden from other callers")
	}
}

func TestHandler_ListProfiles(t *testing.T) {
	h, e := newTestHandler(t)
	req := asCaller(httptest.NewRequest(http.MethodGet, "/?role=doctor", nil), "p1", RolePatient)
	rec := httptest.NewRecorder()

	if err := h.ListProfiles(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"total":1`) {
		t.Errorf("expected one doctor, got %s", rec.Body.String())
	}

	req = asCaller(httptest.NewRequest(http.MethodGet, "/?role=nurse", nil), "p1", RolePatient)
	if err := h.ListProfiles(e.NewContext(req, httptest.NewRecorder())); err == nil {
		t.Error("expected error for unknown role")
	}
}

func TestCallerMiddleware(t *testing.T) {
	svc, _ := newTestService()
	_ = svc.Register(context.Background(), &Profile{ID: "c1", Role: RoleClinic, DisplayName: "Clinic"})
	e := echo.New()
	mw := CallerMiddleware(svc, nil)

	run := func(uid string, roles []string) (Caller, []string, error) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(auth.WithIdentity(req.Context(), uid, roles))
		var got Caller
		var gotRoles []string
		err := mw(func(c echo.Context) error {
			got, _ = CallerFrom(c.Request().Context())
			gotRoles = auth.RolesFromContext(c.Request().Context())
			return nil
		})(e.NewContext(req, httptest.NewRecorder()))
		return got, gotRoles, err
	}

	c, _, err := run("p9", []string{"patient"})
	if err != nil || c.Role != RolePatient {
		t.Errorf("expected role from token, got %+v %v", c, err)
	}

	c, roles, err := run("c1", nil)
	if err != nil || c.Role != RoleClinic {
		t.Errorf("expected role from stored profile, got %+v %v", c, err)
	}
	if len(roles) != 1 || roles[0] != "CLINIC" {
		t.Errorf("expected resolved role on context, got %v", roles)
	}

	c, _, err = run("new-user", nil)
	if err != nil || c.ID != "new-user" || c.Role != "" {
		t.Errorf("expected caller without role, got %+v %v", c, err)
	}

	if _, _, err := run("", nil); err == nil {
		t.Error("expected error without identity")
	}
}
