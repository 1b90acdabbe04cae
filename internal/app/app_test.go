package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medicheck/medicheck/internal/config"
	"github.com/medicheck/medicheck/internal/domain/connection"
	"github.com/medicheck/medicheck/internal/domain/exchange"
	"github.com/medicheck/medicheck/internal/realtime"
)

func testConfig() *config.Config {
	return &config.Config{
		Port:              "0",
		Env:               "development",
		AuthMode:          "development",
		Store:             config.StoreMemory,
		ProfileStore:      config.StoreMemory,
		TokenTTL:          time.Hour,
		CORSOrigins:       []string{"*"},
		RateLimitRPS:      1000,
		RateLimitBurst:    1000,
		ReminderSchedule:  "0 8 * * *",
		DigestSchedule:    "0 18 * * *",
		HistoryWindowDays: 30,
	}
}

func newApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	a, err := New(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

type client struct {
	t    *testing.T
	a    *App
	id   string
	role string
}

func (c client) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	c.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(c.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, "/api/v1"+path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if c.id != "" {
		req.Header.Set("X-User-ID", c.id)
		req.Header.Set("X-User-Role", c.role)
	}
	rec := httptest.NewRecorder()
	c.a.Echo.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func signUp(t *testing.T, a *App) (client, client, client) {
	t.Helper()
	p := client{t, a, "P", "PATIENT"}
	d := client{t, a, "D", "DOCTOR"}
	c := client{t, a, "C", "CLINIC"}
	for _, cl := range []struct {
		c    client
		name string
	}{{p, "Asha"}, {d, "Dr. Rao"}, {c, "Sunrise Clinic"}} {
		rec := cl.c.do(http.MethodPost, "/profiles/me", map[string]string{"displayName": cl.name})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}
	return p, d, c
}

func TestHealth(t *testing.T) {
	a := newApp(t, testConfig())
	rec := httptest.NewRecorder()
	a.Echo.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestScenario_ReportSharingFollowsConnections(t *testing.T) {
	a := newApp(t, testConfig())
	p, d, _ := signUp(t, a)

	report := map[string]interface{}{
		"symptoms":           "headache and fever",
		"analysis":           "likely viral",
		"possibleConditions": []string{"Influenza"},
		"urgency":            "Medium",
		"advice":             "rest and fluids",
	}
	rec := p.do(http.MethodPost, "/reports", report)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, "no accepted doctor yet")

	rec = p.do(http.MethodPost, "/connections", map[string]string{"toId": "D"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	req := decode[connection.Request](t, rec)
	assert.Equal(t, "P_D", req.ID)
	assert.Equal(t, connection.StatusPending, req.Status)

	rec = d.do(http.MethodPost, "/connections/P_D/accept", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = p.do(http.MethodPost, "/reports", report)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	filed := decode[exchange.Report](t, rec)
	assert.Equal(t, []string{"D"}, filed.SharedWith)
	assert.Empty(t, filed.ReadBy)

	rec = d.do(http.MethodGet, "/history/P?days=30", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	hist := decode[exchange.History](t, rec)
	require.Len(t, hist.Reports, 1)
	assert.Equal(t, filed.ID, hist.Reports[0].ID)
	assert.Empty(t, hist.Advice)

	rec = p.do(http.MethodPost, "/connections", map[string]string{"toId": "D"})
	assert.Equal(t, http.StatusConflict, rec.Code, "re-proposing an accepted connection")
}

func TestScenario_ClinicStaffTagging(t *testing.T) {
	a := newApp(t, testConfig())
	_, d, c := signUp(t, a)

	rec := d.do(http.MethodPost, "/connections", map[string]string{"toId": "C"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "DR_TO_CLINIC_D_C", decode[connection.Request](t, rec).ID)

	rec = c.do(http.MethodPost, "/connections/DR_TO_CLINIC_D_C/accept", map[string]string{"tag": "Consultant"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = c.do(http.MethodGet, "/connections/staff", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	staff := decode[[]connection.Request](t, rec)
	require.Len(t, staff, 1)
	assert.Equal(t, "D", staff[0].FromID)
	assert.Equal(t, "Consultant", staff[0].MemberTag)

	rec = d.do(http.MethodGet, "/connections/staff", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestPreferencesRoundTrip(t *testing.T) {
	a := newApp(t, testConfig())
	p, _, _ := signUp(t, a)

	rec := p.do(http.MethodGet, "/preferences", nil)
	assert.Contains(t, rec.Body.String(), `"theme":"dark"`)
	rec = p.do(http.MethodPost, "/preferences/theme/toggle", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = p.do(http.MethodGet, "/preferences", nil)
	assert.Contains(t, rec.Body.String(), `"theme":"light"`)
}

func TestTriageWithoutKeyIsBadGateway(t *testing.T) {
	a := newApp(t, testConfig())
	p, _, _ := signUp(t, a)
	rec := p.do(http.MethodPost, "/triage/analyze", map[string]string{"symptoms": "cough"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestDashboardOverWebSocket(t *testing.T) {
	a := newApp(t, testConfig())
	p, _, _ := signUp(t, a)

	server := httptest.NewServer(a.Echo)
	defer server.Close()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/ws/dashboard?user_id=P&role=PATIENT"

	conn, _, err := gorillawebsocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))

	read := func(pred func(realtime.State) bool) realtime.State {
		for {
			var st realtime.State
			require.NoError(t, conn.ReadJSON(&st))
			if pred(st) {
				return st
			}
		}
	}
	st := read(func(s realtime.State) bool { return !s.Sections[realtime.SectionRequests].Loading })
	assert.Equal(t, "PATIENT", string(st.Role))
	assert.Equal(t, "Asha", st.Profile.DisplayName)

	rec := p.do(http.MethodPost, "/connections", map[string]string{"toId": "D"})
	require.Equal(t, http.StatusCreated, rec.Code)
	read(func(s realtime.State) bool { return s.Badges["pendingRequests"] == 1 })

	require.NoError(t, conn.WriteJSON(map[string]string{"action": "toggle-theme"}))
	read(func(s realtime.State) bool { return s.Theme == "light" })
}

func TestStandaloneAccounts(t *testing.T) {
	cfg := testConfig()
	cfg.AuthMode = "standalone"
	cfg.AuthSigningKey = "0123456789abcdef0123456789abcdef"
	a := newApp(t, cfg)
	anon := client{t: t, a: a}

	rec := anon.do(http.MethodPost, "/auth/register", map[string]string{
		"email": "asha@example.com", "password": "secret1", "role": "PATIENT", "displayName": "Asha",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = anon.do(http.MethodPost, "/auth/login", map[string]string{"email": "asha@example.com", "password": "secret1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var sess struct {
		AccessToken string `json:"access_token"`
		UserID      string `json:"user_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sess))
	require.NotEmpty(t, sess.AccessToken)

	call := func(method, path string) int {
		req := httptest.NewRequest(method, "/api/v1"+path, nil)
		req.Header.Set("Authorization", "Bearer "+sess.AccessToken)
		rec := httptest.NewRecorder()
		a.Echo.ServeHTTP(rec, req)
		return rec.Code
	}
	assert.Equal(t, http.StatusOK, call(http.MethodGet, "/profiles/me"))
	assert.Equal(t, http.StatusNoContent, call(http.MethodPost, "/auth/logout"))
	assert.Equal(t, http.StatusUnauthorized, call(http.MethodGet, "/profiles/me"), "token revoked on logout")

	rec = anon.do(http.MethodGet, "/profiles/me", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Store = "sqlite"
	_, err := New(context.Background(), cfg, zerolog.Nop())
	assert.Error(t, err)
}
