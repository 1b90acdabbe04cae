package notification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medicheck/medicheck/internal/platform/auth"
)

// flakySender fails until healed.
type flakySender struct {
	mu     sync.Mutex
	failed bool
	calls  []string
}

func (s *flakySender) SendEmail(_ context.Context, to, _, _ string) error {
	return s.send(to)
}

func (s *flakySender) SendSMS(_ context.Context, to, _ string) error {
	return s.send(to)
}

func (s *flakySender) send(to string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, to)
	if s.failed {
		return errors.New("provider unavailable")
	}
	return nil
}

func (s *flakySender) setFailing(v bool) {
	s.mu.Lock()
	s.failed = v
	s.mu.Unlock()
}

func TestTemplateEngine_BuiltIns(t *testing.T) {
	e := NewTemplateEngine()
	subject, body, err := e.Render(TemplateAppointmentReminder, map[string]string{
		"patient_name": "Asha", "clinic_name": "Sunrise Clinic", "date": "2026-11-02", "time": "10:30",
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if subject != "Appointment reminder" {
		t.Errorf("unexpected subject %q", subject)
	}
	if body != "Hi Asha, your appointment at Sunrise Clinic is on 2026-11-02 at 10:30." {
		t.Errorf("unexpected body %q", body)
	}

	_, body, err = e.Render(TemplateUnreadAdvice, map[string]string{"count": "3"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(body, "{{patient_name}}") || !strings.Contains(body, "3 unread") {
		t.Errorf("expected missing keys to stay and count to render, got %q", body)
	}
}

func TestTemplateEngine_RenderMissing(t *testing.T) {
	if _, _, err := NewTemplateEngine().Render("nope", nil); err == nil {
		t.Fatal("expected error for unknown template")
	}
}

func TestManager_SendTemplate(t *testing.T) {
	sender := &flakySender{}
	m := NewManager(sender, sender, NewTemplateEngine())

	n, err := m.SendTemplate(context.Background(), ChannelEmail, "P", "asha@example.com", TemplateUnreadAdvice, map[string]string{"patient_name": "Asha", "count": "2"})
	if err != nil {
		t.Fatalf("SendTemplate: %v", err)
	}
	if n.Status != StatusSent || n.SentAt == nil || n.ID == "" {
		t.Errorf("expected a sent notification with id, got %+v", n)
	}
	if len(sender.calls) != 1 || sender.calls[0] != "asha@example.com" {
		t.Errorf("expected one delivery to the address, got %v", sender.calls)
	}
	if list := m.ListByUser(context.Background(), "P", 10); len(list) != 1 {
		t.Errorf("expected one stored notification, got %d", len(list))
	}
}

func TestManager_FailureAndRetry(t *testing.T) {
	sender := &flakySender{failed: true}
	m := NewManager(sender, sender, NewTemplateEngine())
	ctx := context.Background()

	n, err := m.SendTemplate(ctx, ChannelSMS, "P", "+15550100", TemplateUnreadAdvice, nil)
	if err == nil {
		t.Fatal("expected delivery failure")
	}
	if n.Status != StatusFailed || n.Error != "provider unavailable" {
		t.Errorf("expected failed status, got %+v", n)
	}

	if _, err := m.Retry(ctx, "OTHER", n.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for another user, got %v", err)
	}

	sender.setFailing(false)
	got, err := m.Retry(ctx, "P", n.ID)
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if got.Status != StatusSent || got.Error != "" {
		t.Errorf("expected sent after retry, got %+v", got)
	}
	if _, err := m.Retry(ctx, "P", n.ID); !errors.Is(err, ErrNotFailed) {
		t.Errorf("expected ErrNotFailed, got %v", err)
	}
	if stats := m.Stats(); stats[StatusSent] != 1 {
		t.Errorf("unexpected stats %v", stats)
	}
}

func TestManager_UnsupportedChannel(t *testing.T) {
	sender := &flakySender{}
	m := NewManager(sender, sender, NewTemplateEngine())
	if err := m.Send(context.Background(), &Notification{UserID: "P", Channel: "pigeon"}); err == nil {
		t.Fatal("expected error for unknown channel")
	}
}

func TestManager_ListByUserNewestFirst(t *testing.T) {
	sender := &flakySender{}
	m := NewManager(sender, sender, NewTemplateEngine())
	base := time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC)
	tick := 0
	m.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}
	ctx := context.Background()
	for _, body := range []string{"first", "second", "third"} {
		if err := m.Send(ctx, &Notification{UserID: "P", Channel: ChannelEmail, Recipient: "a@b.c", Body: body}); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	_ = m.Send(ctx, &Notification{UserID: "D", Channel: ChannelEmail, Recipient: "d@b.c", Body: "other"})

	list := m.ListByUser(ctx, "P", 2)
	if len(list) != 2 || list[0].Body != "third" || list[1].Body != "second" {
		t.Errorf("expected newest two, got %+v", list)
	}
}

func TestManager_ConcurrentSend(t *testing.T) {
	m := NewManager(NewLogSender(zerolog.Nop()), NewLogSender(zerolog.Nop()), NewTemplateEngine())
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.Send(context.Background(), &Notification{UserID: "P", Channel: ChannelSMS, Recipient: "+1"})
		}()
	}
	wg.Wait()
	if got := len(m.ListByUser(context.Background(), "P", 0)); got != 20 {
		t.Errorf("expected 20 notifications, got %d", got)
	}
}

func TestHandler_ListAndRetry(t *testing.T) {
	sender := &flakySender{failed: true}
	m := NewManager(sender, sender, NewTemplateEngine())
	n, _ := m.SendTemplate(context.Background(), ChannelEmail, "P", "asha@example.com", TemplateUnreadAdvice, nil)
	h := NewHandler(m)
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/notifications", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), "P", []string{"PATIENT"}))
	rec := httptest.NewRecorder()
	if err := h.List(e.NewContext(req, rec)); err != nil {
		t.Fatalf("List: %v", err)
	}
	var list []Notification
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list) != 1 || list[0].Status != StatusFailed {
		t.Errorf("expected the failed notification, got %+v", list)
	}

	sender.setFailing(false)
	rec = httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(n.ID)
	if err := h.Retry(c); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	c = e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(n.ID)
	err := h.Retry(c)
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusConflict {
		t.Errorf("expected 409 on a second retry, got %v", err)
	}
}

func TestHandler_RequiresIdentity(t *testing.T) {
	h := NewHandler(NewManager(nil, nil, NewTemplateEngine()))
	req := httptest.NewRequest(http.MethodGet, "/notifications", nil)
	err := h.List(echo.New().NewContext(req, httptest.NewRecorder()))
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %v", err)
	}
}
