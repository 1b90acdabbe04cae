// Package notification renders templated messages and dispatches them by
// email or SMS, keeping an in-memory delivery history.
package notification

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

const (
	StatusSent   = "sent"
	StatusFailed = "failed"
)

var (
	ErrNotFound  = errors.New("notification not found")
	ErrNotFailed = errors.New("notification has not failed")
)

// Notification is a single outbound message.
type Notification struct {
	ID           string            `json:"id"`
	UserID       string            `json:"userId"`
	Channel      Channel           `json:"channel"`
	Recipient    string            `json:"recipient"`
	Subject      string            `json:"subject,omitempty"`
	Body         string            `json:"body"`
	TemplateID   string            `json:"templateId,omitempty"`
	TemplateData map[string]string `json:"templateData,omitempty"`
	Status       string            `json:"status"`
	CreatedAt    time.Time         `json:"createdAt"`
	SentAt       *time.Time        `json:"sentAt,omitempty"`
	Error        string            `json:"error,omitempty"`
}

type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// Template is a reusable message with {{key}} placeholders.
type Template struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

const (
	TemplateAppointmentReminder = "appointment-reminder"
	TemplateUnreadAdvice        = "unread-advice"
)

type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]Template
}

// NewTemplateEngine returns an engine with the built-in templates registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]Template)}
	e.Register(Template{
		ID:      TemplateAppointmentReminder,
		Subject: "Appointment reminder",
		Body:    "Hi {{patient_name}}, your appointment at {{clinic_name}} is on {{date}} at {{time}}.",
	})
	e.Register(Template{
		ID:      TemplateUnreadAdvice,
		Subject: "You have unread advice",
		Body:    "Hi {{patient_name}}, you have {{count}} unread message(s) from your doctors on MediCheck.",
	})
	return e
}

// Register adds or replaces a template.
func (e *TemplateEngine) Register(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = t
}

// Render replaces {{key}} placeholders. Placeholders without data are left
// as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}

	subject, body = t.Subject, t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return subject, body, nil
}

// Manager dispatches notifications and remembers every attempt.
type Manager struct {
	email     EmailSender
	sms       SMSSender
	templates *TemplateEngine
	now       func() time.Time

	mu            sync.RWMutex
	notifications map[string]*Notification
}

func NewManager(email EmailSender, sms SMSSender, templates *TemplateEngine) *Manager {
	return &Manager{
		email:         email,
		sms:           sms,
		templates:     templates,
		now:           time.Now,
		notifications: make(map[string]*Notification),
	}
}

// Send delivers n and records the outcome. The notification is stored even
// when delivery fails.
func (m *Manager) Send(ctx context.Context, n *Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	n.CreatedAt = m.now().UTC()

	err := m.deliver(ctx, n)
	m.mu.Lock()
	m.record(n, err)
	m.notifications[n.ID] = n
	m.mu.Unlock()
	return err
}

// SendTemplate renders templateID and sends it to userID at recipient.
func (m *Manager) SendTemplate(ctx context.Context, ch Channel, userID, recipient, templateID string, data map[string]string) (*Notification, error) {
	subject, body, err := m.templates.Render(templateID, data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}
	n := &Notification{
		UserID:       userID,
		Channel:      ch,
		Recipient:    recipient,
		Subject:      subject,
		Body:         body,
		TemplateID:   templateID,
		TemplateData: data,
	}
	return n, m.Send(ctx, n)
}

// Retry re-sends a failed notification owned by userID.
func (m *Manager) Retry(ctx context.Context, userID, id string) (*Notification, error) {
	m.mu.RLock()
	n, ok := m.notifications[id]
	m.mu.RUnlock()
	if !ok || n.UserID != userID {
		return nil, ErrNotFound
	}
	if n.Status != StatusFailed {
		return nil, ErrNotFailed
	}

	err := m.deliver(ctx, n)
	m.mu.Lock()
	m.record(n, err)
	m.mu.Unlock()
	return n, err
}

// ListByUser returns the user's notifications, newest first.
func (m *Manager) ListByUser(_ context.Context, userID string, limit int) []*Notification {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Notification
	for _, n := range m.notifications {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Stats counts notifications by status.
func (m *Manager) Stats() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := make(map[string]int)
	for _, n := range m.notifications {
		stats[n.Status]++
	}
	return stats
}

func (m *Manager) deliver(ctx context.Context, n *Notification) error {
	switch n.Channel {
	case ChannelEmail:
		return m.email.SendEmail(ctx, n.Recipient, n.Subject, n.Body)
	case ChannelSMS:
		return m.sms.SendSMS(ctx, n.Recipient, n.Body)
	default:
		return fmt.Errorf("unsupported channel: %s", n.Channel)
	}
}

// record must be called with m.mu held.
func (m *Manager) record(n *Notification, err error) {
	if err != nil {
		n.Status = StatusFailed
		n.Error = err.Error()
		return
	}
	sentAt := m.now().UTC()
	n.Status = StatusSent
	n.SentAt = &sentAt
	n.Error = ""
}
