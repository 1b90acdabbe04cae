// Package jobs holds the scheduled background work: appointment reminders and
// unread-advice digests.
package jobs

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/medicheck/medicheck/internal/domain/appointment"
	"github.com/medicheck/medicheck/internal/domain/profile"
	"github.com/medicheck/medicheck/internal/platform/notification"
)

const (
	AppointmentReminder = "appointment-reminder"
	AdviceDigest        = "advice-digest"
)

type Appointments interface {
	ListUpcoming(ctx context.Context, date time.Time, status appointment.Status) ([]*appointment.Appointment, error)
}

type Advice interface {
	UnreadAdviceCounts(ctx context.Context) (map[string]int, error)
}

type Profiles interface {
	Get(ctx context.Context, id string) (*profile.Profile, error)
}

type Notifier interface {
	SendTemplate(ctx context.Context, ch notification.Channel, userID, recipient, templateID string, data map[string]string) (*notification.Notification, error)
}

// Runner executes jobs on demand. The scheduler and the CLI share it.
type Runner struct {
	appointments Appointments
	advice       Advice
	profiles     Profiles
	notifier     Notifier
	logger       zerolog.Logger
	now          func() time.Time
}

func NewRunner(appointments Appointments, advice Advice, profiles Profiles, notifier Notifier, logger zerolog.Logger) *Runner {
	return &Runner{
		appointments: appointments,
		advice:       advice,
		profiles:     profiles,
		notifier:     notifier,
		logger:       logger.With().Str("component", "jobs").Logger(),
		now:          time.Now,
	}
}

// Names lists the jobs Run accepts.
func Names() []string {
	return []string{AppointmentReminder, AdviceDigest}
}

// Run executes the named job once.
func (r *Runner) Run(ctx context.Context, name string) error {
	var (
		sent int
		err  error
	)
	start := r.now()
	switch name {
	case AppointmentReminder:
		sent, err = r.RemindAppointments(ctx)
	case AdviceDigest:
		sent, err = r.DigestAdvice(ctx)
	default:
		return fmt.Errorf("unknown job %q", name)
	}
	ev := r.logger.Info()
	if err != nil {
		ev = r.logger.Error().Err(err)
	}
	ev.Str("job", name).Int("sent", sent).Dur("duration", r.now().Sub(start)).Msg("job finished")
	return err
}

// RemindAppointments notifies the patient of every confirmed appointment
// dated tomorrow.
func (r *Runner) RemindAppointments(ctx context.Context) (int, error) {
	tomorrow := r.now().AddDate(0, 0, 1)
	list, err := r.appointments.ListUpcoming(ctx, tomorrow, appointment.StatusConfirmed)
	if err != nil {
		return 0, fmt.Errorf("list upcoming appointments: %w", err)
	}

	sent := 0
	for _, a := range list {
		data := map[string]string{
			"patient_name": a.PatientName,
			"clinic_name":  a.ClinicName,
			"date":         a.Date,
			"time":         a.Time,
		}
		if r.notify(ctx, a.PatientID, notification.TemplateAppointmentReminder, data) {
			sent++
		}
	}
	return sent, nil
}

// DigestAdvice tells every patient with unread advice how much is waiting.
func (r *Runner) DigestAdvice(ctx context.Context) (int, error) {
	counts, err := r.advice.UnreadAdviceCounts(ctx)
	if err != nil {
		return 0, fmt.Errorf("count unread advice: %w", err)
	}
	ids := make([]string, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	sent := 0
	for _, id := range ids {
		if counts[id] <= 0 {
			continue
		}
		data := map[string]string{"count": strconv.Itoa(counts[id])}
		if r.notify(ctx, id, notification.TemplateUnreadAdvice, data) {
			sent++
		}
	}
	return sent, nil
}

// notify resolves the user's contact and sends. Failures are logged and
// skipped.
func (r *Runner) notify(ctx context.Context, userID, templateID string, data map[string]string) bool {
	log := r.logger.With().Str("user_id", userID).Str("template", templateID).Logger()

	p, err := r.profiles.Get(ctx, userID)
	if err != nil {
		log.Warn().Err(err).Msg("load recipient profile")
		return false
	}
	if _, ok := data["patient_name"]; !ok {
		data["patient_name"] = p.DisplayName
	}

	ch, to := notification.ChannelEmail, p.Email
	if to == "" {
		ch, to = notification.ChannelSMS, p.PhoneNumber
	}
	if to == "" {
		log.Warn().Msg("recipient has no email or phone number")
		return false
	}
	if _, err := r.notifier.SendTemplate(ctx, ch, userID, to, templateID, data); err != nil {
		log.Warn().Err(err).Msg("send notification")
		return false
	}
	return true
}
