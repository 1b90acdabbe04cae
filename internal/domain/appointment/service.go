package appointment

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medicheck/medicheck/internal/domain/profile"
	"github.com/medicheck/medicheck/internal/platform/apperr"
	"github.com/medicheck/medicheck/internal/platform/changefeed"
)

const maxReasonLength = 2000

// Profiles resolves the patient and clinic of a booking.
type Profiles interface {
	Get(ctx context.Context, id string) (*profile.Profile, error)
	RequireRole(ctx context.Context, id string, role profile.Role) (*profile.Profile, error)
}

type Service struct {
	repo     Repository
	profiles Profiles
	feed     changefeed.Publisher
	now      func() time.Time
}

func NewService(repo Repository, profiles Profiles, feed changefeed.Publisher) *Service {
	return &Service{repo: repo, profiles: profiles, feed: feed, now: time.Now}
}

// Book creates a PENDING appointment. Every call creates a new record.
func (s *Service) Book(ctx context.Context, caller profile.Caller, in BookRequest) (*Appointment, error) {
	if caller.Role != profile.RolePatient {
		return nil, apperr.Unauthorized("only patients can book appointments")
	}
	if _, err := time.Parse(DateLayout, in.Date); err != nil {
		return nil, apperr.Invalid("date must be YYYY-MM-DD")
	}
	if _, err := time.Parse(TimeLayout, in.Time); err != nil || len(in.Time) != len(TimeLayout) {
		return nil, apperr.Invalid("time must be HH:MM")
	}
	reason := strings.TrimSpace(in.Reason)
	if len(reason) > maxReasonLength {
		return nil, apperr.Invalid("reason is too long")
	}
	clinic, err := s.profiles.RequireRole(ctx, strings.TrimSpace(in.ClinicID), profile.RoleClinic)
	if err != nil {
		return nil, err
	}
	patient, err := s.profiles.Get(ctx, caller.ID)
	if err != nil {
		return nil, err
	}

	a := &Appointment{
		ID:          uuid.New().String(),
		PatientID:   caller.ID,
		PatientName: patient.DisplayName,
		ClinicID:    clinic.ID,
		ClinicName:  clinic.DisplayName,
		Date:        in.Date,
		Time:        in.Time,
		Reason:      reason,
		Status:      StatusPending,
		Timestamp:   s.now().UTC(),
	}
	if err := s.repo.Create(ctx, a); err != nil {
		return nil, err
	}
	s.publish(ctx, changefeed.OpInsert, a)
	zerolog.Ctx(ctx).Info().Str("appointment_id", a.ID).Str("clinic_id", a.ClinicID).Msg("appointment booked")
	return a, nil
}

func (s *Service) Confirm(ctx context.Context, caller profile.Caller, id string) (*Appointment, error) {
	return s.transition(ctx, caller, id, StatusConfirmed)
}

func (s *Service) Cancel(ctx context.Context, caller profile.Caller, id string) (*Appointment, error) {
	return s.transition(ctx, caller, id, StatusCancelled)
}

// transition applies a clinic decision to a PENDING appointment.
func (s *Service) transition(ctx context.Context, caller profile.Caller, id string, to Status) (*Appointment, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if caller.ID != a.ClinicID {
		return nil, apperr.Unauthorized("only the clinic can decide appointment %s", id)
	}
	if a.Status != StatusPending {
		return nil, apperr.InvalidTransition("appointment %s is already %s", id, a.Status)
	}
	updated, err := s.repo.Transition(ctx, id, StatusPending, to, s.now().UTC())
	if errors.Is(err, ErrStatusMismatch) {
		return nil, apperr.InvalidTransition("appointment %s changed concurrently", id)
	}
	if err != nil {
		return nil, err
	}
	s.publish(ctx, changefeed.OpUpdate, updated)
	return updated, nil
}

// Get returns an appointment visible to its patient and its clinic.
func (s *Service) Get(ctx context.Context, caller profile.Caller, id string) (*Appointment, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if caller.ID != a.PatientID && caller.ID != a.ClinicID {
		return nil, apperr.Unauthorized("not a party to appointment %s", id)
	}
	return a, nil
}

func (s *Service) ListForPatient(ctx context.Context, caller profile.Caller) ([]*Appointment, error) {
	return s.repo.ListByPatient(ctx, caller.ID)
}

func (s *Service) ListForClinic(ctx context.Context, caller profile.Caller) ([]*Appointment, error) {
	return s.repo.ListByClinic(ctx, caller.ID)
}

// List returns the caller's appointments, as patient or as clinic.
func (s *Service) List(ctx context.Context, caller profile.Caller) ([]*Appointment, error) {
	switch caller.Role {
	case profile.RolePatient:
		return s.ListForPatient(ctx, caller)
	case profile.RoleClinic:
		return s.ListForClinic(ctx, caller)
	}
	return nil, apperr.Unauthorized("doctors have no appointments")
}

// ListUpcoming returns the appointments on date in status, by time of day.
func (s *Service) ListUpcoming(ctx context.Context, date time.Time, status Status) ([]*Appointment, error) {
	return s.repo.ListByDate(ctx, date.Format(DateLayout), status)
}

func (s *Service) publish(ctx context.Context, op changefeed.Op, a *Appointment) {
	changefeed.Notify(ctx, s.feed, changefeed.NewChange(changefeed.Appointments, op, a.ID,
		"patientId", a.PatientID, "clinicId", a.ClinicID))
}
