package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/medicheck/medicheck/internal/platform/apperr"
)

var (
	ErrNotFound       = apperr.NotFound("appointment not found")
	ErrStatusMismatch = errors.New("appointment status changed")
)

type Repository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id string) (*Appointment, error)
	// Transition sets status to `to` when the record is in `from`.
	Transition(ctx context.Context, id string, from, to Status, at time.Time) (*Appointment, error)
	ListByPatient(ctx context.Context, patientID string) ([]*Appointment, error)
	ListByClinic(ctx context.Context, clinicID string) ([]*Appointment, error)
	ListByDate(ctx context.Context, date string, status Status) ([]*Appointment, error)
}
