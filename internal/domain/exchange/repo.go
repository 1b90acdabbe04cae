package exchange

import (
	"context"
	"time"

	"github.com/medicheck/medicheck/internal/platform/apperr"
)

var (
	ErrReportNotFound  = apperr.NotFound("report not found")
	ErrMessageNotFound = apperr.NotFound("message not found")
)

type ReportRepository interface {
	Create(ctx context.Context, r *Report) error
	GetByID(ctx context.Context, id string) (*Report, error)
	// AddReader appends doctorID to read_by unless present. It reports
	// whether the set changed.
	AddReader(ctx context.Context, id, doctorID string) (bool, error)
	ListByPatient(ctx context.Context, patientID string) ([]*Report, error)
	ListSharedWith(ctx context.Context, doctorID string) ([]*Report, error)
	// ListSharedByPatient returns the patient's reports shared with the
	// doctor and filed at or after since.
	ListSharedByPatient(ctx context.Context, doctorID, patientID string, since time.Time) ([]*Report, error)
}

type MessageRepository interface {
	Create(ctx context.Context, m *Message) error
	GetByID(ctx context.Context, id string) (*Message, error)
	// MarkRead flips read to true and reports whether it changed.
	MarkRead(ctx context.Context, id string) (bool, error)
	ListByPatient(ctx context.Context, patientID string) ([]*Message, error)
	ListByDoctor(ctx context.Context, doctorID string) ([]*Message, error)
	ListByDoctorPatient(ctx context.Context, doctorID, patientID string) ([]*Message, error)
	// UnreadCounts returns the number of unread messages per patient.
	UnreadCounts(ctx context.Context) (map[string]int, error)
}
