package realtime

import (
	"context"

	"github.com/medicheck/medicheck/internal/domain/appointment"
	"github.com/medicheck/medicheck/internal/domain/connection"
	"github.com/medicheck/medicheck/internal/domain/exchange"
	"github.com/medicheck/medicheck/internal/domain/profile"
)

type ConnectionReader interface {
	ListIncoming(ctx context.Context, caller profile.Caller, f connection.Filter) ([]*connection.Request, error)
	ListOutgoing(ctx context.Context, caller profile.Caller, f connection.Filter) ([]*connection.Request, error)
}

type AppointmentReader interface {
	List(ctx context.Context, caller profile.Caller) ([]*appointment.Appointment, error)
}

type ExchangeReader interface {
	ListInbox(ctx context.Context, caller profile.Caller) ([]*exchange.Message, error)
	ListPatientReports(ctx context.Context, caller profile.Caller) ([]*exchange.Report, error)
	ListSharedReports(ctx context.Context, caller profile.Caller) ([]*exchange.Report, error)
	MarkMessageRead(ctx context.Context, caller profile.Caller, messageID string) error
}

// Sources are the services dashboards read from. The domain services satisfy
// these directly.
type Sources struct {
	Connections  ConnectionReader
	Appointments AppointmentReader
	Exchange     ExchangeReader
}
