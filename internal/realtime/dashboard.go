package realtime

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/medicheck/medicheck/internal/domain/appointment"
	"github.com/medicheck/medicheck/internal/domain/connection"
	"github.com/medicheck/medicheck/internal/domain/exchange"
	"github.com/medicheck/medicheck/internal/domain/profile"
	"github.com/medicheck/medicheck/internal/platform/apperr"
	"github.com/medicheck/medicheck/internal/platform/changefeed"
	"github.com/medicheck/medicheck/internal/platform/websocket"
	"github.com/medicheck/medicheck/internal/session"
)

// Section names.
const (
	SectionInbox        = "inbox"
	SectionRequests     = "requests"
	SectionAppointments = "appointments"
	SectionReports      = "reports"
	SectionShared       = "sharedReports"
	SectionPending      = "pendingRequests"
	SectionPatients     = "connectedPatients"
	SectionClinics      = "clinicRequests"
	SectionAssociations = "associations"
)

const (
	TabOverview = "overview"
	TabInbox    = "inbox"
)

var tabsByRole = map[profile.Role][]string{
	profile.RolePatient: {TabOverview, TabInbox, "doctors", "appointments", "reports", "companion"},
	profile.RoleDoctor:  {TabOverview, "reports", "requests", "patients", "clinics"},
	profile.RoleClinic:  {TabOverview, "appointments", "staff"},
}

// ErrClosed is returned by commands sent to a closed dashboard.
var ErrClosed = errors.New("dashboard closed")

type SectionState struct {
	Loading bool        `json:"loading"`
	Error   string      `json:"error,omitempty"`
	Items   interface{} `json:"items"`
}

// State is one rendering of a dashboard.
type State struct {
	Role     profile.Role            `json:"role"`
	Profile  *profile.Summary        `json:"profile,omitempty"`
	Theme    session.Theme           `json:"theme"`
	Tab      string                  `json:"tab"`
	Sections map[string]SectionState `json:"sections"`
	Badges   map[string]int          `json:"badges"`
}

type section struct {
	loading bool
	err     string
	items   interface{}
}

// Dashboard merges the live queries of one session. All state below the
// channels is owned by the run goroutine.
type Dashboard struct {
	sess   *session.Session
	src    Sources
	broker *changefeed.Broker
	logger zerolog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	updates chan func()
	out     chan State
	done    chan struct{}
	subs    []*Subscription
	workers sync.WaitGroup
	once    sync.Once

	sections map[string]*section
	tab      string
	marking  map[string]bool
}

// Open builds the dashboard for the session's role and starts its live
// queries. The first state has every section loading.
func Open(ctx context.Context, sess *session.Session, broker *changefeed.Broker, src Sources, logger zerolog.Logger) (*Dashboard, error) {
	if _, ok := tabsByRole[sess.Caller.Role]; !ok {
		return nil, apperr.Unauthorized("a profile is required before opening a dashboard")
	}
	ctx, cancel := context.WithCancel(ctx)
	d := &Dashboard{
		sess:     sess,
		src:      src,
		broker:   broker,
		logger:   logger.With().Str("user_id", sess.Caller.ID).Str("role", string(sess.Caller.Role)).Logger(),
		ctx:      ctx,
		cancel:   cancel,
		updates:  make(chan func()),
		out:      make(chan State, 1),
		done:     make(chan struct{}),
		sections: make(map[string]*section),
		tab:      TabOverview,
		marking:  make(map[string]bool),
	}

	caller := sess.Caller
	id := caller.ID
	switch caller.Role {
	case profile.RolePatient:
		watch(d, Query[*exchange.Message]{
			Name: SectionInbox, Collection: changefeed.DoctorMessages, Field: "patientId", Value: id,
			Fetch: func(ctx context.Context) ([]*exchange.Message, error) { return src.Exchange.ListInbox(ctx, caller) },
		})
		watch(d, Query[*connection.Request]{
			Name: SectionRequests, Collection: changefeed.ConnectionRequests, Field: "fromId", Value: id,
			Fetch: func(ctx context.Context) ([]*connection.Request, error) {
				return src.Connections.ListOutgoing(ctx, caller, connection.Filter{})
			},
		})
		watch(d, Query[*appointment.Appointment]{
			Name: SectionAppointments, Collection: changefeed.Appointments, Field: "patientId", Value: id,
			Fetch: func(ctx context.Context) ([]*appointment.Appointment, error) { return src.Appointments.List(ctx, caller) },
		})
		watch(d, Query[*exchange.Report]{
			Name: SectionReports, Collection: changefeed.Reports, Field: "patientId", Value: id,
			Fetch: func(ctx context.Context) ([]*exchange.Report, error) { return src.Exchange.ListPatientReports(ctx, caller) },
		})
	case profile.RoleDoctor:
		watch(d, Query[*exchange.Report]{
			Name: SectionShared, Collection: changefeed.Reports, Field: "sharedWith", Value: id,
			Fetch: func(ctx context.Context) ([]*exchange.Report, error) { return src.Exchange.ListSharedReports(ctx, caller) },
		})
		watch(d, Query[*connection.Request]{
			Name: SectionPending, Collection: changefeed.ConnectionRequests, Field: "toId", Value: id,
			Fetch: func(ctx context.Context) ([]*connection.Request, error) {
				return src.Connections.ListIncoming(ctx, caller, connection.Filter{Status: connection.StatusPending})
			},
		})
		watch(d, Query[*connection.Request]{
			Name: SectionPatients, Collection: changefeed.ConnectionRequests, Field: "toId", Value: id,
			Fetch: func(ctx context.Context) ([]*connection.Request, error) {
				return src.Connections.ListIncoming(ctx, caller, connection.Filter{Status: connection.StatusAccepted})
			},
		})
		watch(d, Query[*connection.Request]{
			Name: SectionClinics, Collection: changefeed.ConnectionRequests, Field: "fromId", Value: id,
			Fetch: func(ctx context.Context) ([]*connection.Request, error) {
				return src.Connections.ListOutgoing(ctx, caller, connection.Filter{ToRole: profile.RoleClinic})
			},
		})
	case profile.RoleClinic:
		watch(d, Query[*appointment.Appointment]{
			Name: SectionAppointments, Collection: changefeed.Appointments, Field: "clinicId", Value: id,
			Fetch: func(ctx context.Context) ([]*appointment.Appointment, error) { return src.Appointments.List(ctx, caller) },
		})
		watch(d, Query[*connection.Request]{
			Name: SectionAssociations, Collection: changefeed.ConnectionRequests, Field: "toId", Value: id,
			Fetch: func(ctx context.Context) ([]*connection.Request, error) {
				return src.Connections.ListIncoming(ctx, caller, connection.Filter{})
			},
		})
	}

	go d.run()
	return d, nil
}

func watch[T any](d *Dashboard, q Query[T]) {
	d.sections[q.Name] = &section{loading: true}
	sub := Subscribe(d.ctx, d.broker, q, func(s Snapshot[T]) {
		_ = d.post(func() { d.apply(s.Query, s.Items, s.Err) })
	})
	d.subs = append(d.subs, sub)
}

// States yields dashboard states. Unread states are replaced by newer ones.
// The channel is closed by Close.
func (d *Dashboard) States() <-chan State { return d.out }

// SetTab switches the active tab.
func (d *Dashboard) SetTab(tab string) error {
	if !validTab(d.sess.Caller.Role, tab) {
		return apperr.Invalid("unknown tab %q", tab)
	}
	return d.post(func() {
		d.tab = tab
		d.readOnView()
		d.emit()
	})
}

// ToggleTheme flips and persists the session theme.
func (d *Dashboard) ToggleTheme() error {
	return d.post(func() {
		if _, err := d.sess.ToggleTheme(d.ctx); err != nil {
			d.logger.Error().Err(err).Msg("persist theme")
		}
		d.emit()
	})
}

// Dispatch applies a client message received over the dashboard socket.
func (d *Dashboard) Dispatch(msg websocket.ClientMessage) error {
	switch msg.Action {
	case "tab":
		return d.SetTab(msg.Tab)
	case "toggle-theme":
		return d.ToggleTheme()
	default:
		return apperr.Invalid("unknown action %q", msg.Action)
	}
}

// Close stops every live query and waits for the dashboard to wind down.
func (d *Dashboard) Close() {
	d.once.Do(func() {
		d.cancel()
		for _, s := range d.subs {
			s.Close()
		}
		<-d.done
		d.workers.Wait()
		close(d.out)
	})
}

func (d *Dashboard) post(fn func()) error {
	select {
	case d.updates <- fn:
		return nil
	case <-d.ctx.Done():
		return ErrClosed
	}
}

func (d *Dashboard) run() {
	defer close(d.done)
	d.emit()
	for {
		select {
		case <-d.ctx.Done():
			return
		case fn := <-d.updates:
			fn()
		}
	}
}

func (d *Dashboard) apply(name string, items interface{}, err error) {
	s := d.sections[name]
	if err != nil {
		d.logger.Warn().Err(err).Str("section", name).Msg("live query fetch failed")
		s.loading, s.err, s.items = true, err.Error(), nil
	} else {
		s.loading, s.err, s.items = false, "", items
	}
	if name == SectionInbox {
		d.readOnView()
	}
	d.emit()
}

// readOnView marks every unread inbox message while the inbox tab is active.
func (d *Dashboard) readOnView() {
	if d.sess.Caller.Role != profile.RolePatient || d.tab != TabInbox {
		return
	}
	for _, m := range itemsOf[*exchange.Message](d, SectionInbox) {
		if m.Read || d.marking[m.ID] {
			continue
		}
		id := m.ID
		d.marking[id] = true
		d.workers.Add(1)
		go func() {
			defer d.workers.Done()
			if err := d.src.Exchange.MarkMessageRead(d.ctx, d.sess.Caller, id); err != nil && d.ctx.Err() == nil {
				d.logger.Warn().Err(err).Str("message_id", id).Msg("mark message read")
			}
			_ = d.post(func() { delete(d.marking, id) })
		}()
	}
}

func (d *Dashboard) emit() {
	st := State{
		Role:     d.sess.Caller.Role,
		Theme:    d.sess.Theme(),
		Tab:      d.tab,
		Sections: make(map[string]SectionState, len(d.sections)),
		Badges:   d.badges(),
	}
	if d.sess.Profile != nil {
		sum := d.sess.Profile.Summary()
		st.Profile = &sum
	}
	for name, s := range d.sections {
		st.Sections[name] = SectionState{Loading: s.loading, Error: s.err, Items: s.items}
	}

	select {
	case <-d.out:
	default:
	}
	d.out <- st
}

func itemsOf[T any](d *Dashboard, name string) []T {
	s, ok := d.sections[name]
	if !ok {
		return nil
	}
	items, _ := s.items.([]T)
	return items
}

func validTab(role profile.Role, tab string) bool {
	for _, t := range tabsByRole[role] {
		if t == tab {
			return true
		}
	}
	return false
}
