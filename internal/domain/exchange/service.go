package exchange

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medicheck/medicheck/internal/domain/profile"
	"github.com/medicheck/medicheck/internal/platform/apperr"
	"github.com/medicheck/medicheck/internal/platform/changefeed"
)

const (
	DefaultHistoryWindowDays = 30
	maxContentLength         = 10000
)

// Connections answers the connection questions that gate the exchange.
type Connections interface {
	ConnectedDoctorIDs(ctx context.Context, patientID string) ([]string, error)
	HasConnection(ctx context.Context, patientID, doctorID string) (bool, error)
}

type Profiles interface {
	Get(ctx context.Context, id string) (*profile.Profile, error)
}

type Service struct {
	reports     ReportRepository
	messages    MessageRepository
	connections Connections
	profiles    Profiles
	feed        changefeed.Publisher
	windowDays  int
	now         func() time.Time
}

func NewService(reports ReportRepository, messages MessageRepository, connections Connections, profiles Profiles, feed changefeed.Publisher) *Service {
	return &Service{
		reports:     reports,
		messages:    messages,
		connections: connections,
		profiles:    profiles,
		feed:        feed,
		windowDays:  DefaultHistoryWindowDays,
		now:         time.Now,
	}
}

// WithHistoryWindow sets the default History window in days.
func (s *Service) WithHistoryWindow(days int) *Service {
	if days > 0 {
		s.windowDays = days
	}
	return s
}

// FileReport stores a report shared with every doctor the patient is
// connected to at this moment. Doctors connected later never see it.
func (s *Service) FileReport(ctx context.Context, caller profile.Caller, symptoms string, a Assessment) (*Report, error) {
	if caller.Role != profile.RolePatient {
		return nil, apperr.Unauthorized("only patients can file reports")
	}
	a.Analysis = strings.TrimSpace(a.Analysis)
	if a.Analysis == "" {
		return nil, apperr.Invalid("analysis is required")
	}
	urgency, ok := ParseUrgency(string(a.Urgency))
	if !ok {
		return nil, apperr.Invalid("urgency must be Low, Medium, High or Critical")
	}
	a.Urgency = urgency
	a.PossibleConditions = compact(a.PossibleConditions)

	doctors, err := s.connections.ConnectedDoctorIDs(ctx, caller.ID)
	if err != nil {
		return nil, err
	}
	if len(doctors) == 0 {
		return nil, apperr.NoConnectedProvider()
	}
	patient, err := s.profiles.Get(ctx, caller.ID)
	if err != nil {
		return nil, err
	}

	rep := &Report{
		ID:          uuid.New().String(),
		PatientID:   caller.ID,
		PatientName: patient.DisplayName,
		Symptoms:    strings.TrimSpace(symptoms),
		Assessment:  a,
		Timestamp:   s.now().UTC(),
		SharedWith:  uniqueSorted(doctors),
		ReadBy:      []string{},
	}
	if err := s.reports.Create(ctx, rep); err != nil {
		return nil, err
	}
	s.publishReport(ctx, changefeed.OpInsert, rep)
	zerolog.Ctx(ctx).Info().Str("report_id", rep.ID).Int("shared_with", len(rep.SharedWith)).Msg("report filed")
	return rep, nil
}

// MarkReportRead records that the calling doctor has read the report.
func (s *Service) MarkReportRead(ctx context.Context, caller profile.Caller, reportID string) error {
	rep, err := s.reports.GetByID(ctx, reportID)
	if err != nil {
		return err
	}
	if !rep.SharedWithDoctor(caller.ID) {
		return apperr.Unauthorized("report %s is not shared with you", reportID)
	}
	changed, err := s.reports.AddReader(ctx, reportID, caller.ID)
	if err != nil {
		return err
	}
	if changed {
		s.publishReport(ctx, changefeed.OpUpdate, rep)
	}
	return nil
}

// SendAdvice sends a message from the calling doctor to a patient they have
// interacted with. A related report is marked read by the doctor.
func (s *Service) SendAdvice(ctx context.Context, caller profile.Caller, patientID, content, reportID string) (*Message, error) {
	if caller.Role != profile.RoleDoctor {
		return nil, apperr.Unauthorized("only doctors can send advice")
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, apperr.Invalid("content is required")
	}
	if len(content) > maxContentLength {
		return nil, apperr.Invalid("content is too long")
	}
	patient, err := s.profiles.Get(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if patient.Role != profile.RolePatient {
		return nil, apperr.Invalid("%s is not a patient", patientID)
	}

	var related *Report
	if reportID != "" {
		related, err = s.reports.GetByID(ctx, reportID)
		if err != nil {
			return nil, err
		}
		if related.PatientID != patientID {
			return nil, apperr.Invalid("report %s does not belong to patient %s", reportID, patientID)
		}
		if !related.SharedWithDoctor(caller.ID) {
			return nil, apperr.Unauthorized("report %s is not shared with you", reportID)
		}
	} else if err := s.requireInteraction(ctx, caller.ID, patientID); err != nil {
		return nil, err
	}

	doctor, err := s.profiles.Get(ctx, caller.ID)
	if err != nil {
		return nil, err
	}
	m := &Message{
		ID:          uuid.New().String(),
		DoctorID:    caller.ID,
		DoctorName:  doctor.DisplayName,
		PatientID:   patientID,
		PatientName: patient.DisplayName,
		Content:     content,
		ReportID:    reportID,
		Timestamp:   s.now().UTC(),
	}
	if err := s.messages.Create(ctx, m); err != nil {
		return nil, err
	}
	s.publishMessage(ctx, changefeed.OpInsert, m)

	if related != nil {
		// The message is already stored; a failed read mark only leaves the
		// report unread.
		if changed, err := s.reports.AddReader(ctx, related.ID, caller.ID); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("report_id", related.ID).Msg("mark report read after advice failed")
		} else if changed {
			s.publishReport(ctx, changefeed.OpUpdate, related)
		}
	}
	return m, nil
}

// requireInteraction passes when a connection record exists in any state or
// the patient has shared a report with the doctor.
func (s *Service) requireInteraction(ctx context.Context, doctorID, patientID string) error {
	ok, err := s.connections.HasConnection(ctx, patientID, doctorID)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	shared, err := s.reports.ListSharedByPatient(ctx, doctorID, patientID, time.Time{})
	if err != nil {
		return err
	}
	if len(shared) > 0 {
		return nil
	}
	return apperr.Unauthorized("no connection with patient %s", patientID)
}

// MarkMessageRead flips the message to read. Only the recipient may do so.
func (s *Service) MarkMessageRead(ctx context.Context, caller profile.Caller, messageID string) error {
	m, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return err
	}
	if m.PatientID != caller.ID {
		return apperr.Unauthorized("message %s is not addressed to you", messageID)
	}
	changed, err := s.messages.MarkRead(ctx, messageID)
	if err != nil {
		return err
	}
	if changed {
		m.Read = true
		s.publishMessage(ctx, changefeed.OpUpdate, m)
	}
	return nil
}

// History returns the patient's reports shared with the calling doctor in
// the last windowDays days and every advice message the doctor sent them.
// windowDays <= 0 selects the default window.
func (s *Service) History(ctx context.Context, caller profile.Caller, patientID string, windowDays int) (*History, error) {
	if caller.Role != profile.RoleDoctor {
		return nil, apperr.Unauthorized("only doctors can view patient history")
	}
	if windowDays <= 0 {
		windowDays = s.windowDays
	}
	since := s.now().UTC().AddDate(0, 0, -windowDays)
	reports, err := s.reports.ListSharedByPatient(ctx, caller.ID, patientID, since)
	if err != nil {
		return nil, err
	}
	advice, err := s.messages.ListByDoctorPatient(ctx, caller.ID, patientID)
	if err != nil {
		return nil, err
	}
	if reports == nil {
		reports = []*Report{}
	}
	if advice == nil {
		advice = []*Message{}
	}
	return &History{PatientID: patientID, WindowDays: windowDays, Reports: reports, Advice: advice}, nil
}

// ListPatientReports returns the calling patient's own reports.
func (s *Service) ListPatientReports(ctx context.Context, caller profile.Caller) ([]*Report, error) {
	return s.reports.ListByPatient(ctx, caller.ID)
}

// ListSharedReports returns the reports shared with the calling doctor.
func (s *Service) ListSharedReports(ctx context.Context, caller profile.Caller) ([]*Report, error) {
	return s.reports.ListSharedWith(ctx, caller.ID)
}

// ListInbox returns the advice addressed to the calling patient.
func (s *Service) ListInbox(ctx context.Context, caller profile.Caller) ([]*Message, error) {
	return s.messages.ListByPatient(ctx, caller.ID)
}

// ListSentAdvice returns the advice the calling doctor sent.
func (s *Service) ListSentAdvice(ctx context.Context, caller profile.Caller) ([]*Message, error) {
	return s.messages.ListByDoctor(ctx, caller.ID)
}

func (s *Service) UnreadAdviceCounts(ctx context.Context) (map[string]int, error) {
	return s.messages.UnreadCounts(ctx)
}

func (s *Service) publishReport(ctx context.Context, op changefeed.Op, r *Report) {
	ch := changefeed.NewChange(changefeed.Reports, op, r.ID, "patientId", r.PatientID).
		With("sharedWith", r.SharedWith...)
	changefeed.Notify(ctx, s.feed, ch)
}

func (s *Service) publishMessage(ctx context.Context, op changefeed.Op, m *Message) {
	changefeed.Notify(ctx, s.feed, changefeed.NewChange(changefeed.DoctorMessages, op, m.ID,
		"patientId", m.PatientID, "doctorId", m.DoctorID))
}

func uniqueSorted(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func compact(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
