package exchange

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/medicheck/medicheck/internal/domain/profile"
	"github.com/medicheck/medicheck/internal/platform/apperr"
	"github.com/medicheck/medicheck/internal/platform/changefeed"
)

// -- Mock connections --

type mockConnections struct {
	accepted map[string][]string // patient -> doctors
	pending  map[string][]string
	err      error
}

func newMockConnections() *mockConnections {
	return &mockConnections{accepted: map[string][]string{}, pending: map[string][]string{}}
}

func (m *mockConnections) ConnectedDoctorIDs(_ context.Context, patientID string) ([]string, error) {
	if m.err != nil {
		return nil, m.err
	}
	return append([]string{}, m.accepted[patientID]...), nil
}

func (m *mockConnections) HasConnection(_ context.Context, patientID, doctorID string) (bool, error) {
	return contains(m.accepted[patientID], doctorID) || contains(m.pending[patientID], doctorID), m.err
}

var (
	patient  = profile.Caller{ID: "P", Role: profile.RolePatient}
	patient2 = profile.Caller{ID: "P2", Role: profile.RolePatient}
	doctor   = profile.Caller{ID: "D", Role: profile.RoleDoctor}
	doctor2  = profile.Caller{ID: "D2", Role: profile.RoleDoctor}
)

var assessment = Assessment{
	Analysis:           "Likely viral infection.",
	PossibleConditions: []string{"Influenza", " ", "Common cold"},
	Urgency:            "medium",
	Advice:             "Rest and hydrate.",
}

type fixture struct {
	svc   *Service
	conns *mockConnections
	feed  *changefeed.Broker
	clock time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	profiles := profile.NewService(profile.NewRepoMem(), changefeed.Discard{})
	for _, p := range []*profile.Profile{
		{ID: "P", Role: profile.RolePatient, DisplayName: "Asha"},
		{ID: "P2", Role: profile.RolePatient, DisplayName: "Ravi"},
		{ID: "D", Role: profile.RoleDoctor, DisplayName: "Dr. Rao"},
		{ID: "D2", Role: profile.RoleDoctor, DisplayName: "Dr. Iyer"},
		{ID: "D3", Role: profile.RoleDoctor, DisplayName: "Dr. Sen"},
	} {
		if err := profiles.Register(context.Background(), p); err != nil {
			t.Fatal(err)
		}
	}
	f := &fixture{
		conns: newMockConnections(),
		feed:  changefeed.NewBroker(),
		clock: time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC),
	}
	f.svc = NewService(NewReportRepoMem(), NewMessageRepoMem(), f.conns, profiles, f.feed)
	f.svc.now = func() time.Time { return f.clock }
	return f
}

func TestFileReport_RequiresAcceptedDoctor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.conns.pending["P"] = []string{"D"}

	_, err := f.svc.FileReport(ctx, patient, "fever", assessment)
	if !errors.Is(err, apperr.ErrNoConnectedProvider) {
		t.Fatalf("expected NoConnectedProvider, got %v", err)
	}
	if err.Error() != "Please connect with a doctor first to share reports." {
		t.Errorf("unexpected message %q", err.Error())
	}
	reports, _ := f.svc.ListPatientReports(ctx, patient)
	if len(reports) != 0 {
		t.Errorf("expected no report to be stored, got %d", len(reports))
	}
}

func TestFileReport_SnapshotSharing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.conns.accepted["P"] = []string{"D2", "D", "D2"}

	rep, err := f.svc.FileReport(ctx, patient, " fever and cough ", assessment)
	if err != nil {
		t.Fatalf("FileReport: %v", err)
	}
	if len(rep.SharedWith) != 2 || rep.SharedWith[0] != "D" || rep.SharedWith[1] != "D2" {
		t.Errorf("expected sorted unique snapshot, got %v", rep.SharedWith)
	}
	if rep.Urgency != UrgencyMedium || len(rep.PossibleConditions) != 2 || rep.Symptoms != "fever and cough" {
		t.Errorf("unexpected normalization %+v", rep)
	}

	// A doctor connected later never sees the earlier report.
	f.conns.accepted["P"] = append(f.conns.accepted["P"], "D3")
	late := profile.Caller{ID: "D3", Role: profile.RoleDoctor}
	shared, _ := f.svc.ListSharedReports(ctx, late)
	if len(shared) != 0 {
		t.Errorf("expected snapshot to be immutable, D3 sees %d reports", len(shared))
	}
	if err := f.svc.MarkReportRead(ctx, late, rep.ID); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Errorf("expected Unauthorized for D3, got %v", err)
	}
}

func TestFileReport_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.conns.accepted["P"] = []string{"D"}

	if _, err := f.svc.FileReport(ctx, doctor, "x", assessment); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Errorf("expected Unauthorized for doctor, got %v", err)
	}
	bad := assessment
	bad.Urgency = "Severe"
	if _, err := f.svc.FileReport(ctx, patient, "x", bad); !errors.Is(err, apperr.ErrInvalid) {
		t.Errorf("expected Invalid urgency, got %v", err)
	}
	bad = assessment
	bad.Analysis = "  "
	if _, err := f.svc.FileReport(ctx, patient, "x", bad); !errors.Is(err, apperr.ErrInvalid) {
		t.Errorf("expected Invalid analysis, got %v", err)
	}
}

func TestFileReport_PublishesToSharedDoctors(t *testing.T) {
	f := newFixture(t)
	f.conns.accepted["P"] = []string{"D"}
	forD := f.feed.Listen(changefeed.Reports, "sharedWith", "D")
	forD2 := f.feed.Listen(changefeed.Reports, "sharedWith", "D2")

	if _, err := f.svc.FileReport(context.Background(), patient, "x", assessment); err != nil {
		t.Fatal(err)
	}
	select {
	case <-forD.C():
	default:
		t.Error("expected D to be signalled")
	}
	select {
	case <-forD2.C():
		t.Error("D2 must not be signalled")
	default:
	}
}

func TestMarkReportRead_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.conns.accepted["P"] = []string{"D"}
	rep, _ := f.svc.FileReport(ctx, patient, "x", assessment)

	for i := 0; i < 2; i++ {
		if err := f.svc.MarkReportRead(ctx, doctor, rep.ID); err != nil {
			t.Fatalf("MarkReportRead: %v", err)
		}
	}
	shared, _ := f.svc.ListSharedReports(ctx, doctor)
	if len(shared) != 1 || len(shared[0].ReadBy) != 1 || shared[0].ReadBy[0] != "D" {
		t.Errorf("expected a single reader, got %+v", shared)
	}
	if err := f.svc.MarkReportRead(ctx, doctor, "missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestSendAdvice_Gating(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.SendAdvice(ctx, doctor, "P", "Drink water", ""); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Errorf("expected Unauthorized without any interaction, got %v", err)
	}

	f.conns.pending["P"] = []string{"D"}
	m, err := f.svc.SendAdvice(ctx, doctor, "P", "  Drink water ", "")
	if err != nil {
		t.Fatalf("SendAdvice with pending connection: %v", err)
	}
	if m.Content != "Drink water" || m.Read || m.DoctorName != "Dr. Rao" || m.PatientName != "Asha" {
		t.Errorf("unexpected message %+v", m)
	}

	if _, err := f.svc.SendAdvice(ctx, patient, "P", "x", ""); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Errorf("expected Unauthorized for patient sender, got %v", err)
	}
	if _, err := f.svc.SendAdvice(ctx, doctor, "P", "   ", ""); !errors.Is(err, apperr.ErrInvalid) {
		t.Errorf("expected Invalid for empty content, got %v", err)
	}
	if _, err := f.svc.SendAdvice(ctx, doctor, "D2", "x", ""); !errors.Is(err, apperr.ErrInvalid) {
		t.Errorf("expected Invalid for non-patient recipient, got %v", err)
	}
}

func TestSendAdvice_SharedReportCountsAsInteraction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.conns.accepted["P"] = []string{"D"}
	rep, _ := f.svc.FileReport(ctx, patient, "x", assessment)

	// The connection is gone, the shared report remains.
	f.conns.accepted["P"] = nil
	if _, err := f.svc.SendAdvice(ctx, doctor, "P", "Follow up", ""); err != nil {
		t.Fatalf("SendAdvice: %v", err)
	}
	if _, err := f.svc.SendAdvice(ctx, doctor, "P", "Follow up", rep.ID); err != nil {
		t.Fatalf("SendAdvice with report: %v", err)
	}
}

func TestSendAdvice_RelatedReport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.conns.accepted["P"] = []string{"D"}
	f.conns.accepted["P2"] = []string{"D", "D2"}
	rep, _ := f.svc.FileReport(ctx, patient, "x", assessment)
	other, _ := f.svc.FileReport(ctx, patient2, "y", assessment)

	m, err := f.svc.SendAdvice(ctx, doctor, "P", "See me tomorrow", rep.ID)
	if err != nil {
		t.Fatalf("SendAdvice: %v", err)
	}
	if m.ReportID != rep.ID {
		t.Errorf("expected report id on message, got %q", m.ReportID)
	}
	shared, _ := f.svc.ListSharedReports(ctx, doctor)
	for _, r := range shared {
		if r.ID == rep.ID && !r.ReadByDoctor("D") {
			t.Error("expected related report to be marked read")
		}
	}

	if _, err := f.svc.SendAdvice(ctx, doctor, "P", "x", other.ID); !errors.Is(err, apperr.ErrInvalid) {
		t.Errorf("expected Invalid for a report of another patient, got %v", err)
	}
	if _, err := f.svc.SendAdvice(ctx, doctor2, "P", "x", rep.ID); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Errorf("expected Unauthorized for a report not shared with D2, got %v", err)
	}
}

func TestMarkMessageRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.conns.pending["P"] = []string{"D"}
	m, _ := f.svc.SendAdvice(ctx, doctor, "P", "x", "")

	if err := f.svc.MarkMessageRead(ctx, patient2, m.ID); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Errorf("expected Unauthorized for another patient, got %v", err)
	}
	if err := f.svc.MarkMessageRead(ctx, doctor, m.ID); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Errorf("expected Unauthorized for sender, got %v", err)
	}

	l := f.feed.Listen(changefeed.DoctorMessages, "patientId", "P")
	if err := f.svc.MarkMessageRead(ctx, patient, m.ID); err != nil {
		t.Fatalf("MarkMessageRead: %v", err)
	}
	select {
	case <-l.C():
	default:
		t.Error("expected a change on first read")
	}
	if err := f.svc.MarkMessageRead(ctx, patient, m.ID); err != nil {
		t.Fatalf("second MarkMessageRead: %v", err)
	}
	select {
	case <-l.C():
		t.Error("expected no change when already read")
	default:
	}

	inbox, _ := f.svc.ListInbox(ctx, patient)
	if len(inbox) != 1 || !inbox[0].Read {
		t.Errorf("expected read message in inbox, got %+v", inbox)
	}
}

func TestHistory_Window(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.conns.accepted["P"] = []string{"D"}
	start := f.clock

	old, _ := f.svc.FileReport(ctx, patient, "old", assessment)
	oldAdvice, _ := f.svc.SendAdvice(ctx, doctor, "P", "old advice", "")

	f.clock = start.AddDate(0, 0, 40)
	recent, _ := f.svc.FileReport(ctx, patient, "recent", assessment)
	f.clock = f.clock.Add(time.Hour)
	newAdvice, _ := f.svc.SendAdvice(ctx, doctor, "P", "new advice", "")

	hist, err := f.svc.History(ctx, doctor, "P", 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if hist.WindowDays != DefaultHistoryWindowDays {
		t.Errorf("expected default window, got %d", hist.WindowDays)
	}
	if len(hist.Reports) != 1 || hist.Reports[0].ID != recent.ID {
		t.Errorf("expected only the recent report, got %+v", hist.Reports)
	}
	if len(hist.Advice) != 2 || hist.Advice[0].ID != newAdvice.ID || hist.Advice[1].ID != oldAdvice.ID {
		t.Errorf("expected all advice newest first, got %+v", hist.Advice)
	}

	wide, _ := f.svc.History(ctx, doctor, "P", 60)
	if len(wide.Reports) != 2 || wide.Reports[0].ID != recent.ID || wide.Reports[1].ID != old.ID {
		t.Errorf("expected both reports newest first, got %+v", wide.Reports)
	}

	other, _ := f.svc.History(ctx, doctor2, "P", 60)
	if len(other.Reports) != 0 || len(other.Advice) != 0 {
		t.Errorf("expected nothing for D2, got %+v", other)
	}
	if _, err := f.svc.History(ctx, patient, "P", 0); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Errorf("expected Unauthorized for patient, got %v", err)
	}
}

func TestHistory_ConfiguredWindow(t *testing.T) {
	f := newFixture(t)
	f.svc.WithHistoryWindow(7)
	hist, err := f.svc.History(context.Background(), doctor, "P", -1)
	if err != nil {
		t.Fatal(err)
	}
	if hist.WindowDays != 7 {
		t.Errorf("expected 7, got %d", hist.WindowDays)
	}
}

func TestUnreadAdviceCounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.conns.pending["P"] = []string{"D"}
	f.conns.pending["P2"] = []string{"D"}
	a, _ := f.svc.SendAdvice(ctx, doctor, "P", "one", "")
	_, _ = f.svc.SendAdvice(ctx, doctor, "P", "two", "")
	_, _ = f.svc.SendAdvice(ctx, doctor, "P2", "three", "")
	_ = f.svc.MarkMessageRead(ctx, patient, a.ID)

	counts, err := f.svc.UnreadAdviceCounts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts["P"] != 1 || counts["P2"] != 1 {
		t.Errorf("unexpected counts %v", counts)
	}
}
