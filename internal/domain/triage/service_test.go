package triage

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/medicheck/medicheck/internal/domain/exchange"
	"github.com/medicheck/medicheck/internal/domain/profile"
	"github.com/medicheck/medicheck/internal/platform/apperr"
	"github.com/medicheck/medicheck/internal/platform/changefeed"
)

type mockAnalyzer struct {
	calls  int
	files  []File
	result *exchange.Assessment
	err    error
}

func (m *mockAnalyzer) Analyze(_ context.Context, _ string, files []File) (*exchange.Assessment, error) {
	m.calls++
	m.files = files
	if m.err != nil {
		return nil, m.err
	}
	out := *m.result
	return &out, nil
}

type mockChatter struct {
	system  string
	history []Turn
	reply   string
	err     error
}

func (m *mockChatter) Reply(_ context.Context, system string, history []Turn, _ string) (string, error) {
	m.system, m.history = system, history
	return m.reply, m.err
}

var patient = profile.Caller{ID: "P", Role: profile.RolePatient}

func newTestService(t *testing.T, a Analyzer, c Chatter) *Service {
	t.Helper()
	profiles := profile.NewService(profile.NewRepoMem(), changefeed.Discard{})
	if err := profiles.Register(context.Background(), &profile.Profile{ID: "P", Role: profile.RolePatient, DisplayName: "Asha"}); err != nil {
		t.Fatal(err)
	}
	return NewService(a, c, profiles)
}

func validAssessment() *exchange.Assessment {
	return &exchange.Assessment{Analysis: "Viral", PossibleConditions: []string{"Flu"}, Urgency: "high", Advice: "Rest"}
}

func TestAnalyze(t *testing.T) {
	m := &mockAnalyzer{result: validAssessment()}
	svc := newTestService(t, m, nil)
	img := base64.StdEncoding.EncodeToString([]byte("fake-png"))

	a, err := svc.Analyze(context.Background(), patient, AnalyzeRequest{
		Symptoms:    "rash",
		Attachments: []Attachment{{Data: "data:image/png;base64," + img, MIMEType: "image/png"}},
	})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if a.Urgency != exchange.UrgencyHigh {
		t.Errorf("expected normalized urgency, got %s", a.Urgency)
	}
	if m.calls != 1 || len(m.files) != 1 || string(m.files[0].Data) != "fake-png" {
		t.Errorf("expected one call with decoded attachment, got %d %+v", m.calls, m.files)
	}
}

func TestAnalyze_Validation(t *testing.T) {
	m := &mockAnalyzer{result: validAssessment()}
	svc := newTestService(t, m, nil)
	ctx := context.Background()
	ok := base64.StdEncoding.EncodeToString([]byte("x"))

	tests := []struct {
		name   string
		caller profile.Caller
		req    AnalyzeRequest
		want   error
	}{
		{"doctor", profile.Caller{ID: "D", Role: profile.RoleDoctor}, AnalyzeRequest{Symptoms: "x"}, apperr.ErrUnauthorized},
		{"empty", patient, AnalyzeRequest{Symptoms: "  "}, apperr.ErrInvalid},
		{"bad base64", patient, AnalyzeRequest{Attachments: []Attachment{{Data: "%%%", MIMEType: "image/png"}}}, apperr.ErrInvalid},
		{"bad mime", patient, AnalyzeRequest{Attachments: []Attachment{{Data: ok, MIMEType: "text/plain"}}}, apperr.ErrInvalid},
		{"too many", patient, AnalyzeRequest{Attachments: make([]Attachment, maxAttachments+1)}, apperr.ErrInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Analyze(ctx, tt.caller, tt.req); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
	if m.calls != 0 {
		t.Errorf("analyzer must not be called for invalid requests, got %d calls", m.calls)
	}

	// A PDF alone is enough.
	if _, err := svc.Analyze(ctx, patient, AnalyzeRequest{Attachments: []Attachment{{Data: ok, MIMEType: "application/pdf"}}}); err != nil {
		t.Errorf("expected PDF-only request to pass, got %v", err)
	}
}

func TestAnalyze_FailureIsExternalAndNotRetried(t *testing.T) {
	m := &mockAnalyzer{err: errors.New("quota exceeded")}
	svc := newTestService(t, m, nil)

	_, err := svc.Analyze(context.Background(), patient, AnalyzeRequest{Symptoms: "cough"})
	if !errors.Is(err, apperr.ErrExternalServiceFailure) {
		t.Fatalf("expected ExternalServiceFailure, got %v", err)
	}
	if m.calls != 1 {
		t.Errorf("expected exactly one call, got %d", m.calls)
	}

	bad := validAssessment()
	bad.Urgency = "Unknown"
	svc = newTestService(t, &mockAnalyzer{result: bad}, nil)
	if _, err := svc.Analyze(context.Background(), patient, AnalyzeRequest{Symptoms: "cough"}); !errors.Is(err, apperr.ErrExternalServiceFailure) {
		t.Errorf("expected ExternalServiceFailure for bad urgency, got %v", err)
	}

	svc = newTestService(t, nil, nil)
	if _, err := svc.Analyze(context.Background(), patient, AnalyzeRequest{Symptoms: "cough"}); !errors.Is(err, apperr.ErrExternalServiceFailure) {
		t.Errorf("expected ExternalServiceFailure without analyzer, got %v", err)
	}
}

func TestReply(t *testing.T) {
	c := &mockChatter{reply: "Hello Asha, I am an AI."}
	svc := newTestService(t, nil, c)

	reply, err := svc.Reply(context.Background(), patient, []Turn{{Role: "user", Text: "hi"}, {Role: "model", Text: "hello"}}, "how are you?")
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if reply.Text != "Hello Asha, I am an AI." {
		t.Errorf("unexpected reply %q", reply.Text)
	}
	if !strings.Contains(c.system, "User's name is Asha.") {
		t.Errorf("expected system instruction to carry the display name, got %q", c.system)
	}

	if _, err := svc.Reply(context.Background(), patient, []Turn{{Role: "system", Text: "x"}}, "hi"); !errors.Is(err, apperr.ErrInvalid) {
		t.Errorf("expected Invalid history role, got %v", err)
	}
	if _, err := svc.Reply(context.Background(), patient, nil, " "); !errors.Is(err, apperr.ErrInvalid) {
		t.Errorf("expected Invalid empty message, got %v", err)
	}
}

func TestReply_EmptyAnswerFallback(t *testing.T) {
	svc := newTestService(t, nil, &mockChatter{reply: ""})
	reply, err := svc.Reply(context.Background(), patient, nil, "hi")
	if err != nil {
		t.Fatal(err)
	}
	if reply.Text != "I'm sorry, I couldn't process that." {
		t.Errorf("unexpected fallback %q", reply.Text)
	}
}

func TestDecodeAssessment(t *testing.T) {
	a, err := decodeAssessment("```json\n{\"analysis\":\"a\",\"possibleConditions\":[\"b\"],\"urgency\":\"Low\",\"advice\":\"c\"}\n```")
	if err != nil {
		t.Fatalf("decodeAssessment: %v", err)
	}
	if a.Analysis != "a" || a.Urgency != exchange.UrgencyLow {
		t.Errorf("unexpected %+v", a)
	}
	if _, err := decodeAssessment("not json"); err == nil {
		t.Error("expected error")
	}
}
