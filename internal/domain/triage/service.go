package triage

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/medicheck/medicheck/internal/domain/exchange"
	"github.com/medicheck/medicheck/internal/domain/profile"
	"github.com/medicheck/medicheck/internal/platform/apperr"
)

const companionInstruction = `You are a friendly, empathetic AI health companion named MediCheck Buddy.
Talk to the user warmly. Always clarify you are an AI. User's name is %s.`

type Profiles interface {
	Get(ctx context.Context, id string) (*profile.Profile, error)
}

type Service struct {
	analyzer Analyzer
	chatter  Chatter
	profiles Profiles
}

// NewService wires the AI collaborators. Either may be nil when no API key
// is configured; the matching operation then fails as unavailable.
func NewService(analyzer Analyzer, chatter Chatter, profiles Profiles) *Service {
	return &Service{analyzer: analyzer, chatter: chatter, profiles: profiles}
}

// Analyze validates the request and calls the analyzer once. The result is
// not stored; the patient files it as a report separately.
func (s *Service) Analyze(ctx context.Context, caller profile.Caller, req AnalyzeRequest) (*exchange.Assessment, error) {
	if caller.Role != profile.RolePatient {
		return nil, apperr.Unauthorized("only patients can request a symptom analysis")
	}
	symptoms := strings.TrimSpace(req.Symptoms)
	if symptoms == "" && len(req.Attachments) == 0 {
		return nil, apperr.Invalid("describe your symptoms or attach a file")
	}
	files, err := decodeAttachments(req.Attachments)
	if err != nil {
		return nil, err
	}
	if s.analyzer == nil {
		return nil, apperr.External("symptom analysis", fmt.Errorf("analyzer not configured"))
	}

	a, err := s.analyzer.Analyze(ctx, symptoms, files)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Int("attachments", len(files)).Msg("symptom analysis failed")
		return nil, apperr.External("symptom analysis", err)
	}
	urgency, ok := exchange.ParseUrgency(string(a.Urgency))
	if !ok {
		return nil, apperr.External("symptom analysis", fmt.Errorf("unexpected urgency %q", a.Urgency))
	}
	a.Urgency = urgency
	if a.PossibleConditions == nil {
		a.PossibleConditions = []string{}
	}
	return a, nil
}

// Reply answers one companion chat message.
func (s *Service) Reply(ctx context.Context, caller profile.Caller, history []Turn, message string) (*ChatReply, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, apperr.Invalid("message is required")
	}
	if len(history) > maxHistoryTurns {
		history = history[len(history)-maxHistoryTurns:]
	}
	for _, t := range history {
		if t.Role != "user" && t.Role != "model" {
			return nil, apperr.Invalid("history roles must be user or model")
		}
	}
	if s.chatter == nil {
		return nil, apperr.External("companion", fmt.Errorf("companion not configured"))
	}
	name := caller.ID
	if p, err := s.profiles.Get(ctx, caller.ID); err == nil {
		name = p.DisplayName
	}

	text, err := s.chatter.Reply(ctx, fmt.Sprintf(companionInstruction, name), history, message)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("companion reply failed")
		return nil, apperr.External("companion", err)
	}
	if strings.TrimSpace(text) == "" {
		text = "I'm sorry, I couldn't process that."
	}
	return &ChatReply{Text: text}, nil
}

func decodeAttachments(in []Attachment) ([]File, error) {
	if len(in) > maxAttachments {
		return nil, apperr.Invalid("at most %d attachments", maxAttachments)
	}
	files := make([]File, 0, len(in))
	for i, a := range in {
		if !allowedMIMEType(a.MIMEType) {
			return nil, apperr.Invalid("attachment %d: only images and PDF documents are supported", i+1)
		}
		data := a.Data
		// Accept data URLs as produced by browser file readers.
		if idx := strings.Index(data, ";base64,"); strings.HasPrefix(data, "data:") && idx >= 0 {
			data = data[idx+len(";base64,"):]
		}
		raw, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			return nil, apperr.Invalid("attachment %d is not valid base64", i+1)
		}
		if len(raw) == 0 {
			return nil, apperr.Invalid("attachment %d is empty", i+1)
		}
		if len(raw) > maxAttachmentBytes {
			return nil, apperr.Invalid("attachment %d is larger than %d MB", i+1, maxAttachmentBytes>>20)
		}
		files = append(files, File{Data: raw, MIMEType: strings.ToLower(strings.TrimSpace(a.MIMEType))})
	}
	return files, nil
}
