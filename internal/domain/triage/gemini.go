package triage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/medicheck/medicheck/internal/domain/exchange"
)

const analysisPrompt = `Analyze the following symptoms and provided clinical attachments (images or documents).
Provide a structured health assessment. IMPORTANT: This is for informational purposes only.

Symptoms described by patient: %s`

var assessmentSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"analysis": {
			Type:        genai.TypeString,
			Description: "A detailed explanation of what the symptoms and attachments might indicate.",
		},
		"possibleConditions": {
			Type:        genai.TypeArray,
			Items:       &genai.Schema{Type: genai.TypeString},
			Description: "A list of potential medical conditions.",
		},
		"urgency": {
			Type:        genai.TypeString,
			Enum:        []string{"Low", "Medium", "High", "Critical"},
			Description: "Urgency level: Low, Medium, High, or Critical.",
		},
		"advice": {
			Type:        genai.TypeString,
			Description: "Immediate advice for the patient.",
		},
	},
	Required: []string{"analysis", "possibleConditions", "urgency", "advice"},
}

// Gemini calls the Gemini API for symptom analysis and companion chat.
type Gemini struct {
	client         *genai.Client
	analysisModel  string
	companionModel string
}

func NewGemini(ctx context.Context, apiKey, analysisModel, companionModel string) (*Gemini, error) {
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Gemini{client: client, analysisModel: analysisModel, companionModel: companionModel}, nil
}

func (g *Gemini) Analyze(ctx context.Context, symptoms string, files []File) (*exchange.Assessment, error) {
	parts := []*genai.Part{genai.NewPartFromText(fmt.Sprintf(analysisPrompt, symptoms))}
	for _, f := range files {
		parts = append(parts, genai.NewPartFromBytes(f.Data, f.MIMEType))
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.analysisModel,
		[]*genai.Content{{Role: "user", Parts: parts}},
		&genai.GenerateContentConfig{
			ResponseMIMEType: "application/json",
			ResponseSchema:   assessmentSchema,
		})
	if err != nil {
		return nil, err
	}
	return decodeAssessment(resp.Text())
}

func (g *Gemini) Reply(ctx context.Context, system string, history []Turn, message string) (string, error) {
	contents := make([]*genai.Content, 0, len(history)+1)
	for _, t := range history {
		contents = append(contents, &genai.Content{Role: t.Role, Parts: []*genai.Part{genai.NewPartFromText(t.Text)}})
	}
	contents = append(contents, &genai.Content{Role: "user", Parts: []*genai.Part{genai.NewPartFromText(message)}})

	resp, err := g.client.Models.GenerateContent(ctx, g.companionModel, contents, &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{genai.NewPartFromText(system)}},
	})
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

// decodeAssessment parses the model's JSON answer.
func decodeAssessment(text string) (*exchange.Assessment, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimSuffix(strings.TrimPrefix(text, "```"), "```")
	var a exchange.Assessment
	if err := json.Unmarshal([]byte(text), &a); err != nil {
		return nil, fmt.Errorf("decode assessment: %w", err)
	}
	return &a, nil
}
