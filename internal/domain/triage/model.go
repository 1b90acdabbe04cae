package triage

import "strings"

const (
	maxAttachments     = 5
	maxAttachmentBytes = 10 << 20
	maxHistoryTurns    = 40
)

// Attachment is a clinical image or document, base64-encoded by the client.
type Attachment struct {
	Data     string `json:"data"`
	MIMEType string `json:"mimeType"`
}

// File is a decoded attachment ready to be sent to the model.
type File struct {
	Data     []byte
	MIMEType string
}

type AnalyzeRequest struct {
	Symptoms    string       `json:"symptoms"`
	Attachments []Attachment `json:"attachments"`
}

// Turn is one message of a companion conversation.
type Turn struct {
	Role string `json:"role"` // "user" or "model"
	Text string `json:"text"`
}

type ChatRequest struct {
	History []Turn `json:"history"`
	Message string `json:"message"`
}

type ChatReply struct {
	Text string `json:"text"`
}

func allowedMIMEType(mt string) bool {
	mt = strings.ToLower(strings.TrimSpace(mt))
	return strings.HasPrefix(mt, "image/") || mt == "application/pdf"
}
