package triage

import (
	"context"

	"github.com/medicheck/medicheck/internal/domain/exchange"
)

// Analyzer produces a structured assessment from symptoms and attachments.
type Analyzer interface {
	Analyze(ctx context.Context, symptoms string, files []File) (*exchange.Assessment, error)
}

// Chatter continues a conversation under a system instruction.
type Chatter interface {
	Reply(ctx context.Context, system string, history []Turn, message string) (string, error)
}
