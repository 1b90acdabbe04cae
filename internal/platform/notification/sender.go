package notification

import (
	"context"

	"github.com/rs/zerolog"
)

// LogSender writes notifications to the log instead of a provider. It serves
// both channels.
type LogSender struct {
	logger zerolog.Logger
}

func NewLogSender(logger zerolog.Logger) *LogSender {
	return &LogSender{logger: logger.With().Str("component", "notification").Logger()}
}

func (s *LogSender) SendEmail(_ context.Context, to, subject, body string) error {
	s.logger.Info().Str("channel", string(ChannelEmail)).Str("to", to).Str("subject", subject).Str("body", body).Msg("notification sent")
	return nil
}

func (s *LogSender) SendSMS(_ context.Context, to, body string) error {
	s.logger.Info().Str("channel", string(ChannelSMS)).Str("to", to).Str("body", body).Msg("notification sent")
	return nil
}
