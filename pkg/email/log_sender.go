package email

import (
	"context"
	"log/slog"
)

// LogSender writes emails to the logger instead of delivering them. Used in
// development and whenever Postmark is not configured.
type LogSender struct {
	log *slog.Logger
}

func NewLogSender(log *slog.Logger) *LogSender {
	return &LogSender{log: log}
}

func (s *LogSender) SendEmail(ctx context.Context, params SendEmailParams) error {
	if err := params.Validate(); err != nil {
		return err
	}
	s.log.InfoContext(ctx, "email not delivered, logging only",
		slog.String("to", params.SendTo),
		slog.String("subject", params.Subject),
		slog.String("tag", params.Tag),
		slog.Int("body_bytes", len(params.BodyHTML)),
	)
	return nil
}
