// Package notify defines the outbound notification boundary. Delivery
// is a collaborator concern; the core only formats and hands off.
package notify

import (
	"context"
	"log/slog"
)

// Sender delivers a notification to one or more recipients.
type Sender interface {
	Send(ctx context.Context, recipients []string, subject, body string) error
}

// LogSender writes notifications to the log instead of delivering them.
// Used when no mail transport is configured.
type LogSender struct {
	Logger *slog.Logger
}

func (l *LogSender) Send(_ context.Context, recipients []string, subject, body string) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("notification",
		slog.Any("recipients", recipients),
		slog.String("subject", subject),
		slog.Int("body_bytes", len(body)))

	return nil
}
