package notifier

import (
	"context"
	"log/slog"

	"github.com/utafrali/authcore/pkg/logger"
)

// LogTransport writes a line per message instead of sending mail. It is the
// development transport. Links carry raw tokens and are never logged.
type LogTransport struct {
	logger *slog.Logger
}

// NewLogTransport creates a LogTransport.
func NewLogTransport(logger *slog.Logger) *LogTransport {
	return &LogTransport{logger: logger}
}

// Deliver implements Transport.
func (t *LogTransport) Deliver(ctx context.Context, msg Message) error {
	t.logger.InfoContext(ctx, "email delivered to log",
		slog.String("kind", msg.Kind),
		slog.String("to", logger.MaskEmail(msg.To)),
		slog.String("subject", msg.Subject),
	)
	return nil
}
