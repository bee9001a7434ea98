// Package notify delivers operator notifications.
package notify

import (
	"context"
	"errors"
	"log/slog"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driven"
)

// Ensure notifiers implement Notifier
var (
	_ driven.Notifier = (*LogNotifier)(nil)
	_ driven.Notifier = (Multi)(nil)
)

// LogNotifier writes notifications to a structured logger at a level matching their severity.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a notifier on logger, or slog.Default() when nil.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger.With("component", "notifier")}
}

// Notify logs n.
func (l *LogNotifier) Notify(ctx context.Context, n domain.Notification) error {
	level := slog.LevelInfo
	switch n.Severity {
	case domain.SeverityWarning:
		level = slog.LevelWarn
	case domain.SeverityError:
		level = slog.LevelError
	}

	attrs := make([]any, 0, 2+2*len(n.Context))
	attrs = append(attrs, "message", n.Message)
	for k, v := range n.Context {
		attrs = append(attrs, k, v)
	}
	l.logger.Log(ctx, level, n.Title, attrs...)
	return nil
}

// Multi fans a notification out to every notifier and joins their errors.
type Multi []driven.Notifier

// Notify delivers n to all notifiers, even when one fails.
func (m Multi) Notify(ctx context.Context, n domain.Notification) error {
	var errs []error
	for _, notifier := range m {
		if err := notifier.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
