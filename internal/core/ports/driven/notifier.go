package driven

import (
	"context"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
)

// Notifier surfaces errors and warnings to operators (email, chat, logs)
type Notifier interface {
	Notify(ctx context.Context, n domain.Notification) error
}
