package driven

import (
	"context"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
)

// SettingsStore persists runtime sync settings
type SettingsStore interface {
	// GetSyncSettings returns stored settings or domain.DefaultSyncSettings when none are saved
	GetSyncSettings(ctx context.Context) (*domain.SyncSettings, error)

	// SaveSyncSettings persists settings
	SaveSyncSettings(ctx context.Context, settings *domain.SyncSettings) error
}
