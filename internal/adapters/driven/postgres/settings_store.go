package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.SettingsStore = (*SettingsStore)(nil)

// SettingsStore implements driven.SettingsStore using PostgreSQL.
// Settings live in a single JSONB row so new policy fields need no migration.
type SettingsStore struct {
	db *DB
}

// NewSettingsStore creates a new SettingsStore
func NewSettingsStore(db *DB) *SettingsStore {
	return &SettingsStore{db: db}
}

// GetSyncSettings returns the stored settings, or defaults when none are saved.
// Fields missing from an older document keep their default values.
func (s *SettingsStore) GetSyncSettings(ctx context.Context) (*domain.SyncSettings, error) {
	query := `SELECT settings, updated_at, updated_by FROM sync_settings WHERE id = 1`

	var doc []byte
	settings := domain.DefaultSyncSettings()
	var updatedBy sql.NullString

	err := s.db.QueryRowContext(ctx, query).Scan(&doc, &settings.UpdatedAt, &updatedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.DefaultSyncSettings(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("query settings: %w", err)
	}

	updatedAt := settings.UpdatedAt
	if err := scanJSON(doc, settings); err != nil {
		return nil, err
	}
	settings.UpdatedAt = updatedAt
	settings.UpdatedBy = updatedBy.String
	return settings, nil
}

// SaveSyncSettings persists settings
func (s *SettingsStore) SaveSyncSettings(ctx context.Context, settings *domain.SyncSettings) error {
	doc, err := jsonColumn(settings)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO sync_settings (id, settings, updated_at, updated_by)
		VALUES (1, $1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			settings = EXCLUDED.settings,
			updated_at = EXCLUDED.updated_at,
			updated_by = EXCLUDED.updated_by
	`
	if _, err := s.db.ExecContext(ctx, query, doc, settings.UpdatedAt, settings.UpdatedBy); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}
