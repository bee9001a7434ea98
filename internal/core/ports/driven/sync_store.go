package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
)

// RecordStateStore persists per-record sync state keyed by local record id
type RecordStateStore interface {
	// Get retrieves state for a record. Returns domain.ErrNotFound if none exists yet.
	Get(ctx context.Context, recordID string) (*domain.SyncRecordState, error)

	// Save creates or updates state
	Save(ctx context.Context, state *domain.SyncRecordState) error

	// Delete purges state for a record
	Delete(ctx context.Context, recordID string) error

	// FindByStatus returns up to limit records in status, oldest last_attempt_at first
	FindByStatus(ctx context.Context, status domain.SyncStatus, limit int) ([]*domain.SyncRecordState, error)

	// FindRetryable returns up to limit FAILED records with retry_count below maxRetries,
	// oldest last_attempt_at first. maxRetries <= 0 means no bound.
	FindRetryable(ctx context.Context, maxRetries, limit int) ([]*domain.SyncRecordState, error)

	// FindInDateRange returns states whose record was created within [from, to]
	FindInDateRange(ctx context.Context, from, to time.Time) ([]*domain.SyncRecordState, error)

	// CountByStatus returns the number of records per status
	CountByStatus(ctx context.Context) (map[domain.SyncStatus]int, error)
}
