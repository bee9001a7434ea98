package driven

import (
	"context"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
)

// ReportStore persists reconciliation reports
type ReportStore interface {
	// Create inserts a new report
	Create(ctx context.Context, report *domain.ReconciliationReport) error

	// Save updates an existing report
	Save(ctx context.Context, report *domain.ReconciliationReport) error

	// Get retrieves a report by id
	Get(ctx context.Context, id string) (*domain.ReconciliationReport, error)

	// List returns the most recent reports first
	List(ctx context.Context, limit int) ([]*domain.ReconciliationReport, error)

	// FindByStatus returns reports in status
	FindByStatus(ctx context.Context, status domain.ReportStatus) ([]*domain.ReconciliationReport, error)
}
