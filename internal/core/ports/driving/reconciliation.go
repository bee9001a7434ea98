package driving

import (
	"context"
	"time"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
)

// ReconciliationService compares local and remote state for a period
type ReconciliationService interface {
	// GenerateReport runs a reconciliation for [start, end]
	GenerateReport(ctx context.Context, start, end time.Time) (*domain.ReconciliationReport, error)

	// MarkStaleReportsFailed fails running reports older than timeout
	MarkStaleReportsFailed(ctx context.Context, timeout time.Duration) (int, error)

	// GetReport retrieves a report
	GetReport(ctx context.Context, id string) (*domain.ReconciliationReport, error)

	// ListReports returns recent reports
	ListReports(ctx context.Context, limit int) ([]*domain.ReconciliationReport, error)
}
