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
var _ driven.ReportStore = (*ReportStore)(nil)

const reportColumns = `id, period_start, period_end, status, tolerance, summary, discrepancies,
	error, started_at, generated_at`

// ReportStore implements driven.ReportStore using PostgreSQL.
// Summary and discrepancies are stored as JSONB documents.
type ReportStore struct {
	db *DB
}

// NewReportStore creates a new ReportStore
func NewReportStore(db *DB) *ReportStore {
	return &ReportStore{db: db}
}

// Create inserts a new report
func (s *ReportStore) Create(ctx context.Context, report *domain.ReconciliationReport) error {
	summary, discrepancies, err := reportDocuments(report)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO reconciliation_reports (` + reportColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = s.db.ExecContext(ctx, query,
		report.ID,
		report.PeriodStart,
		report.PeriodEnd,
		string(report.Status),
		report.Tolerance,
		summary,
		discrepancies,
		report.Error,
		report.StartedAt,
		NullTime(report.GeneratedAt),
	)
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	return nil
}

// Save updates the mutable fields of a report
func (s *ReportStore) Save(ctx context.Context, report *domain.ReconciliationReport) error {
	summary, discrepancies, err := reportDocuments(report)
	if err != nil {
		return err
	}

	query := `
		UPDATE reconciliation_reports
		SET status = $1, summary = $2, discrepancies = $3, error = $4, generated_at = $5
		WHERE id = $6
	`
	result, err := s.db.ExecContext(ctx, query,
		string(report.Status),
		summary,
		discrepancies,
		report.Error,
		NullTime(report.GeneratedAt),
		report.ID,
	)
	if err != nil {
		return fmt.Errorf("update report: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Get retrieves a report by id
func (s *ReportStore) Get(ctx context.Context, id string) (*domain.ReconciliationReport, error) {
	query := `SELECT ` + reportColumns + ` FROM reconciliation_reports WHERE id = $1`

	report, err := scanReport(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return report, err
}

// List returns the most recent reports first
func (s *ReportStore) List(ctx context.Context, limit int) ([]*domain.ReconciliationReport, error) {
	query := `SELECT ` + reportColumns + `
		FROM reconciliation_reports
		ORDER BY started_at DESC
		LIMIT $1`
	return s.query(ctx, query, limit)
}

// FindByStatus returns reports in status, oldest first
func (s *ReportStore) FindByStatus(ctx context.Context, status domain.ReportStatus) ([]*domain.ReconciliationReport, error) {
	query := `SELECT ` + reportColumns + `
		FROM reconciliation_reports
		WHERE status = $1
		ORDER BY started_at ASC`
	return s.query(ctx, query, string(status))
}

func (s *ReportStore) query(ctx context.Context, query string, args ...any) ([]*domain.ReconciliationReport, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query reports: %w", err)
	}
	defer rows.Close()

	var reports []*domain.ReconciliationReport
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reports: %w", err)
	}
	return reports, nil
}

func reportDocuments(report *domain.ReconciliationReport) (summary, discrepancies []byte, err error) {
	if summary, err = jsonColumn(report.Summary); err != nil {
		return nil, nil, err
	}
	list := report.Discrepancies
	if list == nil {
		list = []domain.Discrepancy{}
	}
	if discrepancies, err = jsonColumn(list); err != nil {
		return nil, nil, err
	}
	return summary, discrepancies, nil
}

func scanReport(row rowScanner) (*domain.ReconciliationReport, error) {
	var r domain.ReconciliationReport
	var summary, discrepancies []byte
	var generatedAt sql.NullTime

	err := row.Scan(
		&r.ID,
		&r.PeriodStart,
		&r.PeriodEnd,
		&r.Status,
		&r.Tolerance,
		&summary,
		&discrepancies,
		&r.Error,
		&r.StartedAt,
		&generatedAt,
	)
	if err != nil {
		return nil, err
	}

	r.GeneratedAt = TimePtr(generatedAt)
	if err := scanJSON(summary, &r.Summary); err != nil {
		return nil, err
	}
	if err := scanJSON(discrepancies, &r.Discrepancies); err != nil {
		return nil, err
	}
	return &r, nil
}
