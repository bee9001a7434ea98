package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.RecordStateStore = (*RecordStateStore)(nil)

const recordStateColumns = `s.record_id, s.status, s.remote_invoice_id, s.remote_invoice_number,
	s.remote_invoice_status, s.remote_contact_id, s.remote_payment_id, s.remote_payment_amount,
	s.remote_credit_notes, s.unapplied_credit, s.pending_refund_ids, s.payment_pending,
	s.requested_draft, s.last_attempt_at, s.last_error, s.last_error_kind, s.retry_count,
	s.created_at, s.updated_at`

// RecordStateStore implements driven.RecordStateStore using PostgreSQL
type RecordStateStore struct {
	db *DB
}

// NewRecordStateStore creates a new RecordStateStore
func NewRecordStateStore(db *DB) *RecordStateStore {
	return &RecordStateStore{db: db}
}

// Save creates or updates the state row for a record
func (s *RecordStateStore) Save(ctx context.Context, state *domain.SyncRecordState) error {
	if err := state.Validate(); err != nil {
		return err
	}

	creditNotes, err := jsonColumn(state.RemoteCreditNotes)
	if err != nil {
		return err
	}
	var unapplied []byte
	if state.UnappliedCredit != nil {
		if unapplied, err = jsonColumn(state.UnappliedCredit); err != nil {
			return err
		}
	}
	pendingRefunds, err := jsonColumn(state.PendingRefundIDs)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO sync_record_states (
			record_id, status, remote_invoice_id, remote_invoice_number, remote_invoice_status,
			remote_contact_id, remote_payment_id, remote_payment_amount, remote_credit_notes,
			unapplied_credit, pending_refund_ids, payment_pending, requested_draft, last_attempt_at,
			last_error, last_error_kind, retry_count, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (record_id) DO UPDATE SET
			status = EXCLUDED.status,
			remote_invoice_id = EXCLUDED.remote_invoice_id,
			remote_invoice_number = EXCLUDED.remote_invoice_number,
			remote_invoice_status = EXCLUDED.remote_invoice_status,
			remote_contact_id = EXCLUDED.remote_contact_id,
			remote_payment_id = EXCLUDED.remote_payment_id,
			remote_payment_amount = EXCLUDED.remote_payment_amount,
			remote_credit_notes = EXCLUDED.remote_credit_notes,
			unapplied_credit = EXCLUDED.unapplied_credit,
			pending_refund_ids = EXCLUDED.pending_refund_ids,
			payment_pending = EXCLUDED.payment_pending,
			requested_draft = EXCLUDED.requested_draft,
			last_attempt_at = EXCLUDED.last_attempt_at,
			last_error = EXCLUDED.last_error,
			last_error_kind = EXCLUDED.last_error_kind,
			retry_count = EXCLUDED.retry_count,
			updated_at = EXCLUDED.updated_at
	`

	_, err = s.db.ExecContext(ctx, query,
		state.RecordID,
		string(state.Status),
		state.RemoteInvoiceID,
		state.RemoteInvoiceNumber,
		string(state.RemoteInvoiceStatus),
		state.RemoteContactID,
		state.RemotePaymentID,
		state.RemotePaymentAmount,
		creditNotes,
		unapplied,
		pendingRefunds,
		state.PaymentPending,
		state.RequestedDraft,
		NullTime(state.LastAttemptAt),
		state.LastError,
		string(state.LastErrorKind),
		state.RetryCount,
		state.CreatedAt,
		state.UpdatedAt,
	)
	return err
}

// Get retrieves the state for a record
func (s *RecordStateStore) Get(ctx context.Context, recordID string) (*domain.SyncRecordState, error) {
	query := `SELECT ` + recordStateColumns + ` FROM sync_record_states s WHERE s.record_id = $1`

	state, err := scanRecordState(s.db.QueryRowContext(ctx, query, recordID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return state, err
}

// Delete purges the state for a record
func (s *RecordStateStore) Delete(ctx context.Context, recordID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sync_record_states WHERE record_id = $1`, recordID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// FindByStatus returns records in status, least recently attempted first
func (s *RecordStateStore) FindByStatus(ctx context.Context, status domain.SyncStatus, limit int) ([]*domain.SyncRecordState, error) {
	query := `SELECT ` + recordStateColumns + `
		FROM sync_record_states s
		WHERE s.status = $1
		ORDER BY s.last_attempt_at ASC NULLS FIRST
		LIMIT $2`
	return s.query(ctx, query, string(status), limit)
}

// FindRetryable returns FAILED records that still have retries left, least recently attempted first.
// Exhausted records never reach the limit.
func (s *RecordStateStore) FindRetryable(ctx context.Context, maxRetries, limit int) ([]*domain.SyncRecordState, error) {
	query := `SELECT ` + recordStateColumns + `
		FROM sync_record_states s
		WHERE s.status = $1 AND ($2 <= 0 OR s.retry_count < $2)
		ORDER BY s.last_attempt_at ASC NULLS FIRST
		LIMIT $3`
	return s.query(ctx, query, string(domain.SyncStatusFailed), maxRetries, limit)
}

// FindInDateRange returns states whose order was created within [from, to].
// States without an order row fall back to their own creation time.
func (s *RecordStateStore) FindInDateRange(ctx context.Context, from, to time.Time) ([]*domain.SyncRecordState, error) {
	query := `SELECT ` + recordStateColumns + `
		FROM sync_record_states s
		LEFT JOIN orders o ON o.id = s.record_id
		WHERE COALESCE(o.created_at, s.created_at) BETWEEN $1 AND $2
		ORDER BY COALESCE(o.created_at, s.created_at) ASC`
	return s.query(ctx, query, from, to)
}

// CountByStatus returns the number of records per status
func (s *RecordStateStore) CountByStatus(ctx context.Context) (map[domain.SyncStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM sync_record_states GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.SyncStatus]int)
	for rows.Next() {
		var status domain.SyncStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (s *RecordStateStore) query(ctx context.Context, query string, args ...any) ([]*domain.SyncRecordState, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var states []*domain.SyncRecordState
	for rows.Next() {
		state, err := scanRecordState(rows)
		if err != nil {
			return nil, err
		}
		states = append(states, state)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return states, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecordState(row rowScanner) (*domain.SyncRecordState, error) {
	var state domain.SyncRecordState
	var creditNotes, unapplied, pendingRefunds []byte
	var lastAttemptAt sql.NullTime

	err := row.Scan(
		&state.RecordID,
		&state.Status,
		&state.RemoteInvoiceID,
		&state.RemoteInvoiceNumber,
		&state.RemoteInvoiceStatus,
		&state.RemoteContactID,
		&state.RemotePaymentID,
		&state.RemotePaymentAmount,
		&creditNotes,
		&unapplied,
		&pendingRefunds,
		&state.PaymentPending,
		&state.RequestedDraft,
		&lastAttemptAt,
		&state.LastError,
		&state.LastErrorKind,
		&state.RetryCount,
		&state.CreatedAt,
		&state.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	state.LastAttemptAt = TimePtr(lastAttemptAt)
	if err := scanJSON(creditNotes, &state.RemoteCreditNotes); err != nil {
		return nil, err
	}
	if err := scanJSON(pendingRefunds, &state.PendingRefundIDs); err != nil {
		return nil, err
	}
	if len(unapplied) > 0 {
		state.UnappliedCredit = &domain.UnappliedCredit{}
		if err := scanJSON(unapplied, state.UnappliedCredit); err != nil {
			return nil, err
		}
	}
	return &state, nil
}
