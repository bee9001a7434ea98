package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
)

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewDB(db), mock
}

var stateColumnNames = []string{
	"record_id", "status", "remote_invoice_id", "remote_invoice_number", "remote_invoice_status",
	"remote_contact_id", "remote_payment_id", "remote_payment_amount", "remote_credit_notes",
	"unapplied_credit", "pending_refund_ids", "payment_pending", "requested_draft", "last_attempt_at",
	"last_error", "last_error_kind",
	"retry_count", "created_at", "updated_at",
}

func TestRecordStateStore_Save(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewRecordStateStore(db)

	now := time.Date(2026, 3, 10, 13, 0, 0, 0, time.UTC)
	state := domain.NewSyncRecordState("1001", now)
	state.Status = domain.SyncStatusDraft
	state.RemoteInvoiceID = "INV-1"
	state.RequestedDraft = true
	state.AddPendingRefund("r-7")
	state.PaymentPending = true
	state.Touch(now)

	mock.ExpectExec("INSERT INTO sync_record_states").
		WithArgs("1001", "draft", "INV-1", "", "", "", "", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			[]byte(`["r-7"]`), true, true, sqlmock.AnyArg(), "", "", 0, now, now).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, store.Save(context.Background(), state))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordStateStore_SaveRejectsInvalidState(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewRecordStateStore(db)

	state := domain.NewSyncRecordState("1001", time.Now())
	state.RemoteInvoiceID = "INV-1" // pending with an invoice

	err := store.Save(context.Background(), state)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordStateStore_Get(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewRecordStateStore(db)

	created := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	attempted := created.Add(time.Hour)
	rows := sqlmock.NewRows(stateColumnNames).AddRow(
		"1001", "synced", "INV-1", "INV-0001", "paid", "C-1", "PAY-1", "132.50",
		[]byte(`[{"refund_id":"r-1","credit_note_id":"CN-1","amount":"10","applied":true,"created_at":"2026-03-11T00:00:00Z"}]`),
		[]byte(`{"credit_note_id":"CN-2","reason":"invoice paid","at":"2026-03-11T00:00:00Z"}`),
		[]byte(`["r-2"]`), true, false, attempted, "", "", 0, created, attempted,
	)
	mock.ExpectQuery("FROM sync_record_states s WHERE s.record_id = \\$1").
		WithArgs("1001").
		WillReturnRows(rows)

	state, err := store.Get(context.Background(), "1001")
	require.NoError(t, err)

	assert.Equal(t, domain.SyncStatusSynced, state.Status)
	assert.Equal(t, domain.RemoteInvoicePaid, state.RemoteInvoiceStatus)
	assert.True(t, state.RemotePaymentAmount.Equal(decimal.RequireFromString("132.50")))
	require.Len(t, state.RemoteCreditNotes, 1)
	assert.Equal(t, "CN-1", state.RemoteCreditNotes[0].CreditNoteID)
	require.NotNil(t, state.UnappliedCredit)
	assert.Equal(t, "CN-2", state.UnappliedCredit.CreditNoteID)
	assert.Equal(t, []string{"r-2"}, state.PendingRefundIDs)
	assert.True(t, state.PaymentPending)
	require.NotNil(t, state.LastAttemptAt)
	assert.True(t, state.LastAttemptAt.Equal(attempted))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordStateStore_GetNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewRecordStateStore(db)

	mock.ExpectQuery("FROM sync_record_states").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(stateColumnNames))

	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRecordStateStore_FindByStatus(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewRecordStateStore(db)

	now := time.Now().UTC()
	rows := sqlmock.NewRows(stateColumnNames).
		AddRow("1", "failed", "", "", "", "", "", "0", nil, nil, nil, false, false, nil, "boom", "network", 2, now, now).
		AddRow("2", "failed", "INV-2", "", "draft", "C-2", "", "0", nil, nil, nil, false, true, now, "boom", "remote", 1, now, now)
	mock.ExpectQuery("ORDER BY s.last_attempt_at ASC NULLS FIRST").
		WithArgs("failed", 50).
		WillReturnRows(rows)

	states, err := store.FindByStatus(context.Background(), domain.SyncStatusFailed, 50)
	require.NoError(t, err)
	require.Len(t, states, 2)
	assert.Nil(t, states[0].LastAttemptAt)
	assert.Equal(t, domain.ErrorKindNetwork, states[0].LastErrorKind)
	assert.Equal(t, 2, states[0].RetryCount)
	assert.True(t, states[1].RequestedDraft)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordStateStore_FindRetryable(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewRecordStateStore(db)

	now := time.Now().UTC()
	rows := sqlmock.NewRows(stateColumnNames).
		AddRow("3", "failed", "", "", "", "", "", "0", nil, nil, nil, false, false, now, "boom", "network", 1, now, now)
	mock.ExpectQuery(`WHERE s.status = \$1 AND \(\$2 <= 0 OR s.retry_count < \$2\)`).
		WithArgs("failed", 5, 2).
		WillReturnRows(rows)

	states, err := store.FindRetryable(context.Background(), 5, 2)
	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.Equal(t, "3", states[0].RecordID)
	assert.Nil(t, states[0].PendingRefundIDs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordStateStore_FindInDateRangeJoinsOrders(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewRecordStateStore(db)

	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 3, 31, 23, 59, 59, 0, time.UTC)
	mock.ExpectQuery("LEFT JOIN orders o ON o.id = s.record_id").
		WithArgs(from, to).
		WillReturnRows(sqlmock.NewRows(stateColumnNames))

	states, err := store.FindInDateRange(context.Background(), from, to)
	require.NoError(t, err)
	assert.Empty(t, states)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordStateStore_CountByStatus(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewRecordStateStore(db)

	mock.ExpectQuery("GROUP BY status").
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow("synced", 7).
			AddRow("failed", 2))

	counts, err := store.CountByStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, counts[domain.SyncStatusSynced])
	assert.Equal(t, 2, counts[domain.SyncStatusFailed])
}

func TestRecordStateStore_DeleteMissing(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewRecordStateStore(db)

	mock.ExpectExec("DELETE FROM sync_record_states").
		WithArgs("1001").
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.ErrorIs(t, store.Delete(context.Background(), "1001"), domain.ErrNotFound)
}
