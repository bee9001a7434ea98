package postgres

import (
	"context"
	"database/sql/driver"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
)

var orderColumnNames = []string{
	"id", "number", "reference", "customer_email", "customer_name", "customer_phone",
	"currency", "total", "paid_amount", "payment_gateway", "gateway_currency", "custom_fields",
	"status", "created_at", "paid_at",
}

func TestOrderStore_Get(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewOrderStore(db)
	created := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery("FROM orders WHERE id = \\$1").
		WithArgs("1001").
		WillReturnRows(sqlmock.NewRows(orderColumnNames).AddRow(
			"1001", "ORD-1001", "", "ada@example.com", "Ada", "", "USD", "132.50", "132.50",
			"stripe", "EUR", []byte(`{"po":"PO-7"}`), "paid", created, created,
		))
	mock.ExpectQuery("FROM order_line_items").
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"order_id", "sku", "description", "quantity", "unit_price", "tax_amount", "account_code"}).
			AddRow("1001", "SKU-1", "Widget", "2", "60.00", "12.50", "200"))

	order, err := store.Get(context.Background(), "1001")
	require.NoError(t, err)

	assert.Equal(t, domain.OrderStatusPaid, order.Status)
	assert.Equal(t, "ORD-1001", order.InvoiceReference())
	assert.Equal(t, "EUR", order.GatewayCurrencyOrDefault())
	assert.Equal(t, "PO-7", order.CustomFields["po"])
	require.Len(t, order.LineItems, 1)
	assert.True(t, order.LineItems[0].Amount().Equal(decimal.RequireFromString("132.50")))
	require.NotNil(t, order.PaidAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderStore_GetNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewOrderStore(db)

	mock.ExpectQuery("FROM orders").WithArgs("x").WillReturnRows(sqlmock.NewRows(orderColumnNames))

	_, err := store.Get(context.Background(), "x")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestOrderStore_ListInRangeEmpty(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewOrderStore(db)
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)

	mock.ExpectQuery("WHERE created_at BETWEEN \\$1 AND \\$2").
		WithArgs(from, to).
		WillReturnRows(sqlmock.NewRows(orderColumnNames))

	orders, err := store.ListInRange(context.Background(), from, to)
	require.NoError(t, err)
	assert.Empty(t, orders)
	// No line-item query for an empty page
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderStore_GetRefund(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewOrderStore(db)

	mock.ExpectQuery("FROM order_refunds").
		WithArgs("1001", "r-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "order_id", "amount", "reason", "created_at"}).
			AddRow("r-1", "1001", "20.00", "damaged", time.Now()))

	refund, err := store.GetRefund(context.Background(), "1001", "r-1")
	require.NoError(t, err)
	assert.True(t, refund.Amount.Equal(decimal.NewFromInt(20)))
	assert.NoError(t, refund.Validate())
}

var reportColumnNames = []string{
	"id", "period_start", "period_end", "status", "tolerance", "summary", "discrepancies",
	"error", "started_at", "generated_at",
}

func TestReportStore_CreateAndGet(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewReportStore(db)
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)

	report := &domain.ReconciliationReport{
		ID:          "rep-1",
		PeriodStart: start,
		PeriodEnd:   end,
		Status:      domain.ReportStatusRunning,
		Tolerance:   decimal.RequireFromString("0.05"),
		StartedAt:   start,
	}
	mock.ExpectExec("INSERT INTO reconciliation_reports").
		WithArgs("rep-1", start, end, "running", sqlmock.AnyArg(), sqlmock.AnyArg(), []byte(`[]`), "", start, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	require.NoError(t, store.Create(context.Background(), report))

	generated := end.Add(time.Hour)
	mock.ExpectQuery("FROM reconciliation_reports WHERE id = \\$1").
		WithArgs("rep-1").
		WillReturnRows(sqlmock.NewRows(reportColumnNames).AddRow(
			"rep-1", start, end, "completed", "0.05",
			[]byte(`{"local_records":3,"remote_invoices":2,"matched":1,"amount_mismatches":1}`),
			[]byte(`[{"kind":"amount_mismatch","record_id":"1001","delta":"0.1","message":"total differs","actions":["resync","review"]}]`),
			"", start, generated,
		))

	got, err := store.Get(context.Background(), "rep-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ReportStatusCompleted, got.Status)
	assert.Equal(t, 1, got.Summary.AmountMismatches)
	require.Len(t, got.Discrepancies, 1)
	assert.True(t, got.Discrepancies[0].Delta.Equal(decimal.RequireFromString("0.10")))
	assert.Equal(t, []domain.ResolutionAction{domain.ActionResync, domain.ActionReview}, got.Discrepancies[0].Actions)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReportStore_SaveMissing(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewReportStore(db)

	mock.ExpectExec("UPDATE reconciliation_reports").WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Save(context.Background(), &domain.ReconciliationReport{ID: "nope", Status: domain.ReportStatusFailed})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestReportStore_FindByStatus(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewReportStore(db)
	now := time.Now().UTC()

	mock.ExpectQuery("WHERE status = \\$1").
		WithArgs("running").
		WillReturnRows(sqlmock.NewRows(reportColumnNames).
			AddRow("rep-1", now, now, "running", "0.05", nil, nil, "", now, nil))

	reports, err := store.FindByStatus(context.Background(), domain.ReportStatusRunning)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Nil(t, reports[0].GeneratedAt)
	assert.Empty(t, reports[0].Discrepancies)
}

func TestCredentialStore_SealsSecrets(t *testing.T) {
	db, mock := newMockDB(t)
	sealer := testSealer(t, "operator secret")
	store := NewCredentialStore(db, sealer)
	now := time.Date(2026, 3, 10, 13, 0, 0, 0, time.UTC)
	expires := now.Add(30 * time.Minute)

	var sealedRefresh []byte
	mock.ExpectExec("INSERT INTO oauth_credentials").
		WithArgs("client-1", sqlmock.AnyArg(), capture(&sealedRefresh), sqlmock.AnyArg(), sqlmock.AnyArg(), now).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := store.Save(context.Background(), &domain.OAuthCredentialSet{
		ClientID:             "client-1",
		ClientSecret:         "cs-1",
		RefreshToken:         "rt-1",
		AccessToken:          "at-1",
		AccessTokenExpiresAt: &expires,
		UpdatedAt:            now,
	})
	require.NoError(t, err)
	require.NotEmpty(t, sealedRefresh)
	assert.NotContains(t, string(sealedRefresh), "rt-1")

	clientSecret, _ := sealer.Seal("client_secret", "cs-1")
	mock.ExpectQuery("FROM oauth_credentials").
		WillReturnRows(sqlmock.NewRows([]string{"client_id", "client_secret", "refresh_token", "access_token", "access_token_expires_at", "updated_at"}).
			AddRow("client-1", clientSecret, sealedRefresh, nil, nil, now))

	creds, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "cs-1", creds.ClientSecret)
	assert.Equal(t, "rt-1", creds.RefreshToken)
	assert.Empty(t, creds.AccessToken)
	assert.Nil(t, creds.AccessTokenExpiresAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCredentialStore_NotConfigured(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewCredentialStore(db, testSealer(t, "operator secret"))

	mock.ExpectQuery("FROM oauth_credentials").
		WillReturnRows(sqlmock.NewRows([]string{"client_id", "client_secret", "refresh_token", "access_token", "access_token_expires_at", "updated_at"}))

	_, err := store.Load(context.Background())
	assert.ErrorIs(t, err, domain.ErrNotConfigured)
}

func TestSettingsStore_DefaultsWhenEmpty(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewSettingsStore(db)

	mock.ExpectQuery("FROM sync_settings").
		WillReturnRows(sqlmock.NewRows([]string{"settings", "updated_at", "updated_by"}))

	settings, err := store.GetSyncSettings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultSyncSettings().Retry, settings.Retry)
	assert.True(t, settings.StopOnConflict)
}

func TestSettingsStore_MergesStoredDocument(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewSettingsStore(db)
	now := time.Date(2026, 3, 10, 13, 0, 0, 0, time.UTC)

	mock.ExpectQuery("FROM sync_settings").
		WillReturnRows(sqlmock.NewRows([]string{"settings", "updated_at", "updated_by"}).
			AddRow([]byte(`{"stop_on_conflict":false,"amount_tolerance":"0.10"}`), now, "admin-1"))

	settings, err := store.GetSyncSettings(context.Background())
	require.NoError(t, err)
	assert.False(t, settings.StopOnConflict)
	assert.True(t, settings.AmountTolerance.Equal(decimal.RequireFromString("0.10")))
	assert.Equal(t, domain.DefaultSyncSettings().Retry.MaxRetries, settings.Retry.MaxRetries)
	assert.Equal(t, "admin-1", settings.UpdatedBy)
	assert.True(t, settings.UpdatedAt.Equal(now))
}

func TestSettingsStore_Save(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewSettingsStore(db)
	settings := domain.DefaultSyncSettings()
	settings.UpdatedBy = "admin-1"

	mock.ExpectExec("INSERT INTO sync_settings").
		WithArgs(sqlmock.AnyArg(), settings.UpdatedAt, "admin-1").
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, store.SaveSyncSettings(context.Background(), settings))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// capturedArg records the driver value it is matched against
type capturedArg struct {
	dst *[]byte
}

func capture(dst *[]byte) sqlmock.Argument {
	return capturedArg{dst: dst}
}

func (c capturedArg) Match(v driver.Value) bool {
	b, ok := v.([]byte)
	if ok {
		*c.dst = append([]byte(nil), b...)
	}
	return ok
}
