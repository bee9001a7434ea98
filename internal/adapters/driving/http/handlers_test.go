package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driven"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driving"
)

// Mock services for testing

type mockAuthService struct {
	webhookSecret string
}

func (m *mockAuthService) ValidateToken(ctx context.Context, token string) (*domain.AuthContext, error) {
	switch token {
	case "admin-token":
		return &domain.AuthContext{Subject: "ops@example.com", Role: domain.RoleAdmin}, nil
	case "operator-token":
		return &domain.AuthContext{Subject: "clerk@example.com", Role: domain.RoleOperator}, nil
	case "viewer-token":
		return &domain.AuthContext{Subject: "audit@example.com", Role: domain.RoleViewer}, nil
	case "expired-token":
		return nil, domain.ErrTokenExpired
	}
	return nil, domain.ErrTokenInvalid
}

func (m *mockAuthService) MintToken(ctx context.Context, subject string, role domain.Role, ttl time.Duration) (string, error) {
	return "", errors.New("not implemented")
}

func (m *mockAuthService) VerifyWebhookSecret(ctx context.Context, secret string) error {
	if m.webhookSecret == "" || secret != m.webhookSecret {
		return domain.ErrUnauthorized
	}
	return nil
}

type mockSyncService struct {
	syncRecordFn   func(recordID string, opts domain.SyncOptions) (*domain.SyncResult, error)
	applyPaymentFn func(recordID string, force bool) (*domain.PaymentResult, error)
	syncRefundFn   func(recordID, refundID string) (*domain.SyncResult, error)
	getStateFn     func(recordID string) (*domain.SyncRecordState, error)
	reset          []string
}

func (m *mockSyncService) SyncRecord(ctx context.Context, recordID string, opts domain.SyncOptions) (*domain.SyncResult, error) {
	if m.syncRecordFn != nil {
		return m.syncRecordFn(recordID, opts)
	}
	return nil, errors.New("not implemented")
}

func (m *mockSyncService) ApplyPayment(ctx context.Context, recordID string, force bool) (*domain.PaymentResult, error) {
	if m.applyPaymentFn != nil {
		return m.applyPaymentFn(recordID, force)
	}
	return nil, errors.New("not implemented")
}

func (m *mockSyncService) SyncRefund(ctx context.Context, recordID, refundID string) (*domain.SyncResult, error) {
	if m.syncRefundFn != nil {
		return m.syncRefundFn(recordID, refundID)
	}
	return nil, errors.New("not implemented")
}

func (m *mockSyncService) GetState(ctx context.Context, recordID string) (*domain.SyncRecordState, error) {
	if m.getStateFn != nil {
		return m.getStateFn(recordID)
	}
	return nil, domain.ErrNotFound
}

func (m *mockSyncService) ResetState(ctx context.Context, recordID string) error {
	m.reset = append(m.reset, recordID)
	return nil
}

type mockBulkService struct {
	running map[string]bool
}

func (m *mockBulkService) SyncBatch(ctx context.Context, req driving.BatchRequest) (*driving.BatchResult, error) {
	return nil, errors.New("not implemented")
}

func (m *mockBulkService) Cancel(batchID string) bool {
	return m.running[batchID]
}

type mockReconciler struct {
	reports map[string]*domain.ReconciliationReport
	limit   int
}

func (m *mockReconciler) GenerateReport(ctx context.Context, start, end time.Time) (*domain.ReconciliationReport, error) {
	return nil, errors.New("not implemented")
}

func (m *mockReconciler) MarkStaleReportsFailed(ctx context.Context, timeout time.Duration) (int, error) {
	return 0, nil
}

func (m *mockReconciler) GetReport(ctx context.Context, id string) (*domain.ReconciliationReport, error) {
	if r, ok := m.reports[id]; ok {
		return r, nil
	}
	return nil, domain.ErrNotFound
}

func (m *mockReconciler) ListReports(ctx context.Context, limit int) ([]*domain.ReconciliationReport, error) {
	m.limit = limit
	out := make([]*domain.ReconciliationReport, 0, len(m.reports))
	for _, r := range m.reports {
		out = append(out, r)
	}
	return out, nil
}

type mockSettingsService struct {
	settings  *domain.SyncSettings
	updatedBy string
}

func (m *mockSettingsService) Get(ctx context.Context) (*domain.SyncSettings, error) {
	return m.settings, nil
}

func (m *mockSettingsService) Update(ctx context.Context, updaterID string, req driving.UpdateSettingsRequest) (*domain.SyncSettings, error) {
	m.updatedBy = updaterID
	if req.AmountTolerance != nil {
		if req.AmountTolerance.IsNegative() {
			return nil, fmt.Errorf("%w: tolerance must not be negative", domain.ErrInvalidInput)
		}
		m.settings.AmountTolerance = *req.AmountTolerance
	}
	return m.settings, nil
}

type mockCredentialsService struct {
	saved   []string
	summary *domain.CredentialSummary
}

func (m *mockCredentialsService) SaveCredentials(ctx context.Context, clientID, clientSecret, refreshToken string) error {
	if clientID == "" || clientSecret == "" || refreshToken == "" {
		return domain.ErrInvalidInput
	}
	m.saved = []string{clientID, clientSecret, refreshToken}
	return nil
}

func (m *mockCredentialsService) Summary(ctx context.Context) (*domain.CredentialSummary, error) {
	if m.summary == nil {
		return nil, domain.ErrNotConfigured
	}
	return m.summary, nil
}

type mockTaskQueue struct {
	enqueued   []*domain.Task
	enqueueErr error
	pingErr    error
}

func (m *mockTaskQueue) Enqueue(ctx context.Context, task *domain.Task) error {
	if m.enqueueErr != nil {
		return m.enqueueErr
	}
	m.enqueued = append(m.enqueued, task)
	return nil
}

func (m *mockTaskQueue) DequeueWithTimeout(ctx context.Context, timeout int) (*domain.Task, error) {
	return nil, nil
}
func (m *mockTaskQueue) Ack(ctx context.Context, taskID string) error               { return nil }
func (m *mockTaskQueue) Nack(ctx context.Context, taskID string, reason string) error { return nil }
func (m *mockTaskQueue) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	return nil, domain.ErrNotFound
}
func (m *mockTaskQueue) Stats(ctx context.Context) (*driven.QueueStats, error) {
	return &driven.QueueStats{}, nil
}
func (m *mockTaskQueue) Ping(ctx context.Context) error { return m.pingErr }
func (m *mockTaskQueue) Close() error                   { return nil }

type mockPinger struct{ err error }

func (m mockPinger) Ping(ctx context.Context) error { return m.err }

type testEnv struct {
	server   *Server
	sync     *mockSyncService
	bulk     *mockBulkService
	recon    *mockReconciler
	settings *mockSettingsService
	creds    *mockCredentialsService
	queue    *mockTaskQueue
}

func newTestEnv() *testEnv {
	env := &testEnv{
		sync:     &mockSyncService{},
		bulk:     &mockBulkService{running: map[string]bool{}},
		recon:    &mockReconciler{reports: map[string]*domain.ReconciliationReport{}},
		settings: &mockSettingsService{settings: domain.DefaultSyncSettings()},
		creds:    &mockCredentialsService{},
		queue:    &mockTaskQueue{},
	}
	env.server = NewServer(DefaultConfig(), Services{
		Auth:        &mockAuthService{webhookSecret: "shh"},
		Sync:        env.sync,
		Bulk:        env.bulk,
		Reconciler:  env.recon,
		Settings:    env.settings,
		Credentials: env.creds,
		TaskQueue:   env.queue,
		DB:          mockPinger{},
	})
	return env
}

func (e *testEnv) do(method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return v
}

func TestHandleHealth(t *testing.T) {
	env := newTestEnv()
	rec := env.do("GET", "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get(requestIDHeader) == "" {
		t.Error("expected a request id header")
	}
}

func TestHandleReady(t *testing.T) {
	env := newTestEnv()
	if rec := env.do("GET", "/ready", "", nil); rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	env.queue.pingErr = errors.New("redis down")
	rec := env.do("GET", "/ready", "", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
	body := decodeBody[map[string]string](t, rec)
	if body["queue"] != "redis down" {
		t.Errorf("expected queue failure in body, got %v", body)
	}
}

func TestHandleSyncOrder_Inline(t *testing.T) {
	env := newTestEnv()
	var gotOpts domain.SyncOptions
	env.sync.syncRecordFn = func(recordID string, opts domain.SyncOptions) (*domain.SyncResult, error) {
		gotOpts = opts
		return &domain.SyncResult{RecordID: recordID, Success: true, Status: domain.SyncStatusDraft, RemoteInvoiceID: "inv-1"}, nil
	}

	rec := env.do("POST", "/api/v1/orders/1001/sync", "operator-token", SyncOrderRequest{AsDraft: true})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !gotOpts.AsDraft || !gotOpts.Force {
		t.Errorf("manual trigger should force, got %+v", gotOpts)
	}
	result := decodeBody[domain.SyncResult](t, rec)
	if result.RemoteInvoiceID != "inv-1" {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestHandleSyncOrder_ExplicitNoForceAndEmptyBody(t *testing.T) {
	env := newTestEnv()
	var calls []domain.SyncOptions
	env.sync.syncRecordFn = func(recordID string, opts domain.SyncOptions) (*domain.SyncResult, error) {
		calls = append(calls, opts)
		return &domain.SyncResult{RecordID: recordID, Success: true}, nil
	}

	noForce := false
	env.do("POST", "/api/v1/orders/1001/sync", "operator-token", SyncOrderRequest{Force: &noForce})
	env.do("POST", "/api/v1/orders/1001/sync", "operator-token", nil)

	if len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(calls))
	}
	if calls[0].Force {
		t.Error("expected force=false to be honoured")
	}
	if !calls[1].Force || calls[1].AsDraft {
		t.Errorf("empty body should default to a forced final sync, got %+v", calls[1])
	}
}

func TestHandleSyncOrder_FailureStatuses(t *testing.T) {
	tests := []struct {
		kind   domain.ErrorKind
		status int
	}{
		{domain.ErrorKindLocked, http.StatusConflict},
		{domain.ErrorKindConflict, http.StatusConflict},
		{domain.ErrorKindNotFound, http.StatusNotFound},
		{domain.ErrorKindInvalid, http.StatusUnprocessableEntity},
		{domain.ErrorKindRateLimited, http.StatusTooManyRequests},
		{domain.ErrorKindAuth, http.StatusBadGateway},
		{domain.ErrorKindNetwork, http.StatusBadGateway},
		{domain.ErrorKindInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			env := newTestEnv()
			env.sync.syncRecordFn = func(recordID string, opts domain.SyncOptions) (*domain.SyncResult, error) {
				return &domain.SyncResult{RecordID: recordID, Status: domain.SyncStatusFailed, ErrorKind: tt.kind, Error: "boom"}, nil
			}
			rec := env.do("POST", "/api/v1/orders/1001/sync", "operator-token", nil)
			if rec.Code != tt.status {
				t.Errorf("expected %d, got %d", tt.status, rec.Code)
			}
			result := decodeBody[domain.SyncResult](t, rec)
			if result.ErrorKind != tt.kind {
				t.Errorf("expected body to carry the result, got %+v", result)
			}
		})
	}
}

func TestHandleSyncOrder_Async(t *testing.T) {
	env := newTestEnv()
	rec := env.do("POST", "/api/v1/orders/1001/sync?async=true", "operator-token", SyncOrderRequest{AsDraft: true})

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if len(env.queue.enqueued) != 1 {
		t.Fatalf("expected 1 task, got %d", len(env.queue.enqueued))
	}
	task := env.queue.enqueued[0]
	if task.Type != domain.TaskTypeSyncRecord || task.RecordID() != "1001" || !task.BoolParam("as_draft") || !task.BoolParam("force") {
		t.Errorf("unexpected task: %+v", task)
	}
	resp := decodeBody[TaskAcceptedResponse](t, rec)
	if resp.TaskID != task.ID {
		t.Errorf("expected task id %s, got %s", task.ID, resp.TaskID)
	}
}

func TestHandleSyncOrder_EnqueueFailure(t *testing.T) {
	env := newTestEnv()
	env.queue.enqueueErr = errors.New("queue full")

	rec := env.do("POST", "/api/v1/orders/1001/sync?async=1", "operator-token", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}

func TestHandleSyncOrder_Auth(t *testing.T) {
	tests := []struct {
		name   string
		token  string
		status int
	}{
		{"missing token", "", http.StatusUnauthorized},
		{"expired token", "expired-token", http.StatusUnauthorized},
		{"invalid token", "garbage", http.StatusUnauthorized},
		{"viewer cannot write", "viewer-token", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv()
			rec := env.do("POST", "/api/v1/orders/1001/sync", tt.token, nil)
			if rec.Code != tt.status {
				t.Errorf("expected %d, got %d", tt.status, rec.Code)
			}
		})
	}
}

func TestHandleGetSyncState(t *testing.T) {
	env := newTestEnv()
	env.sync.getStateFn = func(recordID string) (*domain.SyncRecordState, error) {
		if recordID != "1001" {
			return nil, domain.ErrNotFound
		}
		return &domain.SyncRecordState{RecordID: recordID, Status: domain.SyncStatusSynced, RemoteInvoiceID: "inv-1"}, nil
	}

	rec := env.do("GET", "/api/v1/orders/1001/sync", "viewer-token", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	state := decodeBody[domain.SyncRecordState](t, rec)
	if state.Status != domain.SyncStatusSynced {
		t.Errorf("unexpected state: %+v", state)
	}

	if rec := env.do("GET", "/api/v1/orders/9999/sync", "viewer-token", nil); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestHandleResetSyncState_AdminOnly(t *testing.T) {
	env := newTestEnv()

	if rec := env.do("DELETE", "/api/v1/orders/1001/sync", "operator-token", nil); rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for operator, got %d", rec.Code)
	}
	if rec := env.do("DELETE", "/api/v1/orders/1001/sync", "admin-token", nil); rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
	if len(env.sync.reset) != 1 || env.sync.reset[0] != "1001" {
		t.Errorf("expected reset of 1001, got %v", env.sync.reset)
	}
}

func TestHandleApplyPayment(t *testing.T) {
	env := newTestEnv()
	env.sync.applyPaymentFn = func(recordID string, force bool) (*domain.PaymentResult, error) {
		return &domain.PaymentResult{RecordID: recordID, Success: true, PaymentID: "pay-1", Amount: decimal.RequireFromString("132.50")}, nil
	}

	rec := env.do("POST", "/api/v1/orders/1001/payment", "operator-token", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	result := decodeBody[domain.PaymentResult](t, rec)
	if result.PaymentID != "pay-1" || !result.Amount.Equal(decimal.RequireFromString("132.50")) {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestHandleApplyPayment_ServiceError(t *testing.T) {
	env := newTestEnv()
	env.sync.applyPaymentFn = func(recordID string, force bool) (*domain.PaymentResult, error) {
		return nil, fmt.Errorf("%w: order %s", domain.ErrNotFound, recordID)
	}

	if rec := env.do("POST", "/api/v1/orders/1001/payment", "operator-token", nil); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestHandleSyncRefund(t *testing.T) {
	env := newTestEnv()
	var gotRefund string
	env.sync.syncRefundFn = func(recordID, refundID string) (*domain.SyncResult, error) {
		gotRefund = refundID
		return &domain.SyncResult{RecordID: recordID, Success: true}, nil
	}

	if rec := env.do("POST", "/api/v1/orders/1001/refunds", "operator-token", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without refund id, got %d", rec.Code)
	}
	rec := env.do("POST", "/api/v1/orders/1001/refunds", "operator-token", SyncRefundRequest{RefundID: "r-1"})
	if rec.Code != http.StatusOK || gotRefund != "r-1" {
		t.Errorf("expected refund r-1 synced, got %d and %q", rec.Code, gotRefund)
	}
}

func TestHandleCreateBatch(t *testing.T) {
	env := newTestEnv()

	rec := env.do("POST", "/api/v1/batches", "operator-token", driving.BatchRequest{RecordIDs: []string{"1001", "1002"}, Force: true})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	resp := decodeBody[TaskAcceptedResponse](t, rec)
	if len(resp.BatchID) != 36 {
		t.Errorf("expected generated batch id, got %q", resp.BatchID)
	}
	task := env.queue.enqueued[0]
	if task.Type != domain.TaskTypeSyncBatch || task.Param("batch_id") != resp.BatchID {
		t.Errorf("unexpected task: %+v", task)
	}
	if len(task.ListParam("record_ids")) != 2 || !task.BoolParam("force") {
		t.Errorf("unexpected payload: %v", task.Payload)
	}
}

func TestHandleCreateBatch_Validation(t *testing.T) {
	from := time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		req  driving.BatchRequest
	}{
		{"empty selection", driving.BatchRequest{}},
		{"half range", driving.BatchRequest{From: &from}},
		{"inverted range", driving.BatchRequest{From: &from, To: &to}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv()
			rec := env.do("POST", "/api/v1/batches", "operator-token", tt.req)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", rec.Code)
			}
			if len(env.queue.enqueued) != 0 {
				t.Error("expected nothing queued")
			}
		})
	}
}

func TestHandleCancelBatch(t *testing.T) {
	env := newTestEnv()
	env.bulk.running["batch-1"] = true

	if rec := env.do("DELETE", "/api/v1/batches/batch-1", "operator-token", nil); rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if rec := env.do("DELETE", "/api/v1/batches/batch-2", "operator-token", nil); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestHandleCreateReconciliation(t *testing.T) {
	env := newTestEnv()
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 3, 31, 23, 59, 59, 0, time.UTC)

	rec := env.do("POST", "/api/v1/reconciliations", "operator-token", ReconciliationRequest{From: from, To: to})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	task := env.queue.enqueued[0]
	gotFrom, _ := task.TimeParam("from")
	gotTo, _ := task.TimeParam("to")
	if task.Type != domain.TaskTypeReconcile || !gotFrom.Equal(from) || !gotTo.Equal(to) {
		t.Errorf("unexpected task: %+v", task)
	}

	if rec := env.do("POST", "/api/v1/reconciliations", "operator-token", ReconciliationRequest{From: to, To: from}); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for inverted period, got %d", rec.Code)
	}
}

func TestHandleReconciliationReports(t *testing.T) {
	env := newTestEnv()
	env.recon.reports["rep-1"] = &domain.ReconciliationReport{ID: "rep-1", Status: domain.ReportStatusCompleted}

	rec := env.do("GET", "/api/v1/reconciliations?limit=5", "viewer-token", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if env.recon.limit != 5 {
		t.Errorf("expected limit 5, got %d", env.recon.limit)
	}
	reports := decodeBody[[]domain.ReconciliationReport](t, rec)
	if len(reports) != 1 {
		t.Errorf("expected 1 report, got %d", len(reports))
	}

	if rec := env.do("GET", "/api/v1/reconciliations?limit=abc", "viewer-token", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad limit, got %d", rec.Code)
	}
	if rec := env.do("GET", "/api/v1/reconciliations/rep-1", "viewer-token", nil); rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if rec := env.do("GET", "/api/v1/reconciliations/missing", "viewer-token", nil); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestHandleSettings(t *testing.T) {
	env := newTestEnv()

	if rec := env.do("GET", "/api/v1/settings", "operator-token", nil); rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for operator, got %d", rec.Code)
	}
	if rec := env.do("GET", "/api/v1/settings", "admin-token", nil); rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	tolerance := decimal.RequireFromString("0.10")
	rec := env.do("PUT", "/api/v1/settings", "admin-token", driving.UpdateSettingsRequest{AmountTolerance: &tolerance})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if env.settings.updatedBy != "ops@example.com" {
		t.Errorf("expected updater subject, got %q", env.settings.updatedBy)
	}
	if !env.settings.settings.AmountTolerance.Equal(tolerance) {
		t.Errorf("expected tolerance 0.10, got %s", env.settings.settings.AmountTolerance)
	}

	negative := decimal.RequireFromString("-1")
	if rec := env.do("PUT", "/api/v1/settings", "admin-token", driving.UpdateSettingsRequest{AmountTolerance: &negative}); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestHandleCredentials(t *testing.T) {
	env := newTestEnv()

	if rec := env.do("GET", "/api/v1/credentials", "admin-token", nil); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 before configuration, got %d", rec.Code)
	}

	rec := env.do("PUT", "/api/v1/credentials", "admin-token", SaveCredentialsRequest{ClientID: "c", ClientSecret: "s", RefreshToken: "r"})
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
	if len(env.creds.saved) != 3 {
		t.Errorf("expected credentials saved, got %v", env.creds.saved)
	}

	if rec := env.do("PUT", "/api/v1/credentials", "admin-token", SaveCredentialsRequest{ClientID: "c"}); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for partial credentials, got %d", rec.Code)
	}
}

func TestHandleOrderWebhook(t *testing.T) {
	tests := []struct {
		name     string
		body     OrderWebhookRequest
		status   int
		taskType domain.TaskType
	}{
		{"created", OrderWebhookRequest{Event: EventOrderCreated, OrderID: "1001"}, http.StatusAccepted, domain.TaskTypeSyncRecord},
		{"updated", OrderWebhookRequest{Event: EventOrderUpdated, OrderID: "1001"}, http.StatusAccepted, domain.TaskTypeSyncRecord},
		{"paid", OrderWebhookRequest{Event: EventOrderPaid, OrderID: "1001"}, http.StatusAccepted, domain.TaskTypeApplyPayment},
		{"refund", OrderWebhookRequest{Event: EventRefundCreated, OrderID: "1001", RefundID: "r-1"}, http.StatusAccepted, domain.TaskTypeSyncRefund},
		{"refund without id", OrderWebhookRequest{Event: EventRefundCreated, OrderID: "1001"}, http.StatusBadRequest, ""},
		{"unknown event", OrderWebhookRequest{Event: "order.deleted", OrderID: "1001"}, http.StatusBadRequest, ""},
		{"missing order", OrderWebhookRequest{Event: EventOrderPaid}, http.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv()
			body, _ := json.Marshal(tt.body)
			req := httptest.NewRequest("POST", "/api/v1/webhooks/orders", bytes.NewReader(body))
			req.Header.Set(webhookSecretHdr, "shh")
			rec := httptest.NewRecorder()
			env.server.Handler().ServeHTTP(rec, req)

			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, rec.Code)
			}
			if tt.taskType == "" {
				return
			}
			task := env.queue.enqueued[0]
			if task.Type != tt.taskType {
				t.Errorf("expected %s task, got %s", tt.taskType, task.Type)
			}
			if task.BoolParam("force") {
				t.Error("webhook triggers must not force")
			}
		})
	}
}

func TestHandleOrderWebhook_BadSecret(t *testing.T) {
	env := newTestEnv()
	body, _ := json.Marshal(OrderWebhookRequest{Event: EventOrderPaid, OrderID: "1001"})
	req := httptest.NewRequest("POST", "/api/v1/webhooks/orders", bytes.NewReader(body))
	req.Header.Set(webhookSecretHdr, "wrong")
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
	if len(env.queue.enqueued) != 0 {
		t.Error("expected nothing queued")
	}
}

func TestWriteServiceError(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{domain.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("%w: bad", domain.ErrInvalidInput), http.StatusBadRequest},
		{domain.ErrRecordLocked, http.StatusConflict},
		{domain.ErrReconciliationRunning, http.StatusConflict},
		{domain.ErrNotConfigured, http.StatusServiceUnavailable},
		{domain.ErrRateLimited, http.StatusTooManyRequests},
		{domain.NewRemoteError(domain.ErrNetwork, "GetInvoice", 503, "", "unavailable"), http.StatusBadGateway},
		{errors.New("disk full"), http.StatusInternalServerError},
	}

	env := newTestEnv()
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			rec := httptest.NewRecorder()
			env.server.writeServiceError(rec, httptest.NewRequest("GET", "/", nil), tt.err)
			if rec.Code != tt.status {
				t.Errorf("expected %d, got %d", tt.status, rec.Code)
			}
		})
	}
}
