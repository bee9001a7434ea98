package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driving"
)

// ErrorResponse represents an API error response
// @Description API error response
type ErrorResponse struct {
	Error string `json:"error" example:"invalid request body"`
}

// StatusResponse represents a simple status response
// @Description Simple status response
type StatusResponse struct {
	Status string `json:"status" example:"ok"`
}

// TaskAcceptedResponse is returned when work was queued
// @Description Queued task reference
type TaskAcceptedResponse struct {
	Status  string `json:"status" example:"queued"`
	TaskID  string `json:"task_id" example:"5f0c6d1e-8a8e-4a53-9a57-0f4a7c1f7e11"`
	BatchID string `json:"batch_id,omitempty"`
}

// SyncOrderRequest is the body of a manual sync trigger
// @Description Manual sync options; force defaults to true for manual triggers
type SyncOrderRequest struct {
	AsDraft bool  `json:"as_draft" example:"false"`
	Force   *bool `json:"force,omitempty" example:"true"`
}

// ApplyPaymentRequest is the body of a manual payment trigger
type ApplyPaymentRequest struct {
	Force bool `json:"force" example:"false"`
}

// SyncRefundRequest is the body of a refund sync trigger
type SyncRefundRequest struct {
	RefundID string `json:"refund_id" example:"r-1"`
}

// ReconciliationRequest selects the period to reconcile
type ReconciliationRequest struct {
	From time.Time `json:"from" example:"2026-03-01T00:00:00Z"`
	To   time.Time `json:"to" example:"2026-03-31T23:59:59Z"`
}

// SaveCredentialsRequest replaces the accounting-service OAuth credentials
type SaveCredentialsRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	RefreshToken string `json:"refresh_token"`
}

// Webhook event names sent by the storefront
const (
	EventOrderCreated  = "order.created"
	EventOrderUpdated  = "order.updated"
	EventOrderPaid     = "order.paid"
	EventRefundCreated = "refund.created"
)

// OrderWebhookRequest is a storefront event
type OrderWebhookRequest struct {
	Event    string `json:"event" example:"order.paid"`
	OrderID  string `json:"order_id" example:"1001"`
	RefundID string `json:"refund_id,omitempty"`
	AsDraft  bool   `json:"as_draft,omitempty"`
}

// Health endpoints

// handleHealth godoc
// @Summary      Health check
// @Description  Returns the liveness status of the API
// @Tags         Health
// @Produce      json
// @Success      200  {object}  StatusResponse
// @Router       /health [get]
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady godoc
// @Summary      Readiness check
// @Description  Checks the database, Redis and task queue connections
// @Tags         Health
// @Produce      json
// @Success      200  {object}  map[string]string
// @Failure      503  {object}  map[string]string
// @Router       /ready [get]
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	ready := true

	checkDep := func(name string, p Pinger) {
		if p == nil {
			return
		}
		if err := p.Ping(r.Context()); err != nil {
			checks[name] = err.Error()
			ready = false
			return
		}
		checks[name] = "ok"
	}
	checkDep("database", s.db)
	checkDep("redis", s.redisClient)
	if s.taskQueue != nil {
		checkDep("queue", s.taskQueue)
	}

	if !ready {
		checks["status"] = "unavailable"
		writeJSON(w, http.StatusServiceUnavailable, checks)
		return
	}
	checks["status"] = "ready"
	writeJSON(w, http.StatusOK, checks)
}

// handleVersion godoc
// @Summary      Get API version
// @Tags         Health
// @Produce      json
// @Router       /version [get]
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

// Order sync endpoints

// handleSyncOrder godoc
// @Summary      Sync an order
// @Description  Mirrors one order into a remote invoice. With ?async=true the sync is queued.
// @Tags         Sync
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string            true   "Order ID"
// @Param        async    query     bool              false  "Queue instead of running inline"
// @Param        request  body      SyncOrderRequest  false  "Sync options"
// @Success      200      {object}  domain.SyncResult
// @Success      202      {object}  TaskAcceptedResponse
// @Failure      409      {object}  domain.SyncResult  "Record locked or conflict"
// @Router       /orders/{id}/sync [post]
func (s *Server) handleSyncOrder(w http.ResponseWriter, r *http.Request) {
	recordID := r.PathValue("id")

	var req SyncOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	opts := domain.SyncOptions{AsDraft: req.AsDraft, Force: true}
	if req.Force != nil {
		opts.Force = *req.Force
	}

	if isAsync(r) {
		s.enqueue(w, r, domain.NewSyncRecordTask(recordID, opts), "")
		return
	}

	result, err := s.syncService.SyncRecord(r.Context(), recordID, opts)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, resultStatus(result.Success, result.ErrorKind), result)
}

// handleGetSyncState godoc
// @Summary      Get sync state
// @Tags         Sync
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Order ID"
// @Success      200  {object}  domain.SyncRecordState
// @Failure      404  {object}  ErrorResponse
// @Router       /orders/{id}/sync [get]
func (s *Server) handleGetSyncState(w http.ResponseWriter, r *http.Request) {
	state, err := s.syncService.GetState(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// handleResetSyncState godoc
// @Summary      Reset sync state
// @Description  Purges the stored sync state so the next sync starts fresh (admin only)
// @Tags         Sync
// @Security     BearerAuth
// @Param        id   path  string  true  "Order ID"
// @Success      204
// @Router       /orders/{id}/sync [delete]
func (s *Server) handleResetSyncState(w http.ResponseWriter, r *http.Request) {
	if err := s.syncService.ResetState(r.Context(), r.PathValue("id")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleApplyPayment godoc
// @Summary      Apply payment
// @Description  Records the order's payment against its invoice. With ?async=true the call is queued.
// @Tags         Sync
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string               true   "Order ID"
// @Param        request  body      ApplyPaymentRequest  false  "Payment options"
// @Success      200      {object}  domain.PaymentResult
// @Success      202      {object}  TaskAcceptedResponse
// @Router       /orders/{id}/payment [post]
func (s *Server) handleApplyPayment(w http.ResponseWriter, r *http.Request) {
	recordID := r.PathValue("id")

	var req ApplyPaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if isAsync(r) {
		s.enqueue(w, r, domain.NewApplyPaymentTask(recordID, req.Force), "")
		return
	}

	result, err := s.syncService.ApplyPayment(r.Context(), recordID, req.Force)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, resultStatus(result.Success, result.ErrorKind), result)
}

// handleSyncRefund godoc
// @Summary      Sync a refund
// @Description  Creates a credit note for a refund and allocates it to the invoice
// @Tags         Sync
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string             true  "Order ID"
// @Param        request  body      SyncRefundRequest  true  "Refund"
// @Success      200      {object}  domain.SyncResult
// @Success      202      {object}  TaskAcceptedResponse
// @Router       /orders/{id}/refunds [post]
func (s *Server) handleSyncRefund(w http.ResponseWriter, r *http.Request) {
	recordID := r.PathValue("id")

	var req SyncRefundRequest
	if err := decodeJSON(r, &req); err != nil || req.RefundID == "" {
		writeError(w, http.StatusBadRequest, "refund_id is required")
		return
	}

	if isAsync(r) {
		s.enqueue(w, r, domain.NewSyncRefundTask(recordID, req.RefundID), "")
		return
	}

	result, err := s.syncService.SyncRefund(r.Context(), recordID, req.RefundID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, resultStatus(result.Success, result.ErrorKind), result)
}

// Bulk endpoints

// handleCreateBatch godoc
// @Summary      Queue a bulk sync
// @Description  Queues a sequential sync of explicit order ids or of every order in a date range
// @Tags         Bulk
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request  body      driving.BatchRequest  true  "Batch selection"
// @Success      202      {object}  TaskAcceptedResponse
// @Failure      400      {object}  ErrorResponse
// @Router       /batches [post]
func (s *Server) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	var req driving.BatchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.RecordIDs) == 0 && (req.From == nil || req.To == nil) {
		writeError(w, http.StatusBadRequest, "record_ids or from and to are required")
		return
	}
	if req.From != nil && req.To != nil && req.To.Before(*req.From) {
		writeError(w, http.StatusBadRequest, "to must not be before from")
		return
	}
	if req.ID == "" {
		req.ID = domain.GenerateID()
	}

	task := domain.NewSyncBatchTask(req.ID, req.RecordIDs, req.From, req.To, req.AsDraft)
	if req.Force {
		task.Payload["force"] = "true"
	}
	s.enqueue(w, r, task, req.ID)
}

// handleCancelBatch godoc
// @Summary      Cancel a bulk sync
// @Description  Stops a running batch after its current record
// @Tags         Bulk
// @Security     BearerAuth
// @Param        id   path      string  true  "Batch ID"
// @Success      200  {object}  StatusResponse
// @Failure      404  {object}  ErrorResponse  "Batch not running in this process"
// @Router       /batches/{id} [delete]
func (s *Server) handleCancelBatch(w http.ResponseWriter, r *http.Request) {
	if s.bulkService == nil || !s.bulkService.Cancel(r.PathValue("id")) {
		writeError(w, http.StatusNotFound, "batch not running")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

// Reconciliation endpoints

// handleCreateReconciliation godoc
// @Summary      Queue a reconciliation
// @Tags         Reconciliation
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request  body      ReconciliationRequest  true  "Period"
// @Success      202      {object}  TaskAcceptedResponse
// @Failure      400      {object}  ErrorResponse
// @Router       /reconciliations [post]
func (s *Server) handleCreateReconciliation(w http.ResponseWriter, r *http.Request) {
	var req ReconciliationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.From.IsZero() || req.To.IsZero() || req.To.Before(req.From) {
		writeError(w, http.StatusBadRequest, "a valid from and to are required")
		return
	}
	s.enqueue(w, r, domain.NewReconcileTask(req.From, req.To), "")
}

// handleListReconciliations godoc
// @Summary      List reconciliation reports
// @Tags         Reconciliation
// @Produce      json
// @Security     BearerAuth
// @Param        limit  query     int  false  "Max reports (default 20, max 100)"
// @Success      200    {array}   domain.ReconciliationReport
// @Router       /reconciliations [get]
func (s *Server) handleListReconciliations(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	reports, err := s.reconciler.ListReports(r.Context(), limit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if reports == nil {
		reports = []*domain.ReconciliationReport{}
	}
	writeJSON(w, http.StatusOK, reports)
}

// handleGetReconciliation godoc
// @Summary      Get a reconciliation report
// @Tags         Reconciliation
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Report ID"
// @Success      200  {object}  domain.ReconciliationReport
// @Failure      404  {object}  ErrorResponse
// @Router       /reconciliations/{id} [get]
func (s *Server) handleGetReconciliation(w http.ResponseWriter, r *http.Request) {
	report, err := s.reconciler.GetReport(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Settings endpoints

// handleGetSettings godoc
// @Summary      Get sync settings
// @Tags         Settings
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  domain.SyncSettings
// @Router       /settings [get]
func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.settingsService.Get(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// handleUpdateSettings godoc
// @Summary      Update sync settings
// @Tags         Settings
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request  body      driving.UpdateSettingsRequest  true  "Settings to update"
// @Success      200      {object}  domain.SyncSettings
// @Failure      400      {object}  ErrorResponse
// @Router       /settings [put]
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req driving.UpdateSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	authCtx := GetAuthContext(r.Context())
	settings, err := s.settingsService.Update(r.Context(), authCtx.Subject, req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// handleGetCredentials godoc
// @Summary      Get credential summary
// @Tags         Settings
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  domain.CredentialSummary
// @Failure      404  {object}  ErrorResponse  "Not configured"
// @Router       /credentials [get]
func (s *Server) handleGetCredentials(w http.ResponseWriter, r *http.Request) {
	summary, err := s.credentialsService.Summary(r.Context())
	if err != nil {
		if errors.Is(err, domain.ErrNotConfigured) {
			writeError(w, http.StatusNotFound, "credentials not configured")
			return
		}
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// handleSaveCredentials godoc
// @Summary      Save OAuth credentials
// @Tags         Settings
// @Accept       json
// @Security     BearerAuth
// @Param        request  body  SaveCredentialsRequest  true  "Credentials"
// @Success      204
// @Router       /credentials [put]
func (s *Server) handleSaveCredentials(w http.ResponseWriter, r *http.Request) {
	var req SaveCredentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.credentialsService.SaveCredentials(r.Context(), req.ClientID, req.ClientSecret, req.RefreshToken); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Webhooks

// handleOrderWebhook godoc
// @Summary      Storefront order webhook
// @Description  Queues the sync work for an order event. Automatic triggers never force.
// @Tags         Webhooks
// @Accept       json
// @Produce      json
// @Param        X-Webhook-Secret  header    string               true  "Shared secret"
// @Param        request           body      OrderWebhookRequest  true  "Event"
// @Success      202               {object}  TaskAcceptedResponse
// @Failure      400               {object}  ErrorResponse
// @Failure      401               {object}  ErrorResponse
// @Router       /webhooks/orders [post]
func (s *Server) handleOrderWebhook(w http.ResponseWriter, r *http.Request) {
	var req OrderWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OrderID == "" {
		writeError(w, http.StatusBadRequest, "event and order_id are required")
		return
	}

	var task *domain.Task
	switch req.Event {
	case EventOrderCreated, EventOrderUpdated:
		task = domain.NewSyncRecordTask(req.OrderID, domain.SyncOptions{AsDraft: req.AsDraft})
	case EventOrderPaid:
		task = domain.NewApplyPaymentTask(req.OrderID, false)
	case EventRefundCreated:
		if req.RefundID == "" {
			writeError(w, http.StatusBadRequest, "refund_id is required")
			return
		}
		task = domain.NewSyncRefundTask(req.OrderID, req.RefundID)
	default:
		writeError(w, http.StatusBadRequest, "unsupported event")
		return
	}

	s.enqueue(w, r, task, "")
}

// enqueue queues a task and answers 202
func (s *Server) enqueue(w http.ResponseWriter, r *http.Request, task *domain.Task, batchID string) {
	if s.taskQueue == nil {
		writeError(w, http.StatusServiceUnavailable, "task queue not configured")
		return
	}
	if err := s.taskQueue.Enqueue(r.Context(), task); err != nil {
		s.logger.Error("failed to enqueue task",
			"task_type", task.Type,
			"error", err,
			"request_id", RequestID(r.Context()),
		)
		writeError(w, http.StatusServiceUnavailable, "failed to queue task")
		return
	}
	writeJSON(w, http.StatusAccepted, TaskAcceptedResponse{Status: "queued", TaskID: task.ID, BatchID: batchID})
}

// writeServiceError maps domain errors onto HTTP status codes
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrRecordLocked), errors.Is(err, domain.ErrConflict),
		errors.Is(err, domain.ErrReconciliationRunning):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrNotConfigured):
		writeError(w, http.StatusServiceUnavailable, "credentials not configured")
	case errors.Is(err, domain.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "rate limited")
	case errors.Is(err, domain.ErrAuth), errors.Is(err, domain.ErrRemote), errors.Is(err, domain.ErrNetwork):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		s.logger.Error("request failed", "path", r.URL.Path, "error", err, "request_id", RequestID(r.Context()))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// resultStatus picks the status for a sync outcome. The body always carries the result.
func resultStatus(success bool, kind domain.ErrorKind) int {
	if success {
		return http.StatusOK
	}
	switch kind {
	case domain.ErrorKindLocked, domain.ErrorKindConflict:
		return http.StatusConflict
	case domain.ErrorKindNotFound:
		return http.StatusNotFound
	case domain.ErrorKindInvalid:
		return http.StatusUnprocessableEntity
	case domain.ErrorKindRateLimited:
		return http.StatusTooManyRequests
	case domain.ErrorKindAuth, domain.ErrorKindRemote, domain.ErrorKindNetwork:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func isAsync(r *http.Request) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get("async"))
	return v
}

// decodeJSON decodes an optional body; an empty body leaves v untouched
func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
