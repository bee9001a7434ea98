package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driven"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driving"
)

// Ensure SyncOrchestrator implements SyncService
var _ driving.SyncService = (*SyncOrchestrator)(nil)

// SyncOrchestrator is the per-record sync state machine.
// sync_record runs six steps under a per-record lock:
//  1. Idempotency gate
//  2. Integrity check of an existing remote invoice
//  3. Contact resolution
//  4. Invoice materialisation
//  5. Persist state
//  6. Payment application when the order is paid and the invoice is final
//  7. Replay of refunds and payments that failed earlier
//
// Remote failures never escape; they become FAILED state with last_error and a notification.
// State that follows a successful remote write is persisted even if the caller's context ends.
type SyncOrchestrator struct {
	orders      driven.OrderSource
	states      driven.RecordStateStore
	settings    driven.SettingsStore
	contacts    *ContactService
	invoices    *InvoiceService
	payments    *PaymentService
	creditNotes *CreditNoteService
	lock        driven.DistributedLock
	notifier    driven.Notifier
	lockTTL     time.Duration
	now         func() time.Time
	logger      *slog.Logger
}

// persistTimeout bounds a state write that must outlive the caller's context.
const persistTimeout = 10 * time.Second

// SyncOrchestratorConfig holds dependencies for SyncOrchestrator.
type SyncOrchestratorConfig struct {
	Orders      driven.OrderSource
	States      driven.RecordStateStore
	Settings    driven.SettingsStore
	Contacts    *ContactService
	Invoices    *InvoiceService
	Payments    *PaymentService
	CreditNotes *CreditNoteService
	Lock        driven.DistributedLock // default: in-process KeyedLocker
	Notifier    driven.Notifier        // Optional
	LockTTL     time.Duration          // default: 2m
	Clock       func() time.Time
	Logger      *slog.Logger
}

// NewSyncOrchestrator creates a new sync orchestrator.
func NewSyncOrchestrator(cfg SyncOrchestratorConfig) *SyncOrchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	lock := cfg.Lock
	if lock == nil {
		lock = NewKeyedLocker()
	}
	lockTTL := cfg.LockTTL
	if lockTTL <= 0 {
		lockTTL = 2 * time.Minute
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return &SyncOrchestrator{
		orders:      cfg.Orders,
		states:      cfg.States,
		settings:    cfg.Settings,
		contacts:    cfg.Contacts,
		invoices:    cfg.Invoices,
		payments:    cfg.Payments,
		creditNotes: cfg.CreditNotes,
		lock:        lock,
		notifier:    cfg.Notifier,
		lockTTL:     lockTTL,
		now:         clock,
		logger:      logger,
	}
}

// SyncRecord mirrors one order into a remote invoice.
// Only invalid input is returned as an error; everything else is reported in the result.
func (o *SyncOrchestrator) SyncRecord(ctx context.Context, recordID string, opts domain.SyncOptions) (*domain.SyncResult, error) {
	if recordID == "" {
		return nil, fmt.Errorf("%w: record id is required", domain.ErrInvalidInput)
	}

	release, result := o.acquire(ctx, recordID)
	if result != nil {
		return result, nil
	}
	defer release()

	order, err := o.loadOrder(ctx, recordID)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			return nil, err
		}
		return o.unpersistedFailure(recordID, err), nil
	}

	state, err := o.loadState(ctx, recordID)
	if err != nil {
		return o.unpersistedFailure(recordID, err), nil
	}
	settings := o.loadSettings(ctx)

	o.logger.Info("starting record sync",
		"record_id", recordID,
		"as_draft", opts.AsDraft,
		"force", opts.Force,
		"status", state.Status,
	)

	// Step 1: Idempotency gate
	if !opts.Force && state.Satisfies(opts.AsDraft) {
		o.logger.Info("record already synced with requested disposition", "record_id", recordID, "cached", true)
		return o.complete(ctx, order, state, settings, successResult(state)), nil
	}

	state.RequestedDraft = opts.AsDraft
	data := map[string]any{}

	// Step 2: Integrity check
	var existing *domain.RemoteInvoice
	skipUpdate := false
	if state.RemoteInvoiceID != "" {
		inv, err := o.invoices.Get(ctx, state.RemoteInvoiceID)
		switch {
		case isNotFound(err):
			o.logger.Warn("remote invoice vanished, recreating",
				"record_id", recordID,
				"stale_invoice_id", state.RemoteInvoiceID,
			)
			data["recreated"] = true
			data["stale_invoice_id"] = state.RemoteInvoiceID
			state.ClearRemoteInvoice()
		case err != nil:
			return o.fail(ctx, state, err, data), nil
		default:
			existing = inv
			state.RemoteInvoiceStatus = inv.Status
			mismatches := compareInvoice(order, inv)
			if inv.Status.IsLocked() {
				if len(mismatches) > 0 && settings.StopOnConflict {
					return o.fail(ctx, state, &domain.ConflictError{
						RecordID:      recordID,
						InvoiceID:     inv.ID,
						InvoiceStatus: inv.Status,
						Mismatches:    mismatches,
					}, data), nil
				}
				skipUpdate = true
				if len(mismatches) > 0 {
					data["invoice_update_skipped"] = true
					data["mismatches"] = mismatches
					o.notify(ctx, domain.SeverityWarning, "Invoice update skipped",
						fmt.Sprintf("Remote invoice %s is %s and differs from order %s; update skipped", inv.ID, inv.Status, recordID),
						map[string]any{"record_id": recordID, "invoice_id": inv.ID, "mismatches": mismatches})
				}
			}
		}
	}

	// Step 3: Contact resolution
	if !skipUpdate || state.RemoteContactID == "" {
		contact, err := o.contacts.FindOrCreate(ctx, order, settings.ContactMatchKey)
		if err != nil {
			return o.fail(ctx, state, err, data), nil
		}
		state.RemoteContactID = contact.ID
	}

	// Step 4: Invoice materialisation
	inv := existing
	if !skipUpdate {
		target := targetInvoiceStatus(opts.AsDraft, existing)
		if existing == nil {
			inv, err = o.invoices.Create(ctx, order, state.RemoteContactID, target)
		} else {
			inv, err = o.invoices.Update(ctx, existing.ID, order, state.RemoteContactID, target)
		}
		if err != nil {
			return o.fail(ctx, state, err, data), nil
		}
	}

	// Step 5: Persist state
	state.RemoteInvoiceID = inv.ID
	state.RemoteInvoiceNumber = inv.Number
	state.RemoteInvoiceStatus = inv.Status
	state.MarkSucceeded(successStatus(opts.AsDraft, inv.Status), o.now())
	if err := o.persist(ctx, state); err != nil {
		o.logger.Error("failed to persist sync state", "record_id", recordID, "invoice_id", inv.ID, "error", err)
		result := domain.ResultFromState(state)
		result.Success = false
		result.Error = fmt.Sprintf("persist sync state: %v", err)
		result.ErrorKind = domain.ErrorKindInternal
		return result, nil
	}

	o.logger.Info("record synced",
		"record_id", recordID,
		"invoice_id", inv.ID,
		"invoice_status", inv.Status,
		"status", state.Status,
	)

	// Steps 6 and 7
	result = successResult(state)
	for k, v := range data {
		result.Data[k] = v
	}
	return o.complete(ctx, order, state, settings, result), nil
}

// complete applies a due or pending payment, then replays pending refunds.
// The first failure downgrades the record and is returned; the rest stay pending.
func (o *SyncOrchestrator) complete(ctx context.Context, order *domain.Order, state *domain.SyncRecordState, settings *domain.SyncSettings, result *domain.SyncResult) *domain.SyncResult {
	if o.paymentDue(order, state.RemoteInvoiceStatus, state, settings) || state.PaymentPending {
		pr := o.applyPayment(ctx, order, state, settings, false)
		if !pr.Success {
			return failedResult(state, result.Data, pr.Error, pr.ErrorKind)
		}
		result.Data["payment_id"] = pr.PaymentID
		result.Data["payment_amount"] = pr.Amount.String()
	}

	if len(state.PendingRefundIDs) == 0 {
		return result
	}

	var replayed []string
	for _, refundID := range append([]string(nil), state.PendingRefundIDs...) {
		refund, err := o.orders.GetRefund(ctx, order.ID, refundID)
		if errors.Is(err, domain.ErrNotFound) {
			o.logger.Warn("pending refund no longer exists, dropping it", "record_id", order.ID, "refund_id", refundID)
			state.ClearPendingRefund(refundID)
			if err := o.persist(ctx, state); err != nil {
				o.logger.Error("failed to persist dropped refund", "record_id", order.ID, "refund_id", refundID, "error", err)
			}
			continue
		}
		if err == nil {
			err = refund.Validate()
		}
		if err != nil {
			return o.fail(ctx, state, fmt.Errorf("replay refund %s: %w", refundID, err), result.Data)
		}

		o.logger.Info("replaying refund", "record_id", order.ID, "refund_id", refundID)
		rr := o.syncRefund(ctx, order, state, settings, refund)
		if !rr.Success {
			for k, v := range result.Data {
				if _, ok := rr.Data[k]; !ok {
					rr.Data[k] = v
				}
			}
			return rr
		}
		replayed = append(replayed, refundID)
	}

	out := successResult(state)
	for k, v := range result.Data {
		out.Data[k] = v
	}
	if len(replayed) > 0 {
		out.Data["replayed_refunds"] = replayed
	}
	return out
}

// ApplyPayment records the order's payment against its invoice.
// An already-recorded payment is returned as is unless force is set.
func (o *SyncOrchestrator) ApplyPayment(ctx context.Context, recordID string, force bool) (*domain.PaymentResult, error) {
	if recordID == "" {
		return nil, fmt.Errorf("%w: record id is required", domain.ErrInvalidInput)
	}

	release, locked := o.acquire(ctx, recordID)
	if locked != nil {
		return &domain.PaymentResult{RecordID: recordID, Error: locked.Error, ErrorKind: locked.ErrorKind}, nil
	}
	defer release()

	order, err := o.loadOrder(ctx, recordID)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			return nil, err
		}
		return &domain.PaymentResult{RecordID: recordID, Error: err.Error(), ErrorKind: domain.ErrorKindOf(err)}, nil
	}

	state, err := o.loadState(ctx, recordID)
	if err != nil {
		return &domain.PaymentResult{RecordID: recordID, Error: err.Error(), ErrorKind: domain.ErrorKindOf(err)}, nil
	}

	return o.applyPayment(ctx, order, state, o.loadSettings(ctx), force), nil
}

// applyPayment must be called with the record lock held.
func (o *SyncOrchestrator) applyPayment(ctx context.Context, order *domain.Order, state *domain.SyncRecordState, settings *domain.SyncSettings, force bool) *domain.PaymentResult {
	result := &domain.PaymentResult{RecordID: order.ID}

	if state.RemoteInvoiceID == "" {
		result.Error = fmt.Sprintf("record %s has no remote invoice yet", order.ID)
		result.ErrorKind = domain.ErrorKindInvalid
		return result
	}

	if state.HasPayment() && !force {
		o.logger.Debug("payment already recorded", "record_id", order.ID, "payment_id", state.RemotePaymentID)
		if state.PaymentPending {
			state.ClearPaymentPending()
			if err := o.persist(ctx, state); err != nil {
				o.logger.Error("failed to persist settled payment", "record_id", order.ID, "error", err)
			}
		}
		result.Success = true
		result.Existing = true
		result.PaymentID = state.RemotePaymentID
		result.Amount = state.RemotePaymentAmount
		return result
	}

	switch state.RemoteInvoiceStatus {
	case domain.RemoteInvoiceVoid:
		return o.failPayment(ctx, state, result, fmt.Errorf("%w: invoice %s is void", domain.ErrConflict, state.RemoteInvoiceID))
	case domain.RemoteInvoiceDraft, "":
		// Payments cannot be recorded against a draft; submit it first.
		// The local status keeps reflecting the requested disposition and
		// reconciliation reports the drift.
		inv, err := o.invoices.Approve(ctx, state.RemoteInvoiceID)
		if err != nil {
			return o.failPayment(ctx, state, result, err)
		}
		state.RemoteInvoiceStatus = inv.Status
	case domain.RemoteInvoiceSent, domain.RemoteInvoicePaid, domain.RemoteInvoicePartiallyPaid, domain.RemoteInvoiceOverdue:
	}

	amount, err := o.payments.NetAmount(ctx, order, order.Currency, settings.FeeFor(order.PaymentGateway))
	if err != nil {
		return o.failPayment(ctx, state, result, err)
	}
	if !amount.IsPositive() {
		if state.PaymentPending {
			state.ClearPaymentPending()
			if err := o.persist(ctx, state); err != nil {
				o.logger.Error("failed to persist settled payment", "record_id", order.ID, "error", err)
			}
		}
		result.Error = fmt.Sprintf("order %s has nothing to pay", order.ID)
		result.ErrorKind = domain.ErrorKindInvalid
		return result
	}

	payment, err := o.payments.Create(ctx, order, state.RemoteInvoiceID, order.Currency, settings.PaymentAccountCode, amount)
	if err != nil {
		return o.failPayment(ctx, state, result, err)
	}

	state.RemotePaymentID = payment.ID
	state.RemotePaymentAmount = amount
	state.ClearPaymentPending()
	state.Touch(o.now())
	if err := o.persist(ctx, state); err != nil {
		o.logger.Error("failed to persist payment id", "record_id", order.ID, "payment_id", payment.ID, "error", err)
		result.PaymentID = payment.ID
		result.Amount = amount
		result.Error = fmt.Sprintf("persist payment: %v", err)
		result.ErrorKind = domain.ErrorKindInternal
		return result
	}

	result.Success = true
	result.PaymentID = payment.ID
	result.Amount = amount
	return result
}

// failedResult projects a downgraded state, keeping data gathered before the failure.
func failedResult(state *domain.SyncRecordState, data map[string]any, msg string, kind domain.ErrorKind) *domain.SyncResult {
	out := domain.ResultFromState(state)
	for k, v := range data {
		out.Data[k] = v
	}
	out.Success = false
	out.Error = msg
	out.ErrorKind = kind
	return out
}

// paymentDue is the payment rule shared by single-record and bulk syncs.
func (o *SyncOrchestrator) paymentDue(order *domain.Order, invoiceStatus domain.RemoteInvoiceStatus, state *domain.SyncRecordState, settings *domain.SyncSettings) bool {
	return settings.AutoApplyPayment &&
		order.Status.IsPaid() &&
		invoiceStatus.IsFinal() &&
		!state.HasPayment()
}

// SyncRefund creates a credit note for a refund and tries to allocate it to the invoice.
// A credit note that cannot be allocated is kept as unapplied credit for manual reconciliation.
func (o *SyncOrchestrator) SyncRefund(ctx context.Context, recordID, refundID string) (*domain.SyncResult, error) {
	if recordID == "" || refundID == "" {
		return nil, fmt.Errorf("%w: record id and refund id are required", domain.ErrInvalidInput)
	}

	release, result := o.acquire(ctx, recordID)
	if result != nil {
		return result, nil
	}
	defer release()

	order, err := o.loadOrder(ctx, recordID)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			return nil, err
		}
		return o.unpersistedFailure(recordID, err), nil
	}

	refund, err := o.orders.GetRefund(ctx, recordID, refundID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: refund %s of order %s not found", domain.ErrInvalidInput, refundID, recordID)
		}
		return o.unpersistedFailure(recordID, err), nil
	}
	if err := refund.Validate(); err != nil {
		return nil, err
	}

	state, err := o.loadState(ctx, recordID)
	if err != nil {
		return o.unpersistedFailure(recordID, err), nil
	}

	return o.syncRefund(ctx, order, state, o.loadSettings(ctx), refund), nil
}

// syncRefund must be called with the record lock held. A failed refund stays
// pending on the state until a later sync of the record replays it.
func (o *SyncOrchestrator) syncRefund(ctx context.Context, order *domain.Order, state *domain.SyncRecordState, settings *domain.SyncSettings, refund *domain.Refund) *domain.SyncResult {
	recordID, refundID := order.ID, refund.ID

	if ref, ok := state.HasCreditNoteFor(refundID); ok {
		if slices.Contains(state.PendingRefundIDs, refundID) {
			state.ClearPendingRefund(refundID)
			if err := o.persist(ctx, state); err != nil {
				o.logger.Error("failed to persist settled refund", "record_id", recordID, "refund_id", refundID, "error", err)
			}
		}
		result := domain.ResultFromState(state)
		result.Success = true
		result.Data["credit_note_id"] = ref.CreditNoteID
		result.Data["applied"] = ref.Applied
		result.Data["cached"] = true
		return result
	}

	data := map[string]any{"refund_id": refundID}

	if state.RemoteContactID == "" {
		contact, err := o.contacts.FindOrCreate(ctx, order, settings.ContactMatchKey)
		if err != nil {
			state.AddPendingRefund(refundID)
			return o.fail(ctx, state, err, data)
		}
		state.RemoteContactID = contact.ID
	}

	cn, err := o.creditNotes.Create(ctx, order, refund, state.RemoteContactID)
	if err != nil {
		state.AddPendingRefund(refundID)
		return o.fail(ctx, state, err, data)
	}

	now := o.now()
	ref := domain.CreditNoteRef{
		RefundID:     refundID,
		CreditNoteID: cn.ID,
		Amount:       refund.Amount,
		CreatedAt:    now,
	}

	var reason string
	switch {
	case state.RemoteInvoiceID == "":
		reason = "no remote invoice to allocate against"
	case !state.RemoteInvoiceStatus.AcceptsCredit():
		reason = fmt.Sprintf("invoice %s is %s", state.RemoteInvoiceID, state.RemoteInvoiceStatus)
	default:
		if err := o.creditNotes.Allocate(ctx, cn.ID, state.RemoteInvoiceID, refund.Amount); err != nil {
			reason = err.Error()
		} else {
			ref.Applied = true
		}
	}

	state.RemoteCreditNotes = append(state.RemoteCreditNotes, ref)
	if !ref.Applied {
		state.UnappliedCredit = &domain.UnappliedCredit{CreditNoteID: cn.ID, Reason: reason, At: now}
		o.logger.Warn("credit note left unapplied", "record_id", recordID, "credit_note_id", cn.ID, "reason", reason)
		o.notify(ctx, domain.SeverityWarning, "Credit note not applied",
			fmt.Sprintf("Credit note %s for refund %s of order %s is unapplied: %s", cn.ID, refundID, recordID, reason),
			map[string]any{"record_id": recordID, "credit_note_id": cn.ID, "refund_id": refundID})
	}
	state.ClearPendingRefund(refundID)
	state.Touch(now)

	if err := o.persist(ctx, state); err != nil {
		o.logger.Error("failed to persist credit note", "record_id", recordID, "credit_note_id", cn.ID, "error", err)
		return o.unpersistedFailure(recordID, fmt.Errorf("persist credit note %s: %w", cn.ID, err))
	}

	result := domain.ResultFromState(state)
	result.Success = true
	for k, v := range data {
		result.Data[k] = v
	}
	result.Data["credit_note_id"] = cn.ID
	result.Data["applied"] = ref.Applied
	if !ref.Applied {
		result.Data["unapplied_reason"] = reason
	}
	return result
}


// GetState retrieves the stored sync state of a record.
func (o *SyncOrchestrator) GetState(ctx context.Context, recordID string) (*domain.SyncRecordState, error) {
	return o.states.Get(ctx, recordID)
}

// ResetState purges the stored sync state of a record.
func (o *SyncOrchestrator) ResetState(ctx context.Context, recordID string) error {
	release, result := o.acquire(ctx, recordID)
	if result != nil {
		return fmt.Errorf("%w: %s", domain.ErrRecordLocked, recordID)
	}
	defer release()

	o.logger.Info("purging sync state", "record_id", recordID)
	return o.states.Delete(ctx, recordID)
}

// acquire takes the per-record lock without waiting. A non-nil result means the caller must stop.
func (o *SyncOrchestrator) acquire(ctx context.Context, recordID string) (func(), *domain.SyncResult) {
	name := recordLockName(recordID)
	acquired, err := o.lock.Acquire(ctx, name, o.lockTTL)
	if err != nil {
		o.logger.Error("failed to acquire record lock", "record_id", recordID, "error", err)
		return nil, &domain.SyncResult{
			RecordID:  recordID,
			Error:     fmt.Sprintf("acquire record lock: %v", err),
			ErrorKind: domain.ErrorKindInternal,
			Data:      map[string]any{},
		}
	}
	if !acquired {
		o.logger.Info("record sync already in progress", "record_id", recordID)
		return nil, &domain.SyncResult{
			RecordID:  recordID,
			Error:     domain.ErrRecordLocked.Error(),
			ErrorKind: domain.ErrorKindLocked,
			Data:      map[string]any{},
		}
	}

	return func() {
		// Release on a fresh context so a cancelled request still frees the lock
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := o.lock.Release(releaseCtx, name); err != nil {
			o.logger.Warn("failed to release record lock", "record_id", recordID, "error", err)
		}
	}, nil
}

func (o *SyncOrchestrator) loadOrder(ctx context.Context, recordID string) (*domain.Order, error) {
	order, err := o.orders.Get(ctx, recordID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: order %s not found", domain.ErrInvalidInput, recordID)
		}
		return nil, fmt.Errorf("load order %s: %w", recordID, err)
	}
	if err := order.Validate(); err != nil {
		return nil, err
	}
	return order, nil
}

// loadState returns stored state, creating it lazily on first attempt.
func (o *SyncOrchestrator) loadState(ctx context.Context, recordID string) (*domain.SyncRecordState, error) {
	state, err := o.states.Get(ctx, recordID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.NewSyncRecordState(recordID, o.now()), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load sync state %s: %w", recordID, err)
	}
	return state, nil
}

func (o *SyncOrchestrator) loadSettings(ctx context.Context) *domain.SyncSettings {
	if o.settings == nil {
		return domain.DefaultSyncSettings()
	}
	settings, err := o.settings.GetSyncSettings(ctx)
	if err != nil {
		o.logger.Warn("failed to load sync settings, using defaults", "error", err)
		return domain.DefaultSyncSettings()
	}
	return settings
}

// fail downgrades the record to FAILED, persists it and surfaces the error.
// retry_count is left for the RetryScheduler.
func (o *SyncOrchestrator) fail(ctx context.Context, state *domain.SyncRecordState, cause error, data map[string]any) *domain.SyncResult {
	state.MarkFailed(cause, o.now())
	kind := state.LastErrorKind

	o.logger.Error("record sync failed",
		"record_id", state.RecordID,
		"error_kind", kind,
		"error", cause,
	)

	if err := o.persist(ctx, state); err != nil {
		o.logger.Error("failed to persist failed sync state", "record_id", state.RecordID, "error", err)
	}

	o.notify(ctx, domain.SeverityFor(kind), fmt.Sprintf("Sync failed for order %s", state.RecordID), cause.Error(),
		map[string]any{"record_id": state.RecordID, "error_kind": string(kind), "invoice_id": state.RemoteInvoiceID})

	result := domain.ResultFromState(state)
	for k, v := range data {
		result.Data[k] = v
	}
	return result
}

// failPayment keeps the payment pending so the next retry pass replays it.
func (o *SyncOrchestrator) failPayment(ctx context.Context, state *domain.SyncRecordState, result *domain.PaymentResult, cause error) *domain.PaymentResult {
	state.PaymentPending = true
	o.fail(ctx, state, fmt.Errorf("apply payment: %w", cause), nil)
	result.Error = state.LastError
	result.ErrorKind = state.LastErrorKind
	return result
}

// persist saves state on a context detached from the caller. It is used once a
// remote write has happened so a cancelled request cannot orphan it.
func (o *SyncOrchestrator) persist(ctx context.Context, state *domain.SyncRecordState) error {
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	return o.states.Save(saveCtx, state)
}

// unpersistedFailure reports a failure that happened before state could be loaded.
func (o *SyncOrchestrator) unpersistedFailure(recordID string, cause error) *domain.SyncResult {
	o.logger.Error("record sync aborted", "record_id", recordID, "error", cause)
	return &domain.SyncResult{
		RecordID:  recordID,
		Error:     cause.Error(),
		ErrorKind: domain.ErrorKindOf(cause),
		Data:      map[string]any{},
	}
}

func (o *SyncOrchestrator) notify(ctx context.Context, severity domain.Severity, title, message string, fields map[string]any) {
	if o.notifier == nil {
		return
	}
	err := o.notifier.Notify(ctx, domain.Notification{
		Severity: severity,
		Title:    title,
		Message:  message,
		Context:  fields,
	})
	if err != nil {
		o.logger.Warn("failed to send notification", "title", title, "error", err)
	}
}

// successResult projects a successful state. Identical states give identical results.
func successResult(state *domain.SyncRecordState) *domain.SyncResult {
	result := domain.ResultFromState(state)
	result.Data["invoice_number"] = state.RemoteInvoiceNumber
	result.Data["remote_invoice_status"] = string(state.RemoteInvoiceStatus)
	if state.HasPayment() {
		result.Data["payment_id"] = state.RemotePaymentID
		result.Data["payment_amount"] = state.RemotePaymentAmount.String()
	}
	return result
}

// compareInvoice lists the fields where the remote invoice no longer matches the order.
func compareInvoice(order *domain.Order, inv *domain.RemoteInvoice) []string {
	var mismatches []string
	if !order.Total.Equal(inv.Total) {
		mismatches = append(mismatches, fmt.Sprintf("total: local %s, remote %s", order.Total, inv.Total))
	}
	if len(order.LineItems) != len(inv.LineItems) {
		mismatches = append(mismatches, fmt.Sprintf("line items: local %d, remote %d", len(order.LineItems), len(inv.LineItems)))
	}
	if order.InvoiceReference() != inv.Reference {
		mismatches = append(mismatches, fmt.Sprintf("reference: local %q, remote %q", order.InvoiceReference(), inv.Reference))
	}
	return mismatches
}

// targetInvoiceStatus picks the status to request. A submitted invoice is never reverted to draft.
func targetInvoiceStatus(asDraft bool, existing *domain.RemoteInvoice) domain.RemoteInvoiceStatus {
	if existing != nil && existing.Status.IsFinal() {
		return existing.Status
	}
	if asDraft {
		return domain.RemoteInvoiceDraft
	}
	return domain.RemoteInvoiceSent
}

// successStatus maps the remote invoice status onto the local success status.
func successStatus(asDraft bool, status domain.RemoteInvoiceStatus) domain.SyncStatus {
	switch status {
	case domain.RemoteInvoiceSent, domain.RemoteInvoicePaid, domain.RemoteInvoicePartiallyPaid, domain.RemoteInvoiceOverdue:
		return domain.SyncStatusSynced
	case domain.RemoteInvoiceDraft:
		return domain.SyncStatusDraft
	case domain.RemoteInvoiceVoid:
		return domain.StatusFor(asDraft)
	}
	return domain.StatusFor(asDraft)
}
