package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// SyncStatus represents where a record sits in the sync state machine
type SyncStatus string

const (
	SyncStatusPending SyncStatus = "pending"
	SyncStatusDraft   SyncStatus = "draft"
	SyncStatusSynced  SyncStatus = "synced"
	SyncStatusFailed  SyncStatus = "failed"
)

// IsValid reports whether s is a known status.
func (s SyncStatus) IsValid() bool {
	switch s {
	case SyncStatusPending, SyncStatusDraft, SyncStatusSynced, SyncStatusFailed:
		return true
	}
	return false
}

// IsSuccess reports whether s is one of the terminal-success variants.
func (s SyncStatus) IsSuccess() bool {
	return s == SyncStatusDraft || s == SyncStatusSynced
}

// StatusFor maps a requested disposition to its success status.
func StatusFor(asDraft bool) SyncStatus {
	if asDraft {
		return SyncStatusDraft
	}
	return SyncStatusSynced
}

// CreditNoteRef records a remote credit note created for a local refund
type CreditNoteRef struct {
	RefundID     string          `json:"refund_id"`
	CreditNoteID string          `json:"credit_note_id"`
	Amount       decimal.Decimal `json:"amount"`
	Applied      bool            `json:"applied"`
	CreatedAt    time.Time       `json:"created_at"`
}

// UnappliedCredit marks a credit note that could not be allocated to its invoice
type UnappliedCredit struct {
	CreditNoteID string    `json:"credit_note_id"`
	Reason       string    `json:"reason"`
	At           time.Time `json:"at"`
}

// SyncRecordState is the durable projection of sync outcomes for one local record
type SyncRecordState struct {
	RecordID            string              `json:"record_id"`
	Status              SyncStatus          `json:"status"`
	RemoteInvoiceID     string              `json:"remote_invoice_id,omitempty"`
	RemoteInvoiceNumber string              `json:"remote_invoice_number,omitempty"`
	RemoteInvoiceStatus RemoteInvoiceStatus `json:"remote_invoice_status,omitempty"`
	RemoteContactID     string              `json:"remote_contact_id,omitempty"`
	RemotePaymentID     string              `json:"remote_payment_id,omitempty"`
	RemotePaymentAmount decimal.Decimal     `json:"remote_payment_amount"`
	RemoteCreditNotes   []CreditNoteRef     `json:"remote_credit_notes,omitempty"`
	UnappliedCredit     *UnappliedCredit    `json:"unapplied_credit,omitempty"`
	PendingRefundIDs    []string            `json:"pending_refund_ids,omitempty"`
	PaymentPending      bool                `json:"payment_pending,omitempty"`
	RequestedDraft      bool                `json:"requested_draft"`
	LastAttemptAt       *time.Time          `json:"last_attempt_at,omitempty"`
	LastError           string              `json:"last_error,omitempty"`
	LastErrorKind       ErrorKind           `json:"last_error_kind,omitempty"`
	RetryCount          int                 `json:"retry_count"`
	CreatedAt           time.Time           `json:"created_at"`
	UpdatedAt           time.Time           `json:"updated_at"`
}

// NewSyncRecordState creates the lazily-initialised state for a record
func NewSyncRecordState(recordID string, now time.Time) *SyncRecordState {
	return &SyncRecordState{
		RecordID:  recordID,
		Status:    SyncStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Validate checks the state invariants
func (s *SyncRecordState) Validate() error {
	if s.RecordID == "" {
		return fmt.Errorf("%w: record id is required", ErrInvalidInput)
	}
	if !s.Status.IsValid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidInput, s.Status)
	}
	if s.RemoteInvoiceID != "" && s.Status == SyncStatusPending {
		return fmt.Errorf("%w: pending record %s carries remote invoice %s", ErrInvalidInput, s.RecordID, s.RemoteInvoiceID)
	}
	if s.RetryCount < 0 {
		return fmt.Errorf("%w: negative retry count", ErrInvalidInput)
	}
	return nil
}

// Satisfies reports whether the stored state already fulfils a request for the given disposition
func (s *SyncRecordState) Satisfies(asDraft bool) bool {
	return s.RemoteInvoiceID != "" && s.Status == StatusFor(asDraft)
}

// HasPayment reports whether a remote payment is already recorded
func (s *SyncRecordState) HasPayment() bool {
	return s.RemotePaymentID != ""
}

// HasCreditNoteFor reports whether a refund already produced a credit note
func (s *SyncRecordState) HasCreditNoteFor(refundID string) (CreditNoteRef, bool) {
	for _, ref := range s.RemoteCreditNotes {
		if ref.RefundID == refundID {
			return ref, true
		}
	}
	return CreditNoteRef{}, false
}

// HasPendingWork reports whether a failed refund or payment still has to be replayed
func (s *SyncRecordState) HasPendingWork() bool {
	return len(s.PendingRefundIDs) > 0 || s.PaymentPending
}

// AddPendingRefund remembers a refund whose credit note could not be created
func (s *SyncRecordState) AddPendingRefund(refundID string) {
	for _, id := range s.PendingRefundIDs {
		if id == refundID {
			return
		}
	}
	s.PendingRefundIDs = append(s.PendingRefundIDs, refundID)
}

// ClearPendingRefund drops a replayed refund
func (s *SyncRecordState) ClearPendingRefund(refundID string) {
	var kept []string
	for _, id := range s.PendingRefundIDs {
		if id != refundID {
			kept = append(kept, id)
		}
	}
	s.PendingRefundIDs = kept
	s.settle()
}

// ClearPaymentPending drops a replayed payment
func (s *SyncRecordState) ClearPaymentPending() {
	s.PaymentPending = false
	s.settle()
}

// settle resets retry_count once a successful record has nothing left to replay
func (s *SyncRecordState) settle() {
	if s.Status.IsSuccess() && !s.HasPendingWork() {
		s.RetryCount = 0
	}
}

// ClearRemoteInvoice drops a stale invoice reference after the remote side lost it.
// Payment ids belong to the old invoice and go with it.
func (s *SyncRecordState) ClearRemoteInvoice() {
	s.RemoteInvoiceID = ""
	s.RemoteInvoiceNumber = ""
	s.RemoteInvoiceStatus = ""
	s.RemotePaymentID = ""
	s.RemotePaymentAmount = decimal.Zero
	s.Status = SyncStatusPending
}

// MarkSucceeded moves the state into a success status.
// retry_count resets unless a refund or payment is still waiting to be replayed.
func (s *SyncRecordState) MarkSucceeded(status SyncStatus, now time.Time) {
	s.Status = status
	s.LastError = ""
	s.LastErrorKind = ErrorKindNone
	s.settle()
	s.LastAttemptAt = &now
	s.UpdatedAt = now
}

// MarkFailed records a failed attempt. retry_count is owned by the retry scheduler.
func (s *SyncRecordState) MarkFailed(err error, now time.Time) {
	s.Status = SyncStatusFailed
	s.LastError = err.Error()
	s.LastErrorKind = ErrorKindOf(err)
	s.LastAttemptAt = &now
	s.UpdatedAt = now
}

// Touch updates the attempt timestamp without changing status
func (s *SyncRecordState) Touch(now time.Time) {
	s.LastAttemptAt = &now
	s.UpdatedAt = now
}

// Clone returns a deep copy
func (s *SyncRecordState) Clone() *SyncRecordState {
	c := *s
	if s.LastAttemptAt != nil {
		t := *s.LastAttemptAt
		c.LastAttemptAt = &t
	}
	if s.UnappliedCredit != nil {
		u := *s.UnappliedCredit
		c.UnappliedCredit = &u
	}
	if s.RemoteCreditNotes != nil {
		c.RemoteCreditNotes = append([]CreditNoteRef(nil), s.RemoteCreditNotes...)
	}
	if s.PendingRefundIDs != nil {
		c.PendingRefundIDs = append([]string(nil), s.PendingRefundIDs...)
	}
	return &c
}

// SyncOptions are caller-supplied flags for one sync_record invocation
type SyncOptions struct {
	AsDraft bool `json:"as_draft"`
	// Force bypasses the idempotency gate. Manual triggers set it; automatic triggers do not.
	Force bool `json:"force"`
}

// SyncResult is the immutable outcome of one orchestration attempt
type SyncResult struct {
	RecordID        string         `json:"record_id"`
	Success         bool           `json:"success"`
	Status          SyncStatus     `json:"status"`
	RemoteInvoiceID string         `json:"remote_invoice_id,omitempty"`
	RemoteContactID string         `json:"remote_contact_id,omitempty"`
	Error           string         `json:"error,omitempty"`
	ErrorKind       ErrorKind      `json:"error_kind,omitempty"`
	Data            map[string]any `json:"data,omitempty"`
}

// ResultFromState projects a stored state into a result
func ResultFromState(s *SyncRecordState) *SyncResult {
	return &SyncResult{
		RecordID:        s.RecordID,
		Success:         s.Status.IsSuccess(),
		Status:          s.Status,
		RemoteInvoiceID: s.RemoteInvoiceID,
		RemoteContactID: s.RemoteContactID,
		Error:           s.LastError,
		ErrorKind:       s.LastErrorKind,
		Data:            map[string]any{},
	}
}

// PaymentResult is the outcome of apply_payment
type PaymentResult struct {
	RecordID  string          `json:"record_id"`
	Success   bool            `json:"success"`
	PaymentID string          `json:"payment_id,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
	Existing  bool            `json:"existing,omitempty"`
	Error     string          `json:"error,omitempty"`
	ErrorKind ErrorKind       `json:"error_kind,omitempty"`
}
