package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReportStatus is the lifecycle of a reconciliation report
type ReportStatus string

const (
	ReportStatusPending   ReportStatus = "pending"
	ReportStatusRunning   ReportStatus = "running"
	ReportStatusCompleted ReportStatus = "completed"
	ReportStatusFailed    ReportStatus = "failed"
)

// DiscrepancyKind classifies a local/remote pair
type DiscrepancyKind string

const (
	DiscrepancyMissingInRemote DiscrepancyKind = "missing_in_remote"
	DiscrepancyMissingLocally  DiscrepancyKind = "missing_locally"
	DiscrepancyAmountMismatch  DiscrepancyKind = "amount_mismatch"
	DiscrepancyStatusMismatch  DiscrepancyKind = "status_mismatch"
)

// ResolutionAction is an affordance offered for a discrepancy
type ResolutionAction string

const (
	ActionResync     ResolutionAction = "resync"
	ActionLink       ResolutionAction = "link"
	ActionVoidRemote ResolutionAction = "void_remote"
	ActionReview     ResolutionAction = "review"
)

// Discrepancy is one drift finding
type Discrepancy struct {
	Kind            DiscrepancyKind    `json:"kind"`
	RecordID        string             `json:"record_id,omitempty"`
	RemoteInvoiceID string             `json:"remote_invoice_id,omitempty"`
	Reference       string             `json:"reference,omitempty"`
	LocalTotal      *decimal.Decimal   `json:"local_total,omitempty"`
	RemoteTotal     *decimal.Decimal   `json:"remote_total,omitempty"`
	Delta           *decimal.Decimal   `json:"delta,omitempty"` // remote minus local
	Message         string             `json:"message"`
	Actions         []ResolutionAction `json:"actions"`
}

// ReportSummary holds counts per classification
type ReportSummary struct {
	LocalRecords     int `json:"local_records"`
	RemoteInvoices   int `json:"remote_invoices"`
	Matched          int `json:"matched"`
	MissingInRemote  int `json:"missing_in_remote"`
	MissingLocally   int `json:"missing_locally"`
	AmountMismatches int `json:"amount_mismatches"`
	StatusMismatches int `json:"status_mismatches"`
}

// Add counts a discrepancy
func (s *ReportSummary) Add(kind DiscrepancyKind) {
	switch kind {
	case DiscrepancyMissingInRemote:
		s.MissingInRemote++
	case DiscrepancyMissingLocally:
		s.MissingLocally++
	case DiscrepancyAmountMismatch:
		s.AmountMismatches++
	case DiscrepancyStatusMismatch:
		s.StatusMismatches++
	}
}

// ReconciliationReport compares local and remote state for a period
type ReconciliationReport struct {
	ID            string          `json:"id"`
	PeriodStart   time.Time       `json:"period_start"`
	PeriodEnd     time.Time       `json:"period_end"`
	Status        ReportStatus    `json:"status"`
	Tolerance     decimal.Decimal `json:"tolerance"`
	Summary       ReportSummary   `json:"summary"`
	Discrepancies []Discrepancy   `json:"discrepancies"`
	Error         string          `json:"error,omitempty"`
	StartedAt     time.Time       `json:"started_at"`
	GeneratedAt   *time.Time      `json:"generated_at,omitempty"`
}

// IsStale reports whether a running report has exceeded timeout
func (r *ReconciliationReport) IsStale(now time.Time, timeout time.Duration) bool {
	return r.Status == ReportStatusRunning && now.Sub(r.StartedAt) > timeout
}

// Overlaps reports whether the report covers any of [start, end]
func (r *ReconciliationReport) Overlaps(start, end time.Time) bool {
	return !r.PeriodEnd.Before(start) && !r.PeriodStart.After(end)
}

// Complete finalises the report
func (r *ReconciliationReport) Complete(now time.Time) {
	r.Status = ReportStatusCompleted
	r.GeneratedAt = &now
	r.Error = ""
}

// Fail finalises the report with an error
func (r *ReconciliationReport) Fail(msg string, now time.Time) {
	r.Status = ReportStatusFailed
	r.GeneratedAt = &now
	r.Error = msg
}
