package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driven"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driving"
)

// Ensure ReconciliationEngine implements ReconciliationService
var _ driving.ReconciliationService = (*ReconciliationEngine)(nil)

// InvoiceReader is the read side of the invoice service used by reconciliation.
type InvoiceReader interface {
	Get(ctx context.Context, id string) (*domain.RemoteInvoice, error)
	List(ctx context.Context, from, to time.Time) ([]*domain.RemoteInvoice, error)
}

// ReconciliationEngine compares local records against remote invoices for a period.
type ReconciliationEngine struct {
	reports  driven.ReportStore
	orders   driven.OrderSource
	states   driven.RecordStateStore
	invoices InvoiceReader
	settings driven.SettingsStore
	lock     driven.DistributedLock
	pacer    *rate.Limiter
	timeout  time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// ReconciliationEngineConfig holds dependencies for ReconciliationEngine.
type ReconciliationEngineConfig struct {
	Reports  driven.ReportStore
	Orders   driven.OrderSource
	States   driven.RecordStateStore
	Invoices InvoiceReader
	Settings driven.SettingsStore
	Lock     driven.DistributedLock // default: in-process KeyedLocker

	// DetailRate caps single-invoice lookups for linked invoices outside the listed
	// period, leaving most of the shared budget to live syncs (default: 1/s)
	DetailRate rate.Limit

	// StaleAfter is how long a running report may block overlapping runs (default: 1h)
	StaleAfter time.Duration

	Clock  func() time.Time
	Logger *slog.Logger
}

// NewReconciliationEngine creates a new reconciliation engine.
func NewReconciliationEngine(cfg ReconciliationEngineConfig) *ReconciliationEngine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	detailRate := cfg.DetailRate
	if detailRate <= 0 {
		detailRate = rate.Every(time.Second)
	}
	staleAfter := cfg.StaleAfter
	if staleAfter <= 0 {
		staleAfter = time.Hour
	}
	lock := cfg.Lock
	if lock == nil {
		lock = NewKeyedLocker()
	}

	return &ReconciliationEngine{
		reports:  cfg.Reports,
		orders:   cfg.Orders,
		states:   cfg.States,
		invoices: cfg.Invoices,
		settings: cfg.Settings,
		lock:     lock,
		pacer:    rate.NewLimiter(detailRate, 1),
		timeout:  staleAfter,
		now:      clock,
		logger:   logger,
	}
}

// reconcileLockName guards the overlap check and the creation of the running report.
const reconcileLockName = "reconcile"

// GenerateReport reconciles [start, end]. The report is persisted as running before
// any remote call so that a crash leaves a sweepable row behind.
func (e *ReconciliationEngine) GenerateReport(ctx context.Context, start, end time.Time) (*domain.ReconciliationReport, error) {
	if start.IsZero() || end.IsZero() {
		return nil, fmt.Errorf("%w: period start and end are required", domain.ErrInvalidInput)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("%w: period ends before it starts", domain.ErrInvalidInput)
	}

	report, err := e.start(ctx, start, end)
	if err != nil {
		return nil, err
	}

	e.logger.Info("reconciliation started",
		"report_id", report.ID,
		"period_start", start,
		"period_end", end,
		"tolerance", report.Tolerance.String(),
	)

	if err := e.compare(ctx, report); err != nil {
		report.Fail(err.Error(), e.now())
		if saveErr := e.reports.Save(context.WithoutCancel(ctx), report); saveErr != nil {
			e.logger.Error("failed to persist failed report", "report_id", report.ID, "error", saveErr)
		}
		e.logger.Error("reconciliation failed", "report_id", report.ID, "error", err)
		return report, fmt.Errorf("reconcile: %w", err)
	}

	report.Complete(e.now())
	if err := e.reports.Save(ctx, report); err != nil {
		return nil, fmt.Errorf("save report: %w", err)
	}

	e.logger.Info("reconciliation completed",
		"report_id", report.ID,
		"matched", report.Summary.Matched,
		"discrepancies", len(report.Discrepancies),
	)
	return report, nil
}

// start checks for overlapping runs and persists the new report as running,
// both under the reconcile lock so concurrent callers cannot both pass the check.
func (e *ReconciliationEngine) start(ctx context.Context, start, end time.Time) (*domain.ReconciliationReport, error) {
	acquired, err := e.lock.Acquire(ctx, reconcileLockName, time.Minute)
	if err != nil {
		return nil, fmt.Errorf("acquire reconcile lock: %w", err)
	}
	if !acquired {
		return nil, fmt.Errorf("%w: another reconciliation is starting", domain.ErrReconciliationRunning)
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := e.lock.Release(releaseCtx, reconcileLockName); err != nil {
			e.logger.Warn("failed to release reconcile lock", "error", err)
		}
	}()

	if err := e.ensureNoOverlap(ctx, start, end); err != nil {
		return nil, err
	}

	tolerance := domain.DefaultSyncSettings().AmountTolerance
	if e.settings != nil {
		if s, err := e.settings.GetSyncSettings(ctx); err == nil {
			tolerance = s.AmountTolerance
		} else {
			e.logger.Warn("failed to load sync settings, using default tolerance", "error", err)
		}
	}

	report := &domain.ReconciliationReport{
		ID:            uuid.NewString(),
		PeriodStart:   start,
		PeriodEnd:     end,
		Status:        domain.ReportStatusRunning,
		Tolerance:     tolerance,
		Discrepancies: []domain.Discrepancy{},
		StartedAt:     e.now(),
	}
	if err := e.reports.Create(ctx, report); err != nil {
		return nil, fmt.Errorf("create report: %w", err)
	}
	return report, nil
}

func (e *ReconciliationEngine) ensureNoOverlap(ctx context.Context, start, end time.Time) error {
	running, err := e.reports.FindByStatus(ctx, domain.ReportStatusRunning)
	if err != nil {
		return fmt.Errorf("find running reports: %w", err)
	}
	now := e.now()
	for _, r := range running {
		if r.IsStale(now, e.timeout) {
			continue
		}
		if r.Overlaps(start, end) {
			return fmt.Errorf("%w: report %s covers an overlapping period", domain.ErrReconciliationRunning, r.ID)
		}
	}
	return nil
}

// compare fills report with the classification of every local record and remote invoice.
func (e *ReconciliationEngine) compare(ctx context.Context, report *domain.ReconciliationReport) error {
	orders, err := e.orders.ListInRange(ctx, report.PeriodStart, report.PeriodEnd)
	if err != nil {
		return fmt.Errorf("list local orders: %w", err)
	}
	states, err := e.states.FindInDateRange(ctx, report.PeriodStart, report.PeriodEnd)
	if err != nil {
		return fmt.Errorf("list sync states: %w", err)
	}
	remote, err := e.invoices.List(ctx, report.PeriodStart, report.PeriodEnd)
	if err != nil {
		return fmt.Errorf("list remote invoices: %w", err)
	}

	stateByID := make(map[string]*domain.SyncRecordState, len(states))
	for _, s := range states {
		stateByID[s.RecordID] = s
	}
	remoteByID := make(map[string]*domain.RemoteInvoice, len(remote))
	remoteByRef := make(map[string]*domain.RemoteInvoice, len(remote))
	for _, inv := range remote {
		remoteByID[inv.ID] = inv
		if inv.Reference != "" {
			remoteByRef[inv.Reference] = inv
		}
	}
	paired := make(map[string]bool, len(remote))

	report.Summary.LocalRecords = len(orders)
	report.Summary.RemoteInvoices = len(remote)

	for _, order := range orders {
		if err := ctx.Err(); err != nil {
			return err
		}
		state, err := e.stateFor(ctx, order.ID, stateByID)
		if err != nil {
			return err
		}

		inv, err := e.findRemote(ctx, order, state, remoteByID, remoteByRef)
		if err != nil {
			return err
		}
		if inv == nil {
			e.add(report, domain.Discrepancy{
				Kind:       domain.DiscrepancyMissingInRemote,
				RecordID:   order.ID,
				Reference:  order.InvoiceReference(),
				LocalTotal: decimalPtr(order.Total),
				Message:    missingInRemoteMessage(state),
				Actions:    []domain.ResolutionAction{domain.ActionResync},
			})
			continue
		}
		paired[inv.ID] = true

		if d, ok := classifyPair(order, state, inv, report.Tolerance); ok {
			e.add(report, d)
			continue
		}
		report.Summary.Matched++
	}

	for _, inv := range remote {
		if paired[inv.ID] {
			continue
		}
		e.add(report, domain.Discrepancy{
			Kind:            domain.DiscrepancyMissingLocally,
			RemoteInvoiceID: inv.ID,
			Reference:       inv.Reference,
			RemoteTotal:     decimalPtr(inv.Total),
			Message:         fmt.Sprintf("remote invoice %s has no local record", inv.Number),
			Actions:         []domain.ResolutionAction{domain.ActionLink, domain.ActionVoidRemote},
		})
	}
	return nil
}

// stateFor returns the prefetched state of a record, falling back to a direct
// lookup for records first synced after the period.
func (e *ReconciliationEngine) stateFor(ctx context.Context, recordID string, prefetched map[string]*domain.SyncRecordState) (*domain.SyncRecordState, error) {
	if s, ok := prefetched[recordID]; ok {
		return s, nil
	}
	s, err := e.states.Get(ctx, recordID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load sync state %s: %w", recordID, err)
	}
	return s, nil
}

// findRemote pairs a local order with its remote invoice: by the stored link first,
// then by reference. A linked invoice outside the listed period is fetched directly.
func (e *ReconciliationEngine) findRemote(ctx context.Context, order *domain.Order, state *domain.SyncRecordState,
	byID, byRef map[string]*domain.RemoteInvoice) (*domain.RemoteInvoice, error) {
	if state != nil && state.RemoteInvoiceID != "" {
		if inv, ok := byID[state.RemoteInvoiceID]; ok {
			return inv, nil
		}
		if err := e.pacer.Wait(ctx); err != nil {
			return nil, err
		}
		inv, err := e.invoices.Get(ctx, state.RemoteInvoiceID)
		if err == nil {
			return inv, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		return nil, nil
	}
	return byRef[order.InvoiceReference()], nil
}

func (e *ReconciliationEngine) add(report *domain.ReconciliationReport, d domain.Discrepancy) {
	report.Discrepancies = append(report.Discrepancies, d)
	report.Summary.Add(d.Kind)
}

// classifyPair compares a paired order and invoice. Amount drift takes precedence
// over status drift.
func classifyPair(order *domain.Order, state *domain.SyncRecordState, inv *domain.RemoteInvoice, tolerance decimal.Decimal) (domain.Discrepancy, bool) {
	delta := inv.Total.Sub(order.Total)
	if delta.Abs().GreaterThan(tolerance) {
		return domain.Discrepancy{
			Kind:            domain.DiscrepancyAmountMismatch,
			RecordID:        order.ID,
			RemoteInvoiceID: inv.ID,
			Reference:       inv.Reference,
			LocalTotal:      decimalPtr(order.Total),
			RemoteTotal:     decimalPtr(inv.Total),
			Delta:           decimalPtr(delta),
			Message:         fmt.Sprintf("remote total differs from local by %s %s", delta.StringFixed(2), order.Currency),
			Actions:         []domain.ResolutionAction{domain.ActionResync, domain.ActionReview},
		}, true
	}

	if msg := statusDrift(state, inv); msg != "" {
		return domain.Discrepancy{
			Kind:            domain.DiscrepancyStatusMismatch,
			RecordID:        order.ID,
			RemoteInvoiceID: inv.ID,
			Reference:       inv.Reference,
			Message:         msg,
			Actions:         []domain.ResolutionAction{domain.ActionResync, domain.ActionReview},
		}, true
	}
	return domain.Discrepancy{}, false
}

func statusDrift(state *domain.SyncRecordState, inv *domain.RemoteInvoice) string {
	if state == nil {
		return ""
	}
	if inv.Status == domain.RemoteInvoiceVoid && state.Status.IsSuccess() {
		return "remote invoice was voided"
	}
	if state.Status == domain.SyncStatusSynced && inv.Status == domain.RemoteInvoiceDraft {
		return "record is synced but the remote invoice is still a draft"
	}
	// Paying a draft submits it remotely while the record keeps its draft disposition
	if state.Status == domain.SyncStatusDraft && inv.Status.IsFinal() {
		return fmt.Sprintf("record is a draft but the remote invoice is %s", inv.Status)
	}
	return ""
}

func missingInRemoteMessage(state *domain.SyncRecordState) string {
	switch {
	case state == nil:
		return "record has never been synced"
	case state.RemoteInvoiceID != "":
		return fmt.Sprintf("linked remote invoice %s no longer exists", state.RemoteInvoiceID)
	default:
		return fmt.Sprintf("record is %s with no remote invoice", state.Status)
	}
}

func decimalPtr(d decimal.Decimal) *decimal.Decimal {
	return &d
}

// MarkStaleReportsFailed fails running reports whose owner likely crashed.
func (e *ReconciliationEngine) MarkStaleReportsFailed(ctx context.Context, timeout time.Duration) (int, error) {
	if timeout <= 0 {
		timeout = e.timeout
	}
	running, err := e.reports.FindByStatus(ctx, domain.ReportStatusRunning)
	if err != nil {
		return 0, fmt.Errorf("find running reports: %w", err)
	}

	now := e.now()
	marked := 0
	for _, r := range running {
		if !r.IsStale(now, timeout) {
			continue
		}
		r.Fail(fmt.Sprintf("timed out after %s", timeout), now)
		if err := e.reports.Save(ctx, r); err != nil {
			return marked, fmt.Errorf("save report %s: %w", r.ID, err)
		}
		marked++
	}
	return marked, nil
}

// GetReport retrieves a report.
func (e *ReconciliationEngine) GetReport(ctx context.Context, id string) (*domain.ReconciliationReport, error) {
	return e.reports.Get(ctx, id)
}

// ListReports returns recent reports.
func (e *ReconciliationEngine) ListReports(ctx context.Context, limit int) ([]*domain.ReconciliationReport, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return e.reports.List(ctx, limit)
}
