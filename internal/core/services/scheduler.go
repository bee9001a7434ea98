package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driven"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driving"
)

// Ensure RetryScheduler implements RetryService
var _ driving.RetryService = (*RetryScheduler)(nil)

const retrySchedulerLockName = "retry-scheduler"

// RecordSyncer is the part of the orchestrator the schedulers and bulk runner need.
type RecordSyncer interface {
	SyncRecord(ctx context.Context, recordID string, opts domain.SyncOptions) (*domain.SyncResult, error)
}

// StaleReportSweeper reclaims crashed reconciliation runs.
type StaleReportSweeper interface {
	MarkStaleReportsFailed(ctx context.Context, timeout time.Duration) (int, error)
}

// RetryScheduler periodically re-attempts FAILED records with exponential backoff.
// Passes never overlap: an in-process guard plus, when configured, a DistributedLock
// shared by every worker instance.
type RetryScheduler struct {
	states   driven.RecordStateStore
	syncer   RecordSyncer
	settings driven.SettingsStore
	lock     driven.DistributedLock
	sweeper  StaleReportSweeper
	notifier driven.Notifier
	now      func() time.Time
	logger   *slog.Logger

	inPass atomic.Bool

	// Loop state
	mu       sync.Mutex
	running  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	interval time.Duration

	lockTTL       time.Duration
	reportTimeout time.Duration
}

// RetrySchedulerConfig holds configuration for the retry scheduler.
type RetrySchedulerConfig struct {
	States   driven.RecordStateStore
	Syncer   RecordSyncer
	Settings driven.SettingsStore
	Lock     driven.DistributedLock // Optional: cross-instance single flight
	Sweeper  StaleReportSweeper     // Optional: swept after every pass
	Notifier driven.Notifier        // Optional
	Clock    func() time.Time
	Logger   *slog.Logger

	Interval      time.Duration // How often to run a pass (default: 15m)
	LockTTL       time.Duration // TTL for the distributed lock (default: 10m)
	ReportTimeout time.Duration // Running reports older than this are failed (default: 1h)
}

// NewRetryScheduler creates a new retry scheduler.
func NewRetryScheduler(cfg RetrySchedulerConfig) *RetryScheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	lockTTL := cfg.LockTTL
	if lockTTL <= 0 {
		lockTTL = 10 * time.Minute
	}
	reportTimeout := cfg.ReportTimeout
	if reportTimeout <= 0 {
		reportTimeout = time.Hour
	}

	return &RetryScheduler{
		states:        cfg.States,
		syncer:        cfg.Syncer,
		settings:      cfg.Settings,
		lock:          cfg.Lock,
		sweeper:       cfg.Sweeper,
		notifier:      cfg.Notifier,
		now:           clock,
		logger:        logger,
		interval:      interval,
		lockTTL:       lockTTL,
		reportTimeout: reportTimeout,
	}
}

// Backoff returns the wait after a record's retryCount-th failed retry: base·2^n capped at max.
func Backoff(policy domain.RetryPolicy, retryCount int) time.Duration {
	d := policy.BaseDelay
	for i := 0; i < retryCount; i++ {
		if d >= policy.MaxDelay/2 {
			return policy.MaxDelay
		}
		d *= 2
	}
	if d > policy.MaxDelay {
		return policy.MaxDelay
	}
	return d
}

// NextEligibleAt returns when a failed record may be retried.
func NextEligibleAt(state *domain.SyncRecordState, policy domain.RetryPolicy) time.Time {
	if state.LastAttemptAt == nil {
		return time.Time{}
	}
	return state.LastAttemptAt.Add(Backoff(policy, state.RetryCount))
}

// Exhausted reports whether a record has used all its retries.
func Exhausted(state *domain.SyncRecordState, policy domain.RetryPolicy) bool {
	return !policy.Indefinite && state.RetryCount >= policy.MaxRetries
}

// Start begins the retry loop.
// It runs until Stop is called or context is cancelled.
func (s *RetryScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	s.logger.Info("retry scheduler starting", "interval", s.interval)

	go s.loop(ctx)

	return nil
}

// Stop gracefully stops the loop, waiting for an in-flight pass.
func (s *RetryScheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	s.mu.Unlock()

	<-s.doneCh

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	s.logger.Info("retry scheduler stopped")
}

func (s *RetryScheduler) loop(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("retry scheduler context cancelled")
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *RetryScheduler) tick(ctx context.Context) {
	summary, err := s.Run(ctx)
	if err != nil {
		s.logger.Error("retry pass failed", "error", err)
	} else if !summary.Skipped {
		s.logger.Info("retry pass complete",
			"examined", summary.Examined,
			"eligible", summary.Eligible,
			"succeeded", summary.Succeeded,
			"failed", summary.Failed,
			"exhausted", summary.Exhausted,
		)
	}

	if s.sweeper != nil {
		n, err := s.sweeper.MarkStaleReportsFailed(ctx, s.reportTimeout)
		if err != nil {
			s.logger.Warn("stale report sweep failed", "error", err)
		} else if n > 0 {
			s.logger.Warn("marked stale reconciliation reports failed", "count", n)
		}
	}
}

// Run executes one retry pass. A pass already running here or on another instance
// makes this call return a skipped summary.
func (s *RetryScheduler) Run(ctx context.Context) (*driving.RetryRunSummary, error) {
	summary := &driving.RetryRunSummary{}

	if !s.inPass.CompareAndSwap(false, true) {
		s.logger.Debug("retry pass already running, skipping")
		summary.Skipped = true
		return summary, nil
	}
	defer s.inPass.Store(false)

	if s.lock != nil {
		acquired, err := s.lock.Acquire(ctx, retrySchedulerLockName, s.lockTTL)
		if err != nil {
			return nil, fmt.Errorf("acquire retry lock: %w", err)
		}
		if !acquired {
			s.logger.Debug("retry lock held by another instance, skipping pass")
			summary.Skipped = true
			return summary, nil
		}
		defer func() {
			if err := s.lock.Release(context.WithoutCancel(ctx), retrySchedulerLockName); err != nil {
				s.logger.Warn("failed to release retry lock", "error", err)
			}
		}()
	}

	settings := domain.DefaultSyncSettings()
	if s.settings != nil {
		loaded, err := s.settings.GetSyncSettings(ctx)
		if err != nil {
			s.logger.Warn("failed to load sync settings, using defaults", "error", err)
		} else {
			settings = loaded
		}
	}
	policy := settings.Retry

	maxRetries := policy.MaxRetries
	if policy.Indefinite {
		maxRetries = 0
	}
	failed, err := s.states.FindRetryable(ctx, maxRetries, policy.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("find failed records: %w", err)
	}

	for _, state := range failed {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Examined++

		if Exhausted(state, policy) || s.now().Before(NextEligibleAt(state, policy)) {
			continue
		}
		summary.Eligible++

		switch s.retry(ctx, state, policy) {
		case retrySucceeded:
			summary.Succeeded++
		case retryExhausted:
			summary.Failed++
			summary.Exhausted++
		default:
			summary.Failed++
		}
	}

	return summary, nil
}

type retryOutcome int

const (
	retryFailed retryOutcome = iota
	retrySucceeded
	retryExhausted
)

// retry re-attempts one record and accounts for the outcome.
func (s *RetryScheduler) retry(ctx context.Context, state *domain.SyncRecordState, policy domain.RetryPolicy) retryOutcome {
	s.logger.Info("retrying failed record",
		"record_id", state.RecordID,
		"retry_count", state.RetryCount,
		"last_error", state.LastError,
	)

	result, err := s.syncer.SyncRecord(ctx, state.RecordID, domain.SyncOptions{
		AsDraft: state.RequestedDraft,
		Force:   true,
	})
	if err == nil && result.Success {
		return retrySucceeded
	}
	if err == nil && result.ErrorKind == domain.ErrorKindLocked {
		// Another trigger holds the record; not an attempt
		return retryFailed
	}

	// Re-read: the orchestrator has persisted the failure
	current, getErr := s.states.Get(ctx, state.RecordID)
	if getErr != nil {
		s.logger.Error("failed to reload record after retry", "record_id", state.RecordID, "error", getErr)
		current = state
	}
	if current.Status != domain.SyncStatusFailed {
		return retryFailed
	}

	current.RetryCount++
	current.Touch(s.now())
	if err != nil {
		current.LastError = err.Error()
		current.LastErrorKind = domain.ErrorKindOf(err)
	}
	if saveErr := s.states.Save(ctx, current); saveErr != nil {
		s.logger.Error("failed to persist retry count", "record_id", current.RecordID, "error", saveErr)
		return retryFailed
	}

	if !Exhausted(current, policy) {
		return retryFailed
	}

	s.logger.Error("record exhausted its retries", "record_id", current.RecordID, "retry_count", current.RetryCount)
	if s.notifier != nil {
		title := fmt.Sprintf("Giving up on order %s", current.RecordID)
		err := s.notifier.Notify(ctx, domain.Notification{
			Severity: domain.SeverityError,
			Title:    title,
			Message:  fmt.Sprintf("Sync failed %d times; last error: %s", current.RetryCount, current.LastError),
			Context:  map[string]any{"record_id": current.RecordID, "error_kind": string(current.LastErrorKind)},
		})
		if err != nil {
			s.logger.Warn("failed to send notification", "title", title, "error", err)
		}
	}
	return retryExhausted
}
