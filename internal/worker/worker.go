package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driven"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driving"
)

// Background is a loop the worker owns for its lifetime, such as the retry scheduler.
type Background interface {
	Start(ctx context.Context) error
	Stop()
}

// Worker processes tasks from the task queue.
//
// Record-level failures are persisted by the orchestrator and re-attempted by the
// retry scheduler, so a failed sync still acks its task. Only infrastructure errors
// and lock contention are nacked for redelivery.
type Worker struct {
	taskQueue  driven.TaskQueue
	syncer     driving.SyncService
	bulk       driving.BulkService
	reconciler driving.ReconciliationService
	background []Background
	logger     *slog.Logger

	// Configuration
	concurrency    int
	dequeueTimeout int // seconds
	errorBackoff   time.Duration

	// Internal state
	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// WorkerConfig holds configuration for the worker.
type WorkerConfig struct {
	TaskQueue  driven.TaskQueue
	Syncer     driving.SyncService
	Bulk       driving.BulkService           // Optional: required for sync_batch tasks
	Reconciler driving.ReconciliationService // Optional: required for reconcile tasks
	Background []Background                  // Started with the worker, stopped before it returns
	Logger     *slog.Logger

	Concurrency    int           // Number of concurrent task processors
	DequeueTimeout int           // Seconds to wait for a task before checking again
	ErrorBackoff   time.Duration // Pause after a dequeue error (default: 1s)
}

// NewWorker creates a new task worker.
func NewWorker(cfg WorkerConfig) *Worker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	dequeueTimeout := cfg.DequeueTimeout
	if dequeueTimeout <= 0 {
		dequeueTimeout = 5
	}

	errorBackoff := cfg.ErrorBackoff
	if errorBackoff <= 0 {
		errorBackoff = time.Second
	}

	return &Worker{
		taskQueue:      cfg.TaskQueue,
		syncer:         cfg.Syncer,
		bulk:           cfg.Bulk,
		reconciler:     cfg.Reconciler,
		background:     cfg.Background,
		logger:         logger,
		concurrency:    concurrency,
		dequeueTimeout: dequeueTimeout,
		errorBackoff:   errorBackoff,
	}
}

// Start begins the worker loop.
// It runs until Stop is called or context is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.mu.Unlock()

	w.logger.Info("worker starting",
		"concurrency", w.concurrency,
		"dequeue_timeout", w.dequeueTimeout,
	)

	for _, bg := range w.background {
		if err := bg.Start(ctx); err != nil {
			w.logger.Error("failed to start background loop", "error", err)
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < w.concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			w.processLoop(ctx, workerID)
		}(i)
	}

	go func() {
		wg.Wait()
		close(w.doneCh)
	}()

	return nil
}

// Stop gracefully stops the worker, letting in-flight tasks finish.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	close(w.stopCh)
	w.mu.Unlock()

	for _, bg := range w.background {
		bg.Stop()
	}

	<-w.doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("worker stopped")
}

// Wait blocks until the worker stops.
func (w *Worker) Wait() {
	<-w.doneCh
}

// processLoop is the main processing loop for a worker goroutine.
func (w *Worker) processLoop(ctx context.Context, workerID int) {
	logger := w.logger.With("worker_id", workerID)
	logger.Debug("worker goroutine started")

	for {
		select {
		case <-ctx.Done():
			logger.Debug("worker context cancelled")
			return
		case <-w.stopCh:
			logger.Debug("worker stop signal received")
			return
		default:
		}

		task, err := w.taskQueue.DequeueWithTimeout(ctx, w.dequeueTimeout)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			logger.Error("failed to dequeue task", "error", err)
			select {
			case <-time.After(w.errorBackoff):
			case <-ctx.Done():
			case <-w.stopCh:
			}
			continue
		}

		if task == nil {
			continue
		}

		w.processTask(ctx, task, logger)
	}
}

// processTask runs one task and settles it on the queue.
func (w *Worker) processTask(ctx context.Context, task *domain.Task, logger *slog.Logger) {
	logger = logger.With("task_id", task.ID, "task_type", task.Type, "attempt", task.Attempts)
	logger.Info("processing task")

	startTime := time.Now()
	err := w.handle(ctx, task, logger)
	duration := time.Since(startTime)

	if errors.Is(err, domain.ErrInvalidInput) {
		// Redelivery cannot fix the input; drop the task
		logger.Warn("task rejected as invalid",
			"duration", duration,
			"error", err,
		)
		if ackErr := w.taskQueue.Ack(ctx, task.ID); ackErr != nil {
			logger.Error("failed to ack task", "ack_error", ackErr)
		}
		return
	}

	if err != nil {
		logger.Error("task failed",
			"duration", duration,
			"error", err,
		)

		if nackErr := w.taskQueue.Nack(ctx, task.ID, err.Error()); nackErr != nil {
			logger.Error("failed to nack task", "nack_error", nackErr)
		}
		return
	}

	logger.Info("task completed", "duration", duration)

	if ackErr := w.taskQueue.Ack(ctx, task.ID); ackErr != nil {
		logger.Error("failed to ack task", "ack_error", ackErr)
	}
}

func (w *Worker) handle(ctx context.Context, task *domain.Task, logger *slog.Logger) error {
	switch task.Type {
	case domain.TaskTypeSyncRecord:
		return w.handleSyncRecord(ctx, task, logger)
	case domain.TaskTypeApplyPayment:
		return w.handleApplyPayment(ctx, task, logger)
	case domain.TaskTypeSyncRefund:
		return w.handleSyncRefund(ctx, task, logger)
	case domain.TaskTypeSyncBatch:
		return w.handleSyncBatch(ctx, task, logger)
	case domain.TaskTypeReconcile:
		return w.handleReconcile(ctx, task, logger)
	default:
		return fmt.Errorf("unknown task type: %s", task.Type)
	}
}

// handleSyncRecord handles a sync_record task.
func (w *Worker) handleSyncRecord(ctx context.Context, task *domain.Task, logger *slog.Logger) error {
	recordID := task.RecordID()
	if recordID == "" {
		return fmt.Errorf("record_id not found in task payload")
	}

	result, err := w.syncer.SyncRecord(ctx, recordID, domain.SyncOptions{
		AsDraft: task.BoolParam("as_draft"),
		Force:   task.BoolParam("force"),
	})
	if err != nil {
		return err
	}
	return settleOutcome(logger, recordID, result.Success, result.ErrorKind, result.Error)
}

// handleApplyPayment handles an apply_payment task.
func (w *Worker) handleApplyPayment(ctx context.Context, task *domain.Task, logger *slog.Logger) error {
	recordID := task.RecordID()
	if recordID == "" {
		return fmt.Errorf("record_id not found in task payload")
	}

	result, err := w.syncer.ApplyPayment(ctx, recordID, task.BoolParam("force"))
	if err != nil {
		return err
	}
	return settleOutcome(logger, recordID, result.Success, result.ErrorKind, result.Error)
}

// handleSyncRefund handles a sync_refund task.
func (w *Worker) handleSyncRefund(ctx context.Context, task *domain.Task, logger *slog.Logger) error {
	recordID, refundID := task.RecordID(), task.Param("refund_id")
	if recordID == "" || refundID == "" {
		return fmt.Errorf("record_id and refund_id are required in task payload")
	}

	result, err := w.syncer.SyncRefund(ctx, recordID, refundID)
	if err != nil {
		return err
	}
	return settleOutcome(logger, recordID, result.Success, result.ErrorKind, result.Error)
}

// handleSyncBatch handles a sync_batch task.
func (w *Worker) handleSyncBatch(ctx context.Context, task *domain.Task, logger *slog.Logger) error {
	if w.bulk == nil {
		return fmt.Errorf("bulk runner not configured")
	}

	req := driving.BatchRequest{
		ID:        task.Param("batch_id"),
		RecordIDs: task.ListParam("record_ids"),
		AsDraft:   task.BoolParam("as_draft"),
		Force:     task.BoolParam("force"),
	}
	if len(req.RecordIDs) == 0 {
		from, err := task.TimeParam("from")
		if err != nil {
			return fmt.Errorf("invalid from in task payload: %w", err)
		}
		to, err := task.TimeParam("to")
		if err != nil {
			return fmt.Errorf("invalid to in task payload: %w", err)
		}
		req.From, req.To = &from, &to
	}

	result, err := w.bulk.SyncBatch(ctx, req)
	if err != nil {
		return err
	}
	if result.FailedCount > 0 {
		logger.Warn("some records failed in batch",
			"batch_id", result.ID,
			"total", result.Total,
			"failed", result.FailedCount,
		)
	}
	return nil
}

// handleReconcile handles a reconcile task.
func (w *Worker) handleReconcile(ctx context.Context, task *domain.Task, logger *slog.Logger) error {
	if w.reconciler == nil {
		return fmt.Errorf("reconciliation engine not configured")
	}

	from, err := task.TimeParam("from")
	if err != nil {
		return fmt.Errorf("invalid from in task payload: %w", err)
	}
	to, err := task.TimeParam("to")
	if err != nil {
		return fmt.Errorf("invalid to in task payload: %w", err)
	}

	report, err := w.reconciler.GenerateReport(ctx, from, to)
	if err != nil {
		return err
	}
	logger.Info("reconciliation report generated",
		"report_id", report.ID,
		"status", report.Status,
		"discrepancies", len(report.Discrepancies),
	)
	return nil
}

// settleOutcome turns a record outcome into a task outcome. Lock contention is
// redelivered; any other failure is already persisted on the record.
func settleOutcome(logger *slog.Logger, recordID string, success bool, kind domain.ErrorKind, message string) error {
	if success {
		return nil
	}
	if kind == domain.ErrorKindLocked {
		return fmt.Errorf("%w: %s", domain.ErrRecordLocked, recordID)
	}
	logger.Warn("record failed, left for retry scheduler",
		"record_id", recordID,
		"error_kind", kind,
		"error", message,
	)
	return nil
}

// Health returns health status of the worker.
type Health struct {
	Running     bool   `json:"running"`
	QueueHealth bool   `json:"queue_health"`
	Error       string `json:"error,omitempty"`
}

// Health returns the health status of the worker.
func (w *Worker) Health(ctx context.Context) Health {
	w.mu.RLock()
	running := w.running
	w.mu.RUnlock()

	health := Health{
		Running: running,
	}

	if err := w.taskQueue.Ping(ctx); err != nil {
		health.QueueHealth = false
		health.Error = err.Error()
	} else {
		health.QueueHealth = true
	}

	return health
}
