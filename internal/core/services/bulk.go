package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driven"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driving"
)

// Ensure BulkRunner implements BulkService
var _ driving.BulkService = (*BulkRunner)(nil)

// BulkRunner syncs many records one after another.
// Records are processed sequentially so the shared rate limit is never contended
// by a single batch. Cancellation is checked between records; the record in
// flight always runs to completion on the caller's context.
type BulkRunner struct {
	syncer RecordSyncer
	orders driven.OrderSource
	logger *slog.Logger

	mu      sync.Mutex
	running map[string]*atomic.Bool
}

// NewBulkRunner creates a new bulk runner.
func NewBulkRunner(syncer RecordSyncer, orders driven.OrderSource, logger *slog.Logger) *BulkRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &BulkRunner{
		syncer:  syncer,
		orders:  orders,
		logger:  logger,
		running: make(map[string]*atomic.Bool),
	}
}

// SyncBatch syncs every selected record. Per-record failures are collected;
// only selection errors and unexpected orchestrator errors abort the batch.
func (b *BulkRunner) SyncBatch(ctx context.Context, req driving.BatchRequest) (*driving.BatchResult, error) {
	ids, err := b.selectRecords(ctx, req)
	if err != nil {
		return nil, err
	}

	batchID := req.ID
	if batchID == "" {
		batchID = uuid.NewString()
	}

	cancelled := &atomic.Bool{}
	if err := b.register(batchID, cancelled); err != nil {
		return nil, err
	}
	defer b.unregister(batchID)

	result := &driving.BatchResult{
		ID:      batchID,
		Total:   len(ids),
		Results: make(map[string]*domain.SyncResult, len(ids)),
	}

	b.logger.Info("batch sync started", "batch_id", batchID, "records", len(ids), "as_draft", req.AsDraft)

	opts := domain.SyncOptions{AsDraft: req.AsDraft, Force: req.Force}
	for _, id := range ids {
		if cancelled.Load() || ctx.Err() != nil {
			result.Cancelled = true
			break
		}

		res, err := b.syncer.SyncRecord(ctx, id, opts)
		if err != nil {
			res = &domain.SyncResult{
				RecordID:  id,
				Error:     err.Error(),
				ErrorKind: domain.ErrorKindOf(err),
			}
		}
		result.Results[id] = res
		result.Processed++
		if res.Success {
			result.SuccessCount++
		} else {
			result.FailedCount++
		}
	}

	b.logger.Info("batch sync finished",
		"batch_id", batchID,
		"processed", result.Processed,
		"succeeded", result.SuccessCount,
		"failed", result.FailedCount,
		"cancelled", result.Cancelled,
	)
	return result, nil
}

// Cancel stops a running batch after its current record.
func (b *BulkRunner) Cancel(batchID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	cancelled, ok := b.running[batchID]
	if ok {
		cancelled.Store(true)
	}
	return ok
}

func (b *BulkRunner) selectRecords(ctx context.Context, req driving.BatchRequest) ([]string, error) {
	if len(req.RecordIDs) > 0 {
		seen := make(map[string]bool, len(req.RecordIDs))
		ids := make([]string, 0, len(req.RecordIDs))
		for _, id := range req.RecordIDs {
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			ids = append(ids, id)
		}
		return ids, nil
	}

	if req.From == nil || req.To == nil {
		return nil, fmt.Errorf("%w: batch needs record ids or a date range", domain.ErrInvalidInput)
	}
	if req.To.Before(*req.From) {
		return nil, fmt.Errorf("%w: batch range ends before it starts", domain.ErrInvalidInput)
	}

	orders, err := b.orders.ListInRange(ctx, *req.From, *req.To)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		ids = append(ids, o.ID)
	}
	return ids, nil
}

func (b *BulkRunner) register(batchID string, cancelled *atomic.Bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.running[batchID]; exists {
		return fmt.Errorf("%w: batch %s is already running", domain.ErrConflict, batchID)
	}
	b.running[batchID] = cancelled
	return nil
}

func (b *BulkRunner) unregister(batchID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.running, batchID)
}
