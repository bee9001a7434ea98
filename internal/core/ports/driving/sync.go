package driving

import (
	"context"
	"time"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
)

// SyncService is the per-record entry point used by the API, CLI, webhooks and workers
type SyncService interface {
	// SyncRecord mirrors one order into a remote invoice
	SyncRecord(ctx context.Context, recordID string, opts domain.SyncOptions) (*domain.SyncResult, error)

	// ApplyPayment records the order's payment against its invoice
	ApplyPayment(ctx context.Context, recordID string, force bool) (*domain.PaymentResult, error)

	// SyncRefund creates a credit note for a refund
	SyncRefund(ctx context.Context, recordID, refundID string) (*domain.SyncResult, error)

	// GetState retrieves the stored sync state of a record
	GetState(ctx context.Context, recordID string) (*domain.SyncRecordState, error)

	// ResetState purges the stored sync state of a record
	ResetState(ctx context.Context, recordID string) error
}

// BatchRequest selects the records of a bulk sync: explicit ids or a date range
type BatchRequest struct {
	ID        string     `json:"id,omitempty"`
	RecordIDs []string   `json:"record_ids,omitempty"`
	From      *time.Time `json:"from,omitempty"`
	To        *time.Time `json:"to,omitempty"`
	AsDraft   bool       `json:"as_draft"`
	Force     bool       `json:"force"`
}

// BatchResult aggregates a bulk sync
type BatchResult struct {
	ID           string                        `json:"id"`
	SuccessCount int                           `json:"success_count"`
	FailedCount  int                           `json:"failed_count"`
	Processed    int                           `json:"processed"`
	Total        int                           `json:"total"`
	Cancelled    bool                          `json:"cancelled"`
	Results      map[string]*domain.SyncResult `json:"results"`
}

// BulkService runs sequential batch syncs
type BulkService interface {
	// SyncBatch syncs every selected record in order
	SyncBatch(ctx context.Context, req BatchRequest) (*BatchResult, error)

	// Cancel stops a running batch after its current record
	Cancel(batchID string) bool
}

// RetryRunSummary describes one retry pass
type RetryRunSummary struct {
	Skipped   bool `json:"skipped"` // another pass was running
	Examined  int  `json:"examined"`
	Eligible  int  `json:"eligible"`
	Succeeded int  `json:"succeeded"`
	Failed    int  `json:"failed"`
	Exhausted int  `json:"exhausted"` // used their last retry in this pass
}

// RetryService re-attempts failed records
type RetryService interface {
	// Run executes one retry pass
	Run(ctx context.Context) (*RetryRunSummary, error)
}
