package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
)

// OrderSource reads locally-owned orders and refunds
type OrderSource interface {
	// Get retrieves an order with its line items. Returns domain.ErrNotFound if missing.
	Get(ctx context.Context, orderID string) (*domain.Order, error)

	// ListInRange returns orders created within [from, to], oldest first
	ListInRange(ctx context.Context, from, to time.Time) ([]*domain.Order, error)

	// GetRefund retrieves a refund of an order
	GetRefund(ctx context.Context, orderID, refundID string) (*domain.Refund, error)
}
