package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.OrderSource = (*OrderStore)(nil)

const orderColumns = `id, number, reference, customer_email, customer_name, customer_phone,
	currency, total, paid_amount, payment_gateway, gateway_currency, custom_fields,
	status, created_at, paid_at`

// OrderStore reads storefront orders, line items and refunds.
// The sync engine never writes these tables.
type OrderStore struct {
	db *DB
}

// NewOrderStore creates a new OrderStore
func NewOrderStore(db *DB) *OrderStore {
	return &OrderStore{db: db}
}

// Get retrieves an order with its line items
func (s *OrderStore) Get(ctx context.Context, orderID string) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	order, err := scanOrder(s.db.QueryRowContext(ctx, query, orderID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}

	byOrder, err := s.lineItems(ctx, []string{order.ID})
	if err != nil {
		return nil, err
	}
	order.LineItems = byOrder[order.ID]
	return order, nil
}

// ListInRange returns orders created within [from, to], oldest first
func (s *OrderStore) ListInRange(ctx context.Context, from, to time.Time) ([]*domain.Order, error) {
	query := `SELECT ` + orderColumns + `
		FROM orders
		WHERE created_at BETWEEN $1 AND $2
		ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var orders []*domain.Order
	var ids []string
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, order)
		ids = append(ids, order.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	if len(orders) == 0 {
		return orders, nil
	}

	byOrder, err := s.lineItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, o := range orders {
		o.LineItems = byOrder[o.ID]
	}
	return orders, nil
}

// GetRefund retrieves a refund belonging to orderID
func (s *OrderStore) GetRefund(ctx context.Context, orderID, refundID string) (*domain.Refund, error) {
	query := `
		SELECT id, order_id, amount, reason, created_at
		FROM order_refunds
		WHERE order_id = $1 AND id = $2
	`

	var r domain.Refund
	err := s.db.QueryRowContext(ctx, query, orderID, refundID).Scan(
		&r.ID,
		&r.OrderID,
		&r.Amount,
		&r.Reason,
		&r.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query refund: %w", err)
	}
	return &r, nil
}

// lineItems loads the lines of every order in ids with one query
func (s *OrderStore) lineItems(ctx context.Context, ids []string) (map[string][]domain.LineItem, error) {
	query := `
		SELECT order_id, sku, description, quantity, unit_price, tax_amount, account_code
		FROM order_line_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, position
	`

	rows, err := s.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("query line items: %w", err)
	}
	defer rows.Close()

	byOrder := make(map[string][]domain.LineItem, len(ids))
	for rows.Next() {
		var orderID string
		var li domain.LineItem
		if err := rows.Scan(
			&orderID,
			&li.SKU,
			&li.Description,
			&li.Quantity,
			&li.UnitPrice,
			&li.TaxAmount,
			&li.AccountCode,
		); err != nil {
			return nil, fmt.Errorf("scan line item: %w", err)
		}
		byOrder[orderID] = append(byOrder[orderID], li)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate line items: %w", err)
	}
	return byOrder, nil
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var o domain.Order
	var customFields []byte
	var paidAt sql.NullTime

	err := row.Scan(
		&o.ID,
		&o.Number,
		&o.Reference,
		&o.CustomerEmail,
		&o.CustomerName,
		&o.CustomerPhone,
		&o.Currency,
		&o.Total,
		&o.PaidAmount,
		&o.PaymentGateway,
		&o.GatewayCurrency,
		&customFields,
		&o.Status,
		&o.CreatedAt,
		&paidAt,
	)
	if err != nil {
		return nil, err
	}

	o.PaidAt = TimePtr(paidAt)
	if err := scanJSON(customFields, &o.CustomFields); err != nil {
		return nil, err
	}
	return &o, nil
}
