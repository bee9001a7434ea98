package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the local lifecycle trigger of an order
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusPaid       OrderStatus = "paid"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusRefunded   OrderStatus = "refunded"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// IsPaid reports whether the status implies the customer has paid
func (s OrderStatus) IsPaid() bool {
	switch s {
	case OrderStatusPaid, OrderStatusCompleted, OrderStatusRefunded:
		return true
	}
	return false
}

// LineItem is one priced line of a local order
type LineItem struct {
	SKU         string          `json:"sku"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	TaxAmount   decimal.Decimal `json:"tax_amount"`
	AccountCode string          `json:"account_code,omitempty"`
}

// Amount returns quantity × unit price + tax
func (li LineItem) Amount() decimal.Decimal {
	return li.Quantity.Mul(li.UnitPrice).Add(li.TaxAmount)
}

// Order is the locally-owned record mirrored into the accounting service
type Order struct {
	ID              string            `json:"id"`
	Number          string            `json:"number"`
	Reference       string            `json:"reference"`
	CustomerEmail   string            `json:"customer_email"`
	CustomerName    string            `json:"customer_name"`
	CustomerPhone   string            `json:"customer_phone,omitempty"`
	Currency        string            `json:"currency"`
	LineItems       []LineItem        `json:"line_items"`
	Total           decimal.Decimal   `json:"total"`
	PaidAmount      decimal.Decimal   `json:"paid_amount"`
	PaymentGateway  string            `json:"payment_gateway,omitempty"`
	GatewayCurrency string            `json:"gateway_currency,omitempty"`
	CustomFields    map[string]string `json:"custom_fields,omitempty"`
	Status          OrderStatus       `json:"status"`
	CreatedAt       time.Time         `json:"created_at"`
	PaidAt          *time.Time        `json:"paid_at,omitempty"`
}

// Validate checks the order has what an invoice needs
func (o *Order) Validate() error {
	if o.ID == "" {
		return fmt.Errorf("%w: order id is required", ErrInvalidInput)
	}
	if o.Currency == "" {
		return fmt.Errorf("%w: order %s has no currency", ErrInvalidInput, o.ID)
	}
	if len(o.LineItems) == 0 {
		return fmt.Errorf("%w: order %s has no line items", ErrInvalidInput, o.ID)
	}
	if o.Total.IsNegative() {
		return fmt.Errorf("%w: order %s has negative total", ErrInvalidInput, o.ID)
	}
	return nil
}

// InvoiceReference is the reference written onto the remote invoice
func (o *Order) InvoiceReference() string {
	if o.Reference != "" {
		return o.Reference
	}
	return o.Number
}

// ContactKey returns the value of the configured contact match key
func (o *Order) ContactKey(key ContactMatchKey) string {
	switch key {
	case ContactMatchName:
		return strings.TrimSpace(o.CustomerName)
	case ContactMatchPhone:
		return strings.TrimSpace(o.CustomerPhone)
	default:
		return strings.ToLower(strings.TrimSpace(o.CustomerEmail))
	}
}

// GatewayCurrencyOrDefault returns the currency the gateway settled in
func (o *Order) GatewayCurrencyOrDefault() string {
	if o.GatewayCurrency == "" {
		return o.Currency
	}
	return o.GatewayCurrency
}

// Refund is a local refund against an order
type Refund struct {
	ID        string          `json:"id"`
	OrderID   string          `json:"order_id"`
	Amount    decimal.Decimal `json:"amount"`
	Reason    string          `json:"reason,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Validate checks the refund is usable
func (r *Refund) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: refund id is required", ErrInvalidInput)
	}
	if !r.Amount.IsPositive() {
		return fmt.Errorf("%w: refund %s amount must be positive", ErrInvalidInput, r.ID)
	}
	return nil
}
