package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// RemoteInvoiceStatus is the closed set of remote invoice lifecycle tags
type RemoteInvoiceStatus string

const (
	RemoteInvoiceDraft         RemoteInvoiceStatus = "draft"
	RemoteInvoiceSent          RemoteInvoiceStatus = "sent"
	RemoteInvoicePaid          RemoteInvoiceStatus = "paid"
	RemoteInvoicePartiallyPaid RemoteInvoiceStatus = "partially_paid"
	RemoteInvoiceOverdue       RemoteInvoiceStatus = "overdue"
	RemoteInvoiceVoid          RemoteInvoiceStatus = "void"
)

// ParseRemoteInvoiceStatus validates a tag received from the remote side
func ParseRemoteInvoiceStatus(s string) (RemoteInvoiceStatus, error) {
	st := RemoteInvoiceStatus(s)
	switch st {
	case RemoteInvoiceDraft, RemoteInvoiceSent, RemoteInvoicePaid,
		RemoteInvoicePartiallyPaid, RemoteInvoiceOverdue, RemoteInvoiceVoid:
		return st, nil
	}
	return "", fmt.Errorf("%w: unknown remote invoice status %q", ErrInvalidInput, s)
}

// IsLocked reports whether the remote side forbids further edits
func (s RemoteInvoiceStatus) IsLocked() bool {
	switch s {
	case RemoteInvoicePaid, RemoteInvoiceVoid:
		return true
	case RemoteInvoiceDraft, RemoteInvoiceSent, RemoteInvoicePartiallyPaid, RemoteInvoiceOverdue:
		return false
	}
	return false
}

// IsFinal reports whether the invoice has left draft and can take payments
func (s RemoteInvoiceStatus) IsFinal() bool {
	switch s {
	case RemoteInvoiceSent, RemoteInvoicePaid, RemoteInvoicePartiallyPaid, RemoteInvoiceOverdue:
		return true
	case RemoteInvoiceDraft, RemoteInvoiceVoid:
		return false
	}
	return false
}

// AcceptsCredit reports whether a credit note can be allocated to the invoice
func (s RemoteInvoiceStatus) AcceptsCredit() bool {
	switch s {
	case RemoteInvoiceSent, RemoteInvoicePartiallyPaid, RemoteInvoiceOverdue:
		return true
	case RemoteInvoiceDraft, RemoteInvoicePaid, RemoteInvoiceVoid:
		return false
	}
	return false
}

// RemoteContact is a contact in the accounting service
type RemoteContact struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// RemoteLineItem is one line on a remote invoice
type RemoteLineItem struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitAmount  decimal.Decimal `json:"unit_amount"`
	TaxAmount   decimal.Decimal `json:"tax_amount"`
	AccountCode string          `json:"account_code,omitempty"`
	ItemCode    string          `json:"item_code,omitempty"`
}

// RemoteInvoice is an invoice in the accounting service
type RemoteInvoice struct {
	ID        string              `json:"id"`
	Number    string              `json:"number"`
	Reference string              `json:"reference"`
	ContactID string              `json:"contact_id"`
	Status    RemoteInvoiceStatus `json:"status"`
	Currency  string              `json:"currency"`
	Total     decimal.Decimal     `json:"total"`
	AmountDue decimal.Decimal     `json:"amount_due"`
	LineItems []RemoteLineItem    `json:"line_items"`
	Fields    map[string]string   `json:"fields,omitempty"`
	Date      time.Time           `json:"date"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// RemotePayment is a payment recorded against a remote invoice
type RemotePayment struct {
	ID          string          `json:"id"`
	InvoiceID   string          `json:"invoice_id"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Date        time.Time       `json:"date"`
	Reference   string          `json:"reference,omitempty"`
	AccountCode string          `json:"account_code,omitempty"`
}

// RemoteCreditNote is a credit note in the accounting service
type RemoteCreditNote struct {
	ID        string          `json:"id"`
	ContactID string          `json:"contact_id"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Reference string          `json:"reference,omitempty"`
	Date      time.Time       `json:"date"`
}
