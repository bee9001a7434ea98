package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/shopspring/decimal"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driven"
)

// CreditNoteService turns local refunds into remote credit notes.
type CreditNoteService struct {
	api    RemoteCaller
	logger *slog.Logger
}

// NewCreditNoteService creates a new credit note service.
func NewCreditNoteService(api RemoteCaller, logger *slog.Logger) *CreditNoteService {
	if logger == nil {
		logger = slog.Default()
	}
	return &CreditNoteService{api: api, logger: logger}
}

type allocationRequest struct {
	InvoiceID string          `json:"invoice_id"`
	Amount    decimal.Decimal `json:"amount"`
}

// Create records a credit note for refund.
func (s *CreditNoteService) Create(ctx context.Context, order *domain.Order, refund *domain.Refund, contactID string) (*domain.RemoteCreditNote, error) {
	var cn domain.RemoteCreditNote
	err := s.api.Call(ctx, &driven.RemoteRequest{
		Operation: "create_credit_note",
		Method:    http.MethodPost,
		Path:      "/credit_notes",
		Body: domain.RemoteCreditNote{
			ContactID: contactID,
			Amount:    refund.Amount,
			Currency:  order.Currency,
			Reference: order.InvoiceReference() + "/" + refund.ID,
			Date:      refund.CreatedAt,
		},
	}, &cn)
	if err != nil {
		return nil, fmt.Errorf("create credit note: %w", err)
	}

	s.logger.Info("created remote credit note", "record_id", order.ID, "refund_id", refund.ID, "credit_note_id", cn.ID)
	return &cn, nil
}

// Allocate applies a credit note to an invoice.
func (s *CreditNoteService) Allocate(ctx context.Context, creditNoteID, invoiceID string, amount decimal.Decimal) error {
	err := s.api.Call(ctx, &driven.RemoteRequest{
		Operation: "allocate_credit_note",
		Method:    http.MethodPost,
		Path:      "/credit_notes/" + url.PathEscape(creditNoteID) + "/allocations",
		Body:      allocationRequest{InvoiceID: invoiceID, Amount: amount},
	}, nil)
	if err != nil {
		return fmt.Errorf("allocate credit note %s: %w", creditNoteID, err)
	}
	return nil
}
