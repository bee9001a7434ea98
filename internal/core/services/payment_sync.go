package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driven"
)

var hundred = decimal.NewFromInt(100)

// PaymentService records payments against remote invoices.
type PaymentService struct {
	api    RemoteCaller
	rates  driven.ExchangeRates
	logger *slog.Logger
}

// NewPaymentService creates a new payment service. rates may be nil when every
// gateway settles in the order currency.
func NewPaymentService(api RemoteCaller, rates driven.ExchangeRates, logger *slog.Logger) *PaymentService {
	if logger == nil {
		logger = slog.Default()
	}
	return &PaymentService{api: api, rates: rates, logger: logger}
}

// NetAmount returns the paid amount less the gateway fee, in the invoice currency.
// The percentage part applies to the paid amount directly; the fixed part is
// converted from the gateway currency when it differs.
func (s *PaymentService) NetAmount(ctx context.Context, order *domain.Order, invoiceCurrency string, fee domain.BankFee) (decimal.Decimal, error) {
	paid := order.PaidAmount
	if paid.IsZero() {
		paid = order.Total
	}
	if fee.IsZero() {
		return paid.Round(2), nil
	}

	feeAmount := paid.Mul(fee.Percent).Div(hundred)

	fixed := fee.Fixed
	gatewayCurrency := order.GatewayCurrencyOrDefault()
	if !fixed.IsZero() && gatewayCurrency != invoiceCurrency {
		if s.rates == nil {
			return decimal.Zero, fmt.Errorf("%w: no exchange rates to convert %s fee into %s", domain.ErrInvalidInput, gatewayCurrency, invoiceCurrency)
		}
		converted, err := s.rates.Convert(ctx, fixed, gatewayCurrency, invoiceCurrency)
		if err != nil {
			return decimal.Zero, fmt.Errorf("convert bank fee: %w", err)
		}
		fixed = converted
	}
	feeAmount = feeAmount.Add(fixed).Round(2)

	net := paid.Sub(feeAmount)
	if net.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: bank fee %s exceeds paid amount %s", domain.ErrInvalidInput, feeAmount, paid)
	}
	return net.Round(2), nil
}

// Create records a payment of amount against invoiceID.
func (s *PaymentService) Create(ctx context.Context, order *domain.Order, invoiceID, currency, accountCode string, amount decimal.Decimal) (*domain.RemotePayment, error) {
	date := time.Now().UTC()
	if order.PaidAt != nil {
		date = *order.PaidAt
	}

	var payment domain.RemotePayment
	err := s.api.Call(ctx, &driven.RemoteRequest{
		Operation: "create_payment",
		Method:    http.MethodPost,
		Path:      "/payments",
		Body: domain.RemotePayment{
			InvoiceID:   invoiceID,
			Amount:      amount,
			Currency:    currency,
			Date:        date,
			Reference:   order.InvoiceReference(),
			AccountCode: accountCode,
		},
	}, &payment)
	if err != nil {
		return nil, fmt.Errorf("create payment: %w", err)
	}

	s.logger.Info("created remote payment",
		"record_id", order.ID,
		"invoice_id", invoiceID,
		"payment_id", payment.ID,
		"amount", amount.String(),
	)
	return &payment, nil
}
