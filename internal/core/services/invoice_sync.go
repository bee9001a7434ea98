package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driven"
)

// Built-in local fields the mapper may route onto the remote invoice
const (
	fieldOrderNumber    = "order_number"
	fieldPaymentGateway = "payment_gateway"
	fieldCustomerName   = "customer_name"
)

// InvoiceService turns local orders into remote invoices.
type InvoiceService struct {
	api      RemoteCaller
	mapper   driven.FieldMapper
	pageSize int
	logger   *slog.Logger
}

// InvoiceServiceConfig holds dependencies for InvoiceService.
type InvoiceServiceConfig struct {
	API      RemoteCaller
	Mapper   driven.FieldMapper // Optional
	PageSize int                // List page size (default: 100)
	Logger   *slog.Logger
}

// NewInvoiceService creates a new invoice service.
func NewInvoiceService(cfg InvoiceServiceConfig) *InvoiceService {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	return &InvoiceService{api: cfg.API, mapper: cfg.Mapper, pageSize: pageSize, logger: logger}
}

type invoicePage struct {
	Invoices []domain.RemoteInvoice `json:"invoices"`
	HasMore  bool                   `json:"has_more"`
}

// Get fetches an invoice by id. A vanished invoice returns an error matching domain.ErrNotFound.
func (s *InvoiceService) Get(ctx context.Context, id string) (*domain.RemoteInvoice, error) {
	var inv domain.RemoteInvoice
	err := s.api.Call(ctx, &driven.RemoteRequest{
		Operation: "get_invoice",
		Method:    http.MethodGet,
		Path:      "/invoices/" + url.PathEscape(id),
	}, &inv)
	if err != nil {
		return nil, fmt.Errorf("get invoice %s: %w", id, err)
	}
	return &inv, nil
}

// Create materialises a new invoice for order.
func (s *InvoiceService) Create(ctx context.Context, order *domain.Order, contactID string, status domain.RemoteInvoiceStatus) (*domain.RemoteInvoice, error) {
	var inv domain.RemoteInvoice
	err := s.api.Call(ctx, &driven.RemoteRequest{
		Operation: "create_invoice",
		Method:    http.MethodPost,
		Path:      "/invoices",
		Body:      s.Build(order, contactID, status),
	}, &inv)
	if err != nil {
		return nil, fmt.Errorf("create invoice: %w", err)
	}
	s.logger.Info("created remote invoice", "record_id", order.ID, "invoice_id", inv.ID, "status", inv.Status)
	return &inv, nil
}

// Update rewrites an existing invoice from order.
func (s *InvoiceService) Update(ctx context.Context, id string, order *domain.Order, contactID string, status domain.RemoteInvoiceStatus) (*domain.RemoteInvoice, error) {
	var inv domain.RemoteInvoice
	err := s.api.Call(ctx, &driven.RemoteRequest{
		Operation: "update_invoice",
		Method:    http.MethodPut,
		Path:      "/invoices/" + url.PathEscape(id),
		Body:      s.Build(order, contactID, status),
	}, &inv)
	if err != nil {
		return nil, fmt.Errorf("update invoice %s: %w", id, err)
	}
	s.logger.Info("updated remote invoice", "record_id", order.ID, "invoice_id", inv.ID, "status", inv.Status)
	return &inv, nil
}

// Approve submits a draft invoice so it can take payments.
func (s *InvoiceService) Approve(ctx context.Context, id string) (*domain.RemoteInvoice, error) {
	var inv domain.RemoteInvoice
	err := s.api.Call(ctx, &driven.RemoteRequest{
		Operation: "approve_invoice",
		Method:    http.MethodPost,
		Path:      "/invoices/" + url.PathEscape(id) + "/approve",
	}, &inv)
	if err != nil {
		return nil, fmt.Errorf("approve invoice %s: %w", id, err)
	}
	return &inv, nil
}

// List returns every invoice dated within [from, to], following pages.
func (s *InvoiceService) List(ctx context.Context, from, to time.Time) ([]*domain.RemoteInvoice, error) {
	var all []*domain.RemoteInvoice
	for page := 1; ; page++ {
		var p invoicePage
		err := s.api.Call(ctx, &driven.RemoteRequest{
			Operation: "list_invoices",
			Method:    http.MethodGet,
			Path:      "/invoices",
			Query: url.Values{
				"date_from": {from.UTC().Format(time.DateOnly)},
				"date_to":   {to.UTC().Format(time.DateOnly)},
				"page":      {strconv.Itoa(page)},
				"page_size": {strconv.Itoa(s.pageSize)},
			},
		}, &p)
		if err != nil {
			return nil, fmt.Errorf("list invoices page %d: %w", page, err)
		}
		for i := range p.Invoices {
			all = append(all, &p.Invoices[i])
		}
		if !p.HasMore || len(p.Invoices) == 0 {
			return all, nil
		}
	}
}

// Build converts an order into the invoice payload.
func (s *InvoiceService) Build(order *domain.Order, contactID string, status domain.RemoteInvoiceStatus) *domain.RemoteInvoice {
	lines := make([]domain.RemoteLineItem, 0, len(order.LineItems))
	for _, li := range order.LineItems {
		lines = append(lines, domain.RemoteLineItem{
			Description: li.Description,
			Quantity:    li.Quantity,
			UnitAmount:  li.UnitPrice,
			TaxAmount:   li.TaxAmount,
			AccountCode: li.AccountCode,
			ItemCode:    li.SKU,
		})
	}

	return &domain.RemoteInvoice{
		Reference: order.InvoiceReference(),
		ContactID: contactID,
		Status:    status,
		Currency:  order.Currency,
		Total:     order.Total,
		LineItems: lines,
		Fields:    s.mapFields(order),
		Date:      order.CreatedAt,
	}
}

func (s *InvoiceService) mapFields(order *domain.Order) map[string]string {
	if s.mapper == nil {
		return nil
	}
	local := map[string]string{
		fieldOrderNumber:    order.Number,
		fieldPaymentGateway: order.PaymentGateway,
		fieldCustomerName:   order.CustomerName,
	}
	for k, v := range order.CustomFields {
		local[k] = v
	}

	fields := make(map[string]string)
	for _, name := range s.mapper.Fields() {
		remote, ok := s.mapper.Resolve(name)
		if !ok {
			continue
		}
		if v := local[name]; v != "" {
			fields[remote] = v
		}
	}
	if len(fields) == 0 {
		return nil
	}
	return fields
}
