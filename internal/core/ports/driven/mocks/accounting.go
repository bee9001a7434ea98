package mocks

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driven"
)

// MockAccounting is an in-memory accounting service speaking the remote REST contract.
// It implements driven.Transport so the real APIClient and entity services run against it.
type MockAccounting struct {
	mu sync.Mutex

	contacts    map[string]*domain.RemoteContact
	invoices    map[string]*domain.RemoteInvoice
	payments    map[string]*domain.RemotePayment
	creditNotes map[string]*domain.RemoteCreditNote
	allocations map[string][]decimal.Decimal
	seq         int

	calls    map[string]int
	failures map[string][]injectedFailure

	// ValidToken, when set, rejects any other bearer token with 401
	ValidToken string

	// RejectAllocations answers every credit-note allocation with 422
	RejectAllocations bool

	// AfterFn runs after an operation was answered, outside the lock
	AfterFn func(operation string)
}

type injectedFailure struct {
	status int
	err    error
}

// NewMockAccounting creates an empty accounting service
func NewMockAccounting() *MockAccounting {
	return &MockAccounting{
		contacts:    make(map[string]*domain.RemoteContact),
		invoices:    make(map[string]*domain.RemoteInvoice),
		payments:    make(map[string]*domain.RemotePayment),
		creditNotes: make(map[string]*domain.RemoteCreditNote),
		allocations: make(map[string][]decimal.Decimal),
		calls:       make(map[string]int),
		failures:    make(map[string][]injectedFailure),
	}
}

// FailNext makes the next call of operation answer with status
func (m *MockAccounting) FailNext(operation string, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[operation] = append(m.failures[operation], injectedFailure{status: status})
}

// BreakNext makes the next call of operation fail at the transport level
func (m *MockAccounting) BreakNext(operation string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[operation] = append(m.failures[operation], injectedFailure{err: err})
}

// Calls returns how many times operation reached the service
func (m *MockAccounting) Calls(operation string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[operation]
}

// TotalCalls returns the number of calls of any operation
func (m *MockAccounting) TotalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		n += c
	}
	return n
}

// AddContact seeds a contact
func (m *MockAccounting) AddContact(c domain.RemoteContact) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == "" {
		c.ID = m.nextID("CON")
	}
	m.contacts[c.ID] = &c
}

// AddInvoice seeds an invoice and returns its id
func (m *MockAccounting) AddInvoice(inv domain.RemoteInvoice) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inv.ID == "" {
		inv.ID = m.nextID("INV")
	}
	if inv.Number == "" {
		inv.Number = inv.ID
	}
	if inv.AmountDue.IsZero() && inv.Status != domain.RemoteInvoicePaid {
		inv.AmountDue = inv.Total
	}
	m.invoices[inv.ID] = &inv
	return inv.ID
}

// Invoice returns a copy of an invoice, or nil
func (m *MockAccounting) Invoice(id string) *domain.RemoteInvoice {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[id]
	if !ok {
		return nil
	}
	c := *inv
	return &c
}

// InvoiceCount returns the number of invoices
func (m *MockAccounting) InvoiceCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.invoices)
}

// DeleteInvoice removes an invoice as if deleted out-of-band
func (m *MockAccounting) DeleteInvoice(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.invoices, id)
}

// SetInvoiceStatus changes an invoice's status out-of-band
func (m *MockAccounting) SetInvoiceStatus(id string, status domain.RemoteInvoiceStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inv, ok := m.invoices[id]; ok {
		inv.Status = status
	}
}

// SetInvoiceTotal changes an invoice's total out-of-band
func (m *MockAccounting) SetInvoiceTotal(id string, total decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inv, ok := m.invoices[id]; ok {
		inv.Total = total
		inv.AmountDue = total
	}
}

// Payments returns every payment, ordered by id
func (m *MockAccounting) Payments() []domain.RemotePayment {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.RemotePayment, 0, len(m.payments))
	for _, p := range m.payments {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CreditNotes returns every credit note, ordered by id
func (m *MockAccounting) CreditNotes() []domain.RemoteCreditNote {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.RemoteCreditNote, 0, len(m.creditNotes))
	for _, cn := range m.creditNotes {
		out = append(out, *cn)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Allocations returns the amounts allocated from a credit note
func (m *MockAccounting) Allocations(creditNoteID string) []decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]decimal.Decimal(nil), m.allocations[creditNoteID]...)
}

// Do implements driven.Transport
func (m *MockAccounting) Do(ctx context.Context, req *driven.RemoteRequest, accessToken string) (*driven.RemoteResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resp, err := m.serve(req, accessToken)
	if m.AfterFn != nil {
		m.AfterFn(req.Operation)
	}
	return resp, err
}

func (m *MockAccounting) serve(req *driven.RemoteRequest, accessToken string) (*driven.RemoteResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls[req.Operation]++

	if queue := m.failures[req.Operation]; len(queue) > 0 {
		f := queue[0]
		m.failures[req.Operation] = queue[1:]
		if f.err != nil {
			return nil, f.err
		}
		return errorResponse(f.status, "injected", "injected failure"), nil
	}

	if m.ValidToken != "" && accessToken != m.ValidToken {
		return errorResponse(http.StatusUnauthorized, "invalid_token", "access token rejected"), nil
	}

	return m.route(req)
}

func (m *MockAccounting) route(req *driven.RemoteRequest) (*driven.RemoteResponse, error) {
	parts := strings.Split(strings.Trim(req.Path, "/"), "/")

	switch {
	case parts[0] == "contacts" && len(parts) == 1 && req.Method == http.MethodGet:
		return m.findContacts(req)
	case parts[0] == "contacts" && len(parts) == 1 && req.Method == http.MethodPost:
		return m.createContact(req)
	case parts[0] == "invoices" && len(parts) == 1 && req.Method == http.MethodGet:
		return m.listInvoices(req)
	case parts[0] == "invoices" && len(parts) == 1 && req.Method == http.MethodPost:
		return m.createInvoice(req)
	case parts[0] == "invoices" && len(parts) == 2 && req.Method == http.MethodGet:
		return m.getInvoice(parts[1])
	case parts[0] == "invoices" && len(parts) == 2 && req.Method == http.MethodPut:
		return m.updateInvoice(parts[1], req)
	case parts[0] == "invoices" && len(parts) == 3 && parts[2] == "approve":
		return m.approveInvoice(parts[1])
	case parts[0] == "payments" && req.Method == http.MethodPost:
		return m.createPayment(req)
	case parts[0] == "credit_notes" && len(parts) == 1 && req.Method == http.MethodPost:
		return m.createCreditNote(req)
	case parts[0] == "credit_notes" && len(parts) == 3 && parts[2] == "allocations":
		return m.allocate(parts[1], req)
	}
	return errorResponse(http.StatusNotFound, "no_route", req.Method+" "+req.Path), nil
}

func (m *MockAccounting) findContacts(req *driven.RemoteRequest) (*driven.RemoteResponse, error) {
	var matches []domain.RemoteContact
	for _, c := range m.contacts {
		switch {
		case req.Query.Get("email") != "" && strings.EqualFold(c.Email, req.Query.Get("email")):
		case req.Query.Get("name") != "" && strings.EqualFold(c.Name, req.Query.Get("name")):
		case req.Query.Get("phone") != "" && c.Phone == req.Query.Get("phone"):
		default:
			continue
		}
		matches = append(matches, *c)
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].ID < matches[j].ID })
	return jsonResponse(http.StatusOK, map[string]any{"contacts": matches})
}

func (m *MockAccounting) createContact(req *driven.RemoteRequest) (*driven.RemoteResponse, error) {
	var c domain.RemoteContact
	if err := decodeBody(req, &c); err != nil {
		return errorResponse(http.StatusBadRequest, "bad_request", err.Error()), nil
	}
	c.ID = m.nextID("CON")
	m.contacts[c.ID] = &c
	return jsonResponse(http.StatusCreated, c)
}

func (m *MockAccounting) listInvoices(req *driven.RemoteRequest) (*driven.RemoteResponse, error) {
	from, _ := time.Parse(time.DateOnly, req.Query.Get("date_from"))
	to, _ := time.Parse(time.DateOnly, req.Query.Get("date_to"))
	page, _ := strconv.Atoi(req.Query.Get("page"))
	size, _ := strconv.Atoi(req.Query.Get("page_size"))
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 100
	}

	var all []domain.RemoteInvoice
	for _, inv := range m.invoices {
		day := inv.Date.UTC().Truncate(24 * time.Hour)
		if !from.IsZero() && day.Before(from) {
			continue
		}
		if !to.IsZero() && day.After(to) {
			continue
		}
		all = append(all, *inv)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	start := (page - 1) * size
	if start > len(all) {
		start = len(all)
	}
	end := start + size
	if end > len(all) {
		end = len(all)
	}
	return jsonResponse(http.StatusOK, map[string]any{
		"invoices": all[start:end],
		"has_more": end < len(all),
	})
}

func (m *MockAccounting) createInvoice(req *driven.RemoteRequest) (*driven.RemoteResponse, error) {
	var inv domain.RemoteInvoice
	if err := decodeBody(req, &inv); err != nil {
		return errorResponse(http.StatusBadRequest, "bad_request", err.Error()), nil
	}
	if _, ok := m.contacts[inv.ContactID]; !ok {
		return errorResponse(http.StatusBadRequest, "invalid_contact", "unknown contact "+inv.ContactID), nil
	}
	m.seq++
	inv.ID = fmt.Sprintf("INV-%d", m.seq)
	inv.Number = fmt.Sprintf("INV-%04d", m.seq)
	if inv.Status == "" {
		inv.Status = domain.RemoteInvoiceDraft
	}
	inv.AmountDue = inv.Total
	inv.UpdatedAt = time.Now().UTC()
	m.invoices[inv.ID] = &inv
	return jsonResponse(http.StatusCreated, inv)
}

func (m *MockAccounting) getInvoice(id string) (*driven.RemoteResponse, error) {
	inv, ok := m.invoices[id]
	if !ok {
		return errorResponse(http.StatusNotFound, "not_found", "invoice "+id+" not found"), nil
	}
	return jsonResponse(http.StatusOK, inv)
}

func (m *MockAccounting) updateInvoice(id string, req *driven.RemoteRequest) (*driven.RemoteResponse, error) {
	inv, ok := m.invoices[id]
	if !ok {
		return errorResponse(http.StatusNotFound, "not_found", "invoice "+id+" not found"), nil
	}
	if inv.Status.IsLocked() {
		return errorResponse(http.StatusBadRequest, "invoice_locked", "invoice "+id+" is "+string(inv.Status)), nil
	}
	var upd domain.RemoteInvoice
	if err := decodeBody(req, &upd); err != nil {
		return errorResponse(http.StatusBadRequest, "bad_request", err.Error()), nil
	}
	upd.ID = inv.ID
	upd.Number = inv.Number
	if upd.Status == "" || (inv.Status.IsFinal() && upd.Status == domain.RemoteInvoiceDraft) {
		upd.Status = inv.Status
	}
	upd.AmountDue = upd.Total
	upd.UpdatedAt = time.Now().UTC()
	m.invoices[id] = &upd
	return jsonResponse(http.StatusOK, upd)
}

func (m *MockAccounting) approveInvoice(id string) (*driven.RemoteResponse, error) {
	inv, ok := m.invoices[id]
	if !ok {
		return errorResponse(http.StatusNotFound, "not_found", "invoice "+id+" not found"), nil
	}
	if inv.Status == domain.RemoteInvoiceDraft {
		inv.Status = domain.RemoteInvoiceSent
	}
	return jsonResponse(http.StatusOK, inv)
}

func (m *MockAccounting) createPayment(req *driven.RemoteRequest) (*driven.RemoteResponse, error) {
	var p domain.RemotePayment
	if err := decodeBody(req, &p); err != nil {
		return errorResponse(http.StatusBadRequest, "bad_request", err.Error()), nil
	}
	inv, ok := m.invoices[p.InvoiceID]
	if !ok {
		return errorResponse(http.StatusNotFound, "not_found", "invoice "+p.InvoiceID+" not found"), nil
	}
	if !inv.Status.IsFinal() {
		return errorResponse(http.StatusBadRequest, "invalid_status", "invoice "+p.InvoiceID+" cannot take payments while "+string(inv.Status)), nil
	}
	p.ID = m.nextID("PAY")
	m.payments[p.ID] = &p

	inv.AmountDue = inv.AmountDue.Sub(p.Amount)
	if inv.AmountDue.IsPositive() {
		inv.Status = domain.RemoteInvoicePartiallyPaid
	} else {
		inv.Status = domain.RemoteInvoicePaid
	}
	return jsonResponse(http.StatusCreated, p)
}

func (m *MockAccounting) createCreditNote(req *driven.RemoteRequest) (*driven.RemoteResponse, error) {
	var cn domain.RemoteCreditNote
	if err := decodeBody(req, &cn); err != nil {
		return errorResponse(http.StatusBadRequest, "bad_request", err.Error()), nil
	}
	cn.ID = m.nextID("CN")
	m.creditNotes[cn.ID] = &cn
	return jsonResponse(http.StatusCreated, cn)
}

func (m *MockAccounting) allocate(creditNoteID string, req *driven.RemoteRequest) (*driven.RemoteResponse, error) {
	if _, ok := m.creditNotes[creditNoteID]; !ok {
		return errorResponse(http.StatusNotFound, "not_found", "credit note "+creditNoteID+" not found"), nil
	}
	if m.RejectAllocations {
		return errorResponse(http.StatusUnprocessableEntity, "allocation_rejected", "allocation exceeds amount due"), nil
	}
	var body struct {
		InvoiceID string          `json:"invoice_id"`
		Amount    decimal.Decimal `json:"amount"`
	}
	if err := decodeBody(req, &body); err != nil {
		return errorResponse(http.StatusBadRequest, "bad_request", err.Error()), nil
	}
	inv, ok := m.invoices[body.InvoiceID]
	if !ok {
		return errorResponse(http.StatusNotFound, "not_found", "invoice "+body.InvoiceID+" not found"), nil
	}
	if !inv.Status.AcceptsCredit() {
		return errorResponse(http.StatusUnprocessableEntity, "invalid_status", "invoice "+body.InvoiceID+" cannot take credit while "+string(inv.Status)), nil
	}
	m.allocations[creditNoteID] = append(m.allocations[creditNoteID], body.Amount)
	inv.AmountDue = inv.AmountDue.Sub(body.Amount)
	return &driven.RemoteResponse{StatusCode: http.StatusNoContent}, nil
}

func (m *MockAccounting) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

func decodeBody(req *driven.RemoteRequest, out any) error {
	raw, err := json.Marshal(req.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func jsonResponse(status int, v any) (*driven.RemoteResponse, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return &driven.RemoteResponse{
		StatusCode: status,
		Header:     http.Header{"Content-Type": {"application/json"}},
		Body:       body,
	}, nil
}

func errorResponse(status int, code, message string) *driven.RemoteResponse {
	body, _ := json.Marshal(map[string]string{"code": code, "message": message})
	return &driven.RemoteResponse{
		StatusCode: status,
		Header:     http.Header{"Content-Type": {"application/json"}},
		Body:       body,
	}
}

// MockOAuthEndpoint issues sequential tokens and counts refreshes
type MockOAuthEndpoint struct {
	mu        sync.Mutex
	refreshes int

	// ExpiresIn is the lifetime of issued tokens in seconds (default: 1800)
	ExpiresIn int
	// Delay holds each refresh open, to widen race windows in tests
	Delay time.Duration
	// Err fails every refresh
	Err error
}

// NewMockOAuthEndpoint creates a new MockOAuthEndpoint
func NewMockOAuthEndpoint() *MockOAuthEndpoint {
	return &MockOAuthEndpoint{ExpiresIn: 1800}
}

func (m *MockOAuthEndpoint) Refresh(ctx context.Context, clientID, clientSecret, refreshToken string) (*domain.OAuthToken, error) {
	if m.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.Delay):
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	m.refreshes++
	return &domain.OAuthToken{
		AccessToken:  fmt.Sprintf("access-%d", m.refreshes),
		RefreshToken: fmt.Sprintf("refresh-%d", m.refreshes),
		TokenType:    "Bearer",
		ExpiresIn:    m.ExpiresIn,
	}, nil
}

// Refreshes returns how many refreshes succeeded
func (m *MockOAuthEndpoint) Refreshes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshes
}
