package mocks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
)

// MockOrderSource is an in-memory OrderSource for testing
type MockOrderSource struct {
	mu      sync.RWMutex
	orders  map[string]*domain.Order
	refunds map[string]*domain.Refund
}

// NewMockOrderSource creates a new MockOrderSource
func NewMockOrderSource() *MockOrderSource {
	return &MockOrderSource{
		orders:  make(map[string]*domain.Order),
		refunds: make(map[string]*domain.Refund),
	}
}

func (m *MockOrderSource) Get(ctx context.Context, orderID string) (*domain.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[orderID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := *o
	return &c, nil
}

func (m *MockOrderSource) ListInRange(ctx context.Context, from, to time.Time) ([]*domain.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*domain.Order
	for _, o := range m.orders {
		if !o.CreatedAt.Before(from) && !o.CreatedAt.After(to) {
			c := *o
			result = append(result, &c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (m *MockOrderSource) GetRefund(ctx context.Context, orderID, refundID string) (*domain.Refund, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.refunds[refundID]
	if !ok || r.OrderID != orderID {
		return nil, domain.ErrNotFound
	}
	c := *r
	return &c, nil
}

// Helper methods for testing

// AddOrder stores an order
func (m *MockOrderSource) AddOrder(o *domain.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = o
}

// AddRefund stores a refund
func (m *MockOrderSource) AddRefund(r *domain.Refund) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refunds[r.ID] = r
}

// Update mutates a stored order in place
func (m *MockOrderSource) Update(orderID string, fn func(*domain.Order)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.orders[orderID]; ok {
		fn(o)
	}
}
