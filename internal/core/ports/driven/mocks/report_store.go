package mocks

import (
	"context"
	"sort"
	"sync"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
)

// MockReportStore is an in-memory ReportStore for testing
type MockReportStore struct {
	mu      sync.RWMutex
	reports map[string]*domain.ReconciliationReport
}

// NewMockReportStore creates a new MockReportStore
func NewMockReportStore() *MockReportStore {
	return &MockReportStore{reports: make(map[string]*domain.ReconciliationReport)}
}

func (m *MockReportStore) Create(ctx context.Context, report *domain.ReconciliationReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.reports[report.ID]; exists {
		return domain.ErrInvalidInput
	}
	c := *report
	m.reports[report.ID] = &c
	return nil
}

func (m *MockReportStore) Save(ctx context.Context, report *domain.ReconciliationReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.reports[report.ID]; !exists {
		return domain.ErrNotFound
	}
	c := *report
	m.reports[report.ID] = &c
	return nil
}

func (m *MockReportStore) Get(ctx context.Context, id string) (*domain.ReconciliationReport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.reports[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := *r
	return &c, nil
}

func (m *MockReportStore) List(ctx context.Context, limit int) ([]*domain.ReconciliationReport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*domain.ReconciliationReport
	for _, r := range m.reports {
		c := *r
		result = append(result, &c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].StartedAt.After(result[j].StartedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MockReportStore) FindByStatus(ctx context.Context, status domain.ReportStatus) ([]*domain.ReconciliationReport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*domain.ReconciliationReport
	for _, r := range m.reports {
		if r.Status == status {
			c := *r
			result = append(result, &c)
		}
	}
	return result, nil
}
