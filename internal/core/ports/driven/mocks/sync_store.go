package mocks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
)

// MockRecordStateStore is a mock implementation of RecordStateStore for testing.
// States are cloned on the way in and out so callers cannot mutate stored values.
type MockRecordStateStore struct {
	mu     sync.RWMutex
	states map[string]*domain.SyncRecordState

	// Custom behavior hooks (optional)
	SaveFn func(state *domain.SyncRecordState) error
	GetFn  func(recordID string) (*domain.SyncRecordState, error)

	// HonourContext makes Save fail once ctx is done, like a database driver
	HonourContext bool

	saves int
}

// NewMockRecordStateStore creates a new MockRecordStateStore
func NewMockRecordStateStore() *MockRecordStateStore {
	return &MockRecordStateStore{
		states: make(map[string]*domain.SyncRecordState),
	}
}

func (m *MockRecordStateStore) Get(ctx context.Context, recordID string) (*domain.SyncRecordState, error) {
	if m.GetFn != nil {
		return m.GetFn(recordID)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.states[recordID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return state.Clone(), nil
}

func (m *MockRecordStateStore) Save(ctx context.Context, state *domain.SyncRecordState) error {
	if m.HonourContext {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	if m.SaveFn != nil {
		if err := m.SaveFn(state); err != nil {
			return err
		}
	}
	if err := state.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[state.RecordID] = state.Clone()
	m.saves++
	return nil
}

func (m *MockRecordStateStore) Delete(ctx context.Context, recordID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, recordID)
	return nil
}

func (m *MockRecordStateStore) FindByStatus(ctx context.Context, status domain.SyncStatus, limit int) ([]*domain.SyncRecordState, error) {
	return m.find(limit, func(state *domain.SyncRecordState) bool {
		return state.Status == status
	})
}

func (m *MockRecordStateStore) FindRetryable(ctx context.Context, maxRetries, limit int) ([]*domain.SyncRecordState, error) {
	return m.find(limit, func(state *domain.SyncRecordState) bool {
		return state.Status == domain.SyncStatusFailed && (maxRetries <= 0 || state.RetryCount < maxRetries)
	})
}

func (m *MockRecordStateStore) find(limit int, match func(*domain.SyncRecordState) bool) ([]*domain.SyncRecordState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*domain.SyncRecordState
	for _, state := range m.states {
		if match(state) {
			result = append(result, state.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return attemptTime(result[i]).Before(attemptTime(result[j]))
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MockRecordStateStore) FindInDateRange(ctx context.Context, from, to time.Time) ([]*domain.SyncRecordState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*domain.SyncRecordState
	for _, state := range m.states {
		if !state.CreatedAt.Before(from) && !state.CreatedAt.After(to) {
			result = append(result, state.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].RecordID < result[j].RecordID })
	return result, nil
}

func (m *MockRecordStateStore) CountByStatus(ctx context.Context) (map[domain.SyncStatus]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make(map[domain.SyncStatus]int)
	for _, state := range m.states {
		counts[state.Status]++
	}
	return counts, nil
}

func attemptTime(s *domain.SyncRecordState) time.Time {
	if s.LastAttemptAt == nil {
		return time.Time{}
	}
	return *s.LastAttemptAt
}

// Helper methods for testing

// Put stores a state without validation side effects
func (m *MockRecordStateStore) Put(state *domain.SyncRecordState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[state.RecordID] = state.Clone()
}

func (m *MockRecordStateStore) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states = make(map[string]*domain.SyncRecordState)
	m.saves = 0
}

func (m *MockRecordStateStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.states)
}

// SaveCount returns how many successful saves happened
func (m *MockRecordStateStore) SaveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves
}
