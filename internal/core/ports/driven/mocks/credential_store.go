package mocks

import (
	"context"
	"sync"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
)

// MockCredentialStore is an in-memory CredentialStore for testing
type MockCredentialStore struct {
	mu    sync.Mutex
	creds *domain.OAuthCredentialSet

	SaveFn func(creds *domain.OAuthCredentialSet) error
	saves  int
}

// NewMockCredentialStore creates a store preloaded with creds (nil for unconfigured)
func NewMockCredentialStore(creds *domain.OAuthCredentialSet) *MockCredentialStore {
	return &MockCredentialStore{creds: creds}
}

func (m *MockCredentialStore) Load(ctx context.Context) (*domain.OAuthCredentialSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.creds == nil {
		return nil, domain.ErrNotConfigured
	}
	c := *m.creds
	return &c, nil
}

func (m *MockCredentialStore) Save(ctx context.Context, creds *domain.OAuthCredentialSet) error {
	if m.SaveFn != nil {
		if err := m.SaveFn(creds); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *creds
	m.creds = &c
	m.saves++
	return nil
}

// Current returns the stored credentials
func (m *MockCredentialStore) Current() *domain.OAuthCredentialSet {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.creds == nil {
		return nil
	}
	c := *m.creds
	return &c
}

// SaveCount returns how many saves happened
func (m *MockCredentialStore) SaveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
