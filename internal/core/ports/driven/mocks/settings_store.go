package mocks

import (
	"context"
	"sync"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
)

// MockSettingsStore is an in-memory SettingsStore for testing
type MockSettingsStore struct {
	mu       sync.RWMutex
	settings *domain.SyncSettings
}

// NewMockSettingsStore creates a store returning settings (defaults when nil)
func NewMockSettingsStore(settings *domain.SyncSettings) *MockSettingsStore {
	return &MockSettingsStore{settings: settings}
}

func (m *MockSettingsStore) GetSyncSettings(ctx context.Context) (*domain.SyncSettings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.settings == nil {
		return domain.DefaultSyncSettings(), nil
	}
	c := *m.settings
	return &c, nil
}

func (m *MockSettingsStore) SaveSyncSettings(ctx context.Context, settings *domain.SyncSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *settings
	m.settings = &c
	return nil
}
