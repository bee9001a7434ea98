package mocks

import (
	"context"
	"sync"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
)

// MockNotifier records notifications for assertions
type MockNotifier struct {
	mu            sync.Mutex
	notifications []domain.Notification

	// Err, when set, is returned after the notification is recorded
	Err error
}

// NewMockNotifier creates a new MockNotifier
func NewMockNotifier() *MockNotifier {
	return &MockNotifier{}
}

func (m *MockNotifier) Notify(ctx context.Context, n domain.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications = append(m.notifications, n)
	return m.Err
}

// Notifications returns a copy of everything received
func (m *MockNotifier) Notifications() []domain.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Notification(nil), m.notifications...)
}
