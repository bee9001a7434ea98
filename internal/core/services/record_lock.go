package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/custodia-labs/ledgersync/internal/core/ports/driven"
)

// Ensure KeyedLocker implements DistributedLock
var _ driven.DistributedLock = (*KeyedLocker)(nil)

// KeyedLocker is an in-process DistributedLock: a keyed map of try-locks with expiry.
// Used when neither Redis nor Postgres locking is configured.
type KeyedLocker struct {
	mu    sync.Mutex
	locks map[string]time.Time
	now   func() time.Time
}

// NewKeyedLocker creates an empty in-process locker.
func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{locks: make(map[string]time.Time), now: time.Now}
}

// Acquire takes name if free or expired. It never waits.
func (k *KeyedLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	now := k.now()
	if expiry, held := k.locks[name]; held && now.Before(expiry) {
		return false, nil
	}
	k.locks[name] = now.Add(ttl)
	return true, nil
}

// Release frees name.
func (k *KeyedLocker) Release(ctx context.Context, name string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.locks, name)
	return nil
}

// Extend pushes out the expiry of a held lock.
func (k *KeyedLocker) Extend(ctx context.Context, name string, ttl time.Duration) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	expiry, held := k.locks[name]
	if !held || !k.now().Before(expiry) {
		return fmt.Errorf("lock %s not held", name)
	}
	k.locks[name] = k.now().Add(ttl)
	return nil
}

// Ping always succeeds.
func (k *KeyedLocker) Ping(ctx context.Context) error {
	return nil
}

// recordLockName is the lock key guarding one record's sync.
func recordLockName(recordID string) string {
	return "record:" + recordID
}
