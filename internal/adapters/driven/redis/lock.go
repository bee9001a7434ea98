package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"

	"github.com/custodia-labs/ledgersync/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.DistributedLock = (*Lock)(nil)

const lockPrefix = "ledgersync:lock:"

// Lock implements DistributedLock on top of bsm/redislock.
// Every obtained lock carries a random token, so only the holder can release or extend it.
type Lock struct {
	client *redis.Client
	locker *redislock.Client

	mu   sync.Mutex
	held map[string]*redislock.Lock
}

// NewLock creates a new Redis-backed distributed lock.
func NewLock(client *redis.Client) *Lock {
	return &Lock{
		client: client,
		locker: redislock.New(client),
		held:   make(map[string]*redislock.Lock),
	}
}

// Acquire attempts to take a named lock with the given TTL without waiting.
// Returns false if another holder, including this instance, already has it.
func (l *Lock) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[name]; ok {
		return false, nil
	}

	lock, err := l.locker.Obtain(ctx, lockPrefix+name, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", name, err)
	}

	l.held[name] = lock
	return true, nil
}

// Release releases a named lock if held by this instance.
// Safe to call when the lock is not held or has already expired.
func (l *Lock) Release(ctx context.Context, name string) error {
	l.mu.Lock()
	lock, ok := l.held[name]
	delete(l.held, name)
	l.mu.Unlock()

	if !ok {
		return nil
	}
	if err := lock.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
		return fmt.Errorf("release lock %s: %w", name, err)
	}
	return nil
}

// Extend pushes out the TTL of a lock this instance holds.
func (l *Lock) Extend(ctx context.Context, name string, ttl time.Duration) error {
	l.mu.Lock()
	lock, ok := l.held[name]
	l.mu.Unlock()

	if !ok {
		return fmt.Errorf("lock %s not held by this instance", name)
	}
	if err := lock.Refresh(ctx, ttl, nil); err != nil {
		if errors.Is(err, redislock.ErrNotObtained) {
			l.mu.Lock()
			delete(l.held, name)
			l.mu.Unlock()
			return fmt.Errorf("lock %s expired before extend", name)
		}
		return fmt.Errorf("extend lock %s: %w", name, err)
	}
	return nil
}

// Ping checks if the Redis backend is healthy.
func (l *Lock) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}
