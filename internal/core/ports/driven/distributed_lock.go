package driven

import (
	"context"
	"time"
)

// DistributedLock guards per-record sync attempts and the retry sweep across instances.
// Lock names are "record:<id>" for a single record and "retry-scheduler" for the sweep.
type DistributedLock interface {
	// Acquire tries to take name for ttl. It never waits: false means another holder has it.
	Acquire(ctx context.Context, name string, ttl time.Duration) (acquired bool, err error)

	// Release frees name. Releasing a lock that has already expired is not an error.
	Release(ctx context.Context, name string) error

	// Extend pushes out the expiry of a lock this instance holds.
	// Advisory-lock backends hold until release and treat this as a no-op.
	Extend(ctx context.Context, name string, ttl time.Duration) error

	// Ping checks the lock backend.
	Ping(ctx context.Context) error
}
