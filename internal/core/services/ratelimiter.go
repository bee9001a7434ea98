package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driven"
)

// Ensure FixedWindowLimiter implements RateLimiter
var _ driven.RateLimiter = (*FixedWindowLimiter)(nil)

// FixedWindowLimiter admits at most Limit calls per Window for the whole process.
// Construct one per process and share it; there is no package-level state.
type FixedWindowLimiter struct {
	mu       sync.Mutex
	budget   domain.RateBudget
	blocking bool
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
	logger   *slog.Logger
}

// RateLimiterConfig holds configuration for FixedWindowLimiter.
type RateLimiterConfig struct {
	Limit  int           // Calls per window (default: 100)
	Window time.Duration // Window length (default: 60s)

	// NonBlocking fails fast with domain.ErrRateLimited instead of waiting for the next window
	NonBlocking bool

	// Clock and Sleep are injectable for tests
	Clock  func() time.Time
	Sleep  func(ctx context.Context, d time.Duration) error
	Logger *slog.Logger
}

// NewFixedWindowLimiter creates a new limiter.
func NewFixedWindowLimiter(cfg RateLimiterConfig) *FixedWindowLimiter {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limit := cfg.Limit
	if limit <= 0 {
		limit = 100
	}
	window := cfg.Window
	if window <= 0 {
		window = 60 * time.Second
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = domain.SleepContext
	}

	return &FixedWindowLimiter{
		budget:   domain.RateBudget{Limit: limit, Window: window},
		blocking: !cfg.NonBlocking,
		now:      clock,
		sleep:    sleep,
		logger:   logger,
	}
}

// Admit takes one call from the budget, waiting for the window to roll over when exhausted.
// The budget is re-checked after every wait since other callers may drain the new window first.
func (l *FixedWindowLimiter) Admit(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := l.now()
		if l.budget.WindowStart.IsZero() || l.budget.Expired(now) {
			l.budget.Reset(now)
		}
		if l.budget.CallsInWindow < l.budget.Limit {
			l.budget.CallsInWindow++
			l.mu.Unlock()
			return nil
		}
		wait := l.budget.ResetAt().Sub(now)
		l.mu.Unlock()

		if !l.blocking {
			return fmt.Errorf("%w: budget of %d calls exhausted, window resets in %s",
				domain.ErrRateLimited, l.budget.Limit, wait.Round(time.Millisecond))
		}

		l.logger.Debug("rate limit reached, waiting for window reset", "wait", wait)
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Budget returns a snapshot of the current window.
func (l *FixedWindowLimiter) Budget(ctx context.Context) (domain.RateBudget, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.budget
	if !b.WindowStart.IsZero() && b.Expired(l.now()) {
		b.CallsInWindow = 0
	}
	return b, nil
}
