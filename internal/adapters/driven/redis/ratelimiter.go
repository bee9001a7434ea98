package redis

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.RateLimiter = (*RateLimiter)(nil)

const rateLimitPrefix = "ledgersync:ratelimit:"

// admitScript counts one call into the window keyed by KEYS[1].
// The first call of a window starts its expiry; calls at the limit are refused without counting.
// Returns {admitted, calls, remaining window ms}.
var admitScript = redis.NewScript(`
	local current = tonumber(redis.call("GET", KEYS[1]) or "0")
	if current >= tonumber(ARGV[1]) then
		return {0, current, redis.call("PTTL", KEYS[1])}
	end
	current = redis.call("INCR", KEYS[1])
	if current == 1 then
		redis.call("PEXPIRE", KEYS[1], ARGV[2])
	end
	return {1, current, redis.call("PTTL", KEYS[1])}
`)

// RateLimiter is a fixed-window limiter whose counter lives in Redis,
// so every process talking to the same accounting tenant shares one ceiling.
type RateLimiter struct {
	client   *redis.Client
	key      string
	limit    int
	window   time.Duration
	blocking bool
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
	logger   *slog.Logger
}

// RateLimiterConfig holds configuration for RateLimiter.
type RateLimiterConfig struct {
	// Name scopes the counter, typically the accounting tenant id (default: "default")
	Name   string
	Limit  int           // Calls per window (default: 100)
	Window time.Duration // Window length (default: 60s)

	NonBlocking bool

	Clock  func() time.Time
	Sleep  func(ctx context.Context, d time.Duration) error
	Logger *slog.Logger
}

// NewRateLimiter creates a Redis-backed fixed-window limiter.
func NewRateLimiter(client *redis.Client, cfg RateLimiterConfig) *RateLimiter {
	name := cfg.Name
	if name == "" {
		name = "default"
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
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &RateLimiter{
		client:   client,
		key:      rateLimitPrefix + name,
		limit:    limit,
		window:   window,
		blocking: !cfg.NonBlocking,
		now:      clock,
		sleep:    sleep,
		logger:   logger,
	}
}

// Admit takes one call from the shared budget, waiting for the window to expire when exhausted.
func (r *RateLimiter) Admit(ctx context.Context) error {
	for {
		admitted, _, ttl, err := r.eval(ctx)
		if err != nil {
			return err
		}
		if admitted {
			return nil
		}

		if !r.blocking {
			return fmt.Errorf("%w: budget of %d calls exhausted, window resets in %s",
				domain.ErrRateLimited, r.limit, ttl.Round(time.Millisecond))
		}

		r.logger.Debug("shared rate limit reached, waiting for window reset", "wait", ttl)
		if err := r.sleep(ctx, ttl); err != nil {
			return err
		}
	}
}

// Budget returns a snapshot of the shared window.
func (r *RateLimiter) Budget(ctx context.Context) (domain.RateBudget, error) {
	budget := domain.RateBudget{Limit: r.limit, Window: r.window}

	pipe := r.client.Pipeline()
	getCmd := pipe.Get(ctx, r.key)
	ttlCmd := pipe.PTTL(ctx, r.key)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return budget, fmt.Errorf("read rate budget: %w", err)
	}

	calls, err := strconv.Atoi(getCmd.Val())
	if err != nil {
		// No window open
		return budget, nil
	}
	budget.CallsInWindow = calls
	if ttl := ttlCmd.Val(); ttl > 0 {
		budget.WindowStart = r.now().Add(ttl - r.window)
	}
	return budget, nil
}

func (r *RateLimiter) eval(ctx context.Context) (bool, int, time.Duration, error) {
	res, err := admitScript.Run(ctx, r.client, []string{r.key}, r.limit, r.window.Milliseconds()).Int64Slice()
	if err != nil {
		return false, 0, 0, fmt.Errorf("admit rate limit: %w", err)
	}
	if len(res) != 3 {
		return false, 0, 0, fmt.Errorf("admit rate limit: unexpected reply %v", res)
	}
	ttl := time.Duration(res[2]) * time.Millisecond
	if ttl < 0 {
		// Key without expiry; wait a full window rather than spin
		ttl = r.window
	}
	return res[0] == 1, int(res[1]), ttl, nil
}
