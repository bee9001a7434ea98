package domain

import (
	"context"
	"time"
)

// RateBudget is the fixed-window call budget shared by every outbound call
type RateBudget struct {
	WindowStart   time.Time     `json:"window_start"`
	CallsInWindow int           `json:"calls_in_window"`
	Limit         int           `json:"limit"`
	Window        time.Duration `json:"window"`
}

// Expired reports whether the window has elapsed at now
func (b *RateBudget) Expired(now time.Time) bool {
	return now.Sub(b.WindowStart) >= b.Window
}

// Reset starts a fresh window at now
func (b *RateBudget) Reset(now time.Time) {
	b.WindowStart = now
	b.CallsInWindow = 0
}

// Remaining returns calls still admissible in the current window
func (b *RateBudget) Remaining() int {
	if r := b.Limit - b.CallsInWindow; r > 0 {
		return r
	}
	return 0
}

// ResetAt returns when the current window ends
func (b *RateBudget) ResetAt() time.Time {
	return b.WindowStart.Add(b.Window)
}

// SleepContext waits for d or until ctx is done, whichever comes first.
// Limiters use it to wait out a closed window.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
