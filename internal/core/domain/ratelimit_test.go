package domain

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRateBudget(t *testing.T) {
	start := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	b := &RateBudget{WindowStart: start, CallsInWindow: 58, Limit: 60, Window: time.Minute}

	if b.Remaining() != 2 {
		t.Errorf("Remaining() = %d, want 2", b.Remaining())
	}
	if b.Expired(start.Add(59 * time.Second)) {
		t.Error("window expired early")
	}
	if !b.Expired(b.ResetAt()) {
		t.Error("window not expired at reset time")
	}

	b.CallsInWindow = 70
	if b.Remaining() != 0 {
		t.Errorf("Remaining() = %d, want 0", b.Remaining())
	}
	b.Reset(start.Add(time.Minute))
	if b.CallsInWindow != 0 || !b.WindowStart.Equal(start.Add(time.Minute)) {
		t.Errorf("Reset() left %+v", b)
	}
}

func TestSleepContext(t *testing.T) {
	if err := SleepContext(context.Background(), time.Millisecond); err != nil {
		t.Errorf("SleepContext() error = %v", err)
	}
	if err := SleepContext(context.Background(), 0); err != nil {
		t.Errorf("zero wait error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	begin := time.Now()
	if err := SleepContext(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("SleepContext() error = %v, want context.Canceled", err)
	}
	if time.Since(begin) > time.Second {
		t.Error("cancelled sleep did not return promptly")
	}
	if err := SleepContext(ctx, 0); !errors.Is(err, context.Canceled) {
		t.Errorf("zero wait on cancelled ctx error = %v, want context.Canceled", err)
	}
}
