package system

import (
	"context"
	"errors"
	"testing"
	"time"
)

// TestClockNowUTC ensures the clock returns UTC timestamps.
func TestClockNowUTC(t *testing.T) {
	t.Parallel()

	clk := New()
	requireNotNil(t, clk)

	before := time.Now().UTC().Add(-time.Second)
	got := clk.Now()
	after := time.Now().UTC().Add(time.Second)

	if got.Location() != time.UTC {
		t.Fatalf("expected UTC location, got %v", got.Location())
	}
	if got.Before(before) || got.After(after) {
		t.Fatalf("expected %v to be between %v and %v", got, before, after)
	}
}

// TestClockNowMonotonic checks successive timestamps are non-decreasing.
func TestClockNowMonotonic(t *testing.T) {
	t.Parallel()

	clk := New()
	first := clk.Now()
	second := clk.Now()
	if second.Before(first) {
		t.Fatalf("expected second call %v to be >= first %v", second, first)
	}
}

func requireNotNil(t *testing.T, v any) {
	t.Helper()
	if v == nil {
		t.Fatal("expected value to be non-nil")
	}
}

// TestPauserHonoursCancellation ensures a cancelled context cuts the wait short.
func TestPauserHonoursCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := Pauser{}.Pause(ctx, time.Minute)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("pause ignored cancellation")
	}
}

// TestPauserWaits checks a short pause completes without error.
func TestPauserWaits(t *testing.T) {
	t.Parallel()

	if err := (Pauser{}).Pause(context.Background(), 5*time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := (Pauser{}).Pause(context.Background(), 0); err != nil {
		t.Fatalf("unexpected error for zero delay: %v", err)
	}
}
