package system

import (
	"testing"
	"time"
)

// TestClockNowUTC ensures task and mention stamps are always UTC.
func TestClockNowUTC(t *testing.T) {
	t.Parallel()

	before := time.Now().Add(-time.Second)
	got := New().Now()
	after := time.Now().Add(time.Second)

	if got.Location() != time.UTC {
		t.Fatalf("expected UTC location, got %v", got.Location())
	}
	if got.Before(before) || got.After(after) {
		t.Fatalf("expected %v to be between %v and %v", got, before, after)
	}
}

// TestClockStampsOrder ensures a later stamp never sorts before an earlier one.
func TestClockStampsOrder(t *testing.T) {
	t.Parallel()

	clk := New()
	received := clk.Now()
	updated := clk.Now()
	if updated.Before(received) {
		t.Fatalf("updated %v sorts before received %v", updated, received)
	}
}
