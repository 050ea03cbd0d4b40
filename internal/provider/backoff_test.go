package provider

import (
	"testing"
	"time"
)

func TestBackoffGrowsMultiplicatively(t *testing.T) {
	b := NewBackoff(time.Second, 10*time.Second)
	now := time.Unix(1000, 0)

	b.Trip(now)
	if !b.Active(now) {
		t.Fatal("expected backoff to be active right after trip")
	}
	first := b.Until().Sub(now)
	if first != time.Second {
		t.Fatalf("expected first delay of 1s, got %v", first)
	}

	b.Trip(now)
	second := b.Until().Sub(now)
	if second != 1500*time.Millisecond {
		t.Fatalf("expected second delay of 1.5s, got %v", second)
	}
}

func TestBackoffBoundedByMax(t *testing.T) {
	b := NewBackoff(time.Second, 3*time.Second)
	now := time.Unix(1000, 0)
	for i := 0; i < 10; i++ {
		b.Trip(now)
	}
	if b.Until().Sub(now) != 3*time.Second {
		t.Fatalf("expected delay capped at max, got %v", b.Until().Sub(now))
	}
}

func TestBackoffInactiveAfterDeadline(t *testing.T) {
	b := NewBackoff(time.Second, 10*time.Second)
	now := time.Unix(1000, 0)
	b.Trip(now)
	later := now.Add(2 * time.Second)
	if b.Active(later) {
		t.Fatal("expected backoff to expire after its deadline")
	}
}

func TestBackoffResetClearsState(t *testing.T) {
	b := NewBackoff(time.Second, 10*time.Second)
	now := time.Unix(1000, 0)
	b.Trip(now)
	b.Reset()
	if b.Active(now) {
		t.Fatal("expected reset to clear active cooldown")
	}
}
