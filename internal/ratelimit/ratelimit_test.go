package ratelimit

import "testing"

func TestLimiter_AllowsUpToBurstThenThrottles(t *testing.T) {
	l := New(1, 3)
	for i := 0; i < 3; i++ {
		if !l.Allow() {
			t.Fatalf("expected burst request %d to be allowed", i)
		}
	}
	if l.Allow() {
		t.Fatal("expected the next request to be throttled once the burst is exhausted")
	}
}

func TestLimiter_NilIsAlwaysAllowed(t *testing.T) {
	var l *Limiter
	for i := 0; i < 5; i++ {
		if !l.Allow() {
			t.Fatal("expected a nil limiter to never throttle")
		}
	}
}

func TestNew_DefaultsInvalidRateAndBurst(t *testing.T) {
	l := New(0, 0)
	if !l.Allow() {
		t.Fatal("expected at least one request to be allowed immediately")
	}
}
