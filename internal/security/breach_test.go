package security

import (
	"context"
	"testing"
)

func TestNoopBreachChecker_AlwaysSafe(t *testing.T) {
	c := NoopBreachChecker{}
	safe, err := c.Check(context.Background(), "password123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !safe {
		t.Fatal("expected NoopBreachChecker to always report safe")
	}
}

func TestHIBPChecker_FailsOpenOnUnreachableHost(t *testing.T) {
	c := NewHIBPChecker()
	c.baseURL = "http://127.0.0.1:1/range/"

	safe, err := c.Check(context.Background(), "whatever")
	if err == nil {
		t.Fatal("expected an error from an unreachable breach corpus host")
	}
	if !safe {
		t.Fatal("expected fail-open: safe=true even when the lookup errors")
	}
}
