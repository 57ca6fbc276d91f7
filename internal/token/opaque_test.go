package token

import "testing"

func TestNewOpaque_MinEntropyEnforced(t *testing.T) {
	tok, err := NewOpaque(4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tok) == 0 {
		t.Fatal("expected non-empty token")
	}
}

func TestNewOpaque_Unique(t *testing.T) {
	a, err := NewOpaque(MinEntropyBytes)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := NewOpaque(MinEntropyBytes)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a == b {
		t.Fatal("expected distinct opaque tokens")
	}
}

func TestNewNumericCode_Length(t *testing.T) {
	code, err := NewNumericCode(6)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(code) != 6 {
		t.Fatalf("expected 6-digit code, got %q", code)
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			t.Fatalf("expected all-digit code, got %q", code)
		}
	}
}

func TestNewNumericCode_DefaultsToSixDigits(t *testing.T) {
	code, err := NewNumericCode(0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(code) != 6 {
		t.Fatalf("expected default 6-digit code, got %q", code)
	}
}
