package security

import "testing"

func TestHasher_HashAndCompare(t *testing.T) {
	h := NewHasher(Params{Time: 1, MemoryKiB: 8 * 1024, Threads: 1, KeyLen: 16, SaltLen: 8})

	encoded, err := h.Hash("correct horse battery staple")
	if err != nil {
		t.Fatalf("Hash returned error: %v", err)
	}
	if encoded == "" {
		t.Fatal("expected non-empty encoded hash")
	}

	if err := h.Compare(encoded, "correct horse battery staple"); err != nil {
		t.Fatalf("Compare of matching secret failed: %v", err)
	}
	if err := h.Compare(encoded, "wrong password"); err == nil {
		t.Fatal("expected Compare to reject wrong secret")
	}
}

func TestHasher_DistinctSaltsPerHash(t *testing.T) {
	h := NewHasher(Params{Time: 1, MemoryKiB: 8 * 1024, Threads: 1, KeyLen: 16, SaltLen: 8})

	a, err := h.Hash("same-secret")
	if err != nil {
		t.Fatalf("Hash returned error: %v", err)
	}
	b, err := h.Hash("same-secret")
	if err != nil {
		t.Fatalf("Hash returned error: %v", err)
	}
	if a == b {
		t.Fatal("expected distinct encoded hashes for the same secret due to random salts")
	}
}

func TestHasher_CompareRejectsMalformedHash(t *testing.T) {
	h := NewHasher(DefaultParams())
	if err := h.Compare("not-a-valid-hash", "anything"); err == nil {
		t.Fatal("expected Compare to reject a malformed encoded hash")
	}
}

func TestDefaultParams(t *testing.T) {
	p := DefaultParams()
	if p.Time == 0 || p.MemoryKiB == 0 || p.Threads == 0 || p.KeyLen == 0 || p.SaltLen == 0 {
		t.Fatalf("expected all default params to be non-zero, got %+v", p)
	}
}
