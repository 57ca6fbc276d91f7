package security

import (
	"golang.org/x/crypto/bcrypt"

	"github.com/nocturneauth/authengine/internal/domain"
)

// PreviewHasher hashes a short, low-entropy slice of an API key (its
// display prefix) at a low, fast cost. It backs a caller-side "does this
// key match what I saved" check and is never used to verify the key
// itself — the full key is always checked against its argon2id hash.
type PreviewHasher struct {
	cost int
}

func NewPreviewHasher(cost int) *PreviewHasher {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	return &PreviewHasher{cost: cost}
}

func (h *PreviewHasher) Hash(prefix string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(prefix), h.cost)
	if err != nil {
		return "", domain.ErrHashFailed(err)
	}
	return string(b), nil
}

func (h *PreviewHasher) Matches(hash, prefix string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(prefix)) == nil
}
