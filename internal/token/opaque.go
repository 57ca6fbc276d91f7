// Package token is the Token Codec: opaque random tokens and signed JWTs,
// plus the JWKS keyring that backs JWT rotation. JWT signing uses a
// rotating asymmetric keyring rather than a single fixed HS256 secret,
// and opaque tokens follow the usual high-entropy random-bytes-then-encode
// shape used for one-time tokens.
package token

import (
	"crypto/rand"
	"encoding/base64"

	"github.com/nocturneauth/authengine/internal/domain"
)

// MinEntropyBytes is 16 bytes (128 bits), the floor for opaque
// tokens used as magic-link, verification-code, or API-key secrets.
const MinEntropyBytes = 16

// NewOpaque returns a URL-safe, unpadded base64 token built from n bytes of
// crypto/rand output. n is clamped up to MinEntropyBytes if smaller.
func NewOpaque(n int) (string, error) {
	if n < MinEntropyBytes {
		n = MinEntropyBytes
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", domain.ErrRandomFailed(err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// NewNumericCode returns a zero-padded decimal code of the given length,
// suitable for SMS/email delivery where a full opaque token would be
// awkward for a user to retype. It is drawn from crypto/rand, not math/rand.
func NewNumericCode(digits int) (string, error) {
	if digits <= 0 {
		digits = 6
	}
	const alphabet = "0123456789"
	out := make([]byte, digits)
	buf := make([]byte, digits)
	if _, err := rand.Read(buf); err != nil {
		return "", domain.ErrRandomFailed(err)
	}
	for i, b := range buf {
		out[i] = alphabet[int(b)%len(alphabet)]
	}
	return string(out), nil
}
