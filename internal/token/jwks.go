package token

import (
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v3/jwk"

	"github.com/nocturneauth/authengine/internal/domain"
)

// keyEntry is one generation of signing key. A key remains valid for
// verification through Rotate's grace window even after a newer key
// becomes the one used for signing, so tokens issued just before a
// rotation don't suddenly fail validation.
type keyEntry struct {
	kid        string
	private    *rsa.PrivateKey
	activeFrom time.Time
	rotatedAt  *time.Time
}

// Keyring owns the engine's JWT signing keys and exposes them as a JWKS
// document, rotating through RSA keys rather than signing with one static
// HS256 secret. It plays the producing half of the same contract a JWKS
// validator consumes: old keys stay published through a grace period so
// tokens signed just before a rotation still verify.
type Keyring struct {
	mu    sync.RWMutex
	keys  []*keyEntry
	grace time.Duration
	bits  int
}

// NewKeyring builds a keyring with one initial key. grace is how long a
// rotated-out key remains acceptable for verification.
func NewKeyring(grace time.Duration) (*Keyring, error) {
	k := &Keyring{grace: grace, bits: 2048}
	if _, err := k.Rotate(); err != nil {
		return nil, err
	}
	return k, nil
}

// Rotate generates a new active signing key and marks the previous active
// key (if any) as rotated-out, starting its grace-window countdown.
func (k *Keyring) Rotate() (string, error) {
	priv, err := rsa.GenerateKey(rand.Reader, k.bits)
	if err != nil {
		return "", domain.ErrRandomFailed(err)
	}
	kid := uuid.NewString()

	k.mu.Lock()
	defer k.mu.Unlock()
	now := time.Now()
	if len(k.keys) > 0 {
		k.keys[len(k.keys)-1].rotatedAt = &now
	}
	k.keys = append(k.keys, &keyEntry{kid: kid, private: priv, activeFrom: now})
	k.pruneLocked(now)
	return kid, nil
}

// pruneLocked drops keys whose grace window has fully elapsed. Callers
// must hold k.mu.
func (k *Keyring) pruneLocked(now time.Time) {
	kept := k.keys[:0:0]
	for _, e := range k.keys {
		if e.rotatedAt != nil && now.Sub(*e.rotatedAt) > k.grace {
			continue
		}
		kept = append(kept, e)
	}
	k.keys = kept
}

// Active returns the current signing key.
func (k *Keyring) Active() (kid string, priv *rsa.PrivateKey) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	e := k.keys[len(k.keys)-1]
	return e.kid, e.private
}

// Lookup returns the public half of a key still within its grace window,
// for verifying a token signed by a since-rotated key.
func (k *Keyring) Lookup(kid string) (*rsa.PublicKey, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	now := time.Now()
	for _, e := range k.keys {
		if e.kid == kid {
			if e.rotatedAt != nil && now.Sub(*e.rotatedAt) > k.grace {
				return nil, false
			}
			return &e.private.PublicKey, true
		}
	}
	return nil, false
}

// JWKS renders the keyring's public keys as a JWKS document suitable for
// serving at a well-known endpoint.
func (k *Keyring) JWKS() (jwk.Set, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	set := jwk.NewSet()
	for _, e := range k.keys {
		key, err := jwk.Import(&e.private.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("import public key %s: %w", e.kid, err)
		}
		if err := key.Set(jwk.KeyIDKey, e.kid); err != nil {
			return nil, err
		}
		if err := key.Set(jwk.AlgorithmKey, "RS256"); err != nil {
			return nil, err
		}
		if err := set.AddKey(key); err != nil {
			return nil, err
		}
	}
	return set, nil
}
