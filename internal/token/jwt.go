package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nocturneauth/authengine/internal/domain"
)

// Claims is the fixed JWT claim set: subject, issuer, audience,
// expiry, issued-at and a unique token id for revocation bookkeeping.
type Claims struct {
	Subject  string
	Issuer   string
	Audience string
	IssuedAt time.Time
	Expiry   time.Time
	JTI      string
}

type registeredClaims struct {
	jwt.RegisteredClaims
}

// JWTCodec signs and verifies tokens against a Keyring, generalizing the
// teacher's JWTSigner from one static HS256 secret to a rotating RS256
// keyring.
type JWTCodec struct {
	keyring *Keyring
	issuer  string
}

func NewJWTCodec(keyring *Keyring, issuer string) *JWTCodec {
	return &JWTCodec{keyring: keyring, issuer: issuer}
}

// Sign issues a JWT for subject, valid for ttl, with the given audience and
// a fresh random jti.
func (c *JWTCodec) Sign(subject, audience string, ttl time.Duration) (string, error) {
	jti, err := NewOpaque(MinEntropyBytes)
	if err != nil {
		return "", err
	}
	now := time.Now()
	claims := registeredClaims{jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    c.issuer,
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        jti,
	}}

	kid, priv := c.keyring.Active()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid

	signed, err := tok.SignedString(priv)
	if err != nil {
		return "", domain.ErrTokenSignFailed(err)
	}
	return signed, nil
}

// Verify parses and validates a signed token, rejecting anything not
// signed by a key currently or recently (within the keyring's grace
// window) held by this codec's keyring.
func (c *JWTCodec) Verify(signed string) (Claims, error) {
	parsed, err := jwt.ParseWithClaims(signed, &registeredClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodRS256 {
			return nil, domain.ErrTokenInvalid()
		}
		kid, _ := t.Header["kid"].(string)
		pub, ok := c.keyring.Lookup(kid)
		if !ok {
			return nil, domain.ErrTokenInvalid()
		}
		return pub, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, domain.ErrExpired()
		}
		return Claims{}, domain.ErrTokenInvalid()
	}

	claims, ok := parsed.Claims.(*registeredClaims)
	if !ok || !parsed.Valid {
		return Claims{}, domain.ErrTokenInvalid()
	}

	out := Claims{Subject: claims.Subject, Issuer: claims.Issuer, JTI: claims.ID}
	if len(claims.Audience) > 0 {
		out.Audience = claims.Audience[0]
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		out.Expiry = claims.ExpiresAt.Time
	}
	return out, nil
}
