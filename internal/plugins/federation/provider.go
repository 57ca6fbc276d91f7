// Package federation implements OIDC-based single sign-on: a begin step
// that hands back an authorization URL and a callback step that
// exchanges the returned code for an identity. All outbound network
// calls (discovery, code exchange, id_token verification) are pushed
// behind the Provider interface so a step never blocks on a live IdP
// during tests; OIDCProvider is the concrete adapter used in
// production and accepts any OIDC issuer rather than one hardcoded
// provider.
package federation

import (
	"context"
	"errors"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

var (
	errNoIDToken     = errors.New("federation: token response did not include an id_token")
	errNonceMismatch = errors.New("federation: id_token nonce does not match the request")
)

// IdentityClaims is the subset of an id_token the engine needs to bind a
// federated login to a local subject.
type IdentityClaims struct {
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
}

// Provider fronts one OIDC issuer. Exchange receives the callback step's
// context as is; the engine sets no timeout of its own.
type Provider interface {
	AuthURL(state, nonce string) string
	Exchange(ctx context.Context, code, nonce string) (IdentityClaims, error)
}

// OIDCProvider is the production Provider backed by go-oidc discovery
// and an oauth2 authorization-code exchange.
type OIDCProvider struct {
	oauthConfig oauth2.Config
	verifier    *oidc.IDTokenVerifier
}

// NewOIDCProvider performs OIDC discovery against issuer. It makes a
// real network call and should be constructed once at startup, not per
// request.
func NewOIDCProvider(ctx context.Context, issuer, clientID, clientSecret, redirectURL string, scopes ...string) (*OIDCProvider, error) {
	p, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, err
	}
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "email", "profile"}
	}
	return &OIDCProvider{
		oauthConfig: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Endpoint:     p.Endpoint(),
			Scopes:       scopes,
		},
		verifier: p.Verifier(&oidc.Config{ClientID: clientID}),
	}, nil
}

func (p *OIDCProvider) AuthURL(state, nonce string) string {
	return p.oauthConfig.AuthCodeURL(state, oidc.Nonce(nonce))
}

func (p *OIDCProvider) Exchange(ctx context.Context, code, nonce string) (IdentityClaims, error) {
	tok, err := p.oauthConfig.Exchange(ctx, code)
	if err != nil {
		return IdentityClaims{}, err
	}
	rawIDToken, ok := tok.Extra("id_token").(string)
	if !ok {
		return IdentityClaims{}, errNoIDToken
	}
	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return IdentityClaims{}, err
	}
	if idToken.Nonce != nonce {
		return IdentityClaims{}, errNonceMismatch
	}

	var claims struct {
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		Name          string `json:"name"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return IdentityClaims{}, err
	}
	return IdentityClaims{
		Subject:       idToken.Subject,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		Name:          claims.Name,
	}, nil
}
